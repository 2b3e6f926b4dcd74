package compose

// resolveTemplates walks each component's FROM chain and merges
// properties per spec.md §4.1's rules: scalars are replaced, maps are
// deep-merged (child wins on shared keys, parent keys survive
// otherwise), lists are replaced wholesale. Circular FROM chains are
// rejected.
func resolveTemplates(components []*Component) (map[string]*Component, Diagnostics) {
	byName := map[string]*Component{}
	for _, c := range components {
		byName[c.Name] = c
	}

	resolved := map[string]*Component{}
	resolving := map[string]bool{}
	var diags Diagnostics

	var resolve func(c *Component) *Component
	resolve = func(c *Component) *Component {
		if r, ok := resolved[c.Name]; ok {
			return r
		}
		if resolving[c.Name] {
			diags = append(diags, errf("E004", c.Pos, "circular FROM inheritance involving component %q", c.Name))
			resolved[c.Name] = c
			return c
		}
		if c.From == "" {
			resolved[c.Name] = c
			return c
		}
		resolving[c.Name] = true
		parent, ok := byName[c.From]
		if !ok {
			diags = append(diags, errf("E002", c.Pos, "component %q inherits from undefined template %q", c.Name, c.From))
			resolving[c.Name] = false
			resolved[c.Name] = c
			return c
		}
		mergedParent := resolve(parent)
		merged := mergeComponents(mergedParent, c)
		resolving[c.Name] = false
		resolved[c.Name] = merged
		return merged
	}

	for _, c := range components {
		resolve(c)
	}

	out := map[string]*Component{}
	for name, c := range resolved {
		clone := *c
		clone.Name = name
		out[name] = &clone
	}
	return out, diags
}

// mergeComponents applies parent -> child merge rules to produce a new
// Component carrying child.Name and child.From but merged properties.
func mergeComponents(parent, child *Component) *Component {
	props := map[string]Value{}
	var order []string

	for _, k := range parent.PropOrder {
		props[k] = parent.Properties[k]
		order = append(order, k)
	}
	for _, k := range child.PropOrder {
		childVal := child.Properties[k]
		parentVal, hadParent := props[k]
		if hadParent && parentVal.Kind == ValMap && childVal.Kind == ValMap {
			props[k] = deepMergeMap(parentVal, childVal)
		} else {
			props[k] = childVal
		}
		if !hadParent {
			order = append(order, k)
		}
	}

	return &Component{
		Name:       child.Name,
		From:       child.From,
		Properties: props,
		PropOrder:  order,
		Pos:        child.Pos,
	}
}

// deepMergeMap merges two ValMap values: child keys override
// same-named parent keys, parent keys absent in the child are kept
// (spec.md §4.1 "Map-valued properties... are deep-merged").
func deepMergeMap(parent, child Value) Value {
	out := map[string]Value{}
	var order []string
	for _, k := range parent.MapOrder {
		out[k] = parent.Map[k]
		order = append(order, k)
	}
	for _, k := range child.MapOrder {
		if _, existed := out[k]; !existed {
			order = append(order, k)
		}
		out[k] = child.Map[k]
	}
	return Value{Kind: ValMap, Map: out, MapOrder: order}
}
