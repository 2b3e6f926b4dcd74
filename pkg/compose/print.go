package compose

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Print renders f back into composition-file syntax in a canonical
// form: declaration order preserved for maps and properties, one
// statement per line, consistent quoting and indentation. Parsing
// Print's output must yield a File equivalent to f (spec.md §8
// "Round-trip: parsing a canonical-printed syntax tree yields an
// equivalent syntax tree").
func Print(f *File) string {
	var b strings.Builder
	for _, imp := range f.Imports {
		printImport(&b, imp)
	}
	if len(f.Imports) > 0 {
		b.WriteByte('\n')
	}
	for i, c := range f.Components {
		printComponent(&b, c)
		if i != len(f.Components)-1 {
			b.WriteByte('\n')
		}
	}
	if len(f.Components) > 0 && (len(f.Connections) > 0 || len(f.Exposures) > 0) {
		b.WriteByte('\n')
	}
	for _, conn := range f.Connections {
		fmt.Fprintf(&b, "CONNECT %s -> %s\n", conn.Source, conn.Target)
	}
	if len(f.Connections) > 0 && len(f.Exposures) > 0 {
		b.WriteByte('\n')
	}
	for _, exp := range f.Exposures {
		if exp.HostPort == exp.ContainerPort {
			fmt.Fprintf(&b, "EXPOSE %d\n", exp.HostPort)
		} else {
			fmt.Fprintf(&b, "EXPOSE %q\n", fmt.Sprintf("%d:%d", exp.HostPort, exp.ContainerPort))
		}
	}
	return b.String()
}

func printImport(b *strings.Builder, imp Import) {
	fmt.Fprintf(b, "IMPORT %q", imp.Path)
	if imp.Alias != "" {
		fmt.Fprintf(b, " AS %s", imp.Alias)
	}
	b.WriteByte('\n')
}

func printComponent(b *strings.Builder, c *Component) {
	fmt.Fprintf(b, "COMPONENT %s", c.Name)
	if c.From != "" {
		fmt.Fprintf(b, " FROM %s", c.From)
	}
	b.WriteString(" {\n")
	for _, key := range c.PropOrder {
		b.WriteString("  ")
		b.WriteString(key)
		b.WriteString(" = ")
		printValue(b, c.Properties[key], 1)
		b.WriteByte('\n')
	}
	b.WriteString("}\n")
}

func printValue(b *strings.Builder, v Value, depth int) {
	switch v.Kind {
	case ValString:
		fmt.Fprintf(b, "%q", v.Str)
	case ValInt:
		b.WriteString(strconv.FormatInt(v.Int, 10))
	case ValBool:
		if v.Bool {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case ValList:
		if len(v.List) == 0 {
			b.WriteString("[]")
			return
		}
		b.WriteString("[")
		for i, item := range v.List {
			if i > 0 {
				b.WriteString(", ")
			}
			printValue(b, item, depth)
		}
		b.WriteString("]")
	case ValMap:
		if len(v.MapOrder) == 0 {
			b.WriteString("{}")
			return
		}
		indent := strings.Repeat("  ", depth+1)
		b.WriteString("{\n")
		keys := v.MapOrder
		for _, k := range keys {
			b.WriteString(indent)
			b.WriteString(k)
			b.WriteString(" = ")
			printValue(b, v.Map[k], depth+1)
			b.WriteByte('\n')
		}
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString("}")
	}
}

// EqualFiles reports whether two parsed Files are semantically
// equivalent: same components (regardless of declaration order), same
// properties per component, same connections, and same exposures. Used
// to test the round-trip law against ordering-insensitive equality
// where the grammar itself doesn't mandate an order (e.g. exposures).
func EqualFiles(a, b *File) bool {
	if len(a.Components) != len(b.Components) || len(a.Connections) != len(b.Connections) || len(a.Exposures) != len(b.Exposures) {
		return false
	}
	am := componentsByName(a.Components)
	bm := componentsByName(b.Components)
	if len(am) != len(bm) {
		return false
	}
	for name, ac := range am {
		bc, ok := bm[name]
		if !ok || !equalComponents(ac, bc) {
			return false
		}
	}
	aConns := append([]Connection{}, a.Connections...)
	bConns := append([]Connection{}, b.Connections...)
	sortConnections(aConns)
	sortConnections(bConns)
	for i := range aConns {
		if aConns[i].Source != bConns[i].Source || aConns[i].Target != bConns[i].Target {
			return false
		}
	}
	aExps := append([]Exposure{}, a.Exposures...)
	bExps := append([]Exposure{}, b.Exposures...)
	sortExposures(aExps)
	sortExposures(bExps)
	for i := range aExps {
		if aExps[i].HostPort != bExps[i].HostPort || aExps[i].ContainerPort != bExps[i].ContainerPort {
			return false
		}
	}
	return true
}

func sortExposures(es []Exposure) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].HostPort != es[j].HostPort {
			return es[i].HostPort < es[j].HostPort
		}
		return es[i].ContainerPort < es[j].ContainerPort
	})
}

func componentsByName(cs []*Component) map[string]*Component {
	m := map[string]*Component{}
	for _, c := range cs {
		m[c.Name] = c
	}
	return m
}

func equalComponents(a, b *Component) bool {
	if a.From != b.From || len(a.Properties) != len(b.Properties) {
		return false
	}
	for k, av := range a.Properties {
		bv, ok := b.Properties[k]
		if !ok || !equalValues(av, bv) {
			return false
		}
	}
	return true
}

func equalValues(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ValString:
		return a.Str == b.Str
	case ValInt:
		return a.Int == b.Int
	case ValBool:
		return a.Bool == b.Bool
	case ValList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !equalValues(a.List[i], b.List[i]) {
				return false
			}
		}
		return true
	case ValMap:
		if len(a.Map) != len(b.Map) {
			return false
		}
		for k, av := range a.Map {
			bv, ok := b.Map[k]
			if !ok || !equalValues(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

func sortConnections(cs []Connection) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Source != cs[j].Source {
			return cs[i].Source < cs[j].Source
		}
		return cs[i].Target < cs[j].Target
	})
}
