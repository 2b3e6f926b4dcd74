package compose

import (
	"fmt"
	"strings"
	"time"
)

// Port is a resolved host/container port pair.
type Port struct {
	Host      int
	Container int
}

// Volume is a resolved host-path/container-path bind mount.
type Volume struct {
	HostPath      string
	ContainerPath string
}

// ComponentDef is a fully merged, type-checked component definition:
// the output of Analyze, ready for the dependency graph and planner
// (spec.md §3 "Component").
type ComponentDef struct {
	Name        string
	Image       string
	Command     []string
	Entrypoint  []string
	WorkingDir  string
	User        string
	Hostname    string
	Ports       []Port
	Volumes     []Volume
	Environment map[string]string
	ReadOnly    bool
	Restart     string
	Network     string
	Resources   ResourceLimits
	Health      *HealthProbe
	Pos         Pos
}

// Composition is the fully analyzed contents of a composition file
// tree: components, connection edges, and host-port exposures
// (spec.md §3 "Dependency graph").
type Composition struct {
	Components     map[string]*ComponentDef
	ComponentOrder []string
	Connections    []Connection
	Exposures      []Exposure
}

// Analyze parses entrySrc (named entryPath), resolves imports via
// resolver, merges templates, type-checks every component, and
// cross-checks connection edges and interpolations. It aggregates every
// diagnostic instead of stopping at the first, per spec.md §4.1: "Full
// file validation runs to completion before any container is
// materialised; diagnostics are aggregated and reported together."
func Analyze(entryPath, entrySrc string, resolver Resolver) (*Composition, Diagnostics) {
	merged, diags := loadAndMerge(entryPath, entrySrc, resolver)
	if merged == nil {
		return nil, diags
	}

	if dupes := findDuplicateNames(merged.Components); len(dupes) > 0 {
		for _, d := range dupes {
			diags = append(diags, errf("E003", d.Pos, "duplicate component name %q", d.Name))
		}
	}

	rawByName, tdiags := resolveTemplates(merged.Components)
	diags = append(diags, tdiags...)

	components := map[string]*ComponentDef{}
	var order []string
	for _, c := range merged.Components {
		if _, already := components[c.Name]; already {
			continue // duplicate, already diagnosed above
		}
		resolvedRaw, ok := rawByName[c.Name]
		if !ok {
			resolvedRaw = c
		}
		def, cdiags := checkComponent(resolvedRaw, resolvedRaw.From != "")
		diags = append(diags, cdiags...)
		components[c.Name] = def
		order = append(order, c.Name)
	}

	diags = append(diags, validateInterpolations(components)...)

	for _, conn := range merged.Connections {
		if _, ok := components[conn.Source]; !ok {
			diags = append(diags, errf("E002", conn.Pos, "CONNECT references undefined source component %q", conn.Source))
		}
		if _, ok := components[conn.Target]; !ok {
			diags = append(diags, errf("E002", conn.Pos, "CONNECT references undefined target component %q", conn.Target))
		}
	}

	diags = append(diags, checkCycles(components, order, merged.Connections)...)
	diags = append(diags, checkUnreachable(components, order, merged.Connections, merged.Exposures)...)

	comp := &Composition{
		Components:     components,
		ComponentOrder: order,
		Connections:    merged.Connections,
		Exposures:      merged.Exposures,
	}
	return comp, diags
}

type dup struct {
	Name string
	Pos  Pos
}

func findDuplicateNames(components []*Component) []dup {
	seen := map[string]bool{}
	var dupes []dup
	for _, c := range components {
		if seen[c.Name] {
			dupes = append(dupes, dup{Name: c.Name, Pos: c.Pos})
			continue
		}
		seen[c.Name] = true
	}
	return dupes
}

// checkComponent type-checks a merged raw Component into a
// ComponentDef, applying spec.md §4.1's type rules and §3's defaults.
func checkComponent(c *Component, inherited bool) (*ComponentDef, Diagnostics) {
	var diags Diagnostics
	def := &ComponentDef{
		Name:     c.Name,
		ReadOnly: true, // spec.md §3 default
		Restart:  "never",
		Network:  "bridge",
		Pos:      c.Pos,
	}

	for key := range c.Properties {
		if _, known := knownProperties[key]; !known {
			diags = append(diags, errf("E006", c.Pos, "unknown property %q on component %q", key, c.Name))
		}
	}

	image, hasImage := c.Properties["image"]
	if !hasImage {
		if !inherited {
			diags = append(diags, errf("E005", c.Pos, "component %q is missing required property \"image\"", c.Name))
		}
	} else if image.Kind != ValString {
		diags = append(diags, typeMismatch(c.Name, "image", "string", image))
	} else {
		def.Image = image.Str
		if err := validateImageURI(image.Str); err != nil {
			diags = append(diags, errf("E007", image.Pos, "%s", err.Error()))
		}
	}

	def.Command = stringListProp(c, "command", &diags)
	def.Entrypoint = stringListProp(c, "entrypoint", &diags)
	def.WorkingDir = stringProp(c, "working_dir", &diags)
	def.User = stringProp(c, "user", &diags)
	def.Hostname = stringProp(c, "hostname", &diags)
	def.Restart = stringProp(c, "restart", &diags)
	if def.Restart == "" {
		def.Restart = "never"
	} else if !restartPolicies[def.Restart] {
		diags = append(diags, errf("E006", c.Properties["restart"].Pos, "invalid restart policy %q on component %q: want never|on-failure|always", def.Restart, c.Name))
	}
	def.Network = stringProp(c, "network", &diags)
	if def.Network == "" {
		def.Network = "bridge"
	}

	if v, ok := c.Properties["readonly"]; ok {
		if v.Kind != ValBool {
			diags = append(diags, typeMismatch(c.Name, "readonly", "bool", v))
		} else {
			def.ReadOnly = v.Bool
		}
	}

	_, hasPort := c.Properties["port"]
	_, hasPorts := c.Properties["ports"]
	if hasPort && hasPorts {
		diags = append(diags, errf("E006", c.Pos, "component %q sets both \"port\" and \"ports\"; only one may be set", c.Name))
	} else if hasPort {
		s := stringProp(c, "port", &diags)
		if s != "" {
			if h, cp, err := parseHostContainerPair(s); err != nil {
				diags = append(diags, errf("E006", c.Properties["port"].Pos, "%s", err.Error()))
			} else {
				def.Ports = []Port{{Host: h, Container: cp}}
			}
		}
	} else if hasPorts {
		for _, s := range stringListProp(c, "ports", &diags) {
			if h, cp, err := parseHostContainerPair(s); err != nil {
				diags = append(diags, errf("E006", c.Properties["ports"].Pos, "%s", err.Error()))
			} else {
				def.Ports = append(def.Ports, Port{Host: h, Container: cp})
			}
		}
	}

	_, hasVolume := c.Properties["volume"]
	_, hasVolumes := c.Properties["volumes"]
	if hasVolume && hasVolumes {
		diags = append(diags, errf("E006", c.Pos, "component %q sets both \"volume\" and \"volumes\"; only one may be set", c.Name))
	} else if hasVolume {
		s := stringProp(c, "volume", &diags)
		if s != "" {
			if hp, cp, err := parseHostPathPair(s); err != nil {
				diags = append(diags, errf("E006", c.Properties["volume"].Pos, "%s", err.Error()))
			} else {
				def.Volumes = []Volume{{HostPath: hp, ContainerPath: cp}}
			}
		}
	} else if hasVolumes {
		for _, s := range stringListProp(c, "volumes", &diags) {
			if hp, cp, err := parseHostPathPair(s); err != nil {
				diags = append(diags, errf("E006", c.Properties["volumes"].Pos, "%s", err.Error()))
			} else {
				def.Volumes = append(def.Volumes, Volume{HostPath: hp, ContainerPath: cp})
			}
		}
	}

	if v, ok := c.Properties["environment"]; ok {
		if v.Kind != ValMap {
			diags = append(diags, typeMismatch(c.Name, "environment", "map", v))
		} else {
			def.Environment = map[string]string{}
			for _, k := range v.MapOrder {
				val := v.Map[k]
				if val.Kind != ValString {
					diags = append(diags, typeMismatch(c.Name, "environment."+k, "string", val))
					continue
				}
				def.Environment[k] = val.Str
			}
		}
	}
	if def.Environment == nil {
		def.Environment = map[string]string{}
	}

	if v, ok := c.Properties["resources"]; ok {
		if v.Kind != ValMap {
			diags = append(diags, typeMismatch(c.Name, "resources", "map", v))
		} else {
			def.Resources, diags = checkResources(c.Name, v, diags)
		}
	}

	if v, ok := c.Properties["healthcheck"]; ok {
		if v.Kind != ValMap {
			diags = append(diags, typeMismatch(c.Name, "healthcheck", "map", v))
		} else {
			hp, hdiags := checkHealthProbe(c.Name, v)
			diags = append(diags, hdiags...)
			def.Health = hp
		}
	}

	return def, diags
}

func checkResources(name string, v Value, diags Diagnostics) (ResourceLimits, Diagnostics) {
	var lim ResourceLimits
	for _, k := range v.MapOrder {
		val := v.Map[k]
		switch k {
		case "cpu":
			if val.Kind != ValInt {
				diags = append(diags, typeMismatch(name, "resources.cpu", "int", val))
				continue
			}
			lim.CPUWeight = uint64(val.Int)
		case "memory":
			if val.Kind != ValString {
				diags = append(diags, typeMismatch(name, "resources.memory", "string", val))
				continue
			}
			b, err := parseSize(val.Str)
			if err != nil {
				diags = append(diags, errf("E006", val.Pos, "%s", err.Error()))
				continue
			}
			lim.MemoryBytes = b
		case "io":
			if val.Kind != ValInt {
				diags = append(diags, typeMismatch(name, "resources.io", "int", val))
				continue
			}
			lim.IOWeight = uint64(val.Int)
		default:
			diags = append(diags, errf("E006", val.Pos, "unknown resources key %q", k))
		}
	}
	return lim, diags
}

func checkHealthProbe(name string, v Value) (*HealthProbe, Diagnostics) {
	var diags Diagnostics
	hp := defaultHealthProbe()
	for _, k := range v.MapOrder {
		val := v.Map[k]
		switch k {
		case "command":
			if val.Kind != ValList {
				diags = append(diags, typeMismatch(name, "healthcheck.command", "list", val))
				continue
			}
			hp.Command = nil
			for _, item := range val.List {
				if item.Kind != ValString {
					diags = append(diags, typeMismatch(name, "healthcheck.command", "string", item))
					continue
				}
				hp.Command = append(hp.Command, item.Str)
			}
		case "interval":
			if d, ok := durationField(name, "healthcheck.interval", val, &diags); ok {
				hp.Interval = d
			}
		case "timeout":
			if d, ok := durationField(name, "healthcheck.timeout", val, &diags); ok {
				hp.Timeout = d
			}
		case "start_period":
			if d, ok := durationField(name, "healthcheck.start_period", val, &diags); ok {
				hp.StartPeriod = d
			}
		case "retries":
			if val.Kind != ValInt {
				diags = append(diags, typeMismatch(name, "healthcheck.retries", "int", val))
				continue
			}
			hp.Retries = int(val.Int)
		default:
			diags = append(diags, errf("E006", val.Pos, "unknown healthcheck key %q", k))
		}
	}
	return &hp, diags
}

func durationField(component, field string, v Value, diags *Diagnostics) (time.Duration, bool) {
	if v.Kind != ValString {
		*diags = append(*diags, typeMismatch(component, field, "string", v))
		return 0, false
	}
	d, err := parseDuration(v.Str)
	if err != nil {
		*diags = append(*diags, errf("E006", v.Pos, "%s", err.Error()))
		return 0, false
	}
	return d, true
}

func typeMismatch(component, field, want string, got Value) Diagnostic {
	return errf("E006", got.Pos, "component %q: property %q expects %s, got %s", component, field, want, kindName(got.Kind))
}

func kindName(k ValueKind) string {
	switch k {
	case ValString:
		return "string"
	case ValInt:
		return "int"
	case ValBool:
		return "bool"
	case ValList:
		return "list"
	case ValMap:
		return "map"
	}
	return "unknown"
}

func stringProp(c *Component, key string, diags *Diagnostics) string {
	v, ok := c.Properties[key]
	if !ok {
		return ""
	}
	if v.Kind != ValString {
		*diags = append(*diags, typeMismatch(c.Name, key, "string", v))
		return ""
	}
	return v.Str
}

func stringListProp(c *Component, key string, diags *Diagnostics) []string {
	v, ok := c.Properties[key]
	if !ok {
		return nil
	}
	if v.Kind != ValList {
		*diags = append(*diags, typeMismatch(c.Name, key, "list", v))
		return nil
	}
	var out []string
	for _, item := range v.List {
		if item.Kind != ValString {
			*diags = append(*diags, typeMismatch(c.Name, key, "string", item))
			continue
		}
		out = append(out, item.Str)
	}
	return out
}

func validateImageURI(uri string) error {
	switch {
	case strings.HasPrefix(uri, "file://"):
		return nil
	case strings.HasPrefix(uri, "tar://"):
		return nil
	case strings.HasPrefix(uri, "https://"):
		return nil
	case strings.HasPrefix(uri, "http://"):
		return fmt.Errorf("invalid image URI scheme in %q: http:// is rejected, use https://", uri)
	default:
		return fmt.Errorf("invalid image URI scheme in %q: want file://, tar://, or https://", uri)
	}
}

// checkCycles rejects a dependency graph with any cycle (spec.md §4.1
// E004), reporting one cycle path as required. order (components'
// declaration order) drives the DFS start-node choice instead of Go's
// map iteration, so the reported cycle path is deterministic across
// runs — spec.md §8's Idempotence law requires identical input to
// yield byte-identical diagnostics.
func checkCycles(components map[string]*ComponentDef, order []string, edges []Connection) Diagnostics {
	adj := map[string][]string{}
	for _, e := range edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var path []string
	var diags Diagnostics
	var found bool

	var dfs func(n string) bool
	dfs = func(n string) bool {
		color[n] = gray
		path = append(path, n)
		for _, m := range adj[n] {
			if color[m] == gray {
				cyclePath := append(append([]string{}, path...), m)
				idx := indexOf(cyclePath, m)
				cyclePath = cyclePath[idx:]
				diags = append(diags, errf("E004", components[n].Pos, "cyclic dependency: %s", strings.Join(cyclePath, " -> ")))
				return true
			}
			if color[m] == white {
				if dfs(m) {
					return true
				}
			}
		}
		color[n] = black
		path = path[:len(path)-1]
		return false
	}

	for _, name := range order {
		if color[name] == white && !found {
			if dfs(name) {
				found = true
			}
		}
	}
	return diags
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return 0
}

// checkUnreachable warns (E010) on components defined but never
// referenced by CONNECT or EXPOSE.
func checkUnreachable(components map[string]*ComponentDef, order []string, edges []Connection, exposures []Exposure) Diagnostics {
	referenced := map[string]bool{}
	for _, e := range edges {
		referenced[e.Source] = true
		referenced[e.Target] = true
	}
	// Exposures in this grammar don't name a component (spec.md §4.2:
	// "EXPOSE host:container" is host-port-to-container-port on the
	// composition as a whole), so they cannot themselves mark a
	// component reachable; component-scoped exposure would require a
	// richer grammar than spec.md defines.
	var diags Diagnostics
	for _, name := range order {
		if !referenced[name] {
			diags = append(diags, warnf("E010", components[name].Pos, "component %q is defined but not referenced by CONNECT", name))
		}
	}
	return diags
}
