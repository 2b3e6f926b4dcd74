// Package graph builds the dependency graph over a validated
// composition and computes its concurrent start order (spec.md §4.2
// "Dependency graph and planner").
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/containust/containust/pkg/compose"
	"github.com/containust/containust/pkg/ctsterr"
)

// Injected is the auto-injected environment triple for one CONNECT edge
// (spec.md §4.2 "Auto-injection").
type Injected struct {
	Host             string
	Port             string
	ConnectionString string
}

// Plan is the planner's output: components ordered into concurrent
// phases, plus every component's auto-injected environment and the
// composition's host-port exposure map.
type Plan struct {
	Phases    [][]string
	Injected  map[string]map[string]Injected // component -> prefix -> triple
	Exposures []compose.Exposure
}

// Planner computes phase ordering and auto-injection for a validated
// composition. It carries a logger the way ORCA's scheduler does, so
// planning failures and phase boundaries are observable without the
// caller threading a logger through every call.
type Planner struct {
	log *logrus.Logger
}

func NewPlanner(log *logrus.Logger) *Planner {
	if log == nil {
		log = logrus.New()
	}
	return &Planner{log: log}
}

// Plan builds the directed graph from comp's connections, rejects
// cycles, computes phases via Kahn's algorithm, and derives the
// auto-injected environment for every edge.
func (p *Planner) Plan(comp *compose.Composition) (*Plan, error) {
	adj := map[string][]string{}
	indeg := map[string]int{}
	for name := range comp.Components {
		indeg[name] = 0
	}
	for _, e := range comp.Connections {
		// CONNECT src -> tgt: tgt must be running before src starts, so
		// the planner's edge runs from tgt to its dependent src.
		adj[e.Target] = append(adj[e.Target], e.Source)
		indeg[e.Source]++
	}

	phases, err := kahnPhases(comp.ComponentOrder, adj, indeg)
	if err != nil {
		return nil, err
	}

	injected := map[string]map[string]Injected{}
	for _, e := range comp.Connections {
		tgt, ok := comp.Components[e.Target]
		if !ok {
			continue // already diagnosed at Analyze time
		}
		prefix := envPrefix(e.Target)
		triple := ComponentEndpoint(tgt, e.Target)
		if injected[e.Source] == nil {
			injected[e.Source] = map[string]Injected{}
		}
		injected[e.Source][prefix] = triple
	}

	p.log.WithFields(logrus.Fields{"phases": len(phases), "components": len(comp.Components)}).Debug("plan computed")

	return &Plan{Phases: phases, Injected: injected, Exposures: comp.Exposures}, nil
}

// kahnPhases computes phase 0 = all zero-in-degree nodes, removes them,
// and repeats, per spec.md §4.2's algorithm. A non-empty remainder after
// no phase can be extracted means a cycle survived Analyze (defensive:
// Analyze already rejects cycles via E004), reported as R-series since
// it indicates a planner invariant violation rather than a composition
// error.
func kahnPhases(order []string, adj map[string][]string, indeg map[string]int) ([][]string, error) {
	remaining := map[string]int{}
	for k, v := range indeg {
		remaining[k] = v
	}

	var phases [][]string
	done := map[string]bool{}
	for len(done) < len(remaining) {
		var phase []string
		for _, name := range order {
			if done[name] {
				continue
			}
			if remaining[name] == 0 {
				phase = append(phase, name)
			}
		}
		if len(phase) == 0 {
			var stuck []string
			for name := range remaining {
				if !done[name] {
					stuck = append(stuck, name)
				}
			}
			sort.Strings(stuck)
			return nil, ctsterr.New(ctsterr.KindInvalidState, "R004", fmt.Sprintf("dependency graph has a cycle involving: %s", strings.Join(stuck, ", ")))
		}
		sort.Strings(phase)
		for _, name := range phase {
			done[name] = true
			for _, tgt := range adj[name] {
				remaining[tgt]--
			}
		}
		phases = append(phases, phase)
	}
	return phases, nil
}

// envPrefix derives <PREFIX> from a component name per spec.md §4.2:
// upper-cased, '-' and '.' replaced with '_'.
func envPrefix(name string) string {
	r := strings.NewReplacer("-", "_", ".", "_")
	return strings.ToUpper(r.Replace(name))
}

func firstPort(c *compose.ComponentDef) string {
	if len(c.Ports) == 0 {
		return ""
	}
	return fmt.Sprintf("%d", c.Ports[0].Container)
}

// protocolMatchers is checked in order; the first substring match on
// the target's image URI wins (spec.md §4.2 "Auto-injection").
var protocolMatchers = []struct {
	substrs []string
	proto   string
}{
	{[]string{"postgres"}, "postgres"},
	{[]string{"mysql", "mariadb"}, "mysql"},
	{[]string{"redis"}, "redis"},
	{[]string{"mongo"}, "mongodb"},
	{[]string{"rabbitmq", "amqp"}, "amqp"},
}

// ComponentEndpoint computes the runtime-resolved address triple for
// component name (spec.md §4.2 "Auto-injection"), used both to build
// CONNECT auto-injected environment and to resolve `${name.field}`
// interpolation referring directly to a component (spec.md §4.1).
func ComponentEndpoint(tgt *compose.ComponentDef, name string) Injected {
	return Injected{
		Host:             name,
		Port:             firstPort(tgt),
		ConnectionString: connectionString(tgt, name),
	}
}

func connectionString(tgt *compose.ComponentDef, name string) string {
	image := strings.ToLower(tgt.Image)
	proto := "http"
	for _, m := range protocolMatchers {
		for _, s := range m.substrs {
			if strings.Contains(image, s) {
				proto = m.proto
				break
			}
		}
		if proto != "http" {
			break
		}
	}
	port := firstPort(tgt)
	if port == "" {
		return fmt.Sprintf("%s://%s", proto, name)
	}
	return fmt.Sprintf("%s://%s:%s", proto, name, port)
}

// ApplyInjection merges the planner's auto-injected environment triples
// into comp's components, letting any user-declared key of the same
// name win (spec.md §4.2: "User-specified env entries with the same key
// override auto-injection").
func ApplyInjection(comp *compose.Composition, plan *Plan) {
	for name, triples := range plan.Injected {
		c, ok := comp.Components[name]
		if !ok {
			continue
		}
		if c.Environment == nil {
			c.Environment = map[string]string{}
		}
		for prefix, t := range triples {
			setIfAbsent(c.Environment, prefix+"_HOST", t.Host)
			setIfAbsent(c.Environment, prefix+"_PORT", t.Port)
			setIfAbsent(c.Environment, prefix+"_CONNECTION_STRING", t.ConnectionString)
		}
	}
}

func setIfAbsent(m map[string]string, key, val string) {
	if _, exists := m[key]; !exists {
		m[key] = val
	}
}

// ExposureMap flattens Plan's exposures into a host-port -> container-
// port map, per spec.md §4.2 "Host port exposure": "they affect neither
// order nor auto-injection".
func ExposureMap(plan *Plan) map[int]int {
	m := map[int]int{}
	for _, e := range plan.Exposures {
		m[e.HostPort] = e.ContainerPort
	}
	return m
}
