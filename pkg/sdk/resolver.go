package sdk

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/containust/containust/pkg/compose"
	"github.com/containust/containust/pkg/graph"
)

// GraphResolver is a high-level wrapper over pkg/compose and pkg/graph
// for SDK consumers who want deployment order without driving the
// engine themselves — the Go counterpart of containust-sdk's
// graph_resolver::GraphResolver. Unlike the crate's version (whose
// load_ctst is an unimplemented todo!()), this one fully parses,
// validates, and plans the file.
type GraphResolver struct {
	offline bool
	comp    *compose.Composition
	plan    *graph.Plan
}

// NewGraphResolver returns an empty resolver. offline controls whether
// https:// IMPORTs are permitted while loading.
func NewGraphResolver(offline bool) *GraphResolver {
	return &GraphResolver{offline: offline}
}

// LoadCtst parses and validates the composition file at path,
// resolving its IMPORTs and computing its phase plan.
func (r *GraphResolver) LoadCtst(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %q: %w", path, err)
	}

	resolver := compose.NewFSResolver(filepath.Dir(path), r.offline, "")
	comp, diags := compose.Analyze(path, string(src), resolver)
	if diags.HasErrors() {
		return fmt.Errorf("composition %q has errors: %w", path, diags)
	}

	planner := graph.NewPlanner(nil)
	plan, err := planner.Plan(comp)
	if err != nil {
		return err
	}
	graph.ApplyInjection(comp, plan)

	r.comp = comp
	r.plan = plan
	return nil
}

// DeploymentOrder flattens the phase plan into a single ordered list
// of component names, mirroring the crate's deployment_order(). Two
// components in the same phase (no dependency between them) appear in
// their within-phase sort order, not concurrently, since the crate's
// API returns a single Vec.
func (r *GraphResolver) DeploymentOrder() ([]string, error) {
	if r.plan == nil {
		return nil, fmt.Errorf("no composition loaded, call LoadCtst first")
	}
	var order []string
	for _, phase := range r.plan.Phases {
		order = append(order, phase...)
	}
	return order, nil
}

// Composition returns the fully resolved composition, or nil if
// LoadCtst hasn't succeeded yet.
func (r *GraphResolver) Composition() *compose.Composition {
	return r.comp
}

// Plan returns the computed phase plan, or nil if LoadCtst hasn't
// succeeded yet.
func (r *GraphResolver) Plan() *graph.Plan {
	return r.plan
}
