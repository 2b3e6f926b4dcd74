package compose

import (
	"fmt"
	"strings"
)

// Interpolation is one `${ns.field}` reference found inside a string
// value (spec.md §4.1 "Interpolation").
type Interpolation struct {
	Namespace string
	Field     string
	Raw       string // the full "${ns.field}" text, for substitution
}

// NamespaceKind classifies an interpolation's resolved namespace.
type NamespaceKind int

const (
	NSComponent NamespaceKind = iota
	NSSecret
	NSEnv
)

// scanInterpolations finds every `${...}` form in s. Nested
// interpolation (`${a.${b}}`) is rejected per spec.md §4.1.
func scanInterpolations(s string) ([]Interpolation, error) {
	var out []Interpolation
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "${")
		if start == -1 {
			break
		}
		start += i
		end := strings.IndexByte(s[start+2:], '}')
		if end == -1 {
			return nil, fmt.Errorf("unterminated interpolation %q", s[start:])
		}
		end += start + 2
		body := s[start+2 : end]
		if strings.Contains(body, "${") {
			return nil, fmt.Errorf("nested interpolation is not allowed: %q", s[start:end+1])
		}
		dot := strings.IndexByte(body, '.')
		if dot == -1 {
			return nil, fmt.Errorf("malformed interpolation %q: expected \"ns.field\"", body)
		}
		out = append(out, Interpolation{
			Namespace: body[:dot],
			Field:     body[dot+1:],
			Raw:       s[start : end+1],
		})
		i = end + 1
	}
	return out, nil
}

// classifyNamespace resolves an interpolation namespace against the
// known component set, per spec.md §4.1: "ns ∈ {component-name, secret,
// env}".
func classifyNamespace(ns string, components map[string]*ComponentDef) (NamespaceKind, bool) {
	switch ns {
	case "secret":
		return NSSecret, true
	case "env":
		return NSEnv, true
	default:
		_, ok := components[ns]
		return NSComponent, ok
	}
}

// validateInterpolations walks every string-typed value reachable from
// a resolved component (image, working_dir, user, hostname, command,
// entrypoint and environment values) and reports E002 for any
// reference to an undefined component.
func validateInterpolations(components map[string]*ComponentDef) Diagnostics {
	var diags Diagnostics
	check := func(s string, pos Pos) {
		interps, err := scanInterpolations(s)
		if err != nil {
			diags = append(diags, errf("E001", pos, "%s", err.Error()))
			return
		}
		for _, in := range interps {
			if _, ok := classifyNamespace(in.Namespace, components); !ok {
				diags = append(diags, errf("E002", pos, "undefined component reference %q in interpolation %q", in.Namespace, in.Raw))
			}
		}
	}
	for _, c := range components {
		check(c.Image, c.Pos)
		check(c.WorkingDir, c.Pos)
		check(c.User, c.Pos)
		check(c.Hostname, c.Pos)
		for _, v := range c.Command {
			check(v, c.Pos)
		}
		for _, v := range c.Entrypoint {
			check(v, c.Pos)
		}
		for _, v := range c.Environment {
			check(v, c.Pos)
		}
	}
	return diags
}

// InterpolationResolver resolves one classified interpolation to its
// literal value at deploy time. Named distinctly from the import
// Resolver in resolver.go, which resolves import paths instead.
type InterpolationResolver func(kind NamespaceKind, namespace, field string) (string, error)

// ResolveString substitutes every `${ns.field}` occurrence in s using
// resolve, the deploy-time counterpart to validateInterpolations'
// analyze-time checking (spec.md §4.1 "Interpolation": "resolved at
// deploy time").
func ResolveString(s string, components map[string]*ComponentDef, resolve InterpolationResolver) (string, error) {
	interps, err := scanInterpolations(s)
	if err != nil {
		return "", err
	}
	out := s
	for _, in := range interps {
		kind, ok := classifyNamespace(in.Namespace, components)
		if !ok {
			return "", fmt.Errorf("undefined component reference %q in interpolation %q", in.Namespace, in.Raw)
		}
		val, err := resolve(kind, in.Namespace, in.Field)
		if err != nil {
			return "", err
		}
		out = strings.Replace(out, in.Raw, val, 1)
	}
	return out, nil
}
