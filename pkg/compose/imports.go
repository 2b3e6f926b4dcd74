package compose

import "fmt"

// mergedFile is the result of recursively resolving every IMPORT in the
// entry file. Components/Connections/Exposures from every transitively
// imported file are flattened into one namespace, per spec.md §4.1's
// treatment of imports as bringing definitions into scope rather than
// creating a nested one.
type mergedFile struct {
	Components  []*Component
	Connections []Connection
	Exposures   []Exposure
	usedAliases map[string]bool
	imports     []Import // imports declared in the entry file only
}

// loadAndMerge parses entryPath's contents, recursively resolves its
// imports via resolver, and returns the flattened definition set plus
// any diagnostics (E008 unresolved import, E009 unused import).
func loadAndMerge(entryPath string, entrySrc string, resolver Resolver) (*mergedFile, Diagnostics) {
	var diags Diagnostics

	entryFile, err := Parse(entryPath, entrySrc)
	if err != nil {
		return nil, append(diags, toDiagnostic(err))
	}

	seen := map[string]bool{}   // resolved paths already merged, avoids double inclusion
	onStack := map[string]bool{} // DFS on-stack marking for cycle detection
	merged := &mergedFile{usedAliases: map[string]bool{}}
	aliasOf := map[string]string{} // alias -> resolved path, dup-alias detection

	var visit func(path, src string)
	visit = func(path, src string) {
		if onStack[path] {
			diags = append(diags, errf("E008", Pos{File: path}, "cyclic import detected at %q", path))
			return
		}
		if seen[path] {
			return
		}
		onStack[path] = true
		seen[path] = true

		f, err := Parse(path, src)
		if err != nil {
			diags = append(diags, toDiagnostic(err))
			onStack[path] = false
			return
		}

		for _, imp := range f.Imports {
			if imp.Alias != "" {
				if prior, ok := aliasOf[imp.Alias]; ok && prior != imp.Path {
					diags = append(diags, errf("E003", imp.Pos, "duplicate import alias %q", imp.Alias))
				}
				aliasOf[imp.Alias] = imp.Path
			}
			canon, contents, err := resolver.Resolve(path, imp.Path)
			if err != nil {
				diags = append(diags, errf("E008", imp.Pos, "unresolved import %q: %v", imp.Path, err))
				continue
			}
			before := len(merged.Components)
			visit(canon, string(contents))
			if len(merged.Components) == before {
				// nothing new came in: the import contributed no
				// components reachable from here (either empty file
				// or entirely re-imported); flag as unused.
				diags = append(diags, warnf("E009", imp.Pos, "unused import %q", imp.Path))
			}
		}

		merged.Components = append(merged.Components, f.Components...)
		merged.Connections = append(merged.Connections, f.Connections...)
		merged.Exposures = append(merged.Exposures, f.Exposures...)
		onStack[path] = false
	}

	merged.imports = entryFile.Imports
	visit(entryPath, entrySrc)

	return merged, diags
}

func toDiagnostic(err error) Diagnostic {
	switch e := err.(type) {
	case *LexError:
		return errf("E001", e.Pos, "%s", e.Msg)
	case *ParseError:
		return errf("E001", e.Pos, "%s", e.Msg)
	default:
		return errf("E001", Pos{}, "%s", fmt.Sprint(err))
	}
}
