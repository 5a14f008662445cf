// Package resolver turns raw directory configuration into normalized work items.
//
// The accepted shapes mirror what viper produces from YAML or the environment:
//
//	dirs:
//	  - /var/www/images                 # all types, recursive
//	  - /var/www/uploads:               # single-key mapping with options
//	      types: ["image/png"]
//	      recursive: false
//
// A top-level mapping of path to options, a plain string list, and a
// comma-separated string are accepted too. Resolution never fails: malformed
// entries degrade to defaults and entries with no path are dropped.
package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jamesainslie/crush/pkg/crush/types"
)

// Resolve normalizes a raw directory specification into work items, in
// input order. Mapping keys are processed in sorted order.
func Resolve(raw any) []types.WorkItem {
	var items []types.WorkItem

	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		for _, p := range strings.Split(v, ",") {
			items = appendItem(items, p, nil)
		}
	case []string:
		for _, p := range v {
			items = appendItem(items, p, nil)
		}
	case []any:
		for _, entry := range v {
			items = append(items, resolveEntry(entry)...)
		}
	case map[string]any:
		items = append(items, resolveMapping(v)...)
	case map[any]any:
		items = append(items, resolveMapping(stringKeys(v))...)
	}

	return items
}

// FromPaths builds work items from command-line paths sharing one set of
// options. A nil types slice selects every supported type.
func FromPaths(paths []string, typeNames []string, recursive bool) []types.WorkItem {
	var opts map[string]any
	if typeNames != nil {
		list := make([]any, len(typeNames))
		for i, t := range typeNames {
			list[i] = t
		}
		opts = map[string]any{"types": list, "recursive": recursive}
	} else {
		opts = map[string]any{"recursive": recursive}
	}

	var items []types.WorkItem
	for _, p := range paths {
		items = appendItem(items, p, opts)
	}
	return items
}

// resolveEntry handles one element of a directory list.
func resolveEntry(entry any) []types.WorkItem {
	switch e := entry.(type) {
	case string:
		return appendItem(nil, e, nil)
	case map[string]any:
		return resolveMapping(e)
	case map[any]any:
		return resolveMapping(stringKeys(e))
	default:
		return nil
	}
}

// resolveMapping handles path-to-options mappings.
func resolveMapping(m map[string]any) []types.WorkItem {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var items []types.WorkItem
	for _, k := range keys {
		items = appendItem(items, k, m[k])
	}
	return items
}

// appendItem normalizes a single path with its raw options.
func appendItem(items []types.WorkItem, path string, rawOpts any) []types.WorkItem {
	dir, ok := normalizePath(path)
	if !ok {
		return items
	}

	opts := optionsMap(rawOpts)
	return append(items, types.WorkItem{
		Dir:       dir,
		Types:     resolveTypes(opts),
		Recursive: resolveRecursive(opts),
		Include:   stringList(opts["include"]),
		Exclude:   stringList(opts["exclude"]),
	})
}

// stringList accepts a list of strings or a single string.
func stringList(raw any) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		var out []string
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// resolveTypes intersects the configured types with the supported set.
// A missing or non-list value selects every supported type.
func resolveTypes(opts map[string]any) []types.ContentType {
	raw, present := opts["types"]
	if !present {
		return types.SupportedTypes()
	}

	var names []string
	switch v := raw.(type) {
	case []any:
		for _, n := range v {
			if s, ok := n.(string); ok {
				names = append(names, s)
			}
		}
	case []string:
		names = v
	default:
		return types.SupportedTypes()
	}

	seen := make(map[types.ContentType]bool)
	result := []types.ContentType{}
	for _, n := range names {
		ct, ok := types.ParseContentType(n)
		if !ok || seen[ct] {
			continue
		}
		seen[ct] = true
		result = append(result, ct)
	}
	return result
}

// resolveRecursive returns the recursive option, true unless it is
// explicitly a boolean false.
func resolveRecursive(opts map[string]any) bool {
	if b, ok := opts["recursive"].(bool); ok {
		return b
	}
	return true
}

// optionsMap coerces raw options into a string-keyed map.
func optionsMap(raw any) map[string]any {
	switch v := raw.(type) {
	case map[string]any:
		return v
	case map[any]any:
		return stringKeys(v)
	default:
		return map[string]any{}
	}
}

func stringKeys(m map[any]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[fmt.Sprint(k)] = v
	}
	return out
}

// normalizePath expands ~ and returns an absolute, cleaned path.
func normalizePath(p string) (string, bool) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", false
	}

	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p), true
	}
	return abs, true
}
