// Package filter narrows the files of a work item with glob patterns.
//
// Patterns are matched against the slash-separated path relative to the
// work item directory. "*" stays within one path segment and "**" spans
// segments. A pattern without a slash is matched against the file name
// alone, so "*.min.png" excludes minified images at any depth.
package filter

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Filter holds compiled include and exclude patterns.
type Filter struct {
	// Include contains glob patterns. If non-empty, files must match at least one.
	Include []string

	// Exclude contains glob patterns. Matching files are excluded.
	Exclude []string

	include []matcher
	exclude []matcher
}

type matcher struct {
	g        glob.Glob
	baseOnly bool
}

// Option is a functional option for configuring a Filter.
type Option func(*Filter)

// WithInclude sets the include glob patterns.
func WithInclude(patterns ...string) Option {
	return func(f *Filter) {
		f.Include = patterns
	}
}

// WithExclude sets the exclude glob patterns.
func WithExclude(patterns ...string) Option {
	return func(f *Filter) {
		f.Exclude = patterns
	}
}

// New compiles a Filter. Invalid patterns are left out and reported in the
// returned error; the Filter is usable either way.
func New(opts ...Option) (*Filter, error) {
	f := &Filter{}
	for _, opt := range opts {
		opt(f)
	}

	var errs []error
	f.include, errs = compile(f.Include, errs)
	f.exclude, errs = compile(f.Exclude, errs)
	return f, errors.Join(errs...)
}

func compile(patterns []string, errs []error) ([]matcher, []error) {
	var out []matcher
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid pattern %q: %w", p, err))
			continue
		}
		out = append(out, matcher{g: g, baseOnly: !strings.Contains(p, "/")})
	}
	return out, errs
}

// Empty reports whether the filter accepts everything.
func (f *Filter) Empty() bool {
	return f == nil || (len(f.include) == 0 && len(f.exclude) == 0)
}

// Match reports whether file, located under root, passes the filter.
// Exclude patterns are checked first. A nil Filter matches everything.
func (f *Filter) Match(root, file string) bool {
	if f.Empty() {
		return true
	}

	rel, err := filepath.Rel(root, file)
	if err != nil {
		rel = file
	}
	rel = filepath.ToSlash(rel)

	if matchesAny(rel, f.exclude) {
		return false
	}
	if len(f.include) > 0 && !matchesAny(rel, f.include) {
		return false
	}
	return true
}

func matchesAny(rel string, matchers []matcher) bool {
	base := path.Base(rel)
	for _, m := range matchers {
		target := rel
		if m.baseOnly {
			target = base
		}
		if m.g.Match(target) {
			return true
		}
	}
	return false
}
