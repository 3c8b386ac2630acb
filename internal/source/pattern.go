package source

import (
	"path/filepath"
	"regexp"
)

// PatternKind selects how Pattern.Match interprets Pattern.Expr,
// mirroring the three selection styles archive readers accept for
// restore-time entry filtering (§4.2/§4.7): a plain shell glob, POSIX
// basic regex, or POSIX extended regex. Go's regexp package is always
// RE2 (effectively extended) regardless of which of the latter two is
// requested; BAR does not implement the handful of basic-regex-only
// backreference forms, the same simplification a glob-first tool like
// distri's own internal/build/glob.go makes by never going beyond
// filepath.Match.
type PatternKind int

const (
	PatternGlob PatternKind = iota
	PatternRegex
	PatternExtendedRegex
)

// Pattern is one include/exclude rule.
type Pattern struct {
	Kind PatternKind
	Expr string

	re *regexp.Regexp // compiled lazily, regex kinds only
}

// Compile prepares p for repeated Match calls; callers doing a single
// match can skip it and rely on Match's lazy compilation.
func (p *Pattern) Compile() error {
	if p.Kind == PatternGlob {
		_, err := filepath.Match(p.Expr, "")
		return err
	}
	re, err := regexp.Compile(p.Expr)
	if err != nil {
		return err
	}
	p.re = re
	return nil
}

// Match reports whether relPath (archive-relative, slash-separated)
// matches p.
func (p *Pattern) Match(relPath string) bool {
	switch p.Kind {
	case PatternGlob:
		ok, err := filepath.Match(p.Expr, relPath)
		return err == nil && ok
	default:
		if p.re == nil {
			if err := p.Compile(); err != nil {
				return false
			}
		}
		return p.re.MatchString(relPath)
	}
}

// selected reports whether relPath should be walked given include and
// exclude pattern lists: excluded unless it matches an include (when
// any are given), then excluded again if it matches any exclude --
// exclude always wins, matching rsync/tar's familiar semantics.
func selected(relPath string, include, exclude []Pattern) bool {
	if len(include) > 0 {
		matched := false
		for i := range include {
			if include[i].Match(relPath) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for i := range exclude {
		if exclude[i].Match(relPath) {
			return false
		}
	}
	return true
}

// Allowed is selected's exported form, reused by internal/archive for
// §4.5's read-time Selection contract (list/test/compare/restore entry
// filtering) -- the same include/exclude/exclude-wins formula §4.7
// applies at write time.
func Allowed(relPath string, include, exclude []Pattern) bool {
	return selected(relPath, include, exclude)
}
