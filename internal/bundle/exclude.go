// SPDX-License-Identifier: BSD-2-Clause

package bundle

import (
	"fmt"
	"regexp"
)

// DefaultExclusions are the stock patterns for libraries that ship with the
// operating system and must never be copied into a bundle: anything under
// /System, framework bundles, and the standard /usr/lib tree.
var DefaultExclusions = []string{
	`^/System/`,
	`\.framework`,
	`^/usr/lib/`,
}

// RuleSet is an ordered list of compiled exclusion patterns.
type RuleSet []*regexp.Regexp

// CompileRules compiles exclusion patterns in order. An invalid pattern
// fails the whole set; the rules are configuration and a typo should not be
// silently dropped.
func CompileRules(patterns []string) (RuleSet, error) {
	rules := make(RuleSet, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid exclusion pattern %q: %w", p, err)
		}
		rules = append(rules, re)
	}
	return rules, nil
}

// Excluded reports whether a resolved library path matches any exclusion
// pattern. First match wins.
func (rs RuleSet) Excluded(path string) bool {
	for _, re := range rs {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
