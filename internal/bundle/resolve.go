// SPDX-License-Identifier: BSD-2-Clause

package bundle

import (
	"path/filepath"
	"strings"
)

// Resolve rewrites a raw library reference into an absolute filesystem path.
//
// It repeatedly passes over the context tokens; whenever a set token's
// "@token" marker occurs in the path, every occurrence is replaced with the
// token's value and the pass restarts from the top. Restarting (rather than
// batch-replacing) keeps the result independent of token order when one
// token's value contains another token's marker as a literal substring.
// The loop stops once a full pass changes nothing.
//
// A path that is still relative after substitution is assumed to already
// live in the destination directory and is resolved against it.
func Resolve(raw, destDir string, rc Context) (string, error) {
	tokens := rc.tokens()
	for changed := true; changed; {
		changed = false
		for _, tok := range tokens {
			val := rc[tok]
			if val == "" {
				continue
			}
			marker := "@" + tok
			if strings.Contains(raw, marker) {
				raw = strings.ReplaceAll(raw, marker, val)
				changed = true
				break
			}
		}
	}
	if !filepath.IsAbs(raw) {
		raw = filepath.Join(destDir, raw)
	}
	return filepath.Abs(raw)
}
