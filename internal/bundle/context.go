// SPDX-License-Identifier: BSD-2-Clause

// Package bundle implements the recursive dylib dependency traversal: it
// resolves @-token references to filesystem paths, decides which libraries
// are system-owned and must be left alone, locates libraries that are not
// where their reference says, and copies and rewrites everything else into a
// self-contained destination directory.
package bundle

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Substitution token names understood in library references, matched as the
// literal marker "@" + name.
const (
	TokenExecutablePath = "executable_path"
	TokenLoaderPath     = "loader_path"
	TokenRPath          = "rpath"
)

// Context maps substitution token names to absolute paths. An empty value
// marks a token as present-but-unset (e.g. a binary that declares no rpath);
// unset tokens never substitute.
type Context map[string]string

// Fork returns an independent copy of the context. Each recursion level
// extends its own fork, so sibling branches never observe each other's
// rpath or loader_path values.
func (c Context) Fork() Context {
	if c == nil {
		return Context{}
	}
	return maps.Clone(c)
}

// tokens returns the token names in a stable order.
func (c Context) tokens() []string {
	keys := maps.Keys(c)
	slices.Sort(keys)
	return keys
}
