// SPDX-License-Identifier: BSD-2-Clause

package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	cp "github.com/otiai10/copy"

	"github.com/ijsf/dylibfixer/internal/macho"
)

// ErrDependencyNotFound marks a library reference that resolved to a path
// that exists neither on disk, nor in the destination directory, nor in any
// configured library directory. It always aborts the run.
var ErrDependencyNotFound = errors.New("dependency not found")

// Dependency pairs a library reference as declared inside a binary with the
// absolute path it resolved to. Declared is what install_name_tool -change
// must be given as the "from" string, so it is kept verbatim.
type Dependency struct {
	Declared string
	Resolved string
}

// Options configures a Bundler. Nil or empty fields fall back to defaults
// where a default makes sense; Tools, DestDir and DestLoadPath are required.
type Options struct {
	// Tools is the Mach-O toolchain used for introspection and rewriting.
	Tools macho.Toolchain
	// Excludes decides which resolved paths are system libraries.
	Excludes RuleSet
	// DestDir is the pre-existing directory receiving the copied libraries.
	DestDir string
	// DestLoadPath is the (usually token-bearing) prefix written into every
	// rewritten reference, e.g. "@loader_path/../libs".
	DestLoadPath string
	// LibraryDirs are searched, in order, for libraries whose resolved path
	// does not exist.
	LibraryDirs []string
	// Out receives the traversal tree. Defaults to io.Discard.
	Out io.Writer
	// Logger receives debug/progress logging. Defaults to log.Default().
	Logger *log.Logger
}

// Bundler walks a binary's dependency graph depth-first and materializes the
// bundle. A Bundler is single-use: the visited set it owns spans exactly one
// Run, so independent runs need independent Bundlers.
type Bundler struct {
	tools    macho.Toolchain
	excludes RuleSet
	destDir  string
	loadPath string
	libDirs  []string
	out      io.Writer
	logger   *log.Logger

	// visited holds the basenames whose expansion has already begun, across
	// the entire traversal. It is what terminates cycles and deduplicates
	// diamonds.
	visited map[string]struct{}
}

// New creates a Bundler for one bundling run.
func New(opts Options) *Bundler {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Bundler{
		tools:    opts.Tools,
		excludes: opts.Excludes,
		destDir:  opts.DestDir,
		loadPath: opts.DestLoadPath,
		libDirs:  opts.LibraryDirs,
		out:      out,
		logger:   logger,
		visited:  make(map[string]struct{}),
	}
}

// Run bundles the dependency tree of the given top-level binary. The binary
// itself is rewritten in place; its dependencies end up in the destination
// directory with their references rewritten to the destination load path.
func (b *Bundler) Run(ctx context.Context, binaryPath string) error {
	binary, err := filepath.Abs(binaryPath)
	if err != nil {
		return fmt.Errorf("resolving binary path: %w", err)
	}
	destDir, err := filepath.Abs(b.destDir)
	if err != nil {
		return fmt.Errorf("resolving destination directory: %w", err)
	}
	b.destDir = destDir

	// Seed the substitution context for the top level. The destination
	// directory doubles as the initial rpath value so that references which
	// only make sense inside the finished bundle already resolve there.
	rc := Context{
		TokenExecutablePath: filepath.Dir(binary),
		TokenRPath:          destDir,
	}
	return b.process(ctx, binary, binary, rc, 0)
}

// process handles one binary: discover its references, resolve and rewrite
// each one, and recurse into every newly copied dependency.
//
// binaryPath is the file whose references get rewritten (already inside the
// destination directory except at the top level); originalPath is the
// pristine source the reference list is read from. The two coincide for the
// top-level binary.
func (b *Bundler) process(ctx context.Context, binaryPath, originalPath string, rc Context, depth int) error {
	binaryPath, err := filepath.Abs(binaryPath)
	if err != nil {
		return fmt.Errorf("resolving binary path: %w", err)
	}
	basename := filepath.Base(binaryPath)

	// Mark before expanding children; this is what breaks cycles.
	b.visited[basename] = struct{}{}

	originalPath, err = filepath.Abs(originalPath)
	if err != nil {
		return fmt.Errorf("resolving original path: %w", err)
	}

	commands, err := macho.List(ctx, b.tools, binaryPath)
	if err != nil {
		return fmt.Errorf("listing load commands of %s: %w", binaryPath, err)
	}

	// Fork the context for this level: the binary's own first rpath (any
	// further declared rpaths are ignored) and the directory the original
	// file lives in.
	level := rc.Fork()
	level[TokenRPath] = ""
	if len(commands.RPaths) > 0 {
		level[TokenRPath] = commands.RPaths[0]
	}
	level[TokenLoaderPath] = filepath.Dir(originalPath)

	// The reference list is read from the pristine original, never from an
	// already-rewritten copy.
	refs := commands.Libraries
	if originalPath != binaryPath {
		original, err := macho.List(ctx, b.tools, originalPath)
		if err != nil {
			return fmt.Errorf("listing load commands of %s: %w", originalPath, err)
		}
		refs = original.Libraries
	}

	deps := make([]Dependency, 0, len(refs))
	for _, raw := range refs {
		resolved, err := Resolve(raw, b.destDir, level)
		if err != nil {
			return fmt.Errorf("resolving reference %q: %w", raw, err)
		}
		deps = append(deps, Dependency{Declared: raw, Resolved: resolved})
	}

	fmt.Fprintf(b.out, "%s+ %s\n", strings.Repeat("-", depth), binaryPath)
	b.logger.Debug("processing binary", "path", binaryPath, "deps", len(deps), "depth", depth)

	for _, dep := range deps {
		if err := b.processDependency(ctx, binaryPath, basename, dep, level, depth); err != nil {
			return err
		}
	}
	return nil
}

// processDependency applies the per-dependency policy: rewrite the reference
// in the owning binary, then decide between skip (excluded, self, already
// visited), copy-and-recurse, or abort (nowhere to be found).
func (b *Bundler) processDependency(ctx context.Context, binaryPath, basename string, dep Dependency, rc Context, depth int) error {
	depPath := dep.Resolved
	depBase := filepath.Base(depPath)
	depDest := filepath.Join(b.destDir, depBase)

	// The reference is normalized to the destination load path in every
	// case, excluded libraries included, so the on-disk binary ends up with
	// a uniform reference format.
	newRef := joinLoadPath(b.loadPath, depBase)
	if err := b.tools.ChangeReference(ctx, binaryPath, dep.Declared, newRef); err != nil {
		return fmt.Errorf("rewriting reference %q in %s: %w", dep.Declared, binaryPath, err)
	}

	if b.excludes.Excluded(depPath) {
		b.logger.Debug("excluded system library", "path", depPath)
		return nil
	}
	if depBase == basename {
		// Self-reference (the library's own identity row).
		return nil
	}
	if _, ok := b.visited[depBase]; ok {
		b.logger.Debug("already bundled", "basename", depBase)
		return nil
	}

	if _, err := os.Stat(depPath); err != nil {
		// Not where the resolved reference says. Someone may already have
		// placed it in the destination; otherwise fall back to the
		// configured library directories.
		if _, err := os.Stat(depDest); err == nil {
			depPath = depDest
		} else if found, ok := Locate(depBase, b.libDirs); ok {
			depPath = found
		} else {
			return fmt.Errorf("%w: %q (declared as %q)", ErrDependencyNotFound, dep.Resolved, dep.Declared)
		}
	}

	if depPath != depDest {
		if err := cp.Copy(depPath, depDest); err != nil {
			return fmt.Errorf("copying %s to %s: %w", depPath, depDest, err)
		}
		b.logger.Debug("copied dependency", "from", depPath, "to", depDest)
	}
	if err := b.tools.SetIdentity(ctx, depDest, depBase); err != nil {
		return fmt.Errorf("setting identity of %s: %w", depDest, err)
	}

	return b.process(ctx, depDest, depPath, rc, depth+1)
}

// joinLoadPath appends a basename to the destination load path without
// cleaning it: the load path is a load-command string that may carry @tokens
// and deliberate ".." segments which filepath.Join would collapse.
func joinLoadPath(loadPath, basename string) string {
	return strings.TrimSuffix(loadPath, "/") + "/" + basename
}
