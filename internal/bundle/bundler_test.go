// SPDX-License-Identifier: BSD-2-Clause

package bundle_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ijsf/dylibfixer/internal/bundle"
	"github.com/ijsf/dylibfixer/internal/macho"
)

type changeCall struct {
	binary, from, to string
}

type idCall struct {
	binary, id string
}

// fakeToolchain serves canned load commands keyed by basename (so the copy
// in the destination directory reports the same records as its source) and
// records every rewrite instead of mutating files.
type fakeToolchain struct {
	dumps     map[string]macho.LoadCommands
	listCalls map[string]int
	changes   []changeCall
	ids       []idCall
}

func newFakeToolchain(dumps map[string]macho.LoadCommands) *fakeToolchain {
	return &fakeToolchain{
		dumps:     dumps,
		listCalls: make(map[string]int),
	}
}

// LoadCommands renders an otool-shaped dump so the real scanner is the one
// interpreting it.
func (f *fakeToolchain) LoadCommands(_ context.Context, binary string) ([]byte, error) {
	base := filepath.Base(binary)
	f.listCalls[base]++
	lc := f.dumps[base]

	var b strings.Builder
	n := 0
	for _, lib := range lc.Libraries {
		fmt.Fprintf(&b, "Load command %d\n          cmd LC_LOAD_DYLIB\n      cmdsize 56\n         name %s (offset 24)\n", n, lib)
		n++
	}
	for _, p := range lc.RPaths {
		fmt.Fprintf(&b, "Load command %d\n          cmd LC_RPATH\n      cmdsize 32\n         path %s (offset 12)\n", n, p)
		n++
	}
	return []byte(b.String()), nil
}

func (f *fakeToolchain) ChangeReference(_ context.Context, binary, from, to string) error {
	f.changes = append(f.changes, changeCall{binary: binary, from: from, to: to})
	return nil
}

func (f *fakeToolchain) SetIdentity(_ context.Context, binary, id string) error {
	f.ids = append(f.ids, idCall{binary: binary, id: id})
	return nil
}

func (f *fakeToolchain) idCount(id string) int {
	n := 0
	for _, c := range f.ids {
		if c.id == id {
			n++
		}
	}
	return n
}

func (f *fakeToolchain) hasChange(binary, from, to string) bool {
	for _, c := range f.changes {
		if c.binary == binary && c.from == from && c.to == to {
			return true
		}
	}
	return false
}

func mustRules(t *testing.T) bundle.RuleSet {
	t.Helper()
	rules, err := bundle.CompileRules(bundle.DefaultExclusions)
	if err != nil {
		t.Fatal(err)
	}
	return rules
}

const loadPath = "@loader_path/../libs"

func TestRun_LibraryDirFallback(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	app := filepath.Join(tmp, "MacOS", "app")
	dest := filepath.Join(tmp, "libs")
	optLibs := filepath.Join(tmp, "opt")
	writeFile(t, app, "app")
	writeFile(t, filepath.Join(optLibs, "libfoo.dylib"), "foo")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}

	// The declared rpath does not exist on disk; the library dir does.
	tc := newFakeToolchain(map[string]macho.LoadCommands{
		"app": {
			Libraries: []string{"@rpath/libfoo.dylib"},
			RPaths:    []string{filepath.Join(tmp, "orig-libs")},
		},
		"libfoo.dylib": {},
	})

	b := bundle.New(bundle.Options{
		Tools:        tc,
		Excludes:     mustRules(t),
		DestDir:      dest,
		DestLoadPath: loadPath,
		LibraryDirs:  []string{optLibs},
	})
	if err := b.Run(context.Background(), app); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	copied := filepath.Join(dest, "libfoo.dylib")
	data, err := os.ReadFile(copied)
	if err != nil {
		t.Fatalf("copied dependency missing: %v", err)
	}
	if string(data) != "foo" {
		t.Errorf("copied content = %q, want %q", data, "foo")
	}
	if n := tc.idCount("libfoo.dylib"); n != 1 {
		t.Errorf("identity set %d times, want 1", n)
	}
	if !tc.hasChange(app, "@rpath/libfoo.dylib", loadPath+"/libfoo.dylib") {
		t.Errorf("reference not rewritten; changes = %v", tc.changes)
	}
}

func TestRun_ExcludedDependency(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	app := filepath.Join(tmp, "app")
	dest := filepath.Join(tmp, "libs")
	writeFile(t, app, "app")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}

	tc := newFakeToolchain(map[string]macho.LoadCommands{
		"app": {Libraries: []string{"/usr/lib/libSystem.B.dylib"}},
	})

	b := bundle.New(bundle.Options{
		Tools:        tc,
		Excludes:     mustRules(t),
		DestDir:      dest,
		DestLoadPath: loadPath,
	})
	if err := b.Run(context.Background(), app); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// The reference is still normalized, but nothing is copied or expanded.
	if !tc.hasChange(app, "/usr/lib/libSystem.B.dylib", loadPath+"/libSystem.B.dylib") {
		t.Errorf("excluded reference not normalized; changes = %v", tc.changes)
	}
	if _, err := os.Stat(filepath.Join(dest, "libSystem.B.dylib")); err == nil {
		t.Error("excluded library was copied")
	}
	if len(tc.ids) != 0 {
		t.Errorf("identity calls = %v, want none", tc.ids)
	}
	if tc.listCalls["libSystem.B.dylib"] != 0 {
		t.Error("excluded library was expanded")
	}
}

func TestRun_DiamondCopiedOnce(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	app := filepath.Join(tmp, "app")
	dest := filepath.Join(tmp, "dest")
	libs := filepath.Join(tmp, "libs")
	writeFile(t, app, "app")
	writeFile(t, filepath.Join(libs, "libfoo.dylib"), "foo")
	writeFile(t, filepath.Join(libs, "libbar.dylib"), "bar")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}

	tc := newFakeToolchain(map[string]macho.LoadCommands{
		"app": {
			Libraries: []string{"@rpath/libfoo.dylib", "@rpath/libbar.dylib"},
			RPaths:    []string{libs},
		},
		"libfoo.dylib": {
			Libraries: []string{"@rpath/libbar.dylib"},
			RPaths:    []string{libs},
		},
		"libbar.dylib": {},
	})

	b := bundle.New(bundle.Options{
		Tools:        tc,
		Excludes:     mustRules(t),
		DestDir:      dest,
		DestLoadPath: loadPath,
	})
	if err := b.Run(context.Background(), app); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if n := tc.idCount("libbar.dylib"); n != 1 {
		t.Errorf("libbar identity set %d times, want 1 (diamond must deduplicate)", n)
	}
	// libfoo's copy and app both reference libbar; both references are
	// rewritten even though only the first encounter expands it.
	if !tc.hasChange(app, "@rpath/libbar.dylib", loadPath+"/libbar.dylib") {
		t.Error("app's libbar reference not rewritten")
	}
	if !tc.hasChange(filepath.Join(dest, "libfoo.dylib"), "@rpath/libbar.dylib", loadPath+"/libbar.dylib") {
		t.Error("libfoo's libbar reference not rewritten")
	}
}

func TestRun_CycleTerminates(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	app := filepath.Join(tmp, "app")
	dest := filepath.Join(tmp, "dest")
	libs := filepath.Join(tmp, "libs")
	writeFile(t, app, "app")
	writeFile(t, filepath.Join(libs, "libfoo.dylib"), "foo")
	writeFile(t, filepath.Join(libs, "libbar.dylib"), "bar")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}

	tc := newFakeToolchain(map[string]macho.LoadCommands{
		"app": {
			Libraries: []string{"@rpath/libfoo.dylib"},
			RPaths:    []string{libs},
		},
		"libfoo.dylib": {
			Libraries: []string{"@rpath/libbar.dylib"},
			RPaths:    []string{libs},
		},
		"libbar.dylib": {
			Libraries: []string{"@rpath/libfoo.dylib"},
			RPaths:    []string{libs},
		},
	})

	b := bundle.New(bundle.Options{
		Tools:        tc,
		Excludes:     mustRules(t),
		DestDir:      dest,
		DestLoadPath: loadPath,
	})
	if err := b.Run(context.Background(), app); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if n := tc.idCount("libfoo.dylib"); n != 1 {
		t.Errorf("libfoo identity set %d times, want 1", n)
	}
	if n := tc.idCount("libbar.dylib"); n != 1 {
		t.Errorf("libbar identity set %d times, want 1", n)
	}
}

func TestRun_SelfReferenceSkipped(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	app := filepath.Join(tmp, "app")
	dest := filepath.Join(tmp, "dest")
	libs := filepath.Join(tmp, "libs")
	writeFile(t, app, "app")
	writeFile(t, filepath.Join(libs, "libfoo.dylib"), "foo")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}

	tc := newFakeToolchain(map[string]macho.LoadCommands{
		"app": {
			Libraries: []string{"@rpath/libfoo.dylib"},
			RPaths:    []string{libs},
		},
		"libfoo.dylib": {
			Libraries: []string{"@rpath/libfoo.dylib"},
			RPaths:    []string{libs},
		},
	})

	b := bundle.New(bundle.Options{
		Tools:        tc,
		Excludes:     mustRules(t),
		DestDir:      dest,
		DestLoadPath: loadPath,
	})
	if err := b.Run(context.Background(), app); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if n := tc.idCount("libfoo.dylib"); n != 1 {
		t.Errorf("libfoo identity set %d times, want 1 (self-reference must not re-copy)", n)
	}
}

func TestRun_UnresolvableDependencyAborts(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	app := filepath.Join(tmp, "app")
	dest := filepath.Join(tmp, "dest")
	writeFile(t, app, "app")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}

	tc := newFakeToolchain(map[string]macho.LoadCommands{
		"app": {
			Libraries: []string{"@rpath/libmissing.dylib"},
			RPaths:    []string{filepath.Join(tmp, "nowhere")},
		},
	})

	b := bundle.New(bundle.Options{
		Tools:        tc,
		Excludes:     mustRules(t),
		DestDir:      dest,
		DestLoadPath: loadPath,
		LibraryDirs:  []string{filepath.Join(tmp, "also-nowhere")},
	})
	err := b.Run(context.Background(), app)
	if !errors.Is(err, bundle.ErrDependencyNotFound) {
		t.Fatalf("Run() error = %v, want ErrDependencyNotFound", err)
	}
	// Both the resolved path and the declared reference are named.
	if !strings.Contains(err.Error(), filepath.Join(tmp, "nowhere", "libmissing.dylib")) {
		t.Errorf("error %q does not name the resolved path", err)
	}
	if !strings.Contains(err.Error(), "@rpath/libmissing.dylib") {
		t.Errorf("error %q does not name the declared reference", err)
	}
}

func TestRun_DestinationAlreadyPopulated(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	app := filepath.Join(tmp, "app")
	dest := filepath.Join(tmp, "dest")
	writeFile(t, app, "app")
	// The dependency only exists where the bundle will live.
	writeFile(t, filepath.Join(dest, "libfoo.dylib"), "already here")

	tc := newFakeToolchain(map[string]macho.LoadCommands{
		"app": {
			Libraries: []string{"@rpath/libfoo.dylib"},
			RPaths:    []string{filepath.Join(tmp, "nowhere")},
		},
		"libfoo.dylib": {},
	})

	b := bundle.New(bundle.Options{
		Tools:        tc,
		Excludes:     mustRules(t),
		DestDir:      dest,
		DestLoadPath: loadPath,
	})
	if err := b.Run(context.Background(), app); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "libfoo.dylib"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "already here" {
		t.Errorf("pre-placed dependency was overwritten: %q", data)
	}
	if n := tc.idCount("libfoo.dylib"); n != 1 {
		t.Errorf("identity set %d times, want 1", n)
	}
}

func TestRun_SiblingContextsDoNotLeak(t *testing.T) {
	t.Parallel()

	// libfoo declares its own rpath; libbar declares none. If libfoo's
	// rpath leaked into libbar's branch, libbar's @rpath dep would resolve
	// into fooLibs and be found there; with correct forking it must fall
	// back to the shared library dir.
	tmp := t.TempDir()
	app := filepath.Join(tmp, "app")
	dest := filepath.Join(tmp, "dest")
	libs := filepath.Join(tmp, "libs")
	fooLibs := filepath.Join(tmp, "foolibs")
	writeFile(t, app, "app")
	writeFile(t, filepath.Join(libs, "libfoo.dylib"), "foo")
	writeFile(t, filepath.Join(libs, "libbar.dylib"), "bar")
	writeFile(t, filepath.Join(libs, "libdeep.dylib"), "deep from libs")
	writeFile(t, filepath.Join(fooLibs, "libdeep.dylib"), "deep from foolibs")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}

	tc := newFakeToolchain(map[string]macho.LoadCommands{
		"app": {
			Libraries: []string{"@rpath/libfoo.dylib", "@rpath/libbar.dylib"},
			RPaths:    []string{libs},
		},
		"libfoo.dylib": {RPaths: []string{fooLibs}},
		"libbar.dylib": {
			Libraries: []string{"@rpath/libdeep.dylib"},
		},
		"libdeep.dylib": {},
	})

	b := bundle.New(bundle.Options{
		Tools:        tc,
		Excludes:     mustRules(t),
		DestDir:      dest,
		DestLoadPath: loadPath,
		LibraryDirs:  []string{libs},
	})
	if err := b.Run(context.Background(), app); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "libdeep.dylib"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "deep from libs" {
		t.Errorf("libdeep resolved through a sibling's rpath: %q", data)
	}
}

func TestRun_TreeOutput(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	app := filepath.Join(tmp, "app")
	dest := filepath.Join(tmp, "dest")
	libs := filepath.Join(tmp, "libs")
	writeFile(t, app, "app")
	writeFile(t, filepath.Join(libs, "libfoo.dylib"), "foo")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}

	tc := newFakeToolchain(map[string]macho.LoadCommands{
		"app": {
			Libraries: []string{"@rpath/libfoo.dylib"},
			RPaths:    []string{libs},
		},
		"libfoo.dylib": {},
	})

	var out bytes.Buffer
	b := bundle.New(bundle.Options{
		Tools:        tc,
		Excludes:     mustRules(t),
		DestDir:      dest,
		DestLoadPath: loadPath,
		Out:          &out,
	})
	if err := b.Run(context.Background(), app); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := "+ " + app + "\n-+ " + filepath.Join(dest, "libfoo.dylib") + "\n"
	if out.String() != want {
		t.Errorf("tree output = %q, want %q", out.String(), want)
	}
}
