// SPDX-License-Identifier: BSD-2-Clause

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

// Id identifies a known failure mode.
type Id int

const (
	BinaryNotFoundId Id = iota + 1
	DestinationNotFoundId
	DependencyNotFoundId
	ToolFailedId
	ConfigLoadFailedId
)

// MarkdownMsg is markdown help text that gets rendered before display.
type MarkdownMsg string

// Issue is a known failure mode with longer-form help than an error message
// can carry.
type Issue struct {
	id    Id
	mdMsg MarkdownMsg
}

// Id returns the issue identifier.
func (i *Issue) Id() Id {
	return i.id
}

// MarkdownMsg returns the raw markdown help text.
func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

// Render renders the issue's help text for terminal display.
func (i *Issue) Render(stylePath string) (string, error) {
	return render(string(i.mdMsg), stylePath)
}

// render is swapped out in tests.
var render = glamour.Render

var (
	binaryNotFoundIssue = &Issue{
		id: BinaryNotFoundId,
		mdMsg: `
# Bundle binary not found

The path given with ` + "`-b/--bundle`" + ` does not exist.

## Things to check
- The path should point at the Mach-O executable inside the app bundle,
  e.g. ` + "`./MyApp.app/Contents/MacOS/MyApp`" + `, not at the ` + "`.app`" + ` directory.
- Relative paths are resolved against the current working directory.`,
	}

	destinationNotFoundIssue = &Issue{
		id: DestinationNotFoundId,
		mdMsg: `
# Destination directory not found

The directory given with ` + "`-d/--dest-dir`" + ` must exist before bundling.

## Things to check
- Create it first:
~~~
$ mkdir -p ./MyApp.app/Contents/libs
~~~
- The destination should live inside the app bundle so the rewritten
  load path (` + "`-r/--dest-ldpath`" + `) can reference it relatively.`,
	}

	dependencyNotFoundIssue = &Issue{
		id: DependencyNotFoundId,
		mdMsg: `
# Dependency could not be located

A declared library resolved to a path that exists neither on disk, nor in
the destination directory, nor in any library directory.

## Things you can try
- Pass the directory containing the library with ` + "`-l/--library-dir`" + `
  (repeatable), e.g. ` + "`-l /usr/local/lib -l ./build/libs`" + `.
- Check the resolved path in the error message: a stale ` + "`@rpath`" + ` in the
  binary often points at a build directory that no longer exists.`,
	}

	toolFailedIssue = &Issue{
		id: ToolFailedId,
		mdMsg: `
# External tool failed

Running ` + "`otool`" + ` or ` + "`install_name_tool`" + ` failed.

## Things to check
- Both tools ship with the Xcode command line tools:
~~~
$ xcode-select --install
~~~
- Non-standard locations can be set in the config file under ` + "`tools`" + `.
- The target file must be a Mach-O binary (not a script or a fat archive
  of unsupported slices).`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Configuration could not be loaded

The config file exists but could not be parsed or validated.

## Things to check
- The file must be valid CUE matching the config schema.
- Run ` + "`dylibfixer config path`" + ` to see which file is being read and
  ` + "`dylibfixer config show`" + ` to inspect the effective configuration.`,
	}

	issues = []*Issue{
		binaryNotFoundIssue,
		destinationNotFoundIssue,
		dependencyNotFoundIssue,
		toolFailedIssue,
		configLoadFailedIssue,
	}
)

// ForId looks up a known issue, or nil when the id is unknown.
func ForId(id Id) *Issue {
	idx := slices.IndexFunc(issues, func(i *Issue) bool { return i.id == id })
	if idx < 0 {
		return nil
	}
	return issues[idx]
}
