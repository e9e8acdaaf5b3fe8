// SPDX-License-Identifier: BSD-2-Clause

// Package macho wraps the external Mach-O tooling (otool and
// install_name_tool) behind a Toolchain interface and parses otool's
// load-command dump into the pieces the bundler needs: library load
// references and runtime search paths.
package macho

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrToolFailed marks any failure of the external tools: non-zero exit,
// unreachable binary, or an uninspectable target.
var ErrToolFailed = errors.New("external tool failed")

const (
	// DefaultOtool is the standard otool location on macOS.
	DefaultOtool = "/usr/bin/otool"
	// DefaultInstallNameTool is the standard install_name_tool location on macOS.
	DefaultInstallNameTool = "/usr/bin/install_name_tool"
)

// Toolchain abstracts the two external tools the bundler depends on, so the
// traversal can be exercised against a fake in tests.
type Toolchain interface {
	// LoadCommands returns the raw load-command dump (otool -l) for a binary.
	LoadCommands(ctx context.Context, binary string) ([]byte, error)

	// ChangeReference rewrites one declared library reference inside a binary
	// from its current string to a new one (install_name_tool -change).
	ChangeReference(ctx context.Context, binary, from, to string) error

	// SetIdentity sets a library's own install name (install_name_tool -id).
	SetIdentity(ctx context.Context, binary, id string) error
}

// ExecToolchain invokes the real otool and install_name_tool binaries.
type ExecToolchain struct {
	// Otool is the path to the otool binary.
	Otool string
	// InstallNameTool is the path to the install_name_tool binary.
	InstallNameTool string
}

// NewExecToolchain creates an ExecToolchain, falling back to the standard
// macOS tool locations for empty paths.
func NewExecToolchain(otool, installNameTool string) *ExecToolchain {
	if otool == "" {
		otool = DefaultOtool
	}
	if installNameTool == "" {
		installNameTool = DefaultInstallNameTool
	}
	return &ExecToolchain{Otool: otool, InstallNameTool: installNameTool}
}

// LoadCommands runs `otool -l <binary>` and returns its stdout.
func (t *ExecToolchain) LoadCommands(ctx context.Context, binary string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, t.Otool, "-l", binary)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, toolError(t.Otool, []string{"-l", binary}, &stderr, err)
	}
	return out, nil
}

// ChangeReference runs `install_name_tool -change <from> <to> <binary>`.
func (t *ExecToolchain) ChangeReference(ctx context.Context, binary, from, to string) error {
	return t.runInstallNameTool(ctx, "-change", from, to, binary)
}

// SetIdentity runs `install_name_tool -id <id> <binary>`.
func (t *ExecToolchain) SetIdentity(ctx context.Context, binary, id string) error {
	return t.runInstallNameTool(ctx, "-id", id, binary)
}

func (t *ExecToolchain) runInstallNameTool(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, t.InstallNameTool, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return toolError(t.InstallNameTool, args, &stderr, err)
	}
	return nil
}

// toolError wraps an external tool failure, preserving whatever the tool
// printed to stderr since that is usually the only diagnostic available.
func toolError(tool string, args []string, stderr *bytes.Buffer, err error) error {
	msg := strings.TrimSpace(stderr.String())
	if msg != "" {
		return fmt.Errorf("%w: %s %s: %v: %s", ErrToolFailed, tool, strings.Join(args, " "), err, msg)
	}
	return fmt.Errorf("%w: %s %s: %v", ErrToolFailed, tool, strings.Join(args, " "), err)
}
