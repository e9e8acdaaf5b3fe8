// SPDX-License-Identifier: BSD-2-Clause

package macho

import (
	"bufio"
	"bytes"
	"context"
	"regexp"
)

// LoadCommands holds the two kinds of load-command records the bundler cares
// about, each in declaration order. Everything else in the otool dump is
// ignored.
type LoadCommands struct {
	// Libraries are the raw LC_LOAD_DYLIB name strings. They may contain
	// @-prefixed placeholder tokens and are not resolved here.
	Libraries []string
	// RPaths are the LC_RPATH path strings, also unresolved.
	RPaths []string
}

// scanState drives the line scanner. Seeing a record header of interest arms
// a one-shot capture for that record's attribute line; the capture disarms
// after the first match, and re-arms (or switches) on the next header.
type scanState int

const (
	scanning scanState = iota
	armedForLibraryName
	armedForSearchPath
)

var (
	loadDylibRe  = regexp.MustCompile(`cmd\s+LC_LOAD_DYLIB`)
	rpathRe      = regexp.MustCompile(`cmd\s+LC_RPATH`)
	nameAttrRe   = regexp.MustCompile(`name\s+(\S+)`)
	pathAttrRe   = regexp.MustCompile(`path\s+(\S+)`)
	anyCommandRe = regexp.MustCompile(`cmd\s+LC_`)
)

// ParseLoadCommands scans an otool -l dump line by line. Records without the
// expected attribute line simply contribute nothing; a dump with no records
// of interest yields empty slices.
func ParseLoadCommands(output []byte) LoadCommands {
	var lc LoadCommands
	state := scanning

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case loadDylibRe.MatchString(line):
			state = armedForLibraryName
		case rpathRe.MatchString(line):
			state = armedForSearchPath
		case anyCommandRe.MatchString(line):
			// A record we do not understand; drop any pending capture.
			state = scanning
		case state == armedForLibraryName:
			if m := nameAttrRe.FindStringSubmatch(line); m != nil {
				lc.Libraries = append(lc.Libraries, m[1])
				state = scanning
			}
		case state == armedForSearchPath:
			if m := pathAttrRe.FindStringSubmatch(line); m != nil {
				lc.RPaths = append(lc.RPaths, m[1])
				state = scanning
			}
		}
	}
	return lc
}

// List runs the toolchain's load-command dump for a binary and parses it.
// A tool failure propagates as-is; there is no retry.
func List(ctx context.Context, tc Toolchain, binary string) (LoadCommands, error) {
	out, err := tc.LoadCommands(ctx, binary)
	if err != nil {
		return LoadCommands{}, err
	}
	return ParseLoadCommands(out), nil
}
