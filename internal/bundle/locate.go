// SPDX-License-Identifier: BSD-2-Clause

package bundle

import (
	"os"
	"path/filepath"
)

// Locate searches the library directories, in order, for a file with the
// given basename. It returns the first existing absolute path, or false when
// the basename is absent from every directory; the caller decides whether
// that is fatal.
func Locate(basename string, dirs []string) (string, bool) {
	for _, dir := range dirs {
		path, err := filepath.Abs(filepath.Join(dir, basename))
		if err != nil {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}
