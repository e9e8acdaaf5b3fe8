// SPDX-License-Identifier: BSD-2-Clause

package main

import cmd "github.com/ijsf/dylibfixer/cmd/dylibfixer"

func main() {
	cmd.Execute()
}
