// Command sandbox-init is the sandbox helper as a standalone binary. Point sandbox.helper_path
// at it when the server binary should not be re-executed inside sandboxes.
package main

import (
	"os"

	"codeexec/internal/execution/sandbox/initproc"
)

func main() {
	os.Exit(initproc.Main())
}
