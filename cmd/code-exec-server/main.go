// Command code-exec-server runs untrusted code in resource-limited sandboxes over HTTP.
package main

import (
	"os"

	"codeexec/internal/execution/sandbox/initproc"
)

func main() {
	// The engine re-executes this binary as the sandbox helper; skip cobra and config entirely.
	if len(os.Args) > 1 && os.Args[1] == initproc.Arg {
		os.Exit(initproc.Main())
	}
	Execute()
}
