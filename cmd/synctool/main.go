// Command synctool runs the bidirectional Doc-store/CalDAV sync engine: a
// long-running service (serve) plus one-shot admin subcommands (sync,
// status) that hit the same admin HTTP endpoint the service exposes.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Execute(os.Args[1:], os.Stdout, os.Stderr))
}

// Execute runs the root command against args, writing to stdout/stderr,
// and returns the process exit code — kept as its own entry point so tests
// can drive the CLI without a real os.Exit, matching the teacher's
// Execute(args, stdout, stderr, cfg) shape in cmd/todoat/cmd.
func Execute(args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}
