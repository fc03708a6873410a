// Command dirauth resolves credentials against a directory or local user
// table and produces {SSHA} password hashes.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/cli"

	"github.com/isometry/dirauth/internal/logging"
)

// Exit codes.
const (
	exitResolved = 0
	exitRejected = 1
	exitError    = 2
)

var version = "dev"

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	ctx = logging.NewRootLogger(ctx)

	ui := &cli.BasicUi{
		Reader:      stdin,
		Writer:      stdout,
		ErrorWriter: stderr,
	}
	base := baseCommand{ctx: ctx, ui: ui, stdin: stdin, stderr: stderr}

	c := &cli.CLI{
		Name:    "dirauth",
		Version: version,
		Args:    args,
		Commands: map[string]cli.CommandFactory{
			"resolve": func() (cli.Command, error) {
				return &ResolveCommand{baseCommand: base}, nil
			},
			"hash": func() (cli.Command, error) {
				return &HashCommand{baseCommand: base}, nil
			},
		},
		HelpWriter: stderr,
	}

	code, err := c.Run()
	if err != nil {
		fmt.Fprintf(stderr, "Error executing CLI: %s\n", err)
		return exitError
	}
	return code
}
