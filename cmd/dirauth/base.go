package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/cli"
	"github.com/hashicorp/go-secure-stdlib/password"
	"golang.org/x/term"
)

type baseCommand struct {
	ctx    context.Context
	ui     cli.Ui
	stdin  io.Reader
	stderr io.Writer
}

// readPassword prompts without echo on a terminal and reads one line otherwise.
func (c *baseCommand) readPassword(prompt string) (string, error) {
	if f, ok := c.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(c.stderr, prompt)
		value, err := password.Read(f)
		fmt.Fprintln(c.stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return value, nil
	}

	line, err := bufio.NewReader(c.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
