package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/isometry/dirauth/internal/auth"
	"github.com/isometry/dirauth/internal/config"
	"github.com/isometry/dirauth/internal/hashing"
	"github.com/isometry/dirauth/internal/store"
)

// ResolveCommand resolves one credential pair and prints the user.
type ResolveCommand struct {
	baseCommand

	configPath string
	username   string
	timeout    time.Duration
}

func (c *ResolveCommand) Synopsis() string {
	return "Resolve a username and password to a user"
}

func (c *ResolveCommand) Help() string {
	return strings.TrimSpace(`
Usage: dirauth resolve -config <file> -username <name> [-timeout <duration>]

  Reads the password from the terminal, or from the first line of stdin, and
  resolves the credentials with the configured driver.

  Prints the user as JSON and exits 0 when resolved. Prints "rejected" and
  exits 1 when the credentials are refused. Exits 2 on any error.

Options:

  -config     Path to the YAML configuration file.
  -username   Username to resolve.
  -timeout    Limit for the whole resolution. Defaults to 30s.
`)
}

func (c *ResolveCommand) flags() *flag.FlagSet {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.StringVar(&c.configPath, "config", "", "")
	fs.StringVar(&c.username, "username", "", "")
	fs.DurationVar(&c.timeout, "timeout", 30*time.Second, "")
	return fs
}

func (c *ResolveCommand) Run(args []string) int {
	if err := c.flags().Parse(args); err != nil {
		return exitError
	}
	if c.configPath == "" || c.username == "" {
		c.ui.Error("Both -config and -username are required.\n\n" + c.Help())
		return exitError
	}

	pw, err := c.readPassword("Password: ")
	if err != nil {
		c.ui.Error(err.Error())
		return exitError
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	user, opts, err := c.resolve(ctx, pw)
	if err != nil {
		c.ui.Error(fmt.Sprintf("Error resolving credentials: %s", err))
		return exitError
	}
	if user == nil {
		c.ui.Output("rejected")
		return exitRejected
	}

	out := *user
	out.Attributes = maps.Clone(user.Attributes)
	delete(out.Attributes, opts.DB.PasswordColumn)
	delete(out.Attributes, opts.Store.RememberTokenColumn)

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		c.ui.Error(err.Error())
		return exitError
	}
	c.ui.Output(string(b))
	return exitResolved
}

func (c *ResolveCommand) resolve(ctx context.Context, pw string) (*auth.User, *config.Options, error) {
	opts, err := config.LoadFile(ctx, c.configPath)
	if err != nil {
		return nil, nil, err
	}

	users, err := store.Open(ctx, opts.Store)
	if err != nil {
		return nil, nil, err
	}
	defer users.Close() //nolint:errcheck

	provider, err := config.NewProvider(ctx, opts, users, hashing.Verifier{})
	if err != nil {
		return nil, nil, err
	}

	user, err := provider.RetrieveByCredentials(ctx, auth.Credentials{Username: c.username, Password: pw})
	if err != nil {
		return nil, nil, err
	}
	return user, opts, nil
}
