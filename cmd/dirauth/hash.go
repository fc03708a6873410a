package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/isometry/dirauth/internal/hashing"
	"github.com/isometry/dirauth/internal/ldap"
)

// HashCommand prints a password hash.
type HashCommand struct {
	baseCommand

	scheme string
	salt   string
}

func (c *HashCommand) Synopsis() string {
	return "Hash a password for a directory or local user table"
}

func (c *HashCommand) Help() string {
	return strings.TrimSpace(`
Usage: dirauth hash [-scheme ssha|bcrypt|pbkdf2] [-salt <hex>]

  Reads a password from the terminal, or from the first line of stdin, and
  prints its hash. The default scheme is {SSHA} with a random 4-byte salt.

Options:

  -scheme   One of ssha, bcrypt or pbkdf2. Defaults to ssha.
  -salt     Hex-encoded salt for ssha. Random when unset.
`)
}

func (c *HashCommand) flags() *flag.FlagSet {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.StringVar(&c.scheme, "scheme", "ssha", "")
	fs.StringVar(&c.salt, "salt", "", "")
	return fs
}

func (c *HashCommand) Run(args []string) int {
	if err := c.flags().Parse(args); err != nil {
		return exitError
	}
	if c.salt != "" && c.scheme != "ssha" {
		c.ui.Error("-salt is only supported with -scheme ssha")
		return exitError
	}

	pw, err := c.readPassword("Password: ")
	if err != nil {
		c.ui.Error(err.Error())
		return exitError
	}

	hash, err := c.hash(pw)
	if err != nil {
		c.ui.Error(fmt.Sprintf("Error hashing password: %s", err))
		return exitError
	}
	c.ui.Output(hash)
	return exitResolved
}

func (c *HashCommand) hash(pw string) (string, error) {
	switch c.scheme {
	case "ssha":
		if c.salt == "" {
			return ldap.SSHA(pw)
		}
		salt, err := hex.DecodeString(c.salt)
		if err != nil || len(salt) == 0 {
			return "", fmt.Errorf("invalid -salt %q: must be non-empty hex", c.salt)
		}
		return ldap.SSHAWithSalt(pw, salt), nil
	case "bcrypt":
		return hashing.HashBcrypt(pw, bcrypt.DefaultCost)
	case "pbkdf2":
		salt := make([]byte, 12)
		if _, err := rand.Read(salt); err != nil {
			return "", fmt.Errorf("generating salt: %w", err)
		}
		return hashing.HashPBKDF2(pw, hex.EncodeToString(salt), hashing.DefaultPBKDF2Iterations), nil
	}
	return "", fmt.Errorf("unknown scheme %q", c.scheme)
}
