package auth

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/dirauth/internal/ldap"
)

// LocalOptions configures a LocalResolver.
type LocalOptions struct {
	UsernameColumn string `mapstructure:"username" default:"email"`
	PasswordColumn string `mapstructure:"password" default:"password"`
	AllowNoPass    bool   `mapstructure:"allow_no_pass"`
}

// LocalResolver checks credentials against hashed passwords in the user store.
type LocalResolver struct {
	lookup

	verifier Verifier
	opts     LocalOptions
}

var _ Provider = (*LocalResolver)(nil)

// NewLocalResolver returns a resolver backed only by store.
func NewLocalResolver(store UserStore, verifier Verifier, opts LocalOptions) (*LocalResolver, error) {
	var problems []error
	if store == nil {
		problems = append(problems, fmt.Errorf("user store is required"))
	}
	if verifier == nil && !opts.AllowNoPass {
		problems = append(problems, fmt.Errorf("password verifier is required"))
	}
	if opts.UsernameColumn == "" {
		problems = append(problems, fmt.Errorf("username column is required"))
	}
	if opts.PasswordColumn == "" {
		problems = append(problems, fmt.Errorf("password column is required"))
	}
	if err := ldap.NewConfigError(problems...); err != nil {
		return nil, err
	}

	return &LocalResolver{
		lookup:   lookup{store: store},
		verifier: verifier,
		opts:     opts,
	}, nil
}

// RetrieveByCredentials looks the user up by username column and verifies the
// password against the stored hash unless AllowNoPass is set.
func (r *LocalResolver) RetrieveByCredentials(ctx context.Context, creds Credentials) (*User, error) {
	user, err := r.store.FindByColumn(ctx, r.opts.UsernameColumn, creds.Username)
	if err != nil {
		return nil, fmt.Errorf("looking up %s %q: %w", r.opts.UsernameColumn, creds.Username, err)
	}
	if user == nil {
		tflog.SubsystemDebug(ctx, Subsystem, "No local user matched", map[string]any{
			"column":   r.opts.UsernameColumn,
			"username": creds.Username,
		})
		return nil, nil
	}

	if r.opts.AllowNoPass {
		return user, nil
	}

	hash, _ := user.Attribute(r.opts.PasswordColumn)
	if hash == "" || !r.verifier.Verify(creds.Password, hash) {
		tflog.SubsystemDebug(ctx, Subsystem, "Local password mismatch", map[string]any{
			"username": creds.Username,
		})
		return nil, nil
	}

	return user, nil
}
