package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/dirauth/internal/ldap"
)

// Resolution states.
const (
	StateStart       = "start"
	StateTestingBind = "testing_bind"
	StateRejected    = "rejected"
	StateBound       = "bound"
	StateSearching   = "searching"
	StateNoRecord    = "no_record"
	StateMapped      = "mapped"
	StateResolved    = "resolved"
)

// Bind strategies for testing user credentials.
const (
	// BindStrategyDN binds with the DN of the entry found by the auth search.
	BindStrategyDN = "dn"
	// BindStrategyUsername binds with a DN composed from the entry's username attribute.
	BindStrategyUsername = "username"
)

// Directory is the part of *ldap.Handler the resolver uses.
type Directory interface {
	Connect(ctx context.Context, username, password string) (bool, error)
	ConnectByDN(ctx context.Context, dn, password string) (bool, error)
	SearchByAuth(ctx context.Context, value string) (*ldap.SearchResult, error)
	GetAttributeFromResults(result *ldap.SearchResult, attr string) (string, bool)
	Close() error
}

var _ Directory = (*ldap.Handler)(nil)

// DirectoryFactory returns a fresh Directory for one resolution.
type DirectoryFactory func(ctx context.Context) (Directory, error)

// LDAPOptions configures an LDAPResolver.
type LDAPOptions struct {
	// IDPrefix is prepended to the directory id before the local lookup.
	IDPrefix          string `mapstructure:"search_user_id_prefix"`
	ReturnProvisional bool   `mapstructure:"return_fake_user_instance"`
	BindStrategy      string `mapstructure:"bind_strategy" default:"dn"`

	IDAttr       string `mapstructure:"search_user_id"`
	UsernameAttr string `mapstructure:"search_username"`
	MailAttr     string `mapstructure:"search_user_mail" default:"mail"`
}

// LDAPResolver verifies credentials with a directory bind and maps the
// directory entry to a local user.
type LDAPResolver struct {
	lookup

	directory DirectoryFactory
	opts      LDAPOptions
}

var _ Provider = (*LDAPResolver)(nil)

// NewLDAPResolver returns a resolver that opens one Directory per call.
func NewLDAPResolver(directory DirectoryFactory, store UserStore, opts LDAPOptions) (*LDAPResolver, error) {
	if directory == nil {
		return nil, ldap.NewConfigError(fmt.Errorf("directory factory is required"))
	}
	if store == nil {
		return nil, ldap.NewConfigError(fmt.Errorf("user store is required"))
	}

	var problems []error
	if opts.IDAttr == "" {
		problems = append(problems, fmt.Errorf("search_user_id is required"))
	}
	if opts.UsernameAttr == "" {
		problems = append(problems, fmt.Errorf("search_username is required"))
	}
	if opts.MailAttr == "" {
		opts.MailAttr = "mail"
	}
	switch opts.BindStrategy {
	case "":
		opts.BindStrategy = BindStrategyDN
	case BindStrategyDN, BindStrategyUsername:
	default:
		problems = append(problems, fmt.Errorf("unknown bind_strategy %q", opts.BindStrategy))
	}
	if err := ldap.NewConfigError(problems...); err != nil {
		return nil, err
	}

	return &LDAPResolver{
		lookup:    lookup{store: store},
		directory: directory,
		opts:      opts,
	}, nil
}

func transition(ctx context.Context, state string, fields ...map[string]any) {
	f := map[string]any{"state": state}
	for _, extra := range fields {
		for k, v := range extra {
			f[k] = v
		}
	}
	tflog.SubsystemDebug(ctx, Subsystem, "Resolution state changed", f)
}

// RetrieveByCredentials resolves a username and password to a local user.
//
// It returns nil when the directory refuses the credentials, when the entry
// has no id, or when no local record exists and provisional users are
// disabled. A user that is not yet persisted is returned when
// ReturnProvisional is set. Its ID is the prefixed lookup id, so saving it
// creates the record the next resolution maps to.
func (r *LDAPResolver) RetrieveByCredentials(ctx context.Context, creds Credentials) (*User, error) {
	ctx = tflog.SubsystemSetField(ctx, Subsystem, "resolution_id", uuid.NewString())
	ctx = tflog.SubsystemSetField(ctx, Subsystem, "username", creds.Username)
	transition(ctx, StateStart)

	dir, err := r.directory(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating directory handler: %w", err)
	}
	defer func() {
		if err := dir.Close(); err != nil {
			tflog.SubsystemDebug(ctx, Subsystem, "Closing directory session failed", map[string]any{"error": err.Error()})
		}
	}()

	transition(ctx, StateTestingBind, map[string]any{"bind_strategy": r.opts.BindStrategy})
	ok, err := r.testCredentials(ctx, dir, creds.Username, creds.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		transition(ctx, StateRejected)
		return nil, nil
	}
	transition(ctx, StateBound)

	transition(ctx, StateSearching)
	attrs, err := r.searchAttributes(ctx, dir, creds.Username)
	if err != nil {
		return nil, err
	}

	directoryID := attrs[AttrUserID]
	if directoryID == "" {
		transition(ctx, StateRejected, map[string]any{"reason": "empty id attribute"})
		return nil, nil
	}

	localID := r.opts.IDPrefix + directoryID
	user, err := r.store.FindByPrimaryID(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("looking up local user %q: %w", localID, err)
	}

	if user == nil {
		transition(ctx, StateNoRecord, map[string]any{"user_id": localID})
		if !r.opts.ReturnProvisional {
			return nil, nil
		}
		user = r.store.NewUser()
		user.ID = localID
	} else {
		transition(ctx, StateMapped, map[string]any{"user_id": localID})
	}

	user.SearchAttributes = attrs
	transition(ctx, StateResolved, map[string]any{"persisted": user.Persisted})
	return user, nil
}

// TestCredentials reports whether the directory accepts the password for username.
func (r *LDAPResolver) TestCredentials(ctx context.Context, username, password string) (bool, error) {
	dir, err := r.directory(ctx)
	if err != nil {
		return false, fmt.Errorf("creating directory handler: %w", err)
	}
	defer dir.Close() //nolint:errcheck

	return r.testCredentials(ctx, dir, username, password)
}

// testCredentials finds the user's entry with the service identity, then
// binds as that entry. Connection faults count as a rejection.
func (r *LDAPResolver) testCredentials(ctx context.Context, dir Directory, username, password string) (bool, error) {
	ok, err := dir.Connect(ctx, "", "")
	if err != nil {
		return rejectOnConnectionFault(ctx, "service bind", err)
	}
	if !ok {
		tflog.SubsystemWarn(ctx, Subsystem, "Directory rejected the service identity while testing credentials")
		return false, nil
	}

	result, err := dir.SearchByAuth(ctx, username)
	if err != nil {
		return rejectOnConnectionFault(ctx, "auth search", err)
	}

	switch r.opts.BindStrategy {
	case BindStrategyUsername:
		name, found := dir.GetAttributeFromResults(result, r.opts.UsernameAttr)
		if !found {
			tflog.SubsystemDebug(ctx, Subsystem, "No directory entry matched the username")
			return false, nil
		}
		ok, err = dir.Connect(ctx, name, password)
	default:
		dn, found := dir.GetAttributeFromResults(result, ldap.DNAttribute)
		if !found {
			tflog.SubsystemDebug(ctx, Subsystem, "No directory entry matched the username")
			return false, nil
		}
		ok, err = dir.ConnectByDN(ctx, dn, password)
	}
	if err != nil {
		return rejectOnConnectionFault(ctx, "user bind", err)
	}
	return ok, nil
}

func rejectOnConnectionFault(ctx context.Context, step string, err error) (bool, error) {
	if ldap.IsConnectionError(err) {
		tflog.SubsystemWarn(ctx, Subsystem, "Directory unavailable while testing credentials, rejecting", map[string]any{
			"step":           step,
			"error":          err.Error(),
			"error_category": string(ldap.GetErrorCategory(err)),
		})
		return false, nil
	}
	return false, fmt.Errorf("testing credentials (%s): %w", step, err)
}

// searchAttributes rebinds with the service identity and reads the user's
// directory attributes.
func (r *LDAPResolver) searchAttributes(ctx context.Context, dir Directory, username string) (map[string]string, error) {
	ok, err := dir.Connect(ctx, "", "")
	if err != nil {
		return nil, fmt.Errorf("reconnecting with service identity: %w", err)
	}
	if !ok {
		return nil, ErrServiceBindRejected
	}

	result, err := dir.SearchByAuth(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("searching directory for %q: %w", username, err)
	}

	get := func(attr string) string {
		v, _ := dir.GetAttributeFromResults(result, attr)
		return v
	}

	return map[string]string{
		AttrUID:         get(r.opts.UsernameAttr),
		AttrUserID:      get(r.opts.IDAttr),
		AttrFirstName:   get("givenName"),
		AttrLastName:    get("sn"),
		AttrDisplayName: get("displayName"),
		AttrEmail:       get(r.opts.MailAttr),
	}, nil
}
