package config

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/dirauth/internal/auth"
	"github.com/isometry/dirauth/internal/ldap"
)

// NewHandler builds a directory handler with every configured setter applied.
func NewHandler(o *LDAPOptions, opts ...ldap.HandlerOption) (*ldap.Handler, error) {
	h, err := ldap.NewHandler(o.DirectoryConfig(), o.SearchConfig(), opts...)
	if err != nil {
		return nil, err
	}

	h.SetAllowNoPass(o.AllowNoPass)
	h.SetOverlayDN(o.OverlayDN)
	h.SetAuthQuery(o.AuthQuery)

	// add falls back to the service identity, modify falls back to add
	h.SetAddBaseDN(o.AddBaseDN)
	h.SetAddDN(o.AddDN)
	h.SetAddPassword(o.AddPassword)
	h.SetModifyMethod(o.ModifyMethod)
	h.SetModifyBaseDN(o.ModifyBaseDN)
	h.SetModifyDN(o.ModifyDN)
	h.SetModifyPassword(o.ModifyPassword)

	return h, nil
}

// NewDirectoryFactory returns a factory producing a fresh handler per resolution.
func NewDirectoryFactory(o *LDAPOptions, opts ...ldap.HandlerOption) auth.DirectoryFactory {
	return func(ctx context.Context) (auth.Directory, error) {
		h, err := NewHandler(o, opts...)
		if err != nil {
			return nil, err
		}
		tflog.SubsystemTrace(ctx, Subsystem, "Created directory handler", map[string]any{
			"host":    h.Server().Host,
			"base_dn": h.BaseDN(),
		})
		return h, nil
	}
}

// NewProvider returns the resolver selected by o.Driver.
func NewProvider(ctx context.Context, o *Options, store auth.UserStore, verifier auth.Verifier, opts ...ldap.HandlerOption) (auth.Provider, error) {
	tflog.SubsystemDebug(ctx, Subsystem, "Creating credential provider", map[string]any{"driver": o.Driver})

	switch o.Driver {
	case DriverLDAP:
		// fail fast on settings the per-request factory would reject
		if _, err := NewHandler(&o.LDAP, opts...); err != nil {
			return nil, err
		}
		r, err := auth.NewLDAPResolver(NewDirectoryFactory(&o.LDAP, opts...), store, o.LDAP.ResolverOptions())
		if err != nil {
			return nil, err
		}
		return r, nil
	case DriverDB:
		r, err := auth.NewLocalResolver(store, verifier, o.DB)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, ldap.NewConfigError(fmt.Errorf("unknown driver %q", o.Driver))
}
