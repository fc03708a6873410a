// Package config decodes, defaults and validates the configuration surface
// and builds directory handlers and credential providers from it.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/isometry/dirauth/internal/auth"
	"github.com/isometry/dirauth/internal/ldap"
	"github.com/isometry/dirauth/internal/store"
)

// Subsystem is the tflog subsystem used by this package.
const Subsystem = "config"

// Resolver drivers.
const (
	DriverLDAP = "ldap"
	DriverDB   = "db"
)

// Options is the complete configuration surface.
type Options struct {
	Driver string            `mapstructure:"driver" default:"ldap"`
	LDAP   LDAPOptions       `mapstructure:"ldap"`
	DB     auth.LocalOptions `mapstructure:"dbauth"`
	Store  store.Options     `mapstructure:"store"`
}

// LDAPOptions holds the directory settings. Host, basedn, dn and password may
// list alternatives separated by "|"; the first one is used.
type LDAPOptions struct {
	Host         string        `mapstructure:"host"`
	BaseDN       string        `mapstructure:"basedn"`
	BindDN       string        `mapstructure:"dn"`
	BindPassword string        `mapstructure:"password"`
	Version      int           `mapstructure:"version" default:"3"`
	Timeout      time.Duration `mapstructure:"timeout" default:"10s"`

	StartTLS           bool `mapstructure:"start_tls"`
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`

	KerberosRealm  string `mapstructure:"kerberos_realm"`
	KerberosKeytab string `mapstructure:"kerberos_keytab"`
	KerberosConfig string `mapstructure:"kerberos_config"`
	KerberosCCache string `mapstructure:"kerberos_ccache"`
	KerberosSPN    string `mapstructure:"kerberos_spn"`

	IDAttr        string `mapstructure:"search_user_id"`
	UsernameAttr  string `mapstructure:"search_username"`
	MailAttr      string `mapstructure:"search_user_mail" default:"mail"`
	MailArrayAttr string `mapstructure:"search_user_mail_array" default:"mailLocalAddress"`
	AuthQuery     string `mapstructure:"search_user_query"`
	IDPrefix      string `mapstructure:"search_user_id_prefix"`

	AllowNoPass       bool   `mapstructure:"allow_no_pass"`
	ReturnProvisional bool   `mapstructure:"return_fake_user_instance"`
	OverlayDN         string `mapstructure:"overlay_dn"`
	BindStrategy      string `mapstructure:"bind_strategy" default:"dn"`

	AddBaseDN      string `mapstructure:"add_base_dn"`
	AddDN          string `mapstructure:"add_dn"`
	AddPassword    string `mapstructure:"add_pw"`
	ModifyMethod   string `mapstructure:"modify_method" default:"self"`
	ModifyBaseDN   string `mapstructure:"modify_base_dn"`
	ModifyDN       string `mapstructure:"modify_dn"`
	ModifyPassword string `mapstructure:"modify_pw"`
}

// DirectoryConfig returns the connection settings.
func (o *LDAPOptions) DirectoryConfig() *ldap.Config {
	return &ldap.Config{
		Host:               o.Host,
		BaseDN:             o.BaseDN,
		BindDN:             o.BindDN,
		BindPassword:       o.BindPassword,
		Version:            o.Version,
		Timeout:            o.Timeout,
		OverlayDN:          o.OverlayDN,
		AllowNoPass:        o.AllowNoPass,
		StartTLS:           o.StartTLS,
		InsecureSkipVerify: o.InsecureSkipVerify,
		KerberosRealm:      o.KerberosRealm,
		KerberosKeytab:     o.KerberosKeytab,
		KerberosConfig:     o.KerberosConfig,
		KerberosCCache:     o.KerberosCCache,
		KerberosSPN:        o.KerberosSPN,
	}
}

// SearchConfig returns the search attribute names and auth filter.
func (o *LDAPOptions) SearchConfig() *ldap.SearchConfig {
	return &ldap.SearchConfig{
		IDAttr:        o.IDAttr,
		UsernameAttr:  o.UsernameAttr,
		MailAttr:      o.MailAttr,
		MailArrayAttr: o.MailArrayAttr,
		AuthQuery:     o.AuthQuery,
	}
}

// ResolverOptions returns the settings used by the directory resolver.
func (o *LDAPOptions) ResolverOptions() auth.LDAPOptions {
	return auth.LDAPOptions{
		IDPrefix:          o.IDPrefix,
		ReturnProvisional: o.ReturnProvisional,
		BindStrategy:      o.BindStrategy,
		IDAttr:            o.IDAttr,
		UsernameAttr:      o.UsernameAttr,
		MailAttr:          o.MailAttr,
	}
}

// Decode builds Options from a raw map, applies defaults and validates the result.
func Decode(raw map[string]any) (*Options, error) {
	var opts Options
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, ldap.NewConfigError(err)
	}

	if err := defaults.Set(&opts); err != nil {
		return nil, ldap.NewConfigError(fmt.Errorf("applying defaults: %w", err))
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

// LoadFile decodes a YAML configuration file.
func LoadFile(ctx context.Context, path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ldap.NewConfigError(fmt.Errorf("reading %s: %w", path, err))
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, ldap.NewConfigError(fmt.Errorf("parsing %s: %w", path, err))
	}

	opts, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Loaded configuration", map[string]any{
		"path":   path,
		"driver": opts.Driver,
	})
	return opts, nil
}

// Validate reports every problem at once.
func (o *Options) Validate() error {
	var problems []error

	switch o.Driver {
	case DriverLDAP:
		problems = append(problems, o.LDAP.validate()...)
	case DriverDB:
		if o.DB.UsernameColumn == "" {
			problems = append(problems, fmt.Errorf("dbauth.username is required"))
		}
		if o.DB.PasswordColumn == "" {
			problems = append(problems, fmt.Errorf("dbauth.password is required"))
		}
	default:
		problems = append(problems, fmt.Errorf("unknown driver %q", o.Driver))
	}

	if o.Store.Table == "" {
		problems = append(problems, fmt.Errorf("store.table is required"))
	}
	if o.Store.PrimaryKey == "" {
		problems = append(problems, fmt.Errorf("store.primary_key is required"))
	}

	return ldap.NewConfigError(problems...)
}

func (o *LDAPOptions) validate() []error {
	var problems []error
	required := []struct{ name, value string }{
		{"ldap.host", o.Host},
		{"ldap.basedn", o.BaseDN},
		{"ldap.search_user_id", o.IDAttr},
		{"ldap.search_username", o.UsernameAttr},
	}
	for _, r := range required {
		if ldap.Alternatives(r.value)[0] == "" {
			problems = append(problems, fmt.Errorf("%s is required", r.name))
		}
	}
	if o.Host != "" {
		if _, err := ldap.ParseHost(ldap.Alternatives(o.Host)[0]); err != nil {
			problems = append(problems, fmt.Errorf("ldap.host: %w", err))
		}
	}
	dns := []struct{ name, value string }{
		{"ldap.overlay_dn", o.OverlayDN},
		{"ldap.add_base_dn", o.AddBaseDN},
		{"ldap.modify_base_dn", o.ModifyBaseDN},
	}
	for _, base := range ldap.Alternatives(o.BaseDN) {
		dns = append(dns, struct{ name, value string }{"ldap.basedn", base})
	}
	for _, d := range dns {
		if d.value == "" {
			continue
		}
		if err := ldap.ValidateDN(d.value); err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", d.name, err))
		}
	}
	if o.Version != 2 && o.Version != 3 {
		problems = append(problems, fmt.Errorf("ldap.version must be 2 or 3, got %d", o.Version))
	}
	switch o.BindStrategy {
	case auth.BindStrategyDN, auth.BindStrategyUsername:
	default:
		problems = append(problems, fmt.Errorf("ldap.bind_strategy must be %q or %q, got %q", auth.BindStrategyDN, auth.BindStrategyUsername, o.BindStrategy))
	}
	return problems
}
