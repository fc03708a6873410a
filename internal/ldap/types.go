package ldap

import (
	"crypto/tls"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// AlternativeSeparator splits multi-valued connection settings.
const AlternativeSeparator = "|"

// Modify methods.
const (
	ModifyMethodSelf  = "self"
	ModifyMethodAdmin = "admin"
)

// Config holds directory connection settings.
//
// Host, BaseDN, BindDN and BindPassword may each carry several alternatives
// separated by "|". Only the first alternative is used when connecting.
type Config struct {
	// Connection settings
	Host    string        `mapstructure:"host"`
	BaseDN  string        `mapstructure:"basedn"`
	Version int           `mapstructure:"version" default:"3"`
	Timeout time.Duration `mapstructure:"timeout" default:"10s"`

	// Service identity
	BindDN       string `mapstructure:"dn"`
	BindPassword string `mapstructure:"password"`

	// Authentication behaviour
	OverlayDN   string `mapstructure:"overlay_dn"`
	AllowNoPass bool   `mapstructure:"allow_no_pass" default:"false"`

	// TLS settings
	StartTLS           bool        `mapstructure:"start_tls"`
	InsecureSkipVerify bool        `mapstructure:"insecure_skip_verify"`
	TLSConfig          *tls.Config `mapstructure:"-"`

	// Kerberos settings for the service identity
	KerberosRealm  string `mapstructure:"kerberos_realm"`
	KerberosKeytab string `mapstructure:"kerberos_keytab"`
	KerberosConfig string `mapstructure:"kerberos_config"`
	KerberosCCache string `mapstructure:"kerberos_ccache"`
	KerberosSPN    string `mapstructure:"kerberos_spn"`
}

// SearchConfig holds the attribute names and filter template used to find users.
type SearchConfig struct {
	IDAttr        string `mapstructure:"search_user_id"`
	UsernameAttr  string `mapstructure:"search_username"`
	MailAttr      string `mapstructure:"search_user_mail" default:"mail"`
	MailArrayAttr string `mapstructure:"search_user_mail_array" default:"mailLocalAddress"`

	// AuthQuery is a filter template; every %s receives the searched value.
	AuthQuery string `mapstructure:"search_user_query"`
}

// DefaultAuthQuery builds the auth filter template from the configured attribute names.
func (s *SearchConfig) DefaultAuthQuery() string {
	return "(|(" + s.UsernameAttr + "=%s)(" + s.MailAttr + "=%s)(" + s.MailArrayAttr + "=%s))"
}

// Identity is a base DN plus the credentials used to operate under it.
type Identity struct {
	BaseDN   string
	DN       string
	Password string
}

// ServerInfo contains information about an LDAP server.
type ServerInfo struct {
	Host   string
	Port   int
	UseTLS bool
}

// SearchResult holds the entries returned by a directory search, in server order.
type SearchResult struct {
	Entries []*ldap.Entry
}

// Len returns the number of entries.
func (r *SearchResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Entries)
}

// Conn is the live directory session used by a Handler.
//
// *ldap.Conn satisfies this interface.
type Conn interface {
	Bind(username, password string) error
	GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal, authzid string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

// Alternatives splits a multi-valued setting on "|" and trims each element.
// An empty setting yields a single empty alternative.
func Alternatives(raw string) []string {
	parts := strings.Split(raw, AlternativeSeparator)
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func first(raw string) string {
	return Alternatives(raw)[0]
}

// AuthMethod defines authentication method types for the service identity.
type AuthMethod int

const (
	AuthMethodSimpleBind AuthMethod = iota // DN/password authentication
	AuthMethodKerberos                     // GSSAPI/Kerberos authentication
)

// String returns string representation of authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	default:
		return "unknown"
	}
}

// ServiceAuthMethod determines how the service identity binds.
func (c *Config) ServiceAuthMethod() AuthMethod {
	if c.KerberosRealm != "" && (c.KerberosKeytab != "" || c.KerberosCCache != "" || c.BindDN != "") {
		return AuthMethodKerberos
	}
	return AuthMethodSimpleBind
}

// ConnectionError represents failures to reach the directory at all.
type ConnectionError struct {
	message string
	cause   error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, cause error) *ConnectionError {
	return &ConnectionError{
		message: message,
		cause:   cause,
	}
}
