package ldap

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// kerberosBind binds the service identity with GSSAPI.
func kerberosBind(conn Conn, cfg *Config, server *ServerInfo) error {
	client, err := newGSSAPIClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = client.DeleteSecContext()
	}()

	spn, err := servicePrincipal(cfg, server)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	return conn.GSSAPIBind(client, spn, "")
}

// newGSSAPIClient picks credentials in order: credential cache, keytab, password.
func newGSSAPIClient(cfg *Config) (*gssapi.Client, error) {
	krb5conf := cfg.KerberosConfig
	if krb5conf == "" {
		krb5conf = defaultKrb5Conf
	}
	if !fileExists(krb5conf) {
		return nil, fmt.Errorf("kerberos configuration file not found at %s", krb5conf)
	}

	principal, realm := splitPrincipal(first(cfg.BindDN), cfg.KerberosRealm)

	switch {
	case cfg.KerberosCCache != "" && fileExists(cfg.KerberosCCache):
		return gssapi.NewClientFromCCache(cfg.KerberosCCache, krb5conf, krb5client.DisablePAFXFAST(true))
	case cfg.KerberosKeytab != "" && fileExists(cfg.KerberosKeytab):
		if principal == "" {
			return nil, fmt.Errorf("a principal is required to use keytab %s", cfg.KerberosKeytab)
		}
		return gssapi.NewClientWithKeytab(principal, realm, cfg.KerberosKeytab, krb5conf, krb5client.DisablePAFXFAST(true))
	case principal != "" && first(cfg.BindPassword) != "":
		return gssapi.NewClientWithPassword(principal, realm, first(cfg.BindPassword), krb5conf, krb5client.DisablePAFXFAST(true))
	}

	return nil, fmt.Errorf("no suitable credentials found for Kerberos authentication")
}

// splitPrincipal accepts "user@REALM" or a bare principal with a separate realm.
func splitPrincipal(principal, realm string) (string, string) {
	if name, r, ok := strings.Cut(principal, "@"); ok && realm == "" {
		return name, r
	} else if ok {
		return name, realm
	}
	return principal, realm
}

// servicePrincipal returns the configured SPN or ldap/<host>.
func servicePrincipal(cfg *Config, server *ServerInfo) (string, error) {
	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}
	if server == nil || server.Host == "" {
		return "", fmt.Errorf("hostname is required for service principal")
	}
	return "ldap/" + server.Host, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

var _ ldap.GSSAPIClient = (*gssapi.Client)(nil)
