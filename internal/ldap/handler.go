package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/creasty/defaults"
	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Dialer opens a session to a directory server.
type Dialer func(ctx context.Context, server *ServerInfo, cfg *Config) (Conn, error)

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithDialer replaces the function used to open sessions.
func WithDialer(d Dialer) HandlerOption {
	return func(h *Handler) {
		h.dialer = d
	}
}

// Handler combines connection, bind and search operations against one
// directory with the authentication settings that govern them.
//
// A Handler owns a single live session whose bind identity changes between
// calls, so it must not be shared between concurrent requests.
type Handler struct {
	cfg    Config
	search SearchConfig

	add          Identity
	modify       Identity
	modifyMethod string

	dialer Dialer
	server *ServerInfo
	conn   Conn
}

// NewHandler validates the configuration, applies defaults and returns a
// Handler whose add and modify identities fall back to the service identity.
func NewHandler(cfg *Config, search *SearchConfig, opts ...HandlerOption) (*Handler, error) {
	if cfg == nil || search == nil {
		return nil, NewConfigError(errors.New("directory and search configuration are required"))
	}

	h := &Handler{
		cfg:    *cfg,
		search: *search,
		dialer: DefaultDialer,
	}

	if err := defaults.Set(&h.cfg); err != nil {
		return nil, NewConfigError(fmt.Errorf("applying directory defaults: %w", err))
	}
	if err := defaults.Set(&h.search); err != nil {
		return nil, NewConfigError(fmt.Errorf("applying search defaults: %w", err))
	}

	server, serverErr := ParseHost(first(h.cfg.Host))
	if err := NewConfigError(
		serverErr,
		validateVersion(h.cfg.Version),
		requireSetting("basedn", h.cfg.BaseDN),
		requireSetting("search_user_id", h.search.IDAttr),
		requireSetting("search_username", h.search.UsernameAttr),
	); err != nil {
		return nil, err
	}
	h.server = server

	if h.search.AuthQuery == "" {
		h.search.AuthQuery = h.search.DefaultAuthQuery()
	}

	h.setDefaultManipulationIdentities()

	for _, opt := range opts {
		opt(h)
	}

	return h, nil
}

func validateVersion(v int) error {
	if v != 2 && v != 3 {
		return fmt.Errorf("unsupported LDAP protocol version %d", v)
	}
	return nil
}

func requireSetting(name, value string) error {
	if first(value) == "" {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}

// setDefaultManipulationIdentities derives the add and modify identities from the service identity.
func (h *Handler) setDefaultManipulationIdentities() {
	h.add = Identity{
		BaseDN:   first(h.cfg.BaseDN),
		DN:       first(h.cfg.BindDN),
		Password: first(h.cfg.BindPassword),
	}
	h.modifyMethod = ModifyMethodSelf
	h.modify = h.add
}

// DefaultDialer dials with go-ldap, upgrading with StartTLS when configured.
func DefaultDialer(ctx context.Context, server *ServerInfo, cfg *Config) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewConnectionError("connection cancelled", err)
	}

	url := ServerInfoToURL(server)
	tlsConfig := cfg.tlsConfig(server.Host)

	opts := []ldap.DialOpt{ldap.DialWithDialer(&net.Dialer{Timeout: cfg.Timeout})}
	if server.UseTLS {
		opts = append(opts, ldap.DialWithTLSConfig(tlsConfig))
	}

	conn, err := ldap.DialURL(url, opts...)
	if err != nil {
		return nil, NewConnectionError(fmt.Sprintf("failed to connect to %s", url), err)
	}

	if !server.UseTLS && cfg.StartTLS {
		if err := conn.StartTLS(tlsConfig); err != nil {
			_ = conn.Close()
			return nil, NewConnectionError(fmt.Sprintf("StartTLS to %s failed", url), err)
		}
	}

	conn.SetTimeout(cfg.Timeout)
	return conn, nil
}

func (c *Config) tlsConfig(host string) *tls.Config {
	if c.TLSConfig != nil {
		return c.TLSConfig.Clone()
	}
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         host,
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // opt-in for lab directories
	}
}

// open replaces the current session with a fresh one.
func (h *Handler) open(ctx context.Context) error {
	_ = h.Close()

	if h.cfg.Version == 2 {
		tflog.SubsystemWarn(ctx, Subsystem, "LDAP protocol version 2 requested, connecting with version 3", map[string]any{
			"host": h.server.Host,
		})
	}

	conn, err := h.dialer(ctx, h.server, &h.cfg)
	if err != nil {
		LogConnectionEvent(ctx, "connection_failed", map[string]any{
			"host":  h.server.Host,
			"port":  h.server.Port,
			"error": err.Error(),
		})
		return WrapError("connect", err)
	}

	h.conn = conn
	LogConnectionEvent(ctx, "connection_established", map[string]any{
		"host": h.server.Host,
		"port": h.server.Port,
		"tls":  h.server.UseTLS || h.cfg.StartTLS,
	})
	return nil
}

// Connect opens a session and binds.
//
// With an empty username the service identity is used. Otherwise the bind DN
// is composed from the username attribute, base DN and overlay DN. An empty
// password binds as the service identity when AllowNoPass is set, and is sent
// as is otherwise, which the directory (or client) refuses.
//
// A refused bind returns false with a nil error. Connection faults are returned.
func (h *Handler) Connect(ctx context.Context, username, password string) (bool, error) {
	if err := h.open(ctx); err != nil {
		return false, err
	}

	if username == "" {
		return h.bindService(ctx)
	}

	if password == "" && h.cfg.AllowNoPass {
		tflog.SubsystemDebug(ctx, Subsystem, "Empty password allowed, binding with service identity", map[string]any{
			"username": username,
		})
		return h.bindService(ctx)
	}

	return h.Bind(ctx, h.ComposeBindDN(username), password)
}

// ConnectByDN opens a session and binds with a fully qualified DN.
func (h *Handler) ConnectByDN(ctx context.Context, dn, password string) (bool, error) {
	if err := h.open(ctx); err != nil {
		return false, err
	}

	if password == "" && h.cfg.AllowNoPass {
		return h.bindService(ctx)
	}

	return h.Bind(ctx, dn, password)
}

// Bind re-binds the open session.
func (h *Handler) Bind(ctx context.Context, dn, password string) (bool, error) {
	if h.conn == nil {
		return false, NewLDAPError("bind", NewConnectionError("not connected", nil))
	}

	err := h.conn.Bind(dn, password)
	switch {
	case err == nil:
		LogConnectionEvent(ctx, "bind_success", map[string]any{"dn": dn})
		return true, nil
	case IsBindRejection(err):
		LogConnectionEvent(ctx, "bind_rejected", map[string]any{
			"dn":               dn,
			"ldap_result_code": ResultCode(err),
		})
		return false, nil
	default:
		ldapErr := NewLDAPError("bind", err)
		ldapErr.DN = dn
		LogLDAPError(ctx, Subsystem, "bind", err, map[string]any{"dn": dn})
		return false, ldapErr
	}
}

// bindService binds with the configured service identity. Without a service
// DN the session stays anonymous.
//
// Only refused credentials count as a rejection here. A service DN the
// directory cannot parse or will not bind is a configuration fault.
func (h *Handler) bindService(ctx context.Context) (bool, error) {
	if h.cfg.ServiceAuthMethod() == AuthMethodKerberos {
		err := kerberosBind(h.conn, &h.cfg, h.server)
		if err == nil {
			LogConnectionEvent(ctx, "bind_success", map[string]any{"method": AuthMethodKerberos.String()})
			return true, nil
		}
		return h.serviceBindFailure(ctx, "gssapi_bind", "", err)
	}

	dn := first(h.cfg.BindDN)
	if dn == "" {
		tflog.SubsystemDebug(ctx, Subsystem, "No service DN configured, using anonymous session")
		return true, nil
	}

	if h.conn == nil {
		return false, NewLDAPError("bind", NewConnectionError("not connected", nil))
	}
	err := h.conn.Bind(dn, first(h.cfg.BindPassword))
	if err == nil {
		LogConnectionEvent(ctx, "bind_success", map[string]any{"dn": dn})
		return true, nil
	}
	return h.serviceBindFailure(ctx, "bind", dn, err)
}

func (h *Handler) serviceBindFailure(ctx context.Context, operation, dn string, err error) (bool, error) {
	fields := map[string]any{"service": true}
	if dn != "" {
		fields["dn"] = dn
	}

	if IsAuthenticationError(err) {
		fields["ldap_result_code"] = ResultCode(err)
		LogConnectionEvent(ctx, "bind_rejected", fields)
		return false, nil
	}

	ldapErr := NewLDAPError(operation, err)
	ldapErr.DN = dn
	LogLDAPError(ctx, Subsystem, operation, err, fields)

	switch ResultCode(err) {
	case ldap.LDAPResultUnwillingToPerform, ldap.LDAPResultInvalidDNSyntax:
		return false, NewConfigError(fmt.Errorf("service identity: %w", ldapErr))
	}
	return false, ldapErr
}

// ComposeBindDN returns usernameAttr=username,baseDN[,overlayDN].
func (h *Handler) ComposeBindDN(username string) string {
	dn := h.search.UsernameAttr + "=" + ldap.EscapeDN(username) + "," + first(h.cfg.BaseDN)
	if overlay := first(h.cfg.OverlayDN); overlay != "" {
		dn += "," + overlay
	}
	return dn
}

// Close ends the current session, if any.
func (h *Handler) Close() error {
	if h.conn == nil {
		return nil
	}
	err := h.conn.Close()
	h.conn = nil
	return err
}

// SetAddBaseDN sets the base DN for add operations, falling back to the search base DN.
func (h *Handler) SetAddBaseDN(v string) {
	h.add.BaseDN = fallback(v, first(h.cfg.BaseDN))
}

// SetAddDN sets the bind DN for add operations, falling back to the service DN.
func (h *Handler) SetAddDN(v string) {
	h.add.DN = fallback(v, first(h.cfg.BindDN))
}

// SetAddPassword sets the bind password for add operations, falling back to the service password.
func (h *Handler) SetAddPassword(v string) {
	h.add.Password = fallback(v, first(h.cfg.BindPassword))
}

// SetModifyBaseDN sets the base DN for modify operations, falling back to the add base DN.
func (h *Handler) SetModifyBaseDN(v string) {
	h.modify.BaseDN = fallback(v, h.add.BaseDN)
}

// SetModifyDN sets the bind DN for modify operations, falling back to the add DN.
func (h *Handler) SetModifyDN(v string) {
	h.modify.DN = fallback(v, h.add.DN)
}

// SetModifyPassword sets the bind password for modify operations, falling back to the add password.
func (h *Handler) SetModifyPassword(v string) {
	h.modify.Password = fallback(v, h.add.Password)
}

// SetModifyMethod accepts "admin"; anything else means "self".
func (h *Handler) SetModifyMethod(v string) {
	if v == ModifyMethodAdmin {
		h.modifyMethod = ModifyMethodAdmin
		return
	}
	h.modifyMethod = ModifyMethodSelf
}

// SetOverlayDN sets the suffix appended to composed bind DNs. Empty disables it.
func (h *Handler) SetOverlayDN(v string) {
	h.cfg.OverlayDN = v
}

// SetAllowNoPass controls whether an empty password binds as the service identity.
func (h *Handler) SetAllowNoPass(v bool) {
	h.cfg.AllowNoPass = v
}

// SetAuthQuery replaces the auth filter template. Empty keeps the current one.
func (h *Handler) SetAuthQuery(v string) {
	if v != "" {
		h.search.AuthQuery = v
	}
}

// SetVersion sets the LDAP protocol version, 2 or 3.
func (h *Handler) SetVersion(v int) error {
	if err := validateVersion(v); err != nil {
		return NewConfigError(err)
	}
	h.cfg.Version = v
	return nil
}

func fallback(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// AddBaseDN returns the base DN used for add operations.
func (h *Handler) AddBaseDN() string { return h.add.BaseDN }

// AddDN returns the bind DN used for add operations.
func (h *Handler) AddDN() string { return h.add.DN }

// AddPassword returns the bind password used for add operations.
func (h *Handler) AddPassword() string { return h.add.Password }

// ModifyBaseDN returns the base DN used for modify operations.
func (h *Handler) ModifyBaseDN() string { return h.modify.BaseDN }

// ModifyDN returns the bind DN used for modify operations.
func (h *Handler) ModifyDN() string { return h.modify.DN }

// ModifyPassword returns the bind password used for modify operations.
func (h *Handler) ModifyPassword() string { return h.modify.Password }

// ModifyMethod returns ModifyMethodSelf or ModifyMethodAdmin.
func (h *Handler) ModifyMethod() string { return h.modifyMethod }

// OverlayDN returns the suffix appended to composed bind DNs.
func (h *Handler) OverlayDN() string { return h.cfg.OverlayDN }

// AllowNoPass reports whether an empty password binds as the service identity.
func (h *Handler) AllowNoPass() bool { return h.cfg.AllowNoPass }

// AuthQuery returns the filter template used by SearchByAuth.
func (h *Handler) AuthQuery() string { return h.search.AuthQuery }

// Version returns the configured LDAP protocol version.
func (h *Handler) Version() int { return h.cfg.Version }

// BaseDN returns the first configured base DN.
func (h *Handler) BaseDN() string { return first(h.cfg.BaseDN) }

// BindDN returns the first configured service DN.
func (h *Handler) BindDN() string { return first(h.cfg.BindDN) }

// BindPassword returns the first configured service password.
func (h *Handler) BindPassword() string { return first(h.cfg.BindPassword) }

// Server returns the parsed address of the first configured host.
func (h *Handler) Server() ServerInfo { return *h.server }

// SearchConfig returns the search settings with defaults applied.
func (h *Handler) SearchConfig() SearchConfig { return h.search }

// Hosts returns every configured host alternative.
func (h *Handler) Hosts() []string { return Alternatives(h.cfg.Host) }

// BaseDNs returns every configured base DN alternative.
func (h *Handler) BaseDNs() []string { return Alternatives(h.cfg.BaseDN) }
