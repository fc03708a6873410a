package ldap

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Default LDAP ports.
const (
	DefaultLDAPPort  = 389
	DefaultLDAPSPort = 636
)

// ParseHost parses a configured host into ServerInfo.
//
// Accepted forms are "host", "host:port", "ldap://host[:port]" and
// "ldaps://host[:port]". Anything after the authority is ignored.
func ParseHost(raw string) (*ServerInfo, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("host cannot be empty")
	}

	useTLS := false
	switch {
	case strings.HasPrefix(strings.ToLower(raw), "ldaps://"):
		useTLS = true
		raw = raw[len("ldaps://"):]
	case strings.HasPrefix(strings.ToLower(raw), "ldap://"):
		raw = raw[len("ldap://"):]
	case strings.Contains(raw, "://"):
		return nil, fmt.Errorf("unsupported scheme in %q, must be ldap:// or ldaps://", raw)
	}

	if i := strings.IndexByte(raw, '/'); i >= 0 {
		raw = raw[:i]
	}

	port := DefaultLDAPPort
	if useTLS {
		port = DefaultLDAPSPort
	}

	host := raw
	if h, p, err := net.SplitHostPort(raw); err == nil {
		host = h
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port number: %s", p)
		}
	}

	server := &ServerInfo{
		Host:   host,
		Port:   port,
		UseTLS: useTLS,
	}

	return server, ValidateServerInfo(server)
}

// ValidateServerInfo validates server information.
func ValidateServerInfo(server *ServerInfo) error {
	if server == nil {
		return fmt.Errorf("server info cannot be nil")
	}

	if server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if server.Port <= 0 || server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", server.Port)
	}

	return nil
}

// ServerInfoToURL converts ServerInfo to LDAP URL.
func ServerInfoToURL(server *ServerInfo) string {
	scheme := "ldap"
	if server.UseTLS {
		scheme = "ldaps"
	}

	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(server.Host, strconv.Itoa(server.Port)))
}
