package ldap

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// ServerInfo describes one directory server endpoint.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool // ldaps:// rather than ldap://
	Priority int
	Weight   int
	Source   string // "srv", "config", "fallback"
}

// URL renders the server as an LDAP URL.
func (s *ServerInfo) URL() string {
	scheme := "ldap"
	if s.UseTLS {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(s.Host, strconv.Itoa(s.Port)))
}

// srvResolver is the subset of net.Resolver used for discovery.
type srvResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// SRVDiscovery locates directory servers for a DNS domain.
type SRVDiscovery struct {
	logger   Logger
	resolver srvResolver
}

// NewSRVDiscovery creates a new SRV discovery instance.
func NewSRVDiscovery(logger Logger) *SRVDiscovery {
	return &SRVDiscovery{
		logger:   logger,
		resolver: net.DefaultResolver,
	}
}

// DiscoverServers returns servers for domain, preferring _ldaps._tcp records
// over _ldap._tcp, and falling back to the domain name itself on the
// standard ports when no records exist.
func (d *SRVDiscovery) DiscoverServers(ctx context.Context, domain string) ([]*ServerInfo, error) {
	if domain == "" {
		return nil, fmt.Errorf("domain cannot be empty")
	}

	services := []struct {
		name   string
		useTLS bool
	}{
		{"ldaps", true},
		{"ldap", false},
	}

	var servers []*ServerInfo
	for _, service := range services {
		_, records, err := d.resolver.LookupSRV(ctx, service.name, "tcp", domain)
		if err != nil || len(records) == 0 {
			d.logger.Debug("SRV lookup returned no servers", map[string]any{
				"service": service.name,
				"domain":  domain,
			})
			continue
		}

		for _, srv := range records {
			servers = append(servers, &ServerInfo{
				Host:     strings.TrimSuffix(srv.Target, "."),
				Port:     int(srv.Port),
				UseTLS:   service.useTLS,
				Priority: int(srv.Priority),
				Weight:   int(srv.Weight),
				Source:   "srv",
			})
		}

		// LDAPS records win outright.
		if service.useTLS {
			break
		}
	}

	if len(servers) == 0 {
		d.logger.Debug("No SRV records found, using fallback servers", map[string]any{
			"domain": domain,
		})
		return []*ServerInfo{
			{Host: domain, Port: 636, UseTLS: true, Priority: 0, Weight: 100, Source: "fallback"},
			{Host: domain, Port: 389, UseTLS: false, Priority: 1, Weight: 100, Source: "fallback"},
		}, nil
	}

	sortServersByPriority(servers)

	d.logger.Debug("Server discovery completed", map[string]any{
		"domain":       domain,
		"server_count": len(servers),
	})

	return servers, nil
}

// sortServersByPriority orders servers by ascending priority, then descending weight (RFC 2782).
func sortServersByPriority(servers []*ServerInfo) {
	sort.SliceStable(servers, func(i, j int) bool {
		if servers[i].Priority != servers[j].Priority {
			return servers[i].Priority < servers[j].Priority
		}
		return servers[i].Weight > servers[j].Weight
	})
}

// ParseLDAPURL parses an ldap:// or ldaps:// URL into ServerInfo.
func ParseLDAPURL(raw string) (*ServerInfo, error) {
	if raw == "" {
		return nil, fmt.Errorf("URL cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid LDAP URL %q: %w", raw, err)
	}

	server := &ServerInfo{Weight: 100, Source: "config"}

	switch strings.ToLower(u.Scheme) {
	case "ldaps":
		server.UseTLS = true
		server.Port = 636
	case "ldap":
		server.Port = 389
	default:
		return nil, fmt.Errorf("unsupported scheme %q, must be ldap:// or ldaps://", u.Scheme)
	}

	server.Host = u.Hostname()
	if server.Host == "" {
		return nil, fmt.Errorf("no hostname found in URL: %s", raw)
	}

	if port := u.Port(); port != "" {
		server.Port, err = strconv.Atoi(port)
		if err != nil || server.Port <= 0 || server.Port > 65535 {
			return nil, fmt.Errorf("invalid port number: %s", port)
		}
	}

	return server, nil
}
