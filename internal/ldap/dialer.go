package ldap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-ldap/ldap/v3"
)

// Dialer opens bound directory sessions from a ConnectionConfig.
type Dialer struct {
	config    *ConnectionConfig
	logger    Logger
	discovery *SRVDiscovery
}

// NewDialer validates config and returns a Dialer.
func NewDialer(config *ConnectionConfig, logger Logger) (*Dialer, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Dialer{
		config:    config,
		logger:    logger,
		discovery: NewSRVDiscovery(logger),
	}, nil
}

func validateConfig(config *ConnectionConfig) error {
	if config.Domain == "" && len(config.LDAPURLs) == 0 {
		return &ConfigurationError{Setting: "ldap_url", Message: "either domain or LDAP URLs must be specified"}
	}

	if config.MaxRetries < 0 {
		return &ConfigurationError{Setting: "max_retries", Message: "must not be negative"}
	}

	if config.Timeout <= 0 {
		return &ConfigurationError{Setting: "connect_timeout", Message: "must be greater than zero"}
	}

	if (config.TLSClientCertFile == "") != (config.TLSClientKeyFile == "") {
		return &ConfigurationError{Setting: "tls_client_cert_file", Message: "client certificate and key must be set together"}
	}

	return nil
}

// AuthMethod returns the authentication method the dialer will use.
func (d *Dialer) AuthMethod() AuthMethod {
	return d.config.GetAuthMethod()
}

// Open dials, binds and reads the root DSE, returning a ready session.
func (d *Dialer) Open(ctx context.Context) (*DirectorySession, error) {
	conn, server, rootDSE, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}

	return &DirectorySession{
		dialer:  d,
		conn:    conn,
		server:  server,
		rootDSE: rootDSE,
	}, nil
}

func (d *Dialer) servers(ctx context.Context) ([]*ServerInfo, error) {
	if len(d.config.LDAPURLs) > 0 {
		servers := make([]*ServerInfo, 0, len(d.config.LDAPURLs))
		for _, raw := range d.config.LDAPURLs {
			server, err := ParseLDAPURL(raw)
			if err != nil {
				return nil, &ConfigurationError{Setting: "ldap_url", Message: err.Error()}
			}
			servers = append(servers, server)
		}
		return servers, nil
	}

	discoveryCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	return d.discovery.DiscoverServers(discoveryCtx, d.config.Domain)
}

func (d *Dialer) newBackOff(ctx context.Context) backoff.BackOff {
	exponential := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(d.config.InitialBackoff),
		backoff.WithMaxInterval(d.config.MaxBackoff),
		backoff.WithMultiplier(d.config.BackoffFactor),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(exponential, uint64(d.config.MaxRetries)), ctx)
}

// connect tries every server in order, retrying the whole list with
// exponential backoff until one dials and binds.
func (d *Dialer) connect(ctx context.Context) (*ldap.Conn, *ServerInfo, *RootDSE, error) {
	servers, err := d.servers(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	tlsConfig, err := d.tlsConfig()
	if err != nil {
		return nil, nil, nil, &ConfigurationError{Setting: "tls", Message: err.Error()}
	}

	d.logger.Debug("Opening directory session", SanitizeFields(map[string]any{
		"servers":     len(servers),
		"bind_dn":     d.config.BindDN,
		"password":    d.config.Password,
		"auth_method": d.config.GetAuthMethod().String(),
		"use_tls":     d.config.UseTLS,
		"max_retries": d.config.MaxRetries,
	}))

	var (
		conn    *ldap.Conn
		server  *ServerInfo
		rootDSE *RootDSE
		attempt int
	)

	operation := func() error {
		attempt++
		var lastErr error
		for _, candidate := range servers {
			c, err := d.dialServer(candidate, tlsConfig)
			if err != nil {
				lastErr = err
				continue
			}

			if err := d.bind(c, candidate); err != nil {
				_ = c.Close()
				LogConnectionEvent(ctx, "authentication_failed", map[string]any{
					"server":      candidate.URL(),
					"auth_method": d.config.GetAuthMethod().String(),
					"error":       err.Error(),
				})
				if !IsRetryableError(err) {
					return backoff.Permanent(NewConnectionError("bind failed", false, err))
				}
				lastErr = err
				continue
			}

			var dse *RootDSE
			err = LogOperation(ctx, "ldap", "root_dse", map[string]any{"server": candidate.URL()}, func() error {
				var readErr error
				dse, readErr = readRootDSE(c)
				return readErr
			})
			if err != nil {
				_ = c.Close()
				lastErr = err
				continue
			}

			conn, server, rootDSE = c, candidate, dse
			return nil
		}
		return NewConnectionError("no directory server reachable", true, lastErr)
	}

	notify := func(err error, next time.Duration) {
		d.logger.Warn("Directory connection attempt failed, retrying", map[string]any{
			"attempt":  attempt,
			"error":    err.Error(),
			"retry_in": next.String(),
		})
	}

	if err := backoff.RetryNotify(operation, d.newBackOff(ctx), notify); err != nil {
		LogConnectionEvent(ctx, "connection_failed", map[string]any{
			"attempts": attempt,
			"error":    err.Error(),
		})
		return nil, nil, nil, err
	}

	LogConnectionEvent(ctx, "connection_established", map[string]any{
		"server":      server.URL(),
		"source":      server.Source,
		"auth_method": d.config.GetAuthMethod().String(),
		"attempts":    attempt,
	})

	return conn, server, rootDSE, nil
}

func (d *Dialer) dialServer(server *ServerInfo, tlsConfig *tls.Config) (*ldap.Conn, error) {
	serverTLS := tlsConfig.Clone()
	if serverTLS.ServerName == "" {
		serverTLS.ServerName = server.Host
	}

	var (
		conn *ldap.Conn
		err  error
	)

	if server.UseTLS {
		conn, err = ldap.DialURL(server.URL(), ldap.DialWithTLSConfig(serverTLS))
	} else {
		conn, err = ldap.DialURL(server.URL())
		if err == nil && d.config.UseTLS {
			if err = conn.StartTLS(serverTLS); err != nil {
				_ = conn.Close()
			}
		}
	}

	if err != nil {
		return nil, NewConnectionError(fmt.Sprintf("failed to connect to %s", server.URL()), true, err)
	}

	conn.SetTimeout(d.config.Timeout)
	return conn, nil
}

func (d *Dialer) bind(conn *ldap.Conn, server *ServerInfo) error {
	switch method := d.config.GetAuthMethod(); method {
	case AuthMethodAnonymous:
		return nil
	case AuthMethodSimpleBind:
		if d.config.Password == "" {
			return conn.UnauthenticatedBind(d.config.BindDN)
		}
		return conn.Bind(d.config.BindDN, d.config.Password)
	case AuthMethodKerberos:
		return kerberosBind(conn, d.config, server)
	case AuthMethodExternal:
		return conn.ExternalBind()
	default:
		return fmt.Errorf("unsupported authentication method: %s", method.String())
	}
}

func (d *Dialer) tlsConfig() (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if d.config.TLSConfig != nil {
		cfg = d.config.TLSConfig.Clone()
	}

	if d.config.SkipTLSVerify {
		cfg.InsecureSkipVerify = true
	}

	if d.config.TLSCACertFile != "" {
		pem, err := os.ReadFile(d.config.TLSCACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("no certificates found in CA certificate file")
		}
		cfg.RootCAs = pool
	}

	if d.config.TLSClientCertFile != "" {
		cert, err := tls.LoadX509KeyPair(d.config.TLSClientCertFile, d.config.TLSClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}
