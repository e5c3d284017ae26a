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

// kerberosBind performs a SASL GSSAPI bind on conn.
func kerberosBind(conn *ldap.Conn, cfg *ConnectionConfig, server *ServerInfo) error {
	principal, realm, err := kerberosPrincipal(cfg)
	if err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	client, err := newGSSAPIClient(cfg, principal, realm)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = client.DeleteSecContext()
	}()

	spn, err := servicePrincipal(cfg, server)
	if err != nil {
		return err
	}

	if err := conn.GSSAPIBind(client, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}

	return nil
}

// kerberosPrincipal splits user@REALM when no realm is configured.
func kerberosPrincipal(cfg *ConnectionConfig) (string, string, error) {
	principal, realm := cfg.BindDN, cfg.KerberosRealm

	if realm == "" {
		if user, r, ok := strings.Cut(principal, "@"); ok {
			principal, realm = user, r
		}
	}

	if realm == "" {
		return "", "", fmt.Errorf("kerberos realm is required (set kerberos_realm or include realm in bind_dn)")
	}

	return principal, realm, nil
}

// newGSSAPIClient creates a GSSAPI client.
// Priority order: credential cache, keytab, password.
func newGSSAPIClient(cfg *ConnectionConfig, principal, realm string) (ldap.GSSAPIClient, error) {
	krb5conf := cfg.KerberosConfig
	switch {
	case krb5conf != "":
		if !fileExists(krb5conf) {
			return nil, fmt.Errorf("kerberos configuration file not found at %s, set kerberos_config", krb5conf)
		}
	case fileExists(defaultKrb5Conf):
		krb5conf = defaultKrb5Conf
	default:
		generated, err := writeRuntimeKrb5Conf(realm, cfg.Domain)
		if err != nil {
			return nil, err
		}
		defer os.Remove(generated)
		krb5conf = generated
	}

	ccache := cfg.KerberosCCache
	if ccache == "" {
		ccache = defaultCCachePath()
	}
	if fileExists(ccache) {
		return gssapi.NewClientFromCCache(ccache, krb5conf, krb5client.DisablePAFXFAST(true))
	}

	if principal == "" {
		return nil, fmt.Errorf("principal is required when no credential cache is available")
	}

	if cfg.KerberosKeytab != "" && fileExists(cfg.KerberosKeytab) {
		return gssapi.NewClientWithKeytab(principal, realm, cfg.KerberosKeytab, krb5conf, krb5client.DisablePAFXFAST(true))
	}

	if cfg.Password != "" {
		return gssapi.NewClientWithPassword(principal, realm, cfg.Password, krb5conf, krb5client.DisablePAFXFAST(true))
	}

	return nil, fmt.Errorf("no suitable Kerberos credentials found: provide kerberos_ccache, kerberos_keytab or password")
}

// runtimeKrb5Conf renders a minimal krb5.conf that locates KDCs through DNS
// SRV records.
func runtimeKrb5Conf(realm, domain string) string {
	realm = strings.ToUpper(realm)
	if domain == "" {
		domain = realm
	}
	domain = strings.ToLower(domain)

	return fmt.Sprintf(`[libdefaults]
    default_realm = %[1]s
    dns_lookup_kdc = true
    dns_lookup_realm = false
    rdns = false
    forwardable = true

[realms]
    %[1]s = {
    }

[domain_realm]
    .%[2]s = %[1]s
    %[2]s = %[1]s
`, realm, domain)
}

// writeRuntimeKrb5Conf writes runtimeKrb5Conf to a temporary file and
// returns its path. The caller removes it.
func writeRuntimeKrb5Conf(realm, domain string) (string, error) {
	f, err := os.CreateTemp("", "krb5-*.conf")
	if err != nil {
		return "", fmt.Errorf("failed to create runtime kerberos configuration: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(runtimeKrb5Conf(realm, domain)); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write runtime kerberos configuration: %w", err)
	}

	return f.Name(), nil
}

// servicePrincipal returns the configured SPN or ldap/<host>.
func servicePrincipal(cfg *ConnectionConfig, server *ServerInfo) (string, error) {
	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}

	if server == nil || server.Host == "" {
		return "", fmt.Errorf("hostname is required for service principal")
	}

	return "ldap/" + server.Host, nil
}

func defaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
