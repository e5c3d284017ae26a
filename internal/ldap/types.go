package ldap

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-ldap/ldap/v3"
)

// ConnectionConfig holds configuration for directory sessions.
type ConnectionConfig struct {
	// Connection settings
	Domain   string        // Domain for SRV discovery
	LDAPURLs []string      // Direct LDAP URLs (overrides domain)
	Timeout  time.Duration // Connection and request timeout

	// Authentication settings
	BindDN         string // Bind DN or principal used for authentication
	Password       string // Password for simple bind authentication
	KerberosRealm  string // Kerberos realm for GSSAPI authentication
	KerberosKeytab string // Path to Kerberos keytab file
	KerberosConfig string // Path to Kerberos config file (krb5.conf)
	KerberosCCache string // Path to Kerberos credential cache
	KerberosSPN    string // Explicit service principal name

	// TLS settings
	TLSConfig         *tls.Config // Custom TLS configuration
	UseTLS            bool        // Upgrade plain connections with StartTLS
	SkipTLSVerify     bool        // Skip certificate verification (not recommended)
	TLSCACertFile     string      // Path to CA certificate file
	TLSClientCertFile string      // Path to client certificate file
	TLSClientKeyFile  string      // Path to client private key file

	// Retry settings
	MaxRetries     int           // Maximum dial attempts after the first
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	BackoffFactor  float64       // Backoff multiplication factor
}

// DefaultConfig returns a secure default configuration.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Timeout:        30 * time.Second,
		UseTLS:         true,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// AuthMethod defines authentication method types.
type AuthMethod int

const (
	AuthMethodAnonymous  AuthMethod = iota // No credentials
	AuthMethodSimpleBind                   // DN/password authentication
	AuthMethodKerberos                     // GSSAPI/Kerberos authentication
	AuthMethodExternal                     // SASL EXTERNAL with a client certificate
)

// String returns string representation of authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodAnonymous:
		return "anonymous"
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	case AuthMethodExternal:
		return "external"
	default:
		return "unknown"
	}
}

// GetAuthMethod determines the authentication method from the configuration.
func (c *ConnectionConfig) GetAuthMethod() AuthMethod {
	// Kerberos authentication takes precedence
	if c.KerberosRealm != "" && (c.KerberosKeytab != "" || c.KerberosCCache != "" || c.BindDN != "") {
		return AuthMethodKerberos
	}

	if c.BindDN != "" {
		return AuthMethodSimpleBind
	}

	if c.TLSClientCertFile != "" && c.TLSClientKeyFile != "" {
		return AuthMethodExternal
	}

	return AuthMethodAnonymous
}

// SearchScope defines LDAP search scope.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

// String returns the Terraform-facing name of the scope.
func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "onelevel"
	case ScopeWholeSubtree:
		return "subtree"
	default:
		return "unknown"
	}
}

// ParseSearchScope converts a scope name into a SearchScope.
func ParseSearchScope(s string) (SearchScope, error) {
	switch strings.ToLower(s) {
	case "base", "object":
		return ScopeBaseObject, nil
	case "onelevel", "one", "single":
		return ScopeSingleLevel, nil
	case "subtree", "sub", "":
		return ScopeWholeSubtree, nil
	default:
		return ScopeWholeSubtree, fmt.Errorf("invalid search scope %q", s)
	}
}

// DerefAliases defines alias dereferencing behavior.
type DerefAliases int

const (
	NeverDerefAliases DerefAliases = iota
	DerefInSearching
	DerefFindingBaseObj
	DerefAlways
)

// PagingStrategy names a pagination mechanism.
type PagingStrategy string

const (
	PagingStrategyNone        PagingStrategy = "none"
	PagingStrategySimplePaged PagingStrategy = "simple_paged"
	PagingStrategyVLV         PagingStrategy = "vlv"
	PagingStrategyAuto        PagingStrategy = "auto"
)

// PagingStrategies lists every accepted strategy name.
func PagingStrategies() []string {
	return []string{
		string(PagingStrategyNone),
		string(PagingStrategySimplePaged),
		string(PagingStrategyVLV),
		string(PagingStrategyAuto),
	}
}

// PagingConfig controls strategy selection and page sizing.
type PagingConfig struct {
	Strategy            PagingStrategy `default:"auto"`
	PageSize            int            `default:"1000"`
	VLVBlockSize        int            `default:"100"`
	VLVSortAttribute    string         `default:"uid"`
	VLVSortOrderingRule string
}

// NewPagingConfig returns a PagingConfig populated with defaults.
func NewPagingConfig() *PagingConfig {
	cfg := &PagingConfig{}
	if err := defaults.Set(cfg); err != nil {
		// Only reachable with malformed struct tags.
		panic(err)
	}
	return cfg
}

// Validate checks the paging configuration.
func (c *PagingConfig) Validate() error {
	switch c.Strategy {
	case PagingStrategyNone, PagingStrategySimplePaged, PagingStrategyVLV, PagingStrategyAuto:
	default:
		return &ConfigurationError{
			Setting: "paging_strategy",
			Message: fmt.Sprintf("unknown strategy %q, must be one of %s", c.Strategy, strings.Join(PagingStrategies(), ", ")),
		}
	}

	if c.PageSize <= 0 {
		return &ConfigurationError{Setting: "page_size", Message: "must be greater than zero"}
	}

	if c.VLVBlockSize <= 0 {
		return &ConfigurationError{Setting: "vlv_block_size", Message: "must be greater than zero"}
	}

	if c.VLVSortAttribute == "" {
		return &ConfigurationError{Setting: "vlv_sort_attribute", Message: "must not be empty"}
	}

	return nil
}

// SortKey is a single server-side sort key.
type SortKey struct {
	Attribute    string
	OrderingRule string
	Reverse      bool
}

// SearchRequest describes one paginated search over one or more base DNs.
type SearchRequest struct {
	BaseDNs      []string
	Filter       string
	Attributes   []string
	Scope        SearchScope
	DerefAliases DerefAliases
	SortKeys     []SortKey

	// PageSize is the per-page size requested from the server; 0 uses the configured default.
	PageSize int
	// MaxEntries is the entry budget for this call; 0 means unbounded.
	MaxEntries int
	// Offset is the 1-based VLV target; 0 means no offset.
	Offset int
	// Cookie is a continuation token returned by a previous call.
	Cookie string

	AllowPartialResults bool
}

// DefaultFilter matches every entry.
const DefaultFilter = "(objectClass=*)"

// normalize fills defaults and checks request-level constraints.
func (r *SearchRequest) normalize() error {
	if len(r.BaseDNs) == 0 {
		return &ConfigurationError{Setting: "base_dns", Message: "at least one base DN is required"}
	}

	for _, baseDN := range r.BaseDNs {
		if strings.TrimSpace(baseDN) == "" {
			return &ConfigurationError{Setting: "base_dns", Message: "base DN must not be empty"}
		}
	}

	if strings.TrimSpace(r.Filter) == "" {
		r.Filter = DefaultFilter
	}

	if r.PageSize < 0 {
		return &ConfigurationError{Setting: "page_size", Message: "must not be negative"}
	}

	if r.MaxEntries < 0 {
		return &ConfigurationError{Setting: "max_entries", Message: "must not be negative"}
	}

	if r.Offset < 0 {
		return &ConfigurationError{Setting: "offset", Message: "must not be negative"}
	}

	return nil
}

func (r *SearchRequest) toLDAP(baseDN string, controls []ldap.Control) *ldap.SearchRequest {
	return ldap.NewSearchRequest(
		baseDN,
		int(r.Scope),
		int(r.DerefAliases),
		0, // unbounded
		0, // unbounded
		false,
		r.Filter,
		r.Attributes,
		controls,
	)
}

// Capabilities are the server controls relevant to pagination.
type Capabilities struct {
	SimplePagedResults bool
	VirtualListView    bool
	ServerSideSort     bool
}

// AllowedStrategies lists the strategies usable against a server with these capabilities.
func (c Capabilities) AllowedStrategies() []string {
	allowed := []string{string(PagingStrategyNone)}
	if c.SimplePagedResults {
		allowed = append(allowed, string(PagingStrategySimplePaged))
	}
	if c.VirtualListView {
		allowed = append(allowed, string(PagingStrategyVLV))
	}
	return allowed
}
