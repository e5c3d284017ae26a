package provider

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/mock"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
)

// Test environment configuration constants.
const (
	EnvTestDomain   = "LDAP_TEST_DOMAIN"
	EnvTestLDAPURL  = "LDAP_TEST_URL"
	EnvTestBindDN   = "LDAP_TEST_BIND_DN"
	EnvTestPassword = "LDAP_TEST_PASSWORD"
	EnvTestBaseDN   = "LDAP_TEST_BASE_DN"
	EnvTestInsecure = "LDAP_TEST_SKIP_TLS_VERIFY"

	DefaultTestBaseDN = "dc=example,dc=com"
)

// testConfig holds the acceptance test directory settings.
type testConfig struct {
	Domain   string
	LDAPURL  string
	BindDN   string
	Password string
	BaseDN   string
	Insecure bool
}

func getTestConfig() *testConfig {
	return &testConfig{
		Domain:   os.Getenv(EnvTestDomain),
		LDAPURL:  os.Getenv(EnvTestLDAPURL),
		BindDN:   os.Getenv(EnvTestBindDN),
		Password: os.Getenv(EnvTestPassword),
		BaseDN:   getEnvWithDefault(EnvTestBaseDN, DefaultTestBaseDN),
		Insecure: os.Getenv(EnvTestInsecure) != "",
	}
}

// IsAccTest returns true if acceptance tests should run.
func IsAccTest() bool {
	return os.Getenv("TF_ACC") != ""
}

// SkipIfNotAccTest skips the test if TF_ACC is not set.
func SkipIfNotAccTest(t *testing.T) {
	t.Helper()
	if !IsAccTest() {
		t.Skip("Skipping acceptance test - set TF_ACC=1 to run")
	}
}

// testAccPreCheck skips unless a test directory has been configured.
func testAccPreCheck(t *testing.T) *testConfig {
	t.Helper()
	SkipIfNotAccTest(t)

	config := getTestConfig()
	if config.LDAPURL == "" && config.Domain == "" {
		t.Skipf("Skipping test: either %s or %s must be set", EnvTestLDAPURL, EnvTestDomain)
	}
	if config.BindDN != "" && config.Password == "" {
		t.Skipf("Skipping test: %s must be set with %s", EnvTestPassword, EnvTestBindDN)
	}

	return config
}

// testAccProviderConfig renders the provider block for acceptance tests.
func testAccProviderConfig(config *testConfig) string {
	var b strings.Builder
	b.WriteString("provider \"ldap\" {\n")

	if config.LDAPURL != "" {
		fmt.Fprintf(&b, "  ldap_url = %q\n", config.LDAPURL)
	} else {
		fmt.Fprintf(&b, "  domain = %q\n", config.Domain)
	}

	if config.BindDN != "" {
		fmt.Fprintf(&b, "  bind_dn  = %q\n", config.BindDN)
		fmt.Fprintf(&b, "  password = %q\n", config.Password)
	}

	if config.Insecure {
		b.WriteString("  skip_tls_verify = true\n")
	}

	b.WriteString("}\n")
	return b.String()
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// MockSession is a testify mock of a directory session.
type MockSession struct {
	mock.Mock
	controls map[string]bool
	closed   bool
}

func newMockSession(oids ...string) *MockSession {
	controls := make(map[string]bool, len(oids))
	for _, oid := range oids {
		controls[oid] = true
	}
	return &MockSession{controls: controls}
}

func (m *MockSession) Search(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ldap.SearchResult), args.Error(1)
}

func (m *MockSession) SupportsControl(oid string) bool {
	return m.controls[oid]
}

func (m *MockSession) Reconnect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSession) Close() error {
	m.closed = true
	return nil
}

// stubOpener hands out searchers over a fixed session.
type stubOpener struct {
	session ldapclient.Session
	paging  *ldapclient.PagingConfig
	err     error
}

func (o *stubOpener) OpenSearcher(ctx context.Context, subsystem string) (*ldapclient.Searcher, ldapclient.Session, error) {
	if o.err != nil {
		return nil, nil, o.err
	}
	searcher, err := ldapclient.NewSearcher(o.session, o.paging, ldapclient.NewTFLogger(ctx, subsystem))
	if err != nil {
		return nil, nil, err
	}
	return searcher, o.session, nil
}

// pagedPage builds a search result page carrying a paged results response.
func pagedPage(entries []*ldap.Entry, cookie string, size uint32) *ldap.SearchResult {
	return &ldap.SearchResult{
		Entries:  entries,
		Controls: []ldap.Control{&ldap.ControlPaging{PagingSize: size, Cookie: []byte(cookie)}},
	}
}

// testEntry builds an entry with string attribute values.
func testEntry(dn string, attrs map[string][]string) *ldap.Entry {
	return ldap.NewEntry(dn, attrs)
}

// requestedPageSize decodes the paged results control of req as a server would.
func requestedPageSize(req *ldap.SearchRequest) (uint32, bool) {
	control := ldap.FindControl(req.Controls, ldap.ControlTypePaging)
	if control == nil {
		return 0, false
	}
	decoded, err := ldap.DecodeControl(ber.DecodePacket(control.Encode().Bytes()))
	if err != nil {
		return 0, false
	}
	paging, ok := decoded.(*ldap.ControlPaging)
	if !ok {
		return 0, false
	}
	return paging.PagingSize, true
}
