package provider

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/mock"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
)

// Benchmark tests for critical operations

func benchmarkEntries(count int) []*ldap.Entry {
	entries := make([]*ldap.Entry, 0, count)
	for i := range count {
		entries = append(entries, testEntry(fmt.Sprintf("uid=user%04d,%s", i, peopleDN), map[string][]string{
			"cn":          {fmt.Sprintf("User %d", i)},
			"mail":        {fmt.Sprintf("user%04d@example.com", i)},
			"objectClass": {"top", "person", "organizationalPerson", "inetOrgPerson"},
			"memberOf":    {"cn=staff,ou=groups,dc=example,dc=com", "cn=vpn,ou=groups,dc=example,dc=com"},
		}))
	}
	return entries
}

// BenchmarkEntryCollector benchmarks conversion of entries to Terraform objects.
func BenchmarkEntryCollector(b *testing.B) {
	ctx := context.Background()
	entries := benchmarkEntries(500)

	b.ReportAllocs()
	b.ResetTimer()

	for b.Loop() {
		collector := newEntryCollector(ctx)
		for _, entry := range entries {
			if !collector.collect(&ldapclient.Result{BaseDN: peopleDN, Entry: entry}) {
				b.Fatalf("collect failed: %v", collector.diags)
			}
		}
	}
}

// BenchmarkPagedSearch benchmarks a multi-page search over a mocked session.
func BenchmarkPagedSearch(b *testing.B) {
	ctx := context.Background()
	entries := benchmarkEntries(1000)

	pageSizes := []int{50, 250, 1000}
	for _, pageSize := range pageSizes {
		b.Run(fmt.Sprintf("PageSize%d", pageSize), func(b *testing.B) {
			for b.Loop() {
				b.StopTimer()
				session := newMockSession(ldapclient.ControlTypePagedResults)
				for start := 0; start < len(entries); start += pageSize {
					end := min(start+pageSize, len(entries))
					cookie := ""
					if end < len(entries) {
						cookie = fmt.Sprintf("page-%d", end)
					}
					session.On("Search", mock.Anything, mock.Anything).
						Return(pagedPage(entries[start:end], cookie, 0), nil).Once()
				}

				searcher, _, err := (&stubOpener{session: session}).OpenSearcher(ctx, subsystemLDAP)
				if err != nil {
					b.Fatalf("OpenSearcher failed: %v", err)
				}
				b.StartTimer()

				collector := newEntryCollector(ctx)
				_, err = searcher.Search(ctx, &ldapclient.SearchRequest{
					BaseDNs:  []string{peopleDN},
					PageSize: pageSize,
				}, collector.collect)
				if err != nil {
					b.Fatalf("Search failed: %v", err)
				}
				if len(collector.entries) != len(entries) {
					b.Fatalf("expected %d entries, got %d", len(entries), len(collector.entries))
				}
			}
		})
	}
}

// BenchmarkSearchID benchmarks derivation of the data source identifier.
func BenchmarkSearchID(b *testing.B) {
	req := &ldapclient.SearchRequest{
		BaseDNs:    []string{peopleDN, "ou=groups,dc=example,dc=com"},
		Filter:     "(&(objectClass=person)(mail=*))",
		Attributes: []string{"cn", "mail", "memberOf"},
		SortKeys:   []ldapclient.SortKey{{Attribute: "cn"}},
		MaxEntries: 100,
	}

	for b.Loop() {
		_ = searchID(req)
	}
}

// BenchmarkAccDirectorySearch benchmarks searches against a live directory.
func BenchmarkAccDirectorySearch(b *testing.B) {
	if !IsAccTest() {
		b.Skip("Skipping benchmark - set TF_ACC=1 to run")
	}

	config := getTestConfig()
	if config.LDAPURL == "" && config.Domain == "" {
		b.Skipf("Skipping benchmark: either %s or %s must be set", EnvTestLDAPURL, EnvTestDomain)
	}

	ctx := context.Background()
	connConfig := ldapclient.DefaultConfig()
	if config.LDAPURL != "" {
		connConfig.LDAPURLs = []string{config.LDAPURL}
	} else {
		connConfig.Domain = config.Domain
	}
	connConfig.BindDN = config.BindDN
	connConfig.Password = config.Password
	connConfig.SkipTLSVerify = config.Insecure

	dialer, err := ldapclient.NewDialer(connConfig, ldapclient.NewTFLogger(ctx, subsystemLDAP))
	if err != nil {
		b.Fatalf("Failed to create dialer: %v", err)
	}

	for _, strategy := range []ldapclient.PagingStrategy{ldapclient.PagingStrategyAuto, ldapclient.PagingStrategyNone} {
		b.Run(string(strategy), func(b *testing.B) {
			paging := ldapclient.NewPagingConfig()
			paging.Strategy = strategy
			providerData, err := ldapclient.NewProviderData(dialer, paging)
			if err != nil {
				b.Fatalf("Failed to create provider data: %v", err)
			}

			for b.Loop() {
				searcher, session, err := providerData.OpenSearcher(ctx, subsystemLDAP)
				if err != nil {
					b.Fatalf("OpenSearcher failed: %v", err)
				}

				collector := newEntryCollector(ctx)
				_, err = searcher.Search(ctx, &ldapclient.SearchRequest{
					BaseDNs:    []string{config.BaseDN},
					Attributes: []string{"1.1"},
					MaxEntries: 500,
				}, collector.collect)
				_ = session.Close()
				if err != nil {
					b.Fatalf("Search failed: %v", err)
				}
			}
		})
	}
}
