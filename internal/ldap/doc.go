/*
Package ldap implements paginated directory searches for the Terraform LDAP provider.

# Architecture Overview

  - Dialer and DirectorySession: connection, bind and root DSE discovery
  - Strategies: unpaged, Simple Paged Results (RFC 2696) and Virtual List View
  - SelectStrategy: picks a strategy from configuration and server capabilities
  - Searcher: walks the base DNs of a request and returns the continuation

# Pagination

Simple Paged Results follows the server cookie page by page. Virtual List View
addresses the sorted result list by offset, which lets callers jump to an
arbitrary position; the sort response must report success for every page.

A paused search is resumed from an opaque token made of the server cookie and
the index of the base DN it belongs to:

	state, err := searcher.Search(ctx, &ldap.SearchRequest{
		BaseDNs:    []string{"ou=people,dc=example,dc=com"},
		Filter:     "(objectClass=person)",
		Scope:      ldap.ScopeWholeSubtree,
		MaxEntries: 500,
	}, func(r *ldap.Result) bool {
		fmt.Println(r.DN())
		return true
	})
	if err != nil {
		return err
	}
	next := state.PagedResultsCookie() // "" when the search is complete

# Error Handling

Directory failures are returned as *LDAPError. Decoding, configuration and
cookie problems have dedicated types that match ErrProtocolDecode,
ErrConfiguration, ErrUnsupportedOperation and ErrMalformedCookie with errors.Is.
Searches are never retried; only the Dialer retries connection attempts.
*/
package ldap
