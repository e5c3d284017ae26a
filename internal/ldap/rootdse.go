package ldap

import (
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// RootDSE holds the server metadata relevant to searching.
type RootDSE struct {
	SupportedControls    []string
	NamingContexts       []string
	DefaultNamingContext string
	VendorName           string
	VendorVersion        string
}

var rootDSEAttributes = []string{
	"supportedControl",
	"namingContexts",
	"defaultNamingContext",
	"vendorName",
	"vendorVersion",
}

// readRootDSE reads the root DSE over an established connection.
func readRootDSE(conn ldap.Client) (*RootDSE, error) {
	req := ldap.NewSearchRequest(
		"",
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1,
		10,
		false,
		DefaultFilter,
		rootDSEAttributes,
		nil,
	)

	result, err := conn.Search(req)
	if err != nil {
		return nil, WrapError("root_dse", "", err)
	}

	if len(result.Entries) == 0 {
		return nil, fmt.Errorf("no root DSE returned by server")
	}

	entry := result.Entries[0]
	return &RootDSE{
		SupportedControls:    entry.GetAttributeValues("supportedControl"),
		NamingContexts:       entry.GetAttributeValues("namingContexts"),
		DefaultNamingContext: entry.GetAttributeValue("defaultNamingContext"),
		VendorName:           entry.GetAttributeValue("vendorName"),
		VendorVersion:        entry.GetAttributeValue("vendorVersion"),
	}, nil
}

// Supports reports whether the server advertises control oid.
func (r *RootDSE) Supports(oid string) bool {
	if r == nil {
		return false
	}
	for _, supported := range r.SupportedControls {
		if supported == oid {
			return true
		}
	}
	return false
}
