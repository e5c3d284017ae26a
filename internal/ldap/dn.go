package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ValidateDN checks that dn is a syntactically valid distinguished name.
func ValidateDN(dn string) error {
	if strings.TrimSpace(dn) == "" {
		return fmt.Errorf("DN cannot be empty")
	}
	if _, err := ldap.ParseDN(dn); err != nil {
		return fmt.Errorf("invalid DN syntax: %w", err)
	}
	return nil
}

// sameDN compares two DNs case-insensitively, falling back to a folded string
// comparison when either side does not parse.
func sameDN(a, b string) bool {
	parsedA, errA := ldap.ParseDN(a)
	parsedB, errB := ldap.ParseDN(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return parsedA.EqualFold(parsedB)
}

// relativeDN returns dn with the baseDN suffix removed. It returns "" when dn
// is the base itself and dn unchanged when it is not under baseDN.
func relativeDN(dn, baseDN string) string {
	entry, err := ldap.ParseDN(dn)
	if err != nil {
		return dn
	}
	base, err := ldap.ParseDN(baseDN)
	if err != nil {
		return dn
	}

	if entry.EqualFold(base) {
		return ""
	}
	if !base.AncestorOfFold(entry) {
		return dn
	}

	rdns := make([]string, 0, len(entry.RDNs)-len(base.RDNs))
	for _, rdn := range entry.RDNs[:len(entry.RDNs)-len(base.RDNs)] {
		rdns = append(rdns, rdn.String())
	}
	return strings.Join(rdns, ",")
}
