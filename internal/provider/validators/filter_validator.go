package validators

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
)

var _ validator.String = filterValidator{}

// filterValidator compiles the value as an RFC 4515 search filter.
type filterValidator struct{}

func (v filterValidator) Description(_ context.Context) string {
	return "value must be a valid LDAP search filter"
}

func (v filterValidator) MarkdownDescription(_ context.Context) string {
	return "value must be a valid LDAP search filter, e.g. `(&(objectClass=person)(uid=j*))`"
}

func (v filterValidator) ValidateString(ctx context.Context, request validator.StringRequest, response *validator.StringResponse) {
	if request.ConfigValue.IsNull() || request.ConfigValue.IsUnknown() {
		return
	}

	value := request.ConfigValue.ValueString()
	if strings.TrimSpace(value) == "" {
		// An empty filter selects every entry.
		return
	}

	if _, err := ldap.CompileFilter(value); err != nil {
		response.Diagnostics.AddAttributeError(
			request.Path,
			"Invalid LDAP Filter",
			fmt.Sprintf("The value %q is not a valid LDAP search filter: %s", value, err.Error()),
		)
	}
}

// IsValidFilter returns a validator which ensures that any configured
// attribute value compiles as an LDAP search filter. Empty strings are
// accepted and mean "match everything".
func IsValidFilter() validator.String {
	return filterValidator{}
}
