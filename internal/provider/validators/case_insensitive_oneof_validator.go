package validators

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
)

// Ensure the implementation satisfies the expected interface.
var _ validator.String = caseInsensitiveOneOfValidator{}

// caseInsensitiveOneOfValidator validates that a string matches one of the allowed values,
// ignoring case and surrounding whitespace.
type caseInsensitiveOneOfValidator struct {
	validValues []string
}

func (v caseInsensitiveOneOfValidator) Description(_ context.Context) string {
	return fmt.Sprintf("value must be one of: %s (case-insensitive)", strings.Join(v.validValues, ", "))
}

func (v caseInsensitiveOneOfValidator) MarkdownDescription(_ context.Context) string {
	quoted := make([]string, len(v.validValues))
	for i, value := range v.validValues {
		quoted[i] = "`" + value + "`"
	}
	return fmt.Sprintf("value must be one of: %s (case-insensitive)", strings.Join(quoted, ", "))
}

func (v caseInsensitiveOneOfValidator) ValidateString(ctx context.Context, request validator.StringRequest, response *validator.StringResponse) {
	if request.ConfigValue.IsNull() || request.ConfigValue.IsUnknown() {
		return
	}

	value := request.ConfigValue.ValueString()
	if _, ok := Canonical(value, v.validValues...); ok {
		return
	}

	response.Diagnostics.AddAttributeError(
		request.Path,
		"Invalid Value",
		fmt.Sprintf(
			"The value %q is not valid. Must be one of: %s (case-insensitive)",
			value,
			strings.Join(v.validValues, ", "),
		),
	)
}

// Canonical returns the allowed value matching value case-insensitively.
func Canonical(value string, allowed ...string) (string, bool) {
	normalized := strings.TrimSpace(value)
	for _, candidate := range allowed {
		if strings.EqualFold(normalized, candidate) {
			return candidate, true
		}
	}
	return "", false
}

// CaseInsensitiveOneOf returns a validator which ensures that any configured
// attribute value matches one of the provided values, ignoring case differences.
// Used for enumerations such as search scopes and paging strategies, where
// `SUBTREE` and `subtree` mean the same thing.
//
// Unknown values and null values are skipped from validation.
func CaseInsensitiveOneOf(values ...string) validator.String {
	return caseInsensitiveOneOfValidator{
		validValues: values,
	}
}
