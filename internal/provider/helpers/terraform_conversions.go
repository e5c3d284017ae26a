// Package helpers provides conversions between Terraform framework values and
// the plain Go values used by the LDAP search engine.
package helpers

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-framework/types/basetypes"
)

// AttributeValuesType is the Terraform type of an entry's attribute map.
var AttributeValuesType = types.MapType{ElemType: types.ListType{ElemType: types.StringType}}

// ListToStrings converts a list of string-like values, including custom
// string types, to a Go slice. Null lists yield nil. Unknown lists and
// null or unknown elements are reported as errors.
func ListToStrings(ctx context.Context, list basetypes.ListValuable) ([]string, diag.Diagnostics) {
	var diags diag.Diagnostics

	value, d := list.ToListValue(ctx)
	diags.Append(d...)
	if diags.HasError() {
		return nil, diags
	}

	if value.IsNull() {
		return nil, diags
	}
	if value.IsUnknown() {
		diags.AddError("Unknown List Value", "Cannot process a list whose value is not yet known.")
		return nil, diags
	}

	result := make([]string, 0, len(value.Elements()))
	for i, elem := range value.Elements() {
		str, err := stringOf(ctx, elem)
		if err != nil {
			diags.AddError("Invalid List Element", fmt.Sprintf("Element %d: %s", i, err.Error()))
			return nil, diags
		}
		result = append(result, str)
	}

	return result, diags
}

func stringOf(ctx context.Context, value attr.Value) (string, error) {
	if value.IsNull() || value.IsUnknown() {
		return "", fmt.Errorf("value must be known and not null")
	}

	valuable, ok := value.(basetypes.StringValuable)
	if !ok {
		return "", fmt.Errorf("expected a string value, got %T", value)
	}

	str, diags := valuable.ToStringValue(ctx)
	if diags.HasError() {
		return "", fmt.Errorf("could not convert %T to a string", value)
	}
	return str.ValueString(), nil
}

// StringsToList converts a Go slice to a list of strings. A nil slice yields
// an empty list rather than null.
func StringsToList(ctx context.Context, values []string) (types.List, diag.Diagnostics) {
	if values == nil {
		values = []string{}
	}
	return types.ListValueFrom(ctx, types.StringType, values)
}

// AttributeValuesToMap converts entry attributes to a map of string lists.
func AttributeValuesToMap(ctx context.Context, attrs map[string][]string) (types.Map, diag.Diagnostics) {
	elements := make(map[string]attr.Value, len(attrs))
	var diags diag.Diagnostics

	for name, values := range attrs {
		list, d := StringsToList(ctx, values)
		diags.Append(d...)
		if d.HasError() {
			return types.MapNull(AttributeValuesType.ElemType), diags
		}
		elements[name] = list
	}

	result, d := types.MapValue(AttributeValuesType.ElemType, elements)
	diags.Append(d...)
	return result, diags
}
