// Package types holds custom Terraform attribute types used by the LDAP provider schemas.
package types

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/types/basetypes"
	"github.com/hashicorp/terraform-plugin-go/tftypes"
)

var (
	_ basetypes.StringTypable                    = DNStringType{}
	_ basetypes.StringValuable                   = DNStringValue{}
	_ basetypes.StringValuableWithSemanticEquals = DNStringValue{}
)

// DNStringType is a string type for Distinguished Names whose values compare
// by DN semantics, so `OU=People,DC=Example,DC=Com` and
// `ou=people, dc=example, dc=com` do not produce a diff.
type DNStringType struct {
	basetypes.StringType
}

func (t DNStringType) String() string {
	return "DNStringType"
}

func (t DNStringType) ValueType(ctx context.Context) attr.Value {
	return DNStringValue{}
}

func (t DNStringType) Equal(o attr.Type) bool {
	other, ok := o.(DNStringType)
	if !ok {
		return false
	}
	return t.StringType.Equal(other.StringType)
}

func (t DNStringType) ValueFromString(ctx context.Context, in basetypes.StringValue) (basetypes.StringValuable, diag.Diagnostics) {
	return DNStringValue{StringValue: in}, nil
}

func (t DNStringType) ValueFromTerraform(ctx context.Context, in tftypes.Value) (attr.Value, error) {
	attrValue, err := t.StringType.ValueFromTerraform(ctx, in)
	if err != nil {
		return nil, err
	}

	stringValue, ok := attrValue.(basetypes.StringValue)
	if !ok {
		return nil, fmt.Errorf("expected basetypes.StringValue, got: %T", attrValue)
	}

	stringValuable, diags := t.ValueFromString(ctx, stringValue)
	if diags.HasError() {
		return nil, fmt.Errorf("could not create DNStringValue: %v", diags.Errors())
	}

	return stringValuable, nil
}

// DNStringValue is a DN string value with DN-aware semantic equality.
type DNStringValue struct {
	basetypes.StringValue
}

func (v DNStringValue) Equal(o attr.Value) bool {
	other, ok := o.(DNStringValue)
	if !ok {
		return false
	}
	return v.StringValue.Equal(other.StringValue)
}

func (v DNStringValue) Type(ctx context.Context) attr.Type {
	return DNStringType{}
}

// StringSemanticEquals reports whether both values name the same entry.
// Attribute types and values are compared case-insensitively and
// insignificant whitespace is ignored.
func (v DNStringValue) StringSemanticEquals(ctx context.Context, newValuable basetypes.StringValuable) (bool, diag.Diagnostics) {
	var diags diag.Diagnostics

	newValue, ok := newValuable.(DNStringValue)
	if !ok {
		diags.AddError(
			"Semantic Equality Check Error",
			"An unexpected value type was received while attempting to perform semantic equality checks. "+
				"This is always an error in the provider. Please report the following to the provider developer:\n\n"+
				fmt.Sprintf("Expected DNStringValue, but got: %T", newValuable),
		)
		return false, diags
	}

	if v.IsNull() || v.IsUnknown() || newValue.IsNull() || newValue.IsUnknown() {
		return v.Equal(newValue), diags
	}

	return EqualDN(v.ValueString(), newValue.ValueString()), diags
}

// EqualDN compares two DNs semantically, falling back to a case-insensitive
// string comparison when either does not parse.
func EqualDN(a, b string) bool {
	parsedA, errA := ldap.ParseDN(a)
	parsedB, errB := ldap.ParseDN(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return parsedA.EqualFold(parsedB)
}

// DNString creates a known DNStringValue.
func DNString(value string) DNStringValue {
	return DNStringValue{StringValue: basetypes.NewStringValue(value)}
}

// DNStringNull creates a null DNStringValue.
func DNStringNull() DNStringValue {
	return DNStringValue{StringValue: basetypes.NewStringNull()}
}

// DNStringUnknown creates an unknown DNStringValue.
func DNStringUnknown() DNStringValue {
	return DNStringValue{StringValue: basetypes.NewStringUnknown()}
}
