package types

import (
	"context"
	"testing"

	"github.com/hashicorp/terraform-plugin-framework/types/basetypes"
	"github.com/hashicorp/terraform-plugin-go/tftypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqualDN(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want bool
	}{
		{"identical", "ou=people,dc=example,dc=com", "ou=people,dc=example,dc=com", true},
		{"case differs", "OU=People,DC=Example,DC=Com", "ou=people,dc=example,dc=com", true},
		{"spacing differs", "ou=people, dc=example, dc=com", "ou=people,dc=example,dc=com", true},
		{"different entry", "ou=groups,dc=example,dc=com", "ou=people,dc=example,dc=com", false},
		{"ancestor is not equal", "dc=example,dc=com", "ou=people,dc=example,dc=com", false},
		{"unparseable falls back to string comparison", "not a dn", "NOT A DN", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EqualDN(tt.a, tt.b))
		})
	}
}

func TestDNStringValue_StringSemanticEquals(t *testing.T) {
	ctx := context.Background()

	equal, diags := DNString("CN=Admins,DC=Example,DC=Com").StringSemanticEquals(ctx, DNString("cn=admins,dc=example,dc=com"))
	require.False(t, diags.HasError())
	assert.True(t, equal)

	equal, diags = DNStringNull().StringSemanticEquals(ctx, DNStringNull())
	require.False(t, diags.HasError())
	assert.True(t, equal)

	equal, diags = DNStringUnknown().StringSemanticEquals(ctx, DNString("dc=example,dc=com"))
	require.False(t, diags.HasError())
	assert.False(t, equal)

	_, diags = DNString("dc=example,dc=com").StringSemanticEquals(ctx, basetypes.NewStringValue("dc=example,dc=com"))
	assert.True(t, diags.HasError())
}

func TestDNStringType_ValueFromTerraform(t *testing.T) {
	ctx := context.Background()

	value, err := DNStringType{}.ValueFromTerraform(ctx, tftypes.NewValue(tftypes.String, "dc=example,dc=com"))
	require.NoError(t, err)

	dn, ok := value.(DNStringValue)
	require.True(t, ok)
	assert.Equal(t, "dc=example,dc=com", dn.ValueString())
	assert.True(t, dn.Type(ctx).Equal(DNStringType{}))

	value, err = DNStringType{}.ValueFromTerraform(ctx, tftypes.NewValue(tftypes.String, nil))
	require.NoError(t, err)
	assert.True(t, value.IsNull())
}

func TestDNStringValue_Equal(t *testing.T) {
	assert.True(t, DNString("dc=example,dc=com").Equal(DNString("dc=example,dc=com")))
	assert.False(t, DNString("DC=example,DC=com").Equal(DNString("dc=example,dc=com")))
	assert.False(t, DNString("dc=example,dc=com").Equal(basetypes.NewStringValue("dc=example,dc=com")))
}
