package provider

import (
	"context"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-framework/function"
)

var _ function.Function = &EscapeDNFunction{}

func NewEscapeDNFunction() function.Function {
	return &EscapeDNFunction{}
}

// EscapeDNFunction implements the escape_dn function.
type EscapeDNFunction struct{}

func (f EscapeDNFunction) Metadata(_ context.Context, req function.MetadataRequest, resp *function.MetadataResponse) {
	resp.Name = "escape_dn"
}

func (f EscapeDNFunction) Definition(_ context.Context, req function.DefinitionRequest, resp *function.DefinitionResponse) {
	resp.Definition = function.Definition{
		Summary:     "Escape a value for use as an RDN attribute value",
		Description: "Escapes the characters that are special in an RFC 4514 distinguished name.",
		MarkdownDescription: "Escapes `,`, `+`, `\"`, `\\`, `<`, `>` and `;`, a leading `#` and leading or trailing spaces, " +
			"so that a value can be used as an attribute value in a distinguished name.\n\n" +
			"Example: `\"cn=${provider::ldap::escape_dn(var.name)},ou=people,dc=example,dc=com\"`",
		Parameters: []function.Parameter{
			function.StringParameter{
				Name:        "value",
				Description: "The attribute value to escape.",
			},
		},
		Return: function.StringReturn{},
	}
}

func (f EscapeDNFunction) Run(ctx context.Context, req function.RunRequest, resp *function.RunResponse) {
	var value string

	resp.Error = function.ConcatFuncErrors(resp.Error, req.Arguments.Get(ctx, &value))
	if resp.Error != nil {
		return
	}

	resp.Error = function.ConcatFuncErrors(resp.Error, resp.Result.Set(ctx, ldap.EscapeDN(value)))
}
