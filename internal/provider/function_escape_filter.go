package provider

import (
	"context"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-framework/function"
)

var _ function.Function = &EscapeFilterFunction{}

func NewEscapeFilterFunction() function.Function {
	return &EscapeFilterFunction{}
}

// EscapeFilterFunction implements the escape_filter function.
type EscapeFilterFunction struct{}

func (f EscapeFilterFunction) Metadata(_ context.Context, req function.MetadataRequest, resp *function.MetadataResponse) {
	resp.Name = "escape_filter"
}

func (f EscapeFilterFunction) Definition(_ context.Context, req function.DefinitionRequest, resp *function.DefinitionResponse) {
	resp.Definition = function.Definition{
		Summary:     "Escape a value for use in an LDAP search filter",
		Description: "Escapes the characters that are special in an RFC 4515 search filter so that value matches literally.",
		MarkdownDescription: "Escapes `*`, `(`, `)`, `\\` and NUL, as well as non-ASCII bytes, so that a value can be " +
			"embedded in an RFC 4515 search filter and match literally.\n\n" +
			"Example: `\"(cn=${provider::ldap::escape_filter(var.name)})\"`",
		Parameters: []function.Parameter{
			function.StringParameter{
				Name:        "value",
				Description: "The assertion value to escape.",
			},
		},
		Return: function.StringReturn{},
	}
}

func (f EscapeFilterFunction) Run(ctx context.Context, req function.RunRequest, resp *function.RunResponse) {
	var value string

	resp.Error = function.ConcatFuncErrors(resp.Error, req.Arguments.Get(ctx, &value))
	if resp.Error != nil {
		return
	}

	resp.Error = function.ConcatFuncErrors(resp.Error, resp.Result.Set(ctx, ldap.EscapeFilter(value)))
}
