package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
	"github.com/isometry/terraform-provider-ldap/internal/provider/helpers"
)

// Ensure provider defined types fully satisfy framework interfaces.
var _ datasource.DataSource = &ServerCapabilitiesDataSource{}
var _ datasource.DataSourceWithConfigure = &ServerCapabilitiesDataSource{}

func NewServerCapabilitiesDataSource() datasource.DataSource {
	return &ServerCapabilitiesDataSource{}
}

// ServerCapabilitiesDataSource defines the data source implementation.
type ServerCapabilitiesDataSource struct {
	dialer *ldapclient.Dialer
}

// ServerCapabilitiesDataSourceModel describes the data source data model.
type ServerCapabilitiesDataSourceModel struct {
	ID                         types.String `tfsdk:"id"`     // Server URL
	Server                     types.String `tfsdk:"server"` // Server URL the session connected to
	SupportedControls          types.List   `tfsdk:"supported_controls"`
	SupportsSimplePagedResults types.Bool   `tfsdk:"supports_simple_paged_results"`
	SupportsVLV                types.Bool   `tfsdk:"supports_vlv"`
	SupportsServerSideSort     types.Bool   `tfsdk:"supports_server_side_sort"`
	AllowedPagingStrategies    types.List   `tfsdk:"allowed_paging_strategies"`
	NamingContexts             types.List   `tfsdk:"naming_contexts"`
	DefaultNamingContext       types.String `tfsdk:"default_naming_context"`
	VendorName                 types.String `tfsdk:"vendor_name"`
	VendorVersion              types.String `tfsdk:"vendor_version"`
}

func (d *ServerCapabilitiesDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_server_capabilities"
}

func (d *ServerCapabilitiesDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Reads the root DSE of the connected server and reports the controls relevant to paginated searches. " +
			"This data source requires no configuration.",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "Unique identifier for this data source (same as `server`).",
				Computed:            true,
			},
			"server": schema.StringAttribute{
				MarkdownDescription: "URL of the server the provider connected to. Example: `ldaps://ldap.example.com:636`",
				Computed:            true,
			},
			"supported_controls": schema.ListAttribute{
				MarkdownDescription: "Control OIDs advertised in the root DSE `supportedControl` attribute.",
				ElementType:         types.StringType,
				Computed:            true,
			},
			"supports_simple_paged_results": schema.BoolAttribute{
				MarkdownDescription: "Whether the server supports Simple Paged Results (`1.2.840.113556.1.4.319`).",
				Computed:            true,
			},
			"supports_vlv": schema.BoolAttribute{
				MarkdownDescription: "Whether the server supports Virtual List View (`2.16.840.1.113730.3.4.9`).",
				Computed:            true,
			},
			"supports_server_side_sort": schema.BoolAttribute{
				MarkdownDescription: "Whether the server supports server-side sorting (`1.2.840.113556.1.4.473`).",
				Computed:            true,
			},
			"allowed_paging_strategies": schema.ListAttribute{
				MarkdownDescription: "Values of the provider's `paging_strategy` usable against this server, besides `auto`.",
				ElementType:         types.StringType,
				Computed:            true,
			},
			"naming_contexts": schema.ListAttribute{
				MarkdownDescription: "Naming contexts held by the server, usable as `base_dns`.",
				ElementType:         types.StringType,
				Computed:            true,
			},
			"default_naming_context": schema.StringAttribute{
				MarkdownDescription: "The default naming context, when the server advertises one (Active Directory does).",
				Computed:            true,
			},
			"vendor_name": schema.StringAttribute{
				MarkdownDescription: "The vendor name reported by the server, when available.",
				Computed:            true,
			},
			"vendor_version": schema.StringAttribute{
				MarkdownDescription: "The vendor version reported by the server, when available.",
				Computed:            true,
			},
		},
	}
}

func (d *ServerCapabilitiesDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	// Prevent panic if the provider has not been configured.
	if req.ProviderData == nil {
		return
	}

	providerData, ok := req.ProviderData.(*ldapclient.ProviderData)
	if !ok {
		resp.Diagnostics.AddError(
			"Unexpected Data Source Configure Type",
			fmt.Sprintf("Expected *ldapclient.ProviderData, got: %T. Please report this issue to the provider developers.", req.ProviderData),
		)
		return
	}

	d.dialer = providerData.Dialer
}

func (d *ServerCapabilitiesDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var data ServerCapabilitiesDataSourceModel

	ctx = initializeLogging(ctx)

	// Set up entry/exit logging
	logCompletion := ldapclient.LogDataSourceOperation(ctx, "ldap_server_capabilities", "read", nil)
	var readErr error
	defer func() { logCompletion(readErr) }()

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	if d.dialer == nil {
		resp.Diagnostics.AddError(
			"Provider Not Configured",
			"The LDAP provider has not been configured. Please report this issue to the provider developers.",
		)
		return
	}

	session, err := d.dialer.Open(ctx)
	if err != nil {
		readErr = err
		resp.Diagnostics.AddError(
			"Unable to Connect to LDAP Server",
			fmt.Sprintf("Could not open a directory session: %s", err.Error()),
		)
		return
	}
	defer session.Close()

	server := session.Server().URL()
	caps := ldapclient.CapabilitiesOf(session)

	tflog.Debug(ctx, "Read server capabilities", map[string]any{
		"server":             server,
		"allowed_strategies": caps.AllowedStrategies(),
	})

	resp.Diagnostics.Append(mapCapabilitiesToModel(ctx, server, session.RootDSE(), caps, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

// mapCapabilitiesToModel fills data from the root DSE. A missing root DSE
// yields empty lists and null strings.
func mapCapabilitiesToModel(ctx context.Context, server string, dse *ldapclient.RootDSE, caps ldapclient.Capabilities, data *ServerCapabilitiesDataSourceModel) diag.Diagnostics {
	var diags diag.Diagnostics

	if dse == nil {
		dse = &ldapclient.RootDSE{}
	}

	data.ID = types.StringValue(server)
	data.Server = types.StringValue(server)
	data.SupportsSimplePagedResults = types.BoolValue(caps.SimplePagedResults)
	data.SupportsVLV = types.BoolValue(caps.VirtualListView)
	data.SupportsServerSideSort = types.BoolValue(caps.ServerSideSort)
	data.DefaultNamingContext = optionalString(dse.DefaultNamingContext)
	data.VendorName = optionalString(dse.VendorName)
	data.VendorVersion = optionalString(dse.VendorVersion)

	var d diag.Diagnostics
	data.SupportedControls, d = helpers.StringsToList(ctx, dse.SupportedControls)
	diags.Append(d...)
	data.NamingContexts, d = helpers.StringsToList(ctx, dse.NamingContexts)
	diags.Append(d...)
	data.AllowedPagingStrategies, d = helpers.StringsToList(ctx, caps.AllowedStrategies())
	diags.Append(d...)

	return diags
}

func optionalString(value string) types.String {
	if value == "" {
		return types.StringNull()
	}
	return types.StringValue(value)
}
