package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/terraform-plugin-framework-validators/int64validator"
	"github.com/hashicorp/terraform-plugin-framework-validators/listvalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
	"github.com/isometry/terraform-provider-ldap/internal/provider/helpers"
	customtypes "github.com/isometry/terraform-provider-ldap/internal/provider/types"
	"github.com/isometry/terraform-provider-ldap/internal/provider/validators"
)

// Ensure provider defined types fully satisfy framework interfaces.
var _ datasource.DataSource = &EntriesDataSource{}
var _ datasource.DataSourceWithConfigure = &EntriesDataSource{}

func NewEntriesDataSource() datasource.DataSource {
	return &EntriesDataSource{}
}

// searcherOpener opens a Searcher and the session backing it.
type searcherOpener interface {
	OpenSearcher(ctx context.Context, subsystem string) (*ldapclient.Searcher, ldapclient.Session, error)
}

// EntriesDataSource defines the data source implementation.
type EntriesDataSource struct {
	providerData searcherOpener
}

// EntriesDataSourceModel describes the data source data model.
type EntriesDataSourceModel struct {
	// Search configuration
	BaseDNs             types.List     `tfsdk:"base_dns"`
	Filter              types.String   `tfsdk:"filter"`
	Scope               types.String   `tfsdk:"scope"`
	Attributes          types.List     `tfsdk:"attributes"`
	Sort                []SortKeyModel `tfsdk:"sort"`
	PageSize            types.Int64    `tfsdk:"page_size"`
	MaxEntries          types.Int64    `tfsdk:"max_entries"`
	Offset              types.Int64    `tfsdk:"offset"`
	Cookie              types.String   `tfsdk:"cookie"`
	AllowPartialResults types.Bool     `tfsdk:"allow_partial_results"`

	// Output
	Entries    types.List   `tfsdk:"entries"`
	EntryCount types.Int64  `tfsdk:"entry_count"`
	NextCookie types.String `tfsdk:"next_cookie"`
	Remaining  types.Int64  `tfsdk:"remaining"`
	Strategy   types.String `tfsdk:"strategy"`
	ID         types.String `tfsdk:"id"`
}

// SortKeyModel describes one server-side sort key.
type SortKeyModel struct {
	Attribute    types.String `tfsdk:"attribute"`
	OrderingRule types.String `tfsdk:"ordering_rule"`
	Reverse      types.Bool   `tfsdk:"reverse"`
}

// entryObjectType is the Terraform type of a single search result.
var entryObjectType = types.ObjectType{
	AttrTypes: map[string]attr.Type{
		"dn":          types.StringType,
		"base_dn":     types.StringType,
		"relative_dn": types.StringType,
		"attributes":  helpers.AttributeValuesType,
	},
}

func (d *EntriesDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_entries"
}

func (d *EntriesDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Searches the directory under one or more base DNs. " +
			"Results are paginated with the provider's `paging_strategy`, and a search limited by `max_entries` " +
			"returns a `next_cookie` that continues it in a later read.",

		Attributes: map[string]schema.Attribute{
			// Search configuration
			"base_dns": schema.ListAttribute{
				MarkdownDescription: "Base DNs to search, in order. Results of each base DN are returned before the next is searched. " +
					"Example: `[\"ou=people,dc=example,dc=com\"]`",
				ElementType: customtypes.DNStringType{},
				Required:    true,
				Validators: []validator.List{
					listvalidator.SizeAtLeast(1),
					listvalidator.ValueStringsAre(validators.IsValidDN()),
				},
			},
			"filter": schema.StringAttribute{
				MarkdownDescription: "LDAP search filter (RFC 4515). Defaults to `(objectClass=*)`.",
				Optional:            true,
				Validators: []validator.String{
					validators.IsValidFilter(),
				},
			},
			"scope": schema.StringAttribute{
				MarkdownDescription: "The search scope to use. Valid values: `base`, `onelevel`, `subtree`. Defaults to `subtree`.",
				Optional:            true,
				Validators: []validator.String{
					validators.CaseInsensitiveOneOf("base", "onelevel", "subtree"),
				},
			},
			"attributes": schema.ListAttribute{
				MarkdownDescription: "Attributes to return for each entry. All user attributes are returned when omitted. " +
					"Use `[\"1.1\"]` to return no attributes.",
				ElementType: types.StringType,
				Optional:    true,
				Validators: []validator.List{
					listvalidator.ValueStringsAre(stringvalidator.LengthAtLeast(1)),
				},
			},
			"page_size": schema.Int64Attribute{
				MarkdownDescription: "Entries requested per page, overriding the provider's `page_size`.",
				Optional:            true,
				Validators: []validator.Int64{
					int64validator.AtLeast(1),
				},
			},
			"max_entries": schema.Int64Attribute{
				MarkdownDescription: "Maximum number of entries to return from each base DN. When the limit is reached, " +
					"`next_cookie` continues the search. Unlimited when omitted.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.AtLeast(1),
				},
			},
			"offset": schema.Int64Attribute{
				MarkdownDescription: "1-based position in the sorted result list to start from. Requires a server supporting Virtual List View.",
				Optional:            true,
				Validators: []validator.Int64{
					int64validator.AtLeast(1),
				},
			},
			"cookie": schema.StringAttribute{
				MarkdownDescription: "The `next_cookie` of a previous read with the same search parameters, to continue that search.",
				Optional:            true,
			},
			"allow_partial_results": schema.BoolAttribute{
				MarkdownDescription: "Accept a truncated result when the server enforces a size limit. " +
					"Without `page_size`, `max_entries`, `offset` or `cookie` the search is sent unpaged. Defaults to `false`.",
				Optional: true,
			},

			// Output attributes
			"entries": schema.ListNestedAttribute{
				MarkdownDescription: "Entries matching the search, in server order grouped by base DN.",
				Computed:            true,
				NestedObject: schema.NestedAttributeObject{
					Attributes: map[string]schema.Attribute{
						"dn": schema.StringAttribute{
							MarkdownDescription: "The Distinguished Name of the entry.",
							Computed:            true,
						},
						"base_dn": schema.StringAttribute{
							MarkdownDescription: "The base DN the entry was found under.",
							Computed:            true,
						},
						"relative_dn": schema.StringAttribute{
							MarkdownDescription: "The DN relative to `base_dn`, empty for the base entry itself.",
							Computed:            true,
						},
						"attributes": schema.MapAttribute{
							MarkdownDescription: "Attribute values keyed by attribute name. Security identifiers and GUIDs are " +
								"rendered in their string forms and other binary values are base64 encoded.",
							ElementType: types.ListType{ElemType: types.StringType},
							Computed:    true,
						},
					},
				},
			},
			"entry_count": schema.Int64Attribute{
				MarkdownDescription: "The number of entries returned.",
				Computed:            true,
			},
			"next_cookie": schema.StringAttribute{
				MarkdownDescription: "Continuation token for the rest of the search, empty when the search is complete.",
				Computed:            true,
			},
			"remaining": schema.Int64Attribute{
				MarkdownDescription: "The server's estimate of entries not yet returned, or `-1` when unknown.",
				Computed:            true,
			},
			"strategy": schema.StringAttribute{
				MarkdownDescription: "The paging strategy used: `none`, `simple_paged` or `vlv`.",
				Computed:            true,
			},
			"id": schema.StringAttribute{
				MarkdownDescription: "A stable identifier derived from the search parameters.",
				Computed:            true,
			},
		},

		Blocks: map[string]schema.Block{
			"sort": schema.ListNestedBlock{
				MarkdownDescription: "Server-side sort keys (RFC 2891). With Virtual List View only the first key is used.",
				NestedObject: schema.NestedBlockObject{
					Attributes: map[string]schema.Attribute{
						"attribute": schema.StringAttribute{
							MarkdownDescription: "Attribute to sort by.",
							Required:            true,
							Validators: []validator.String{
								stringvalidator.LengthAtLeast(1),
							},
						},
						"ordering_rule": schema.StringAttribute{
							MarkdownDescription: "Optional matching rule OID or name.",
							Optional:            true,
						},
						"reverse": schema.BoolAttribute{
							MarkdownDescription: "Sort in descending order. Defaults to `false`.",
							Optional:            true,
						},
					},
				},
			},
		},
	}
}

func (d *EntriesDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
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

	d.providerData = providerData
}

func (d *EntriesDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var data EntriesDataSourceModel

	ctx = initializeLogging(ctx)

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	searchReq := buildSearchRequest(ctx, &data, &resp.Diagnostics)
	if resp.Diagnostics.HasError() {
		return
	}

	logCompletion := ldapclient.LogDataSourceOperation(ctx, "ldap_entries", "read", map[string]any{
		"base_dns":    searchReq.BaseDNs,
		"filter":      searchReq.Filter,
		"scope":       searchReq.Scope.String(),
		"max_entries": searchReq.MaxEntries,
		"offset":      searchReq.Offset,
		"resumed":     searchReq.Cookie != "",
	})
	var readErr error
	defer func() { logCompletion(readErr) }()

	if d.providerData == nil {
		resp.Diagnostics.AddError(
			"Provider Not Configured",
			"The LDAP provider has not been configured. Please report this issue to the provider developers.",
		)
		return
	}

	searcher, session, err := d.providerData.OpenSearcher(ctx, subsystemLDAP)
	if err != nil {
		readErr = err
		resp.Diagnostics.AddError(
			"Unable to Connect to LDAP Server",
			fmt.Sprintf("Could not open a directory session: %s", err.Error()),
		)
		return
	}
	defer session.Close()

	collector := newEntryCollector(ctx)
	state, err := searcher.Search(ctx, searchReq, collector.collect)
	if err != nil {
		readErr = err
		addSearchError(&resp.Diagnostics, err)
		return
	}
	resp.Diagnostics.Append(collector.diags...)
	if resp.Diagnostics.HasError() {
		return
	}

	tflog.Debug(ctx, "Directory search completed", map[string]any{
		"entry_count": len(collector.entries),
		"strategy":    string(state.Strategy),
		"has_cookie":  state.PagedResultsCookie() != "",
		"remaining":   state.RemainingPagedResults(),
	})

	entries, diags := types.ListValue(entryObjectType, collector.entries)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}

	data.Entries = entries
	data.EntryCount = types.Int64Value(int64(len(collector.entries)))
	data.NextCookie = types.StringValue(state.PagedResultsCookie())
	data.Remaining = types.Int64Value(int64(state.RemainingPagedResults()))
	data.Strategy = types.StringValue(string(state.Strategy))
	data.ID = types.StringValue(searchID(searchReq))

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

// buildSearchRequest converts the Terraform configuration to a SearchRequest.
func buildSearchRequest(ctx context.Context, data *EntriesDataSourceModel, diags *diag.Diagnostics) *ldapclient.SearchRequest {
	searchReq := &ldapclient.SearchRequest{}

	baseDNs, d := helpers.ListToStrings(ctx, data.BaseDNs)
	diags.Append(d...)
	searchReq.BaseDNs = baseDNs

	attributes, d := helpers.ListToStrings(ctx, data.Attributes)
	diags.Append(d...)
	searchReq.Attributes = attributes

	if diags.HasError() {
		return searchReq
	}

	searchReq.Filter = strings.TrimSpace(data.Filter.ValueString())

	scope, err := ldapclient.ParseSearchScope(strings.TrimSpace(data.Scope.ValueString()))
	if err != nil {
		diags.AddAttributeError(path.Root("scope"), "Invalid Search Scope", err.Error())
		return searchReq
	}
	searchReq.Scope = scope

	for _, key := range data.Sort {
		searchReq.SortKeys = append(searchReq.SortKeys, ldapclient.SortKey{
			Attribute:    key.Attribute.ValueString(),
			OrderingRule: key.OrderingRule.ValueString(),
			Reverse:      key.Reverse.ValueBool(),
		})
	}

	searchReq.PageSize = int(data.PageSize.ValueInt64())
	searchReq.MaxEntries = int(data.MaxEntries.ValueInt64())
	searchReq.Offset = int(data.Offset.ValueInt64())
	searchReq.Cookie = data.Cookie.ValueString()
	searchReq.AllowPartialResults = data.AllowPartialResults.ValueBool()

	return searchReq
}

// entryCollector converts each delivered entry into its Terraform object.
type entryCollector struct {
	ctx     context.Context
	entries []attr.Value
	diags   diag.Diagnostics
}

func newEntryCollector(ctx context.Context) *entryCollector {
	return &entryCollector{ctx: ctx, entries: []attr.Value{}}
}

func (c *entryCollector) collect(result *ldapclient.Result) bool {
	attributes, diags := helpers.AttributeValuesToMap(c.ctx, ldapclient.EntryAttributes(result.Entry))
	c.diags.Append(diags...)
	if diags.HasError() {
		return false
	}

	entry, diags := types.ObjectValue(entryObjectType.AttrTypes, map[string]attr.Value{
		"dn":          types.StringValue(result.DN()),
		"base_dn":     types.StringValue(result.BaseDN),
		"relative_dn": types.StringValue(result.RelativeDN()),
		"attributes":  attributes,
	})
	c.diags.Append(diags...)
	if diags.HasError() {
		return false
	}

	c.entries = append(c.entries, entry)
	return true
}

// addSearchError reports a failed search with a summary matching its cause.
func addSearchError(diags *diag.Diagnostics, err error) {
	var cfgErr *ldapclient.ConfigurationError
	switch {
	case errors.As(err, &cfgErr) && cfgErr.Setting != "":
		diags.AddAttributeError(path.Root(cfgErr.Setting), "Invalid Search Configuration", err.Error())
	case errors.Is(err, ldapclient.ErrMalformedCookie):
		diags.AddAttributeError(path.Root("cookie"), "Invalid Cookie", err.Error())
	case errors.Is(err, ldapclient.ErrUnsupportedOperation):
		diags.AddError("Search Not Supported by Server", err.Error())
	case errors.Is(err, ldapclient.ErrProtocolDecode):
		diags.AddError("Malformed Server Response", err.Error())
	default:
		diags.AddError(
			fmt.Sprintf("Error Searching Directory (%s)", ldapclient.GetErrorCategory(err)),
			err.Error(),
		)
	}
}

// searchID derives a stable identifier from the parameters that select entries.
func searchID(req *ldapclient.SearchRequest) string {
	parts := []string{
		strings.Join(req.BaseDNs, ";"),
		req.Filter,
		req.Scope.String(),
		strings.Join(req.Attributes, ","),
		strconv.Itoa(req.MaxEntries),
		strconv.Itoa(req.Offset),
		req.Cookie,
	}
	for _, key := range req.SortKeys {
		parts = append(parts, fmt.Sprintf("%s:%s:%t", key.Attribute, key.OrderingRule, key.Reverse))
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.Join(parts, "\n"))).String()
}
