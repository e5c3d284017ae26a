package provider

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/terraform-plugin-framework-validators/int64validator"
	"github.com/hashicorp/terraform-plugin-framework-validators/providervalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/function"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/provider"
	"github.com/hashicorp/terraform-plugin-framework/provider/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
	"github.com/isometry/terraform-provider-ldap/internal/provider/validators"
)

// Ensure LDAPProvider satisfies various provider interfaces.
var _ provider.Provider = &LDAPProvider{}
var _ provider.ProviderWithFunctions = &LDAPProvider{}
var _ provider.ProviderWithConfigValidators = &LDAPProvider{}

// LDAPProvider defines the provider implementation.
type LDAPProvider struct {
	// Version is set to the provider version on release, "dev" when the
	// provider is built and ran locally, and "test" when running acceptance
	// testing.
	Version string
}

// LDAPProviderModel describes the provider data model.
type LDAPProviderModel struct {
	// Connection settings - mutually exclusive
	Domain  types.String `tfsdk:"domain"`
	LdapURL types.String `tfsdk:"ldap_url"`

	// Authentication settings
	BindDN   types.String `tfsdk:"bind_dn"`
	Password types.String `tfsdk:"password"`

	// Kerberos settings (optional)
	KerberosRealm  types.String `tfsdk:"kerberos_realm"`
	KerberosKeytab types.String `tfsdk:"kerberos_keytab"`
	KerberosConfig types.String `tfsdk:"kerberos_config"`
	KerberosCCache types.String `tfsdk:"kerberos_ccache"`
	KerberosSPN    types.String `tfsdk:"kerberos_spn"`

	// TLS settings
	UseTLS            types.Bool   `tfsdk:"use_tls"`
	SkipTLSVerify     types.Bool   `tfsdk:"skip_tls_verify"`
	TLSCACertFile     types.String `tfsdk:"tls_ca_cert_file"`
	TLSClientCertFile types.String `tfsdk:"tls_client_cert_file"`
	TLSClientKeyFile  types.String `tfsdk:"tls_client_key_file"`

	// Connection and retry settings
	ConnectTimeout types.Int64 `tfsdk:"connect_timeout"`
	MaxRetries     types.Int64 `tfsdk:"max_retries"`
	InitialBackoff types.Int64 `tfsdk:"initial_backoff"`
	MaxBackoff     types.Int64 `tfsdk:"max_backoff"`

	// Paging settings
	PagingStrategy      types.String `tfsdk:"paging_strategy"`
	PageSize            types.Int64  `tfsdk:"page_size"`
	VLVBlockSize        types.Int64  `tfsdk:"vlv_block_size"`
	VLVSortAttribute    types.String `tfsdk:"vlv_sort_attribute"`
	VLVSortOrderingRule types.String `tfsdk:"vlv_sort_ordering_rule"`
}

func (p *LDAPProvider) Metadata(ctx context.Context, req provider.MetadataRequest, resp *provider.MetadataResponse) {
	resp.TypeName = "ldap"
	resp.Version = p.Version
}

func (p *LDAPProvider) Schema(ctx context.Context, req provider.SchemaRequest, resp *provider.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "The LDAP provider reads directory entries over LDAP/LDAPS. " +
			"Large result sets are retrieved with Simple Paged Results (RFC 2696) or Virtual List View, " +
			"chosen automatically from the controls the server advertises.",
		Attributes: map[string]schema.Attribute{
			// Connection settings - mutually exclusive
			"domain": schema.StringAttribute{
				MarkdownDescription: "DNS domain used for SRV-based server discovery (e.g., `example.com`). " +
					"Mutually exclusive with `ldap_url`. Can be set via the `LDAP_DOMAIN` environment variable.",
				Optional: true,
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(1),
				},
			},
			"ldap_url": schema.StringAttribute{
				MarkdownDescription: "Direct LDAP/LDAPS URL (e.g., `ldaps://ldap.example.com:636`). " +
					"Mutually exclusive with `domain`. Can be set via the `LDAP_URL` environment variable.",
				Optional: true,
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(1),
				},
			},

			// Authentication settings
			"bind_dn": schema.StringAttribute{
				MarkdownDescription: "DN used for simple bind, or the principal name when Kerberos is configured. " +
					"Anonymous bind is used when neither `bind_dn` nor Kerberos is configured. " +
					"Can be set via the `LDAP_BIND_DN` environment variable.",
				Optional: true,
			},
			"password": schema.StringAttribute{
				MarkdownDescription: "Password for simple bind or Kerberos password authentication. " +
					"Can be set via the `LDAP_PASSWORD` environment variable.",
				Optional:  true,
				Sensitive: true,
			},

			// Kerberos settings
			"kerberos_realm": schema.StringAttribute{
				MarkdownDescription: "Kerberos realm for GSSAPI authentication (e.g., `EXAMPLE.COM`). " +
					"Can be set via the `LDAP_KERBEROS_REALM` environment variable.",
				Optional: true,
			},
			"kerberos_keytab": schema.StringAttribute{
				MarkdownDescription: "Path to a Kerberos keytab file. " +
					"Can be set via the `LDAP_KERBEROS_KEYTAB` environment variable.",
				Optional: true,
			},
			"kerberos_config": schema.StringAttribute{
				MarkdownDescription: "Path to the Kerberos configuration file. Defaults to `/etc/krb5.conf`, " +
					"or a generated configuration using DNS KDC lookup when that file does not exist. " +
					"Can be set via the `LDAP_KERBEROS_CONFIG` environment variable.",
				Optional: true,
			},
			"kerberos_ccache": schema.StringAttribute{
				MarkdownDescription: "Path to a Kerberos credential cache. " +
					"Can be set via the `LDAP_KERBEROS_CCACHE` environment variable.",
				Optional: true,
			},
			"kerberos_spn": schema.StringAttribute{
				MarkdownDescription: "Override the service principal name used for GSSAPI, in the form `ldap/<hostname>`. " +
					"Can be set via the `LDAP_KERBEROS_SPN` environment variable.",
				Optional: true,
			},

			// TLS settings
			"use_tls": schema.BoolAttribute{
				MarkdownDescription: "Upgrade plain `ldap://` connections with StartTLS. Defaults to `true`. " +
					"Can be set via the `LDAP_USE_TLS` environment variable.",
				Optional: true,
			},
			"skip_tls_verify": schema.BoolAttribute{
				MarkdownDescription: "Skip TLS certificate verification. Not recommended for production. Defaults to `false`. " +
					"Can be set via the `LDAP_SKIP_TLS_VERIFY` environment variable.",
				Optional: true,
			},
			"tls_ca_cert_file": schema.StringAttribute{
				MarkdownDescription: "Path to a PEM CA bundle used to verify the server certificate. " +
					"Can be set via the `LDAP_TLS_CA_CERT_FILE` environment variable.",
				Optional: true,
			},
			"tls_client_cert_file": schema.StringAttribute{
				MarkdownDescription: "Path to a client certificate for mutual TLS and SASL EXTERNAL bind. " +
					"Can be set via the `LDAP_TLS_CLIENT_CERT_FILE` environment variable.",
				Optional: true,
			},
			"tls_client_key_file": schema.StringAttribute{
				MarkdownDescription: "Path to the private key for `tls_client_cert_file`. " +
					"Can be set via the `LDAP_TLS_CLIENT_KEY_FILE` environment variable.",
				Optional:  true,
				Sensitive: true,
			},

			// Connection and retry settings
			"connect_timeout": schema.Int64Attribute{
				MarkdownDescription: "Connection and request timeout in seconds. Defaults to `30`. " +
					"Can be set via the `LDAP_CONNECT_TIMEOUT` environment variable.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.AtLeast(1),
				},
			},
			"max_retries": schema.Int64Attribute{
				MarkdownDescription: "Maximum number of connection retries across the configured servers. Defaults to `3`. " +
					"Searches themselves are never retried. " +
					"Can be set via the `LDAP_MAX_RETRIES` environment variable.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.AtLeast(0),
				},
			},
			"initial_backoff": schema.Int64Attribute{
				MarkdownDescription: "Initial backoff delay in milliseconds between connection attempts. Defaults to `500`. " +
					"Can be set via the `LDAP_INITIAL_BACKOFF` environment variable.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.AtLeast(1),
				},
			},
			"max_backoff": schema.Int64Attribute{
				MarkdownDescription: "Maximum backoff delay in seconds between connection attempts. Defaults to `30`. " +
					"Can be set via the `LDAP_MAX_BACKOFF` environment variable.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.AtLeast(1),
				},
			},

			// Paging settings
			"paging_strategy": schema.StringAttribute{
				MarkdownDescription: "How searches are paginated: `none`, `simple_paged`, `vlv` or `auto`. " +
					"`auto` prefers Simple Paged Results and falls back to Virtual List View. Defaults to `auto`. " +
					"Can be set via the `LDAP_PAGING_STRATEGY` environment variable.",
				Optional: true,
				Validators: []validator.String{
					validators.CaseInsensitiveOneOf(ldapclient.PagingStrategies()...),
				},
			},
			"page_size": schema.Int64Attribute{
				MarkdownDescription: "Default number of entries requested per page. Defaults to `1000`. " +
					"Can be set via the `LDAP_PAGE_SIZE` environment variable.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.AtLeast(1),
				},
			},
			"vlv_block_size": schema.Int64Attribute{
				MarkdownDescription: "Number of entries requested per Virtual List View window. Defaults to `100`. " +
					"Can be set via the `LDAP_VLV_BLOCK_SIZE` environment variable.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.AtLeast(1),
				},
			},
			"vlv_sort_attribute": schema.StringAttribute{
				MarkdownDescription: "Attribute used to sort Virtual List View results when a search has no `sort` block. " +
					"Defaults to `uid`. Can be set via the `LDAP_VLV_SORT_ATTRIBUTE` environment variable.",
				Optional: true,
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(1),
				},
			},
			"vlv_sort_ordering_rule": schema.StringAttribute{
				MarkdownDescription: "Optional matching rule OID or name for the default Virtual List View sort. " +
					"Can be set via the `LDAP_VLV_SORT_ORDERING_RULE` environment variable.",
				Optional: true,
			},
		},
	}
}

// ConfigValidators implements provider.ProviderWithConfigValidators.
func (p *LDAPProvider) ConfigValidators(ctx context.Context) []provider.ConfigValidator {
	return []provider.ConfigValidator{
		// Domain and ldap_url are mutually exclusive
		providervalidator.Conflicting(
			path.MatchRoot("domain"),
			path.MatchRoot("ldap_url"),
		),
		// Client certificate and key are supplied together
		providervalidator.RequiredTogether(
			path.MatchRoot("tls_client_cert_file"),
			path.MatchRoot("tls_client_key_file"),
		),
	}
}

func (p *LDAPProvider) Configure(ctx context.Context, req provider.ConfigureRequest, resp *provider.ConfigureResponse) {
	var data LDAPProviderModel

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	ctx = p.configureLogging(ctx)

	tflog.Info(ctx, "Configuring LDAP provider", map[string]any{
		"version": p.Version,
	})

	config := p.buildConnectionConfig(&data, &resp.Diagnostics)
	paging := p.buildPagingConfig(&data, &resp.Diagnostics)
	if resp.Diagnostics.HasError() {
		return
	}

	dialer, err := ldapclient.NewDialer(config, ldapclient.NewTFLogger(ctx, subsystemLDAP))
	if err != nil {
		addConfigurationError(&resp.Diagnostics, "Invalid LDAP Configuration", err)
		return
	}

	providerData, err := ldapclient.NewProviderData(dialer, paging)
	if err != nil {
		addConfigurationError(&resp.Diagnostics, "Invalid Paging Configuration", err)
		return
	}

	// Test connection and authentication
	start := time.Now()
	session, err := dialer.Open(ctx)
	if err != nil {
		tflog.Error(ctx, "Connection test failed", map[string]any{
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		resp.Diagnostics.AddError(
			"Unable to Connect to LDAP Server",
			"The provider could not establish an authenticated connection to the directory. "+
				"Please verify your connection and authentication settings.\n\n"+
				"Connection Error: "+err.Error(),
		)
		return
	}

	caps := ldapclient.CapabilitiesOf(session)
	tflog.Info(ctx, "Connection established successfully", map[string]any{
		"server":             session.Server().URL(),
		"auth_method":        dialer.AuthMethod().String(),
		"paging_strategy":    string(paging.Strategy),
		"allowed_strategies": caps.AllowedStrategies(),
		"duration_ms":        time.Since(start).Milliseconds(),
	})

	if err := session.Close(); err != nil {
		tflog.Debug(ctx, "Failed to close connection test session", map[string]any{
			"error": err.Error(),
		})
	}

	tflog.Info(ctx, "LDAP provider configured successfully")

	resp.DataSourceData = providerData
	resp.ResourceData = providerData
}

// configureLogging sets up logging configuration based on environment variables.
func (p *LDAPProvider) configureLogging(ctx context.Context) context.Context {
	ctx = tflog.SetField(ctx, "provider", "ldap")
	ctx = tflog.SetField(ctx, "provider_version", p.Version)
	ctx = tflog.MaskFieldValuesWithFieldKeys(ctx, "password")

	ctx = initializeLogging(ctx)

	tflog.Debug(ctx, "LDAP provider logging configured")

	return ctx
}

// buildConnectionConfig constructs the connection configuration from provider config and environment variables.
func (p *LDAPProvider) buildConnectionConfig(data *LDAPProviderModel, diags *diag.Diagnostics) *ldapclient.ConnectionConfig {
	config := ldapclient.DefaultConfig()

	// Connection settings
	domain := p.getStringValue(data.Domain, "LDAP_DOMAIN")
	ldapURL := p.getStringValue(data.LdapURL, "LDAP_URL")

	switch {
	case domain != "" && ldapURL != "":
		diags.AddError(
			"Conflicting Connection Configuration",
			"Only one of 'domain' and 'ldap_url' may be set, including via the LDAP_DOMAIN and LDAP_URL environment variables.",
		)
		return config
	case domain == "" && ldapURL == "":
		diags.AddError(
			"Missing Connection Configuration",
			"Either 'domain' or 'ldap_url' must be configured. "+
				"Provide one of the attributes or set the LDAP_DOMAIN or LDAP_URL environment variable.",
		)
		return config
	case ldapURL != "":
		config.LDAPURLs = []string{ldapURL}
	default:
		config.Domain = domain
	}

	// Authentication settings
	config.BindDN = p.getStringValue(data.BindDN, "LDAP_BIND_DN")
	config.Password = p.getStringValue(data.Password, "LDAP_PASSWORD")
	config.KerberosRealm = p.getStringValue(data.KerberosRealm, "LDAP_KERBEROS_REALM")
	config.KerberosKeytab = p.getStringValue(data.KerberosKeytab, "LDAP_KERBEROS_KEYTAB")
	config.KerberosConfig = p.getStringValue(data.KerberosConfig, "LDAP_KERBEROS_CONFIG")
	config.KerberosCCache = p.getStringValue(data.KerberosCCache, "LDAP_KERBEROS_CCACHE")
	config.KerberosSPN = p.getStringValue(data.KerberosSPN, "LDAP_KERBEROS_SPN")

	if config.BindDN != "" && config.Password == "" && config.KerberosRealm == "" {
		diags.AddAttributeError(
			path.Root("password"),
			"Missing Password",
			"'bind_dn' is set for simple bind but no password was provided. "+
				"Set 'password' or the LDAP_PASSWORD environment variable, or configure Kerberos.",
		)
		return config
	}

	// TLS settings
	config.UseTLS = p.getBoolValue(data.UseTLS, "LDAP_USE_TLS", true)
	config.SkipTLSVerify = p.getBoolValue(data.SkipTLSVerify, "LDAP_SKIP_TLS_VERIFY", false)
	config.TLSCACertFile = p.getStringValue(data.TLSCACertFile, "LDAP_TLS_CA_CERT_FILE")
	config.TLSClientCertFile = p.getStringValue(data.TLSClientCertFile, "LDAP_TLS_CLIENT_CERT_FILE")
	config.TLSClientKeyFile = p.getStringValue(data.TLSClientKeyFile, "LDAP_TLS_CLIENT_KEY_FILE")

	// Connection and retry settings
	if connectTimeout := p.getInt64Value(data.ConnectTimeout, "LDAP_CONNECT_TIMEOUT", 30); connectTimeout > 0 {
		config.Timeout = time.Duration(connectTimeout) * time.Second
	}

	if maxRetries := p.getInt64Value(data.MaxRetries, "LDAP_MAX_RETRIES", 3); maxRetries >= 0 {
		config.MaxRetries = int(maxRetries)
	}

	if initialBackoff := p.getInt64Value(data.InitialBackoff, "LDAP_INITIAL_BACKOFF", 500); initialBackoff > 0 {
		config.InitialBackoff = time.Duration(initialBackoff) * time.Millisecond
	}

	if maxBackoff := p.getInt64Value(data.MaxBackoff, "LDAP_MAX_BACKOFF", 30); maxBackoff > 0 {
		config.MaxBackoff = time.Duration(maxBackoff) * time.Second
	}

	return config
}

// buildPagingConfig constructs the paging configuration, starting from the engine defaults.
func (p *LDAPProvider) buildPagingConfig(data *LDAPProviderModel, diags *diag.Diagnostics) *ldapclient.PagingConfig {
	paging := ldapclient.NewPagingConfig()

	if strategy := p.getStringValue(data.PagingStrategy, "LDAP_PAGING_STRATEGY"); strategy != "" {
		if canonical, ok := validators.Canonical(strategy, ldapclient.PagingStrategies()...); ok {
			strategy = canonical
		}
		paging.Strategy = ldapclient.PagingStrategy(strategy)
	}

	paging.PageSize = int(p.getInt64Value(data.PageSize, "LDAP_PAGE_SIZE", int64(paging.PageSize)))
	paging.VLVBlockSize = int(p.getInt64Value(data.VLVBlockSize, "LDAP_VLV_BLOCK_SIZE", int64(paging.VLVBlockSize)))

	if attribute := p.getStringValue(data.VLVSortAttribute, "LDAP_VLV_SORT_ATTRIBUTE"); attribute != "" {
		paging.VLVSortAttribute = attribute
	}
	paging.VLVSortOrderingRule = p.getStringValue(data.VLVSortOrderingRule, "LDAP_VLV_SORT_ORDERING_RULE")

	if err := paging.Validate(); err != nil {
		addConfigurationError(diags, "Invalid Paging Configuration", err)
	}

	return paging
}

// addConfigurationError attaches err to the offending attribute when it names one.
func addConfigurationError(diags *diag.Diagnostics, summary string, err error) {
	var cfgErr *ldapclient.ConfigurationError
	if errors.As(err, &cfgErr) && cfgErr.Setting != "" && cfgErr.Setting != "tls" {
		diags.AddAttributeError(path.Root(cfgErr.Setting), summary, err.Error())
		return
	}
	diags.AddError(summary, err.Error())
}

// Helper functions for configuration value resolution

func (p *LDAPProvider) getStringValue(configValue types.String, envVar string) string {
	if !configValue.IsNull() && configValue.ValueString() != "" {
		return configValue.ValueString()
	}
	return os.Getenv(envVar)
}

func (p *LDAPProvider) getBoolValue(configValue types.Bool, envVar string, defaultValue bool) bool {
	if !configValue.IsNull() {
		return configValue.ValueBool()
	}
	if envValue := os.Getenv(envVar); envValue != "" {
		if parsed, err := strconv.ParseBool(envValue); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (p *LDAPProvider) getInt64Value(configValue types.Int64, envVar string, defaultValue int64) int64 {
	if !configValue.IsNull() {
		return configValue.ValueInt64()
	}
	if envValue := os.Getenv(envVar); envValue != "" {
		if parsed, err := strconv.ParseInt(envValue, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (p *LDAPProvider) Resources(ctx context.Context) []func() resource.Resource {
	return []func() resource.Resource{}
}

func (p *LDAPProvider) DataSources(ctx context.Context) []func() datasource.DataSource {
	return []func() datasource.DataSource{
		NewEntriesDataSource,
		NewServerCapabilitiesDataSource,
	}
}

func (p *LDAPProvider) Functions(ctx context.Context) []func() function.Function {
	return []func() function.Function{
		NewEscapeFilterFunction,
		NewEscapeDNFunction,
	}
}

func New(version string) func() provider.Provider {
	return func() provider.Provider {
		return &LDAPProvider{
			Version: version,
		}
	}
}
