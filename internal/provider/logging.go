package provider

import (
	"context"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

const (
	subsystemProvider = "provider"
	subsystemLDAP     = "ldap"
)

// initializeLogging initializes the provider and ldap subsystems for consistent logging.
// This should be called at the beginning of Configure and each data source Read method.
func initializeLogging(ctx context.Context) context.Context {
	// Pattern: TF_LOG_PROVIDER_LDAP_<SUBSYSTEM>
	ctx = tflog.NewSubsystem(ctx, subsystemProvider,
		tflog.WithLevelFromEnv("TF_LOG_PROVIDER_LDAP_PROVIDER"))
	return tflog.NewSubsystem(ctx, subsystemLDAP,
		tflog.WithLevelFromEnv("TF_LOG_PROVIDER_LDAP_LDAP"),
		tflog.WithRootFields())
}
