package ldap

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// ProviderData is shared by the provider with its data sources.
type ProviderData struct {
	Dialer *Dialer       // Opens bound directory sessions
	Paging *PagingConfig // Provider-wide paging configuration
}

// NewProviderData creates provider data, applying paging defaults when paging is nil.
func NewProviderData(dialer *Dialer, paging *PagingConfig) (*ProviderData, error) {
	if dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if paging == nil {
		paging = NewPagingConfig()
	}
	if err := paging.Validate(); err != nil {
		return nil, err
	}

	return &ProviderData{
		Dialer: dialer,
		Paging: paging,
	}, nil
}

// OpenSearcher opens a session and returns a Searcher bound to it. The
// caller must close the returned session.
func (pd *ProviderData) OpenSearcher(ctx context.Context, subsystem string) (*Searcher, Session, error) {
	if pd.Dialer == nil {
		return nil, nil, fmt.Errorf("LDAP dialer is not initialized")
	}

	start := time.Now()
	session, err := pd.Dialer.Open(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open directory session: %w", err)
	}

	tflog.Debug(ctx, "Opened directory session", map[string]any{
		"server":      session.Server().URL(),
		"auth_method": pd.Dialer.AuthMethod().String(),
		"duration_ms": time.Since(start).Milliseconds(),
	})

	searcher, err := NewSearcher(session, pd.Paging, NewTFLogger(ctx, subsystem))
	if err != nil {
		_ = session.Close()
		return nil, nil, err
	}

	return searcher, session, nil
}
