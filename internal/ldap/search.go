package ldap

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Searcher runs paginated searches over a directory session.
type Searcher struct {
	session Session
	cfg     *PagingConfig
	logger  Logger
}

// NewSearcher creates a Searcher. A nil cfg uses the paging defaults.
func NewSearcher(session Session, cfg *PagingConfig, logger Logger) (*Searcher, error) {
	if session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if cfg == nil {
		cfg = NewPagingConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Searcher{
		session: session,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Search delivers the entries matching req to handler, base DN by base DN,
// and returns the continuation. The state is returned on error too and
// reflects the last page that completed.
func (s *Searcher) Search(ctx context.Context, req *SearchRequest, handler EntryHandler) (*PagedResultsState, error) {
	state := NewPagedResultsState()

	if err := req.normalize(); err != nil {
		return state, err
	}

	if req.Cookie != "" {
		cookie, index, err := DecodeCookie(req.Cookie)
		if err != nil {
			return state, err
		}
		if index >= len(req.BaseDNs) {
			return state, &MalformedCookieError{
				Token:  req.Cookie,
				Reason: fmt.Sprintf("base DN index %d out of range for %d base DNs", index, len(req.BaseDNs)),
			}
		}
		state.Cookie = cookie
		state.BaseDNIndex = index
	}

	strategy, err := SelectStrategy(s.cfg, req, CapabilitiesOf(s.session), s.logger)
	if err != nil {
		return state, err
	}
	state.Strategy = strategy.Name()

	if handler == nil {
		handler = func(*Result) bool { return true }
	}

	logger := WithFields(s.logger, map[string]any{
		"search_id": uuid.NewString(),
		"strategy":  string(strategy.Name()),
	})
	start := time.Now()

	logger.Debug("Starting paginated search", map[string]any{
		"base_dns":    req.BaseDNs,
		"filter":      req.Filter,
		"scope":       req.Scope.String(),
		"page_size":   req.PageSize,
		"max_entries": req.MaxEntries,
		"offset":      req.Offset,
		"resumed":     req.Cookie != "",
		"start_index": state.BaseDNIndex,
	})

	delivered := 0
	counting := func(r *Result) bool {
		if !handler(r) {
			return false
		}
		delivered++
		return true
	}

	for i := state.BaseDNIndex; i < len(req.BaseDNs); i++ {
		outcome, err := strategy.SearchBase(ctx, s.session, req, i, state, counting)
		if err != nil {
			logger.Error("Paginated search failed", map[string]any{
				"base_dn":   req.BaseDNs[i],
				"delivered": delivered,
				"error":     err.Error(),
			})
			return state, err
		}

		if outcome != OutcomeExhausted {
			logger.Debug("Paginated search ended early", map[string]any{
				"base_dn":     req.BaseDNs[i],
				"outcome":     outcome.String(),
				"delivered":   delivered,
				"has_cookie":  len(state.Cookie) > 0,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			return state, nil
		}
	}

	state.Cookie = nil

	logger.Debug("Paginated search completed", map[string]any{
		"delivered":   delivered,
		"remaining":   state.Remaining,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return state, nil
}
