package ldap

import (
	"context"

	"github.com/go-ldap/ldap/v3"
)

// simplePagedStrategy drives the RFC 2696 paged results control.
type simplePagedStrategy struct {
	defaultPageSize int
	logger          Logger
}

func newSimplePagedStrategy(defaultPageSize int, logger Logger) *simplePagedStrategy {
	return &simplePagedStrategy{defaultPageSize: defaultPageSize, logger: logger}
}

func (s *simplePagedStrategy) Name() PagingStrategy {
	return PagingStrategySimplePaged
}

// pageSize returns the size for the next request: the requested or default
// size, clamped to what is left of the entry budget.
func (s *simplePagedStrategy) pageSize(req *SearchRequest, delivered int) int {
	size := s.defaultPageSize
	if req.PageSize > 0 {
		size = req.PageSize
	}
	if req.MaxEntries > 0 {
		size = min(size, req.MaxEntries-delivered)
	}
	return max(size, 1)
}

func (s *simplePagedStrategy) SearchBase(ctx context.Context, session Session, req *SearchRequest, baseDNIndex int, state *PagedResultsState, handler EntryHandler) (Outcome, error) {
	baseDN := req.BaseDNs[baseDNIndex]

	var cookie []byte
	if state.BaseDNIndex == baseDNIndex {
		cookie = state.Cookie
	}
	state.resetForBase(baseDNIndex)

	delivered := 0
	for page := 1; ; page++ {
		size := s.pageSize(req, delivered)

		paging := ldap.NewControlPaging(uint32(size))
		paging.SetCookie(cookie)
		controls := []ldap.Control{markCritical(paging)}
		if len(req.SortKeys) > 0 {
			controls = append(controls, newSortControl(req.SortKeys))
		}

		pageFields := map[string]any{
			"base_dn":     baseDN,
			"page_number": page,
			"page_size":   size,
			"resumed":     len(cookie) > 0,
		}
		s.logger.Trace("Requesting paged results page", pageFields)

		result, err := session.Search(ctx, req.toLDAP(baseDN, controls))
		if err != nil {
			if !IsPartialResultsError(err) {
				LogLDAPError(s.logger, "paged_search", err, pageFields)
				return OutcomeExhausted, WrapError("paged_search", baseDN, err)
			}

			s.logger.Warn("Partial results returned, continuing with next base DN", map[string]any{
				"base_dn":     baseDN,
				"page_number": page,
				"error":       err.Error(),
			})
			if result != nil {
				if _, stopped := deliver(baseDN, result.Entries, handler); stopped {
					state.Cookie = cookie
					return OutcomeStopped, nil
				}
			}
			return OutcomeExhausted, nil
		}

		accepted, stopped := deliver(baseDN, result.Entries, handler)
		delivered += accepted
		if stopped {
			// Resume from the start of this page.
			state.Cookie = cookie
			s.logger.Debug("Handler stopped paged search", map[string]any{
				"base_dn":   baseDN,
				"delivered": delivered,
			})
			return OutcomeStopped, nil
		}

		var next []byte
		if response := pagedResultsResponse(result.Controls); response != nil {
			next = response.Cookie
			if response.PagingSize > 0 {
				state.Remaining = int(response.PagingSize)
			}
		}

		s.logger.Debug("Completed paged results page", map[string]any{
			"base_dn":         baseDN,
			"page_number":     page,
			"entries_in_page": len(result.Entries),
			"delivered":       delivered,
			"has_more":        len(next) > 0,
			"size_estimate":   state.Remaining,
		})

		if len(next) == 0 {
			return OutcomeExhausted, nil
		}

		cookie = next
		if req.MaxEntries > 0 && delivered >= req.MaxEntries {
			state.Cookie = cookie
			return OutcomePaused, nil
		}
	}
}
