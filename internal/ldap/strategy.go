package ldap

import (
	"context"

	"github.com/go-ldap/ldap/v3"
)

// Outcome reports how a strategy finished with one base DN.
type Outcome int

const (
	// OutcomeExhausted means the base DN has no more entries.
	OutcomeExhausted Outcome = iota
	// OutcomeStopped means the handler asked to stop.
	OutcomeStopped
	// OutcomePaused means the entry budget was spent and the state holds a continuation.
	OutcomePaused
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeStopped:
		return "stopped"
	case OutcomePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Result is one entry together with the base DN it was found under.
type Result struct {
	BaseDN string
	Entry  *ldap.Entry
}

// DN returns the entry's distinguished name.
func (r *Result) DN() string {
	return r.Entry.DN
}

// RelativeDN returns the entry's name relative to its base DN.
func (r *Result) RelativeDN() string {
	return relativeDN(r.Entry.DN, r.BaseDN)
}

// EntryHandler receives each entry; returning false stops the search.
type EntryHandler func(*Result) bool

// Strategy retrieves the entries under one base DN.
type Strategy interface {
	Name() PagingStrategy
	// SearchBase searches req.BaseDNs[baseDNIndex], resuming from state when
	// state.BaseDNIndex matches, and records the continuation in state.
	SearchBase(ctx context.Context, session Session, req *SearchRequest, baseDNIndex int, state *PagedResultsState, handler EntryHandler) (Outcome, error)
}

// deliver hands entries to handler in order and returns how many were
// accepted and whether the handler asked to stop.
func deliver(baseDN string, entries []*ldap.Entry, handler EntryHandler) (int, bool) {
	for i, entry := range entries {
		if !handler(&Result{BaseDN: baseDN, Entry: entry}) {
			return i, true
		}
	}
	return len(entries), false
}

type noPagingStrategy struct {
	logger Logger
}

func newNoPagingStrategy(logger Logger) *noPagingStrategy {
	return &noPagingStrategy{logger: logger}
}

func (s *noPagingStrategy) Name() PagingStrategy {
	return PagingStrategyNone
}

func (s *noPagingStrategy) SearchBase(ctx context.Context, session Session, req *SearchRequest, baseDNIndex int, state *PagedResultsState, handler EntryHandler) (Outcome, error) {
	baseDN := req.BaseDNs[baseDNIndex]
	state.resetForBase(baseDNIndex)

	fields := map[string]any{
		"base_dn": baseDN,
		"filter":  req.Filter,
		"scope":   req.Scope.String(),
	}
	s.logger.Debug("Starting unpaged search", fields)

	result, err := session.Search(ctx, req.toLDAP(baseDN, nil))
	if err != nil {
		if !(req.AllowPartialResults && IsLimitExceededError(err)) || result == nil {
			LogLDAPError(s.logger, "search", err, fields)
			return OutcomeExhausted, WrapError("search", baseDN, err)
		}
		s.logger.Warn("Server limit reached, returning partial results", map[string]any{
			"base_dn":       baseDN,
			"entries_found": len(result.Entries),
			"error":         err.Error(),
		})
	}

	accepted, stopped := deliver(baseDN, result.Entries, handler)

	s.logger.Debug("Unpaged search completed", map[string]any{
		"base_dn":          baseDN,
		"entries_returned": len(result.Entries),
		"entries_accepted": accepted,
	})

	if stopped {
		return OutcomeStopped, nil
	}
	return OutcomeExhausted, nil
}
