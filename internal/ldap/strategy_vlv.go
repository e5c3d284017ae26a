package ldap

import (
	"context"
	"fmt"
	"math"

	"github.com/go-ldap/ldap/v3"
)

// vlvStrategy drives offset-based retrieval with the Virtual List View and
// server-side sort controls.
type vlvStrategy struct {
	blockSize int
	sortKey   SortKey
	logger    Logger
}

func newVLVStrategy(cfg *PagingConfig, req *SearchRequest, logger Logger) *vlvStrategy {
	sortKey := SortKey{
		Attribute:    cfg.VLVSortAttribute,
		OrderingRule: cfg.VLVSortOrderingRule,
	}
	if len(req.SortKeys) > 0 {
		sortKey = req.SortKeys[0]
	}

	return &vlvStrategy{
		blockSize: cfg.VLVBlockSize,
		sortKey:   sortKey,
		logger:    logger,
	}
}

func (s *vlvStrategy) Name() PagingStrategy {
	return PagingStrategyVLV
}

// afterCount sizes the next window so it never reaches past the last entry
// of the budget that started at first.
func (s *vlvStrategy) afterCount(req *SearchRequest, first, index int) int {
	after := s.blockSize - 1
	if req.MaxEntries > 0 {
		after = min(after, first+req.MaxEntries-1-index)
	}
	return max(after, 0)
}

func (s *vlvStrategy) budgetReached(req *SearchRequest, first, index int) bool {
	if req.MaxEntries <= 0 {
		return false
	}
	return index >= first+req.MaxEntries
}

func (s *vlvStrategy) SearchBase(ctx context.Context, session Session, req *SearchRequest, baseDNIndex int, state *PagedResultsState, handler EntryHandler) (Outcome, error) {
	baseDN := req.BaseDNs[baseDNIndex]

	index := max(req.Offset, 1)
	var contextID []byte
	if state.BaseDNIndex == baseDNIndex && len(state.Cookie) > 0 {
		target, id, err := decodeVLVContinuation(state.Cookie)
		if err != nil {
			return OutcomeExhausted, err
		}
		index, contextID = target, id
		s.logger.Debug("Resuming virtual list view search", map[string]any{
			"base_dn": baseDN,
			"target":  index,
		})
	}
	state.resetForBase(baseDNIndex)

	first := index
	lastContentCount := 0
	lastDN := ""
	outcome := OutcomeExhausted

	for page := 1; ; page++ {
		after := s.afterCount(req, first, index)
		vlvReq := VLVRequest{
			BeforeCount:  0,
			AfterCount:   clampInt32(after),
			Offset:       clampInt32(index),
			ContentCount: clampInt32(lastContentCount),
			ContextID:    contextID,
		}

		controls := []ldap.Control{
			newSortControl([]SortKey{s.sortKey}),
			NewControlVLVRequest(vlvReq),
		}

		pageFields := map[string]any{
			"base_dn":       baseDN,
			"page_number":   page,
			"target":        index,
			"after_count":   after,
			"content_count": lastContentCount,
		}
		s.logger.Trace("Requesting virtual list view window", pageFields)

		result, err := session.Search(ctx, req.toLDAP(baseDN, controls))
		if err != nil {
			LogLDAPError(s.logger, "vlv_search", err, pageFields)
			return OutcomeExhausted, WrapError("vlv_search", baseDN, err)
		}

		// The whole page is buffered in result; validate controls before delivering any of it.
		if err := s.checkSortResult(result.Controls, baseDN); err != nil {
			return OutcomeExhausted, err
		}

		response, err := findVLVResponse(result.Controls)
		if err != nil {
			return OutcomeExhausted, err
		}
		if response == nil {
			return OutcomeExhausted, &ProtocolDecodeError{
				Control: "virtual list view response",
				Reason:  "server accepted the critical request control but returned no response control",
			}
		}
		if response.ResultCode != 0 {
			return OutcomeExhausted, &LDAPError{
				Operation: "vlv_search",
				Category:  ErrorCategoryProtocol,
				LDAPCode:  uint16(response.ResultCode),
				Message:   fmt.Sprintf("virtual list view failed: %s", resultCodeMessage(uint16(response.ResultCode))),
				DN:        baseDN,
			}
		}
		lastContentCount = int(response.ContentCount)
		contextID = response.ContextID

		entries := result.Entries
		if len(entries) > 0 && lastDN != "" && sameDN(entries[0].DN, lastDN) {
			s.logger.Debug("Dropping entry repeated at window boundary", map[string]any{
				"base_dn": baseDN,
				"dn":      entries[0].DN,
			})
			entries = entries[1:]
		}

		accepted, stopped := deliver(baseDN, entries, handler)
		index += accepted
		if accepted > 0 {
			lastDN = entries[accepted-1].DN
		}
		state.Remaining = max(lastContentCount-index+1, 0)
		state.Cookie = encodeVLVContinuation(index, contextID)

		s.logger.Debug("Completed virtual list view window", map[string]any{
			"base_dn":         baseDN,
			"page_number":     page,
			"entries_in_page": len(result.Entries),
			"delivered":       accepted,
			"next_target":     index,
			"content_count":   lastContentCount,
		})

		if stopped {
			outcome = OutcomeStopped
			break
		}
		if index > lastContentCount {
			break
		}
		if s.budgetReached(req, first, index) {
			outcome = OutcomePaused
			break
		}
		if len(entries) == 0 {
			s.logger.Warn("Virtual list view returned no entries before reaching content count, ending search", map[string]any{
				"base_dn":       baseDN,
				"target":        index,
				"content_count": lastContentCount,
			})
			break
		}
	}

	if outcome != OutcomeExhausted {
		// The continuation refers to the server context of this session.
		return outcome, nil
	}

	state.Cookie = nil
	if req.Offset == 0 {
		if err := session.Reconnect(ctx); err != nil {
			return outcome, fmt.Errorf("failed to reopen session after virtual list view search: %w", err)
		}
	}

	return outcome, nil
}

// checkSortResult fails the page unless the server confirmed the sort.
func (s *vlvStrategy) checkSortResult(controls []ldap.Control, baseDN string) error {
	code, found, err := sortResultCode(controls)
	if err != nil {
		return err
	}
	if !found {
		s.logger.Debug("Server returned no sort response control", map[string]any{"base_dn": baseDN})
		return nil
	}
	if code != 0 {
		return &LDAPError{
			Operation: "vlv_sort",
			Category:  ErrorCategoryProtocol,
			LDAPCode:  uint16(code),
			Message:   fmt.Sprintf("server-side sort on %q failed: %s", s.sortKey.Attribute, resultCodeMessage(uint16(code))),
			DN:        baseDN,
		}
	}
	return nil
}

func clampInt32(v int) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < 0 {
		return 0
	}
	return int32(v)
}
