package ldap

import (
	"context"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// vlvRequest matches a VLV window request for target with afterCount and
// the content count hint.
func vlvRequest(target, after, contentCount int32) any {
	return mock.MatchedBy(func(req *ldap.SearchRequest) bool {
		vlv := vlvControlOf(req)
		return vlv != nil &&
			vlv.Request.Offset == target &&
			vlv.Request.AfterCount == after &&
			vlv.Request.ContentCount == contentCount &&
			vlv.Request.BeforeCount == 0
	})
}

func newTestVLVStrategy(blockSize int, req *SearchRequest, logger Logger) *vlvStrategy {
	cfg := NewPagingConfig()
	cfg.VLVBlockSize = blockSize
	return newVLVStrategy(cfg, req, logger)
}

func TestVLV_AllWindows(t *testing.T) {
	session := newMockSession(ControlTypeVLVRequest)
	session.On("Search", mock.Anything, vlvRequest(1, 9, 0)).
		Return(vlvPage(makeEntries(peopleDN, "u", 1, 10), 1, 20, "ctx-1"), nil).Once()
	session.On("Search", mock.Anything, mock.MatchedBy(func(req *ldap.SearchRequest) bool {
		vlv := vlvControlOf(req)
		return vlv != nil && vlv.Request.Offset == 11 && string(vlv.Request.ContextID) == "ctx-1"
	})).Return(vlvPage(makeEntries(peopleDN, "u", 11, 10), 11, 20, "ctx-2"), nil).Once()
	session.On("Reconnect", mock.Anything).Return(nil).Once()

	req := &SearchRequest{BaseDNs: []string{peopleDN}}
	strategy := newTestVLVStrategy(10, req, newRecordingLogger())
	state := NewPagedResultsState()

	var results []*Result
	outcome, err := strategy.SearchBase(context.Background(), session, req, 0, state, collect(&results))
	require.NoError(t, err)

	assert.Equal(t, OutcomeExhausted, outcome)
	assert.Len(t, results, 20)
	assert.Nil(t, state.Cookie)
	assert.Equal(t, 0, state.RemainingPagedResults())
	session.AssertExpectations(t)
}

func TestVLV_AttachesSortAndCriticalVLVControls(t *testing.T) {
	session := newMockSession(ControlTypeVLVRequest)
	session.On("Search", mock.Anything, mock.MatchedBy(func(req *ldap.SearchRequest) bool {
		sorting, ok := ldap.FindControl(req.Controls, ControlTypeSortRequest).(*ldap.ControlServerSideSorting)
		if !ok || encodedCritical(sorting) || len(sorting.SortKeys) != 1 || sorting.SortKeys[0].AttributeType != "uid" {
			return false
		}
		vlv := vlvControlOf(req)
		return vlv != nil && encodedCritical(vlv)
	})).Return(vlvPage(nil, 0, 0, ""), nil).Once()
	session.On("Reconnect", mock.Anything).Return(nil).Once()

	req := &SearchRequest{BaseDNs: []string{peopleDN}}
	strategy := newTestVLVStrategy(10, req, newRecordingLogger())

	outcome, err := strategy.SearchBase(context.Background(), session, req, 0, NewPagedResultsState(), collect(new([]*Result)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhausted, outcome)
	session.AssertExpectations(t)
}

func TestVLV_DropsBoundaryDuplicate(t *testing.T) {
	firstPage := makeEntries(peopleDN, "u", 1, 10)
	// The server repeats u10 at the start of the second window.
	secondPage := append(makeEntries(peopleDN, "u", 10, 1), makeEntries(peopleDN, "u", 11, 10)...)

	session := newMockSession(ControlTypeVLVRequest)
	session.On("Search", mock.Anything, vlvRequest(1, 9, 0)).
		Return(vlvPage(firstPage, 1, 20, ""), nil).Once()
	session.On("Search", mock.Anything, vlvRequest(11, 9, 20)).
		Return(vlvPage(secondPage, 11, 20, ""), nil).Once()
	session.On("Reconnect", mock.Anything).Return(nil).Once()

	req := &SearchRequest{BaseDNs: []string{peopleDN}}
	strategy := newTestVLVStrategy(10, req, newRecordingLogger())

	var results []*Result
	outcome, err := strategy.SearchBase(context.Background(), session, req, 0, NewPagedResultsState(), collect(&results))
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhausted, outcome)

	require.Len(t, results, 20)
	seen := make(map[string]int)
	for _, r := range results {
		seen[r.DN()]++
	}
	assert.Len(t, seen, 20)
	assert.Equal(t, "uid=u10,"+peopleDN, results[9].DN())
	assert.Equal(t, "uid=u11,"+peopleDN, results[10].DN())
	session.AssertExpectations(t)
}

func TestVLV_HandlerStop(t *testing.T) {
	session := newMockSession(ControlTypeVLVRequest)
	session.On("Search", mock.Anything, vlvRequest(1, 9, 0)).
		Return(vlvPage(makeEntries(peopleDN, "u", 1, 10), 1, 20, "ctx"), nil).Once()

	req := &SearchRequest{BaseDNs: []string{peopleDN}}
	strategy := newTestVLVStrategy(10, req, newRecordingLogger())
	state := NewPagedResultsState()

	calls := 0
	outcome, err := strategy.SearchBase(context.Background(), session, req, 0, state, func(*Result) bool {
		calls++
		return calls < 7
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeStopped, outcome)
	assert.Equal(t, 7, calls)

	// Six entries were accepted, so a resume starts at the seventh.
	target, contextID, err := decodeVLVContinuation(state.Cookie)
	require.NoError(t, err)
	assert.Equal(t, 7, target)
	assert.Equal(t, []byte("ctx"), contextID)

	session.AssertNumberOfCalls(t, "Search", 1)
	session.AssertNotCalled(t, "Reconnect", mock.Anything)
	session.AssertExpectations(t)
}

func TestVLV_SortFailureIsFatal(t *testing.T) {
	session := newMockSession(ControlTypeVLVRequest)
	session.On("Search", mock.Anything, mock.Anything).Return(&ldap.SearchResult{
		Entries: makeEntries(peopleDN, "u", 1, 5),
		Controls: []ldap.Control{
			sortResponseControl(int64(ldap.ControlServerSideSortingCodeNoSuchAttribute)),
			vlvResponseControl(1, 5, 0, ""),
		},
	}, nil).Once()

	req := &SearchRequest{BaseDNs: []string{peopleDN}}
	strategy := newTestVLVStrategy(10, req, newRecordingLogger())

	calls := 0
	_, err := strategy.SearchBase(context.Background(), session, req, 0, NewPagedResultsState(), func(*Result) bool {
		calls++
		return true
	})
	require.Error(t, err)

	var ldapErr *LDAPError
	require.ErrorAs(t, err, &ldapErr)
	assert.Equal(t, "vlv_sort", ldapErr.Operation)
	assert.Equal(t, uint16(ldap.ControlServerSideSortingCodeNoSuchAttribute), ldapErr.LDAPCode)
	assert.Zero(t, calls, "no entries may be delivered from a page that failed validation")
	session.AssertNotCalled(t, "Reconnect", mock.Anything)
}

func TestVLV_ResultCodeIsFatal(t *testing.T) {
	session := newMockSession(ControlTypeVLVRequest)
	session.On("Search", mock.Anything, mock.Anything).Return(&ldap.SearchResult{
		Entries:  makeEntries(peopleDN, "u", 1, 5),
		Controls: []ldap.Control{sortResponseControl(0), vlvResponseControl(0, 5, ldap.LDAPResultOffsetRangeError, "")},
	}, nil).Once()

	req := &SearchRequest{BaseDNs: []string{peopleDN}}
	strategy := newTestVLVStrategy(10, req, newRecordingLogger())

	_, err := strategy.SearchBase(context.Background(), session, req, 0, NewPagedResultsState(), collect(new([]*Result)))

	var ldapErr *LDAPError
	require.ErrorAs(t, err, &ldapErr)
	assert.Equal(t, "vlv_search", ldapErr.Operation)
	assert.Equal(t, uint16(ldap.LDAPResultOffsetRangeError), ldapErr.LDAPCode)
	assert.Equal(t, ErrorCategoryProtocol, ldapErr.Category)
}

func TestVLV_MalformedResponseIsFatal(t *testing.T) {
	session := newMockSession(ControlTypeVLVRequest)
	session.On("Search", mock.Anything, mock.Anything).Return(&ldap.SearchResult{
		Controls: []ldap.Control{
			sortResponseControl(0),
			&ldap.ControlString{ControlType: ControlTypeVLVResponse, ControlValue: "\x30\x09\x02"},
		},
	}, nil).Once()

	req := &SearchRequest{BaseDNs: []string{peopleDN}}
	strategy := newTestVLVStrategy(10, req, newRecordingLogger())

	_, err := strategy.SearchBase(context.Background(), session, req, 0, NewPagedResultsState(), collect(new([]*Result)))
	assert.ErrorIs(t, err, ErrProtocolDecode)
}

func TestVLV_EmptyWindowStops(t *testing.T) {
	session := newMockSession(ControlTypeVLVRequest)
	session.On("Search", mock.Anything, vlvRequest(1, 9, 0)).
		Return(vlvPage(makeEntries(peopleDN, "u", 1, 10), 1, 50, ""), nil).Once()
	session.On("Search", mock.Anything, vlvRequest(11, 9, 50)).
		Return(vlvPage(nil, 11, 50, ""), nil).Once()
	session.On("Reconnect", mock.Anything).Return(nil).Once()

	logger := newRecordingLogger()
	req := &SearchRequest{BaseDNs: []string{peopleDN}}
	strategy := newTestVLVStrategy(10, req, logger)

	var results []*Result
	outcome, err := strategy.SearchBase(context.Background(), session, req, 0, NewPagedResultsState(), collect(&results))
	require.NoError(t, err)

	assert.Equal(t, OutcomeExhausted, outcome)
	assert.Len(t, results, 10)
	assert.Len(t, logger.warnings(), 1)
	session.AssertNumberOfCalls(t, "Search", 2)
}

func TestVLV_OffsetWithBudget(t *testing.T) {
	session := newMockSession(ControlTypeVLVRequest)
	session.On("Search", mock.Anything, vlvRequest(5, 3, 0)).
		Return(vlvPage(makeEntries(peopleDN, "u", 5, 4), 5, 100, "ctx-5"), nil).Once()

	req := &SearchRequest{BaseDNs: []string{peopleDN}, Offset: 5, MaxEntries: 4}
	strategy := newTestVLVStrategy(10, req, newRecordingLogger())
	state := NewPagedResultsState()

	var results []*Result
	outcome, err := strategy.SearchBase(context.Background(), session, req, 0, state, collect(&results))
	require.NoError(t, err)

	assert.Equal(t, OutcomePaused, outcome)
	assert.Len(t, results, 4)

	target, contextID, err := decodeVLVContinuation(state.Cookie)
	require.NoError(t, err)
	assert.Equal(t, 9, target)
	assert.Equal(t, []byte("ctx-5"), contextID)
	assert.Equal(t, 92, state.RemainingPagedResults())
	session.AssertNotCalled(t, "Reconnect", mock.Anything)
	session.AssertExpectations(t)
}

func TestVLV_MissingResponseControl(t *testing.T) {
	session := newMockSession(ControlTypeVLVRequest)
	session.On("Search", mock.Anything, mock.Anything).Return(&ldap.SearchResult{
		Entries:  makeEntries(peopleDN, "u", 1, 3),
		Controls: []ldap.Control{sortResponseControl(0)},
	}, nil).Once()

	req := &SearchRequest{BaseDNs: []string{peopleDN}}
	strategy := newTestVLVStrategy(10, req, newRecordingLogger())

	var results []*Result
	_, err := strategy.SearchBase(context.Background(), session, req, 0, NewPagedResultsState(), collect(&results))
	require.Error(t, err)

	var decodeErr *ProtocolDecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.ErrorIs(t, err, ErrProtocolDecode)
	assert.Empty(t, results)
	session.AssertNotCalled(t, "Reconnect", mock.Anything)
}

func TestVLV_ResumesFromContinuation(t *testing.T) {
	session := newMockSession(ControlTypeVLVRequest)
	session.On("Search", mock.Anything, mock.MatchedBy(func(req *ldap.SearchRequest) bool {
		vlv := vlvControlOf(req)
		return vlv != nil && vlv.Request.Offset == 6 && vlv.Request.AfterCount == 4 &&
			string(vlv.Request.ContextID) == "ctx-1"
	})).Return(vlvPage(makeEntries(peopleDN, "u", 6, 5), 6, 12, "ctx-2"), nil).Once()

	req := &SearchRequest{BaseDNs: []string{peopleDN}, MaxEntries: 5}
	strategy := newTestVLVStrategy(10, req, newRecordingLogger())
	state := NewPagedResultsState()
	state.Cookie = encodeVLVContinuation(6, []byte("ctx-1"))

	var results []*Result
	outcome, err := strategy.SearchBase(context.Background(), session, req, 0, state, collect(&results))
	require.NoError(t, err)

	assert.Equal(t, OutcomePaused, outcome)
	require.Len(t, results, 5)
	assert.Equal(t, "uid=u6,"+peopleDN, results[0].DN())

	target, _, err := decodeVLVContinuation(state.Cookie)
	require.NoError(t, err)
	assert.Equal(t, 11, target)
	assert.Equal(t, 2, state.RemainingPagedResults())
	session.AssertExpectations(t)
}

func TestVLV_MalformedContinuation(t *testing.T) {
	session := newMockSession(ControlTypeVLVRequest)

	req := &SearchRequest{BaseDNs: []string{peopleDN}}
	strategy := newTestVLVStrategy(10, req, newRecordingLogger())
	state := NewPagedResultsState()
	state.Cookie = []byte("not-ber")

	_, err := strategy.SearchBase(context.Background(), session, req, 0, state, collect(new([]*Result)))
	assert.ErrorIs(t, err, ErrMalformedCookie)
	session.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestVLV_AfterCount(t *testing.T) {
	strategy := &vlvStrategy{blockSize: 100}

	tests := []struct {
		name  string
		req   SearchRequest
		first int
		index int
		want  int
	}{
		{name: "unbounded", first: 1, index: 1, want: 99},
		{name: "budget larger than block", req: SearchRequest{MaxEntries: 500}, first: 1, index: 1, want: 99},
		{name: "budget tail", req: SearchRequest{MaxEntries: 150}, first: 1, index: 101, want: 49},
		{name: "offset budget", req: SearchRequest{Offset: 10, MaxEntries: 5}, first: 10, index: 10, want: 4},
		{name: "resumed budget", req: SearchRequest{MaxEntries: 5}, first: 6, index: 6, want: 4},
		{name: "never negative", req: SearchRequest{MaxEntries: 5}, first: 1, index: 10, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, strategy.afterCount(&tt.req, tt.first, tt.index))
		})
	}
}
