package ldap

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// EncodeCookie serializes a server cookie and base DN index into an opaque
// continuation token. An empty cookie yields "", meaning nothing to resume.
func EncodeCookie(cookie []byte, baseDNIndex int) string {
	if len(cookie) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(cookie) + ":" + strconv.Itoa(baseDNIndex)
}

// DecodeCookie parses a token produced by EncodeCookie.
func DecodeCookie(token string) ([]byte, int, error) {
	sep := strings.LastIndex(token, ":")
	if sep < 0 {
		return nil, 0, &MalformedCookieError{Token: token, Reason: "missing base DN index separator"}
	}

	encoded, index := token[:sep], token[sep+1:]
	if encoded == "" || index == "" {
		return nil, 0, &MalformedCookieError{Token: token, Reason: "expected two non-empty parts"}
	}

	cookie, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, 0, &MalformedCookieError{Token: token, Reason: "invalid cookie encoding", Cause: err}
	}

	baseDNIndex, err := strconv.Atoi(index)
	if err != nil {
		return nil, 0, &MalformedCookieError{Token: token, Reason: "invalid base DN index", Cause: err}
	}
	if baseDNIndex < 0 {
		return nil, 0, &MalformedCookieError{Token: token, Reason: "negative base DN index"}
	}

	return cookie, baseDNIndex, nil
}

// PagedResultsState is the continuation carried between search calls.
type PagedResultsState struct {
	// Cookie is the raw server cookie or VLV context ID; nil when exhausted.
	Cookie []byte
	// BaseDNIndex is the position in SearchRequest.BaseDNs the cookie belongs to.
	BaseDNIndex int
	// Remaining is the server's estimate of entries left, or -1 if unknown.
	Remaining int
	// Strategy is the paging strategy that served the call.
	Strategy PagingStrategy
}

// NewPagedResultsState returns an empty continuation.
func NewPagedResultsState() *PagedResultsState {
	return &PagedResultsState{Remaining: -1}
}

// PagedResultsCookie returns the continuation token, or "" when the search is complete.
func (s *PagedResultsState) PagedResultsCookie() string {
	if s == nil {
		return ""
	}
	return EncodeCookie(s.Cookie, s.BaseDNIndex)
}

// RemainingPagedResults returns the server-reported remaining estimate, -1 meaning unknown.
func (s *PagedResultsState) RemainingPagedResults() int {
	if s == nil {
		return -1
	}
	return s.Remaining
}

// resetForBase prepares the state for a fresh base DN.
func (s *PagedResultsState) resetForBase(index int) {
	s.Cookie = nil
	s.BaseDNIndex = index
	s.Remaining = -1
}

// encodeVLVContinuation packs the next VLV target and the server context ID
// into the raw cookie of a virtual list view continuation.
//
//	VLVContinuation ::= SEQUENCE {
//	    target     INTEGER (1 .. maxInt),
//	    contextID  OCTET STRING OPTIONAL }
func encodeVLVContinuation(target int, contextID []byte) []byte {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "VLVContinuation")
	seq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(target), "target"))
	if len(contextID) > 0 {
		seq.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, string(contextID), "contextID"))
	}
	return seq.Bytes()
}

// decodeVLVContinuation reverses encodeVLVContinuation.
func decodeVLVContinuation(raw []byte) (int, []byte, error) {
	malformed := func(reason string, cause error) error {
		return &MalformedCookieError{Token: base64.StdEncoding.EncodeToString(raw), Reason: reason, Cause: cause}
	}

	packet, err := ber.DecodePacketErr(raw)
	if err != nil {
		return 0, nil, malformed("virtual list view continuation is not valid BER", err)
	}
	if packet.Tag != ber.TagSequence || packet.TagType != ber.TypeConstructed {
		return 0, nil, malformed("virtual list view continuation is not a SEQUENCE", nil)
	}
	if len(packet.Children) < 1 || len(packet.Children) > 2 {
		return 0, nil, malformed(fmt.Sprintf("virtual list view continuation has %d elements", len(packet.Children)), nil)
	}

	target, ok := packet.Children[0].Value.(int64)
	if !ok || packet.Children[0].Tag != ber.TagInteger || target < 1 {
		return 0, nil, malformed("virtual list view continuation has no valid target", nil)
	}

	var contextID []byte
	if len(packet.Children) == 2 {
		child := packet.Children[1]
		if child.Tag != ber.TagOctetString {
			return 0, nil, malformed("virtual list view context ID is not an OCTET STRING", nil)
		}
		contextID = append([]byte{}, child.Data.Bytes()...)
	}

	return int(target), contextID, nil
}
