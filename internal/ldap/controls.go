package ldap

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// Control OIDs used by the paging strategies.
const (
	ControlTypePagedResults = ldap.ControlTypePaging
	ControlTypeVLVRequest   = "2.16.840.1.113730.3.4.9"
	ControlTypeVLVResponse  = "2.16.840.1.113730.3.4.10"
	ControlTypeSortRequest  = ldap.ControlTypeServerSideSorting
	ControlTypeSortResponse = ldap.ControlTypeServerSideSortingResult
)

// criticalControl marks a wrapped control as critical on the wire.
type criticalControl struct {
	ldap.Control
}

func markCritical(c ldap.Control) ldap.Control {
	return &criticalControl{Control: c}
}

// Encode re-emits the wrapped control with criticality TRUE after its OID.
func (c *criticalControl) Encode() *ber.Packet {
	inner := c.Control.Encode()

	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
	for i, child := range inner.Children {
		if i == 1 {
			if _, ok := child.Value.(bool); ok {
				continue
			}
		}
		packet.AppendChild(child)
		if i == 0 {
			packet.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, true, "Criticality"))
		}
	}

	return packet
}

func (c *criticalControl) String() string {
	return c.Control.String() + " (critical)"
}

// newSortControl builds a non-critical server-side sort request.
func newSortControl(keys []SortKey) *ldap.ControlServerSideSorting {
	sortKeys := make([]*ldap.SortKey, 0, len(keys))
	for _, key := range keys {
		sortKeys = append(sortKeys, &ldap.SortKey{
			AttributeType: key.Attribute,
			MatchingRule:  key.OrderingRule,
			Reverse:       key.Reverse,
		})
	}
	return ldap.NewControlServerSideSortingWithSortKeys(sortKeys)
}

// sortResultCode extracts the sortResult of a server-side sort response.
// found is false when the server sent no sort response control.
func sortResultCode(controls []ldap.Control) (code int64, found bool, err error) {
	control := ldap.FindControl(controls, ControlTypeSortResponse)
	if control == nil {
		return 0, false, nil
	}

	switch c := control.(type) {
	case *ldap.ControlServerSideSortingResult:
		return int64(c.Result), true, nil
	case *ldap.ControlString:
		packet, err := ber.DecodePacketErr([]byte(c.ControlValue))
		if err != nil {
			return 0, true, &ProtocolDecodeError{Control: "sort response", Reason: "invalid BER encoding", Cause: err}
		}
		if len(packet.Children) == 0 {
			return 0, true, &ProtocolDecodeError{Control: "sort response", Reason: "missing sortResult"}
		}
		v, ok := packet.Children[0].Value.(int64)
		if !ok {
			return 0, true, &ProtocolDecodeError{Control: "sort response", Reason: "sortResult is not an ENUMERATED"}
		}
		return v, true, nil
	default:
		return 0, true, &ProtocolDecodeError{Control: "sort response", Reason: fmt.Sprintf("unexpected control type %T", control)}
	}
}

// pagedResultsResponse returns the paged results response control, if any.
func pagedResultsResponse(controls []ldap.Control) *ldap.ControlPaging {
	if paging, ok := ldap.FindControl(controls, ControlTypePagedResults).(*ldap.ControlPaging); ok {
		return paging
	}
	return nil
}
