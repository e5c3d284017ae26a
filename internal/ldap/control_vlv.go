package ldap

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// VLVRequest holds the parameters of a Virtual List View request control.
//
//	VirtualListViewRequest ::= SEQUENCE {
//	    beforeCount    INTEGER (0..maxInt),
//	    afterCount     INTEGER (0..maxInt),
//	    target       CHOICE {
//	        byOffset        [0] SEQUENCE {
//	            offset          INTEGER (1 .. maxInt),
//	            contentCount    INTEGER (0 .. maxInt) },
//	        greaterThanOrEqual [1] AssertionValue },
//	    contextID     OCTET STRING OPTIONAL }
type VLVRequest struct {
	BeforeCount  int32
	AfterCount   int32
	Offset       int32
	ContentCount int32
	// AssertionValue selects the greaterThanOrEqual target when non-nil.
	AssertionValue []byte
	ContextID      []byte
}

// VLVResponse is the decoded Virtual List View response control.
type VLVResponse struct {
	TargetPosition int64
	ContentCount   int64
	ResultCode     int64
	ContextID      []byte
}

// EncodeVLVRequest returns the BER encoded control value for req.
func EncodeVLVRequest(req VLVRequest) []byte {
	return encodeVLVRequestPacket(req).Bytes()
}

func encodeVLVRequestPacket(req VLVRequest) *ber.Packet {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "VirtualListViewRequest")
	seq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(req.BeforeCount), "beforeCount"))
	seq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(req.AfterCount), "afterCount"))

	if req.AssertionValue != nil {
		seq.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 1, string(req.AssertionValue), "greaterThanOrEqual"))
	} else {
		target := ber.Encode(ber.ClassContext, ber.TypeConstructed, 0, nil, "byOffset")
		target.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(req.Offset), "offset"))
		target.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(req.ContentCount), "contentCount"))
		seq.AppendChild(target)
	}

	if req.ContextID != nil {
		seq.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, string(req.ContextID), "contextID"))
	}

	return seq
}

// DecodeVLVResponse parses a Virtual List View response control value.
// An empty value decodes to the zero response.
//
//	VirtualListViewResponse ::= SEQUENCE {
//	    targetPosition    INTEGER (0 .. maxInt),
//	    contentCount     INTEGER (0 .. maxInt),
//	    virtualListViewResult ENUMERATED { ... },
//	    contextID     OCTET STRING OPTIONAL }
func DecodeVLVResponse(value []byte) (*VLVResponse, error) {
	resp := &VLVResponse{}
	if len(value) == 0 {
		return resp, nil
	}

	packet, err := ber.DecodePacketErr(value)
	if err != nil {
		return nil, &ProtocolDecodeError{Control: "VLV response", Reason: "invalid BER encoding", Cause: err}
	}

	if packet.ClassType != ber.ClassUniversal || packet.TagType != ber.TypeConstructed || packet.Tag != ber.TagSequence {
		return nil, &ProtocolDecodeError{Control: "VLV response", Reason: fmt.Sprintf("expected SEQUENCE, got tag %d", packet.Tag)}
	}

	if len(packet.Children) < 3 || len(packet.Children) > 4 {
		return nil, &ProtocolDecodeError{Control: "VLV response", Reason: fmt.Sprintf("expected 3 or 4 elements, got %d", len(packet.Children))}
	}

	if resp.TargetPosition, err = berInt(packet.Children[0], ber.TagInteger, "targetPosition"); err != nil {
		return nil, err
	}
	if resp.ContentCount, err = berInt(packet.Children[1], ber.TagInteger, "contentCount"); err != nil {
		return nil, err
	}
	if resp.ResultCode, err = berInt(packet.Children[2], ber.TagEnumerated, "virtualListViewResult"); err != nil {
		return nil, err
	}

	if len(packet.Children) == 4 {
		ctxID := packet.Children[3]
		if ctxID.ClassType != ber.ClassUniversal || ctxID.Tag != ber.TagOctetString {
			return nil, &ProtocolDecodeError{Control: "VLV response", Reason: "contextID is not an OCTET STRING"}
		}
		resp.ContextID = append([]byte{}, ctxID.Data.Bytes()...)
	}

	return resp, nil
}

func berInt(p *ber.Packet, tag ber.Tag, field string) (int64, error) {
	if p.ClassType != ber.ClassUniversal || p.TagType != ber.TypePrimitive || p.Tag != tag {
		return 0, &ProtocolDecodeError{Control: "VLV response", Reason: fmt.Sprintf("%s has unexpected tag %d", field, p.Tag)}
	}
	v, ok := p.Value.(int64)
	if !ok {
		return 0, &ProtocolDecodeError{Control: "VLV response", Reason: field + " is not an integer"}
	}
	return v, nil
}

// ControlVLVRequest is the Virtual List View request control. It is always
// sent critical so a server without VLV support cannot return an unpaged result.
type ControlVLVRequest struct {
	Request VLVRequest
}

// NewControlVLVRequest returns a VLV request control.
func NewControlVLVRequest(req VLVRequest) *ControlVLVRequest {
	return &ControlVLVRequest{Request: req}
}

// GetControlType returns the OID.
func (c *ControlVLVRequest) GetControlType() string {
	return ControlTypeVLVRequest
}

// Encode returns the ber packet representation.
func (c *ControlVLVRequest) Encode() *ber.Packet {
	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
	packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, ControlTypeVLVRequest, "Control Type (Virtual List View Request)"))
	packet.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, true, "Criticality"))

	value := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil, "Control Value (Virtual List View Request)")
	value.AppendChild(encodeVLVRequestPacket(c.Request))
	packet.AppendChild(value)

	return packet
}

// String returns a human-readable description.
func (c *ControlVLVRequest) String() string {
	return fmt.Sprintf(
		"Control Type: %s (%q)  Criticality: %t  BeforeCount: %d  AfterCount: %d  Offset: %d  ContentCount: %d  ContextID: %q",
		"Virtual List View Request",
		ControlTypeVLVRequest,
		true,
		c.Request.BeforeCount,
		c.Request.AfterCount,
		c.Request.Offset,
		c.Request.ContentCount,
		c.Request.ContextID,
	)
}

// findVLVResponse locates and decodes the VLV response control. It returns
// nil without error when the server did not send one.
func findVLVResponse(controls []ldap.Control) (*VLVResponse, error) {
	control := ldap.FindControl(controls, ControlTypeVLVResponse)
	if control == nil {
		return nil, nil
	}

	raw, ok := control.(*ldap.ControlString)
	if !ok {
		return nil, &ProtocolDecodeError{Control: "VLV response", Reason: fmt.Sprintf("unexpected control type %T", control)}
	}

	return DecodeVLVResponse([]byte(raw.ControlValue))
}
