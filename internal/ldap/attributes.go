package ldap

import (
	"encoding/base64"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

const guidLength = 16

// EntryAttributes renders every attribute of entry as strings. Security
// identifiers and GUIDs are rendered in their textual forms and any other
// non-text value is base64 encoded.
func EntryAttributes(entry *ldap.Entry) map[string][]string {
	attrs := make(map[string][]string, len(entry.Attributes))
	for _, attr := range entry.Attributes {
		values := make([]string, 0, len(attr.ByteValues))
		for _, raw := range attr.ByteValues {
			values = append(values, renderValue(attr.Name, raw))
		}
		attrs[attr.Name] = values
	}
	return attrs
}

func renderValue(name string, raw []byte) string {
	switch strings.ToLower(name) {
	case "objectsid", "sidhistory":
		if len(raw) >= 8 && len(raw) == 8+4*int(raw[1]) {
			return objectsid.Decode(raw).String()
		}
	case "objectguid":
		if guid, ok := guidFromBytes(raw); ok {
			return guid.String()
		}
	}

	if isText(raw) {
		return string(raw)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// guidFromBytes converts an Active Directory GUID, whose first three fields
// are little-endian, into a UUID.
func guidFromBytes(raw []byte) (uuid.UUID, bool) {
	if len(raw) != guidLength {
		return uuid.Nil, false
	}

	var b [guidLength]byte
	copy(b[:], raw)
	b[0], b[1], b[2], b[3] = raw[3], raw[2], raw[1], raw[0]
	b[4], b[5] = raw[5], raw[4]
	b[6], b[7] = raw[7], raw[6]

	guid, err := uuid.FromBytes(b[:])
	if err != nil {
		return uuid.Nil, false
	}
	return guid, true
}

func isText(raw []byte) bool {
	if !utf8.Valid(raw) {
		return false
	}
	for _, r := range string(raw) {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return false
		}
	}
	return true
}
