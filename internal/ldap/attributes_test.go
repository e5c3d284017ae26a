package ldap

import (
	"encoding/base64"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
)

func TestEntryAttributes(t *testing.T) {
	// S-1-5-21-1-2-3-500
	sid := []byte{
		0x01, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05,
		0x15, 0x00, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00,
		0x03, 0x00, 0x00, 0x00,
		0xf4, 0x01, 0x00, 0x00,
	}
	// 12345678-9abc-def0-1234-56789abcdef0 in Active Directory byte order.
	guid := []byte{
		0x78, 0x56, 0x34, 0x12,
		0xbc, 0x9a,
		0xf0, 0xde,
		0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0,
	}
	binary := []byte{0x00, 0x01, 0x02, 0xff}

	entry := &ldap.Entry{
		DN: "cn=jdoe,ou=people,dc=example,dc=com",
		Attributes: []*ldap.EntryAttribute{
			ldap.NewEntryAttribute("cn", []string{"jdoe"}),
			ldap.NewEntryAttribute("mail", []string{"jdoe@example.com", "john.doe@example.com"}),
			{Name: "objectSid", ByteValues: [][]byte{sid}},
			{Name: "objectGUID", ByteValues: [][]byte{guid}},
			{Name: "jpegPhoto", ByteValues: [][]byte{binary}},
			ldap.NewEntryAttribute("description", []string{"line one\nline two"}),
		},
	}

	got := EntryAttributes(entry)

	assert.Equal(t, []string{"jdoe"}, got["cn"])
	assert.Equal(t, []string{"jdoe@example.com", "john.doe@example.com"}, got["mail"])
	assert.Equal(t, []string{"S-1-5-21-1-2-3-500"}, got["objectSid"])
	assert.Equal(t, []string{"12345678-9abc-def0-1234-56789abcdef0"}, got["objectGUID"])
	assert.Equal(t, []string{base64.StdEncoding.EncodeToString(binary)}, got["jpegPhoto"])
	assert.Equal(t, []string{"line one\nline two"}, got["description"])
}

func TestRenderValue_MalformedIdentifiers(t *testing.T) {
	short := []byte{0x01, 0x02}
	assert.Equal(t, base64.StdEncoding.EncodeToString(short), renderValue("objectGUID", short))
	assert.Equal(t, base64.StdEncoding.EncodeToString(short), renderValue("objectSid", short))
	assert.Equal(t, "plain", renderValue("objectGUID", []byte("plain")))
}
