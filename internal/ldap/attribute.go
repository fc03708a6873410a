package ldap

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// DNAttribute is the pseudo-attribute that resolves to an entry's distinguished name.
const DNAttribute = "dn"

// guidLength is the size of a binary objectGUID value.
const guidLength = 16

// binaryAttributes are rendered to their textual form instead of returned raw.
var binaryAttributes = map[string]func([]byte) (string, error){
	"objectsid":  DecodeSID,
	"objectguid": DecodeGUID,
}

// GetAttributeFromResults returns the first value of attr from the first entry
// that defines it. Attribute names match case-insensitively.
func GetAttributeFromResults(result *SearchResult, attr string) (string, bool) {
	if result == nil {
		return "", false
	}

	for _, entry := range result.Entries {
		if entry == nil {
			continue
		}
		if strings.EqualFold(attr, DNAttribute) {
			return entry.DN, true
		}
		for _, a := range entry.Attributes {
			if !strings.EqualFold(a.Name, attr) || len(a.Values) == 0 {
				continue
			}
			return attributeValue(a), true
		}
	}

	return "", false
}

// IsValidResult reports whether a search returned at least one entry.
func IsValidResult(result *SearchResult) bool {
	return result.Len() > 0
}

func attributeValue(a *ldap.EntryAttribute) string {
	decode, ok := binaryAttributes[strings.ToLower(a.Name)]
	if !ok || len(a.ByteValues) == 0 {
		return a.Values[0]
	}
	s, err := decode(a.ByteValues[0])
	if err != nil {
		// Fixtures and some servers store these as text already.
		return a.Values[0]
	}
	return s
}

// DecodeSID converts a binary objectSid to its S-1-... form.
func DecodeSID(b []byte) (string, error) {
	// A SID is at least revision, sub-authority count and a 6 byte authority.
	if len(b) < 8 || len(b) != 8+4*int(b[1]) {
		return "", fmt.Errorf("invalid binary SID length %d", len(b))
	}
	return objectsid.Decode(b).String(), nil
}

// DecodeGUID converts a binary objectGUID, stored mixed-endian, to canonical form.
func DecodeGUID(b []byte) (string, error) {
	if len(b) != guidLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", guidLength, len(b))
	}

	var u uuid.UUID
	// Data1, Data2 and Data3 are little-endian, Data4 is kept as is.
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:])

	return u.String(), nil
}
