// Package checksum computes versioned checksums of change set definitions.
//
// Version 8 hashes the raw definition with MD5. Version 9 normalises
// whitespace first and hashes with xxHash64, so reformatting a changelog does
// not invalidate the recorded checksums.
package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/getpup/docledger"
)

const (
	// V8 hashes the raw content with MD5.
	V8 = 8

	// V9 hashes whitespace-normalised content with xxHash64.
	V9 = 9

	// Latest is the version used for new ledger entries.
	Latest = V9
)

// Supported reports whether version can be computed.
func Supported(version int) bool {
	return version == V8 || version == V9
}

// Compute hashes content with the given checksum version.
func Compute(version int, content string) (docledger.CheckSum, error) {
	switch version {
	case V8:
		sum := md5.Sum([]byte(content))
		return docledger.CheckSum{Version: V8, Hash: hex.EncodeToString(sum[:])}, nil
	case V9:
		sum := xxhash.Sum64String(normalize(content))
		return docledger.CheckSum{Version: V9, Hash: strconv.FormatUint(sum, 16)}, nil
	default:
		return docledger.CheckSum{}, fmt.Errorf("unsupported checksum version %d", version)
	}
}

// ForChangeSet computes the checksum of the change set's changes.
// Metadata such as author, comments or contexts does not contribute.
func ForChangeSet(cs docledger.ChangeSet, version int) (docledger.CheckSum, error) {
	return Compute(version, Content(cs.Changes))
}

// VersionOf returns the version a change set should be checked with: the
// version of its stored checksum, or Latest when it has none.
func VersionOf(cs docledger.ChangeSet) int {
	if cs.StoredCheckSum != nil && Supported(cs.StoredCheckSum.Version) {
		return cs.StoredCheckSum.Version
	}
	return Latest
}

// Content renders the changes in the canonical form that is hashed.
func Content(changes []docledger.Change) string {
	var b strings.Builder
	for i, c := range changes {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(c.Type)
		b.WriteString(":")
		b.WriteString(strings.ToUpper(c.Method))
		b.WriteString(":")
		b.WriteString(c.Path)
		b.WriteString(":")
		b.WriteString(c.Body)
	}
	return b.String()
}

// normalize collapses every run of whitespace into a single space and trims
// both ends.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
