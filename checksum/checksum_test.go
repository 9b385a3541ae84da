package checksum

import (
	"testing"

	"github.com/getpup/docledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute_V8IsMD5OfRawContent(t *testing.T) {
	sum, err := Compute(V8, "hello")
	require.NoError(t, err)

	assert.Equal(t, V8, sum.Version)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", sum.Hash)
}

func TestCompute_V9IgnoresWhitespace(t *testing.T) {
	a, err := Compute(V9, `{"settings": {"number_of_shards": 1}}`)
	require.NoError(t, err)
	b, err := Compute(V9, "{\"settings\":   {\"number_of_shards\":\n\t1}}  ")
	require.NoError(t, err)

	assert.Equal(t, V9, a.Version)
	assert.Equal(t, a, b)

	c, err := Compute(V9, `{"settings": {"number_of_shards": 2}}`)
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash, c.Hash)
}

func TestCompute_V8IsWhitespaceSensitive(t *testing.T) {
	a, err := Compute(V8, "a b")
	require.NoError(t, err)
	b, err := Compute(V8, "a  b")
	require.NoError(t, err)

	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestCompute_UnsupportedVersion(t *testing.T) {
	_, err := Compute(7, "x")
	assert.Error(t, err)
	assert.False(t, Supported(7))
	assert.True(t, Supported(Latest))
}

func TestForChangeSet_IgnoresMetadata(t *testing.T) {
	changes := []docledger.Change{
		{Type: docledger.ChangeTypeHTTPRequest, Method: "PUT", Path: "/books", Body: `{"mappings":{}}`},
	}
	a := docledger.ChangeSet{ID: "1", Author: "alice", Comments: "first", Changes: changes}
	b := docledger.ChangeSet{ID: "1", Author: "bob", Comments: "second", Changes: changes}

	sumA, err := ForChangeSet(a, Latest)
	require.NoError(t, err)
	sumB, err := ForChangeSet(b, Latest)
	require.NoError(t, err)
	assert.Equal(t, sumA, sumB)

	b.Changes = []docledger.Change{{Type: docledger.ChangeTypeHTTPRequest, Method: "PUT", Path: "/authors"}}
	sumB, err = ForChangeSet(b, Latest)
	require.NoError(t, err)
	assert.NotEqual(t, sumA, sumB)
}

func TestContent_MethodCaseInsensitive(t *testing.T) {
	lower := Content([]docledger.Change{{Type: docledger.ChangeTypeHTTPRequest, Method: "put", Path: "/x"}})
	upper := Content([]docledger.Change{{Type: docledger.ChangeTypeHTTPRequest, Method: "PUT", Path: "/x"}})

	assert.Equal(t, upper, lower)
}

func TestVersionOf(t *testing.T) {
	assert.Equal(t, Latest, VersionOf(docledger.ChangeSet{}))
	assert.Equal(t, V8, VersionOf(docledger.ChangeSet{StoredCheckSum: &docledger.CheckSum{Version: V8, Hash: "x"}}))
	assert.Equal(t, Latest, VersionOf(docledger.ChangeSet{StoredCheckSum: &docledger.CheckSum{Version: 3, Hash: "x"}}))
}
