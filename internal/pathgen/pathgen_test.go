package pathgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIdentity  = "eu-central-1:8a2b54f3-32fb-4c7d-9c2a-3f1de2a94b10"
	otherIdentity = "eu-central-1:0f0e86c1-640e-4ad4-95f1-0f9c62a7b001"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey(testIdentity, "doc-1", "scan.pdf")
	require.NoError(t, err)
	assert.Equal(t, "private/"+testIdentity+"/documents/doc-1/scan.pdf", key)
}

func TestGenerateKeyDeterministic(t *testing.T) {
	a, err := GenerateKey(testIdentity, "doc-1", "scan.pdf")
	require.NoError(t, err)
	b, err := GenerateKey(testIdentity, "doc-1", "scan.pdf")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := GenerateKey(testIdentity, "doc-2", "scan.pdf")
	require.NoError(t, err)
	d, err := GenerateKey(testIdentity, "doc-1", "other.pdf")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.NotEqual(t, c, d)
}

func TestGenerateKeyRejectsBadInput(t *testing.T) {
	tests := []struct {
		name     string
		identity string
		syncID   string
		fileName string
	}{
		{name: "empty identity", identity: "", syncID: "doc-1", fileName: "a.pdf"},
		{name: "identity without region", identity: "8a2b54f3-32fb-4c7d-9c2a-3f1de2a94b10", syncID: "doc-1", fileName: "a.pdf"},
		{name: "identity with bad uuid", identity: "eu-central-1:not-a-uuid", syncID: "doc-1", fileName: "a.pdf"},
		{name: "identity with bad region", identity: "EUCENTRAL:8a2b54f3-32fb-4c7d-9c2a-3f1de2a94b10", syncID: "doc-1", fileName: "a.pdf"},
		{name: "identity region without numeric suffix", identity: "eu-central:8a2b54f3-32fb-4c7d-9c2a-3f1de2a94b10", syncID: "doc-1", fileName: "a.pdf"},
		{name: "empty sync id", identity: testIdentity, syncID: "", fileName: "a.pdf"},
		{name: "sync id with slash", identity: testIdentity, syncID: "a/b", fileName: "a.pdf"},
		{name: "empty file name", identity: testIdentity, syncID: "doc-1", fileName: ""},
		{name: "file name with slash", identity: testIdentity, syncID: "doc-1", fileName: "../../etc/passwd"},
		{name: "file name with backslash", identity: testIdentity, syncID: "doc-1", fileName: `a\b.pdf`},
		{name: "file name dotdot", identity: testIdentity, syncID: "doc-1", fileName: ".."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GenerateKey(tt.identity, tt.syncID, tt.fileName)
			assert.Error(t, err)
		})
	}
}

func TestValidSegment(t *testing.T) {
	assert.True(t, ValidSegment("doc-1"))
	assert.True(t, ValidSegment("scan.pdf"))
	assert.False(t, ValidSegment(""))
	assert.False(t, ValidSegment("."))
	assert.False(t, ValidSegment(".."))
	assert.False(t, ValidSegment("../outside"))
	assert.False(t, ValidSegment("a/b"))
	assert.False(t, ValidSegment(`a\b`))
}

func TestValidateOwnership(t *testing.T) {
	key, err := GenerateKey(testIdentity, "doc-1", "scan.pdf")
	require.NoError(t, err)

	assert.True(t, ValidateOwnership(key, testIdentity))
	assert.False(t, ValidateOwnership(key, otherIdentity))

	otherKey, err := GenerateKey(otherIdentity, "doc-1", "scan.pdf")
	require.NoError(t, err)
	assert.False(t, ValidateOwnership(otherKey, testIdentity))
	assert.True(t, ValidateOwnership(otherKey, otherIdentity))
}

func TestValidateOwnershipFailsClosed(t *testing.T) {
	assert.False(t, ValidateOwnership("", testIdentity))
	assert.False(t, ValidateOwnership("private/"+testIdentity+"/documents/d/f", ""))
	assert.False(t, ValidateOwnership("public/"+testIdentity+"/documents/d/f", testIdentity))
	// A key whose identity segment merely starts with ours must not pass.
	assert.False(t, ValidateOwnership("private/"+testIdentity+"0/documents/d/f", testIdentity))
	// Malformed identity never owns anything.
	assert.False(t, ValidateOwnership("private/x/documents/d/f", "x"))
}

func TestMetaKeys(t *testing.T) {
	key, err := MetaKey(testIdentity, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "private/"+testIdentity+"/meta/doc-1.json", key)
	assert.True(t, ValidateOwnership(key, testIdentity))

	prefix, err := MetaPrefix(testIdentity)
	require.NoError(t, err)
	assert.Equal(t, "private/"+testIdentity+"/meta/", prefix)

	_, err = MetaKey(testIdentity, "a/b")
	assert.Error(t, err)
}
