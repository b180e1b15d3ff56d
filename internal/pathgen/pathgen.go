// Package pathgen builds remote storage keys and checks key ownership.
//
// Keys follow the layout private/{identity}/documents/{syncId}/{fileName}.
// Every download and delete must pass ValidateOwnership first; a mismatch is
// denied, never retried.
package pathgen

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/papersync/papersync/internal/common"
)

const (
	// Namespace is the access-level prefix of every key. Only the owning
	// identity can address keys below it.
	Namespace = "private"

	// Collection names the object family under an identity's namespace.
	Collection = "documents"

	// MetaCollection holds the JSON metadata records mirrored remotely.
	MetaCollection = "meta"
)

// identityRegion matches federated-identity region prefixes such as
// "eu-central-1" or "us-east-2": a two-letter area code, one or more word
// segments, and a numeric suffix.
var identityRegion = regexp.MustCompile(`^[a-z]{2}(-[a-z]+)+-\d+$`)

// ValidateIdentity checks the expected "region:uuid" identity shape.
func ValidateIdentity(identity string) error {
	region, id, ok := strings.Cut(identity, ":")
	if !ok {
		return fmt.Errorf("%w: identity %q is not region:uuid shaped", common.ErrPreconditionFailed, identity)
	}
	if !identityRegion.MatchString(region) {
		return fmt.Errorf("%w: identity region %q is malformed", common.ErrPreconditionFailed, region)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: identity id is not a uuid: %v", common.ErrPreconditionFailed, err)
	}
	return nil
}

// ValidSegment reports whether s is usable as a single key or directory
// segment. It rejects empty names and anything that could traverse out of
// the segment's directory.
func ValidSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`)
}

// GenerateKey returns the storage key for one attachment. Deterministic:
// identical inputs always produce the identical key.
func GenerateKey(identity, syncID, fileName string) (string, error) {
	if err := ValidateIdentity(identity); err != nil {
		return "", err
	}
	if !ValidSegment(syncID) {
		return "", fmt.Errorf("%w: invalid sync id %q", common.ErrPreconditionFailed, syncID)
	}
	if !ValidSegment(fileName) {
		return "", fmt.Errorf("%w: invalid file name %q", common.ErrPreconditionFailed, fileName)
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s", Namespace, identity, Collection, syncID, fileName), nil
}

// MetaKey returns the key of a document's remote metadata record.
func MetaKey(identity, syncID string) (string, error) {
	if err := ValidateIdentity(identity); err != nil {
		return "", err
	}
	if !ValidSegment(syncID) {
		return "", fmt.Errorf("%w: invalid sync id %q", common.ErrPreconditionFailed, syncID)
	}
	return fmt.Sprintf("%s/%s/%s/%s.json", Namespace, identity, MetaCollection, syncID), nil
}

// MetaPrefix returns the listing prefix of an identity's metadata records.
func MetaPrefix(identity string) (string, error) {
	if err := ValidateIdentity(identity); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s/", Namespace, identity, MetaCollection), nil
}

// ValidateOwnership reports whether key lies inside identity's namespace.
// It fails closed: malformed input is never owned.
func ValidateOwnership(key, identity string) bool {
	if key == "" || identity == "" {
		return false
	}
	if err := ValidateIdentity(identity); err != nil {
		return false
	}
	return strings.HasPrefix(key, Namespace+"/"+identity+"/")
}
