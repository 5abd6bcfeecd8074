package singlestore

import (
	"context"

	"github.com/ajitpratap0/memsink/pkg/connector/core"
	"github.com/ajitpratap0/memsink/pkg/errors"
)

// ClaimResult is the outcome of TryClaim.
type ClaimResult int

const (
	// Claimed means the marker row was inserted in the current transaction.
	Claimed ClaimResult = iota
	// AlreadyApplied means a marker for the identity was committed earlier.
	AlreadyApplied
)

// String returns the claim result name.
func (c ClaimResult) String() string {
	if c == AlreadyApplied {
		return "already_applied"
	}
	return "claimed"
}

// TryClaim inserts the marker {identity, count} through session. It must run
// inside the batch transaction so that rolling back removes the claim along
// with any partial data. A primary key violation means the batch was already
// committed and is reported as AlreadyApplied with a nil error.
func TryClaim(ctx context.Context, session core.Session, metadataTable, identity string, count int) (ClaimResult, error) {
	_, err := session.Exec(ctx, markerInsert(metadataTable), identity, count)
	if err == nil {
		return Claimed, nil
	}
	if errors.IsDuplicateKey(err) {
		return AlreadyApplied, nil
	}
	return Claimed, storeError(err, "failed to insert batch marker")
}
