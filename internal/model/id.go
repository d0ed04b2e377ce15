package model

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/rs/xid"
)

// NewID returns a fresh 24 character hex id. The 12 bytes are an xid (time,
// machine, pid, counter), which is also the layout of a BSON ObjectID, so ids
// sort by creation time.
func NewID() string {
	return hex.EncodeToString(xid.New().Bytes())
}

// IsID reports whether s has the NewID shape.
func IsID(s string) bool {
	if len(s) != 24 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// DerivedID maps seed to a stable id with the NewID shape. purpose keeps
// derivations from the same seed apart.
func DerivedID(purpose, seed string) string {
	sum := sha256.Sum256([]byte(purpose + "\x00" + seed))
	return hex.EncodeToString(sum[:12])
}

// ReaderIDForAccount is the id of the Reader created when the provisional
// subject accountID skips binding. A retried call finds the Reader an earlier
// attempt created instead of making a second one.
func ReaderIDForAccount(accountID string) string {
	return DerivedID("skip-bind-reader", accountID)
}
