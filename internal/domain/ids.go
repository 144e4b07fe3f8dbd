package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// NewSignalID derives the deterministic signal identity from the fields that
// make a detection unique. The same detection always hashes to the same id,
// so repository saves and broker submissions are idempotent.
func NewSignalID(ds, strategyID, symbol, patternName string, barTs time.Time) string {
	seed := fmt.Sprintf("%s|%s|%s|%s|%d", ds, strategyID, symbol, patternName, barTs.UTC().Unix())
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// DateDS formats a bar timestamp as the partition date string used for ds.
func DateDS(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}
