// Package identity derives stable external identifiers for transactions so
// repeated ingestion of the same record is idempotent.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// MaxExternalIDLen bounds upstream-supplied references; longer values fall
// back to the derived hash.
const MaxExternalIDLen = 64

// Derive computes the SHA-256 identity of the canonical transaction tuple.
// The timestamp is normalized to UTC (parse naive timestamps as UTC before
// calling), the amount is fixed to two decimal places, currency is trimmed
// and upper-cased, counterparty and direction are trimmed and lower-cased.
// Any change to an input changes the identity; whitespace, casing and
// trailing-zero differences do not.
func Derive(accountID int64, ts time.Time, amount float64, currency, counterparty, direction string) string {
	parts := []string{
		strconv.FormatInt(accountID, 10),
		ts.UTC().Format(time.RFC3339Nano),
		canonicalAmount(amount),
		strings.ToUpper(strings.TrimSpace(currency)),
		strings.ToLower(strings.TrimSpace(counterparty)),
		strings.ToLower(strings.TrimSpace(direction)),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// ForRecord returns the external id for a record: a non-empty upstream
// reference within length bounds wins verbatim, otherwise the identity is
// derived from the canonical tuple.
func ForRecord(override string, accountID int64, ts time.Time, amount float64, currency, counterparty, direction string) string {
	if s := strings.TrimSpace(override); s != "" && len(s) <= MaxExternalIDLen {
		return s
	}
	return Derive(accountID, ts, amount, currency, counterparty, direction)
}

// canonicalAmount renders the amount with exactly two decimal places.
// Amounts differing only beyond two decimals collide on purpose; that is the
// reconciliation tolerance.
func canonicalAmount(amount float64) string {
	return fmt.Sprintf("%.2f", math.Round(amount*100)/100)
}
