package payments

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// IdempotencyKey derives the processor idempotency key for one logical
// payment request. Requests with the same principal, resource, amount and
// currency inside the same window share a key. attempt is the number of
// payments already recorded for the resource, so a new request after a
// settled one gets a fresh key while a retry after a lost response does not.
func IdempotencyKey(principalID, resourceID string, amount int64, currency string, attempt int64, window time.Duration, at time.Time) string {
	var bucket int64
	if window > 0 {
		bucket = at.UTC().Truncate(window).Unix()
	}

	h := sha256.New()
	for _, part := range []string{
		principalID,
		resourceID,
		strconv.FormatInt(amount, 10),
		strings.ToLower(currency),
		strconv.FormatInt(attempt, 10),
		strconv.FormatInt(bucket, 10),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
