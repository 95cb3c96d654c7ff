// Package xid mints prefixed identifiers for shifts, movements,
// transactions and corrections. The prefix keeps IDs recognizable in
// audit logs and drawer reports.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// New returns an identifier of the form prefix-nanos-random. A blank
// prefix falls back to "id" so callers never mint a bare "-..." value.
func New(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "id"
	}
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
