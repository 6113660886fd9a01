// Package idgen generates order identifiers, grounded in shape on the
// original Python engine's _uid() scheme (a zero-padded unix-seconds
// prefix followed by a short hash), but replacing its process-global
// counter + md5 with a uuid4 + sha256 digest so IDs stay globally unique
// across multiple engine instances (spec §5).
package idgen

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// NewOrderID returns an identifier of the form "<10-digit-unix-seconds>=<6-char-hash>".
// The timestamp prefix keeps IDs roughly sortable; the suffix is derived
// from a fresh UUID so two instances minting an ID in the same second
// cannot collide.
func NewOrderID(nowUnix int64) string {
	id := uuid.New()
	sum := sha256.Sum256(id[:])
	suffix := base64.RawURLEncoding.EncodeToString(sum[:])[:6]
	return fmt.Sprintf("%010d=%s", nowUnix, suffix)
}
