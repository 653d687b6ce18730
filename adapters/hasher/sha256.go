package hasher

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/satriahrh/cocoa-fruit/relay/domain"
)

// New returns a domain.Hasher backed by SHA‑256. It is used to put a
// stable fingerprint of a bearer credential in logs instead of the
// credential itself.
func New() domain.Hasher { return sha256Hasher{} }

type sha256Hasher struct{}

func (h sha256Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
