package domain

// Hasher fingerprints secrets so they can appear in logs.
type Hasher interface {
	Hash(data []byte) string
}
