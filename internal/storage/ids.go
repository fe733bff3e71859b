package storage

import "github.com/google/uuid"

// NewID returns a random identifier with the given prefix, e.g. "s_".
func NewID(prefix string) string {
	return prefix + uuid.NewString()
}
