package rabbit

import (
	"crypto/rand"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
	"github.com/renstrom/shortuuid"
)

// NewUUID returns a new UUID Version 4.
func NewUUID() string {
	return uuid.New().String()
}

// NewShortUUID returns a new short UUID.
func NewShortUUID() string {
	return shortuuid.New()
}

// NewULID returns a new ULID.
func NewULID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
