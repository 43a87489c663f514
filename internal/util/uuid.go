package util

import (
	"log"

	"github.com/google/uuid"
)

// GenerateUUID returns a random (v4) UUID string.
func GenerateUUID() string {
	newUUID, err := uuid.NewRandom()
	if err != nil {
		log.Fatalf("Failed to generate UUID: %v", err)
	}
	return newUUID.String()
}

// GenerateOrderedID returns a time-ordered (v7) UUID string. Ledger records use
// it so that ids sort in creation order.
func GenerateOrderedID() string {
	id, err := uuid.NewV7()
	if err != nil {
		log.Fatalf("Failed to generate UUIDv7: %v", err)
	}
	return id.String()
}
