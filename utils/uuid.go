package utils

import (
	"github.com/google/uuid"
)

// GenerateID returns a new identifier. Version 7 ids sort by creation time,
// which keeps the bids and notifications indexes append-mostly.
func GenerateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
