package util

import (
	"strings"

	"github.com/google/uuid"
)

func NewID() string {
	return uuid.NewString()
}

// IsID reports whether value is a canonical UUID.
func IsID(value string) bool {
	value = strings.TrimSpace(value)
	if len(value) != 36 {
		return false
	}
	_, err := uuid.Parse(value)
	return err == nil
}
