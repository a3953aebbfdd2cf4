package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

// NewIntervalID generates a random 16-character hex identifier for a
// presence interval.
func NewIntervalID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("failed to generate random interval ID: %v", err))
	}
	return hex.EncodeToString(buf)
}

// EnsureDir creates a directory if it does not exist yet. Callers use it
// for the database file's parent and the report output directories.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
