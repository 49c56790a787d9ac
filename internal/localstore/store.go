// Package localstore is the device-local key/value persistence used for the
// backup journal and the pending write queue.
package localstore

import (
	"fmt"
	"strings"
)

// Well-known keys.
const (
	KeyBackupStarts   = "backup_starts"
	KeyBackupFinishes = "backup_finishes"
	KeyPendingWrites  = "pending_writes"
)

// Store holds JSON-encoded values by key. Load reports whether the key
// existed; a decode failure returns true along with the error.
type Store interface {
	Load(key string, v any) (bool, error)
	Save(key string, v any) error
	Delete(key string) error
	Keys() ([]string, error)
}

func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return fmt.Errorf("invalid key %q", key)
	}
	return nil
}
