// Package ownership captures and restores file ownership around in-place
// rewrites by external tools.
package ownership

import (
	"errors"
	"fmt"
)

// Record is a file's owning user and group.
type Record struct {
	UID int `json:"uid"`
	GID int `json:"gid"`
}

func (r Record) String() string {
	return fmt.Sprintf("%d:%d", r.UID, r.GID)
}

// Guard snapshots and restores ownership.
type Guard interface {
	Snapshot(path string) (Record, error)
	Restore(path string, rec Record) error
}

// ErrUnsupported is returned on platforms without POSIX ownership.
var ErrUnsupported = errors.New("file ownership is not supported on this platform")

// FSGuard is the Guard backed by the host filesystem.
type FSGuard struct{}

var _ Guard = FSGuard{}
