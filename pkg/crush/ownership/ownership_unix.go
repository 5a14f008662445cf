//go:build unix

package ownership

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Snapshot returns the current owner of path. Symlinks are not followed.
func (FSGuard) Snapshot(path string) (Record, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return Record{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return Record{UID: int(st.Uid), GID: int(st.Gid)}, nil
}

// Restore sets the owner of path to rec when it differs.
func (g FSGuard) Restore(path string, rec Record) error {
	current, err := g.Snapshot(path)
	if err != nil {
		return err
	}
	if current == rec {
		return nil
	}
	if err := unix.Lchown(path, rec.UID, rec.GID); err != nil {
		return fmt.Errorf("chown %s to %s: %w", path, rec, err)
	}
	return nil
}

// EffectiveUID returns the effective user id of the process.
func EffectiveUID() int {
	return unix.Geteuid()
}
