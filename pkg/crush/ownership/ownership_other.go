//go:build !unix

package ownership

// Snapshot implements Guard.
func (FSGuard) Snapshot(string) (Record, error) { return Record{}, ErrUnsupported }

// Restore implements Guard.
func (FSGuard) Restore(string, Record) error { return ErrUnsupported }

// EffectiveUID returns -1 where user ids do not exist.
func EffectiveUID() int { return -1 }
