package digest

// Entries is the view of a manifest the change detector needs.
type Entries interface {
	Get(path string) (string, bool)
	Set(path, digest string)
}

// ChangeDetector decides whether a file differs from its recorded digest.
type ChangeDetector struct {
	hasher *Hasher
}

// NewChangeDetector returns a detector using h.
func NewChangeDetector(h *Hasher) *ChangeDetector {
	return &ChangeDetector{hasher: h}
}

// HasChanged reports whether path has no recorded digest or its current
// digest differs from the recorded one.
func (d *ChangeDetector) HasChanged(path string, m Entries) (bool, error) {
	current, err := d.hasher.File(path)
	if err != nil {
		return false, err
	}
	recorded, ok := m.Get(path)
	return !ok || recorded != current, nil
}

// Record stores the current digest of path in m and returns it.
func (d *ChangeDetector) Record(path string, m Entries) (string, error) {
	sum, err := d.hasher.File(path)
	if err != nil {
		return "", err
	}
	m.Set(path, sum)
	return sum, nil
}
