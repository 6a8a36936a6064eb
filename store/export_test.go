package store

// SetFailpoint installs a hook consulted at each stage of a local write.
// Returning an error from it aborts the write at that stage.
func (s *Store) SetFailpoint(fn func(stage string) error) {
	s.writeMu.Lock()
	s.failpoint = fn
	s.writeMu.Unlock()
}
