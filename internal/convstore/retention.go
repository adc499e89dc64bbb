package convstore

import "ragcore/internal/retention"

// Retention returns a retention.Policy scoped to this store's archive
// directory, wired into C12's conversation_cleanup job.
func (s *Store) Retention() retention.Policy {
	return retention.Policy{Dir: s.dir}
}
