package watchstate

// aliasSet stores entries that are known under several equivalent keys. Adding
// keys that overlap existing entries merges them, and removing any key of an
// entry removes the whole entry.
type aliasSet[K comparable] struct {
	index map[K]*aliasEntry[K]
	size  int
}

type aliasEntry[K comparable] struct {
	keys map[K]struct{}
}

func newAliasSet[K comparable]() *aliasSet[K] {
	return &aliasSet[K]{index: make(map[K]*aliasEntry[K])}
}

func (s *aliasSet[K]) add(keys []K) {
	if len(keys) == 0 {
		return
	}
	var target *aliasEntry[K]
	for _, k := range keys {
		e, ok := s.index[k]
		if !ok {
			continue
		}
		if target == nil {
			target = e
			continue
		}
		if e != target {
			for ek := range e.keys {
				target.keys[ek] = struct{}{}
				s.index[ek] = target
			}
			s.size--
		}
	}
	if target == nil {
		target = &aliasEntry[K]{keys: make(map[K]struct{}, len(keys))}
		s.size++
	}
	for _, k := range keys {
		target.keys[k] = struct{}{}
		s.index[k] = target
	}
}

func (s *aliasSet[K]) remove(keys []K) bool {
	removed := false
	for _, k := range keys {
		e, ok := s.index[k]
		if !ok {
			continue
		}
		for ek := range e.keys {
			delete(s.index, ek)
		}
		s.size--
		removed = true
	}
	return removed
}

func (s *aliasSet[K]) contains(keys []K) bool {
	for _, k := range keys {
		if _, ok := s.index[k]; ok {
			return true
		}
	}
	return false
}

func (s *aliasSet[K]) len() int {
	return s.size
}
