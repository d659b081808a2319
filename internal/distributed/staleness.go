package distributed

// staleness tracks the newest applied broadcast timestamp per message kind.
type staleness map[MessageKind]uint64

// admit records ts and reports true when ts is newer than anything applied
// for kind so far.
func (s *staleness) admit(kind MessageKind, ts uint64) bool {
	if *s == nil {
		*s = make(staleness)
	}
	if last, ok := (*s)[kind]; ok && ts <= last {
		return false
	}
	(*s)[kind] = ts
	return true
}

func (s staleness) latest(kind MessageKind) (uint64, bool) {
	ts, ok := s[kind]
	return ts, ok
}
