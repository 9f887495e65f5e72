package recognition

// Ledger is the set of labels already recorded in the current session.
// It belongs to a single worker and is not safe for concurrent use.
type Ledger struct {
	seen map[string]struct{}
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{seen: make(map[string]struct{})}
}

// Mark adds label and reports whether it was new.
func (l *Ledger) Mark(label string) bool {
	if _, ok := l.seen[label]; ok {
		return false
	}
	l.seen[label] = struct{}{}
	return true
}

// Forget removes label so a later sighting is recorded again.
func (l *Ledger) Forget(label string) {
	delete(l.seen, label)
}

// Has reports whether label has been recorded.
func (l *Ledger) Has(label string) bool {
	_, ok := l.seen[label]
	return ok
}

// Len returns the number of recorded labels.
func (l *Ledger) Len() int { return len(l.seen) }
