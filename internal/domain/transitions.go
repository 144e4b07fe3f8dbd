package domain

// legalTransitions is the signal lifecycle DAG. WAITING can never reach
// TP3_HIT in a single step; the runner exit applies only after TP1.
var legalTransitions = map[SignalStatus][]SignalStatus{
	StatusWaiting: {StatusTP1Hit, StatusInvalidated, StatusExpired},
	StatusTP1Hit:  {StatusTP2Hit, StatusTP3Hit, StatusInvalidated},
	StatusTP2Hit:  {StatusTP3Hit, StatusInvalidated},
}

// TransitionLegal reports whether a signal may move from one status to
// another. Terminal statuses admit nothing.
func TransitionLegal(from, to SignalStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
