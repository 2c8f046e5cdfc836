package appointment

// transitions is the appointment workflow. Completed and cancelled have no
// outgoing edges.
var transitions = map[Status][]Status{
	StatusPending:     {StatusConfirmed, StatusCancelled},
	StatusConfirmed:   {StatusCompleted, StatusCancelled, StatusRescheduled},
	StatusRescheduled: {StatusConfirmed, StatusCancelled},
	StatusCompleted:   nil,
	StatusCancelled:   nil,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether an appointment in status from may move to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsTerminal(s Status) bool {
	return s.Valid() && len(transitions[s]) == 0
}

// AllowedTransitions returns the statuses reachable in one step from s.
func AllowedTransitions(s Status) []Status {
	out := make([]Status, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

// acceptsClinicalRecords reports whether diagnoses, prescriptions and vitals
// may be attached in status s.
func acceptsClinicalRecords(s Status) bool {
	return s == StatusConfirmed || s == StatusCompleted
}
