package domain

// enrollmentTransitions is the allowed enrollment state machine. Transitions into
// paused/active are owned by the enrollment-management API; the ingestion
// pipeline only ever requests completed, bounced, or unsubscribed.
var enrollmentTransitions = map[EnrollmentStatus][]EnrollmentStatus{
	EnrollmentStatusEnrolled: {EnrollmentStatusActive, EnrollmentStatusCompleted, EnrollmentStatusBounced, EnrollmentStatusUnsubscribed},
	EnrollmentStatusActive:   {EnrollmentStatusPaused, EnrollmentStatusCompleted, EnrollmentStatusBounced, EnrollmentStatusUnsubscribed},
	EnrollmentStatusPaused:   {EnrollmentStatusActive, EnrollmentStatusCompleted, EnrollmentStatusBounced, EnrollmentStatusUnsubscribed},
}

// IsTerminalEnrollmentStatus reports whether no further transitions are allowed.
func IsTerminalEnrollmentStatus(status EnrollmentStatus) bool {
	_, ok := enrollmentTransitions[status]
	return !ok
}

// CanTransitionEnrollment reports whether from -> to is a legal transition.
// A terminal status is never left, so a late-processed earlier event can never
// revert bounced or unsubscribed.
func CanTransitionEnrollment(from, to EnrollmentStatus) bool {
	if from == to {
		return false
	}
	for _, allowed := range enrollmentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
