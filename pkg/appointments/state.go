package appointments

import (
	"fmt"

	"github.com/closeflow/closeflow/pkg/models"
)

// transitions is the closed transition table for appointment statuses.
// Anything not listed here is a programming error, not a silent write:
// billing failures in particular do NOT move an appointment out of
// VERIFIED, because a failed charge is a billing problem, not proof the
// meeting didn't happen.
var transitions = map[models.AppointmentStatus][]models.AppointmentStatus{
	models.AppointmentPendingVerification: {
		models.AppointmentVerified,
		models.AppointmentRejected,
	},
	models.AppointmentVerified: {
		models.AppointmentCompleted,
		models.AppointmentNoShow,
		models.AppointmentDisputed,
	},
	models.AppointmentCompleted: {
		models.AppointmentDisputed,
	},
	models.AppointmentRejected: {},
	models.AppointmentNoShow:   {},
	models.AppointmentDisputed: {},
}

// InvalidTransitionError reports an attempted transition outside the table.
type InvalidTransitionError struct {
	From models.AppointmentStatus
	To   models.AppointmentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid appointment transition %s -> %s", e.From, e.To)
}

// CanTransition reports whether from -> to appears in the transition table.
func CanTransition(from, to models.AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an InvalidTransitionError when from -> to is
// not allowed.
func ValidateTransition(from, to models.AppointmentStatus) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}
