package resource

import (
	"fmt"

	"github.com/rcknight/ESSnapshots/core/es"
)

var (
	ErrNameRequired      = fmt.Errorf("%w: cannot create a resource without a name", es.ErrDomainRuleViolation)
	ErrAlreadyCreated    = fmt.Errorf("%w: resource already exists", es.ErrDomainRuleViolation)
	ErrNotCreated        = fmt.Errorf("%w: resource does not exist", es.ErrDomainRuleViolation)
	ErrBookingInPast     = fmt.Errorf("%w: cannot book a resource for a day in the past", es.ErrDomainRuleViolation)
	ErrSlotAlreadyBooked = fmt.Errorf("%w: resource is already booked", es.ErrDomainRuleViolation)
	ErrInvalidTimeSlot   = fmt.Errorf("%w: time slot out of range", es.ErrDomainRuleViolation)
)
