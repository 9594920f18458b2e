package resource

import (
	"time"

	"github.com/rcknight/ESSnapshots/core/es"
)

type (
	ResourceCreated struct {
		ResourceID string `json:"resource_id"`
		Name       string `json:"name"`
	}

	ResourceBooked struct {
		ResourceID  string    `json:"resource_id"`
		BookingDate time.Time `json:"booking_date"`
		TimeSlot    int       `json:"time_slot"`
		ActivityID  string    `json:"activity_id"`
	}
)

func (ResourceCreated) EventType() string { return "ResourceCreated" }
func (ResourceBooked) EventType() string  { return "ResourceBooked" }

// Events is the closed set of resource events.
var Events = es.MustEventRegistry(
	es.EventOf[ResourceCreated](),
	es.EventOf[ResourceBooked](),
)
