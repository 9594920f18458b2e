// Package resource is a bookable resource (a meeting room, say) modelled as
// an event-sourced aggregate. A resource is created once and then booked in
// hourly slots per day.
package resource

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/rcknight/ESSnapshots/core/es"
)

const (
	AggType = "resource"

	// Slots are hours of the day.
	MinTimeSlot = 0
	MaxTimeSlot = 23

	dateLayout = "2006-01-02"
)

// Clock returns the current time. "Today" for booking rules is the calendar
// date of the clock in its own location.
type Clock func() time.Time

// DateKey is the calendar date of t as used for bookings.
func DateKey(t time.Time) string { return t.Format(dateLayout) }

type Resource struct {
	es.BaseAggregate

	created  bool
	name     string
	bookings map[string][]int

	clock Clock
}

// State is the snapshot payload of a Resource.
type State struct {
	ResourceID string           `json:"resource_id"`
	Name       string           `json:"name"`
	Bookings   map[string][]int `json:"bookings"`
}

func New(clock Clock) *Resource {
	if clock == nil {
		clock = time.Now
	}
	return &Resource{bookings: map[string][]int{}, clock: clock}
}

// NewFactory returns an es.Factory building resources on clock.
func NewFactory(clock Clock) es.Factory[*Resource] {
	return func() *Resource { return New(clock) }
}

func (r *Resource) GetAggType() string { return AggType }

func (r *Resource) Name() string  { return r.name }
func (r *Resource) Created() bool { return r.created }

func (r *Resource) IsBooked(date time.Time, slot int) bool {
	return slices.Contains(r.bookings[DateKey(date)], slot)
}

// BookedSlots returns the booked slots of date in booking order.
func (r *Resource) BookedSlots(date time.Time) []int {
	return slices.Clone(r.bookings[DateKey(date)])
}

// Bookings returns a copy of all bookings keyed by DateKey.
func (r *Resource) Bookings() map[string][]int {
	out := make(map[string][]int, len(r.bookings))
	for k, v := range r.bookings {
		out[k] = slices.Clone(v)
	}
	return out
}

// === Commands ===

func (r *Resource) Create(id, name string) error {
	if id != r.GetID() {
		return fmt.Errorf("create resource %s on aggregate %s", id, r.GetID())
	}
	if r.created {
		return ErrAlreadyCreated
	}
	if name == "" {
		return ErrNameRequired
	}
	return es.RaiseEvent(r, ResourceCreated{ResourceID: id, Name: name})
}

func (r *Resource) Book(date time.Time, slot int, activityID string) error {
	if !r.created {
		return ErrNotCreated
	}
	if slot < MinTimeSlot || slot > MaxTimeSlot {
		return fmt.Errorf("%w: %d", ErrInvalidTimeSlot, slot)
	}
	key := DateKey(date)
	if key < r.today() {
		return fmt.Errorf("%w: %s", ErrBookingInPast, key)
	}
	if slices.Contains(r.bookings[key], slot) {
		return fmt.Errorf("%w: slot %d on %s", ErrSlotAlreadyBooked, slot, key)
	}
	return es.RaiseEvent(r, ResourceBooked{
		ResourceID:  r.GetID(),
		BookingDate: date,
		TimeSlot:    slot,
		ActivityID:  activityID,
	})
}

func (r *Resource) today() string { return DateKey(r.clock()) }

// === Events ===

func (r *Resource) Apply(event es.Event) error {
	switch e := event.(type) {
	case ResourceCreated:
		r.created = true
		r.name = e.Name
	case ResourceBooked:
		key := DateKey(e.BookingDate)
		r.bookings[key] = append(r.bookings[key], e.TimeSlot)
	default:
		return fmt.Errorf("%w: %s", es.ErrUnknownEventType, event.EventType())
	}
	return nil
}

// === Snapshots ===

// Snapshot drops bookings of days before today. Book rejects those days, so
// they can never decide a future command.
func (r *Resource) Snapshot() ([]byte, error) {
	today := r.today()
	kept := maps.Clone(r.bookings)
	maps.DeleteFunc(kept, func(day string, _ []int) bool { return day < today })
	return json.Marshal(State{
		ResourceID: r.GetID(),
		Name:       r.name,
		Bookings:   kept,
	})
}

func (r *Resource) RestoreSnapshot(data []byte) error {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	r.created = true
	r.name = s.Name
	r.bookings = s.Bookings
	if r.bookings == nil {
		r.bookings = map[string][]int{}
	}
	return nil
}

var (
	_ es.Aggregate     = (*Resource)(nil)
	_ es.Snapshottable = (*Resource)(nil)
)
