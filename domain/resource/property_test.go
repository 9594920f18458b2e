package resource_test

import (
	"context"
	"maps"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/rcknight/ESSnapshots/core/es"
	"github.com/rcknight/ESSnapshots/domain/resource"
)

const id = "7f1c2a8e-3b59-4d6a-9c1e-2f4b8d0a6e13"

// history turns generated cells (day offset * 24 + slot) into a valid event
// history. Negative offsets are days that have since passed.
func history(cells []int) []es.Event {
	events := []es.Event{resource.ResourceCreated{ResourceID: id, Name: "Room"}}
	seen := map[int]bool{}
	for _, c := range cells {
		if seen[c] {
			continue
		}
		seen[c] = true
		offset, slot := floorDiv(c, 24)
		events = append(events, resource.ResourceBooked{
			ResourceID:  id,
			BookingDate: today.AddDate(0, 0, offset),
			TimeSlot:    slot,
			ActivityID:  id,
		})
	}
	return events
}

func floorDiv(a, b int) (int, int) {
	q, r := a/b, a%b
	if r < 0 {
		q, r = q-1, r+b
	}
	return q, r
}

func fold(events []es.Event) (*resource.Resource, bool) {
	r := resource.New(clock)
	r.SetID(id)
	for i, e := range events {
		if es.ApplyEvent(r, e) != nil || r.GetVersion() != es.Version(i) {
			return nil, false
		}
	}
	return r, true
}

func seed(log es.EventLog, events []es.Event) error {
	stream := es.DefaultStreamNamer().EventStream(resource.AggType, id)
	records := make([]es.Record, 0, len(events))
	for _, e := range events {
		rec, err := resource.Events.Encode(stream, e, es.DefaultIDGenerator(), time.Now)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	_, err := log.Append(context.Background(), stream, es.NoStream, records)
	return err
}

func upcoming(b map[string][]int) map[string][]int {
	out := maps.Clone(b)
	maps.DeleteFunc(out, func(day string, _ []int) bool { return day < resource.DateKey(today) })
	return out
}

func cellsGen() gopter.Gen {
	return gen.SliceOf(gen.IntRange(-5*24, 25*24-1))
}

func TestProperty_ReplayDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("hydrating equals folding events one by one", prop.ForAll(
		func(cells []int) bool {
			events := history(cells)
			folded, ok := fold(events)
			if !ok {
				return false
			}

			log := es.NewInMemoryLog()
			if seed(log, events) != nil {
				return false
			}
			h := es.NewHydrator(log, resource.Events, resource.NewFactory(clock), es.WithSnapshots(false), es.WithPageSize(7))
			hydrated, err := h.Load(context.Background(), id)
			if err != nil {
				return false
			}
			return hydrated.GetVersion() == es.Version(len(events)-1) &&
				reflect.DeepEqual(folded.Bookings(), hydrated.Bookings())
		},
		cellsGen(),
	))

	properties.TestingRun(t)
}

func TestProperty_SnapshotEquivalence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("snapshot at V plus replay equals full replay", prop.ForAll(
		func(cells []int, cut int) bool {
			events := history(cells)
			cut = cut % len(events)

			full, ok := fold(events)
			if !ok {
				return false
			}
			partial, ok := fold(events[:cut+1])
			if !ok {
				return false
			}
			snap, err := es.CreateSnapshot(partial, es.DefaultIDGenerator())
			if err != nil || snap.Version != es.Version(cut) {
				return false
			}

			snaps := es.NewInMemorySnapshotter()
			if snaps.SaveSnapshot(context.Background(), snap) != nil {
				return false
			}
			log := es.NewInMemoryLog()
			if seed(log, events) != nil {
				return false
			}
			h := es.NewHydrator(log, resource.Events, resource.NewFactory(clock), es.WithSnapshotter(snaps), es.WithPageSize(5))
			hydrated, err := h.Load(context.Background(), id)
			if err != nil {
				return false
			}
			return hydrated.GetVersion() == full.GetVersion() &&
				hydrated.Name() == full.Name() &&
				reflect.DeepEqual(upcoming(full.Bookings()), upcoming(hydrated.Bookings()))
		},
		cellsGen(),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

func TestProperty_VersionMonotonicity(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("each applied event advances the version by one", prop.ForAll(
		func(cells []int) bool {
			r := resource.New(clock)
			r.SetID(id)
			prev := r.GetVersion()
			if prev != es.NoVersion {
				return false
			}
			for _, e := range history(cells) {
				if es.ApplyEvent(r, e) != nil {
					return false
				}
				if r.GetVersion() != prev+1 {
					return false
				}
				prev = r.GetVersion()
			}
			return true
		},
		cellsGen(),
	))

	properties.TestingRun(t)
}
