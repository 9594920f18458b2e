package resource

import (
	"context"

	"github.com/rcknight/ESSnapshots/core/es"
)

// CommandHandler runs resource commands against an event log.
type CommandHandler struct {
	h *es.CommandHandler[*Resource]
}

// NewCommandHandler stamps records with clock, the same clock the booking
// rules read "today" from.
func NewCommandHandler(log es.EventLog, clock Clock, opts ...es.HandlerOption) *CommandHandler {
	opts = append([]es.HandlerOption{es.WithClock(clock)}, opts...)
	return &CommandHandler{h: es.NewCommandHandler(log, Events, NewFactory(clock), opts...)}
}

// HandleCreate writes the first event of a new resource stream.
func (c *CommandHandler) HandleCreate(ctx context.Context, cmd CreateResource) (*es.Result, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return c.h.Create(ctx, cmd.ResourceID, func(r *Resource) error {
		return r.Create(cmd.ResourceID, cmd.Name)
	})
}

func (c *CommandHandler) HandleBook(ctx context.Context, cmd BookResource) (*es.Result, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return c.h.Handle(ctx, cmd.ResourceID, func(r *Resource) error {
		return r.Book(cmd.Date, cmd.TimeSlot, cmd.ActivityID)
	})
}

// Load hydrates the resource id.
func (c *CommandHandler) Load(ctx context.Context, id string) (*Resource, error) {
	return c.h.Hydrator().Load(ctx, id)
}
