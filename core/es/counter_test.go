package es

import (
	"errors"
	"fmt"
)

type incremented struct {
	By int `json:"by"`
}

func (incremented) EventType() string { return "Incremented" }

type renamed struct {
	Name string `json:"name"`
}

func (renamed) EventType() string { return "Renamed" }

func (r renamed) Validate() error {
	if r.Name == "" {
		return errors.New("name is empty")
	}
	return nil
}

type unregistered struct{}

func (unregistered) EventType() string { return "Unregistered" }

type counter struct {
	BaseAggregate
	N    int    `json:"n"`
	Name string `json:"name"`

	onApply func(Event) `json:"-"`
}

func newCounter() *counter { return &counter{} }

func (c *counter) GetAggType() string { return "counter" }

func (c *counter) Apply(e Event) error {
	if c.onApply != nil {
		c.onApply(e)
	}
	switch ev := e.(type) {
	case incremented:
		c.N += ev.By
	case renamed:
		c.Name = ev.Name
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEventType, e.EventType())
	}
	return nil
}

func (c *counter) Inc(by int) error {
	if by <= 0 {
		return RuleViolation("increment must be positive, got %d", by)
	}
	return RaiseEvent(c, incremented{By: by})
}

func (c *counter) Rename(name string) error {
	if name == c.Name {
		return nil
	}
	return RaiseEvent(c, renamed{Name: name})
}

var counterEvents = MustEventRegistry(EventOf[incremented](), EventOf[renamed]())

func inc(by int) Command[*counter] {
	return func(c *counter) error { return c.Inc(by) }
}
