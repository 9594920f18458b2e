package resource

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	CreateResource struct {
		ResourceID string
		Name       string
	}

	BookResource struct {
		ResourceID string
		ActivityID string
		Date       time.Time
		TimeSlot   int
	}
)

func (c CreateResource) Validate() error {
	return validateID("resource id", c.ResourceID)
}

func (c BookResource) Validate() error {
	return errors.Join(
		validateID("resource id", c.ResourceID),
		validateID("activity id", c.ActivityID),
	)
}

func validateID(what, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid %s %q: %w", what, id, err)
	}
	return nil
}
