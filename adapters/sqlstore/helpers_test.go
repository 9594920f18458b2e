package sqlstore

import (
	"errors"

	"github.com/rcknight/ESSnapshots/core/es"
)

func assertConflict(err error) bool { return errors.Is(err, es.ErrConcurrencyConflict) }
