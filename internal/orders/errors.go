package orders

import (
	"errors"
	"fmt"

	"github.com/safar/go-order-engine/internal/database"
)

var (
	ErrEmptyCart   = errors.New("order has no items")
	ErrConflict    = errors.New("order was changed by another request")
	ErrPersistence = errors.New("order could not be saved")
)

type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

func conflict(err error) error {
	if errors.Is(err, database.ErrOptimisticLockFailed) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}
