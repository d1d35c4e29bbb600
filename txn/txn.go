package txn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goAccount/store"
)

// DefaultTimeout bounds a unit of work when Config.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// ErrUnavailable is returned when the backend cannot run or finish a unit of
// work in time. It wraps store.ErrUnavailable.
var ErrUnavailable = fmt.Errorf("txn: %w", store.ErrUnavailable)

// Config tunes the coordinator.
type Config struct {
	Timeout time.Duration
}

// Coordinator runs units of work against a store.Transactor with a bounded
// deadline. All repository calls made through the Tx passed to fn commit or
// roll back together.
type Coordinator struct {
	tx      store.Transactor
	timeout time.Duration
}

// New returns a Coordinator over tx.
func New(tx store.Transactor, cfg Config) (*Coordinator, error) {
	if tx == nil {
		return nil, errors.New("txn: transactor required")
	}
	if cfg.Timeout < 0 {
		return nil, errors.New("txn: timeout must be >= 0")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Coordinator{tx: tx, timeout: cfg.Timeout}, nil
}

// Run executes fn inside one transaction. An error returned by fn rolls the
// transaction back and is returned unchanged. Backend outages and deadline
// expiry are reported as ErrUnavailable; cancellation by the caller is
// reported as the caller's context error.
func (c *Coordinator) Run(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var fnErr error
	err := c.tx.WithinTx(runCtx, func(ctx context.Context, tx store.Tx) error {
		fnErr = fn(ctx, tx)
		return fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil && errors.Is(err, fnErr) {
		if isUnavailable(fnErr) {
			return unavailable(fnErr)
		}
		return fnErr
	}

	// The caller gave up; that is not an outage.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if isUnavailable(err) || runCtx.Err() != nil {
		return unavailable(err)
	}
	return err
}

func isUnavailable(err error) bool {
	return errors.Is(err, store.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

func unavailable(err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
