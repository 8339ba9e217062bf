package cloud

import (
	"context"
	"time"

	"github.com/evergreen-ci/utility"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// Default polling policy for long-running provisioning operations. 80 checks
// 15 seconds apart bounds any single wait to 20 minutes.
const (
	DefaultWaitInterval = 15 * time.Second
	DefaultWaitAttempts = 80
)

// WaitSpec describes one bounded wait: the resource being watched (for the
// timeout error and logs) and the polling policy.
type WaitSpec struct {
	Resource    string
	ID          string
	Interval    time.Duration
	MaxAttempts int
}

func (s *WaitSpec) validate() {
	if s.Interval <= 0 {
		s.Interval = DefaultWaitInterval
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = DefaultWaitAttempts
	}
}

// CheckFunc inspects the watched resource once. Returning done stops the
// wait; returning an error aborts it immediately, since a failing control
// plane call will not be fixed by polling harder.
type CheckFunc func(ctx context.Context) (done bool, err error)

var errNotReady = errors.New("resource not yet in expected state")

// Wait polls check at a fixed interval until it reports done, it returns an
// error, the attempt budget is exhausted, or ctx is cancelled. Exhaustion is
// reported as a WaiterTimeoutError.
func Wait(ctx context.Context, spec WaitSpec, check CheckFunc) error {
	spec.validate()

	grip.Info(message.Fields{
		"message":      "waiting for resource",
		"resource":     spec.Resource,
		"id":           spec.ID,
		"interval":     spec.Interval.String(),
		"max_attempts": spec.MaxAttempts,
	})

	err := utility.Retry(ctx, func() (bool, error) {
		done, err := check(ctx)
		if err != nil {
			return false, err
		}
		if !done {
			return true, errNotReady
		}
		return false, nil
	}, utility.RetryOptions{
		MaxAttempts: spec.MaxAttempts,
		MinDelay:    spec.Interval,
		MaxDelay:    spec.Interval,
	})
	if err == nil {
		return nil
	}
	if errors.Cause(err) == errNotReady {
		return &WaiterTimeoutError{
			Resource: spec.Resource,
			ID:       spec.ID,
			Attempts: spec.MaxAttempts,
			Interval: spec.Interval,
		}
	}
	return err
}
