package pac

import (
	pacruntime "pacbridge/pkg/protocol/pac/runtime"
	"time"

	"github.com/pkg/errors"
)

// RetryPolicy bounds how often a failed table read is repeated.
type RetryPolicy struct {
	Retries int           `json:"retries"`
	Backoff time.Duration `json:"backoff"`
}

var DefaultRetryPolicy = RetryPolicy{Retries: 1, Backoff: 100 * time.Millisecond}

// Do runs fn until it succeeds or the retries are spent. Connection loss
// is returned at once since a retry cannot succeed on a dead socket.
func (p RetryPolicy) Do(fn func(attempt int) error) error {
	var err error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if attempt > 0 && p.Backoff > 0 {
			time.Sleep(p.Backoff)
		}
		if err = fn(attempt); err == nil {
			return nil
		}
		if errors.Is(err, pacruntime.ErrNotConnected) || errors.Is(err, pacruntime.ErrConnClosed) {
			return err
		}
	}
	return errors.Wrapf(err, "%s after %d attempts", pacruntime.ErrManyRetry, p.Retries+1)
}
