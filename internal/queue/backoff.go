package queue

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Backoff computes retry delays with exponential growth. Zero Initial, Max
// and Multiplier take the library defaults; Randomization is used as given.
type Backoff struct {
	Initial       time.Duration
	Max           time.Duration
	Multiplier    float64
	Randomization float64
}

// Delay returns the wait before the retry that follows attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	if b.Initial > 0 {
		eb.InitialInterval = b.Initial
	}
	if b.Max > 0 {
		eb.MaxInterval = b.Max
	}
	if b.Multiplier > 0 {
		eb.Multiplier = b.Multiplier
	}
	eb.RandomizationFactor = b.Randomization
	eb.Reset()
	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = eb.NextBackOff()
	}
	return d
}

// Permanent marks err as not worth retrying; the job fails terminally on the
// current attempt.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}
