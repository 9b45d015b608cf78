// Package retrier implements the bounded retry policy used for all upstream
// API calls: a fixed number of attempts with a doubling delay between them.
package retrier

import (
	"time"
)

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 5 * time.Second
)

type Retrier struct {
	Attempts  int
	BaseDelay time.Duration

	// Sleep is called between attempts. It exists so tests can observe
	// the retry timing without actually sleeping. Nil means time.Sleep.
	Sleep func(time.Duration)
}

func New() *Retrier {
	return &Retrier{
		Attempts:  DefaultAttempts,
		BaseDelay: DefaultBaseDelay,
	}
}

// Do runs op until it succeeds or the attempt budget is exhausted, in which
// case the last error is returned. There is no sleep after the final attempt.
func (r *Retrier) Do(op func() error) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	delay := r.BaseDelay
	var err error
	for attempt := 0; attempt < r.Attempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if attempt < r.Attempts-1 {
			sleep(delay)
			delay *= 2
		}
	}
	return err
}
