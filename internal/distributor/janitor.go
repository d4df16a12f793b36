package distributor

import (
	"sync"
	"time"
)

// Janitor periodically sweeps the registry for slots that have sat in
// SlotReserved longer than maxReservedAge, forcibly releasing them so a lost
// or crashed placement attempt never holds a slot forever. It runs as a
// goroutine gated by a stopCh closed exactly once via sync.Once.
type Janitor struct {
	d              *Distributor
	interval       time.Duration
	maxReservedAge time.Duration
	stopCh         chan struct{}
	once           sync.Once
}

// NewJanitor creates a Janitor that sweeps d's registry every interval,
// releasing reservations older than maxReservedAge.
func NewJanitor(d *Distributor, interval, maxReservedAge time.Duration) *Janitor {
	return &Janitor{
		d:              d,
		interval:       interval,
		maxReservedAge: maxReservedAge,
		stopCh:         make(chan struct{}),
	}
}

// Start begins the periodic sweep in the background. Non-blocking.
func (j *Janitor) Start() {
	go func() {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-j.stopCh:
				return
			case <-ticker.C:
				j.sweep()
			}
		}
	}()
}

func (j *Janitor) sweep() {
	released := j.d.registry.SweepExpiredReservations(j.maxReservedAge)
	for range released {
		j.d.metrics.IncrementReservationsExpired()
	}
	if len(released) > 0 && j.d.logger != nil {
		j.d.logger.Infof("janitor: released %d orphaned reservation(s)", len(released))
	}
}

// Stop signals the sweep goroutine to exit. Idempotent.
func (j *Janitor) Stop() {
	j.once.Do(func() {
		close(j.stopCh)
	})
}
