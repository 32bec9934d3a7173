package app

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultRevealInterval is the nominal pace of the bottom-up reveal.
const DefaultRevealInterval = 900 * time.Millisecond

// Reveal is the client-local reveal stepper. It is idle until it observes the
// broadcast reveal flag for the current round, then counts 1..total on a fixed
// interval. A round change or the flag going false cancels it and hides everything.
type Reveal struct {
	clock    clockwork.Clock
	interval time.Duration
	onStep   func(count int)

	mu      sync.Mutex
	roundID string
	started bool
	count   int
	total   int
	ticker  clockwork.Ticker
	stop    chan struct{}
}

// NewReveal builds a stepper; onStep runs after every tick with the new count.
func NewReveal(clock clockwork.Clock, interval time.Duration, onStep func(count int)) *Reveal {
	if interval <= 0 {
		interval = DefaultRevealInterval
	}
	return &Reveal{clock: clock, interval: interval, onStep: onStep}
}

// Observe feeds the freshly projected round identity, its reveal flag and the
// number of ranked entries.
func (r *Reveal) Observe(roundID string, revealStarted bool, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if roundID != r.roundID {
		r.cancelLocked()
		r.roundID = roundID
		r.started = false
		r.count = 0
	}
	r.total = total

	switch {
	case !revealStarted:
		r.cancelLocked()
		r.started = false
		r.count = 0
	case !r.started:
		r.started = true
		if total > 0 {
			r.count = 1
		}
		if r.count < total {
			r.startLocked()
		}
		log.Debug().Str("round", roundID).Int("total", total).Msg("reveal stepper started")
	default:
		if r.count == 0 && total > 0 {
			r.count = 1
		}
		if r.count < total && r.ticker == nil {
			r.startLocked()
		}
		if r.count >= total {
			r.cancelLocked()
		}
	}
}

// Count returns how many steps are visible for roundID. It is zero unless the
// reveal flag has been observed for that round.
func (r *Reveal) Count(roundID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if roundID != r.roundID || !r.started {
		return 0
	}
	return r.count
}

// Running reports whether the periodic step is active.
func (r *Reveal) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticker != nil
}

// Stop cancels any running step and returns to idle.
func (r *Reveal) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked()
	r.started = false
	r.count = 0
}

func (r *Reveal) startLocked() {
	ticker := r.clock.NewTicker(r.interval)
	stop := make(chan struct{})
	r.ticker = ticker
	r.stop = stop
	go r.run(ticker, stop)
}

func (r *Reveal) run(ticker clockwork.Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if !r.step(stop) {
				return
			}
		}
	}
}

// step advances the count for the run owning stop; a stale run is ignored.
func (r *Reveal) step(stop chan struct{}) bool {
	r.mu.Lock()
	if r.stop != stop {
		r.mu.Unlock()
		return false
	}
	r.count++
	count := r.count
	done := count >= r.total
	if done {
		r.cancelLocked()
	}
	r.mu.Unlock()

	if r.onStep != nil {
		r.onStep(count)
	}
	return !done
}

func (r *Reveal) cancelLocked() {
	if r.ticker == nil {
		return
	}
	r.ticker.Stop()
	close(r.stop)
	r.ticker = nil
	r.stop = nil
}
