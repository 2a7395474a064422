package library

import (
	"sync"
	"sync/atomic"

	"github.com/cineview/cineview/internal/movie"
	"github.com/cineview/cineview/pkg/logger"
)

// Subscription is the handle a consumer holds on a continuous live query.
// Values arrive on Updates in emission order: the phase-1 cache snapshot
// first, then one value per committed cache write touching the query's scope.
// The channel is buffered; a consumer that stops draining loses intermediate
// projections rather than wedging the engine.
type Subscription struct {
	updates   chan []movie.Movie
	refresh   chan struct{}
	cancelled chan struct{}

	// gen is this subscription's driving-signal generation; in-flight
	// reconciliations compare against it at write time and abandon
	// themselves once superseded.
	gen atomic.Uint64

	closeOnce  sync.Once
	cancelOnce sync.Once
}

func newSubscription() *Subscription {
	return &Subscription{
		updates:   make(chan []movie.Movie, 16),
		refresh:   make(chan struct{}, 1),
		cancelled: make(chan struct{}),
	}
}

// Updates is closed once the subscription is cancelled or its context ends.
func (sub *Subscription) Updates() <-chan []movie.Movie {
	return sub.updates
}

// Refresh asks the engine to re-enter the fetching phase for this query.
// Coalesced: a refresh requested while one is already pending is a no-op.
func (sub *Subscription) Refresh() {
	select {
	case sub.refresh <- struct{}{}:
	default:
	}
}

// Cancel detaches the subscription from the engine. Safe to call multiple
// times and concurrently with delivery.
func (sub *Subscription) Cancel() {
	sub.cancelOnce.Do(func() { close(sub.cancelled) })
}

func (sub *Subscription) deliver(projection []movie.Movie) {
	select {
	case <-sub.cancelled:
		return
	default:
	}

	select {
	case sub.updates <- projection:
		return
	default:
	}

	// Buffer full: shed the oldest buffered projection so a slow consumer
	// converges on the latest committed view, not a stale one.
	select {
	case <-sub.updates:
	default:
	}

	select {
	case sub.updates <- projection:
	default:
		log.Emit(logger.WARNING, "Subscription updates channel full; dropping projection of %d rows\n", len(projection))
	}
}

func (sub *Subscription) close() {
	sub.closeOnce.Do(func() { close(sub.updates) })
}
