package library

import (
	"context"
	"fmt"

	"github.com/cineview/cineview/internal/event"
	"github.com/cineview/cineview/internal/http/tmdb"
	"github.com/cineview/cineview/internal/movie"
	"github.com/cineview/cineview/pkg/logger"
	"github.com/jmoiron/sqlx"
)

// FavouriteMovies opens the continuous aggregate view over the favourite set.
// This is the one query whose driving signal (the favourited id set) changes
// underneath it: every toggle restarts the reconciliation against the new set,
// and any in-flight missing-id fetch discovers at write time that its
// generation is stale and discards its results.
//
// Reconciliation: the wanted ids are read, the rows present locally are
// delivered immediately, the missing ids (wanted minus present) are fetched
// individually when online - a single unreachable id never aborts the batch -
// tagged "favorites" and upserted; a reconciliation that persisted new rows
// re-reads the wanted set and delivers the refreshed aggregate.
func (service *Service) FavouriteMovies(ctx context.Context) (*Subscription, error) {
	// Listen before the snapshot reads so a toggle or cache write landing
	// between them is observed rather than silently missed.
	events := make(event.HandlerChannel, 16)
	service.eventBus.RegisterHandlerChannel(events,
		event.FAVOURITE_UPDATE, event.MOVIE_UPDATE, event.MOVIE_CATEGORY_UPDATE)

	ids, err := service.favouriteStore.IDList(service.db.GetSqlxDb())
	if err != nil {
		service.eventBus.UnregisterHandlerChannel(events)
		return nil, fmt.Errorf("failed to read favourite ids: %w", err)
	}

	cached, err := service.movieStore.GetByIDs(service.db.GetSqlxDb(), ids)
	if err != nil {
		service.eventBus.UnregisterHandlerChannel(events)
		return nil, fmt.Errorf("failed to read cached favourite movies: %w", err)
	}

	sub := newSubscription()
	go service.runFavouritesSubscription(ctx, sub, ids, cached, events)

	return sub, nil
}

func (service *Service) runFavouritesSubscription(ctx context.Context, sub *Subscription, ids []int, cached []movie.Movie, events event.HandlerChannel) {
	defer sub.close()
	defer service.eventBus.UnregisterHandlerChannel(events)

	sub.deliver(cached)

	generation := sub.gen.Add(1)
	go service.reconcileFavourites(sub, ids, generation)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.cancelled:
			return
		case <-sub.refresh:
			generation = sub.gen.Add(1)
			go service.reconcileFavourites(sub, ids, generation)
		case ev := <-events:
			if ev.Event == event.FAVOURITE_UPDATE {
				// Driving signal changed: supersede any in-flight
				// reconciliation and restart against the new set.
				generation = sub.gen.Add(1)

				newIDs, err := service.favouriteStore.IDList(service.db.GetSqlxDb())
				if err != nil {
					log.Emit(logger.ERROR, "Failed to re-read favourite ids: %v\n", err)
					continue
				}

				ids = newIDs
				service.deliverFavourites(sub, ids, generation)
				go service.reconcileFavourites(sub, ids, generation)
				continue
			}

			// Some other cache write may have touched a wanted row;
			// re-emit the aggregate projection.
			service.deliverFavourites(sub, ids, generation)
		}
	}
}

// reconcileFavourites is the phase-2 pass for one generation of the favourite
// id set. The generation is re-checked before each remote call and before the
// store write, so a reconciliation superseded mid-flight abandons its work
// without mutating the cache.
func (service *Service) reconcileFavourites(sub *Subscription, ids []int, generation uint64) {
	if len(ids) == 0 {
		return
	}

	present, err := service.movieStore.GetByIDs(service.db.GetSqlxDb(), ids)
	if err != nil {
		log.Emit(logger.ERROR, "Failed to read cached favourite movies: %v\n", err)
		return
	}

	presentIDs := make(map[int]struct{}, len(present))
	for _, m := range present {
		presentIDs[m.ID] = struct{}{}
	}

	missing := make([]int, 0)
	for _, id := range ids {
		if _, ok := presentIDs[id]; !ok {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 && service.monitor.IsOnline() {
		fetched := make([]movie.Movie, 0, len(missing))
		for _, id := range missing {
			if sub.gen.Load() != generation {
				log.Emit(logger.VERBOSE, "Abandoning stale favourites reconciliation\n")
				return
			}

			remoteMovie, err := service.remote.GetMovie(id)
			if err != nil {
				log.Emit(logger.WARNING, "Fetch of favourited movie %d failed; continuing with remainder: %v\n", id, err)
				continue
			}

			fetched = append(fetched, tmdb.TmdbMovieToModel(remoteMovie, movie.CategoryFavorites))
		}

		if len(fetched) > 0 {
			if sub.gen.Load() != generation {
				return
			}

			err := service.db.WrapTx(func(tx *sqlx.Tx) error {
				return service.movieStore.UpsertAll(tx, fetched)
			})
			if err != nil {
				log.Emit(logger.ERROR, "Failed to persist fetched favourite movies: %v\n", err)
				return
			}

			for _, m := range fetched {
				service.eventBus.Dispatch(event.MOVIE_UPDATE, m.ID)
			}

			// Only a pass that wrote rows changes the projection; the
			// phase-1 snapshot already stands otherwise.
			service.deliverFavourites(sub, ids, generation)
		}
	}
}

func (service *Service) deliverFavourites(sub *Subscription, ids []int, generation uint64) {
	if sub.gen.Load() != generation {
		return
	}

	projection, err := service.movieStore.GetByIDs(service.db.GetSqlxDb(), ids)
	if err != nil {
		log.Emit(logger.ERROR, "Failed to read favourite movie projection: %v\n", err)
		return
	}

	sub.deliver(projection)
}
