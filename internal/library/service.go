// Package library contains the synchronization engine at the heart of
// Cineview. Every query follows the same two-phase protocol: the cached
// projection is delivered immediately, and - only when the remote is
// reachable - a reconciliation pass refreshes the cache, whose committed
// write re-triggers delivery through the event bus. Remote failures are
// absorbed; the cache is the single source of truth for consumers.
package library

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cineview/cineview/internal/database"
	"github.com/cineview/cineview/internal/event"
	"github.com/cineview/cineview/internal/favourite"
	"github.com/cineview/cineview/internal/http/tmdb"
	"github.com/cineview/cineview/internal/movie"
	"github.com/cineview/cineview/pkg/logger"
	"github.com/jmoiron/sqlx"
)

var log = logger.Get("Library")

type (
	// remoteClient is the slice of the TMDB client this service consumes;
	// narrowed so tests can substitute a stub per query shape.
	remoteClient interface {
		ListByCategory(category string, page int) (*tmdb.MovieResponse, error)
		GetMovie(movieId int) (*tmdb.Movie, error)
		Search(query string, page int) (*tmdb.MovieResponse, error)
		GetReviews(movieId int, page int) (*tmdb.ReviewResponse, error)
	}

	// connectivityMonitor is consumed, never owned: the service reads the
	// snapshot before each reconciliation and never mutates the state.
	connectivityMonitor interface {
		IsOnline() bool
	}

	Service struct {
		db             database.Manager
		movieStore     *movie.Store
		favouriteStore *favourite.Store
		remote         remoteClient
		monitor        connectivityMonitor
		eventBus       event.EventCoordinator

		// categoryLocks serializes evict+upsert per category; refreshes of
		// two different categories proceed concurrently.
		lockMu        sync.Mutex
		categoryLocks map[string]*sync.Mutex

		// searchGen is the write-time staleness token for the search scope,
		// whose driving signal (the query text) can change mid-flight. The
		// favourites aggregate keeps its token per-subscription instead.
		searchGen atomic.Uint64
	}
)

func New(
	db database.Manager,
	movieStore *movie.Store,
	favouriteStore *favourite.Store,
	remote remoteClient,
	monitor connectivityMonitor,
	eventBus event.EventCoordinator,
) *Service {
	return &Service{
		db:             db,
		movieStore:     movieStore,
		favouriteStore: favouriteStore,
		remote:         remote,
		monitor:        monitor,
		eventBus:       eventBus,
		categoryLocks:  make(map[string]*sync.Mutex),
	}
}

// Movies opens a continuous live query over the cached rows of the provided
// list category. The current cached projection is read synchronously (store
// failures surface here) and is the first value delivered on the returned
// subscription; if online, a reconciliation follows, whose committed write
// re-triggers delivery. The subscription then stays open, re-emitting whenever
// a cache write touches the category, until the context is cancelled.
func (service *Service) Movies(ctx context.Context, category string) (*Subscription, error) {
	if !movie.IsListCategory(category) {
		return nil, fmt.Errorf("category %q is not a listable category", category)
	}

	// Listen before the snapshot read so a write committed between the
	// two is observed rather than silently missed.
	events := make(event.HandlerChannel, 16)
	service.eventBus.RegisterHandlerChannel(events, event.MOVIE_CATEGORY_UPDATE, event.MOVIE_UPDATE)

	cached, err := service.movieStore.GetByCategory(service.db.GetSqlxDb(), category)
	if err != nil {
		service.eventBus.UnregisterHandlerChannel(events)
		return nil, fmt.Errorf("failed to read cached movies for category %s: %w", category, err)
	}

	sub := newSubscription()
	go service.runCategorySubscription(ctx, sub, category, cached, events)

	return sub, nil
}

// MovieDetails is a one-shot two-phase query for a single record. The cached
// row (nil when absent) is delivered first; when online, the remote record is
// fetched, upserted with its existing category preserved, and delivered as the
// second and final value. The channel closes once settled.
func (service *Service) MovieDetails(ctx context.Context, movieId int) (<-chan *movie.Movie, error) {
	cached, err := service.movieStore.GetByID(service.db.GetSqlxDb(), movieId)
	if err != nil && err != movie.ErrMovieNotFound {
		return nil, fmt.Errorf("failed to read cached movie %d: %w", movieId, err)
	}

	updates := make(chan *movie.Movie, 2)
	updates <- cached

	go func() {
		defer close(updates)

		if !service.monitor.IsOnline() {
			return
		}

		remoteMovie, err := service.remote.GetMovie(movieId)
		if err != nil {
			log.Emit(logger.WARNING, "Refresh of movie %d failed (cached data stands): %v\n", movieId, err)
			return
		}

		// A row fetched for its own sake keeps whatever category it
		// already had; a previously unseen row is stored untagged.
		category := ""
		if cached != nil {
			category = cached.Category
		}

		model := tmdb.TmdbMovieToModel(remoteMovie, category)
		err = service.db.WrapTx(func(tx *sqlx.Tx) error {
			return service.movieStore.UpsertAll(tx, []movie.Movie{model})
		})
		if err != nil {
			log.Emit(logger.ERROR, "Failed to persist refreshed movie %d: %v\n", movieId, err)
			return
		}

		service.eventBus.Dispatch(event.MOVIE_UPDATE, movieId)

		refreshed, err := service.movieStore.GetByID(service.db.GetSqlxDb(), movieId)
		if err != nil {
			log.Emit(logger.ERROR, "Failed to re-read refreshed movie %d: %v\n", movieId, err)
			return
		}

		select {
		case updates <- refreshed:
		case <-ctx.Done():
		}
	}()

	return updates, nil
}

// SearchMovies is a one-shot two-phase query against the "search" category,
// which always holds the most recent search's result set. Issuing a new
// search supersedes any in-flight one: the stale reconciliation discovers it
// lost the generation race at write time and discards its results.
func (service *Service) SearchMovies(ctx context.Context, query string) (<-chan []movie.Movie, error) {
	generation := service.searchGen.Add(1)

	cached, err := service.movieStore.GetByCategory(service.db.GetSqlxDb(), movie.CategorySearch)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached search results: %w", err)
	}

	updates := make(chan []movie.Movie, 2)
	updates <- cached

	go func() {
		defer close(updates)

		if !service.monitor.IsOnline() {
			return
		}

		response, err := service.remote.Search(query, 1)
		if err != nil {
			log.Emit(logger.WARNING, "Search %q failed (cached results stand): %v\n", query, err)
			return
		}

		if service.searchGen.Load() != generation {
			log.Emit(logger.VERBOSE, "Discarding stale search results for %q\n", query)
			return
		}

		models := tmdb.TmdbMoviesToModels(response.Results, movie.CategorySearch)
		if err := service.refreshCategory(movie.CategorySearch, models, generation, &service.searchGen); err != nil {
			log.Emit(logger.ERROR, "Failed to persist search results for %q: %v\n", query, err)
			return
		}

		refreshed, err := service.movieStore.GetByCategory(service.db.GetSqlxDb(), movie.CategorySearch)
		if err != nil {
			log.Emit(logger.ERROR, "Failed to re-read search results: %v\n", err)
			return
		}

		if service.searchGen.Load() != generation {
			return
		}

		select {
		case updates <- refreshed:
		case <-ctx.Done():
		}
	}()

	return updates, nil
}

// Reviews is a one-shot two-phase query for the reviews of a single movie.
// The remote is authoritative: a successful fetch replaces the cached set
// wholesale inside one transaction.
func (service *Service) Reviews(ctx context.Context, movieId int) (<-chan []movie.Review, error) {
	cached, err := service.movieStore.GetReviewsForMovie(service.db.GetSqlxDb(), movieId)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached reviews for movie %d: %w", movieId, err)
	}

	updates := make(chan []movie.Review, 2)
	updates <- cached

	go func() {
		defer close(updates)

		if !service.monitor.IsOnline() {
			return
		}

		response, err := service.remote.GetReviews(movieId, 1)
		if err != nil {
			log.Emit(logger.WARNING, "Review fetch for movie %d failed (cached reviews stand): %v\n", movieId, err)
			return
		}

		reviews := tmdb.TmdbReviewsToModels(response.Results, movieId)
		err = service.db.WrapTx(func(tx *sqlx.Tx) error {
			return service.movieStore.ReplaceReviews(tx, movieId, reviews)
		})
		if err != nil {
			log.Emit(logger.ERROR, "Failed to persist reviews for movie %d: %v\n", movieId, err)
			return
		}

		service.eventBus.Dispatch(event.REVIEW_UPDATE, movieId)

		refreshed, err := service.movieStore.GetReviewsForMovie(service.db.GetSqlxDb(), movieId)
		if err != nil {
			log.Emit(logger.ERROR, "Failed to re-read reviews for movie %d: %v\n", movieId, err)
			return
		}

		select {
		case updates <- refreshed:
		case <-ctx.Done():
		}
	}()

	return updates, nil
}

// ToggleFavourite atomically flips the favourite membership of the provided
// id. The flip is computed against the latest committed set inside a write
// transaction, and subscribers are notified only after the commit.
func (service *Service) ToggleFavourite(movieId int) error {
	err := service.db.WrapTx(func(tx *sqlx.Tx) error {
		return service.favouriteStore.Toggle(tx, movieId)
	})
	if err != nil {
		return fmt.Errorf("failed to toggle favourite %d: %w", movieId, err)
	}

	service.eventBus.Dispatch(event.FAVOURITE_UPDATE, nil)
	return nil
}

func (service *Service) FavouriteIDs() ([]int, error) {
	return service.favouriteStore.IDList(service.db.GetSqlxDb())
}

func (service *Service) IsFavourite(movieId int) (bool, error) {
	return service.favouriteStore.IsFavourite(service.db.GetSqlxDb(), movieId)
}

// runCategorySubscription drives one continuous category live query: it
// delivers the phase-1 snapshot, reconciles if online, then re-emits the
// projection whenever a cache write touches the category until cancelled.
func (service *Service) runCategorySubscription(ctx context.Context, sub *Subscription, category string, cached []movie.Movie, events event.HandlerChannel) {
	defer sub.close()
	defer service.eventBus.UnregisterHandlerChannel(events)

	sub.deliver(cached)

	// Reconciliation runs on its own goroutine: this loop must keep
	// draining the event channel while the remote call is in flight, or
	// dispatchers elsewhere would block behind a full channel.
	go service.reconcileCategory(category)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.cancelled:
			return
		case <-sub.refresh:
			go service.reconcileCategory(category)
		case ev := <-events:
			if ev.Event == event.MOVIE_CATEGORY_UPDATE {
				if affected, ok := ev.Payload.(string); !ok || affected != category {
					continue
				}
			}

			projection, err := service.movieStore.GetByCategory(service.db.GetSqlxDb(), category)
			if err != nil {
				log.Emit(logger.ERROR, "Failed to re-read category %s projection: %v\n", category, err)
				continue
			}

			sub.deliver(projection)
		}
	}
}

// reconcileCategory performs the phase-2 network refresh for a list category.
// A remote failure leaves the cache untouched and is absorbed here; success
// commits eviction and upsert as one atomic unit and announces the write on
// the event bus.
func (service *Service) reconcileCategory(category string) {
	if !service.monitor.IsOnline() {
		return
	}

	response, err := service.remote.ListByCategory(category, 1)
	if err != nil {
		log.Emit(logger.WARNING, "Refresh of category %s failed (cached data stands): %v\n", category, err)
		return
	}

	models := tmdb.TmdbMoviesToModels(response.Results, category)
	if err := service.refreshCategory(category, models, 0, nil); err != nil {
		log.Emit(logger.ERROR, "Failed to persist refresh of category %s: %v\n", category, err)
	}
}

// refreshCategory commits the eviction+upsert for a category refresh inside a
// single transaction: rows of this category that are neither favourited nor
// part of the fresh result set are evicted, then the fresh rows are upserted.
// When a generation token is supplied it is re-checked after the category lock
// is acquired; a stale refresh commits nothing.
func (service *Service) refreshCategory(category string, fresh []movie.Movie, generation uint64, gen *atomic.Uint64) error {
	lock := service.categoryLock(category)
	lock.Lock()
	defer lock.Unlock()

	if gen != nil && gen.Load() != generation {
		return nil
	}

	err := service.db.WrapTx(func(tx *sqlx.Tx) error {
		favouriteIDs, err := service.favouriteStore.IDList(tx)
		if err != nil {
			return err
		}

		keep := make([]int, 0, len(favouriteIDs)+len(fresh))
		keep = append(keep, favouriteIDs...)
		for _, m := range fresh {
			keep = append(keep, m.ID)
		}

		if err := service.movieStore.DeleteByCategoryExcept(tx, category, keep); err != nil {
			return err
		}

		return service.movieStore.UpsertAll(tx, fresh)
	})
	if err != nil {
		return err
	}

	service.eventBus.Dispatch(event.MOVIE_CATEGORY_UPDATE, category)
	return nil
}

func (service *Service) categoryLock(category string) *sync.Mutex {
	service.lockMu.Lock()
	defer service.lockMu.Unlock()

	if lock, ok := service.categoryLocks[category]; ok {
		return lock
	}

	lock := &sync.Mutex{}
	service.categoryLocks[category] = lock
	return lock
}
