package library_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cineview/cineview/internal/database"
	"github.com/cineview/cineview/internal/event"
	"github.com/cineview/cineview/internal/favourite"
	"github.com/cineview/cineview/internal/http/tmdb"
	"github.com/cineview/cineview/internal/library"
	"github.com/cineview/cineview/internal/movie"
	"github.com/cineview/cineview/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errExpected = errors.New("test: expected error")

func init() {
	logger.SetMinLoggingLevel(logger.ERROR.Level())
}

// stubRemote is a hand-rolled remote catalogue; every response is configured
// per-test and guarded so tests can mutate it mid-flight.
type stubRemote struct {
	mu        sync.Mutex
	lists     map[string][]tmdb.Movie
	movies    map[int]tmdb.Movie
	movieErrs map[int]error
	search    []tmdb.Movie
	reviews   map[int][]tmdb.Review

	listErr   error
	searchErr error
	reviewErr error

	// listGate, when set, parks ListByCategory until the gate closes so a
	// test can hold a reconciliation in its remote-call phase.
	listGate  chan struct{}
	listCalls int
}

func newStubRemote() *stubRemote {
	return &stubRemote{
		lists:     make(map[string][]tmdb.Movie),
		movies:    make(map[int]tmdb.Movie),
		movieErrs: make(map[int]error),
		reviews:   make(map[int][]tmdb.Review),
	}
}

func (remote *stubRemote) ListByCategory(category string, page int) (*tmdb.MovieResponse, error) {
	remote.mu.Lock()
	remote.listCalls++
	gate := remote.listGate
	listErr := remote.listErr
	results := append([]tmdb.Movie(nil), remote.lists[category]...)
	remote.mu.Unlock()

	if gate != nil {
		<-gate
	}

	if listErr != nil {
		return nil, listErr
	}

	return &tmdb.MovieResponse{Page: page, Results: results, TotalPages: 1, TotalResults: len(results)}, nil
}

func (remote *stubRemote) listCallCount() int {
	remote.mu.Lock()
	defer remote.mu.Unlock()
	return remote.listCalls
}

func (remote *stubRemote) GetMovie(movieId int) (*tmdb.Movie, error) {
	remote.mu.Lock()
	defer remote.mu.Unlock()

	if err, ok := remote.movieErrs[movieId]; ok {
		return nil, err
	}

	if m, ok := remote.movies[movieId]; ok {
		return &m, nil
	}

	return nil, errExpected
}

func (remote *stubRemote) Search(query string, page int) (*tmdb.MovieResponse, error) {
	remote.mu.Lock()
	defer remote.mu.Unlock()

	if remote.searchErr != nil {
		return nil, remote.searchErr
	}

	results := append([]tmdb.Movie(nil), remote.search...)
	return &tmdb.MovieResponse{Page: page, Results: results, TotalPages: 1, TotalResults: len(results)}, nil
}

func (remote *stubRemote) GetReviews(movieId int, page int) (*tmdb.ReviewResponse, error) {
	remote.mu.Lock()
	defer remote.mu.Unlock()

	if remote.reviewErr != nil {
		return nil, remote.reviewErr
	}

	results := append([]tmdb.Review(nil), remote.reviews[movieId]...)
	return &tmdb.ReviewResponse{Page: page, Results: results, TotalPages: 1, TotalResults: len(results)}, nil
}

type stubMonitor struct {
	mu     sync.Mutex
	online bool
}

func (monitor *stubMonitor) IsOnline() bool {
	monitor.mu.Lock()
	defer monitor.mu.Unlock()
	return monitor.online
}

func (monitor *stubMonitor) setOnline(online bool) {
	monitor.mu.Lock()
	defer monitor.mu.Unlock()
	monitor.online = online
}

type fixture struct {
	db       database.Manager
	store    *movie.Store
	favs     *favourite.Store
	remote   *stubRemote
	monitor  *stubMonitor
	eventBus event.EventCoordinator
	service  *library.Service
}

func newFixture(t *testing.T, online bool) *fixture {
	db := database.New()
	require.Nil(t, db.Connect(database.DatabaseConfig{Path: ":memory:"}))
	t.Cleanup(func() { db.Close() })

	store := movie.NewStore()
	favs := favourite.NewStore()
	remote := newStubRemote()
	monitor := &stubMonitor{online: online}
	bus := event.New()

	return &fixture{
		db:       db,
		store:    store,
		favs:     favs,
		remote:   remote,
		monitor:  monitor,
		eventBus: bus,
		service:  library.New(db, store, favs, remote, monitor, bus),
	}
}

func (f *fixture) seed(t *testing.T, movies ...movie.Movie) {
	require.Nil(t, f.store.UpsertAll(f.db.GetSqlxDb(), movies))
}

func cachedMovie(id int, title string, voteAverage float64, category string) movie.Movie {
	return movie.Movie{ID: id, Genres: []string{}, Title: title, VoteAverage: voteAverage, Category: category}
}

func remoteMovie(id int, title string, voteAverage float64) tmdb.Movie {
	return tmdb.Movie{Id: id, Title: title, VoteAverage: voteAverage}
}

// collector drains a subscription in the background and exposes the received
// emissions for assertion.
type collector struct {
	mu        sync.Mutex
	emissions [][]movie.Movie
}

func collect(sub *library.Subscription) *collector {
	c := &collector{}
	go func() {
		for projection := range sub.Updates() {
			c.mu.Lock()
			c.emissions = append(c.emissions, projection)
			c.mu.Unlock()
		}
	}()

	return c
}

func (c *collector) all() [][]movie.Movie {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]movie.Movie(nil), c.emissions...)
}

func (c *collector) latest() []movie.Movie {
	all := c.all()
	if len(all) == 0 {
		return nil
	}

	return all[len(all)-1]
}

func ids(movies []movie.Movie) []int {
	out := make([]int, len(movies))
	for k, v := range movies {
		out[k] = v.ID
	}

	return out
}

func Test_Movies_RejectsNonListCategories(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)

	for _, category := range []string{"", "search", "favorites", "bogus"} {
		_, err := f.service.Movies(context.Background(), category)
		assert.NotNil(t, err, "category %q must be rejected", category)
	}
}

func Test_Movies_DeliversCachedProjectionImmediatelyWhenOffline(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	f.seed(t,
		cachedMovie(1, "Low", 2.0, movie.CategoryPopular),
		cachedMovie(2, "High", 9.0, movie.CategoryPopular),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := f.service.Movies(ctx, movie.CategoryPopular)
	require.Nil(t, err)

	first := <-sub.Updates()
	assert.Equal(t, []int{2, 1}, ids(first))

	// Offline: no reconciliation may follow the snapshot.
	select {
	case projection, ok := <-sub.Updates():
		if ok {
			t.Fatalf("unexpected emission while offline: %v", ids(projection))
		}
	case <-time.After(300 * time.Millisecond):
	}
}

func Test_Movies_RepeatedOfflineQueriesAreIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	f.seed(t,
		cachedMovie(1, "Low", 2.0, movie.CategoryPopular),
		cachedMovie(2, "High", 9.0, movie.CategoryPopular),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Issuing the same query twice while offline must yield the same
	// projection both times and leave the cache untouched.
	for i := 0; i < 2; i++ {
		sub, err := f.service.Movies(ctx, movie.CategoryPopular)
		require.Nil(t, err)

		first := <-sub.Updates()
		assert.Equal(t, []int{2, 1}, ids(first))
		sub.Cancel()
	}

	stored, err := f.store.GetByCategory(f.db.GetSqlxDb(), movie.CategoryPopular)
	require.Nil(t, err)
	assert.Len(t, stored, 2)
}

func Test_Movies_WriteCommittedRightAfterOpenIsObserved(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	f.seed(t, cachedMovie(1, "Cached", 5.0, movie.CategoryPopular))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The subscription listens from the moment Movies returns, so a write
	// landing immediately afterwards must surface without a later nudge.
	sub, err := f.service.Movies(ctx, movie.CategoryPopular)
	require.Nil(t, err)

	f.seed(t, cachedMovie(2, "Raced in", 9.0, movie.CategoryPopular))
	f.eventBus.Dispatch(event.MOVIE_UPDATE, 2)

	c := collect(sub)
	assert.EventuallyWithT(t, func(collect *assert.CollectT) {
		assert.Equal(collect, []int{2, 1}, ids(c.latest()))
	}, 2*time.Second, 20*time.Millisecond)
}

func Test_Movies_SlowReconcileDoesNotWedgeEventBus(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	gate := make(chan struct{})
	f.remote.listGate = gate
	f.remote.lists[movie.CategoryPopular] = []tmdb.Movie{remoteMovie(1, "Fresh", 5.0)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := f.service.Movies(ctx, movie.CategoryPopular)
	require.Nil(t, err)
	c := collect(sub)

	assert.Eventually(t, func() bool {
		return f.remote.listCallCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// Flood the bus well past the subscription channel's buffer while the
	// remote call is still held open; no dispatcher may block on it.
	flooded := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			f.eventBus.Dispatch(event.MOVIE_UPDATE, 1000+i)
		}
		close(flooded)
	}()

	select {
	case <-flooded:
	case <-time.After(3 * time.Second):
		t.Fatal("event bus blocked while a category reconciliation was in flight")
	}

	close(gate)

	// Dispatch from a fresh goroutine must still return promptly once the
	// reconciliation completes.
	done := make(chan struct{})
	go func() {
		f.eventBus.Dispatch(event.MOVIE_UPDATE, 99)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("event bus blocked after the reconciliation committed")
	}

	assert.EventuallyWithT(t, func(collect *assert.CollectT) {
		assert.Equal(collect, []int{1}, ids(c.latest()))
	}, 2*time.Second, 20*time.Millisecond)
}

func Test_Movies_TwoPhaseEmissionRefreshesEmptyCache(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	f.remote.lists[movie.CategoryPopular] = []tmdb.Movie{
		remoteMovie(1, "Low", 2.0),
		remoteMovie(2, "High", 9.0),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := f.service.Movies(ctx, movie.CategoryPopular)
	require.Nil(t, err)
	c := collect(sub)

	assert.EventuallyWithT(t, func(collect *assert.CollectT) {
		emissions := c.all()
		assert.GreaterOrEqual(collect, len(emissions), 2)
		if len(emissions) >= 2 {
			assert.Empty(collect, emissions[0])
			assert.Equal(collect, []int{2, 1}, ids(c.latest()))
		}
	}, 2*time.Second, 20*time.Millisecond)

	stored, err := f.store.GetByCategory(f.db.GetSqlxDb(), movie.CategoryPopular)
	require.Nil(t, err)
	assert.Len(t, stored, 2)
	assert.Equal(t, movie.CategoryPopular, stored[0].Category)
}

func Test_Movies_RemoteFailureLeavesCacheStanding(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	f.seed(t, cachedMovie(1, "Cached", 5.0, movie.CategoryPopular))
	f.remote.listErr = errExpected

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := f.service.Movies(ctx, movie.CategoryPopular)
	require.Nil(t, err)

	first := <-sub.Updates()
	assert.Equal(t, []int{1}, ids(first))

	// The failed reconciliation must not evict or emit.
	assert.Never(t, func() bool {
		stored, err := f.store.GetByCategory(f.db.GetSqlxDb(), movie.CategoryPopular)
		return err != nil || len(stored) != 1
	}, 500*time.Millisecond, 50*time.Millisecond)
}

func Test_Movies_RefreshEvictsStaleRowsButKeepsFavourites(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	f.seed(t,
		cachedMovie(1, "Stale", 5.0, movie.CategoryPopular),
		cachedMovie(2, "Favourited stale", 6.0, movie.CategoryPopular),
		cachedMovie(3, "Other category", 7.0, movie.CategoryUpcoming),
	)
	require.Nil(t, f.favs.Toggle(f.db.GetSqlxDb(), 2))
	f.remote.lists[movie.CategoryPopular] = []tmdb.Movie{remoteMovie(4, "Fresh", 8.0)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := f.service.Movies(ctx, movie.CategoryPopular)
	require.Nil(t, err)
	c := collect(sub)

	assert.EventuallyWithT(t, func(collect *assert.CollectT) {
		all, err := f.store.GetAll(f.db.GetSqlxDb())
		assert.Nil(collect, err)
		assert.ElementsMatch(collect, []int{2, 3, 4}, ids(all))
	}, 2*time.Second, 20*time.Millisecond)

	assert.EventuallyWithT(t, func(collect *assert.CollectT) {
		assert.Equal(collect, []int{4, 2}, ids(c.latest()))
	}, 2*time.Second, 20*time.Millisecond)
}

func Test_Movies_ReemitsWhenAnotherWriteTouchesCategory(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	f.seed(t, cachedMovie(1, "Cached", 5.0, movie.CategoryPopular))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := f.service.Movies(ctx, movie.CategoryPopular)
	require.Nil(t, err)
	c := collect(sub)

	assert.EventuallyWithT(t, func(collect *assert.CollectT) {
		assert.GreaterOrEqual(collect, len(c.all()), 1)
	}, time.Second, 20*time.Millisecond)

	// A direct cache write followed by a dispatch mimics another query's
	// committed reconciliation touching this category.
	f.seed(t, cachedMovie(9, "Injected", 9.0, movie.CategoryPopular))
	f.eventBus.Dispatch(event.MOVIE_UPDATE, 9)

	assert.EventuallyWithT(t, func(collect *assert.CollectT) {
		assert.Equal(collect, []int{9, 1}, ids(c.latest()))
	}, 2*time.Second, 20*time.Millisecond)
}

func Test_Movies_RefreshRequestReentersFetchPhase(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := f.service.Movies(ctx, movie.CategoryTopRated)
	require.Nil(t, err)
	c := collect(sub)

	// First reconciliation sees an empty remote list.
	assert.EventuallyWithT(t, func(collect *assert.CollectT) {
		assert.GreaterOrEqual(collect, len(c.all()), 1)
	}, time.Second, 20*time.Millisecond)

	f.remote.mu.Lock()
	f.remote.lists[movie.CategoryTopRated] = []tmdb.Movie{remoteMovie(5, "New arrival", 7.5)}
	f.remote.mu.Unlock()

	sub.Refresh()

	assert.EventuallyWithT(t, func(collect *assert.CollectT) {
		assert.Equal(collect, []int{5}, ids(c.latest()))
	}, 2*time.Second, 20*time.Millisecond)
}

func Test_MovieDetails_OfflineSettlesWithCachedRecordOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	f.seed(t, cachedMovie(1, "Cached", 5.0, movie.CategoryPopular))

	updates, err := f.service.MovieDetails(context.Background(), 1)
	require.Nil(t, err)

	var received []*movie.Movie
	for m := range updates {
		received = append(received, m)
	}

	require.Len(t, received, 1)
	assert.Equal(t, "Cached", received[0].Title)
}

func Test_MovieDetails_RefreshPreservesExistingCategory(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	f.seed(t, cachedMovie(1, "Old title", 5.0, movie.CategoryUpcoming))
	f.remote.movies[1] = remoteMovie(1, "New title", 6.0)

	updates, err := f.service.MovieDetails(context.Background(), 1)
	require.Nil(t, err)

	var settled *movie.Movie
	for m := range updates {
		if m != nil {
			settled = m
		}
	}

	require.NotNil(t, settled)
	assert.Equal(t, "New title", settled.Title)
	assert.Equal(t, movie.CategoryUpcoming, settled.Category)
}

func Test_MovieDetails_UnseenRecordStoredUntagged(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	f.remote.movies[7] = remoteMovie(7, "Brand new", 6.0)

	updates, err := f.service.MovieDetails(context.Background(), 7)
	require.Nil(t, err)

	var received []*movie.Movie
	for m := range updates {
		received = append(received, m)
	}

	// Phase 1 finds nothing cached; phase 2 delivers the fetched record.
	require.Len(t, received, 2)
	assert.Nil(t, received[0])
	require.NotNil(t, received[1])
	assert.Equal(t, "", received[1].Category)
}

func Test_SearchMovies_ReplacesPreviousResultSet(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	f.seed(t, cachedMovie(1, "Old result", 5.0, movie.CategorySearch))
	f.remote.search = []tmdb.Movie{remoteMovie(2, "New result", 6.0)}

	updates, err := f.service.SearchMovies(context.Background(), "new")
	require.Nil(t, err)

	var emissions [][]movie.Movie
	for results := range updates {
		emissions = append(emissions, results)
	}

	require.Len(t, emissions, 2)
	assert.Equal(t, []int{1}, ids(emissions[0]))
	assert.Equal(t, []int{2}, ids(emissions[1]))

	stored, err := f.store.GetByCategory(f.db.GetSqlxDb(), movie.CategorySearch)
	require.Nil(t, err)
	assert.Equal(t, []int{2}, ids(stored))
}

func Test_SearchMovies_SupersededSearchDiscardsItsResults(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	f.remote.search = []tmdb.Movie{remoteMovie(1, "First query result", 5.0)}

	firstUpdates, err := f.service.SearchMovies(context.Background(), "first")
	require.Nil(t, err)

	f.remote.mu.Lock()
	f.remote.search = []tmdb.Movie{remoteMovie(2, "Second query result", 6.0)}
	f.remote.mu.Unlock()

	secondUpdates, err := f.service.SearchMovies(context.Background(), "second")
	require.Nil(t, err)

	for range firstUpdates {
	}
	for range secondUpdates {
	}

	// Whatever the interleaving, the committed search set must be the most
	// recent query's; a stale first search may never clobber it.
	assert.EventuallyWithT(t, func(collect *assert.CollectT) {
		stored, err := f.store.GetByCategory(f.db.GetSqlxDb(), movie.CategorySearch)
		assert.Nil(collect, err)
		assert.Equal(collect, []int{2}, ids(stored))
	}, 2*time.Second, 20*time.Millisecond)
}

func Test_Reviews_RemoteIsAuthoritative(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	f.seed(t, cachedMovie(1, "Reviewed", 5.0, movie.CategoryPopular))
	require.Nil(t, f.store.ReplaceReviews(f.db.GetSqlxDb(), 1, []movie.Review{
		movie.NewReview(1, "old author", "old content"),
	}))
	f.remote.reviews[1] = []tmdb.Review{{Id: "r1", Author: "alice", Content: "superb"}}

	updates, err := f.service.Reviews(context.Background(), 1)
	require.Nil(t, err)

	var emissions [][]movie.Review
	for reviews := range updates {
		emissions = append(emissions, reviews)
	}

	require.Len(t, emissions, 2)
	require.Len(t, emissions[0], 1)
	assert.Equal(t, "old author", emissions[0][0].Author)
	require.Len(t, emissions[1], 1)
	assert.Equal(t, "alice", emissions[1][0].Author)
}

func Test_ToggleFavourite_CommitsBeforeNotifying(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)

	var observedIDs []int
	var observedErr error
	f.eventBus.RegisterHandlerFunction(event.FAVOURITE_UPDATE, func(event.Event, event.Payload) {
		observedIDs, observedErr = f.service.FavouriteIDs()
	})

	require.Nil(t, f.service.ToggleFavourite(42))

	// The handler runs synchronously on dispatch; it must observe the
	// already-committed set.
	require.Nil(t, observedErr)
	assert.Equal(t, []int{42}, observedIDs)

	favourited, err := f.service.IsFavourite(42)
	require.Nil(t, err)
	assert.True(t, favourited)
}
