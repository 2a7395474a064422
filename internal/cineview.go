package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/cineview/cineview/internal/api"
	"github.com/cineview/cineview/internal/connectivity"
	"github.com/cineview/cineview/internal/database"
	"github.com/cineview/cineview/internal/event"
	"github.com/cineview/cineview/internal/favourite"
	"github.com/cineview/cineview/internal/http/tmdb"
	"github.com/cineview/cineview/internal/library"
	"github.com/cineview/cineview/internal/movie"
	"github.com/cineview/cineview/internal/session"
	"github.com/cineview/cineview/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	// Cineview represents the top-level object for the server, and is
	// responsible for initialising the database, stores, services, event
	// handling, et cetera...
	cineviewImpl struct {
		eventBus event.EventCoordinator
		config   CineviewConfig

		db             database.Manager
		movieStore     *movie.Store
		favouriteStore *favourite.Store
		sessionStore   *session.Store

		monitor        *connectivity.Monitor
		libraryService *library.Service
	}
)

func New(config CineviewConfig) *cineviewImpl {
	log.Emit(logger.DEBUG, "Bootstrapping Cineview services using config: %#v\n", config)

	return &cineviewImpl{
		eventBus:       event.New(),
		config:         config,
		db:             database.New(),
		movieStore:     movie.NewStore(),
		favouriteStore: favourite.NewStore(),
		sessionStore:   session.NewStore(),
	}
}

// Run will start all of Cineview by bringing up all required services and
// connections: the database, the connectivity monitor, the library service
// and the REST gateway.
//
// This function will not return until Cineview is stopped. To stop Cineview,
// the provided context must be cancelled. Errors from which Cineview cannot
// recover will also cause it to stop.
func (cineview *cineviewImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	if err := cineview.db.Connect(cineview.config.Database); err != nil {
		return err
	}
	defer cineview.db.Close()

	sessionID, err := cineview.sessionStore.Ensure(cineview.db.GetSqlxDb())
	if err != nil {
		return fmt.Errorf("failed to establish session: %w", err)
	}
	log.Emit(logger.INFO, "Session established {%s}\n", sessionID)

	remote := tmdb.NewClient(cineview.config.Tmdb)
	cineview.monitor = connectivity.New(cineview.config.Connectivity, nil)
	cineview.libraryService = library.New(
		cineview.db,
		cineview.movieStore,
		cineview.favouriteStore,
		remote,
		cineview.monitor,
		cineview.eventBus,
	)

	restGateway := api.NewRestGateway(
		&cineview.config.Rest,
		cineview.libraryService,
		cineview.monitor,
		cineview.eventBus,
		sessionID,
	)

	wg := &sync.WaitGroup{}
	cineview.spawnAsyncService(ctx, wg, cineview.monitor, "connectivity-monitor", crashHandler)
	cineview.spawnAsyncService(ctx, wg, restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Cineview services spawned!\n")

	wg.Wait()
	return nil
}

// spawnAsyncService will run the provided function/service as its own
// go-routine, ensuring that the Cineview service waitgroup is updated correctly.
func (cineview *cineviewImpl) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
