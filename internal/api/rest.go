package api

import (
	"context"
	"sync"

	"github.com/cineview/cineview/internal/api/favourites"
	"github.com/cineview/cineview/internal/api/movies"
	"github.com/cineview/cineview/internal/event"
	"github.com/cineview/cineview/internal/http/websocket"
	"github.com/cineview/cineview/internal/library"
	"github.com/cineview/cineview/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// connectivityMonitor is the slice of the network monitor the gateway
	// consumes: the snapshot for the welcome payload, and the transition
	// stream for pushing NETWORK_UPDATE frames.
	connectivityMonitor interface {
		IsOnline() bool
		Subscribe() chan bool
		Unsubscribe(chan bool)
	}

	// The RestGateway is a thin-wrapper around the Echo HTTP router. Its sole
	// responsibility is to create the routes Cineview exposes, manage ongoing
	// web socket connections and events, and bridge store write events out to
	// connected clients.
	RestGateway struct {
		*broadcaster
		config              *RestConfig
		ec                  *echo.Echo
		socket              *websocket.SocketHub
		monitor             connectivityMonitor
		movieController     controller
		favouriteController controller
	}

	toggleFavouriteCommand struct {
		MovieId int `mapstructure:"movie_id"`
	}
)

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the various controllers.
func NewRestGateway(
	config *RestConfig,
	libraryService *library.Service,
	monitor connectivityMonitor,
	eventBus event.EventCoordinator,
	sessionID string,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	socket := websocket.New()
	gateway := &RestGateway{
		broadcaster:         newBroadcaster(socket, eventBus, libraryService),
		config:              config,
		ec:                  ec,
		socket:              socket,
		monitor:             monitor,
		movieController:     movies.New(libraryService),
		favouriteController: favourites.New(libraryService),
	}

	// New clients are seeded with the favourite set and connectivity snapshot
	// so they need not wait for the first UPDATE frame.
	socket.WithConnectionCallback(func() map[string]interface{} {
		ids, err := libraryService.FavouriteIDs()
		if err != nil {
			log.Emit(logger.ERROR, "Failed to read favourite ids for welcome payload: %v\n", err)
			ids = []int{}
		}

		return map[string]interface{}{
			"session_id":    sessionID,
			"online":        monitor.IsOnline(),
			"favourite_ids": ids,
		}
	})

	socket.BindCommand("TOGGLE_FAVOURITE", func(hub *websocket.SocketHub, message *websocket.SocketMessage) error {
		var command toggleFavouriteCommand
		if err := message.DecodeBodyInTo(&command); err != nil {
			return err
		}

		if err := libraryService.ToggleFavourite(command.MovieId); err != nil {
			return err
		}

		hub.Send(message.FormReply("COMMAND_SUCCESS", map[string]interface{}{"movie_id": command.MovieId}, websocket.Response))
		return nil
	})

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/api/cineview/v1/updates/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	movieGroup := ec.Group("/api/cineview/v1/movies")
	gateway.movieController.SetRoutes(movieGroup)

	favouriteGroup := ec.Group("/api/cineview/v1/favourites")
	gateway.favouriteController.SetRoutes(favouriteGroup)

	return gateway
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	// Start websocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	// Forward store write events and connectivity transitions to clients.
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.broadcaster.listen(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		transitions := gateway.monitor.Subscribe()
		defer gateway.monitor.Unsubscribe(transitions)
		for {
			select {
			case <-ctx.Done():
				return
			case online := <-transitions:
				gateway.broadcaster.BroadcastNetworkUpdate(online)
			}
		}
	}()

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
