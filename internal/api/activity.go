package api

import (
	"context"

	"github.com/cineview/cineview/internal/event"
	"github.com/cineview/cineview/internal/http/websocket"
	"github.com/cineview/cineview/pkg/logger"
)

const (
	TITLE_CATEGORY_UPDATE  = "CATEGORY_UPDATE"
	TITLE_MOVIE_UPDATE     = "MOVIE_UPDATE"
	TITLE_REVIEW_UPDATE    = "REVIEW_UPDATE"
	TITLE_FAVOURITE_UPDATE = "FAVOURITE_UPDATE"
	TITLE_NETWORK_UPDATE   = "NETWORK_UPDATE"
)

type (
	favouriteReader interface {
		FavouriteIDs() ([]int, error)
	}

	// The broadcaster bridges the internal event bus and the websocket hub:
	// every committed cache write is announced to all connected clients as a
	// lightweight notification naming the scope of the change. Clients re-fetch
	// the affected resource over REST, mirroring how in-process live queries
	// re-run their projection.
	broadcaster struct {
		socketHub  *websocket.SocketHub
		eventBus   event.EventCoordinator
		favourites favouriteReader
	}
)

func newBroadcaster(socketHub *websocket.SocketHub, eventBus event.EventCoordinator, favourites favouriteReader) *broadcaster {
	return &broadcaster{socketHub: socketHub, eventBus: eventBus, favourites: favourites}
}

// listen consumes store write events until the context is cancelled. It is
// registered with a generously buffered channel so that a slow websocket
// client cannot stall the dispatching writer.
func (hub *broadcaster) listen(ctx context.Context) {
	events := make(event.HandlerChannel, 64)
	hub.eventBus.RegisterHandlerChannel(events,
		event.MOVIE_CATEGORY_UPDATE, event.MOVIE_UPDATE, event.REVIEW_UPDATE, event.FAVOURITE_UPDATE)
	defer hub.eventBus.UnregisterHandlerChannel(events)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			hub.broadcastEvent(ev)
		}
	}
}

func (hub *broadcaster) broadcastEvent(ev event.HandlerEvent) {
	switch ev.Event {
	case event.MOVIE_CATEGORY_UPDATE:
		hub.broadcast(TITLE_CATEGORY_UPDATE, map[string]interface{}{"category": ev.Payload})
	case event.MOVIE_UPDATE:
		hub.broadcast(TITLE_MOVIE_UPDATE, map[string]interface{}{"movie_id": ev.Payload})
	case event.REVIEW_UPDATE:
		hub.broadcast(TITLE_REVIEW_UPDATE, map[string]interface{}{"movie_id": ev.Payload})
	case event.FAVOURITE_UPDATE:
		ids, err := hub.favourites.FavouriteIDs()
		if err != nil {
			log.Emit(logger.ERROR, "Failed to read favourite ids for broadcast: %v\n", err)
			ids = []int{}
		}

		hub.broadcast(TITLE_FAVOURITE_UPDATE, map[string]interface{}{"ids": ids})
	}
}

// BroadcastNetworkUpdate pushes a connectivity transition to all connected
// clients so they can surface an offline banner without polling.
func (hub *broadcaster) BroadcastNetworkUpdate(online bool) {
	hub.broadcast(TITLE_NETWORK_UPDATE, map[string]interface{}{"online": online})
}

func (hub *broadcaster) broadcast(title string, body map[string]interface{}) {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  body,
		Type:  websocket.Update,
	})
}
