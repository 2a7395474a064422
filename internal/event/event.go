// A collection of event names and common methods used to handle the events
// emitted by the data layer. Every committed write to the movie cache, review
// table or favourite set dispatches one of these events; live queries re-run
// their projection when an event matching their scope arrives.
package event

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/cineview/cineview/pkg/logger"
)

var log = logger.Get("Event")

// Events emitted by the library service after a committed store write. The
// payload identifies the scope of the write so that subscribers can ignore
// updates that cannot affect their projection.
type (
	Event         string
	Payload       any
	HandlerMethod func(Event, Payload)

	HandlerChannel chan HandlerEvent
	HandlerEvent   struct {
		Event   Event
		Payload Payload
	}

	EventDispatcher interface {
		Dispatch(Event, Payload)
	}

	EventHandler interface {
		RegisterAsyncHandlerFunction(Event, HandlerMethod)
		RegisterHandlerFunction(Event, HandlerMethod)
		RegisterHandlerChannel(HandlerChannel, ...Event)
		UnregisterHandlerChannel(HandlerChannel)
	}

	EventCoordinator interface {
		EventDispatcher
		EventHandler
	}

	eventHandler struct {
		mu           sync.RWMutex
		fnHandlers   map[Event][]handlerMethod
		chanHandlers map[Event][]HandlerChannel
	}

	handlerMethod struct {
		handle HandlerMethod
		async  bool
	}
)

const (
	// Payload is the category string whose cached rows changed.
	MOVIE_CATEGORY_UPDATE Event = "movie:category:update"

	// Payload is the int ID of the movie row that changed.
	MOVIE_UPDATE Event = "movie:update"

	// Payload is the int ID of the movie whose reviews were replaced.
	REVIEW_UPDATE Event = "review:update"

	// Payload is nil; subscribers re-read the favourite set.
	FAVOURITE_UPDATE Event = "favourite:update"
)

func New() EventCoordinator {
	return &eventHandler{
		fnHandlers:   make(map[Event][]handlerMethod),
		chanHandlers: make(map[Event][]HandlerChannel),
	}
}

// RegisterHandlerChannel takes an event type and a channel and will send Event
// messages on the channel any time a Dispatch for the provided event occurs.
// This method can be used multiple times for different events on the same channel.
//
// If the channel is BLOCKED when the event bus attempts to send the message on
// the handler channel, then the thread dispatching the event will also be
// BLOCKED. It is recommended to buffer the handler channels appropriately to
// avoid dispatcher-side blocking.
func (handler *eventHandler) RegisterHandlerChannel(handle HandlerChannel, events ...Event) {
	handler.mu.Lock()
	defer handler.mu.Unlock()

	for _, event := range events {
		handler.chanHandlers[event] = append(handler.chanHandlers[event], handle)
	}
}

// UnregisterHandlerChannel removes the provided channel from all events it was
// registered against. Live query subscriptions detach this way when their
// consumer cancels; the channel itself is not closed by the bus.
func (handler *eventHandler) UnregisterHandlerChannel(handle HandlerChannel) {
	handler.mu.Lock()
	defer handler.mu.Unlock()

	for event, handles := range handler.chanHandlers {
		filtered := handles[:0]
		for _, h := range handles {
			if h != handle {
				filtered = append(filtered, h)
			}
		}

		handler.chanHandlers[event] = filtered
	}
}

// RegisterHandlerFunction takes an event type and a handler method which will
// be stored and called with the payload for the event whenever it is dispatched.
// The handle provided should be guaranteed to return quickly, else other
// threads calling Dispatch on this event bus will be blocked.
func (handler *eventHandler) RegisterHandlerFunction(event Event, handle HandlerMethod) {
	handler.registerHandlerMethod(event, handlerMethod{handle, false})
}

// RegisterAsyncHandlerFunction accepts an Event and a HandlerMethod which will
// be stored and called inside of a goroutine when the event is handled. The
// speed at which this handle runs is not important to the event bus, unlike
// RegisterHandlerFunction.
func (handler *eventHandler) RegisterAsyncHandlerFunction(event Event, handle HandlerMethod) {
	handler.registerHandlerMethod(event, handlerMethod{handle, true})
}

func (handler *eventHandler) registerHandlerMethod(event Event, handle handlerMethod) {
	handler.mu.Lock()
	defer handler.mu.Unlock()

	handler.fnHandlers[event] = append(handler.fnHandlers[event], handle)
}

// Dispatch takes an event type and a payload and delivers the payload to every
// handler registered for the event type provided. Note that this method WILL
// block if a synchronous handler function is blocking, or if channel handlers
// are blocked.
func (handler *eventHandler) Dispatch(event Event, payload Payload) {
	if err := validatePayload(event, payload); err != nil {
		log.Emit(logger.FATAL, "Dispatch for event %v FAILED validation: %v\n", event, err)
		return
	}

	handler.mu.RLock()
	fnHandles := append([]handlerMethod(nil), handler.fnHandlers[event]...)
	chanHandles := append([]HandlerChannel(nil), handler.chanHandlers[event]...)
	handler.mu.RUnlock()

	for _, handle := range fnHandles {
		if handle.async {
			go handle.handle(event, payload)
		} else {
			handle.handle(event, payload)
		}
	}

	if len(chanHandles) > 0 {
		message := HandlerEvent{event, payload}
		for _, handle := range chanHandles {
			handle <- message
		}
	}
}

// validatePayload ensures that the payload provided is valid for the event
// specified. An error is returned if the payload is not valid, and the event
// must not be sent to the registered handlers in this case.
func validatePayload(event Event, payload Payload) error {
	var payloadTypeName string
	if t := reflect.TypeOf(payload); t != nil {
		payloadTypeName = t.Name()
	} else {
		payloadTypeName = "Nil"
	}

	switch event {
	case MOVIE_CATEGORY_UPDATE:
		if _, ok := payload.(string); !ok {
			return fmt.Errorf("illegal payload (type %s) for %s event. Expected string payload", payloadTypeName, event)
		}

		return nil
	case MOVIE_UPDATE:
		fallthrough
	case REVIEW_UPDATE:
		if _, ok := payload.(int); !ok {
			return fmt.Errorf("illegal payload (type %s) for %s event. Expected int payload", payloadTypeName, event)
		}

		return nil
	case FAVOURITE_UPDATE:
		if payload != nil {
			return fmt.Errorf("illegal payload (type %s) for %s event. Expected nil payload", payloadTypeName, event)
		}

		return nil
	}

	return errors.New("event type not recognized for validation")
}
