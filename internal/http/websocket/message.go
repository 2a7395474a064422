package websocket

import (
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

type socketMessageType int

const (
	Update socketMessageType = iota
	Command
	Response
	ErrorResponse
	Welcome
)

// SocketMessage is a struct that allows us to define the command that has
// been passed through the web socket. The Id field can be used when replying
// to this message so the receiving client is aware of which message this
// reply is for. Origin is much for the same - it allows us to send the reply
// to the websocket attached to the client with the matching UUID.
type SocketMessage struct {
	Title  string                 `json:"title"`
	Body   map[string]interface{} `json:"arguments"`
	Id     int                    `json:"id"`
	Type   socketMessageType      `json:"type"`
	Origin *uuid.UUID             `json:"-"`
	Target *uuid.UUID             `json:"-"`
}

// DecodeBodyInTo unpacks the free-form message body in to the provided
// struct, erroring on unknown or missing keys per the struct's mapstructure
// tags.
func (message *SocketMessage) DecodeBodyInTo(target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      target,
		ErrorUnused: false,
		ErrorUnset:  true,
	})
	if err != nil {
		return err
	}

	return decoder.Decode(message.Body)
}

// FormReply is a method on a SocketMessage that will return a NEW message
// that has the same origin/id as the original message, but with a new
// (caller provided) title, type, and arguments.
func (message *SocketMessage) FormReply(replyTitle string, replyBody map[string]interface{}, replyType socketMessageType) *SocketMessage {
	if replyBody != nil {
		replyBody["command"] = message.Body
	}

	return &SocketMessage{
		Title:  replyTitle,
		Body:   replyBody,
		Type:   replyType,
		Id:     message.Id,
		Target: message.Origin,
	}
}
