// Package internal contains message payloads shared by test functions
// across the module.
package internal

import (
	"time"

	"github.com/google/uuid"

	"github.com/go-mbus/mbus/message"
)

// PlaceOrder is a Command payload that can be used in test functions.
type PlaceOrder struct {
	OrderID uuid.UUID `json:"order_id"`
	Total   int64     `json:"total"`
}

// Name is the payload name of the PlaceOrder type.
func (PlaceOrder) Name() string { return "place_order" }

// Kind marks PlaceOrder as a Command.
func (PlaceOrder) Kind() message.Kind { return message.KindCommand }

// OrderPlaced is an Event payload that can be used in test functions.
type OrderPlaced struct {
	OrderID  uuid.UUID `json:"order_id"`
	Total    int64     `json:"total"`
	PlacedAt time.Time `json:"placed_at"`
}

// Name is the payload name of the OrderPlaced type.
func (OrderPlaced) Name() string { return "order_placed" }

// Kind marks OrderPlaced as an Event.
func (OrderPlaced) Kind() message.Kind { return message.KindEvent }

// OrderShipped is an Event payload that can be used in test functions.
type OrderShipped struct {
	OrderID uuid.UUID `json:"order_id"`
}

// Name is the payload name of the OrderShipped type.
func (OrderShipped) Name() string { return "order_shipped" }

// Kind marks OrderShipped as an Event.
func (OrderShipped) Kind() message.Kind { return message.KindEvent }

// BrokenMessage is a payload reporting an out-of-taxonomy Kind,
// used to exercise the fatal unknown-kind path in test functions.
type BrokenMessage struct{}

// Name is the payload name of the BrokenMessage type.
func (BrokenMessage) Name() string { return "broken_message" }

// Kind reports an invalid message Kind.
func (BrokenMessage) Kind() message.Kind { return message.KindUnspecified }
