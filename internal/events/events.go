// Package events carries the structured events every mutating
// settlement operation emits: auction lifecycle, bids, and matched
// orders, with the parties and amounts external observers need.
package events

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Type names a settlement event.
type Type string

const (
	TypeAuctionCreated   Type = "AuctionCreated"
	TypeBidPlaced        Type = "BidPlaced"
	TypeBidRefunded      Type = "BidRefunded"
	TypeAuctionCancelled Type = "AuctionCancelled"
	TypeAuctionDeleted   Type = "AuctionDeleted"
	TypeAuctionSettled   Type = "AuctionSettled"
	TypeOrdersMatched    Type = "OrdersMatched"
	TypePayout           Type = "Payout"
)

// Event is a single observable settlement fact.
type Event struct {
	ID        uuid.UUID         `json:"id"`
	Type      Type              `json:"type"`
	AuctionID uint64            `json:"auction_id,omitempty"`
	Actor     common.Address    `json:"actor"`
	Fields    map[string]string `json:"fields,omitempty"`
	At        time.Time         `json:"at"`
}

// New builds an event stamped with a fresh id and the current time.
func New(t Type, actor common.Address, auctionID uint64, fields map[string]string) Event {
	return Event{
		ID:        uuid.New(),
		Type:      t,
		AuctionID: auctionID,
		Actor:     actor,
		Fields:    fields,
		At:        time.Now().UTC(),
	}
}

// Emitter publishes events. Emission is observability, not settlement
// state: emitters must not fail the operation that produced the event.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// Multi fans an event out to several emitters.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, ev Event) {
	for _, e := range m {
		e.Emit(ctx, ev)
	}
}

// Nop discards events. Used where no observer is wired.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}
