package domain

import (
	"context"
	"errors"

	"github.com/codewandler/evsrc/core/es"
	"github.com/codewandler/evsrc/core/es/assert"
	"github.com/codewandler/evsrc/core/fsm"
)

const (
	OrderType    = "order"
	LineItemType = "line_item"

	StateCreated   fsm.State = "created"
	StatePaid      fsm.State = "paid"
	StateShipped   fsm.State = "shipped"
	StateCancelled fsm.State = "cancelled"
)

var ErrAlreadyPlaced = errors.New("order already placed")

type (
	OrderPlaced struct {
		Customer string `json:"customer"`
	}
	OrderPaid struct {
		Amount int `json:"amount"`
	}
	OrderShipped   struct{}
	OrderCancelled struct {
		Reason string `json:"reason"`
	}
	ItemAdded struct {
		SKU   string `json:"sku"`
		Qty   int    `json:"qty"`
		Price int    `json:"price"`
	}
	ItemRemoved struct {
		SKU string `json:"sku"`
	}
)

func (e OrderPlaced) Validate() error {
	if e.Customer == "" {
		return errors.New("customer is required")
	}
	return nil
}

func (e ItemAdded) Validate() error {
	if e.Qty <= 0 {
		return errors.New("qty must be positive")
	}
	return nil
}

func OrderEvents() []func() any {
	return []func() any{
		es.Kind[OrderPlaced](),
		es.Kind[OrderPaid](),
		es.Kind[OrderShipped](),
		es.Kind[OrderCancelled](),
		es.Kind[ItemAdded](),
		es.Kind[ItemRemoved](),
	}
}

var orderMachine = fsm.New("state", func(o *Order) fsm.State { return o.State }).
	State(StateCreated).
	State(StatePaid).
	State(StateShipped).
	State(StateCancelled).
	Transition(StateCreated, StatePaid, "order_paid").
	Transition(StateCreated, StateCancelled, "order_cancelled").
	Transition(StatePaid, StateShipped, "order_shipped").
	MustBuild()

// Order is snapshotted every 2 applied events so tests see snapshots early.
type Order struct {
	es.BaseAggregate

	State    fsm.State `json:"state"`
	Customer string    `json:"customer"`
	Paid     int       `json:"paid"`
	Total    int       `json:"total"`
	Items    int       `json:"items"`
	Deleted  bool      `json:"deleted"`
}

func NewOrderType() *es.AggregateType {
	return &es.AggregateType{
		Name:             OrderType,
		SchemaVersion:    1,
		New:              func() es.Aggregate { return &Order{} },
		SnapshotInterval: es.FixedInterval(2),
		Init:             []func(es.Aggregate){func(a es.Aggregate) { a.(*Order).State = StateCreated }},
	}
}

func NewLineItemType() *es.DomainType {
	return &es.DomainType{
		Name: LineItemType,
		New:  func() es.Domain { return &LineItem{} },
	}
}

func (o *Order) GetAggType() string         { return OrderType }
func (o *Order) StateMachine() fsm.Listener { return orderMachine.Guard() }
func (o *Order) Apply(ev es.Event) error {
	switch p := ev.Payload.(type) {
	case *OrderPlaced:
		o.Customer = p.Customer
	case *OrderPaid:
		o.State = StatePaid
		o.Paid += p.Amount
	case *OrderShipped:
		o.State = StateShipped
	case *OrderCancelled:
		o.State = StateCancelled
	case *ItemAdded:
		o.Items++
		o.Total += p.Qty * p.Price
	case *ItemRemoved:
		o.Items--
	case *es.AggregateDeleted:
		o.Deleted = true
	}
	return nil
}

// === Commands ===

func (o *Order) Place(customer string) error {
	return o.Checked(
		assert.True(o.Customer == "", "order not placed yet"),
		es.RaiseAndApplyD(o, &OrderPlaced{Customer: customer}),
	)
}

func (o *Order) Pay(amount int) error { return es.RaiseAndApply(o, &OrderPaid{Amount: amount}) }
func (o *Order) Ship() error          { return es.RaiseAndApply(o, &OrderShipped{}) }
func (o *Order) Cancel(reason string) error {
	return es.RaiseAndApply(o, &OrderCancelled{Reason: reason})
}

// AddItem raises ItemAdded on the line item sku. The returned domain holds
// the uncommitted event.
func (o *Order) AddItem(ctx context.Context, sku string, qty, price int) (*LineItem, error) {
	item, err := es.LoadDomain[*LineItem](ctx, o, LineItemType, sku)
	if err != nil {
		return nil, err
	}
	return item, es.RaiseAndApply(item, &ItemAdded{SKU: sku, Qty: qty, Price: price})
}

// === LineItem ===

type LineItem struct {
	es.BaseDomain

	SKU     string
	Qty     int
	Price   int
	Removed bool
}

func (l *LineItem) Apply(ev es.Event) error {
	switch p := ev.Payload.(type) {
	case *ItemAdded:
		l.SKU = p.SKU
		l.Qty += p.Qty
		l.Price = p.Price
	case *ItemRemoved:
		l.Removed = true
	}
	return nil
}

func (l *LineItem) Remove() error {
	return l.Checked(
		assert.Not(assert.True(l.Removed, "removed")),
		es.RaiseAndApplyD(l, &ItemRemoved{SKU: l.SKU}),
	)
}
