// Package es is an event sourcing core: aggregates and their domains are
// rebuilt by replaying events, changes are raised as events, and committed
// events are appended to an [EventLog] and published to handlers.
//
// # Aggregates and domains
//
// An aggregate embeds [BaseAggregate] and is described by an
// [AggregateType]. Events are raised with [RaiseAndApply], which stamps the
// next version, applies the event and records it as uncommitted:
//
//	type Order struct {
//	    es.BaseAggregate
//	    State fsm.State `json:"state"`
//	}
//
//	func (o *Order) GetAggType() string { return "order" }
//
//	func (o *Order) Pay(amount int) error {
//	    return es.RaiseAndApply(o, &OrderPaid{Amount: amount})
//	}
//
// A domain embeds [BaseDomain] and lives inside one aggregate. Domain events
// share the version counter of the root and are applied to both. Use
// [LoadDomain] to get a domain attached to its root.
//
// # Loading
//
// [Repository.Load] tries, in order, a custom [AggregateLoader], the memo
// cache, the latest matching snapshot, and then replays the remaining
// events. Bounds ([WithUntilVersion], [WithUntilCreatedAt], [WithParentID])
// load historical states. [Repository.Preload] loads many aggregates of one
// type with a single snapshot lookup and a single event query.
//
// # Committing
//
// [Repository.Commit] appends uncommitted events, publishes them through the
// [Publisher] and takes a snapshot when the aggregate type's interval says
// so. Run several commits in one [EventLog] transaction with
// [Repository.InTx].
//
// # Environment
//
// [NewEnv] wires registry, log, store, publisher and repository:
//
//	env, err := es.NewEnv(
//	    es.WithEvents(es.Kind[OrderPlaced](), es.Kind[OrderPaid]()),
//	    es.WithAggregateTypes(OrderType),
//	    es.WithHandlers(projection),
//	)
package es
