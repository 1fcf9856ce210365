// Package command validates commands and dispatches them to the handlers that
// accept them, all inside one transaction of the event log.
//
//	mux := command.NewMux("orders",
//	    command.On(func(ctx context.Context, c PlaceOrder) error { ... }),
//	    command.On(func(ctx context.Context, c PayOrder) error { ... }),
//	)
//	svc := command.NewService(env.EventLog(), command.WithHandlers(mux))
//	err := svc.Execute(ctx, PlaceOrder{OrderID: id, Customer: "alice"})
package command
