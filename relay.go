// Package relay provides in-process command, query and event mediation plus
// idempotent delivery of integration events across processes.
//
// go-relay routes commands and queries to exactly one handler, fans domain
// events out to every subscribed handler, and publishes integration events
// through a bus that delivers each name:eventId at most once per window.
//
// # Quick Start
//
// Create a mediator and register handlers on its registry:
//
//	m := relay.NewMediator()
//
//	relay.HandleCommand(m.Registry(), func(ctx context.Context, cmd CreateUser) (*User, error) {
//	    user := NewUser(cmd.Name, cmd.Email)
//	    return user, users.Insert(ctx, user)
//	})
//
//	user, err := relay.Send[*User](ctx, m, CreateUser{Name: "Ada", Email: "ada@example.com"})
//
// # Validation
//
// Commands and queries that implement Validatable are checked before their
// handler runs:
//
//	func (c CreateUser) Rules() []relay.FieldRule {
//	    return []relay.FieldRule{
//	        relay.Field("name", c.Name, relay.Required()),
//	        relay.Field("email", c.Email, relay.Required(), relay.Email()),
//	    }
//	}
//
// A failure returns *ValidationError listing every failed field.
//
// # Entities and Domain Events
//
// Entities embed EntityBase and queue domain events. A Repository publishes
// the queue through the mediator after each successful mutation:
//
//	users := relay.NewInMemoryRepository[*User](m)
//
//	relay.OnEvent(m.Registry(), func(ctx context.Context, e UserCreated) error {
//	    return mailer.Welcome(ctx, e.UserID)
//	})
//
// # Integration Events
//
// Integration events cross process boundaries through an EventBus:
//
//	bus := relay.NewLocalBus(m)
//	defer bus.Close()
//
//	relay.OnIntegration(m.Registry(), "OrderPlaced", func(ctx context.Context, o Order, env *relay.Integration) error {
//	    return ship(ctx, o)
//	})
//
//	err := bus.Publish(ctx, relay.NewIntegrationWithID("OrderPlaced", "order-abc", order))
//
// Publishing the same name and event id again within the processed window
// is a no-op. Broker-backed transports live under transport/.
package relay

// Version returns the library version string.
func Version() string {
	return "0.1.0"
}
