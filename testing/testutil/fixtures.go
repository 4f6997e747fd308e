package testutil

import (
	"github.com/AshkanYarmoradi/go-relay"
)

// Sample payloads and messages shared by transport and example tests.

// OrderPlaced is a sample integration payload.
type OrderPlaced struct {
	OrderID  string  `json:"orderId"`
	Customer string  `json:"customer"`
	Total    float64 `json:"total"`
}

// NewOrderPlaced returns an envelope named "OrderPlaced" keyed by orderID.
func NewOrderPlaced(orderID string) *relay.Integration {
	return relay.NewIntegrationWithID("OrderPlaced", orderID, OrderPlaced{
		OrderID:  orderID,
		Customer: "customer-" + orderID,
		Total:    42.5,
	})
}

// CreateUser is a sample validated command.
type CreateUser struct {
	relay.CommandBase
	Name  string
	Email string
}

// CommandType implements relay.Command.
func (CreateUser) CommandType() string { return "CreateUser" }

// Rules implements relay.Validatable.
func (c CreateUser) Rules() []relay.FieldRule {
	return []relay.FieldRule{
		relay.Field("name", c.Name, relay.Required()),
		relay.Field("email", c.Email, relay.Required(), relay.Email()),
	}
}

// UserCreated is raised by NewUser.
type UserCreated struct {
	relay.EventBase
	UserID string
	Name   string
}

// EventType implements relay.DomainEvent.
func (UserCreated) EventType() string { return "UserCreated" }

// User is a sample entity.
type User struct {
	relay.EntityBase
	Name  string `json:"name"`
	Email string `json:"email"`
}

// NewUser creates a User with a pending UserCreated event.
func NewUser(name, email string) *User {
	u := &User{EntityBase: relay.NewEntityBase(), Name: name, Email: email}
	u.AddDomainEvent(UserCreated{EventBase: relay.NewEventBase(), UserID: u.ID(), Name: name})
	return u
}
