package relay

// Command represents an intent to change state in the system.
// Commands are routed to exactly one handler by their CommandType.
type Command interface {
	// CommandType returns the stable type identifier for this command (e.g., "CreateUser").
	CommandType() string
}

// Query represents a read request. It is routed like a Command; being
// read-only is a convention the handler keeps, not something relay enforces.
type Query interface {
	// QueryType returns the stable type identifier for this query (e.g., "GetUser").
	QueryType() string
}

// CommandBase provides optional tracing fields for commands and queries.
// Embed this struct in your message types to get correlation support.
type CommandBase struct {
	// CommandID is an optional unique identifier for this message instance.
	CommandID string `json:"commandId,omitempty"`

	// CorrelationID links related messages and events for distributed tracing.
	CorrelationID string `json:"correlationId,omitempty"`

	// CausationID identifies the event or command that caused this message.
	CausationID string `json:"causationId,omitempty"`
}

// GetCommandID returns the command ID.
func (c CommandBase) GetCommandID() string {
	return c.CommandID
}

// GetCorrelationID returns the correlation ID.
func (c CommandBase) GetCorrelationID() string {
	return c.CorrelationID
}

// GetCausationID returns the causation ID.
func (c CommandBase) GetCausationID() string {
	return c.CausationID
}

// WithCorrelationID returns a copy of CommandBase with the correlation ID set.
func (c CommandBase) WithCorrelationID(id string) CommandBase {
	c.CorrelationID = id
	return c
}

// WithCausationID returns a copy of CommandBase with the causation ID set.
func (c CommandBase) WithCausationID(id string) CommandBase {
	c.CausationID = id
	return c
}
