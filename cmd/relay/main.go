// relay is the command-line interface for the go-relay library.
//
// Usage:
//
//	relay <command> [flags]
//
// Commands:
//
//	init        Write a relay.yaml configuration file
//	config      Show or validate the effective configuration
//	publish     Publish one integration envelope
//	consume     Print envelopes received on topics
//	processed   Maintain the processed-key store
//	version     Show version information
//
// Examples:
//
//	# Configure a kafka transport with a redis processed-key store
//	relay init --transport kafka --store redis
//
//	# Publish an event; a repeat within the TTL is skipped
//	relay publish OrderPlaced --event-id 42 --data '{"orderId":"42"}'
//
//	# Watch a topic
//	relay consume OrderPlaced
package main

import (
	"os"

	"github.com/AshkanYarmoradi/go-relay/cli/commands"
)

// Build information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
