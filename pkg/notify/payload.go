// Package notify creates notification subscriptions against the
// subscription-management service, one request per flow.
package notify

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/ethpandaops/flowwatch/pkg/dashboard"
)

const (
	// ChannelEmail is the only delivery channel subscriptions are created for.
	ChannelEmail = "email"

	fieldComponentID     = "job.component.id"
	fieldConfigurationID = "job.configuration.id"
)

// Filter narrows a subscription to jobs matching Field == Value.
type Filter struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Recipient is where the notification is delivered.
type Recipient struct {
	Channel string `json:"channel"`
	Address string `json:"address"`
}

// Payload is the request body of a subscription create call.
type Payload struct {
	Event     dashboard.EventType `json:"event"`
	Filters   []Filter            `json:"filters"`
	Recipient Recipient           `json:"recipient"`
}

// NewPayload builds the subscription body for one orchestration
// configuration.
func NewPayload(
	event dashboard.EventType, configurationID, address string,
) Payload {
	return Payload{
		Event: event,
		Filters: []Filter{
			{Field: fieldComponentID, Value: dashboard.OrchestratorComponentID},
			{Field: fieldConfigurationID, Value: configurationID},
		},
		Recipient: Recipient{Channel: ChannelEmail, Address: address},
	}
}

var dispatchEvents = []dashboard.EventType{
	dashboard.EventJobFailed,
	dashboard.EventJobSucceeded,
	dashboard.EventJobSucceededWithWarning,
}

// DispatchEvents returns the events a subscription may be created for.
func DispatchEvents() []dashboard.EventType {
	out := make([]dashboard.EventType, len(dispatchEvents))
	copy(out, dispatchEvents)

	return out
}

// ValidateDispatchEvent rejects events that cannot be subscribed to.
func ValidateDispatchEvent(event dashboard.EventType) error {
	for _, e := range dispatchEvents {
		if e == event {
			return nil
		}
	}

	return fmt.Errorf("unsupported event %q", event)
}

// ValidateAddress checks that address is a single bare email address.
func ValidateAddress(address string) error {
	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("email address is required")
	}

	parsed, err := mail.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("invalid email address %q: %w", address, err)
	}

	// Reject display-name forms such as "Ops <ops@x.com>".
	if parsed.Address != strings.TrimSpace(address) {
		return fmt.Errorf("invalid email address %q: expected a bare address", address)
	}

	return nil
}
