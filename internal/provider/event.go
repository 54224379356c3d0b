// Package provider contains the types shared by the event providers.
package provider

import (
	"fmt"

	"go.uber.org/zap"
)

const (
	ProviderGithub = "github"
	ProviderCI     = "ci"
)

// Event is an event received from a provider, before it is normalized.
type Event struct {
	// Provider is the name of the event source, ProviderGithub or ProviderCI.
	Provider string
	// DeliveryID is the unique ID of the event, it is empty if the
	// provider does not assign IDs.
	DeliveryID string
	// Type is the provider specific type of the event, e.g. the GitHub
	// webhook event type.
	Type string
	// JSON is the raw event payload.
	JSON []byte
	// Event is the parsed payload, for GitHub events it is the type
	// returned by github.ParseWebHook(), for CI events a *ci.Completion.
	Event     any
	LogFields []zap.Field
}

func (e *Event) String() string {
	return fmt.Sprintf("%s %s (deliveryID: %s)", e.Provider, e.Type, e.DeliveryID)
}
