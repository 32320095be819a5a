// Package messaging provides the transport abstraction between the funnel
// engine and concrete WhatsApp delivery backends.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/whatsadvisor/funnelbot/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the response channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex matches everything that is not a digit, used to
// canonicalize recipient identifiers.
var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service defines a pluggable message delivery abstraction.
// It supports sending text and media, and provides a channel of inbound
// contact messages. Group- and broadcast-addressed traffic never reaches the
// Responses channel.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendMedia sends resolved media content to a recipient.
	SendMedia(ctx context.Context, to string, media models.Media) error

	// Start begins any background processing (e.g., event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of incoming contact messages.
	Responses() <-chan models.Response
}
