// Package whatsapp wraps the Whatsmeow client for WhatsApp integration in funnelbot.
//
// It provides methods for sending text and media messages and handling
// WhatsApp events.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/whatsadvisor/funnelbot/internal/models"
	"github.com/whatsadvisor/funnelbot/internal/store"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for the whatsmeow session SQLite database
	DefaultSQLitePath = "/var/lib/funnelbot/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
)

// Sender is the outbound operations surface the funnel needs from WhatsApp.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendMedia(ctx context.Context, to string, media models.Media) error
}

// StatusHandler receives lifecycle transitions (QR generated, connected,
// disconnected) so the control surface can expose them.
type StatusHandler func(lifecycle models.EngineLifecycle, qr string)

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN         string // whatsmeow session database connection string
	QRPath        string // path to write login QR code
	NumericCode   bool   // use numeric login code instead of QR code
	StatusHandler StatusHandler
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow session database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the client to use a numeric login code instead of a QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// WithStatusHandler registers a lifecycle callback.
func WithStatusHandler(h StatusHandler) Option {
	return func(o *Opts) {
		o.StatusHandler = h
	}
}

// Client wraps the Whatsmeow client for modular use.
type Client struct {
	waClient *whatsmeow.Client
	cfg      Opts
	mu       sync.Mutex
	started  bool
}

// NewClient creates a new WhatsApp client, applying any provided options.
// The client is not connected yet; call Connect to start the login flow.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dbDSN)
	}

	var dbDriver string
	if store.DetectDSNType(dbDSN) == "postgres" {
		dbDriver = "postgres"
	} else {
		dbDriver = "sqlite3"
		if !strings.Contains(dbDSN, "foreign_keys") {
			slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled. "+
				"The whatsmeow library strongly recommends enabling foreign keys for data integrity.",
				"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
		}
	}

	logger := waLog.Stdout("Database", "INFO", true)
	ctx := context.Background()
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, logger)
	if err != nil {
		slog.Error("Failed to initialize WhatsApp DB store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("Failed to get first device from store", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	clientLog := waLog.Stdout("Client", "INFO", true)
	waClient := whatsmeow.NewClient(deviceStore, clientLog)

	return &Client{waClient: waClient, cfg: cfg}, nil
}

// Connect starts the WhatsApp session. When no stored session exists it runs
// the QR pairing flow, emitting the code through the status handler and the
// configured writer; otherwise it reconnects directly.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("whatsapp client already connected")
	}
	c.started = true
	c.mu.Unlock()

	if c.waClient.Store.ID == nil {
		slog.Info("WhatsApp login required; starting QR code flow")
		c.emitStatus(models.LifecycleGeneratingQR, "")
		qrChan, _ := c.waClient.GetQRChannel(ctx)
		if err := c.waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp during login", "error", err)
			c.emitStatus(models.LifecycleDisconnected, "")
			return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
		}

		writer := io.Writer(os.Stdout)
		if c.cfg.QRPath != "" {
			f, ferr := os.Create(c.cfg.QRPath)
			if ferr != nil {
				slog.Error("Failed to create QR file", "error", ferr)
				return fmt.Errorf("failed to create QR file: %w", ferr)
			}
			defer f.Close()
			writer = f
		}
		for evt := range qrChan {
			switch evt.Event {
			case "code":
				slog.Debug("WhatsApp login code received")
				if c.cfg.NumericCode {
					fmt.Fprintln(writer, evt.Code)
				} else {
					qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
				}
				c.emitStatus(models.LifecycleWaitingScan, evt.Code)
			case "success":
				slog.Info("WhatsApp login succeeded")
			default:
				slog.Debug("WhatsApp login event", "event", evt.Event)
			}
		}
	} else {
		slog.Debug("WhatsApp already logged in, connecting to server")
		if err := c.waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp server", "error", err)
			c.emitStatus(models.LifecycleDisconnected, "")
			return fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}

	slog.Info("WhatsApp client connected successfully")
	c.emitStatus(models.LifecycleConnected, "")
	return nil
}

// Disconnect tears down the WhatsApp session.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
	c.waClient.Disconnect()
	c.emitStatus(models.LifecycleDisconnected, "")
	slog.Info("WhatsApp client disconnected")
}

func (c *Client) emitStatus(lifecycle models.EngineLifecycle, qr string) {
	if c.cfg.StatusHandler != nil {
		c.cfg.StatusHandler(lifecycle, qr)
	}
}

// SendMessage sends a WhatsApp text message to the specified recipient.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if to == "" {
		return models.ErrEmptyRecipient
	}
	if body == "" {
		return models.ErrEmptyBody
	}

	slog.Debug("Sending WhatsApp message", "to", to, "body_length", len(body))
	jid := types.NewJID(to, JIDSuffix)
	msg := &waE2E.Message{Conversation: &body}

	_, err := c.waClient.SendMessage(ctx, jid, msg)
	if err != nil {
		slog.Error("Failed to send WhatsApp message", "error", err, "to", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	return nil
}

// SendMedia uploads the media bytes and sends them as an image or document
// message depending on the MIME type.
func (c *Client) SendMedia(ctx context.Context, to string, media models.Media) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if to == "" {
		return models.ErrEmptyRecipient
	}
	if len(media.Data) == 0 {
		return fmt.Errorf("media content cannot be empty")
	}

	mediaType := whatsmeow.MediaImage
	if media.IsDocument() {
		mediaType = whatsmeow.MediaDocument
	}

	uploaded, err := c.waClient.Upload(ctx, media.Data, mediaType)
	if err != nil {
		slog.Error("Failed to upload WhatsApp media", "error", err, "to", to, "mime", media.MimeType)
		return fmt.Errorf("failed to upload media for %s: %w", to, err)
	}

	var msg *waE2E.Message
	if mediaType == whatsmeow.MediaImage {
		msg = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Mimetype:      proto.String(media.MimeType),
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
		}}
	} else {
		msg = &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Mimetype:      proto.String(media.MimeType),
			FileName:      proto.String(media.Filename),
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
		}}
	}

	jid := types.NewJID(to, JIDSuffix)
	if _, err := c.waClient.SendMessage(ctx, jid, msg); err != nil {
		slog.Error("Failed to send WhatsApp media message", "error", err, "to", to)
		return fmt.Errorf("failed to send media to %s: %w", to, err)
	}
	slog.Debug("WhatsApp media sent", "to", to, "mime", media.MimeType, "filename", media.Filename)
	return nil
}

// GetClient returns the underlying whatsmeow client for event handling.
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

// MockClient implements Sender but records instead of sending (for tests).
type MockClient struct {
	mu       sync.Mutex
	Messages []string
	Media    []models.Media
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, body)
	return nil
}

func (m *MockClient) SendMedia(ctx context.Context, to string, media models.Media) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Media = append(m.Media, media)
	return nil
}
