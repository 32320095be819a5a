package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/whatsadvisor/funnelbot/internal/api"
	"github.com/whatsadvisor/funnelbot/internal/lockfile"
	"github.com/whatsadvisor/funnelbot/internal/media"
	"github.com/whatsadvisor/funnelbot/internal/messaging"
	"github.com/whatsadvisor/funnelbot/internal/models"
	"github.com/whatsadvisor/funnelbot/internal/store"
	"github.com/whatsadvisor/funnelbot/internal/twiliowhatsapp"
	"github.com/whatsadvisor/funnelbot/internal/util"
	"github.com/whatsadvisor/funnelbot/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for funnelbot state data
	DefaultStateDir = "/var/lib/funnelbot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "funnelbot.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Guard the state directory against a second instance sharing the session
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	// Build module options
	waOpts := buildWhatsAppOptions(flags)
	storeOpts := buildStoreOptions(flags)
	mediaOpts := buildMediaOptions(flags)
	apiOpts := buildAPIOptions(flags, config)

	// Start the service
	slog.Info("Bootstrapping funnelbot with configured modules")
	slog.Debug("Module options counts", "whatsapp", len(waOpts), "store", len(storeOpts), "media", len(mediaOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := api.Run(waOpts, storeOpts, mediaOpts, apiOpts); err != nil {
		slog.Error("funnelbot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("funnelbot exited successfully")
}

// Config holds environment configuration
type Config struct {
	WhatsAppDSN  string
	DatabaseURL  string
	StateDir     string
	APIAddr      string
	MediaBaseURL string
	Role         string
	Permissions  string
	CORSOrigins  string
	TwilioSID    string
	TwilioToken  string
	TwilioFrom   string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput     *string
	numeric      *bool
	stateDir     *string
	dbDSN        *string
	apiAddr      *string
	mediaBaseURL *string
	role         *string
	permissions  *string
	corsOrigins  *string
	useTwilio    *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		WhatsAppDSN:  os.Getenv("WHATSAPP_DB_DSN"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     util.EnvOrDefault("FUNNELBOT_STATE_DIR", DefaultStateDir),
		APIAddr:      util.EnvOrDefault("API_ADDR", api.DefaultAddr),
		MediaBaseURL: os.Getenv("MEDIA_BASE_URL"),
		Role:         os.Getenv("BOT_ROLE"),
		Permissions:  os.Getenv("BOT_PERMISSIONS"),
		CORSOrigins:  os.Getenv("CORS_ORIGINS"),
		TwilioSID:    os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:   os.Getenv("TWILIO_FROM_NUMBER"),
	}

	// Default to the shared database URL if no dedicated WhatsApp DSN is set
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = config.DatabaseURL
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDSN)
	}

	slog.Debug("environment variables loaded",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"FUNNELBOT_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"MEDIA_BASE_URL", config.MediaBaseURL,
		"BOT_ROLE", config.Role,
		"BOT_PERMISSIONS", config.Permissions,
		"TWILIO_CONFIGURED", config.TwilioSID != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:     flag.String("qr-output", "", "path to write login QR code"),
		numeric:      flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for funnelbot data (overrides $FUNNELBOT_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.WhatsAppDSN, "database DSN for WhatsApp session and catalog store (overrides $WHATSAPP_DB_DSN or $DATABASE_URL)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		mediaBaseURL: flag.String("media-base-url", config.MediaBaseURL, "base URL catalog media references are joined onto (overrides $MEDIA_BASE_URL)"),
		role:         flag.String("role", config.Role, "default role for the engine (overrides $BOT_ROLE)"),
		permissions:  flag.String("permissions", config.Permissions, "comma-separated default catalog domains: members,fundacion,all (overrides $BOT_PERMISSIONS)"),
		corsOrigins:  flag.String("cors-origins", config.CORSOrigins, "comma-separated allowed CORS origins (overrides $CORS_ORIGINS)"),
		useTwilio:    flag.Bool("twilio", util.ParseBoolEnv("USE_TWILIO", config.TwilioSID != ""), "use the Twilio transport instead of the WhatsApp client (overrides $USE_TWILIO)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"mediaBaseURL", *flags.mediaBaseURL,
		"role", *flags.role,
		"permissions", *flags.permissions,
		"useTwilio", *flags.useTwilio)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.WhatsAppDSN && config.WhatsAppDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", *flags.stateDir)
		return err
	}
	if store.DetectDSNType(*flags.dbDSN) != "postgres" {
		dbDir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			slog.Error("Failed to create database directory", "error", err, "db_dir", dbDir)
			return err
		}
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.dbDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.dbDSN))
	}
	return waOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildMediaOptions constructs media resolver configuration options
func buildMediaOptions(flags Flags) []media.Option {
	var mediaOpts []media.Option
	if *flags.mediaBaseURL != "" {
		mediaOpts = append(mediaOpts, media.WithBaseURL(*flags.mediaBaseURL))
	}
	return mediaOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, config Config) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.role != "" {
		apiOpts = append(apiOpts, api.WithDefaultRole(*flags.role))
	}
	if *flags.permissions != "" {
		apiOpts = append(apiOpts, api.WithDefaultDomains(models.ParsePermissions(*flags.permissions)))
	}
	if *flags.corsOrigins != "" {
		var origins []string
		for _, o := range strings.Split(*flags.corsOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		apiOpts = append(apiOpts, api.WithCORSOrigins(origins))
	}
	if *flags.useTwilio {
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(config.TwilioSID),
			twiliowhatsapp.WithAuthToken(config.TwilioToken),
			twiliowhatsapp.WithFromWhats(config.TwilioFrom),
		)
		if err != nil {
			slog.Error("Failed to initialize Twilio client, falling back to WhatsApp transport", "error", err)
		} else {
			apiOpts = append(apiOpts, api.WithMessagingService(messaging.NewTwilioService(client)))
		}
	}
	return apiOpts
}
