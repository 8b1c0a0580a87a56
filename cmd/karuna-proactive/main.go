package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Karuna-AI/karuna-proactive/internal/alerting"
	"github.com/Karuna-AI/karuna-proactive/internal/api"
	"github.com/Karuna-AI/karuna-proactive/internal/composer"
	"github.com/Karuna-AI/karuna-proactive/internal/engine"
	"github.com/Karuna-AI/karuna-proactive/internal/genai"
	"github.com/Karuna-AI/karuna-proactive/internal/queue"
	"github.com/Karuna-AI/karuna-proactive/internal/recovery"
	"github.com/Karuna-AI/karuna-proactive/internal/rules"
	"github.com/Karuna-AI/karuna-proactive/internal/scheduler"
	"github.com/Karuna-AI/karuna-proactive/internal/signals"
	"github.com/Karuna-AI/karuna-proactive/internal/store"
	"github.com/Karuna-AI/karuna-proactive/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for engine state data
	DefaultStateDir = "/var/lib/karuna-proactive"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "karuna.db"
)

// Config holds environment configuration
type Config struct {
	DatabaseURL  string
	StateDir     string
	OpenAIKey    string
	APIAddr      string
	RulesFile    string
	FeedURL      string
	CircleIDs    string
	TickMinutes  int
	TwilioSID    string
	TwilioToken  string
	TwilioFrom   string
	CaregiverSMS string
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDSN       *string
	openaiKey   *string
	apiAddr     *string
	rulesFile   *string
	feedURL     *string
	circleIDs   *string
	tickMinutes *int
}

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	st, err := openStore(flags)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ruleSet := loadRules(*flags.rulesFile)
	comp := buildComposer(*flags.openaiKey)
	notifier := buildNotifier(config, st)

	factory := func(circleID string) *engine.Engine {
		sigStore := signals.NewStore()
		q := queue.New(circleID, st, notifier)
		return engine.New(circleID, sigStore, ruleSet, comp, q, st,
			engine.WithTickInterval(time.Duration(*flags.tickMinutes)*time.Minute),
			engine.WithStateSaver(st),
		)
	}
	registry := engine.NewRegistry(factory)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recoverer := recovery.NewManager(st)
	circles := splitCircles(*flags.circleIDs)
	if len(circles) == 0 {
		circles = []string{api.DefaultCircleID}
	}
	for _, circleID := range circles {
		eng := registry.GetOrCreate(circleID)
		if err := recoverer.RecoverEngine(ctx, circleID, eng); err != nil {
			slog.Error("Recovery failed, starting with fresh state", "circle_id", circleID, "error", err)
		}
		registry.Start(ctx, circleID)
	}

	sched := scheduler.NewScheduler(time.Local)
	defer sched.Stop()
	if err := sched.AddMidnightJob(func() {
		registry.Each(func(circleID string, eng *engine.Engine) {
			eng.ResetDailyCounters(time.Now())
		})
	}); err != nil {
		slog.Error("Failed to schedule midnight reset", "error", err)
		os.Exit(1)
	}

	if *flags.feedURL != "" {
		for _, circleID := range circles {
			eng := registry.GetOrCreate(circleID)
			feed := signals.NewFeed(feedURLFor(*flags.feedURL, circleID), eng.Signals())
			go feed.Run(ctx)
		}
	}

	server := api.NewServer(registry, st, buildAPIOptions(flags, circles)...)
	slog.Info("Bootstrapping Karuna proactive engine", "circles", len(circles),
		"tick_minutes", *flags.tickMinutes, "api_addr", *flags.apiAddr)
	if err := server.Run(ctx); err != nil {
		slog.Error("API server failed", "error", err)
		os.Exit(1)
	}

	registry.StopAll()
	slog.Info("Karuna proactive engine exited successfully")
}

// initializeLogger sets up structured logging
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("KARUNA_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     os.Getenv("KARUNA_STATE_DIR"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		APIAddr:      os.Getenv("API_ADDR"),
		RulesFile:    os.Getenv("KARUNA_RULES_FILE"),
		FeedURL:      os.Getenv("KARUNA_SIGNAL_FEED_URL"),
		CircleIDs:    os.Getenv("KARUNA_CIRCLE_IDS"),
		TickMinutes:  util.ParseIntEnv("KARUNA_TICK_MINUTES", 5),
		TwilioSID:    os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:   os.Getenv("TWILIO_FROM_NUMBER"),
		CaregiverSMS: os.Getenv("KARUNA_CAREGIVER_NUMBERS"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = config.StateDir + "/" + DefaultDBFileName
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"KARUNA_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"KARUNA_RULES_FILE", config.RulesFile,
		"KARUNA_SIGNAL_FEED_URL_SET", config.FeedURL != "",
		"KARUNA_CIRCLE_IDS", config.CircleIDs)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for engine data (overrides $KARUNA_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "database DSN, SQLite path or postgres:// URL (overrides $DATABASE_URL)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for message enhancement (overrides $OPENAI_API_KEY)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		rulesFile:   flag.String("rules-file", config.RulesFile, "YAML rule file; built-in defaults when empty (overrides $KARUNA_RULES_FILE)"),
		feedURL:     flag.String("signal-feed-url", config.FeedURL, "WebSocket signal gateway URL (overrides $KARUNA_SIGNAL_FEED_URL)"),
		circleIDs:   flag.String("circle-ids", config.CircleIDs, "comma-separated circle ids to monitor (overrides $KARUNA_CIRCLE_IDS)"),
		tickMinutes: flag.Int("tick-minutes", config.TickMinutes, "minutes between evaluation ticks (overrides $KARUNA_TICK_MINUTES)"),
	}
	flag.Parse()

	if *flags.tickMinutes <= 0 {
		*flags.tickMinutes = 5
	}
	*flags.dbDSN = resolveDatabaseDSN(*flags.dbDSN, *flags.stateDir, config)
	return flags
}

// resolveDatabaseDSN applies a -state-dir override to the derived SQLite
// default. An explicit DSN, whether from -db-dsn or $DATABASE_URL, wins.
func resolveDatabaseDSN(dsn, stateDir string, config Config) string {
	derived := config.StateDir + "/" + DefaultDBFileName
	if dsn == derived && config.DatabaseURL == derived && stateDir != config.StateDir {
		return stateDir + "/" + DefaultDBFileName
	}
	return dsn
}

// openStore selects the storage backend from the DSN.
func openStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if dsn == "" {
		slog.Info("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// loadRules loads the rule file or falls back to the built-in defaults.
func loadRules(path string) *rules.Set {
	if path == "" {
		slog.Info("Using built-in default rule set")
		return rules.DefaultRules()
	}
	set, err := rules.LoadFile(path)
	if err != nil {
		slog.Error("Failed to load rule file, using built-in defaults", "path", path, "error", err)
		return rules.DefaultRules()
	}
	slog.Info("Loaded rule file", "path", path, "rules", set.Len())
	return set
}

// buildComposer wires the optional GenAI enhancement stage.
func buildComposer(openaiKey string) *composer.Composer {
	if openaiKey == "" {
		slog.Info("No OpenAI API key, composer will use templates only")
		return composer.New()
	}
	client, err := genai.NewClient(genai.WithAPIKey(openaiKey))
	if err != nil {
		slog.Error("Failed to initialize GenAI client, composer will use templates only", "error", err)
		return composer.New()
	}
	return composer.New(composer.WithGenerator(client))
}

// buildNotifier assembles caregiver alert delivery: alerts always go to the
// store audit log, and to Twilio SMS when credentials are configured.
func buildNotifier(config Config, st store.Store) alerting.Notifier {
	notifiers := alerting.Fanout{&alerting.LogNotifier{Log: st}}

	caregivers := splitCircles(config.CaregiverSMS)
	if config.TwilioSID != "" && config.TwilioToken != "" && config.TwilioFrom != "" && len(caregivers) > 0 {
		twilioNotifier, err := alerting.NewTwilioNotifier(
			alerting.WithAccountSID(config.TwilioSID),
			alerting.WithAuthToken(config.TwilioToken),
			alerting.WithFromNumber(config.TwilioFrom),
			alerting.WithCaregivers(caregivers),
		)
		if err != nil {
			slog.Error("Failed to initialize Twilio notifier, alerts will only be logged", "error", err)
		} else {
			notifiers = append(notifiers, twilioNotifier)
			slog.Info("Twilio caregiver alerting enabled", "caregivers", len(caregivers))
		}
	} else {
		slog.Info("Twilio not configured, caregiver alerts will only be logged")
	}
	return notifiers
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, circles []string) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if len(circles) > 0 {
		apiOpts = append(apiOpts, api.WithDefaultCircle(circles[0]))
	}
	return apiOpts
}

// splitCircles parses a comma-separated list, dropping empty entries.
func splitCircles(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// feedURLFor scopes the gateway URL to one circle.
func feedURLFor(base, circleID string) string {
	if strings.Contains(base, "?") {
		return base + "&circle_id=" + circleID
	}
	return base + "?circle_id=" + circleID
}
