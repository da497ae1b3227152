package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/return-pocket/internal/cloudsync"
	"github.com/zombor/return-pocket/internal/location"
	"github.com/zombor/return-pocket/internal/receipt"
	"github.com/zombor/return-pocket/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("return-pocket")
	var (
		port         = fs.IntLong("port", 8080, "HTTP server port")
		dbEngine     = fs.StringLong("db-engine", "sqlite", "Database engine: 'sqlite' or 'bolt'")
		dbPath       = fs.StringLong("db", "return-pocket.db", "Database file path")
		storagePath  = fs.StringLong("storage", "./captures", "Capture storage directory path")
		ocrEngine    = fs.StringLong("ocr", "tesseract", "OCR engine: 'tesseract', 'gemini' or 'ollama'")
		tessLang     = fs.StringLong("tesseract-lang", "eng", "Tesseract language")
		geminiKey    = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel  = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL    = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel  = fs.StringLong("ollama-model", "llava", "Ollama vision model name")
		nominatimURL = fs.StringLong("nominatim-url", location.DefaultNominatimURL, "Reverse geocoding base URL (empty disables location lookup)")
		fallbackLat  = fs.Float64Long("fallback-lat", 0, "Latitude used when a scan carries no position")
		fallbackLon  = fs.Float64Long("fallback-lon", 0, "Longitude used when a scan carries no position")
		authUser     = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		syncRemote   = fs.StringLong("sync-remote", "none", "Points backend: 'none', 'http' or 'postgres'")
		remoteURL    = fs.StringLong("remote-url", "", "HTTP backend base URL")
		remoteKey    = fs.StringLong("remote-key", "", "HTTP backend API key")
		remoteToken  = fs.StringLong("remote-token", "", "HTTP backend user access token")
		postgresDSN  = fs.StringLong("postgres-dsn", "", "Postgres connection string for the points backend")
		userID       = fs.StringLong("user-id", "", "User id for the postgres backend")
		syncInterval = fs.DurationLong("sync-interval", 15*time.Minute, "Interval between background syncs (0 disables)")
		showVersion  = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RETURN_POCKET"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	slog.Info("Initializing database...", "engine", *dbEngine, "path", *dbPath)
	var backing receipt.Store
	var err error
	switch *dbEngine {
	case "sqlite":
		backing, err = receipt.NewSQLiteDB(ctx, *dbPath)
	case "bolt":
		backing, err = receipt.NewBoltDB(*dbPath)
	default:
		slog.Error("Invalid database engine", "engine", *dbEngine, "valid", "sqlite or bolt")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	db, err := receipt.NewCachedStore(ctx, backing)
	if err != nil {
		slog.Error("Failed to load receipts", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize recognizer based on engine
	var recognizer scanning.Recognizer
	switch *ocrEngine {
	case "tesseract":
		slog.Info("Initializing Tesseract recognizer...", "lang", *tessLang)
		recognizer, err = scanning.NewTesseract(*tessLang)
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini recognizer...", "model", *geminiModel)
		recognizer, err = scanning.NewGemini(apiKey, *geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama recognizer...", "url", *ollamaURL, "model", *ollamaModel)
		recognizer, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
	default:
		slog.Error("Invalid OCR engine", "engine", *ocrEngine, "valid", "tesseract, gemini or ollama")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize recognizer", "engine", *ocrEngine, "error", err)
		os.Exit(1)
	}
	defer recognizer.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	storage, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	opts := []receipt.OrchestratorOption{
		receipt.WithBarcodeReader(scanning.NewImageBarcodeReader()),
		receipt.WithEvents(logEvents(ctx)),
	}
	if *nominatimURL != "" {
		positioner := location.ContextPositioner{}
		if *fallbackLat != 0 || *fallbackLon != 0 {
			positioner.Fallback = &location.Coordinates{Latitude: *fallbackLat, Longitude: *fallbackLon}
		}
		userAgent := "return-pocket/" + version
		opts = append(opts, receipt.WithLocationResolver(location.NewNominatim(*nominatimURL, userAgent, positioner)))
	}
	orchestrator := receipt.NewOrchestrator(db, scanning.NewPreprocessor(), recognizer, opts...)

	// Initialize sync
	var syncer receipt.Syncer
	switch *syncRemote {
	case "none":
	case "http":
		remote := cloudsync.NewHTTPRemote(*remoteURL, *remoteKey, *remoteToken)
		syncer = cloudsync.NewAggregator(db, remote, remote)
	case "postgres":
		user, err := uuid.Parse(*userID)
		if err != nil {
			slog.Error("A valid --user-id is required for the postgres backend", "error", err)
			os.Exit(1)
		}
		remote, err := cloudsync.OpenPostgres(ctx, cloudsync.PostgresConfig{
			DSN:         *postgresDSN,
			MaxConns:    4,
			DialTimeout: 10 * time.Second,
		})
		if err != nil {
			slog.Error("Failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer remote.Close()
		syncer = cloudsync.NewAggregator(db, cloudsync.StaticIdentity{User: user}, remote)
	default:
		slog.Error("Invalid sync remote", "remote", *syncRemote, "valid", "none, http or postgres")
		os.Exit(1)
	}
	if agg, ok := syncer.(*cloudsync.Aggregator); ok && *syncInterval > 0 {
		go agg.Run(ctx, *syncInterval)
	}

	// Initialize service
	receiptService := receipt.NewService(db, orchestrator, storage)

	// Initialize server
	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(receiptService, syncer, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	slog.Info("Shutting down...")
}

// logEvents logs scan flow transitions until ctx is done
func logEvents(ctx context.Context) chan<- receipt.Event {
	events := make(chan receipt.Event, 16)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-events:
				if e.BarcodeScanned() {
					slog.Debug("Barcode step finished, processing receipt")
				}
				slog.Debug("Scan state changed", "state", e.State)
			}
		}
	}()
	return events
}
