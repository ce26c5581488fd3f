// Command vodarchiver polls a Twitch channel for new VODs, downloads them with
// yt-dlp, uploads them to YouTube and records progress in a durable ledger.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the processed-VOD ledger (JSON file by default, Postgres optional).
//   - Starts the polling pipeline and the YouTube token refresher.
//   - Exposes a local dashboard with /, /status, /healthz, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vodarchiver/vodarchiver/archiver"
	"github.com/vodarchiver/vodarchiver/config"
	"github.com/vodarchiver/vodarchiver/crypto"
	"github.com/vodarchiver/vodarchiver/downloader"
	"github.com/vodarchiver/vodarchiver/ledger"
	"github.com/vodarchiver/vodarchiver/oauth"
	"github.com/vodarchiver/vodarchiver/server"
	"github.com/vodarchiver/vodarchiver/telemetry"
	"github.com/vodarchiver/vodarchiver/twitchapi"
	"github.com/vodarchiver/vodarchiver/youtubeapi"
)

const version = "1.0.0"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	initLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// OpenTelemetry tracing is optional; requires OTEL_EXPORTER_OTLP_ENDPOINT.
	shutdownTracing, err := telemetry.InitTracing("vodarchiver", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ledger
	store, err := openLedger(ctx, cfg)
	if err != nil {
		slog.Error("failed to open ledger", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close ledger", slog.Any("err", err))
		}
	}()

	// Best-effort: verify Twitch app credentials up front so a typo fails at
	// startup rather than on the first cycle.
	twitchTS := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
	{
		ctx2, cancel := context.WithTimeout(ctx, 8*time.Second)
		if tok, err := twitchTS.Get(ctx2); err != nil {
			slog.Warn("twitch app token fetch failed", slog.Any("err", err))
		} else if len(tok) > 6 {
			slog.Info("twitch app token acquired", slog.String("tail", "***"+tok[len(tok)-6:]))
		}
		cancel()
	}
	helix := &twitchapi.HelixClient{TokenSource: twitchTS, ClientID: cfg.TwitchClientID}

	// YouTube
	tokens, err := openTokenStore(cfg, store)
	if err != nil {
		slog.Error("failed to open token store", slog.Any("err", err))
		os.Exit(1)
	}
	ytService, err := youtubeapi.New(cfg.YTClientSecretsFile, tokens)
	if err != nil {
		slog.Error("failed to init youtube client", slog.Any("err", err))
		os.Exit(1)
	}

	dl := &downloader.Client{
		Dir:          cfg.DownloadDir,
		Timeout:      cfg.DownloadTimeout,
		MinFreeBytes: cfg.MinFreeBytes,
	}

	pipe := archiver.New(cfg, store, helix, dl, &archiver.YouTubeUploader{Service: ytService, Cfg: cfg})
	go pipe.Run(ctx)

	// Keep the YouTube token fresh between cycles so long downloads don't end
	// with an expired credential.
	oauth.StartRefresher(ctx, tokens, "youtube", 10*time.Minute, 20*time.Minute,
		func(rctx context.Context, refreshToken string) (string, string, time.Time, error) {
			tok, err := ytService.Refresh(rctx, refreshToken)
			if err != nil {
				return "", "", time.Time{}, err
			}
			return tok.AccessToken, tok.RefreshToken, tok.Expiry, nil
		})

	handlers := &server.Handlers{
		Store:        store,
		Pipeline:     pipe,
		Channel:      cfg.TwitchChannel,
		Version:      version,
		PollInterval: cfg.PollInterval,
	}
	go func() {
		if err := server.Start(ctx, handlers, cfg.DashboardAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}

// initLogging configures the default slog logger from LOG_LEVEL and
// LOG_FORMAT. Defaults: level=info, format=text.
func initLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))
}

func openLedger(ctx context.Context, cfg *config.Config) (ledger.Store, error) {
	if cfg.LedgerBackend == "postgres" {
		slog.Info("opening postgres ledger")
		return ledger.OpenPGStore(ctx, cfg.LedgerDSN)
	}
	slog.Info("opening file ledger", slog.String("path", cfg.LedgerPath))
	return ledger.OpenFileStore(cfg.LedgerPath)
}

// openTokenStore picks where OAuth tokens live: the Postgres ledger when that
// backend is active, otherwise a JSON file next to the ledger. ENCRYPTION_KEY
// (base64, 32 bytes) enables encryption at rest for the file store.
func openTokenStore(cfg *config.Config, store ledger.Store) (oauth.TokenStore, error) {
	if pg, ok := store.(*ledger.PGStore); ok {
		return pg, nil
	}
	fts := &youtubeapi.FileTokenStore{Path: cfg.YTCredentialsFile}
	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		enc, err := crypto.NewAESEncryptor(key)
		if err != nil {
			return nil, err
		}
		fts.Encryptor = enc
		slog.Info("token store encryption enabled")
	}
	return fts, nil
}
