// Command yt-auth runs the one-shot YouTube OAuth consent flow and stores the
// resulting tokens where the archiver expects them. Run it once before the
// first upload:
//
//	export YT_CLIENT_SECRETS_FILE=client_secrets.json
//	./yt-auth
//
// It prints a consent URL, waits for the auth code on stdin, exchanges it and
// persists the token (honoring LEDGER_BACKEND and ENCRYPTION_KEY exactly like
// the archiver itself).
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vodarchiver/vodarchiver/config"
	"github.com/vodarchiver/vodarchiver/crypto"
	"github.com/vodarchiver/vodarchiver/ledger"
	"github.com/vodarchiver/vodarchiver/youtubeapi"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	tokens, cleanup, err := openTokenStore(cfg)
	if err != nil {
		slog.Error("failed to open token store", slog.Any("err", err))
		os.Exit(1)
	}
	defer cleanup()

	svc, err := youtubeapi.New(cfg.YTClientSecretsFile, tokens)
	if err != nil {
		slog.Error("failed to init youtube client", slog.Any("err", err))
		os.Exit(1)
	}

	fmt.Println("Open this URL in a browser and authorize the application:")
	fmt.Println()
	fmt.Println("  " + svc.AuthCodeURL("state"))
	fmt.Println()
	fmt.Print("Paste the authorization code here: ")

	reader := bufio.NewReader(os.Stdin)
	code, err := reader.ReadString('\n')
	if err != nil {
		slog.Error("failed to read auth code", slog.Any("err", err))
		os.Exit(1)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		slog.Error("empty auth code")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	tok, err := svc.Exchange(ctx, code)
	if err != nil {
		slog.Error("exchange failed", slog.Any("err", err))
		os.Exit(1)
	}
	fmt.Printf("Token stored; access token valid until %s\n", tok.Expiry.Format(time.RFC3339))
}

func openTokenStore(cfg *config.Config) (youtubeapi.TokenStore, func(), error) {
	if cfg.LedgerBackend == "postgres" {
		pg, err := ledger.OpenPGStore(context.Background(), cfg.LedgerDSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { _ = pg.Close() }, nil
	}
	fts := &youtubeapi.FileTokenStore{Path: cfg.YTCredentialsFile}
	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		enc, err := crypto.NewAESEncryptor(key)
		if err != nil {
			return nil, nil, err
		}
		fts.Encryptor = enc
	}
	return fts, func() {}, nil
}
