// Command encrypt-credentials re-writes a plaintext credentials file with
// encryption at rest. Use it when enabling ENCRYPTION_KEY on a deployment
// that already holds tokens.
//
// Usage:
//
//	encrypt-credentials [--dry-run] [--provider youtube]
//
// Environment Variables:
//
//	YT_CREDENTIALS_FILE: credentials file to convert (default youtube_credentials.json)
//	ENCRYPTION_KEY: base64-encoded 32-byte key (required)
//
// Example:
//
//	export ENCRYPTION_KEY="$(openssl rand -base64 32)"
//	./encrypt-credentials --dry-run
//	./encrypt-credentials
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/vodarchiver/vodarchiver/crypto"
	"github.com/vodarchiver/vodarchiver/youtubeapi"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "show what would be converted without writing")
	providerName := flag.String("provider", "youtube", "provider key to convert")
	flag.Parse()

	path := os.Getenv("YT_CREDENTIALS_FILE")
	if path == "" {
		path = "youtube_credentials.json"
	}
	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		slog.Error("ENCRYPTION_KEY is required")
		os.Exit(1)
	}
	enc, err := crypto.NewAESEncryptor(key)
	if err != nil {
		slog.Error("invalid ENCRYPTION_KEY", slog.Any("err", err))
		os.Exit(1)
	}

	ctx := context.Background()
	plain := &youtubeapi.FileTokenStore{Path: path}
	access, refresh, expiry, raw, err := plain.GetOAuthToken(ctx, *providerName)
	if err != nil {
		slog.Error("read credentials failed", slog.String("path", path), slog.Any("err", err))
		os.Exit(1)
	}
	if access == "" && refresh == "" {
		slog.Error("no stored token for provider", slog.String("provider", *providerName))
		os.Exit(1)
	}

	if *dryRun {
		fmt.Printf("would encrypt %s token in %s (expires %s)\n", *providerName, path, expiry)
		return
	}

	// Write the encrypted copy beside the original, then swap it in. Writing
	// through a store pointed at the original would try to decrypt the
	// plaintext file first.
	scratch := path + ".enc"
	encrypted := &youtubeapi.FileTokenStore{Path: scratch, Encryptor: enc}
	if err := encrypted.UpsertOAuthToken(ctx, *providerName, access, refresh, expiry, raw); err != nil {
		slog.Error("write encrypted credentials failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := os.Rename(scratch, path); err != nil {
		slog.Error("replace credentials file failed", slog.Any("err", err))
		os.Exit(1)
	}
	fmt.Printf("encrypted %s token in %s\n", *providerName, path)
}
