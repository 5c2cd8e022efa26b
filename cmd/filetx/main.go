package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pinboard/filetx/config"
	"github.com/pinboard/filetx/files"
	"github.com/pinboard/filetx/logger"
	"github.com/pinboard/filetx/pkg/resilient"
	"github.com/pinboard/filetx/storage"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "sign-upload":
		handleSignUpload(ctx, args)
	case "publish":
		handleMove(ctx, "publish", args)
	case "unpublish":
		handleMove(ctx, "unpublish", args)
	case "delete":
		handleMove(ctx, "delete", args)
	case "restore":
		handleRestore(ctx, args)
	case "remove":
		handleRemove(ctx, args)
	case "sign-url":
		handleSignURL(ctx, args)
	case "public-url":
		handlePublicURL(args)
	case "mime-path":
		handleMimePath(args)
	case "list":
		handleList(ctx, args)
	case "config":
		handleConfigCommand(args)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`filetx - transactional file management on S3

Usage:
  filetx <command> [options] [paths...]

Commands:
  sign-upload   Create a browser upload policy for a temp/ path
  publish       Move files into public/
  unpublish     Move files into private/
  delete        Soft-delete files into deleted/<zone>/
  restore       Move soft-deleted files back into public/ or private/
  remove        Permanently delete files
  sign-url      Create time-limited read URLs
  public-url    Print public URLs (no S3 call)
  mime-path     Append the extension for a MIME type to a base path
  list          List objects under a zone prefix
  config        Validate or dump the configuration
  help          Show this help message

Examples:
  filetx sign-upload --base temp/avatars/42 --mime image/png
  filetx publish temp/avatars/42.png temp/avatars/43.png
  filetx delete public/avatars/42.png
  filetx restore --to private deleted/public/avatars/42.png
  filetx sign-url --expires 10m private/contracts/7.pdf
  filetx list --prefix deleted/

Move commands (publish, unpublish, delete, restore) run as one transaction:
if any file fails to move, the files already moved are moved back.

Use 'filetx <command> --help' for more information about a command.
`)
}

// commonFlags registers the flags every store-backed command accepts.
func commonFlags(fs *flag.FlagSet) *string {
	return fs.String("config", "config.toml", "Path to TOML configuration file")
}

// loadConfig reads the configuration file and initializes logging. A missing
// default config file is tolerated; a missing explicit one is fatal.
func loadConfig(fs *flag.FlagSet, configPath string) config.Config {
	cfg := config.NewDefaultConfig()
	if err := config.LoadConfigFromFile(configPath, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if isFlagSet(fs, "config") {
				log.Fatalf("ERROR: specified configuration file '%s' not found: %v", configPath, err)
			}
			log.Printf("WARNING: default configuration file '%s' not found. Using defaults.", configPath)
		} else {
			log.Fatalf("FATAL: error parsing configuration file '%s': %v", configPath, err)
		}
	}

	if _, err := logger.Initialize(cfg.Logging); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	return cfg
}

// newStore connects to S3 and wraps the client with retries and circuit
// breakers.
func newStore(cfg config.Config) (*storage.S3Storage, files.ObjectStore) {
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration:\n%v", err)
	}

	s3, err := storage.New(cfg.S3)
	if err != nil {
		log.Fatalf("Failed to initialize S3 storage: %v", err)
	}

	backoff, err := resilient.BackoffFromConfig(cfg.Retry)
	if err != nil {
		log.Fatalf("Invalid retry configuration: %v", err)
	}
	return s3, resilient.NewResilientS3Storage(s3, backoff)
}

func newService(cfg config.Config) *files.Service {
	_, store := newStore(cfg)
	opts, err := serviceOptions(cfg.Files)
	if err != nil {
		log.Fatalf("Invalid files configuration: %v", err)
	}
	return files.NewService(store, opts)
}

// serviceOptions converts the [files] section into service options.
func serviceOptions(cfg config.FilesConfig) (files.Options, error) {
	uploadExpiry, err := cfg.GetUploadExpiry()
	if err != nil {
		return files.Options{}, fmt.Errorf("upload_expiry: %w", err)
	}
	maxSize, err := cfg.GetMaxUploadSize()
	if err != nil {
		return files.Options{}, fmt.Errorf("max_upload_size: %w", err)
	}
	signedURLExpiry, err := cfg.GetSignedURLExpiry()
	if err != nil {
		return files.Options{}, fmt.Errorf("signed_url_expiry: %w", err)
	}

	return files.Options{
		MaxConcurrency:  cfg.GetMaxConcurrency(),
		UploadExpiry:    uploadExpiry,
		MaxUploadSize:   maxSize,
		SignedURLExpiry: signedURLExpiry,
	}, nil
}

// requirePaths returns the positional arguments, or prints usage and exits
// when there are none.
func requirePaths(fs *flag.FlagSet) []string {
	paths := fs.Args()
	if len(paths) == 0 {
		fmt.Printf("Error: at least one path is required\n\n")
		fs.Usage()
		os.Exit(1)
	}
	return paths
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
}

// exitOnError reports err and exits. Rollback failures exit with status 2 so
// scripts can tell them apart from ordinary failures.
func exitOnError(action string, err error) {
	if err == nil {
		return
	}
	if files.IsFatal(err) {
		logger.Error("FILETX: Storage left inconsistent, manual reconciliation required", "action", action, "error", err)
		fmt.Fprintf(os.Stderr, "FATAL: %s failed and could not be rolled back: %v\n", action, err)
		os.Exit(2)
	}
	fmt.Fprintf(os.Stderr, "Error: %s failed: %v\n", action, err)
	os.Exit(1)
}

// isFlagSet checks if a flag was explicitly set on the command line
func isFlagSet(fs *flag.FlagSet, name string) bool {
	isSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			isSet = true
		}
	})
	return isSet
}
