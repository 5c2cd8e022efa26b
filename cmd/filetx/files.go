package main

// files.go - Command handlers for file operations

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pinboard/filetx/files"
	"github.com/pinboard/filetx/helpers"
	"github.com/pinboard/filetx/logger"
)

type moveFunc func(ctx context.Context, tx *files.Tx, paths []string) ([]string, error)

type moveResult struct {
	Paths []string              `json:"paths"`
	URLs  []string              `json:"urls,omitempty"`
	Moves []files.MoveOperation `json:"moves"`
}

var moveCommands = map[string]struct {
	description string
	move        moveFunc
	withURLs    bool
}{
	"publish": {
		description: "Move files into public/ and print their public URLs",
		move: func(ctx context.Context, tx *files.Tx, paths []string) ([]string, error) {
			return tx.BulkMoveToPublicFolder(ctx, paths)
		},
		withURLs: true,
	},
	"unpublish": {
		description: "Move files into private/",
		move: func(ctx context.Context, tx *files.Tx, paths []string) ([]string, error) {
			return tx.BulkMoveToPrivateFolder(ctx, paths)
		},
	},
	"delete": {
		description: "Soft-delete files into deleted/<zone>/",
		move: func(ctx context.Context, tx *files.Tx, paths []string) ([]string, error) {
			return tx.BulkDeleteFile(ctx, paths)
		},
	},
}

func handleMove(ctx context.Context, command string, args []string) {
	spec := moveCommands[command]
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := commonFlags(fs)

	fs.Usage = func() {
		fmt.Printf(`%s

Usage:
  filetx %s [options] PATH...

Options:
  --config string   Path to TOML configuration file (default: config.toml)

All paths are moved in one transaction. Paths already in the target zone
are left alone.
`, spec.description, command)
	}

	if err := fs.Parse(args); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	paths := requirePaths(fs)

	cfg := loadConfig(fs, *configPath)
	svc := newService(cfg)

	result, err := runMoves(ctx, svc, paths, spec.move, spec.withURLs)
	exitOnError(command, err)
	logger.Info("FILETX: Transaction committed", "command", command, "moves", len(result.Moves))
	printJSON(result)
}

func handleRestore(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	configPath := commonFlags(fs)
	to := fs.String("to", "", "Target zone: public or private (default: the zone the file was deleted from)")

	fs.Usage = func() {
		fmt.Printf(`Move soft-deleted files back out of deleted/

Usage:
  filetx restore [options] PATH...

Options:
  --to string       Target zone: public or private
                    (default: the zone each file was deleted from)
  --config string   Path to TOML configuration file (default: config.toml)

Examples:
  filetx restore deleted/public/a.png
  filetx restore --to private deleted/public/a.png
`)
	}

	if err := fs.Parse(args); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	paths := requirePaths(fs)

	move, err := restoreMove(*to, paths)
	if err != nil {
		fmt.Printf("Error: %v\n\n", err)
		fs.Usage()
		os.Exit(1)
	}

	cfg := loadConfig(fs, *configPath)
	svc := newService(cfg)

	result, err := runMoves(ctx, svc, paths, move, false)
	exitOnError("restore", err)
	logger.Info("FILETX: Transaction committed", "command", "restore", "moves", len(result.Moves))
	printJSON(result)
}

// restoreMove picks how deleted paths are moved back. Without an explicit
// target every path goes back to its origin zone, which is only possible
// with the service's move operations when that zone is public or private.
func restoreMove(to string, paths []string) (moveFunc, error) {
	for _, p := range paths {
		loc, err := files.ParsePath(p)
		if err != nil {
			return nil, err
		}
		if loc.Zone != files.ZoneDeleted {
			return nil, fmt.Errorf("%s is not in the deleted zone", p)
		}
		if to == "" && loc.Origin == files.ZoneTemp {
			return nil, fmt.Errorf("%s was deleted from temp/, pass --to public or --to private", p)
		}
	}

	switch to {
	case "public":
		return func(ctx context.Context, tx *files.Tx, paths []string) ([]string, error) {
			return tx.BulkMoveToPublicFolder(ctx, paths)
		}, nil
	case "private":
		return func(ctx context.Context, tx *files.Tx, paths []string) ([]string, error) {
			return tx.BulkMoveToPrivateFolder(ctx, paths)
		}, nil
	case "":
		return func(ctx context.Context, tx *files.Tx, paths []string) ([]string, error) {
			restored := make([]string, len(paths))
			for i, p := range paths {
				loc, _ := files.ParsePath(p)
				var err error
				if loc.Origin == files.ZonePublic {
					restored[i], err = tx.MoveToPublicFolder(ctx, p)
				} else {
					restored[i], err = tx.MoveToPrivateFolder(ctx, p)
				}
				if err != nil {
					return nil, err
				}
			}
			return restored, nil
		}, nil
	default:
		return nil, fmt.Errorf("--to must be public or private, got %q", to)
	}
}

// runMoves applies move to paths inside one transaction.
func runMoves(ctx context.Context, svc *files.Service, paths []string, move moveFunc, withURLs bool) (moveResult, error) {
	result, _, err := files.RunInTransaction(ctx, svc, func(ctx context.Context, tx *files.Tx) (moveResult, error) {
		moved, err := move(ctx, tx, paths)
		if err != nil {
			return moveResult{}, err
		}
		res := moveResult{Paths: moved, Moves: tx.Log()}
		if withURLs {
			res.URLs = tx.BulkGetPublicFileURL(moved)
		}
		return res, nil
	})
	return result, err
}

func handleSignUpload(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("sign-upload", flag.ExitOnError)
	configPath := commonFlags(fs)
	path := fs.String("path", "", "Upload path in temp/ (required unless --base and --mime are given)")
	base := fs.String("base", "", "Base path in temp/ without extension")
	mimeType := fs.String("mime", "", "MIME type; sets the extension of --base and the Content-Type condition")
	expires := fs.String("expires", "", "Policy lifetime, e.g. 10m (default: files.upload_expiry)")
	maxSize := fs.String("max-size", "", "Maximum upload size, e.g. 5mb (default: files.max_upload_size)")

	fs.Usage = func() {
		fmt.Printf(`Create a browser upload policy for a temp/ path

Usage:
  filetx sign-upload [options]

Options:
  --path string       Upload path in temp/
  --base string       Base path in temp/ without extension (used with --mime)
  --mime string       MIME type of the upload
  --expires string    Policy lifetime, e.g. 10m
  --max-size string   Maximum upload size, e.g. 5mb
  --config string     Path to TOML configuration file (default: config.toml)

Examples:
  filetx sign-upload --path temp/import.csv
  filetx sign-upload --base temp/avatars/42 --mime image/png --max-size 2mb
`)
	}

	if err := fs.Parse(args); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	target := *path
	if target == "" && *base != "" && *mimeType != "" {
		p, err := files.GetFilePathFromMimeType(*base, *mimeType)
		exitOnError("sign-upload", err)
		target = p
	}
	if target == "" {
		fmt.Printf("Error: --path, or --base with --mime, is required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	params := files.UploadPolicyParams{ContentType: *mimeType}
	if *expires != "" {
		d, err := helpers.ParseDuration(*expires)
		if err != nil {
			log.Fatalf("Invalid --expires: %v", err)
		}
		params.ExpiresIn = d
	}
	if *maxSize != "" {
		n, err := helpers.ParseSize(*maxSize)
		if err != nil {
			log.Fatalf("Invalid --max-size: %v", err)
		}
		params.MaxSize = n
	}

	cfg := loadConfig(fs, *configPath)
	svc := newService(cfg)

	policy, err := svc.CreateUploadSignedURL(ctx, target, params)
	exitOnError("sign-upload", err)
	printJSON(policy)
}

func handleRemove(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	configPath := commonFlags(fs)
	force := fs.Bool("force", false, "Confirm permanent deletion")

	fs.Usage = func() {
		fmt.Printf(`Permanently delete files. This cannot be undone; use 'delete' for a
soft delete.

Usage:
  filetx remove --force PATH...

Options:
  --force           Confirm permanent deletion (required)
  --config string   Path to TOML configuration file (default: config.toml)
`)
	}

	if err := fs.Parse(args); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	paths := requirePaths(fs)
	if !*force {
		fmt.Printf("Error: --force is required for permanent deletion\n\n")
		fs.Usage()
		os.Exit(1)
	}

	cfg := loadConfig(fs, *configPath)
	svc := newService(cfg)

	exitOnError("remove", svc.BulkRemoveFile(ctx, paths))
	printJSON(map[string][]string{"removed": paths})
}

func handleSignURL(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("sign-url", flag.ExitOnError)
	configPath := commonFlags(fs)
	expires := fs.String("expires", "", "URL lifetime, e.g. 10m (default: files.signed_url_expiry)")

	fs.Usage = func() {
		fmt.Printf(`Create time-limited read URLs

Usage:
  filetx sign-url [options] PATH...

Options:
  --expires string  URL lifetime, e.g. 10m
  --config string   Path to TOML configuration file (default: config.toml)
`)
	}

	if err := fs.Parse(args); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	paths := requirePaths(fs)

	var params files.SignedURLParams
	if *expires != "" {
		d, err := helpers.ParseDuration(*expires)
		if err != nil {
			log.Fatalf("Invalid --expires: %v", err)
		}
		params.ExpiresIn = d
	}

	cfg := loadConfig(fs, *configPath)
	svc := newService(cfg)

	urls, err := svc.BulkGetFileSignedURL(ctx, paths, params)
	exitOnError("sign-url", err)
	printJSON(pairs(paths, urls))
}

func handlePublicURL(args []string) {
	fs := flag.NewFlagSet("public-url", flag.ExitOnError)
	configPath := commonFlags(fs)

	if err := fs.Parse(args); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	paths := requirePaths(fs)

	cfg := loadConfig(fs, *configPath)
	svc := newService(cfg)
	printJSON(pairs(paths, svc.BulkGetPublicFileURL(paths)))
}

func handleMimePath(args []string) {
	fs := flag.NewFlagSet("mime-path", flag.ExitOnError)
	base := fs.String("base", "", "Base path without extension (required)")
	mimeType := fs.String("mime", "", "MIME type (required)")

	if err := fs.Parse(args); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if *base == "" || *mimeType == "" {
		fmt.Printf("Error: --base and --mime are required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	path, err := files.GetFilePathFromMimeType(*base, *mimeType)
	exitOnError("mime-path", err)
	fmt.Println(path)
}

func handleList(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := commonFlags(fs)
	prefix := fs.String("prefix", "", "Key prefix, e.g. deleted/ or public/avatars/")

	if err := fs.Parse(args); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	cfg := loadConfig(fs, *configPath)
	s3, _ := newStore(cfg)

	objects, errs := s3.ListObjects(ctx, *prefix, true)
	count := 0
	for obj := range objects {
		fmt.Printf("%-60s %10d  %s  %s\n", obj.Key, obj.Size, obj.LastModified.Format(time.RFC3339), files.ZoneOf(obj.Key))
		count++
	}
	if err := <-errs; err != nil {
		exitOnError("list", err)
	}
	fmt.Printf("\n%d object(s)\n", count)
}

type pathURL struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

func pairs(paths, urls []string) []pathURL {
	out := make([]pathURL, len(paths))
	for i := range paths {
		out[i] = pathURL{Path: paths[i], URL: urls[i]}
	}
	return out
}
