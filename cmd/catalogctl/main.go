// Command catalogctl runs operator tasks against the catalog: bootstrapping
// an admin account, segmenting a local file and printing playback URLs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/joho/godotenv"

	"github.com/amillerrr/movie-catalog/internal/catalog"
	"github.com/amillerrr/movie-catalog/internal/config"
	"github.com/amillerrr/movie-catalog/internal/identity"
	"github.com/amillerrr/movie-catalog/internal/logger"
	"github.com/amillerrr/movie-catalog/internal/pipeline"
	"github.com/amillerrr/movie-catalog/internal/publisher"
	"github.com/amillerrr/movie-catalog/internal/segmenter"
	"github.com/amillerrr/movie-catalog/pkg/models"
)

const usage = `usage: catalogctl <command> [flags]

commands:
  bootstrap-admin  create or promote an admin account
  segment          segment a local video into an HLS set
  url              print the playback URL for a published file
`

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.NewWithWriter(os.Stderr, cfg.Observability.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], cfg, log, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "catalogctl:", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("invalid usage")

func run(ctx context.Context, args []string, cfg *config.Config, log *slog.Logger, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errUsage
	}

	switch args[0] {
	case "bootstrap-admin":
		return bootstrapAdmin(ctx, args[1:], cfg, log, out)
	case "segment":
		return segment(ctx, args[1:], cfg, log, out)
	case "url":
		return printURL(args[1:], cfg, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func bootstrapAdmin(ctx context.Context, args []string, cfg *config.Config, log *slog.Logger, out io.Writer) error {
	fs := flag.NewFlagSet("bootstrap-admin", flag.ContinueOnError)
	email := fs.String("email", "", "admin email")
	name := fs.String("name", "Admin", "display name for a new account")
	password := fs.String("password", os.Getenv("ADMIN_PASSWORD"), "password for a new account (default $ADMIN_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Store.Region))
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}
	store, err := catalog.Open(ctx, cfg.Store, awsCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	user, created, err := ensureAdmin(ctx, store, models.SignupInput{Email: *email, Name: *name, Password: *password})
	if err != nil {
		return err
	}

	log.InfoContext(ctx, "Admin ready", "userId", user.ID, "created", created)
	if created {
		fmt.Fprintf(out, "created admin %s (id %d)\n", user.Email, user.ID)
	} else {
		fmt.Fprintf(out, "promoted %s (id %d) to admin\n", user.Email, user.ID)
	}
	return nil
}

// ensureAdmin promotes the account with in.Email, creating it first when it
// does not exist. It reports whether the account was created.
func ensureAdmin(ctx context.Context, users catalog.UserStore, in models.SignupInput) (*models.User, bool, error) {
	if !models.ValidEmail(in.Email) {
		return nil, false, models.ErrInvalidEmail
	}

	existing, err := users.GetUserByEmail(ctx, in.Email)
	switch {
	case err == nil:
		if err := users.SetUserRole(ctx, existing.ID, models.RoleAdmin); err != nil {
			return nil, false, err
		}
		existing.Role = models.RoleAdmin
		return existing, false, nil
	case !errors.Is(err, models.ErrUserNotFound):
		return nil, false, err
	}

	if errs := in.Validate(); len(errs) > 0 {
		return nil, false, errors.Join(fieldErrors(errs)...)
	}
	hash, err := identity.HashPassword(in.Password)
	if err != nil {
		return nil, false, err
	}
	user, err := users.CreateUser(ctx, &models.User{
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	})
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

func fieldErrors(errs []models.FieldError) []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}

func segment(ctx context.Context, args []string, cfg *config.Config, log *slog.Logger, out io.Writer) error {
	fs := flag.NewFlagSet("segment", flag.ContinueOnError)
	in := fs.String("in", "", "source video file")
	outDir := fs.String("out", "", "output directory")
	base := fs.String("base", "", "base name for the manifest and segments (default: from -in)")
	seconds := fs.Int("seconds", cfg.Media.SegmentSeconds, "target segment duration")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *outDir == "" {
		return fmt.Errorf("%w: -in and -out are required", errUsage)
	}
	if *base == "" {
		*base = pipeline.BaseName(filepath.Base(*in), "video")
	}

	engine := segmenter.New(segmenter.Config{EnginePath: cfg.Media.FFmpegPath, Logger: log})
	set, err := engine.Segment(ctx, *in, *outDir, *base, *seconds)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, set.ManifestPath)
	for _, p := range set.SegmentPaths {
		fmt.Fprintln(out, p)
	}
	return nil
}

func printURL(args []string, cfg *config.Config, out io.Writer) error {
	fs := flag.NewFlagSet("url", flag.ContinueOnError)
	folder := fs.String("folder", "", "remote folder, e.g. movies/12/trailer")
	file := fs.String("file", "", "published file name")
	root := fs.String("root", cfg.MediaStore.StoreRoot(), "store root (host/account)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *folder == "" || *file == "" {
		return fmt.Errorf("%w: -folder and -file are required", errUsage)
	}

	fmt.Fprintln(out, publisher.URLFor(*root, *folder, *file))
	return nil
}
