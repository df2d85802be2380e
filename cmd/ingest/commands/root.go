package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"docembed/internal/app"
	"docembed/internal/apperr"
	"docembed/internal/config"
	"docembed/internal/service"
)

// Global flags
var (
	verbose      bool
	quiet        bool
	outputFormat string
)

// Exit codes
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

// session is what the commands need from the wired application.
type session struct {
	svc   service.IngestService
	close func() error
}

// openSession loads configuration and wires the application. Tests replace it.
var openSession = func() (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(app.NewLogger(os.Stderr, logLevel(cfg.LogLevel), cfg.LogFormat))

	a, err := app.New(cfg)
	if err != nil {
		return nil, err
	}
	return &session{svc: a.Service, close: a.Close}, nil
}

func logLevel(configured slog.Level) slog.Level {
	switch {
	case verbose:
		return slog.LevelDebug
	case quiet:
		return slog.LevelWarn
	default:
		return configured
	}
}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docembed",
		Short: "Load markdown documents into a vector store",
		Long: `docembed splits markdown documents into heading-scoped chunks, embeds them
and writes them to a vector store (qdrant, weaviate or a local sqlite file).

Runs are resumable: every run asks the store which chunks of a document are
already persisted and only embeds the rest. Re-run the same command after a
failure or an interruption to continue where it stopped.

Configuration is read from the environment and from a .env file
(VECTOR_BACKEND, COLLECTION, VECTOR_SIZE, EMBEDDING_PROVIDER, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if outputFormat != "text" && outputFormat != "json" {
				return &service.ValidationError{Field: "format", Message: "must be text or json"}
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only log warnings and errors")
	cmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "Output format (text, json)")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(
		NewIngestCmd(),
		NewProgressCmd(),
		NewChunksCmd(),
		NewSearchCmd(),
		NewRunsCmd(),
		NewVersionCmd(),
	)

	return cmd
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	var validationErr *service.ValidationError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.As(err, &validationErr), errors.Is(err, apperr.ErrConfig), errors.Is(err, config.ErrMissingRequired),
		errors.Is(err, config.ErrInvalid):
		return exitUsage
	default:
		return exitFailure
	}
}

func withSession(fn func(s *session) error) error {
	s, err := openSession()
	if err != nil {
		return fmt.Errorf("initializing: %w", err)
	}
	defer func() {
		if err := s.close(); err != nil {
			slog.Warn("failed to close resources", "error", err)
		}
	}()
	return fn(s)
}
