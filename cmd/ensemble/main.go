// Command ensemble is the CLI entry point: it wires stores, provider and
// team from process configuration and exposes ask/session subcommands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mkragh/ensemble"
	"github.com/mkragh/ensemble/config"
	"github.com/mkragh/ensemble/core"
	"github.com/mkragh/ensemble/logging"
	"github.com/mkragh/ensemble/memory"
	"github.com/mkragh/ensemble/model"
	"github.com/mkragh/ensemble/model/anthropic"
	"github.com/mkragh/ensemble/model/openai"
	"github.com/mkragh/ensemble/runner"
	"github.com/mkragh/ensemble/session"
)

var (
	flagConfig  string
	flagOwner   string
	flagSession string
	flagDeep    bool
	flagQuick   bool
)

func main() {
	// Missing .env is fine; explicit environment still applies.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "ensemble",
		Short:         "Multi-tenant agent orchestration engine",
		Version:       ensemble.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&flagOwner, "owner", "", "owner id (required)")

	root.AddCommand(newAskCmd(), newSessionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Submit one message and stream the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			req := runner.Request{
				OwnerID:   flagOwner,
				SessionID: flagSession,
				Message:   args[0],
			}
			if flagDeep {
				deep := true
				req.DeepMode = &deep
			} else if flagQuick {
				deep := false
				req.DeepMode = &deep
			}

			_, events, err := eng.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			return streamEvents(cmd, events)
		},
	}
	cmd.Flags().StringVar(&flagSession, "session", "", "session id (new session when omitted)")
	cmd.Flags().BoolVar(&flagDeep, "deep", false, "run in deep research mode")
	cmd.Flags().BoolVar(&flagQuick, "quick", false, "run in quick mode")
	return cmd
}

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session [session-id]",
		Short: "Show a session's restorable state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			state, err := eng.SessionState(cmd.Context(), args[0], flagOwner)
			if err != nil {
				return err
			}
			cmd.Printf("session: %s\n", state.SessionID)
			cmd.Printf("name:    %s\n", state.Name)
			cmd.Printf("deep:    %v\n", state.DeepMode)
			for k, v := range state.Extra {
				cmd.Printf("%s: %v\n", k, v)
			}
			return nil
		},
	}
	return cmd
}

func streamEvents(cmd *cobra.Command, events <-chan core.Event) error {
	for ev := range events {
		switch ev.Type {
		case core.EventChunk:
			cmd.Print(ev.Text)
		case core.EventStageStarted:
			cmd.PrintErrf("[stage %d: %s]\n", ev.Stage, ev.Worker)
		case core.EventStageCompleted:
			ok := ev.StageOK != nil && *ev.StageOK
			cmd.PrintErrf("[stage %d: %s done ok=%v]\n", ev.Stage, ev.Worker, ok)
		case core.EventCompleted:
			cmd.Printf("\n\n%s\n", ev.Text)
			cmd.PrintErrf("[session %s]\n", ev.SessionID)
		case core.EventError:
			return fmt.Errorf("run failed: %s", ev.Text)
		}
	}
	return nil
}

// buildEngine assembles an Ensemble from process configuration. The cleanup
// func closes stores and drains enrichment.
func buildEngine(ctx context.Context) (*ensemble.Ensemble, func(), error) {
	if flagOwner == "" {
		return nil, nil, fmt.Errorf("--owner is required")
	}

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})

	llm, err := buildModel(cfg)
	if err != nil {
		return nil, nil, err
	}

	sessions, memories, closeStores, err := buildStores(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	eng, err := ensemble.New(ctx, llm, func(o *ensemble.Options) {
		o.SessionStore = sessions
		o.MemoryStore = memories
		o.MaxModelCalls = cfg.Run.MaxModelCalls
		o.StageTimeout = cfg.Run.StageTimeout
		o.Logger = logger
	})
	if err != nil {
		closeStores()
		return nil, nil, err
	}

	cleanup := func() {
		eng.Close()
		closeStores()
	}
	return eng, cleanup, nil
}

func buildModel(cfg *config.Config) (model.Model, error) {
	switch cfg.Provider.Name {
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Provider.APIKey != "" {
				o.APIKey = cfg.Provider.APIKey
			}
			if cfg.Provider.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Provider.Model)
			}
		}), nil
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Provider.Model != "" {
				o.Model = cfg.Provider.Model
			}
		}), nil
	case "mock":
		return model.NewMockModel("mock"), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

func buildStores(ctx context.Context, cfg *config.Config) (core.SessionStore, core.MemoryStore, func(), error) {
	noop := func() {}
	switch cfg.Store.Backend {
	case "memory":
		return session.NewInMemoryStore(), memory.NewInMemoryStore(), noop, nil
	case "sqlite":
		sessions, err := session.OpenSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		memories, err := memory.OpenSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			sessions.Close()
			return nil, nil, nil, err
		}
		return sessions, memories, func() {
			memories.Close()
			sessions.Close()
		}, nil
	case "redis":
		sessions, err := session.NewRedisStoreFromURL(ctx, cfg.Store.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		memories, err := memory.OpenSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return sessions, memories, func() { memories.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
