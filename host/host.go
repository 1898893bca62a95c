// Package host wires the process-wide orchestration singleton. A Host is
// constructed exactly once at startup and is read-only afterwards: it holds
// the worker registry, the root coordinator, the inference client and the
// durable store handles, all safe for unsynchronized concurrent reads.
// Nothing request-scoped ever lives on the Host.
package host

import (
	"context"
	"fmt"

	"github.com/mkragh/ensemble/core"
	"github.com/mkragh/ensemble/logging"
	"github.com/mkragh/ensemble/model"
	"github.com/mkragh/ensemble/registry"
)

// Options configures a Host.
type Options struct {
	// Sessions and Memories are the durable store handles shared by every
	// request.
	Sessions core.SessionStore
	Memories core.MemoryStore
	Logger   logging.Logger
	// VerifyModel pings the inference provider at construction time so an
	// unreachable provider fails at startup rather than on the first
	// request.
	VerifyModel bool
}

// Host is the once-constructed holder of shared orchestration resources.
type Host struct {
	registry *registry.Registry
	root     core.Role
	llm      model.Model
	sessions core.SessionStore
	memories core.MemoryStore
	logger   logging.Logger
}

// New constructs the Host. Any construction failure is fatal by contract:
// callers should not retry, they should exit.
func New(ctx context.Context, root core.Role, reg *registry.Registry, llm model.Model, optFns ...func(o *Options)) (*Host, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if root == nil {
		return nil, fmt.Errorf("host: root coordinator is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("host: worker registry is required")
	}
	if llm == nil {
		return nil, fmt.Errorf("host: inference model is required")
	}

	if opts.VerifyModel {
		if err := verifyModel(ctx, llm); err != nil {
			return nil, fmt.Errorf("host: inference provider unreachable: %w", err)
		}
	}

	opts.Logger.Info("host constructed root=%s workers=%d model=%s",
		root.Name(), reg.Len(), llm.Info().Name)

	return &Host{
		registry: reg,
		root:     root,
		llm:      llm,
		sessions: opts.Sessions,
		memories: opts.Memories,
		logger:   opts.Logger,
	}, nil
}

// Registry returns the read-only worker registry.
func (h *Host) Registry() *registry.Registry { return h.registry }

// Root returns the root coordinator role.
func (h *Host) Root() core.Role { return h.root }

// InferenceClient returns the shared model client. The client is safe for
// concurrent use; per-call failures are per-request errors, never
// host-fatal.
func (h *Host) InferenceClient() model.Model { return h.llm }

// Sessions returns the shared session store handle.
func (h *Host) Sessions() core.SessionStore { return h.sessions }

// Memories returns the shared memory store handle.
func (h *Host) Memories() core.MemoryStore { return h.memories }

// Logger returns the process logger.
func (h *Host) Logger() logging.Logger { return h.logger }

// verifyModel issues one minimal completion to prove connectivity.
func verifyModel(ctx context.Context, llm model.Model) error {
	respCh, errCh := llm.Generate(ctx, model.Request{
		Messages: []model.Message{{Role: "user", Content: "ping"}},
	})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errCh:
			if ok && err != nil {
				return err
			}
			errCh = nil
		case _, ok := <-respCh:
			if !ok {
				return nil
			}
		}
	}
}
