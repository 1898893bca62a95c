// Package ensemble provides a high-level façade over the orchestration
// engine: host construction, the standard research team, and the request
// submit surface. Most applications interact with this package by:
//  1. Creating an Ensemble via New() with an inference model (optionally
//     overriding the default in-memory stores)
//  2. Submitting requests asynchronously (Submit) or synchronously
//     (SubmitSync)
//
// All defaults are safe for local development and testing; production
// deployments supply durable store implementations, a structured logger and
// a real search provider.
package ensemble

import (
	"context"
	"time"

	"github.com/mkragh/ensemble/agent"
	"github.com/mkragh/ensemble/core"
	"github.com/mkragh/ensemble/directive"
	"github.com/mkragh/ensemble/enrich"
	"github.com/mkragh/ensemble/host"
	"github.com/mkragh/ensemble/logging"
	"github.com/mkragh/ensemble/memory"
	"github.com/mkragh/ensemble/model"
	"github.com/mkragh/ensemble/registry"
	"github.com/mkragh/ensemble/runner"
	"github.com/mkragh/ensemble/session"
	"github.com/mkragh/ensemble/tool"
)

// Version is the library version.
const Version = "0.2.0"

// Options configures an Ensemble instance.
type Options struct {
	// Stores default to in-memory implementations when not provided.
	SessionStore core.SessionStore
	MemoryStore  core.MemoryStore
	// SearchProvider backs the web_search tool. Nil wires no search tool.
	SearchProvider tool.SearchProvider
	// MemoryExtractor enables background memory extraction when set.
	MemoryExtractor core.MemoryExtractor
	// ExtraWorkers are registered alongside the standard research team. A
	// worker may itself be a coordinator.
	ExtraWorkers []core.Role
	// MaxModelCalls limits inference calls per run.
	MaxModelCalls int
	// StageTimeout bounds each delegated deep-mode stage. Zero keeps the
	// coordinator default.
	StageTimeout time.Duration
	Logger       logging.Logger
}

// Ensemble aggregates the host, the standard team and the submit surface.
type Ensemble struct {
	host   *host.Host
	runner *runner.Runner
	enrich *enrich.Scheduler
}

// New wires an Ensemble around llm: a root coordinator with memory recall
// tools (plus web search when a provider is given), a nested research team
// and an analysis worker, the composer, and post-response enrichment.
func New(ctx context.Context, llm model.Model, optFns ...func(o *Options)) (*Ensemble, error) {
	opts := Options{
		SessionStore:  session.NewInMemoryStore(),
		MemoryStore:   memory.NewInMemoryStore(),
		MaxModelCalls: 25,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	coordinatorTools := []tool.Tool{
		tool.NewRecallMemoriesTool(5),
		tool.NewRecentMemoriesTool(5),
	}
	var searchTools []tool.Tool
	if opts.SearchProvider != nil {
		searchTool := tool.NewWebSearchTool(opts.SearchProvider, 5)
		coordinatorTools = append(coordinatorTools, searchTool)
		searchTools = append(searchTools, searchTool)
	}

	searchWorker := agent.NewModelWorker("searcher", llm, []string{"search"}, func(o *agent.ModelWorkerOptions) {
		o.Description = "Finds and summarizes relevant sources for a research question."
		o.Instruction = "You are a research specialist. Find the facts relevant to the task " +
			"and report them with their sources. Report findings only, no conclusions."
		o.Tools = searchTools
	})
	analysisWorker := agent.NewModelWorker("analyst", llm, []string{"analysis", "synthesis"}, func(o *agent.ModelWorkerOptions) {
		o.Description = "Draws structured conclusions from collected research findings."
		o.Instruction = "You are an analyst. Work only from the findings you are given: " +
			"compare, weigh and conclude. Note where the findings are insufficient."
	})

	// The research stage is itself a coordinator over the search worker, so
	// the default team already exercises nested delegation.
	innerReg, err := registry.FromRoles(searchWorker)
	if err != nil {
		return nil, err
	}
	researchTeam := agent.NewCoordinator("research", llm, innerReg, func(o *agent.CoordinatorOptions) {
		o.Description = "Research team that gathers findings through its search worker."
		o.Pipeline = []string{"search"}
		if opts.StageTimeout > 0 {
			o.StageTimeout = opts.StageTimeout
		}
	})

	descriptors := []registry.Descriptor{
		{
			Name:        researchTeam.Name(),
			Description: researchTeam.Description(),
			Tags:        []string{"research", "coordination"},
			Role:        researchTeam,
		},
		{
			Name:        analysisWorker.Name(),
			Description: analysisWorker.Description(),
			Tags:        analysisWorker.CapabilityTags(),
			Role:        analysisWorker,
		},
	}
	for _, role := range opts.ExtraWorkers {
		descriptors = append(descriptors, registry.Descriptor{
			Name:        role.Name(),
			Description: role.Description(),
			Tags:        role.CapabilityTags(),
			Role:        role,
		})
	}
	reg, err := registry.New(descriptors...)
	if err != nil {
		return nil, err
	}

	coordinator := agent.NewCoordinator("coordinator", llm, reg, func(o *agent.CoordinatorOptions) {
		o.Tools = coordinatorTools
		if opts.StageTimeout > 0 {
			o.StageTimeout = opts.StageTimeout
		}
	})

	h, err := host.New(ctx, coordinator, reg, llm, func(o *host.Options) {
		o.Sessions = opts.SessionStore
		o.Memories = opts.MemoryStore
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}

	scheduler := enrich.NewScheduler(func(o *enrich.SchedulerOptions) {
		o.Logger = opts.Logger
	})

	run := runner.New(coordinator, func(o *runner.Options) {
		o.SessionStore = opts.SessionStore
		o.MemoryStore = opts.MemoryStore
		o.Composer = directive.NewComposer()
		o.Scheduler = scheduler
		o.NameGenerator = enrich.NewModelNameGenerator(llm)
		o.MemoryExtractor = opts.MemoryExtractor
		o.MaxModelCalls = opts.MaxModelCalls
		o.Logger = opts.Logger
	})

	return &Ensemble{host: h, runner: run, enrich: scheduler}, nil
}

// Submit starts an asynchronous run returning the run id and its event
// stream. The stream always terminates with a completed or error event.
func (e *Ensemble) Submit(ctx context.Context, req runner.Request) (string, <-chan core.Event, error) {
	return e.runner.Submit(ctx, req)
}

// SubmitSync runs a request to completion and returns the final response.
func (e *Ensemble) SubmitSync(ctx context.Context, req runner.Request) (*runner.Response, error) {
	return e.runner.SubmitSync(ctx, req)
}

// Cancel aborts a running run by id.
func (e *Ensemble) Cancel(runID string) error { return e.runner.Cancel(runID) }

// SessionState returns the restorable state of a session.
func (e *Ensemble) SessionState(ctx context.Context, sessionID, ownerID string) (*runner.SessionState, error) {
	return e.runner.SessionState(ctx, sessionID, ownerID)
}

// Host exposes the read-only orchestration host.
func (e *Ensemble) Host() *host.Host { return e.host }

// Close drains in-flight background enrichment. Call during graceful
// shutdown.
func (e *Ensemble) Close() { e.enrich.Close() }
