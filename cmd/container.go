// cmd/container.go
//
// Composition root. Owns infrastructure (model client, tools, stores) and
// wires the rollout engine. This is the only place that knows about ALL
// packages.
package main

import (
	"context"
	"net/http"

	"github.com/Abraxas-365/rollout/pkg/ai/llm"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/agentx"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/branchx"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/entropyx"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/memoryx"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/toolx"
	"github.com/Abraxas-365/rollout/pkg/ai/providers/aianthropic"
	"github.com/Abraxas-365/rollout/pkg/ai/providers/aiopenai"
	"github.com/Abraxas-365/rollout/pkg/asyncx"
	"github.com/Abraxas-365/rollout/pkg/config"
	"github.com/Abraxas-365/rollout/pkg/logx"
	"github.com/Abraxas-365/rollout/pkg/rolloutx"
	"github.com/Abraxas-365/rollout/pkg/sinkx"
	"github.com/Abraxas-365/rollout/pkg/sinkx/sinkpg"
	"github.com/Abraxas-365/rollout/pkg/sinkx/sinkredis"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// Container holds shared infrastructure and the wired engine.
type Container struct {
	Config *config.Config

	// Infrastructure
	DB      *sqlx.DB
	Redis   *redis.Client
	Limiter *asyncx.Limiter

	// Collaborators
	LLM       llm.Client
	Tools     *toolx.Registry
	Compactor *memoryx.Compactor
	Runner    *agentx.Runner
	Scheduler *branchx.Scheduler

	// Output
	Primary *sinkx.JSONLStore
	Mirrors []sinkx.Store
	Writer  *sinkx.Writer
	Resume  *sinkx.Index

	Engine *rolloutx.Engine
}

// NewContainer wires every component from cfg. On error the partially
// built container has already been cleaned up.
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	logx.Info("🔧 Initializing rollout container...")

	c := &Container{Config: cfg}
	steps := []func() error{
		func() error { return c.initInfrastructure(ctx) },
		c.initAgent,
		func() error { return c.initSink(ctx) },
		c.initEngine,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			c.Cleanup()
			return nil, err
		}
	}

	logx.Info("✅ Rollout container initialized")
	return c, nil
}

// ---------------------------------------------------------------------------
// Infrastructure: limiter, Redis, Postgres
// ---------------------------------------------------------------------------

func (c *Container) initInfrastructure(ctx context.Context) error {
	logx.Info("🏗️ Initializing infrastructure...")

	// 1. Admission limits
	c.Limiter = asyncx.NewLimiter(c.Config.Concurrency.Limits(),
		asyncx.WithRate("model", c.Config.Concurrency.ModelRPS, c.Config.Concurrency.Model),
		asyncx.WithObserver(rolloutx.ObserveInFlight),
	)
	logx.Infof("  ✅ Limiter configured (model: %d, tools: %v)", c.Config.Concurrency.Model, c.Config.Concurrency.Tools)

	// 2. Redis mirror
	if c.Config.Sink.Mirrored("redis") {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     c.Config.Redis.Address(),
			Password: c.Config.Redis.Password,
			DB:       c.Config.Redis.DB,
		})
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
		logx.Infof("  ✅ Redis connected (%s)", c.Config.Redis.Address())
	}

	// 3. Postgres mirror
	if c.Config.Sink.Mirrored("postgres") {
		db, err := sqlx.ConnectContext(ctx, "postgres", c.Config.Database.DSN())
		if err != nil {
			return err
		}
		db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
		db.SetMaxIdleConns(c.Config.Database.MaxIdleConns)
		db.SetConnMaxLifetime(c.Config.Database.ConnMaxLifetime)
		c.DB = db
		logx.Info("  ✅ Database connected")
	}

	logx.Info("✅ Infrastructure initialized")
	return nil
}

// ---------------------------------------------------------------------------
// Agent: model client, tools, compaction, runner, scheduler
// ---------------------------------------------------------------------------

func (c *Container) initAgent() error {
	logx.Info("🤖 Initializing agent...")
	cfg := c.Config

	c.LLM = newModelClient(cfg.Model)
	logx.Infof("  ✅ Model client configured (%s)", cfg.Model.Provider)

	endpoints, err := toolx.ParseEndpoints(cfg.Tools.Endpoints)
	if err != nil {
		return err
	}
	c.Tools, err = toolx.NewRegistry(toolx.HTTPTools(endpoints, &http.Client{}),
		toolx.WithLimiter(c.Limiter),
		toolx.WithCallTimeout(cfg.Tools.CallTimeout),
	)
	if err != nil {
		return err
	}
	logx.Infof("  ✅ Tools registered: %v", c.Tools.Names())

	estimator, err := memoryx.NewTokenEstimator(cfg.Compression.Tokenizer)
	if err != nil {
		return err
	}

	retry := cfg.Retry.Policy()
	retry.Retryable = llm.IsRetryable

	chatOpts := []llm.Option{
		llm.WithTemperature(float32(cfg.Model.Temperature)),
		llm.WithTopP(float32(cfg.Model.TopP)),
		llm.WithMaxTokens(cfg.Model.MaxTokens),
	}
	if cfg.Model.Seed != 0 {
		chatOpts = append(chatOpts, llm.WithSeed(cfg.Model.Seed))
	}

	c.Compactor = memoryx.NewCompactor(c.LLM, estimator,
		memoryx.WithInterval(cfg.Compression.Interval),
		memoryx.WithSoftCap(cfg.Compression.SoftCap),
		memoryx.WithObservationCap(cfg.Compression.ObservationCap),
		memoryx.WithRecentToKeep(cfg.Compression.KeepRecent),
		memoryx.WithTailChars(cfg.Compression.TailChars),
		memoryx.WithStrategy(memoryx.Strategy(cfg.Compression.Strategy)),
		memoryx.WithRetryPolicy(retry),
		memoryx.WithLimiter(c.Limiter),
		memoryx.WithDigestOptions(llm.WithTemperature(0.2)),
	)

	protocol := agentx.NewProtocol(agentx.DefaultMarkers())
	prompt := cfg.Agent.SystemPrompt
	if prompt == "" {
		prompt = agentx.DefaultSystemPrompt(protocol.Markers(), c.Tools.Describe())
	}

	topLogprobs := 0
	if cfg.Branch.Branching() {
		topLogprobs = cfg.Branch.TopLogprobs
	}

	c.Runner = agentx.NewRunner(c.LLM, c.Tools,
		agentx.WithOptions(chatOpts...),
		agentx.WithSystemPrompt(prompt),
		agentx.WithProtocol(protocol),
		agentx.WithMaxTurns(cfg.Agent.MaxTurns),
		agentx.WithTimeout(cfg.Agent.TaskTimeout),
		agentx.WithHardCap(cfg.Compression.HardCap),
		agentx.WithForceFinalize(cfg.Agent.ForceFinalize),
		agentx.WithTopLogprobs(topLogprobs),
		agentx.WithCompactor(c.Compactor),
		agentx.WithRetryPolicy(retry),
		agentx.WithLimiter(c.Limiter),
		agentx.WithObserver(rolloutx.Observe),
	)

	mode, err := entropyx.ParseMode(cfg.Branch.Mode)
	if err != nil {
		return err
	}
	c.Scheduler, err = branchx.NewScheduler(cfg.Branch.Budget, mode, cfg.Agent.MaxTurns)
	if err != nil {
		return err
	}
	logx.Infof("  ✅ Scheduler configured (N=%d K=%d R=%d M=%d B=%d, mode %s)",
		cfg.Branch.InitialRollouts, cfg.Branch.TopK, cfg.Branch.Rounds, cfg.Branch.Repeats, cfg.Branch.Total, mode)

	logx.Info("✅ Agent initialized")
	return nil
}

func newModelClient(cfg config.ModelConfig) llm.Client {
	switch cfg.Provider {
	case "anthropic":
		var opts []option.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		return aianthropic.NewAnthropicProvider(cfg.APIKey, cfg.Name, opts...)
	default:
		var opts []aiopenai.Option
		if cfg.Name != "" {
			opts = append(opts, aiopenai.WithDefaultModel(cfg.Name))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, aiopenai.WithBaseURL(cfg.BaseURL))
		}
		return aiopenai.NewOpenAIProvider(cfg.APIKey, opts...)
	}
}

// ---------------------------------------------------------------------------
// Sink: JSONL primary, optional mirrors, resume index
// ---------------------------------------------------------------------------

func (c *Container) initSink(ctx context.Context) error {
	logx.Info("💾 Initializing sink...")
	cfg := c.Config.Sink

	primary, err := sinkx.OpenJSONL(cfg.OutputPath, cfg.Resume)
	if err != nil {
		return err
	}
	c.Primary = primary

	if c.Redis != nil {
		c.Mirrors = append(c.Mirrors, sinkredis.NewRedisStore(c.Redis, cfg.RunID))
		logx.Infof("  ✅ Redis mirror enabled (run %s)", cfg.RunID)
	}
	if c.DB != nil {
		store := sinkpg.NewPostgresStore(c.DB, cfg.RunID)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		c.Mirrors = append(c.Mirrors, store)
		logx.Infof("  ✅ Postgres mirror enabled (run %s)", cfg.RunID)
	}

	if cfg.Resume {
		records, err := c.loadResume(ctx)
		if err != nil {
			return err
		}
		c.Resume = sinkx.NewIndex(records)
		logx.Infof("  ✅ Resume index loaded (%d records, %d finished)", c.Resume.Len(), c.Resume.Completed())
	}

	c.Writer = sinkx.NewWriter(c.Primary,
		sinkx.WithMirrors(c.Mirrors...),
		sinkx.WithBuffer(cfg.Buffer),
	)
	logx.Infof("  ✅ Writing records to %s", c.Primary.Path())
	return nil
}

// loadResume reads the primary file. When it holds nothing but a mirror
// does, the mirror's records are restored into the primary first so the
// output file stays complete.
func (c *Container) loadResume(ctx context.Context) ([]sinkx.Record, error) {
	records, err := c.Primary.Load(ctx)
	if err != nil || len(records) > 0 {
		return records, err
	}
	for _, m := range c.Mirrors {
		restored, err := m.Load(ctx)
		if err != nil {
			logx.WithError(err).Warn("mirror not readable for resume")
			continue
		}
		if len(restored) == 0 {
			continue
		}
		for _, rec := range restored {
			if err := c.Primary.Append(ctx, rec); err != nil {
				return nil, err
			}
		}
		logx.Infof("  ♻️ Restored %d records from mirror", len(restored))
		return restored, nil
	}
	return nil, nil
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

func (c *Container) initEngine() error {
	cfg := c.Config
	// The supervisor's clock is a backstop behind the runner's own timeout,
	// which records a proper timeout termination.
	taskTimeout := cfg.Agent.TaskTimeout
	if taskTimeout > 0 {
		taskTimeout += taskTimeout / 10
	}

	engine, err := rolloutx.NewEngine(c.Runner, c.Scheduler, c.Writer,
		rolloutx.WithWorkers(cfg.Concurrency.Trajectories),
		rolloutx.WithTaskTimeout(taskTimeout),
		rolloutx.WithIdleTimeout(cfg.Concurrency.IdleTimeout),
		rolloutx.WithResume(c.Resume),
	)
	if err != nil {
		return err
	}
	c.Engine = engine
	return nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Cleanup flushes the writer and closes every connection.
func (c *Container) Cleanup() {
	logx.Info("🧹 Cleaning up resources...")

	if c.Writer != nil {
		if err := c.Writer.Close(); err != nil {
			logx.Errorf("Error flushing records: %v", err)
		} else {
			logx.Info("  ✅ Records flushed")
		}
	} else if c.Primary != nil {
		_ = c.Primary.Close()
	}

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logx.Errorf("Error closing database: %v", err)
		} else {
			logx.Info("  ✅ Database connection closed")
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logx.Errorf("Error closing Redis: %v", err)
		} else {
			logx.Info("  ✅ Redis connection closed")
		}
	}

	logx.Info("✅ Cleanup complete")
}
