package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/imitatoes/adapter"
	"github.com/pithecene-io/imitatoes/adapter/redis"
	"github.com/pithecene-io/imitatoes/adapter/webhook"
	"github.com/pithecene-io/imitatoes/cli/config"
	"github.com/pithecene-io/imitatoes/comfy"
	"github.com/pithecene-io/imitatoes/critique"
	"github.com/pithecene-io/imitatoes/critique/gemini"
	"github.com/pithecene-io/imitatoes/critique/ollama"
	"github.com/pithecene-io/imitatoes/critique/openaichat"
	"github.com/pithecene-io/imitatoes/iox"
	"github.com/pithecene-io/imitatoes/lode"
	"github.com/pithecene-io/imitatoes/log"
	"github.com/pithecene-io/imitatoes/metrics"
	"github.com/pithecene-io/imitatoes/runtime"
	"github.com/pithecene-io/imitatoes/types"
)

// RunCommand returns the run command, the only command that talks to the
// generation and critique backends.
func RunCommand() *cli.Command {
	flags := []cli.Flag{
		ConfigFlag,
		// Generation inputs
		&cli.StringFlag{
			Name:    "workflow",
			Aliases: []string{"w"},
			Usage:   "Path to the ComfyUI workflow template (API format JSON)",
		},
		&cli.StringFlag{
			Name:    "prompt",
			Aliases: []string{"p"},
			Usage:   "Initial positive prompt",
		},
		&cli.StringFlag{
			Name:  "negative",
			Usage: "Initial negative prompt",
		},
		&cli.Float64Flag{
			Name:  "cfg",
			Usage: "Initial cfg scale (backend default when unset)",
		},
		&cli.IntFlag{
			Name:  "steps",
			Usage: "Initial sampler steps (backend default when unset)",
		},
		&cli.Int64Flag{
			Name:  "seed",
			Usage: "Initial seed (backend default when unset)",
		},
		// Budget
		&cli.IntFlag{
			Name:  "iterations",
			Usage: "Iterations per loop",
			Value: runtime.DefaultIterationsPerLoop,
		},
		&cli.IntFlag{
			Name:  "max-loops",
			Usage: "Maximum number of loops",
			Value: runtime.DefaultMaxLoops,
		},
		&cli.StringFlag{
			Name:  "done-token",
			Usage: "Token the reviewer is asked to include when satisfied",
			Value: critique.DefaultDoneToken,
		},
		// ComfyUI
		&cli.StringFlag{
			Name:  "comfy-url",
			Usage: "ComfyUI base URL",
			Value: comfy.DefaultBaseURL,
		},
		&cli.DurationFlag{
			Name:  "comfy-timeout",
			Usage: "Timeout for each ComfyUI HTTP request",
			Value: comfy.DefaultTimeout,
		},
		&cli.DurationFlag{
			Name:  "poll-interval",
			Usage: "Delay between history polls",
			Value: runtime.DefaultPollInterval,
		},
		&cli.DurationFlag{
			Name:  "poll-timeout",
			Usage: "Deadline for one job to complete",
			Value: runtime.DefaultPollTimeout,
		},
		&cli.StringFlag{
			Name:  "wait-mode",
			Usage: "Completion wait: poll or websocket",
			Value: string(runtime.WaitPoll),
		},
		// Critic
		&cli.StringFlag{
			Name:  "critic",
			Usage: "Critique provider: ollama, openai, gemini",
			Value: "ollama",
		},
		&cli.StringFlag{
			Name:  "critic-url",
			Usage: "Critique provider base URL (provider default when empty)",
		},
		&cli.StringFlag{
			Name:  "model",
			Usage: "Vision model identifier (provider default when empty)",
		},
		&cli.StringFlag{
			Name:    "api-key",
			Usage:   "API key for hosted critique providers",
			EnvVars: []string{"IMITATOES_API_KEY"},
		},
		&cli.DurationFlag{
			Name:  "critic-timeout",
			Usage: "Timeout for one critique request",
			Value: ollama.DefaultTimeout,
		},
		&cli.IntFlag{
			Name:  "critic-max-retries",
			Usage: "Client-level retries for the openai provider (default 0, no retries)",
		},
		// Run identity and outputs
		&cli.StringFlag{
			Name:  "run-id",
			Usage: "Run ID (random UUID when empty)",
		},
		&cli.StringFlag{
			Name:  "report",
			Usage: "Write a JSON run report to this path (\"-\" for stderr)",
		},
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "Suppress result output",
		},
		// Notification
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Completion notification: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Webhook URL or redis:// URL",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis pub/sub channel",
			Value: redis.DefaultChannel,
		},
		&cli.StringSliceFlag{
			Name:  "adapter-header",
			Usage: "Webhook header as Key=Value (repeatable)",
		},
		&cli.DurationFlag{
			Name:  "adapter-timeout",
			Usage: "Timeout for one notification attempt (adapter default when unset)",
		},
		&cli.IntFlag{
			Name:  "adapter-retries",
			Usage: "Extra notification attempts on failure",
		},
	}

	return &cli.Command{
		Name:   "run",
		Usage:  "Run the generate, critique and evolve loop",
		Flags:  append(flags, StorageFlags()...),
		Action: runAction,
	}
}

// runChoice is the fully resolved run configuration.
type runChoice struct {
	runID    string
	workflow string
	initial  types.LoopState

	iterations int
	maxLoops   int
	doneToken  string
	tokens     comfy.TokenSet

	comfyURL     string
	comfyTimeout time.Duration
	pollInterval time.Duration
	pollTimeout  time.Duration
	waitMode     runtime.WaitMode

	critic criticChoice
	store  storeChoice
	notify adapterChoice

	report string
	quiet  bool
}

type criticChoice struct {
	provider   string
	url        string
	model      string
	apiKey     string
	timeout    time.Duration
	maxRetries *int
}

type storeChoice struct {
	backend   string
	path      string
	region    string
	endpoint  string
	pathStyle bool
}

type adapterChoice struct {
	kind    string
	url     string
	channel string
	headers map[string]string
	timeout time.Duration
	retries int
}

func resolveRunChoice(c *cli.Context, cfg *config.Config) (*runChoice, error) {
	choice := &runChoice{
		runID:    c.String("run-id"),
		workflow: resolveString(c, "workflow", configVal(cfg, func(c *config.Config) string { return c.Workflow })),
		initial: types.LoopState{
			Prompt:         resolveString(c, "prompt", configVal(cfg, func(c *config.Config) string { return c.Prompt })),
			NegativePrompt: resolveString(c, "negative", configVal(cfg, func(c *config.Config) string { return c.NegativePrompt })),
			CFG:            configVal(cfg, func(c *config.Config) *float64 { return c.CFG }),
			Steps:          resolveOptionalInt(c, "steps", configVal(cfg, func(c *config.Config) *int { return c.Steps })),
			Seed:           configVal(cfg, func(c *config.Config) *int64 { return c.Seed }),
		},
		iterations:   resolveInt(c, "iterations", configVal(cfg, func(c *config.Config) int { return c.Iterations })),
		maxLoops:     resolveInt(c, "max-loops", configVal(cfg, func(c *config.Config) int { return c.MaxLoops })),
		doneToken:    resolveString(c, "done-token", configVal(cfg, func(c *config.Config) string { return c.DoneToken })),
		comfyURL:     resolveString(c, "comfy-url", configVal(cfg, func(c *config.Config) string { return c.Comfy.URL })),
		comfyTimeout: resolveDuration(c, "comfy-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Comfy.Timeout.Duration })),
		pollInterval: resolveDuration(c, "poll-interval", configVal(cfg, func(c *config.Config) time.Duration { return c.Comfy.PollInterval.Duration })),
		pollTimeout:  resolveDuration(c, "poll-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Comfy.PollTimeout.Duration })),
		critic: criticChoice{
			provider:   strings.ToLower(resolveString(c, "critic", configVal(cfg, func(c *config.Config) string { return c.Critic.Provider }))),
			url:        resolveString(c, "critic-url", configVal(cfg, func(c *config.Config) string { return c.Critic.URL })),
			model:      resolveString(c, "model", configVal(cfg, func(c *config.Config) string { return c.Critic.Model })),
			apiKey:     resolveString(c, "api-key", configVal(cfg, func(c *config.Config) string { return c.Critic.APIKey })),
			timeout:    resolveDuration(c, "critic-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Critic.Timeout.Duration })),
			maxRetries: resolveOptionalInt(c, "critic-max-retries", configVal(cfg, func(c *config.Config) *int { return c.Critic.MaxRetries })),
		},
		store: storeChoice{
			backend:   strings.ToLower(resolveString(c, "storage-backend", configVal(cfg, func(c *config.Config) string { return c.Storage.Backend }))),
			path:      resolveString(c, "output-dir", configVal(cfg, func(c *config.Config) string { return c.Storage.Path })),
			region:    resolveString(c, "s3-region", configVal(cfg, func(c *config.Config) string { return c.Storage.Region })),
			endpoint:  resolveString(c, "s3-endpoint", configVal(cfg, func(c *config.Config) string { return c.Storage.Endpoint })),
			pathStyle: resolveBool(c, "s3-path-style", configVal(cfg, func(c *config.Config) bool { return c.Storage.S3PathStyle })),
		},
		notify: adapterChoice{
			kind:    strings.ToLower(resolveString(c, "adapter", configVal(cfg, func(c *config.Config) string { return c.Adapter.Type }))),
			url:     resolveString(c, "adapter-url", configVal(cfg, func(c *config.Config) string { return c.Adapter.URL })),
			channel: resolveString(c, "adapter-channel", configVal(cfg, func(c *config.Config) string { return c.Adapter.Channel })),
			headers: configVal(cfg, func(c *config.Config) map[string]string { return c.Adapter.Headers }),
			timeout: resolveDuration(c, "adapter-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Adapter.Timeout.Duration })),
		},
		tokens: comfy.TokenSet{
			Prompt:   configVal(cfg, func(c *config.Config) string { return c.Tokens.Prompt }),
			Negative: configVal(cfg, func(c *config.Config) string { return c.Tokens.Negative }),
			CFG:      configVal(cfg, func(c *config.Config) string { return c.Tokens.CFG }),
			Steps:    configVal(cfg, func(c *config.Config) string { return c.Tokens.Steps }),
			Seed:     configVal(cfg, func(c *config.Config) string { return c.Tokens.Seed }),
		}.WithDefaults(),
		report: resolveString(c, "report", configVal(cfg, func(c *config.Config) string { return c.Report })),
		quiet:  c.Bool("quiet"),
	}

	// Numeric overrides keep nil as "backend default", so only an explicit
	// flag replaces the config value.
	if c.IsSet("cfg") {
		v := c.Float64("cfg")
		choice.initial.CFG = &v
	}
	if c.IsSet("seed") {
		v := c.Int64("seed")
		choice.initial.Seed = &v
	}

	retries := resolveOptionalInt(c, "adapter-retries", configVal(cfg, func(c *config.Config) *int { return c.Adapter.Retries }))
	if retries != nil {
		choice.notify.retries = *retries
	}
	if headers := c.StringSlice("adapter-header"); len(headers) > 0 {
		parsed, err := parseHeaders(headers)
		if err != nil {
			return nil, err
		}
		choice.notify.headers = parsed
	}

	mode, err := runtime.ParseWaitMode(resolveString(c, "wait-mode", configVal(cfg, func(c *config.Config) string { return c.Comfy.WaitMode })))
	if err != nil {
		return nil, err
	}
	choice.waitMode = mode

	if choice.runID == "" {
		choice.runID = uuid.NewString()
	}
	if choice.workflow == "" {
		return nil, errors.New("--workflow is required (flag or config file)")
	}
	if strings.TrimSpace(choice.initial.Prompt) == "" {
		return nil, errors.New("--prompt is required (flag or config file)")
	}
	if choice.notify.kind != "" && choice.notify.url == "" {
		return nil, errors.New("--adapter-url is required when --adapter is set")
	}
	return choice, nil
}

func parseHeaders(pairs []string) (map[string]string, error) {
	headers := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --adapter-header %q (want Key=Value)", pair)
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headers, nil
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), runtime.ExitCodeError)
	}
	choice, err := resolveRunChoice(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	runMeta := &types.RunMeta{RunID: choice.runID, Workflow: choice.workflow, StartedAt: time.Now().UTC()}
	logger := log.NewLoggerWithWriter(runMeta, errWriter(c))
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	tmpl, err := comfy.LoadWorkflow(choice.workflow)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}
	if len(tmpl.Tokens(choice.tokens.Prompt)) == 0 {
		sugar.Warnf("workflow %s contains no %s placeholder, the prompt will not reach the generator", choice.workflow, choice.tokens.Prompt)
	}

	critic, err := buildCritic(ctx, choice.critic)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create critic: %v", err), runtime.ExitCodeError)
	}
	if closer, ok := critic.(io.Closer); ok {
		defer iox.DiscardClose(closer)
	}

	collector := metrics.NewCollector(critic.Name(), choice.store.backend, string(choice.waitMode), choice.runID)
	store, err := buildStore(ctx, choice.store, collector)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create artifact store: %v", err), runtime.ExitCodeError)
	}
	defer iox.DiscardClose(store)

	generator, err := comfy.New(comfy.Config{
		BaseURL:   choice.comfyURL,
		Timeout:   choice.comfyTimeout,
		ClientID:  uuid.NewString(),
		Websocket: choice.waitMode == runtime.WaitWebsocket,
	})
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}
	defer iox.DiscardClose(generator)

	notifier, err := buildAdapter(choice.notify)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create adapter: %v", err), runtime.ExitCodeError)
	}
	if notifier != nil {
		defer iox.DiscardClose(notifier)
	}

	loopConfig := &runtime.LoopConfig{
		RunMeta:           runMeta,
		Template:          tmpl,
		Initial:           choice.initial,
		IterationsPerLoop: choice.iterations,
		MaxLoops:          choice.maxLoops,
		PollInterval:      choice.pollInterval,
		PollTimeout:       choice.pollTimeout,
		WaitMode:          choice.waitMode,
		DoneToken:         choice.doneToken,
		Tokens:            choice.tokens,
		Generator:         generator,
		Critic:            critic,
		Store:             store,
		Collector:         collector,
		Logger:            logger,
	}
	orchestrator, err := runtime.NewLoopOrchestrator(loopConfig)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid run configuration: %v", err), runtime.ExitCodeError)
	}

	result, runErr := orchestrator.Execute(ctx)
	exitCode := runtime.ExitCode(result.Outcome)

	report := runtime.BuildRunReport(result, loopConfig, collector.Snapshot(), exitCode)
	if choice.report != "" {
		if err := runtime.WriteRunReport(report, choice.report); err != nil {
			sugar.With("path", choice.report).Warnf("failed to write run report: %v", err)
		}
	}

	if notifier != nil {
		// The run context may already be canceled; notification still goes out.
		publishCtx := context.WithoutCancel(ctx)
		if err := notifier.Publish(publishCtx, newLoopCompletedEvent(report, result)); err != nil {
			sugar.With("adapter", choice.notify.kind).Warnf("completion notification failed: %v", err)
		}
	}

	if !choice.quiet {
		printRunResult(c.App.Writer, report)
	}

	if runErr != nil {
		return cli.Exit(fmt.Sprintf("run failed: %v", runErr), exitCode)
	}
	return nil
}

func errWriter(c *cli.Context) io.Writer {
	if c.App != nil && c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

func buildCritic(ctx context.Context, choice criticChoice) (critique.Critic, error) {
	switch choice.provider {
	case "ollama", "":
		model := choice.model
		if model == "" {
			model = ollama.DefaultModel
		}
		return ollama.New(ollama.Config{BaseURL: choice.url, Model: model, Timeout: choice.timeout})
	case "openai":
		retries := 0
		if choice.maxRetries != nil {
			retries = *choice.maxRetries
		}
		return openaichat.New(openaichat.Config{
			BaseURL:    choice.url,
			APIKey:     choice.apiKey,
			Model:      choice.model,
			Timeout:    choice.timeout,
			MaxRetries: retries,
		})
	case "gemini":
		return gemini.New(ctx, gemini.Config{APIKey: choice.apiKey, Model: choice.model, BaseURL: choice.url})
	default:
		return nil, fmt.Errorf("unknown critic %q (must be ollama, openai or gemini)", choice.provider)
	}
}

func buildStore(ctx context.Context, choice storeChoice, collector *metrics.Collector) (*lode.ArtifactStore, error) {
	switch lode.Backend(choice.backend) {
	case lode.BackendFS, "":
		path := choice.path
		if path == "" {
			path = DefaultOutputDir
		}
		return lode.NewFSStore(path, lode.WithMetrics(collector))
	case lode.BackendS3:
		bucket, prefix := lode.ParseS3Path(choice.path)
		return lode.NewS3Store(ctx, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       choice.region,
			Endpoint:     choice.endpoint,
			UsePathStyle: choice.pathStyle,
		}, lode.WithMetrics(collector))
	default:
		return nil, fmt.Errorf("unknown storage backend %q (must be fs or s3)", choice.backend)
	}
}

// buildAdapter returns nil when no notification is configured.
func buildAdapter(choice adapterChoice) (adapter.Adapter, error) {
	switch choice.kind {
	case "":
		return nil, nil
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     choice.url,
			Headers: choice.headers,
			Timeout: choice.timeout,
			Retries: choice.retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:     choice.url,
			Channel: choice.channel,
			Timeout: choice.timeout,
			Retries: choice.retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter %q (must be webhook or redis)", choice.kind)
	}
}

func newLoopCompletedEvent(report *runtime.RunReport, result *runtime.LoopResult) *adapter.LoopCompletedEvent {
	event := &adapter.LoopCompletedEvent{
		Version:     report.Version,
		EventType:   adapter.EventTypeLoopCompleted,
		RunID:       report.RunID,
		Workflow:    report.Workflow,
		Outcome:     string(report.Outcome),
		Message:     report.Message,
		ExitCode:    report.ExitCode,
		Iterations:  report.Iterations,
		Loop:        report.Loop,
		Iteration:   report.Iteration,
		Reason:      report.Reason,
		FinalPrompt: result.FinalState.Prompt,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		DurationMs:  report.DurationMs,
	}
	if report.Storage != nil {
		event.StoragePath = report.Storage.Location
	}
	return event
}

func printRunResult(w io.Writer, report *runtime.RunReport) {
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprintf(w, "\nrun_id=%s, outcome=%s, iterations=%d/%d, duration=%s\n",
		report.RunID,
		report.Outcome,
		report.Iterations,
		report.Budget,
		(time.Duration(report.DurationMs) * time.Millisecond).String(),
	)

	fmt.Fprintf(w, "\n=== Run Result ===\n")
	fmt.Fprintf(w, "Run ID:       %s\n", report.RunID)
	fmt.Fprintf(w, "Workflow:     %s\n", report.Workflow)
	fmt.Fprintf(w, "Outcome:      %s\n", report.Outcome)
	fmt.Fprintf(w, "Message:      %s\n", report.Message)
	if report.Reason != "" {
		fmt.Fprintf(w, "Reason:       %s\n", report.Reason)
	}
	if report.Storage != nil {
		fmt.Fprintf(w, "Storage:      %s (%d files)\n", report.Storage.Location, len(report.Storage.Files))
	}

	if report.FinalState != nil {
		s := report.FinalState
		fmt.Fprintf(w, "\n=== Final State ===\n")
		fmt.Fprintf(w, "CFG:          %s\n", orDefault(s.CFGString()))
		fmt.Fprintf(w, "Steps:        %s\n", orDefault(s.StepsString()))
		fmt.Fprintf(w, "Seed:         %s\n", orDefault(s.SeedString()))
		fmt.Fprintf(w, "Prompt:\n%s\n", indent(s.Prompt))
		if s.NegativePrompt != "" {
			fmt.Fprintf(w, "Negative:\n%s\n", indent(s.NegativePrompt))
		}
	}

	if f := report.Failure; f != nil {
		fmt.Fprintf(w, "\n=== Failure ===\n")
		fmt.Fprintf(w, "Stage:        %s\n", f.Stage)
		fmt.Fprintf(w, "Position:     loop %d, iteration %d\n", f.Loop, f.Iteration)
		if f.JobID != "" {
			fmt.Fprintf(w, "Job ID:       %s\n", f.JobID)
		}
		fmt.Fprintf(w, "Last state:   %s\n", f.LastState.String())
		fmt.Fprintf(w, "Error:        %s\n", f.Error)
	}

	if m := report.Metrics; m != nil {
		fmt.Fprintf(w, "\n=== Metrics ===\n")
		fmt.Fprintf(w, "Jobs:         %d submitted, %d polls, %d timeouts\n", m.JobsSubmitted, m.Polls, m.JobTimeouts)
		fmt.Fprintf(w, "Critiques:    %d requested, %d malformed, %d token mismatches\n", m.CritiquesRequested, m.MalformedCritiques, m.DoneTokenMismatches)
		fmt.Fprintf(w, "Writes:       %d ok, %d failed\n", m.StorageWriteSuccess, m.StorageWriteFailure)
	}
}

func orDefault(s string) string {
	if s == "" {
		return "(backend default)"
	}
	return s
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
