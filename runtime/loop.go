package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/imitatoes/critique"
	"github.com/pithecene-io/imitatoes/evolve"
	"github.com/pithecene-io/imitatoes/lode"
	"github.com/pithecene-io/imitatoes/log"
	"github.com/pithecene-io/imitatoes/types"
)

// LoopResult describes how a run ended. It is returned for every run,
// including failed ones.
type LoopResult struct {
	RunMeta *types.RunMeta
	Outcome types.OutcomeStatus
	Message string
	// Iterations is the number of fully completed iterations.
	Iterations int
	// Last is the position of the last iteration started.
	Last types.Counters
	// Reason is the reviewer's reason from the last parsed critique.
	Reason string
	// FinalState is the state the next iteration would generate from, or
	// the accepted state when the run finished done.
	FinalState types.LoopState
	// Files lists every artifact written, in order.
	Files    []string
	Duration time.Duration
	// Failure is set when the run stopped on a fatal error.
	Failure *RunError
}

// LoopOrchestrator runs the loop for one configuration.
type LoopOrchestrator struct {
	config *LoopConfig
	logger *log.Logger
}

// NewLoopOrchestrator validates the configuration and creates an orchestrator.
func NewLoopOrchestrator(config *LoopConfig) (*LoopOrchestrator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid loop config: %w", err)
	}
	cfg := *config
	cfg.Initial = config.Initial.Clone()
	if cfg.WaitMode == "" {
		cfg.WaitMode = WaitPoll
	}
	if cfg.DoneToken == "" {
		cfg.DoneToken = critique.DefaultDoneToken
	}
	cfg.Tokens = cfg.Tokens.WithDefaults()

	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &LoopOrchestrator{config: &cfg, logger: logger}, nil
}

// step is the outcome of one completed iteration.
type step struct {
	done   bool
	reason string
	next   types.LoopState
	files  []string
}

// Execute runs iterations until a critique reports done, the budget is
// spent or a fatal error occurs. On failure the returned error is a
// *RunError and the result still describes the progress made.
//
// Per iteration:
//  1. Render the template from the current state and submit it
//  2. Wait for completion (websocket events and/or polling)
//  3. Fetch the first artifact
//  4. Request and parse a critique
//  5. Persist image, critique and journal record
//  6. Stop on done, otherwise evolve the state
func (o *LoopOrchestrator) Execute(ctx context.Context) (*LoopResult, error) {
	cfg := o.config
	start := time.Now()
	result := &LoopResult{RunMeta: cfg.RunMeta, FinalState: cfg.Initial.Clone()}

	o.logger.Info("starting run", map[string]any{
		"critic":              cfg.Critic.Name(),
		"storage":             cfg.Store.Location(),
		"iterations_per_loop": cfg.IterationsPerLoop,
		"max_loops":           cfg.MaxLoops,
		"wait_mode":           string(cfg.WaitMode),
	})

	state := cfg.Initial.Clone()
	for loop := 1; loop <= cfg.MaxLoops; loop++ {
		cfg.Collector.IncLoopStarted()
		for iter := 1; iter <= cfg.IterationsPerLoop; iter++ {
			counters := types.Counters{Loop: loop, Iteration: iter}
			result.Last = counters

			s, err := o.iterate(ctx, counters, state)
			if s != nil {
				result.Files = append(result.Files, s.files...)
			}
			if err != nil {
				return o.fail(result, start, err)
			}

			result.Iterations++
			result.Reason = s.reason
			cfg.Collector.IncIterationCompleted()

			if s.done {
				result.Outcome = types.OutcomeDone
				result.Message = fmt.Sprintf("critique reported done at %s", counters.Key())
				result.FinalState = state.Clone()
				result.Duration = time.Since(start)
				o.logger.Info("run complete", map[string]any{
					"outcome":    string(result.Outcome),
					"iterations": result.Iterations,
					"reason":     s.reason,
				})
				return result, nil
			}
			state = s.next
			result.FinalState = state.Clone()
		}
	}

	result.Outcome = types.OutcomeBudgetExhausted
	result.Message = fmt.Sprintf("no done critique after %d loops of %d iterations", cfg.MaxLoops, cfg.IterationsPerLoop)
	result.Duration = time.Since(start)
	o.logger.Info("run complete", map[string]any{
		"outcome":    string(result.Outcome),
		"iterations": result.Iterations,
	})
	return result, nil
}

func (o *LoopOrchestrator) fail(result *LoopResult, start time.Time, err error) (*LoopResult, error) {
	var runErr *RunError
	if !errors.As(err, &runErr) {
		runErr = &RunError{Stage: StageSubmit, Loop: result.Last.Loop, Iteration: result.Last.Iteration, Err: err}
	}
	result.Outcome = ClassifyError(runErr)
	result.Message = runErr.Error()
	result.Failure = runErr
	result.FinalState = runErr.LastState.Clone()
	result.Duration = time.Since(start)

	o.logger.Error("run failed", map[string]any{
		"outcome":    string(result.Outcome),
		"stage":      string(runErr.Stage),
		"loop":       runErr.Loop,
		"iteration":  runErr.Iteration,
		"job_id":     runErr.JobID,
		"last_state": runErr.LastState.String(),
		"error":      runErr.Err.Error(),
	})
	return result, runErr
}

func (o *LoopOrchestrator) iterate(ctx context.Context, counters types.Counters, state types.LoopState) (*step, error) {
	cfg := o.config
	failure := func(stage Stage, jobID string, err error) error {
		return &RunError{
			Stage:     stage,
			Loop:      counters.Loop,
			Iteration: counters.Iteration,
			JobID:     jobID,
			LastState: state.Clone(),
			Err:       err,
		}
	}

	genStart := time.Now()
	job, err := cfg.Template.Render(cfg.Tokens.Values(state))
	if err != nil {
		return nil, failure(StageRender, "", err)
	}
	jobID, err := cfg.Generator.Submit(ctx, job)
	if err != nil {
		return nil, failure(StageSubmit, "", err)
	}
	cfg.Collector.IncJobSubmitted()
	o.logger.Info("job submitted", map[string]any{
		"loop":      counters.Loop,
		"iteration": counters.Iteration,
		"job_id":    jobID,
		"state":     state.String(),
	})

	completion, err := o.awaitCompletion(ctx, jobID)
	if err != nil {
		return nil, failure(StageAwait, jobID, err)
	}

	ref, ok := completion.First()
	if !ok {
		cfg.Collector.IncMissingArtifact()
		return nil, failure(StageFetch, jobID, fmt.Errorf("%w: job finished with status %q (completed=%t) and no images", ErrNoArtifact, completion.Status, completion.Completed))
	}
	image, err := cfg.Generator.FetchArtifact(ctx, ref)
	if err != nil {
		return nil, failure(StageFetch, jobID, err)
	}
	cfg.Collector.AddArtifact(len(image))
	genElapsed := time.Since(genStart)
	cfg.Collector.ObserveGeneration(genElapsed)

	critStart := time.Now()
	cfg.Collector.IncCritiqueRequested()
	req := critique.NewRequest(cfg.DoneToken, state.Prompt, state.NegativePrompt, image, ref.MIMEType())
	reply, err := cfg.Critic.Critique(ctx, req)
	if err != nil {
		cfg.Collector.IncCritiqueFailure()
		return nil, failure(StageCritique, jobID, err)
	}
	critElapsed := time.Since(critStart)
	cfg.Collector.ObserveCritique(critElapsed)

	verdict, err := critique.Parse(reply)
	if err != nil {
		cfg.Collector.IncMalformedCritique()
		return nil, failure(StageParse, jobID, err)
	}
	if critique.MentionsToken(verdict, cfg.DoneToken) != verdict.Done {
		cfg.Collector.IncDoneTokenMismatch()
		o.logger.Warn("done token and done flag disagree", map[string]any{
			"loop":      counters.Loop,
			"iteration": counters.Iteration,
			"done":      verdict.Done,
			"token":     cfg.DoneToken,
			"reason":    verdict.Reason,
		})
	}

	s := &step{done: verdict.Done, reason: verdict.Reason}
	if !verdict.Done {
		s.next = evolve.Apply(state, verdict.Changes)
	}

	snapshot, err := verdict.Pretty()
	if err != nil {
		return nil, failure(StagePersist, jobID, err)
	}
	record := lode.IterationRecord{
		RunID:        cfg.RunMeta.RunID,
		JobID:        jobID,
		Artifact:     ref,
		Critic:       cfg.Critic.Name(),
		State:        state.Clone(),
		Done:         verdict.Done,
		Reason:       verdict.Reason,
		Critique:     string(verdict.Raw),
		Reply:        reply,
		GenerationMs: genElapsed.Milliseconds(),
		CritiqueMs:   critElapsed.Milliseconds(),
	}
	if !verdict.Done {
		next := s.next.Clone()
		record.Next = &next
	}
	files, err := cfg.Store.SaveIteration(ctx, lode.Iteration{
		Counters: counters,
		Image:    image,
		Ext:      ref.Ext(),
		Critique: snapshot,
		Record:   record,
	})
	s.files = files
	if err != nil {
		return s, failure(StagePersist, jobID, err)
	}

	o.logger.Info("iteration complete", map[string]any{
		"loop":        counters.Loop,
		"iteration":   counters.Iteration,
		"job_id":      jobID,
		"done":        verdict.Done,
		"reason":      verdict.Reason,
		"changes":     !verdict.Changes.IsEmpty(),
		"image_bytes": len(image),
	})
	return s, nil
}

// awaitCompletion waits for jobID until PollTimeout elapses. In websocket
// mode it first blocks on completion events; any event failure other than
// the deadline falls back to polling within the same deadline.
func (o *LoopOrchestrator) awaitCompletion(ctx context.Context, jobID string) (*types.Completion, error) {
	cfg := o.config
	deadline := time.Now().Add(cfg.PollTimeout)

	if cfg.WaitMode == WaitWebsocket {
		if waiter, ok := cfg.Generator.(CompletionWaiter); ok {
			waitCtx, cancel := context.WithDeadline(ctx, deadline)
			err := waiter.WaitCompletion(waitCtx, jobID)
			cancel()
			switch {
			case err == nil:
			case ctx.Err() != nil:
				return nil, ctx.Err()
			case errors.Is(err, context.DeadlineExceeded):
				cfg.Collector.IncJobTimeout()
				return nil, fmt.Errorf("%w: job %s not complete after %s", ErrJobTimeout, jobID, cfg.PollTimeout)
			default:
				o.logger.Warn("completion events unavailable, polling", map[string]any{
					"job_id": jobID,
					"error":  err.Error(),
				})
			}
		}
	}

	for time.Now().Before(deadline) {
		cfg.Collector.IncPoll()
		completion, ok, err := cfg.Generator.PollCompletion(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if ok {
			return completion, nil
		}
		if err := sleep(ctx, cfg.PollInterval); err != nil {
			return nil, err
		}
	}

	cfg.Collector.IncJobTimeout()
	return nil, fmt.Errorf("%w: job %s not complete after %s", ErrJobTimeout, jobID, cfg.PollTimeout)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
