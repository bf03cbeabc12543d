// Package orchestrator ties the engine together into one end-to-end
// execution: validate the logic specification, authenticate when
// required, then drive the action log through the replay pipeline with
// rule and loop semantics applied around it.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/getvergo/autoflow/pkg/browser"
	"github.com/getvergo/autoflow/pkg/contracts"
	"github.com/getvergo/autoflow/pkg/observability"
	"github.com/getvergo/autoflow/pkg/replay"
	"github.com/getvergo/autoflow/pkg/rules"
	"github.com/getvergo/autoflow/pkg/session"
)

// RunStore persists run records. Saving is an upsert keyed by run id;
// the orchestrator saves at every state transition so an observer never
// sees a stale terminal state.
type RunStore interface {
	SaveRun(ctx context.Context, rec *contracts.RunRecord) error
}

// RunRequest is everything one run needs beyond the live page.
type RunRequest struct {
	WorkflowID      string
	Spec            *rules.Spec
	Inputs          map[string]any
	Credentials     session.Credentials
	ContinueOnError bool
}

// Orchestrator executes runs. One orchestrator serves many runs; each
// run owns its page handle for the duration.
type Orchestrator struct {
	engine    *replay.Engine
	store     RunStore
	telemetry *observability.Provider
	logger    *slog.Logger
	clock     func() time.Time
	sleep     func(context.Context, time.Duration) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRunStore persists run records and logs as the run progresses.
func WithRunStore(s RunStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithTelemetry records run and step metrics and opens a span per run.
func WithTelemetry(p *observability.Provider) Option {
	return func(o *Orchestrator) { o.telemetry = p }
}

// WithClock overrides the time source, for tests. Rule-driven waits
// become no-ops under a fixed clock.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		o.clock = clock
		o.sleep = func(context.Context, time.Duration) error { return nil }
	}
}

// New builds an orchestrator around a replay engine.
func New(engine *replay.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine: engine,
		logger: slog.Default().With("component", "orchestrator"),
		clock:  time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
	for _, op := range opts {
		op(o)
	}
	return o
}

// run carries the mutable state of one execution.
type run struct {
	record    *contracts.RunRecord
	sess      *replay.Session
	evaluator *rules.Evaluator
	bindings  map[string]any
	stepIndex int
}

// Run executes the specification end to end. The returned record is
// terminal; the replay session carries per-step detail and selector
// repairs for persistence.
func (o *Orchestrator) Run(ctx context.Context, page browser.Page, req RunRequest) (*contracts.RunRecord, *replay.Session, error) {
	if o.telemetry == nil {
		return o.doRun(ctx, page, req)
	}
	ctx, finish := o.telemetry.TrackOperation(ctx, "orchestrator.run")
	record, sess, err := o.doRun(ctx, page, req)
	finish(err)
	if record != nil && record.FinishedAt != nil {
		o.telemetry.RecordRun(ctx, req.WorkflowID, string(record.Status), record.FinishedAt.Sub(record.StartedAt))
	}
	return record, sess, err
}

func (o *Orchestrator) doRun(ctx context.Context, page browser.Page, req RunRequest) (*contracts.RunRecord, *replay.Session, error) {
	record := &contracts.RunRecord{
		RunID:      "run-" + uuid.NewString(),
		WorkflowID: req.WorkflowID,
		Status:     contracts.RunPending,
		StartedAt:  o.clock(),
	}
	o.persist(ctx, record)

	if req.Spec == nil {
		return o.fail(ctx, record, nil, "no specification supplied")
	}
	if errs := rules.ValidateSpec(req.Spec); len(errs) > 0 {
		for _, e := range errs {
			o.log(record, contracts.LevelError, e, nil)
		}
		return o.fail(ctx, record, nil, fmt.Sprintf("specification rejected: %s", errs[0]))
	}

	evaluator, err := rules.NewEvaluator(req.Spec)
	if err != nil {
		return o.fail(ctx, record, nil, fmt.Sprintf("rule evaluator unavailable: %v", err))
	}

	r := &run{
		record:    record,
		sess:      o.engine.NewSession(),
		evaluator: evaluator,
		bindings:  req.Spec.Bindings(req.Inputs),
	}

	opts := replay.Options{
		Settings:        req.Spec.Settings,
		ContinueOnError: req.ContinueOnError,
	}

	if req.Spec.RequireLogin {
		o.log(record, contracts.LevelInfo, "authenticating before first action", nil)
		if err := o.engine.Login(ctx, page, req.Credentials); err != nil {
			return o.fail(ctx, record, r, fmt.Sprintf("authentication failed: %v", err))
		}
	}

	record.Status = contracts.RunRunning
	o.persist(ctx, record)

	if err := o.execute(ctx, page, req.Spec, opts, r); err != nil {
		return o.fail(ctx, record, r, err.Error())
	}

	record.Status = contracts.RunSuccess
	now := o.clock()
	record.FinishedAt = &now
	r.sess.FinishedAt = now
	r.sess.Completed = true
	o.persist(ctx, record)
	return record, r.sess, nil
}

// execute iterates the action log in recorded order. Actions owned by a
// loop run at the position of the loop's first member, once per element
// of the loop's array variable, with the iterator bound for rule
// evaluation and placeholder expansion.
func (o *Orchestrator) execute(ctx context.Context, page browser.Page, spec *rules.Spec, opts replay.Options, r *run) error {
	looped := make(map[string]*rules.Loop)
	firstOf := make(map[string]string)
	for i := range spec.Loops {
		l := &spec.Loops[i]
		for j, id := range l.Actions {
			looped[id] = l
			if j == 0 {
				firstOf[id] = l.ID
			}
		}
	}

	byID := make(map[string]*contracts.Action, len(spec.Actions))
	for i := range spec.Actions {
		byID[spec.Actions[i].ID] = &spec.Actions[i]
	}

	ordered := sortedRules(spec.Rules)

	for i := range spec.Actions {
		action := &spec.Actions[i]
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("canceled before action %s: %w", action.ID, err)
		}

		loop, inLoop := looped[action.ID]
		if inLoop {
			if firstOf[action.ID] == "" {
				continue // runs as part of its loop
			}
			if err := o.executeLoop(ctx, page, loop, byID, ordered, opts, r); err != nil {
				return err
			}
			continue
		}

		if err := o.executeStep(ctx, page, action, ordered, opts, r, r.bindings); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) executeLoop(ctx context.Context, page browser.Page, loop *rules.Loop, byID map[string]*contracts.Action, ordered []rules.Rule, opts replay.Options, r *run) error {
	elements, ok := asSlice(r.bindings[loop.Variable])
	if !ok {
		return fmt.Errorf("loop %s: binding %q is not an array", loop.ID, loop.Variable)
	}
	o.log(r.record, contracts.LevelInfo,
		fmt.Sprintf("loop %s over %s: %d iterations", loop.ID, loop.Variable, len(elements)), nil)

	for iter, element := range elements {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("canceled in loop %s: %w", loop.ID, err)
		}
		bindings := make(map[string]any, len(r.bindings)+1)
		for k, v := range r.bindings {
			bindings[k] = v
		}
		bindings[loop.Iterator] = element

		for _, id := range loop.Actions {
			action, present := byID[id]
			if !present {
				return fmt.Errorf("loop %s references unknown action %s", loop.ID, id)
			}
			step := expand(*action, bindings)
			step.ID = fmt.Sprintf("%s#%d", action.ID, iter)
			if err := o.executeStep(ctx, page, &step, ordered, opts, r, bindings); err != nil {
				return err
			}
		}
	}
	return nil
}

// executeStep applies the first matching rule, then runs the action
// through the replay pipeline.
func (o *Orchestrator) executeStep(ctx context.Context, page browser.Page, action *contracts.Action, ordered []rules.Rule, opts replay.Options, r *run, bindings map[string]any) error {
	index := r.stepIndex
	r.stepIndex++

	directive := o.applyRules(r, ordered, bindings)
	switch directive.kind {
	case directiveSkip:
		o.log(r.record, contracts.LevelInfo,
			fmt.Sprintf("step skipped by rule %s", directive.ruleID), &index)
		r.sess.Steps = append(r.sess.Steps, contracts.StepResult{
			Index:    index,
			ActionID: action.ID,
			Status:   contracts.StepSkipped,
		})
		if o.telemetry != nil {
			o.telemetry.RecordStep(ctx, string(action.Type), string(contracts.StepSkipped))
		}
		return nil
	case directiveWait:
		o.log(r.record, contracts.LevelInfo,
			fmt.Sprintf("rule %s delays step by %s", directive.ruleID, directive.delay), &index)
		if err := o.sleep(ctx, directive.delay); err != nil {
			return err
		}
	case directiveRetry:
		opts.Settings.RetryAttempts = directive.attempts
	}

	result, abort := o.engine.ExecuteStep(ctx, page, index, action, opts, r.sess)
	r.sess.Steps = append(r.sess.Steps, result)
	if o.telemetry != nil {
		o.telemetry.RecordStep(ctx, string(action.Type), string(result.Status))
	}

	switch {
	case abort != nil:
		o.log(r.record, contracts.LevelError, abort.Error(), &index)
		return abort
	case result.Status == contracts.StepFailed:
		o.log(r.record, contracts.LevelWarn,
			fmt.Sprintf("step failed and was tolerated: %s", result.Error), &index)
	case result.Status == contracts.StepRepaired:
		o.log(r.record, contracts.LevelWarn,
			fmt.Sprintf("selector repaired to %s", result.RepairedSelector), &index)
	default:
		o.log(r.record, contracts.LevelInfo, "step succeeded", &index)
	}
	return nil
}

type directiveKind int

const (
	directiveExecute directiveKind = iota
	directiveSkip
	directiveWait
	directiveRetry
)

type directive struct {
	kind     directiveKind
	ruleID   string
	delay    time.Duration
	attempts int
}

// applyRules evaluates rules highest priority first and returns the
// first directive that holds. An evaluation error disables that rule
// for the step rather than failing the run.
func (o *Orchestrator) applyRules(r *run, ordered []rules.Rule, bindings map[string]any) directive {
	for _, rule := range ordered {
		held, err := r.evaluator.Evaluate(rule, bindings)
		if err != nil {
			o.log(r.record, contracts.LevelWarn,
				fmt.Sprintf("rule %s not evaluable: %v", rule.ID, err), nil)
			continue
		}
		if !held {
			continue
		}
		switch rule.Action.Type {
		case rules.ActSkip, rules.ActSkipEmpty:
			return directive{kind: directiveSkip, ruleID: rule.ID}
		case rules.ActWait:
			return directive{kind: directiveWait, ruleID: rule.ID, delay: waitDelay(rule.Action.Params)}
		case rules.ActRetry:
			return directive{kind: directiveRetry, ruleID: rule.ID, attempts: retryAttempts(rule.Action.Params)}
		case rules.ActExecute:
			return directive{kind: directiveExecute, ruleID: rule.ID}
		}
	}
	return directive{kind: directiveExecute}
}

func waitDelay(params map[string]any) time.Duration {
	if s, ok := asNumber(params["seconds"]); ok && s > 0 {
		return time.Duration(s * float64(time.Second))
	}
	return time.Second
}

func retryAttempts(params map[string]any) int {
	if n, ok := asNumber(params["attempts"]); ok && n >= 1 {
		return int(n)
	}
	return contracts.DefaultSettings().RetryAttempts
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case nil:
		return nil, false
	}
	return nil, false
}

// sortedRules orders rules highest priority first, stable on id so
// equal priorities evaluate deterministically.
func sortedRules(rs []rules.Rule) []rules.Rule {
	out := append([]rules.Rule(nil), rs...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (o *Orchestrator) fail(ctx context.Context, record *contracts.RunRecord, r *run, cause string) (*contracts.RunRecord, *replay.Session, error) {
	record.Status = contracts.RunFailed
	record.Error = cause
	now := o.clock()
	record.FinishedAt = &now
	var sess *replay.Session
	if r != nil {
		r.sess.FinishedAt = now
		r.sess.AbortReason = cause
		sess = r.sess
	}
	o.persist(ctx, record)
	return record, sess, fmt.Errorf("run %s failed: %s", record.RunID, cause)
}

func (o *Orchestrator) log(record *contracts.RunRecord, level contracts.LogLevel, msg string, stepIndex *int) {
	record.Logs = append(record.Logs, contracts.RunLog{
		Seq:       len(record.Logs),
		Level:     level,
		Message:   msg,
		StepIndex: stepIndex,
		At:        o.clock(),
	})
	switch level {
	case contracts.LevelError:
		o.logger.Error(msg, "run", record.RunID)
	case contracts.LevelWarn:
		o.logger.Warn(msg, "run", record.RunID)
	default:
		o.logger.Info(msg, "run", record.RunID)
	}
}

func (o *Orchestrator) persist(ctx context.Context, record *contracts.RunRecord) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveRun(ctx, record); err != nil {
		o.logger.Error("run record not persisted", "run", record.RunID, "error", err)
	}
}
