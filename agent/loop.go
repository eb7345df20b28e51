// Package agent implements the reasoning loop that alternates between asking
// the engine for a decision and executing the chosen capability.
//
// A run moves between two working states and ends in one of two terminal
// states:
//
//	awaiting decision -> executing capability -> awaiting decision -> ...
//	awaiting decision -> terminated (answer)
//	any state         -> terminated (error)
//
// Each run has its own transcript, discarded when the run ends.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nlsql/config"
	"nlsql/mcp"
	"nlsql/model"
)

// State is the position of a run in the loop.
type State string

const (
	StateAwaitingDecision    State = "awaiting-decision"
	StateExecutingCapability State = "executing-capability"
	StateAnswered            State = "terminated-answer"
	StateFailed              State = "terminated-error"
)

// Invoker is the capability channel as seen by the loop.
type Invoker interface {
	Catalogue() *mcp.Catalogue
	Invoke(ctx context.Context, req mcp.InvocationRequest) (mcp.InvocationResult, error)
}

// Result holds the outcome of a run. It is returned alongside errors too, so
// callers can see how far the run got.
type Result struct {
	RunID       string
	Answer      string
	Steps       int
	State       State
	Turns       []model.Turn
	Invocations []InvocationRecord
}

type InvocationRecord struct {
	Step    int
	Request mcp.InvocationRequest
	Result  mcp.InvocationResult
	Err     error // invalid-params rejection, if any
}

// Option configures a Loop.
type Option func(*Loop)

// WithMaxSteps bounds the number of engine decisions per run. Required.
func WithMaxSteps(n int) Option {
	return func(l *Loop) { l.maxSteps = n }
}

// WithDecisionTimeout bounds each engine call.
func WithDecisionTimeout(d time.Duration) Option {
	return func(l *Loop) { l.decisionTimeout = d }
}

// WithTurnHook is called after every turn appended to a run's transcript.
func WithTurnHook(fn func(model.Turn)) Option {
	return func(l *Loop) { l.onTurn = fn }
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(l *Loop) { l.logger = logger }
}

// Loop drives runs against one engine and one capability channel. A Loop
// performs one run at a time; callers serialize Run.
type Loop struct {
	engine          model.Provider
	invoker         Invoker
	maxSteps        int
	decisionTimeout time.Duration
	onTurn          func(model.Turn)
	logger          *zap.SugaredLogger
}

func New(engine model.Provider, invoker Invoker, opts ...Option) (*Loop, error) {
	l := &Loop{
		engine:  engine,
		invoker: invoker,
		logger:  config.DebugLog,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.maxSteps <= 0 {
		return nil, ErrNoStepLimit
	}
	if l.logger == nil {
		l.logger = zap.NewNop().Sugar()
	}
	return l, nil
}

type run struct {
	*Loop
	result     *Result
	transcript *model.Transcript
	catalogue  *mcp.Catalogue
	log        *zap.SugaredLogger
}

// Run answers query. On failure the error is a *RunError and the returned
// Result still carries the transcript built so far.
func (l *Loop) Run(ctx context.Context, query string) (*Result, error) {
	r := &run{
		Loop:       l,
		result:     &Result{RunID: uuid.NewString(), State: StateAwaitingDecision},
		transcript: model.NewTranscript(),
		catalogue:  l.invoker.Catalogue(),
	}
	r.log = l.logger.With("run", r.result.RunID)

	r.append(model.Turn{Role: model.RoleSystem, Content: SystemInstruction(r.catalogue)})
	r.append(model.Turn{Role: model.RoleUser, Content: query})
	r.log.Infof("[Agent] Run started, max %d steps", l.maxSteps)

	for step := 1; step <= l.maxSteps; step++ {
		r.result.Steps = step
		r.transition(StateAwaitingDecision)

		decision, err := r.decide(ctx)
		if err != nil {
			return r.fail(step, err)
		}

		if decision.Call == nil {
			r.append(model.Turn{Role: model.RoleAssistant, Content: decision.Answer})
			r.result.Answer = decision.Answer
			r.transition(StateAnswered)
			r.log.Infof("[Agent] Answered after %d step(s)", step)
			return r.finish(), nil
		}

		r.append(model.Turn{Role: model.RoleAssistant, Call: decision.Call})
		if step == l.maxSteps {
			// No step is left to hand the result back to the engine.
			r.log.Debugf("[Agent] Not running %s on the last step", decision.Call.Name)
			break
		}
		r.transition(StateExecutingCapability)
		if err := r.execute(ctx, step, decision.Call); err != nil {
			return r.fail(step, err)
		}
	}

	r.log.Warnf("[Agent] Step limit %d reached", l.maxSteps)
	return r.fail(l.maxSteps, &RunError{Kind: KindStepLimit, Err: fmt.Errorf("%w after %d steps", ErrStepLimit, l.maxSteps)})
}

// decide asks the engine for the next step.
func (r *run) decide(ctx context.Context) (Decision, error) {
	dctx := ctx
	if r.decisionTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, r.decisionTimeout)
		defer cancel()
	}

	var content string
	var calls []model.ToolCall
	err := r.engine.ChatWithTools(dctx, r.transcript.Turns(), r.catalogue.Tools(), func(chunk string, toolCalls []model.ToolCall) error {
		content += chunk
		calls = append(calls, toolCalls...)
		return nil
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return Decision{}, &RunError{Kind: KindCancelled, Err: ctx.Err()}
	case err != nil && errors.Is(dctx.Err(), context.DeadlineExceeded):
		return Decision{}, &RunError{Kind: KindEngine, Err: fmt.Errorf("engine did not decide within %s: %w", r.decisionTimeout, err)}
	case err != nil:
		return Decision{}, &RunError{Kind: KindEngine, Err: fmt.Errorf("engine call failed: %w", err)}
	}

	if len(calls) > 1 {
		r.log.Debugf("[Agent] Engine returned %d calls, taking the first", len(calls))
	}
	decision, err := parseDecision(content, calls, r.catalogue)
	if err != nil {
		r.log.Debugf("[Agent] Unparsable reply: %q", content)
		return Decision{}, &RunError{Kind: KindParse, Err: err}
	}
	return decision, nil
}

// execute runs one capability and appends its result. Invalid parameters are
// fed back to the engine as a failed result; protocol errors end the run.
func (r *run) execute(ctx context.Context, step int, call *model.ToolCall) error {
	record := InvocationRecord{Step: step}

	req, err := r.catalogue.Request(call.Name, call.Arguments)
	if err == nil {
		record.Request = req
		r.log.Debugf("[Agent] Step %d invoking %s", step, req.Capability)
		record.Result, err = r.invoker.Invoke(ctx, req)
	}

	var invalid *mcp.InvalidParamsError
	switch {
	case errors.As(err, &invalid):
		record.Err = err
		r.result.Invocations = append(r.result.Invocations, record)
		r.append(model.Turn{Role: model.RoleCapabilityResult, Content: err.Error(), Failed: true})
		return nil

	case errors.Is(err, mcp.ErrProtocol):
		return &RunError{Kind: KindProtocol, Err: err}

	case err != nil && ctx.Err() != nil:
		return &RunError{Kind: KindCancelled, Err: err}

	case err != nil:
		return &RunError{Kind: KindProtocol, Err: err}
	}

	r.result.Invocations = append(r.result.Invocations, record)
	r.append(model.Turn{
		Role:    model.RoleCapabilityResult,
		Content: record.Result.Payload,
		Failed:  !record.Result.Success,
	})
	return nil
}

func (r *run) append(turn model.Turn) {
	r.transcript.Append(turn)
	if r.onTurn == nil {
		return
	}
	if appended, ok := r.transcript.Last(); ok {
		r.onTurn(appended)
	}
}

func (r *run) transition(next State) {
	if r.result.State != next {
		r.log.Debugf("[Agent] %s -> %s", r.result.State, next)
	}
	r.result.State = next
}

func (r *run) finish() *Result {
	r.result.Turns = r.transcript.Turns()
	return r.result
}

func (r *run) fail(step int, err error) (*Result, error) {
	var runErr *RunError
	if !errors.As(err, &runErr) {
		runErr = &RunError{Kind: KindProtocol, Err: err}
	}
	runErr.Step = step
	r.transition(StateFailed)
	r.log.Infof("[Agent] Run failed: %v", runErr)
	return r.finish(), runErr
}
