// Package session is the shell around the agent loop: it owns the transcript
// the user sees, runs one question at a time and keeps a single capability
// channel alive across questions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"nlsql/agent"
	"nlsql/capability"
	"nlsql/config"
	"nlsql/mcp"
	"nlsql/model"
	"nlsql/rewriter"
	"nlsql/storage"
)

var (
	// ErrBusy is returned by Submit while another question is running.
	ErrBusy = errors.New("a question is already running")

	ErrClosed        = errors.New("session closed")
	ErrEmptyQuestion = errors.New("question must not be empty")
)

// Channel is the capability channel as the shell uses it. *mcp.Channel
// satisfies it.
type Channel interface {
	agent.Invoker
	Broken() bool
	Close(ctx context.Context) error
}

// Opener starts a new channel, including its handshake.
type Opener func(ctx context.Context) (Channel, error)

// StdioOpener opens channels to a capability server subprocess.
func StdioOpener(cfg mcp.ChannelConfig) Opener {
	return func(ctx context.Context) (Channel, error) {
		ch, err := mcp.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}

type Option func(*Shell)

// WithRewriter enables query rewriting before each run.
func WithRewriter(r *rewriter.Rewriter) Option {
	return func(s *Shell) { s.rewriter = r }
}

// WithTableHint appends " in the table <table>" to every question.
func WithTableHint(table string) Option {
	return func(s *Shell) { s.tableHint = table }
}

// WithLoopOptions passes options through to every agent run.
func WithLoopOptions(opts ...agent.Option) Option {
	return func(s *Shell) { s.loopOpts = append(s.loopOpts, opts...) }
}

// WithSteps shows capability calls and results in the transcript.
func WithSteps(show bool) Option {
	return func(s *Shell) { s.showSteps = show }
}

// WithHistory saves the transcript after every question.
func WithHistory(store *storage.HistoryStore, dataset string) Option {
	return func(s *Shell) {
		s.history = store
		s.record.Dataset = dataset
	}
}

// WithTurnHook is called after every turn appended to the transcript, from
// the goroutine running Submit.
func WithTurnHook(fn func(model.Turn)) Option {
	return func(s *Shell) { s.onTurn = fn }
}

// Shell runs questions against the engine and keeps the visible transcript.
type Shell struct {
	id         string
	engine     model.Provider
	open       Opener
	rewriter   *rewriter.Rewriter
	tableHint  string
	loopOpts   []agent.Option
	showSteps  bool
	history    *storage.HistoryStore
	record     storage.Record
	onTurn     func(model.Turn)
	transcript *model.Transcript

	running sync.Mutex

	mu      sync.Mutex
	channel Channel
	schema  string
	closed  bool
}

func New(engine model.Provider, open Opener, opts ...Option) *Shell {
	s := &Shell{
		id:         uuid.Must(uuid.NewV7()).String(),
		engine:     engine,
		open:       open,
		transcript: model.NewTranscript(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.record.ID = s.id
	s.record.Model = engine.GetModel()
	return s
}

func (s *Shell) ID() string { return s.id }

// Transcript returns a copy of the visible transcript.
func (s *Shell) Transcript() []model.Turn {
	return s.transcript.Turns()
}

// Submit runs one question to completion and returns the assistant turn it
// appended. A failed run still appends a turn, with Failed set, and the run
// error is returned alongside it.
func (s *Shell) Submit(ctx context.Context, question string) (model.Turn, error) {
	if !s.running.TryLock() {
		return model.Turn{}, ErrBusy
	}
	defer s.running.Unlock()

	if s.isClosed() {
		return model.Turn{}, ErrClosed
	}

	question = strings.TrimSpace(question)
	if question == "" {
		return model.Turn{}, ErrEmptyQuestion
	}

	s.append(model.Turn{Role: model.RoleUser, Content: question})
	defer s.save()

	query := question
	if s.tableHint != "" {
		query += " in the table " + s.tableHint
	}

	ch, err := s.acquire(ctx)
	if err != nil {
		return s.appendFailure(err, 0), err
	}

	seed := agent.SeedQuery(query, s.rewrite(ctx, ch, query))

	opts := append([]agent.Option{}, s.loopOpts...)
	opts = append(opts, agent.WithTurnHook(s.stepHook))
	loop, err := agent.New(s.engine, ch, opts...)
	if err != nil {
		return s.appendFailure(err, 0), err
	}

	result, err := loop.Run(ctx, seed)
	if err != nil {
		if kind, _ := agent.KindOf(err); kind == agent.KindProtocol {
			s.release(ch)
		}
		return s.appendFailure(err, result.Steps), err
	}

	turn := model.Turn{Role: model.RoleAssistant, Content: result.Answer}
	s.append(turn)
	return turn, nil
}

// rewrite returns a suggested query, or "" when rewriting is off or fails.
// A failed rewrite is not fatal; the loop still gets the question.
func (s *Shell) rewrite(ctx context.Context, ch Channel, query string) string {
	if s.rewriter == nil {
		return ""
	}
	schema, err := s.schemaText(ctx, ch)
	if err != nil {
		logf("schema unavailable, skipping rewrite: %v", err)
		return ""
	}
	sql, err := s.rewriter.Rewrite(ctx, schema, query)
	if err != nil {
		logf("rewrite failed: %v", err)
		return ""
	}
	return sql
}

func (s *Shell) schemaText(ctx context.Context, ch Channel) (string, error) {
	s.mu.Lock()
	cached := s.schema
	s.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	req, err := ch.Catalogue().Request(capability.GetSchema, nil)
	if err != nil {
		return "", err
	}
	result, err := ch.Invoke(ctx, req)
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", errors.New(result.Error)
	}

	s.mu.Lock()
	s.schema = result.Payload
	s.mu.Unlock()
	return result.Payload, nil
}

// acquire returns the live channel, opening a new one if there is none or
// the previous one broke.
func (s *Shell) acquire(ctx context.Context) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.channel != nil && s.channel.Broken() {
		logf("channel broken, reopening")
		_ = s.channel.Close(context.WithoutCancel(ctx))
		s.channel = nil
		s.schema = ""
	}
	if s.channel == nil {
		ch, err := s.open(ctx)
		if err != nil {
			return nil, err
		}
		s.channel = ch
		logf("channel open with %d capabilities", len(ch.Catalogue().Names()))
	}
	return s.channel, nil
}

func (s *Shell) release(ch Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == ch {
		_ = ch.Close(context.Background())
		s.channel = nil
		s.schema = ""
	}
}

// Close releases the channel and its subprocess. A running question fails
// once its channel goes away.
func (s *Shell) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.channel == nil {
		return nil
	}
	err := s.channel.Close(ctx)
	s.channel = nil
	logf("session %s closed", s.id)
	return err
}

func (s *Shell) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// stepHook mirrors capability calls and results into the visible transcript.
func (s *Shell) stepHook(turn model.Turn) {
	if !s.showSteps {
		return
	}
	switch {
	case turn.Role == model.RoleAssistant && turn.Call != nil:
		turn.Content = DescribeCall(*turn.Call)
		s.append(turn)
	case turn.Role == model.RoleCapabilityResult:
		s.append(turn)
	}
}

func (s *Shell) appendFailure(err error, steps int) model.Turn {
	logf("question failed: %v", err)
	turn := model.Turn{Role: model.RoleAssistant, Content: RenderError(err, steps), Failed: true}
	s.append(turn)
	return turn
}

func (s *Shell) append(turn model.Turn) {
	s.transcript.Append(turn)
	if s.onTurn != nil {
		if last, ok := s.transcript.Last(); ok {
			s.onTurn(last)
		}
	}
}

func (s *Shell) save() {
	if s.history == nil {
		return
	}
	turns := s.transcript.Turns()
	s.record.Turns = s.record.Turns[:0]
	for _, turn := range turns {
		s.record.Turns = append(s.record.Turns, storage.HistoryTurn{
			Role:      string(turn.Role),
			Content:   turn.Content,
			Failed:    turn.Failed,
			Timestamp: turn.Timestamp,
		})
	}
	if s.record.Name == "" && len(turns) > 0 {
		s.record.Name = storage.SessionName(turns[0].Content)
	}
	if err := s.history.Save(&s.record); err != nil {
		logf("failed to save session: %v", err)
	}
}

// DescribeCall renders a call as name(arg=value, ...) with sorted keys.
func DescribeCall(call model.ToolCall) string {
	keys := make([]string, 0, len(call.Arguments))
	for k := range call.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		var v string
		switch arg := call.Arguments[k].(type) {
		case string:
			v = strconv.Quote(arg)
		default:
			v = fmt.Sprint(arg)
		}
		parts = append(parts, k+"="+v)
	}
	return fmt.Sprintf("%s(%s)", call.Name, strings.Join(parts, ", "))
}

func logf(format string, args ...any) {
	if config.DebugLog != nil {
		config.DebugLog.Debugf("[Session] "+format, args...)
	}
}
