// Package orchestrator drives one chat surface: it accepts a query, records
// it, calls the workflow and appends the outcome to the thread that asked.
//
// At most one request is outstanding per Orchestrator. A response is applied
// only if, when it arrives, the request is still the bound in-flight one;
// switching threads or closing the surface abandons it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"concierge/internal/threads"
	"concierge/internal/trace"
	"concierge/internal/workflow"
)

var (
	ErrEmptyQuery = errors.New("query is empty")
	ErrBusy       = errors.New("a request is already in flight")
	ErrNotBound   = errors.New("thread is not the active thread")
	ErrClosed     = errors.New("orchestrator closed")
)

const noResponse = "No response received"

// Transport runs the compliance workflow for one enveloped message.
type Transport interface {
	RunWorkflow(ctx context.Context, message string) (*workflow.Response, error)
}

// Identity is who is asking.
type Identity struct {
	Email string
	Role  string
}

// FormatEnvelope prefixes the query with the caller's identity in the form
// the workflow parses.
func FormatEnvelope(email, role, query string) string {
	return fmt.Sprintf("[user_email=%s; role=%s] %s", email, role, query)
}

// Phase is the request lifecycle state.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
)

// Outcome is how the last resolved request ended.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// Snapshot is a point-in-time copy of the orchestrator state.
type Snapshot struct {
	Phase    Phase
	Outcome  Outcome
	Banner   string
	ThreadID string
}

// Loading reports whether a request is in flight.
func (s Snapshot) Loading() bool {
	return s.Phase == PhaseLoading
}

// Result describes how a request resolved.
type Result struct {
	ThreadID string
	// Discarded is set when the request was abandoned before its response
	// arrived. Nothing was appended.
	Discarded bool
	Message   threads.Message
	Thread    threads.Thread
	Trace     *trace.Trace
	// Err is the transport failure, if any. It is also recorded in the banner.
	Err error
}

// Orchestrator serializes submissions for one chat surface.
type Orchestrator struct {
	repo      *threads.Repository
	transport Transport
	logger    *zap.Logger

	mu       sync.Mutex
	bound    string
	closed   bool
	inflight *Pending
	phase    Phase
	outcome  Outcome
	banner   string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates an idle Orchestrator bound to no thread.
func New(repo *threads.Repository, transport Transport, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repo:      repo,
		transport: transport,
		logger:    zap.NewNop(),
		phase:     PhaseIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("orchestrator")
	return o
}

// Bind makes threadID the active thread. Binding a different thread abandons
// any in-flight request and clears the banner.
func (o *Orchestrator) Bind(threadID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.bound == threadID {
		return
	}
	o.abandonLocked("thread switched")
	o.bound = threadID
	o.banner = ""
}

// Unbind clears the active thread and the banner, abandoning any in-flight
// request.
func (o *Orchestrator) Unbind() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.abandonLocked("thread unbound")
	o.bound = ""
	o.banner = ""
}

// Close tears the orchestrator down. Later submissions fail with ErrClosed.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.abandonLocked("closed")
	o.bound = ""
	o.closed = true
}

func (o *Orchestrator) abandonLocked(reason string) {
	if o.inflight == nil {
		return
	}
	o.logger.Info("request abandoned",
		zap.String("thread_id", o.inflight.threadID),
		zap.String("reason", reason))
	o.inflight.cancel()
	o.inflight = nil
	o.phase = PhaseIdle
}

// Snapshot returns the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{
		Phase:    o.phase,
		Outcome:  o.outcome,
		Banner:   o.banner,
		ThreadID: o.bound,
	}
}

// DismissError clears the banner.
func (o *Orchestrator) DismissError() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.banner = ""
}

// Pending is an accepted request whose response has not been applied yet.
type Pending struct {
	o        *Orchestrator
	ctx      context.Context
	cancel   context.CancelFunc
	threadID string
	envelope string
	identity Identity
	started  atomic.Bool

	userMessage threads.Message
	thread      threads.Thread
}

// ThreadID is the thread the request was submitted to.
func (p *Pending) ThreadID() string { return p.threadID }

// Envelope is the message sent to the workflow.
func (p *Pending) Envelope() string { return p.envelope }

// UserMessage is the message appended when the request was accepted.
func (p *Pending) UserMessage() threads.Message { return p.userMessage }

// Thread is the thread summary after the user message was appended.
func (p *Pending) Thread() threads.Thread { return p.thread }

// Begin validates and accepts a submission: the user message is appended, the
// banner cleared and the phase set to loading. A rejected submission has no
// side effects.
func (o *Orchestrator) Begin(ctx context.Context, threadID, raw string, identity Identity) (*Pending, error) {
	query := strings.TrimSpace(raw)

	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case o.closed:
		return nil, ErrClosed
	case query == "":
		return nil, ErrEmptyQuery
	case o.inflight != nil:
		return nil, ErrBusy
	case threadID == "" || threadID != o.bound:
		return nil, ErrNotBound
	}

	userMessage := threads.Message{
		ID:   o.repo.NewID(),
		Type: threads.MessageUser,
		// The raw text is stored, never the envelope.
		Content: query,
	}
	thread, err := o.repo.AppendMessage(threadID, userMessage, threads.WithIdentity(identity.Email, identity.Role))
	if err != nil {
		return nil, fmt.Errorf("record query: %w", err)
	}
	log := o.repo.LoadMessages(threadID)
	if len(log) > 0 {
		userMessage = log[len(log)-1]
	}

	reqCtx, cancel := context.WithCancel(ctx)
	p := &Pending{
		o:           o,
		ctx:         reqCtx,
		cancel:      cancel,
		threadID:    threadID,
		envelope:    FormatEnvelope(identity.Email, identity.Role, query),
		identity:    identity,
		userMessage: userMessage,
		thread:      thread,
	}
	o.inflight = p
	o.phase = PhaseLoading
	o.banner = ""
	o.logger.Info("request started",
		zap.String("thread_id", threadID),
		zap.String("message_id", userMessage.ID),
		zap.String("role", identity.Role))
	return p, nil
}

// Resolve calls the workflow and applies its outcome. It blocks for the
// duration of the call and may be called from any goroutine. Only the first
// call does anything; later calls report a discarded result.
func (p *Pending) Resolve() Result {
	if !p.started.CompareAndSwap(false, true) {
		return Result{ThreadID: p.threadID, Discarded: true}
	}
	defer p.cancel()

	resp, callErr := p.o.transport.RunWorkflow(p.ctx, p.envelope)
	return p.o.apply(p, resp, callErr)
}

func (o *Orchestrator) apply(p *Pending, resp *workflow.Response, callErr error) Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inflight != p {
		o.logger.Info("stale response discarded", zap.String("thread_id", p.threadID))
		return Result{ThreadID: p.threadID, Discarded: true}
	}
	o.inflight = nil
	o.phase = PhaseIdle

	result := Result{ThreadID: p.threadID}
	var msg threads.Message
	outcome, banner := OutcomeSuccess, ""
	if callErr != nil {
		result.Err = callErr
		outcome, banner = OutcomeError, callErr.Error()
		msg = threads.Message{
			Type:    threads.MessageSystem,
			Content: "Error: " + callErr.Error(),
		}
		o.logger.Warn("workflow call failed", zap.String("thread_id", p.threadID), zap.Error(callErr))
	} else {
		tr := trace.Normalize(resp)
		result.Trace = &tr
		msg = threads.Message{
			Type:             threads.MessageAssistant,
			Content:          assistantContent(tr),
			WorkflowResponse: resp,
			Trace:            &tr,
		}
		o.logger.Info("workflow completed",
			zap.String("thread_id", p.threadID),
			zap.String("status", string(tr.AggregateStatus)),
			zap.Bool("permission_denied", tr.PermissionDenied))
	}

	thread, err := o.repo.AppendMessage(p.threadID, msg, threads.WithIdentity(p.identity.Email, p.identity.Role))
	if errors.Is(err, threads.ErrThreadNotFound) {
		o.logger.Info("thread deleted before response arrived", zap.String("thread_id", p.threadID))
		return Result{ThreadID: p.threadID, Discarded: true}
	}
	if err != nil {
		o.logger.Error("append failed", zap.String("thread_id", p.threadID), zap.Error(err))
		o.outcome = OutcomeError
		o.banner = err.Error()
		if result.Err == nil {
			result.Err = err
		}
		return result
	}
	o.outcome = outcome
	o.banner = banner
	log := o.repo.LoadMessages(p.threadID)
	if len(log) > 0 {
		msg = log[len(log)-1]
	}
	result.Message = msg
	result.Thread = thread
	return result
}

func assistantContent(tr trace.Trace) string {
	if tr.Kind == workflow.KindFailure && tr.Failure != nil {
		return "Error: " + tr.Failure.Error
	}
	if strings.TrimSpace(tr.Answer) == "" {
		return noResponse
	}
	return tr.Answer
}

// Submit is Begin followed by Resolve.
func (o *Orchestrator) Submit(ctx context.Context, threadID, raw string, identity Identity) (Result, error) {
	p, err := o.Begin(ctx, threadID, raw, identity)
	if err != nil {
		return Result{}, err
	}
	return p.Resolve(), nil
}
