package threads

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"concierge/internal/kvstore"
)

const (
	indexKey          = "chat_threads"
	messagesKeyPrefix = "messages_"
)

var (
	ErrThreadNotFound = errors.New("thread not found")
	ErrEmptyTitle     = errors.New("thread title is empty")
)

func messagesKey(threadID string) string {
	return messagesKeyPrefix + threadID
}

// Repository is the single writer of thread logs and the thread index. Every
// operation is a read-modify-write under one mutex, so the sidebar and the
// active conversation can share a Repository safely.
type Repository struct {
	store  *kvstore.Store
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	mu sync.Mutex
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithIDGenerator overrides identifier generation.
func WithIDGenerator(newID func() string) Option {
	return func(r *Repository) { r.newID = newID }
}

// NewRepository creates a Repository on top of store.
func NewRepository(store *kvstore.Store, opts ...Option) *Repository {
	r := &Repository{
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("threads")
	return r
}

// NewID returns a fresh identifier from the repository's generator.
func (r *Repository) NewID() string {
	return r.newID()
}

func (r *Repository) loadIndex() []Thread {
	var index []Thread
	if !r.store.Get(indexKey, &index) {
		return []Thread{}
	}
	return index
}

func (r *Repository) loadLog(threadID string) []Message {
	var log []Message
	if !r.store.Get(messagesKey(threadID), &log) {
		return []Message{}
	}
	return log
}

func indexOf(index []Thread, id string) int {
	for i, thread := range index {
		if thread.ID == id {
			return i
		}
	}
	return -1
}

// CreateThread inserts an empty thread at the head of the index.
func (r *Repository) CreateThread(defaults Defaults) (Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	thread := Thread{
		ID:        r.newID(),
		Title:     strings.TrimSpace(defaults.Title),
		Timestamp: r.now().UTC(),
		UserRole:  strings.TrimSpace(defaults.UserRole),
		UserEmail: strings.TrimSpace(defaults.UserEmail),
	}
	if thread.Title == "" {
		thread.Title = DefaultTitle
	}
	if thread.UserRole == "" {
		thread.UserRole = defaultUserRole
	}
	if thread.UserEmail == "" {
		thread.UserEmail = defaultUserEmail
	}

	index := r.loadIndex()
	index = append([]Thread{thread}, index...)
	if err := r.store.Set(indexKey, index); err != nil {
		return Thread{}, fmt.Errorf("create thread: %w", err)
	}
	r.logger.Info("thread created", zap.String("thread_id", thread.ID))
	return thread, nil
}

// DeleteResult reports what DeleteThread did.
type DeleteResult struct {
	Removed bool
	// ClearActive is set when the deleted thread was the caller's active one.
	ClearActive bool
}

// DeleteThread removes the thread's log and index entry. activeID is the
// caller's active thread; the result says whether that reference must be
// cleared. Deleting an unknown thread still removes any orphaned log.
func (r *Repository) DeleteThread(id, activeID string) (DeleteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := DeleteResult{ClearActive: id != "" && id == activeID}
	if err := r.store.Delete(messagesKey(id)); err != nil {
		return DeleteResult{}, fmt.Errorf("delete thread %s: %w", id, err)
	}

	index := r.loadIndex()
	pos := indexOf(index, id)
	if pos >= 0 {
		index = append(index[:pos], index[pos+1:]...)
		if err := r.store.Set(indexKey, index); err != nil {
			return DeleteResult{}, fmt.Errorf("delete thread %s: %w", id, err)
		}
		result.Removed = true
	}
	r.logger.Info("thread deleted", zap.String("thread_id", id), zap.Bool("removed", result.Removed))
	return result, nil
}

// RenameThread changes the title of a thread. The message log is not read or
// written.
func (r *Repository) RenameThread(id, title string) (Thread, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Thread{}, ErrEmptyTitle
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	index := r.loadIndex()
	pos := indexOf(index, id)
	if pos < 0 {
		return Thread{}, fmt.Errorf("rename %s: %w", id, ErrThreadNotFound)
	}
	index[pos].Title = title
	if err := r.store.Set(indexKey, index); err != nil {
		return Thread{}, fmt.Errorf("rename %s: %w", id, err)
	}
	return index[pos], nil
}

type appendConfig struct {
	email string
	role  string
}

// AppendOption adjusts how AppendMessage updates the index entry.
type AppendOption func(*appendConfig)

// WithIdentity records who was speaking in the thread summary.
func WithIdentity(email, role string) AppendOption {
	return func(c *appendConfig) {
		c.email = strings.TrimSpace(email)
		c.role = strings.TrimSpace(role)
	}
}

// AppendMessage appends msg to the thread's log and recomputes the thread's
// index entry from the new log. It is the only way a log grows. A missing ID
// or timestamp is filled in. The returned Thread is the updated summary.
func (r *Repository) AppendMessage(threadID string, msg Message, opts ...AppendOption) (Thread, error) {
	cfg := appendConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	index := r.loadIndex()
	pos := indexOf(index, threadID)
	if pos < 0 {
		return Thread{}, fmt.Errorf("append to %s: %w", threadID, ErrThreadNotFound)
	}

	if msg.ID == "" {
		msg.ID = r.newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.now().UTC()
	}

	previous := r.loadLog(threadID)
	log := make([]Message, 0, len(previous)+1)
	log = append(log, previous...)
	log = append(log, msg)
	if err := r.store.Set(messagesKey(threadID), log); err != nil {
		return Thread{}, fmt.Errorf("append to %s: %w", threadID, err)
	}

	entry := summarize(index[pos], log, r.now().UTC(), cfg)
	index[pos] = entry
	if err := r.store.Set(indexKey, index); err != nil {
		// Keep the index and the log in agreement.
		if restoreErr := r.store.Set(messagesKey(threadID), previous); restoreErr != nil {
			r.logger.Error("log restore failed", zap.String("thread_id", threadID), zap.Error(restoreErr))
		}
		return Thread{}, fmt.Errorf("append to %s: %w", threadID, err)
	}

	r.logger.Debug("message appended",
		zap.String("thread_id", threadID),
		zap.String("message_id", msg.ID),
		zap.String("type", string(msg.Type)),
		zap.Int("message_count", entry.MessageCount))
	return entry, nil
}

func summarize(entry Thread, log []Message, now time.Time, cfg appendConfig) Thread {
	entry.MessageCount = len(log)
	if len(log) > 0 {
		entry.LastMessage = log[len(log)-1].Content
		if entry.Title == "" || entry.Title == DefaultTitle {
			entry.Title = DeriveTitle(log[0].Content)
		}
	} else {
		entry.LastMessage = ""
	}
	entry.Timestamp = now
	if cfg.email != "" {
		entry.UserEmail = cfg.email
	}
	if cfg.role != "" {
		entry.UserRole = cfg.role
	}
	return entry
}

// LoadMessages returns the thread's log, or an empty slice.
func (r *Repository) LoadMessages(threadID string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLog(threadID)
}

// ListThreads returns the thread index, most recently created first.
func (r *Repository) ListThreads() []Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadIndex()
}

// Get returns the index entry for id.
func (r *Repository) Get(id string) (Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	index := r.loadIndex()
	pos := indexOf(index, id)
	if pos < 0 {
		return Thread{}, false
	}
	return index[pos], true
}
