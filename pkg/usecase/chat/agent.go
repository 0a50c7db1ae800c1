package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/adapter"
	"github.com/m-mizutani/nutriguide/pkg/interfaces"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/tool"
	"github.com/m-mizutani/nutriguide/pkg/utils/logging"
)

const (
	DefaultMaxContextTurns  = 10
	DefaultRoutingTimeout   = 20 * time.Second
	DefaultSynthesisTimeout = 60 * time.Second
)

// State is the phase of a turn
type State string

const (
	StateIdle         State = "idle"
	StateRouting      State = "routing"
	StateExecuting    State = "executing"
	StateSynthesizing State = "synthesizing"
)

// Agent turns utterances into replies: it routes to tools, runs them and synthesizes an answer
type Agent struct {
	gemini   adapter.Gemini
	registry *tool.Registry
	profiles interfaces.ProfileStore
	index    interfaces.NutritionIndex

	history          interfaces.HistoryStore
	maxContextTurns  int
	routingTimeout   time.Duration
	synthesisTimeout time.Duration
	defaultProfile   bool
	now              func() time.Time

	mu       sync.Mutex
	sessions map[model.UserID]*session
}

type session struct {
	mu      sync.Mutex
	memory  *Memory
	unsaved bool

	// refs counts callers between acquire and release; guarded by Agent.mu
	refs int
}

type Option func(*Agent)

// WithHistoryStore persists session turns so that conversations survive restarts
func WithHistoryStore(h interfaces.HistoryStore) Option {
	return func(a *Agent) {
		a.history = h
	}
}

// WithMaxContextTurns sets how many recent turns are sent to the model
func WithMaxContextTurns(n int) Option {
	return func(a *Agent) {
		a.maxContextTurns = n
	}
}

func WithRoutingTimeout(d time.Duration) Option {
	return func(a *Agent) {
		a.routingTimeout = d
	}
}

func WithSynthesisTimeout(d time.Duration) Option {
	return func(a *Agent) {
		a.synthesisTimeout = d
	}
}

// WithCreateDefaultProfile controls whether a user's first turn creates a profile with default
// values. It is enabled by default; disabled, a user without a profile routes with none.
func WithCreateDefaultProfile(enabled bool) Option {
	return func(a *Agent) {
		a.defaultProfile = enabled
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		a.now = now
	}
}

func New(gemini adapter.Gemini, registry *tool.Registry, profiles interfaces.ProfileStore, index interfaces.NutritionIndex, opts ...Option) *Agent {
	a := &Agent{
		gemini:           gemini,
		registry:         registry,
		profiles:         profiles,
		index:            index,
		maxContextTurns:  DefaultMaxContextTurns,
		routingTimeout:   DefaultRoutingTimeout,
		synthesisTimeout: DefaultSynthesisTimeout,
		defaultProfile:   true,
		now:              time.Now,
		sessions:         make(map[model.UserID]*session),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// TurnResult is the full outcome of a turn
type TurnResult struct {
	Reply    string                  `json:"reply"`
	Results  []*model.ToolResult     `json:"results,omitempty"`
	Failures []*model.RoutingFailure `json:"routing_failures,omitempty"`
}

// SendTurn answers one utterance of userID
func (a *Agent) SendTurn(ctx context.Context, userID model.UserID, text string) (string, error) {
	result, err := a.SendTurnDetail(ctx, userID, text)
	if err != nil {
		return "", err
	}
	return result.Reply, nil
}

// SendTurnDetail is SendTurn that also reports tool results and dropped routing decisions.
// Turns of one user are processed one at a time; a failed turn leaves the session unchanged.
func (a *Agent) SendTurnDetail(ctx context.Context, userID model.UserID, text string) (*TurnResult, error) {
	if userID == "" {
		return nil, goerr.Wrap(model.ErrInvalidProfileField, "user id is empty", goerr.V("field", "user_id"))
	}
	utterance := strings.TrimSpace(text)
	if utterance == "" {
		return nil, goerr.Wrap(model.ErrInvalidQuery, "message is empty")
	}

	sess := a.acquire(userID)
	defer a.release(userID, sess)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	ctx = logging.With(ctx, logging.From(ctx).With("user_id", userID))
	logger := logging.From(ctx)

	if err := a.ensureMemory(ctx, userID, sess); err != nil {
		return nil, err
	}

	profile, err := a.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	recent := sess.memory.Recent(a.maxContextTurns)

	logger.Debug("turn state", "state", StateRouting)
	invocations, failures, err := a.route(ctx, profile, recent, utterance)
	if err != nil {
		logger.Debug("turn state", "state", StateIdle)
		return nil, err
	}

	logger.Debug("turn state", "state", StateExecuting, "invocations", len(invocations))
	env := &tool.Env{
		UserID:   userID,
		Profile:  profile,
		Index:    a.index,
		Profiles: a.profiles,
	}
	results := make([]*model.ToolResult, 0, len(invocations))
	for _, inv := range invocations {
		results = append(results, a.registry.Execute(ctx, inv, env))
	}

	logger.Debug("turn state", "state", StateSynthesizing)
	reply, err := a.synthesize(ctx, env.Profile, recent, utterance, results, failures)
	logger.Debug("turn state", "state", StateIdle)
	if err != nil {
		return nil, err
	}

	sess.memory.AppendExchange(utterance, reply, a.now())
	if a.history != nil {
		// The in-memory session stays authoritative when persisting fails
		err := a.history.SaveTurns(ctx, userID, sess.memory.Turns())
		if err != nil {
			logger.Warn("failed to save history", "error", err)
		}
		sess.unsaved = err != nil
	}

	return &TurnResult{Reply: reply, Results: results, Failures: failures}, nil
}

// UpdateProfile merges update into the user's profile
func (a *Agent) UpdateProfile(ctx context.Context, userID model.UserID, update model.ProfileUpdate) error {
	if _, err := a.profiles.Upsert(ctx, userID, update); err != nil {
		return err
	}
	return nil
}

// Profile returns the stored profile of userID
func (a *Agent) Profile(ctx context.Context, userID model.UserID) (*model.Profile, error) {
	return a.profiles.Get(ctx, userID)
}

// Reset ends the session of userID. The persisted history is cleared as well.
func (a *Agent) Reset(ctx context.Context, userID model.UserID) error {
	sess := a.acquire(userID)
	defer a.release(userID, sess)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.memory = NewMemory(nil)
	sess.unsaved = false
	if a.history != nil {
		if err := a.history.SaveTurns(ctx, userID, nil); err != nil {
			return goerr.Wrap(err, "failed to clear history", goerr.V("user_id", userID))
		}
	}
	return nil
}

// Turns returns the conversation of userID
func (a *Agent) Turns(ctx context.Context, userID model.UserID) ([]*model.Turn, error) {
	sess := a.acquire(userID)
	defer a.release(userID, sess)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := a.ensureMemory(ctx, userID, sess); err != nil {
		return nil, err
	}
	return sess.memory.Turns(), nil
}

// acquire returns the session of userID and keeps it registered until release
func (a *Agent) acquire(userID model.UserID) *session {
	a.mu.Lock()
	defer a.mu.Unlock()

	sess, ok := a.sessions[userID]
	if !ok {
		sess = &session{}
		a.sessions[userID] = sess
	}
	sess.refs++
	return sess
}

// release drops the session of userID when no caller holds it and it keeps nothing that
// would be lost: it is empty, or every turn is in the history store.
// The caller must have unlocked sess.mu.
func (a *Agent) release(userID model.UserID, sess *session) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sess.refs--
	if sess.refs > 0 {
		return
	}
	if sess.memory == nil || sess.memory.Len() == 0 || (a.history != nil && !sess.unsaved) {
		delete(a.sessions, userID)
	}
}

// SessionsForTest returns the number of sessions held in memory
func (a *Agent) SessionsForTest() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// ensureMemory loads the persisted history on first use; the caller holds sess.mu
func (a *Agent) ensureMemory(ctx context.Context, userID model.UserID, sess *session) error {
	if sess.memory != nil {
		return nil
	}

	var turns []*model.Turn
	if a.history != nil {
		loaded, err := a.history.LoadTurns(ctx, userID)
		if err != nil {
			return goerr.Wrap(err, "failed to load history", goerr.V("user_id", userID))
		}
		turns = loaded
	}
	sess.memory = NewMemory(turns)
	return nil
}

func (a *Agent) loadProfile(ctx context.Context, userID model.UserID) (*model.Profile, error) {
	profile, err := a.profiles.Get(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, model.ErrProfileNotFound) {
		return nil, goerr.Wrap(err, "failed to load profile", goerr.V("user_id", userID))
	}

	if !a.defaultProfile {
		return nil, nil
	}

	profile, err = a.profiles.Upsert(ctx, userID, model.DefaultProfileUpdate())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create default profile", goerr.V("user_id", userID))
	}
	logging.From(ctx).Info("default profile created")
	return profile, nil
}
