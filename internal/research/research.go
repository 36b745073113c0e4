// Package research orchestrates one question end to end: plan, reasoning run,
// citations and persistence of the chat session.
package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/researcher/internal/agent"
	"github.com/mohammad-safakhou/researcher/internal/citation"
	"github.com/mohammad-safakhou/researcher/internal/documents"
	"github.com/mohammad-safakhou/researcher/internal/telemetry"
	"github.com/mohammad-safakhou/researcher/provider"
	"github.com/mohammad-safakhou/researcher/session"
	"github.com/mohammad-safakhou/researcher/session/index"
	"github.com/mohammad-safakhou/researcher/session/session_models"
	"go.uber.org/zap"
)

type Options struct {
	MaxIterations int
	CacheCapacity int
	ResultCount   int
	Logger        *zap.Logger
	Metrics       *telemetry.Metrics
}

// Answer is the outcome of one reasoning run.
type Answer struct {
	Answer     string           `json:"answer"`
	Sources    []string         `json:"sources"`
	BestEffort bool             `json:"best_effort"`
	Iterations int              `json:"iterations"`
	History    []agent.ChatTurn `json:"-"`
}

// AskResult adds the display plan to an Answer. PlanError is set instead of
// Plan when planning failed; the run still happens.
type AskResult struct {
	SessionID string   `json:"session_id"`
	Plan      []string `json:"plan"`
	PlanError string   `json:"plan_error,omitempty"`
	Answer
}

type Service struct {
	planner *agent.Planner
	cache   *agent.Cache
	store   session.Store
	history *index.HistoryIndex
	logger  *zap.Logger

	locks sync.Map // session id -> *sync.Mutex
}

// New wires the service. history may be nil to disable history search.
func New(model provider.Provider, searcher agent.Searcher, store session.Store, history *index.HistoryIndex, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		planner: agent.NewPlanner(model, logger.Named("planner"), opts.Metrics),
		store:   store,
		history: history,
		logger:  logger.Named("research"),
	}
	agentLogger := logger.Named("agent")
	cacheLogger := logger.Named("cache")
	s.cache = agent.NewCache(func(key string, docs documents.Set) (*agent.Session, error) {
		reg := agent.NewRegistry(searcher, documents.NewIndex(docs.Clone()), opts.ResultCount)
		return agent.NewSession(key, model, reg, agent.SessionOptions{
			MaxIterations: opts.MaxIterations,
			Logger:        agentLogger,
			Metrics:       opts.Metrics,
		}), nil
	}, agent.CacheOptions{
		Capacity: opts.CacheCapacity,
		Metrics:  opts.Metrics,
		OnCreate: func(sess *agent.Session) {
			cacheLogger.Debug("agent session created", zap.String("key", sess.Key()))
		},
		OnEvict: func(sess *agent.Session) {
			cacheLogger.Debug("agent session released", zap.String("key", sess.Key()))
		},
	})
	return s
}

// Plan returns the display plan for question.
func (s *Service) Plan(ctx context.Context, question string, docs []string) ([]string, error) {
	return s.planner.Generate(ctx, question, docs)
}

// Run answers question against st and records the exchange in st.History.
// st is left untouched on failure.
func (s *Service) Run(ctx context.Context, question string, st *session_models.State) (Answer, error) {
	if st == nil {
		st = &session_models.State{}
	}
	sess, err := s.cache.GetOrCreate(st.Documents)
	if err != nil {
		return Answer{}, err
	}
	res, err := sess.Resume(ctx, st.History, question)
	if err != nil {
		return Answer{}, err
	}
	st.History = res.History
	return Answer{
		Answer:     res.Answer,
		Sources:    citation.Extract(res.Answer),
		BestEffort: res.BestEffort,
		Iterations: res.Iterations,
		History:    res.History,
	}, nil
}

// Ask loads the chat session, plans, runs and saves. An empty sessionID starts
// a new session.
func (s *Service) Ask(ctx context.Context, sessionID, question string) (AskResult, error) {
	if strings.TrimSpace(question) == "" {
		return AskResult{}, &agent.AgentExecutionError{Err: agent.ErrEmptyQuestion}
	}
	if sessionID == "" {
		sessionID = session.NewID()
	}
	if err := session_models.ValidateID(sessionID); err != nil {
		return AskResult{}, err
	}
	unlock := s.lock(sessionID)
	defer unlock()

	st, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return AskResult{}, err
	}

	out := AskResult{SessionID: sessionID}
	plan, err := s.Plan(ctx, question, st.Documents.Names())
	if err != nil {
		var pe *agent.PlanGenerationError
		if !errors.As(err, &pe) {
			return AskResult{}, err
		}
		out.PlanError = err.Error()
	}
	out.Plan = plan

	ans, err := s.Run(ctx, question, &st)
	if err != nil {
		return AskResult{}, err
	}
	out.Answer = ans

	st.UpdatedAt = time.Now().UTC()
	if err := s.store.Save(ctx, sessionID, st); err != nil {
		return AskResult{}, fmt.Errorf("save session %s: %w", sessionID, err)
	}
	s.indexHistory(sessionID, st.History)
	s.logger.Info("question answered",
		zap.String("session_id", sessionID),
		zap.Int("plan_steps", len(plan)),
		zap.Int("sources", len(ans.Sources)),
		zap.Bool("best_effort", ans.BestEffort),
	)
	return out, nil
}

// AddDocuments merges docs into the chat session. Documents replacing an
// existing name invalidate the cached agent for the resulting name set.
func (s *Service) AddDocuments(ctx context.Context, sessionID string, docs documents.Set) ([]string, error) {
	if err := session_models.ValidateID(sessionID); err != nil {
		return nil, err
	}
	unlock := s.lock(sessionID)
	defer unlock()

	st, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if st.Documents == nil {
		st.Documents = documents.Set{}
	}
	previous := st.Documents.Clone()
	replaced := st.Documents.Merge(docs)
	if len(replaced) > 0 {
		// the new content has its own key; drop the superseded agent
		s.cache.Invalidate(previous)
	}
	st.UpdatedAt = time.Now().UTC()
	if err := s.store.Save(ctx, sessionID, st); err != nil {
		return nil, fmt.Errorf("save session %s: %w", sessionID, err)
	}
	s.logger.Info("documents added",
		zap.String("session_id", sessionID),
		zap.Strings("names", docs.Names()),
		zap.Strings("replaced", replaced),
	)
	return replaced, nil
}

// CreateSession stores an empty chat session and returns its id.
func (s *Service) CreateSession(ctx context.Context) (string, error) {
	id := session.NewID()
	if err := s.store.Save(ctx, id, session_models.State{UpdatedAt: time.Now().UTC()}); err != nil {
		return "", err
	}
	return id, nil
}

// Session returns the stored state of a chat session.
func (s *Service) Session(ctx context.Context, sessionID string) (session_models.State, error) {
	return s.store.Load(ctx, sessionID)
}

func (s *Service) Sessions(ctx context.Context) ([]session_models.Info, error) {
	return s.store.List(ctx)
}

// DeleteSession removes the stored session, its indexed history and its lock.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	unlock := s.lock(sessionID)
	defer func() {
		unlock()
		s.locks.Delete(sessionID)
	}()
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	if s.history != nil {
		if err := s.history.RemoveSession(sessionID); err != nil {
			s.logger.Warn("history index remove failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return nil
}

// ErrHistoryDisabled is returned by SearchHistory without a history index.
var ErrHistoryDisabled = errors.New("history search is not enabled")

func (s *Service) SearchHistory(query string, k int) ([]index.Hit, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.Search(query, k)
}

// RebuildHistory indexes every stored session.
func (s *Service) RebuildHistory(ctx context.Context) error {
	if s.history == nil {
		return nil
	}
	infos, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		st, err := s.store.Load(ctx, info.ID)
		if err != nil {
			return err
		}
		if err := s.history.IndexSession(info.ID, st.History); err != nil {
			return err
		}
	}
	s.logger.Info("history index rebuilt", zap.Int("sessions", len(infos)))
	return nil
}

// Close evicts every cached agent session.
func (s *Service) Close() {
	s.cache.Shutdown()
}

func (s *Service) indexHistory(id string, history []agent.ChatTurn) {
	if s.history == nil {
		return
	}
	if err := s.history.IndexSession(id, history); err != nil {
		s.logger.Warn("history index update failed", zap.String("session_id", id), zap.Error(err))
	}
}

func (s *Service) lock(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
