package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/researcher/internal/telemetry"
	"github.com/mohammad-safakhou/researcher/provider"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultMaxIterations bounds the tool-calling loop of one run.
const DefaultMaxIterations = 8

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatTurn is one entry of a conversation history.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Result of a successful run.
type Result struct {
	Answer string
	// BestEffort is set when the iteration cap was hit and the answer came
	// from the final tools-disabled call.
	BestEffort bool
	Iterations int
	ToolCalls  []Invocation
	// History is the session history after the run, ending with the question
	// and the answer.
	History []ChatTurn
}

type SessionOptions struct {
	MaxIterations int
	Logger        *zap.Logger
	Metrics       *telemetry.Metrics
}

// Session is a tool-using reasoning loop with conversation memory. Runs on one
// session are serialized.
type Session struct {
	key           string
	model         provider.Provider
	registry      *Registry
	maxIterations int
	logger        *zap.Logger
	metrics       *telemetry.Metrics

	mu      sync.Mutex
	history []ChatTurn
}

func NewSession(key string, model provider.Provider, registry *Registry, opts SessionOptions) *Session {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Session{
		key:           key,
		model:         model,
		registry:      registry,
		maxIterations: opts.MaxIterations,
		logger:        opts.Logger.With(zap.String("cache_key", key)),
		metrics:       opts.Metrics,
	}
}

// Key is the cache key the session was created for.
func (s *Session) Key() string { return s.key }

// History returns a copy of the conversation history.
func (s *Session) History() []ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTurns(s.history)
}

// Preload makes the history equal to turns. When the current history is a
// prefix of turns only the missing suffix is appended, so replaying the same
// record twice is a no-op.
func (s *Session) Preload(turns []ChatTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preload(turns)
}

func (s *Session) preload(turns []ChatTurn) {
	if isPrefix(s.history, turns) {
		s.history = append(s.history, turns[len(s.history):]...)
		return
	}
	s.history = cloneTurns(turns)
}

// Run answers question and records both the question and the answer in the
// history. On failure the history is restored and an *AgentExecutionError is
// returned.
func (s *Session) Run(ctx context.Context, question string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, question)
}

// Resume preloads turns and runs question under one lock, so sessions shared
// by several conversations never answer against another conversation's
// history.
func (s *Session) Resume(ctx context.Context, turns []ChatTurn, question string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preload(turns)
	return s.run(ctx, question)
}

func (s *Session) run(ctx context.Context, question string) (Result, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("agent.cache_key", s.key),
		attribute.Int("agent.history_len", len(s.history)),
	))
	defer span.End()
	start := time.Now()

	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, &AgentExecutionError{Err: ErrEmptyQuestion}
	}

	base := len(s.history)
	s.history = append(s.history, ChatTurn{Role: RoleUser, Content: question})

	res, err := s.reason(ctx)
	if err != nil {
		s.history = s.history[:base:base]
		s.metrics.AgentRun("failed", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent run failed")
		s.logger.Warn("agent run failed", zap.Int("iterations", res.Iterations), zap.Error(err))
		return Result{}, &AgentExecutionError{Iterations: res.Iterations, Err: err}
	}

	s.history = append(s.history, ChatTurn{Role: RoleAssistant, Content: res.Answer})
	res.History = cloneTurns(s.history)

	outcome := "answered"
	if res.BestEffort {
		outcome = "best_effort"
	}
	s.metrics.AgentRun(outcome, time.Since(start))
	span.SetAttributes(
		attribute.Int("agent.iterations", res.Iterations),
		attribute.Bool("agent.best_effort", res.BestEffort),
	)
	s.logger.Info("agent run finished",
		zap.String("outcome", outcome),
		zap.Int("iterations", res.Iterations),
		zap.Int("tool_calls", len(res.ToolCalls)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (s *Session) reason(ctx context.Context) (Result, error) {
	var (
		res     Result
		working []provider.Message
	)
	conversation := s.conversation()
	tools := s.registry.Specs()

	for res.Iterations < s.maxIterations {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Iterations++
		resp, err := s.chat(ctx, "reason", provider.ChatRequest{
			Messages: concat(conversation, working),
			Tools:    tools,
		})
		if err != nil {
			return res, err
		}
		if len(resp.ToolCalls) == 0 {
			answer := strings.TrimSpace(resp.Content)
			if answer == "" {
				return res, ErrEmptyAnswer
			}
			res.Answer = answer
			return res, nil
		}

		working = append(working, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			inv := s.invoke(ctx, call)
			res.ToolCalls = append(res.ToolCalls, inv)
			working = append(working, provider.Message{
				Role:       provider.RoleTool,
				Content:    inv.Output,
				ToolCallID: call.ID,
			})
		}
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	s.logger.Info("iteration cap reached, requesting best-effort answer", zap.Int("max_iterations", s.maxIterations))
	final := concat(conversation, working)
	final = append(final, provider.Message{Role: provider.RoleUser, Content: bestEffortPrompt})
	resp, err := s.chat(ctx, "final", provider.ChatRequest{Messages: final})
	if err != nil {
		return res, err
	}
	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return res, ErrEmptyAnswer
	}
	res.Answer = answer
	res.BestEffort = true
	return res, nil
}

func (s *Session) chat(ctx context.Context, purpose string, req provider.ChatRequest) (provider.ChatResponse, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "model.call", trace.WithAttributes(
		attribute.String("model.purpose", purpose),
		attribute.Int("model.messages", len(req.Messages)),
	))
	defer span.End()

	resp, err := s.model.Chat(ctx, req)
	s.metrics.ModelCall(purpose, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return resp, fmt.Errorf("%w: %v", ctxErr, err)
		}
		return resp, &UpstreamCallError{Service: "model", Err: err}
	}
	return resp, nil
}

func (s *Session) invoke(ctx context.Context, call provider.ToolCall) Invocation {
	ctx, span := telemetry.Tracer().Start(ctx, "tool.call", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
	))
	defer span.End()

	inv := s.registry.Dispatch(ctx, call.Name, call.Arguments)
	s.metrics.ToolInvocation(call.Name, inv.Outcome)
	span.SetAttributes(attribute.String("tool.outcome", inv.Outcome))
	s.logger.Debug("tool invoked",
		zap.String("tool", call.Name),
		zap.String("query", inv.Query),
		zap.String("outcome", inv.Outcome),
		zap.Int("output_len", len(inv.Output)),
	)
	return inv
}

// conversation is the system prompt followed by the history.
func (s *Session) conversation() []provider.Message {
	msgs := make([]provider.Message, 0, len(s.history)+1)
	msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: systemPrompt(s.registry)})
	for _, t := range s.history {
		role := provider.RoleUser
		if t.Role == RoleAssistant {
			role = provider.RoleAssistant
		}
		msgs = append(msgs, provider.Message{Role: role, Content: t.Content})
	}
	return msgs
}

const bestEffortPrompt = "You have reached the tool call limit. Using only the information gathered so far, " +
	"give your best final answer to the question now. Say what remains uncertain and include the URLs of any sources you used."

func systemPrompt(r *Registry) string {
	var b strings.Builder
	b.WriteString("You are a research assistant. Answer the user's latest question, using the tools when they help.\n\n")
	b.WriteString("Tools:\n")
	for _, t := range r.Tools() {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	b.WriteString("\nCall a tool with a JSON object of the form {\"query\": \"...\"}. ")
	b.WriteString("When you have enough information, reply with the final answer in Markdown without calling a tool, ")
	b.WriteString("and include the full URLs of the web sources you relied on.")
	return b.String()
}

func concat(a, b []provider.Message) []provider.Message {
	out := make([]provider.Message, 0, len(a)+len(b)+1)
	out = append(out, a...)
	return append(out, b...)
}

func isPrefix(prefix, turns []ChatTurn) bool {
	if len(prefix) > len(turns) {
		return false
	}
	for i := range prefix {
		if prefix[i] != turns[i] {
			return false
		}
	}
	return true
}

func cloneTurns(turns []ChatTurn) []ChatTurn {
	if turns == nil {
		return nil
	}
	return append([]ChatTurn(nil), turns...)
}
