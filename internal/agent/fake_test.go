package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/mohammad-safakhou/researcher/internal/documents"
	"github.com/mohammad-safakhou/researcher/provider"
)

type scriptedReply struct {
	resp provider.ChatResponse
	err  error
}

// scriptedModel replays canned replies in order and records every request.
type scriptedModel struct {
	mu       sync.Mutex
	replies  []scriptedReply
	requests []provider.ChatRequest
}

func newScriptedModel(replies ...scriptedReply) *scriptedModel {
	return &scriptedModel{replies: replies}
}

func (m *scriptedModel) Chat(ctx context.Context, req provider.ChatRequest) (provider.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if err := ctx.Err(); err != nil {
		return provider.ChatResponse{}, err
	}
	if len(m.replies) == 0 {
		return provider.ChatResponse{}, errors.New("script exhausted")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r.resp, r.err
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *scriptedModel) request(i int) provider.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

func answerReply(text string) scriptedReply {
	return scriptedReply{resp: provider.ChatResponse{Content: text}}
}

func toolReply(id, name, args string) scriptedReply {
	return scriptedReply{resp: provider.ChatResponse{ToolCalls: []provider.ToolCall{{ID: id, Name: name, Arguments: args}}}}
}

func errorReply(err error) scriptedReply {
	return scriptedReply{err: err}
}

type fakeSearcher struct {
	mu      sync.Mutex
	output  string
	queries []string
	counts  []int
}

func (f *fakeSearcher) Search(_ context.Context, query string, count int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.counts = append(f.counts, count)
	return f.output
}

func newTestSession(model provider.Provider, searcher Searcher, docs documents.Set, maxIter int) *Session {
	reg := NewRegistry(searcher, documents.NewIndex(docs), DefaultResultCount)
	return NewSession(CacheKey(docs), model, reg, SessionOptions{MaxIterations: maxIter})
}
