// Package index keeps a full-text index over saved conversation turns so past
// sessions can be found by what was discussed in them.
package index

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/mohammad-safakhou/researcher/internal/agent"
)

const snippetRunes = 300

type turnDoc struct {
	SessionID string `json:"session_id"`
	Turn      int    `json:"turn"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

// Hit is one matching turn.
type Hit struct {
	SessionID string  `json:"session_id"`
	Turn      int     `json:"turn"`
	Role      string  `json:"role"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`
}

type HistoryIndex struct {
	bleve bleve.Index
	mu    sync.RWMutex
	meta  map[string]turnDoc
	turns map[string]int // session id -> indexed turn count
}

func NewHistoryIndex() (*HistoryIndex, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &HistoryIndex{
		bleve: idx,
		meta:  make(map[string]turnDoc),
		turns: make(map[string]int),
	}, nil
}

func docID(sessionID string, turn int) string {
	return fmt.Sprintf("%s/%d", sessionID, turn)
}

// IndexSession replaces everything indexed for sessionID with history.
func (h *HistoryIndex) IndexSession(sessionID string, history []agent.ChatTurn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	batch := h.bleve.NewBatch()
	for i := len(history); i < h.turns[sessionID]; i++ {
		id := docID(sessionID, i)
		batch.Delete(id)
		delete(h.meta, id)
	}
	for i, t := range history {
		doc := turnDoc{SessionID: sessionID, Turn: i, Role: string(t.Role), Content: t.Content}
		id := docID(sessionID, i)
		if err := batch.Index(id, doc); err != nil {
			return err
		}
		h.meta[id] = doc
	}
	if err := h.bleve.Batch(batch); err != nil {
		return fmt.Errorf("index session %s: %w", sessionID, err)
	}
	h.turns[sessionID] = len(history)
	return nil
}

// RemoveSession drops every turn of sessionID.
func (h *HistoryIndex) RemoveSession(sessionID string) error {
	return h.IndexSession(sessionID, nil)
}

// Search returns up to k turns matching query, best first.
func (h *HistoryIndex) Search(query string, k int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), k, 0, false)
	res, err := h.bleve.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search history: %w", err)
	}
	out := make([]Hit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		doc, ok := h.meta[hit.ID]
		if !ok {
			continue
		}
		out = append(out, Hit{
			SessionID: doc.SessionID,
			Turn:      doc.Turn,
			Role:      doc.Role,
			Snippet:   snippet(doc.Content),
			Score:     hit.Score,
		})
	}
	return out, nil
}

// Len reports the number of indexed turns.
func (h *HistoryIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.meta)
}

func (h *HistoryIndex) Close() error {
	return h.bleve.Close()
}

func snippet(s string) string {
	r := []rune(s)
	if len(r) <= snippetRunes {
		return s
	}
	return string(r[:snippetRunes]) + "…"
}
