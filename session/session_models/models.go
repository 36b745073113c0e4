package session_models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/mohammad-safakhou/researcher/internal/agent"
	"github.com/mohammad-safakhou/researcher/internal/documents"
)

// State is everything persisted for one chat session.
type State struct {
	History   []agent.ChatTurn
	Documents documents.Set
	UpdatedAt time.Time
}

// Info summarises a stored session for listings.
type Info struct {
	ID        string    `json:"id"`
	Turns     int       `json:"turns"`
	Documents []string  `json:"documents"`
	UpdatedAt time.Time `json:"updated_at"`
}

var ErrInvalidID = errors.New("invalid session id")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateID rejects ids that are not safe as file names or key suffixes.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Record is the stored form of a State:
// {"chat_history": [...], "files": {name: text | {"header":..., "rows":...}}}
type Record struct {
	ChatHistory []agent.ChatTurn `json:"chat_history"`
	Files       map[string]File  `json:"files"`
	UpdatedAt   time.Time        `json:"updated_at,omitempty"`
}

// File is stored as a JSON string for text and as an object for tables.
type File struct {
	Text  string
	Table *documents.Table
}

func (f File) MarshalJSON() ([]byte, error) {
	if f.Table != nil {
		return json.Marshal(f.Table)
	}
	return json.Marshal(f.Text)
}

func (f *File) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var t documents.Table
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		*f = File{Table: &t}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = File{Text: s}
	return nil
}

// NewRecord converts a state to its stored form.
func NewRecord(st State) Record {
	rec := Record{
		ChatHistory: st.History,
		Files:       make(map[string]File, len(st.Documents)),
		UpdatedAt:   st.UpdatedAt,
	}
	if rec.ChatHistory == nil {
		rec.ChatHistory = []agent.ChatTurn{}
	}
	for name, doc := range st.Documents {
		rec.Files[name] = File{Text: doc.Text, Table: doc.Table}
	}
	return rec
}

// State converts a stored record back.
func (r Record) State() State {
	st := State{
		History:   r.ChatHistory,
		Documents: make(documents.Set, len(r.Files)),
		UpdatedAt: r.UpdatedAt,
	}
	for name, f := range r.Files {
		st.Documents[name] = documents.Document{Name: name, Text: f.Text, Table: f.Table}
	}
	return st
}

// Info summarises the record stored under id.
func (r Record) Info(id string) Info {
	names := make([]string, 0, len(r.Files))
	for name := range r.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return Info{
		ID:        id,
		Turns:     len(r.ChatHistory),
		Documents: names,
		UpdatedAt: r.UpdatedAt,
	}
}

// Encode renders st as indented JSON.
func Encode(st State) ([]byte, error) {
	return json.MarshalIndent(NewRecord(st), "", "  ")
}

// Decode parses a stored record.
func Decode(data []byte) (State, error) {
	rec, err := DecodeRecord(data)
	if err != nil {
		return State{}, err
	}
	return rec.State(), nil
}

// DecodeRecord parses stored bytes without converting to a State.
func DecodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode session: %w", err)
	}
	return rec, nil
}

// SortInfos orders listings most recently updated first.
func SortInfos(infos []Info) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].UpdatedAt.Equal(infos[j].UpdatedAt) {
			return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
}
