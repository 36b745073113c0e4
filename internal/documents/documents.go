// Package documents holds the user's uploaded documents and the keyword
// index the document_search tool runs against.
package documents

import (
	"bytes"
	"encoding/csv"
	"sort"
)

// Table is tabular content: a header row followed by data rows.
type Table struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// CSV renders the table as comma separated text.
func (t Table) CSV() string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if len(t.Header) > 0 {
		_ = w.Write(t.Header)
	}
	_ = w.WriteAll(t.Rows)
	return buf.String()
}

// Document is one uploaded file. Exactly one of Text or Table is meaningful;
// a non-nil Table marks tabular content.
type Document struct {
	Name  string `json:"name"`
	Text  string `json:"text,omitempty"`
	Table *Table `json:"table,omitempty"`
}

// IsTabular reports whether the document carries a table.
func (d Document) IsTabular() bool {
	return d.Table != nil
}

// Searchable returns the text form used for matching. Tables are rendered to
// CSV for matching only.
func (d Document) Searchable() string {
	if d.Table != nil {
		return d.Table.CSV()
	}
	return d.Text
}

// Set maps document names to documents. Names are unique; Put replaces an
// existing entry.
type Set map[string]Document

// Put stores doc under its name and reports whether it replaced an entry.
func (s Set) Put(doc Document) (replaced bool) {
	_, replaced = s[doc.Name]
	s[doc.Name] = doc
	return replaced
}

// Merge copies every document of other into s and returns the names that
// already existed.
func (s Set) Merge(other Set) []string {
	var replaced []string
	for _, name := range other.Names() {
		if s.Put(other[name]) {
			replaced = append(replaced, name)
		}
	}
	return replaced
}

// Names returns the document names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a shallow copy; Document values are never mutated in place.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
