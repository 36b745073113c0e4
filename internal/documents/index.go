package documents

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// NoMatch is returned by Index.Search when no document contains the query.
const NoMatch = "No match in uploaded documents."

const (
	windowBefore = 120
	windowAfter  = 400
)

type entry struct {
	name  string
	runes []rune
	lower string
}

// Index is a read-only keyword index over a snapshot of a Set.
type Index struct {
	entries []entry
}

// NewIndex snapshots set. Later changes to set are not visible to the index.
func NewIndex(set Set) *Index {
	idx := &Index{}
	for _, name := range set.Names() {
		runes := []rune(set[name].Searchable())
		idx.entries = append(idx.entries, entry{
			name:  name,
			runes: runes,
			lower: lowerRunes(runes),
		})
	}
	return idx
}

// Len returns the number of indexed documents.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.entries)
}

// Search returns, for every document containing query (case-insensitive), a
// window of text around the first occurrence prefixed with the document name.
// Results follow sorted name order. NoMatch is returned when nothing matches.
func (i *Index) Search(query string) string {
	query = strings.TrimSpace(query)
	if i == nil || query == "" {
		return NoMatch
	}
	needle := lowerRunes([]rune(query))

	var snippets []string
	for _, e := range i.entries {
		byteIdx := strings.Index(e.lower, needle)
		if byteIdx < 0 {
			continue
		}
		// lowerRunes maps rune for rune, so rune offsets line up with e.runes.
		pos := utf8.RuneCountInString(e.lower[:byteIdx])
		start := max(0, pos-windowBefore)
		end := min(len(e.runes), pos+windowAfter)
		snippets = append(snippets, "From "+e.name+": …"+string(e.runes[start:end])+"…")
	}
	if len(snippets) == 0 {
		return NoMatch
	}
	return strings.Join(snippets, "\n")
}

func lowerRunes(runes []rune) string {
	var b strings.Builder
	b.Grow(len(runes))
	for _, r := range runes {
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
