package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/researcher/internal/documents"
)

func testRegistry(search *fakeSearcher) *Registry {
	docs := documents.Set{}
	docs.Put(documents.Document{Name: "notes.txt", Text: "Project Zeus deadline: 2026-01-01"})
	return NewRegistry(search, documents.NewIndex(docs), 0)
}

func TestRegistryHasExactlyTwoTools(t *testing.T) {
	reg := testRegistry(&fakeSearcher{})
	tools := reg.Tools()
	if len(tools) != 2 {
		t.Fatalf("expected two tools, got %d", len(tools))
	}
	if tools[0].Kind != KindWebSearch || tools[0].Name != "web_search" {
		t.Fatalf("unexpected first tool %+v", tools[0])
	}
	if tools[1].Kind != KindDocumentSearch || tools[1].Name != "document_search" {
		t.Fatalf("unexpected second tool %+v", tools[1])
	}
	if _, ok := reg.Lookup("Web_Search"); ok {
		t.Fatalf("lookup must match names exactly")
	}
	specs := reg.Specs()
	if len(specs) != 2 || !json.Valid(specs[0].Parameters) {
		t.Fatalf("unexpected specs %+v", specs)
	}
}

func TestDispatchWebSearchUsesFixedCount(t *testing.T) {
	search := &fakeSearcher{output: "Paris\nCapital of France\nhttps://example.org/paris\n"}
	reg := testRegistry(search)

	inv := reg.Dispatch(context.Background(), "web_search", `{"query":"capital of France"}`)
	if inv.Outcome != OutcomeOK || inv.Output != search.output {
		t.Fatalf("unexpected invocation %+v", inv)
	}
	if len(search.queries) != 1 || search.queries[0] != "capital of France" || search.counts[0] != DefaultResultCount {
		t.Fatalf("unexpected search calls %v %v", search.queries, search.counts)
	}
}

func TestDispatchDocumentSearch(t *testing.T) {
	reg := testRegistry(&fakeSearcher{})
	inv := reg.Dispatch(context.Background(), "document_search", `{"query":"zeus"}`)
	if !strings.Contains(inv.Output, "2026-01-01") || !strings.Contains(inv.Output, "notes.txt") {
		t.Fatalf("expected snippet with date, got %q", inv.Output)
	}
	inv = reg.Dispatch(context.Background(), "document_search", `{"query":"apollo"}`)
	if inv.Output != documents.NoMatch {
		t.Fatalf("expected no-match sentinel, got %q", inv.Output)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	reg := testRegistry(&fakeSearcher{})
	inv := reg.Dispatch(context.Background(), "calculator", `{"query":"1+1"}`)
	want := `(unknown tool "calculator"; available tools: web_search, document_search)`
	if inv.Outcome != OutcomeUnknownTool || inv.Output != want {
		t.Fatalf("unexpected invocation %+v", inv)
	}
}

func TestDispatchMalformedArguments(t *testing.T) {
	search := &fakeSearcher{}
	reg := testRegistry(search)
	cases := map[string]string{
		"broken json":   `{"query":`,
		"missing query": `{}`,
		"wrong type":    `{"query": 42}`,
		"extra field":   `{"query":"x","limit":3}`,
		"blank query":   `{"query":"   "}`,
		"array":         `["x"]`,
		"empty":         ``,
	}
	for name, args := range cases {
		inv := reg.Dispatch(context.Background(), "web_search", args)
		if inv.Outcome != OutcomeInvalidArgs {
			t.Fatalf("%s: expected invalid arguments, got %+v", name, inv)
		}
		if !strings.HasPrefix(inv.Output, "(invalid arguments for web_search: ") || !strings.HasSuffix(inv.Output, ")") {
			t.Fatalf("%s: unexpected output %q", name, inv.Output)
		}
	}
	if len(search.queries) != 0 {
		t.Fatalf("invalid calls must not reach the searcher, got %v", search.queries)
	}
}

func TestDispatchLenientArguments(t *testing.T) {
	search := &fakeSearcher{output: "ok"}
	reg := testRegistry(search)

	reg.Dispatch(context.Background(), "web_search", `capital of France`)
	reg.Dispatch(context.Background(), "web_search", `"eiffel tower height"`)
	if len(search.queries) != 2 || search.queries[0] != "capital of France" || search.queries[1] != "eiffel tower height" {
		t.Fatalf("unexpected queries %v", search.queries)
	}
}
