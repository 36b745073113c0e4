package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/researcher/internal/documents"
	"github.com/mohammad-safakhou/researcher/provider"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Kind is the closed set of tools a session can call.
type Kind int

const (
	KindWebSearch Kind = iota + 1
	KindDocumentSearch
)

func (k Kind) String() string {
	switch k {
	case KindWebSearch:
		return "web_search"
	case KindDocumentSearch:
		return "document_search"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

const (
	webSearchDescription      = "Search the web (Brave) for up-to-date information."
	documentSearchDescription = "Search the user's uploaded documents for relevant passages."

	// DefaultResultCount is the number of web results requested per call.
	DefaultResultCount = 5
)

// Invocation outcomes, also used as metric labels.
const (
	OutcomeOK          = "ok"
	OutcomeUnknownTool = "unknown_tool"
	OutcomeInvalidArgs = "invalid_arguments"
)

// Searcher is the web search capability. Implementations never fail; problems
// are reported in the returned text.
type Searcher interface {
	Search(ctx context.Context, query string, count int) string
}

// Tool is a named, described text-in/text-out capability.
type Tool struct {
	Kind        Kind
	Name        string
	Description string
	invoke      func(ctx context.Context, query string) string
}

// Invocation is the outcome of one dispatched tool call.
type Invocation struct {
	Tool    string
	Query   string
	Output  string
	Outcome string
}

// Registry holds exactly one web_search and one document_search tool.
type Registry struct {
	tools []Tool
}

// NewRegistry binds the two tools. resultCount < 1 selects DefaultResultCount.
func NewRegistry(searcher Searcher, index *documents.Index, resultCount int) *Registry {
	if resultCount < 1 {
		resultCount = DefaultResultCount
	}
	if index == nil {
		index = documents.NewIndex(nil)
	}
	return &Registry{tools: []Tool{
		{
			Kind:        KindWebSearch,
			Name:        KindWebSearch.String(),
			Description: webSearchDescription,
			invoke: func(ctx context.Context, q string) string {
				return searcher.Search(ctx, q, resultCount)
			},
		},
		{
			Kind:        KindDocumentSearch,
			Name:        KindDocumentSearch.String(),
			Description: documentSearchDescription,
			invoke: func(_ context.Context, q string) string {
				return index.Search(q)
			},
		},
	}}
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []Tool {
	return append([]Tool(nil), r.tools...)
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for _, t := range r.tools {
		names = append(names, t.Name)
	}
	return names
}

// Lookup selects a tool by its exact name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	for _, t := range r.tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// Specs describes the tools to the model.
func (r *Registry) Specs() []provider.ToolSpec {
	specs := make([]provider.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, provider.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  json.RawMessage(queryArgsSchemaJSON),
		})
	}
	return specs
}

// Dispatch runs the named tool. It never fails: unknown tools and bad
// arguments produce an explanatory output the model can react to.
func (r *Registry) Dispatch(ctx context.Context, name, rawArgs string) Invocation {
	tool, ok := r.Lookup(name)
	if !ok {
		return Invocation{
			Tool:    name,
			Outcome: OutcomeUnknownTool,
			Output:  fmt.Sprintf("(unknown tool %q; available tools: %s)", name, strings.Join(r.Names(), ", ")),
		}
	}
	query, err := parseQueryArgs(rawArgs)
	if err != nil {
		return Invocation{
			Tool:    name,
			Outcome: OutcomeInvalidArgs,
			Output:  fmt.Sprintf("(invalid arguments for %s: %v)", name, err),
		}
	}
	return Invocation{
		Tool:    name,
		Query:   query,
		Outcome: OutcomeOK,
		Output:  tool.invoke(ctx, query),
	}
}

const queryArgsSchemaJSON = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1, "description": "Search terms."}
  },
  "required": ["query"],
  "additionalProperties": false
}`

var (
	compileOnce     sync.Once
	queryArgsSchema *jsonschema.Schema
	compileErr      error
)

func argsSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("query_args.json", strings.NewReader(queryArgsSchemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("query_args.json")
		if err != nil {
			compileErr = fmt.Errorf("compile tool argument schema: %w", err)
			return
		}
		queryArgsSchema = schema
	})
	return queryArgsSchema, compileErr
}

// parseQueryArgs accepts {"query": "..."}, a JSON string, or a bare
// non-JSON string used verbatim as the query.
func parseQueryArgs(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("missing query")
	}
	switch raw[0] {
	case '{':
	case '"':
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return "", fmt.Errorf("malformed JSON string: %v", err)
		}
		return nonEmpty(s)
	case '[':
		return "", fmt.Errorf("expected an object with a query field")
	default:
		return raw, nil
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", fmt.Errorf("malformed JSON: %v", err)
	}
	schema, err := argsSchema()
	if err != nil {
		return "", err
	}
	if err := schema.Validate(doc); err != nil {
		return "", fmt.Errorf("%s", validationReason(err))
	}
	q, _ := doc.(map[string]interface{})["query"].(string)
	return nonEmpty(q)
}

func nonEmpty(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", fmt.Errorf("query must not be empty")
	}
	return q, nil
}

func validationReason(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation != "" {
		return ve.InstanceLocation + ": " + ve.Message
	}
	return ve.Message
}
