package web_search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/researcher/tools/web_search/brave"
	"github.com/mohammad-safakhou/researcher/tools/web_search/models"
	"github.com/mohammad-safakhou/researcher/tools/web_search/serper"
	"go.uber.org/zap"
)

type WebSearcher interface {
	Name() string
	Discover(ctx context.Context, q string, k int) ([]models.Result, error)
}

type Backend string

const (
	SerperBackend Backend = "serper"
	BraveBackend  Backend = "brave"
)

const DefaultTimeout = 30 * time.Second

var ErrUnsupportedBackend = errors.New("unsupported web search backend")

// NewWebSearcher builds the client for backend. An empty endpoint selects the
// backend's public API; a nil client selects http.DefaultClient.
func NewWebSearcher(backend Backend, apiKey, endpoint string, client *http.Client) (WebSearcher, error) {
	if client == nil {
		client = http.DefaultClient
	}
	switch backend {
	case SerperBackend:
		return serper.Search{APIKey: apiKey, Endpoint: endpoint, Client: client}, nil
	case BraveBackend, "":
		return brave.Search{APIKey: apiKey, Endpoint: endpoint, Client: client}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, backend)
	}
}

// SearchProvider turns a WebSearcher into a text-in/text-out capability that
// never fails: upstream problems become a short failure string the reasoning
// loop can read and work around.
type SearchProvider struct {
	searcher WebSearcher
	timeout  time.Duration
	logger   *zap.Logger
}

func NewSearchProvider(searcher WebSearcher, timeout time.Duration, logger *zap.Logger) *SearchProvider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchProvider{searcher: searcher, timeout: timeout, logger: logger}
}

// Search runs one bounded request and formats the hits as title, description
// and url lines. Failures are reported as "(<Backend> search failed: ...)".
func (p *SearchProvider) Search(ctx context.Context, query string, count int) string {
	if count < 1 {
		count = 1
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	name := p.searcher.Name()
	results, err := p.searcher.Discover(ctx, query, count)
	if err != nil {
		p.logger.Warn("web search failed", zap.String("backend", name), zap.String("query", query), zap.Error(err))
		var status *models.StatusError
		if errors.As(err, &status) {
			return fmt.Sprintf("(%s search failed: %d)", name, status.Code)
		}
		return fmt.Sprintf("(%s search failed: %v)", name, err)
	}
	if len(results) == 0 {
		return fmt.Sprintf("(%s search returned no results)", name)
	}
	return FormatResults(results)
}

// FormatResults renders results in provider order.
func FormatResults(results []models.Result) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("%s\n%s\n%s\n", r.Title, r.Snippet, r.URL))
	}
	return strings.Join(lines, "\n")
}
