package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/researcher/internal/telemetry"
	"github.com/mohammad-safakhou/researcher/provider"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Planner produces the display-only research plan shown before a run.
type Planner struct {
	model   provider.Provider
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

func NewPlanner(model provider.Provider, logger *zap.Logger, metrics *telemetry.Metrics) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{model: model, logger: logger, metrics: metrics}
}

// PlanPrompt builds the single user message sent for plan generation.
func PlanPrompt(question string, documents []string) string {
	var b strings.Builder
	if len(documents) > 0 {
		fmt.Fprintf(&b, "The user provided files: %s. ", strings.Join(documents, ", "))
	}
	fmt.Fprintf(&b, "Using numbered steps, outline a concise research plan to answer: '%s'. ", question)
	b.WriteString("Include actions such as web search, reading uploaded documents, summarizing, and analysis.")
	return b.String()
}

// Generate makes exactly one model call and splits the reply into steps.
func (p *Planner) Generate(ctx context.Context, question string, documents []string) ([]string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "agent.plan")
	defer span.End()
	span.SetAttributes(attribute.Int("plan.documents", len(documents)))

	steps, err := p.generate(ctx, question, documents)
	p.metrics.PlanGenerated(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "plan generation failed")
		p.logger.Warn("plan generation failed", zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.Int("plan.steps", len(steps)))
	p.logger.Debug("plan generated", zap.Int("steps", len(steps)))
	return steps, nil
}

func (p *Planner) generate(ctx context.Context, question string, documents []string) ([]string, error) {
	resp, err := p.model.Chat(ctx, provider.ChatRequest{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: PlanPrompt(question, documents)}},
	})
	p.metrics.ModelCall("plan", err)
	if err != nil {
		return nil, &PlanGenerationError{Err: &UpstreamCallError{Service: "model", Err: err}}
	}
	steps := SplitSteps(resp.Content)
	if len(steps) == 0 {
		return nil, &PlanGenerationError{Err: ErrEmptyPlan}
	}
	return steps, nil
}

// SplitSteps keeps non-blank lines and strips leading and trailing dashes and
// spaces from each.
func SplitSteps(text string) []string {
	var steps []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		step := strings.Trim(strings.TrimSpace(line), "- ")
		if step == "" {
			continue
		}
		steps = append(steps, step)
	}
	return steps
}
