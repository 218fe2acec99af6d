package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aria-assistant/aria/internal/config"
	"github.com/aria-assistant/aria/internal/extract"
	"github.com/aria-assistant/aria/internal/models"
	"github.com/aria-assistant/aria/internal/store"
	"github.com/aria-assistant/aria/internal/window"
)

// AuditLog records pipeline runs for observability.
type AuditLog interface {
	RecordRun(ctx context.Context, r *store.RunRecord) error
}

// Options wires a Pipeline. Persister, Audit, and Compaction may be
// nil; the pipeline then runs without persistence.
type Options struct {
	Client         Inference
	Registry       Registry
	Windows        ContextBuilder
	Persister      Persister
	Audit          AuditLog
	Compaction     CompactionTrigger
	Persona        config.PersonaConfig
	RequestTimeout time.Duration
	CacheTTL       time.Duration
	Logger         zerolog.Logger
	Clock          func() time.Time
}

// Pipeline is the request controller. One ProcessQuestion call walks
// the phases in order and always returns a well-formed result.
type Pipeline struct {
	client     Inference
	registry   Registry
	windows    ContextBuilder
	persister  Persister
	audit      AuditLog
	compaction CompactionTrigger
	extractor  *extract.Extractor
	cache      *AssessmentCache
	persona    config.PersonaConfig
	timeout    time.Duration
	clock      func() time.Time
	logger     zerolog.Logger
}

// New creates a Pipeline from Options.
func New(opts Options) *Pipeline {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Minute
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	return &Pipeline{
		client:     opts.Client,
		registry:   opts.Registry,
		windows:    opts.Windows,
		persister:  opts.Persister,
		audit:      opts.Audit,
		compaction: opts.Compaction,
		extractor:  extract.NewExtractor(),
		cache:      NewAssessmentCache(opts.CacheTTL),
		persona:    opts.Persona,
		timeout:    opts.RequestTimeout,
		clock:      opts.Clock,
		logger:     opts.Logger.With().Str("component", "pipeline").Logger(),
	}
}

const panicApology = "I'm sorry, something went wrong on my end while handling that. Please try again."

// ProcessQuestion is the single entry point for one request. The
// caller always gets a response: failures degrade to fallbacks and a
// panic anywhere inside becomes a fixed apology.
func (p *Pipeline) ProcessQuestion(ctx context.Context, userID, convID, question string) (result *ProcessResult) {
	start := time.Now()

	if convID == "" {
		convID = fmt.Sprintf("conv-%s", p.now().Format("20060102-150405.000000"))
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Str("conversation", convID).Msg("pipeline panic recovered")
			result = &ProcessResult{
				Response:       panicApology,
				Topic:          "error",
				ConversationID: convID,
				ProcessingTime: time.Since(start),
			}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	pctx := &ProcessingContext{
		RequestID:      uuid.NewString(),
		UserID:         userID,
		ConversationID: convID,
		Question:       question,
	}

	win, err := p.windows.BuildContext(ctx, userID, convID)
	if err != nil {
		p.logger.Warn().Err(err).Str("conversation", convID).Msg("context build failed, starting empty")
		win = &window.ContextWindow{}
	}
	pctx.Window = win

	assessment := p.Assess(ctx, pctx)
	if assessment.Kind == RouteToolsNeeded {
		p.SelectTools(ctx, pctx)
		p.ExecuteTools(ctx, pctx)
	}

	p.FormatResponse(ctx, pctx)
	quality := p.QualityGate(ctx, pctx)
	pctx.Phase = PhaseDone

	p.persist(ctx, pctx, quality, time.Since(start))

	if p.compaction != nil {
		go p.compaction.TriggerIfNeeded(context.Background(), userID, convID)
	}

	return &ProcessResult{
		Response:       quality.Response,
		Topic:          p.classifyTopic(ctx, question, quality.Response),
		ConversationID: convID,
		History:        buildHistory(win, question, quality.Response),
		ProcessingTime: time.Since(start),
	}
}

// persist saves the exchange and the audit record. Failures are logged
// and swallowed; the response still goes out.
func (p *Pipeline) persist(ctx context.Context, pctx *ProcessingContext, quality *QualityResult, elapsed time.Duration) {
	if p.persister != nil {
		title := truncate(pctx.Question, 80)
		if err := p.persister.SaveInteraction(ctx, pctx.UserID, pctx.ConversationID, title, pctx.Question, quality.Response); err != nil {
			p.logger.Error().Err(err).Str("conversation", pctx.ConversationID).Msg("failed to save interaction")
		}
	}

	if p.audit != nil {
		record := &store.RunRecord{
			RequestID:      pctx.RequestID,
			UserID:         pctx.UserID,
			ConversationID: pctx.ConversationID,
			Route:          pctx.Assessment.Kind.String(),
			GuardReason:    string(pctx.Assessment.GuardReason),
			FallbackKind:   quality.FallbackKind,
			Approved:       quality.Approved,
			Duration:       elapsed,
		}
		if err := p.audit.RecordRun(ctx, record); err != nil {
			p.logger.Error().Err(err).Str("request", pctx.RequestID).Msg("failed to record run")
		}
	}
}

// classifyTopic produces a one-word label for the exchange. Best
// effort; any failure is the "general" topic.
func (p *Pipeline) classifyTopic(ctx context.Context, question, response string) string {
	prompt := fmt.Sprintf(
		"Label this exchange with a single lowercase topic word (for example: weather, travel, cooking).\n\nQ: %s\nA: %s\n\nTopic:",
		truncate(question, 300), truncate(response, 300))

	result, err := p.client.GenerateSync(ctx, prompt)
	if err != nil {
		return "general"
	}

	topic := strings.ToLower(firstWord(result.Response))
	if topic == "" {
		return "general"
	}
	return topic
}

// buildHistory is the updated context handed back to the caller: the
// bounded window plus the exchange that just happened.
func buildHistory(win *window.ContextWindow, question, response string) []models.ChatMessage {
	var history []models.ChatMessage
	if win != nil {
		if win.Compact != nil {
			history = append(history, models.ChatMessage{
				Role:    models.RoleSystem,
				Content: "Summary of earlier conversation: " + win.Compact.Summary,
			})
		}
		for _, msg := range win.Messages {
			history = append(history, models.ChatMessage{Role: msg.Role, Content: msg.Content})
		}
	}
	history = append(history,
		models.ChatMessage{Role: models.RoleUser, Content: question},
		models.ChatMessage{Role: models.RoleAssistant, Content: response},
	)
	return history
}
