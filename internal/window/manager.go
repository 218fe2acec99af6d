// Package window manages the conversation context window: it decides
// when a conversation crosses a compaction boundary, builds the
// compact-plus-tail context handed to the model, and produces new
// compacts in the background.
package window

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aria-assistant/aria/internal/models"
	"github.com/aria-assistant/aria/internal/store"
)

// Store is the slice of the persistence layer the window manager needs.
type Store interface {
	MessageCount(ctx context.Context, userID, convID string) (int, error)
	MessagesAfter(ctx context.Context, userID, convID string, boundary int) ([]models.Message, error)
	MessagesBetween(ctx context.Context, userID, convID string, lo, hi int) ([]models.Message, error)
	CompactAtBoundary(ctx context.Context, userID, convID string, boundary int) (*models.Compact, error)
	LatestCompactAtOrBelow(ctx context.Context, userID, convID string, boundary int) (*models.Compact, error)
	InsertCompact(ctx context.Context, userID string, compact *models.Compact) error
}

// Summarizer produces a plain-text completion for a prompt.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// ContextWindow is what the pipeline sends to the model in place of
// full history: at most one compact summary plus the uncompacted tail.
type ContextWindow struct {
	Compact  *models.Compact
	Messages []models.Message
}

// Manager implements boundary arithmetic and compaction.
type Manager struct {
	store      Store
	summarizer Summarizer
	locker     Locker
	topics     *TopicGraph
	interval   int
	logger     zerolog.Logger
}

// NewManager creates a window manager. topics may be nil; topic graph
// writes are then skipped.
func NewManager(store Store, summarizer Summarizer, locker Locker, topics *TopicGraph, interval int, logger zerolog.Logger) *Manager {
	if locker == nil {
		locker = NopLocker{}
	}
	return &Manager{
		store:      store,
		summarizer: summarizer,
		locker:     locker,
		topics:     topics,
		interval:   interval,
		logger:     logger.With().Str("component", "window").Logger(),
	}
}

// Boundary returns the greatest multiple of the window interval that is
// <= messageCount. Zero means no boundary has been crossed yet.
func (m *Manager) Boundary(messageCount int) int {
	return messageCount / m.interval * m.interval
}

// ShouldCompact reports whether the conversation has crossed a boundary
// that does not have a compact yet, and which boundary that is.
func (m *Manager) ShouldCompact(ctx context.Context, userID, convID string) (int, bool, error) {
	count, err := m.store.MessageCount(ctx, userID, convID)
	if err != nil {
		return 0, false, err
	}

	boundary := m.Boundary(count)
	if boundary == 0 {
		return 0, false, nil
	}

	existing, err := m.store.CompactAtBoundary(ctx, userID, convID, boundary)
	if err != nil {
		return 0, false, err
	}
	return boundary, existing == nil, nil
}

// BuildContext assembles the context window for the next model call.
// The compact at the current boundary is preferred; when compaction has
// not caught up yet, the most recent earlier compact is used so the
// summary and the message tail never overlap.
func (m *Manager) BuildContext(ctx context.Context, userID, convID string) (*ContextWindow, error) {
	count, err := m.store.MessageCount(ctx, userID, convID)
	if err != nil {
		return nil, err
	}

	boundary := m.Boundary(count)

	var compact *models.Compact
	if boundary > 0 {
		compact, err = m.store.CompactAtBoundary(ctx, userID, convID, boundary)
		if err != nil {
			return nil, err
		}
		if compact == nil {
			compact, err = m.store.LatestCompactAtOrBelow(ctx, userID, convID, boundary)
			if err != nil {
				return nil, err
			}
		}
	}

	from := 0
	if compact != nil {
		from = compact.MessagesUpTo
	}

	messages, err := m.store.MessagesAfter(ctx, userID, convID, from)
	if err != nil {
		return nil, err
	}

	return &ContextWindow{Compact: compact, Messages: messages}, nil
}

// CreateCompact summarizes the conversation up to boundary and persists
// the compact. It is safe to call concurrently for the same boundary:
// the advisory lock keeps workers from duplicating the summarization
// call, and the storage constraint resolves any remaining race. A
// summarizer failure leaves no compact row; the next boundary crossing
// retries.
func (m *Manager) CreateCompact(ctx context.Context, userID, convID string, boundary int) error {
	acquired, err := m.locker.Acquire(ctx, convID)
	if err != nil {
		m.logger.Warn().Err(err).Str("conversation", convID).Msg("lock unavailable, proceeding unlocked")
	} else if !acquired {
		m.logger.Debug().Str("conversation", convID).Msg("compaction already in progress")
		return nil
	} else {
		defer m.locker.Release(ctx, convID)
	}

	existing, err := m.store.CompactAtBoundary(ctx, userID, convID, boundary)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	prior, err := m.store.LatestCompactAtOrBelow(ctx, userID, convID, boundary-1)
	if err != nil {
		return err
	}

	lo := 1
	if prior != nil {
		lo = prior.MessagesUpTo + 1
	}
	messages, err := m.store.MessagesBetween(ctx, userID, convID, lo, boundary)
	if err != nil {
		return err
	}

	raw, err := m.summarizer.Summarize(ctx, buildSummaryPrompt(prior, messages))
	if err != nil {
		return fmt.Errorf("summarization failed: %w", err)
	}

	summary, topics := parseSummary(raw)
	if summary == "" {
		return fmt.Errorf("summarizer returned empty summary")
	}

	compact := &models.Compact{
		ID:             uuid.NewString(),
		ConversationID: convID,
		CreatedAt:      time.Now(),
		MessagesUpTo:   boundary,
		Summary:        summary,
		Topics:         topics,
	}

	if err := m.store.InsertCompact(ctx, userID, compact); err != nil {
		if errors.Is(err, store.ErrCompactExists) {
			return nil
		}
		return err
	}

	m.logger.Info().
		Str("conversation", convID).
		Int("boundary", boundary).
		Strs("topics", topics).
		Msg("created compact")

	if m.topics != nil {
		if err := m.topics.RecordCompact(ctx, userID, compact); err != nil {
			m.logger.Warn().Err(err).Str("conversation", convID).Msg("topic graph write failed")
		}
	}
	return nil
}

// buildSummaryPrompt produces the strict summarization prompt. The
// prior compact is folded in so each compact covers the conversation
// from the beginning.
func buildSummaryPrompt(prior *models.Compact, messages []models.Message) string {
	var b strings.Builder

	b.WriteString("Summarize the conversation below into a compact record for later recall.\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Use only information present in the conversation.\n")
	b.WriteString("- Preserve names, numbers, dates, and decisions exactly as stated.\n")
	b.WriteString("- Note unresolved questions and commitments.\n")
	b.WriteString("- Do not add advice, opinions, or information that was not discussed.\n")
	b.WriteString("- Write plain prose, no more than 250 words.\n")
	b.WriteString("- End with one line starting exactly with \"TOPICS DISCUSSED:\" followed by a comma-separated list of 1 to 5 short topic labels.\n\n")

	if prior != nil {
		b.WriteString("Summary of the conversation so far:\n")
		b.WriteString(prior.Summary)
		b.WriteString("\n\nNewer messages:\n")
	} else {
		b.WriteString("Conversation:\n")
	}

	for _, msg := range messages {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return b.String()
}

const topicsMarker = "TOPICS DISCUSSED:"

// lastIndexFold returns the byte offset of the last case-insensitive
// occurrence of substr in s, or -1. The offset is valid for slicing s,
// which an index into ToUpper(s) is not when uppercasing changes a
// rune's byte length.
func lastIndexFold(s, substr string) int {
	for i := len(s) - len(substr); i >= 0; i-- {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

// parseSummary splits the model output into summary text and topic
// labels. Output without the marker becomes a summary with the
// "general" topic.
func parseSummary(raw string) (string, []string) {
	raw = strings.TrimSpace(raw)

	idx := lastIndexFold(raw, topicsMarker)
	if idx < 0 {
		return raw, []string{"general"}
	}

	summary := strings.TrimSpace(raw[:idx])
	var topics []string
	for _, t := range strings.Split(raw[idx+len(topicsMarker):], ",") {
		t = strings.ToLower(strings.TrimSpace(strings.Trim(strings.TrimSpace(t), ".")))
		if t != "" {
			topics = append(topics, t)
		}
		if len(topics) == 5 {
			break
		}
	}
	if len(topics) == 0 {
		topics = []string{"general"}
	}
	return summary, topics
}
