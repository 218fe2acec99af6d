package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aria-assistant/aria/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "aria.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveInteractionAssignsSequentialSeqs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveInteraction(ctx, "alice", "conv-1", "First chat", "hello", "hi there"))
	require.NoError(t, s.SaveInteraction(ctx, "alice", "conv-1", "First chat", "how are you", "doing well"))

	count, err := s.MessageCount(ctx, "alice", "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	msgs, err := s.MessagesAfter(ctx, "alice", "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i, m := range msgs {
		assert.Equal(t, i+1, m.Seq)
	}
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "doing well", msgs[3].Content)
}

func TestMessageCountForUnknownConversation(t *testing.T) {
	s := newTestStore(t)

	count, err := s.MessageCount(context.Background(), "alice", "nope")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestUserIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveInteraction(ctx, "alice", "conv-1", "", "q", "a"))
	require.NoError(t, s.SaveInteraction(ctx, "bob", "conv-1", "", "other q", "other a"))

	msgs, err := s.MessagesAfter(ctx, "alice", "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "q", msgs[0].Content)
}

func TestMessagesAfterBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveInteraction(ctx, "alice", "conv-1", "",
			fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)))
	}

	msgs, err := s.MessagesAfter(ctx, "alice", "conv-1", 6)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, 7, msgs[0].Seq)
	assert.Equal(t, 10, msgs[3].Seq)
}

func TestInsertCompactIsIdempotentPerBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	compact := &models.Compact{
		ID:             uuid.NewString(),
		ConversationID: "conv-1",
		CreatedAt:      time.Now(),
		MessagesUpTo:   50,
		Summary:        "talked about the weather",
		Topics:         []string{"weather", "travel"},
	}
	require.NoError(t, s.InsertCompact(ctx, "alice", compact))

	dup := *compact
	dup.ID = uuid.NewString()
	dup.Summary = "a competing summary"
	err := s.InsertCompact(ctx, "alice", &dup)
	assert.ErrorIs(t, err, ErrCompactExists)

	got, err := s.CompactAtBoundary(ctx, "alice", "conv-1", 50)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "talked about the weather", got.Summary)
	assert.Equal(t, []string{"weather", "travel"}, got.Topics)
}

func TestLatestCompactLookups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, boundary := range []int{50, 100, 150} {
		require.NoError(t, s.InsertCompact(ctx, "alice", &models.Compact{
			ID:             uuid.NewString(),
			ConversationID: "conv-1",
			CreatedAt:      time.Now(),
			MessagesUpTo:   boundary,
			Summary:        fmt.Sprintf("up to %d", boundary),
		}))
	}

	latest, err := s.LatestCompactBoundary(ctx, "alice", "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 150, latest)

	got, err := s.LatestCompactAtOrBelow(ctx, "alice", "conv-1", 120)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 100, got.MessagesUpTo)

	none, err := s.CompactAtBoundary(ctx, "alice", "conv-1", 200)
	require.NoError(t, err)
	assert.Nil(t, none)

	empty, err := s.LatestCompactBoundary(ctx, "alice", "conv-other")
	require.NoError(t, err)
	assert.Equal(t, 0, empty)
}

func TestConversationUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveInteraction(ctx, "alice", "conv-1", "Trip planning", "q", "a"))
	require.NoError(t, s.SaveInteraction(ctx, "alice", "conv-1", "ignored on update", "q2", "a2"))

	conv, err := s.Conversation(ctx, "alice", "conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "Trip planning", conv.Title)
	assert.Equal(t, 4, conv.MessageCount)
}

func TestAuditLogRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordRun(ctx, &RunRecord{
		RequestID:      uuid.NewString(),
		UserID:         "alice",
		ConversationID: "conv-1",
		Route:          "tools_needed",
		Approved:       true,
		Duration:       1200 * time.Millisecond,
	}))
	require.NoError(t, s.RecordRun(ctx, &RunRecord{
		RequestID:   uuid.NewString(),
		UserID:      "alice",
		Route:       "capability_guard",
		GuardReason: "identity",
		Duration:    90 * time.Millisecond,
	}))

	runs, err := s.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "capability_guard", runs[0].Route)
	assert.Equal(t, "identity", runs[0].GuardReason)
	assert.False(t, runs[0].Approved)
	assert.Equal(t, "tools_needed", runs[1].Route)
	assert.Equal(t, 1200*time.Millisecond, runs[1].Duration)
}
