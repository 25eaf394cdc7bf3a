package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

type fakeDocStore struct {
	byConversation map[string][]models.Message
	ids            map[string]bool
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{byConversation: map[string][]models.Message{}, ids: map[string]bool{}}
}

func (f *fakeDocStore) InsertMessage(_ context.Context, msg models.Message) (string, error) {
	if f.ids[msg.ID] {
		return msg.ID, nil
	}
	f.ids[msg.ID] = true
	f.byConversation[msg.ConversationID] = append(f.byConversation[msg.ConversationID], msg)
	return msg.ID, nil
}

func (f *fakeDocStore) ListMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	return f.byConversation[conversationID], nil
}

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func TestAppendMessageDedupesByID(t *testing.T) {
	docs := newFakeDocStore()
	mgr := NewManager(docs, wordCounter{}, nil, Config{}, nil)

	msg := models.Message{ID: "m1", ConversationID: "c1", Content: "hello there"}
	require.NoError(t, mgr.AppendMessage(context.Background(), msg))
	require.NoError(t, mgr.AppendMessage(context.Background(), msg))

	block, err := mgr.GetContext(context.Background(), "c1", 1000)
	require.NoError(t, err)
	assert.Len(t, block.Messages, 1)
}

func TestGetContextWithinBudgetReturnsAll(t *testing.T) {
	docs := newFakeDocStore()
	mgr := NewManager(docs, wordCounter{}, nil, Config{}, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, mgr.AppendMessage(context.Background(), models.Message{
			ID: "m" + string(rune('0'+i)), ConversationID: "c1", Content: "two words",
		}))
	}

	block, err := mgr.GetContext(context.Background(), "c1", 100)
	require.NoError(t, err)
	assert.Len(t, block.Messages, 3)
	assert.Equal(t, "", block.Summary)
	assert.Equal(t, 6, block.Tokens)
}

func TestGetContextOverBudgetWithoutSummaryTrims(t *testing.T) {
	docs := newFakeDocStore()
	mgr := NewManager(docs, wordCounter{}, nil, Config{}, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, mgr.AppendMessage(context.Background(), models.Message{
			ID: "m" + string(rune('0'+i)), ConversationID: "c1", Content: "one two three four",
		}))
	}

	block, err := mgr.GetContext(context.Background(), "c1", 5)
	require.NoError(t, err)
	assert.Equal(t, "", block.Summary)
	assert.LessOrEqual(t, block.Tokens, 5)
	require.NotEmpty(t, block.Messages)
	// the most recent message must survive the trim, not the oldest
	assert.Equal(t, "m4", block.Messages[len(block.Messages)-1].ID)
}

func TestGetContextOverBudgetUsesSummaryPrefix(t *testing.T) {
	docs := newFakeDocStore()
	mgr := NewManager(docs, wordCounter{}, nil, Config{}, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, mgr.AppendMessage(context.Background(), models.Message{
			ID: "m" + string(rune('0'+i)), ConversationID: "c1", Content: "one two three four",
		}))
	}
	mgr.SetExecutiveSummary("c1", "prior summary text")

	block, err := mgr.GetContext(context.Background(), "c1", 10)
	require.NoError(t, err)
	assert.Equal(t, "prior summary text", block.Summary)
	assert.NotEmpty(t, block.Messages)
	assert.Less(t, len(block.Messages), 5)
	// the most recent message must survive the trim, not the oldest
	assert.Equal(t, "m4", block.Messages[len(block.Messages)-1].ID)
}

func TestKeepNewestWithinBudgetPreservesOrder(t *testing.T) {
	messages := []models.Message{
		{ID: "a", Content: "one two"},
		{ID: "b", Content: "three four"},
		{ID: "c", Content: "five six"},
	}
	kept := keepNewestWithinBudget(messages, 4, wordCounter{})
	require.Len(t, kept, 2)
	assert.Equal(t, "b", kept[0].ID)
	assert.Equal(t, "c", kept[1].ID)
}

var _ ports.DocStore = (*fakeDocStore)(nil)
