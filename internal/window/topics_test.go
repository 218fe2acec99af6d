package window

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicNodeSurvivesQuotedNames(t *testing.T) {
	name := `say "hello" to dgraph`

	raw, err := json.Marshal(topicNode{
		UID:        "_:topic",
		Name:       name,
		User:       "alice",
		DgraphType: "Topic",
	})
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, name, decoded["topic.name"])
	assert.Equal(t, "alice", decoded["topic.user"])
}

func TestCompactNodeCarriesTopicRefs(t *testing.T) {
	raw, err := json.Marshal(compactNode{
		UID:          "_:compact",
		ID:           "c-1",
		Conversation: "conv-1",
		Boundary:     50,
		Created:      "2026-09-01T00:00:00Z",
		Covers:       uidRefs([]string{"0x1", "0x2"}),
		DgraphType:   "Compact",
	})
	require.NoError(t, err)

	var decoded struct {
		Conversation string `json:"compact.conversation"`
		Boundary     int    `json:"compact.boundary"`
		Covers       []struct {
			UID string `json:"uid"`
		} `json:"covers"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "conv-1", decoded.Conversation)
	assert.Equal(t, 50, decoded.Boundary)
	require.Len(t, decoded.Covers, 2)
	assert.Equal(t, "0x1", decoded.Covers[0].UID)
}
