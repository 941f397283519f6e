package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFlow() *Flow {
	return &Flow{
		ID:          "flow-1",
		Name:        "Welcome sequence",
		Version:     1,
		Status:      FlowStatusPublished,
		StartNodeID: "a",
		Nodes: []Node{
			{ID: "a", Type: NodeTypeSendEmail, Next: []Edge{{To: "b"}}},
			{ID: "b", Type: NodeTypeWait, DelayMs: 1000, Next: []Edge{{To: "c"}}},
			{ID: "c", Type: NodeTypeEnd},
		},
	}
}

func TestValidateGraph(t *testing.T) {
	t.Run("valid graph", func(t *testing.T) {
		require.NoError(t, validFlow().ValidateGraph())
	})

	t.Run("duplicate node id", func(t *testing.T) {
		f := validFlow()
		f.Nodes = append(f.Nodes, Node{ID: "a", Type: NodeTypeEnd})
		assert.ErrorContains(t, f.ValidateGraph(), "duplicate node id")
	})

	t.Run("missing start node", func(t *testing.T) {
		f := validFlow()
		f.StartNodeID = "ghost"
		assert.ErrorContains(t, f.ValidateGraph(), "start node")
	})

	t.Run("dangling edge target", func(t *testing.T) {
		f := validFlow()
		f.Nodes[2].Next = []Edge{{To: "ghost"}}
		assert.ErrorContains(t, f.ValidateGraph(), "edge target")
	})
}

func TestNodeByID(t *testing.T) {
	f := validFlow()

	node, ok := f.NodeByID("b")
	require.True(t, ok)
	assert.Equal(t, NodeTypeWait, node.Type)

	_, ok = f.NodeByID("ghost")
	assert.False(t, ok)
}

func TestNodeDelay(t *testing.T) {
	assert.Equal(t, time.Second, (&Node{DelayMs: 1000}).Delay())
	assert.Equal(t, time.Duration(0), (&Node{}).Delay())
	assert.Equal(t, time.Duration(0), (&Node{DelayMs: -5}).Delay())
}

func TestAppendHistory(t *testing.T) {
	state := &RecipientState{CampaignID: "c1", RecipientEmail: "ana@example.com"}

	state.AppendHistory("a", HistoryEventSent, map[string]any{"messageId": "m1"})
	state.AppendHistory("b", HistoryEventWait, nil)

	require.Len(t, state.History, 2)
	assert.Equal(t, HistoryEventSent, state.History[0].Event)
	assert.Equal(t, "m1", state.History[0].Details["messageId"])
	assert.False(t, state.History[0].Timestamp.IsZero())
	assert.Equal(t, "b", state.History[1].NodeID)
}

func TestCampaignIsRunning(t *testing.T) {
	assert.True(t, (&Campaign{Status: CampaignStatusRunning}).IsRunning())
	assert.False(t, (&Campaign{Status: CampaignStatusPaused}).IsRunning())
}
