// Package models defines the core domain models for campaign flow automation.
package models

import (
	"fmt"
	"time"

	"github.com/dukex/mailflow/pkg/condition"
)

// FlowStatus represents the lifecycle state of an automation flow.
type FlowStatus string

const (
	FlowStatusDraft     FlowStatus = "draft"     // Editable, not executable
	FlowStatusPublished FlowStatus = "published" // Immutable, referenced by campaigns
)

// NodeType identifies the behavior of a flow node. The string values are a
// wire contract with the visual flow editor and must not change.
type NodeType string

const (
	NodeTypeSendEmail NodeType = "sendEmail"
	NodeTypeWait      NodeType = "wait"
	NodeTypeCondition NodeType = "conditionReply"
	NodeTypeEnd       NodeType = "end"
)

// BranchTag labels an outgoing edge of a condition node. Untagged edges fall
// back to the positional convention: index 0 is the replied branch, index 1
// the not-replied branch.
type BranchTag string

const (
	BranchReplied    BranchTag = "replied"
	BranchNotReplied BranchTag = "notReplied"
)

// Edge is a directed link to another node. When carries a guard that only the
// form-flow walker evaluates; the automation executor selects edges by Branch
// tag or position instead.
type Edge struct {
	To     string               `json:"to"               validate:"required"`
	Branch BranchTag            `json:"branch,omitempty"`
	When   *condition.Condition `json:"when,omitempty"`
}

// EmailContent is an inline subject/body pair carried by a send node.
type EmailContent struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Node is a typed step in a flow graph.
type Node struct {
	ID         string        `json:"id"                   validate:"required"`
	Type       NodeType      `json:"type"                 validate:"required"`
	Title      string        `json:"title,omitempty"`
	TemplateID string        `json:"templateId,omitempty"` // Bound email template, send nodes only
	Template   *EmailContent `json:"template,omitempty"`   // Inline template, send nodes only
	DelayMs    int64         `json:"delayMs,omitempty"`    // Wait nodes only
	Next       []Edge        `json:"next,omitempty"`
}

// Delay returns the wait duration of the node, zero when unset.
func (n *Node) Delay() time.Duration {
	if n.DelayMs <= 0 {
		return 0
	}

	return time.Duration(n.DelayMs) * time.Millisecond
}

// Flow is a versioned directed graph of nodes describing a recipient journey.
// Campaigns pin a (ID, Version) pair, so published versions are immutable and
// editing a flow never affects running campaigns.
type Flow struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"         validate:"required,min=3"`
	Version     int        `json:"version"`
	Status      FlowStatus `json:"status"       validate:"required"`
	StartNodeID string     `json:"startNodeId"  validate:"required"`
	Nodes       []Node     `json:"nodes"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// NodeByID resolves a node within this flow version.
func (f *Flow) NodeByID(id string) (*Node, bool) {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i], true
		}
	}

	return nil, false
}

// ValidateGraph checks the structural invariants of the flow graph: node IDs
// are unique within the version, the start node exists, and every edge target
// references a node in the same version.
func (f *Flow) ValidateGraph() error {
	seen := make(map[string]struct{}, len(f.Nodes))

	for i := range f.Nodes {
		id := f.Nodes[i].ID
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate node id %q in flow %s version %d", id, f.ID, f.Version)
		}

		seen[id] = struct{}{}
	}

	if _, ok := seen[f.StartNodeID]; !ok {
		return fmt.Errorf("start node %q not found in flow %s version %d", f.StartNodeID, f.ID, f.Version)
	}

	for i := range f.Nodes {
		for _, edge := range f.Nodes[i].Next {
			if _, ok := seen[edge.To]; !ok {
				return fmt.Errorf("edge target %q from node %q not found in flow %s version %d",
					edge.To, f.Nodes[i].ID, f.ID, f.Version)
			}
		}
	}

	return nil
}
