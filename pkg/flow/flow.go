// Package flow implements graph walking over automation and form flows.
//
// Both flow kinds share one graph shape (typed nodes with ordered outgoing
// edges) but select edges differently: form flows take the first edge whose
// guard matches the submitted state, while automation condition nodes pick
// the replied / not-replied branch. Each strategy lives here next to the
// graph helpers so the interpreters cannot drift apart.
package flow

import (
	"fmt"

	"github.com/dukex/mailflow/pkg/condition"
	"github.com/dukex/mailflow/pkg/models"
)

// Step is the outcome of advancing a form-flow instance by one node.
type Step struct {
	NextNodeID string
	Completed  bool
}

// NextFormNode advances a form flow from the current node using
// first-guard-match edge selection: edges are evaluated in declared order and
// the first whose guard is satisfied (or absent) wins. When no edge matches
// but exactly one guard-less edge exists, that edge is the default. When
// nothing matches the instance is deemed complete even without reaching an
// explicit end node; this implicit termination is long-standing observed
// behavior that form authors rely on.
func NextFormNode(f *models.Flow, currentNodeID string, state map[string]any) (Step, error) {
	node, ok := f.NodeByID(currentNodeID)
	if !ok {
		return Step{}, fmt.Errorf("node %s not found in flow %s version %d", currentNodeID, f.ID, f.Version)
	}

	if node.Type == models.NodeTypeEnd {
		return Step{Completed: true}, nil
	}

	for _, edge := range node.Next {
		if condition.Evaluate(state, edge.When) {
			return resolveTarget(f, edge.To)
		}
	}

	if len(node.Next) == 1 && node.Next[0].When == nil {
		return resolveTarget(f, node.Next[0].To)
	}

	return Step{Completed: true}, nil
}

func resolveTarget(f *models.Flow, targetID string) (Step, error) {
	target, ok := f.NodeByID(targetID)
	if !ok {
		return Step{}, fmt.Errorf("edge target %s not found in flow %s version %d", targetID, f.ID, f.Version)
	}

	if target.Type == models.NodeTypeEnd {
		return Step{Completed: true}, nil
	}

	return Step{NextNodeID: target.ID}, nil
}

// BranchTarget selects the outgoing edge of a condition node for the given
// reply outcome. Tagged edges take precedence; untagged edge lists fall back
// to the positional convention (index 0 replied, index 1 not replied) that
// older flow definitions encode. The second return is false when the selected
// branch does not exist, which silently stops the recipient's instance.
func BranchTarget(node *models.Node, replied bool) (string, bool) {
	want := models.BranchNotReplied
	if replied {
		want = models.BranchReplied
	}

	tagged := false

	for _, edge := range node.Next {
		if edge.Branch != "" {
			tagged = true
		}

		if edge.Branch == want {
			return edge.To, true
		}
	}

	if tagged {
		return "", false
	}

	idx := 1
	if replied {
		idx = 0
	}

	if idx >= len(node.Next) {
		return "", false
	}

	return node.Next[idx].To, true
}
