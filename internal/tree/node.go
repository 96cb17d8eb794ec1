// Package tree implements the per-job binary tree overlay and the balancer
// protocol that grows or shrinks it to a computed target volume. It follows
// a sort-then-assign shape, generalized from a flat job-to-node mapping
// into level-order tree growth.
package tree

import (
	"fmt"

	"github.com/xinlaoda/mallob-go/internal/jobsm"
	"github.com/xinlaoda/mallob-go/internal/transport"
)

// Node is one process's view of its position in a job's binary tree.
// index 0 is the root; parent = (index-1)/2; children = 2*index+1,
// 2*index+2.
type Node struct {
	JobID int
	Index int

	RootRank       transport.Rank
	ParentRank     transport.Rank
	LeftChildRank  transport.Rank
	RightChildRank transport.Rank

	Volume int

	State jobsm.State
}

// NewNode creates a Node at the root position (index 0) with unset ranks.
func NewNode(jobID int) *Node {
	return &Node{
		JobID:          jobID,
		Index:          0,
		RootRank:       transport.Unset,
		ParentRank:     transport.Unset,
		LeftChildRank:  transport.Unset,
		RightChildRank: transport.Unset,
		State:          jobsm.StateInactive,
	}
}

// unassignedIndex marks a Node not yet part of any tree: a process that is
// idle with respect to this job, waiting to adopt whatever level-order
// index an incoming JoinRequest offers it.
const unassignedIndex = -1

// NewUnassignedNode creates a Node for a process that does not yet hold a
// position in jobID's tree. Grower.Communicate fills in Index/RootRank/
// ParentRank once a JoinRequest arrives.
func NewUnassignedNode(jobID int) *Node {
	return &Node{
		JobID:          jobID,
		Index:          unassignedIndex,
		RootRank:       transport.Unset,
		ParentRank:     transport.Unset,
		LeftChildRank:  transport.Unset,
		RightChildRank: transport.Unset,
		State:          jobsm.StateInactive,
	}
}

// ParentIndex returns this node's parent's level-order index, or -1 at the root.
func ParentIndex(index int) int {
	if index == 0 {
		return -1
	}
	return (index - 1) / 2
}

// LeftChildIndex and RightChildIndex return the level-order indices of a
// node's children.
func LeftChildIndex(index int) int  { return 2*index + 1 }
func RightChildIndex(index int) int { return 2*index + 2 }

// ClearChildRanks unsets both child ranks. A node carries no child ranks
// while PAST or STANDBY.
func (n *Node) ClearChildRanks() {
	n.LeftChildRank = transport.Unset
	n.RightChildRank = transport.Unset
}

// UpdateState applies a PAST/STANDBY child-rank-clearing side effect
// whenever the node enters one of those states.
func (n *Node) UpdateState(s jobsm.State) {
	n.State = s
	if s == jobsm.StatePast || s == jobsm.StateStandby {
		n.ClearChildRanks()
	}
}

func (n *Node) String() string {
	return fmt.Sprintf("tree.Node{job=%d index=%d state=%s volume=%d}", n.JobID, n.Index, n.State, n.Volume)
}

// IsPrefixWellFormed checks that, for a set of occupied indices of size V,
// they are exactly {0, 1, ..., V-1}, a prefix of level-order indices.
// occupied need not be sorted.
func IsPrefixWellFormed(occupied []int) bool {
	seen := make(map[int]bool, len(occupied))
	maxIdx := -1
	for _, idx := range occupied {
		if seen[idx] {
			return false // duplicate index, not a valid tree
		}
		seen[idx] = true
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	if maxIdx+1 != len(occupied) {
		return false
	}
	for i := 0; i <= maxIdx; i++ {
		if !seen[i] {
			return false
		}
	}
	return true
}
