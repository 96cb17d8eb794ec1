package tree

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xinlaoda/mallob-go/internal/transport"
)

// pumpGrower drains t's inbox into g's Communicate until ctx is done,
// standing in for a remote process's own scheduler main loop.
func pumpGrower(ctx context.Context, t transport.Transport, g *Grower) {
	for {
		msg, err := t.Recv(ctx)
		if err != nil {
			return
		}
		_, _ = g.Communicate(msg.Source, msg)
	}
}

func idleRankCycler(ranks ...transport.Rank) func() (transport.Rank, bool) {
	i := 0
	return func() (transport.Rank, bool) {
		if i >= len(ranks) {
			return transport.Unset, false
		}
		r := ranks[i]
		i++
		return r, true
	}
}

func TestGrower_JoinRequestGrowsTreeAcrossRanks(t *testing.T) {
	fleet := transport.NewFleet(3)
	const jobID = 7

	rootNode := NewNode(jobID)
	rootNode.RootRank = fleet[0].Self()
	root := NewGrower(rootNode, fleet[0], nil)
	root.SetIdleRankSource(idleRankCycler(fleet[1].Self(), fleet[2].Self()))

	leftNode := NewUnassignedNode(jobID)
	left := NewGrower(leftNode, fleet[1], nil)
	rightNode := NewUnassignedNode(jobID)
	right := NewGrower(rightNode, fleet[2], nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go pumpGrower(ctx, fleet[1], left)
	go pumpGrower(ctx, fleet[2], right)

	require.NoError(t, root.Reconcile(3)) // indices 0,1,2 should all exist

	require.Eventually(t, func() bool {
		for {
			msg, ok := fleet[0].TryRecv()
			if !ok {
				break
			}
			_, err := root.Communicate(msg.Source, msg)
			require.NoError(t, err)
		}
		return rootNode.LeftChildRank != transport.Unset && rootNode.RightChildRank != transport.Unset
	}, time.Second, time.Millisecond)

	assert.Equal(t, fleet[1].Self(), rootNode.LeftChildRank)
	assert.Equal(t, fleet[2].Self(), rootNode.RightChildRank)
	assert.Equal(t, LeftChildIndex(0), leftNode.Index)
	assert.Equal(t, fleet[0].Self(), leftNode.ParentRank)
	assert.Equal(t, RightChildIndex(0), rightNode.Index)
	assert.Equal(t, fleet[0].Self(), rightNode.ParentRank)
}

func TestGrower_ShrinkReleasesChildAndReassignsPrefix(t *testing.T) {
	fleet := transport.NewFleet(2)
	const jobID = 9

	rootNode := NewNode(jobID)
	rootNode.RootRank = fleet[0].Self()
	rootNode.LeftChildRank = fleet[1].Self()
	root := NewGrower(rootNode, fleet[0], nil)

	leafNode := NewNode(jobID)
	leafNode.Index = LeftChildIndex(0)
	leafNode.RootRank = fleet[0].Self()
	leafNode.ParentRank = fleet[0].Self()
	leaf := NewGrower(leafNode, fleet[1], nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go pumpGrower(ctx, fleet[1], leaf)

	require.NoError(t, root.Reconcile(1)) // only the root itself should remain

	require.Eventually(t, func() bool {
		for {
			msg, ok := fleet[0].TryRecv()
			if !ok {
				break
			}
			_, err := root.Communicate(msg.Source, msg)
			require.NoError(t, err)
		}
		return rootNode.LeftChildRank == transport.Unset
	}, time.Second, time.Millisecond)

	assert.True(t, IsPrefixWellFormed([]int{rootNode.Index}))
}

func TestGrower_ReconcileUnassignedNodeIsNoop(t *testing.T) {
	fleet := transport.NewFleet(1)
	g := NewGrower(NewUnassignedNode(3), fleet[0], nil)
	assert.NoError(t, g.Reconcile(4))
}
