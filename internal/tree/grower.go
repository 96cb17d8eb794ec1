package tree

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"

	"github.com/xinlaoda/mallob-go/internal/transport"
)

// Grower drives one process's share of the tree growth/shrink protocol for
// a single job: a node may emit a JoinRequest toward an unoccupied child
// slot, and leaves release themselves toward INACTIVE and notify their
// parent. It follows a compute-a-target-then-act-on-the-delta dispatch
// idiom, generalized here from a flat job-to-node assignment into a
// recursive per-node protocol carried entirely over transport.Message.
//
// Index reassignment on churn falls out of the protocol rather than being
// a separate step: growth always offers the next unfilled level-order slot
// (left child before right), and a node only releases itself when its own
// index falls outside the new target — which, by level-order numbering,
// can only be true for the deepest occupied nodes. The occupied set is
// therefore always the required prefix {0, ..., V-1}; no live node ever
// needs to be renumbered in place.
type Grower struct {
	node *Node
	t    transport.Transport
	log  *logrus.Entry

	candidate func() (transport.Rank, bool)

	pendingLeft  bool
	pendingRight bool
}

// NewGrower wraps node for growth/shrink participation over t. Call
// SetIdleRankSource to let this node actually emit JoinRequests; without
// one, Reconcile still runs (and forwards volume updates to existing
// children) but never grows, which matches a single-rank deployment
// where there is nowhere to grow into.
func NewGrower(node *Node, t transport.Transport, log *logrus.Entry) *Grower {
	if log != nil {
		log = log.WithField("component", "tree-grower")
	}
	return &Grower{node: node, t: t, log: log}
}

// SetIdleRankSource installs the callback Reconcile uses to find a
// process willing to host a new child slot. It must return ok=false when
// no idle rank is currently known.
func (g *Grower) SetIdleRankSource(src func() (transport.Rank, bool)) {
	g.candidate = src
}

func encodeVolume(v int) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(int32(v)))
	return buf
}

func decodeVolume(b []byte) int {
	if len(b) < 4 {
		return 0
	}
	return int(int32(binary.LittleEndian.Uint32(b)))
}

func encodeJoin(index int, root transport.Rank) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(index)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(int32(root)))
	return buf
}

func decodeJoin(b []byte) (index int, root transport.Rank) {
	if len(b) < 8 {
		return 0, transport.Unset
	}
	index = int(int32(binary.LittleEndian.Uint32(b[0:4])))
	root = transport.Rank(int32(binary.LittleEndian.Uint32(b[4:8])))
	return index, root
}

// Reconcile pushes a freshly computed target volume through this node: it
// releases itself if it has fallen outside the target, otherwise it grows
// toward unoccupied child slots within the target and forwards the target
// on to children it already has.
func (g *Grower) Reconcile(target int) error {
	n := g.node
	if n.Index == unassignedIndex {
		return nil
	}
	if n.Index >= target {
		if n.ParentRank != transport.Unset {
			if err := g.t.Send(n.ParentRank, transport.Message{
				JobID: n.JobID, Tag: transport.TagJoinReject,
				Source: g.t.Self(), Payload: encodeJoin(n.Index, n.RootRank),
			}); err != nil {
				return err
			}
		}
		n.ClearChildRanks()
		return nil
	}

	if err := g.reconcileChild(LeftChildIndex(n.Index), target, &n.LeftChildRank, &g.pendingLeft); err != nil {
		return err
	}
	return g.reconcileChild(RightChildIndex(n.Index), target, &n.RightChildRank, &g.pendingRight)
}

func (g *Grower) reconcileChild(childIdx, target int, rank *transport.Rank, pending *bool) error {
	n := g.node
	if *rank != transport.Unset {
		return g.t.Send(*rank, transport.Message{
			JobID: n.JobID, Tag: transport.TagVolumeUpdate,
			Source: g.t.Self(), Payload: encodeVolume(target),
		})
	}
	if childIdx >= target || *pending || g.candidate == nil {
		return nil
	}
	r, ok := g.candidate()
	if !ok {
		return nil
	}
	*pending = true
	if g.log != nil {
		g.log.WithField("job", n.JobID).WithField("index", childIdx).WithField("candidate", r).Debug("emitting join request")
	}
	return g.t.Send(r, transport.Message{
		JobID: n.JobID, Tag: transport.TagJoinRequest,
		Source: g.t.Self(), Payload: encodeJoin(childIdx, n.RootRank),
	})
}

// Communicate handles this node's share of the join/volume-update
// protocol. ok is false for tags outside this protocol so a caller that
// layers application-level Communicate on top can fall through to it.
func (g *Grower) Communicate(source transport.Rank, msg transport.Message) (ok bool, err error) {
	n := g.node
	switch msg.Tag {
	case transport.TagJoinRequest:
		index, root := decodeJoin(msg.Payload)
		n.Index = index
		n.RootRank = root
		n.ParentRank = source
		return true, g.t.Send(source, transport.Message{
			JobID: n.JobID, Tag: transport.TagJoinAccept,
			Source: g.t.Self(), Payload: encodeJoin(index, root),
		})

	case transport.TagJoinAccept:
		index, _ := decodeJoin(msg.Payload)
		switch index {
		case LeftChildIndex(n.Index):
			n.LeftChildRank = source
			g.pendingLeft = false
		case RightChildIndex(n.Index):
			n.RightChildRank = source
			g.pendingRight = false
		}
		return true, nil

	case transport.TagJoinReject:
		index, _ := decodeJoin(msg.Payload)
		switch index {
		case LeftChildIndex(n.Index):
			n.LeftChildRank = transport.Unset
			g.pendingLeft = false
		case RightChildIndex(n.Index):
			n.RightChildRank = transport.Unset
			g.pendingRight = false
		}
		return true, nil

	case transport.TagVolumeUpdate:
		target := decodeVolume(msg.Payload)
		return true, g.Reconcile(target)

	default:
		return false, nil
	}
}
