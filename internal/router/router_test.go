package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xinlaoda/mallob-go/internal/jobsm"
	"github.com/xinlaoda/mallob-go/internal/transport"
)

type recordingTarget struct {
	state    jobsm.State
	received []transport.Message
}

func (r *recordingTarget) Communicate(source transport.Rank, msg transport.Message) error {
	r.received = append(r.received, msg)
	return nil
}

func (r *recordingTarget) State() jobsm.State { return r.state }

func TestRouter_DeliversToActiveJob(t *testing.T) {
	r := New(nil)
	tgt := &recordingTarget{state: jobsm.StateActive}
	r.Register(7, tgt)

	r.Route(3, transport.Message{JobID: 7, Tag: transport.TagVolumeUpdate})

	require.Len(t, tgt.received, 1)
	assert.Equal(t, transport.TagVolumeUpdate, tgt.received[0].Tag)
}

func TestRouter_DropsUnknownJob(t *testing.T) {
	r := New(nil)
	// Should not panic and should not deliver anywhere.
	r.Route(3, transport.Message{JobID: 99, Tag: transport.TagJoinRequest})
}

func TestRouter_DropsPastJob(t *testing.T) {
	r := New(nil)
	tgt := &recordingTarget{state: jobsm.StatePast}
	r.Register(7, tgt)

	r.Route(3, transport.Message{JobID: 7, Tag: transport.TagCubeSend})

	assert.Empty(t, tgt.received)
}

func TestRouter_UnregisterStopsDelivery(t *testing.T) {
	r := New(nil)
	tgt := &recordingTarget{state: jobsm.StateActive}
	r.Register(7, tgt)
	r.Unregister(7)

	r.Route(3, transport.Message{JobID: 7, Tag: transport.TagCubeSend})

	assert.Empty(t, tgt.received)
}

func TestRouter_PumpDrainsTransport(t *testing.T) {
	fleet := transport.NewFleet(2)
	r := New(nil)
	tgt := &recordingTarget{state: jobsm.StateActive}
	r.Register(1, tgt)

	require.NoError(t, fleet[1].Send(0, transport.Message{JobID: 1, Tag: transport.TagJoinAccept}))
	require.NoError(t, fleet[1].Send(0, transport.Message{JobID: 1, Tag: transport.TagVolumeUpdate}))

	n := r.Pump(fleet[0])
	assert.Equal(t, 2, n)
	assert.Len(t, tgt.received, 2)
}
