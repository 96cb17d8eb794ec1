// Package router implements the job message router: it maps an inbound
// (jobId, tag) pair to the right local job instance. Follows a
// header-then-dispatch message shape, generalized from batch-request codes
// to the platform's job-scoped tag set defined in internal/transport.
package router

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/xinlaoda/mallob-go/internal/jobsm"
	"github.com/xinlaoda/mallob-go/internal/transport"
)

// Target is anything the router can deliver a message to: in practice the
// daemon's wrapper around a job's jobsm.StateMachine, kept as an interface so
// tests can substitute a recorder.
type Target interface {
	Communicate(source transport.Rank, msg transport.Message) error
	State() jobsm.State
}

// Router maps job ids to their local Target and dispatches inbound messages
// to the right one, dropping silently when the job is unknown or PAST.
type Router struct {
	mu      sync.RWMutex
	targets map[int]Target
	log     *logrus.Entry
}

// New creates an empty Router. log may be nil, in which case dropped
// messages are not logged.
func New(log *logrus.Entry) *Router {
	return &Router{
		targets: make(map[int]Target),
		log:     log,
	}
}

// Register associates a jobId with the Target that should receive its
// messages. Registering an id that is already present replaces the prior
// target, matching a job's re-commit after a prior PAST incarnation is
// never expected to happen but is not itself an error here.
func (r *Router) Register(jobID int, t Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[jobID] = t
}

// Unregister removes a job's target, e.g. once it has gone PAST and its
// state machine is being torn down.
func (r *Router) Unregister(jobID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, jobID)
}

// Route delivers msg to the job it names, if that job is known and not
// PAST; otherwise the message is dropped silently.
func (r *Router) Route(source transport.Rank, msg transport.Message) {
	r.mu.RLock()
	t, ok := r.targets[msg.JobID]
	r.mu.RUnlock()

	if !ok {
		r.drop(msg, "unknown job")
		return
	}
	if t.State() == jobsm.StatePast {
		r.drop(msg, "job is PAST")
		return
	}
	if err := t.Communicate(source, msg); err != nil && r.log != nil {
		r.log.WithFields(logrus.Fields{
			"job": msg.JobID,
			"tag": msg.Tag,
		}).WithError(err).Warn("job rejected message")
	}
}

func (r *Router) drop(msg transport.Message, reason string) {
	if r.log == nil {
		return
	}
	r.log.WithFields(logrus.Fields{
		"job": msg.JobID,
		"tag": msg.Tag,
	}).Debugf("dropping message: %s", reason)
}

// Pump reads messages off t until the channel is drained of currently
// buffered messages (one non-blocking pass), routing each. It is meant to
// be called once per main-loop tick.
func (r *Router) Pump(t transport.Transport) int {
	n := 0
	for {
		msg, ok := t.TryRecv()
		if !ok {
			return n
		}
		r.Route(msg.Source, msg)
		n++
	}
}
