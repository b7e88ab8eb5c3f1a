// Package hub implements the L2 authority: durable state, session
// allocation, cluster registry, join serialization, message caching,
// ACL evaluation and the per-mutation-kind handlers edges forward
// into (§4.2, §4.3, §4.7, §4.8).
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JoinTimeout is how long a joining edge has to call ConfirmJoin once
// it holds the lock (§4.7, §5 "Join timeout: 60 s").
const JoinTimeout = 60 * time.Second

// JoinWaitTimeout is how long a queued requestJoin waits for the lock
// before giving up (§4.7, §5 "pending-join wait timeout: 300 s").
const JoinWaitTimeout = 300 * time.Second

// ErrJoinBusy is returned when the wait queue itself times out before
// the lock is acquired.
var ErrJoinBusy = errors.New("hub: join wait timeout exceeded")

// ErrBadToken is returned by ConfirmJoin/CancelJoin for an unknown or
// already-resolved token.
var ErrBadToken = errors.New("hub: unknown or expired join token")

// ErrIncompletePeers is returned when ConfirmJoin's connected_peers
// does not cover every current peer.
var ErrIncompletePeers = errors.New("hub: connected_peers does not cover all current peers")

type pendingJoin struct {
	token     uuid.UUID
	edgeID    string
	deadline  time.Time
	resolved  chan struct{}
}

// JoinCoordinator serializes cluster joins: at most one active join
// at a time, a bounded wait queue, and a per-join deadline (§4.7, §8
// property 6).
type JoinCoordinator struct {
	registry *Registry

	mu      sync.Mutex
	current *pendingJoin
	queue   []chan struct{}
}

// NewJoinCoordinator builds a coordinator that consults registry for
// the current peer set.
func NewJoinCoordinator(registry *Registry) *JoinCoordinator {
	return &JoinCoordinator{registry: registry}
}

// RequestJoin blocks until this edge holds the join lock (or the 300 s
// wait times out), then returns a token and the peer set the edge
// must confirm connectivity to.
func (j *JoinCoordinator) RequestJoin(ctx context.Context, edgeID string) (token uuid.UUID, peers []EdgeInfo, err error) {
	turn := make(chan struct{})

	j.mu.Lock()
	if j.current == nil {
		close(turn) // our turn immediately
	} else {
		j.queue = append(j.queue, turn)
	}
	j.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, JoinWaitTimeout)
	defer cancel()

	select {
	case <-turn:
	case <-waitCtx.Done():
		j.dequeue(turn)
		return uuid.UUID{}, nil, ErrJoinBusy
	}

	j.mu.Lock()
	pj := &pendingJoin{
		token:    uuid.New(),
		edgeID:   edgeID,
		deadline: time.Now().Add(JoinTimeout),
		resolved: make(chan struct{}),
	}
	j.current = pj
	j.mu.Unlock()

	go j.expireAfterTimeout(pj)

	return pj.token, j.registry.Peers(), nil
}

// ConfirmJoin validates that connectedPeers covers every current
// peer, then releases the lock and advances the queue.
func (j *JoinCoordinator) ConfirmJoin(token uuid.UUID, connectedPeers []string) error {
	j.mu.Lock()
	pj := j.current
	j.mu.Unlock()

	if pj == nil || pj.token != token {
		return ErrBadToken
	}

	required := j.registry.Peers()
	have := make(map[string]bool, len(connectedPeers))
	for _, id := range connectedPeers {
		have[id] = true
	}
	for _, p := range required {
		if p.EdgeID == pj.edgeID {
			continue
		}
		if !have[p.EdgeID] {
			return ErrIncompletePeers
		}
	}

	j.release(pj)
	return nil
}

// CancelJoin releases the lock early (the edge gave up) and advances
// the queue, same as a timeout.
func (j *JoinCoordinator) CancelJoin(token uuid.UUID) error {
	j.mu.Lock()
	pj := j.current
	j.mu.Unlock()
	if pj == nil || pj.token != token {
		return ErrBadToken
	}
	j.release(pj)
	return nil
}

func (j *JoinCoordinator) expireAfterTimeout(pj *pendingJoin) {
	timer := time.NewTimer(JoinTimeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		j.release(pj)
	case <-pj.resolved:
	}
}

func (j *JoinCoordinator) release(pj *pendingJoin) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.current != pj {
		return // already released by the other path
	}
	select {
	case <-pj.resolved:
	default:
		close(pj.resolved)
	}
	j.current = nil

	if len(j.queue) > 0 {
		next := j.queue[0]
		j.queue = j.queue[1:]
		close(next)
	}
}

func (j *JoinCoordinator) dequeue(turn chan struct{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, t := range j.queue {
		if t == turn {
			j.queue = append(j.queue[:i], j.queue[i+1:]...)
			return
		}
	}
}
