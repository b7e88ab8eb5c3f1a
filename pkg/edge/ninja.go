package edge

import (
	"sync"

	"github.com/grumble-cluster/grumble/pkg/acl"
	"github.com/grumble-cluster/grumble/pkg/mumbleproto"
)

// Ninja implements the channelNinja feature (§7): when a user enters a
// channel a viewer lacks Enter permission on, that viewer is sent a
// synthetic UserRemove instead of the real move, and is kept blind to
// mute/deaf/recording updates for as long as the subject stays hidden
// from them; moving into a channel the viewer can see triggers a
// fresh full UserState instead of a plain channel-id delta.
type Ninja struct {
	enabled bool
	mirror  *Mirror

	mu     sync.Mutex
	hidden map[uint32]map[uint32]bool // viewer session -> set of subject sessions currently hidden from it
}

// NewNinja builds a Ninja filter; enabled mirrors the `channelNinja`
// configuration key (§6).
func NewNinja(enabled bool, mirror *Mirror) *Ninja {
	return &Ninja{enabled: enabled, mirror: mirror, hidden: make(map[uint32]map[uint32]bool)}
}

func (n *Ninja) canEnter(viewer *Client, channelID uint32) bool {
	perm := n.mirror.Evaluate(channelID, viewer.UserID, viewer.Registered)
	return perm&acl.Enter != 0
}

func (n *Ninja) isHidden(viewerSession, subjectSession uint32) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hidden[viewerSession][subjectSession]
}

func (n *Ninja) setHidden(viewerSession, subjectSession uint32, hidden bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if hidden {
		if n.hidden[viewerSession] == nil {
			n.hidden[viewerSession] = make(map[uint32]bool)
		}
		n.hidden[viewerSession][subjectSession] = true
		return
	}
	delete(n.hidden[viewerSession], subjectSession)
}

// FilterMove decides what viewer should actually receive for subject's
// move to newChannelID, in place of forwarding move verbatim. A nil
// return means: forward the original UserState unchanged.
func (n *Ninja) FilterMove(viewer *Client, subjectSession uint32, subjectName string, newChannelID uint32) interface{} {
	if !n.enabled {
		return nil
	}

	if !n.canEnter(viewer, newChannelID) {
		wasAlreadyHidden := n.isHidden(viewer.Session, subjectSession)
		n.setHidden(viewer.Session, subjectSession, true)
		if wasAlreadyHidden {
			return noForward{}
		}
		return &mumbleproto.UserRemove{Session: &subjectSession}
	}

	wasHidden := n.isHidden(viewer.Session, subjectSession)
	n.setHidden(viewer.Session, subjectSession, false)
	if wasHidden {
		name := subjectName
		channel := newChannelID
		return &mumbleproto.UserState{Session: &subjectSession, Name: &name, ChannelId: &channel}
	}
	return nil
}

// Suppressed reports whether a non-move UserState update (mute, deaf,
// recording, etc.) for subject should be withheld from viewer because
// subject is currently ninja-hidden from them (§7 "while the user is
// hidden, mute/deaf/recording state changes are not forwarded").
func (n *Ninja) Suppressed(viewerSession, subjectSession uint32) bool {
	if !n.enabled {
		return false
	}
	return n.isHidden(viewerSession, subjectSession)
}

// Forget drops all hidden-state bookkeeping for a session that
// disconnected, whether as viewer or subject.
func (n *Ninja) Forget(session uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.hidden, session)
	for _, subjects := range n.hidden {
		delete(subjects, session)
	}
}

// noForward is a sentinel FilterMove return meaning "send nothing" —
// distinct from nil's "forward the original message unchanged".
type noForward struct{}
