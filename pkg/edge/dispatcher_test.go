package edge

import (
	"context"
	"crypto/tls"
	"testing"

	"github.com/grumble-cluster/grumble/pkg/clusterproto"
	"github.com/grumble-cluster/grumble/pkg/mumbleproto"
)

type fakeForwarder struct {
	userStates []clusterproto.UserStateParams
	failWith   error
}

func (f *fakeForwarder) ForwardUserState(ctx context.Context, p clusterproto.UserStateParams) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.userStates = append(f.userStates, p)
	return nil
}
func (f *fakeForwarder) ForwardUserRemove(ctx context.Context, p clusterproto.UserRemoveParams) error {
	return f.failWith
}
func (f *fakeForwarder) ForwardChannelState(ctx context.Context, p clusterproto.ChannelStateParams) error {
	return f.failWith
}
func (f *fakeForwarder) ForwardChannelRemove(ctx context.Context, p clusterproto.ChannelRemoveParams) error {
	return f.failWith
}
func (f *fakeForwarder) ForwardACL(ctx context.Context, p clusterproto.HandleACLParams) error {
	return f.failWith
}
func (f *fakeForwarder) ForwardTextMessage(ctx context.Context, p clusterproto.TextMessageParams) error {
	return f.failWith
}
func (f *fakeForwarder) ForwardBanList(ctx context.Context, p clusterproto.BanListParams) ([]clusterproto.BanSnapshot, error) {
	return nil, f.failWith
}
func (f *fakeForwarder) ClearListeningChannels(ctx context.Context, session uint32) ([]uint32, error) {
	return nil, f.failWith
}

func readyClient() *Client {
	return &Client{
		conn:         &tls.Conn{},
		udprecv:      make(chan []byte, 1),
		state:        StateClientReady,
		Session:      7,
		VoiceTargets: make(map[uint32]*VoiceTarget),
	}
}

func TestDispatchUserStateForwardsWithSession(t *testing.T) {
	fwd := &fakeForwarder{}
	d := NewDispatcher("edge-1", fwd, NewMirror())
	c := readyClient()
	name := "muted"
	if err := d.Dispatch(context.Background(), c, &mumbleproto.UserState{Name: &name}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(fwd.userStates) != 1 {
		t.Fatalf("expected 1 forwarded UserState, got %d", len(fwd.userStates))
	}
	if fwd.userStates[0].Session != 7 {
		t.Fatalf("expected session defaulted to client's own session 7, got %d", fwd.userStates[0].Session)
	}
	if fwd.userStates[0].EdgeID != "edge-1" {
		t.Fatalf("expected edge id tagged, got %q", fwd.userStates[0].EdgeID)
	}
}

func TestDispatchNotReadyIsNoop(t *testing.T) {
	fwd := &fakeForwarder{}
	d := NewDispatcher("edge-1", fwd, NewMirror())
	c := readyClient()
	c.state = StateClientAuthenticated
	name := "x"
	if err := d.Dispatch(context.Background(), c, &mumbleproto.UserState{Name: &name}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(fwd.userStates) != 0 {
		t.Fatalf("expected no forward before StateClientReady, got %d", len(fwd.userStates))
	}
}
