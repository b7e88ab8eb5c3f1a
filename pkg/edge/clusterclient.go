package edge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grumble-cluster/grumble/pkg/clusterproto"
)

// ClusterClient is the edge's side of the cluster channel: one
// persistent connection to the hub carrying both outgoing requests
// (edge.*, hub.handle*) and incoming notifications (hub.*Broadcast,
// edge.peer*, edge.aclUpdated), the latter handed to a ClusterFeed.
// Implements both HubAuthenticator (for AuthFlow) and HubForwarder
// (for Dispatcher), so both can be swapped for fakes in tests without
// this type knowing about either.
type ClusterClient struct {
	edgeID string
	conn   net.Conn

	writeMu sync.Mutex
	nextID  uint64

	mu      sync.Mutex
	pending map[uint64]chan *clusterproto.Envelope

	feed *ClusterFeed
}

// DialCluster connects to the hub at addr and starts the read loop
// that answers pending requests and routes notifications to feed.
func DialCluster(addr, edgeID string, feed *ClusterFeed) (*ClusterClient, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	c := &ClusterClient{
		edgeID:  edgeID,
		conn:    conn,
		pending: make(map[uint64]chan *clusterproto.Envelope),
		feed:    feed,
	}
	go c.readLoop()
	return c, nil
}

func (c *ClusterClient) readLoop() {
	for {
		env, err := clusterproto.ReadEnvelope(c.conn)
		if err != nil {
			c.failAllPending(err)
			return
		}
		if env.IsResponse() {
			c.mu.Lock()
			ch, ok := c.pending[*env.ID]
			if ok {
				delete(c.pending, *env.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- env
			}
			continue
		}
		if env.IsNotify() && c.feed != nil {
			_ = c.feed.Handle(env)
		}
	}
}

func (c *ClusterClient) failAllPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
}

// call sends a request and blocks for its matching response or ctx
// cancellation, the edge-side half of the request/response protocol
// clusterproto.Envelope defines.
func (c *ClusterClient) call(ctx context.Context, method clusterproto.Method, params, result interface{}) error {
	id := atomic.AddUint64(&c.nextID, 1)
	env, err := clusterproto.NewRequest(id, method, params)
	if err != nil {
		return err
	}

	ch := make(chan *clusterproto.Envelope, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	werr := clusterproto.WriteEnvelope(c.conn, env)
	c.writeMu.Unlock()
	if werr != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return werr
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return ErrHubUnavailable
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil {
			return nil
		}
		return json.Unmarshal(resp.Result, result)
	}
}

// Register announces this edge to the hub (§4.7 step 1).
func (c *ClusterClient) Register(ctx context.Context, serverID uint64, controlAddr, voiceAddr, joinToken string) error {
	var res clusterproto.RegisterResult
	if err := c.call(ctx, clusterproto.MethodEdgeRegister, clusterproto.RegisterParams{
		EdgeID: c.edgeID, ServerID: serverID, ControlAddr: controlAddr, VoiceAddr: voiceAddr, JoinToken: joinToken,
	}, &res); err != nil {
		return err
	}
	if !res.Accepted {
		return errors.New("edge: hub rejected registration: " + res.Reason)
	}
	return nil
}

// Heartbeat reports this edge's liveness and load (§4.7).
func (c *ClusterClient) Heartbeat(ctx context.Context, activeUsers int) error {
	var res clusterproto.HeartbeatResult
	return c.call(ctx, clusterproto.MethodEdgeHeartbeat, clusterproto.HeartbeatParams{
		EdgeID: c.edgeID, ActiveUsers: activeUsers,
	}, &res)
}

// HeartbeatLoop sends a heartbeat every interval until ctx is done.
func (c *ClusterClient) HeartbeatLoop(ctx context.Context, interval time.Duration, activeUsers func() int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Heartbeat(ctx, activeUsers())
		}
	}
}

// AllocateSessionID implements HubAuthenticator.
func (c *ClusterClient) AllocateSessionID(ctx context.Context) (uint32, error) {
	var res clusterproto.AllocateSessionIDResult
	if err := c.call(ctx, clusterproto.MethodEdgeAllocateSessionID, clusterproto.AllocateSessionIDParams{EdgeID: c.edgeID}, &res); err != nil {
		return 0, err
	}
	return res.SessionID, nil
}

// Authenticate implements HubAuthenticator by delegating credential
// resolution to the hub's authoritative user store (§4.2 step 6-7),
// so AuthFlow never needs direct access to the hub's Auth type.
func (c *ClusterClient) Authenticate(ctx context.Context, name, password, certHash string) (int32, bool, *uint32, error) {
	var res clusterproto.AuthenticateResult
	err := c.call(ctx, clusterproto.MethodHubAuthenticate, clusterproto.AuthenticateParams{Name: name, Password: password, CertHash: certHash}, &res)
	if err != nil {
		return 0, false, nil, err
	}
	return res.UserID, res.Registered, res.LastChannelID, nil
}

// FullSync fetches the complete channel/ACL/session snapshot (§4.5).
func (c *ClusterClient) FullSync(ctx context.Context) (clusterproto.FullSyncResult, error) {
	var res clusterproto.FullSyncResult
	err := c.call(ctx, clusterproto.MethodEdgeFullSync, clusterproto.FullSyncParams{EdgeID: c.edgeID}, &res)
	return res, err
}

// GetACLs fetches one channel's ACL entries.
func (c *ClusterClient) GetACLs(ctx context.Context, channelID uint32) ([]clusterproto.ACLEntrySnapshot, error) {
	var res clusterproto.GetACLsResult
	err := c.call(ctx, clusterproto.MethodEdgeGetACLs, clusterproto.GetACLsParams{ChannelID: channelID}, &res)
	return res.Entries, err
}

// ReportSession tells the hub about a locally observed session change
// ahead of its authoritative broadcast (§3).
func (c *ClusterClient) ReportSession(ctx context.Context, session clusterproto.SessionSnapshot) error {
	var res clusterproto.ReportSessionResult
	return c.call(ctx, clusterproto.MethodEdgeReportSession, clusterproto.ReportSessionParams{EdgeID: c.edgeID, Session: session}, &res)
}

// The following Forward* methods implement HubForwarder (§4.3).

func (c *ClusterClient) ForwardUserState(ctx context.Context, p clusterproto.UserStateParams) error {
	var ack clusterproto.HandleAck
	return c.call(ctx, clusterproto.MethodHubHandleUserState, p, &ack)
}

func (c *ClusterClient) ForwardUserRemove(ctx context.Context, p clusterproto.UserRemoveParams) error {
	var ack clusterproto.HandleAck
	return c.call(ctx, clusterproto.MethodHubHandleUserRemove, p, &ack)
}

func (c *ClusterClient) ForwardChannelState(ctx context.Context, p clusterproto.ChannelStateParams) error {
	var res clusterproto.SaveChannelResult
	return c.call(ctx, clusterproto.MethodHubHandleChannelState, p, &res)
}

func (c *ClusterClient) ForwardChannelRemove(ctx context.Context, p clusterproto.ChannelRemoveParams) error {
	var ack clusterproto.HandleAck
	return c.call(ctx, clusterproto.MethodHubHandleChannelRemove, p, &ack)
}

func (c *ClusterClient) ForwardACL(ctx context.Context, p clusterproto.HandleACLParams) error {
	var res clusterproto.HandleACLResult
	return c.call(ctx, clusterproto.MethodEdgeHandleACL, p, &res)
}

func (c *ClusterClient) ForwardTextMessage(ctx context.Context, p clusterproto.TextMessageParams) error {
	var ack clusterproto.HandleAck
	return c.call(ctx, clusterproto.MethodHubHandleTextMessage, p, &ack)
}

func (c *ClusterClient) ForwardBanList(ctx context.Context, p clusterproto.BanListParams) ([]clusterproto.BanSnapshot, error) {
	var res clusterproto.BanListResult
	err := c.call(ctx, clusterproto.MethodEdgeHandleBanList, p, &res)
	return res.Bans, err
}

// ClearListeningChannels implements HubForwarder's §9 decision 2 path:
// the hub computes the authoritative removed set from its own
// SessionRegistry state rather than trusting the client's view.
func (c *ClusterClient) ClearListeningChannels(ctx context.Context, session uint32) ([]uint32, error) {
	var res clusterproto.ClearListeningChannelsResult
	err := c.call(ctx, clusterproto.MethodHubClearListeningChannels, clusterproto.ClearListeningChannelsParams{EdgeID: c.edgeID, Session: session}, &res)
	return res.ChannelIDs, err
}

// Close shuts down the connection.
func (c *ClusterClient) Close() error {
	return c.conn.Close()
}
