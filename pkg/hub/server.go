package hub

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"sync"
	"time"

	"github.com/grumble-cluster/grumble/pkg/blobstore"
	"github.com/grumble-cluster/grumble/pkg/clusterproto"
	"github.com/grumble-cluster/grumble/pkg/database"
)

// Server is the hub's side of the cluster channel (§4.1, §4.3, §4.7):
// one TCP listener accepting edge connections, each read as a stream
// of request/notify Envelopes dispatched against Store/Registry/
// Handlers/Auth/ACLEval/JoinCoordinator/SessionAllocator. Grounded on
// teacher's per-connection accept-loop shape in `cmd/grumble/client.go`
// (one goroutine per connection, one frame-decode loop), generalized
// from the Mumble control frame to clusterproto's JSON envelope.
type Server struct {
	store     *Store
	registry  *Registry
	sessions  *SessionRegistry
	cache     *MessageCache
	auth      *Auth
	acl       *ACLEval
	join      *JoinCoordinator
	allocator *SessionAllocator
	handlers  *Handlers

	mu    sync.RWMutex
	conns map[string]*edgeConn
}

type edgeConn struct {
	writeMu sync.Mutex
	conn    net.Conn
}

func (e *edgeConn) Send(env *clusterproto.Envelope) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return clusterproto.WriteEnvelope(e.conn, env)
}

// NewServer wires a hub cluster server over store/registry/cache/auth.
// Handlers is constructed internally since it needs this Server as its
// Sender. blobs may be nil (see Handlers.storeBlobIfOversized).
func NewServer(store *Store, registry *Registry, cache *MessageCache, auth *Auth, external ExternalAuthenticator, blobs *blobstore.BlobStore) *Server {
	s := &Server{
		store:     store,
		registry:  registry,
		sessions:  NewSessionRegistry(),
		cache:     cache,
		auth:      auth,
		acl:       NewACLEval(store),
		join:      NewJoinCoordinator(registry),
		allocator: NewSessionAllocator(),
		conns:     make(map[string]*edgeConn),
	}
	s.handlers = NewHandlers(store, registry, s.sessions, cache, s, blobs)
	registry.OnLeave(func(edgeID string) {
		for _, session := range s.sessions.RemoveForEdge(edgeID) {
			_ = s.handlers.UserLeft(edgeID, session, false, "edge disconnected")
		}
		_ = s.handlers.broadcast(edgeID, clusterproto.MethodEdgePeerLeft, clusterproto.PeerLeftNotify{EdgeID: edgeID})
	})
	return s
}

// Send implements hub.Sender by writing env to edgeID's live
// connection, if any.
func (s *Server) Send(edgeID string, env *clusterproto.Envelope) error {
	s.mu.RLock()
	c, ok := s.conns[edgeID]
	s.mu.RUnlock()
	if !ok {
		return errNoConn
	}
	return c.Send(env)
}

// drainCache replays edgeID's queued offline broadcasts, in sequence
// order, over its freshly (re)registered connection, before any new
// broadcast is sent (§4.8, §8 property 7). A resend failure is logged
// and the rest of the backlog is dropped rather than re-queued, since
// a connection that just failed to write is no longer usable anyway.
func (s *Server) drainCache(edgeID string) {
	for _, msg := range s.cache.Drain(edgeID) {
		env, ok := msg.Payload.(*clusterproto.Envelope)
		if !ok {
			continue
		}
		if err := s.Send(edgeID, env); err != nil {
			log.Printf("hub: replay to edge %s failed, dropping remaining backlog: %v", edgeID, err)
			return
		}
	}
}

var errNoConn = &connError{"hub: no live connection for edge"}

type connError struct{ msg string }

func (e *connError) Error() string { return e.msg }

// Serve accepts connections on ln until it errors or is closed.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	var edgeID string
	defer func() {
		if edgeID != "" {
			s.mu.Lock()
			delete(s.conns, edgeID)
			s.mu.Unlock()
			s.registry.Remove(edgeID)
		}
	}()

	for {
		env, err := clusterproto.ReadEnvelope(conn)
		if err != nil {
			return
		}
		if !env.IsRequest() {
			continue
		}
		if env.Method == clusterproto.MethodEdgeRegister {
			var p clusterproto.RegisterParams
			if err := json.Unmarshal(env.Params, &p); err == nil {
				edgeID = p.EdgeID
				s.mu.Lock()
				s.conns[edgeID] = &edgeConn{conn: conn}
				s.mu.Unlock()
			}
		}
		resp := s.dispatch(env)
		if werr := clusterproto.WriteEnvelope(conn, resp); werr != nil {
			return
		}
	}
}

func (s *Server) dispatch(env *clusterproto.Envelope) *clusterproto.Envelope {
	result, err := s.call(env.Method, env.Params)
	if err != nil {
		return clusterproto.NewError(*env.ID, 500, err.Error())
	}
	out, rerr := clusterproto.NewResult(*env.ID, result)
	if rerr != nil {
		return clusterproto.NewError(*env.ID, 500, rerr.Error())
	}
	return out
}

func (s *Server) call(method clusterproto.Method, raw json.RawMessage) (interface{}, error) {
	switch method {
	case clusterproto.MethodEdgeRegister:
		var p clusterproto.RegisterParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		s.registry.Add(EdgeInfo{EdgeID: p.EdgeID, ControlAddr: p.ControlAddr, VoiceAddr: p.VoiceAddr})
		s.drainCache(p.EdgeID)
		s.handlers.broadcast(p.EdgeID, clusterproto.MethodEdgePeerJoined,
			clusterproto.PeerJoinedNotify{EdgeID: p.EdgeID, VoiceAddr: p.VoiceAddr})
		return clusterproto.RegisterResult{Accepted: true}, nil

	case clusterproto.MethodEdgeHeartbeat:
		var p clusterproto.HeartbeatParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		s.registry.Touch(p.EdgeID)
		return clusterproto.HeartbeatResult{OK: true}, nil

	case clusterproto.MethodEdgeAllocateSessionID:
		return clusterproto.AllocateSessionIDResult{SessionID: s.allocator.Allocate()}, nil

	case clusterproto.MethodEdgeFullSync:
		channels, acls, _, err := s.store.ChannelTree()
		if err != nil {
			return nil, err
		}
		bans, _, err := s.store.BanList(1<<20, 0)
		if err != nil {
			return nil, err
		}
		return clusterproto.FullSyncResult{
			Channels: channelSnapshots(channels, acls),
			Sessions: s.sessions.All(),
			Bans:     banSnapshots(bans),
		}, nil

	case clusterproto.MethodEdgeGetChannels:
		channels, acls, _, err := s.store.ChannelTree()
		if err != nil {
			return nil, err
		}
		return clusterproto.GetChannelsResult{Channels: channelSnapshots(channels, acls)}, nil

	case clusterproto.MethodEdgeGetACLs:
		var p clusterproto.GetACLsParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		_, acls, _, err := s.store.ChannelTree()
		if err != nil {
			return nil, err
		}
		return clusterproto.GetACLsResult{Entries: aclSnapshots(acls[p.ChannelID])}, nil

	case clusterproto.MethodEdgeSaveChannel:
		var p clusterproto.SaveChannelParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return s.handlers.HandleChannelState(clusterproto.ChannelStateParams{EdgeID: p.EdgeID, Session: p.Session, Channel: p.Channel})

	case clusterproto.MethodEdgeReportSession:
		var p clusterproto.ReportSessionParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		s.sessions.Upsert(p.Session)
		return clusterproto.ReportSessionResult{OK: true}, nil

	case clusterproto.MethodEdgeHandleACL:
		var p clusterproto.HandleACLParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		entries, err := s.handlers.HandleACL(p)
		if err != nil {
			return nil, err
		}
		return clusterproto.HandleACLResult{Entries: entries}, nil

	case clusterproto.MethodEdgeHandleBanList:
		var p clusterproto.BanListParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		bans, err := s.handlers.HandleBanList(p)
		if err != nil {
			return nil, err
		}
		return clusterproto.BanListResult{Bans: bans}, nil

	case clusterproto.MethodHubClearListeningChannels:
		var p clusterproto.ClearListeningChannelsParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return clusterproto.ClearListeningChannelsResult{ChannelIDs: s.sessions.ClearListening(p.Session)}, nil

	case clusterproto.MethodHubHandleUserState:
		var p clusterproto.UserStateParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		s.applyUserStateToRegistry(p)
		if err := s.handlers.HandleUserState(p); err != nil {
			return nil, err
		}
		return clusterproto.HandleAck{OK: true}, nil

	case clusterproto.MethodHubHandleUserRemove:
		var p clusterproto.UserRemoveParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if err := s.handlers.HandleUserRemove(p); err != nil {
			return nil, err
		}
		s.sessions.Remove(p.Session)
		s.allocator.Release(p.Session)
		return clusterproto.HandleAck{OK: true}, nil

	case clusterproto.MethodHubHandleChannelState:
		var p clusterproto.ChannelStateParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		snap, err := s.handlers.HandleChannelState(p)
		if err != nil {
			return nil, err
		}
		return clusterproto.SaveChannelResult{Channel: snap}, nil

	case clusterproto.MethodHubHandleChannelRemove:
		var p clusterproto.ChannelRemoveParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if err := s.handlers.HandleChannelRemove(p); err != nil {
			return nil, err
		}
		return clusterproto.HandleAck{OK: true}, nil

	case clusterproto.MethodHubHandleTextMessage:
		var p clusterproto.TextMessageParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if err := s.handlers.HandleTextMessage(p); err != nil {
			return nil, err
		}
		return clusterproto.HandleAck{OK: true}, nil

	case clusterproto.MethodHubAuthenticate:
		var p clusterproto.AuthenticateParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		userID, registered, err := s.auth.Authenticate(context.Background(), p.Name, p.Password, p.CertHash)
		if err != nil {
			return nil, err
		}
		result := clusterproto.AuthenticateResult{UserID: userID, Registered: registered}
		if registered {
			if mem, err := s.store.ChannelMemory(userID); err == nil && mem != nil {
				channelID := mem.ChannelID
				result.LastChannelID = &channelID
			}
		}
		return result, nil
	}
	return nil, &connError{"hub: unknown method " + string(method)}
}

func (s *Server) applyUserStateToRegistry(p clusterproto.UserStateParams) {
	existing, _ := s.sessions.Get(p.Session)
	if p.ChannelID != nil {
		existing.ChannelID = *p.ChannelID
	}
	if p.Name != nil {
		existing.UserName = *p.Name
	}
	existing.SessionID = p.Session
	if existing.EdgeID == "" {
		existing.EdgeID = p.EdgeID
	}
	existing.ListeningChannels = applyListening(existing.ListeningChannels, p.ListeningChannelAdd, p.ListeningChannelRemove)
	s.sessions.Upsert(existing)
}

// applyListening merges a UserState's listening-channel add/remove sets
// into current, used to keep SessionRegistry's mirror of §3 "Session
// table"'s listening-channel set current for ClearListeningChannels (§9
// decision 2) without trusting the client to report its own full set.
func applyListening(current, add, remove []uint32) []uint32 {
	set := make(map[uint32]struct{}, len(current))
	for _, id := range current {
		set[id] = struct{}{}
	}
	for _, id := range remove {
		delete(set, id)
	}
	for _, id := range add {
		set[id] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]uint32, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// AuthenticateEdgeRequest is a convenience wrapper edges call through
// the envelope protocol for credential checks during §4.2 step 6-7;
// exposed for direct embedding tests, not itself a wire method (edges
// authenticate over the cluster connection through the
// hub.authenticate method handled in call).
func (s *Server) AuthenticateEdgeRequest(ctx context.Context, name, password, certHash string) (int32, bool, error) {
	return s.auth.Authenticate(ctx, name, password, certHash)
}

func channelSnapshots(channels map[uint32]database.Channel, acls map[uint32][]database.ACLEntry) []clusterproto.ChannelSnapshot {
	out := make([]clusterproto.ChannelSnapshot, 0, len(channels))
	for _, ch := range channels {
		out = append(out, clusterproto.ChannelSnapshot{
			ChannelID: ch.ChannelID, ParentID: ch.ParentID, Name: ch.Name,
			Description: ch.Description, Position: ch.Position, MaxUsers: ch.MaxUsers,
			Temporary: ch.Temporary, InheritACL: ch.InheritACL,
		})
	}
	return out
}

func aclSnapshots(rows []database.ACLEntry) []clusterproto.ACLEntrySnapshot {
	out := make([]clusterproto.ACLEntrySnapshot, len(rows))
	for i, r := range rows {
		out[i] = clusterproto.ACLEntrySnapshot{ApplyHere: r.ApplyHere, ApplySubs: r.ApplySubs, UserID: r.UserID, Group: r.Group, Allow: r.Allow, Deny: r.Deny}
	}
	return out
}

// heartbeatSweep runs until ctx is cancelled, periodically dropping
// edges that have not sent edge.heartbeat within timeout (§4.7).
func (s *Server) heartbeatSweep(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range s.registry.Expired(timeout) {
				log.Printf("hub: edge %s heartbeat expired, removing", id)
				s.registry.Remove(id)
			}
		}
	}
}

// RunHeartbeatSweep exposes heartbeatSweep for cmd/hub to launch as a
// background goroutine with its own cancellable context.
func (s *Server) RunHeartbeatSweep(ctx context.Context, interval, timeout time.Duration) {
	s.heartbeatSweep(ctx, interval, timeout)
}
