package edge

import (
	"net"
	"sync/atomic"

	"github.com/grumble-cluster/grumble/pkg/cryptstate"
	"github.com/grumble-cluster/grumble/pkg/mumbleproto"
)

// VoiceRouter implements §4.6: decrypts inbound voice, resolves the
// recipient set from the sender's channel/link/listener/whisper
// topology, re-encrypts per local recipient, and forwards once per
// remote edge carrying any recipient over the cluster voice socket.
type VoiceRouter struct {
	edgeID string
	local  *SessionTable
	mirror *Mirror
	peers  *PeerTable
	sock   *net.UDPConn

	seq uint32
}

// NewVoiceRouter builds a VoiceRouter that writes all voice through
// sock: UDP sends to local clients and cross-edge forwards to peers'
// cluster voice addresses alike (§4.6).
func NewVoiceRouter(edgeID string, local *SessionTable, mirror *Mirror, peers *PeerTable, sock *net.UDPConn) *VoiceRouter {
	return &VoiceRouter{edgeID: edgeID, local: local, mirror: mirror, peers: peers, sock: sock}
}

// ResolveSender implements §4.6 step 1: a UDP datagram from an address
// not yet bound to any client is tried against every same-IP
// authenticated session's OCB2 state until one decrypts validly. It
// returns the owning client and the decrypted plaintext.
func (r *VoiceRouter) ResolveSender(addr *net.UDPAddr, packet []byte) (*Client, []byte) {
	for _, c := range r.local.SameIP(addr) {
		if c.Crypt == nil {
			continue
		}
		plain := make([]byte, len(packet)-cryptstate.Overhead)
		if c.Crypt.Decrypt(plain, packet) {
			c.SetUDPAddr(addr)
			return c, plain
		}
	}
	return nil, nil
}

// HandleUDP processes one inbound voice datagram already attributed
// to sender (the common case: sender.UDPAddr() already matches addr).
// If sender is nil, it runs ResolveSender first.
func (r *VoiceRouter) HandleUDP(addr *net.UDPAddr, packet []byte, sender *Client) error {
	var plain []byte
	if sender == nil {
		sender, plain = r.ResolveSender(addr, packet)
		if sender == nil {
			return nil
		}
	} else {
		if len(packet) < cryptstate.Overhead {
			return nil
		}
		plain = make([]byte, len(packet)-cryptstate.Overhead)
		if !sender.Crypt.Decrypt(plain, packet) {
			return nil
		}
	}
	return r.route(sender, plain)
}

// HandleTunnel processes one voice frame arriving inside a UDPTunnel
// control message (already plaintext, §4.1 "fallback for TCP-only
// clients").
func (r *VoiceRouter) HandleTunnel(sender *Client, plain []byte) error {
	return r.route(sender, plain)
}

func (r *VoiceRouter) route(sender *Client, plain []byte) error {
	if sender.Silenced() {
		return nil
	}

	pkt, _ := mumbleproto.ParseUDPPacket(plain, true)
	audio, ok := pkt.(*mumbleproto.AudioPacket)
	if !ok {
		return nil
	}
	audio.SetSenderSession(sender.Session)

	recipients := r.resolveRecipients(sender, audio.TargetOrContext)
	return r.deliver(sender, audio, recipients)
}

// resolveRecipients implements §4.6 step 4's three target classes.
func (r *VoiceRouter) resolveRecipients(sender *Client, target uint8) []uint32 {
	switch {
	case target == mumbleproto.TargetServerLoopback:
		return []uint32{sender.Session}
	case target == mumbleproto.TargetRegularSpeech:
		return r.channelRecipients(sender)
	default:
		return r.whisperRecipients(sender, uint32(target))
	}
}

// channelRecipients is target 0: everyone in the sender's channel,
// everyone listening to it, and everyone in a linked channel, minus
// the sender (§4.6 step 4, §8 property 8).
func (r *VoiceRouter) channelRecipients(sender *Client) []uint32 {
	scope := map[uint32]bool{sender.ChannelID: true}
	for _, linked := range r.mirror.LinkedChannels(sender.ChannelID) {
		scope[linked] = true
	}

	seen := make(map[uint32]bool)
	var out []uint32
	add := func(session uint32) {
		if session == sender.Session || seen[session] {
			return
		}
		seen[session] = true
		out = append(out, session)
	}

	for _, s := range r.mirror.Sessions() {
		if scope[s.ChannelID] {
			add(s.SessionID)
		}
	}
	for channelID := range scope {
		for _, c := range r.local.Listening(channelID) {
			add(c.Session)
		}
	}
	// Promiscuous viewers hear every channel regardless of scope (§9
	// decision 3).
	for _, c := range r.local.All() {
		if c.Promiscuous {
			add(c.Session)
		}
	}
	return out
}

// whisperRecipients is targets 1..30: the sender's own VoiceTarget
// table, named sessions and/or channel wildcards.
func (r *VoiceRouter) whisperRecipients(sender *Client, targetID uint32) []uint32 {
	vt := sender.VoiceTargets[targetID]
	if vt == nil {
		return nil
	}

	seen := make(map[uint32]bool)
	var out []uint32
	add := func(session uint32) {
		if session == sender.Session || seen[session] {
			return
		}
		seen[session] = true
		out = append(out, session)
	}

	for _, session := range vt.Sessions {
		add(session)
	}
	for _, channelID := range vt.ChannelIDs {
		for _, s := range r.mirror.Sessions() {
			if s.ChannelID == channelID {
				add(s.SessionID)
			}
		}
	}
	return out
}

// deliver implements §4.6 steps 5–7: partition recipients by owning
// edge, re-encrypt and send to each local recipient, and forward once
// per remote edge that has any recipient.
func (r *VoiceRouter) deliver(sender *Client, audio *mumbleproto.AudioPacket, recipients []uint32) error {
	remoteByEdge := make(map[string][]uint32)

	for _, session := range recipients {
		if c, ok := r.local.Get(session); ok {
			if c.Deafened() {
				continue
			}
			if err := r.sendLocal(c, audio); err != nil {
				return err
			}
			continue
		}
		if s, ok := r.mirror.Session(session); ok && s.EdgeID != "" && s.EdgeID != r.edgeID {
			remoteByEdge[s.EdgeID] = append(remoteByEdge[s.EdgeID], session)
		}
	}

	if len(remoteByEdge) == 0 {
		return nil
	}
	return r.forwardRemote(sender, audio, remoteByEdge)
}

// sendLocal re-encrypts audio under recipient's own key and delivers
// it via its preferred transport (§4.6 step 6).
func (r *VoiceRouter) sendLocal(recipient *Client, audio *mumbleproto.AudioPacket) error {
	plain := audio.LegacyData()
	if recipient.PreferUDP && recipient.UDPAddr() != nil && r.sock != nil {
		crypted := make([]byte, len(plain)+recipient.Crypt.Overhead())
		recipient.Crypt.Encrypt(crypted, plain)
		_, err := r.sock.WriteToUDP(crypted, recipient.UDPAddr())
		return err
	}
	return recipient.SendMessage(plain)
}

// forwardRemote sends audio once per remote edge holding a recipient,
// prefixed with the cluster voice header (§4.6 step 7, §6 "Cluster
// voice UDP").
func (r *VoiceRouter) forwardRemote(sender *Client, audio *mumbleproto.AudioPacket, byEdge map[string][]uint32) error {
	if r.sock == nil {
		return nil
	}
	plain := audio.LegacyData()
	seq := atomic.AddUint32(&r.seq, 1)

	for edgeID, recipients := range byEdge {
		peer := r.findPeer(edgeID)
		if peer == nil {
			continue
		}
		header := mumbleproto.ClusterVoiceHeader{
			Version:       1,
			SenderSession: sender.Session,
			TargetID:      mumbleproto.ClusterVoiceBroadcastTarget,
			Sequence:      seq,
			Codec:         byte(audio.UsedCodec),
		}
		datagram := mumbleproto.EncodeClusterVoicePacket(header, recipients, plain)
		if _, err := r.sock.WriteToUDP(datagram, peer.VoiceAddr); err != nil {
			return err
		}
	}
	return nil
}

func (r *VoiceRouter) findPeer(edgeID string) *Peer {
	for _, p := range r.peers.All() {
		if p.EdgeID == edgeID {
			peer := p
			return &peer
		}
	}
	return nil
}

// DeliverFromCluster applies one datagram received on the cluster
// voice socket: re-encrypt the carried plaintext voice packet for each
// locally-present recipient named in the header (§4.6 step 7 "Remote
// edges perform step 6 locally against their own clients").
func (r *VoiceRouter) DeliverFromCluster(data []byte) error {
	header, recipients, payload, ok := mumbleproto.DecodeClusterVoicePacket(data)
	if !ok {
		return nil
	}
	pkt, _ := mumbleproto.ParseUDPPacket(payload, true)
	audio, ok := pkt.(*mumbleproto.AudioPacket)
	if !ok {
		return nil
	}
	audio.SetSenderSession(header.SenderSession)

	for _, session := range recipients {
		c, ok := r.local.Get(session)
		if !ok || c.Deafened() {
			continue
		}
		if err := r.sendLocal(c, audio); err != nil {
			return err
		}
	}
	return nil
}
