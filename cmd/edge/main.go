// Command edge runs one edge-cluster process (§2 L1): TLS connection
// termination, the per-client control/voice state machine, and a
// single connection back to the hub that carries both mutation
// forwarding and broadcast consumption. As with cmd/hub, no CLI-flag
// or config-file library exists in the retrieval pack, so
// configuration is flags-plus-defaults.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"log"

	"github.com/grumble-cluster/grumble/pkg/edge"
)

func main() {
	var (
		host              = flag.String("host", "", "bind address")
		port              = flag.Int("port", 64738, "client control port (legacy voice binds port+1)")
		clusterVoicePort  = flag.Int("cluster-voice-port", 64740, "inter-edge voice relay UDP port")
		certFile          = flag.String("cert", "grumble.crt", "TLS certificate path")
		keyFile           = flag.String("key", "grumble.key", "TLS key path")
		caFile            = flag.String("ca", "", "TLS client CA path, enables client cert verification")
		hubAddr           = flag.String("hub", "127.0.0.1:9944", "hub cluster channel address")
		edgeID            = flag.String("edge-id", "", "this edge's cluster identity, random if unset")
		serverID          = flag.Uint64("server-id", 1, "virtual server id this edge serves")
		joinToken         = flag.String("join-token", "", "shared secret the hub expects from registering edges")
		welcomeText       = flag.String("welcome", "Welcome to Grumble Cluster", "text shown to connecting clients")
		maxUsers          = flag.Int("max-users", 100, "advertised server capacity")
		maxBandwidth      = flag.Int("max-bandwidth", 72000, "advertised per-user voice bandwidth")
		defaultChannelID  = flag.Uint("default-channel", 0, "channel id new clients land in")
		channelNinja      = flag.Bool("channel-ninja", false, "hide UserState moves from viewers lacking Enter on the destination")
	)
	flag.Parse()

	id := *edgeID
	if id == "" {
		id = randomEdgeID()
	}

	listener, err := edge.NewListener(edge.ListenerConfig{
		Host: *host, Port: *port, CertFile: *certFile, KeyFile: *keyFile, CAFile: *caFile,
		RequireClientCert: *caFile != "",
	})
	if err != nil {
		log.Fatalf("edge: listener: %v", err)
	}
	legacyVoiceSock, err := edge.LegacyVoiceSocket(*host, *port)
	if err != nil {
		log.Fatalf("edge: legacy voice socket: %v", err)
	}
	clusterVoiceSock, err := edge.ClusterVoiceSocket(*host, *clusterVoicePort)
	if err != nil {
		log.Fatalf("edge: cluster voice socket: %v", err)
	}

	mirror := edge.NewMirror()
	local := edge.NewSessionTable()
	peers := edge.NewPeerTable()
	ninja := edge.NewNinja(*channelNinja, mirror)
	feed := edge.NewClusterFeed(id, local, mirror, peers, ninja)

	cluster, err := edge.DialCluster(*hubAddr, id, feed)
	if err != nil {
		log.Fatalf("edge: dial hub %s: %v", *hubAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controlAddr := listener.Addr().String()
	voiceAddr := clusterVoiceSock.LocalAddr().String()
	if err := cluster.Register(ctx, *serverID, controlAddr, voiceAddr, *joinToken); err != nil {
		log.Fatalf("edge: register with hub: %v", err)
	}

	sync, err := cluster.FullSync(ctx)
	if err != nil {
		log.Fatalf("edge: full sync: %v", err)
	}
	for _, ch := range sync.Channels {
		mirror.UpsertChannel(ch)
		entries, err := cluster.GetACLs(ctx, ch.ChannelID)
		if err != nil {
			log.Fatalf("edge: get ACLs for channel %d: %v", ch.ChannelID, err)
		}
		mirror.SetACL(ch.ChannelID, entries)
	}
	for _, s := range sync.Sessions {
		mirror.UpsertSession(s)
	}
	mirror.SetBans(sync.Bans)

	srv := edge.NewEdgeServer(edge.ServerConfig{
		EdgeID: id,
		Welcome: edge.ServerWelcome{
			MaxBandwidth:     uint32(*maxBandwidth),
			WelcomeText:      *welcomeText,
			AllowHTML:        true,
			MessageLength:    5000,
			ImageLength:      131072,
			MaxUsers:         uint32(*maxUsers),
			DefaultChannelID: uint32(*defaultChannelID),
		},
	}, listener, cluster, feed, local, mirror, peers, ninja, legacyVoiceSock, clusterVoiceSock)

	log.Printf("edge: %s listening on %s, hub %s", id, controlAddr, *hubAddr)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("edge: serve: %v", err)
	}
}

func randomEdgeID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "edge-0"
	}
	return "edge-" + hex.EncodeToString(buf)
}
