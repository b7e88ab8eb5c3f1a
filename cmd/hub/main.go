// Command hub runs the cluster's single authoritative hub process
// (§2 L2): durable state, ACL evaluation, and session bookkeeping for
// every edge that registers against it. No CLI-flag or config-file
// library exists anywhere in the retrieval pack this module was
// grounded on, so configuration is flags-plus-defaults, same as
// teacher's own cmd/grumble main loop read its settings.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/grumble-cluster/grumble/pkg/blobstore"
	"github.com/grumble-cluster/grumble/pkg/database"
	"github.com/grumble-cluster/grumble/pkg/hub"
	"github.com/grumble-cluster/grumble/pkg/serverconf"
)

func main() {
	var (
		listenAddr       = flag.String("listen", ":9944", "hub↔edge cluster channel listen address")
		dbPath           = flag.String("db", "grumble.db", "sqlite database path")
		serverID         = flag.Uint64("server-id", 1, "virtual server id this hub is authoritative for")
		serverName       = flag.String("name", "Grumble Cluster", "virtual server name")
		heartbeatSeconds = flag.Int("heartbeat-interval", 10, "seconds between edge heartbeat sweeps")
		timeoutSeconds   = flag.Int("heartbeat-timeout", 30, "seconds of silence before an edge is considered dead")
	)
	flag.Parse()

	cfg, err := serverconf.New(map[string]string{
		"server_id": strconv.FormatUint(*serverID, 10),
		"name":      *serverName,
	})
	if err != nil {
		log.Fatalf("hub: config: %v", err)
	}

	db, err := database.Open(*dbPath)
	if err != nil {
		log.Fatalf("hub: open database: %v", err)
	}

	store := hub.NewStore(db, *serverID)
	if err := ensureRootChannel(store); err != nil {
		log.Fatalf("hub: ensure root channel: %v", err)
	}

	registry := hub.NewRegistry()
	cache := hub.NewMessageCache()
	auth := hub.NewAuth(store, nil)
	srv := hub.NewServer(store, registry, cache, auth, nil)

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		log.Fatalf("hub: listen on %s: %v", *listenAddr, err)
	}
	log.Printf("hub: %q (server_id=%d) listening on %s", cfg.StringValue("name"), *serverID, *listenAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.RunHeartbeatSweep(ctx, time.Duration(*heartbeatSeconds)*time.Second, time.Duration(*timeoutSeconds)*time.Second)

	if err := srv.Serve(ln); err != nil {
		log.Fatalf("hub: serve: %v", err)
	}
}

// ensureRootChannel creates channel 0 if the store is empty, the way
// a fresh teacher install starts with a single Root channel.
func ensureRootChannel(store *hub.Store) error {
	channels, _, _, err := store.ChannelTree()
	if err != nil {
		return err
	}
	if _, ok := channels[0]; ok {
		return nil
	}
	return store.SaveChannel(database.Channel{ChannelID: 0, Name: "Root", InheritACL: true})
}
