// Command shardnode wires together the P2P networking, gossip, and
// DS-committee-rotation core into one runnable node, matching the shutdown
// sequence shape of the teacher's cmd/dynamo/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/shardnode/shardnode/internal/api"
	"github.com/shardnode/shardnode/internal/apipool"
	"github.com/shardnode/shardnode/internal/blacklist"
	"github.com/shardnode/shardnode/internal/config"
	"github.com/shardnode/shardnode/internal/dedup"
	"github.com/shardnode/shardnode/internal/dscomposition"
	"github.com/shardnode/shardnode/internal/guard"
	"github.com/shardnode/shardnode/internal/metrics"
	"github.com/shardnode/shardnode/internal/p2p"
	"github.com/shardnode/shardnode/internal/reputation"
	"github.com/shardnode/shardnode/internal/rumor"
	"github.com/shardnode/shardnode/internal/sendqueue"
	"github.com/shardnode/shardnode/internal/storage"
	"github.com/shardnode/shardnode/pkg/types"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	var (
		nodeID      = flag.String("node-id", "", "Unique node identifier")
		address     = flag.String("address", "127.0.0.1", "P2P listen address")
		port        = flag.Int("port", 30303, "P2P listen port")
		adminPort   = flag.Int("admin-port", 8080, "Admin/status HTTP port")
		dataDir     = flag.String("data-dir", "./data", "Data directory")
		configFile  = flag.String("config", "", "Configuration file path")
		multipliers = flag.String("multipliers", "", "Path to constants.xml listing always-connected peers")
		isLookup    = flag.Bool("lookup", false, "Run as a lookup node")
		guardMode   = flag.Bool("guard-mode", false, "Enable DS/shard guard mode")
		showVersion = flag.Bool("version", false, "Show version")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("shardnode v%s (built: %s)\n", version, buildTime)
		os.Exit(0)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	var cfg *config.Config
	if *configFile != "" {
		cfg, err = config.LoadFromFile(*configFile)
		if err != nil {
			log.Fatalw("failed to load config", "err", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if *nodeID != "" {
		cfg.NodeID = *nodeID
	}
	cfg.Address = *address
	cfg.Port = *port
	cfg.AdminPort = *adminPort
	cfg.DataDir = *dataDir
	cfg.IsLookup = *isLookup
	cfg.GuardMode = *guardMode

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "err", err)
	}

	log.Infow("starting shardnode", "node_id", cfg.NodeID, "address", cfg.FullAddress())

	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)

	store, err := storage.NewCommitteeLog(cfg.DataDir, cfg.SyncWrites)
	if err != nil {
		log.Fatalw("failed to initialize storage", "err", err)
	}
	defer store.Close()
	log.Infow("committee snapshot log initialized", "persisted_snapshots", store.Count())

	var multiplierPeers []types.Peer
	if *multipliers != "" {
		multiplierPeers, err = config.LoadMultipliers(*multipliers)
		if err != nil {
			log.Fatalw("failed to load multiplier config", "err", err)
		}
	}

	bl := blacklist.New(log)
	g := guard.New()
	repMgr := reputation.New(bl, log)

	sjCfg := sendqueue.DefaultConfig()
	sjCfg.ReconnectInterval = cfg.ReconnectInterval
	sjCfg.ConnectTimeout = cfg.ConnectTimeout
	sjCfg.MessageExpiry = cfg.MessageExpiry
	sjCfg.IdleTimeoutIPOnly = cfg.IdleTimeoutIPOnly
	sjCfg.IdleTimeoutDNS = cfg.IdleTimeoutDNS
	sjCfg.SlowSendToReport = cfg.SlowSendToReport

	sendJobs := sendqueue.New(bl, multiplierPeers, nil, sjCfg, m, log)
	defer sendJobs.Close()

	dd := dedup.New(cfg.BroadcastExpiry)

	committee := dscomposition.New(nil, g, bl, store, m, log)

	var core *p2p.P2P
	rumorCfg := rumor.Config{SelfListenPort: uint16(*port), Fanout: cfg.GossipFanout, MaxRounds: cfg.GossipMaxRounds}
	sendGossip := func(peer types.Peer, envelope []byte) {
		sendJobs.SendToPeer(peer, envelope, types.StartByteGossip, false)
	}
	dispatchGossipUpward := func(body []byte, from types.Peer) {
		core.DeliverGossip(body, from)
	}
	rumorMgr := rumor.New(rumorCfg, rumor.NoopCrypto{}, sendGossip, dispatchGossipUpward, m, log)

	core = p2p.New(bl, sendJobs, dd, rumorMgr, repMgr, cfg.MaxMessageSize, m, log)
	core.SetSelfIdentity(selfPeer(cfg))

	dispatcher := func(msg types.DispatchedMessage) {
		log.Debugw("dispatched message", "from", msg.From.String(), "type", msg.StartByte.String(), "bytes", len(msg.Body))
	}
	if err := core.StartServer(cfg.Port, cfg.AdditionalServer, dispatcher); err != nil {
		log.Fatalw("failed to start p2p server", "err", err)
	}
	defer core.Close()

	rumorMgr.StartRounds(cfg.RoundTimeInMs)
	defer rumorMgr.StopRounds()

	pool := apipool.New(cfg.APIWorkers, cfg.APIMaxQueueSize, func(req types.APIRequest) types.APIResponse {
		return types.APIResponse{ID: req.ID, IsWebsocket: req.IsWebsocket, Code: types.OKResponseCode, Body: "ok"}
	}, nil, log)
	defer pool.Close()

	adminServer := api.NewServer(cfg, bl, sendJobs, committee, log)
	go func() {
		if err := adminServer.Start(); err != nil {
			log.Errorw("admin HTTP server error", "err", err)
		}
	}()

	log.Infow("shardnode is ready", "node_id", cfg.NodeID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Infow("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := adminServer.Stop(ctx); err != nil {
		log.Errorw("error stopping admin server", "err", err)
	}
	if err := store.Sync(); err != nil {
		log.Errorw("error syncing storage", "err", err)
	}

	log.Infow("shutdown complete")
}

func selfPeer(cfg *config.Config) types.Peer {
	ip := new(big.Int)
	if parsed := net.ParseIP(cfg.Address); parsed != nil {
		if v4 := parsed.To4(); v4 != nil {
			ip.SetBytes(v4)
		} else {
			ip.SetBytes(parsed.To16())
		}
	}
	return types.Peer{IP: ip, Port: uint16(cfg.Port), NodeID: cfg.NodeID}
}
