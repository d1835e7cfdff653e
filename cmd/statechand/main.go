package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"statechan/config"
	"statechan/crypto"
	"statechan/native/channel"
	"statechan/native/dispute"
	"statechan/observability/logging"
	"statechan/observability/metrics"
	"statechan/rpc"
	"statechan/storage"
	"statechan/storage/channelstore"
)

// staticQuorum authorises dispute resolutions from a fixed resolver set
// loaded at startup. Production deployments back this with the multisig
// module; the daemon only needs the membership check.
type staticQuorum struct {
	members map[[20]byte]struct{}
}

func (q *staticQuorum) IsAuthorizedSigner(addr [20]byte) bool {
	_, ok := q.members[addr]
	return ok
}

func (q *staticQuorum) QuorumThreshold() uint8 {
	n := len(q.members)
	return uint8(n/2 + 1)
}

func loadQuorum(path string) (*staticQuorum, error) {
	quorum := &staticQuorum{members: make(map[[20]byte]struct{})}
	if strings.TrimSpace(path) == "" {
		return quorum, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addr, err := decodeResolver(line)
		if err != nil {
			return nil, fmt.Errorf("resolver file %s: %w", path, err)
		}
		quorum.members[addr] = struct{}{}
	}
	return quorum, nil
}

func decodeResolver(value string) ([20]byte, error) {
	var addr [20]byte
	decoded, err := crypto.DecodeAddress(value)
	if err != nil {
		return addr, err
	}
	copy(addr[:], decoded.Bytes())
	return addr, nil
}

func runKeygen(args []string) {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "./statechan-key.json", "Path for the encrypted keystore file")
	_ = fs.Parse(args)

	passphrase := os.Getenv("STATECHAN_KEYSTORE_PASSPHRASE")
	if passphrase == "" {
		fmt.Fprintln(os.Stderr, "STATECHAN_KEYSTORE_PASSPHRASE must be set")
		os.Exit(1)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate key: %v\n", err)
		os.Exit(1)
	}
	if err := crypto.SaveToKeystore(*out, key, passphrase); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write keystore: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(key.PubKey().Address().String())
}

func runAddr(args []string) {
	fs := flag.NewFlagSet("addr", flag.ExitOnError)
	in := fs.String("in", "./statechan-key.json", "Path to the encrypted keystore file")
	_ = fs.Parse(args)

	passphrase := os.Getenv("STATECHAN_KEYSTORE_PASSPHRASE")
	key, err := crypto.LoadFromKeystore(*in, passphrase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open keystore: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(key.PubKey().Address().String())
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "keygen":
			runKeygen(os.Args[2:])
			return
		case "addr":
			runAddr(os.Args[2:])
			return
		}
	}

	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	resolverFile := flag.String("resolvers", "", "Path to a file listing authorization-quorum resolver addresses")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("STATECHAN_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.SetupWithOptions("statechand", env, logging.Options{FilePath: cfg.LogFile})

	var db storage.Database
	switch strings.ToLower(cfg.Backend) {
	case config.BackendBolt:
		db, err = storage.NewBoltDB(filepath.Join(cfg.DataDir, "statechan.db"))
	default:
		db, err = storage.NewLevelDB(cfg.DataDir)
	}
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	quorum, err := loadQuorum(*resolverFile)
	if err != nil {
		logger.Error("Failed to load resolver quorum", slog.Any("error", err))
		os.Exit(1)
	}
	if len(quorum.members) == 0 {
		logger.Warn("No resolvers configured; dispute resolution is disabled")
	}

	store := channelstore.NewStore(db)

	engine := channel.NewEngine()
	engine.SetState(store)
	engine.SetDisputePeriod(cfg.DisputePeriodSeconds)

	disputes := dispute.NewEngine()
	disputes.SetState(store)
	disputes.SetAuthorizationQuorum(quorum)

	promRegistry := prometheus.NewRegistry()
	channelMetrics := metrics.NewChannelMetrics(promRegistry)
	registry := channel.NewRegistry(engine, channelMetrics)

	logger.Info("statechand starting",
		slog.String("network", cfg.NetworkName),
		slog.String("backend", cfg.Backend),
		slog.String("rpc", cfg.RPCAddress),
	)

	server := rpc.NewServer(registry, disputes, logger, cfg.RateLimitPerMinute, promRegistry)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
