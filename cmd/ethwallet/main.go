// Command ethwallet runs the wallet sync core against one account and
// prints the event streams as they arrive.
//
// Usage:
//
//	ethwallet [flags]
//
// Flags:
//
//	--chain      Network name: mainnet, ropsten (default: mainnet)
//	--key        Account private key, hex with optional 0x prefix
//	--mode       Sync back-end: api, spv (default: api)
//	--rpc        JSON-RPC endpoint URL (api mode)
//	--index      Etherscan-style index URL (api mode)
//	--indexkey   Index API key (api mode, optional)
//	--peer       LES peer address host:port (spv mode)
//	--peerkey    LES peer node public key, 64-byte hex (spv mode)
//	--datadir    Store directory; empty selects the in-memory store
//	--version    Print version and exit
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethwallet/ethwallet/crypto"
	"github.com/ethwallet/ethwallet/log"
	"github.com/ethwallet/ethwallet/params"
	"github.com/ethwallet/ethwallet/rpc"
	"github.com/ethwallet/ethwallet/storage"
	"github.com/ethwallet/ethwallet/wallet"
)

var version = "v0.1.0-dev"

type config struct {
	chain    string
	keyHex   string
	mode     string
	rpcURL   string
	indexURL string
	indexKey string
	peerAddr string
	peerKey  string
	dataDir  string
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the testable entry point, returning an exit code.
func run(args []string) int {
	var cfg config
	fs := flag.NewFlagSet("ethwallet", flag.ContinueOnError)
	fs.StringVar(&cfg.chain, "chain", "mainnet", "network name (mainnet, ropsten)")
	fs.StringVar(&cfg.keyHex, "key", "", "account private key hex")
	fs.StringVar(&cfg.mode, "mode", "api", "sync back-end (api, spv)")
	fs.StringVar(&cfg.rpcURL, "rpc", "", "JSON-RPC endpoint URL")
	fs.StringVar(&cfg.indexURL, "index", "", "transaction index URL")
	fs.StringVar(&cfg.indexKey, "indexkey", "", "transaction index API key")
	fs.StringVar(&cfg.peerAddr, "peer", "", "LES peer address host:port")
	fs.StringVar(&cfg.peerKey, "peerkey", "", "LES peer node public key hex")
	fs.StringVar(&cfg.dataDir, "datadir", "", "store directory (empty: in-memory)")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Println("ethwallet", version)
		return 0
	}

	logger := log.Module("ethwallet")

	network := params.ByName(cfg.chain)
	if network == nil {
		logger.Error("unknown chain", "chain", cfg.chain)
		return 1
	}
	key, err := crypto.HexToKey(cfg.keyHex)
	if err != nil {
		logger.Error("invalid --key", "err", err)
		return 1
	}

	var store storage.Store
	if cfg.dataDir == "" {
		store = storage.NewMemoryStore()
	} else {
		lvl, err := storage.OpenLevelStore(cfg.dataDir)
		if err != nil {
			logger.Error("cannot open store", "dir", cfg.dataDir, "err", err)
			return 1
		}
		store = lvl
	}
	defer store.Close()

	factory, err := backendFactory(cfg, network, store, key, logger)
	if err != nil {
		logger.Error("bad configuration", "err", err)
		return 1
	}

	controller := wallet.NewController(network, store, key, factory)
	logger.Info("starting", "version", version, "chain", network.Name,
		"address", controller.ReceiveAddress(), "mode", cfg.mode)

	heights, cancelHeights := controller.LastBlockHeightStream()
	defer cancelHeights()
	states, cancelStates := controller.SyncStateStream()
	defer cancelStates()
	balances, cancelBalances := controller.BalanceStream()
	defer cancelBalances()
	txs, cancelTxs := controller.TransactionsStream()
	defer cancelTxs()

	if err := controller.Start(); err != nil {
		logger.Error("start failed", "err", err)
		return 1
	}
	defer controller.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case h := <-heights:
			logger.Info("block height", "height", h)
		case s := <-states:
			logger.Info("sync state", "asset", s.Asset, "status", s.State.Status,
				"progress", progressString(s.State))
		case b := <-balances:
			logger.Info("balance", "asset", b.Asset, "value", b.Value)
		case batch := <-txs:
			for _, tx := range batch.Txs {
				logger.Info("transaction", "hash", tx.Hash, "value", tx.Value)
			}
		case <-sig:
			logger.Info("shutting down")
			return 0
		}
	}
}

// backendFactory builds the configured back-end constructor.
func backendFactory(cfg config, network *params.Network, store storage.Store, key *crypto.PrivateKey, logger *log.Logger) (wallet.BackendFactory, error) {
	switch cfg.mode {
	case "api":
		if cfg.rpcURL == "" {
			return nil, fmt.Errorf("api mode requires --rpc")
		}
		var index *rpc.IndexClient
		if cfg.indexURL != "" {
			index = rpc.NewIndexClient(cfg.indexURL, cfg.indexKey)
		}
		return func(sink wallet.EventSink) wallet.Backend {
			return wallet.NewAPIBackend(wallet.APIBackendConfig{
				Network: network,
				Store:   store,
				Key:     key,
				Client:  rpc.NewClient(cfg.rpcURL),
				Index:   index,
			}, sink)
		}, nil

	case "spv":
		if cfg.peerAddr == "" || cfg.peerKey == "" {
			return nil, fmt.Errorf("spv mode requires --peer and --peerkey")
		}
		peerKeyBytes, err := decodeHex64(cfg.peerKey)
		if err != nil {
			return nil, err
		}
		peerPub, err := crypto.UnmarshalPubkey64(peerKeyBytes)
		if err != nil {
			return nil, err
		}
		return func(sink wallet.EventSink) wallet.Backend {
			return wallet.NewSPVBackend(wallet.SPVBackendConfig{
				Network:  network,
				Store:    store,
				Key:      key,
				PeerAddr: cfg.peerAddr,
				PeerKey:  peerPub,
			}, sink)
		}, nil

	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.mode)
	}
}

func progressString(s wallet.SyncState) string {
	if s.Progress == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *s.Progress*100)
}

func decodeHex64(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 64 {
		return nil, fmt.Errorf("invalid 64-byte hex node key")
	}
	return b, nil
}
