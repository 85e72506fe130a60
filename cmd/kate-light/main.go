// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/blinklabs-io/gokate/cmd/common"
	"github.com/blinklabs-io/gokate/datastore"
	"github.com/blinklabs-io/gokate/datastore/grpcstore"
	"github.com/blinklabs-io/gokate/internal/node"
	"github.com/blinklabs-io/gokate/matrix"
	"github.com/blinklabs-io/gokate/network"
	"github.com/blinklabs-io/gokate/proof"
	"github.com/blinklabs-io/gokate/swarm"
)

const metricsNamespace = "kate"

type peerList []string

func (p *peerList) String() string {
	return strings.Join(*p, ",")
}

func (p *peerList) Set(value string) error {
	*p = append(*p, value)
	return nil
}

type lightClientFlags struct {
	*common.GlobalFlags
	listen          string
	topology        string
	peers           peerList
	identitySeed    string
	dataDir         string
	rpcUrl          string
	rpcRetries      int
	metricsListen   string
	grpcListen      string
	requestTimeout  time.Duration
	headerCacheSize int
	publish         bool
	maxCells        int
	gcInterval      time.Duration
}

func main() {
	// Parse commandline
	f := lightClientFlags{
		GlobalFlags: common.NewGlobalFlags(),
	}
	f.Flagset.StringVar(&f.listen, "listen", "0.0.0.0:3030", "address to accept peer connections on (empty to disable)")
	f.Flagset.StringVar(&f.topology, "topology", "", "path to topology config file")
	f.Flagset.Var(&f.peers, "peer", "peer to connect to in [peerid@]host:port format (may be repeated)")
	f.Flagset.StringVar(&f.identitySeed, "identity-seed", "", "hex-encoded 32-byte seed for the node identity (random if empty)")
	f.Flagset.StringVar(&f.dataDir, "data-dir", "", "directory for persistent matrix storage (in-memory if empty)")
	f.Flagset.StringVar(&f.rpcUrl, "rpc-url", "", "JSON-RPC endpoint serving cell proofs")
	f.Flagset.IntVar(&f.rpcRetries, "rpc-retries", 3, "attempts per proof request")
	f.Flagset.StringVar(&f.metricsListen, "metrics-listen", "", "address for the Prometheus metrics endpoint")
	f.Flagset.StringVar(&f.grpcListen, "grpc-listen", "", "address for the block store gRPC service")
	f.Flagset.DurationVar(&f.requestTimeout, "request-timeout", swarm.DefaultRequestTimeout, "timeout for block requests to peers")
	f.Flagset.IntVar(&f.headerCacheSize, "header-cache-size", node.DefaultHeaderCacheSize, "number of recent headers to keep")
	f.Flagset.BoolVar(&f.publish, "publish", true, "build and publish the data matrix for each new block (requires -rpc-url)")
	f.Flagset.IntVar(&f.maxCells, "max-cells", node.DefaultMaxCells, "largest matrix, in cells, to build and publish")
	f.Flagset.DurationVar(&f.gcInterval, "gc-interval", 10*time.Minute, "interval between block store garbage collections (0 to disable)")
	f.Parse()
	logger := f.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, f, logger); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, f lightClientFlags, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Storage
	store, err := openStore(f.dataDir, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn(fmt.Sprintf("failed to close store: %s", err))
		}
	}()

	// Sync loop
	nodeOpts := []node.NodeOptionFunc{
		node.WithLogger(logger),
		node.WithHeaderCacheSize(f.headerCacheSize),
		node.WithMaxCells(f.maxCells),
		node.WithGarbageCollection(store, f.gcInterval),
	}
	if f.publish {
		if f.rpcUrl == "" {
			logger.Warn("matrix publishing disabled: no -rpc-url specified")
		} else {
			matrixMetrics := matrix.NewMetrics(metricsNamespace, reg)
			source := proof.WithRetry(
				proof.NewRPCClient(f.rpcUrl, proof.WithLogger(logger)),
				f.rpcRetries,
				time.Second,
			)
			nodeOpts = append(
				nodeOpts,
				node.WithMatrixPublishing(
					matrix.NewBuilder(
						source,
						matrix.WithBuilderLogger(logger),
						matrix.WithBuilderMetrics(matrixMetrics),
					),
					matrix.NewPublisher(
						store,
						matrix.WithPublisherLogger(logger),
						matrix.WithPublisherMetrics(matrixMetrics),
					),
				),
			)
		}
	}
	n, err := node.New(nodeOpts...)
	if err != nil {
		return err
	}

	// Peer network
	identity, err := loadIdentity(f.identitySeed)
	if err != nil {
		return err
	}
	knownPeers, err := knownPeerAddresses(f)
	if err != nil {
		return err
	}
	netw, err := network.Start(ctx, network.Config{
		ListenAddress:      f.listen,
		KnownAddresses:     knownPeers,
		NetworkMagic:       uint32(f.NetworkMagic), // #nosec G115
		Identity:           identity,
		RequestTimeout:     f.requestTimeout,
		HeaderProviderFunc: n.HeaderProvider(),
		Logger:             logger,
		Metrics:            network.NewMetrics(metricsNamespace, reg),
	})
	if err != nil {
		return fmt.Errorf("failed to start network: %w", err)
	}
	logger.Info(
		"network started",
		"peer_id", netw.LocalPeerId().String(),
		"known_peers", len(knownPeers),
	)

	g, ctx := errgroup.WithContext(ctx)
	if f.metricsListen != "" {
		metricsServer := &http.Server{
			Addr:              f.metricsListen,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving metrics", "address", f.metricsListen)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return metricsServer.Close()
		})
	}
	if f.grpcListen != "" {
		listener, err := net.Listen("tcp", f.grpcListen)
		if err != nil {
			_ = netw.Close()
			return fmt.Errorf("failed to listen for gRPC: %w", err)
		}
		grpcServer := grpc.NewServer()
		grpcstore.RegisterBlockStoreServer(grpcServer, grpcstore.NewServer(store, logger))
		g.Go(func() error {
			logger.Info("serving block store", "address", listener.Addr().String())
			return grpcServer.Serve(listener)
		})
		g.Go(func() error {
			<-ctx.Done()
			grpcServer.GracefulStop()
			return nil
		})
	}
	g.Go(func() error {
		// Closing the network unblocks the sync loop
		<-ctx.Done()
		return netw.Close()
	})
	g.Go(func() error {
		return n.RunGC(ctx)
	})
	g.Go(func() error {
		err := n.Run(ctx, netw)
		if err == nil && ctx.Err() == nil {
			return errors.New("network closed unexpectedly")
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func openStore(dataDir string, logger *slog.Logger) (*datastore.BlockStore, error) {
	if dataDir == "" {
		return datastore.NewMemoryStore(datastore.WithLogger(logger)), nil
	}
	backend, err := datastore.NewBadgerBackend(
		dataDir,
		datastore.WithBadgerLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open data dir: %w", err)
	}
	return datastore.NewStore(backend, datastore.WithLogger(logger)), nil
}

func loadIdentity(seedHex string) (*swarm.Identity, error) {
	if seedHex == "" {
		return swarm.GenerateIdentity()
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("invalid identity seed: %w", err)
	}
	return swarm.NewIdentityFromSeed(seed)
}

func knownPeerAddresses(f lightClientFlags) ([]swarm.PeerAddress, error) {
	var ret []swarm.PeerAddress
	if f.topology != "" {
		topology, err := swarm.NewTopologyConfigFromFile(f.topology)
		if err != nil {
			return nil, fmt.Errorf("failed to load topology: %w", err)
		}
		if topology.NetworkMagic != 0 && topology.NetworkMagic != uint32(f.NetworkMagic) { // #nosec G115
			return nil, fmt.Errorf(
				"topology network magic %d does not match %d",
				topology.NetworkMagic,
				f.NetworkMagic,
			)
		}
		addrs, err := topology.PeerAddresses()
		if err != nil {
			return nil, err
		}
		ret = append(ret, addrs...)
	}
	for _, peer := range f.peers {
		addr, err := parsePeerAddress(peer)
		if err != nil {
			return nil, err
		}
		ret = append(ret, addr)
	}
	return ret, nil
}

// parsePeerAddress parses a peer in [peerid@]host:port format
func parsePeerAddress(s string) (swarm.PeerAddress, error) {
	var ret swarm.PeerAddress
	if idStr, hostPort, ok := strings.Cut(s, "@"); ok {
		peerId, err := swarm.ParsePeerId(idStr)
		if err != nil {
			return ret, fmt.Errorf("invalid peer %q: %w", s, err)
		}
		ret.PeerId = &peerId
		s = hostPort
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return ret, fmt.Errorf("invalid peer %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return ret, fmt.Errorf("invalid peer %q: bad port", s)
	}
	ret.Address = host
	ret.Port = uint(port)
	return ret, nil
}
