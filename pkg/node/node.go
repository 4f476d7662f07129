package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/cuemby/burrow/pkg/actions"
	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/authority"
	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/coordinator"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/executor"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/reconciler"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/taskmanager"
	"github.com/cuemby/burrow/pkg/types"
)

// ShutdownTimeout bounds how long running actions get to wind down
const ShutdownTimeout = 30 * time.Second

// Node is a burrow cluster member: an authority replica plus the
// coordinator that runs the tasks the ledger assigns to it.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger

	health      *metrics.HealthChecker
	broker      *events.Broker
	registry    *registry.Registry
	tasks       *taskmanager.Manager
	executor    *executor.Executor
	authority   *authority.Authority
	coordinator *coordinator.Coordinator
	client      *client.Client
	api         *api.Server
	http        *api.HealthServer
	collector   *metrics.Collector
	reconciler  *reconciler.Reconciler

	// clientOpts are used for every client the node creates
	clientOpts []client.Option

	stopOnce sync.Once
}

// Option customizes a node before it starts
type Option func(*Node) error

// WithActions registers additional persistent actions
func WithActions(register func(*registry.Registry) error) Option {
	return func(n *Node) error {
		return register(n.registry)
	}
}

// New builds every component of a node from cfg. Nothing runs until Run.
func New(cfg *config.Config, version string, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	n := &Node{
		cfg:      cfg,
		logger:   log.WithNodeID(cfg.NodeID),
		health:   metrics.NewHealthChecker(version, metrics.ComponentRaft, metrics.ComponentCoordinator, metrics.ComponentAPI),
		broker:   events.NewBroker(),
		registry: registry.NewRegistry(),
		tasks:    taskmanager.NewManager(),
		executor: executor.NewExecutor(cfg.ExecutorConfig()),
	}

	if err := actions.Register(n.registry); err != nil {
		return nil, fmt.Errorf("failed to register built-in actions: %w", err)
	}
	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, err
		}
	}

	auth, err := authority.New(authority.Config{
		NodeID:   cfg.NodeID,
		BindAddr: cfg.RaftAddr,
		DataDir:  cfg.DataDir,
		InMemory: cfg.InMemory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create authority: %w", err)
	}
	n.authority = auth

	n.clientOpts = []client.Option{client.WithTimeout(cfg.RPC.Timeout)}
	var serverOpts []grpc.ServerOption
	if cfg.TLS.CertDir != "" {
		serverCreds, err := security.ServerCredentials(cfg.TLS.CertDir)
		if err != nil {
			auth.Shutdown()
			return nil, fmt.Errorf("failed to load server TLS: %w", err)
		}
		clientCreds, err := security.ClientCredentials(cfg.TLS.CertDir)
		if err != nil {
			auth.Shutdown()
			return nil, fmt.Errorf("failed to load client TLS: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(serverCreds))
		n.clientOpts = append(n.clientOpts, client.WithTransportCredentials(clientCreds))
	}

	var service coordinator.ActionService
	if cfg.InMemory {
		service = authority.NewLocalService(auth, n.tasks)
	} else {
		// Cancellations land on our own API and completions are
		// redirected to whichever member leads.
		c, err := client.NewClient(cfg.AdvertisedAPIAddr(), n.clientOpts...)
		if err != nil {
			auth.Shutdown()
			return nil, fmt.Errorf("failed to create action service client: %w", err)
		}
		n.client = c
		service = c
	}

	n.coordinator = coordinator.NewCoordinator(cfg.NodeID, service, n.registry, n.tasks, n.executor)
	n.coordinator.SetBroker(n.broker)
	auth.AddListener(n.coordinator)

	n.api = api.NewServer(cfg.NodeID, auth, n.tasks, n.coordinator, serverOpts...)
	n.http = api.NewHealthServer(n.health, n.coordinator, n.tasks)
	n.http.SetEvents(n.broker)
	n.collector = metrics.NewCollector(auth, 15*time.Second)
	n.reconciler = reconciler.NewReconciler(auth, cfg.Placement.RecheckInterval)
	return n, nil
}

// Broker returns the task lifecycle event broker
func (n *Node) Broker() *events.Broker {
	return n.broker
}

// Coordinator returns the node's coordinator
func (n *Node) Coordinator() *coordinator.Coordinator {
	return n.coordinator
}

// Authority returns the node's authority replica
func (n *Node) Authority() *authority.Authority {
	return n.authority
}

// Run starts the node and blocks until ctx is cancelled or a server fails.
// The node is shut down before Run returns.
func (n *Node) Run(ctx context.Context) error {
	n.broker.Start()

	apiLis, err := net.Listen("tcp", n.cfg.APIAddr)
	if err != nil {
		n.shutdown()
		return fmt.Errorf("failed to listen on %s: %w", n.cfg.APIAddr, err)
	}
	httpLis, err := net.Listen("tcp", n.cfg.HTTPAddr)
	if err != nil {
		apiLis.Close()
		n.shutdown()
		return fmt.Errorf("failed to listen on %s: %w", n.cfg.HTTPAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := n.api.Serve(apiLis)
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC API server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := n.http.Serve(httpLis); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	n.health.UpdateComponent(metrics.ComponentAPI, true, "")

	g.Go(func() error {
		if err := n.joinCluster(gctx); err != nil {
			n.health.UpdateComponent(metrics.ComponentRaft, false, err.Error())
			return err
		}
		n.health.UpdateComponent(metrics.ComponentRaft, true, "")
		n.health.UpdateComponent(metrics.ComponentCoordinator, true, "")
		n.collector.Start()
		n.reconciler.Start()
		n.reconciler.Trigger()
		n.logger.Info().
			Str("api_addr", n.cfg.APIAddr).
			Str("http_addr", n.cfg.HTTPAddr).
			Msg("Node is running")
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		n.shutdown()
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (n *Node) joinCluster(ctx context.Context) error {
	if err := n.authority.Start(n.cfg.Bootstrap); err != nil {
		return fmt.Errorf("failed to start raft: %w", err)
	}

	if n.cfg.Join != "" {
		return n.joinVia(ctx, n.cfg.Join)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := n.authority.WaitForLeader(waitCtx); err != nil {
		return err
	}
	if !n.authority.IsLeader() {
		// Restarted into an existing cluster that elected someone else.
		n.logger.Info().Str("leader", n.authority.LeaderAddr()).Msg("Rejoined existing cluster")
		return nil
	}
	return n.authority.RegisterNode(&types.Node{
		ID:        n.cfg.NodeID,
		RaftAddr:  n.authority.LocalAddr(),
		APIAddr:   n.cfg.AdvertisedAPIAddr(),
		Status:    types.NodeStatusReady,
		CreatedAt: time.Now().UTC(),
	})
}

func (n *Node) joinVia(ctx context.Context, addr string) error {
	c, err := client.NewClient(addr, n.clientOpts...)
	if err != nil {
		return err
	}
	defer c.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		err := c.JoinCluster(n.cfg.NodeID, n.cfg.RaftAddr, n.cfg.AdvertisedAPIAddr())
		if err == nil {
			n.logger.Info().Str("via", addr).Msg("Joined cluster")
			return nil
		}
		n.logger.Warn().Err(err).Str("via", addr).Msg("Failed to join cluster, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to join cluster via %s: %w", addr, err)
		case <-ticker.C:
		}
	}
}

// shutdown stops components in reverse start order. Local tasks are
// cancelled after the authority is gone, so their outcomes never reach
// the ledger and the tasks are picked up again on restart.
func (n *Node) shutdown() {
	n.stopOnce.Do(n.stop)
}

func (n *Node) stop() {
	n.logger.Info().Msg("Shutting down node")
	n.health.UpdateComponent(metrics.ComponentAPI, false, "shutting down")

	n.reconciler.Stop()
	n.collector.Stop()
	if err := n.http.Shutdown(); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to stop HTTP server")
	}
	n.api.Stop()
	if err := n.authority.Shutdown(); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to stop authority")
	}
	if n.client != nil {
		if err := n.client.Close(); err != nil {
			n.logger.Warn().Err(err).Msg("Failed to close action service client")
		}
	}

	for _, t := range n.tasks.List() {
		_ = n.tasks.Cancel(t.ID(), "node shutting down")
	}
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := n.executor.Stop(ctx); err != nil {
		n.logger.Warn().Err(err).Msg("Actions still running at shutdown")
	}

	n.broker.Stop()
	n.logger.Info().Msg("Node stopped")
}
