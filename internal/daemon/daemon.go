// Package daemon wires every domain component (spec §5 concurrency
// model) into a single process: the ScriptWatcher feeds the
// ScriptRegistry, the ScheduleEngine and ExecutionQueue drive
// execution, ClusterMembership and the TaskDispatcher participate in
// federation when enabled, and the ControlServer fronts all of it.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dagucloud/scriptd/internal/auth"
	"github.com/dagucloud/scriptd/internal/cluster"
	"github.com/dagucloud/scriptd/internal/config"
	"github.com/dagucloud/scriptd/internal/dispatch"
	"github.com/dagucloud/scriptd/internal/eventbus"
	"github.com/dagucloud/scriptd/internal/logx"
	"github.com/dagucloud/scriptd/internal/queue"
	"github.com/dagucloud/scriptd/internal/runtime"
	"github.com/dagucloud/scriptd/internal/schedule"
	"github.com/dagucloud/scriptd/internal/script"
	"github.com/dagucloud/scriptd/internal/server"
	"github.com/dagucloud/scriptd/internal/watcher"
)

// Daemon owns every long-running component and the channel plumbing
// between them.
type Daemon struct {
	cfg *config.Config
	log *slog.Logger

	bus      *eventbus.Bus
	registry *script.Registry
	watcher  *watcher.Watcher
	queue    *queue.Queue
	engine   *schedule.Engine
	auth     *auth.FileStore

	membership *cluster.Membership
	dispatcher *dispatch.Dispatcher

	server *server.Server
}

// New builds every component from cfg but starts nothing yet.
func New(cfg *config.Config, version string) (*Daemon, error) {
	if err := os.MkdirAll(cfg.Watch.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating watch dir: %w", err)
	}
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log dir: %w", err)
		}
	}

	tail := logx.NewTailBuffer(2000)
	log := logx.New(logx.Config{Dir: cfg.LogDir, Level: slog.LevelInfo, Tail: tail})

	bus := eventbus.New(logx.With(log, "eventbus"))
	registry := script.NewRegistry(logx.With(log, "registry"), nil)

	rt := runtime.Runtime(runtime.NewExecFunc(runtime.ExecConfig{}))
	q := queue.New(queue.Config{
		MaxRetries:  cfg.Queue.MaxRetries,
		RetryDelay:  cfg.Queue.RetryDelay,
		Exponential: cfg.Queue.ExponentialBackoff,
		StopGrace:   cfg.Queue.StopGrace,
	}, registry, rt, bus, logx.With(log, "queue"))

	engine := schedule.New(q, registry, logx.With(log, "schedule"))
	registry.SetScheduler(engine)

	w := watcher.New(cfg.Watch.Dir, cfg.Watch.Extension, logx.With(log, "watcher"))

	authStore, err := auth.NewFileStore(cfg.Auth.KeyFilePath)
	if err != nil {
		return nil, fmt.Errorf("loading API key store: %w", err)
	}
	if cfg.Auth.Enabled {
		if err := auth.Bootstrap(context.Background(), authStore, logx.With(log, "auth")); err != nil {
			return nil, fmt.Errorf("bootstrapping admin API key: %w", err)
		}
	}

	d := &Daemon{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		registry: registry,
		watcher:  w,
		queue:    q,
		engine:   engine,
		auth:     authStore,
	}

	if cfg.Cluster.Enabled {
		d.setupCluster()
	}

	deps := server.Dependencies{
		Registry:       registry,
		Queue:          q,
		Membership:     d.membership,
		Dispatcher:     d.dispatcher,
		Auth:           authStore,
		AuthEnabled:    cfg.Auth.Enabled,
		Bus:            bus,
		Logs:           tail,
		WatchDir:       cfg.Watch.Dir,
		WatchExtension: cfg.Watch.Extension,
		Reload:         d.Reload,
		Version:        version,
		StartedAt:      time.Now(),
	}
	d.server = server.New(server.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		TLSCertPath:  cfg.Server.TLSCertPath,
		TLSKeyPath:   cfg.Server.TLSKeyPath,
		DashboardDir: cfg.Server.DashboardDir,
	}, deps, logx.With(log, "server"))

	return d, nil
}

func (d *Daemon) setupCluster() {
	cc := d.cfg.Cluster
	if cc.NodeID == "" {
		cc.NodeID = uuid.NewString()
	}
	if cc.NodeName == "" {
		if host, err := os.Hostname(); err == nil {
			cc.NodeName = host
		} else {
			cc.NodeName = cc.NodeID
		}
	}
	endpoint := fmt.Sprintf("%s:%d", cc.NodeName, d.cfg.Server.Port)
	useTLS := d.cfg.Server.HasTLS()

	peerClient := cluster.NewRestyPeerClient("", useTLS)
	d.membership = cluster.New(cluster.Config{
		NodeID:            cc.NodeID,
		NodeName:          cc.NodeName,
		Endpoint:          endpoint,
		SeedNodes:         cc.SeedNodes,
		HeartbeatInterval: cc.HeartbeatInterval,
		HeartbeatTimeout:  cc.HeartbeatTimeout,
	}, d.queue, peerClient, d.bus, logx.With(d.log, "cluster"))

	rules := make([]dispatch.AffinityRule, 0, len(cc.AffinityRules))
	for pattern, nodeID := range cc.AffinityRules {
		rules = append(rules, dispatch.AffinityRule{Pattern: pattern, NodeID: nodeID})
	}
	dispatchClient := dispatch.NewRestyPeerClient(useTLS)
	d.dispatcher = dispatch.New(dispatch.Config{
		MaxRetries:      cc.DispatchMaxRetries,
		RetryDelay:      cc.DispatchRetryDelay,
		LoadThreshold:   cc.LoadThreshold,
		DefaultStrategy: dispatch.Strategy(cc.DispatchStrategy),
		AffinityRules:   rules,
	}, d.membership, dispatchClient, d.bus, logx.With(d.log, "dispatch"))
}

// Run starts every component and blocks until ctx is cancelled or a
// component fails irrecoverably, then cancels the shared context and
// waits for the watcher, queue, server and cluster goroutines to return.
// There is no shutdown grace period: cfg.Queue.ShutdownGrace is not
// used, the task in flight sees the cancelled context through the
// runtime (the default ExecFunc kills its interpreter), and the queue
// worker waits for it to return. Schedule timers are not stopped by Run.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.loadScriptsFromDisk(); err != nil {
		return fmt.Errorf("initial script scan: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 8)

	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	run("watcher", d.watcher.Run)
	run("queue", d.queue.Run)
	run("server", d.server.Run)
	if d.membership != nil {
		run("cluster", d.membership.Run)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.watchEvents(runCtx)
	}()

	select {
	case <-runCtx.Done():
	case err := <-errCh:
		d.log.Error("component failed, shutting down", "error", err)
		cancel()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		d.log.Warn("component reported error during shutdown", "error", err)
	}
	return nil
}

// watchEvents applies ScriptWatcher events to the ScriptRegistry (spec §4.2).
func (d *Daemon) watchEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case watcher.EventAdded, watcher.EventChanged:
				body, err := os.ReadFile(ev.Path)
				if err != nil {
					d.log.Warn("failed to read changed script", "path", ev.Path, "error", err)
					continue
				}
				d.registry.Upsert(ev.Path, string(body))
			case watcher.EventRemoved:
				d.registry.Remove(ev.Path)
			}
		}
	}
}

// loadScriptsFromDisk performs the initial directory scan before the
// watcher's own incremental events take over, and is re-run on
// POST /api/daemon/reload.
func (d *Daemon) loadScriptsFromDisk() error {
	entries, err := os.ReadDir(d.cfg.Watch.Dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != d.cfg.Watch.Extension {
			continue
		}
		path := filepath.Join(d.cfg.Watch.Dir, entry.Name())
		body, err := os.ReadFile(path)
		if err != nil {
			d.log.Warn("failed to read script during scan", "path", path, "error", err)
			continue
		}
		d.registry.Upsert(path, string(body))
	}
	return nil
}

// Reload re-reads the script directory and rearms schedules (spec §6.3
// POST /api/daemon/reload): it cancels every timer, then upserts every
// script file found on disk, which re-arms their schedules. Registry
// records are not cleared first, so a record whose file is gone stays
// until the watcher reports its removal, and a script that is running
// during the reload is not re-armed (see Registry.Upsert).
func (d *Daemon) Reload(ctx context.Context) error {
	d.engine.StopAll()
	return d.loadScriptsFromDisk()
}
