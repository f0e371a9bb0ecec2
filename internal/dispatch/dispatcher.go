package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dagucloud/scriptd/internal/backoff"
	"github.com/dagucloud/scriptd/internal/cluster"
	"github.com/dagucloud/scriptd/internal/eventbus"
)

const ringCapacity = 500

// Config controls retry behavior and strategy defaults (spec §4.6, §6.2).
type Config struct {
	MaxRetries      int
	RetryDelay      time.Duration
	LoadThreshold   float64
	DefaultStrategy Strategy
	AffinityRules   []AffinityRule
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 3 * time.Second
	}
	if c.LoadThreshold == 0 {
		c.LoadThreshold = 90
	}
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = StrategyRoundRobin
	}
	return c
}

// ClusterView is the seam Dispatcher uses to see online peers, so it
// does not need to import the membership implementation directly.
type ClusterView interface {
	View() cluster.View
	Self() cluster.NodeInfo
}

// Dispatcher is the TaskDispatcher.
type Dispatcher struct {
	cfg     Config
	cluster ClusterView
	client  PeerClient
	bus     *eventbus.Bus
	log     *slog.Logger

	retryPolicy backoff.RetryPolicy
	history     *ring

	rrMu  sync.Mutex
	rrIdx int
}

// New creates a Dispatcher.
func New(cfg Config, view ClusterView, client PeerClient, bus *eventbus.Bus, log *slog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		cfg:         cfg,
		cluster:     view,
		client:      client,
		bus:         bus,
		log:         log,
		retryPolicy: backoff.NewTaskRetryPolicy(cfg.RetryDelay, cfg.MaxRetries, false),
		history:     newRing(ringCapacity),
	}
}

// Config returns the dispatcher's current configuration (spec §6.3 GET
// /api/dispatch/config).
func (d *Dispatcher) Config() Config { return d.cfg }

// History returns the last (up to) 500 dispatch records, oldest first.
func (d *Dispatcher) History() []Record { return d.history.list() }

// Dispatch selects a target peer and submits req to it, retrying on
// failure up to the configured bound (spec §4.6, §8: "exactly 1 +
// maxRetries attempts").
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Record, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = d.cfg.DefaultStrategy
	}

	candidates := d.onlineCandidates()
	target, err := d.selectTarget(strategy, candidates, req)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		TaskID:       uuid.NewString(),
		Strategy:     strategy,
		TargetNodeID: target.ID,
		Start:        time.Now(),
	}

	remoteTaskID, err := d.submitWithRetry(ctx, target.Endpoint, req)
	rec.End = time.Now()
	if err != nil {
		rec.Outcome = OutcomeError
		rec.Error = err.Error()
		d.record(rec, EventDispatchError)
		return rec, err
	}

	rec.Outcome = OutcomeSuccess
	rec.RemoteTaskID = remoteTaskID
	d.record(rec, EventDispatchSuccess)
	return rec, nil
}

// Broadcast sends req to every online peer concurrently (spec §4.6).
func (d *Dispatcher) Broadcast(ctx context.Context, req Request) []Record {
	candidates := d.onlineCandidates()
	results := make([]Record, len(candidates))

	var wg sync.WaitGroup
	for i, peer := range candidates {
		wg.Add(1)
		go func(i int, peer cluster.NodeInfo) {
			defer wg.Done()
			rec := Record{
				TaskID:       uuid.NewString(),
				Strategy:     StrategyAffinity,
				TargetNodeID: peer.ID,
				Start:        time.Now(),
			}
			remoteTaskID, err := d.submitWithRetry(ctx, peer.Endpoint, req)
			rec.End = time.Now()
			if err != nil {
				rec.Outcome = OutcomeError
				rec.Error = err.Error()
				d.record(rec, EventDispatchError)
			} else {
				rec.Outcome = OutcomeSuccess
				rec.RemoteTaskID = remoteTaskID
				d.record(rec, EventDispatchSuccess)
			}
			results[i] = rec
		}(i, peer)
	}
	wg.Wait()
	return results
}

func (d *Dispatcher) submitWithRetry(ctx context.Context, endpoint string, req Request) (string, error) {
	retrier := backoff.NewRetrier(d.retryPolicy)
	var lastErr error
	for attempt := 0; ; attempt++ {
		remoteTaskID, err := d.client.Run(ctx, endpoint, req.Code, req.BearerToken)
		if err == nil {
			return remoteTaskID, nil
		}
		lastErr = err

		if waitErr := retrier.Next(ctx, err); waitErr != nil {
			return "", lastErr
		}
	}
}

func (d *Dispatcher) record(rec Record, eventKind string) {
	d.history.add(rec)
	if d.bus != nil {
		d.bus.Publish(eventbus.TopicTask, Event{Kind: eventKind, Record: rec})
	}
}

func (d *Dispatcher) onlineCandidates() []cluster.NodeInfo {
	view := d.cluster.View()
	self := d.cluster.Self()

	out := make([]cluster.NodeInfo, 0, len(view.Nodes))
	for id, n := range view.Nodes {
		if id == self.ID {
			continue
		}
		if n.Status != cluster.StatusOnline && n.Status != cluster.StatusBusy {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Dispatcher) selectTarget(strategy Strategy, candidates []cluster.NodeInfo, req Request) (cluster.NodeInfo, error) {
	if len(candidates) == 0 {
		return cluster.NodeInfo{}, fmt.Errorf("no online peers available for dispatch")
	}

	switch strategy {
	case StrategyRoundRobin:
		return d.roundRobin(candidates), nil
	case StrategyLeastLoad:
		return d.leastLoad(candidates)
	case StrategyAffinity:
		return d.affinity(candidates, req)
	default:
		return cluster.NodeInfo{}, fmt.Errorf("unknown dispatch strategy %q", strategy)
	}
}

func (d *Dispatcher) roundRobin(candidates []cluster.NodeInfo) cluster.NodeInfo {
	d.rrMu.Lock()
	defer d.rrMu.Unlock()
	idx := d.rrIdx % len(candidates)
	d.rrIdx++
	return candidates[idx]
}

func (d *Dispatcher) leastLoad(candidates []cluster.NodeInfo) (cluster.NodeInfo, error) {
	var best *cluster.NodeInfo
	var bestScore float64
	for i := range candidates {
		n := candidates[i]
		if n.Stats.CPUPercent > d.cfg.LoadThreshold {
			continue
		}
		score := 0.4*n.Stats.CPUPercent + 4.0*float64(n.Stats.TasksRunning) + 1.0*float64(n.Stats.TasksQueued)
		if best == nil || score < bestScore || (score == bestScore && n.ID < best.ID) {
			nCopy := n
			best = &nCopy
			bestScore = score
		}
	}
	if best == nil {
		return cluster.NodeInfo{}, fmt.Errorf("no candidate node under load threshold %.0f", d.cfg.LoadThreshold)
	}
	return *best, nil
}

func (d *Dispatcher) affinity(candidates []cluster.NodeInfo, req Request) (cluster.NodeInfo, error) {
	if req.TargetNodeID != "" {
		for _, n := range candidates {
			if n.ID == req.TargetNodeID {
				return n, nil
			}
		}
		return cluster.NodeInfo{}, fmt.Errorf("requested target node %q is not online", req.TargetNodeID)
	}

	if req.Name != "" {
		for _, rule := range d.cfg.AffinityRules {
			if ok, _ := path.Match(rule.Pattern, req.Name); ok {
				for _, n := range candidates {
					if n.ID == rule.NodeID {
						return n, nil
					}
				}
			}
		}
	}

	return d.leastLoad(candidates)
}
