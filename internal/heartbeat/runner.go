// Package heartbeat implements node membership (§4.8): each process writes
// a TTL'd presence key to the shared KV store on a fixed interval so peers
// can discover which nodes are currently active. Grounded on the teacher's
// heartbeat.Runner shape (Config struct, Start/Stop around a ticker loop,
// a mutex-guarded running flag) but retargeted from typing-indicator
// delivery to the KV-backed presence record spec.md names.
package heartbeat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nexus-orchestrator/orchestrator/internal/observability"
	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/internal/schedule"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

// keyPrefix is the KV key namespace for node-presence entries (§4.8).
const keyPrefix = "nodes:active:"

func key(nodeID string) string {
	return keyPrefix + nodeID
}

// Config holds the TTL/refresh intervals. Defaults match §4.8: a 20s TTL
// refreshed every 10s. RefreshCron, if set, overrides RefreshSeconds with a
// robfig/cron expression (standard five-field, optional leading seconds
// field, or a @every/@hourly descriptor) so deployments can refresh on a
// calendar boundary instead of a fixed interval.
type Config struct {
	TTLSeconds     int
	RefreshSeconds int
	RefreshCron    string
}

func (c *Config) applyDefaults() {
	if c.TTLSeconds <= 0 {
		c.TTLSeconds = models.ActiveNodeTTLSeconds
	}
	if c.RefreshSeconds <= 0 {
		c.RefreshSeconds = 10
	}
}

func (c Config) schedule() (schedule.Schedule, error) {
	if strings.TrimSpace(c.RefreshCron) != "" {
		return schedule.Parse(c.RefreshCron)
	}
	return schedule.EveryInterval(time.Duration(c.RefreshSeconds) * time.Second), nil
}

// Runner periodically refreshes this process's presence entry until Stop is
// called.
type Runner struct {
	kv       ports.KVStore
	logger   *observability.Logger
	nodeID   string
	config   Config
	schedule schedule.Schedule

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRunner builds a Runner for nodeID. A malformed RefreshCron expression
// falls back to the fixed RefreshSeconds interval and is logged as a warning
// here in NewRunner rather than failing construction.
func NewRunner(kv ports.KVStore, logger *observability.Logger, nodeID string, cfg Config) *Runner {
	cfg.applyDefaults()
	sched, err := cfg.schedule()
	if err != nil {
		sched = schedule.EveryInterval(time.Duration(cfg.RefreshSeconds) * time.Second)
		if logger != nil {
			logger.Warn(context.Background(), "heartbeat: invalid refresh schedule, falling back to fixed interval", "error", err, "nodeId", nodeID)
		}
	}
	return &Runner{kv: kv, logger: logger, nodeID: nodeID, config: cfg, schedule: sched}
}

// Start begins refreshing the presence entry on the runner's schedule
// (RefreshCron when set and valid, otherwise every RefreshSeconds), writing
// the first entry synchronously before returning. It is a no-op if already
// running.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	if err := r.beat(ctx); err != nil && r.logger != nil {
		r.logger.Warn(ctx, "heartbeat: initial beat failed", "error", err, "nodeId", r.nodeID)
	}

	go r.run(ctx)
	return nil
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.doneCh)

	for {
		next, err := r.schedule.Next(time.Now())
		if err != nil {
			if r.logger != nil {
				r.logger.Warn(ctx, "heartbeat: schedule error, retrying in RefreshSeconds", "error", err, "nodeId", r.nodeID)
			}
			next = time.Now().Add(time.Duration(r.config.RefreshSeconds) * time.Second)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			if err := r.beat(ctx); err != nil && r.logger != nil {
				r.logger.Warn(ctx, "heartbeat: beat failed, will retry next tick", "error", err, "nodeId", r.nodeID)
			}
		}
	}
}

func (r *Runner) beat(ctx context.Context) error {
	value := fmt.Sprintf("%d", time.Now().Unix())
	return r.kv.Set(ctx, key(r.nodeID), value, r.config.TTLSeconds)
}

// Stop deletes this node's presence entry and halts the refresh loop.
// Failure to delete is logged, not returned, since the entry will expire
// via TTL regardless (§4.8).
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	doneCh := r.doneCh
	r.mu.Unlock()

	<-doneCh

	if err := r.kv.Delete(ctx, key(r.nodeID)); err != nil && r.logger != nil {
		r.logger.Warn(ctx, "heartbeat: failed to delete presence entry on stop", "error", err, "nodeId", r.nodeID)
	}
}

// GetActiveNodes enumerates currently active nodes via a prefix scan
// (§4.8). Keys are the source of truth for liveness; the KV store's own TTL
// expiry removes stale entries, so every key returned here is live.
func GetActiveNodes(ctx context.Context, kv ports.KVStore) ([]models.ActiveNode, error) {
	keys, err := kv.ScanPrefix(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: scan active nodes: %w", err)
	}

	nodes := make([]models.ActiveNode, 0, len(keys))
	for _, k := range keys {
		nodeID := strings.TrimPrefix(k, keyPrefix)
		value, ok, err := kv.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		var lastHeartbeat int64
		fmt.Sscanf(value, "%d", &lastHeartbeat)
		nodes = append(nodes, models.ActiveNode{NodeID: nodeID, LastHeartbeat: lastHeartbeat})
	}
	return nodes, nil
}
