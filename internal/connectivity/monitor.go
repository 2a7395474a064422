// Package connectivity tracks whether the remote catalogue is reachable. The
// library service consumes the snapshot and the transition stream; it never
// mutates this state itself.
package connectivity

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cineview/cineview/pkg/logger"
)

var log = logger.Get("Connectivity")

type (
	Config struct {
		// ProbeTarget is the host:port dialled to decide reachability.
		ProbeTarget string `yaml:"probe_target" env:"CONNECTIVITY_PROBE_TARGET" env-default:"api.themoviedb.org:443"`

		// ProbeIntervalSeconds controls how often the target is re-probed.
		ProbeIntervalSeconds int `yaml:"probe_interval_seconds" env:"CONNECTIVITY_PROBE_INTERVAL" env-default:"15"`
	}

	// Prober reports whether the network currently looks usable. Swapped
	// out for a stub in tests.
	Prober func(ctx context.Context) bool

	Monitor struct {
		mu          sync.Mutex
		online      bool
		subscribers []chan bool

		config Config
		prober Prober
	}
)

// New constructs a Monitor. A nil prober selects the default TCP dial probe
// against the configured target. The initial state is determined by a single
// synchronous probe so that IsOnline is meaningful immediately.
func New(config Config, prober Prober) *Monitor {
	monitor := &Monitor{config: config, prober: prober}
	if monitor.prober == nil {
		monitor.prober = monitor.dialProbe
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	monitor.online = monitor.prober(ctx)

	return monitor
}

// Run re-probes the target on the configured interval until the context is
// cancelled, updating the snapshot and notifying subscribers on transitions.
func (monitor *Monitor) Run(ctx context.Context) error {
	interval := time.Duration(monitor.config.ProbeIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Second * 15
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			monitor.SetOnline(monitor.prober(ctx))
		}
	}
}

// IsOnline is the best-effort synchronous snapshot of reachability.
func (monitor *Monitor) IsOnline() bool {
	monitor.mu.Lock()
	defer monitor.mu.Unlock()

	return monitor.online
}

// Subscribe returns a channel which immediately carries the current snapshot
// and then a value for every subsequent transition. The channel is buffered;
// a subscriber that falls far enough behind loses intermediate transitions
// rather than blocking the monitor.
func (monitor *Monitor) Subscribe() chan bool {
	monitor.mu.Lock()
	defer monitor.mu.Unlock()

	ch := make(chan bool, 8)
	ch <- monitor.online
	monitor.subscribers = append(monitor.subscribers, ch)

	return ch
}

func (monitor *Monitor) Unsubscribe(ch chan bool) {
	monitor.mu.Lock()
	defer monitor.mu.Unlock()

	filtered := monitor.subscribers[:0]
	for _, sub := range monitor.subscribers {
		if sub != ch {
			filtered = append(filtered, sub)
		}
	}

	monitor.subscribers = filtered
}

// SetOnline records a new reachability state, notifying subscribers only when
// the state actually transitions. Exposed so tests and manual overrides can
// drive the monitor without a real network.
func (monitor *Monitor) SetOnline(online bool) {
	monitor.mu.Lock()
	defer monitor.mu.Unlock()

	if monitor.online == online {
		return
	}

	monitor.online = online
	log.Emit(logger.INFO, "Connectivity transition: online=%v\n", online)

	for _, sub := range monitor.subscribers {
		select {
		case sub <- online:
		default:
			log.Emit(logger.WARNING, "Subscriber channel full; dropping connectivity transition\n")
		}
	}
}

func (monitor *Monitor) dialProbe(_ context.Context) bool {
	conn, err := net.DialTimeout("tcp", monitor.config.ProbeTarget, time.Second*5)
	if err != nil {
		return false
	}

	conn.Close()
	return true
}
