package connectivity

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/inspectsync/pkg/logger"
)

const (
	defaultProbeInterval = 15 * time.Second
	defaultProbeTimeout  = 3 * time.Second
)

// ProberConfig configures the reachability probe.
type ProberConfig struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Client   *http.Client
}

// Prober feeds a Monitor with the result of periodic HTTP HEAD requests.
// Any HTTP response counts as reachable; only transport failures count as offline.
type Prober struct {
	monitor  *Monitor
	url      string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	log      *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewProber validates the configuration and returns an idle prober.
func NewProber(monitor *Monitor, cfg ProberConfig) (*Prober, error) {
	if monitor == nil {
		return nil, errors.New("connectivity: monitor is required")
	}
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("connectivity: probe url is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultProbeInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProbeTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	return &Prober{
		monitor:  monitor,
		url:      url,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		client:   client,
		log:      logger.WithModule("connectivity"),
	}, nil
}

// Start probes immediately and then on every interval until Stop or ctx cancellation.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.loop(loopCtx, p.done)
}

// Stop halts probing and waits for the loop to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
}

// ProbeOnce checks reachability once and reports the result to the monitor.
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, p.url, nil)
	if err != nil {
		p.log.Warn("probe request invalid", zap.Error(err))
		p.monitor.Set(false)
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return p.monitor.IsOnline()
		}
		p.log.Debug("probe failed", zap.String("url", p.url), zap.Error(err))
		p.monitor.Set(false)
		return false
	}
	_ = resp.Body.Close()

	p.monitor.Set(true)
	return true
}

func (p *Prober) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.ProbeOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}
