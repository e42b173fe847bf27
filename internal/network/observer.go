package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"pos-sync-service/internal/logger"
)

// Quality is a coarse link-quality hint delivered with transitions.
type Quality string

const (
	QualityUnknown Quality = "unknown"
	QualityGood    Quality = "good"
	QualityPoor    Quality = "poor"
	QualityNone    Quality = "none"
)

// Status is a connectivity snapshot.
type Status struct {
	IsOnline bool
	Quality  Quality
}

// Probe answers "am I online now". Implementations must be bounded by ctx.
type Probe func(ctx context.Context) Status

// Observer tracks connectivity and notifies subscribers of transitions.
// Notifications are debounced so rapid flapping collapses into a single
// callback per settling window; IsOnline and WaitForConnection always see
// the raw, undebounced state.
type Observer struct {
	mu            sync.Mutex
	status        Status
	lastPublished Status
	published     bool
	subs          map[int]func(Status)
	nextSub       int
	debounce      time.Duration
	settle        *time.Timer
	waiters       []chan struct{}
}

func NewObserver(debounce time.Duration) *Observer {
	return &Observer{
		status:   Status{IsOnline: false, Quality: QualityUnknown},
		subs:     make(map[int]func(Status)),
		debounce: debounce,
	}
}

func (o *Observer) IsOnline() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status.IsOnline
}

func (o *Observer) Current() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Report feeds a connectivity observation from the provider. Waiters on
// WaitForConnection are released immediately on an offline-to-online
// transition; subscriber notification waits for the settling window.
func (o *Observer) Report(status Status) {
	o.mu.Lock()
	wasOnline := o.status.IsOnline
	o.status = status

	if !wasOnline && status.IsOnline {
		for _, w := range o.waiters {
			close(w)
		}
		o.waiters = nil
	}

	if o.settle != nil {
		o.settle.Stop()
	}
	o.settle = time.AfterFunc(o.debounce, o.publishSettled)
	o.mu.Unlock()
}

func (o *Observer) publishSettled() {
	o.mu.Lock()
	current := o.status
	if o.published && current == o.lastPublished {
		o.mu.Unlock()
		return
	}
	o.lastPublished = current
	o.published = true
	subs := make([]func(Status), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()

	logger.Log.Debug("Connectivity settled",
		zap.Bool("online", current.IsOnline),
		zap.String("quality", string(current.Quality)),
	)
	for _, fn := range subs {
		fn(current)
	}
}

// Subscribe registers a transition callback and returns its disposer.
func (o *Observer) Subscribe(fn func(Status)) func() {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

// WaitForConnection blocks until online, the timeout elapses, or ctx is
// cancelled. Returns nil only when online.
func (o *Observer) WaitForConnection(ctx context.Context, timeout time.Duration) error {
	o.mu.Lock()
	if o.status.IsOnline {
		o.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	o.waiters = append(o.waiters, w)
	o.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w:
		return nil
	case <-timer.C:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run polls the probe at the given interval and reports each observation
// until ctx is cancelled. It issues one probe immediately on entry.
func (o *Observer) Run(ctx context.Context, probe Probe, interval time.Duration) {
	o.Report(probe(ctx))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.Report(probe(ctx))
		case <-ctx.Done():
			return
		}
	}
}

// HTTPProbe reports online when a HEAD request to url succeeds within
// timeout. Slow responses (over half the timeout) are flagged poor.
func HTTPProbe(url string, timeout time.Duration) Probe {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) Status {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return Status{IsOnline: false, Quality: QualityNone}
		}
		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			return Status{IsOnline: false, Quality: QualityNone}
		}
		resp.Body.Close()

		quality := QualityGood
		if time.Since(start) > timeout/2 {
			quality = QualityPoor
		}
		return Status{IsOnline: true, Quality: quality}
	}
}
