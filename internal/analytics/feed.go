package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Update is one accepted analytics payload.
type Update struct {
	Snapshot  Snapshot
	Raw       []byte
	FetchedAt time.Time
}

type Feed interface {
	Run(ctx context.Context, onStatus func(ok bool))
	Latest() (Update, bool)
	Updates() <-chan Update
	Close()
}

type fetcher interface {
	Fetch(ctx context.Context) (Snapshot, []byte, error)
}

// Poller implements Feed by fetching on a cron schedule. A failed fetch keeps
// the previous snapshot; there is no retry beyond the next tick.
type Poller struct {
	client   fetcher
	schedule string
	timeout  time.Duration
	log      *slog.Logger

	mu     sync.RWMutex
	latest Update
	have   bool
	ok     bool

	updCh    chan Update
	onStatus func(ok bool)

	cron      *cron.Cron
	closeOnce sync.Once
}

func NewPoller(client fetcher, schedule string, timeout time.Duration, logger *slog.Logger) (*Poller, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("analytics schedule %q: %w", schedule, err)
	}
	return &Poller{
		client:   client,
		schedule: schedule,
		timeout:  timeout,
		log:      logger,
		updCh:    make(chan Update, 16),
		cron:     cron.New(cron.WithLogger(cronLogger{logger})),
	}, nil
}

// pollJob wraps poll so a tick that arrives while the previous fetch is
// still running is skipped; an older fetch can never overwrite a newer one.
func (p *Poller) pollJob(ctx context.Context) cron.Job {
	return cron.NewChain(cron.SkipIfStillRunning(cronLogger{p.log})).
		Then(cron.FuncJob(func() { p.poll(ctx) }))
}

// cronLogger routes cron's logging to slog.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Warn("cron "+msg, append([]interface{}{slog.String("err", err.Error())}, keysAndValues...)...)
}

// Seed installs a previously stored update, e.g. the last archived snapshot,
// so the dashboard has something to show before the first fetch lands.
func (p *Poller) Seed(u Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.have {
		return
	}
	p.latest = u
	p.have = true
}

func (p *Poller) Latest() (Update, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.have
}

func (p *Poller) Healthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ok
}

func (p *Poller) Updates() <-chan Update { return p.updCh }

func (p *Poller) Run(ctx context.Context, onStatus func(ok bool)) {
	p.onStatus = onStatus
	job := p.pollJob(ctx)
	if _, err := p.cron.AddJob(p.schedule, job); err != nil {
		p.log.Error("analytics schedule", slog.String("err", err.Error()))
		return
	}
	job.Run()
	p.cron.Start()
	<-ctx.Done()
	<-p.cron.Stop().Done()
}

func (p *Poller) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	fctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	snap, raw, err := p.client.Fetch(fctx)
	if err != nil {
		p.log.Warn("analytics fetch failed", slog.String("err", err.Error()))
		p.setOK(false)
		return
	}
	u := Update{Snapshot: snap, Raw: raw, FetchedAt: time.Now()}
	p.mu.Lock()
	p.latest = u
	p.have = true
	p.mu.Unlock()
	p.setOK(true)

	select {
	case p.updCh <- u:
	default:
		// slow consumer; Latest still has it
	}
}

func (p *Poller) setOK(ok bool) {
	p.mu.Lock()
	changed := p.ok != ok
	p.ok = ok
	p.mu.Unlock()
	if changed && p.onStatus != nil {
		p.onStatus(ok)
	}
}

// Close stops the schedule and closes Updates. Call after Run has returned.
func (p *Poller) Close() {
	p.closeOnce.Do(func() {
		p.cron.Stop()
		close(p.updCh)
	})
}

// ---------- Test/mock feed ----------
type MockFeed struct {
	mu      sync.RWMutex
	latest  Update
	have    bool
	updates chan Update
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewMockFeed() *MockFeed {
	return &MockFeed{updates: make(chan Update, 10)}
}

func (m *MockFeed) Run(ctx context.Context, onStatus func(ok bool)) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	onStatus(true)
	<-m.ctx.Done()
}

func (m *MockFeed) Latest() (Update, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.have
}

func (m *MockFeed) Updates() <-chan Update { return m.updates }

func (m *MockFeed) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	close(m.updates)
}

// Publish makes u the latest update and queues it for Updates.
func (m *MockFeed) Publish(u Update) {
	m.mu.Lock()
	m.latest = u
	m.have = true
	m.mu.Unlock()
	m.updates <- u
}

// Set makes u the latest update without notifying.
func (m *MockFeed) Set(u Update) {
	m.mu.Lock()
	m.latest = u
	m.have = true
	m.mu.Unlock()
}
