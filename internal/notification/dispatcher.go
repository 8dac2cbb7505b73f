package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"wellness-service/internal/logging"
	"wellness-service/internal/metrics"
	"wellness-service/internal/models"
	"wellness-service/internal/providers"
)

// ErrSendTimeout marks a send abandoned at the dispatch deadline.
var ErrSendTimeout = errors.New("send timed out")

type Store interface {
	UpsertDelivery(ctx context.Context, e models.DeliveryLogEntry) (models.DeliveryLogEntry, error)
	MarkNotified(ctx context.Context, id uuid.UUID, supporterIDs []string, level models.Level) error
}

// SupporterDirectory lists who to notify, lowest priority rank first.
type SupporterDirectory interface {
	ListActiveSupporterLinks(ctx context.Context, checkerID string) ([]models.SupporterLink, error)
}

// Attempt is the outcome of one supporter x channel send.
type Attempt struct {
	SupporterID string
	Channel     models.Channel
	ProviderID  string
	Status      models.DeliveryStatus
	Err         error
}

// Report summarizes one fan-out.
type Report struct {
	AlertID  uuid.UUID
	Level    models.Level
	Attempts []Attempt
	// Skipped holds supporters already notified at this level.
	Skipped []string
}

// Failed counts attempts that did not reach the provider.
func (r Report) Failed() int {
	n := 0
	for _, a := range r.Attempts {
		if a.Err != nil {
			n++
		}
	}
	return n
}

type Config struct {
	Timeout     time.Duration
	Parallelism int
}

type Dispatcher struct {
	senders   providers.Registry
	store     Store
	directory SupporterDirectory
	logger    *logging.Logger
	metrics   *metrics.Metrics
	cfg       Config
	now       func() time.Time
}

func NewDispatcher(senders providers.Registry, store Store, directory SupporterDirectory, logger *logging.Logger, m *metrics.Metrics, cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Dispatcher{
		senders:   senders,
		store:     store,
		directory: directory,
		logger:    logger,
		metrics:   m,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type job struct {
	link    models.SupporterLink
	channel models.Channel
	sender  providers.Sender
}

// Dispatch notifies the alert's supporters on every channel the level allows.
// Only pending alerts are dispatched. Each send is independent: failures and
// timeouts are recorded in the delivery log and never stop other sends. The
// returned error covers directory and notified-set failures only.
func (d *Dispatcher) Dispatch(ctx context.Context, alert models.Alert) (Report, error) {
	report := Report{AlertID: alert.ID, Level: alert.Level}
	if alert.Status != models.StatusPending || !alert.Level.Valid() {
		d.logger.Debugf("Alert %s is %s at level %s, nothing to dispatch", alert.ID, alert.Status, alert.Level)
		return report, nil
	}

	links, err := d.directory.ListActiveSupporterLinks(ctx, alert.CheckerID)
	if err != nil {
		return report, fmt.Errorf("failed to load supporters of checker %s: %w", alert.CheckerID, err)
	}

	var jobs []job
	for _, link := range links {
		id := link.Identity()
		if alert.WasNotified(id) && alert.Level <= alert.NotifiedLevel {
			report.Skipped = append(report.Skipped, id)
			continue
		}
		for _, ch := range models.ChannelsFor(alert.Level, link) {
			sender, ok := d.senders[ch]
			if !ok {
				d.logger.Warnf("No sender configured for channel %s, supporter %s not reached on it", ch, id)
				continue
			}
			jobs = append(jobs, job{link: link, channel: ch, sender: sender})
		}
	}
	if len(jobs) == 0 {
		return report, nil
	}

	start := time.Now()
	msg := Render(alert, d.now())
	dctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	var (
		mu        sync.Mutex
		attempted = make(map[string]bool)
		g         errgroup.Group
	)
	g.SetLimit(d.cfg.Parallelism)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			attempt := d.send(dctx, ctx, alert, j, msg)
			mu.Lock()
			report.Attempts = append(report.Attempts, attempt)
			attempted[attempt.SupporterID] = true
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	d.metrics.DispatchDuration.Observe(time.Since(start).Seconds())

	ids := make([]string, 0, len(attempted))
	for id := range attempted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	sort.Slice(report.Attempts, func(i, k int) bool {
		if report.Attempts[i].SupporterID == report.Attempts[k].SupporterID {
			return report.Attempts[i].Channel < report.Attempts[k].Channel
		}
		return report.Attempts[i].SupporterID < report.Attempts[k].SupporterID
	})

	if err := d.store.MarkNotified(ctx, alert.ID, ids, alert.Level); err != nil {
		return report, fmt.Errorf("failed to mark supporters notified on alert %s: %w", alert.ID, err)
	}
	d.logger.Infof("Alert %s level %s dispatched: %d attempts, %d failed, %d skipped",
		alert.ID, alert.Level, len(report.Attempts), report.Failed(), len(report.Skipped))
	return report, nil
}

// send runs one sender under the dispatch deadline and records the outcome.
// A sender that ignores its context is abandoned at the deadline; its
// goroutine finishes on its own.
func (d *Dispatcher) send(dctx, parent context.Context, alert models.Alert, j job, msg providers.Message) Attempt {
	supporterID := j.link.Identity()
	type result struct {
		res providers.Result
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := j.sender.Send(dctx, j.link, msg)
		done <- result{res, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-dctx.Done():
		r.err = fmt.Errorf("%w: %v", ErrSendTimeout, dctx.Err())
	}

	attempt := Attempt{SupporterID: supporterID, Channel: j.channel, Status: r.res.Status, ProviderID: r.res.ProviderID, Err: r.err}
	outcome := "sent"
	if r.err != nil {
		attempt.Status = models.DeliveryFailed
		outcome = "failed"
		d.logger.Errorf("Dispatch of alert %s via %s to supporter %s failed: %v", alert.ID, j.channel, supporterID, r.err)
	}
	if attempt.Status == "" {
		attempt.Status = models.DeliveryCompleted
	}
	if attempt.ProviderID == "" {
		attempt.ProviderID = fmt.Sprintf("%s-%s", j.channel, uuid.NewString())
	}
	d.metrics.DispatchAttempts.WithLabelValues(string(j.channel), outcome).Inc()

	alertID := alert.ID
	entry := models.DeliveryLogEntry{
		AlertID:     &alertID,
		SupporterID: &supporterID,
		ProviderID:  attempt.ProviderID,
		Channel:     j.channel,
		Status:      attempt.Status,
		Destination: r.res.Destination,
		UpdatedAt:   d.now(),
	}
	if r.err != nil {
		entry.Error = r.err.Error()
	}
	// The log write outlives the dispatch deadline so timed-out sends are
	// still recorded.
	lctx, cancel := context.WithTimeout(context.WithoutCancel(parent), 5*time.Second)
	defer cancel()
	if _, err := d.store.UpsertDelivery(lctx, entry); err != nil {
		d.logger.Errorf("Failed to log delivery %s for alert %s: %v", attempt.ProviderID, alert.ID, err)
	}
	return attempt
}
