package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"wellness-service/internal/alerts"
	"wellness-service/internal/config"
	"wellness-service/internal/escalation"
	"wellness-service/internal/logging"
	"wellness-service/internal/metrics"
	"wellness-service/internal/models"
	"wellness-service/internal/notification"
)

// ScheduleSource provides the schedule and check-in history the evaluator
// runs on.
type ScheduleSource interface {
	GetActiveSchedule(ctx context.Context, checkerID string) (models.Schedule, error)
	GetLastCheckIn(ctx context.Context, checkerID string) (*time.Time, error)
	ListScheduledCheckers(ctx context.Context) ([]string, error)
	RecordCheckIn(ctx context.Context, checkerID string, at time.Time) error
}

type Lifecycle interface {
	Trigger(ctx context.Context, checkerID string, level models.Level, missedAt time.Time) (models.Alert, alerts.Outcome, error)
	ResolveAllForChecker(ctx context.Context, checkerID string) ([]models.Alert, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, alert models.Alert) (notification.Report, error)
}

// Evaluation is what one evaluate or trigger pass did for a checker.
type Evaluation struct {
	CheckerID string               `json:"checker_id"`
	Level     models.Level         `json:"level"`
	Elapsed   time.Duration        `json:"elapsed"`
	Alert     *models.Alert        `json:"alert,omitempty"`
	Outcome   alerts.Outcome       `json:"outcome,omitempty"`
	Report    *notification.Report `json:"-"`
}

// Service runs evaluations, check-ins and manual triggers, either inline or
// through its worker pool.
type Service struct {
	schedules  ScheduleSource
	evaluator  *escalation.Evaluator
	alerts     Lifecycle
	dispatcher Dispatcher
	logger     *logging.Logger
	metrics    *metrics.Metrics
	config     config.Config
	tasks      chan models.Task
	ctx        context.Context
	cancel     context.CancelFunc
	wg         *sync.WaitGroup
	now        func() time.Time
}

// New constructs a Service. Call Start to run the worker pool.
func New(schedules ScheduleSource, evaluator *escalation.Evaluator, lifecycle Lifecycle, dispatcher Dispatcher, logger *logging.Logger, m *metrics.Metrics, cfg config.Config) *Service {
	if m == nil {
		m = metrics.NewNop()
	}
	queueSize := cfg.Notification.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		schedules:  schedules,
		evaluator:  evaluator,
		alerts:     lifecycle,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    m,
		config:     cfg,
		tasks:      make(chan models.Task, queueSize),
		ctx:        ctx,
		cancel:     cancel,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Logger exposes the Service's logger
func (s *Service) Logger() *logging.Logger {
	return s.logger
}

// Start launches the worker pool
func (s *Service) Start(wg *sync.WaitGroup) {
	s.wg = wg
	workers := s.config.Notification.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop cancels the workers. Queued tasks that have not started are dropped.
func (s *Service) Stop() {
	s.cancel()
}

// QueueTask enqueues a Task for processing. It never blocks; a full queue
// drops the task and counts it.
func (s *Service) QueueTask(task models.Task) bool {
	if s.TryQueueTask(task) {
		return true
	}
	s.metrics.TasksDropped.Inc()
	s.logger.Errorf("Queue full, dropping %s task for checker %s: request_id=%s", task.Kind, task.CheckerID, task.RequestID)
	return false
}

// TryQueueTask enqueues a Task if there is room and reports whether it did.
// A false return is not a drop: the caller still owns the task and may retry.
func (s *Service) TryQueueTask(task models.Task) bool {
	if task.RequestID == "" {
		task.RequestID = uuid.NewString()
	}
	select {
	case s.tasks <- task:
		s.logger.Debugf("Queued %s task for checker %s: request_id=%s", task.Kind, task.CheckerID, task.RequestID)
		return true
	default:
		return false
	}
}

// worker processes Tasks until context is cancelled
func (s *Service) worker(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Infof("Worker %d stopped", id)
			return
		case task := <-s.tasks:
			s.handleTask(task)
		}
	}
}

func (s *Service) handleTask(task models.Task) {
	log := s.logger.Request(task.RequestID).WithField("checker_id", task.CheckerID)
	var err error
	switch task.Kind {
	case models.TaskEvaluate:
		_, err = s.Evaluate(s.ctx, task.CheckerID)
	case models.TaskCheckIn:
		at := task.Timestamp
		if at.IsZero() {
			at = s.now()
		}
		_, err = s.CheckIn(s.ctx, task.CheckerID, at)
	case models.TaskTrigger:
		_, err = s.TriggerAndDispatch(s.ctx, task.CheckerID, task.Level)
	default:
		err = fmt.Errorf("unknown task kind %q", task.Kind)
	}
	if err != nil {
		log.Errorf("Task %s failed: %v", task.Kind, err)
		return
	}
	log.Debugf("Task %s done", task.Kind)
}

// Evaluate runs the escalation evaluator for one checker and, when a window
// was missed, triggers the alert and dispatches it to supporters.
func (s *Service) Evaluate(ctx context.Context, checkerID string) (Evaluation, error) {
	ev := Evaluation{CheckerID: checkerID}
	schedule, err := s.schedules.GetActiveSchedule(ctx, checkerID)
	if err != nil {
		return ev, fmt.Errorf("failed to load schedule of checker %s: %w", checkerID, err)
	}
	last, err := s.schedules.GetLastCheckIn(ctx, checkerID)
	if err != nil {
		return ev, fmt.Errorf("failed to load last check-in of checker %s: %w", checkerID, err)
	}

	res := s.evaluator.Evaluate(schedule, last, s.now())
	ev.Level = res.Level
	ev.Elapsed = res.Elapsed
	if !res.Missed() {
		return ev, nil
	}
	return s.triggerAndDispatch(ctx, ev, res.Level, res.MissedWindowAt)
}

// TriggerAndDispatch raises a checker's alert to level without consulting the
// schedule, then dispatches it.
func (s *Service) TriggerAndDispatch(ctx context.Context, checkerID string, level models.Level) (Evaluation, error) {
	return s.triggerAndDispatch(ctx, Evaluation{CheckerID: checkerID, Level: level}, level, time.Time{})
}

func (s *Service) triggerAndDispatch(ctx context.Context, ev Evaluation, level models.Level, missedAt time.Time) (Evaluation, error) {
	alert, outcome, err := s.alerts.Trigger(ctx, ev.CheckerID, level, missedAt)
	if err != nil {
		return ev, err
	}
	ev.Alert = &alert
	ev.Outcome = outcome

	// Unchanged pending alerts are still dispatched: the dispatcher skips
	// every supporter already attempted at this level, so only links added
	// since the last pass are contacted. Failed sends wait for the next level.
	if alert.Status != models.StatusPending {
		return ev, nil
	}
	report, err := s.dispatcher.Dispatch(ctx, alert)
	ev.Report = &report
	if err != nil {
		return ev, fmt.Errorf("failed to dispatch alert %s: %w", alert.ID, err)
	}
	return ev, nil
}

// CheckIn records a check-in and resolves every unresolved alert of the
// checker as checked_in.
func (s *Service) CheckIn(ctx context.Context, checkerID string, at time.Time) ([]models.Alert, error) {
	if checkerID == "" {
		return nil, fmt.Errorf("%w: checker id is required", alerts.ErrInvalidInput)
	}
	if at.IsZero() {
		at = s.now()
	}
	if err := s.schedules.RecordCheckIn(ctx, checkerID, at); err != nil {
		return nil, fmt.Errorf("failed to record check-in of checker %s: %w", checkerID, err)
	}
	resolved, err := s.alerts.ResolveAllForChecker(ctx, checkerID)
	if err != nil {
		return resolved, err
	}
	if len(resolved) > 0 {
		s.logger.Infof("Check-in of %s resolved %d alert(s)", checkerID, len(resolved))
	}
	return resolved, nil
}

// Sweep queues an evaluation for every checker with an active schedule and
// returns how many were queued.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	ids, err := s.schedules.ListScheduledCheckers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list scheduled checkers: %w", err)
	}
	queued := 0
	requestID := uuid.NewString()
	for _, id := range ids {
		if s.QueueTask(models.Task{RequestID: requestID, Kind: models.TaskEvaluate, CheckerID: id, Timestamp: s.now()}) {
			queued++
		}
	}
	if queued < len(ids) {
		return queued, errors.New("worker queue full, sweep incomplete")
	}
	s.logger.Infof("Sweep queued %d evaluations", queued)
	return queued, nil
}
