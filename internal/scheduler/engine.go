package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lupppig/dbu/internal/backup"
	apperrors "github.com/lupppig/dbu/internal/errors"
	"github.com/lupppig/dbu/internal/logger"
	"github.com/lupppig/dbu/internal/notify"
)

// cronParser accepts 5 or 6 fields (seconds optional), "?" and descriptors such as @daily.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron validates a cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, apperrors.New(apperrors.TypeScheduler, "cron expression is required", "Pass --cron, for example \"0 0 * * * ?\" or \"@daily\".")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeScheduler, fmt.Sprintf("invalid cron expression %q", expr), "Use 5 or 6 space-separated fields, or a descriptor like @hourly.")
	}
	return sched, nil
}

type entry struct {
	id   cron.EntryID
	spec string
}

// Engine arms cron triggers for the jobs in a Store and runs them through an Executor.
type Engine struct {
	store    Store
	exec     Executor
	notifier notify.Notifier
	logger   *logger.Logger
	policy   MisfirePolicy
	now      func() time.Time
	cron     *cron.Cron

	// allMu is held shared by single-key transitions and exclusively by the bulk ones.
	allMu sync.RWMutex

	mu       sync.Mutex
	keyLocks map[JobKey]*sync.Mutex
	entries  map[JobKey]entry
	running  map[JobKey]bool
	runCtx   context.Context

	// misfires tracks catch-up runs started outside cron so Stop can wait for them.
	misfires sync.WaitGroup
}

type Option func(*Engine)

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithMisfirePolicy(p MisfirePolicy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store Store, exec Executor, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		exec:     exec,
		logger:   logger.Nop(),
		policy:   MisfireSkip,
		now:      time.Now,
		keyLocks: make(map[JobKey]*sync.Mutex),
		entries:  make(map[JobKey]entry),
		running:  make(map[JobKey]bool),
		runCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}
	cl := cronLogger{l: e.logger}
	e.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	return e
}

func (e *Engine) lockKey(key JobKey) func() {
	e.allMu.RLock()
	e.mu.Lock()
	kl, ok := e.keyLocks[key]
	if !ok {
		kl = &sync.Mutex{}
		e.keyLocks[key] = kl
	}
	e.mu.Unlock()
	kl.Lock()
	return func() {
		kl.Unlock()
		e.allMu.RUnlock()
	}
}

// ScheduleJob stores a snapshot of cfg as a recurring job and arms its trigger.
// An existing job with the same key is replaced.
func (e *Engine) ScheduleJob(ctx context.Context, cfg backup.Config) (JobKey, error) {
	sched, err := ParseCron(cfg.Cron)
	if err != nil {
		return JobKey{}, err
	}
	if cfg.Conn.DBName == "" || cfg.Conn.Type == "" {
		return JobKey{}, apperrors.New(apperrors.TypeScheduler, "job needs a database type and name", "Pass --database-type and --database.")
	}

	key := KeyFor(cfg)
	unlock := e.lockKey(key)
	defer unlock()

	now := e.now()
	next := sched.Next(now)
	rec := JobRecord{
		JobDescriptor: JobDescriptor{
			Key:       key,
			Trigger:   triggerName(cfg.Conn.DBName),
			Cron:      cfg.Cron,
			Config:    cfg,
			CreatedAt: now,
		},
		State:    StateScheduled,
		NextFire: &next,
	}
	if err := e.store.Put(ctx, rec); err != nil {
		return JobKey{}, apperrors.Wrap(err, apperrors.TypeScheduler, "failed to store job "+key.String(), "Check scheduler.path and its permissions.")
	}

	e.mu.Lock()
	e.arm(key, rec.Cron, sched)
	e.mu.Unlock()

	e.logger.Info("Job scheduled", "job", key.Name, "group", key.Group, "cron", cfg.Cron, "next_fire", next.Format(time.RFC3339))
	return key, nil
}

// ListAllJobs reports every stored job. Store failures are logged and yield an empty list.
func (e *Engine) ListAllJobs(ctx context.Context) []JobInfo {
	recs, err := e.store.List(ctx)
	if err != nil {
		e.logger.Error("Listing jobs failed", "error", err)
		if len(recs) == 0 {
			return []JobInfo{}
		}
	}

	now := e.now()
	infos := make([]JobInfo, 0, len(recs))
	for _, rec := range recs {
		sched, err := cronParser.Parse(rec.Cron)
		if err != nil {
			e.logger.Warn("Skipping job without a valid trigger", "job", rec.Key.Name, "group", rec.Key.Group, "cron", rec.Cron)
			continue
		}
		info := JobInfo{
			Name:             rec.Key.Name,
			Group:            rec.Key.Group,
			State:            rec.State,
			PreviousFireTime: rec.PrevFire,
			LastError:        rec.LastError,
		}
		if rec.State == StateScheduled {
			next := sched.Next(now)
			info.NextFireTime = &next
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Group != infos[j].Group {
			return infos[i].Group < infos[j].Group
		}
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// PauseJob suspends the job's trigger. It returns false when the key is unknown
// or the store rejects the change.
func (e *Engine) PauseJob(ctx context.Context, key JobKey) bool {
	unlock := e.lockKey(key)
	defer unlock()

	if !e.transition(e.store.SetState(ctx, key, StatePaused, nil), "pause", key) {
		return false
	}
	e.mu.Lock()
	e.disarm(key)
	e.mu.Unlock()
	e.logger.Info("Job paused", "job", key.Name, "group", key.Group)
	return true
}

func (e *Engine) ResumeJob(ctx context.Context, key JobKey) bool {
	unlock := e.lockKey(key)
	defer unlock()

	rec, err := e.store.Get(ctx, key)
	if !e.transition(err, "resume", key) {
		return false
	}
	sched, err := cronParser.Parse(rec.Cron)
	if err != nil {
		e.logger.Error("Cannot resume job with invalid trigger", "job", key.Name, "group", key.Group, "error", err)
		return false
	}
	next := sched.Next(e.now())
	if !e.transition(e.store.SetState(ctx, key, StateScheduled, &next), "resume", key) {
		return false
	}
	e.mu.Lock()
	e.arm(key, rec.Cron, sched)
	e.mu.Unlock()
	e.logger.Info("Job resumed", "job", key.Name, "group", key.Group)
	return true
}

func (e *Engine) DeleteJob(ctx context.Context, key JobKey) bool {
	unlock := e.lockKey(key)
	defer unlock()

	if !e.transition(e.store.Delete(ctx, key), "delete", key) {
		return false
	}
	e.mu.Lock()
	e.disarm(key)
	e.mu.Unlock()
	e.logger.Info("Job deleted", "job", key.Name, "group", key.Group)
	return true
}

// PauseAllJobs pauses every job in a single store transaction.
func (e *Engine) PauseAllJobs(ctx context.Context) bool {
	e.allMu.Lock()
	defer e.allMu.Unlock()

	if err := e.store.SetStateAll(ctx, StatePaused, nil); err != nil {
		e.logger.Error("Pausing all jobs failed", "error", err)
		return false
	}
	e.mu.Lock()
	for key := range e.entries {
		e.disarm(key)
	}
	e.mu.Unlock()
	e.logger.Info("All jobs paused")
	return true
}

func (e *Engine) ResumeAllJobs(ctx context.Context) bool {
	e.allMu.Lock()
	defer e.allMu.Unlock()

	now := e.now()
	err := e.store.SetStateAll(ctx, StateScheduled, func(rec JobRecord) *time.Time {
		sched, err := cronParser.Parse(rec.Cron)
		if err != nil {
			return nil
		}
		next := sched.Next(now)
		return &next
	})
	if err != nil {
		e.logger.Error("Resuming all jobs failed", "error", err)
		return false
	}
	if err := e.sync(ctx); err != nil {
		e.logger.Error("Re-arming jobs failed", "error", err)
	}
	e.logger.Info("All jobs resumed")
	return true
}

// transition maps a store error to the boolean result of a single-key operation.
func (e *Engine) transition(err error, op string, key JobKey) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, ErrJobNotFound) {
		e.logger.Debug("No such job", "op", op, "job", key.Name, "group", key.Group)
		return false
	}
	e.logger.Error("Job store operation failed", "op", op, "job", key.Name, "group", key.Group, "error", err)
	return false
}

// Start arms every scheduled job and starts the cron loop. With MisfireFireOnce,
// jobs whose stored next fire time has passed run once immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	e.runCtx = ctx
	e.mu.Unlock()

	if err := e.Sync(ctx); err != nil {
		return err
	}

	if e.policy == MisfireFireOnce {
		recs, err := e.store.List(ctx)
		if err != nil {
			return apperrors.Wrap(err, apperrors.TypeScheduler, "failed to read job store", "")
		}
		now := e.now()
		for _, rec := range recs {
			if rec.State == StateScheduled && rec.NextFire != nil && rec.NextFire.Before(now) {
				e.logger.Info("Firing misfired job", "job", rec.Key.Name, "group", rec.Key.Group, "missed", rec.NextFire.Format(time.RFC3339))
				e.misfires.Add(1)
				go func(key JobKey) {
					defer e.misfires.Done()
					e.fire(key)
				}(rec.Key)
			}
		}
	}

	e.cron.Start()
	e.logger.Info("Scheduler started", "armed", e.Armed(), "misfire_policy", string(e.policy))
	return nil
}

// Stop halts the cron loop. The returned context is done once running jobs,
// including misfire catch-up runs, have finished.
func (e *Engine) Stop() context.Context {
	cronDone := e.cron.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronDone.Done()
		e.misfires.Wait()
		cancel()
	}()
	return ctx
}

// Run starts the engine, re-syncs with the store every interval and stops when ctx ends.
func (e *Engine) Run(ctx context.Context, every time.Duration) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	var tick <-chan time.Time
	if every > 0 {
		t := time.NewTicker(every)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			<-e.Stop().Done()
			return nil
		case <-tick:
			if err := e.Sync(ctx); err != nil {
				e.logger.Warn("Job store sync failed", "error", err)
			}
		}
	}
}

// Sync reconciles armed triggers with the store, picking up changes made by other processes.
func (e *Engine) Sync(ctx context.Context) error {
	e.allMu.RLock()
	defer e.allMu.RUnlock()
	return e.sync(ctx)
}

func (e *Engine) sync(ctx context.Context) error {
	recs, err := e.store.List(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeScheduler, "failed to read job store", "")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	want := make(map[JobKey]bool, len(recs))
	for _, rec := range recs {
		if rec.State != StateScheduled {
			continue
		}
		sched, err := cronParser.Parse(rec.Cron)
		if err != nil {
			e.logger.Warn("Skipping job without a valid trigger", "job", rec.Key.Name, "group", rec.Key.Group, "cron", rec.Cron)
			continue
		}
		want[rec.Key] = true
		e.arm(rec.Key, rec.Cron, sched)
	}
	for key := range e.entries {
		if !want[key] {
			e.disarm(key)
		}
	}
	return nil
}

// arm registers or replaces the cron entry of key. Callers hold e.mu.
func (e *Engine) arm(key JobKey, spec string, sched cron.Schedule) {
	if cur, ok := e.entries[key]; ok {
		if cur.spec == spec {
			return
		}
		e.cron.Remove(cur.id)
	}
	id := e.cron.Schedule(sched, cron.FuncJob(func() { e.fire(key) }))
	e.entries[key] = entry{id: id, spec: spec}
}

// disarm removes the cron entry of key. Callers hold e.mu.
func (e *Engine) disarm(key JobKey) {
	if cur, ok := e.entries[key]; ok {
		e.cron.Remove(cur.id)
		delete(e.entries, key)
	}
}

// Armed reports how many triggers are currently registered with cron.
func (e *Engine) Armed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// fire runs one job execution. A key never runs twice concurrently.
func (e *Engine) fire(key JobKey) {
	e.mu.Lock()
	if e.running[key] {
		e.mu.Unlock()
		e.logger.Warn("Skipping fire: previous run still in progress", "job", key.Name, "group", key.Group)
		return
	}
	e.running[key] = true
	ctx := e.runCtx
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.running, key)
		e.mu.Unlock()
	}()

	rec, err := e.store.Get(ctx, key)
	if err != nil {
		e.logger.Warn("Fired job no longer in store", "job", key.Name, "group", key.Group, "error", err)
		return
	}
	if rec.State != StateScheduled {
		e.logger.Debug("Fired job is paused, skipping", "job", key.Name, "group", key.Group)
		return
	}

	l := e.logger.With("job", key.Name, "group", key.Group)
	l.Info("Job fired")
	start := e.now()
	err = e.exec.Execute(ctx, rec.JobDescriptor)
	duration := e.now().Sub(start)

	var next *time.Time
	if sched, perr := cronParser.Parse(rec.Cron); perr == nil {
		n := sched.Next(e.now())
		next = &n
	}

	stats := notify.Stats{
		Status:    notify.StatusSuccess,
		Operation: "Scheduled backup",
		Engine:    rec.Config.Conn.Type.Tag(),
		Database:  rec.Config.Conn.DBName,
		Job:       key.Name,
		Duration:  duration,
	}
	lastErr := ""
	if err != nil {
		jobErr := apperrors.Wrap(err, apperrors.TypeScheduler, "job execution failed for "+key.String(), apperrors.Hint(err))
		lastErr = err.Error()
		l.Error("Job execution failed", "error", jobErr, "duration", duration.String())
		stats.Status = notify.StatusError
		stats.Error = jobErr
	} else {
		l.Info("Job finished", "duration", duration.String())
	}

	// A shutdown cancels the run but its outcome must still reach the store.
	bookCtx := context.WithoutCancel(ctx)
	if rerr := e.store.RecordFire(bookCtx, key, start, next, lastErr); rerr != nil && !errors.Is(rerr, ErrJobNotFound) {
		l.Error("Recording fire time failed", "error", rerr)
	}
	if e.notifier != nil {
		if nerr := e.notifier.Notify(bookCtx, stats); nerr != nil {
			l.Warn("Notification failed", "error", nerr)
		}
	}
}

// cronLogger routes robfig/cron's internal logging to our logger.
type cronLogger struct {
	l *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
