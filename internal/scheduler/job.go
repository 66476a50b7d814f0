package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/lupppig/dbu/internal/backup"
)

type State string

const (
	StateScheduled State = "SCHEDULED"
	StatePaused    State = "PAUSED"
)

// JobKey identifies a job in the store. Scheduling the same key again overwrites it.
type JobKey struct {
	Name  string
	Group string
}

func (k JobKey) String() string {
	return k.Group + "." + k.Name
}

// KeyFor derives the job key of a backup: backupJob_<db> in the database type's group.
func KeyFor(cfg backup.Config) JobKey {
	return JobKey{Name: "backupJob_" + cfg.Conn.DBName, Group: string(cfg.Conn.Type)}
}

func triggerName(dbName string) string {
	return "trigger_" + dbName
}

// JobDescriptor is the immutable part of a job: its key, trigger and the
// backup configuration captured when it was scheduled.
type JobDescriptor struct {
	Key       JobKey
	Trigger   string
	Cron      string
	Config    backup.Config
	CreatedAt time.Time
}

// JobRecord is a descriptor plus its mutable scheduling state as kept by a Store.
type JobRecord struct {
	JobDescriptor
	State     State
	PrevFire  *time.Time
	NextFire  *time.Time
	LastError string
}

// JobInfo is the read view returned by ListAllJobs.
type JobInfo struct {
	Name             string
	Group            string
	State            State
	NextFireTime     *time.Time
	PreviousFireTime *time.Time
	LastError        string
}

// Executor runs a fired job.
type Executor interface {
	Execute(ctx context.Context, desc JobDescriptor) error
}

type ExecutorFunc func(ctx context.Context, desc JobDescriptor) error

func (f ExecutorFunc) Execute(ctx context.Context, desc JobDescriptor) error {
	return f(ctx, desc)
}

type MisfirePolicy string

const (
	// MisfireSkip drops fire times missed while the process was down.
	MisfireSkip MisfirePolicy = "skip"
	// MisfireFireOnce runs an overdue job once at start, then resumes its schedule.
	MisfireFireOnce MisfirePolicy = "fire_once"
)

func ParseMisfirePolicy(s string) (MisfirePolicy, error) {
	switch MisfirePolicy(s) {
	case "", MisfireSkip:
		return MisfireSkip, nil
	case MisfireFireOnce:
		return MisfireFireOnce, nil
	}
	return "", fmt.Errorf("unknown misfire policy %q (want skip or fire_once)", s)
}
