package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/watson-creative/tracking-injector/internal/config"
	"github.com/watson-creative/tracking-injector/internal/store"
	"github.com/watson-creative/tracking-injector/internal/updater"
	"github.com/watson-creative/tracking-injector/internal/upgrader"
	"github.com/watson-creative/tracking-injector/internal/websocket"
)

// JobContext is an interface that provides the necessary dependencies for a job to run.
// The core.App struct implements it.
type JobContext interface {
	Config() *config.Config
	Store() *store.Store
	Checker() *updater.Checker
	Upgrader() *upgrader.Upgrader
	WsHub() *websocket.Hub
	JobManager() *JobManager
	Logger() *logrus.Entry
}

type jobTask func(ctx context.Context, app JobContext) error

// Job statuses.
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

type JobStatus struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

type JobManager struct {
	mu      sync.Mutex
	jobs    map[string]jobTask
	status  map[string]*JobStatus
	running bool
	appCtx  JobContext
	log     *logrus.Entry
}

func NewManager(appCtx JobContext) *JobManager {
	jm := &JobManager{
		jobs:   make(map[string]jobTask),
		status: make(map[string]*JobStatus),
		appCtx: appCtx,
		log:    logrus.NewEntry(logrus.StandardLogger()).WithField("module", "jobs"),
	}
	if appCtx != nil && appCtx.Logger() != nil {
		jm.log = appCtx.Logger()
	}
	return jm
}

func (jm *JobManager) Register(id, name string, task jobTask) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.jobs[id] = task
	jm.status[id] = &JobStatus{ID: id, Name: name, Status: StatusIdle}
}

// RunJob starts a registered job in the background. Only one job runs at a time.
func (jm *JobManager) RunJob(id string, app JobContext) error {
	jm.mu.Lock()
	if jm.running {
		jm.mu.Unlock()
		return fmt.Errorf("a job is already running")
	}

	task, ok := jm.jobs[id]
	if !ok {
		jm.mu.Unlock()
		return fmt.Errorf("job '%s' not found", id)
	}

	jm.running = true
	status := jm.status[id]
	status.Status = StatusRunning
	status.StartTime = time.Now()
	status.EndTime = time.Time{}
	status.Message = "Job started..."
	jm.mu.Unlock()

	jm.log.Infof("Starting job: %s", id)
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}

			jm.mu.Lock()
			status.EndTime = time.Now()
			if err != nil {
				status.Status = StatusFailed
				status.Message = err.Error()
			} else {
				status.Status = StatusSuccess
				status.Message = "Job completed successfully."
			}
			jm.running = false
			jm.mu.Unlock()

			if err != nil {
				jm.log.Errorf("Job '%s' failed: %v", id, err)
				return
			}
			jm.log.Infof("Finished job: %s", id)
		}()

		err = task(context.Background(), app)
	}()
	return nil
}

// GetStatus returns a snapshot of every job's status ordered by id.
func (jm *JobManager) GetStatus() []*JobStatus {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	statuses := make([]*JobStatus, 0, len(jm.status))
	for _, s := range jm.status {
		snapshot := *s
		statuses = append(statuses, &snapshot)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}
