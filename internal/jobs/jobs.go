package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/watson-creative/tracking-injector/internal/cache"
	"github.com/watson-creative/tracking-injector/internal/updater"
	"github.com/watson-creative/tracking-injector/internal/upgrader"
	"github.com/watson-creative/tracking-injector/internal/websocket"
)

// Job ids.
const (
	JobUpdateCheck     = "update-check"
	JobPurgeTransients = "purge-transients"
	JobUpgrade         = "upgrade"
)

// EventUpdateCheck is the websocket event type sent after a check finds an update.
const EventUpdateCheck = "update-check"

// ErrNoChecker means the plugin has no update checker, usually because its
// configuration is incomplete.
var ErrNoChecker = errors.New("update checker is not configured")

// RegisterDefaultJobs registers every job the scheduler and the admin API trigger.
func RegisterDefaultJobs(jm *JobManager) {
	jm.Register(JobUpdateCheck, "Check for plugin updates", func(ctx context.Context, app JobContext) error {
		_, err := RunUpdateCheck(ctx, app, false)
		return err
	})
	jm.Register(JobPurgeTransients, "Purge expired transients", func(ctx context.Context, app JobContext) error {
		n, err := app.Store().PurgeExpiredTransients(ctx)
		if err != nil {
			return err
		}
		app.Logger().Debugf("Purged %d expired transients", n)
		return nil
	})
	jm.Register(JobUpgrade, "Upgrade plugin", func(ctx context.Context, app JobContext) error {
		_, err := RunUpgrade(ctx, app)
		return err
	})
}

// RunUpgrade installs the pending update and records its outcome in the
// plugin's last-error option, which is cleared on success.
func RunUpgrade(ctx context.Context, app JobContext) (*upgrader.Result, error) {
	if app.Upgrader() == nil {
		return nil, ErrNoChecker
	}
	result, err := app.Upgrader().Upgrade(ctx, nil)
	message := ""
	if err != nil {
		message = err.Error()
	}
	if oerr := app.Store().UpdateOption(ctx, LastErrorOption(app.Checker().Slug()), message); oerr != nil {
		app.Logger().Warnf("Failed to record upgrade error: %v", oerr)
	}
	return result, err
}

// LastErrorOption names the option holding the last upgrade error of a plugin.
func LastErrorOption(slug string) string {
	return "github_updater_error_" + slug
}

// LoadUpdateState reads the stored update state. A missing entry yields an
// empty state.
func LoadUpdateState(ctx context.Context, transients cache.Store) (*updater.UpdateState, error) {
	state := &updater.UpdateState{}
	if _, err := cache.GetJSON(ctx, transients, cache.UpdatePluginsKey, state); err != nil {
		return nil, err
	}
	if state.Checked == nil {
		state.Checked = make(map[string]string)
	}
	if state.Response == nil {
		state.Response = make(map[string]updater.UpdateOffer)
	}
	return state, nil
}

// RunUpdateCheck runs the checker against the stored update state and saves
// the result. Manual checks bypass every cache.
func RunUpdateCheck(ctx context.Context, app JobContext, manual bool) (*updater.UpdateState, error) {
	checker := app.Checker()
	if checker == nil {
		return nil, ErrNoChecker
	}
	transients := app.Store().Transients()

	state, err := LoadUpdateState(ctx, transients)
	if err != nil {
		return nil, fmt.Errorf("failed to load update state: %w", err)
	}

	slug := checker.Slug()
	installed := checker.InstalledVersion()
	state.Checked[slug] = installed
	if offer, ok := state.Response[slug]; ok && !updater.IsUpdateAvailable(installed, offer.NewVersion) {
		delete(state.Response, slug)
	}

	state = checker.CheckUpdates(ctx, state, manual)

	if err := cache.SetJSON(ctx, transients, cache.UpdatePluginsKey, state, 0); err != nil {
		return nil, fmt.Errorf("failed to save update state: %w", err)
	}

	if offer, ok := state.Response[slug]; ok && app.WsHub() != nil {
		app.WsHub().BroadcastEvent(websocket.Event{
			Type:    EventUpdateCheck,
			Slug:    slug,
			Message: "Update available: " + offer.NewVersion,
		})
	}
	return state, nil
}

// ForceCheck clears the update state and the checker's cached data, then
// runs a manual check.
func ForceCheck(ctx context.Context, app JobContext) (*updater.UpdateState, error) {
	checker := app.Checker()
	if checker == nil {
		return nil, ErrNoChecker
	}
	transients := app.Store().Transients()
	for _, key := range []string{
		cache.UpdatePluginsKey,
		cache.Key(checker.Slug(), cache.PurposeGitHubData),
		cache.Key(checker.Slug(), cache.PurposeNewVersion),
	} {
		if err := transients.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("failed to clear %s: %w", key, err)
		}
	}
	return RunUpdateCheck(ctx, app, true)
}

// StartJobs starts the background job scheduler.
func StartJobs(app JobContext) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	startUpdateCheckJob(s, app)
	startPurgeJob(s, app)

	app.Logger().Info("Starting background job scheduler...")
	s.StartAsync()
	return s
}

func startUpdateCheckJob(s *gocron.Scheduler, app JobContext) {
	interval := app.Config().Updater.CheckInterval
	if interval == 0 {
		app.Logger().Info("Update check interval is 0, scheduled checks are disabled.")
		return
	}
	schedule(s, app, JobUpdateCheck, interval)
}

func startPurgeJob(s *gocron.Scheduler, app JobContext) {
	schedule(s, app, JobPurgeTransients, 60)
}

func schedule(s *gocron.Scheduler, app JobContext, jobID string, minutes int) {
	log := app.Logger()
	log.Infof("Scheduling job: '%s' to run every %d minutes.", jobID, minutes)

	_, err := s.Every(minutes).Minutes().Do(func() {
		log.Debugf("Scheduler is triggering job: %s", jobID)
		// Going through the manager keeps scheduled runs from overlapping
		// manually triggered ones.
		if err := app.JobManager().RunJob(jobID, app); err != nil {
			log.Warnf("Scheduled job '%s' could not start: %v", jobID, err)
		}
	})
	if err != nil {
		log.Errorf("Error scheduling '%s' job: %v", jobID, err)
	}
}
