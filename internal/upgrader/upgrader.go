// Package upgrader runs a plugin upgrade end to end: it downloads the
// package offered by the update checker, extracts it into a staging area and
// hands the result to the checker's post-install step.
package upgrader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/watson-creative/tracking-injector/internal/store"
	"github.com/watson-creative/tracking-injector/internal/telemetry"
	"github.com/watson-creative/tracking-injector/internal/updater"
	"github.com/watson-creative/tracking-injector/internal/websocket"
)

// EventUpgrade is the websocket event type of upgrade progress.
const EventUpgrade = "upgrade"

const (
	defaultDownloadTimeout = 5 * time.Minute
	defaultMaxPackageSize  = 50 << 20
	packageFileName        = "package.zip"
)

var (
	// ErrPluginsDirNotWritable is returned before any download happens.
	ErrPluginsDirNotWritable = errors.New("plugins directory is not writable")
	// ErrPackageTooLarge means the download exceeded the size limit.
	ErrPackageTooLarge = errors.New("package exceeds size limit")
	// ErrNoUpdate means there is no offer to install.
	ErrNoUpdate = errors.New("no update available")
)

// History records upgrade attempts.
type History interface {
	RecordInstall(ctx context.Context, rec *store.InstallRecord) error
}

// Notifier receives progress events.
type Notifier interface {
	BroadcastEvent(event websocket.Event)
}

// Options configures an Upgrader.
type Options struct {
	PluginsDir string
	// StagingDir holds downloads and extractions. Defaults to an "upgrade"
	// directory next to PluginsDir.
	StagingDir      string
	Filesystem      updater.FilesystemProvider
	Client          *http.Client
	DownloadTimeout time.Duration
	MaxPackageSize  int64
	History         History
	Notifier        Notifier
	Log             *logrus.Entry
}

// Result describes a finished upgrade.
type Result struct {
	ID          string                 `json:"id"`
	Slug        string                 `json:"slug"`
	FromVersion string                 `json:"from_version"`
	ToVersion   string                 `json:"to_version"`
	Package     string                 `json:"package"`
	Files       int                    `json:"files"`
	Install     *updater.InstallResult `json:"install,omitempty"`
}

// Upgrader installs the packages offered by one update checker.
type Upgrader struct {
	checker *updater.Checker
	opts    Options
}

// New creates an upgrader for checker.
func New(checker *updater.Checker, opts Options) *Upgrader {
	if opts.StagingDir == "" {
		opts.StagingDir = filepath.Join(filepath.Dir(opts.PluginsDir), "upgrade")
	}
	if opts.Filesystem == nil {
		opts.Filesystem = updater.OSFilesystemProvider()
	}
	if opts.DownloadTimeout == 0 {
		opts.DownloadTimeout = defaultDownloadTimeout
	}
	if opts.MaxPackageSize == 0 {
		opts.MaxPackageSize = defaultMaxPackageSize
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger()).WithField("module", "upgrader")
	}
	return &Upgrader{checker: checker, opts: opts}
}

// Offer builds the offer for the plugin's package from the current
// candidate version.
func (u *Upgrader) Offer(ctx context.Context) (*updater.UpdateOffer, error) {
	cfg := u.checker.Config()
	version, ok := u.checker.NewVersion(ctx)
	if !ok || !updater.IsUpdateAvailable(u.checker.InstalledVersion(), version) {
		return nil, ErrNoUpdate
	}
	return &updater.UpdateOffer{Slug: cfg.ProperFolderName, NewVersion: version, Package: cfg.ZipURL}, nil
}

// Upgrade downloads and installs offer. A nil offer installs the package
// from the checker's configuration at the current candidate version.
func (u *Upgrader) Upgrade(ctx context.Context, offer *updater.UpdateOffer) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "upgrader.Upgrade")
	defer span.End()

	if offer == nil {
		var err error
		if offer, err = u.Offer(ctx); err != nil {
			return nil, err
		}
	}

	res := &Result{
		ID:          uuid.NewString(),
		Slug:        u.checker.Slug(),
		FromVersion: u.checker.InstalledVersion(),
		ToVersion:   offer.NewVersion,
		Package:     offer.Package,
	}
	log := u.opts.Log.WithFields(logrus.Fields{"slug": res.Slug, "upgrade_id": res.ID})
	log.Infof("Upgrading %s from %s to %s", res.Slug, res.FromVersion, res.ToVersion)

	err := u.run(ctx, res, log)
	u.record(ctx, res, err, log)
	if err != nil {
		telemetry.RecordError(span, err)
		u.notify(res.Slug, "failed", "", err)
		return res, err
	}
	u.notify(res.Slug, "done", fmt.Sprintf("Installed %s", res.ToVersion), nil)
	return res, nil
}

func (u *Upgrader) run(ctx context.Context, res *Result, log *logrus.Entry) error {
	u.notify(res.Slug, "preflight", "Checking plugins directory", nil)
	if err := u.preInstall(); err != nil {
		return err
	}

	work := filepath.Join(u.opts.StagingDir, res.ID)
	if err := os.MkdirAll(work, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(work); err != nil {
			log.Warnf("Failed to clean staging directory %s: %v", work, err)
		}
	}()

	u.notify(res.Slug, "download", "Downloading package", nil)
	archivePath := filepath.Join(work, packageFileName)
	if err := u.download(ctx, res.Package, archivePath); err != nil {
		return err
	}

	u.notify(res.Slug, "extract", "Unpacking package", nil)
	extracted := filepath.Join(work, "extract")
	files, err := Extract(ctx, archivePath, extracted)
	if err != nil {
		return fmt.Errorf("failed to unpack package: %w", err)
	}
	res.Files = files
	log.Debugf("Extracted %d files", files)

	u.notify(res.Slug, "install", "Installing plugin", nil)
	install, err := u.checker.PostInstall(ctx, updater.InstallRequest{Source: extracted})
	res.Install = install
	return err
}

// preInstall refuses to start when the plugins directory cannot be written.
func (u *Upgrader) preInstall() error {
	fsys, err := u.opts.Filesystem()
	if err != nil {
		return fmt.Errorf("%w: %v", updater.ErrFilesystemUnavailable, err)
	}
	if !fsys.IsWritable(u.opts.PluginsDir) {
		return fmt.Errorf("%w: %s", ErrPluginsDirNotWritable, u.opts.PluginsDir)
	}
	return nil
}

func (u *Upgrader) client() *http.Client {
	if u.opts.Client != nil {
		return u.opts.Client
	}
	args := u.checker.HTTPRequestArgs(updater.RequestArgs{Timeout: u.opts.DownloadTimeout, SSLVerify: true}, u.checker.Config().ZipURL)
	return updater.NewHTTPClient(args.Timeout, args.SSLVerify)
}

func (u *Upgrader) download(ctx context.Context, pkg, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pkg, nil)
	if err != nil {
		return fmt.Errorf("invalid package URL: %w", err)
	}
	resp, err := u.client().Do(req)
	if err != nil {
		return &updater.NetworkError{URL: redact(pkg), Err: unwrapURLError(err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &updater.NetworkError{URL: redact(pkg), StatusCode: resp.StatusCode}
	}

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create package file: %w", err)
	}
	n, err := io.Copy(out, io.LimitReader(resp.Body, u.opts.MaxPackageSize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to download package: %w", err)
	}
	if n > u.opts.MaxPackageSize {
		return ErrPackageTooLarge
	}
	return nil
}

func (u *Upgrader) record(ctx context.Context, res *Result, err error, log *logrus.Entry) {
	if u.opts.History == nil {
		return
	}
	rec := &store.InstallRecord{
		ID:          res.ID,
		Slug:        res.Slug,
		FromVersion: res.FromVersion,
		ToVersion:   res.ToVersion,
		Status:      store.InstallStatusSuccess,
		Message:     "installed",
	}
	if res.Install != nil {
		rec.BackupPath = res.Install.Rollback.BackupPath
	}
	var installErr *updater.InstallError
	if errors.As(err, &installErr) {
		rec.BackupPath = installErr.Rollback.BackupPath
	}
	if err != nil {
		rec.Status = store.InstallStatusFailed
		rec.Message = err.Error()
	}
	if herr := u.opts.History.RecordInstall(ctx, rec); herr != nil {
		log.Errorf("Failed to record upgrade: %v", herr)
	}
}

func (u *Upgrader) notify(slug, stage, message string, err error) {
	if u.opts.Notifier == nil {
		return
	}
	event := websocket.Event{Type: EventUpgrade, Slug: slug, Stage: stage, Message: message}
	if err != nil {
		event.Error = err.Error()
	}
	u.opts.Notifier.BroadcastEvent(event)
}

// redact drops the query string, which may carry an access token.
func redact(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// unwrapURLError strips the *url.Error wrapper, which repeats the full URL.
func unwrapURLError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}
