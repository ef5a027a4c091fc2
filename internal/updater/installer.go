package updater

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/watson-creative/tracking-injector/internal/telemetry"
)

// Stage is a step of the install sequence.
type Stage int

const (
	StageValidate Stage = iota + 1
	StageFilesystem
	StageResolveSource
	StagePreflight
	StageMove
	StageVerify
	StageActivate
)

func (s Stage) String() string {
	switch s {
	case StageValidate:
		return "validate"
	case StageFilesystem:
		return "filesystem"
	case StageResolveSource:
		return "resolve_source"
	case StagePreflight:
		return "preflight"
	case StageMove:
		return "move"
	case StageVerify:
		return "verify"
	case StageActivate:
		return "activate"
	default:
		return "stage(" + strconv.Itoa(int(s)) + ")"
	}
}

// RollbackReport describes the backup taken before a move and, on failure,
// what happened when it was put back.
type RollbackReport struct {
	BackupPath       string `json:"backup_path,omitempty"`
	BackupTaken      bool   `json:"backup_taken"`
	RestoreAttempted bool   `json:"restore_attempted"`
	Restored         bool   `json:"restored"`
	RestoreErr       string `json:"restore_error,omitempty"`
}

// Activator turns an installed plugin on.
type Activator interface {
	Activate(ctx context.Context, slug string) error
}

// InstallRequest is what the host hands over after extracting a package.
type InstallRequest struct {
	// Source is the directory the package was extracted into.
	Source string `json:"destination"`
}

// InstallResult is a completed install.
type InstallResult struct {
	Source      string         `json:"source"`
	Destination string         `json:"destination"`
	Rollback    RollbackReport `json:"rollback"`
	// Messages is the stage transcript, kept out of any response body.
	Messages []string `json:"messages"`
}

// InstallerOptions configures an Installer.
type InstallerOptions struct {
	PluginsDir string
	// Backup renames an existing install aside before the move.
	Backup     bool
	Filesystem FilesystemProvider
	Activator  Activator
	Log        *logrus.Entry
	Now        func() time.Time
}

// Installer moves an extracted package into the plugins directory and
// activates it.
type Installer struct {
	config *UpdateConfig
	opts   InstallerOptions
}

// NewInstaller creates an installer for the plugin described by cfg.
func NewInstaller(cfg *UpdateConfig, opts InstallerOptions) *Installer {
	if opts.Filesystem == nil {
		opts.Filesystem = OSFilesystemProvider()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Installer{config: cfg, opts: opts}
}

// Destination is the final plugin directory.
func (in *Installer) Destination() string {
	return filepath.Join(in.opts.PluginsDir, filepath.FromSlash(in.config.ProperFolderName))
}

type installRun struct {
	log      *logrus.Entry
	result   *InstallResult
	fs       Filesystem
	dest     string
	rollback RollbackReport
}

func (r *installRun) note(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.result.Messages = append(r.result.Messages, msg)
	r.log.Debug(msg)
}

// restore moves the backup back over the destination. A failed restore is
// logged and reported, never returned.
func (r *installRun) restore() {
	if !r.rollback.BackupTaken {
		return
	}
	r.rollback.RestoreAttempted = true
	r.note("Attempting to restore backup %s", r.rollback.BackupPath)
	if err := r.fs.Move(r.rollback.BackupPath, r.dest, true); err != nil {
		r.rollback.RestoreErr = err.Error()
		r.log.Errorf("Failed to restore backup %s: %v", r.rollback.BackupPath, err)
		return
	}
	r.rollback.Restored = true
	r.note("Backup restored successfully")
}

func (r *installRun) fail(stage Stage, kind error, cause error, format string, args ...any) *InstallError {
	if kind == ErrMoveFailed || kind == ErrVerificationFailed {
		r.restore()
	}
	ierr := &InstallError{
		Stage:    stage,
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		Err:      cause,
		Rollback: r.rollback,
	}
	r.log.Errorf("Installation failed: %v", ierr)
	return ierr
}

// Install runs the install sequence. Every failure is an *InstallError; a
// failure after the move restores the backup, except activation failures,
// which leave the new files in place.
func (in *Installer) Install(ctx context.Context, req InstallRequest) (*InstallResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "updater.Install")
	defer span.End()
	span.SetAttributes(attribute.String("plugin.slug", in.config.Slug))

	res, err := in.install(ctx, req)
	telemetry.RecordError(span, err)
	return res, err
}

func (in *Installer) install(ctx context.Context, req InstallRequest) (*InstallResult, error) {
	run := &installRun{
		log:    in.opts.Log.WithField("slug", in.config.Slug),
		result: &InstallResult{},
	}
	run.note("Starting plugin installation process")

	// 1. validate
	run.note("Stage %s", StageValidate)
	if req.Source == "" {
		return nil, run.fail(StageValidate, ErrDestinationMissing, nil, "no destination specified in the installation result")
	}
	if in.config.ProperFolderName == "" || in.config.ProperFolderName == "." {
		return nil, run.fail(StageValidate, ErrDestinationMissing, nil, "plugin %s has no folder to install into", in.config.Slug)
	}
	run.dest = in.Destination()
	run.result.Destination = run.dest
	run.note("Source directory: %s, target destination: %s", req.Source, run.dest)

	// 2. filesystem
	run.note("Stage %s", StageFilesystem)
	fs, err := in.opts.Filesystem()
	if err != nil || fs == nil {
		return nil, run.fail(StageFilesystem, ErrFilesystemUnavailable, err, "failed to initialize filesystem")
	}
	run.fs = fs

	// 3. resolve source
	run.note("Stage %s", StageResolveSource)
	if !fs.Exists(req.Source) {
		return nil, run.fail(StageResolveSource, ErrDestinationMissing, nil, "source directory does not exist: %s", req.Source)
	}
	files, err := fs.List(req.Source)
	if err != nil {
		return nil, run.fail(StageResolveSource, ErrDestinationMissing, err, "failed to list contents of source directory")
	}
	run.note("Files found in source: %v", files)
	source := req.Source
	if len(files) == 1 && fs.IsDir(filepath.Join(source, files[0])) {
		nested := filepath.Join(source, files[0])
		if _, err := fs.List(nested); err != nil {
			return nil, run.fail(StageResolveSource, ErrDestinationMissing, err, "failed to list contents of nested source directory")
		}
		run.note("Using nested directory as source: %s", nested)
		source = nested
	}
	run.result.Source = source

	// 4. preflight
	run.note("Stage %s", StagePreflight)
	if fs.Exists(run.dest) {
		if !fs.IsWritable(run.dest) {
			return nil, run.fail(StagePreflight, ErrDestinationNotWritable, nil, "destination directory is not writable: %s", run.dest)
		}
		if in.opts.Backup {
			backup := run.dest + "_backup_" + strconv.FormatInt(in.opts.Now().Unix(), 10)
			run.note("Creating backup of existing plugin at: %s", backup)
			if err := fs.Move(run.dest, backup, false); err != nil {
				return nil, run.fail(StagePreflight, ErrBackupFailed, err, "failed to create backup of existing plugin")
			}
			run.rollback.BackupPath = backup
			run.rollback.BackupTaken = true
		}
	} else {
		parent := filepath.Dir(run.dest)
		if !fs.IsWritable(parent) {
			return nil, run.fail(StagePreflight, ErrDestinationNotWritable, nil, "parent directory is not writable: %s", parent)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, run.fail(StageMove, ErrMoveFailed, err, "install cancelled before move")
	}

	// 5. move
	run.note("Stage %s: %s -> %s", StageMove, source, run.dest)
	if err := fs.Move(source, run.dest, true); err != nil {
		return nil, run.fail(StageMove, ErrMoveFailed, err, "failed to move files")
	}
	run.note("Files moved successfully")

	// 6. verify
	run.note("Stage %s", StageVerify)
	if !fs.Exists(run.dest) {
		return nil, run.fail(StageVerify, ErrVerificationFailed, nil, "destination directory does not exist after move")
	}
	moved, err := fs.List(run.dest)
	if err != nil {
		return nil, run.fail(StageVerify, ErrVerificationFailed, err, "failed to verify moved files")
	}
	run.note("Verified moved files: %v", moved)

	// 7. activate
	run.note("Stage %s", StageActivate)
	pluginFile := filepath.Join(in.opts.PluginsDir, filepath.FromSlash(in.config.Slug))
	if !fs.Exists(pluginFile) {
		return nil, run.fail(StageActivate, ErrActivationFailed, nil, "plugin file does not exist at expected path: %s", pluginFile)
	}
	if in.opts.Activator != nil {
		if err := in.opts.Activator.Activate(ctx, in.config.Slug); err != nil {
			return nil, run.fail(StageActivate, ErrActivationFailed, err, "plugin activation failed")
		}
	}
	run.note("Plugin activated successfully")

	if run.rollback.BackupTaken {
		if err := fs.RemoveAll(run.rollback.BackupPath); err != nil {
			run.log.Warnf("Failed to remove backup %s: %v", run.rollback.BackupPath, err)
		} else {
			run.note("Removed backup %s", run.rollback.BackupPath)
		}
	}

	run.result.Rollback = run.rollback
	run.note("Installation completed successfully")
	return run.result, nil
}
