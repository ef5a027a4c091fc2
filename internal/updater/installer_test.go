package updater

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/watson-creative/tracking-injector/internal/logger"
)

type MockActivator struct {
	mock.Mock
}

func (m *MockActivator) Activate(ctx context.Context, slug string) error {
	args := m.Called(ctx, slug)
	return args.Error(0)
}

// faultyFilesystem fails selected operations of the wrapped filesystem.
type faultyFilesystem struct {
	Filesystem
	failMoveFrom string
	failMoveTo   string
	failRestore  bool
	vanish       bool
	readOnly     bool
	dest         string
}

func (f *faultyFilesystem) Move(src, dst string, overwrite bool) error {
	if f.failMoveFrom != "" && src == f.failMoveFrom {
		return errors.New("rename: device busy")
	}
	if f.failRestore && dst == f.dest && src != f.failMoveFrom {
		return errors.New("rename: permission denied")
	}
	if err := f.Filesystem.Move(src, dst, overwrite); err != nil {
		return err
	}
	if f.vanish && dst == f.dest {
		f.vanish = false
		return f.Filesystem.RemoveAll(dst)
	}
	return nil
}

func (f *faultyFilesystem) IsWritable(path string) bool {
	if f.readOnly {
		return false
	}
	return f.Filesystem.IsWritable(path)
}

type installFixture struct {
	pluginsDir string
	source     string
	dest       string
	config     *UpdateConfig
	activator  *MockActivator
}

func newInstallFixture(t *testing.T) *installFixture {
	t.Helper()
	root := t.TempDir()
	pluginsDir := filepath.Join(root, "plugins")
	require.NoError(t, os.MkdirAll(pluginsDir, 0755))

	cfg, err := Resolve(validSettings("https://api.github.com/repos/org/repo"), nil, nil)
	require.NoError(t, err)

	return &installFixture{
		pluginsDir: pluginsDir,
		source:     filepath.Join(root, "upgrade", "extract"),
		dest:       filepath.Join(pluginsDir, "wc-tracking-code-injector"),
		config:     cfg,
		activator:  &MockActivator{},
	}
}

func (fx *installFixture) installer(backup bool, fs Filesystem) *Installer {
	provider := OSFilesystemProvider()
	if fs != nil {
		provider = func() (Filesystem, error) { return fs, nil }
	}
	return NewInstaller(fx.config, InstallerOptions{
		PluginsDir: fx.pluginsDir,
		Backup:     backup,
		Filesystem: provider,
		Activator:  fx.activator,
		Log:        logger.Discard(),
	})
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func readFiles(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

var newRelease = map[string]string{
	"wc-tracking-code-injector.php": "<?php\n/* Plugin Name: WC Tracking Code Injector\nVersion: 2.5.0 */\n",
	"updater.php":                   "<?php // updater",
	"assets/admin.css":              "body{}",
}

var oldRelease = map[string]string{
	"wc-tracking-code-injector.php": "<?php\n/* Plugin Name: WC Tracking Code Injector\nVersion: 2.4.4 */\n",
	"updater.php":                   "<?php // old updater",
	"legacy.txt":                    "\x00\x01binary\xff",
}

func TestInstallNestedSource(t *testing.T) {
	fx := newInstallFixture(t)
	writeFiles(t, filepath.Join(fx.source, "wc-tracking-code-injector-main"), newRelease)
	fx.activator.On("Activate", mock.Anything, testSlug).Return(nil)

	res, err := fx.installer(true, nil).Install(context.Background(), InstallRequest{Source: fx.source})
	require.NoError(t, err)

	assert.Equal(t, fx.dest, res.Destination)
	assert.Equal(t, filepath.Join(fx.source, "wc-tracking-code-injector-main"), res.Source)
	assert.Equal(t, newRelease, readFiles(t, fx.dest))
	assert.False(t, res.Rollback.BackupTaken)
	assert.NotEmpty(t, res.Messages)
	fx.activator.AssertExpectations(t)
}

func TestInstallFlatSource(t *testing.T) {
	fx := newInstallFixture(t)
	writeFiles(t, fx.source, newRelease)
	fx.activator.On("Activate", mock.Anything, testSlug).Return(nil)

	res, err := fx.installer(true, nil).Install(context.Background(), InstallRequest{Source: fx.source})
	require.NoError(t, err)
	assert.Equal(t, fx.source, res.Source, "multiple top-level entries are used as-is")
	assert.Equal(t, newRelease, readFiles(t, fx.dest))
}

func TestInstallReplacesExistingWithBackup(t *testing.T) {
	fx := newInstallFixture(t)
	writeFiles(t, fx.dest, oldRelease)
	writeFiles(t, filepath.Join(fx.source, "repo-main"), newRelease)
	fx.activator.On("Activate", mock.Anything, testSlug).Return(nil)

	res, err := fx.installer(true, nil).Install(context.Background(), InstallRequest{Source: fx.source})
	require.NoError(t, err)
	assert.Equal(t, newRelease, readFiles(t, fx.dest))
	assert.True(t, res.Rollback.BackupTaken)
	assert.NoDirExists(t, res.Rollback.BackupPath, "backup removed after a successful install")
}

func TestInstallMoveFailureRestoresBackup(t *testing.T) {
	fx := newInstallFixture(t)
	writeFiles(t, fx.dest, oldRelease)
	nested := filepath.Join(fx.source, "repo-main")
	writeFiles(t, nested, newRelease)

	fs := &faultyFilesystem{
		Filesystem:   NewAferoFilesystem(afero.NewOsFs()),
		failMoveFrom: nested,
		dest:         fx.dest,
	}
	res, err := fx.installer(true, fs).Install(context.Background(), InstallRequest{Source: fx.source})
	assert.Nil(t, res)

	var ierr *InstallError
	require.ErrorAs(t, err, &ierr)
	assert.ErrorIs(t, err, ErrMoveFailed)
	assert.Equal(t, StageMove, ierr.Stage)
	assert.Contains(t, err.Error(), "device busy")
	assert.Contains(t, err.Error(), "update_failed")
	assert.True(t, ierr.Rollback.BackupTaken)
	assert.True(t, ierr.Rollback.Restored)

	assert.Equal(t, oldRelease, readFiles(t, fx.dest), "original install restored byte-for-byte")
	assert.NoDirExists(t, ierr.Rollback.BackupPath)
	fx.activator.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything)
}

func TestInstallRestoreFailureIsReported(t *testing.T) {
	fx := newInstallFixture(t)
	writeFiles(t, fx.dest, oldRelease)
	nested := filepath.Join(fx.source, "repo-main")
	writeFiles(t, nested, newRelease)

	fs := &faultyFilesystem{
		Filesystem:   NewAferoFilesystem(afero.NewOsFs()),
		failMoveFrom: nested,
		failRestore:  true,
		dest:         fx.dest,
	}
	_, err := fx.installer(true, fs).Install(context.Background(), InstallRequest{Source: fx.source})

	var ierr *InstallError
	require.ErrorAs(t, err, &ierr)
	assert.ErrorIs(t, err, ErrMoveFailed, "the move failure is what gets reported")
	assert.True(t, ierr.Rollback.RestoreAttempted)
	assert.False(t, ierr.Rollback.Restored)
	assert.Contains(t, ierr.Rollback.RestoreErr, "permission denied")
	assert.Equal(t, oldRelease, readFiles(t, ierr.Rollback.BackupPath), "backup left in place")
}

func TestInstallVerificationFailure(t *testing.T) {
	fx := newInstallFixture(t)
	writeFiles(t, fx.dest, oldRelease)
	writeFiles(t, filepath.Join(fx.source, "repo-main"), newRelease)

	fs := &faultyFilesystem{
		Filesystem: NewAferoFilesystem(afero.NewOsFs()),
		vanish:     true,
		dest:       fx.dest,
	}
	_, err := fx.installer(true, fs).Install(context.Background(), InstallRequest{Source: fx.source})

	var ierr *InstallError
	require.ErrorAs(t, err, &ierr)
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.Equal(t, StageVerify, ierr.Stage)
	assert.True(t, ierr.Rollback.Restored)
	assert.Equal(t, oldRelease, readFiles(t, fx.dest))
}

func TestInstallActivationFailureKeepsFiles(t *testing.T) {
	fx := newInstallFixture(t)
	writeFiles(t, fx.dest, oldRelease)
	writeFiles(t, filepath.Join(fx.source, "repo-main"), newRelease)
	fx.activator.On("Activate", mock.Anything, testSlug).Return(errors.New("fatal error on line 3"))

	_, err := fx.installer(true, nil).Install(context.Background(), InstallRequest{Source: fx.source})

	var ierr *InstallError
	require.ErrorAs(t, err, &ierr)
	assert.ErrorIs(t, err, ErrActivationFailed)
	assert.Contains(t, err.Error(), "fatal error on line 3")
	assert.False(t, ierr.Rollback.RestoreAttempted)
	assert.Equal(t, newRelease, readFiles(t, fx.dest), "new files stay installed")
}

func TestInstallMissingPluginFile(t *testing.T) {
	fx := newInstallFixture(t)
	writeFiles(t, fx.source, map[string]string{"readme.md": "x", "other.php": "<?php"})

	_, err := fx.installer(false, nil).Install(context.Background(), InstallRequest{Source: fx.source})
	assert.ErrorIs(t, err, ErrActivationFailed)
	fx.activator.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything)
}

func TestInstallPreconditionFailures(t *testing.T) {
	t.Run("empty source", func(t *testing.T) {
		fx := newInstallFixture(t)
		_, err := fx.installer(true, nil).Install(context.Background(), InstallRequest{})
		var ierr *InstallError
		require.ErrorAs(t, err, &ierr)
		assert.ErrorIs(t, err, ErrDestinationMissing)
		assert.Equal(t, StageValidate, ierr.Stage)
	})

	t.Run("filesystem unavailable", func(t *testing.T) {
		fx := newInstallFixture(t)
		in := NewInstaller(fx.config, InstallerOptions{
			PluginsDir: fx.pluginsDir,
			Filesystem: func() (Filesystem, error) { return nil, errors.New("no credentials") },
			Log:        logger.Discard(),
		})
		_, err := in.Install(context.Background(), InstallRequest{Source: fx.source})
		assert.ErrorIs(t, err, ErrFilesystemUnavailable)
	})

	t.Run("source does not exist", func(t *testing.T) {
		fx := newInstallFixture(t)
		_, err := fx.installer(true, nil).Install(context.Background(), InstallRequest{Source: fx.source})
		assert.ErrorIs(t, err, ErrDestinationMissing)
	})

	t.Run("destination not writable", func(t *testing.T) {
		fx := newInstallFixture(t)
		writeFiles(t, fx.dest, oldRelease)
		writeFiles(t, fx.source, newRelease)
		fs := &faultyFilesystem{Filesystem: NewAferoFilesystem(afero.NewOsFs()), readOnly: true, dest: fx.dest}

		_, err := fx.installer(true, fs).Install(context.Background(), InstallRequest{Source: fx.source})
		assert.ErrorIs(t, err, ErrDestinationNotWritable)
		assert.Equal(t, oldRelease, readFiles(t, fx.dest))
	})

	t.Run("parent not writable", func(t *testing.T) {
		fx := newInstallFixture(t)
		writeFiles(t, fx.source, newRelease)
		fs := &faultyFilesystem{Filesystem: NewAferoFilesystem(afero.NewOsFs()), readOnly: true, dest: fx.dest}

		_, err := fx.installer(true, fs).Install(context.Background(), InstallRequest{Source: fx.source})
		var ierr *InstallError
		require.ErrorAs(t, err, &ierr)
		assert.ErrorIs(t, err, ErrDestinationNotWritable)
		assert.Contains(t, ierr.Message, "parent directory")
	})
}
