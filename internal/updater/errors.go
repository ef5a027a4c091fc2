package updater

import (
	"errors"
	"fmt"
	"strings"
)

// MissingFieldsError is returned by Resolve when required settings are absent.
// Fields lists the missing keys in declaration order.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required config fields: " + strings.Join(e.Fields, ", ")
}

// NetworkError is a transport failure or a non-success status from the
// repository API. Callers treat it as "no data available, try later".
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request to %s failed with status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// InvalidResponseError is returned when the repository API answers with a
// body that does not decode to a JSON object.
type InvalidResponseError struct {
	URL string
	Err error
}

func (e *InvalidResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid response from %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("invalid response from %s", e.URL)
}

func (e *InvalidResponseError) Unwrap() error { return e.Err }

// Install failure kinds. Match them with errors.Is against an *InstallError.
var (
	ErrDestinationMissing     = errors.New("destination missing")
	ErrFilesystemUnavailable  = errors.New("filesystem unavailable")
	ErrDestinationNotWritable = errors.New("destination not writable")
	ErrBackupFailed           = errors.New("backup failed")
	ErrMoveFailed             = errors.New("move failed")
	ErrVerificationFailed     = errors.New("verification failed")
	ErrActivationFailed       = errors.New("activation failed")
)

// InstallError is the typed failure of an install stage.
type InstallError struct {
	Stage   Stage
	Kind    error
	Message string
	Err     error
	// Rollback reports what happened to a backup taken before the failure.
	Rollback RollbackReport
}

func (e *InstallError) Error() string {
	msg := fmt.Sprintf("update_failed: %s: %s", e.Kind, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is lets errors.Is(err, ErrMoveFailed) match on the failure kind.
func (e *InstallError) Is(target error) bool {
	return e.Kind == target
}

func (e *InstallError) Unwrap() error { return e.Err }
