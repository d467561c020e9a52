package lode

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds for storage failures. Match with errors.Is.
var (
	// ErrPermissionDenied indicates a local permission failure (EACCES).
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotFound indicates a missing path, bucket or key.
	ErrNotFound = errors.New("not found")
	// ErrDiskFull indicates storage is out of space.
	ErrDiskFull = errors.New("no space left on device")
	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")
	// ErrThrottled indicates rate limiting (429, SlowDown).
	ErrThrottled = errors.New("rate limited")
	// ErrAuth indicates missing or invalid credentials.
	ErrAuth = errors.New("authentication failed")
	// ErrAccessDenied indicates valid credentials without permission.
	ErrAccessDenied = errors.New("access denied")
	// ErrNetwork indicates a connection-level failure.
	ErrNetwork = errors.New("network error")
	// ErrUnclassified is the kind for anything else.
	ErrUnclassified = errors.New("storage error")
)

// StorageError is a classified storage failure. The original error stays
// in the chain for errors.As.
type StorageError struct {
	Kind error
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error { return e.Err }

// Is reports whether the error's kind matches target.
func (e *StorageError) Is(target error) bool { return errors.Is(e.Kind, target) }

// NewStorageError creates a classified storage error.
func NewStorageError(kind error, op, path string, err error) *StorageError {
	return &StorageError{Kind: kind, Op: op, Path: path, Err: err}
}

// WrapWriteError classifies a write failure. Returns nil for nil.
func WrapWriteError(err error, path string) error {
	if err == nil {
		return nil
	}
	return NewStorageError(classifyError(err), "write", path, err)
}

// WrapReadError classifies a read failure. Returns nil for nil.
func WrapReadError(err error, path string) error {
	if err == nil {
		return nil
	}
	return NewStorageError(classifyError(err), "read", path, err)
}

// WrapInitError classifies a store construction failure. Returns nil for nil.
func WrapInitError(err error, location string) error {
	if err == nil {
		return nil
	}
	return NewStorageError(classifyError(err), "init", location, err)
}

// classification rules are checked in order; the first match wins.
var classification = []struct {
	kind     error
	patterns []string
}{
	{ErrAccessDenied, []string{"accessdenied", "forbidden", "403"}},
	{ErrPermissionDenied, []string{"permission denied", "eacces", "access denied"}},
	{ErrNotFound, []string{"no such file", "does not exist", "not found", "enoent", "404", "nosuchkey", "nosuchbucket"}},
	{ErrDiskFull, []string{"no space left", "disk full", "enospc", "quota exceeded"}},
	{ErrTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrThrottled, []string{"slowdown", "rate exceeded", "throttl", "429", "toomanyrequests"}},
	{ErrAuth, []string{"nocredentialproviders", "credentials", "invalidaccesskeyid", "signaturedoesnotmatch", "expiredtoken", "401", "unauthorized"}},
	{ErrNetwork, []string{"connection refused", "no route to host", "network unreachable", "dns", "dial tcp"}},
}

// classifyError maps an error to a sentinel kind by type, then by message.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return ErrTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range classification {
		for _, p := range rule.patterns {
			if strings.Contains(msg, p) {
				return rule.kind
			}
		}
	}
	return ErrUnclassified
}
