// Package lock keeps a second controller from writing the same reading file.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mitchellh/go-ps"

	"github.com/oshokin/carbon-gate/internal/config"
)

// ErrLocked is returned when a live process already holds the lock.
var ErrLocked = errors.New("another controller instance is running")

// errContended is retried: the file changed between reading and replacing it.
var errContended = errors.New("lock file changed concurrently")

const (
	// contentionRetries bounds the attempts when several processes race for the file.
	contentionRetries = 5
	// contentionDelay is the pause between those attempts.
	contentionDelay = 20 * time.Millisecond
)

var (
	// heldMu guards held.
	heldMu sync.Mutex
	// held lists the paths locked by this process. A PID file naming our own
	// PID but absent here was left by an earlier process that reused the PID.
	held = make(map[string]struct{})
)

// Lock is a PID file owned by the current process.
type Lock struct {
	path string
}

// Acquire creates a PID file at path. A PID file left by a process that is no
// longer running, that now belongs to a different executable, or that names
// the current PID from an earlier run, is taken over.
func Acquire(path string) (*Lock, error) {
	path = filepath.Clean(path)

	heldMu.Lock()
	defer heldMu.Unlock()

	if _, ok := held[path]; ok {
		return nil, fmt.Errorf("%w: %s is already held by pid %d", ErrLocked, path, os.Getpid())
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(contentionDelay), contentionRetries)
	if err := backoff.Retry(func() error { return tryAcquire(path) }, policy); err != nil {
		return nil, err
	}

	held[path] = struct{}{}

	return &Lock{path: path}, nil
}

// Release removes the PID file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}

	heldMu.Lock()
	defer heldMu.Unlock()

	if _, ok := held[l.path]; !ok {
		return nil
	}

	delete(held, l.path)

	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}

	return nil
}

// tryAcquire makes one attempt. Errors other than errContended are permanent.
func tryAcquire(path string) error {
	err := create(path)
	if err == nil {
		return nil
	}

	if !errors.Is(err, os.ErrExist) {
		return backoff.Permanent(err)
	}

	contents, holder, err := readPID(path)
	if err != nil {
		return backoff.Permanent(err)
	}

	if holder > 0 && holder != os.Getpid() {
		alive, err := isController(holder)
		if err != nil {
			return backoff.Permanent(err)
		}

		if alive {
			return backoff.Permanent(fmt.Errorf("%w: pid %d holds %s", ErrLocked, holder, path))
		}
	}

	// Only remove the file we judged stale; a racer may have replaced it.
	current, _, err := readPID(path)
	if err != nil {
		return backoff.Permanent(err)
	}

	if current != contents {
		return errContended
	}

	if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return backoff.Permanent(fmt.Errorf("remove stale lock file: %w", err))
	}

	if err = create(path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return errContended
		}

		return backoff.Permanent(err)
	}

	return nil
}

// create writes our PID to a temporary file and links it to path, which fails
// with os.ErrExist when path exists. Readers never see a partial file.
func create(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create lock file: %w", err)
	}

	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	_, err = tmp.WriteString(strconv.Itoa(os.Getpid()))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}

	if err = os.Chmod(tmp.Name(), config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("chmod lock file: %w", err)
	}

	return os.Link(tmp.Name(), path)
}

// readPID returns the raw contents at path and the PID they hold, or 0 when
// there is none. Garbage counts as no PID.
func readPID(path string) (string, int, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", 0, nil
		}

		return "", 0, fmt.Errorf("read lock file: %w", err)
	}

	raw := string(contents)

	pid, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || pid <= 0 {
		return raw, 0, nil //nolint:nilerr // An unreadable PID cannot belong to a live holder.
	}

	return raw, pid, nil
}

// isController reports whether pid is running the same executable as we are.
func isController(pid int) (bool, error) {
	process, err := ps.FindProcess(pid)
	if err != nil {
		return false, fmt.Errorf("find process %d: %w", pid, err)
	}

	if process == nil {
		return false, nil
	}

	self, err := ps.FindProcess(os.Getpid())
	if err != nil || self == nil {
		// Without our own name we can only trust that the PID is alive.
		return true, nil //nolint:nilerr // Err on the side of not running twice.
	}

	return process.Executable() == self.Executable(), nil
}
