package serial

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultLockDirs are tried in order; the first one that exists holds
// lock files. /tmp is what minicom uses where /var/lock is missing.
var DefaultLockDirs = []string{"/var/lock", "/tmp"}

const lockAttempts = 10

// Lock is a UUCP style LCK..<device> lock file containing the owner's PID.
//
// The initial grab is atomic (O_CREAT|O_EXCL). Reclaiming a stale lock left
// by a dead process is a double-checked heuristic and can race with another
// process doing the same; callers only get a bounded number of retries.
type Lock struct {
	path  string
	pid   int
	sleep func(time.Duration)
}

// LockOption configures AcquireLock
type LockOption func(*Lock)

// InLockDir places the lock file in dir instead of the default directory
func InLockDir(dir string) LockOption {
	return func(l *Lock) {
		l.path = filepath.Join(dir, filepath.Base(l.path))
	}
}

// LockDir returns the first existing directory from DefaultLockDirs
func LockDir() string {
	for _, dir := range DefaultLockDirs {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return os.TempDir()
}

// LockPath returns the lock file path for a device base name
func LockPath(dir, device string) string {
	return filepath.Join(dir, "LCK.."+device)
}

// AcquireLock takes the lock for device, which must be a base name such as
// "ttyUSB0". A lock held by this process is returned immediately. A lock
// held by a live process fails with ErrDeviceInUse.
func AcquireLock(device string, opts ...LockOption) (*Lock, error) {
	if device == "" || strings.Contains(device, "/") {
		return nil, fmt.Errorf("%w: lock name %q must be a device base name", ErrInvalidConfig, device)
	}
	l := &Lock{
		path:  LockPath(LockDir(), device),
		pid:   os.Getpid(),
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.acquire(); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the lock file location
func (l *Lock) Path() string {
	return l.path
}

func (l *Lock) acquire() error {
	for range lockAttempts {
		owner, ok, err := l.read()
		if err != nil {
			return err
		}
		switch {
		case ok && owner == l.pid:
			return nil
		case !ok:
			if err := l.create(); err != nil {
				return err
			}
			continue
		}

		if owner > 0 {
			live, err := pidAlive(owner)
			if err != nil {
				return err
			}
			if live {
				return fmt.Errorf("%w: %s locked by pid %d", ErrDeviceInUse, l.path, owner)
			}
		}

		// The owner died or never wrote a PID. Removing the file races
		// with anyone else doing the same, so look again after a random
		// pause and only delete if nothing changed.
		l.sleep(time.Duration(200+rand.IntN(200)) * time.Millisecond)
		again, ok, err := l.read()
		if err != nil {
			return err
		}
		if !ok || again != owner {
			continue
		}
		if owner > 0 {
			live, err := pidAlive(owner)
			if err != nil {
				return err
			}
			if live {
				continue
			}
		}
		if err := removeIfExists(l.path); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %s", ErrLockContention, l.path)
}

// read returns the PID recorded in the lock file. ok is false when no
// lock file exists; an unparsable file yields pid 0.
func (l *Lock) read() (pid int, ok bool, err error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read lock %s: %w", l.path, err)
	}
	return parseLockPID(data), true, nil
}

// parseLockPID returns the PID in the first whitespace separated token, or 0
func parseLockPID(data []byte) int {
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	// kill(2) takes a 32 bit pid; anything wider would probe -1 or 0
	pid, err := strconv.ParseInt(fields[0], 10, 32)
	if err != nil || pid <= 0 {
		return 0
	}
	return int(pid)
}

// create makes the lock file atomically. Losing the race to another
// process is not an error; the caller re-reads the file.
func (l *Lock) create() error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("create lock %s: %w", l.path, err)
	}
	_, werr := fmt.Fprintf(f, "%d\n", l.pid)
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("write lock %s: %w", l.path, werr)
	}
	if cerr != nil {
		return fmt.Errorf("write lock %s: %w", l.path, cerr)
	}
	return nil
}

// Release removes the lock file if it still belongs to this process.
// It is safe to call on a nil Lock and more than once.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	owner, ok, err := l.read()
	if err != nil {
		return err
	}
	if !ok || owner != l.pid {
		return nil
	}
	return removeIfExists(l.path)
}

// pidAlive probes pid with signal 0. EPERM means the process exists but
// belongs to someone else.
func pidAlive(pid int) (bool, error) {
	err := unix.Kill(pid, 0)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.EPERM):
		return true, nil
	case errors.Is(err, unix.ESRCH):
		return false, nil
	default:
		return false, fmt.Errorf("probe pid %d: %w", pid, err)
	}
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock %s: %w", path, err)
	}
	return nil
}
