package hub

import (
	"context"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/gomlx/gpt2bpe/internal/files"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// lockPollPeriod is the minimum period between attempts to acquire a busy lock. A random jitter of up to
// the same amount is added.
var lockPollPeriod = time.Second

// lockedCopy copies srcPath to filePath.
//
// If filePath exists and force is false, it is assumed to already have been correctly installed, and it
// returns immediately.
//
// It copies the file to filePath+".installing" and then atomically moves it to filePath, so readers never
// see a partial file. It uses filePath+".lock" to coordinate multiple processes installing the same file at
// the same time.
func lockedCopy(ctx context.Context, srcPath, filePath string, force bool) error {
	if files.Exists(filePath) {
		if !force {
			return nil
		}
		if err := os.Remove(filePath); err != nil {
			return errors.Wrapf(err, "failed to remove %q while force-installing %q", filePath, srcPath)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), DefaultDirCreationPerm); err != nil {
		return errors.Wrapf(err, "failed to create directory for file %q", filePath)
	}

	lockPath := filePath + ".lock"
	var mainErr error
	errLock := execOnFileLock(ctx, lockPath, func() {
		if files.Exists(filePath) {
			// Another process (or goroutine) installed it while we waited for the lock.
			return
		}
		tmpPath := filePath + ".installing"
		mainErr = copyFile(srcPath, tmpPath)
		if mainErr != nil {
			if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
				klog.Warningf("failed removing temporary file %q: %v", tmpPath, err)
			}
			return
		}
		if err := os.Rename(tmpPath, filePath); err != nil {
			mainErr = errors.Wrapf(err, "failed to move installed file %q to %q", tmpPath, filePath)
			return
		}
		// The file exists now, so the lock is no longer needed.
		if err := os.Remove(lockPath); err != nil {
			klog.Warningf("error removing lock file %q: %v", lockPath, err)
		}
	})
	if mainErr != nil {
		return mainErr
	}
	if errLock != nil {
		return errors.WithMessagef(errLock, "while locking %q to install %q", lockPath, srcPath)
	}
	return nil
}

// copyFile copies srcPath to dstPath, creating or truncating dstPath.
func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q", srcPath)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(dstPath)
	if err != nil {
		return errors.Wrapf(err, "creating temporary file %q", dstPath)
	}
	if _, err = io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return errors.Wrapf(err, "copying %q to %q", srcPath, dstPath)
	}
	if err = dst.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %q", dstPath)
	}
	return nil
}

// execOnFileLock opens the lockPath file (or creates it if it doesn't yet exist), locks it, and executes fn.
// If lockPath is already locked, it polls every lockPollPeriod (plus jitter) until it acquires the lock or
// ctx is done.
//
// The lockPath is not removed. It's safe to remove it from fn, if one knows that no new calls to
// execOnFileLock with the same lockPath are going to be made.
func execOnFileLock(ctx context.Context, lockPath string, fn func()) (err error) {
	fileLock := flock.New(lockPath)
	for {
		locked, err := fileLock.TryLock()
		if err != nil {
			return errors.Wrapf(err, "while trying to lock %q", lockPath)
		}
		if locked {
			break
		}
		klog.V(1).Infof("waiting for lock %q", lockPath)
		wait := lockPollPeriod + time.Duration(rand.Int63n(int64(lockPollPeriod)+1))
		select {
		case <-ctx.Done():
			return errors.WithMessagef(ctx.Err(), "waiting for lock %q", lockPath)
		case <-time.After(wait):
		}
	}

	// Unlock even if fn panics.
	defer func() {
		unlockErr := fileLock.Unlock()
		if unlockErr != nil {
			if err == nil {
				err = errors.Wrapf(unlockErr, "unlocking file %q", lockPath)
			} else {
				klog.Errorf("error unlocking file %q: %v", lockPath, unlockErr)
			}
		}
	}()
	fn()
	return
}
