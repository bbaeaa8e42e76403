//go:build windows

package hostsfile

import (
	"io/fs"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

func lockFile(path string, create bool) (func(), error) {
	flag := os.O_RDONLY
	if create {
		flag = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, err
	}
	h := windows.Handle(f.Fd())
	// Lock a byte far past EOF; Windows locks are mandatory, and locking
	// real content would block the write that follows.
	ol := &windows.Overlapped{OffsetHigh: 0x7fffffff}
	if err := windows.LockFileEx(h, windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, ol); err != nil {
		_ = f.Close()
		return nil, err
	}
	return func() {
		_ = windows.UnlockFileEx(h, 0, 1, 0, ol)
		_ = f.Close()
	}, nil
}

func cannotCreate(err error) bool {
	return errors.Is(err, fs.ErrPermission)
}
