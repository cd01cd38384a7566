//go:build !windows

package util

import (
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
)

// checkOwnership compares uid and gid of two stats and describes the
// first difference.
func checkOwnership(srcStat, destStat os.FileInfo, destPath string) (bool, string) {
	srcSys, ok1 := srcStat.Sys().(*syscall.Stat_t)
	destSys, ok2 := destStat.Sys().(*syscall.Stat_t)
	if !ok1 || !ok2 {
		return false, ""
	}
	if destSys.Uid != srcSys.Uid {
		return true, fmt.Sprintf("%s has UID %d should be %d", destPath, destSys.Uid, srcSys.Uid)
	}
	if destSys.Gid != srcSys.Gid {
		return true, fmt.Sprintf("%s has GID %d should be %d", destPath, destSys.Gid, srcSys.Gid)
	}
	return false, ""
}

// ErrFileNotFound is returned by FileStat for a missing file.
var ErrFileNotFound = errors.New("file not found")

// FileStat returns ownership, mode and checksum of the named file.
func FileStat(name string) (FileInfo, error) {
	var fi FileInfo
	f, err := os.Open(name)
	if os.IsNotExist(err) {
		return fi, fmt.Errorf("%s: %w", name, ErrFileNotFound)
	}
	if err != nil {
		return fi, err
	}
	defer f.Close()

	stats, err := f.Stat()
	if err != nil {
		return fi, err
	}
	if sys, ok := stats.Sys().(*syscall.Stat_t); ok {
		fi.Uid = sys.Uid
		fi.Gid = sys.Gid
	}
	fi.Mode = stats.Mode()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return fi, err
	}
	fi.Md5 = fmt.Sprintf("%x", h.Sum(nil))
	return fi, nil
}
