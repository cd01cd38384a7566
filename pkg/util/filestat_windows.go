//go:build windows

package util

import (
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"os"
)

func checkOwnership(_, _ os.FileInfo, _ string) (bool, string) {
	return false, ""
}

// ErrFileNotFound is returned by FileStat for a missing file.
var ErrFileNotFound = errors.New("file not found")

// FileStat returns mode and checksum of the named file. Ownership is
// always zero on Windows.
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
	fi.Mode = stats.Mode()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return fi, err
	}
	fi.Md5 = fmt.Sprintf("%x", h.Sum(nil))
	return fi, nil
}
