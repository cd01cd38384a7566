// Package util holds file and flag helpers shared by the sources and the
// renderer.
package util

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/abtreece/propsort/pkg/log"
)

// Nodes is a repeatable flag value holding source node addresses or file
// paths.
type Nodes []string

// String returns the string representation of the list.
func (n *Nodes) String() string {
	return fmt.Sprintf("%s", *n)
}

// Set appends a node to the list.
func (n *Nodes) Set(node string) error {
	*n = append(*n, node)
	return nil
}

// FileInfo describes a rendered file and is returned by FileStat.
type FileInfo struct {
	Uid  uint32
	Gid  uint32
	Mode os.FileMode
	Md5  string
}

// AppendPrefix joins prefix onto each key.
func AppendPrefix(prefix string, keys []string) []string {
	s := make([]string, len(keys))
	for i, k := range keys {
		s[i] = path.Join(prefix, k)
	}
	return s
}

// IsFileExist reports whether fpath exists.
func IsFileExist(fpath string) bool {
	if _, err := os.Stat(fpath); os.IsNotExist(err) {
		return false
	}
	return true
}

// IsConfigChanged reports whether dest differs from the staged file src
// in content, mode or ownership. A missing dest counts as changed.
//
// Metadata is compared first; checksums are only computed when size,
// mode and owner all match.
func IsConfigChanged(src, dest string) (bool, error) {
	destStat, err := os.Stat(dest)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	srcStat, err := os.Stat(src)
	if err != nil {
		return false, err
	}

	if destStat.Size() != srcStat.Size() {
		log.Info("%s has size %d should be %d", dest, destStat.Size(), srcStat.Size())
		return true, nil
	}
	if destStat.Mode() != srcStat.Mode() {
		log.Info("%s has mode %s should be %s", dest, destStat.Mode(), srcStat.Mode())
		return true, nil
	}
	if changed, reason := checkOwnership(srcStat, destStat, dest); changed {
		log.Info("%s", reason)
		return true, nil
	}

	srcMD5, err := computeMD5(src)
	if err != nil {
		return false, err
	}
	destMD5, err := computeMD5(dest)
	if err != nil {
		return false, err
	}
	if srcMD5 != destMD5 {
		log.Info("%s has md5sum %s should be %s", dest, destMD5, srcMD5)
		return true, nil
	}
	return false, nil
}

// computeMD5 returns the hex MD5 of a file. It only detects accidental
// change.
func computeMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// IsDirectory reports whether path names a directory.
func IsDirectory(path string) (bool, error) {
	f, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return f.Mode().IsDir(), nil
}

// RecursiveFilesLookup returns every file below root whose base name
// matches pattern. A root that is itself a file is returned as is.
func RecursiveFilesLookup(root string, pattern string) ([]string, error) {
	return recursiveLookup(root, pattern, false)
}

// RecursiveDirsLookup returns every directory below root, root included,
// whose base name matches pattern.
func RecursiveDirsLookup(root string, pattern string) ([]string, error) {
	return recursiveLookup(root, pattern, true)
}

func recursiveLookup(root string, pattern string, dirsLookup bool) ([]string, error) {
	root, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, err
	}
	isDir, err := IsDirectory(root)
	if err != nil {
		return nil, err
	}
	if !isDir {
		if dirsLookup {
			return nil, nil
		}
		return []string{root}, nil
	}

	var result []string
	err = filepath.Walk(root, func(p string, f os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		match, err := filepath.Match(pattern, f.Name())
		if err != nil || !match {
			return err
		}
		resolved, err := filepath.EvalSymlinks(p)
		if err != nil {
			return err
		}
		isDir, err := IsDirectory(resolved)
		if err != nil {
			return err
		}
		if isDir == dirsLookup {
			result = append(result, resolved)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
