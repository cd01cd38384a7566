package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/abtreece/propsort/pkg/log"
	"github.com/abtreece/propsort/pkg/util"
)

// stager writes candidate content next to the destination and moves it
// into place.
type stager struct {
	uid, gid      int
	keepStageFile bool
}

// create writes content to a hidden temp file in dest's directory, so the
// final rename never crosses filesystems.
func (s *stager) create(dest string, content []byte, mode os.FileMode) (string, error) {
	temp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest))
	if err != nil {
		return "", fmt.Errorf("failed to create stage file: %w", err)
	}
	name := temp.Name()
	fail := func(err error) (string, error) {
		temp.Close()
		os.Remove(name)
		return "", err
	}
	if _, err := temp.Write(content); err != nil {
		return fail(fmt.Errorf("failed to write stage file: %w", err))
	}
	if err := s.applyPermissions(name, mode); err != nil {
		return fail(err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("failed to close stage file: %w", err)
	}
	log.With("dest_path", dest, "stage_path", name).DebugContext(context.Background(),
		"Stage file created", "content_size_bytes", len(content))
	return name, nil
}

func (s *stager) applyPermissions(name string, mode os.FileMode) error {
	if err := os.Chmod(name, mode); err != nil {
		return fmt.Errorf("failed to chmod stage file: %w", err)
	}
	if runtime.GOOS == "windows" {
		return nil
	}
	if err := os.Chown(name, s.uid, s.gid); err != nil {
		return fmt.Errorf("failed to chown stage file: %w", err)
	}
	return nil
}

// discard removes a stage file that will not be synced.
func (s *stager) discard(stage string) {
	if s.keepStageFile {
		return
	}
	if err := os.Remove(stage); err != nil && !os.IsNotExist(err) {
		log.Warning("Failed to remove stage file %s: %v", stage, err)
	}
}

// sync replaces dest with stage. The rename is atomic; when it is refused
// because dest is a mount point, the content is written in place instead.
func (s *stager) sync(stage, dest string, mode os.FileMode) error {
	start := time.Now()
	logger := log.With("stage_path", stage, "dest_path", dest)

	if s.keepStageFile {
		if err := s.writeInPlace(stage, dest, mode); err != nil {
			return err
		}
		logger.DebugContext(context.Background(), "File sync completed (copy mode)",
			"duration_ms", time.Since(start).Milliseconds())
		return nil
	}

	defer os.Remove(stage)
	err := os.Rename(stage, dest)
	if err == nil {
		logger.DebugContext(context.Background(), "File sync completed (atomic rename)",
			"duration_ms", time.Since(start).Milliseconds())
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) && !strings.Contains(err.Error(), "device or resource busy") {
		return fmt.Errorf("failed to rename stage file: %w", err)
	}
	if err := s.writeInPlace(stage, dest, mode); err != nil {
		return err
	}
	logger.DebugContext(context.Background(), "File sync completed (write fallback)",
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *stager) writeInPlace(stage, dest string, mode os.FileMode) error {
	contents, err := os.ReadFile(stage)
	if err != nil {
		return fmt.Errorf("failed to read stage file: %w", err)
	}
	if err := os.WriteFile(dest, contents, mode); err != nil {
		return fmt.Errorf("failed to write destination file: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := s.applyPermissions(dest, mode); err != nil {
		return err
	}
	return nil
}

// changed reports whether stage differs from dest in size, mode, owner
// or content.
func (s *stager) changed(stage, dest string) (bool, error) {
	return util.IsConfigChanged(stage, dest)
}
