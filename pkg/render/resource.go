package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/abtreece/propsort/pkg/log"
	"github.com/abtreece/propsort/pkg/metrics"
	"github.com/abtreece/propsort/pkg/properties"
	"github.com/abtreece/propsort/pkg/propfile"
	"github.com/abtreece/propsort/pkg/util"
)

// Resource renders one properties file from one source.
type Resource struct {
	config Config
	keys   []string
	stage  *stager

	// mu serializes syncs; a reload may race a watch-triggered sync.
	mu sync.Mutex
}

// NewResource validates config and fills in its defaults.
func NewResource(config Config) (*Resource, error) {
	if config.Source == nil {
		return nil, errors.New("render: no source configured")
	}
	if config.Dest == "" {
		return nil, errors.New("render: no destination configured")
	}
	style, err := ParseKeyStyle(string(config.KeyStyle))
	if err != nil {
		return nil, err
	}
	config.KeyStyle = style
	if config.Mode != "" {
		if _, err := parseMode(config.Mode); err != nil {
			return nil, err
		}
	}
	if len(config.Keys) == 0 {
		config.Keys = []string{"/"}
	}
	if config.Uid == -1 {
		config.Uid = os.Geteuid()
	}
	if config.Gid == -1 {
		config.Gid = os.Getegid()
	}
	if config.Stdout == nil {
		config.Stdout = os.Stdout
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Resource{
		config: config,
		keys:   util.AppendPrefix(config.Prefix, config.Keys),
		stage: &stager{
			uid:           config.Uid,
			gid:           config.Gid,
			keepStageFile: config.KeepStageFile,
		},
	}, nil
}

// Dest returns the destination path.
func (r *Resource) Dest() string {
	return r.config.Dest
}

// WatchKeys returns the prefixed keys read from the source.
func (r *Resource) WatchKeys() []string {
	return slices.Clone(r.keys)
}

func parseMode(s string) (os.FileMode, error) {
	mode, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid file mode %q: %w", s, err)
	}
	return os.FileMode(mode), nil
}

// propertyKey maps a source key to its property key. Keys under the
// prefix lose it; others are kept whole.
func (r *Resource) propertyKey(key string) string {
	if prefix := path.Join("/", r.config.Prefix); prefix != "/" {
		if key == prefix {
			key = "/"
		} else if rest, ok := strings.CutPrefix(key, prefix+"/"); ok {
			key = "/" + rest
		}
	}
	if r.config.KeyStyle == KeyStylePath {
		return key
	}
	return strings.ReplaceAll(strings.Trim(key, "/"), "/", ".")
}

// Properties fetches the source values and maps them to property keys.
// Source keys are applied in sorted order, so when two source keys map to
// the same property key the later one in that order wins.
func (r *Resource) Properties(ctx context.Context) (*properties.Sorted, error) {
	values, err := r.config.Source.GetValues(ctx, r.keys)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch values: %w", err)
	}
	props := properties.NewSorted()
	for _, k := range slices.Sorted(maps.Keys(values)) {
		key := r.propertyKey(k)
		if key == "" {
			log.Warning("Skipping source key %s: it maps to an empty property key", k)
			continue
		}
		if props.Exists(key) {
			log.Warning("Source key %s overwrites property %s", k, key)
		}
		props.Set(key, values[k])
	}
	return props, nil
}

// Render encodes props with the configured header options.
func (r *Resource) Render(props *properties.Sorted) ([]byte, error) {
	opts := []propfile.Option{
		propfile.WithComment(r.config.Comment),
		propfile.WithEscapeUnicode(r.config.EscapeUnicode),
	}
	if r.config.Timestamp {
		opts = append(opts, propfile.WithTimestamp(r.config.Now))
	}
	return propfile.Marshal(props, opts...)
}

// Sync fetches, renders and, when it changed, replaces the destination.
func (r *Resource) Sync(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	status, n, err := r.sync(ctx)
	if err != nil {
		status = metrics.StatusError
	} else {
		metrics.SetPropertiesWritten(r.config.Dest, n)
	}
	metrics.RecordSync(r.config.Dest, status, time.Since(start).Seconds())
	log.With("dest", r.config.Dest).DebugContext(ctx, "Sync finished",
		"status", status,
		"properties", n,
		"duration_ms", time.Since(start).Milliseconds())
	return err
}

func (r *Resource) sync(ctx context.Context) (string, int, error) {
	props, err := r.Properties(ctx)
	if err != nil {
		return "", 0, err
	}
	content, err := r.Render(props)
	if err != nil {
		return "", 0, err
	}

	if r.config.Dest == StdoutDest {
		if _, err := r.config.Stdout.Write(content); err != nil {
			return "", 0, fmt.Errorf("failed to write properties: %w", err)
		}
		return metrics.StatusUpdated, props.Len(), nil
	}

	mode, err := r.fileMode()
	if err != nil {
		return "", 0, err
	}
	stage, err := r.stage.create(r.config.Dest, content, mode)
	if err != nil {
		return "", 0, err
	}

	changed, err := r.stage.changed(stage, r.config.Dest)
	if err != nil {
		r.stage.discard(stage)
		return "", 0, err
	}
	if changed && r.config.ShowDiff {
		if err := r.showDiff(stage); err != nil {
			log.Error("Failed to generate diff: %v", err)
		}
	}

	switch {
	case r.config.Noop:
		log.Warning("Noop mode enabled. %s will not be modified", r.config.Dest)
		r.stage.discard(stage)
		return metrics.StatusNoop, props.Len(), nil
	case !changed:
		log.Debug("Target %s in sync", r.config.Dest)
		r.stage.discard(stage)
		return metrics.StatusUnchanged, props.Len(), nil
	}

	log.Info("Target %s out of sync", r.config.Dest)
	if err := r.stage.sync(stage, r.config.Dest, mode); err != nil {
		return "", 0, err
	}
	log.Info("Target %s has been updated (%d properties)", r.config.Dest, props.Len())
	return metrics.StatusUpdated, props.Len(), nil
}

// fileMode is Mode when set, else the mode of the existing destination,
// else 0644.
func (r *Resource) fileMode() (os.FileMode, error) {
	if r.config.Mode != "" {
		return parseMode(r.config.Mode)
	}
	fi, err := os.Stat(r.config.Dest)
	if os.IsNotExist(err) {
		return 0o644, nil
	}
	if err != nil {
		return 0, err
	}
	return fi.Mode().Perm(), nil
}

func (r *Resource) showDiff(stage string) error {
	diff, err := util.GenerateDiff(stage, r.config.Dest, r.config.DiffContext)
	if err != nil || diff == "" {
		return err
	}
	if r.config.ColorDiff {
		diff = util.ColorizeDiff(diff)
	}
	_, err = io.WriteString(r.config.Stdout, diff)
	return err
}
