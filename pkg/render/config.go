// Package render writes the key/value pairs of a source to a properties
// file in sorted key order, replacing the file only when its content,
// mode or owner changed.
package render

import (
	"fmt"
	"io"
	"time"

	"github.com/abtreece/propsort/pkg/sources"
)

// KeyStyle selects how source keys become property keys.
type KeyStyle string

const (
	// KeyStylePath keeps slash paths: /db/host.
	KeyStylePath KeyStyle = "path"
	// KeyStyleDotted joins path segments with dots: db.host.
	KeyStyleDotted KeyStyle = "dotted"
)

// ParseKeyStyle validates s. An empty string selects KeyStyleDotted.
func ParseKeyStyle(s string) (KeyStyle, error) {
	switch KeyStyle(s) {
	case "", KeyStyleDotted:
		return KeyStyleDotted, nil
	case KeyStylePath:
		return KeyStylePath, nil
	}
	return "", fmt.Errorf("invalid key style %q (valid: path, dotted)", s)
}

// StdoutDest as Dest writes properties to Config.Stdout instead of a file.
const StdoutDest = "-"

// Config describes one rendered properties file.
type Config struct {
	Source sources.Source
	// Prefix is prepended to every key and stripped from the results.
	Prefix string
	Keys   []string

	KeyStyle      KeyStyle
	Dest          string
	Comment       string
	Timestamp     bool
	EscapeUnicode bool

	// Mode is an octal file mode such as "0640". Empty keeps the mode of
	// an existing Dest, or 0644 for a new one.
	Mode string
	// Uid and Gid own the written file. -1 selects the current user.
	Uid int
	Gid int

	Noop          bool
	ShowDiff      bool
	DiffContext   int
	ColorDiff     bool
	KeepStageFile bool

	// Stdout receives StdoutDest output and diffs. Defaults to os.Stdout.
	Stdout io.Writer
	// Now stamps the timestamp comment. Defaults to time.Now.
	Now func() time.Time
}
