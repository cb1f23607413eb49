package observe

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// NewLogHandler builds the process log handler. format is "text" or "json";
// level is one of debug, info, warn, error. When lv is non-nil it is set to
// level and controls the handler, so the level can be changed at runtime.
func NewLogHandler(w io.Writer, level, format string, lv *slog.LevelVar) (slog.Handler, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("observe: log level %q: %w", level, err)
	}
	if lv == nil {
		lv = new(slog.LevelVar)
	}
	lv.Set(lvl)
	opts := &slog.HandlerOptions{Level: lv}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("observe: unknown log format %q", format)
	}
}
