// Package monitor holds the gateway's logging setup: a compact
// [time] [LEVEL] line format with key=value attributes, suited to the
// single-process deployment this service runs as.
package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// gatewayHandler is the slog.Handler behind SetupSlog.
type gatewayHandler struct {
	w     io.Writer
	level slog.Level
	attrs []slog.Attr
}

func (h *gatewayHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *gatewayHandler) Handle(_ context.Context, r slog.Record) error {
	var line strings.Builder

	fmt.Fprintf(&line, "[%s] [%s] %s",
		r.Time.Format("2006-01-02 15:04:05"),
		r.Level,
		r.Message,
	)

	for _, a := range h.attrs {
		writeAttr(&line, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&line, a)
		return true
	})

	line.WriteByte('\n')
	_, err := io.WriteString(h.w, line.String())
	return err
}

func writeAttr(line *strings.Builder, a slog.Attr) {
	line.WriteByte(' ')
	line.WriteString(a.Key)
	line.WriteByte('=')

	val := a.Value.Resolve()
	switch val.Kind() {
	case slog.KindString:
		fmt.Fprintf(line, "%q", val.String())
	case slog.KindTime:
		line.WriteString(val.Time().Format(time.RFC3339))
	default:
		fmt.Fprintf(line, "%v", val.Any())
	}
}

func (h *gatewayHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &gatewayHandler{
		w:     h.w,
		level: h.level,
		attrs: append(h.attrs, attrs...),
	}
}

func (h *gatewayHandler) WithGroup(string) slog.Handler {
	return h
}

// SetupSlog installs the gateway line format as the global slog logger at
// the given minimum level ("debug", "info", "warn", "error").
func SetupSlog(levelStr string) {
	slog.SetDefault(slog.New(&gatewayHandler{
		w:     os.Stderr,
		level: parseLevel(levelStr),
	}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// PrintBanner prints the startup banner.
func PrintBanner() {
	fmt.Println("=== Secure AI-Chat Gateway — PII middleware ===")
}
