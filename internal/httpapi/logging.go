package httpapi

import (
	"bytes"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// zlog is an optional structured logger. If unset, falls back to log.Printf.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

// loggingLineWriter logs complete NDJSON lines of a response.
type loggingLineWriter struct {
	rid string
	buf []byte
}

func (lw *loggingLineWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx < 0 {
			break
		}
		if idx > 0 {
			line := string(lw.buf[:idx])
			if zlog != nil {
				zlog.Debug().Str("request_id", lw.rid).RawJSON("line", lw.buf[:idx]).Msg("generate>")
			} else {
				log.Printf("generate> %s", line)
			}
		}
		lw.buf = lw.buf[idx+1:]
	}
	return len(p), nil
}

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

// parseLevel maps zerolog-style names onto the request levels. Unknown
// names log at info.
func parseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "disabled", "":
		return LevelOff
	case "error", "warn", "warning", "fatal", "panic":
		return LevelError
	case "debug", "trace":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// defaultLogLevel is read once from BATCHGEN_LOG_LEVEL.
var defaultLogLevel = parseLevel(os.Getenv("BATCHGEN_LOG_LEVEL"))

// SetDefaultLogLevel overrides the level used when a request sets none.
func SetDefaultLogLevel(s string) { defaultLogLevel = parseLevel(s) }

func requestLogLevel(r *http.Request) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// logEnd records the outcome of a request at the level it asked for.
func logEnd(r *http.Request, lvl LogLevel, rid string, status int, dur float64, err error) {
	if lvl == LevelOff || (lvl == LevelError && err == nil) {
		return
	}
	if zlog == nil {
		log.Printf("generate end request_id=%s status=%d dur=%.3fs err=%v", rid, status, dur, err)
		return
	}
	ev, msg := zlog.Info(), "generate end"
	switch {
	case status == http.StatusGatewayTimeout:
		ev, msg = zlog.Warn().Err(err).Dur("timeout", generateTimeout), "generate timeout"
	case err != nil:
		ev = zlog.Error().Err(err)
	}
	ev.Str("path", r.URL.Path).Str("request_id", rid).Int("status", status).Float64("dur_s", dur).Msg(msg)
}
