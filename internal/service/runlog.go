package service

import (
	"fmt"
	"io"
	"os"
	"time"
)

const logStamp = "2006-01-02 15:04:05"

// runLog is the append-only text sink for a run: one line for the run
// start, one per failed fetch, one per alert.
type runLog struct {
	w io.Writer
	c io.Closer
}

// openRunLog opens the log file in append mode. An empty path discards
// log lines, which keeps dry runs and tests quiet.
func openRunLog(path string) (*runLog, error) {
	if path == "" {
		return &runLog{w: io.Discard}, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", path, err)
	}
	return &runLog{w: f, c: f}, nil
}

func (l *runLog) Close() error {
	if l.c == nil {
		return nil
	}
	return l.c.Close()
}

func (l *runLog) Infof(now time.Time, format string, args ...any) {
	l.line("INFO", now, format, args...)
}

func (l *runLog) Errorf(now time.Time, format string, args ...any) {
	l.line("ERROR", now, format, args...)
}

func (l *runLog) Alertf(now time.Time, format string, args ...any) {
	l.line("ALERT", now, format, args...)
}

func (l *runLog) line(level string, now time.Time, format string, args ...any) {
	fmt.Fprintf(l.w, "[%s] %s %s\n", level, now.UTC().Format(logStamp), fmt.Sprintf(format, args...))
}
