// Package feedback records diagnostic entries that are attached to user
// feedback reports. Entries are JSON lines written with zerolog.
package feedback

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/yllada/vpn-client/common"
	"github.com/yllada/vpn-client/tunnel"
)

// Logger writes feedback entries. It implements common.FeedbackLogger and
// is safe for concurrent use.
type Logger struct {
	mu     sync.Mutex
	zl     zerolog.Logger
	closer io.Closer
	mirror bool
}

var _ common.FeedbackLogger = (*Logger)(nil)

// DefaultPath returns the feedback log in the data directory.
func DefaultPath() (string, error) {
	dir, err := common.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.FeedbackFileName), nil
}

// New creates a logger writing to w. Error entries are also written to the
// application log when mirror is set.
func New(w io.Writer, mirror bool) *Logger {
	return &Logger{
		zl:     zerolog.New(w).With().Timestamp().Logger(),
		mirror: mirror,
	}
}

// Open appends to the feedback log at path.
func Open(path string) (*Logger, error) {
	if err := common.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("failed to create feedback directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open feedback log: %w", err)
	}
	l := New(f, true)
	l.closer = f
	return l, nil
}

// Log records value under tag. It never fails; write errors are dropped.
func (l *Logger) Log(level common.LogLevel, tag string, value any) {
	l.mu.Lock()
	ev := l.zl.WithLevel(zerologLevel(level)).
		Str("tag", tag).
		Str("id", common.GenerateID())
	addValue(ev, value).Send()
	l.mu.Unlock()

	if l.mirror && level >= common.LevelError {
		common.LogError("[%s] %v", tag, value)
	}
}

// Close closes the underlying file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func addValue(ev *zerolog.Event, value any) *zerolog.Event {
	switch v := value.(type) {
	case nil:
		return ev
	case zerolog.LogObjectMarshaler:
		return ev.Object("value", v)
	case tunnel.ErrorEvent:
		d := zerolog.Dict().Str("id", v.ID).Time("date", v.Date)
		if v.Err != nil {
			d = d.Str("error", v.Err.Error())
		}
		return ev.Dict("value", d)
	case error:
		return ev.Str("value", v.Error())
	case fmt.Stringer:
		return ev.Str("value", v.String())
	case string:
		return ev.Str("value", v)
	default:
		return ev.Interface("value", v)
	}
}

func zerologLevel(level common.LogLevel) zerolog.Level {
	switch level {
	case common.LevelDebug:
		return zerolog.DebugLevel
	case common.LevelInfo:
		return zerolog.InfoLevel
	case common.LevelWarn:
		return zerolog.WarnLevel
	case common.LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.NoLevel
	}
}

// Entry is one parsed feedback line.
type Entry struct {
	Time  time.Time
	Level string
	Tag   string
	ID    string
	// Value is the raw JSON of the logged value.
	Value string
}

// Tail returns the last n entries of the feedback log at path. Lines that
// are not JSON objects are skipped.
func Tail(path string, n int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !gjson.Valid(line) {
			continue
		}
		fields := gjson.GetMany(line, zerolog.TimestampFieldName, zerolog.LevelFieldName, "tag", "id", "value")
		entry := Entry{
			Level: fields[1].String(),
			Tag:   fields[2].String(),
			ID:    fields[3].String(),
			Value: fields[4].Raw,
		}
		if ts, err := time.Parse(time.RFC3339, fields[0].String()); err == nil {
			entry.Time = ts
		}
		entries = append(entries, entry)
		if n > 0 && len(entries) > n {
			entries = entries[1:]
		}
	}
	return entries, scanner.Err()
}
