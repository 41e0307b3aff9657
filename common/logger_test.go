package common

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("LogLevel.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input  string
		want   LogLevel
		wantOK bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"", LevelInfo, true},
		{"warning", LevelWarn, true},
		{" error ", LevelError, true},
		{"loud", LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseLogLevel(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseLogLevel(%q) = %v, %v, want %v, %v", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestAppLogger_LogFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newAppLogger(LevelWarn, &buf)

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() > 0 {
		t.Error("Debug/Info messages should be filtered when level is Warn")
	}

	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "WARN") {
		t.Error("Warn message should be logged")
	}

	buf.Reset()
	logger.SetLevel(LevelError)
	logger.Warn("dropped")
	logger.Error("error message")
	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("after SetLevel(Error) got %q", buf.String())
	}
}

func TestAppLogger_LogFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := newAppLogger(LevelDebug, &buf)

	logger.Info("Tunnel status %s", "connected")
	output := buf.String()

	if !strings.Contains(output, time.Now().Format("2006/01/02")) {
		t.Error("Log should contain date in YYYY/MM/DD format")
	}
	if !strings.Contains(output, "[INFO]") {
		t.Error("Log should contain level indicator")
	}
	if !strings.Contains(output, "logger_test.go") {
		t.Errorf("Log should name the calling file, got %q", output)
	}
	if !strings.Contains(output, "Tunnel status connected") {
		t.Error("Log should contain formatted message")
	}
}

func TestAppLogger_Tagged(t *testing.T) {
	var buf bytes.Buffer
	logger := newAppLogger(LevelInfo, &buf)

	logger.Tagged(LevelWarn, TagTunnelIntent, errors.New("disk full"))

	if got := buf.String(); !strings.Contains(got, "["+TagTunnelIntent+"] disk full") || !strings.Contains(got, "logger_test.go") {
		t.Errorf("Tagged() wrote %q", got)
	}
}

func TestAppLogger_SetOutputNil(t *testing.T) {
	var buf bytes.Buffer
	logger := newAppLogger(LevelInfo, &buf)

	logger.SetOutput(nil)
	logger.Info("silent")

	if buf.Len() != 0 {
		t.Errorf("console should be silenced, got %q", buf.String())
	}
}

func TestEnableFileLogging(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var console bytes.Buffer
	logger := newAppLogger(LevelInfo, &console)

	if err := logger.EnableFileLogging(dir); err != nil {
		t.Fatalf("EnableFileLogging() error = %v", err)
	}
	defer logger.Close()

	logger.Info("written to file")

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Error("log file should contain the message")
	}
	if !strings.Contains(console.String(), "written to file") {
		t.Error("console should still receive the message")
	}
	if logger.FilePath() != filepath.Join(dir, LogFileName) {
		t.Errorf("FilePath() = %v", logger.FilePath())
	}
}

func TestEnableFileLogging_RejectsSymlink(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "real")
	link := filepath.Join(base, "link")
	if err := os.Mkdir(target, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Skip("symlinks unsupported:", err)
	}

	logger := newAppLogger(LevelInfo, io.Discard)
	if err := logger.EnableFileLogging(link); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("EnableFileLogging(symlink) error = %v, want %v", err, ErrPermissionDenied)
	}
}

func TestRotatingFile_RotatesOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")

	r, err := openRotatingFile(path, 64, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	line := []byte(strings.Repeat("x", 40) + "\n")
	for i := 0; i < 5; i++ {
		if _, err := r.Write(line); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(len(line)) {
		t.Errorf("current file size = %d, want %d", info.Size(), len(line))
	}

	matches, _ := filepath.Glob(path + ".*.gz")
	if len(matches) != 2 {
		t.Fatalf("backups = %v, want 2 kept", matches)
	}

	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, line) {
		t.Errorf("backup content = %q", data)
	}
}

func TestOpenRotatingFile_ArchivesOversized(t *testing.T) {
	tempDir := t.TempDir()
	logFile := filepath.Join(tempDir, "test.log")
	if err := os.WriteFile(logFile, []byte(strings.Repeat("x", 1024)), 0600); err != nil {
		t.Fatal(err)
	}

	r, err := openRotatingFile(logFile, 512, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if r.size != 0 {
		t.Errorf("size after archive = %d, want 0", r.size)
	}
	matches, _ := filepath.Glob(filepath.Join(tempDir, "test.log.*"))
	if len(matches) != 1 {
		t.Errorf("backups = %v, want 1", matches)
	}
}

func TestGetConfigDir(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)

	dir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if dir != filepath.Join(base, ConfigDirName) {
		t.Errorf("GetConfigDir() = %v, want under %v", dir, base)
	}
	if !FileExists(dir) {
		t.Error("GetConfigDir() should create the directory")
	}
}

func TestGetDataDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("HOME", home)

	dir, err := GetDataDir()
	if err != nil {
		t.Fatalf("GetDataDir() error = %v", err)
	}
	if dir != filepath.Join(home, ".local", "share", ConfigDirName) {
		t.Errorf("GetDataDir() = %v", dir)
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got := ExpandHome("~/client.ovpn"); got != filepath.Join(home, "client.ovpn") {
		t.Errorf("ExpandHome() = %v, want path under %v", got, home)
	}
	if got := ExpandHome("/etc/client.ovpn"); got != "/etc/client.ovpn" {
		t.Errorf("ExpandHome() should leave absolute paths alone, got %v", got)
	}
}

func TestGenerateID(t *testing.T) {
	id1 := GenerateID()
	id2 := GenerateID()

	if len(id1) != 36 {
		t.Errorf("GenerateID() length = %v, want 36", len(id1))
	}
	if id1 == id2 {
		t.Error("GenerateID() should return unique IDs")
	}
}

func TestWrapError(t *testing.T) {
	wrapped := WrapError(ErrConnectionFailed, "additional context")

	if wrapped.Error() != "additional context: "+ErrConnectionFailed.Error() {
		t.Errorf("WrapError() = %q", wrapped.Error())
	}
	if !errors.Is(wrapped, ErrConnectionFailed) {
		t.Error("WrapError should unwrap to the original error")
	}
	if WrapError(nil, "context") != nil {
		t.Error("WrapError(nil) should return nil")
	}
}
