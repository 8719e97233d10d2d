package forge

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger writes every message twice: a plain human-readable line on the
// console (colored for warnings and errors) and a compact JSON record
// appended to log.json in the build root. Sink write errors are ignored;
// logging must never fail or block a build.
type Logger struct {
	mu   sync.Mutex
	sink io.Writer
}

type logRecord struct {
	Time    int64  `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// newLogger opens (truncating) the JSON sink inside dir. A nil *Logger
// is valid and prints to the console only, which keeps tests simple.
func newLogger(dir string) *Logger {
	f, err := os.Create(filepath.Join(dir, "log.json"))
	if err != nil {
		colWarn.Printf("Cannot open log sink: %v\n", err)
		return &Logger{}
	}
	return &Logger{sink: f}
}

func (l *Logger) emit(level, msg string) {
	if l == nil || l.sink == nil {
		return
	}
	rec := logRecord{
		Time:    time.Now().UnixMilli(),
		Level:   level,
		Message: msg,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink.Write(append(data, '\n'))
}

func (l *Logger) Infof(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(msg)
	l.emit("INFO", msg)
}

func (l *Logger) Warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	colWarn.Println(msg)
	l.emit("WARNING", msg)
}

func (l *Logger) Errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	colError.Println(msg)
	l.emit("ERROR", msg)
}

// Close flushes the JSON sink if it is backed by a file.
func (l *Logger) Close() {
	if l == nil || l.sink == nil {
		return
	}
	if c, ok := l.sink.(io.Closer); ok {
		c.Close()
	}
}
