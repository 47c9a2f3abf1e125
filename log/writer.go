package log

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	easy "github.com/t-tomalak/logrus-easy-formatter"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig describes a rotated log file.
type FileConfig struct {
	Dir        string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

var (
	writersMu sync.Mutex
	writers   = make(map[string]*lumberjack.Logger)
)

// NewFileWriter returns the lumberjack writer for name inside cfg.Dir. There
// is one writer per file: later calls for the same file get the first one.
// Writers are closed together by CloseLogWriters.
func NewFileWriter(cfg FileConfig, name string) io.Writer {
	dir := cfg.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	filename := filepath.Join(dir, name)

	writersMu.Lock()
	defer writersMu.Unlock()
	if w, ok := writers[filename]; ok {
		return w
	}
	w := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    orDefault(cfg.MaxSize, 100),
		MaxBackups: orDefault(cfg.MaxBackups, 10),
		MaxAge:     orDefault(cfg.MaxAge, 30),
		Compress:   cfg.Compress,
	}
	writers[filename] = w
	return w
}

// UseFile sends the standard logger to name inside cfg.Dir. When tee is true
// console output is kept as well.
func UseFile(cfg FileConfig, name string, tee bool) {
	fw := NewFileWriter(cfg, name)
	SetLogFormatter(&easy.Formatter{
		TimestampFormat: "2006-01-02 15:04:05",
		LogFormat:       "[%time%][%lvl%]: %msg%\n",
	})
	if tee {
		SetOutput(io.MultiWriter(os.Stderr, fw))
		return
	}
	SetOutput(fw)
}

func CloseLogWriters() {
	writersMu.Lock()
	defer writersMu.Unlock()
	for name, w := range writers {
		w.Close()
		delete(writers, name)
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
