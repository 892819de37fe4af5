package nativelog

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLogDir overrides where the daily log files are written.
const EnvLogDir = "EC_LOG_DIR"

const (
	streamBufDefault = 128
	filePerm         = 0o644
	dirPerm          = 0o755
)

func logDir() string {
	if dir := strings.TrimSpace(os.Getenv(EnvLogDir)); dir != "" {
		return dir
	}

	var candidates []string
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		candidates = append(candidates, filepath.Join(home, ".echocast", "log"))
	}
	candidates = append(candidates, "logs", filepath.Join("tmp", "log"))

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return candidates[0]
}

func dailyName(now time.Time) string {
	return "stdout_" + now.Format("1-2-06") + ".log"
}

// TodayFilePath returns the path of today's log file.
func TodayFilePath(now time.Time) string {
	return filepath.Join(logDir(), dailyName(now))
}

// fileWriter appends to one log file per calendar day and mirrors every
// finished write to the live stream hub. The handle stays open until
// the day rolls over.
type fileWriter struct {
	mu   sync.Mutex
	dir  string
	day  string
	file *os.File
}

func openFileWriter() (*fileWriter, error) {
	dir := logDir()
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, err
	}
	_ = os.Setenv(EnvLogDir, dir)
	return &fileWriter{dir: dir}, nil
}

func (w *fileWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	name := dailyName(time.Now())
	if w.file == nil || name != w.day {
		if w.file != nil {
			_ = w.file.Close()
		}
		f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
		if err != nil {
			w.file = nil
			return 0, err
		}
		w.file = f
		w.day = name
	}

	n, err := w.file.Write(p)
	if n > 0 {
		hub.broadcast(string(p[:n]))
	}
	return n, err
}

func (w *fileWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// hub fans finished log lines out to live subscribers. A subscriber
// that cannot keep up loses frames rather than blocking the writer.
var hub = &logHub{streams: map[int]chan string{}}

type logHub struct {
	mu      sync.RWMutex
	lastID  int
	streams map[int]chan string
}

// Subscribe registers a live log stream and returns its id and channel.
func Subscribe(buffer int) (int, <-chan string) {
	if buffer <= 0 {
		buffer = streamBufDefault
	}
	ch := make(chan string, buffer)

	hub.mu.Lock()
	hub.lastID++
	id := hub.lastID
	hub.streams[id] = ch
	hub.mu.Unlock()

	return id, ch
}

// Unsubscribe drops a live log stream and closes its channel.
func Unsubscribe(id int) {
	hub.mu.Lock()
	ch, ok := hub.streams[id]
	delete(hub.streams, id)
	hub.mu.Unlock()

	if ok {
		close(ch)
	}
}

func (h *logHub) broadcast(line string) {
	if line == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.streams {
		select {
		case ch <- line:
		default:
		}
	}
}

// NewZapLogger builds the process logger: console output teed with the
// daily file writer that feeds the live log stream.
func NewZapLogger() (*zap.Logger, error) {
	writer, err := openFileWriter()
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	enc := zapcore.NewConsoleEncoder(encCfg)

	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	core := zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level),
		zapcore.NewCore(enc, zapcore.AddSync(writer), level),
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	_ = zap.RedirectStdLog(logger)
	return logger, nil
}
