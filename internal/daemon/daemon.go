// Package daemon discovers pod log files and tails them into a producer,
// one tail goroutine per file.
package daemon

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"

	"github.com/Chichichkin/LogProducer/internal/logging"
)

type Config struct {
	LogRootPath  string
	ScanInterval time.Duration
	NodeName     string
	// MaxFiles caps the number of files tailed at once. 0 means no cap.
	MaxFiles int
	// If > 0, stop tailing a file after this period without new lines.
	// The read offset is kept and tailing resumes there on a later scan.
	// Files seen for the first time are read from their current end.
	FileIdleTimeout time.Duration
	ReportInterval  time.Duration
}

type Service struct {
	config   Config
	producer logging.Producer
	logger   *zap.Logger
	metrics  *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	active  map[string]struct{}
	offsets map[string]int64
	seen    map[string]struct{}
}

func NewService(ctx context.Context, config Config, producer logging.Producer, logger *zap.Logger) *Service {
	if config.ScanInterval <= 0 {
		config.ScanInterval = 30 * time.Second
	}
	if config.ReportInterval <= 0 {
		config.ReportInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	nCtx, cancel := context.WithCancel(ctx)

	return &Service{
		config:   config,
		producer: producer,
		logger:   logger,
		metrics:  &Metrics{},
		ctx:      nCtx,
		cancel:   cancel,
		active:   make(map[string]struct{}),
		offsets:  make(map[string]int64),
		seen:     make(map[string]struct{}),
	}
}

func (s *Service) Start() {
	s.logger.Info("starting log daemon",
		zap.String("root", s.config.LogRootPath),
		zap.Duration("scan_interval", s.config.ScanInterval),
		zap.Int("max_files", s.config.MaxFiles))

	s.scanFiles()

	s.wg.Add(2)
	go s.scanner()
	go s.reporter()
}

// Stop cancels every tail and waits for them to exit. Lines already handed
// to the producer stay there; closing the producer is up to the caller.
func (s *Service) Stop() {
	s.logger.Info("stopping log daemon")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("log daemon stopped", zap.Any("metrics", s.metrics.Snapshot()))
}

func (s *Service) Metrics() MetricsSnapshot {
	return s.metrics.Snapshot()
}

func (s *Service) scanner() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.scanFiles()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) reporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m := s.metrics.Snapshot()
			s.logger.Info("daemon metrics",
				zap.Int64("files_discovered", m.FilesDiscovered),
				zap.Int64("files_active", m.FilesActive),
				zap.Int64("files_failed", m.FilesFailed),
				zap.Int64("lines_read", m.LinesRead),
				zap.Int64("lines_dropped", m.LinesDropped))
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) scanFiles() {
	files, err := s.discoverLogFiles()
	if err != nil {
		s.logger.Warn("error discovering log files", zap.Error(err))
		return
	}

	for _, file := range files {
		if s.ctx.Err() != nil {
			return
		}
		s.startTail(file)
	}
}

// startTail launches a tail for path unless one is running or the cap is hit.
func (s *Service) startTail(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[path]; !ok {
		s.seen[path] = struct{}{}
		s.metrics.FilesDiscovered.Add(1)
	}
	if _, ok := s.active[path]; ok {
		return false
	}
	if s.config.MaxFiles > 0 && len(s.active) >= s.config.MaxFiles {
		s.logger.Debug("tail limit reached, deferring file",
			zap.String("file", path), zap.Int("active", len(s.active)))
		return false
	}

	saved, known := s.offsets[path]
	offset := startOffset(path, saved, known)

	s.active[path] = struct{}{}
	s.metrics.FilesActive.Add(1)
	s.wg.Add(1)
	go s.tailFile(path, offset)
	return true
}

// startOffset picks where a tail begins: the end of a file seen for the
// first time, the saved offset otherwise, or 0 if the file shrank below it.
func startOffset(path string, saved int64, known bool) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return saved
	}
	if !known {
		return info.Size()
	}
	if saved > info.Size() {
		return 0
	}
	return saved
}

func (s *Service) release(path string, offset int64, save bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, path)
	if save {
		s.offsets[path] = offset
	}
	s.metrics.FilesActive.Add(-1)
}

// tailFile follows path from offset. The offset is advanced by every line
// consumed, so it is known without asking the tail goroutine.
func (s *Service) tailFile(path string, offset int64) {
	defer s.wg.Done()

	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     true,
		Location: &tail.SeekInfo{Offset: offset, Whence: io.SeekStart},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		s.logger.Warn("failed to tail file", zap.String("file", path), zap.Error(err))
		s.metrics.FilesFailed.Add(1)
		s.release(path, 0, false)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tail panicked", zap.String("file", path), zap.Any("panic", r))
			s.metrics.FilesFailed.Add(1)
		}
		_ = t.Stop()
		t.Cleanup()
		s.release(path, offset, true)
	}()

	labels := s.extractLabels(path)
	checkTicker := time.NewTicker(idleCheckInterval(s.config.FileIdleTimeout))
	defer checkTicker.Stop()

	lastActivity := time.Now()

	for {
		select {
		case line, ok := <-t.Lines:
			if !ok {
				return
			}
			if line == nil {
				continue
			}
			if line.Err != nil {
				s.logger.Warn("error reading file", zap.String("file", path), zap.Error(line.Err))
				continue
			}

			offset += int64(len(line.Text)) + 1
			s.metrics.LinesRead.Add(1)
			if !s.producer.SendAt(s.fields(labels, line.Text), line.Time.UnixMicro()) {
				s.metrics.LinesDropped.Add(1)
			}
			lastActivity = time.Now()

		case <-checkTicker.C:
			// wake up from blocking line reads to check the idle timeout
			if s.config.FileIdleTimeout > 0 && time.Since(lastActivity) > s.config.FileIdleTimeout {
				s.logger.Debug("file idle, releasing tail", zap.String("file", path))
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) fields(labels map[string]string, text string) map[string]string {
	fields := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		fields[k] = v
	}
	fields["Msg"] = text
	return fields
}

func (s *Service) discoverLogFiles() ([]string, error) {
	var logFiles []string

	err := filepath.Walk(s.config.LogRootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			s.logger.Debug("error accessing path", zap.String("path", path), zap.Error(err))
			return nil
		}

		if !info.IsDir() && strings.HasSuffix(info.Name(), ".log") {
			logFiles = append(logFiles, path)
		}
		return nil
	})

	return logFiles, err
}

func idleCheckInterval(idle time.Duration) time.Duration {
	if idle > 0 && idle < time.Second {
		return idle
	}
	return time.Second
}

// extractLabels reads namespace, pod and container from the kubelet layout
// <root>/<namespace>_<pod>_<uid>/<container>/<n>.log, relative to LogRootPath.
func (s *Service) extractLabels(filePath string) map[string]string {
	labels := map[string]string{
		"node": s.config.NodeName,
		"file": filepath.Base(filePath),
	}

	rel, err := filepath.Rel(s.config.LogRootPath, filePath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return labels
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return labels
	}

	podParts := strings.Split(parts[0], "_")
	if len(podParts) >= 3 {
		labels["namespace"] = podParts[0]
		labels["pod"] = strings.Join(podParts[1:len(podParts)-1], "_")
		labels["pod_uid"] = podParts[len(podParts)-1]
	}
	if len(parts) >= 3 {
		labels["container"] = parts[1]
	}

	return labels
}
