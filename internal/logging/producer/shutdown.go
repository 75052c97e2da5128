package producer

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// DefaultShutdownTimeout bounds the Close issued by RegisterShutdown.
const DefaultShutdownTimeout = 5 * time.Second

// RegisterShutdown closes p when the process receives one of signals
// (SIGINT and SIGTERM when none are given), then restores default handling
// and re-raises the signal so the process still exits as it would have.
// Registration is opt-in; the returned function removes it and is safe to
// call more than once.
func RegisterShutdown(p *Producer, timeout time.Duration, signals ...os.Signal) (deregister func()) {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	sigCh := make(chan os.Signal, 1)
	stopCh := make(chan struct{})
	signal.Notify(sigCh, signals...)

	go func() {
		select {
		case sig := <-sigCh:
			p.logger.Info("received shutdown signal, closing producer", zap.Stringer("signal", sig))
			closeQuietly(p, timeout)
			signal.Stop(sigCh)
			reraise(sig)
		case <-stopCh:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(stopCh)
		})
	}
}

// closeQuietly is Close for exit paths: it never panics.
func closeQuietly(p *Producer, timeout time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("close panicked during shutdown", zap.Any("panic", r))
		}
	}()
	p.Close(timeout)
}

func reraise(sig os.Signal) {
	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		return
	}
	_ = proc.Signal(sig)
}
