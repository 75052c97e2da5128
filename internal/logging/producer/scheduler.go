package producer

import (
	"time"

	"go.uber.org/zap"
)

// run is the flush loop. It drains on a threshold signal or when Linger
// elapses, and delivers synchronously so only one delivery sequence is in
// flight per producer.
func (p *Producer) run() {
	defer close(p.done)

	timer := time.NewTimer(p.config.Linger)
	defer timer.Stop()

	for {
		select {
		case <-p.buf.wake:
		case <-timer.C:
		case <-p.stop:
			p.flush()
			return
		}

		p.flush()
		timer.Reset(p.config.Linger)
	}
}

// flush drains and dispatches once. Sink panics are contained per chunk by
// the dispatcher; anything else that panics here fails the whole batch
// without taking the host process down.
func (p *Producer) flush() {
	entries := p.buf.drain()
	if len(entries) == 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.stats.IncFail()
			p.logger.Error("delivery panicked, dropping batch",
				zap.Any("panic", r),
				zap.Int("logs", len(entries)),
			)
		}
	}()
	p.dispatcher.dispatch(entries)
}
