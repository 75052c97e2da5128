package producer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Chichichkin/LogProducer/internal/logging"
	"github.com/Chichichkin/LogProducer/internal/testutils"
)

func newTestProducer(t *testing.T, sink logging.Sink, config Config) *Producer {
	t.Helper()
	p, err := New(sink, config, WithLogger(zap.NewNop()), WithSleep(func(time.Duration) {}))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close(time.Second) })
	return p
}

func fieldsOfSize(n int, id int) map[string]string {
	key := fmt.Sprintf("%04d", id)
	return map[string]string{key: strings.Repeat("x", n-len(key))}
}

func TestNew_RejectsBadInput(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)

	_, err = New(&testutils.MockSink{}, Config{Retries: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(&testutils.MockSink{}, Config{BaseRetryBackoff: time.Second, MaxRetryBackoff: time.Millisecond})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNew_AppliesDefaults(t *testing.T) {
	p := newTestProducer(t, &testutils.MockSink{}, Config{})

	assert.Equal(t, DefaultTotalSizeBytes, p.config.TotalSizeBytes)
	assert.Equal(t, DefaultMaxBatchCount, p.config.MaxBatchCount)
	assert.Equal(t, DefaultLinger, p.config.Linger)
	assert.Equal(t, 0, p.config.Retries)
	assert.Equal(t, DefaultMaxSendWorkers, p.config.MaxSendWorkers)
}

func TestProducer_CountThresholdDoesNotWaitForLinger(t *testing.T) {
	sink := &testutils.MockSink{}
	p := newTestProducer(t, sink, Config{MaxBatchCount: 3, Linger: time.Hour})

	for i := 0; i < 3; i++ {
		assert.True(t, p.Send(map[string]string{"i": fmt.Sprint(i)}))
	}

	assert.Eventually(t, func() bool {
		return p.Stats().LogCount == 3
	}, time.Second, 5*time.Millisecond)
}

func TestProducer_ByteThresholdDoesNotWaitForLinger(t *testing.T) {
	sink := &testutils.MockSink{}
	p := newTestProducer(t, sink, Config{MaxBatchSize: 500, Linger: time.Hour})

	assert.True(t, p.Send(fieldsOfSize(300, 1)))
	assert.True(t, p.Send(fieldsOfSize(300, 2)))

	assert.Eventually(t, func() bool {
		return p.Stats().LogCount == 2
	}, time.Second, 5*time.Millisecond)
}

func TestProducer_LingerFlushesPartialBatch(t *testing.T) {
	sink := &testutils.MockSink{}
	p := newTestProducer(t, sink, Config{Linger: 50 * time.Millisecond})

	start := time.Now()
	assert.True(t, p.Send(map[string]string{"msg": "lonely"}))

	assert.Eventually(t, func() bool {
		return p.Stats().LogCount == 1
	}, time.Second, 5*time.Millisecond)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestProducer_DropsWhenFullAndNonBlocking(t *testing.T) {
	sink := &testutils.MockSink{}
	p := newTestProducer(t, sink, Config{
		TotalSizeBytes: 1000,
		MaxBatchSize:   10000,
		MaxBatchCount:  100,
		Linger:         time.Hour,
	})

	assert.True(t, p.Send(fieldsOfSize(400, 1)))
	assert.True(t, p.Send(fieldsOfSize(400, 2)))
	assert.False(t, p.Send(fieldsOfSize(400, 3)))

	assert.Equal(t, int64(1), p.Stats().DropCount)

	p.Flush()
	assert.True(t, p.Send(fieldsOfSize(400, 4)))
	assert.Equal(t, int64(2), p.Stats().LogCount)
}

func TestProducer_BlockingBackpressureWaitsForDrain(t *testing.T) {
	sink := &testutils.MockSink{}
	p := newTestProducer(t, sink, Config{
		TotalSizeBytes: 1000,
		MaxBatchSize:   800,
		Linger:         time.Hour,
		MaxBlock:       2 * time.Second,
	})

	for i := 0; i < 3; i++ {
		assert.True(t, p.Send(fieldsOfSize(400, i)))
	}
	p.Close(time.Second)

	s := p.Stats()
	assert.Equal(t, int64(0), s.DropCount)
	assert.Equal(t, int64(3), s.LogCount)
}

func TestProducer_FlushDeliversInChunks(t *testing.T) {
	sink := &testutils.MockSink{}
	p := newTestProducer(t, sink, Config{MaxBatchCount: 2, Linger: time.Hour})

	for i := 0; i < 5; i++ {
		require.True(t, p.SendAt(map[string]string{"i": fmt.Sprint(i)}, int64(i)))
	}
	p.Flush()

	assert.Eventually(t, func() bool {
		return p.Stats().LogCount == 5
	}, time.Second, 5*time.Millisecond)

	for _, payload := range sink.Delivered() {
		assert.LessOrEqual(t, len(payload.Logs), 2)
		for i := 1; i < len(payload.Logs); i++ {
			assert.Less(t, payload.Logs[i-1].TimestampUs, payload.Logs[i].TimestampUs)
		}
	}
}

func TestProducer_RetryThenSuccess(t *testing.T) {
	sink := &testutils.MockSink{Script: []logging.Outcome{serverError(), serverError()}}
	p := newTestProducer(t, sink, Config{Retries: 10, Linger: time.Hour})

	p.Send(map[string]string{"msg": "eventually"})
	p.Flush()

	s := p.Stats()
	assert.Equal(t, int64(1), s.SendSuccess)
	assert.Equal(t, int64(0), s.SendFail)
	assert.Equal(t, 3, sink.Calls())
}

func TestProducer_CloseDeliversEverythingOnce(t *testing.T) {
	sink := &testutils.MockSink{}
	p := newTestProducer(t, sink, Config{MaxBatchCount: 7, Linger: 20 * time.Millisecond})

	const senders, perSender = 8, 125
	var wg sync.WaitGroup
	for w := 0; w < senders; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				p.SendAt(map[string]string{"w": fmt.Sprint(w), "i": fmt.Sprint(i)}, int64(w*perSender+i))
			}
		}(w)
	}
	wg.Wait()
	p.Close(5 * time.Second)

	s := p.Stats()
	assert.Equal(t, int64(senders*perSender), s.LogCount+s.DropCount)
	assert.Equal(t, int64(0), s.DropCount)

	seen := make(map[int64]bool)
	for _, l := range sink.DeliveredLogs() {
		assert.False(t, seen[l.TimestampUs], "entry %d delivered twice", l.TimestampUs)
		seen[l.TimestampUs] = true
	}
	assert.Len(t, seen, senders*perSender)
}

func TestProducer_CloseIsIdempotent(t *testing.T) {
	sink := &testutils.MockSink{}
	p := newTestProducer(t, sink, Config{Linger: time.Hour})

	p.Send(map[string]string{"msg": "one"})
	p.Close(time.Second)
	first := p.Stats()
	calls := sink.Calls()

	p.Close(time.Second)

	assert.True(t, p.Closed())
	assert.Equal(t, first, p.Stats())
	assert.Equal(t, calls, sink.Calls())
	assert.Equal(t, int64(1), first.LogCount)
}

func TestProducer_SendAfterCloseIsDropped(t *testing.T) {
	p := newTestProducer(t, &testutils.MockSink{}, Config{})
	p.Close(time.Second)

	assert.False(t, p.Send(map[string]string{"msg": "late"}))
	assert.Equal(t, int64(1), p.Stats().DropCount)
}

func TestProducer_CloseWaitIsBounded(t *testing.T) {
	sink := &testutils.MockSink{Delay: 500 * time.Millisecond}
	p := newTestProducer(t, sink, Config{MaxBatchCount: 1, Linger: time.Hour})

	p.Send(map[string]string{"msg": "slow"})
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	p.Close(50 * time.Millisecond)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.True(t, p.Closed())
}

func TestProducer_PanickingSinkIsContained(t *testing.T) {
	p := newTestProducer(t, panicSink{}, Config{Linger: time.Hour})

	p.Send(map[string]string{"msg": "boom"})
	assert.NotPanics(t, p.Flush)
	assert.Equal(t, int64(1), p.Stats().SendFail)

	// the flush loop is still alive
	p.Send(map[string]string{"msg": "again"})
	p.Close(time.Second)
	assert.Equal(t, int64(2), p.Stats().SendFail)
}

type panicSink struct{}

func (panicSink) Send(_ context.Context, _ string, _ logging.Payload) logging.Outcome {
	panic("sink exploded")
}

// printSink reports each delivery on stdout so a parent process can see it.
type printSink struct{}

func (printSink) Send(_ context.Context, _ string, payload logging.Payload) logging.Outcome {
	fmt.Printf("delivered %d\n", len(payload.Logs))
	return logging.Delivered()
}

func TestRegisterShutdown_ClosesAndExitsOnSignal(t *testing.T) {
	if os.Getenv("PRODUCER_SHUTDOWN_CHILD") == "1" {
		p, err := New(printSink{}, Config{Linger: time.Hour}, WithLogger(zap.NewNop()))
		if err != nil {
			os.Exit(2)
		}
		RegisterShutdown(p, time.Second, syscall.SIGTERM)
		p.Send(map[string]string{"msg": "bye"})

		_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
		time.Sleep(5 * time.Second)
		fmt.Println("still alive")
		os.Exit(3)
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestRegisterShutdown_ClosesAndExitsOnSignal$")
	cmd.Env = append(os.Environ(), "PRODUCER_SHUTDOWN_CHILD=1")
	out, err := cmd.Output()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr, "child output: %s", out)
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	require.True(t, ok)
	assert.True(t, status.Signaled(), "child output: %s", out)
	assert.Equal(t, syscall.SIGTERM, status.Signal())

	assert.Contains(t, string(out), "delivered 1")
	assert.NotContains(t, string(out), "still alive")
}

func TestRegisterShutdown_DeregisterIsSafe(t *testing.T) {
	p := newTestProducer(t, &testutils.MockSink{}, Config{})
	deregister := RegisterShutdown(p, 0)

	assert.NotPanics(t, deregister)
	assert.NotPanics(t, deregister)
	assert.False(t, p.Closed())
}
