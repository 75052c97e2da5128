package web

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Chichichkin/LogProducer/internal/daemon"
	"github.com/Chichichkin/LogProducer/internal/logging/producer"
)

// ProducerView is the part of the producer the endpoints need.
type ProducerView interface {
	Stats() producer.Stats
	Flush()
	Closed() bool
}

// DaemonView exposes the tailer counters. It may be nil when the shipper
// runs without tailing.
type DaemonView interface {
	Metrics() daemon.MetricsSnapshot
}

type Handlers struct {
	producer ProducerView
	daemon   DaemonView
}

type StatsResponse struct {
	Producer producer.Stats          `json:"producer"`
	Daemon   *daemon.MetricsSnapshot `json:"daemon,omitempty"`
}

func NewHandlers(p ProducerView, d DaemonView) *Handlers {
	return &Handlers{producer: p, daemon: d}
}

func (h *Handlers) statsResponse() StatsResponse {
	resp := StatsResponse{Producer: h.producer.Stats()}
	if h.daemon != nil {
		m := h.daemon.Metrics()
		resp.Daemon = &m
	}
	return resp
}

func (h *Handlers) Stats(c *fiber.Ctx) error {
	return c.JSON(h.statsResponse())
}

// Flush delivers everything buffered before responding.
func (h *Handlers) Flush(c *fiber.Ctx) error {
	if h.producer.Closed() {
		return fiber.NewError(fiber.StatusConflict, "producer is closed")
	}
	h.producer.Flush()
	return c.JSON(h.statsResponse())
}

func (h *Handlers) Health(c *fiber.Ctx) error {
	if h.producer.Closed() {
		return c.Status(fiber.StatusServiceUnavailable).SendString("closed")
	}
	return c.SendString("ok")
}
