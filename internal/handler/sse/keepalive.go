package sse

import (
	"log/slog"
	"time"
)

// KeepAliveWriter writes one keepalive ping. An error means the connection
// is gone and the stream loop should exit.
type KeepAliveWriter interface {
	WriteKeepAlive() error
}

// TickerKeepAlive pings a connection at a fixed interval until stopped or
// until a write fails. The returned done channel is the disconnect signal
// streaming handlers select on alongside their event channel.
type TickerKeepAlive struct {
	interval time.Duration
	done     chan struct{}
}

// NewTickerKeepAlive creates a keepalive ticker with the given interval.
func NewTickerKeepAlive(interval time.Duration) *TickerKeepAlive {
	return &TickerKeepAlive{
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins pinging on the interval. The returned channel closes when the
// writer reports a dead connection or Stop is called.
func (k *TickerKeepAlive) Start(writer KeepAliveWriter, logger *slog.Logger) <-chan struct{} {
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		ticker := time.NewTicker(k.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					logger.Debug("keepalive write failed, client gone", "error", err)
					return
				}
			case <-k.done:
				return
			}
		}
	}()

	return stopped
}

// Stop terminates the keepalive loop. Safe to call more than once.
func (k *TickerKeepAlive) Stop() {
	select {
	case <-k.done:
	default:
		close(k.done)
	}
}
