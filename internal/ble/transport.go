// Package ble connects to a heart-rate peripheral and streams raw 0x2A37
// notification frames.
package ble

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrTransportUnavailable = errors.New("bluetooth transport unavailable")
	ErrUserCancelled        = errors.New("device selection cancelled")
	ErrLinkFailure          = errors.New("bluetooth link failure")
)

// DefaultQueueSize bounds the frames buffered between the BLE callback and the consumer.
const DefaultQueueSize = 64

// Transport opens a link to one heart-rate peripheral.
type Transport interface {
	Connect(ctx context.Context) (Device, error)
}

// Device is a connected peripheral.
type Device interface {
	Name() string
	// ReadBattery returns the battery level in percent; ok is false when the
	// peripheral has no battery service or the read failed.
	ReadBattery(ctx context.Context) (level int, ok bool)
	// Subscribe enables heart-rate notifications. The returned channel is
	// closed when the link goes down or Disconnect is called.
	Subscribe() (<-chan []byte, error)
	// Disconnected is closed when the peripheral drops the link on its own.
	Disconnected() <-chan struct{}
	Disconnect() error
}

// frameQueue hands frames from the notification callback to a consumer
// without ever blocking the callback.
type frameQueue struct {
	mu      sync.Mutex
	ch      chan []byte
	closed  bool
	dropped uint64
}

func newFrameQueue(size int) *frameQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &frameQueue{ch: make(chan []byte, size)}
}

// offer copies buf; it reports false and counts the frame when the queue is
// full or already closed.
func (q *frameQueue) offer(buf []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- append([]byte(nil), buf...):
		return true
	default:
		q.dropped++
		return false
	}
}

func (q *frameQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

func (q *frameQueue) droppedFrames() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// linkGuard tracks how a link ended. Once close has started a later lost
// report is ignored, and each path runs at most once.
type linkGuard struct {
	closing   atomic.Bool
	lost      chan struct{}
	lostOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

func newLinkGuard() *linkGuard {
	return &linkGuard{lost: make(chan struct{})}
}

func (g *linkGuard) done() <-chan struct{} { return g.lost }

// close runs teardown on the first call and returns its error on every call.
func (g *linkGuard) close(teardown func() error) error {
	g.closeOnce.Do(func() {
		g.closing.Store(true)
		g.closeErr = teardown()
	})
	return g.closeErr
}

// lose closes the done channel and runs onLost, unless close got there
// first. It reports whether this call did so.
func (g *linkGuard) lose(onLost func()) bool {
	if g.closing.Load() {
		return false
	}
	fired := false
	g.lostOnce.Do(func() {
		fired = true
		close(g.lost)
		onLost()
	})
	return fired
}
