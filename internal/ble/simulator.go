package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/oliverhazley/MindMend/internal/heartrate"
)

// SimulatorOptions shapes the synthetic sensor.
type SimulatorOptions struct {
	Name         string
	Interval     time.Duration // time between notifications, ~1s on real straps
	BaseRR       float64       // ms
	Jitter       float64       // ms, uniform +/- around BaseRR
	ArtifactEach int           // every n-th interval is doubled (missed beat); 0 disables
	DropAfter    int           // frames before the link is dropped; 0 never drops
	ConnectDelay time.Duration
	Battery      int // percent, negative reports no battery service
	QueueSize    int
}

// Simulator is a Transport producing well-formed 0x2A37 frames without radio hardware.
type Simulator struct {
	opts   SimulatorOptions
	logger *slog.Logger
}

func NewSimulator(opts SimulatorOptions, logger *slog.Logger) *Simulator {
	if opts.Name == "" {
		opts.Name = "Polar H10 SIM"
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.BaseRR <= 0 {
		opts.BaseRR = 850
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{opts: opts, logger: logger}
}

func (s *Simulator) Connect(ctx context.Context) (Device, error) {
	if s.opts.ConnectDelay > 0 {
		t := time.NewTimer(s.opts.ConnectDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrUserCancelled, ctx.Err())
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserCancelled, err)
	}

	s.logger.Info("ble: simulated peripheral connected", "name", s.opts.Name)
	return &simDevice{
		opts:   s.opts,
		logger: s.logger,
		queue:  newFrameQueue(s.opts.QueueSize),
		link:   newLinkGuard(),
		stop:   make(chan struct{}),
	}, nil
}

type simDevice struct {
	opts   SimulatorOptions
	logger *slog.Logger
	queue  *frameQueue

	mu         sync.Mutex
	subscribed bool
	closed     bool

	link *linkGuard
	stop chan struct{}
	wg   sync.WaitGroup
}

func (d *simDevice) Name() string { return d.opts.Name }

func (d *simDevice) ReadBattery(ctx context.Context) (int, bool) {
	if ctx.Err() != nil || d.opts.Battery < 0 {
		return 0, false
	}
	return d.opts.Battery, true
}

func (d *simDevice) Subscribe() (<-chan []byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("%w: device closed", ErrLinkFailure)
	}
	if d.subscribed {
		return nil, errors.New("ble: already subscribed")
	}
	d.subscribed = true

	d.wg.Add(1)
	go d.run()
	return d.queue.ch, nil
}

func (d *simDevice) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	beat := 0
	for sent := 0; ; {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
		}

		if d.opts.DropAfter > 0 && sent >= d.opts.DropAfter {
			d.dropLink()
			return
		}

		rr := d.opts.BaseRR + (rand.Float64()*2-1)*d.opts.Jitter
		beat++
		if d.opts.ArtifactEach > 0 && beat%d.opts.ArtifactEach == 0 {
			rr *= 2
		}
		frame := heartrate.Encode(heartrate.Measurement{
			Pulse: int(60000/rr + 0.5),
			RR:    []float64{rr},
		})
		d.queue.offer(frame)
		sent++
	}
}

func (d *simDevice) dropLink() {
	d.link.lose(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		d.logger.Warn("ble: simulated link drop", "name", d.opts.Name)
		d.queue.close()
	})
}

func (d *simDevice) Disconnected() <-chan struct{} { return d.link.done() }

func (d *simDevice) Disconnect() error {
	return d.link.close(func() error {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.stop)
		d.wg.Wait()
		d.queue.close()
		d.logger.Info("ble: simulated peripheral disconnected", "name", d.opts.Name)
		return nil
	})
}
