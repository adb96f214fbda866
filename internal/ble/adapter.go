package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/bluetooth"
)

const (
	DefaultAdapterID   = "hci0"
	DefaultNamePrefix  = "Polar"
	DefaultScanTimeout = 30 * time.Second
)

type Options struct {
	Adapter     string // "hci0" by default
	NamePrefix  string // local name prefix of the wanted peripheral
	ScanTimeout time.Duration
	QueueSize   int
}

// Adapter is a Transport on top of BlueZ. It holds at most one peripheral.
type Adapter struct {
	adapter *bluetooth.Adapter
	opts    Options
	logger  *slog.Logger

	enableOnce sync.Once
	enableErr  error

	mu     sync.Mutex
	active *peripheral
}

func NewAdapter(opts Options, logger *slog.Logger) *Adapter {
	if opts.Adapter == "" {
		opts.Adapter = DefaultAdapterID
	}
	if opts.NamePrefix == "" {
		opts.NamePrefix = DefaultNamePrefix
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = DefaultScanTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Adapter{
		adapter: bluetooth.NewAdapter(opts.Adapter),
		opts:    opts,
		logger:  logger,
	}
}

func (a *Adapter) enable() error {
	a.enableOnce.Do(func() {
		a.logger.Info("ble: enabling adapter", "adapter", a.opts.Adapter)
		if err := a.adapter.Enable(); err != nil {
			a.enableErr = fmt.Errorf("%w: enable %s: %v", ErrTransportUnavailable, a.opts.Adapter, err)
			return
		}
		a.adapter.SetConnectHandler(a.onConnectionChange)
		a.logger.Info("ble: adapter enabled", "adapter", a.opts.Adapter)
	})
	return a.enableErr
}

// Connect scans for the first peripheral whose local name starts with the
// configured prefix, connects to it and resolves the heart-rate measurement
// characteristic.
func (a *Adapter) Connect(ctx context.Context) (Device, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}

	found, err := a.scan(ctx)
	if err != nil {
		return nil, err
	}
	name := found.LocalName()
	addr := found.Address.String()
	a.logger.Info("ble: connecting", "name", name, "addr", addr, "rssi", found.RSSI)

	dev, err := a.adapter.Connect(found.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", ErrLinkFailure, addr, err)
	}

	hr, err := characteristic(dev, bluetooth.ServiceUUIDHeartRate, bluetooth.CharacteristicUUIDHeartRateMeasurement)
	if err != nil {
		_ = dev.Disconnect()
		return nil, fmt.Errorf("%w: %s: %v", ErrLinkFailure, addr, err)
	}

	p := &peripheral{
		owner:  a,
		device: dev,
		name:   name,
		addr:   addr,
		hr:     hr,
		queue:  newFrameQueue(a.opts.QueueSize),
		link:   newLinkGuard(),
	}
	a.mu.Lock()
	a.active = p
	a.mu.Unlock()

	a.logger.Info("ble: connected", "name", name, "addr", addr)
	return p, nil
}

func (a *Adapter) scan(ctx context.Context) (bluetooth.ScanResult, error) {
	scanCtx, cancel := context.WithTimeout(ctx, a.opts.ScanTimeout)
	defer cancel()

	go func() {
		<-scanCtx.Done()
		_ = a.adapter.StopScan()
	}()

	a.logger.Info("ble: scanning", "name_prefix", a.opts.NamePrefix, "timeout", a.opts.ScanTimeout)

	var (
		found bluetooth.ScanResult
		ok    bool
	)
	// adapter.Scan blocks until StopScan() or error.
	err := a.adapter.Scan(func(ad *bluetooth.Adapter, r bluetooth.ScanResult) {
		if ok || !strings.HasPrefix(r.LocalName(), a.opts.NamePrefix) {
			return
		}
		found, ok = r, true
		_ = ad.StopScan()
	})

	switch {
	case ok:
		return found, nil
	case ctx.Err() != nil:
		return bluetooth.ScanResult{}, fmt.Errorf("%w: %v", ErrUserCancelled, ctx.Err())
	case err != nil:
		return bluetooth.ScanResult{}, fmt.Errorf("%w: scan: %v", ErrLinkFailure, err)
	default:
		return bluetooth.ScanResult{}, fmt.Errorf("%w: no %q peripheral within %s", ErrLinkFailure, a.opts.NamePrefix, a.opts.ScanTimeout)
	}
}

func (a *Adapter) onConnectionChange(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	a.linkDown(device.Address.String())
}

// linkDown reports a BlueZ disconnect of addr. Events for any other address
// are ignored.
func (a *Adapter) linkDown(addr string) {
	a.mu.Lock()
	p := a.active
	if p == nil || p.addr != addr {
		a.mu.Unlock()
		return
	}
	a.active = nil
	a.mu.Unlock()

	p.linkLost()
}

func (a *Adapter) release(p *peripheral) {
	a.mu.Lock()
	if a.active == p {
		a.active = nil
	}
	a.mu.Unlock()
}

func characteristic(dev bluetooth.Device, service, char bluetooth.UUID) (bluetooth.DeviceCharacteristic, error) {
	services, err := dev.DiscoverServices([]bluetooth.UUID{service})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discover service %s: %w", service.String(), err)
	}
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{char})
		if err != nil {
			return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discover characteristic %s: %w", char.String(), err)
		}
		if len(chars) > 0 {
			return chars[0], nil
		}
	}
	return bluetooth.DeviceCharacteristic{}, errors.New("characteristic " + char.String() + " not found")
}

type peripheral struct {
	owner  *Adapter
	device bluetooth.Device
	name   string
	addr   string
	hr     bluetooth.DeviceCharacteristic
	queue  *frameQueue

	subscribed atomic.Bool
	link       *linkGuard
}

func (p *peripheral) Name() string { return p.name }

func (p *peripheral) ReadBattery(ctx context.Context) (int, bool) {
	type result struct {
		level int
		err   error
	}
	done := make(chan result, 1)
	go func() {
		c, err := characteristic(p.device, bluetooth.ServiceUUIDBattery, bluetooth.CharacteristicUUIDBatteryLevel)
		if err != nil {
			done <- result{err: err}
			return
		}
		buf := make([]byte, 8)
		n, err := c.Read(buf)
		if err == nil && n == 0 {
			err = errors.New("empty battery level")
		}
		done <- result{level: int(buf[0]), err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, false
	case r := <-done:
		if r.err != nil {
			p.owner.logger.Debug("ble: battery level unavailable", "name", p.name, "error", r.err)
			return 0, false
		}
		return r.level, true
	}
}

func (p *peripheral) Subscribe() (<-chan []byte, error) {
	if !p.subscribed.CompareAndSwap(false, true) {
		return nil, errors.New("ble: already subscribed")
	}
	err := p.hr.EnableNotifications(func(buf []byte) {
		if !p.queue.offer(buf) {
			p.owner.logger.Debug("ble: frame dropped", "name", p.name, "dropped", p.queue.droppedFrames())
		}
	})
	if err != nil {
		p.subscribed.Store(false)
		return nil, fmt.Errorf("%w: enable notifications: %v", ErrLinkFailure, err)
	}
	return p.queue.ch, nil
}

func (p *peripheral) Disconnected() <-chan struct{} { return p.link.done() }

func (p *peripheral) Disconnect() error {
	return p.link.close(func() error {
		p.owner.release(p)
		if p.subscribed.Load() {
			_ = p.hr.EnableNotifications(nil)
		}
		var err error
		if derr := p.device.Disconnect(); derr != nil {
			err = fmt.Errorf("ble disconnect %s: %w", p.addr, derr)
		}
		p.queue.close()
		p.owner.logger.Info("ble: disconnected", "name", p.name, "dropped_frames", p.queue.droppedFrames())
		return err
	})
}

func (p *peripheral) linkLost() {
	p.link.lose(func() {
		p.owner.logger.Warn("ble: link lost", "name", p.name, "addr", p.addr)
		p.queue.close()
	})
}
