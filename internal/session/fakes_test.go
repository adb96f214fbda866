package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oliverhazley/MindMend/internal/ble"
	"github.com/oliverhazley/MindMend/internal/heartrate"
)

type fakeDevice struct {
	frames       chan []byte
	lost         chan struct{}
	battery      int
	disconnects  atomic.Int32
	closeOnce    sync.Once
	subscribeErr error
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		frames:  make(chan []byte, 256),
		lost:    make(chan struct{}),
		battery: -1,
	}
}

func (d *fakeDevice) Name() string { return "Polar H10 TEST" }

func (d *fakeDevice) ReadBattery(context.Context) (int, bool) {
	if d.battery < 0 {
		return 0, false
	}
	return d.battery, true
}

func (d *fakeDevice) Subscribe() (<-chan []byte, error) {
	if d.subscribeErr != nil {
		return nil, d.subscribeErr
	}
	return d.frames, nil
}

func (d *fakeDevice) Disconnected() <-chan struct{} { return d.lost }

func (d *fakeDevice) Disconnect() error {
	d.disconnects.Add(1)
	d.closeOnce.Do(func() { close(d.frames) })
	return nil
}

// drop simulates the peripheral going away.
func (d *fakeDevice) drop() {
	close(d.lost)
	d.closeOnce.Do(func() { close(d.frames) })
}

func (d *fakeDevice) send(rr ...float64) {
	d.frames <- heartrate.Encode(heartrate.Measurement{Pulse: 70, RR: rr})
}

type fakeTransport struct {
	mu      sync.Mutex
	calls   int
	gate    chan struct{} // when non-nil Connect blocks until closed
	errs    []error
	battery int
	devices []*fakeDevice
}

func (t *fakeTransport) Connect(ctx context.Context) (ble.Device, error) {
	t.mu.Lock()
	t.calls++
	gate := t.gate
	var err error
	if len(t.errs) > 0 {
		err, t.errs = t.errs[0], t.errs[1:]
	}
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ble.ErrUserCancelled
		}
	}
	if err != nil {
		return nil, err
	}

	d := newFakeDevice()
	t.mu.Lock()
	if t.battery > 0 {
		d.battery = t.battery
	}
	t.devices = append(t.devices, d)
	t.mu.Unlock()
	return d, nil
}

func (t *fakeTransport) connectCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func (t *fakeTransport) last() *fakeDevice {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.devices[len(t.devices)-1]
}

type fakeUploader struct {
	mu       sync.Mutex
	readings []Reading
	err      error
	block    chan struct{}
}

var errStatus500 = errors.New("unexpected status 500")

func (u *fakeUploader) Upload(ctx context.Context, r Reading) error {
	if u.block != nil {
		<-u.block
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.readings = append(u.readings, r)
	return u.err
}

func (u *fakeUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.readings)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.UserID = "42"
	cfg.Warmup = time.Hour
	cfg.UploadInterval = time.Hour
	return cfg
}
