// Package session owns one heart-rate sensor connection: its lifecycle, the
// RR interval buffers fed by the sensor, the HRV estimate and the periodic
// upload of aggregated readings.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/oliverhazley/MindMend/internal/ble"
	"github.com/oliverhazley/MindMend/internal/heartrate"
	"github.com/oliverhazley/MindMend/internal/hrv"
)

var (
	// ErrBusy is returned by Connect while a disconnect is still tearing the link down.
	ErrBusy         = errors.New("session: disconnect in progress")
	ErrNotConnected = errors.New("session: not connected")
)

// MinDisplaySamples is the number of raw intervals needed before Samples
// returns anything.
const MinDisplaySamples = 10

// Reading is one aggregated HRV value bound for the store.
type Reading struct {
	UserID string
	Value  float64
	Time   time.Time
}

// Uploader persists readings.
type Uploader interface {
	Upload(ctx context.Context, r Reading) error
}

type Config struct {
	UserID           string
	LiveCapacity     int
	Warmup           time.Duration
	UploadInterval   time.Duration
	UploadTimeout    time.Duration
	FilterWindow     int
	FilterThreshold  float64
	MinUploadSamples int
}

func DefaultConfig() Config {
	return Config{
		LiveCapacity:     60,
		Warmup:           3 * time.Minute,
		UploadInterval:   3 * time.Minute,
		UploadTimeout:    15 * time.Second,
		FilterWindow:     hrv.DefaultWindow,
		FilterThreshold:  hrv.DefaultThreshold,
		MinUploadSamples: 10,
	}
}

// View is the read side of a Session. None of its methods block on I/O.
type View interface {
	Pulse() int
	RMSSD() (float64, bool)
	Samples() []float64
	State() State
	Ready() bool
	Snapshot() Snapshot
}

type Snapshot struct {
	SessionID   string     `json:"session_id,omitempty"`
	Device      string     `json:"device,omitempty"`
	State       State      `json:"state"`
	Ready       bool       `json:"ready"`
	Pulse       int        `json:"pulse"`
	RMSSD       *float64   `json:"rmssd"`
	Samples     []float64  `json:"samples"`
	Battery     int        `json:"battery"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Time        time.Time  `json:"time"`
}

// call is the completion of an in-flight connect or disconnect.
type call struct {
	done chan struct{}
	err  error
}

func newCall() *call { return &call{done: make(chan struct{})} }

func (c *call) finish(err error) {
	c.err = err
	close(c.done)
}

func (c *call) wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Session struct {
	cfg       Config
	transport ble.Transport
	uploader  Uploader
	logger    *slog.Logger
	now       func() time.Time
	scheduler *Scheduler
	warnLimit *rate.Limiter

	lmu       sync.Mutex
	listeners []func(Snapshot)

	mu          sync.Mutex
	state       State
	epoch       uint64
	connecting  *call
	closing     *call
	device      ble.Device
	id          string
	deviceName  string
	battery     int
	connectedAt time.Time
	pulse       int
	live        *hrv.Series
	stab        *hrv.Stabilizer
	pending     []float64
	estimate    float64
	hasEstimate bool
	ready       bool
	warmup      *time.Timer
	malformed   int
}

var _ View = (*Session)(nil)

func New(cfg Config, transport ble.Transport, uploader Uploader, logger *slog.Logger) *Session {
	def := DefaultConfig()
	if cfg.LiveCapacity <= 0 {
		cfg.LiveCapacity = def.LiveCapacity
	}
	if cfg.Warmup <= 0 {
		cfg.Warmup = def.Warmup
	}
	if cfg.UploadInterval <= 0 {
		cfg.UploadInterval = def.UploadInterval
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = def.UploadTimeout
	}
	if cfg.FilterWindow <= 0 {
		cfg.FilterWindow = def.FilterWindow
	}
	if cfg.FilterThreshold <= 0 {
		cfg.FilterThreshold = def.FilterThreshold
	}
	if cfg.MinUploadSamples <= 0 {
		cfg.MinUploadSamples = def.MinUploadSamples
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		cfg:       cfg,
		transport: transport,
		uploader:  uploader,
		logger:    logger,
		now:       time.Now,
		warnLimit: rate.NewLimiter(rate.Every(10*time.Second), 1),
		battery:   -1,
		live:      hrv.NewSeries(cfg.LiveCapacity),
		stab:      hrv.NewStabilizer(),
	}
	s.scheduler = NewScheduler(s.tick)
	return s
}

// OnChange registers fn to receive a snapshot after every state or data
// change. fn runs on the goroutine that made the change and must not block.
func (s *Session) OnChange(fn func(Snapshot)) {
	s.lmu.Lock()
	s.listeners = append(s.listeners, fn)
	s.lmu.Unlock()
}

func (s *Session) notify() {
	s.lmu.Lock()
	listeners := s.listeners
	s.lmu.Unlock()
	if len(listeners) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, fn := range listeners {
		fn(snap)
	}
}

// Connect opens the sensor link. While a connect is in flight it waits for
// that attempt and returns its result. On a connected session it disconnects
// instead. While a disconnect is running it waits for it and returns ErrBusy.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Connecting:
		c := s.connecting
		s.mu.Unlock()
		return c.wait(ctx)
	case Connected:
		s.mu.Unlock()
		return s.Disconnect(ctx)
	case Disconnecting:
		c := s.closing
		s.mu.Unlock()
		select {
		case <-c.done:
			return ErrBusy
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c := newCall()
	s.connecting = c
	s.setStateLocked(Connecting)
	s.mu.Unlock()
	s.notify()

	err := s.connect(ctx)
	c.finish(err)
	s.notify()
	return err
}

func (s *Session) connect(ctx context.Context) error {
	s.logger.Info("session: connecting")

	dev, err := s.transport.Connect(ctx)
	if err != nil {
		s.failConnect(err)
		return err
	}
	frames, err := dev.Subscribe()
	if err != nil {
		if derr := dev.Disconnect(); derr != nil {
			s.logger.Warn("session: release device after failed subscribe", "error", derr)
		}
		err = fmt.Errorf("subscribe heart rate: %w", err)
		s.failConnect(err)
		return err
	}

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.connecting = nil
	s.device = dev
	s.id = uuid.NewString()
	s.deviceName = dev.Name()
	s.battery = -1
	s.connectedAt = s.now()
	s.clearLocked()
	s.setStateLocked(Connected)
	s.warmup = time.AfterFunc(s.cfg.Warmup, func() { s.markReady(epoch) })
	s.scheduler.Start(s.cfg.UploadInterval)
	id := s.id
	s.mu.Unlock()

	s.logger.Info("session: connected", "session_id", id, "device", dev.Name(), "warmup", s.cfg.Warmup)

	pumped := make(chan struct{})
	go s.pump(epoch, frames, pumped)
	go s.watchLink(epoch, dev, pumped)
	go s.readBattery(epoch, dev)
	return nil
}

func (s *Session) failConnect(err error) {
	s.mu.Lock()
	s.connecting = nil
	s.device = nil
	s.setStateLocked(Disconnected)
	s.mu.Unlock()
	s.logger.Warn("session: connect failed", "error", err)
}

// Disconnect stops periodic uploads, runs one final upload of the pending
// intervals and tears the link down. A connect in flight is awaited first.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Disconnected:
		s.mu.Unlock()
		return nil
	case Disconnecting:
		c := s.closing
		s.mu.Unlock()
		return c.wait(ctx)
	case Connecting:
		c := s.connecting
		s.mu.Unlock()
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		return s.Disconnect(ctx)
	}

	c := newCall()
	s.closing = c
	s.setStateLocked(Disconnecting)
	s.scheduler.Stop()
	s.stopWarmupLocked()
	s.epoch++
	dev := s.device
	id := s.id
	batch := s.takePendingLocked()
	s.mu.Unlock()
	s.notify()

	s.logger.Info("session: disconnecting", "session_id", id, "pending", len(batch))
	if _, _, err := s.uploadCycle(ctx, batch); err != nil {
		s.logger.Warn("session: final upload failed", "session_id", id, "error", err)
	}

	err := dev.Disconnect()

	s.mu.Lock()
	s.closing = nil
	s.device = nil
	s.enterDisconnectedLocked()
	s.mu.Unlock()

	c.finish(err)
	s.notify()
	s.logger.Info("session: disconnected", "session_id", id)
	return err
}

// handleLinkLost is the peripheral-initiated edge: no final upload.
func (s *Session) handleLinkLost(epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch || s.state != Connected {
		s.mu.Unlock()
		return
	}
	s.scheduler.Stop()
	s.stopWarmupLocked()
	s.epoch++
	dev := s.device
	id := s.id
	dropped := len(s.pending)
	s.pending = nil
	s.device = nil
	s.enterDisconnectedLocked()
	s.mu.Unlock()

	s.logger.Warn("session: link lost", "session_id", id, "discarded", dropped)
	if err := dev.Disconnect(); err != nil {
		s.logger.Debug("session: release lost device", "error", err)
	}
	s.notify()
}

func (s *Session) watchLink(epoch uint64, dev ble.Device, pumped <-chan struct{}) {
	select {
	case <-dev.Disconnected():
	case <-pumped:
		select {
		case <-dev.Disconnected():
		default:
			return
		}
	}
	s.handleLinkLost(epoch)
}

func (s *Session) pump(epoch uint64, frames <-chan []byte, pumped chan<- struct{}) {
	defer close(pumped)
	for frame := range frames {
		if s.handleFrame(epoch, frame) {
			s.notify()
		}
	}
}

func (s *Session) handleFrame(epoch uint64, frame []byte) bool {
	m, err := heartrate.Decode(frame)
	if err != nil {
		s.mu.Lock()
		s.malformed++
		n := s.malformed
		s.mu.Unlock()
		if s.warnLimit.Allow() {
			s.logger.Warn("session: dropping frame", "error", err, "malformed_total", n, "len", len(frame))
		}
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.state != Connected {
		return false
	}
	s.pulse = m.Pulse
	for _, rr := range m.RR {
		s.live.Push(rr)
		s.stab.Push(rr)
		s.pending = append(s.pending, rr)
	}
	if len(m.RR) > 0 {
		s.estimate, s.hasEstimate = hrv.Estimate(s.stab.Values(), s.cfg.FilterWindow, s.cfg.FilterThreshold)
	}
	return true
}

func (s *Session) markReady(epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch || s.state != Connected {
		s.mu.Unlock()
		return
	}
	s.ready = true
	s.stab.Seal()
	n := s.stab.Len()
	id := s.id
	s.mu.Unlock()

	s.logger.Info("session: warm-up complete", "session_id", id, "samples", n)
	s.notify()
}

func (s *Session) readBattery(epoch uint64, dev ble.Device) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	level, ok := dev.ReadBattery(ctx)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.battery = level
	s.mu.Unlock()
	s.logger.Info("session: battery level", "device", dev.Name(), "battery", level)
	s.notify()
}

// tick is the periodic upload; it is skipped until an estimate exists.
func (s *Session) tick(ctx context.Context) {
	s.mu.Lock()
	if s.state != Connected || !s.hasEstimate {
		s.mu.Unlock()
		return
	}
	batch := s.takePendingLocked()
	s.mu.Unlock()

	if _, _, err := s.uploadCycle(ctx, batch); err != nil {
		s.logger.Warn("session: periodic upload failed", "error", err)
	}
}

// Flush runs one upload cycle now. uploaded is false when the pending
// intervals were too few to aggregate.
func (s *Session) Flush(ctx context.Context) (r Reading, uploaded bool, err error) {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return Reading{}, false, ErrNotConnected
	}
	batch := s.takePendingLocked()
	s.mu.Unlock()
	return s.uploadCycle(ctx, batch)
}

// uploadCycle aggregates batch into one reading and submits it. The batch
// has already been detached from the session, so it is gone whatever the outcome.
func (s *Session) uploadCycle(ctx context.Context, batch []float64) (Reading, bool, error) {
	if len(batch) < s.cfg.MinUploadSamples {
		s.logger.Debug("session: upload skipped", "samples", len(batch), "min", s.cfg.MinUploadSamples)
		return Reading{}, false, nil
	}
	v, ok := hrv.Estimate(batch, s.cfg.FilterWindow, s.cfg.FilterThreshold)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return Reading{}, false, nil
	}

	r := Reading{
		UserID: s.cfg.UserID,
		Value:  math.Round(v*100) / 100,
		Time:   s.now(),
	}
	if s.uploader == nil {
		return r, false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.UploadTimeout)
	defer cancel()
	if err := s.uploader.Upload(ctx, r); err != nil {
		return r, false, fmt.Errorf("upload hrv: %w", err)
	}
	s.logger.Info("session: hrv uploaded", "user_id", r.UserID, "hrv", r.Value, "samples", len(batch))
	return r, true, nil
}

func (s *Session) takePendingLocked() []float64 {
	batch := s.pending
	s.pending = nil
	return batch
}

func (s *Session) clearLocked() {
	s.pending = nil
	s.live.Reset()
	s.stab.Reset()
	s.pulse = 0
	s.estimate, s.hasEstimate = 0, false
	s.ready = false
}

func (s *Session) stopWarmupLocked() {
	if s.warmup != nil {
		s.warmup.Stop()
		s.warmup = nil
	}
}

func (s *Session) enterDisconnectedLocked() {
	s.stopWarmupLocked()
	s.clearLocked()
	s.setStateLocked(Disconnected)
}

func (s *Session) setStateLocked(next State) {
	if !s.state.CanTransition(next) {
		s.logger.Error("session: illegal state transition", "from", s.state, "to", next)
		return
	}
	s.state = next
}

func (s *Session) Pulse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return 0
	}
	return s.pulse
}

// RMSSD is only reported once the warm-up has completed.
func (s *Session) RMSSD() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rmssdLocked()
}

func (s *Session) rmssdLocked() (float64, bool) {
	if s.state != Connected || !s.ready || !s.hasEstimate {
		return 0, false
	}
	return s.estimate, true
}

// Samples returns the artifact-corrected live series.
func (s *Session) Samples() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samplesLocked()
}

func (s *Session) samplesLocked() []float64 {
	if s.live.Len() < MinDisplaySamples {
		return []float64{}
	}
	return hrv.Correct(s.live.Values(), s.cfg.FilterWindow, s.cfg.FilterThreshold)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:   s.state,
		Ready:   s.ready,
		Samples: s.samplesLocked(),
		Battery: -1,
		Time:    s.now(),
	}
	if s.state != Connected {
		return snap
	}
	snap.SessionID = s.id
	snap.Device = s.deviceName
	snap.Pulse = s.pulse
	snap.Battery = s.battery
	at := s.connectedAt
	snap.ConnectedAt = &at
	if v, ok := s.rmssdLocked(); ok {
		snap.RMSSD = &v
	}
	return snap
}
