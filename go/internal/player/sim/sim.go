package sim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchsync/go/internal/player"
	"github.com/rs/zerolog/log"
)

// ErrNoMedia is returned by Play when nothing is cued.
var ErrNoMedia = errors.New("no media cued")

// Config holds simulated player behaviour.
type Config struct {
	Latency         time.Duration      `yaml:"latency"`      // delay before each command takes effect
	BufferDelay     time.Duration      `yaml:"buffer_delay"` // time spent buffering after play or seek
	ReadyDelay      time.Duration      `yaml:"ready_delay"`
	DefaultDuration float64            `yaml:"default_duration"`
	Durations       map[string]float64 `yaml:"durations"`   // per media ref
	ErrorCodes      map[string]int     `yaml:"error_codes"` // media refs that fail to load
}

// DefaultConfig returns a player with small latencies and 10 minute media.
func DefaultConfig() Config {
	return Config{
		Latency:         20 * time.Millisecond,
		BufferDelay:     150 * time.Millisecond,
		ReadyDelay:      200 * time.Millisecond,
		DefaultDuration: 600,
	}
}

// Player is a clock-driven stand-in for a real media player.
type Player struct {
	clock   clockwork.Clock
	cfg     Config
	signals chan player.Signal

	mu       sync.Mutex
	ready    bool
	status   player.Status
	ref      string
	duration float64
	position float64   // as of anchor while playing
	anchor   time.Time // when position was last accurate
	muted    bool
	volume   int
	failNext map[string]error

	bufferTimer clockwork.Timer
	endTimer    clockwork.Timer
}

func New(clock clockwork.Clock, cfg Config) *Player {
	return &Player{
		clock:    clock,
		cfg:      cfg,
		signals:  make(chan player.Signal, 256),
		status:   player.StatusUnstarted,
		volume:   100,
		failNext: make(map[string]error),
	}
}

// Start schedules the Ready signal.
func (p *Player) Start() {
	if p.cfg.ReadyDelay <= 0 {
		p.becomeReady()
		return
	}
	p.clock.AfterFunc(p.cfg.ReadyDelay, p.becomeReady)
}

func (p *Player) becomeReady() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = true
	p.emit(player.Signal{Kind: player.SignalReady})
}

// FailNext makes the next call of the named command return err.
func (p *Player) FailNext(command string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext[command] = err
}

// InjectError emits a player error signal.
func (p *Player) InjectError(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emit(player.Signal{Kind: player.SignalError, Code: code})
}

func (p *Player) Signals() <-chan player.Signal {
	return p.signals
}

func (p *Player) Status() player.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Player) Play(ctx context.Context) error {
	if err := p.begin(ctx, "play"); err != nil {
		return err
	}
	defer p.mu.Unlock()

	if p.ref == "" {
		return ErrNoMedia
	}
	switch p.status {
	case player.StatusPlaying, player.StatusBuffering:
		return nil
	case player.StatusEnded:
		p.position = 0
	}
	p.startBuffering()
	return nil
}

func (p *Player) Pause(ctx context.Context) error {
	if err := p.begin(ctx, "pause"); err != nil {
		return err
	}
	defer p.mu.Unlock()

	if p.ref == "" || p.status == player.StatusPaused {
		return nil
	}
	p.position = p.positionLocked()
	p.stopTimers()
	p.setStatus(player.StatusPaused)
	return nil
}

func (p *Player) Stop(ctx context.Context) error {
	if err := p.begin(ctx, "stop"); err != nil {
		return err
	}
	defer p.mu.Unlock()

	p.stopTimers()
	p.position = 0
	p.setStatus(player.StatusUnstarted)
	return nil
}

func (p *Player) SeekTo(ctx context.Context, position float64, _ bool) error {
	if err := p.begin(ctx, "seek"); err != nil {
		return err
	}
	defer p.mu.Unlock()

	if p.ref == "" {
		return nil
	}
	if position < 0 {
		position = 0
	}
	if position > p.duration {
		position = p.duration
	}
	p.position = position
	p.anchor = p.clock.Now()

	switch p.status {
	case player.StatusPlaying, player.StatusBuffering:
		p.stopTimers()
		p.startBuffering()
	case player.StatusEnded, player.StatusCued, player.StatusUnstarted:
		p.setStatus(player.StatusPaused)
	default:
		p.setStatus(p.status)
	}
	return nil
}

func (p *Player) Cue(ctx context.Context, ref string, start float64) error {
	if err := p.begin(ctx, "cue"); err != nil {
		return err
	}
	defer p.mu.Unlock()

	p.stopTimers()
	if code, ok := p.cfg.ErrorCodes[ref]; ok {
		p.ref = ""
		p.setStatus(player.StatusUnstarted)
		p.emit(player.Signal{Kind: player.SignalError, Code: code})
		return nil
	}

	p.ref = ref
	p.duration = p.cfg.DefaultDuration
	if d, ok := p.cfg.Durations[ref]; ok {
		p.duration = d
	}
	if start < 0 {
		start = 0
	}
	if start > p.duration {
		start = p.duration
	}
	p.position = start
	p.anchor = p.clock.Now()
	p.setStatus(player.StatusCued)
	return nil
}

func (p *Player) Mute(ctx context.Context) error {
	if err := p.begin(ctx, "mute"); err != nil {
		return err
	}
	defer p.mu.Unlock()
	p.muted = true
	return nil
}

func (p *Player) Unmute(ctx context.Context) error {
	if err := p.begin(ctx, "unmute"); err != nil {
		return err
	}
	defer p.mu.Unlock()
	p.muted = false
	return nil
}

func (p *Player) IsMuted(ctx context.Context) (bool, error) {
	if err := p.begin(ctx, "is_muted"); err != nil {
		return false, err
	}
	defer p.mu.Unlock()
	return p.muted, nil
}

func (p *Player) SetVolume(ctx context.Context, volume int) error {
	if err := p.begin(ctx, "set_volume"); err != nil {
		return err
	}
	defer p.mu.Unlock()
	p.volume = min(max(volume, 0), 100)
	return nil
}

func (p *Player) Volume(ctx context.Context) (int, error) {
	if err := p.begin(ctx, "volume"); err != nil {
		return 0, err
	}
	defer p.mu.Unlock()
	return p.volume, nil
}

func (p *Player) CurrentTime(ctx context.Context) (float64, error) {
	if err := p.begin(ctx, "current_time"); err != nil {
		return 0, err
	}
	defer p.mu.Unlock()
	return p.positionLocked(), nil
}

func (p *Player) Duration(ctx context.Context) (float64, error) {
	if err := p.begin(ctx, "duration"); err != nil {
		return 0, err
	}
	defer p.mu.Unlock()
	if p.ref == "" {
		return 0, nil
	}
	return p.duration, nil
}

// LoadedFraction pretends thirty seconds ahead of the playhead are buffered.
func (p *Player) LoadedFraction(ctx context.Context) (float64, error) {
	if err := p.begin(ctx, "loaded_fraction"); err != nil {
		return 0, err
	}
	defer p.mu.Unlock()
	if p.ref == "" || p.duration <= 0 {
		return 0, nil
	}
	return min((p.positionLocked()+30)/p.duration, 1), nil
}

// begin waits out the command latency, then locks the player. On success the
// caller owns p.mu.
func (p *Player) begin(ctx context.Context, command string) error {
	if p.cfg.Latency > 0 {
		select {
		case <-p.clock.After(p.cfg.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	if err, ok := p.failNext[command]; ok {
		delete(p.failNext, command)
		p.mu.Unlock()
		return err
	}
	if !p.ready {
		p.mu.Unlock()
		return player.ErrNotReady
	}
	return nil
}

func (p *Player) positionLocked() float64 {
	if p.status != player.StatusPlaying {
		return p.position
	}
	pos := p.position + p.clock.Since(p.anchor).Seconds()
	return min(pos, p.duration)
}

func (p *Player) startBuffering() {
	p.setStatus(player.StatusBuffering)
	if p.cfg.BufferDelay <= 0 {
		p.startPlaying()
		return
	}
	p.bufferTimer = p.clock.AfterFunc(p.cfg.BufferDelay, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.status == player.StatusBuffering {
			p.startPlaying()
		}
	})
}

func (p *Player) startPlaying() {
	p.anchor = p.clock.Now()
	p.setStatus(player.StatusPlaying)

	remaining := p.duration - p.position
	if remaining <= 0 {
		p.finish()
		return
	}
	p.endTimer = p.clock.AfterFunc(time.Duration(remaining*float64(time.Second)), func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.status == player.StatusPlaying {
			p.finish()
		}
	})
}

func (p *Player) finish() {
	p.position = p.duration
	p.setStatus(player.StatusEnded)
}

func (p *Player) stopTimers() {
	if p.bufferTimer != nil {
		p.bufferTimer.Stop()
		p.bufferTimer = nil
	}
	if p.endTimer != nil {
		p.endTimer.Stop()
		p.endTimer = nil
	}
}

func (p *Player) setStatus(s player.Status) {
	p.status = s
	p.emit(player.Signal{Kind: player.SignalStateChange, Status: s})
}

func (p *Player) emit(sig player.Signal) {
	select {
	case p.signals <- sig:
	default:
		log.Warn().Int("kind", int(sig.Kind)).Msg("player signal buffer full, dropping signal")
	}
}
