// Package sim is a simulated Adaura attenuator for demo mode and tests.
package sim

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaunagostinho/adacon/internal/adacom"
)

// Config describes the simulated unit.
type Config struct {
	Model        string        `yaml:"model" json:"model"`
	SerialNumber string        `yaml:"serial_number" json:"serialNumber"`
	Firmware     string        `yaml:"firmware" json:"firmware"`
	Channels     int           `yaml:"channels" json:"channels"`
	Initial      float64       `yaml:"initial" json:"initial"`
	MinAtten     float64       `yaml:"min_attenuation" json:"minAttenuation"`
	MaxAtten     float64       `yaml:"max_attenuation" json:"maxAttenuation"`
	Delay        time.Duration `yaml:"delay" json:"delay"`
}

// DefaultConfig returns a four channel 0-95 dB unit.
func DefaultConfig() Config {
	return Config{
		Model:        "AD-USB4AR36G95",
		SerialNumber: "DEMO0001",
		Firmware:     "1.22",
		Channels:     4,
		Initial:      95,
		MinAtten:     0,
		MaxAtten:     95,
		Delay:        20 * time.Millisecond,
	}
}

// ErrUnplugged is returned by Open while the simulated cable is out.
var ErrUnplugged = errors.New("sim: device unplugged")

// Device is the simulated unit. It implements adacom.Transport; every Open
// behaves like plugging a terminal into the same box, so attenuations
// survive reconnects.
type Device struct {
	mu        sync.Mutex
	cfg       Config
	values    []float64
	silent    bool
	unplugged bool
	cur       *port
	log       zerolog.Logger
}

// New creates a simulated device.
func New(cfg Config, logger zerolog.Logger) *Device {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.SerialNumber == "" {
		cfg.SerialNumber = def.SerialNumber
	}
	if cfg.Firmware == "" {
		cfg.Firmware = def.Firmware
	}
	if cfg.Channels <= 0 {
		cfg.Channels = def.Channels
	}
	if cfg.MaxAtten <= cfg.MinAtten {
		cfg.MinAtten, cfg.MaxAtten = def.MinAtten, def.MaxAtten
	}
	values := make([]float64, cfg.Channels)
	for i := range values {
		values[i] = clamp(cfg.Initial, cfg.MinAtten, cfg.MaxAtten)
	}
	return &Device{
		cfg:    cfg,
		values: values,
		log:    logger.With().Str("component", "sim").Logger(),
	}
}

// Values returns the current attenuation of every channel.
func (d *Device) Values() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]float64, len(d.values))
	copy(out, d.values)
	return out
}

// SetSilent makes the device swallow commands without answering.
func (d *Device) SetSilent(silent bool) {
	d.mu.Lock()
	d.silent = silent
	d.mu.Unlock()
}

// Unplug drops the open port, reporting EOF to its reader, and makes Open
// fail until Plug is called.
func (d *Device) Unplug() {
	d.mu.Lock()
	d.unplugged = true
	p := d.cur
	d.cur = nil
	d.mu.Unlock()
	if p != nil {
		p.hangup()
	}
}

// Plug reverses Unplug.
func (d *Device) Plug() {
	d.mu.Lock()
	d.unplugged = false
	d.mu.Unlock()
}

// Open implements adacom.Transport.
func (d *Device) Open(path string, onLine func(string), onEOF func()) (adacom.Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unplugged {
		return nil, fmt.Errorf("%w: %s", ErrUnplugged, path)
	}
	p := &port{
		dev:    d,
		onLine: onLine,
		onEOF:  onEOF,
		out:    make(chan []string, 16),
		done:   make(chan struct{}),
	}
	d.cur = p
	go p.run(d.cfg.Delay)
	d.log.Info().Str("device", path).Str("model", d.cfg.Model).Msg("simulated device opened")
	return p, nil
}

// respond computes the reply lines for one command line.
func (d *Device) respond(cmd string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.silent {
		return nil
	}
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "info":
		defaults := make([]string, len(d.values))
		for i := range defaults {
			defaults[i] = strconv.FormatFloat(d.cfg.Initial, 'f', -1, 64)
		}
		return []string{
			"--",
			"-- Adaura Technologies",
			"--",
			"Model: " + d.cfg.Model,
			"SN: " + d.cfg.SerialNumber,
			"FW Version: " + d.cfg.Firmware,
			"Default Attenuations: " + strings.Join(defaults, " "),
			"DHCP: OFF",
		}
	case "status":
		lines := make([]string, len(d.values))
		for i, v := range d.values {
			lines[i] = fmt.Sprintf("Channel %d: %.2f", i+1, v)
		}
		return lines
	case "set":
		if len(fields) != 3 {
			return []string{"Invalid command"}
		}
		ch, err := strconv.Atoi(fields[1])
		if err != nil || ch < 1 || ch > len(d.values) {
			return []string{"Invalid command"}
		}
		v, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return []string{"Invalid command"}
		}
		v = clamp(v, d.cfg.MinAtten, d.cfg.MaxAtten)
		d.values[ch-1] = v
		return []string{fmt.Sprintf("Channel %d successfully set to %.2f", ch, v)}
	default:
		return []string{"Invalid command"}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// port is one open session with the simulated device. Replies go out in
// order from a single goroutine after the configured delay.
type port struct {
	dev    *Device
	onLine func(string)
	onEOF  func()

	mu     sync.Mutex
	closed bool
	out    chan []string
	done   chan struct{}
	once   sync.Once
	eof    bool
}

func (p *port) Write(b []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}
	for _, cmd := range strings.Split(string(b), "\n") {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		p.dev.log.Debug().Str("cmd", cmd).Msg("received")
		if lines := p.dev.respond(cmd); len(lines) > 0 {
			select {
			case p.out <- lines:
			case <-p.done:
				return 0, io.ErrClosedPipe
			}
		}
	}
	return len(b), nil
}

func (p *port) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.once.Do(func() { close(p.done) })

	p.dev.mu.Lock()
	if p.dev.cur == p {
		p.dev.cur = nil
	}
	p.dev.mu.Unlock()
	return nil
}

// hangup ends the session from the device side.
func (p *port) hangup() {
	p.mu.Lock()
	p.eof = true
	p.mu.Unlock()
	p.once.Do(func() { close(p.done) })
}

func (p *port) run(delay time.Duration) {
	for {
		select {
		case lines := <-p.out:
			if delay > 0 {
				t := time.NewTimer(delay)
				select {
				case <-t.C:
				case <-p.done:
					t.Stop()
					p.finish()
					return
				}
			}
			for _, l := range lines {
				if p.isClosed() {
					return
				}
				p.onLine(l)
			}
		case <-p.done:
			p.finish()
			return
		}
	}
}

func (p *port) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *port) finish() {
	p.mu.Lock()
	eof := p.eof && !p.closed
	p.mu.Unlock()
	if eof {
		p.onEOF()
	}
}
