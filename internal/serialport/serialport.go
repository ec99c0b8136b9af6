// Package serialport is the go.bug.st/serial transport for the adacom
// engine: it opens the device 8N1 and turns the byte stream into lines.
package serialport

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/shaunagostinho/adacon/internal/adacom"
)

// DefaultBaudRate is what Adaura units ship with.
const DefaultBaudRate = 115200

// Config holds serial settings.
type Config struct {
	BaudRate int `yaml:"baud_rate" json:"baudRate"`
}

// Transport implements adacom.Transport over a local serial device.
type Transport struct {
	baudRate int
	log      zerolog.Logger

	// open is serial.Open, swapped out in tests.
	open func(path string, mode *serial.Mode) (serial.Port, error)
}

// New creates a serial transport.
func New(cfg Config, logger zerolog.Logger) *Transport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	return &Transport{
		baudRate: cfg.BaudRate,
		log:      logger.With().Str("component", "serial").Logger(),
		open:     serial.Open,
	}
}

// Open implements adacom.Transport.
func (t *Transport) Open(path string, onLine func(string), onEOF func()) (adacom.Port, error) {
	mode := &serial.Mode{
		BaudRate: t.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	sp, err := t.open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: failed to open %s: %w", path, err)
	}
	t.log.Info().Str("device", path).Int("baud", t.baudRate).Msg("opened serial device")

	p := &Port{port: sp, path: path, log: t.log}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		readLines(sp, onLine, func() {
			if p.closed.Load() {
				return
			}
			onEOF()
		}, p.log)
	}()
	return p, nil
}

// Port is an open serial device with a running line reader.
type Port struct {
	port   serial.Port
	path   string
	log    zerolog.Logger
	closed atomic.Bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// Write sends raw bytes to the device.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return p.port.Write(b)
}

// Close closes the device and waits for the reader to stop. A local close
// does not produce an EOF notification.
func (p *Port) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.mu.Lock()
	err := p.port.Close()
	p.mu.Unlock()
	p.wg.Wait()
	p.log.Info().Str("device", p.path).Msg("closed serial device")
	return err
}

// readLines scans newline-delimited lines from r until it fails, then calls
// onEOF once. Carriage returns are stripped.
func readLines(r io.Reader, onLine func(string), onEOF func(), log zerolog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		onLine(strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		log.Debug().Err(err).Msg("reader stopped")
	}
	onEOF()
}
