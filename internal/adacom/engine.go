// Package adacom drives an Adaura attenuator over its line-oriented serial
// protocol.
//
// The link is half-duplex text with no request IDs, so the engine allows a
// single command in flight and correlates every received line positionally:
// the connection state, the handshake step and the channel cursor of the
// current operation decide what a line means. A watchdog timer guards each
// command; when it fires the engine gives up, enters StateError and reports
// ErrCommandTimeout through the pending callback.
//
// An Engine is not safe for concurrent use. Every method, and every
// notification from the transport and the watchdog, must run on the
// Scheduler passed to New (normally a *Loop).
package adacom

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configures an Engine.
type Options struct {
	Device  string        // serial device path handed to Transport.Open
	Limits  Limits        // zero value means DefaultLimits
	Timeout time.Duration // per-command watchdog, 0 means DefaultTimeout
	Logger  zerolog.Logger

	// OnChange, if set, is called on the loop after every state change,
	// mirror update and command completion.
	OnChange func()
}

// DeviceInfo is what the handshake learned about the connected unit.
type DeviceInfo struct {
	Model        string   `json:"model"`
	SerialNumber string   `json:"serialNumber"`
	Channels     int      `json:"channels"`
	Defaults     []string `json:"defaults,omitempty"` // raw Default Attenuations tokens
}

// Snapshot is a copy of the engine's observable state.
type Snapshot struct {
	State        State      `json:"state"`
	Info         DeviceInfo `json:"info"`
	Attenuations []float64  `json:"attenuations"`
	Busy         bool       `json:"busy"`
}

// Engine owns the connection to one device.
type Engine struct {
	device   string
	limits   Limits
	timeout  time.Duration
	tr       Transport
	sched    Scheduler
	log      zerolog.Logger
	onChange func()

	state   State
	port    Port
	portGen uint64
	wdog    Timer

	info         DeviceInfo
	attenuations []float64 // confirmed values, MaxChannels long

	op operation
}

// New creates an engine in StateInitialised. Nothing is opened until
// Connect.
func New(tr Transport, sched Scheduler, opts Options) *Engine {
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}
	if opts.Limits.MaxChannels <= 0 {
		opts.Limits.MaxChannels = DefaultMaxChannels
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	e := &Engine{
		device:       opts.Device,
		limits:       opts.Limits,
		timeout:      opts.Timeout,
		tr:           tr,
		sched:        sched,
		log:          opts.Logger.With().Str("component", "adacom").Logger(),
		onChange:     opts.OnChange,
		attenuations: make([]float64, opts.Limits.MaxChannels),
	}
	e.resetInfo()
	e.changeState(StateInitialised)
	return e
}

// State returns the current connection state.
func (e *Engine) State() State { return e.state }

// Info returns the device information gathered by the last handshake.
func (e *Engine) Info() DeviceInfo {
	info := e.info
	if e.info.Defaults != nil {
		info.Defaults = append([]string(nil), e.info.Defaults...)
	}
	return info
}

// Model returns the device model, empty before the handshake reports it.
func (e *Engine) Model() string { return e.info.Model }

// SerialNumber returns the device serial number.
func (e *Engine) SerialNumber() string { return e.info.SerialNumber }

// NumChannels returns the channel count, 0 until the handshake reports it.
func (e *Engine) NumChannels() int { return e.info.Channels }

// Limits returns the attenuation limits in use.
func (e *Engine) Limits() Limits { return e.limits }

// Busy reports whether a command is in flight.
func (e *Engine) Busy() bool {
	return e.wdog != nil && e.wdog.Pending()
}

// Snapshot copies the observable state.
func (e *Engine) Snapshot() Snapshot {
	values := make([]float64, e.info.Channels)
	copy(values, e.attenuations)
	return Snapshot{
		State:        e.state,
		Info:         e.Info(),
		Attenuations: values,
		Busy:         e.Busy(),
	}
}

// Connect opens the transport and starts the handshake. cb is called once
// when the handshake succeeds or fails. An open failure returns
// ErrDeviceNotFound and leaves the engine in StateError without calling cb.
func (e *Engine) Connect(cb ConnectFunc) error {
	switch e.state {
	case StateConnecting, StateConnected:
		return ErrDeviceBusy
	}

	// A port left open by a failed session is replaced.
	e.stopWatchdog()
	e.closePort()

	e.portGen++
	gen := e.portGen
	port, err := e.tr.Open(e.device,
		func(line string) { e.sched.Post(func() { e.handleLine(gen, line) }) },
		func() { e.sched.Post(func() { e.handleEOF(gen) }) },
	)
	if err != nil {
		e.log.Error().Err(err).Str("device", e.device).Msg("unable to open serial device")
		e.changeState(StateError)
		return fmt.Errorf("%w: %s: %v", ErrDeviceNotFound, e.device, err)
	}
	e.port = port

	e.changeState(StateConnecting)
	e.resetInfo()
	e.op = &connectOp{cb: cb, step: stepGetInfos}
	if err := e.send("info"); err != nil {
		e.fail(err)
	}
	return nil
}

// Disconnect closes the transport and forgets the device information. It
// does nothing unless the engine is Connected. A command still in flight
// completes with ErrDeviceNotAvailable.
func (e *Engine) Disconnect() {
	if e.port == nil || e.state != StateConnected {
		return
	}
	e.closePort()
	e.resetInfo()
	e.changeState(StateDisconnected)
	if e.op != nil {
		e.complete(ErrDeviceNotAvailable)
	}
}

// Close tears the engine down: it disconnects, closes any port left open
// by a failed session and clears the device information.
func (e *Engine) Close() {
	e.Disconnect()
	e.closePort()
	if e.op != nil {
		e.complete(ErrDeviceNotAvailable)
	}
	e.stopWatchdog()
	e.resetInfo()
	e.notify()
}

// GetChannel returns the last confirmed attenuation of a 0-based channel.
func (e *Engine) GetChannel(ch int) (float64, error) {
	if ch < 0 || ch >= e.info.Channels {
		return 0, ErrInvalidChannel
	}
	return e.attenuations[ch], nil
}

// GetAllChannels copies the mirror into values, whose length must match
// the device's channel count.
func (e *Engine) GetAllChannels(values []float64) error {
	if e.state != StateConnected {
		return ErrNotConnected
	}
	if len(values) != e.info.Channels {
		return ErrChannelCount
	}
	copy(values, e.attenuations[:e.info.Channels])
	return nil
}

// SetChannel writes one 0-based channel. The value is quantized to the
// device's resolution first. The result arrives through cb.
func (e *Engine) SetChannel(ch int, value float64, cb ChannelFunc) error {
	if e.state != StateConnected {
		return ErrNotConnected
	}
	if ch < 0 || ch >= e.info.Channels {
		return ErrInvalidChannel
	}
	if !validAttenuation(value) {
		return ErrInvalidAttenuation
	}
	if err := e.ready(); err != nil {
		return err
	}
	v := e.limits.Quantize(value)
	e.op = &setOneOp{cb: cb, channel: ch, value: v}
	return e.send(setCommand(ch, v))
}

// SetAllChannels writes every channel whose quantized target differs from
// its confirmed value, one command at a time. If nothing differs it returns
// nil without writing and without calling cb.
func (e *Engine) SetAllChannels(values []float64, cb ChannelsFunc) error {
	if e.state != StateConnected {
		return ErrNotConnected
	}
	if len(values) != e.info.Channels {
		return ErrChannelCount
	}
	if err := e.ready(); err != nil {
		return err
	}
	req := make([]float64, len(values))
	for i, v := range values {
		if !validAttenuation(v) {
			return ErrInvalidAttenuation
		}
		req[i] = e.limits.Quantize(v)
	}
	cur := e.skipGoodValues(req, 0)
	if cur >= e.info.Channels {
		e.log.Debug().Msg("channels are already set to requested values")
		return nil
	}
	e.op = &setAllOp{cb: cb, cursor: cur, values: req}
	return e.send(setCommand(cur, req[cur]))
}

// ready checks that a command can be sent right now.
func (e *Engine) ready() error {
	if e.port == nil {
		return ErrDeviceNotAvailable
	}
	if e.Busy() {
		return ErrDeviceBusy
	}
	return nil
}

// send writes one command line and arms the watchdog.
func (e *Engine) send(cmd string) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.log.Debug().Msgf("[->] %s", cmd)
	if _, err := e.port.Write([]byte(cmd + "\n")); err != nil {
		// The watchdog decides what a lost command means.
		e.log.Warn().Err(err).Str("cmd", cmd).Msg("write failed")
	}
	e.startWatchdog()
	return nil
}

func (e *Engine) startWatchdog() {
	if e.wdog == nil {
		e.wdog = e.sched.AfterFunc(e.timeout, e.onWatchdog)
		return
	}
	e.wdog.Reset(e.timeout)
}

func (e *Engine) stopWatchdog() {
	if e.wdog != nil {
		e.wdog.Stop()
	}
}

func (e *Engine) onWatchdog() {
	op := "none"
	if e.op != nil {
		op = e.op.kind()
	}
	e.log.Error().Str("op", op).Dur("timeout", e.timeout).Msg("no response from device")
	e.fail(ErrCommandTimeout)
}

func (e *Engine) closePort() {
	if e.port == nil {
		return
	}
	if err := e.port.Close(); err != nil {
		e.log.Warn().Err(err).Msg("close failed")
	}
	e.port = nil
}

func (e *Engine) resetInfo() {
	e.info = DeviceInfo{}
	for i := range e.attenuations {
		e.attenuations[i] = 0
	}
}

func (e *Engine) changeState(s State) {
	if e.state == s {
		return
	}
	e.log.Debug().Msgf("%s ---> %s", e.state, s)
	e.state = s
	e.notify()
}

func (e *Engine) notify() {
	if e.onChange != nil {
		e.onChange()
	}
}

// skipGoodValues returns the first channel at or after ch whose requested
// value differs from the mirror, or the channel count if none does.
func (e *Engine) skipGoodValues(req []float64, ch int) int {
	for ; ch < e.info.Channels; ch++ {
		if req[ch] != e.attenuations[ch] {
			return ch
		}
	}
	return ch
}

func (e *Engine) handleEOF(gen uint64) {
	if gen != e.portGen || e.port == nil {
		return
	}
	e.log.Error().Str("device", e.device).Msg("received EOF from serial device")
	switch e.state {
	case StateConnected:
		e.Disconnect()
	case StateConnecting:
		e.closePort()
		e.fail(ErrDeviceNotAvailable)
	default:
		e.closePort()
	}
}

func (e *Engine) handleLine(gen uint64, raw string) {
	if gen != e.portGen || e.port == nil {
		return
	}
	line := strings.TrimSpace(raw)
	if ignoredLine(line) {
		return
	}
	e.log.Debug().Msgf("[<-] %s", line)
	switch e.state {
	case StateConnecting:
		e.processConnecting(line)
	case StateConnected:
		e.processCommand(line)
	}
}

func (e *Engine) processConnecting(line string) {
	op, ok := e.op.(*connectOp)
	if !ok {
		e.log.Error().Msg("error in connection state machine")
		e.fail(ErrUnknown)
		return
	}
	switch op.step {
	case stepGetInfos:
		e.processInfo(op, line)
	case stepGetStatus:
		e.processStatus(op, line)
	default:
		e.log.Error().Stringer("step", op.step).Msg("error in connection state machine")
		e.fail(ErrUnknown)
	}
}

func (e *Engine) processInfo(op *connectOp, line string) {
	key, value, ok := splitInfo(line)
	if !ok {
		return
	}
	switch key {
	case "Model":
		e.info.Model = value
	case "SN":
		e.info.SerialNumber = value
	case "Default Attenuations":
		tokens := splitDefaults(value)
		if len(tokens) > e.limits.MaxChannels {
			e.log.Error().Int("channels", len(tokens)).Int("max", e.limits.MaxChannels).Msg("too many channels")
			e.fail(ErrDeviceNotSupported)
			return
		}
		e.info.Defaults = tokens
		e.info.Channels = len(tokens)
	case "DHCP":
		if e.info.Model == "" || e.info.SerialNumber == "" || e.info.Channels == 0 {
			e.log.Error().Msg("missing device information")
			e.fail(ErrDeviceNotSupported)
			return
		}
		e.stopWatchdog()
		e.log.Debug().Msgf("response from %s (%s) with %d channels", e.info.Model, e.info.SerialNumber, e.info.Channels)
		op.step = stepGetStatus
		op.next = 1
		e.notify()
		if err := e.send("status"); err != nil {
			e.fail(err)
		}
	}
}

func (e *Engine) processStatus(op *connectOp, line string) {
	cv, matched, err := matchStatus(line)
	if !matched {
		return
	}
	if err != nil {
		e.log.Warn().Err(err).Str("line", line).Msg("unable to parse channel value")
		return
	}
	if cv.Channel < 1 || cv.Channel > e.info.Channels {
		return
	}
	e.log.Debug().Msgf("got %.2fdB attenuation for channel %d", cv.Value, cv.Channel)
	if cv.Channel != op.next {
		e.log.Warn().Int("channel", cv.Channel).Int("expected", op.next).Msg("unexpected channel number")
		return
	}
	e.attenuations[cv.Channel-1] = cv.Value
	op.next++
	if op.next > e.info.Channels {
		e.changeState(StateConnected)
		e.complete(nil)
	}
}

func (e *Engine) processCommand(line string) {
	switch op := e.op.(type) {
	case *setOneOp:
		e.processSet(line, op.channel)
	case *setAllOp:
		e.processSet(line, op.cursor)
	default:
		if e.Busy() {
			e.log.Warn().Str("line", line).Msg("unexpected response from device")
		} else {
			e.log.Warn().Str("line", line).Msg("unsolicited line from device")
		}
	}
}

// processSet handles a line while a set command for the 0-based channel
// target is in flight.
func (e *Engine) processSet(line string, target int) {
	cv, matched, err := matchSet(line)
	if !matched {
		if isRejection(line) {
			e.log.Warn().Str("line", line).Msg("device rejected command")
			e.complete(ErrCommandRejected)
		}
		return
	}
	if err != nil {
		e.log.Warn().Err(err).Str("line", line).Msg("unable to parse channel value")
		return
	}
	if cv.Channel-1 != target {
		e.log.Warn().Int("channel", cv.Channel).Int("expected", target+1).Msg("unexpected channel number")
		return
	}

	e.stopWatchdog()
	e.attenuations[target] = cv.Value
	e.notify()

	switch op := e.op.(type) {
	case *setOneOp:
		e.complete(nil)
	case *setAllOp:
		op.cursor = e.skipGoodValues(op.values, op.cursor+1)
		if op.cursor >= e.info.Channels {
			e.complete(nil)
			return
		}
		if err := e.send(setCommand(op.cursor, op.values[op.cursor])); err != nil {
			e.complete(err)
		}
	default:
		e.fail(ErrUnknown)
	}
}
