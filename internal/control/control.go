// Package control turns operator intents (select a channel, step it, solo
// it, ...) into engine commands. Every method is safe for concurrent use;
// the work itself runs on the engine's loop.
package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shaunagostinho/adacon/internal/adacom"
)

// Settings are the operator-tunable knobs.
type Settings struct {
	Pivot float64 `yaml:"pivot_attenuation" json:"pivotAttenuation"` // dB, solo step mirrors around it
	Step  float64 `yaml:"step" json:"step"`                          // dB per up/down
}

// DefaultSettings returns a 60 dB pivot and 5 dB steps.
func DefaultSettings() Settings {
	return Settings{Pivot: 60, Step: 5}
}

// Validate rejects settings the intents cannot use.
func (s Settings) Validate() error {
	if !(s.Step > 0) || math.IsInf(s.Step, 0) {
		return fmt.Errorf("control: step must be positive, got %v", s.Step)
	}
	if math.IsNaN(s.Pivot) || math.IsInf(s.Pivot, 0) {
		return fmt.Errorf("control: invalid pivot %v", s.Pivot)
	}
	return nil
}

// Snapshot is what the dashboard and the web API render.
type Snapshot struct {
	adacom.Snapshot
	Selected int           `json:"selected"` // 0-based, -1 when none
	Limits   adacom.Limits `json:"limits"`
	Settings Settings      `json:"settings"`
}

// Controller owns an engine and the current channel selection.
type Controller struct {
	loop *adacom.Loop
	eng  *adacom.Engine
	log  zerolog.Logger

	// Loop-owned.
	settings Settings
	selected int

	mu   sync.Mutex
	subs map[chan Snapshot]struct{}
}

// New builds the engine on loop and wraps it. opts.OnChange is taken over
// to feed subscribers.
func New(loop *adacom.Loop, tr adacom.Transport, opts adacom.Options, settings Settings) *Controller {
	if settings.Validate() != nil {
		settings = DefaultSettings()
	}
	c := &Controller{
		loop:     loop,
		log:      opts.Logger.With().Str("component", "control").Logger(),
		settings: settings,
		selected: -1,
		subs:     make(map[chan Snapshot]struct{}),
	}
	opts.OnChange = c.publish
	c.eng = adacom.New(tr, loop, opts)
	return c
}

// Subscribe returns a channel that always holds the latest snapshot, and a
// function that ends the subscription.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()
	c.loop.Post(c.publish)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, ch)
			c.mu.Unlock()
		})
	}
}

// Snapshot reads the current state through the loop.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.loop.Do(ctx, func() { s = c.snapshot() })
	return s, err
}

// SetSettings replaces the operator settings.
func (c *Controller) SetSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.loop.Post(func() {
		c.settings = s
		c.publish()
	})
	return nil
}

// Connect starts a connection unless one is already up.
func (c *Controller) Connect() {
	c.loop.Post(func() {
		if err := c.connect(nil); err != nil && !errors.Is(err, adacom.ErrDeviceBusy) {
			c.log.Error().Err(err).Msg("connect failed")
		}
	})
}

// ConnectWait connects and waits for the handshake to finish.
func (c *Controller) ConnectWait(ctx context.Context) error {
	res := make(chan error, 1)
	var err error
	if doErr := c.loop.Do(ctx, func() {
		err = c.connect(func(e error) { res <- e })
	}); doErr != nil {
		return doErr
	}
	if err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect drops the connection and the selection.
func (c *Controller) Disconnect() {
	c.loop.Post(c.disconnect)
}

// DisconnectWait is Disconnect for callers that need it done.
func (c *Controller) DisconnectWait(ctx context.Context) error {
	return c.loop.Do(ctx, c.disconnect)
}

// Close tears the engine down. The loop must still be running.
func (c *Controller) Close(ctx context.Context) error {
	return c.loop.Do(ctx, func() {
		c.selected = -1
		c.eng.Close()
	})
}

// Select selects a 0-based channel; anything out of range clears the
// selection.
func (c *Controller) Select(ch int) {
	c.loop.Post(func() { c.selectChannel(ch) })
}

// Shift moves the selection by delta, wrapping at both ends.
func (c *Controller) Shift(delta int) {
	c.loop.Post(func() { c.shift(delta) })
}

// StepSelected raises (up) or lowers the selected channel by one step.
func (c *Controller) StepSelected(up bool) {
	c.loop.Post(func() { c.stepSelected(up) })
}

// SelectedToMax sets the selected channel to the maximum attenuation.
func (c *Controller) SelectedToMax() {
	c.loop.Post(func() { c.selectedTo(c.eng.Limits().MaxAttenuation) })
}

// SelectedToMin sets the selected channel to the minimum attenuation.
func (c *Controller) SelectedToMin() {
	c.loop.Post(func() { c.selectedTo(c.eng.Limits().MinAttenuation) })
}

// AllToMax sets every channel to the maximum attenuation.
func (c *Controller) AllToMax() {
	c.loop.Post(func() { c.allTo(c.eng.Limits().MaxAttenuation) })
}

// AllToMin sets every channel to the minimum attenuation.
func (c *Controller) AllToMin() {
	c.loop.Post(func() { c.allTo(c.eng.Limits().MinAttenuation) })
}

// Solo opens the selected channel fully and closes all others.
func (c *Controller) Solo() {
	c.loop.Post(c.solo)
}

// SoloStep lowers the selected channel by one step and raises every other
// channel to at least twice the pivot minus the new solo value.
func (c *Controller) SoloStep() {
	c.loop.Post(c.soloStep)
}

// SetChannel writes one 0-based channel and waits for the device to
// confirm it. It returns the value the device acknowledged.
func (c *Controller) SetChannel(ctx context.Context, ch int, value float64) (float64, error) {
	type result struct {
		err   error
		value float64
	}
	res := make(chan result, 1)
	var err error
	if doErr := c.loop.Do(ctx, func() {
		err = c.eng.SetChannel(ch, value, func(e error, _ int, v float64) {
			res <- result{e, v}
		})
	}); doErr != nil {
		return 0, doErr
	}
	if err != nil {
		return 0, err
	}
	select {
	case r := <-res:
		if r.err != nil {
			return 0, r.err
		}
		return c.channelValue(ctx, ch)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// SetAll writes every channel and waits until the device has confirmed
// them all.
func (c *Controller) SetAll(ctx context.Context, values []float64) error {
	res := make(chan error, 1)
	var err error
	if doErr := c.loop.Do(ctx, func() {
		err = c.eng.SetAllChannels(values, func(e error, _ []float64, _ int) { res <- e })
		if err == nil && !c.eng.Busy() {
			// Nothing to write.
			res <- nil
		}
	}); doErr != nil {
		return doErr
	}
	if err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) channelValue(ctx context.Context, ch int) (float64, error) {
	var v float64
	var err error
	if doErr := c.loop.Do(ctx, func() { v, err = c.eng.GetChannel(ch) }); doErr != nil {
		return 0, doErr
	}
	return v, err
}

// The methods below run on the loop.

func (c *Controller) snapshot() Snapshot {
	return Snapshot{
		Snapshot: c.eng.Snapshot(),
		Selected: c.selected,
		Limits:   c.eng.Limits(),
		Settings: c.settings,
	}
}

func (c *Controller) publish() {
	if c.eng == nil {
		// Still inside adacom.New.
		return
	}
	snap := c.snapshot()
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (c *Controller) connected() bool {
	return c.eng.State() == adacom.StateConnected
}

func (c *Controller) connect(cb adacom.ConnectFunc) error {
	if c.connected() {
		c.log.Info().Msg("adaura already is connected")
		return adacom.ErrDeviceBusy
	}
	return c.eng.Connect(func(err error) {
		if err == nil {
			c.selected = -1
			c.log.Info().Msgf("connected to %s (%s) with %d channels",
				c.eng.Model(), c.eng.SerialNumber(), c.eng.NumChannels())
		}
		if cb != nil {
			cb(err)
		}
	})
}

func (c *Controller) disconnect() {
	if c.connected() {
		c.log.Info().Msgf("disconnect from %s (%s)", c.eng.Model(), c.eng.SerialNumber())
	}
	c.selected = -1
	c.eng.Disconnect()
	c.publish()
}

func (c *Controller) selectChannel(ch int) {
	if ch < 0 || ch >= c.eng.NumChannels() {
		ch = -1
	}
	c.selected = ch
	c.publish()
}

func (c *Controller) shift(delta int) {
	n := c.eng.NumChannels()
	if !c.connected() || n == 0 {
		return
	}
	switch {
	case c.selected < 0 && delta < 0:
		c.selected = n - 1
	case c.selected < 0:
		c.selected = 0
	default:
		c.selected = ((c.selected+delta)%n + n) % n
	}
	c.publish()
}

func (c *Controller) stepSelected(up bool) {
	if c.selected < 0 || !c.connected() {
		return
	}
	v, err := c.eng.GetChannel(c.selected)
	if err != nil {
		return
	}
	c.setOne(c.selected, StepValue(v, c.settings.Step, up))
}

func (c *Controller) selectedTo(v float64) {
	if c.selected < 0 || !c.connected() {
		return
	}
	c.setOne(c.selected, v)
}

func (c *Controller) allTo(v float64) {
	if !c.connected() {
		return
	}
	values := make([]float64, c.eng.NumChannels())
	for i := range values {
		values[i] = v
	}
	c.setAll(values)
}

func (c *Controller) solo() {
	if c.selected < 0 || !c.connected() {
		return
	}
	l := c.eng.Limits()
	c.setAll(Solo(c.eng.NumChannels(), c.selected, l.MinAttenuation, l.MaxAttenuation))
}

func (c *Controller) soloStep() {
	if c.selected < 0 || !c.connected() {
		return
	}
	values := make([]float64, c.eng.NumChannels())
	if err := c.eng.GetAllChannels(values); err != nil {
		return
	}
	c.setAll(SoloStep(values, c.selected, c.settings.Step, c.settings.Pivot))
}

func (c *Controller) setOne(ch int, v float64) {
	err := c.eng.SetChannel(ch, v, func(err error, ch int, _ float64) {
		if err != nil {
			c.log.Error().Err(err).Msgf("unable to set attenuation of channel %d", ch+1)
		}
	})
	if err != nil {
		c.log.Warn().Err(err).Int("channel", ch+1).Msg("set channel refused")
	}
}

func (c *Controller) setAll(values []float64) {
	err := c.eng.SetAllChannels(values, func(err error, _ []float64, _ int) {
		if err != nil {
			c.log.Error().Err(err).Msg("unable to set all attenuations")
		}
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("set all channels refused")
	}
}

// StepValue moves v to the next multiple of step above (up) or below it,
// counting from the truncated number of whole steps in v.
func StepValue(v, step float64, up bool) float64 {
	n := math.Trunc(v / step)
	if up {
		n++
	} else {
		n--
	}
	return n * step
}

// Solo returns n values with sel at lo and every other channel at hi.
func Solo(n, sel int, lo, hi float64) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = hi
	}
	if sel >= 0 && sel < n {
		values[sel] = lo
	}
	return values
}

// SoloStep lowers values[sel] by one step and raises every other channel
// to at least 2*pivot minus the new solo value. values is modified and
// returned.
func SoloStep(values []float64, sel int, step, pivot float64) []float64 {
	solo := StepValue(values[sel], step, false)
	floor := 2*pivot - solo
	for i := range values {
		if i == sel {
			values[i] = solo
			continue
		}
		if values[i] < floor {
			values[i] = floor
		}
	}
	return values
}
