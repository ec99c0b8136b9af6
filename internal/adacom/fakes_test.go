package adacom

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// manualSched queues posted work until run is called and hands out timers
// the test fires by hand.
type manualSched struct {
	queue  []func()
	timers []*manualTimer
}

func (s *manualSched) Post(fn func()) { s.queue = append(s.queue, fn) }

func (s *manualSched) AfterFunc(d time.Duration, fn func()) Timer {
	t := &manualTimer{fn: fn, d: d, pending: true, arms: 1}
	s.timers = append(s.timers, t)
	return t
}

func (s *manualSched) run() {
	for len(s.queue) > 0 {
		fn := s.queue[0]
		s.queue = s.queue[1:]
		fn()
	}
}

type manualTimer struct {
	fn      func()
	d       time.Duration
	pending bool
	arms    int
}

func (t *manualTimer) Reset(d time.Duration) {
	t.d = d
	t.pending = true
	t.arms++
}

func (t *manualTimer) Stop()         { t.pending = false }
func (t *manualTimer) Pending() bool { return t.pending }

func (t *manualTimer) fire() {
	if !t.pending {
		return
	}
	t.pending = false
	t.fn()
}

type fakeTransport struct {
	openErr error
	opens   int
	path    string
	ports   []*fakePort
}

func (f *fakeTransport) Open(path string, onLine func(string), onEOF func()) (Port, error) {
	f.opens++
	f.path = path
	if f.openErr != nil {
		return nil, f.openErr
	}
	p := &fakePort{onLine: onLine, onEOF: onEOF}
	f.ports = append(f.ports, p)
	return p, nil
}

func (f *fakeTransport) port() *fakePort {
	if len(f.ports) == 0 {
		return nil
	}
	return f.ports[len(f.ports)-1]
}

type fakePort struct {
	onLine   func(string)
	onEOF    func()
	writes   []string
	writeErr error
	closed   bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.writes = append(p.writes, strings.TrimSuffix(string(b), "\n"))
	return len(b), nil
}

func (p *fakePort) Close() error {
	if p.closed {
		return errors.New("already closed")
	}
	p.closed = true
	return nil
}

func (p *fakePort) last() string {
	if len(p.writes) == 0 {
		return ""
	}
	return p.writes[len(p.writes)-1]
}

type harness struct {
	t     *testing.T
	sched *manualSched
	tr    *fakeTransport
	eng   *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, sched: &manualSched{}, tr: &fakeTransport{}}
	h.eng = New(h.tr, h.sched, Options{
		Device: "/dev/ttyTEST",
		Logger: zerolog.Nop(),
	})
	return h
}

// feed delivers lines from the current port and drains the scheduler.
func (h *harness) feed(lines ...string) {
	h.t.Helper()
	p := h.tr.port()
	if p == nil {
		h.t.Fatal("no port open")
	}
	for _, l := range lines {
		p.onLine(l)
		h.sched.run()
	}
}

func (h *harness) eof() {
	h.tr.port().onEOF()
	h.sched.run()
}

func (h *harness) watchdog() *manualTimer {
	h.t.Helper()
	if h.eng.wdog == nil {
		h.t.Fatal("watchdog never armed")
	}
	return h.eng.wdog.(*manualTimer)
}

// connect runs a full handshake reporting the given per-channel values.
func (h *harness) connect(values ...string) {
	h.t.Helper()
	var got []error
	if err := h.eng.Connect(func(err error) { got = append(got, err) }); err != nil {
		h.t.Fatalf("Connect() err=%v", err)
	}
	h.feed(
		"-- Adaura Technologies --",
		"Model: AD-USB4AR36G95",
		"SN: 20180712",
		"Default Attenuations: "+strings.Join(values, " "),
		"DHCP: OFF",
	)
	for i, v := range values {
		h.feed("Channel " + strconv.Itoa(i+1) + ": " + v)
	}
	if len(got) != 1 || got[0] != nil {
		h.t.Fatalf("connect callback results=%v, want one nil", got)
	}
	if s := h.eng.State(); s != StateConnected {
		h.t.Fatalf("state=%v, want CONNECTED", s)
	}
}
