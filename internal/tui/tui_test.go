package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/shaunagostinho/adacon/internal/adacom"
	"github.com/shaunagostinho/adacon/internal/control"
)

type fakeCtrl struct {
	calls []string
}

func (f *fakeCtrl) record(s string)       { f.calls = append(f.calls, s) }
func (f *fakeCtrl) Connect()              { f.record("connect") }
func (f *fakeCtrl) Disconnect()           { f.record("disconnect") }
func (f *fakeCtrl) Select(ch int)         { f.record("select " + string(rune('0'+ch))) }
func (f *fakeCtrl) Shift(delta int)       { f.record(map[int]string{-1: "left", 1: "right"}[delta]) }
func (f *fakeCtrl) StepSelected(up bool)  { f.record(map[bool]string{true: "up", false: "down"}[up]) }
func (f *fakeCtrl) SelectedToMax()        { f.record("max") }
func (f *fakeCtrl) SelectedToMin()        { f.record("min") }
func (f *fakeCtrl) AllToMax()             { f.record("all max") }
func (f *fakeCtrl) AllToMin()             { f.record("all min") }
func (f *fakeCtrl) Solo()                 { f.record("solo") }
func (f *fakeCtrl) SoloStep()             { f.record("solo step") }

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestKeys(t *testing.T) {
	tests := []struct {
		msg  tea.KeyMsg
		want string
	}{
		{runes("c"), "connect"},
		{runes("x"), "disconnect"},
		{runes("m"), "all max"},
		{runes("n"), "all min"},
		{runes("s"), "solo step"},
		{runes("S"), "solo"},
		{tea.KeyMsg{Type: tea.KeyUp}, "up"},
		{tea.KeyMsg{Type: tea.KeyDown}, "down"},
		{tea.KeyMsg{Type: tea.KeyPgUp}, "max"},
		{tea.KeyMsg{Type: tea.KeyPgDown}, "min"},
		{tea.KeyMsg{Type: tea.KeyLeft}, "left"},
		{tea.KeyMsg{Type: tea.KeyRight}, "right"},
		{runes("1"), "select 0"},
		{runes("4"), "select 3"},
	}
	for _, tt := range tests {
		ctrl := &fakeCtrl{}
		m := New(ctrl, nil, nil)
		m.Update(tt.msg)
		if len(ctrl.calls) != 1 || ctrl.calls[0] != tt.want {
			t.Errorf("key %q: calls=%q, want [%s]", tt.msg.String(), ctrl.calls, tt.want)
		}
	}
}

func TestQuit(t *testing.T) {
	for _, msg := range []tea.KeyMsg{runes("q"), {Type: tea.KeyEsc}, {Type: tea.KeyCtrlC}} {
		ctrl := &fakeCtrl{}
		next, cmd := New(ctrl, nil, nil).Update(msg)
		if cmd == nil {
			t.Errorf("key %q: no quit command", msg.String())
			continue
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("key %q: command is not quit", msg.String())
		}
		if !next.(Model).quitting {
			t.Errorf("key %q: model not quitting", msg.String())
		}
		if len(ctrl.calls) != 0 {
			t.Errorf("key %q: calls=%q", msg.String(), ctrl.calls)
		}
	}
}

func TestView(t *testing.T) {
	updates := make(chan control.Snapshot, 1)
	m := New(&fakeCtrl{}, updates, nil)

	if v := m.View(); !strings.Contains(v, "UNKNOWN") || !strings.Contains(v, "(no channels)") {
		t.Errorf("initial view:\n%s", v)
	}

	snap := control.Snapshot{
		Snapshot: adacom.Snapshot{
			State: adacom.StateConnected,
			Info: adacom.DeviceInfo{
				Model:        "AD-USB4AR36G95",
				SerialNumber: "20180712",
				Channels:     2,
			},
			Attenuations: []float64{12.5, 95},
		},
		Selected: 1,
	}
	next, cmd := m.Update(snapshotMsg(snap))
	if cmd == nil {
		t.Error("snapshot did not re-arm the listener")
	}
	v := next.View()
	for _, want := range []string{"CONNECTED", "AD-USB4AR36G95", "20180712", "CH01", " 12.50 dB", "CH02", " 95.00 dB"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q:\n%s", want, v)
		}
	}

	snap.State = adacom.StateDisconnected
	next, _ = next.Update(snapshotMsg(snap))
	v = next.View()
	if strings.Contains(v, "12.50") || !strings.Contains(v, "--") {
		t.Errorf("disconnected view still shows values:\n%s", v)
	}
}

func TestLogPane(t *testing.T) {
	logs := make(chan string, 1)
	var model tea.Model = New(&fakeCtrl{}, nil, logs)
	for i := 0; i < maxLogLines+10; i++ {
		model, _ = model.Update(logMsg("line"))
	}
	model, _ = model.Update(logMsg("[<-] DHCP: OFF"))
	m := model.(Model)
	if len(m.logLines) != maxLogLines {
		t.Errorf("log lines=%d, want %d", len(m.logLines), maxLogLines)
	}
	if !strings.Contains(m.View(), "[<-] DHCP: OFF") {
		t.Errorf("view missing latest log line:\n%s", m.View())
	}
}

func TestLogSink(t *testing.T) {
	s := NewLogSink(4)
	s.Write([]byte("first\nsec"))
	s.Write([]byte("ond\r\nthird"))

	got := []string{<-s.Lines(), <-s.Lines()}
	if got[0] != "first" || got[1] != "second" {
		t.Errorf("lines=%q", got)
	}
	select {
	case l := <-s.Lines():
		t.Errorf("partial line delivered: %q", l)
	default:
	}

	// Overflow drops instead of blocking.
	for i := 0; i < 10; i++ {
		s.Write([]byte("x\n"))
	}
	if n := len(s.Lines()); n != 4 {
		t.Errorf("buffered=%d, want 4", n)
	}
}
