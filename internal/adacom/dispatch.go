package adacom

// Callback shapes handed to the engine. err is nil on success.
type (
	ConnectFunc  func(err error)
	ChannelFunc  func(err error, channel int, value float64)
	ChannelsFunc func(err error, values []float64, n int)
)

// operation is the command currently owned by the engine. Each kind keeps
// its own cursor and completion payload.
type operation interface {
	kind() string
}

// connectOp is the handshake. next is the 1-based channel the status
// report is expected to name next.
type connectOp struct {
	cb   ConnectFunc
	step connStep
	next int
}

// setOneOp writes a single channel (0-based).
type setOneOp struct {
	cb      ChannelFunc
	channel int
	value   float64
}

// setAllOp walks every channel whose requested value differs from the
// mirror. cursor is the 0-based channel currently being written.
type setAllOp struct {
	cb     ChannelsFunc
	cursor int
	values []float64
}

func (*connectOp) kind() string { return "connect" }
func (*setOneOp) kind() string  { return "set" }
func (*setAllOp) kind() string  { return "set_all" }

// complete finishes the current operation: it stops the watchdog, detaches
// the operation and calls its callback exactly once. A command the callback
// starts becomes the new current operation.
func (e *Engine) complete(err error) {
	e.stopWatchdog()
	op := e.op
	if op == nil {
		e.notify()
		return
	}
	e.op = nil
	ev := e.log.Debug().Str("op", op.kind())
	if err != nil {
		ev = e.log.Warn().Err(err).Str("op", op.kind())
	}
	ev.Msg("command complete")

	switch op := op.(type) {
	case *connectOp:
		if op.cb != nil {
			op.cb(err)
		}
	case *setOneOp:
		if op.cb != nil {
			op.cb(err, op.channel, op.value)
		}
	case *setAllOp:
		if op.cb != nil {
			values := append([]float64(nil), op.values...)
			op.cb(err, values, len(values))
		}
	}
	e.notify()
}

// fail drives the engine to Error and completes the current operation.
func (e *Engine) fail(err error) {
	e.changeState(StateError)
	e.complete(err)
}
