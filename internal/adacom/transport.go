package adacom

import "time"

// Transport opens the line-oriented link to the device. onLine is called for
// every received line (without the terminator) and onEOF once when the
// stream ends. Both may be called from any goroutine; the engine reposts
// them onto its Scheduler.
type Transport interface {
	Open(path string, onLine func(line string), onEOF func()) (Port, error)
}

// Port is an open link returned by Transport.Open.
type Port interface {
	Write(p []byte) (int, error)
	Close() error
}

// Scheduler serializes work onto the engine's single thread of control.
type Scheduler interface {
	// Post queues fn to run on the loop. Safe from any goroutine.
	Post(fn func())
	// AfterFunc returns an armed timer whose expiry runs fn on the loop.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a rearmable one-shot timer. All methods are called on the loop.
type Timer interface {
	Reset(d time.Duration)
	Stop()
	Pending() bool
}
