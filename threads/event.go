package threads

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
)

// Infinite makes Wait and WaitForAll block until the signal fires
const Infinite time.Duration = -1

type WaitResult int32

const (
	WaitOK WaitResult = iota
	WaitTimeout
	WaitError
)

var waitResultMapping = map[WaitResult]string{
	WaitOK:      "WaitOK",
	WaitTimeout: "WaitTimeout",
	WaitError:   "WaitError",
}

func (r WaitResult) String() string {
	return waitResultMapping[r]
}

var ErrUnknownSignal = errors.New("unknown event signal")

// signal is a manual-reset flag. Triggering it closes the current channel, which wakes every waiter;
// resetting it installs a fresh channel.
type signal struct {
	mutex     sync.Mutex
	name      string
	triggered bool
	fired     chan struct{}
}

func newSignal(name string) *signal {
	return &signal{name: name, fired: make(chan struct{})}
}

func (s *signal) channel() <-chan struct{} {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.fired
}

func (s *signal) trigger() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.triggered {
		s.triggered = true
		close(s.fired)
	}
}

func (s *signal) reset() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.triggered {
		s.triggered = false
		s.fired = make(chan struct{})
	}
}

func (s *signal) isTriggered() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.triggered
}

// Event is an ordered set of independent signals. Signals are identified by the index AddSignal returned
// and can optionally be named.
type Event struct {
	mutex   sync.RWMutex
	signals []*signal
	names   *swiss.Map[string, int]
}

func NewEvent() *Event {
	return &Event{
		names: swiss.NewMap[string, int](4),
	}
}

// AddSignal adds an untriggered signal and returns its id. Empty names are not indexed.
func (e *Event) AddSignal(name string) int {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	id := len(e.signals)
	e.signals = append(e.signals, newSignal(name))
	if name != "" {
		e.names.Put(name, id)
	}
	return id
}

// SignalID returns the id of the most recently added signal with the provided name
func (e *Event) SignalID(name string) (int, bool) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return e.names.Get(name)
}

func (e *Event) SignalCount() int {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return len(e.signals)
}

func (e *Event) signal(id int) (*signal, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	if id < 0 || id >= len(e.signals) {
		return nil, errors.Wrapf(ErrUnknownSignal, "signal %d of %d", id, len(e.signals))
	}
	return e.signals[id], nil
}

// Trigger sets the signal and wakes everything waiting on it. The signal stays set until Reset.
func (e *Event) Trigger(id int) error {
	s, err := e.signal(id)
	if err != nil {
		return err
	}

	s.trigger()
	return nil
}

// Reset clears a triggered signal
func (e *Event) Reset(id int) error {
	s, err := e.signal(id)
	if err != nil {
		return err
	}

	s.reset()
	return nil
}

// IsTriggered returns true if the signal is currently set
func (e *Event) IsTriggered(id int) bool {
	s, err := e.signal(id)
	if err != nil {
		return false
	}

	return s.isTriggered()
}

// Wait blocks until the signal is triggered or the timeout passes. A timeout of Infinite never expires.
func (e *Event) Wait(id int, timeout time.Duration) WaitResult {
	s, err := e.signal(id)
	if err != nil {
		return WaitError
	}

	fired := s.channel()
	if timeout < 0 {
		<-fired
		return WaitOK
	}

	select {
	case <-fired:
		return WaitOK
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-fired:
		return WaitOK
	case <-timer.C:
		return WaitTimeout
	}
}

// WaitForAll waits on every signal in order. The timeout is shared: it bounds the total time spent
// waiting, not the time spent on each signal.
func (e *Event) WaitForAll(timeout time.Duration) WaitResult {
	count := e.SignalCount()
	if timeout < 0 {
		for id := 0; id < count; id++ {
			result := e.Wait(id, Infinite)
			if result != WaitOK {
				return result
			}
		}
		return WaitOK
	}

	deadline := time.Now().Add(timeout)
	for id := 0; id < count; id++ {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}

		result := e.Wait(id, remaining)
		if result != WaitOK {
			return result
		}
	}
	return WaitOK
}

// Destroy wakes every waiter by triggering all signals and then drops them. Waits on a destroyed event
// return WaitError.
func (e *Event) Destroy() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	for _, s := range e.signals {
		s.trigger()
	}
	e.signals = nil
	e.names = swiss.NewMap[string, int](4)
}
