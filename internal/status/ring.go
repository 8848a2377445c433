package status

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	DefaultRingCapacity  = 16
	DefaultMaxMessageLen = 80
)

type Report struct {
	Code    int
	Message string
	Time    time.Time
}

type Mode int

const (
	// Circular overwrites the oldest report once the ring is full.
	Circular Mode = iota
	// Linear keeps the first reports and drops new ones once the ring is full.
	Linear
)

// Ring is a Sink that retains the most recent reports in a fixed-size buffer.
type Ring struct {
	mtx           sync.Mutex
	mode          Mode
	entries       []Report
	total         uint64 // reports since creation or last Clear
	maxMessageLen int
	now           func() time.Time
}

var _ Sink = (*Ring)(nil)

func NewRing(capacity int, mode Mode, maxMessageLen int) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive")
	}
	if maxMessageLen <= 0 {
		return nil, fmt.Errorf("max message length must be positive")
	}
	if mode != Circular && mode != Linear {
		return nil, fmt.Errorf("unknown ring mode %d", mode)
	}
	return &Ring{
		mode:          mode,
		entries:       make([]Report, capacity),
		maxMessageLen: maxMessageLen,
		now:           time.Now,
	}, nil
}

func MustNewRing(capacity int, mode Mode, maxMessageLen int) *Ring {
	r, err := NewRing(capacity, mode, maxMessageLen)
	if err != nil {
		panic(err)
	}
	return r
}

// NewDefaultRing returns the ring servers and clients use when no sink is configured.
func NewDefaultRing() *Ring {
	return MustNewRing(DefaultRingCapacity, Circular, DefaultMaxMessageLen)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

func (r *Ring) Report(code int, message string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.total++
	capacity := uint64(len(r.entries))
	if r.mode == Linear && r.total > capacity {
		return
	}
	r.entries[(r.total-1)%capacity] = Report{
		Code:    code,
		Message: truncate(message, r.maxMessageLen),
		Time:    r.now(),
	}
}

// callers must hold r.mtx
func (r *Ring) len() int {
	if r.total < uint64(len(r.entries)) {
		return int(r.total)
	}
	return len(r.entries)
}

// Len returns the number of reports currently retained.
func (r *Ring) Len() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.len()
}

// Overflow returns how many reports were overwritten (Circular) or dropped (Linear).
func (r *Ring) Overflow() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if capacity := uint64(len(r.entries)); r.total > capacity {
		return int(r.total - capacity)
	}
	return 0
}

// Latest returns the n-th most recent retained report, n=1 being the most recent.
func (r *Ring) Latest(n int) (Report, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	l := r.len()
	if n < 1 || n > l {
		return Report{}, false
	}
	if r.mode == Linear {
		return r.entries[l-n], true
	}
	capacity := uint64(len(r.entries))
	return r.entries[(r.total-uint64(n))%capacity], true
}

// Code returns the code of the most recent report, or CodeOK if there is none.
func (r *Ring) Code() int {
	rep, _ := r.Latest(1)
	return rep.Code
}

// Message returns the message of the most recent report, or "" if there is none.
func (r *Ring) Message() string {
	rep, _ := r.Latest(1)
	return rep.Message
}

// Reports returns all retained reports, most recent first.
func (r *Ring) Reports() []Report {
	n := r.Len()
	ret := make([]Report, 0, n)
	for i := 1; i <= n; i++ {
		rep, ok := r.Latest(i)
		if !ok {
			break
		}
		ret = append(ret, rep)
	}
	return ret
}

func (r *Ring) Clear() {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.total = 0
}
