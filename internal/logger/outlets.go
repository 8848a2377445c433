package logger

import (
	"fmt"
	"io"
	"sync"
	"time"
)

type Fields map[string]interface{}

type Entry struct {
	Level   Level
	Message string
	Time    time.Time
	Fields  Fields
}

// An Outlet writes entries to some destination. The logger waits for all
// outlets before a log call returns, so WriteEntry must not block.
type Outlet interface {
	WriteEntry(entry Entry) error
}

// Outlets maps each level to the outlets that receive entries of that level.
type Outlets struct {
	mtx  sync.RWMutex
	outs [numLevels][]Outlet
	// all holds every distinct outlet once, in the order added
	all []Outlet
}

func NewOutlets() *Outlets {
	return &Outlets{}
}

func (os *Outlets) copy() *Outlets {
	os.mtx.RLock()
	defer os.mtx.RUnlock()
	c := &Outlets{all: append([]Outlet(nil), os.all...)}
	for l := range os.outs {
		c.outs[l] = append([]Outlet(nil), os.outs[l]...)
	}
	return c
}

// Add registers outlet for minLevel and all more severe levels.
func (os *Outlets) Add(outlet Outlet, minLevel Level) {
	if !minLevel.valid() {
		panic(fmt.Sprintf("invalid log level %d", minLevel))
	}
	os.mtx.Lock()
	defer os.mtx.Unlock()
	for l := minLevel; int(l) < numLevels; l++ {
		os.outs[l] = append(os.outs[l], outlet)
	}
	os.all = append(os.all, outlet)
}

func (os *Outlets) Get(level Level) []Outlet {
	if !level.valid() {
		return nil
	}
	os.mtx.RLock()
	defer os.mtx.RUnlock()
	return os.outs[level]
}

// GetLoggerErrorOutlet returns the first outlet that receives errors, or a
// discarding outlet if there is none.
func (os *Outlets) GetLoggerErrorOutlet() Outlet {
	os.mtx.RLock()
	defer os.mtx.RUnlock()
	if len(os.outs[Error]) < 1 {
		return nullOutlet{}
	}
	return os.outs[Error][0]
}

// Close closes all outlets that implement io.Closer and returns the first error.
func (os *Outlets) Close() error {
	os.mtx.RLock()
	defer os.mtx.RUnlock()
	var first error
	for _, o := range os.all {
		c, ok := o.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type nullOutlet struct{}

func (nullOutlet) WriteEntry(entry Entry) error { return nil }
