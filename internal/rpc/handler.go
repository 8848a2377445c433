// Package rpc holds what the stream and datagram request/reply transports
// share: the handler extension point and the errors callers can test for.
package rpc

import (
	"fmt"
	"runtime/debug"
)

// A Handler produces the reply to one request.
//
// req aliases the server's receive buffer and is only valid for the duration
// of the call. Returning ok=false sends no reply at all; ok=true with an empty
// reply sends a zero-length reply. Handlers run on the server's single
// dispatch goroutine and must not block.
type Handler interface {
	Handle(req []byte) (reply []byte, ok bool)
}

type HandlerFunc func(req []byte) (reply []byte, ok bool)

func (f HandlerFunc) Handle(req []byte) ([]byte, bool) { return f(req) }

// NoReply is the handler servers use when none is installed.
var NoReply Handler = HandlerFunc(func([]byte) ([]byte, bool) { return nil, false })

// Echo replies with the request itself.
var Echo Handler = HandlerFunc(func(req []byte) ([]byte, bool) { return req, true })

// HandlerPanicError is returned by Invoke if the handler panicked.
type HandlerPanicError struct {
	Value interface{}
	Stack []byte
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

// Invoke calls h, converting a panic into an error so that one bad request
// cannot take down the serve loop.
func Invoke(h Handler, req []byte) (reply []byte, ok bool, err error) {
	defer func() {
		if v := recover(); v != nil {
			reply, ok = nil, false
			err = &HandlerPanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	reply, ok = h.Handle(req)
	return reply, ok, nil
}
