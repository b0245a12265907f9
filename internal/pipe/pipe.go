// Package pipe wraps one duplex OS pipe (a UNIX domain socketpair half,
// in practice) as an async byte stream: a single read loop delivering
// `data`/`end`/`error` callbacks, and a write path that never blocks
// the caller (spec.md §4.2).
package pipe

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/RainStream/rainstream-server-sub000/internal/netstring"
)

// ErrClosed is returned by Write once the Pipe has been closed.
var ErrClosed = errors.New("pipe: closed")

// readBufSize is sized for the largest single netstring frame so one
// Read call can never split a frame body across more than a handful of
// reassembly passes; the netstring.Parser still handles arbitrary
// fragmentation regardless.
const readBufSize = netstring.MessageMax

// Pipe is a duplex, non-seekable byte stream over a net.Conn (usually
// one half of a UNIX socketpair inherited by a worker subprocess).
type Pipe struct {
	conn net.Conn

	onData  func([]byte)
	onEnd   func()
	onError func(error)
	onClose func()

	writeMu   sync.Mutex
	writeCond *sync.Cond
	writeQ    [][]byte
	closed    bool
}

// New wraps conn. Callbacks must be set with OnData/OnEnd/OnError/
// OnClose before calling Start.
func New(conn net.Conn) *Pipe {
	p := &Pipe{conn: conn}
	p.writeCond = sync.NewCond(&p.writeMu)
	return p
}

func (p *Pipe) OnData(fn func([]byte))  { p.onData = fn }
func (p *Pipe) OnEnd(fn func())         { p.onEnd = fn }
func (p *Pipe) OnError(fn func(error))  { p.onError = fn }
func (p *Pipe) OnClose(fn func())       { p.onClose = fn }

// Start launches the read loop and the async writer goroutine. Both
// run until the pipe is closed or the underlying conn errors.
func (p *Pipe) Start() {
	go p.readLoop()
	go p.writeLoop()
}

func (p *Pipe) readLoop() {
	buf := make([]byte, readBufSize)
	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if p.onData != nil {
				p.onData(chunk)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if p.onEnd != nil {
					p.onEnd()
				}
			} else if !p.isClosed() {
				if p.onError != nil {
					p.onError(err)
				}
			}
			return
		}
	}
}

// Write enqueues bytes for the async writer goroutine and returns
// immediately; this is the "short-circuit try-write then owned async
// write" contract of spec.md §4.2 collapsed into a single queue, since
// Go's net.Conn has no portable non-blocking write primitive.
func (p *Pipe) Write(b []byte) error {
	p.writeMu.Lock()
	if p.closed {
		p.writeMu.Unlock()
		return ErrClosed
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	p.writeQ = append(p.writeQ, cp)
	p.writeMu.Unlock()
	p.writeCond.Signal()
	return nil
}

func (p *Pipe) writeLoop() {
	for {
		p.writeMu.Lock()
		for len(p.writeQ) == 0 && !p.closed {
			p.writeCond.Wait()
		}
		if p.closed && len(p.writeQ) == 0 {
			p.writeMu.Unlock()
			return
		}
		chunk := p.writeQ[0]
		p.writeQ = p.writeQ[1:]
		p.writeMu.Unlock()

		if _, err := p.conn.Write(chunk); err != nil {
			if !p.isClosed() && p.onError != nil {
				p.onError(err)
			}
			return
		}
	}
}

func (p *Pipe) isClosed() bool {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.closed
}

// Close shuts down the pipe. It is idempotent.
func (p *Pipe) Close() error {
	p.writeMu.Lock()
	if p.closed {
		p.writeMu.Unlock()
		return nil
	}
	p.closed = true
	p.writeMu.Unlock()
	p.writeCond.Broadcast()

	err := p.conn.Close()
	if p.onClose != nil {
		p.onClose()
	}
	return err
}
