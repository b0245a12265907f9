package mediasoup

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/RainStream/rainstream-server-sub000/internal/merrors"
	"github.com/RainStream/rainstream-server-sub000/internal/netstring"
	"github.com/RainStream/rainstream-server-sub000/internal/pipe"
)

// drainDelay is how long Close() waits before tearing down the pipes,
// so notifications the worker wrote just before it observed the close
// request are still absorbed (spec.md §4.4 "Close").
const drainDelay = 200 * time.Millisecond

// Response is the outcome of a Channel.Request call: either the
// worker's accepted `data` payload, or a rejection error.
type Response struct {
	data json.RawMessage
	err  error
}

// Data returns the raw accepted payload, or nil on rejection.
func (r *Response) Data() []byte { return r.data }

// Err returns the rejection error, or nil on success.
func (r *Response) Err() error { return r.err }

// Unmarshal decodes the accepted payload into v. It is a no-op
// returning the rejection error if the request failed, and a no-op
// returning nil if the worker sent no data.
func (r *Response) Unmarshal(v interface{}) error {
	if r.err != nil {
		return r.err
	}
	if len(r.data) == 0 {
		return nil
	}
	return json.Unmarshal(r.data, v)
}

type wireRequest struct {
	Id        uint32      `json:"id"`
	Method    string      `json:"method"`
	HandlerId string      `json:"handlerId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

type wireMessage struct {
	Id       *uint32         `json:"id,omitempty"`
	Accepted bool            `json:"accepted,omitempty"`
	Rejected bool            `json:"rejected,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	TargetId string          `json:"targetId,omitempty"`
	Event    string          `json:"event,omitempty"`
}

// Channel is the request/response + notification transport bound to
// one worker (spec.md §4.4): a producer pipe carrying host-to-worker
// requests, and a consumer pipe carrying worker-to-host responses,
// notifications, and log lines.
type Channel struct {
	logger   logr.Logger
	producer *pipe.Pipe
	consumer *pipe.Pipe
	parser   *netstring.Parser
	emitter  IEventEmitter

	nextId uint32

	pendingMu sync.Mutex
	pending   map[uint32]chan *Response

	closedMu sync.Mutex
	closed   bool

	pid int
}

func newChannel(producerConn, consumerConn net.Conn, pid int) *Channel {
	ch := &Channel{
		logger:   NewLogger("Channel"),
		producer: pipe.New(producerConn),
		consumer: pipe.New(consumerConn),
		parser:   netstring.NewParser(),
		emitter:  NewEventEmitter(),
		pending:  make(map[uint32]chan *Response),
		pid:      pid,
	}

	ch.consumer.OnData(ch.onConsumerData)
	ch.consumer.OnError(func(err error) { ch.onFatal(merrors.NewProtocolError("consumer pipe error: %v", err)) })
	ch.consumer.OnEnd(func() { ch.onFatal(merrors.NewProtocolError("consumer pipe ended")) })
	ch.producer.OnError(func(err error) { ch.logger.Error(err, "producer pipe error") })

	ch.producer.Start()
	ch.consumer.Start()

	return ch
}

func (ch *Channel) onFatal(err error) {
	ch.logger.Error(err, "fatal channel error")
	ch.Close()
}

func (ch *Channel) onConsumerData(chunk []byte) {
	frames, err := ch.parser.Feed(chunk)
	if err != nil {
		ch.onFatal(err)
		return
	}
	for _, body := range frames {
		ch.handleFrame(body)
	}
}

func (ch *Channel) handleFrame(body []byte) {
	if len(body) == 0 {
		return
	}

	switch body[0] {
	case 'D':
		ch.logger.V(1).Info("(worker debug)", "line", string(body[1:]))
		return
	case 'W':
		ch.logger.Info("(worker warn)", "line", string(body[1:]))
		return
	case 'E':
		ch.logger.Error(fmt.Errorf("%s", body[1:]), "(worker error)")
		return
	case 'X':
		fmt.Fprintln(logDumpWriter(), string(body[1:]))
		return
	case '{':
		// fallthrough to JSON handling below
	default:
		ch.logger.Error(nil, "ignoring unexpected frame prefix", "prefix", string(body[0]))
		return
	}

	var msg wireMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		ch.logger.Error(err, "failed to parse JSON message")
		return
	}

	if msg.Id != nil {
		ch.completeRequest(*msg.Id, &msg)
		return
	}

	if msg.TargetId != "" {
		ch.emitter.SafeEmit(msg.TargetId, msg.Event, []byte(msg.Data))
		return
	}

	ch.logger.Error(nil, "ignoring unrecognized message")
}

func (ch *Channel) completeRequest(id uint32, msg *wireMessage) {
	ch.pendingMu.Lock()
	respCh, ok := ch.pending[id]
	if ok {
		delete(ch.pending, id)
	}
	ch.pendingMu.Unlock()

	if !ok {
		ch.logger.Error(nil, "received response for unknown request id", "id", id)
		return
	}

	if msg.Rejected {
		respCh <- &Response{err: fmt.Errorf("%s", msg.Reason)}
	} else {
		respCh <- &Response{data: msg.Data}
	}
}

// On subscribes handler to notifications addressed to targetId.
func (ch *Channel) On(targetId string, handler interface{}) {
	ch.emitter.On(targetId, handler)
}

// Once subscribes a one-shot handler to notifications addressed to
// targetId.
func (ch *Channel) Once(targetId string, handler interface{}) {
	ch.emitter.Once(targetId, handler)
}

// RemoveAllListeners unsubscribes every handler registered for targetId.
func (ch *Channel) RemoveAllListeners(targetId string) {
	ch.emitter.RemoveAllListeners(targetId)
}

// Request sends method, addressed to handlerId, with an optional data
// payload, and blocks until the worker's response arrives or the
// Channel is closed.
func (ch *Channel) Request(method string, internal internalData, data ...interface{}) *Response {
	var payload interface{}
	if len(data) > 0 {
		payload = data[0]
	}

	ch.closedMu.Lock()
	if ch.closed {
		ch.closedMu.Unlock()
		return &Response{err: merrors.NewChannelClosed()}
	}
	ch.closedMu.Unlock()

	id := ch.allocateId()

	req := wireRequest{Id: id, Method: method, HandlerId: internal.handlerId(), Data: payload}
	body, err := json.Marshal(req)
	if err != nil {
		return &Response{err: err}
	}

	frame, err := netstring.Encode(body)
	if err != nil {
		return &Response{err: merrors.NewMessageTooBig(len(body), netstring.PayloadMax)}
	}

	respCh := make(chan *Response, 1)
	ch.pendingMu.Lock()
	ch.pending[id] = respCh
	ch.pendingMu.Unlock()

	if err := ch.producer.Write(frame); err != nil {
		ch.pendingMu.Lock()
		delete(ch.pending, id)
		ch.pendingMu.Unlock()
		return &Response{err: err}
	}

	return <-respCh
}

func (ch *Channel) allocateId() uint32 {
	for {
		old := atomic.LoadUint32(&ch.nextId)
		next := old + 1
		if next >= 4294967295 {
			next = 1
		}
		if atomic.CompareAndSwapUint32(&ch.nextId, old, next) {
			return next
		}
	}
}

// Close is idempotent. It stops consuming reads, rejects every pending
// request with ChannelClosed, and destroys the pipes after a small
// drain delay so late worker notifications are absorbed.
func (ch *Channel) Close() {
	ch.closedMu.Lock()
	if ch.closed {
		ch.closedMu.Unlock()
		return
	}
	ch.closed = true
	ch.closedMu.Unlock()

	ch.pendingMu.Lock()
	pending := ch.pending
	ch.pending = make(map[uint32]chan *Response)
	ch.pendingMu.Unlock()

	for _, respCh := range pending {
		respCh <- &Response{err: merrors.NewChannelClosed()}
	}

	go func() {
		time.Sleep(drainDelay)
		ch.producer.Close()
		ch.consumer.Close()
	}()
}

// logDumpWriter is overridable in tests; it is where 'X' (dump) frames
// are written to by default.
var logDumpWriter = func() interface{ Write([]byte) (int, error) } {
	return dumpWriterStdout{}
}

type dumpWriterStdout struct{}

func (dumpWriterStdout) Write(p []byte) (int, error) {
	fmt.Print(string(p))
	return len(p), nil
}
