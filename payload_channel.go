package mediasoup

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/RainStream/rainstream-server-sub000/internal/merrors"
	"github.com/RainStream/rainstream-server-sub000/internal/netstring"
	"github.com/RainStream/rainstream-server-sub000/internal/pipe"
)

// payloadMeta is frame A of a PayloadChannel notification.
type payloadMeta struct {
	TargetId string          `json:"targetId"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// PayloadChannel carries two-frame notifications - a JSON meta frame
// followed immediately by the raw payload bytes (spec.md §4.5). It
// never correlates requests/responses; every message is one-way.
type PayloadChannel struct {
	logger   logr.Logger
	producer *pipe.Pipe
	consumer *pipe.Pipe
	parser   *netstring.Parser
	emitter  IEventEmitter

	writeMu sync.Mutex

	closedMu sync.Mutex
	closed   bool

	// ongoing is the in-flight meta slot of the AwaitingMeta ->
	// AwaitingPayload state machine (spec.md §4.5, §9).
	ongoing *payloadMeta
}

func newPayloadChannel(producerConn, consumerConn net.Conn) *PayloadChannel {
	pc := &PayloadChannel{
		logger:   NewLogger("PayloadChannel"),
		producer: pipe.New(producerConn),
		consumer: pipe.New(consumerConn),
		parser:   netstring.NewParser(),
		emitter:  NewEventEmitter(),
	}

	pc.consumer.OnData(pc.onConsumerData)
	pc.consumer.OnError(func(err error) { pc.logger.Error(err, "consumer pipe error") })
	pc.consumer.OnEnd(func() { pc.logger.V(1).Info("consumer PayloadChannel ended by the worker process") })
	pc.producer.OnError(func(err error) { pc.logger.Error(err, "producer pipe error") })
	pc.producer.OnEnd(func() { pc.logger.V(1).Info("producer PayloadChannel ended by the worker process") })

	pc.producer.Start()
	pc.consumer.Start()

	return pc
}

func (pc *PayloadChannel) onConsumerData(chunk []byte) {
	frames, err := pc.parser.Feed(chunk)
	if err != nil {
		pc.logger.Error(err, "invalid netstring data received from the worker process")
		pc.ongoing = nil
		return
	}
	for _, body := range frames {
		pc.handleFrame(body)
	}
}

func (pc *PayloadChannel) handleFrame(body []byte) {
	if pc.ongoing == nil {
		if len(body) == 0 {
			return
		}
		switch body[0] {
		case 'D':
			pc.logger.V(1).Info("(worker debug)", "line", string(body[1:]))
			return
		case 'W':
			pc.logger.Info("(worker warn)", "line", string(body[1:]))
			return
		case 'E':
			pc.logger.Error(fmt.Errorf("%s", body[1:]), "(worker error)")
			return
		case 'X':
			fmt.Println(string(body[1:]))
			return
		}

		var meta payloadMeta
		if err := json.Unmarshal(body, &meta); err != nil {
			pc.logger.Error(err, "received invalid data from the worker process")
			return
		}
		if meta.TargetId == "" || meta.Event == "" {
			pc.logger.Error(nil, "received message is not a notification")
			return
		}
		pc.ongoing = &meta
		return
	}

	meta := pc.ongoing
	pc.ongoing = nil
	pc.emitter.SafeEmit(meta.TargetId, meta.Event, []byte(meta.Data), body)
}

// On subscribes handler to payload notifications addressed to targetId.
func (pc *PayloadChannel) On(targetId string, handler interface{}) {
	pc.emitter.On(targetId, handler)
}

// RemoveAllListeners unsubscribes every handler registered for targetId.
func (pc *PayloadChannel) RemoveAllListeners(targetId string) {
	pc.emitter.RemoveAllListeners(targetId)
}

// Notify sends a two-frame notification: meta describing (targetId,
// event, data), then payload raw bytes, written back-to-back with no
// other frame interleaved on the pipe (spec.md §4.7 "I7"). Pipe write
// failures are logged and swallowed, matching the source's "fails
// silently on a broken pipe" contract; a closed channel, a data value
// that cannot be marshaled, or an oversized frame is returned as an
// error.
func (pc *PayloadChannel) Notify(targetId, event string, data interface{}, payload []byte) error {
	pc.closedMu.Lock()
	if pc.closed {
		pc.closedMu.Unlock()
		return merrors.NewChannelClosed()
	}
	pc.closedMu.Unlock()

	meta := H{"targetId": targetId, "event": event}
	if data != nil {
		meta["data"] = data
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	frameA, err := netstring.Encode(metaBytes)
	if err != nil {
		return merrors.NewMessageTooBig(len(metaBytes), netstring.PayloadMax)
	}
	frameB, err := netstring.Encode(payload)
	if err != nil {
		return merrors.NewMessageTooBig(len(payload), netstring.PayloadMax)
	}

	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()

	if err := pc.producer.Write(frameA); err != nil {
		pc.logger.V(1).Info("notify() | sending notification failed", "error", err.Error())
		return nil
	}
	if err := pc.producer.Write(frameB); err != nil {
		pc.logger.V(1).Info("notify() | sending payload failed", "error", err.Error())
		return nil
	}
	return nil
}

// Close is idempotent; it stops reacting to end/error and destroys the
// pipes after a short drain delay.
func (pc *PayloadChannel) Close() {
	pc.closedMu.Lock()
	if pc.closed {
		pc.closedMu.Unlock()
		return
	}
	pc.closed = true
	pc.closedMu.Unlock()

	go func() {
		time.Sleep(drainDelay)
		pc.producer.Close()
		pc.consumer.Close()
	}()
}
