package mediasoup

import (
	"sync"

	"github.com/go-logr/logr"
	"github.com/pion/sctp"

	"github.com/RainStream/rainstream-server-sub000/internal/merrors"
)

// DataProducerStat is one entry of DataProducer.GetStats.
type DataProducerStat struct {
	Type             string `json:"type"`
	Timestamp        int64  `json:"timestamp"`
	Label            string `json:"label"`
	Protocol         string `json:"protocol"`
	MessagesReceived int64  `json:"messagesReceived"`
	BytesReceived    int64  `json:"bytesReceived"`
}

type dataProducerParams struct {
	internal             internalData
	producerType         string
	sctpStreamParameters *SctpStreamParameters
	label                string
	protocol             string
	channel              *Channel
	payloadChannel       *PayloadChannel
	appData              H
}

// DataProducer represents an application-data source on a Transport,
// carried over its SCTP association ("sctp") or, on a DirectTransport,
// sent in-process over the PayloadChannel ("direct") (spec.md §4.12).
type DataProducer struct {
	IEventEmitter

	logger               logr.Logger
	internal             internalData
	producerType         string
	sctpStreamParameters *SctpStreamParameters
	label                string
	protocol             string
	channel              *Channel
	payloadChannel       *PayloadChannel

	appDataMu sync.Mutex
	appData   H

	stateMu sync.Mutex
	closed  bool

	observer IEventEmitter
}

func newDataProducer(params dataProducerParams) *DataProducer {
	p := &DataProducer{
		IEventEmitter:        NewEventEmitter(),
		logger:               NewLogger("dataProducer"),
		internal:             params.internal,
		producerType:         params.producerType,
		sctpStreamParameters: params.sctpStreamParameters,
		label:                params.label,
		protocol:             params.protocol,
		channel:              params.channel,
		payloadChannel:       params.payloadChannel,
		appData:              params.appData,
		observer:             NewEventEmitter(),
	}
	if p.appData == nil {
		p.appData = H{}
	}
	p.handleWorkerNotifications()
	return p
}

// Id returns this data producer's unique identifier.
func (p *DataProducer) Id() string { return p.internal.DataProducerId }

// Type returns "sctp" or "direct".
func (p *DataProducer) Type() string { return p.producerType }

// SctpStreamParameters returns the SCTP stream this data producer is
// bound to, or nil for a "direct" data producer.
func (p *DataProducer) SctpStreamParameters() *SctpStreamParameters { return p.sctpStreamParameters }

// Label returns the caller-chosen label (opaque to the worker).
func (p *DataProducer) Label() string { return p.label }

// Protocol returns the caller-chosen sub-protocol name.
func (p *DataProducer) Protocol() string { return p.protocol }

// Closed reports whether Close (or transport close) has run.
func (p *DataProducer) Closed() bool {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.closed
}

// AppData returns the caller-supplied opaque data.
func (p *DataProducer) AppData() H {
	p.appDataMu.Lock()
	defer p.appDataMu.Unlock()
	return p.appData
}

// Observer emits: close.
func (p *DataProducer) Observer() IEventEmitter { return p.observer }

func (p *DataProducer) markClosed() bool {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	return true
}

// Close destroys this data producer on the worker.
func (p *DataProducer) Close() {
	if !p.markClosed() {
		return
	}
	p.channel.RemoveAllListeners(p.Id())
	p.payloadChannel.RemoveAllListeners(p.Id())
	p.channel.Request("dataProducer.close", p.internal)
	p.SafeEmit("@close")
	p.observer.SafeEmit("close")
}

// transportClosed is invoked by the owning Transport when it (or its
// Router) is closing.
func (p *DataProducer) transportClosed() {
	if !p.markClosed() {
		return
	}
	p.channel.RemoveAllListeners(p.Id())
	p.payloadChannel.RemoveAllListeners(p.Id())
	p.SafeEmit("transportclose")
	p.observer.SafeEmit("close")
}

// Dump returns this data producer's full internal state as raw JSON.
func (p *DataProducer) Dump() ([]byte, error) {
	resp := p.channel.Request("dataProducer.dump", p.internal)
	return resp.Data(), resp.Err()
}

// GetStats returns this data producer's message/byte counters.
func (p *DataProducer) GetStats() ([]DataProducerStat, error) {
	var stats []DataProducerStat
	err := p.channel.Request("dataProducer.getStats", p.internal).Unmarshal(&stats)
	return stats, err
}

// Send delivers one application message over the PayloadChannel, using
// the PPID table to distinguish string vs binary and empty vs
// non-empty payloads (spec.md §4.12 "PPID selection"): 51 for a
// non-empty UTF-8 string, 56 for an empty string, 53 for non-empty
// binary, 57 for empty binary.
func (p *DataProducer) Send(message []byte, isBinary bool) error {
	ppid := ppidFor(message, isBinary)
	payload := message
	if len(payload) == 0 {
		payload = []byte{0}
	}
	return p.payloadChannel.Notify(p.Id(), "dataProducer.send", H{"ppid": ppid}, payload)
}

// SendText is shorthand for Send with isBinary false.
func (p *DataProducer) SendText(text string) error {
	return p.Send([]byte(text), false)
}

// ppidFor selects the SCTP PayloadProtocolIdentifier for message under
// the WebRTC data-channel string/binary, empty/non-empty convention
// (RFC 8831 §6), reusing pion/sctp's named PPID constants rather than
// restating the raw numbers.
func ppidFor(message []byte, isBinary bool) sctp.PayloadProtocolIdentifier {
	switch {
	case !isBinary && len(message) > 0:
		return sctp.PayloadTypeWebRTCString
	case !isBinary && len(message) == 0:
		return sctp.PayloadTypeWebRTCStringEmpty
	case isBinary && len(message) > 0:
		return sctp.PayloadTypeWebRTCBinary
	default:
		return sctp.PayloadTypeWebRTCBinaryEmpty
	}
}

func (p *DataProducer) handleWorkerNotifications() {
	p.channel.On(p.Id(), func(event string) {
		p.logger.Error(merrors.NewProtocolError("unknown event"), "ignoring unknown dataProducer event", "event", event)
	})
}
