package mediasoup

import (
	"encoding/json"
	"sync"

	"github.com/RainStream/rainstream-server-sub000/internal/merrors"
)

// PipeTransportOptions configures a new PipeTransport.
type PipeTransportOptions struct {
	ListenIp           TransportListenIp
	Port               uint16
	EnableSctp         bool
	NumSctpStreams     NumSctpStreams
	MaxSctpMessageSize int
	SctpSendBufferSize int
	EnableRtx          bool
	EnableSrtp         bool
	AppData            H
}

type pipeTransportData struct {
	Tuple          TransportTuple  `json:"tuple"`
	SctpParameters *SctpParameters `json:"sctpParameters,omitempty"`
	SctpState      SctpState       `json:"sctpState,omitempty"`
	Rtx            bool            `json:"rtx"`
	SrtpParameters *SrtpParameters `json:"srtpParameters,omitempty"`
}

// PipeTransport is a Transport that relays RTP/RTCP and SCTP between
// two Routers, possibly on different Workers or hosts (spec.md §4.10).
// Router.PipeToRouter drives a pair of these.
type PipeTransport struct {
	*transport

	dataMu sync.Mutex
	data   pipeTransportData
}

func newPipeTransport(params transportParams, data pipeTransportData) *PipeTransport {
	t := &PipeTransport{
		transport: newTransport(params),
		data:      data,
	}
	t.logger = NewLogger("pipeTransport")
	t.handleWorkerNotifications()
	return t
}

// Tuple returns the current local/remote RTP address pair.
func (t *PipeTransport) Tuple() TransportTuple {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.Tuple
}

// SctpParameters returns the SCTP association parameters, or nil if
// this transport was created without SCTP.
func (t *PipeTransport) SctpParameters() *SctpParameters {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.SctpParameters
}

// SctpState returns the current SCTP association state.
func (t *PipeTransport) SctpState() SctpState {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.SctpState
}

// Rtx reports whether RTX/NACK retransmission is enabled across this
// pipe.
func (t *PipeTransport) Rtx() bool {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.Rtx
}

// SrtpParameters returns the local SRTP parameters, or nil if SRTP is
// disabled.
func (t *PipeTransport) SrtpParameters() *SrtpParameters {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.SrtpParameters
}

// Close shuts this transport down, marking its SCTP state closed
// before delegating to the base close.
func (t *PipeTransport) Close() {
	if t.Closed() {
		return
	}
	t.dataMu.Lock()
	if t.data.SctpParameters != nil {
		t.data.SctpState = SctpState_Closed
	}
	t.dataMu.Unlock()
	t.transport.Close()
}

func (t *PipeTransport) routerClosed() {
	if t.Closed() {
		return
	}
	t.dataMu.Lock()
	if t.data.SctpParameters != nil {
		t.data.SctpState = SctpState_Closed
	}
	t.dataMu.Unlock()
	t.transport.routerClosed()
}

// Connect provides the remote PipeTransport's address, cross-connecting
// the two ends of the pipe.
func (t *PipeTransport) Connect(options TransportConnectOptions) error {
	reqData := H{
		"ip":             options.Ip,
		"port":           options.Port,
		"srtpParameters": options.SrtpParameters,
	}
	resp := t.channel.Request("transport.connect", t.internal, reqData)
	var result struct {
		Tuple TransportTuple `json:"tuple"`
	}
	if err := resp.Unmarshal(&result); err != nil {
		return err
	}
	t.dataMu.Lock()
	t.data.Tuple = result.Tuple
	t.dataMu.Unlock()
	return nil
}

// Produce creates a Producer on this transport.
func (t *PipeTransport) Produce(options ProducerOptions) (*Producer, error) {
	return t.transport.produce(options)
}

// Consume creates a pipe Consumer for producerId on this transport,
// honoring this PipeTransport's Rtx setting.
func (t *PipeTransport) Consume(producerId string, appData H) (*Consumer, error) {
	return t.transport.consume(ConsumerOptions{ProducerId: producerId, Pipe: true, AppData: appData})
}

// ProduceData creates a DataProducer on this transport.
func (t *PipeTransport) ProduceData(options DataProducerOptions) (*DataProducer, error) {
	return t.transport.produceData(options, "sctp")
}

// ConsumeData creates a DataConsumer on this transport.
func (t *PipeTransport) ConsumeData(options DataConsumerOptions) (*DataConsumer, error) {
	return t.transport.consumeData(options, "sctp")
}

func (t *PipeTransport) handleWorkerNotifications() {
	t.channel.On(t.Id(), func(event string, data []byte) {
		switch event {
		case "sctpstatechange":
			var info struct {
				SctpState SctpState `json:"sctpState"`
			}
			json.Unmarshal(data, &info)
			t.dataMu.Lock()
			t.data.SctpState = info.SctpState
			t.dataMu.Unlock()
			t.SafeEmit("sctpstatechange", info.SctpState)
			t.observer.SafeEmit("sctpstatechange", info.SctpState)
		case "trace":
			var trace TransportTraceEventData
			json.Unmarshal(data, &trace)
			t.SafeEmit("trace", trace)
			t.observer.SafeEmit("trace", trace)
		default:
			t.logger.Error(merrors.NewProtocolError("unknown event"), "ignoring unknown pipeTransport event", "event", event)
		}
	})
}
