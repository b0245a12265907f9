package mediasoup

import (
	"encoding/json"
	"sync"

	"github.com/RainStream/rainstream-server-sub000/internal/merrors"
)

// PlainTransportOptions configures a new PlainTransport.
type PlainTransportOptions struct {
	ListenIp           TransportListenIp
	Port               uint16
	RtcpMux            bool
	Comedia            bool
	EnableSctp         bool
	NumSctpStreams     NumSctpStreams
	MaxSctpMessageSize int
	SctpSendBufferSize int
	EnableSrtp         bool
	SrtpCryptoSuite    SrtpCryptoSuite
	AppData            H
}

type plainTransportData struct {
	RtcpMux        bool            `json:"rtcpMux"`
	Comedia        bool            `json:"comedia"`
	Tuple          TransportTuple  `json:"tuple"`
	RtcpTuple      *TransportTuple `json:"rtcpTuple,omitempty"`
	SctpParameters *SctpParameters `json:"sctpParameters,omitempty"`
	SctpState      SctpState       `json:"sctpState,omitempty"`
	SrtpParameters *SrtpParameters `json:"srtpParameters,omitempty"`
}

// PlainTransport is a Transport that speaks plain (optionally SRTP
// protected) RTP/RTCP to a fixed remote endpoint, without ICE/DTLS
// (spec.md §4.10).
type PlainTransport struct {
	*transport

	dataMu sync.Mutex
	data   plainTransportData
}

func newPlainTransport(params transportParams, data plainTransportData) *PlainTransport {
	t := &PlainTransport{
		transport: newTransport(params),
		data:      data,
	}
	t.logger = NewLogger("plainTransport")
	t.handleWorkerNotifications()
	return t
}

// RtcpMux reports whether RTP and RTCP share one port.
func (t *PlainTransport) RtcpMux() bool {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.RtcpMux
}

// Comedia reports whether this transport auto-detects its remote tuple
// from the first incoming packet.
func (t *PlainTransport) Comedia() bool {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.Comedia
}

// Tuple returns the current local/remote RTP address pair.
func (t *PlainTransport) Tuple() TransportTuple {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.Tuple
}

// RtcpTuple returns the current local/remote RTCP address pair, or nil
// when RtcpMux is in effect.
func (t *PlainTransport) RtcpTuple() *TransportTuple {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.RtcpTuple
}

// SctpParameters returns the SCTP association parameters, or nil if
// this transport was created without SCTP.
func (t *PlainTransport) SctpParameters() *SctpParameters {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.SctpParameters
}

// SctpState returns the current SCTP association state.
func (t *PlainTransport) SctpState() SctpState {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.SctpState
}

// SrtpParameters returns the local SRTP parameters, or nil if SRTP is
// disabled.
func (t *PlainTransport) SrtpParameters() *SrtpParameters {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.SrtpParameters
}

// Close shuts this transport down, marking its SCTP state closed
// before delegating to the base close.
func (t *PlainTransport) Close() {
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

func (t *PlainTransport) routerClosed() {
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

// Connect provides the PlainTransport's remote parameters; only
// meaningful when Comedia is false.
func (t *PlainTransport) Connect(options TransportConnectOptions) error {
	reqData := H{
		"ip":             options.Ip,
		"port":           options.Port,
		"srtpParameters": options.SrtpParameters,
	}
	resp := t.channel.Request("transport.connect", t.internal, reqData)
	var result struct {
		Tuple          *TransportTuple `json:"tuple,omitempty"`
		RtcpTuple      *TransportTuple `json:"rtcpTuple,omitempty"`
		SrtpParameters *SrtpParameters `json:"srtpParameters,omitempty"`
	}
	if err := resp.Unmarshal(&result); err != nil {
		return err
	}
	t.dataMu.Lock()
	if result.Tuple != nil {
		t.data.Tuple = *result.Tuple
	}
	if result.RtcpTuple != nil {
		t.data.RtcpTuple = result.RtcpTuple
	}
	if result.SrtpParameters != nil {
		t.data.SrtpParameters = result.SrtpParameters
	}
	t.dataMu.Unlock()
	return nil
}

// Produce creates a Producer on this transport.
func (t *PlainTransport) Produce(options ProducerOptions) (*Producer, error) {
	return t.transport.produce(options)
}

// Consume creates a Consumer on this transport.
func (t *PlainTransport) Consume(options ConsumerOptions) (*Consumer, error) {
	return t.transport.consume(options)
}

// ProduceData creates a DataProducer on this transport.
func (t *PlainTransport) ProduceData(options DataProducerOptions) (*DataProducer, error) {
	return t.transport.produceData(options, "sctp")
}

// ConsumeData creates a DataConsumer on this transport.
func (t *PlainTransport) ConsumeData(options DataConsumerOptions) (*DataConsumer, error) {
	return t.transport.consumeData(options, "sctp")
}

func (t *PlainTransport) handleWorkerNotifications() {
	t.channel.On(t.Id(), func(event string, data []byte) {
		switch event {
		case "tuple":
			var info struct {
				Tuple TransportTuple `json:"tuple"`
			}
			json.Unmarshal(data, &info)
			t.dataMu.Lock()
			t.data.Tuple = info.Tuple
			t.dataMu.Unlock()
			t.SafeEmit("tuple", info.Tuple)
			t.observer.SafeEmit("tuple", info.Tuple)
		case "rtcptuple":
			var info struct {
				RtcpTuple TransportTuple `json:"rtcpTuple"`
			}
			json.Unmarshal(data, &info)
			t.dataMu.Lock()
			t.data.RtcpTuple = &info.RtcpTuple
			t.dataMu.Unlock()
			t.SafeEmit("rtcptuple", info.RtcpTuple)
			t.observer.SafeEmit("rtcptuple", info.RtcpTuple)
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
			t.logger.Error(merrors.NewProtocolError("unknown event"), "ignoring unknown plainTransport event", "event", event)
		}
	})
}
