package mediasoup

import (
	"encoding/json"
	"sync"

	"github.com/RainStream/rainstream-server-sub000/internal/merrors"
)

// IceRole is a WebRtcTransport's ICE role; mediasoup workers only ever
// play "controlled".
type IceRole string

const IceRole_Controlled IceRole = "controlled"

// IceParameters is the local ICE username fragment/password pair a
// WebRtcTransport's client peers against.
type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

// IceCandidate is one local ICE candidate a WebRtcTransport listens on.
type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	Ip         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       int    `json:"port"`
	Type       string `json:"type"`
	TcpType    string `json:"tcpType,omitempty"`
}

// IceState is a WebRtcTransport's ICE connectivity state.
type IceState string

const (
	IceState_New          IceState = "new"
	IceState_Connected    IceState = "connected"
	IceState_Completed    IceState = "completed"
	IceState_Disconnected IceState = "disconnected"
	IceState_Closed       IceState = "closed"
)

// DtlsRole is a WebRtcTransport's local DTLS role.
type DtlsRole string

const (
	DtlsRole_Auto   DtlsRole = "auto"
	DtlsRole_Client DtlsRole = "client"
	DtlsRole_Server DtlsRole = "server"
)

// DtlsFingerprint is one certificate fingerprint, keyed by its hash
// algorithm.
type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// DtlsParameters carries a WebRtcTransport's DTLS role and local (or,
// when supplied to Connect, remote) certificate fingerprints.
type DtlsParameters struct {
	Role         DtlsRole          `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

// DtlsState is a WebRtcTransport's DTLS handshake state.
type DtlsState string

const (
	DtlsState_New        DtlsState = "new"
	DtlsState_Connecting DtlsState = "connecting"
	DtlsState_Connected  DtlsState = "connected"
	DtlsState_Failed     DtlsState = "failed"
	DtlsState_Closed     DtlsState = "closed"
)

// WebRtcTransportOptions configures a new WebRtcTransport.
type WebRtcTransportOptions struct {
	WebRtcServer                    *WebRtcServer
	ListenIps                       []TransportListenIp
	Port                            uint16
	EnableUdp                       *bool
	EnableTcp                       bool
	PreferUdp                       bool
	PreferTcp                       bool
	InitialAvailableOutgoingBitrate int
	EnableSctp                      bool
	NumSctpStreams                  NumSctpStreams
	MaxSctpMessageSize              int
	SctpSendBufferSize              int
	AppData                         H
}

type webRtcTransportData struct {
	IceRole          IceRole         `json:"iceRole"`
	IceParameters    IceParameters   `json:"iceParameters"`
	IceCandidates    []IceCandidate  `json:"iceCandidates"`
	IceState         IceState        `json:"iceState"`
	IceSelectedTuple *TransportTuple `json:"iceSelectedTuple,omitempty"`
	DtlsParameters   DtlsParameters  `json:"dtlsParameters"`
	DtlsState        DtlsState       `json:"dtlsState"`
	DtlsRemoteCert   string          `json:"dtlsRemoteCert,omitempty"`
	SctpParameters   *SctpParameters `json:"sctpParameters,omitempty"`
	SctpState        SctpState       `json:"sctpState,omitempty"`
}

// WebRtcTransport is a Transport that speaks ICE/DTLS/SRTP directly to
// a browser or other WebRTC peer (spec.md §4.10).
type WebRtcTransport struct {
	*transport

	dataMu sync.Mutex
	data   webRtcTransportData
}

func newWebRtcTransport(params transportParams, data webRtcTransportData) *WebRtcTransport {
	t := &WebRtcTransport{
		transport: newTransport(params),
		data:      data,
	}
	t.logger = NewLogger("webRtcTransport")
	t.handleWorkerNotifications()
	return t
}

// IceRole returns "controlled".
func (t *WebRtcTransport) IceRole() IceRole {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.IceRole
}

// IceParameters returns the local ICE credentials.
func (t *WebRtcTransport) IceParameters() IceParameters {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.IceParameters
}

// IceCandidates returns the local ICE candidates.
func (t *WebRtcTransport) IceCandidates() []IceCandidate {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.IceCandidates
}

// IceState returns the current ICE connectivity state.
func (t *WebRtcTransport) IceState() IceState {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.IceState
}

// IceSelectedTuple returns the address pair ICE has selected, or nil
// before connectivity checks have completed.
func (t *WebRtcTransport) IceSelectedTuple() *TransportTuple {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.IceSelectedTuple
}

// DtlsParameters returns the local DTLS role and certificate
// fingerprints.
func (t *WebRtcTransport) DtlsParameters() DtlsParameters {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.DtlsParameters
}

// DtlsState returns the current DTLS handshake state.
func (t *WebRtcTransport) DtlsState() DtlsState {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.DtlsState
}

// DtlsRemoteCert returns the peer's DTLS certificate in PEM form, once
// the handshake has completed.
func (t *WebRtcTransport) DtlsRemoteCert() string {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.DtlsRemoteCert
}

// SctpParameters returns the SCTP association parameters, or nil if
// this transport was created without SCTP.
func (t *WebRtcTransport) SctpParameters() *SctpParameters {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.SctpParameters
}

// SctpState returns the current SCTP association state.
func (t *WebRtcTransport) SctpState() SctpState {
	t.dataMu.Lock()
	defer t.dataMu.Unlock()
	return t.data.SctpState
}

// Close shuts this transport down, marking its ICE/DTLS/SCTP state
// closed before delegating to the base close.
func (t *WebRtcTransport) Close() {
	if t.Closed() {
		return
	}
	t.dataMu.Lock()
	t.data.IceState = IceState_Closed
	t.data.IceSelectedTuple = nil
	t.data.DtlsState = DtlsState_Closed
	if t.data.SctpParameters != nil {
		t.data.SctpState = SctpState_Closed
	}
	t.dataMu.Unlock()
	t.transport.Close()
}

func (t *WebRtcTransport) routerClosed() {
	if t.Closed() {
		return
	}
	t.dataMu.Lock()
	t.data.IceState = IceState_Closed
	t.data.IceSelectedTuple = nil
	t.data.DtlsState = DtlsState_Closed
	if t.data.SctpParameters != nil {
		t.data.SctpState = SctpState_Closed
	}
	t.dataMu.Unlock()
	t.transport.routerClosed()
}

// Connect provides the client's remote DTLS parameters, completing
// the DTLS handshake negotiation for this transport.
func (t *WebRtcTransport) Connect(dtlsParameters DtlsParameters) error {
	resp := t.channel.Request("transport.connect", t.internal, H{"dtlsParameters": dtlsParameters})
	var result struct {
		DtlsLocalRole DtlsRole `json:"dtlsLocalRole"`
	}
	if err := resp.Unmarshal(&result); err != nil {
		return err
	}
	t.dataMu.Lock()
	t.data.DtlsParameters.Role = result.DtlsLocalRole
	t.dataMu.Unlock()
	return nil
}

// RestartIce replaces this transport's ICE username fragment/password,
// forcing the client to restart ICE.
func (t *WebRtcTransport) RestartIce() (IceParameters, error) {
	resp := t.channel.Request("transport.restartIce", t.internal)
	var iceParameters IceParameters
	if err := resp.Unmarshal(&iceParameters); err != nil {
		return IceParameters{}, err
	}
	t.dataMu.Lock()
	t.data.IceParameters = iceParameters
	t.dataMu.Unlock()
	return iceParameters, nil
}

// Produce creates a Producer on this transport.
func (t *WebRtcTransport) Produce(options ProducerOptions) (*Producer, error) {
	return t.transport.produce(options)
}

// Consume creates a Consumer on this transport.
func (t *WebRtcTransport) Consume(options ConsumerOptions) (*Consumer, error) {
	return t.transport.consume(options)
}

// ProduceData creates a DataProducer on this transport.
func (t *WebRtcTransport) ProduceData(options DataProducerOptions) (*DataProducer, error) {
	return t.transport.produceData(options, "sctp")
}

// ConsumeData creates a DataConsumer on this transport.
func (t *WebRtcTransport) ConsumeData(options DataConsumerOptions) (*DataConsumer, error) {
	return t.transport.consumeData(options, "sctp")
}

func (t *WebRtcTransport) handleWorkerNotifications() {
	t.channel.On(t.Id(), func(event string, data []byte) {
		switch event {
		case "icestatechange":
			var info struct {
				IceState IceState `json:"iceState"`
			}
			json.Unmarshal(data, &info)
			t.dataMu.Lock()
			t.data.IceState = info.IceState
			t.dataMu.Unlock()
			t.SafeEmit("icestatechange", info.IceState)
			t.observer.SafeEmit("icestatechange", info.IceState)
		case "iceselectedtuplechange":
			var info struct {
				IceSelectedTuple TransportTuple `json:"iceSelectedTuple"`
			}
			json.Unmarshal(data, &info)
			t.dataMu.Lock()
			t.data.IceSelectedTuple = &info.IceSelectedTuple
			t.dataMu.Unlock()
			t.SafeEmit("iceselectedtuplechange", info.IceSelectedTuple)
			t.observer.SafeEmit("iceselectedtuplechange", info.IceSelectedTuple)
		case "dtlsstatechange":
			var info struct {
				DtlsState      DtlsState `json:"dtlsState"`
				DtlsRemoteCert string    `json:"dtlsRemoteCert,omitempty"`
			}
			json.Unmarshal(data, &info)
			t.dataMu.Lock()
			t.data.DtlsState = info.DtlsState
			if info.DtlsRemoteCert != "" {
				t.data.DtlsRemoteCert = info.DtlsRemoteCert
			}
			t.dataMu.Unlock()
			t.SafeEmit("dtlsstatechange", info.DtlsState)
			t.observer.SafeEmit("dtlsstatechange", info.DtlsState)
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
			t.logger.Error(merrors.NewProtocolError("unknown event"), "ignoring unknown webRtcTransport event", "event", event)
		}
	})
}
