package mediasoup

// NumSctpStreams is the OS/IS pair of a DataChannel association's SCTP
// stream space.
type NumSctpStreams struct {
	OS  int `json:"OS"`
	MIS int `json:"MIS"`
}

// SctpCapabilities describes what SCTP features an endpoint supports.
type SctpCapabilities struct {
	NumStreams NumSctpStreams `json:"numStreams"`
}

// SctpParameters is the negotiated SCTP association configuration of a
// Transport or DataProducer/DataConsumer.
type SctpParameters struct {
	Port           int `json:"port"`
	OS             int `json:"OS"`
	MIS            int `json:"MIS"`
	MaxMessageSize int `json:"maxMessageSize"`
}

// SctpState is the lifecycle of a Transport's SCTP association.
type SctpState string

const (
	SctpState_New        SctpState = "new"
	SctpState_Connecting SctpState = "connecting"
	SctpState_Connected  SctpState = "connected"
	SctpState_Failed     SctpState = "failed"
	SctpState_Closed     SctpState = "closed"
)

// SctpStreamParameters identifies one DataProducer/DataConsumer's SCTP
// stream.
type SctpStreamParameters struct {
	StreamId          int    `json:"streamId"`
	Ordered           *bool  `json:"ordered,omitempty"`
	MaxPacketLifeTime *int   `json:"maxPacketLifeTime,omitempty"`
	MaxRetransmits    *int   `json:"maxRetransmits,omitempty"`
}
