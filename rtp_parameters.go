package mediasoup

// RtpCapabilities describes what an endpoint (Router or remote peer)
// can send/receive: a codec list and header-extension list.
type RtpCapabilities struct {
	Codecs           []RtpCodecCapability `json:"codecs,omitempty"`
	HeaderExtensions []RtpHeaderExtension `json:"headerExtensions,omitempty"`
	FecMechanisms    []string             `json:"fecMechanisms,omitempty"`
}

// RtpCodecCapability is one codec an endpoint supports.
type RtpCodecCapability struct {
	Kind                 MediaKind              `json:"kind,omitempty"`
	MimeType             string                 `json:"mimeType"`
	PreferredPayloadType int                    `json:"preferredPayloadType,omitempty"`
	ClockRate            int                    `json:"clockRate"`
	Channels             int                    `json:"channels,omitempty"`
	Parameters           RtpCodecParameterValue `json:"parameters,omitempty"`
	RtcpFeedback         []RtcpFeedback         `json:"rtcpFeedback,omitempty"`
}

// RtpCodecParameterValue is an opaque codec-specific parameter bag
// (e.g. packetization-mode, profile-level-id, apt, useinbandfec).
type RtpCodecParameterValue map[string]interface{}

// RtcpFeedback is one RTCP feedback mechanism a codec supports.
type RtcpFeedback struct {
	Type      string `json:"type,omitempty"`
	Parameter string `json:"parameter,omitempty"`
}

// RtpHeaderExtension is one header extension a Router supports.
type RtpHeaderExtension struct {
	Kind             MediaKind `json:"kind,omitempty"`
	Uri              string    `json:"uri"`
	PreferredId      int       `json:"preferredId"`
	PreferredEncrypt bool      `json:"preferredEncrypt,omitempty"`
	Direction        string    `json:"direction,omitempty"`
}

// RtpParameters describes the RTP stream(s) produced or consumed by an
// endpoint: negotiated codecs, header extensions, encodings, mid, and
// RTCP configuration.
type RtpParameters struct {
	Mid              string                         `json:"mid,omitempty"`
	Codecs           []RtpCodecParameters           `json:"codecs"`
	HeaderExtensions []RtpHeaderExtensionParameters `json:"headerExtensions,omitempty"`
	Encodings        []RtpEncodingParameters        `json:"encodings,omitempty"`
	Rtcp             RtcpParameters                 `json:"rtcp,omitempty"`
}

// RtpCodecParameters is one negotiated codec within RtpParameters.
type RtpCodecParameters struct {
	MimeType     string                 `json:"mimeType"`
	PayloadType  int                    `json:"payloadType"`
	ClockRate    int                    `json:"clockRate"`
	Channels     int                    `json:"channels,omitempty"`
	Parameters   RtpCodecParameterValue `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback         `json:"rtcpFeedback,omitempty"`
}

// RtpHeaderExtensionParameters is one negotiated header extension
// within RtpParameters.
type RtpHeaderExtensionParameters struct {
	Uri        string                 `json:"uri"`
	Id         int                    `json:"id"`
	Encrypt    bool                   `json:"encrypt,omitempty"`
	Parameters RtpCodecParameterValue `json:"parameters,omitempty"`
}

// RtpEncodingRtx is the RTX companion ssrc of an encoding.
type RtpEncodingRtx struct {
	Ssrc uint32 `json:"ssrc"`
}

// RtpEncodingParameters is one simulcast/SVC layer of an RtpParameters
// encodings list.
type RtpEncodingParameters struct {
	Ssrc            uint32          `json:"ssrc,omitempty"`
	Rid             string          `json:"rid,omitempty"`
	CodecPayloadType *int           `json:"codecPayloadType,omitempty"`
	Rtx             *RtpEncodingRtx `json:"rtx,omitempty"`
	Dtx             bool            `json:"dtx,omitempty"`
	ScalabilityMode string          `json:"scalabilityMode,omitempty"`
	MaxBitrate      int             `json:"maxBitrate,omitempty"`
}

// RtcpParameters is the RTCP configuration of an RtpParameters.
type RtcpParameters struct {
	Cname       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize,omitempty"`
	Mux         bool   `json:"mux,omitempty"`
}

// RtpMapping is the producer-codec/encoding -> router-mapped
// translation table computed once at produce() time (spec.md §4.13
// getProducerRtpParametersMapping) and sent to the worker.
type RtpMapping struct {
	Codecs    []RtpMappingCodec    `json:"codecs"`
	Encodings []RtpMappingEncoding `json:"encodings"`
}

// RtpMappingCodec maps one producer payload type to the router's
// internal (mapped) payload type.
type RtpMappingCodec struct {
	PayloadType       int `json:"payloadType"`
	MappedPayloadType int `json:"mappedPayloadType"`
}

// RtpMappingEncoding maps one producer encoding to a router-internal
// mapped ssrc.
type RtpMappingEncoding struct {
	Ssrc            uint32 `json:"ssrc,omitempty"`
	Rid             string `json:"rid,omitempty"`
	ScalabilityMode string `json:"scalabilityMode,omitempty"`
	MappedSsrc      uint32 `json:"mappedSsrc"`
}

// ScalabilityMode is the parsed form of an encoding's
// `L<N>T<t>[_KEY]` scalability-mode string (spec.md §4.13
// parseScalabilityMode).
type ScalabilityMode struct {
	SpatialLayers  int
	TemporalLayers int
	Ksvc           bool
}
