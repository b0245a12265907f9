package mediasoup

// H is a loosely-typed JSON object, used throughout this package for
// request payloads that have no stronger type of their own - the same
// shorthand the teacher's codebase uses for ad-hoc request bodies.
type H map[string]interface{}

// MediaKind is the media type of a Producer/Consumer: "audio" or "video".
type MediaKind string

const (
	MediaKind_Audio MediaKind = "audio"
	MediaKind_Video MediaKind = "video"
)

// internalData is the tuple of ancestor ids that uniquely routes an IPC
// request to its worker-side peer (spec.md §3 "internal handle"). Not
// every field is populated for every object: a Router request only
// carries RouterId, a Consumer request carries the full chain.
type internalData struct {
	RouterId         string `json:"routerId,omitempty"`
	TransportId      string `json:"transportId,omitempty"`
	ProducerId       string `json:"producerId,omitempty"`
	ConsumerId       string `json:"consumerId,omitempty"`
	DataProducerId   string `json:"dataProducerId,omitempty"`
	DataConsumerId   string `json:"dataConsumerId,omitempty"`
	RtpObserverId    string `json:"rtpObserverId,omitempty"`
	WebRtcServerId   string `json:"webRtcServerId,omitempty"`
}

// handlerId is the worker-side object id a Channel request is
// addressed to: the deepest owning object in the internal handle.
func (i internalData) handlerId() string {
	switch {
	case i.ConsumerId != "":
		return i.TransportId
	case i.ProducerId != "":
		return i.TransportId
	case i.DataConsumerId != "":
		return i.TransportId
	case i.DataProducerId != "":
		return i.TransportId
	case i.TransportId != "":
		return i.TransportId
	case i.RtpObserverId != "":
		return i.RouterId
	case i.RouterId != "":
		return i.RouterId
	case i.WebRtcServerId != "":
		return i.WebRtcServerId
	default:
		return ""
	}
}
