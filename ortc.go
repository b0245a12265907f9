package mediasoup

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"

	"github.com/imdario/mergo"

	"github.com/RainStream/rainstream-server-sub000/internal/h264profile"
	"github.com/RainStream/rainstream-server-sub000/internal/merrors"
)

// dynamicPayloadTypes is the fixed draw order the allocator uses when a
// codec has no caller-assigned preferredPayloadType (spec.md §4.13).
var dynamicPayloadTypes = func() []int {
	out := make([]int, 0, 32)
	for pt := 100; pt <= 127; pt++ {
		out = append(out, pt)
	}
	for pt := 96; pt <= 99; pt++ {
		out = append(out, pt)
	}
	return out
}()

// supportedRtpCapabilities is the compile-time constant set of codecs
// and header extensions this control plane's workers can negotiate,
// grounded on the equivalent table in itzmanish/jiyeyuran's
// mediasoup/rtp_capabilities.go.
var supportedRtpCapabilities = RtpCapabilities{
	Codecs: []RtpCodecCapability{
		{Kind: MediaKind_Audio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: MediaKind_Audio, MimeType: "audio/PCMU", PreferredPayloadType: 0, ClockRate: 8000},
		{Kind: MediaKind_Audio, MimeType: "audio/PCMA", PreferredPayloadType: 8, ClockRate: 8000},
		{Kind: MediaKind_Audio, MimeType: "audio/ISAC", ClockRate: 32000},
		{Kind: MediaKind_Audio, MimeType: "audio/ISAC", ClockRate: 16000},
		{Kind: MediaKind_Audio, MimeType: "audio/G722", PreferredPayloadType: 9, ClockRate: 8000},
		{Kind: MediaKind_Audio, MimeType: "audio/iLBC", ClockRate: 8000},
		{Kind: MediaKind_Audio, MimeType: "audio/SILK", ClockRate: 24000},
		{Kind: MediaKind_Audio, MimeType: "audio/SILK", ClockRate: 16000},
		{Kind: MediaKind_Audio, MimeType: "audio/SILK", ClockRate: 12000},
		{Kind: MediaKind_Audio, MimeType: "audio/SILK", ClockRate: 8000},
		{Kind: MediaKind_Audio, MimeType: "audio/CN", PreferredPayloadType: 13, ClockRate: 32000},
		{Kind: MediaKind_Audio, MimeType: "audio/CN", PreferredPayloadType: 13, ClockRate: 16000},
		{Kind: MediaKind_Audio, MimeType: "audio/CN", PreferredPayloadType: 13, ClockRate: 8000},
		{
			Kind: MediaKind_Audio, MimeType: "audio/telephone-event", ClockRate: 48000,
			RtcpFeedback: []RtcpFeedback{},
		},
		{
			Kind: MediaKind_Video, MimeType: "video/VP8", ClockRate: 90000,
			RtcpFeedback: []RtcpFeedback{
				{Type: "nack"}, {Type: "nack", Parameter: "pli"}, {Type: "ccm", Parameter: "fir"},
				{Type: "goog-remb"}, {Type: "transport-cc"},
			},
		},
		{
			Kind: MediaKind_Video, MimeType: "video/VP9", ClockRate: 90000,
			RtcpFeedback: []RtcpFeedback{
				{Type: "nack"}, {Type: "nack", Parameter: "pli"}, {Type: "ccm", Parameter: "fir"},
				{Type: "goog-remb"}, {Type: "transport-cc"},
			},
		},
		{
			Kind: MediaKind_Video, MimeType: "video/H264", ClockRate: 90000,
			Parameters: RtpCodecParameterValue{"packetization-mode": 0, "level-asymmetry-allowed": 1},
			RtcpFeedback: []RtcpFeedback{
				{Type: "nack"}, {Type: "nack", Parameter: "pli"}, {Type: "ccm", Parameter: "fir"},
				{Type: "goog-remb"}, {Type: "transport-cc"},
			},
		},
		{
			Kind: MediaKind_Video, MimeType: "video/H264", ClockRate: 90000,
			Parameters: RtpCodecParameterValue{"packetization-mode": 1, "level-asymmetry-allowed": 1},
			RtcpFeedback: []RtcpFeedback{
				{Type: "nack"}, {Type: "nack", Parameter: "pli"}, {Type: "ccm", Parameter: "fir"},
				{Type: "goog-remb"}, {Type: "transport-cc"},
			},
		},
	},
	HeaderExtensions: []RtpHeaderExtension{
		{Kind: MediaKind_Audio, Uri: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredId: 1},
		{Kind: MediaKind_Video, Uri: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredId: 1},
		{Kind: MediaKind_Video, Uri: "urn:3gpp:video-orientation", PreferredId: 4},
		{Kind: MediaKind_Video, Uri: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredId: 3},
		{Kind: MediaKind_Audio, Uri: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredId: 3},
		{
			Kind: MediaKind_Video, Uri: "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01",
			PreferredId: 5,
		},
		{
			Kind: MediaKind_Audio, Uri: "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01",
			PreferredId: 5,
		},
		{Kind: MediaKind_Audio, Uri: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", PreferredId: 10},
	},
}

var mimeTypeKindRegexp = regexp.MustCompile(`^(audio|video)/.+$`)

func kindOfMimeType(mimeType string) (MediaKind, bool) {
	if !mimeTypeKindRegexp.MatchString(mimeType) {
		return "", false
	}
	return MediaKind(strings.ToLower(strings.SplitN(mimeType, "/", 2)[0])), true
}

func isRtxMimeType(mimeType string) bool {
	return strings.HasSuffix(strings.ToLower(mimeType), "/rtx")
}

// ValidateRtcpFeedback validates and normalizes fb in place.
func ValidateRtcpFeedback(fb *RtcpFeedback) error {
	if fb.Type == "" {
		return merrors.NewInvalidArgument("missing rtcpFeedback.type")
	}
	return nil
}

// ValidateRtpCodecCapability validates and normalizes codec in place.
func ValidateRtpCodecCapability(codec *RtpCodecCapability) error {
	kind, ok := kindOfMimeType(codec.MimeType)
	if !ok {
		return merrors.NewInvalidArgument("invalid codec.mimeType %q", codec.MimeType)
	}
	codec.Kind = kind

	if codec.PreferredPayloadType != 0 && (codec.PreferredPayloadType < 0 || codec.PreferredPayloadType > 127) {
		return merrors.NewInvalidArgument("invalid codec.preferredPayloadType")
	}
	if codec.ClockRate <= 0 {
		return merrors.NewInvalidArgument("missing codec.clockRate")
	}
	if codec.Kind == MediaKind_Audio && codec.Channels == 0 {
		codec.Channels = 1
	}
	if codec.Parameters == nil {
		codec.Parameters = RtpCodecParameterValue{}
	}
	if codec.RtcpFeedback == nil {
		codec.RtcpFeedback = []RtcpFeedback{}
	}
	for i := range codec.RtcpFeedback {
		if err := ValidateRtcpFeedback(&codec.RtcpFeedback[i]); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRtpHeaderExtension validates and normalizes ext in place.
func ValidateRtpHeaderExtension(ext *RtpHeaderExtension) error {
	if ext.Kind != "" && ext.Kind != MediaKind_Audio && ext.Kind != MediaKind_Video {
		return merrors.NewInvalidArgument("invalid headerExtension.kind %q", ext.Kind)
	}
	if ext.Uri == "" {
		return merrors.NewInvalidArgument("missing headerExtension.uri")
	}
	if ext.Direction == "" {
		ext.Direction = "sendrecv"
	}
	return nil
}

// ValidateRtpCapabilities validates and normalizes caps in place.
func ValidateRtpCapabilities(caps *RtpCapabilities) error {
	for i := range caps.Codecs {
		if err := ValidateRtpCodecCapability(&caps.Codecs[i]); err != nil {
			return err
		}
	}
	for i := range caps.HeaderExtensions {
		if err := ValidateRtpHeaderExtension(&caps.HeaderExtensions[i]); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRtcpParameters validates and normalizes rtcp in place.
func ValidateRtcpParameters(rtcp *RtcpParameters) error {
	return nil
}

// ValidateRtpCodecParameters validates and normalizes codec in place.
func ValidateRtpCodecParameters(codec *RtpCodecParameters) error {
	if _, ok := kindOfMimeType(codec.MimeType); !ok {
		return merrors.NewInvalidArgument("invalid codec.mimeType %q", codec.MimeType)
	}
	if codec.PayloadType < 0 || codec.PayloadType > 127 {
		return merrors.NewInvalidArgument("invalid codec.payloadType")
	}
	if codec.ClockRate <= 0 {
		return merrors.NewInvalidArgument("missing codec.clockRate")
	}
	kind, _ := kindOfMimeType(codec.MimeType)
	if kind == MediaKind_Audio && codec.Channels == 0 {
		codec.Channels = 1
	}
	if codec.Parameters == nil {
		codec.Parameters = RtpCodecParameterValue{}
	}
	if codec.RtcpFeedback == nil {
		codec.RtcpFeedback = []RtcpFeedback{}
	}
	for i := range codec.RtcpFeedback {
		if err := ValidateRtcpFeedback(&codec.RtcpFeedback[i]); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRtpHeaderExtensionParameters validates and normalizes ext in place.
func ValidateRtpHeaderExtensionParameters(ext *RtpHeaderExtensionParameters) error {
	if ext.Uri == "" {
		return merrors.NewInvalidArgument("missing headerExtension.uri")
	}
	if ext.Id <= 0 {
		return merrors.NewInvalidArgument("missing headerExtension.id")
	}
	if ext.Parameters == nil {
		ext.Parameters = RtpCodecParameterValue{}
	}
	return nil
}

// ValidateRtpEncodingParameters validates enc in place.
func ValidateRtpEncodingParameters(enc *RtpEncodingParameters) error {
	return nil
}

// ValidateRtpParameters validates and normalizes params in place.
func ValidateRtpParameters(params *RtpParameters) error {
	for i := range params.Codecs {
		if err := ValidateRtpCodecParameters(&params.Codecs[i]); err != nil {
			return err
		}
	}
	for i := range params.HeaderExtensions {
		if err := ValidateRtpHeaderExtensionParameters(&params.HeaderExtensions[i]); err != nil {
			return err
		}
	}
	for i := range params.Encodings {
		if err := ValidateRtpEncodingParameters(&params.Encodings[i]); err != nil {
			return err
		}
	}
	return ValidateRtcpParameters(&params.Rtcp)
}

// ValidateNumSctpStreams validates n in place.
func ValidateNumSctpStreams(n *NumSctpStreams) error {
	if n.OS <= 0 || n.MIS <= 0 {
		return merrors.NewInvalidArgument("invalid numSctpStreams")
	}
	return nil
}

// ValidateSctpCapabilities validates caps in place.
func ValidateSctpCapabilities(caps *SctpCapabilities) error {
	return ValidateNumSctpStreams(&caps.NumStreams)
}

// ValidateSctpParameters validates params in place.
func ValidateSctpParameters(params *SctpParameters) error {
	if params.Port <= 0 {
		return merrors.NewInvalidArgument("missing sctpParameters.port")
	}
	return nil
}

// ValidateSctpStreamParameters validates and normalizes params in place.
func ValidateSctpStreamParameters(params *SctpStreamParameters) error {
	if params.StreamId < 0 {
		return merrors.NewInvalidArgument("missing sctpStreamParameters.streamId")
	}
	orderedGiven := params.Ordered != nil
	if !orderedGiven {
		ordered := params.MaxPacketLifeTime == nil && params.MaxRetransmits == nil
		params.Ordered = &ordered
	}
	if params.MaxPacketLifeTime != nil && params.MaxRetransmits != nil {
		return merrors.NewInvalidArgument("cannot provide both maxPacketLifeTime and maxRetransmits")
	}
	return nil
}

// matchCodecs reports whether producer-side codec fields (mimeType,
// clockRate, channels, parameters) match router-side codec fields
// under spec.md §4.13's matchCodecs rules. When modify is true and the
// codecs are video/h264, the computed answer profile-level-id is
// written back into aParams.
func matchCodecs(
	aMimeType string, aClockRate, aChannels int, aParams RtpCodecParameterValue,
	bMimeType string, bClockRate, bChannels int, bParams RtpCodecParameterValue,
	strict, modify bool,
) (bool, error) {
	if !strings.EqualFold(aMimeType, bMimeType) {
		return false, nil
	}
	if aClockRate != bClockRate {
		return false, nil
	}
	if normalizeChannels(aChannels) != normalizeChannels(bChannels) {
		return false, nil
	}

	mime := strings.ToLower(aMimeType)

	switch mime {
	case "video/h264", "video/h264-svc":
		aPm := paramInt(aParams, "packetization-mode", 0)
		bPm := paramInt(bParams, "packetization-mode", 0)
		if aPm != bPm {
			return false, nil
		}
		if strict {
			aId, _ := aParams["profile-level-id"].(string)
			bId, _ := bParams["profile-level-id"].(string)
			if !h264profile.SameProfile(aId, bId) {
				return false, fmt.Errorf("h264 profiles do not match")
			}
			answer, err := h264profile.GenerateProfileLevelIdForAnswer(
				stringParams(aParams), stringParams(bParams))
			if err != nil {
				return false, err
			}
			if modify {
				if answer != "" {
					aParams["profile-level-id"] = answer
				} else {
					delete(aParams, "profile-level-id")
				}
			}
		}
	case "video/vp9":
		if strict {
			aProfile := paramInt(aParams, "profile-id", 0)
			bProfile := paramInt(bParams, "profile-id", 0)
			if aProfile != bProfile {
				return false, nil
			}
		}
	}

	return true, nil
}

func normalizeChannels(n int) int {
	if n == 0 {
		return 1
	}
	return n
}

func paramInt(params RtpCodecParameterValue, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	case string:
		n, err := strconv.Atoi(t)
		if err == nil {
			return n
		}
	}
	return def
}

func stringParams(params RtpCodecParameterValue) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		switch t := v.(type) {
		case string:
			out[k] = t
		case int:
			out[k] = strconv.Itoa(t)
		case float64:
			out[k] = strconv.Itoa(int(t))
		}
	}
	return out
}

// matchHeaderExtensions reports whether a and b describe the same
// header extension (spec.md §4.13 "Header-extension matching").
func matchHeaderExtensions(aKind MediaKind, aUri string, bKind MediaKind, bUri string) bool {
	if aUri != bUri {
		return false
	}
	if aKind != "" && bKind != "" && aKind != bKind {
		return false
	}
	return true
}

// generateRouterRtpCapabilities derives a Router's immutable RTP
// capability set from the media codecs an embedder configured it with
// (spec.md §4.13).
func generateRouterRtpCapabilities(mediaCodecs []RtpCodecCapability) (RtpCapabilities, error) {
	supported := supportedRtpCapabilities
	if err := ValidateRtpCapabilities(&supported); err != nil {
		return RtpCapabilities{}, err
	}

	caps := RtpCapabilities{
		Codecs:           []RtpCodecCapability{},
		HeaderExtensions: supported.HeaderExtensions,
	}

	dynamicPool := append([]int(nil), dynamicPayloadTypes...)
	takeDynamic := func() (int, bool) {
		if len(dynamicPool) == 0 {
			return 0, false
		}
		pt := dynamicPool[0]
		dynamicPool = dynamicPool[1:]
		return pt, true
	}
	removeDynamic := func(pt int) {
		for i, v := range dynamicPool {
			if v == pt {
				dynamicPool = append(dynamicPool[:i], dynamicPool[i+1:]...)
				return
			}
		}
	}

	usedPreferred := map[int]bool{}

	for _, mediaCodec := range mediaCodecs {
		codec := mediaCodec
		if err := ValidateRtpCodecCapability(&codec); err != nil {
			return RtpCapabilities{}, err
		}
		if isRtxMimeType(codec.MimeType) {
			return RtpCapabilities{}, merrors.NewInvalidArgument("invalid media codec mimeType %q", codec.MimeType)
		}

		var matched *RtpCodecCapability
		for i := range supported.Codecs {
			ok, err := matchCodecs(
				codec.MimeType, codec.ClockRate, codec.Channels, codec.Parameters,
				supported.Codecs[i].MimeType, supported.Codecs[i].ClockRate, supported.Codecs[i].Channels, supported.Codecs[i].Parameters,
				false, false,
			)
			if err != nil {
				continue
			}
			if ok && !isRtxMimeType(supported.Codecs[i].MimeType) {
				matched = &supported.Codecs[i]
				break
			}
		}
		if matched == nil {
			return RtpCapabilities{}, merrors.NewCapabilityMismatch("unsupported codec %q", codec.MimeType)
		}

		routerCodec := *matched
		routerCodec.Kind = codec.Kind
		routerCodec.RtcpFeedback = append([]RtcpFeedback(nil), matched.RtcpFeedback...)

		if codec.PreferredPayloadType != 0 {
			if usedPreferred[codec.PreferredPayloadType] {
				return RtpCapabilities{}, merrors.NewInvalidArgument(
					"duplicate preferredPayloadType %d", codec.PreferredPayloadType)
			}
			routerCodec.PreferredPayloadType = codec.PreferredPayloadType
			removeDynamic(codec.PreferredPayloadType)
		} else if matched.PreferredPayloadType != 0 {
			routerCodec.PreferredPayloadType = matched.PreferredPayloadType
		} else {
			pt, ok := takeDynamic()
			if !ok {
				return RtpCapabilities{}, merrors.NewInvalidArgument("no more available dynamic payload types")
			}
			routerCodec.PreferredPayloadType = pt
		}
		usedPreferred[routerCodec.PreferredPayloadType] = true

		merged := RtpCodecParameterValue{}
		for k, v := range matched.Parameters {
			merged[k] = v
		}
		if err := mergo.Merge(&merged, codec.Parameters, mergo.WithOverride); err != nil {
			return RtpCapabilities{}, err
		}
		routerCodec.Parameters = merged

		caps.Codecs = append(caps.Codecs, routerCodec)

		if routerCodec.Kind == MediaKind_Video {
			rtxPt, ok := takeDynamic()
			if !ok {
				return RtpCapabilities{}, merrors.NewInvalidArgument("no more available dynamic payload types")
			}
			usedPreferred[rtxPt] = true
			caps.Codecs = append(caps.Codecs, RtpCodecCapability{
				Kind:                 MediaKind_Video,
				MimeType:             string(routerCodec.Kind) + "/rtx",
				ClockRate:            routerCodec.ClockRate,
				PreferredPayloadType: rtxPt,
				Parameters:           RtpCodecParameterValue{"apt": routerCodec.PreferredPayloadType},
				RtcpFeedback:         []RtcpFeedback{},
			})
		}
	}

	return caps, nil
}

// getProducerRtpParametersMapping derives the per-call codec/ssrc
// mapping table a produce() request sends to the worker (spec.md
// §4.13).
func getProducerRtpParametersMapping(params RtpParameters, caps RtpCapabilities) (RtpMapping, error) {
	mapping := RtpMapping{Codecs: []RtpMappingCodec{}, Encodings: []RtpMappingEncoding{}}

	for _, codec := range params.Codecs {
		if isRtxMimeType(codec.MimeType) {
			continue
		}
		var mapped *RtpCodecCapability
		for i := range caps.Codecs {
			if isRtxMimeType(caps.Codecs[i].MimeType) {
				continue
			}
			ok, err := matchCodecs(
				codec.MimeType, codec.ClockRate, codec.Channels, codec.Parameters,
				caps.Codecs[i].MimeType, caps.Codecs[i].ClockRate, caps.Codecs[i].Channels, caps.Codecs[i].Parameters,
				true, true,
			)
			if err != nil {
				return RtpMapping{}, merrors.NewUnsupported("%v", err)
			}
			if ok {
				mapped = &caps.Codecs[i]
				break
			}
		}
		if mapped == nil {
			return RtpMapping{}, merrors.NewUnsupported("unsupported codec %q", codec.MimeType)
		}
		mapping.Codecs = append(mapping.Codecs, RtpMappingCodec{
			PayloadType: codec.PayloadType, MappedPayloadType: mapped.PreferredPayloadType,
		})
	}

	for _, codec := range params.Codecs {
		if !isRtxMimeType(codec.MimeType) {
			continue
		}
		apt := paramInt(codec.Parameters, "apt", -1)
		var mediaPt int
		found := false
		for _, c := range params.Codecs {
			if c.PayloadType == apt {
				mediaPt = c.PayloadType
				found = true
				break
			}
		}
		if !found {
			return RtpMapping{}, merrors.NewUnsupported("missing media codec found for RTX PT %d", codec.PayloadType)
		}
		var mappedMediaPt int
		for _, m := range mapping.Codecs {
			if m.PayloadType == mediaPt {
				mappedMediaPt = m.MappedPayloadType
				break
			}
		}
		var mappedRtx *RtpCodecCapability
		for i := range caps.Codecs {
			if isRtxMimeType(caps.Codecs[i].MimeType) && paramInt(caps.Codecs[i].Parameters, "apt", -1) == mappedMediaPt {
				mappedRtx = &caps.Codecs[i]
				break
			}
		}
		if mappedRtx == nil {
			return RtpMapping{}, merrors.NewUnsupported("no RTX codec for capability codec PT %d", mappedMediaPt)
		}
		mapping.Codecs = append(mapping.Codecs, RtpMappingCodec{
			PayloadType: codec.PayloadType, MappedPayloadType: mappedRtx.PreferredPayloadType,
		})
	}

	mappedSsrc := uint32(rand.Intn(100000000) + 10000000)
	for _, enc := range params.Encodings {
		me := RtpMappingEncoding{Rid: enc.Rid, ScalabilityMode: enc.ScalabilityMode, MappedSsrc: mappedSsrc}
		if enc.Ssrc != 0 {
			me.Ssrc = enc.Ssrc
		}
		mapping.Encodings = append(mapping.Encodings, me)
		mappedSsrc++
	}

	return mapping, nil
}

// getConsumableRtpParameters derives the router-internal canonicalized
// form of a producer's parameters (spec.md §4.13, §3 I4).
func getConsumableRtpParameters(kind MediaKind, params RtpParameters, caps RtpCapabilities, mapping RtpMapping) RtpParameters {
	consumable := RtpParameters{
		Codecs:           []RtpCodecParameters{},
		HeaderExtensions: []RtpHeaderExtensionParameters{},
		Encodings:        []RtpEncodingParameters{},
	}

	for _, codec := range params.Codecs {
		if isRtxMimeType(codec.MimeType) {
			continue
		}
		var mappedPt int
		for _, m := range mapping.Codecs {
			if m.PayloadType == codec.PayloadType {
				mappedPt = m.MappedPayloadType
				break
			}
		}
		var capCodec *RtpCodecCapability
		for i := range caps.Codecs {
			if caps.Codecs[i].PreferredPayloadType == mappedPt {
				capCodec = &caps.Codecs[i]
				break
			}
		}
		if capCodec == nil {
			continue
		}
		consumable.Codecs = append(consumable.Codecs, RtpCodecParameters{
			MimeType:     capCodec.MimeType,
			PayloadType:  mappedPt,
			ClockRate:    capCodec.ClockRate,
			Channels:     capCodec.Channels,
			Parameters:   codec.Parameters,
			RtcpFeedback: capCodec.RtcpFeedback,
		})

		for i := range caps.Codecs {
			if isRtxMimeType(caps.Codecs[i].MimeType) && paramInt(caps.Codecs[i].Parameters, "apt", -1) == mappedPt {
				consumable.Codecs = append(consumable.Codecs, RtpCodecParameters{
					MimeType:     caps.Codecs[i].MimeType,
					PayloadType:  caps.Codecs[i].PreferredPayloadType,
					ClockRate:    caps.Codecs[i].ClockRate,
					Parameters:   caps.Codecs[i].Parameters,
					RtcpFeedback: []RtcpFeedback{},
				})
				break
			}
		}
	}

	for _, ext := range caps.HeaderExtensions {
		if ext.Kind != kind {
			continue
		}
		if ext.Direction != "sendrecv" && ext.Direction != "sendonly" {
			continue
		}
		consumable.HeaderExtensions = append(consumable.HeaderExtensions, RtpHeaderExtensionParameters{
			Uri: ext.Uri, Id: ext.PreferredId, Encrypt: ext.PreferredEncrypt,
		})
	}

	for i, enc := range params.Encodings {
		ce := RtpEncodingParameters{
			Dtx: enc.Dtx, ScalabilityMode: enc.ScalabilityMode, MaxBitrate: enc.MaxBitrate,
		}
		if i < len(mapping.Encodings) {
			ce.Ssrc = mapping.Encodings[i].MappedSsrc
		}
		consumable.Encodings = append(consumable.Encodings, ce)
	}

	consumable.Rtcp = RtcpParameters{Cname: params.Rtcp.Cname, ReducedSize: true, Mux: true}

	return consumable
}

// canConsume reports whether consumableParams has at least one
// non-RTX codec that strict-matches a codec in caps (spec.md §4.13,
// §8).
func canConsume(consumableParams RtpParameters, caps RtpCapabilities) bool {
	if err := ValidateRtpCapabilities(&caps); err != nil {
		return false
	}
	for _, codec := range consumableParams.Codecs {
		if isRtxMimeType(codec.MimeType) {
			continue
		}
		for _, capCodec := range caps.Codecs {
			if isRtxMimeType(capCodec.MimeType) {
				continue
			}
			ok, err := matchCodecs(
				codec.MimeType, codec.ClockRate, codec.Channels, codec.Parameters,
				capCodec.MimeType, capCodec.ClockRate, capCodec.Channels, capCodec.Parameters,
				true, false,
			)
			if err == nil && ok {
				return true
			}
		}
	}
	return false
}

// getConsumerRtpParameters derives the RTP parameters for a Consumer
// from a Producer's consumableRtpParameters and the consuming
// endpoint's capabilities (spec.md §4.13, §3 I5).
func getConsumerRtpParameters(consumableParams RtpParameters, caps RtpCapabilities) (RtpParameters, error) {
	params := RtpParameters{
		Codecs:           []RtpCodecParameters{},
		HeaderExtensions: []RtpHeaderExtensionParameters{},
		Encodings:        []RtpEncodingParameters{},
		Rtcp:             consumableParams.Rtcp,
	}

	for _, codec := range consumableParams.Codecs {
		for _, capCodec := range caps.Codecs {
			ok, err := matchCodecs(
				codec.MimeType, codec.ClockRate, codec.Channels, codec.Parameters,
				capCodec.MimeType, capCodec.ClockRate, capCodec.Channels, capCodec.Parameters,
				true, false,
			)
			if err != nil {
				continue
			}
			if ok {
				c := codec
				c.RtcpFeedback = capCodec.RtcpFeedback
				params.Codecs = append(params.Codecs, c)
				break
			}
		}
	}

	if len(params.Codecs) == 0 || isRtxMimeType(params.Codecs[0].MimeType) {
		return RtpParameters{}, merrors.NewUnsupported("no compatible media codecs")
	}

	capIdUri := map[int]string{}
	for _, ext := range caps.HeaderExtensions {
		capIdUri[ext.PreferredId] = ext.Uri
	}
	hasTCC, hasAST := false, false
	for _, ext := range consumableParams.HeaderExtensions {
		if uri, ok := capIdUri[ext.Id]; ok && uri == ext.Uri {
			params.HeaderExtensions = append(params.HeaderExtensions, ext)
			switch ext.Uri {
			case "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01":
				hasTCC = true
			case "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time":
				hasAST = true
			}
		}
	}

	for i := range params.Codecs {
		filtered := params.Codecs[i].RtcpFeedback[:0:0]
		for _, fb := range params.Codecs[i].RtcpFeedback {
			if fb.Type == "goog-remb" && hasTCC {
				continue
			}
			if fb.Type == "transport-cc" && !hasTCC && hasAST {
				continue
			}
			if (fb.Type == "goog-remb" || fb.Type == "transport-cc") && !hasTCC && !hasAST {
				continue
			}
			filtered = append(filtered, fb)
		}
		params.Codecs[i].RtcpFeedback = filtered
	}

	hasRtx := false
	for _, c := range params.Codecs {
		if isRtxMimeType(c.MimeType) {
			hasRtx = true
			break
		}
	}

	temporalLayers, ksvc := 1, false
	consumableCount := 0
	var maxBitrate int
	var singleScalabilityMode string
	for _, enc := range consumableParams.Encodings {
		consumableCount++
		singleScalabilityMode = enc.ScalabilityMode
		if enc.ScalabilityMode != "" {
			sm := parseScalabilityMode(enc.ScalabilityMode)
			temporalLayers = sm.TemporalLayers
			ksvc = sm.Ksvc
		}
		if enc.MaxBitrate > maxBitrate {
			maxBitrate = enc.MaxBitrate
		}
	}

	encoding := RtpEncodingParameters{Ssrc: uint32(rand.Intn(900000000) + 100000000)}
	if hasRtx {
		encoding.Rtx = &RtpEncodingRtx{Ssrc: encoding.Ssrc + 1}
	}
	if consumableCount > 1 {
		mode := fmt.Sprintf("S%dT%d", consumableCount, temporalLayers)
		if ksvc {
			mode += "_KEY"
		}
		encoding.ScalabilityMode = mode
	} else {
		// Single consumable encoding: pass its scalabilityMode through
		// verbatim rather than reconstructing it from parsed layers.
		encoding.ScalabilityMode = singleScalabilityMode
	}
	if maxBitrate > 0 {
		encoding.MaxBitrate = maxBitrate
	}

	params.Encodings = []RtpEncodingParameters{encoding}

	return params, nil
}

// getPipeConsumerRtpParameters derives the RTP parameters for a pipe
// Consumer, which preserves all simulcast layers verbatim (spec.md
// §4.13, §4.10 PipeTransport).
func getPipeConsumerRtpParameters(consumableParams RtpParameters, enableRtx bool) RtpParameters {
	params := RtpParameters{
		Codecs:           []RtpCodecParameters{},
		HeaderExtensions: []RtpHeaderExtensionParameters{},
		Encodings:        append([]RtpEncodingParameters(nil), consumableParams.Encodings...),
		Rtcp:             consumableParams.Rtcp,
	}

	for _, codec := range consumableParams.Codecs {
		if !enableRtx && isRtxMimeType(codec.MimeType) {
			continue
		}
		c := codec
		if isRtxMimeType(codec.MimeType) {
			c.RtcpFeedback = []RtcpFeedback{}
		} else {
			var fb []RtcpFeedback
			for _, f := range codec.RtcpFeedback {
				if f.Type == "nack" && f.Parameter == "" {
					continue
				}
				if f.Type == "nack" || (f.Type == "ccm" && f.Parameter == "fir") {
					fb = append(fb, f)
				}
			}
			c.RtcpFeedback = fb
		}
		params.Codecs = append(params.Codecs, c)
	}

	for _, ext := range consumableParams.HeaderExtensions {
		switch ext.Uri {
		case "urn:ietf:params:rtp-hdrext:sdes:mid",
			"http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time",
			"http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01":
			continue
		}
		params.HeaderExtensions = append(params.HeaderExtensions, ext)
	}

	return params
}

var scalabilityModeRegexp = regexp.MustCompile(`^[LS]([1-9]\d?)T([1-9]\d?)(_KEY)?`)

// parseScalabilityMode parses an encoding's scalabilityMode string
// (spec.md §4.13). On a non-match it returns {1,1,false} and the
// caller is expected to log.
func parseScalabilityMode(s string) ScalabilityMode {
	m := scalabilityModeRegexp.FindStringSubmatch(s)
	if m == nil {
		return ScalabilityMode{SpatialLayers: 1, TemporalLayers: 1}
	}
	spatial, _ := strconv.Atoi(m[1])
	temporal, _ := strconv.Atoi(m[2])
	return ScalabilityMode{SpatialLayers: spatial, TemporalLayers: temporal, Ksvc: m[3] != ""}
}
