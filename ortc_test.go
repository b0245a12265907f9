package mediasoup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRouterRtpCapabilities(t *testing.T) {
	mediaCodecs := []RtpCodecCapability{
		{Kind: MediaKind_Audio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: MediaKind_Video, MimeType: "video/VP8", ClockRate: 90000},
	}

	caps, err := generateRouterRtpCapabilities(mediaCodecs)
	require.NoError(t, err)

	// opus (no rtx companion) + VP8 + VP8/rtx.
	require.Len(t, caps.Codecs, 3)

	assert.Equal(t, "audio/opus", caps.Codecs[0].MimeType)
	assert.NotZero(t, caps.Codecs[0].PreferredPayloadType)

	assert.Equal(t, "video/VP8", caps.Codecs[1].MimeType)
	assert.Equal(t, "video/rtx", caps.Codecs[2].MimeType)
	assert.Equal(t, caps.Codecs[1].PreferredPayloadType, caps.Codecs[2].Parameters["apt"])

	assert.NotEmpty(t, caps.HeaderExtensions)
}

func TestGenerateRouterRtpCapabilitiesRejectsUnsupportedCodec(t *testing.T) {
	_, err := generateRouterRtpCapabilities([]RtpCodecCapability{
		{Kind: MediaKind_Video, MimeType: "video/made-up-codec", ClockRate: 90000},
	})
	assert.Error(t, err)
}

func TestGenerateRouterRtpCapabilitiesRejectsRtxMediaCodec(t *testing.T) {
	_, err := generateRouterRtpCapabilities([]RtpCodecCapability{
		{Kind: MediaKind_Video, MimeType: "video/rtx", ClockRate: 90000},
	})
	assert.Error(t, err)
}

func TestGenerateRouterRtpCapabilitiesRejectsDuplicatePreferredPayloadType(t *testing.T) {
	_, err := generateRouterRtpCapabilities([]RtpCodecCapability{
		{Kind: MediaKind_Audio, MimeType: "audio/PCMU", PreferredPayloadType: 0, ClockRate: 8000},
		{Kind: MediaKind_Audio, MimeType: "audio/PCMA", PreferredPayloadType: 0, ClockRate: 8000},
	})
	assert.Error(t, err)
}

func TestCanConsume(t *testing.T) {
	routerCaps, err := generateRouterRtpCapabilities([]RtpCodecCapability{
		{Kind: MediaKind_Audio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	})
	require.NoError(t, err)

	consumable := RtpParameters{
		Codecs: []RtpCodecParameters{
			{MimeType: "audio/opus", PayloadType: routerCaps.Codecs[0].PreferredPayloadType, ClockRate: 48000, Channels: 2},
		},
	}

	assert.True(t, canConsume(consumable, routerCaps))

	incompatible := RtpParameters{
		Codecs: []RtpCodecParameters{
			{MimeType: "audio/ISAC", PayloadType: 105, ClockRate: 32000},
		},
	}
	assert.False(t, canConsume(incompatible, routerCaps))
}

func TestParseScalabilityMode(t *testing.T) {
	cases := []struct {
		in   string
		want ScalabilityMode
	}{
		{"L1T3", ScalabilityMode{SpatialLayers: 1, TemporalLayers: 3}},
		{"S2T3_KEY", ScalabilityMode{SpatialLayers: 2, TemporalLayers: 3, Ksvc: true}},
		{"garbage", ScalabilityMode{SpatialLayers: 1, TemporalLayers: 1}},
		{"", ScalabilityMode{SpatialLayers: 1, TemporalLayers: 1}},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, parseScalabilityMode(c.in), "input %q", c.in)
	}
}

func TestGetConsumerRtpParametersPassesThroughSingleEncodingScalabilityMode(t *testing.T) {
	routerCaps, err := generateRouterRtpCapabilities([]RtpCodecCapability{
		{Kind: MediaKind_Video, MimeType: "video/VP8", ClockRate: 90000},
	})
	require.NoError(t, err)

	pt := routerCaps.Codecs[0].PreferredPayloadType
	consumable := RtpParameters{
		Codecs: []RtpCodecParameters{
			{MimeType: "video/VP8", PayloadType: pt, ClockRate: 90000},
		},
		Encodings: []RtpEncodingParameters{
			{Ssrc: 1111, ScalabilityMode: "L1T3"},
		},
	}

	caps := RtpCapabilities{Codecs: []RtpCodecCapability{
		{Kind: MediaKind_Video, MimeType: "video/VP8", PreferredPayloadType: pt, ClockRate: 90000},
	}}

	params, err := getConsumerRtpParameters(consumable, caps)
	require.NoError(t, err)
	require.Len(t, params.Encodings, 1)
	assert.Equal(t, "L1T3", params.Encodings[0].ScalabilityMode)
}

func TestGetPipeConsumerRtpParametersDropsRtxWhenDisabled(t *testing.T) {
	consumable := RtpParameters{
		Codecs: []RtpCodecParameters{
			{MimeType: "video/VP8", PayloadType: 101, ClockRate: 90000, RtcpFeedback: []RtcpFeedback{
				{Type: "nack"}, {Type: "goog-remb"},
			}},
			{MimeType: "video/rtx", PayloadType: 102, ClockRate: 90000, Parameters: RtpCodecParameterValue{"apt": 101}},
		},
		HeaderExtensions: []RtpHeaderExtensionParameters{
			{Uri: "urn:ietf:params:rtp-hdrext:sdes:mid", Id: 1},
			{Uri: "urn:3gpp:video-orientation", Id: 4},
		},
		Encodings: []RtpEncodingParameters{{Ssrc: 1111}},
	}

	withoutRtx := getPipeConsumerRtpParameters(consumable, false)
	require.Len(t, withoutRtx.Codecs, 1)
	assert.Equal(t, "video/VP8", withoutRtx.Codecs[0].MimeType)

	withRtx := getPipeConsumerRtpParameters(consumable, true)
	require.Len(t, withRtx.Codecs, 2)

	// mid is stripped for pipe consumers; video-orientation survives.
	require.Len(t, withRtx.HeaderExtensions, 1)
	assert.Equal(t, "urn:3gpp:video-orientation", withRtx.HeaderExtensions[0].Uri)
}

func TestValidateRtpCodecCapabilityDefaultsAudioChannels(t *testing.T) {
	codec := RtpCodecCapability{MimeType: "audio/opus", ClockRate: 48000}
	require.NoError(t, ValidateRtpCodecCapability(&codec))
	assert.Equal(t, 1, codec.Channels)
	assert.Equal(t, MediaKind_Audio, codec.Kind)
}

func TestValidateRtpCodecCapabilityRejectsBadMimeType(t *testing.T) {
	codec := RtpCodecCapability{MimeType: "opus", ClockRate: 48000}
	assert.Error(t, ValidateRtpCodecCapability(&codec))
}

func TestValidateSctpStreamParametersDefaultsOrdered(t *testing.T) {
	params := SctpStreamParameters{StreamId: 3}
	require.NoError(t, ValidateSctpStreamParameters(&params))
	require.NotNil(t, params.Ordered)
	assert.True(t, *params.Ordered)
}

func TestValidateSctpStreamParametersRejectsBothLifetimeAndRetransmits(t *testing.T) {
	lifetime := 100
	retransmits := 3
	params := SctpStreamParameters{StreamId: 3, MaxPacketLifeTime: &lifetime, MaxRetransmits: &retransmits}
	assert.Error(t, ValidateSctpStreamParameters(&params))
}
