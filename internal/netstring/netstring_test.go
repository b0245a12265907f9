package netstring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frame, err := Encode([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "5:hello,", string(frame))

	p := NewParser()
	frames, err := p.Feed(frame)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "hello", string(frames[0]))
}

func TestFeedAcrossMultipleWrites(t *testing.T) {
	p := NewParser()

	frames, err := p.Feed([]byte("5:hel"))
	require.NoError(t, err)
	assert.Empty(t, frames)

	frames, err = p.Feed([]byte("lo,"))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "hello", string(frames[0]))
}

func TestFeedDecodesMultipleFramesInOneCall(t *testing.T) {
	p := NewParser()
	frames, err := p.Feed([]byte("2:ab,3:xyz,"))
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "ab", string(frames[0]))
	assert.Equal(t, "xyz", string(frames[1]))
}

func TestFeedEmptyBody(t *testing.T) {
	p := NewParser()
	frames, err := p.Feed([]byte("0:,"))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "", string(frames[0]))
}

func TestFeedRejectsLeadingZero(t *testing.T) {
	p := NewParser()
	_, err := p.Feed([]byte("05:hello,"))
	assert.Error(t, err)
}

func TestFeedRejectsMissingComma(t *testing.T) {
	p := NewParser()
	_, err := p.Feed([]byte("5:helloX"))
	assert.Error(t, err)
}

func TestFeedRejectsNonDigitLengthPrefix(t *testing.T) {
	p := NewParser()
	_, err := p.Feed([]byte("a:x,"))
	assert.Error(t, err)
}

func TestFeedRejectsPayloadOverMax(t *testing.T) {
	p := NewParser()
	_, err := p.Feed([]byte("99999999:x"))
	assert.Error(t, err)
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(make([]byte, PayloadMax+1))
	assert.Error(t, err)
}

func TestResetDiscardsPartialFrame(t *testing.T) {
	p := NewParser()
	_, err := p.Feed([]byte("5:hel"))
	require.NoError(t, err)

	p.Reset()

	frames, err := p.Feed([]byte("3:abc,"))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "abc", string(frames[0]))
}
