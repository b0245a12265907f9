package mediasoup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransport(sctpMIS int, pipeRtx bool) *transport {
	return newTransport(transportParams{
		internal: internalData{TransportId: newId()},
		sctpMIS:  sctpMIS,
		pipeRtx:  pipeRtx,
	})
}

func TestNewTransportDefaultsAppDataWhenNil(t *testing.T) {
	tr := newTestTransport(0, false)
	assert.Equal(t, H{}, tr.AppData())
}

func TestNextMidAllocatesSequentially(t *testing.T) {
	tr := newTestTransport(0, false)
	assert.Equal(t, "0", tr.nextMid())
	assert.Equal(t, "1", tr.nextMid())
	assert.Equal(t, "2", tr.nextMid())
}

func TestNewTransportOnlyAllocatesSctpBitmapWhenMisGiven(t *testing.T) {
	withoutSctp := newTestTransport(0, false)
	assert.Nil(t, withoutSctp.sctpAlloc)

	withSctp := newTestTransport(8, false)
	require.NotNil(t, withSctp.sctpAlloc)

	id, err := withSctp.sctpAlloc.Allocate()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int(id), 0)
}

func TestNewTransportCnameIsPopulated(t *testing.T) {
	tr := newTestTransport(0, false)
	assert.NotEmpty(t, tr.cname)
}

func TestNewTransportCarriesPipeRtx(t *testing.T) {
	tr := newTestTransport(0, true)
	assert.True(t, tr.pipeRtx)

	tr = newTestTransport(0, false)
	assert.False(t, tr.pipeRtx)
}
