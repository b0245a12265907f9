package mediasoup

import (
	"testing"

	"github.com/pion/sctp"
	"github.com/stretchr/testify/assert"
)

func TestPpidForSelectsStringVsBinaryAndEmptyVariants(t *testing.T) {
	assert.Equal(t, sctp.PayloadTypeWebRTCString, ppidFor([]byte("hi"), false))
	assert.Equal(t, sctp.PayloadTypeWebRTCStringEmpty, ppidFor(nil, false))
	assert.Equal(t, sctp.PayloadTypeWebRTCBinary, ppidFor([]byte{1, 2, 3}, true))
	assert.Equal(t, sctp.PayloadTypeWebRTCBinaryEmpty, ppidFor(nil, true))
}
