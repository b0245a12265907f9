package mediasoup

import (
	"encoding/json"

	"github.com/RainStream/rainstream-server-sub000/internal/merrors"
)

// DirectTransportOptions configures a new DirectTransport.
type DirectTransportOptions struct {
	MaxMessageSize int
	AppData        H
}

// DirectTransport carries no network parameters at all: Producers on
// it receive RTP injected directly via Producer.Send, and
// DataProducers send/receive application messages in-process via
// DataProducer.Send (spec.md §4.10 supplemented "DirectTransport").
type DirectTransport struct {
	*transport
}

func newDirectTransport(params transportParams) *DirectTransport {
	t := &DirectTransport{transport: newTransport(params)}
	t.logger = NewLogger("directTransport")
	t.handleWorkerNotifications()
	return t
}

// Connect is a no-op: DirectTransport has no remote network parameters.
func (t *DirectTransport) Connect() error { return nil }

// SetMaxIncomingBitrate is unsupported on a DirectTransport.
func (t *DirectTransport) SetMaxIncomingBitrate(bitrate int) error {
	return merrors.NewUnsupported("setMaxIncomingBitrate() not supported on a DirectTransport")
}

// SetMaxOutgoingBitrate is unsupported on a DirectTransport.
func (t *DirectTransport) SetMaxOutgoingBitrate(bitrate int) error {
	return merrors.NewUnsupported("setMaxOutgoingBitrate() not supported on a DirectTransport")
}

// Produce creates a Producer fed only by Producer.Send. Its options are
// validated and mapped exactly as on any other Transport variant.
func (t *DirectTransport) Produce(options ProducerOptions) (*Producer, error) {
	return t.transport.produce(options)
}

// Consume creates a Consumer delivering RTP only via its "rtp" event.
func (t *DirectTransport) Consume(options ConsumerOptions) (*Consumer, error) {
	return t.transport.consume(options)
}

// ProduceData creates a direct DataProducer, fed only via
// DataProducer.Send.
func (t *DirectTransport) ProduceData(options DataProducerOptions) (*DataProducer, error) {
	return t.transport.produceData(options, "direct")
}

// ConsumeData creates a direct DataConsumer, delivering messages only
// via its "message" event.
func (t *DirectTransport) ConsumeData(options DataConsumerOptions) (*DataConsumer, error) {
	return t.transport.consumeData(options, "direct")
}

func (t *DirectTransport) handleWorkerNotifications() {
	t.channel.On(t.Id(), func(event string, data []byte) {
		switch event {
		case "trace":
			var trace TransportTraceEventData
			json.Unmarshal(data, &trace)
			t.SafeEmit("trace", trace)
			t.observer.SafeEmit("trace", trace)
		default:
			t.logger.Error(merrors.NewProtocolError("unknown event"), "ignoring unknown directTransport event", "event", event)
		}
	})
}
