package mediasoup

import (
	"encoding/json"
	"sync"

	"github.com/go-logr/logr"
	"github.com/pion/sctp"

	"github.com/RainStream/rainstream-server-sub000/internal/merrors"
)

// DataConsumerStat is one entry of DataConsumer.GetStats.
type DataConsumerStat struct {
	Type         string `json:"type"`
	Timestamp    int64  `json:"timestamp"`
	Label        string `json:"label"`
	Protocol     string `json:"protocol"`
	MessagesSent int64  `json:"messagesSent"`
	BytesSent    int64  `json:"bytesSent"`
}

type dataConsumerParams struct {
	internal             internalData
	consumerType         string
	sctpStreamParameters *SctpStreamParameters
	label                string
	protocol             string
	channel              *Channel
	payloadChannel       *PayloadChannel
	appData              H
}

// DataConsumer represents an application-data sink forwarding a
// DataProducer's messages to an endpoint over a Transport (spec.md
// §4.12).
type DataConsumer struct {
	IEventEmitter

	logger               logr.Logger
	internal             internalData
	consumerType         string
	sctpStreamParameters *SctpStreamParameters
	label                string
	protocol             string
	channel              *Channel
	payloadChannel       *PayloadChannel

	appDataMu sync.Mutex
	appData   H

	stateMu sync.Mutex
	closed  bool

	observer IEventEmitter
}

func newDataConsumer(params dataConsumerParams) *DataConsumer {
	c := &DataConsumer{
		IEventEmitter:        NewEventEmitter(),
		logger:               NewLogger("dataConsumer"),
		internal:             params.internal,
		consumerType:         params.consumerType,
		sctpStreamParameters: params.sctpStreamParameters,
		label:                params.label,
		protocol:             params.protocol,
		channel:              params.channel,
		payloadChannel:       params.payloadChannel,
		appData:              params.appData,
		observer:             NewEventEmitter(),
	}
	if c.appData == nil {
		c.appData = H{}
	}
	c.handleWorkerNotifications()
	return c
}

// Id returns this data consumer's unique identifier.
func (c *DataConsumer) Id() string { return c.internal.DataConsumerId }

// DataProducerId returns the id of the DataProducer this consumer was
// created from.
func (c *DataConsumer) DataProducerId() string { return c.internal.DataProducerId }

// Type returns "sctp" or "direct".
func (c *DataConsumer) Type() string { return c.consumerType }

// SctpStreamParameters returns the SCTP stream this data consumer is
// bound to, or nil for a "direct" data consumer.
func (c *DataConsumer) SctpStreamParameters() *SctpStreamParameters { return c.sctpStreamParameters }

// Label returns the source DataProducer's label.
func (c *DataConsumer) Label() string { return c.label }

// Protocol returns the source DataProducer's sub-protocol name.
func (c *DataConsumer) Protocol() string { return c.protocol }

// Closed reports whether Close (or transport/producer close) has run.
func (c *DataConsumer) Closed() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.closed
}

// AppData returns the caller-supplied opaque data.
func (c *DataConsumer) AppData() H {
	c.appDataMu.Lock()
	defer c.appDataMu.Unlock()
	return c.appData
}

// Observer emits: close.
func (c *DataConsumer) Observer() IEventEmitter { return c.observer }

func (c *DataConsumer) markClosed() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

// Close destroys this data consumer on the worker, releasing its SCTP
// stream id back to the owning transport.
func (c *DataConsumer) Close() {
	if !c.markClosed() {
		return
	}
	c.channel.RemoveAllListeners(c.Id())
	c.payloadChannel.RemoveAllListeners(c.Id())
	c.channel.Request("dataConsumer.close", c.internal)
	c.SafeEmit("@close")
	c.observer.SafeEmit("close")
}

// transportClosed is invoked by the owning Transport when it (or its
// Router) is closing.
func (c *DataConsumer) transportClosed() {
	if !c.markClosed() {
		return
	}
	c.channel.RemoveAllListeners(c.Id())
	c.payloadChannel.RemoveAllListeners(c.Id())
	c.SafeEmit("transportclose")
	c.observer.SafeEmit("close")
}

// Dump returns this data consumer's full internal state as raw JSON.
func (c *DataConsumer) Dump() ([]byte, error) {
	resp := c.channel.Request("dataConsumer.dump", c.internal)
	return resp.Data(), resp.Err()
}

// GetStats returns this data consumer's message/byte counters.
func (c *DataConsumer) GetStats() ([]DataConsumerStat, error) {
	var stats []DataConsumerStat
	err := c.channel.Request("dataConsumer.getStats", c.internal).Unmarshal(&stats)
	return stats, err
}

// GetBufferedAmount returns the number of bytes queued for send but
// not yet acknowledged at the SCTP layer.
func (c *DataConsumer) GetBufferedAmount() (int, error) {
	var result struct {
		BufferedAmount int `json:"bufferedAmount"`
	}
	err := c.channel.Request("dataConsumer.getBufferedAmount", c.internal).Unmarshal(&result)
	return result.BufferedAmount, err
}

// SetBufferedAmountLowThreshold arms a "bufferedamountlow" notification
// once the buffered amount drops to or below threshold.
func (c *DataConsumer) SetBufferedAmountLowThreshold(threshold int) error {
	return c.channel.Request("dataConsumer.setBufferedAmountLowThreshold", c.internal,
		H{"threshold": threshold}).Err()
}

func (c *DataConsumer) handleWorkerNotifications() {
	c.channel.On(c.Id(), func(event string, data []byte) {
		switch event {
		case "dataproducerclose":
			if !c.markClosed() {
				return
			}
			c.channel.RemoveAllListeners(c.Id())
			c.payloadChannel.RemoveAllListeners(c.Id())
			c.Emit("@dataproducerclose")
			c.SafeEmit("dataproducerclose")
			c.observer.SafeEmit("close")

		case "bufferedamountlow":
			var info struct {
				BufferedAmount int `json:"bufferedAmount"`
			}
			json.Unmarshal(data, &info)
			c.SafeEmit("bufferedamountlow", info.BufferedAmount)

		case "sctpsendbufferfull":
			c.SafeEmit("sctpsendbufferfull")

		default:
			c.logger.Error(merrors.NewProtocolError("unknown event"), "ignoring unknown dataConsumer event", "event", event)
		}
	})

	c.payloadChannel.On(c.Id(), func(event string, data, payload []byte) {
		switch event {
		case "message":
			var meta struct {
				Ppid sctp.PayloadProtocolIdentifier `json:"ppid"`
			}
			_ = json.Unmarshal(data, &meta)
			c.SafeEmit("message", payload, int(meta.Ppid))
		default:
			c.logger.Error(merrors.NewProtocolError("unknown event"), "ignoring unknown dataConsumer payload event", "event", event)
		}
	})
}
