package mediasoup

import (
	"encoding/json"
	"sync"

	"github.com/go-logr/logr"

	"github.com/RainStream/rainstream-server-sub000/internal/merrors"
)

// ConsumerTraceEventType is a valid "trace" event type for a Consumer.
type ConsumerTraceEventType string

const (
	ConsumerTraceEventType_Rtp      ConsumerTraceEventType = "rtp"
	ConsumerTraceEventType_Keyframe ConsumerTraceEventType = "keyframe"
	ConsumerTraceEventType_Nack     ConsumerTraceEventType = "nack"
	ConsumerTraceEventType_Pli      ConsumerTraceEventType = "pli"
	ConsumerTraceEventType_Fir      ConsumerTraceEventType = "fir"
)

// ConsumerTraceEventData is one "trace" notification payload.
type ConsumerTraceEventData struct {
	Type      ConsumerTraceEventType `json:"type,omitempty"`
	Timestamp int64                  `json:"timestamp,omitempty"`
	Direction string                 `json:"direction,omitempty"`
	Info      H                      `json:"info,omitempty"`
}

// ConsumerScore is the "score" notification payload: how good the
// worker judges the RTP stream reaching this Consumer to be.
type ConsumerScore struct {
	Score          uint16   `json:"score"`
	ProducerScore  uint16   `json:"producerScore"`
	ProducerScores []uint16 `json:"producerScores,omitempty"`
}

// ConsumerLayers selects a simulcast/SVC spatial/temporal layer.
type ConsumerLayers struct {
	SpatialLayer  uint8 `json:"spatialLayer"`
	TemporalLayer uint8 `json:"temporalLayer"`
}

// ConsumerStat is one entry of Consumer.GetStats: either the
// outbound-rtp stream towards the consuming endpoint, or the
// inbound-rtp stream it was derived from.
type ConsumerStat struct {
	Type                 string  `json:"type,omitempty"`
	Timestamp            int64   `json:"timestamp,omitempty"`
	Ssrc                 uint32  `json:"ssrc,omitempty"`
	RtxSsrc              uint32  `json:"rtxSsrc,omitempty"`
	Rid                  string  `json:"rid,omitempty"`
	Kind                 string  `json:"kind,omitempty"`
	MimeType             string  `json:"mimeType,omitempty"`
	PacketsLost          uint32  `json:"packetsLost,omitempty"`
	FractionLost         uint32  `json:"fractionLost,omitempty"`
	PacketsDiscarded     uint32  `json:"packetsDiscarded,omitempty"`
	PacketsRetransmitted uint32  `json:"packetsRetransmitted,omitempty"`
	PacketsRepaired      uint32  `json:"packetsRepaired,omitempty"`
	NackCount            uint32  `json:"nackCount,omitempty"`
	NackPacketCount      uint32  `json:"nackPacketCount,omitempty"`
	PliCount             uint32  `json:"pliCount,omitempty"`
	FirCount             uint32  `json:"firCount,omitempty"`
	Score                uint32  `json:"score,omitempty"`
	PacketCount          int64   `json:"packetCount,omitempty"`
	ByteCount            int64   `json:"byteCount,omitempty"`
	Bitrate              uint32  `json:"bitrate,omitempty"`
	RoundTripTime        float32 `json:"roundTripTime,omitempty"`
	RtxPacketsDiscarded  uint32  `json:"rtxPacketsDiscarded,omitempty"`
}

type consumerParams struct {
	internal       internalData
	kind           MediaKind
	rtpParameters  RtpParameters
	consumerType   string
	channel        *Channel
	payloadChannel *PayloadChannel
	appData        H
	paused         bool
	producerPaused bool
	score          *ConsumerScore
}

// Consumer represents an audio or video source being forwarded from a
// Router to an endpoint over a Transport (spec.md §4.11).
type Consumer struct {
	IEventEmitter

	logger         logr.Logger
	internal       internalData
	kind           MediaKind
	rtpParameters  RtpParameters
	consumerType   string
	channel        *Channel
	payloadChannel *PayloadChannel

	appDataMu sync.Mutex
	appData   H

	stateMu         sync.Mutex
	closed          bool
	paused          bool
	producerPaused  bool
	priority        uint32
	score           *ConsumerScore
	preferredLayers *ConsumerLayers
	currentLayers   *ConsumerLayers

	observer IEventEmitter
}

func newConsumer(params consumerParams) *Consumer {
	score := params.score
	if score == nil {
		score = &ConsumerScore{Score: 10, ProducerScore: 10, ProducerScores: []uint16{}}
	}

	c := &Consumer{
		IEventEmitter:  NewEventEmitter(),
		logger:         NewLogger("consumer"),
		internal:       params.internal,
		kind:           params.kind,
		rtpParameters:  params.rtpParameters,
		consumerType:   params.consumerType,
		channel:        params.channel,
		payloadChannel: params.payloadChannel,
		appData:        params.appData,
		paused:         params.paused,
		producerPaused: params.producerPaused,
		priority:       1,
		score:          score,
		observer:       NewEventEmitter(),
	}
	if c.appData == nil {
		c.appData = H{}
	}
	c.handleWorkerNotifications()
	return c
}

// Id returns this consumer's unique identifier.
func (c *Consumer) Id() string { return c.internal.ConsumerId }

// ProducerId returns the id of the Producer this consumer was created
// from.
func (c *Consumer) ProducerId() string { return c.internal.ProducerId }

// Kind returns "audio" or "video".
func (c *Consumer) Kind() MediaKind { return c.kind }

// RtpParameters returns this consumer's negotiated RTP parameters.
func (c *Consumer) RtpParameters() RtpParameters { return c.rtpParameters }

// Type returns "simple", "simulcast", "svc", or "pipe".
func (c *Consumer) Type() string { return c.consumerType }

// Paused reports whether Pause has taken effect.
func (c *Consumer) Paused() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.paused
}

// ProducerPaused reports whether the source Producer is paused.
func (c *Consumer) ProducerPaused() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.producerPaused
}

// Priority returns the current forwarding priority (spec.md §4.11 "bandwidth estimation priority").
func (c *Consumer) Priority() uint32 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.priority
}

// Score returns the most recently reported score.
func (c *Consumer) Score() *ConsumerScore {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.score
}

// PreferredLayers returns the layers requested via SetPreferredLayers.
func (c *Consumer) PreferredLayers() *ConsumerLayers {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.preferredLayers
}

// CurrentLayers returns the layers actually being forwarded, for
// simulcast/SVC sources.
func (c *Consumer) CurrentLayers() *ConsumerLayers {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.currentLayers
}

// Closed reports whether Close (or transport/producer close) has run.
func (c *Consumer) Closed() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.closed
}

// AppData returns the caller-supplied opaque data.
func (c *Consumer) AppData() H {
	c.appDataMu.Lock()
	defer c.appDataMu.Unlock()
	return c.appData
}

// Observer emits: close, pause, resume, score, layerschange, trace.
func (c *Consumer) Observer() IEventEmitter { return c.observer }

func (c *Consumer) markClosed() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

// Close destroys this consumer on the worker and detaches it from its
// transport.
func (c *Consumer) Close() {
	if !c.markClosed() {
		return
	}
	c.channel.RemoveAllListeners(c.Id())
	c.payloadChannel.RemoveAllListeners(c.Id())
	c.channel.Request("transport.closeConsumer", c.internal, H{"consumerId": c.Id()})
	c.SafeEmit("@close")
	c.observer.SafeEmit("close")
}

// transportClosed is invoked by the owning Transport when it (or its
// Router) is closing, skipping the worker-side close request.
func (c *Consumer) transportClosed() {
	if !c.markClosed() {
		return
	}
	c.channel.RemoveAllListeners(c.Id())
	c.payloadChannel.RemoveAllListeners(c.Id())
	c.SafeEmit("transportclose")
	c.observer.SafeEmit("close")
}

// Dump returns this consumer's full internal state as raw JSON.
func (c *Consumer) Dump() ([]byte, error) {
	resp := c.channel.Request("consumer.dump", c.internal)
	return resp.Data(), resp.Err()
}

// GetStats returns the outbound/inbound RTP statistics for this
// consumer.
func (c *Consumer) GetStats() ([]ConsumerStat, error) {
	var stats []ConsumerStat
	err := c.channel.Request("consumer.getStats", c.internal).Unmarshal(&stats)
	return stats, err
}

// Pause stops this consumer from forwarding RTP.
func (c *Consumer) Pause() error {
	wasPaused := c.Paused() || c.ProducerPaused()
	if err := c.channel.Request("consumer.pause", c.internal).Err(); err != nil {
		return err
	}
	c.stateMu.Lock()
	c.paused = true
	c.stateMu.Unlock()
	if !wasPaused {
		c.observer.SafeEmit("pause")
	}
	return nil
}

// Resume undoes Pause.
func (c *Consumer) Resume() error {
	wasPaused := c.Paused() || c.ProducerPaused()
	if err := c.channel.Request("consumer.resume", c.internal).Err(); err != nil {
		return err
	}
	c.stateMu.Lock()
	c.paused = false
	producerPaused := c.producerPaused
	c.stateMu.Unlock()
	if wasPaused && !producerPaused {
		c.observer.SafeEmit("resume")
	}
	return nil
}

// SetPreferredLayers requests a spatial/temporal layer for
// simulcast/SVC sources. If unset, the highest available is selected.
func (c *Consumer) SetPreferredLayers(layers ConsumerLayers) error {
	resp := c.channel.Request("consumer.setPreferredLayers", c.internal, layers)
	var preferred *ConsumerLayers
	if err := resp.Unmarshal(&preferred); err != nil {
		return err
	}
	c.stateMu.Lock()
	c.preferredLayers = preferred
	c.stateMu.Unlock()
	return nil
}

// SetPriority sets the forwarding priority used by the worker's
// bandwidth estimator to decide which consumer to favor under
// constrained bandwidth.
func (c *Consumer) SetPriority(priority uint32) error {
	resp := c.channel.Request("consumer.setPriority", c.internal, H{"priority": priority})
	var result struct {
		Priority uint32 `json:"priority"`
	}
	if err := resp.Unmarshal(&result); err != nil {
		return err
	}
	c.stateMu.Lock()
	c.priority = result.Priority
	c.stateMu.Unlock()
	return nil
}

// UnsetPriority resets the forwarding priority to its default (1).
func (c *Consumer) UnsetPriority() error {
	return c.SetPriority(1)
}

// RequestKeyFrame asks the source Producer for a new key frame.
func (c *Consumer) RequestKeyFrame() error {
	return c.channel.Request("consumer.requestKeyFrame", c.internal).Err()
}

// EnableTraceEvent arms the given trace event types for "trace"
// notifications.
func (c *Consumer) EnableTraceEvent(types ...ConsumerTraceEventType) error {
	if types == nil {
		types = []ConsumerTraceEventType{}
	}
	return c.channel.Request("consumer.enableTraceEvent", c.internal, H{"types": types}).Err()
}

func (c *Consumer) handleWorkerNotifications() {
	c.channel.On(c.Id(), func(event string, data []byte) {
		switch event {
		case "producerclose":
			if !c.markClosed() {
				return
			}
			c.channel.RemoveAllListeners(c.Id())
			c.payloadChannel.RemoveAllListeners(c.Id())
			c.Emit("@producerclose")
			c.SafeEmit("producerclose")
			c.observer.SafeEmit("close")

		case "producerpause":
			c.stateMu.Lock()
			if c.producerPaused {
				c.stateMu.Unlock()
				return
			}
			wasPaused := c.paused || c.producerPaused
			c.producerPaused = true
			c.stateMu.Unlock()

			c.SafeEmit("producerpause")
			if !wasPaused {
				c.observer.SafeEmit("pause")
			}

		case "producerresume":
			c.stateMu.Lock()
			if !c.producerPaused {
				c.stateMu.Unlock()
				return
			}
			wasPaused := c.paused || c.producerPaused
			c.producerPaused = false
			paused := c.paused
			c.stateMu.Unlock()

			c.SafeEmit("producerresume")
			if wasPaused && !paused {
				c.observer.SafeEmit("resume")
			}

		case "score":
			var score *ConsumerScore
			if err := json.Unmarshal(data, &score); err != nil {
				c.logger.Error(err, "failed to parse score notification")
				return
			}
			c.stateMu.Lock()
			c.score = score
			c.stateMu.Unlock()
			c.SafeEmit("score", score)
			c.observer.SafeEmit("score", score)

		case "layerschange":
			var layers *ConsumerLayers
			if err := json.Unmarshal(data, &layers); err != nil {
				c.logger.Error(err, "failed to parse layerschange notification")
				return
			}
			c.stateMu.Lock()
			c.currentLayers = layers
			c.stateMu.Unlock()
			c.SafeEmit("layerschange", layers)
			c.observer.SafeEmit("layerschange", layers)

		case "trace":
			var trace ConsumerTraceEventData
			if err := json.Unmarshal(data, &trace); err != nil {
				c.logger.Error(err, "failed to parse trace notification")
				return
			}
			c.SafeEmit("trace", trace)
			c.observer.SafeEmit("trace", trace)

		default:
			c.logger.Error(merrors.NewProtocolError("unknown event"), "ignoring unknown consumer event", "event", event)
		}
	})

	c.payloadChannel.On(c.Id(), func(event string, data, payload []byte) {
		switch event {
		case "rtp":
			if c.Closed() {
				return
			}
			c.SafeEmit("rtp", payload)
		default:
			c.logger.Error(merrors.NewProtocolError("unknown event"), "ignoring unknown consumer payload event", "event", event)
		}
	})
}
