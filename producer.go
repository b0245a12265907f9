package mediasoup

import (
	"encoding/json"
	"sync"

	"github.com/go-logr/logr"

	"github.com/RainStream/rainstream-server-sub000/internal/merrors"
)

// ProducerScore is one encoding's score, as reported by a producer's
// "score" notification.
type ProducerScore struct {
	Ssrc  uint32 `json:"ssrc"`
	Rid   string `json:"rid,omitempty"`
	Score int    `json:"score"`
}

// ProducerStat is one entry of Producer.GetStats' raw per-encoding
// statistics.
type ProducerStat struct {
	Ssrc      uint32 `json:"ssrc"`
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
}

type producerParams struct {
	internal                internalData
	kind                    MediaKind
	rtpParameters           RtpParameters
	producerType            string
	consumableRtpParameters RtpParameters
	channel                 *Channel
	payloadChannel          *PayloadChannel
	appData                 H
	paused                  bool
}

// Producer represents an audio/video source on a Transport (spec.md
// §4.11). Workers identify it by its internal ProducerId; Consumers on
// other Transports derive their parameters from its
// consumableRtpParameters.
type Producer struct {
	IEventEmitter

	logger         logr.Logger
	internal       internalData
	kind           MediaKind
	rtpParameters  RtpParameters
	producerType   string
	consumableRtpParameters RtpParameters
	channel        *Channel
	payloadChannel *PayloadChannel

	appDataMu sync.Mutex
	appData   H

	stateMu sync.Mutex
	closed  bool
	paused  bool
	score   []ProducerScore

	observer IEventEmitter
}

func newProducer(params producerParams) *Producer {
	p := &Producer{
		IEventEmitter:           NewEventEmitter(),
		logger:                  NewLogger("producer"),
		internal:                params.internal,
		kind:                    params.kind,
		rtpParameters:           params.rtpParameters,
		producerType:            params.producerType,
		consumableRtpParameters: params.consumableRtpParameters,
		channel:                 params.channel,
		payloadChannel:          params.payloadChannel,
		appData:                 params.appData,
		paused:                  params.paused,
		observer:                NewEventEmitter(),
	}
	if p.appData == nil {
		p.appData = H{}
	}
	p.handleWorkerNotifications()
	return p
}

// Id returns this producer's unique identifier.
func (p *Producer) Id() string { return p.internal.ProducerId }

// Kind returns "audio" or "video".
func (p *Producer) Kind() MediaKind { return p.kind }

// RtpParameters returns the negotiated RTP parameters this producer
// was created with.
func (p *Producer) RtpParameters() RtpParameters { return p.rtpParameters }

// Type returns "simple", "simulcast", or "svc".
func (p *Producer) Type() string { return p.producerType }

// ConsumableRtpParameters returns the router-internal canonical
// parameters Consumers derive their own parameters from.
func (p *Producer) ConsumableRtpParameters() RtpParameters { return p.consumableRtpParameters }

// Paused reports whether Pause has taken effect.
func (p *Producer) Paused() bool {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.paused
}

// Score returns the most recently reported per-encoding scores.
func (p *Producer) Score() []ProducerScore {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.score
}

// Closed reports whether Close (or transport/router close) has run.
func (p *Producer) Closed() bool {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.closed
}

// AppData returns the caller-supplied opaque data.
func (p *Producer) AppData() H {
	p.appDataMu.Lock()
	defer p.appDataMu.Unlock()
	return p.appData
}

// Observer emits: close, pause, resume, score, videoorientationchange, trace.
func (p *Producer) Observer() IEventEmitter { return p.observer }

func (p *Producer) markClosed() bool {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	return true
}

// Close destroys this producer on the worker and detaches it from its
// transport.
func (p *Producer) Close() {
	if !p.markClosed() {
		return
	}
	p.channel.RemoveAllListeners(p.Id())
	p.payloadChannel.RemoveAllListeners(p.Id())
	p.channel.Request("producer.close", p.internal)
	p.SafeEmit("@close")
	p.observer.SafeEmit("close")
}

// transportClosed is invoked by the owning Transport when it (or its
// Router) is closing, skipping the worker-side close request.
func (p *Producer) transportClosed() {
	if !p.markClosed() {
		return
	}
	p.channel.RemoveAllListeners(p.Id())
	p.payloadChannel.RemoveAllListeners(p.Id())
	p.SafeEmit("transportclose")
	p.observer.SafeEmit("close")
}

// Dump returns this producer's full internal state as raw JSON.
func (p *Producer) Dump() ([]byte, error) {
	resp := p.channel.Request("producer.dump", p.internal)
	return resp.Data(), resp.Err()
}

// GetStats returns this producer's per-encoding RTP statistics.
func (p *Producer) GetStats() ([]ProducerStat, error) {
	var stats []ProducerStat
	err := p.channel.Request("producer.getStats", p.internal).Unmarshal(&stats)
	return stats, err
}

// Pause stops this producer from forwarding RTP to its Consumers.
func (p *Producer) Pause() error {
	if err := p.channel.Request("producer.pause", p.internal).Err(); err != nil {
		return err
	}
	wasPaused := p.Paused()
	p.stateMu.Lock()
	p.paused = true
	p.stateMu.Unlock()
	if !wasPaused {
		p.observer.SafeEmit("pause")
	}
	return nil
}

// Resume undoes Pause.
func (p *Producer) Resume() error {
	if err := p.channel.Request("producer.resume", p.internal).Err(); err != nil {
		return err
	}
	wasPaused := p.Paused()
	p.stateMu.Lock()
	p.paused = false
	p.stateMu.Unlock()
	if wasPaused {
		p.observer.SafeEmit("resume")
	}
	return nil
}

// EnableTraceEvent arms the given trace event types for "trace"
// notifications ("rtp", "keyframe", "nack", "pli", "fir").
func (p *Producer) EnableTraceEvent(types ...string) error {
	return p.channel.Request("producer.enableTraceEvent", p.internal, H{"types": types}).Err()
}

// Send feeds a raw RTP packet into this producer; only meaningful when
// the producer lives on a DirectTransport (spec.md §4.10 supplemented
// "DirectTransport RTP injection").
func (p *Producer) Send(rtpPacket []byte) error {
	return p.payloadChannel.Notify(p.Id(), "producer.send", nil, rtpPacket)
}

func (p *Producer) handleWorkerNotifications() {
	p.channel.On(p.Id(), func(event string, data []byte) {
		switch event {
		case "score":
			var score []ProducerScore
			if err := json.Unmarshal(data, &score); err != nil {
				p.logger.Error(err, "failed to parse score notification")
				return
			}
			p.stateMu.Lock()
			p.score = score
			p.stateMu.Unlock()
			p.SafeEmit("score", score)
			p.observer.SafeEmit("score", score)
		case "videoorientationchange":
			var info struct {
				Camera   bool `json:"camera"`
				Flip     bool `json:"flip"`
				Rotation int  `json:"rotation"`
			}
			json.Unmarshal(data, &info)
			p.SafeEmit("videoorientationchange", info)
			p.observer.SafeEmit("videoorientationchange", info)
		case "trace":
			var trace TransportTraceEventData
			json.Unmarshal(data, &trace)
			p.SafeEmit("trace", trace)
			p.observer.SafeEmit("trace", trace)
		default:
			p.logger.Error(merrors.NewProtocolError("unknown event"), "ignoring unknown producer event", "event", event)
		}
	})
}
