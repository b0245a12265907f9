package mediasoup

import (
	"encoding/json"

	"github.com/RainStream/rainstream-server-sub000/internal/merrors"
)

// ActiveSpeakerObserverOptions configures a new ActiveSpeakerObserver.
type ActiveSpeakerObserverOptions struct {
	Interval int
	AppData  H
}

// ActiveSpeakerObserver reports which enrolled Producer is currently
// the dominant speaker (spec.md §4.12).
type ActiveSpeakerObserver struct {
	*rtpObserver
}

func newActiveSpeakerObserver(params rtpObserverParams) *ActiveSpeakerObserver {
	o := &ActiveSpeakerObserver{rtpObserver: newRtpObserver("activeSpeakerObserver", params)}
	o.handleWorkerNotifications()
	return o
}

func (o *ActiveSpeakerObserver) handleWorkerNotifications() {
	o.channel.On(o.Id(), func(event string, data []byte) {
		switch event {
		case "dominantspeaker":
			var raw struct {
				ProducerId string `json:"producerId"`
			}
			if err := json.Unmarshal(data, &raw); err != nil {
				o.logger.Error(err, "failed to parse dominantspeaker notification")
				return
			}
			producer := o.getProducerById(raw.ProducerId)
			if producer == nil {
				return
			}
			o.SafeEmit("dominantspeaker", producer)
		default:
			o.logger.Error(merrors.NewProtocolError("unknown event"), "ignoring unknown activeSpeakerObserver event", "event", event)
		}
	})
}
