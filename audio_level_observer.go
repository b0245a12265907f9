package mediasoup

import (
	"encoding/json"

	"github.com/RainStream/rainstream-server-sub000/internal/merrors"
)

// AudioLevelObserverOptions configures a new AudioLevelObserver.
type AudioLevelObserverOptions struct {
	MaxEntries int
	Threshold  int
	Interval   int
	AppData    H
}

// AudioLevelVolume is one Producer's current audio level, as reported
// by a "volumes" notification.
type AudioLevelVolume struct {
	Producer *Producer
	Volume   int
}

// AudioLevelObserver reports the loudest of its enrolled audio
// Producers on a fixed interval, and silence when none are speaking
// (spec.md §4.12).
type AudioLevelObserver struct {
	*rtpObserver
}

func newAudioLevelObserver(params rtpObserverParams) *AudioLevelObserver {
	o := &AudioLevelObserver{rtpObserver: newRtpObserver("audioLevelObserver", params)}
	o.handleWorkerNotifications()
	return o
}

func (o *AudioLevelObserver) handleWorkerNotifications() {
	o.channel.On(o.Id(), func(event string, data []byte) {
		switch event {
		case "volumes":
			var raw []struct {
				ProducerId string `json:"producerId"`
				Volume     int    `json:"volume"`
			}
			if err := json.Unmarshal(data, &raw); err != nil {
				o.logger.Error(err, "failed to parse volumes notification")
				return
			}
			volumes := make([]AudioLevelVolume, 0, len(raw))
			for _, v := range raw {
				producer := o.getProducerById(v.ProducerId)
				if producer == nil {
					continue
				}
				volumes = append(volumes, AudioLevelVolume{Producer: producer, Volume: v.Volume})
			}
			if len(volumes) > 0 {
				o.SafeEmit("volumes", volumes)
			}
		case "silence":
			o.SafeEmit("silence")
		default:
			o.logger.Error(merrors.NewProtocolError("unknown event"), "ignoring unknown audioLevelObserver event", "event", event)
		}
	})
}
