package mediasoup

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RainStream/rainstream-server-sub000/internal/netstring"
)

// newTestChannelPair wires a Channel against an in-process fake worker:
// a goroutine reading netstring frames off the "producer" pipe and
// writing netstring-framed wireMessage replies onto the "consumer"
// pipe, standing in for the real mediasoup-worker subprocess. The
// returned sendFromWorker func lets a test push an unsolicited
// notification frame, as the worker does for events.
func newTestChannelPair(t *testing.T, respond func(req map[string]interface{}) wireMessage) (ch *Channel, sendFromWorker func(wireMessage)) {
	t.Helper()

	producerHost, producerWorker := net.Pipe()
	consumerWorker, consumerHost := net.Pipe()

	ch = newChannel(producerHost, consumerHost, 1234)
	t.Cleanup(ch.Close)

	go func() {
		parser := netstring.NewParser()
		buf := make([]byte, 4096)
		for {
			n, err := producerWorker.Read(buf)
			if err != nil {
				return
			}
			frames, err := parser.Feed(buf[:n])
			if err != nil {
				return
			}
			for _, frame := range frames {
				var req map[string]interface{}
				if err := json.Unmarshal(frame, &req); err != nil {
					continue
				}
				reply := respond(req)
				body, _ := json.Marshal(reply)
				encoded, err := netstring.Encode(body)
				if err != nil {
					continue
				}
				if _, err := consumerWorker.Write(encoded); err != nil {
					return
				}
			}
		}
	}()

	sendFromWorker = func(msg wireMessage) {
		body, _ := json.Marshal(msg)
		encoded, _ := netstring.Encode(body)
		consumerWorker.Write(encoded)
	}

	return ch, sendFromWorker
}

func TestChannelRequestRoundTrip(t *testing.T) {
	ch, _ := newTestChannelPair(t, func(req map[string]interface{}) wireMessage {
		id := uint32(req["id"].(float64))
		data, _ := json.Marshal(map[string]string{"ok": "yes"})
		return wireMessage{Id: &id, Accepted: true, Data: data}
	})

	resp := ch.Request("worker.dump", internalData{})
	require.NoError(t, resp.Err())

	var result struct {
		Ok string `json:"ok"`
	}
	require.NoError(t, resp.Unmarshal(&result))
	require.Equal(t, "yes", result.Ok)
}

func TestChannelRequestRejection(t *testing.T) {
	ch, _ := newTestChannelPair(t, func(req map[string]interface{}) wireMessage {
		id := uint32(req["id"].(float64))
		return wireMessage{Id: &id, Rejected: true, Reason: "nope"}
	})

	resp := ch.Request("worker.dump", internalData{})
	require.EqualError(t, resp.Err(), "nope")
}

func TestChannelNotificationDispatch(t *testing.T) {
	notified := make(chan string, 1)

	ch, sendFromWorker := newTestChannelPair(t, func(req map[string]interface{}) wireMessage {
		id := uint32(req["id"].(float64))
		return wireMessage{Id: &id, Accepted: true}
	})
	ch.On("transport-1", func(event string, data []byte) {
		notified <- event
	})

	sendFromWorker(wireMessage{TargetId: "transport-1", Event: "icestatechange"})

	select {
	case event := <-notified:
		require.Equal(t, "icestatechange", event)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestChannelRequestFailsAfterClose(t *testing.T) {
	ch, _ := newTestChannelPair(t, func(req map[string]interface{}) wireMessage {
		id := uint32(req["id"].(float64))
		return wireMessage{Id: &id, Accepted: true}
	})
	ch.Close()

	resp := ch.Request("worker.dump", internalData{})
	require.Error(t, resp.Err())
}
