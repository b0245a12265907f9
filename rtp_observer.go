package mediasoup

import (
	"sync"

	"github.com/go-logr/logr"

	"github.com/RainStream/rainstream-server-sub000/internal/merrors"
)

type rtpObserverParams struct {
	internal        internalData
	channel         *Channel
	payloadChannel  *PayloadChannel
	appData         H
	getProducerById func(string) *Producer
}

// rtpObserver is the object-lifecycle machinery AudioLevelObserver and
// ActiveSpeakerObserver embed (spec.md §4.12).
type rtpObserver struct {
	IEventEmitter

	logger          logr.Logger
	internal        internalData
	channel         *Channel
	payloadChannel  *PayloadChannel
	getProducerById func(string) *Producer

	appDataMu sync.Mutex
	appData   H

	stateMu sync.Mutex
	closed  bool
	paused  bool

	observer IEventEmitter
}

func newRtpObserver(name string, params rtpObserverParams) *rtpObserver {
	o := &rtpObserver{
		IEventEmitter:   NewEventEmitter(),
		logger:          NewLogger(name),
		internal:        params.internal,
		channel:         params.channel,
		payloadChannel:  params.payloadChannel,
		getProducerById: params.getProducerById,
		appData:         params.appData,
		observer:        NewEventEmitter(),
	}
	if o.appData == nil {
		o.appData = H{}
	}
	return o
}

// Id returns this RtpObserver's unique identifier.
func (o *rtpObserver) Id() string { return o.internal.RtpObserverId }

// Closed reports whether Close (or routerClosed) has run.
func (o *rtpObserver) Closed() bool {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.closed
}

// Paused reports whether Pause has taken effect.
func (o *rtpObserver) Paused() bool {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.paused
}

// AppData returns the caller-supplied opaque data.
func (o *rtpObserver) AppData() H {
	o.appDataMu.Lock()
	defer o.appDataMu.Unlock()
	return o.appData
}

// Observer emits: close, pause, resume, addproducer, removeproducer.
func (o *rtpObserver) Observer() IEventEmitter { return o.observer }

func (o *rtpObserver) markClosed() bool {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	if o.closed {
		return false
	}
	o.closed = true
	return true
}

// Close destroys this RtpObserver on the worker.
func (o *rtpObserver) Close() {
	if !o.markClosed() {
		return
	}
	o.channel.RemoveAllListeners(o.Id())
	o.channel.Request("rtpObserver.close", o.internal)
	o.SafeEmit("@close")
	o.observer.SafeEmit("close")
}

// routerClosed is invoked by the owning Router when it is closing,
// skipping the worker-side close request.
func (o *rtpObserver) routerClosed() {
	if !o.markClosed() {
		return
	}
	o.channel.RemoveAllListeners(o.Id())
	o.SafeEmit("routerclose")
	o.observer.SafeEmit("close")
}

// Pause stops this RtpObserver from analyzing its added Producers.
func (o *rtpObserver) Pause() error {
	if err := o.channel.Request("rtpObserver.pause", o.internal).Err(); err != nil {
		return err
	}
	wasPaused := o.Paused()
	o.stateMu.Lock()
	o.paused = true
	o.stateMu.Unlock()
	if !wasPaused {
		o.observer.SafeEmit("pause")
	}
	return nil
}

// Resume undoes Pause.
func (o *rtpObserver) Resume() error {
	if err := o.channel.Request("rtpObserver.resume", o.internal).Err(); err != nil {
		return err
	}
	wasPaused := o.Paused()
	o.stateMu.Lock()
	o.paused = false
	o.stateMu.Unlock()
	if wasPaused {
		o.observer.SafeEmit("resume")
	}
	return nil
}

// AddProducer enrolls producerId's RTP stream into this RtpObserver's
// analysis.
func (o *rtpObserver) AddProducer(producerId string) error {
	producer := o.getProducerById(producerId)
	if producer == nil {
		return merrors.NewNotFound("producer with id %q not found", producerId)
	}
	if err := o.channel.Request("rtpObserver.addProducer", o.internal, H{"producerId": producerId}).Err(); err != nil {
		return err
	}
	o.observer.SafeEmit("addproducer", producer)
	return nil
}

// RemoveProducer withdraws producerId from this RtpObserver's
// analysis.
func (o *rtpObserver) RemoveProducer(producerId string) error {
	producer := o.getProducerById(producerId)
	if producer == nil {
		return merrors.NewNotFound("producer with id %q not found", producerId)
	}
	if err := o.channel.Request("rtpObserver.removeProducer", o.internal, H{"producerId": producerId}).Err(); err != nil {
		return err
	}
	o.observer.SafeEmit("removeproducer", producer)
	return nil
}
