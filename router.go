package mediasoup

import (
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"github.com/RainStream/rainstream-server-sub000/internal/merrors"
)

// Transport is the interface every Transport variant satisfies; Router
// holds its transports registry against this rather than a concrete
// type so createWebRtcTransport/createPlainTransport/createPipeTransport/
// createDirectTransport can share one registration path (spec.md §4.8).
type Transport interface {
	Id() string
	Closed() bool
	AppData() H
	Observer() IEventEmitter
	Close()
	Dump() ([]byte, error)
	GetStats() ([]byte, error)
	SetMaxIncomingBitrate(bitrate int) error
	SetMaxOutgoingBitrate(bitrate int) error
	EnableTraceEvent(types ...string) error

	routerClosed()
}

// RtpObserver is the interface AudioLevelObserver and
// ActiveSpeakerObserver both satisfy (spec.md §4.12).
type RtpObserver interface {
	Id() string
	Closed() bool
	Paused() bool
	AppData() H
	Observer() IEventEmitter
	Pause() error
	Resume() error
	AddProducer(producerId string) error
	RemoveProducer(producerId string) error
	Close()

	routerClosed()
}

type routerOptions struct {
	internal        internalData
	rtpCapabilities RtpCapabilities
	channel         *Channel
	payloadChannel  *PayloadChannel
	appData         H
}

// pipeTransportPair is the memoized local/remote PipeTransport pair for
// one destination Router, keyed by that router's id (spec.md §4.8
// "pipeToRouter").
type pipeTransportPair struct {
	local  *PipeTransport
	remote *PipeTransport
}

// Router is one mediasoup worker's media-routing domain: an immutable
// set of negotiated codecs/header-extensions and the Transports,
// RtpObservers and Producers/DataProducers that hang off it (spec.md
// §4.8).
type Router struct {
	IEventEmitter

	logger          logr.Logger
	internal        internalData
	rtpCapabilities RtpCapabilities
	channel         *Channel
	payloadChannel  *PayloadChannel

	appDataMu sync.Mutex
	appData   H

	closedMu sync.Mutex
	closed   bool

	transportsMu sync.Mutex
	transports   map[string]Transport

	rtpObserversMu sync.Mutex
	rtpObservers   map[string]RtpObserver

	producersMu sync.Mutex
	producers   map[string]*Producer

	dataProducersMu sync.Mutex
	dataProducers   map[string]*DataProducer

	pipeGroup   singleflight.Group
	pipeMu      sync.Mutex
	pipePairs   map[string]*pipeTransportPair

	observer IEventEmitter
}

func newRouter(options routerOptions) *Router {
	r := &Router{
		IEventEmitter:   NewEventEmitter(),
		logger:          NewLogger("router"),
		internal:        options.internal,
		rtpCapabilities: options.rtpCapabilities,
		channel:         options.channel,
		payloadChannel:  options.payloadChannel,
		appData:         options.appData,
		transports:      map[string]Transport{},
		rtpObservers:    map[string]RtpObserver{},
		producers:       map[string]*Producer{},
		dataProducers:   map[string]*DataProducer{},
		pipePairs:       map[string]*pipeTransportPair{},
		observer:        NewEventEmitter(),
	}
	if r.appData == nil {
		r.appData = H{}
	}
	return r
}

// Id returns this router's unique identifier.
func (r *Router) Id() string { return r.internal.RouterId }

// RtpCapabilities returns the codecs/header-extensions this router
// negotiated from its media codecs at creation time.
func (r *Router) RtpCapabilities() RtpCapabilities { return r.rtpCapabilities }

// Closed reports whether Close (or workerClosed) has run.
func (r *Router) Closed() bool {
	r.closedMu.Lock()
	defer r.closedMu.Unlock()
	return r.closed
}

// AppData returns the caller-supplied opaque data.
func (r *Router) AppData() H {
	r.appDataMu.Lock()
	defer r.appDataMu.Unlock()
	return r.appData
}

// Observer emits: close, newtransport, newrtpobserver.
func (r *Router) Observer() IEventEmitter { return r.observer }

func (r *Router) markClosed() bool {
	r.closedMu.Lock()
	defer r.closedMu.Unlock()
	if r.closed {
		return false
	}
	r.closed = true
	return true
}

// Close destroys this router on the worker, cascading to every
// Transport and RtpObserver it owns.
func (r *Router) Close() {
	if !r.markClosed() {
		return
	}
	r.channel.Request("worker.closeRouter", r.internal)
	r.closeChildren()
	r.SafeEmit("@close")
	r.observer.SafeEmit("close")
}

// workerClosed is invoked by the owning Worker when it is closing;
// unlike Close it sends no request, since the worker already destroyed
// every router along with itself.
func (r *Router) workerClosed() {
	if !r.markClosed() {
		return
	}
	r.closeChildren()
	r.SafeEmit("workerclose")
	r.observer.SafeEmit("close")
}

func (r *Router) closeChildren() {
	r.transportsMu.Lock()
	transports := r.transports
	r.transports = map[string]Transport{}
	r.transportsMu.Unlock()
	for _, t := range transports {
		t.routerClosed()
	}

	r.rtpObserversMu.Lock()
	observers := r.rtpObservers
	r.rtpObservers = map[string]RtpObserver{}
	r.rtpObserversMu.Unlock()
	for _, o := range observers {
		o.routerClosed()
	}

	r.pipeMu.Lock()
	r.pipePairs = map[string]*pipeTransportPair{}
	r.pipeMu.Unlock()
}

// Dump returns this router's full internal state as raw JSON.
func (r *Router) Dump() ([]byte, error) {
	resp := r.channel.Request("router.dump", r.internal)
	return resp.Data(), resp.Err()
}

func (r *Router) getProducerById(id string) *Producer {
	r.producersMu.Lock()
	defer r.producersMu.Unlock()
	return r.producers[id]
}

func (r *Router) getDataProducerById(id string) *DataProducer {
	r.dataProducersMu.Lock()
	defer r.dataProducersMu.Unlock()
	return r.dataProducers[id]
}

// CanConsume reports whether a Consumer created with rtpCapabilities
// could consume producerId, delegating the capability-intersection
// logic to the ortc module.
func (r *Router) CanConsume(producerId string, rtpCapabilities RtpCapabilities) bool {
	producer := r.getProducerById(producerId)
	if producer == nil {
		r.logger.Error(merrors.NewNotFound("producer not found"), "canConsume() failed", "producerId", producerId)
		return false
	}
	return canConsume(producer.ConsumableRtpParameters(), rtpCapabilities)
}

// registerTransport enters transport into the registry, wires
// @close / newproducer / newdataproducer so the Router-level
// producers/dataProducers registries (and the outer transports
// registry) stay in sync, and emits observer "newtransport".
func (r *Router) registerTransport(t Transport) {
	r.transportsMu.Lock()
	r.transports[t.Id()] = t
	r.transportsMu.Unlock()

	t.Observer().On("@close", func() {
		r.transportsMu.Lock()
		delete(r.transports, t.Id())
		r.transportsMu.Unlock()
	})

	t.Observer().On("newproducer", func(producer *Producer) {
		r.producersMu.Lock()
		r.producers[producer.Id()] = producer
		r.producersMu.Unlock()
		producer.On("@close", func() {
			r.producersMu.Lock()
			delete(r.producers, producer.Id())
			r.producersMu.Unlock()
		})
	})

	t.Observer().On("newdataproducer", func(dataProducer *DataProducer) {
		r.dataProducersMu.Lock()
		r.dataProducers[dataProducer.Id()] = dataProducer
		r.dataProducersMu.Unlock()
		dataProducer.On("@close", func() {
			r.dataProducersMu.Lock()
			delete(r.dataProducers, dataProducer.Id())
			r.dataProducersMu.Unlock()
		})
	})

	r.observer.SafeEmit("newtransport", t)
}

func (r *Router) transportParams(transportId string, appData H, sctpMIS int, pipeRtx bool) transportParams {
	internal := r.internal
	internal.TransportId = transportId
	return transportParams{
		internal:                 internal,
		channel:                  r.channel,
		payloadChannel:           r.payloadChannel,
		appData:                  appData,
		sctpMIS:                  sctpMIS,
		pipeRtx:                  pipeRtx,
		getRouterRtpCapabilities: r.RtpCapabilities,
		getProducerById:          r.getProducerById,
		getDataProducerById:      r.getDataProducerById,
	}
}

// CreateWebRtcTransport creates a WebRtcTransport on this router's
// worker.
func (r *Router) CreateWebRtcTransport(options WebRtcTransportOptions) (*WebRtcTransport, error) {
	r.logger.V(1).Info("createWebRtcTransport")
	if r.Closed() {
		return nil, merrors.NewInvalidState("router closed")
	}
	if options.WebRtcServer == nil && len(options.ListenIps) == 0 {
		return nil, merrors.NewInvalidArgument("missing webRtcServer and listenIps")
	}

	transportId := newId()
	reqData := H{
		"listenIps":                    options.ListenIps,
		"port":                         options.Port,
		"enableUdp":                    options.EnableUdp,
		"enableTcp":                    options.EnableTcp,
		"preferUdp":                    options.PreferUdp,
		"preferTcp":                    options.PreferTcp,
		"initialAvailableOutgoingBitrate": options.InitialAvailableOutgoingBitrate,
		"enableSctp":                   options.EnableSctp,
		"numSctpStreams":               options.NumSctpStreams,
		"maxSctpMessageSize":           options.MaxSctpMessageSize,
		"sctpSendBufferSize":           options.SctpSendBufferSize,
		"isDataChannel":                true,
	}
	if options.WebRtcServer != nil {
		reqData["webRtcServerId"] = options.WebRtcServer.Id()
	}

	internal := r.internal
	internal.TransportId = transportId
	if options.WebRtcServer != nil {
		internal.WebRtcServerId = options.WebRtcServer.Id()
	}

	var data webRtcTransportData
	if err := r.channel.Request("router.createWebRtcTransport", internal, reqData).Unmarshal(&data); err != nil {
		return nil, err
	}

	sctpMIS := 0
	if options.EnableSctp {
		sctpMIS = options.NumSctpStreams.MIS
	}
	params := r.transportParams(transportId, options.AppData, sctpMIS, false)
	transport := newWebRtcTransport(params, data)

	r.registerTransport(transport)
	if options.WebRtcServer != nil {
		options.WebRtcServer.handleWebRtcTransport(transport)
	}

	return transport, nil
}

// CreatePlainTransport creates a PlainTransport on this router's
// worker.
func (r *Router) CreatePlainTransport(options PlainTransportOptions) (*PlainTransport, error) {
	r.logger.V(1).Info("createPlainTransport")
	if r.Closed() {
		return nil, merrors.NewInvalidState("router closed")
	}
	if options.ListenIp.Ip == "" {
		return nil, merrors.NewInvalidArgument("missing listenIp")
	}

	transportId := newId()
	internal := r.internal
	internal.TransportId = transportId

	reqData := H{
		"listenIp":           options.ListenIp,
		"port":               options.Port,
		"rtcpMux":            options.RtcpMux,
		"comedia":            options.Comedia,
		"enableSctp":         options.EnableSctp,
		"numSctpStreams":     options.NumSctpStreams,
		"maxSctpMessageSize": options.MaxSctpMessageSize,
		"sctpSendBufferSize": options.SctpSendBufferSize,
		"enableSrtp":         options.EnableSrtp,
		"srtpCryptoSuite":    options.SrtpCryptoSuite,
	}

	var data plainTransportData
	if err := r.channel.Request("router.createPlainTransport", internal, reqData).Unmarshal(&data); err != nil {
		return nil, err
	}

	sctpMIS := 0
	if options.EnableSctp {
		sctpMIS = options.NumSctpStreams.MIS
	}
	params := r.transportParams(transportId, options.AppData, sctpMIS, false)
	transport := newPlainTransport(params, data)

	r.registerTransport(transport)

	return transport, nil
}

// CreatePipeTransport creates a PipeTransport on this router's worker.
func (r *Router) CreatePipeTransport(options PipeTransportOptions) (*PipeTransport, error) {
	r.logger.V(1).Info("createPipeTransport")
	if r.Closed() {
		return nil, merrors.NewInvalidState("router closed")
	}
	if options.ListenIp.Ip == "" {
		return nil, merrors.NewInvalidArgument("missing listenIp")
	}

	transportId := newId()
	internal := r.internal
	internal.TransportId = transportId

	reqData := H{
		"listenIp":           options.ListenIp,
		"port":               options.Port,
		"enableSctp":         options.EnableSctp,
		"numSctpStreams":     options.NumSctpStreams,
		"maxSctpMessageSize": options.MaxSctpMessageSize,
		"sctpSendBufferSize": options.SctpSendBufferSize,
		"enableRtx":          options.EnableRtx,
		"enableSrtp":         options.EnableSrtp,
	}

	var data pipeTransportData
	if err := r.channel.Request("router.createPipeTransport", internal, reqData).Unmarshal(&data); err != nil {
		return nil, err
	}

	sctpMIS := 0
	if options.EnableSctp {
		sctpMIS = options.NumSctpStreams.MIS
	}
	params := r.transportParams(transportId, options.AppData, sctpMIS, options.EnableRtx)
	transport := newPipeTransport(params, data)

	r.registerTransport(transport)

	return transport, nil
}

// CreateDirectTransport creates a DirectTransport on this router's
// worker (supplemented feature: in-process RTP/message injection with
// no network parameters, spec.md §4.10).
func (r *Router) CreateDirectTransport(options DirectTransportOptions) (*DirectTransport, error) {
	r.logger.V(1).Info("createDirectTransport")
	if r.Closed() {
		return nil, merrors.NewInvalidState("router closed")
	}

	transportId := newId()
	internal := r.internal
	internal.TransportId = transportId

	reqData := H{
		"direct":             true,
		"maxMessageSize":     options.MaxMessageSize,
	}

	if err := r.channel.Request("router.createDirectTransport", internal, reqData).Err(); err != nil {
		return nil, err
	}

	params := r.transportParams(transportId, options.AppData, 0, false)
	transport := newDirectTransport(params)

	r.registerTransport(transport)

	return transport, nil
}

func (r *Router) registerRtpObserver(o RtpObserver) {
	r.rtpObserversMu.Lock()
	r.rtpObservers[o.Id()] = o
	r.rtpObserversMu.Unlock()

	o.Observer().On("close", func() {
		r.rtpObserversMu.Lock()
		delete(r.rtpObservers, o.Id())
		r.rtpObserversMu.Unlock()
	})

	r.observer.SafeEmit("newrtpobserver", o)
}

// CreateAudioLevelObserver creates an AudioLevelObserver on this
// router's worker.
func (r *Router) CreateAudioLevelObserver(options AudioLevelObserverOptions) (*AudioLevelObserver, error) {
	r.logger.V(1).Info("createAudioLevelObserver")
	if r.Closed() {
		return nil, merrors.NewInvalidState("router closed")
	}

	internal := r.internal
	internal.RtpObserverId = newId()

	reqData := H{
		"maxEntries": options.MaxEntries,
		"threshold":  options.Threshold,
		"interval":   options.Interval,
	}
	if err := r.channel.Request("router.createAudioLevelObserver", internal, reqData).Err(); err != nil {
		return nil, err
	}

	observer := newAudioLevelObserver(rtpObserverParams{
		internal:        internal,
		channel:         r.channel,
		payloadChannel:  r.payloadChannel,
		appData:         options.AppData,
		getProducerById: r.getProducerById,
	})

	r.registerRtpObserver(observer)

	return observer, nil
}

// CreateActiveSpeakerObserver creates an ActiveSpeakerObserver on this
// router's worker.
func (r *Router) CreateActiveSpeakerObserver(options ActiveSpeakerObserverOptions) (*ActiveSpeakerObserver, error) {
	r.logger.V(1).Info("createActiveSpeakerObserver")
	if r.Closed() {
		return nil, merrors.NewInvalidState("router closed")
	}

	internal := r.internal
	internal.RtpObserverId = newId()

	reqData := H{
		"interval": options.Interval,
	}
	if err := r.channel.Request("router.createActiveSpeakerObserver", internal, reqData).Err(); err != nil {
		return nil, err
	}

	observer := newActiveSpeakerObserver(rtpObserverParams{
		internal:        internal,
		channel:         r.channel,
		payloadChannel:  r.payloadChannel,
		appData:         options.AppData,
		getProducerById: r.getProducerById,
	})

	r.registerRtpObserver(observer)

	return observer, nil
}

// PipeToRouterOptions configures PipeToRouter.
type PipeToRouterOptions struct {
	ProducerId     string
	DataProducerId string
	Router         *Router
	ListenIp       TransportListenIp
	EnableSctp     bool
	NumSctpStreams NumSctpStreams
	EnableRtx      bool
	EnableSrtp     bool
}

// PipeToRouterResult is the pair of objects created on either side of
// the PipeTransport pair PipeToRouter drives traffic across.
type PipeToRouterResult struct {
	PipeConsumer     *Consumer
	PipeProducer     *Producer
	PipeDataConsumer *DataConsumer
	PipeDataProducer *DataProducer
}

// PipeToRouter forwards one Producer or DataProducer of this router
// into destination router options.Router over a PipeTransport pair,
// reusing an existing pair for the (source, destination) relationship
// when concurrent calls target the same destination (spec.md §4.8).
func (r *Router) PipeToRouter(options PipeToRouterOptions) (*PipeToRouterResult, error) {
	if options.ProducerId == "" && options.DataProducerId == "" {
		return nil, merrors.NewInvalidArgument("missing producerId or dataProducerId")
	}
	if options.ProducerId != "" && options.DataProducerId != "" {
		return nil, merrors.NewInvalidArgument("just one of producerId or dataProducerId must be given")
	}
	if options.Router == nil {
		return nil, merrors.NewInvalidArgument("missing router")
	}
	if options.Router == r {
		return nil, merrors.NewInvalidArgument("cannot use this Router as the pipeToRouter destination")
	}

	pair, err := r.getOrCreatePipeTransportPair(options)
	if err != nil {
		return nil, err
	}

	result := &PipeToRouterResult{}

	switch {
	case options.ProducerId != "":
		producer := r.getProducerById(options.ProducerId)
		if producer == nil {
			return nil, merrors.NewNotFound("producer with id %q not found", options.ProducerId)
		}

		pipeConsumer, err := pair.local.consume(ConsumerOptions{ProducerId: options.ProducerId, Pipe: true})
		if err != nil {
			return nil, err
		}

		pipeProducer, err := pair.remote.produce(ProducerOptions{
			Id:            producer.Id(),
			Kind:          pipeConsumer.Kind(),
			RtpParameters: pipeConsumer.RtpParameters(),
			Paused:        pipeConsumer.ProducerPaused(),
		})
		if err != nil {
			pipeConsumer.Close()
			return nil, err
		}

		pipeConsumer.On("@producerclose", func() { pipeProducer.Close() })
		pipeProducer.On("@close", func() { pipeConsumer.Close() })

		result.PipeConsumer = pipeConsumer
		result.PipeProducer = pipeProducer

	case options.DataProducerId != "":
		dataProducer := r.getDataProducerById(options.DataProducerId)
		if dataProducer == nil {
			return nil, merrors.NewNotFound("data producer with id %q not found", options.DataProducerId)
		}
		if dataProducer.SctpStreamParameters() == nil {
			return nil, merrors.NewInvalidState("cannot pipe a direct DataProducer (missing sctpStreamParameters)")
		}

		pipeDataConsumer, err := pair.local.consumeData(DataConsumerOptions{DataProducerId: options.DataProducerId}, "sctp")
		if err != nil {
			return nil, err
		}

		pipeDataProducer, err := pair.remote.produceData(DataProducerOptions{
			Id:                   dataProducer.Id(),
			SctpStreamParameters: pipeDataConsumer.SctpStreamParameters(),
			Label:                pipeDataConsumer.Label(),
			Protocol:             pipeDataConsumer.Protocol(),
		}, "sctp")
		if err != nil {
			pipeDataConsumer.Close()
			return nil, err
		}

		pipeDataConsumer.On("@dataproducerclose", func() { pipeDataProducer.Close() })
		pipeDataProducer.On("@close", func() { pipeDataConsumer.Close() })

		result.PipeDataConsumer = pipeDataConsumer
		result.PipeDataProducer = pipeDataProducer
	}

	return result, nil
}

// getOrCreatePipeTransportPair returns the memoized PipeTransport pair
// for destination, creating and cross-connecting one if absent.
// Concurrent callers for the same destination are serialized through
// pipeGroup so they share one pair instead of racing to create two.
func (r *Router) getOrCreatePipeTransportPair(options PipeToRouterOptions) (*pipeTransportPair, error) {
	destination := options.Router

	r.pipeMu.Lock()
	existing := r.pipePairs[destination.Id()]
	r.pipeMu.Unlock()
	if existing != nil {
		return existing, nil
	}

	v, err, _ := r.pipeGroup.Do(destination.Id(), func() (interface{}, error) {
		r.pipeMu.Lock()
		if existing := r.pipePairs[destination.Id()]; existing != nil {
			r.pipeMu.Unlock()
			return existing, nil
		}
		r.pipeMu.Unlock()

		local, err := r.CreatePipeTransport(PipeTransportOptions{
			ListenIp:       options.ListenIp,
			EnableSctp:     options.EnableSctp,
			NumSctpStreams: options.NumSctpStreams,
			EnableRtx:      options.EnableRtx,
			EnableSrtp:     options.EnableSrtp,
		})
		if err != nil {
			return nil, err
		}

		remote, err := destination.CreatePipeTransport(PipeTransportOptions{
			ListenIp:       options.ListenIp,
			EnableSctp:     options.EnableSctp,
			NumSctpStreams: options.NumSctpStreams,
			EnableRtx:      options.EnableRtx,
			EnableSrtp:     options.EnableSrtp,
		})
		if err != nil {
			local.Close()
			return nil, err
		}

		if err := local.Connect(TransportConnectOptions{Ip: remote.Tuple().LocalIp, Port: remote.Tuple().LocalPort}); err != nil {
			local.Close()
			remote.Close()
			return nil, err
		}
		if err := remote.Connect(TransportConnectOptions{Ip: local.Tuple().LocalIp, Port: local.Tuple().LocalPort}); err != nil {
			local.Close()
			remote.Close()
			return nil, err
		}

		pair := &pipeTransportPair{local: local, remote: remote}

		r.pipeMu.Lock()
		r.pipePairs[destination.Id()] = pair
		r.pipeMu.Unlock()

		evict := func() {
			r.pipeMu.Lock()
			if r.pipePairs[destination.Id()] == pair {
				delete(r.pipePairs, destination.Id())
			}
			r.pipeMu.Unlock()
		}
		local.Observer().On("close", func() {
			evict()
			remote.Close()
		})
		remote.Observer().On("close", func() {
			evict()
			local.Close()
		})

		return pair, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*pipeTransportPair), nil
}
