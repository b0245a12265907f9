package mediasoup

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/pion/sctp"

	"github.com/RainStream/rainstream-server-sub000/internal/merrors"
	"github.com/RainStream/rainstream-server-sub000/internal/sctpalloc"
)

// TransportListenIp is one local IP a Transport binds to, optionally
// announcing a different public IP in its connection parameters
// (spec.md §4.8).
type TransportListenIp struct {
	Ip          string `json:"ip"`
	AnnouncedIp string `json:"announcedIp,omitempty"`
}

// TransportTuple is the observed local/remote address pair of a
// Transport's underlying socket.
type TransportTuple struct {
	LocalIp    string `json:"localIp"`
	LocalPort  int    `json:"localPort"`
	RemoteIp   string `json:"remoteIp,omitempty"`
	RemotePort int    `json:"remotePort,omitempty"`
	Protocol   string `json:"protocol"`
}

// TransportTraceEventData is one "trace" notification payload, shared
// across every Transport variant.
type TransportTraceEventData struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Direction string      `json:"direction"`
	Info      interface{} `json:"info,omitempty"`
}

// TransportConnectOptions carries the remote-side parameters supplied
// to Connect(); which fields are meaningful depends on the Transport
// variant.
type TransportConnectOptions struct {
	Ip             string          `json:"ip,omitempty"`
	Port           int             `json:"port,omitempty"`
	RtcpMux        *bool           `json:"rtcpMux,omitempty"`
	Comedia        *bool           `json:"comedia,omitempty"`
	SrtpParameters *SrtpParameters `json:"srtpParameters,omitempty"`
	DtlsParameters *DtlsParameters `json:"dtlsParameters,omitempty"`
}

// transportParams is the constructor input shared by every Transport
// variant (spec.md §4.8 "Transport (abstract base)").
type transportParams struct {
	internal                 internalData
	channel                  *Channel
	payloadChannel           *PayloadChannel
	appData                  H
	sctpOS                   int
	sctpMIS                  int
	pipeRtx                  bool
	getRouterRtpCapabilities func() RtpCapabilities
	getProducerById          func(string) *Producer
	getDataProducerById      func(string) *DataProducer
}

// transport is the common object-lifecycle machinery every Transport
// variant embeds: producer/consumer/dataProducer/dataConsumer
// registries, cname/mid/sctp-stream-id allocation, and the
// request/notification plumbing shared regardless of variant
// (spec.md §4.8, §4.11, §4.12).
type transport struct {
	IEventEmitter

	logger         logr.Logger
	internal       internalData
	channel        *Channel
	payloadChannel *PayloadChannel
	appDataMu      sync.Mutex
	appData        H

	closedMu sync.Mutex
	closed   bool

	cname string

	midCounter uint64

	sctpAlloc *sctpalloc.Bitmap

	pipeRtx bool

	producersMu     sync.Mutex
	producers       map[string]*Producer
	consumersMu     sync.Mutex
	consumers       map[string]*Consumer
	dataProducersMu sync.Mutex
	dataProducers   map[string]*DataProducer
	dataConsumersMu sync.Mutex
	dataConsumers   map[string]*DataConsumer

	getRouterRtpCapabilities func() RtpCapabilities
	getProducerById          func(string) *Producer
	getDataProducerById      func(string) *DataProducer

	observer IEventEmitter
}

func newTransport(params transportParams) *transport {
	t := &transport{
		IEventEmitter:            NewEventEmitter(),
		logger:                   NewLogger("transport"),
		internal:                 params.internal,
		channel:                  params.channel,
		payloadChannel:           params.payloadChannel,
		appData:                  params.appData,
		cname:                    uuid.NewString(),
		producers:                map[string]*Producer{},
		consumers:                map[string]*Consumer{},
		dataProducers:            map[string]*DataProducer{},
		dataConsumers:            map[string]*DataConsumer{},
		getRouterRtpCapabilities: params.getRouterRtpCapabilities,
		getProducerById:          params.getProducerById,
		getDataProducerById:      params.getDataProducerById,
		pipeRtx:                  params.pipeRtx,
		observer:                 NewEventEmitter(),
	}
	if t.appData == nil {
		t.appData = H{}
	}
	if params.sctpMIS > 0 {
		t.sctpAlloc = sctpalloc.New(params.sctpMIS)
	}
	return t
}

func (t *transport) Id() string { return t.internal.TransportId }

func (t *transport) Closed() bool {
	t.closedMu.Lock()
	defer t.closedMu.Unlock()
	return t.closed
}

func (t *transport) AppData() H {
	t.appDataMu.Lock()
	defer t.appDataMu.Unlock()
	return t.appData
}

func (t *transport) Observer() IEventEmitter { return t.observer }

// nextMid allocates the next `mid` value assigned to a Consumer created
// on this transport, wrapping at 10^8 (spec.md §4.9 consume step 3).
func (t *transport) nextMid() string {
	n := atomic.AddUint64(&t.midCounter, 1) - 1
	mid := n % 100000000
	if n != 0 && mid == 0 {
		t.logger.Info("mid counter wrapped around", "transportId", t.internal.TransportId)
	}
	return strconv.FormatUint(mid, 10)
}

// Close tears down every Producer/Consumer/DataProducer/DataConsumer
// owned by this transport and releases it on the worker side.
func (t *transport) Close() {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return
	}
	t.closed = true
	t.closedMu.Unlock()

	t.channel.Request("router.closeTransport", t.internal)
	t.channel.RemoveAllListeners(t.Id())
	t.payloadChannel.RemoveAllListeners(t.Id())

	t.closeChildren()

	t.SafeEmit("@close")
	t.observer.SafeEmit("close")
}

// routerClosed tears down this transport's children the same way
// Close does, but is invoked by the owning Router and skips the
// worker-side close request (the worker already destroyed it).
func (t *transport) routerClosed() {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return
	}
	t.closed = true
	t.closedMu.Unlock()

	t.channel.RemoveAllListeners(t.Id())
	t.payloadChannel.RemoveAllListeners(t.Id())

	t.closeChildren()

	t.SafeEmit("routerclose")
	t.observer.SafeEmit("close")
}

func (t *transport) closeChildren() {
	t.producersMu.Lock()
	producers := t.producers
	t.producers = map[string]*Producer{}
	t.producersMu.Unlock()
	for _, p := range producers {
		p.transportClosed()
	}

	t.consumersMu.Lock()
	consumers := t.consumers
	t.consumers = map[string]*Consumer{}
	t.consumersMu.Unlock()
	for _, c := range consumers {
		c.transportClosed()
	}

	t.dataProducersMu.Lock()
	dataProducers := t.dataProducers
	t.dataProducers = map[string]*DataProducer{}
	t.dataProducersMu.Unlock()
	for _, p := range dataProducers {
		p.transportClosed()
	}

	t.dataConsumersMu.Lock()
	dataConsumers := t.dataConsumers
	t.dataConsumers = map[string]*DataConsumer{}
	t.dataConsumersMu.Unlock()
	for _, c := range dataConsumers {
		c.transportClosed()
	}
}

// Dump returns this transport's full internal state as raw JSON.
func (t *transport) Dump() ([]byte, error) {
	resp := t.channel.Request("transport.dump", t.internal)
	return resp.Data(), resp.Err()
}

// GetStats returns this transport's stats as raw JSON; each variant
// reports a different stats shape so callers unmarshal into their own
// type.
func (t *transport) GetStats() ([]byte, error) {
	resp := t.channel.Request("transport.getStats", t.internal)
	return resp.Data(), resp.Err()
}

// SetMaxIncomingBitrate caps the aggregate bitrate this transport will
// accept from its Producers.
func (t *transport) SetMaxIncomingBitrate(bitrate int) error {
	return t.channel.Request("transport.setMaxIncomingBitrate", t.internal, H{"bitrate": bitrate}).Err()
}

// SetMaxOutgoingBitrate caps the aggregate bitrate this transport will
// send to its Consumers.
func (t *transport) SetMaxOutgoingBitrate(bitrate int) error {
	return t.channel.Request("transport.setMaxOutgoingBitrate", t.internal, H{"bitrate": bitrate}).Err()
}

// EnableTraceEvent arms the given trace event types for "trace"
// notifications.
func (t *transport) EnableTraceEvent(types ...string) error {
	return t.channel.Request("transport.enableTraceEvent", t.internal, H{"types": types}).Err()
}

// ProducerOptions configures a new Producer.
type ProducerOptions struct {
	Id            string
	Kind          MediaKind
	RtpParameters RtpParameters
	Paused        bool
	KeyFrameRequestDelay int
	AppData       H
}

// produce creates a Producer on this transport. Shared by every
// Transport variant, DirectTransport included; no variant's wrapper
// restricts the options further.
func (t *transport) produce(options ProducerOptions) (*Producer, error) {
	if options.Id != "" {
		t.producersMu.Lock()
		_, exists := t.producers[options.Id]
		t.producersMu.Unlock()
		if exists {
			return nil, merrors.NewInvalidArgument("a Producer with id %q already exists", options.Id)
		}
	}
	if options.Kind != MediaKind_Audio && options.Kind != MediaKind_Video {
		return nil, merrors.NewInvalidArgument("invalid producer kind %q", options.Kind)
	}

	params := options.RtpParameters
	if err := ValidateRtpParameters(&params); err != nil {
		return nil, err
	}
	if len(params.Encodings) == 0 {
		params.Encodings = []RtpEncodingParameters{{}}
	}
	if params.Rtcp.Cname == "" {
		params.Rtcp.Cname = t.cname
	}

	routerRtpCapabilities := t.getRouterRtpCapabilities()
	rtpMapping, err := getProducerRtpParametersMapping(params, routerRtpCapabilities)
	if err != nil {
		return nil, err
	}
	consumableRtpParameters := getConsumableRtpParameters(options.Kind, params, routerRtpCapabilities, rtpMapping)

	producerId := options.Id
	if producerId == "" {
		producerId = uuid.NewString()
	}
	internal := t.internal
	internal.ProducerId = producerId

	reqData := H{
		"kind":                 options.Kind,
		"rtpParameters":        params,
		"rtpMapping":           rtpMapping,
		"keyFrameRequestDelay": options.KeyFrameRequestDelay,
		"paused":               options.Paused,
	}
	resp := t.channel.Request("transport.produce", internal, reqData)
	var result struct {
		Type string `json:"type"`
	}
	if err := resp.Unmarshal(&result); err != nil {
		return nil, err
	}

	producer := newProducer(producerParams{
		internal:                 internal,
		kind:                     options.Kind,
		rtpParameters:            params,
		producerType:             result.Type,
		consumableRtpParameters:  consumableRtpParameters,
		channel:                  t.channel,
		payloadChannel:           t.payloadChannel,
		appData:                  options.AppData,
		paused:                   options.Paused,
	})

	t.producersMu.Lock()
	t.producers[producer.Id()] = producer
	t.producersMu.Unlock()
	producer.On("@close", func() {
		t.producersMu.Lock()
		delete(t.producers, producer.Id())
		t.producersMu.Unlock()
	})

	t.observer.SafeEmit("newproducer", producer)

	return producer, nil
}

// ConsumerOptions configures a new Consumer.
type ConsumerOptions struct {
	ProducerId      string
	RtpCapabilities RtpCapabilities
	Paused          bool
	Pipe            bool
	AppData         H
}

// consume creates a Consumer for producerId on this transport.
func (t *transport) consume(options ConsumerOptions) (*Consumer, error) {
	producer := t.getProducerById(options.ProducerId)
	if producer == nil {
		return nil, merrors.NewNotFound("producer with id %q not found", options.ProducerId)
	}

	caps := options.RtpCapabilities
	if err := ValidateRtpCapabilities(&caps); err != nil {
		return nil, err
	}

	consumableParams := producer.ConsumableRtpParameters()

	var rtpParameters RtpParameters
	var consumerType string
	var err error
	if options.Pipe {
		rtpParameters = getPipeConsumerRtpParameters(consumableParams, t.pipeRtx)
		consumerType = "pipe"
	} else {
		if !canConsume(consumableParams, caps) {
			return nil, merrors.NewCapabilityMismatch("cannot consume producer %q with the given rtpCapabilities", options.ProducerId)
		}
		rtpParameters, err = getConsumerRtpParameters(consumableParams, caps)
		if err != nil {
			return nil, err
		}
		consumerType = string(producer.Type())
	}
	rtpParameters.Mid = t.nextMid()

	internal := t.internal
	internal.ConsumerId = uuid.NewString()
	internal.ProducerId = options.ProducerId

	reqData := H{
		"kind":                   producer.Kind(),
		"rtpParameters":          rtpParameters,
		"type":                   consumerType,
		"consumableRtpEncodings": consumableParams.Encodings,
		"paused":                 options.Paused,
	}
	resp := t.channel.Request("transport.consume", internal, reqData)
	var status struct {
		Paused         bool `json:"paused"`
		ProducerPaused bool `json:"producerPaused"`
		Score          *ConsumerScore `json:"score,omitempty"`
	}
	if err := resp.Unmarshal(&status); err != nil {
		return nil, err
	}

	consumer := newConsumer(consumerParams{
		internal:       internal,
		kind:           producer.Kind(),
		rtpParameters:  rtpParameters,
		consumerType:   consumerType,
		channel:        t.channel,
		payloadChannel: t.payloadChannel,
		appData:        options.AppData,
		paused:         status.Paused,
		producerPaused: status.ProducerPaused,
		score:          status.Score,
	})

	t.consumersMu.Lock()
	t.consumers[consumer.Id()] = consumer
	t.consumersMu.Unlock()
	consumer.On("@close", func() {
		t.consumersMu.Lock()
		delete(t.consumers, consumer.Id())
		t.consumersMu.Unlock()
	})
	consumer.On("@producerclose", func() {
		t.consumersMu.Lock()
		delete(t.consumers, consumer.Id())
		t.consumersMu.Unlock()
	})

	t.observer.SafeEmit("newconsumer", consumer)

	return consumer, nil
}

// DataProducerOptions configures a new DataProducer.
type DataProducerOptions struct {
	Id                   string
	SctpStreamParameters *SctpStreamParameters
	Label                string
	Protocol             string
	AppData              H
}

// produceData creates a DataProducer on this transport. An "sctp"
// DataProducer must carry caller-supplied sctpStreamParameters; no
// stream id is allocated for it here. DirectTransport passes "direct",
// which needs no sctpStreamParameters.
func (t *transport) produceData(options DataProducerOptions, dataProducerType string) (*DataProducer, error) {
	if options.Id != "" {
		t.dataProducersMu.Lock()
		_, exists := t.dataProducers[options.Id]
		t.dataProducersMu.Unlock()
		if exists {
			return nil, merrors.NewInvalidArgument("a DataProducer with id %q already exists", options.Id)
		}
	}

	sctpParams := options.SctpStreamParameters
	if dataProducerType == "sctp" {
		if sctpParams == nil {
			return nil, merrors.NewInvalidArgument("missing sctpStreamParameters for sctp DataProducer")
		}
		if err := ValidateSctpStreamParameters(sctpParams); err != nil {
			return nil, err
		}
	}

	dataProducerId := options.Id
	if dataProducerId == "" {
		dataProducerId = uuid.NewString()
	}
	internal := t.internal
	internal.DataProducerId = dataProducerId

	reqData := H{
		"type":                 dataProducerType,
		"sctpStreamParameters": sctpParams,
		"label":                options.Label,
		"protocol":             options.Protocol,
	}
	if err := t.channel.Request("transport.produceData", internal, reqData).Err(); err != nil {
		return nil, err
	}

	dataProducer := newDataProducer(dataProducerParams{
		internal:    internal,
		producerType: dataProducerType,
		sctpStreamParameters: sctpParams,
		label:       options.Label,
		protocol:    options.Protocol,
		channel:     t.channel,
		payloadChannel: t.payloadChannel,
		appData:     options.AppData,
	})

	t.dataProducersMu.Lock()
	t.dataProducers[dataProducer.Id()] = dataProducer
	t.dataProducersMu.Unlock()
	dataProducer.On("@close", func() {
		t.dataProducersMu.Lock()
		delete(t.dataProducers, dataProducer.Id())
		t.dataProducersMu.Unlock()
	})

	t.observer.SafeEmit("newdataproducer", dataProducer)

	return dataProducer, nil
}

// DataConsumerOptions configures a new DataConsumer.
type DataConsumerOptions struct {
	DataProducerId string
	Ordered           *bool
	MaxPacketLifeTime *int
	MaxRetransmits    *int
	AppData           H
}

// consumeData creates a DataConsumer for dataProducerId on this
// transport, allocating an SCTP stream id from sctpAlloc when this
// transport's association type requires one.
func (t *transport) consumeData(options DataConsumerOptions, dataConsumerType string) (*DataConsumer, error) {
	dataProducer := t.getDataProducerById(options.DataProducerId)
	if dataProducer == nil {
		return nil, merrors.NewNotFound("data producer with id %q not found", options.DataProducerId)
	}

	var sctpStreamParameters *SctpStreamParameters
	if dataConsumerType == "sctp" {
		if t.sctpAlloc == nil {
			return nil, merrors.NewUnsupported("transport has no SCTP association")
		}
		streamId, err := t.sctpAlloc.Allocate()
		if err != nil {
			return nil, merrors.NewInvalidState("%v", err)
		}
		ordered := options.Ordered
		maxPacketLifeTime := options.MaxPacketLifeTime
		maxRetransmits := options.MaxRetransmits
		if ordered == nil && maxPacketLifeTime == nil && maxRetransmits == nil {
			o := true
			ordered = &o
		}
		sctpStreamParameters = &SctpStreamParameters{
			StreamId:          int(streamId),
			Ordered:           ordered,
			MaxPacketLifeTime: maxPacketLifeTime,
			MaxRetransmits:    maxRetransmits,
		}
		if err := ValidateSctpStreamParameters(sctpStreamParameters); err != nil {
			t.sctpAlloc.Release(streamId)
			return nil, err
		}
	}

	internal := t.internal
	internal.DataConsumerId = uuid.NewString()
	internal.DataProducerId = options.DataProducerId

	reqData := H{
		"type":                 dataConsumerType,
		"sctpStreamParameters": sctpStreamParameters,
		"label":                dataProducer.Label(),
		"protocol":             dataProducer.Protocol(),
	}
	if err := t.channel.Request("transport.consumeData", internal, reqData).Err(); err != nil {
		if t.sctpAlloc != nil && sctpStreamParameters != nil {
			t.sctpAlloc.Release(sctp.StreamIdentifier(sctpStreamParameters.StreamId))
		}
		return nil, err
	}

	dataConsumer := newDataConsumer(dataConsumerParams{
		internal:             internal,
		consumerType:         dataConsumerType,
		sctpStreamParameters: sctpStreamParameters,
		label:                dataProducer.Label(),
		protocol:             dataProducer.Protocol(),
		channel:              t.channel,
		payloadChannel:       t.payloadChannel,
		appData:              options.AppData,
	})

	t.dataConsumersMu.Lock()
	t.dataConsumers[dataConsumer.Id()] = dataConsumer
	t.dataConsumersMu.Unlock()
	releaseStream := func() {
		if t.sctpAlloc != nil && sctpStreamParameters != nil {
			t.sctpAlloc.Release(sctp.StreamIdentifier(sctpStreamParameters.StreamId))
		}
	}
	dataConsumer.On("@close", func() {
		t.dataConsumersMu.Lock()
		delete(t.dataConsumers, dataConsumer.Id())
		t.dataConsumersMu.Unlock()
		releaseStream()
	})
	dataConsumer.On("@dataproducerclose", func() {
		t.dataConsumersMu.Lock()
		delete(t.dataConsumers, dataConsumer.Id())
		t.dataConsumersMu.Unlock()
		releaseStream()
	})

	t.observer.SafeEmit("newdataconsumer", dataConsumer)

	return dataConsumer, nil
}
