package mediasoup

import (
	"sync"

	"github.com/go-logr/logr"

	"github.com/RainStream/rainstream-server-sub000/internal/merrors"
)

type webRtcServerOptions struct {
	internal internalData
	channel  *Channel
	appData  H
}

// WebRtcServer is a set of UDP/TCP sockets shared across the
// WebRtcTransports created against it, avoiding one listening socket
// per transport (spec.md §4.10 supplemented "WebRtcServer").
type WebRtcServer struct {
	IEventEmitter

	logger   logr.Logger
	internal internalData
	channel  *Channel

	appDataMu sync.Mutex
	appData   H

	closedMu sync.Mutex
	closed   bool

	webRtcTransportsMu sync.Mutex
	webRtcTransports   map[string]*WebRtcTransport

	observer IEventEmitter
}

func newWebRtcServer(options webRtcServerOptions) *WebRtcServer {
	s := &WebRtcServer{
		IEventEmitter:    NewEventEmitter(),
		logger:           NewLogger("webRtcServer"),
		internal:         options.internal,
		channel:          options.channel,
		appData:          options.appData,
		webRtcTransports: map[string]*WebRtcTransport{},
		observer:         NewEventEmitter(),
	}
	if s.appData == nil {
		s.appData = H{}
	}
	return s
}

// Id returns this WebRtcServer's unique identifier.
func (s *WebRtcServer) Id() string { return s.internal.WebRtcServerId }

// Closed reports whether Close (or workerClosed) has run.
func (s *WebRtcServer) Closed() bool {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	return s.closed
}

// AppData returns the caller-supplied opaque data.
func (s *WebRtcServer) AppData() H {
	s.appDataMu.Lock()
	defer s.appDataMu.Unlock()
	return s.appData
}

// Observer emits: close, webrtctransporthandled, webrtctransportunhandled.
func (s *WebRtcServer) Observer() IEventEmitter { return s.observer }

func (s *WebRtcServer) markClosed() bool {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

// Close destroys this WebRtcServer on the worker, along with every
// WebRtcTransport still bound to it.
func (s *WebRtcServer) Close() {
	if !s.markClosed() {
		return
	}
	s.channel.Request("worker.closeWebRtcServer", s.internal)
	s.closeTransports()
	s.SafeEmit("@close")
	s.observer.SafeEmit("close")
}

// workerClosed is invoked by the owning Worker when it is closing.
func (s *WebRtcServer) workerClosed() {
	if !s.markClosed() {
		return
	}
	s.closeTransports()
	s.SafeEmit("workerclose")
	s.observer.SafeEmit("close")
}

func (s *WebRtcServer) closeTransports() {
	s.webRtcTransportsMu.Lock()
	transports := s.webRtcTransports
	s.webRtcTransports = map[string]*WebRtcTransport{}
	s.webRtcTransportsMu.Unlock()
	for _, t := range transports {
		t.routerClosed()
	}
}

// Dump returns this WebRtcServer's full internal state as raw JSON.
func (s *WebRtcServer) Dump() ([]byte, error) {
	resp := s.channel.Request("webRtcServer.dump", s.internal)
	return resp.Data(), resp.Err()
}

// handleWebRtcTransport registers transport as bound to this server so
// Close cascades to it; called by Router.CreateWebRtcTransport when
// options.WebRtcServer is set.
func (s *WebRtcServer) handleWebRtcTransport(t *WebRtcTransport) {
	if s.Closed() {
		t.routerClosed()
		s.logger.Error(merrors.NewInvalidState("webRtcServer closed"), "cannot bind transport to a closed webRtcServer")
		return
	}
	s.webRtcTransportsMu.Lock()
	s.webRtcTransports[t.Id()] = t
	s.webRtcTransportsMu.Unlock()
	s.observer.SafeEmit("webrtctransporthandled", t)

	t.Observer().On("@close", func() {
		s.webRtcTransportsMu.Lock()
		delete(s.webRtcTransports, t.Id())
		s.webRtcTransportsMu.Unlock()
		s.observer.SafeEmit("webrtctransportunhandled", t)
	})
}
