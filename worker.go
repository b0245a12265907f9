package mediasoup

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/gobwas/glob"
	"github.com/google/uuid"
	hashiversion "github.com/hashicorp/go-version"
	"github.com/imdario/mergo"

	"github.com/RainStream/rainstream-server-sub000/internal/merrors"
)

// newId returns a fresh random id for a worker-side object handle.
func newId() string {
	return uuid.NewString()
}

// WorkerLogLevel is the mediasoup-worker subprocess's own logging
// verbosity, passed on its command line.
type WorkerLogLevel string

const (
	WorkerLogLevel_Debug WorkerLogLevel = "debug"
	WorkerLogLevel_Warn  WorkerLogLevel = "warn"
	WorkerLogLevel_Error WorkerLogLevel = "error"
	WorkerLogLevel_None  WorkerLogLevel = "none"
)

// WorkerLogTag selects a debugging subsystem for verbose logging.
type WorkerLogTag string

const (
	WorkerLogTag_INFO      WorkerLogTag = "info"
	WorkerLogTag_ICE       WorkerLogTag = "ice"
	WorkerLogTag_DTLS      WorkerLogTag = "dtls"
	WorkerLogTag_RTP       WorkerLogTag = "rtp"
	WorkerLogTag_SRTP      WorkerLogTag = "srtp"
	WorkerLogTag_RTCP      WorkerLogTag = "rtcp"
	WorkerLogTag_RTX       WorkerLogTag = "rtx"
	WorkerLogTag_BWE       WorkerLogTag = "bwe"
	WorkerLogTag_Score     WorkerLogTag = "score"
	WorkerLogTag_Simulcast WorkerLogTag = "simulcast"
	WorkerLogTag_SVC       WorkerLogTag = "svc"
	WorkerLogTag_SCTP      WorkerLogTag = "sctp"
	WorkerLogTag_Message   WorkerLogTag = "message"
)

// WorkerSettings configures a spawned mediasoup-worker subprocess.
type WorkerSettings struct {
	// LogLevel is the worker's own log verbosity. Default "error".
	LogLevel WorkerLogLevel

	// LogTags restricts verbose logging to these subsystems. Each entry
	// also becomes a glob pattern (e.g. "*rtp*") matched against the
	// worker's raw stdout/stderr lines to decide whether this process
	// forwards them to its own logger; a tag list with no patterns
	// forwards everything.
	LogTags []WorkerLogTag

	// RTCMinPort/RTCMaxPort bound the UDP/TCP port range used for ICE,
	// DTLS, RTP, etc. Defaults 10000/59999.
	RTCMinPort uint16
	RTCMaxPort uint16

	// DTLSCertificateFile/DTLSPrivateKeyFile are paths to a PEM
	// certificate pair. If unset, the worker creates one dynamically.
	DTLSCertificateFile string
	DTLSPrivateKeyFile  string

	// AppData is opaque caller data returned by Worker.AppData.
	AppData H
}

func (w WorkerSettings) args() []string {
	args := []string{fmt.Sprintf("--logLevel=%s", w.LogLevel)}
	for _, tag := range w.LogTags {
		args = append(args, fmt.Sprintf("--logTag=%s", tag))
	}
	args = append(args,
		fmt.Sprintf("--rtcMinPort=%d", w.RTCMinPort),
		fmt.Sprintf("--rtcMaxPort=%d", w.RTCMaxPort),
	)
	if w.DTLSCertificateFile != "" && w.DTLSPrivateKeyFile != "" {
		args = append(args,
			"--dtlsCertificateFile="+w.DTLSCertificateFile,
			"--dtlsPrivateKeyFile="+w.DTLSPrivateKeyFile,
		)
	}
	return args
}

// WorkerUpdateableSettings is the subset of WorkerSettings that can be
// changed on a live worker via UpdateSettings.
type WorkerUpdateableSettings struct {
	LogLevel WorkerLogLevel `json:"logLevel,omitempty"`
	LogTags  []WorkerLogTag `json:"logTags,omitempty"`
}

// WorkerResourceUsage mirrors uv_rusage_t / getrusage(2), as reported
// by worker.getResourceUsage.
type WorkerResourceUsage struct {
	RU_Utime    float64 `json:"ru_utime,omitempty"`
	RU_Stime    float64 `json:"ru_stime,omitempty"`
	RU_Maxrss   int     `json:"ru_maxrss,omitempty"`
	RU_Ixrss    int     `json:"ru_ixrss,omitempty"`
	RU_Idrss    int     `json:"ru_idrss,omitempty"`
	RU_Isrss    int     `json:"ru_isrss,omitempty"`
	RU_Minflt   int     `json:"ru_minflt,omitempty"`
	RU_Majflt   int     `json:"ru_majflt,omitempty"`
	RU_Nswap    int     `json:"ru_nswap,omitempty"`
	RU_Inblock  int     `json:"ru_inblock,omitempty"`
	RU_Oublock  int     `json:"ru_oublock,omitempty"`
	RU_Msgsnd   int     `json:"ru_msgsnd,omitempty"`
	RU_Msgrcv   int     `json:"ru_msgrcv,omitempty"`
	RU_Nsignals int     `json:"ru_nsignals,omitempty"`
	RU_Nvcsw    int     `json:"ru_nvcsw,omitempty"`
	RU_Nivcsw   int     `json:"ru_nivcsw,omitempty"`
}

// WorkerBin is the path to the mediasoup-worker executable. It can be
// overridden before calling NewWorker; by default it is taken from
// MEDIASOUP_WORKER_BIN or derived from the platform's conventional
// install location.
var WorkerBin = os.Getenv("MEDIASOUP_WORKER_BIN")

func init() {
	if WorkerBin != "" {
		return
	}
	buildType := os.Getenv("MEDIASOUP_BUILDTYPE")
	if buildType != "Debug" {
		buildType = "Release"
	}
	if runtime.GOOS == "windows" {
		home, _ := os.UserHomeDir()
		WorkerBin = filepath.Join(home, "AppData", "Roaming", "npm", "node_modules",
			"mediasoup", "worker", "out", buildType, "mediasoup-worker")
	} else {
		WorkerBin = filepath.Join("/usr/local/lib/node_modules/mediasoup/worker/out", buildType, "mediasoup-worker")
	}
}

// WorkerOption mutates a WorkerSettings before a worker is spawned.
type WorkerOption func(*WorkerSettings)

func WithLogLevel(level WorkerLogLevel) WorkerOption {
	return func(s *WorkerSettings) { s.LogLevel = level }
}

func WithLogTags(tags ...WorkerLogTag) WorkerOption {
	return func(s *WorkerSettings) { s.LogTags = tags }
}

func WithRtcPortRange(min, max uint16) WorkerOption {
	return func(s *WorkerSettings) { s.RTCMinPort, s.RTCMaxPort = min, max }
}

func WithDTLSCertificate(certFile, keyFile string) WorkerOption {
	return func(s *WorkerSettings) { s.DTLSCertificateFile, s.DTLSPrivateKeyFile = certFile, keyFile }
}

func WithWorkerAppData(data H) WorkerOption {
	return func(s *WorkerSettings) { s.AppData = data }
}

// Worker supervises one mediasoup-worker subprocess: its IPC Channel
// and PayloadChannel, and the Routers and WebRtcServers created on it
// (spec.md §4.6).
type Worker struct {
	IEventEmitter

	logger         logr.Logger
	child          *exec.Cmd
	pid            int
	channel        *Channel
	payloadChannel *PayloadChannel
	logTagFilter   []glob.Glob

	closedMu sync.Mutex
	closed   bool
	spawned  bool

	appData H

	routersMu sync.Mutex
	routers   map[string]*Router

	webRtcServersMu sync.Mutex
	webRtcServers   map[string]*WebRtcServer

	observer IEventEmitter
}

// NewWorker spawns a mediasoup-worker subprocess and blocks until it
// reports readiness or fails to start.
func NewWorker(options ...WorkerOption) (*Worker, error) {
	settings := &WorkerSettings{
		LogLevel:   WorkerLogLevel_Error,
		RTCMinPort: 10000,
		RTCMaxPort: 59999,
		AppData:    H{},
	}
	for _, opt := range options {
		opt(settings)
	}

	logger := NewLogger("worker")
	logger.V(1).Info("constructor")

	producerPair, err := createSocketPair()
	if err != nil {
		return nil, err
	}
	consumerPair, err := createSocketPair()
	if err != nil {
		return nil, err
	}
	payloadProducerPair, err := createSocketPair()
	if err != nil {
		return nil, err
	}
	payloadConsumerPair, err := createSocketPair()
	if err != nil {
		return nil, err
	}

	producerConn, err := fileToConn(producerPair[0])
	if err != nil {
		return nil, err
	}
	consumerConn, err := fileToConn(consumerPair[0])
	if err != nil {
		return nil, err
	}
	payloadProducerConn, err := fileToConn(payloadProducerPair[0])
	if err != nil {
		return nil, err
	}
	payloadConsumerConn, err := fileToConn(payloadConsumerPair[0])
	if err != nil {
		return nil, err
	}

	args := settings.args()
	logger.V(1).Info("spawning worker process", "bin", WorkerBin, "args", strings.Join(args, " "))

	child := exec.Command(WorkerBin, args...)
	child.ExtraFiles = []*os.File{
		producerPair[1], consumerPair[1], payloadProducerPair[1], payloadConsumerPair[1],
	}
	child.Env = append(os.Environ(), "MEDIASOUP_VERSION="+workerVersion)

	stderr, err := child.StderrPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := child.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := child.Start(); err != nil {
		return nil, err
	}

	pid := child.Process.Pid
	channel := newChannel(producerConn, consumerConn, pid)
	payloadChannel := newPayloadChannel(payloadProducerConn, payloadConsumerConn)
	workerLogger := NewLogger(fmt.Sprintf("worker[pid:%d]", pid))

	w := &Worker{
		IEventEmitter:  NewEventEmitter(),
		logger:         logger,
		child:          child,
		pid:            pid,
		channel:        channel,
		payloadChannel: payloadChannel,
		logTagFilter:   compileLogTagFilter(settings.LogTags),
		appData:        settings.AppData,
		routers:        map[string]*Router{},
		webRtcServers:  map[string]*WebRtcServer{},
		observer:       NewEventEmitter(),
	}

	go w.ingestLines(workerLogger, "stderr", stderr, true)
	go w.ingestLines(workerLogger, "stdout", stdout, false)

	readyCh := make(chan error, 1)
	channel.Once(strconv.Itoa(pid), func(event string) {
		if event == "running" {
			readyCh <- nil
		}
	})

	go func() {
		err := child.Wait()
		w.onChildExit(err, readyCh)
	}()

	if err := <-readyCh; err != nil {
		return nil, err
	}

	w.closedMu.Lock()
	w.spawned = true
	w.closedMu.Unlock()

	return w, nil
}

func (w *Worker) ingestLines(logger logr.Logger, stream string, r interface{ Read([]byte) (int, error) }, isErr bool) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !w.logLineAllowed(line) {
			continue
		}
		if isErr {
			logger.Error(nil, line, "stream", stream)
		} else {
			logger.V(1).Info(line, "stream", stream)
		}
	}
}

// logLineAllowed reports whether line passes the worker's configured
// LogTags glob filter. No filters configured means everything passes.
func (w *Worker) logLineAllowed(line string) bool {
	if len(w.logTagFilter) == 0 {
		return true
	}
	for _, g := range w.logTagFilter {
		if g.Match(line) {
			return true
		}
	}
	return false
}

func compileLogTagFilter(tags []WorkerLogTag) []glob.Glob {
	globs := make([]glob.Glob, 0, len(tags))
	for _, tag := range tags {
		g, err := glob.Compile("*" + string(tag) + "*")
		if err != nil {
			continue
		}
		globs = append(globs, g)
	}
	return globs
}

func (w *Worker) onChildExit(waitErr error, readyCh chan error) {
	code, signal := 0, ""
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			code = status.ExitStatus()
			if status.Signaled() {
				signal = status.Signal().String()
			} else if status.Stopped() {
				signal = status.StopSignal().String()
			}
		}
	}

	w.closedMu.Lock()
	spawned := w.spawned
	w.child = nil
	w.closedMu.Unlock()

	if !spawned {
		w.logger.Error(nil, "worker process exited before becoming ready", "pid", w.pid, "code", code, "signal", signal)
		select {
		case readyCh <- &merrors.WorkerExited{Pid: w.pid, Code: code}:
		default:
		}
		w.Close()
		return
	}

	w.logger.Error(nil, "worker process died", "pid", w.pid, "code", code, "signal", signal)
	w.Close()
	w.SafeEmit("died", &merrors.WorkerDied{Pid: w.pid, Code: code, Signal: signal})
}

// Pid returns the worker process id.
func (w *Worker) Pid() int { return w.pid }

// Closed reports whether Close has been called.
func (w *Worker) Closed() bool {
	w.closedMu.Lock()
	defer w.closedMu.Unlock()
	return w.closed
}

// Observer returns the event emitter for "newrouter", "newwebrtcserver"
// and "close".
func (w *Worker) Observer() IEventEmitter { return w.observer }

// AppData returns the caller-supplied opaque data this worker was
// constructed with.
func (w *Worker) AppData() H { return w.appData }

// Close terminates the worker subprocess and cascades close to every
// Router and WebRtcServer created on it.
func (w *Worker) Close() {
	w.closedMu.Lock()
	if w.closed {
		w.closedMu.Unlock()
		return
	}
	w.closed = true
	child := w.child
	w.child = nil
	w.closedMu.Unlock()

	w.logger.V(1).Info("close")

	if child != nil && child.Process != nil {
		child.Process.Signal(syscall.SIGTERM)
	}

	w.channel.Close()
	w.payloadChannel.Close()

	w.routersMu.Lock()
	routers := w.routers
	w.routers = map[string]*Router{}
	w.routersMu.Unlock()
	for _, router := range routers {
		router.workerClosed()
	}

	w.webRtcServersMu.Lock()
	servers := w.webRtcServers
	w.webRtcServers = map[string]*WebRtcServer{}
	w.webRtcServersMu.Unlock()
	for _, server := range servers {
		server.workerClosed()
	}

	w.SafeEmit("@close")
	w.observer.SafeEmit("close")
}

// Dump returns the worker's full internal state as raw JSON.
func (w *Worker) Dump() ([]byte, error) {
	w.logger.V(1).Info("dump")
	resp := w.channel.Request("worker.dump", internalData{})
	return resp.Data(), resp.Err()
}

// GetResourceUsage returns getrusage(2)-style process statistics.
func (w *Worker) GetResourceUsage() (WorkerResourceUsage, error) {
	w.logger.V(1).Info("getResourceUsage")
	var usage WorkerResourceUsage
	err := w.channel.Request("worker.getResourceUsage", internalData{}).Unmarshal(&usage)
	return usage, err
}

// GetVersion returns the worker's reported protocol version. NewWorker
// does not query it.
func (w *Worker) GetVersion() (string, error) {
	var version string
	err := w.channel.Request("worker.getVersion", internalData{}).Unmarshal(&version)
	return version, err
}

// checkVersion verifies the worker's reported version is at least
// minWorkerVersion (spec.md §4.6 supplemented "version check").
func (w *Worker) checkVersion() error {
	reported, err := w.GetVersion()
	if err != nil {
		return err
	}
	got, err := hashiversion.NewVersion(reported)
	if err != nil {
		return merrors.NewInvalidState("worker reported unparsable version %q: %v", reported, err)
	}
	min, _ := hashiversion.NewVersion(minWorkerVersion)
	if got.LessThan(min) {
		return merrors.NewInvalidState("worker version %s is older than required minimum %s", reported, minWorkerVersion)
	}
	return nil
}

// UpdateSettings sends newSettings to the live worker and replaces the
// LogTags line filter with newSettings.LogTags. Empty fields are left
// out of the request; no earlier settings are merged in.
func (w *Worker) UpdateSettings(newSettings WorkerUpdateableSettings) error {
	w.logger.V(1).Info("updateSettings")

	merged := WorkerUpdateableSettings{}
	if err := mergo.Merge(&merged, newSettings); err != nil {
		return err
	}

	if err := w.channel.Request("worker.updateSettings", internalData{}, merged).Err(); err != nil {
		return err
	}

	w.logTagFilter = compileLogTagFilter(newSettings.LogTags)
	return nil
}

// CloseRouter tears down one router owned by this worker by id,
// without requiring a handle to the Router value (spec.md §6
// "worker.closeRouter").
func (w *Worker) CloseRouter(routerId string) error {
	w.routersMu.Lock()
	router := w.routers[routerId]
	w.routersMu.Unlock()
	if router == nil {
		return merrors.NewNotFound("router with id %q not found", routerId)
	}
	router.Close()
	return nil
}

// RouterOptions configures a new Router.
type RouterOptions struct {
	MediaCodecs []RtpCodecCapability
	AppData     H
}

// CreateRouter creates a Router on this worker.
func (w *Worker) CreateRouter(options RouterOptions) (*Router, error) {
	w.logger.V(1).Info("createRouter")

	if w.Closed() {
		return nil, merrors.NewInvalidState("worker closed")
	}

	internal := internalData{RouterId: newId()}
	if err := w.channel.Request("worker.createRouter", internal).Err(); err != nil {
		return nil, err
	}

	rtpCapabilities, err := generateRouterRtpCapabilities(options.MediaCodecs)
	if err != nil {
		return nil, err
	}

	router := newRouter(routerOptions{
		internal:        internal,
		rtpCapabilities: rtpCapabilities,
		channel:         w.channel,
		payloadChannel:  w.payloadChannel,
		appData:         options.AppData,
	})

	w.routersMu.Lock()
	w.routers[internal.RouterId] = router
	w.routersMu.Unlock()

	router.On("@close", func() {
		w.routersMu.Lock()
		delete(w.routers, internal.RouterId)
		w.routersMu.Unlock()
	})

	w.observer.SafeEmit("newrouter", router)

	return router, nil
}

// WebRtcServerOptions configures a new WebRtcServer (supplemented
// feature: shared ICE/DTLS listening sockets across WebRtcTransports).
type WebRtcServerOptions struct {
	ListenInfos []WebRtcServerListenInfo
	AppData     H
}

// WebRtcServerListenInfo is one UDP/TCP socket a WebRtcServer binds.
type WebRtcServerListenInfo struct {
	Protocol         string `json:"protocol"`
	Ip               string `json:"ip"`
	AnnouncedIp      string `json:"announcedIp,omitempty"`
	Port             uint16 `json:"port,omitempty"`
}

// CreateWebRtcServer creates a WebRtcServer on this worker.
func (w *Worker) CreateWebRtcServer(options WebRtcServerOptions) (*WebRtcServer, error) {
	w.logger.V(1).Info("createWebRtcServer")

	if w.Closed() {
		return nil, merrors.NewInvalidState("worker closed")
	}
	if len(options.ListenInfos) == 0 {
		return nil, merrors.NewInvalidArgument("missing listenInfos")
	}

	internal := internalData{WebRtcServerId: newId()}
	if err := w.channel.Request("worker.createWebRtcServer", internal, H{
		"listenInfos": options.ListenInfos,
	}).Err(); err != nil {
		return nil, err
	}

	server := newWebRtcServer(webRtcServerOptions{
		internal: internal,
		channel:  w.channel,
		appData:  options.AppData,
	})

	w.webRtcServersMu.Lock()
	w.webRtcServers[internal.WebRtcServerId] = server
	w.webRtcServersMu.Unlock()

	server.On("@close", func() {
		w.webRtcServersMu.Lock()
		delete(w.webRtcServers, internal.WebRtcServerId)
		w.webRtcServersMu.Unlock()
	})

	w.observer.SafeEmit("newwebrtcserver", server)

	return server, nil
}

func createSocketPair() ([2]*os.File, error) {
	var files [2]*os.File
	fds, err := syscall.Socketpair(syscall.AF_LOCAL, syscall.SOCK_STREAM, 0)
	if err != nil {
		return files, err
	}
	files[0] = os.NewFile(uintptr(fds[0]), "")
	files[1] = os.NewFile(uintptr(fds[1]), "")
	return files, nil
}

func fileToConn(file *os.File) (net.Conn, error) {
	defer file.Close()
	return net.FileConn(file)
}
