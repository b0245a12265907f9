package mediasoup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewTestWorker spawns a worker with a debug log level and broad log
// tags, the configuration this package's own integration-style tests
// build on (grounded on itzmanish-mediasoup-go's CreateTestWorker
// helper). Spawning it requires a real mediasoup-worker binary at
// WorkerBin; it is not exercised by the unit tests below.
func NewTestWorker(t *testing.T, options ...WorkerOption) *Worker {
	t.Helper()
	opts := append([]WorkerOption{WithLogLevel("debug"), WithLogTags("info")}, options...)
	worker, err := NewWorker(opts...)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	t.Cleanup(worker.Close)
	return worker
}

func TestCompileLogTagFilterMatchesSubstring(t *testing.T) {
	globs := compileLogTagFilter([]WorkerLogTag{"rtp", "ice"})
	require.Len(t, globs, 2)

	w := &Worker{logTagFilter: globs}
	assert.True(t, w.logLineAllowed("2024 rtp header extension negotiated"))
	assert.True(t, w.logLineAllowed("ice candidate gathered"))
	assert.False(t, w.logLineAllowed("dtls handshake complete"))
}

func TestLogLineAllowedWithNoFilterAllowsEverything(t *testing.T) {
	w := &Worker{}
	assert.True(t, w.logLineAllowed("anything at all"))
}

func TestWorkerSettingsArgsIncludeLogLevelAndTags(t *testing.T) {
	settings := WorkerSettings{LogLevel: "debug", LogTags: []WorkerLogTag{"info", "ice"}}
	args := settings.args()
	assert.Contains(t, args, "--logLevel=debug")
	assert.Contains(t, args, "--logTag=info")
	assert.Contains(t, args, "--logTag=ice")
}

func TestWorkerOptionsMutateSettings(t *testing.T) {
	settings := WorkerSettings{}
	WithLogLevel("warn")(&settings)
	WithLogTags("a", "b")(&settings)
	WithRtcPortRange(10000, 10100)(&settings)
	WithWorkerAppData(H{"foo": "bar"})(&settings)

	assert.Equal(t, WorkerLogLevel("warn"), settings.LogLevel)
	assert.Equal(t, []WorkerLogTag{"a", "b"}, settings.LogTags)
	assert.Equal(t, uint16(10000), settings.RTCMinPort)
	assert.Equal(t, uint16(10100), settings.RTCMaxPort)
	assert.Equal(t, H{"foo": "bar"}, settings.AppData)
}
