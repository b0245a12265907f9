package mediasoup

// workerVersion is the mediasoup-worker protocol version this control
// plane speaks. It is exported to spawned workers via the
// MEDIASOUP_VERSION environment variable; it is not compared against
// the worker's `getVersion` reply.
const workerVersion = "3.6.12"

// minWorkerVersion is the oldest worker version checkVersion accepts.
// NewWorker does not call checkVersion, so a worker reporting an older
// version is not rejected at spawn time.
const minWorkerVersion = "3.6.0"
