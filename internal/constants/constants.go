// Package constants holds default and bounded configuration values shared
// across the datapath. Values here are the compiled-in defaults; they are
// overridden by internal/config at runtime (registry/file/env layers).
package constants

import "time"

// Queue and ring defaults.
const (
	// DefaultQueueDepth is the default descriptor count per ring (must be a
	// power of two; non-power-of-two requests are rounded up).
	DefaultQueueDepth = 128

	// DefaultChunkSize is the default UMEM frame size in bytes.
	DefaultChunkSize = 2048

	// DefaultMaxIOSize bounds a single frame's payload.
	DefaultMaxIOSize = 1 << 16

	// AutoAssignQueueCount asks the filter to size queues from
	// runtime.NumCPU().
	AutoAssignQueueCount = -1
)

// Registry DWORD values (spec §6.3), with their defaults and caps.
const (
	// GenericDelayDetachTimeoutSecDefault is the default delay-detach timer
	// duration before a datapath bypass is actually torn down.
	GenericDelayDetachTimeoutSecDefault = 300

	// GenericRxFwdBufferLimitDefault/Cap bound the per-RX-queue TX-clone
	// free cache (spec §5 "Shared-resource policy").
	GenericRxFwdBufferLimitDefault = 256
	GenericRxFwdBufferLimitCap     = 4096

	// GenericTxFrameCountDefault/Cap bound the TX queue's pre-allocated
	// frame-handle free list.
	GenericTxFrameCountDefault = 32
	GenericTxFrameCountCap     = 8096

	// XdpFaultInjectDefault is off; debug-only boolean loaded into
	// config.Values.FaultInject. No datapath code reads that field, so it
	// forces no rare paths.
	XdpFaultInjectDefault = false
)

// Attach/detach timing.
const (
	// DatapathReadyTimeout bounds attach_datapath's wait on the ready event
	// (spec §4.5: "≤ 1 second", soft timeout — see internal/bypass).
	DatapathReadyTimeout = 1 * time.Second

	// ConfigPollInterval is how often the registry watcher's polling
	// fallback re-checks the backing file when push notification is
	// unavailable (spec §2 row E).
	ConfigPollInterval = 200 * time.Millisecond
)

// Classifier scratch sizing (spec §3, §4.6).
const (
	// FragmentLimit bounds the number of descriptors gathered into the
	// linearization scratch buffer before a frame is treated as malformed.
	FragmentLimit = 64

	// QUICMaxCIDLength mirrors XDP_QUIC_MAX_CID_LENGTH from the original.
	QUICMaxCIDLength = 20

	// TCPMaxOptionsLength is the extra TCP header capture beyond the fixed
	// 20-byte header.
	TCPMaxOptionsLength = 40

	// UDPPortSetBytes is the size of a port-bitmap rule pattern (8192
	// bytes == 65536 bits, one per possible port).
	UDPPortSetBytes = 8192
)

// Poll quantum bound (spec §4.1 "quantum").
const PollQuantumIterations = 8
