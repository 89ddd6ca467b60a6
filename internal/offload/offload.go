// Package offload implements the RSS-only offload manager: it tracks
// two independent views of the RSS setting — an upper edge (what the
// stack believes, set by OID requests from upstream) and a lower edge
// (what the NIC believes, set by XDP clients directly). The two start
// identical; once an XDP client writes the lower edge they diverge, and
// from then on OID requests touching RSS are completed locally instead
// of reaching the NIC.
//
// Grounded on spec §4.9 and, for the upper/lower edge terminology, on
// original_source/src/xdplwf/offloadrss.c (kept as doc comments here,
// not copied code — offloadrss.c's struct layout has no Go analogue).
package offload

import (
	"errors"
	"sync"
)

// RSSSettings is the subset of OID_GEN_RECEIVE_SCALE_PARAMETERS this
// manager tracks: the hash function/type flags and the indirection
// table contents, opaque to everything except equality comparison.
type RSSSettings struct {
	HashType  uint32
	HashFunc  uint32
	IndirTable []uint32
}

func (a RSSSettings) equal(b RSSSettings) bool {
	if a.HashType != b.HashType || a.HashFunc != b.HashFunc {
		return false
	}
	if len(a.IndirTable) != len(b.IndirTable) {
		return false
	}
	for i := range a.IndirTable {
		if a.IndirTable[i] != b.IndirTable[i] {
			return false
		}
	}
	return true
}

func cloneSettings(s RSSSettings) RSSSettings {
	out := RSSSettings{HashType: s.HashType, HashFunc: s.HashFunc}
	if s.IndirTable != nil {
		out.IndirTable = append([]uint32(nil), s.IndirTable...)
	}
	return out
}

// Manager holds the upper/lower RSS edge state for one filter instance.
// The zero value is not usable; construct with New.
type Manager struct {
	mu sync.RWMutex

	upper      RSSSettings
	upperValid bool

	lower      RSSSettings
	lowerValid bool
}

// New creates an empty Manager: neither edge has been set yet, so
// every OID still passes through (there is nothing to diverge from).
func New() *Manager {
	return &Manager{}
}

// Diverged reports whether the lower edge has been set independently
// of the upper edge (§4.9: "when the lower edge is independent, OIDs
// from upstream are completed locally").
func (m *Manager) Diverged() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.diverged()
}

func (m *Manager) diverged() bool {
	if !m.lowerValid {
		return false
	}
	if !m.upperValid {
		return true
	}
	return !m.upper.equal(m.lower)
}

// SetUpper records the stack's view of the RSS setting, as delivered
// by an OID_GEN_RECEIVE_SCALE_PARAMETERS set request. If the lower
// edge has never been independently set, this also becomes the NIC's
// effective setting.
func (m *Manager) SetUpper(s RSSSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upper = cloneSettings(s)
	m.upperValid = true
	if !m.lowerValid {
		m.lower = cloneSettings(s)
	}
}

// SetLower records an XDP client's direct RSS configuration of the
// NIC, independent of whatever the stack believes. This is what can
// cause the two edges to diverge.
func (m *Manager) SetLower(s RSSSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lower = cloneSettings(s)
	m.lowerValid = true
}

// Upper returns the current upper-edge setting and whether one has
// ever been set.
func (m *Manager) Upper() (RSSSettings, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneSettings(m.upper), m.upperValid
}

// Lower returns the current lower-edge (NIC) setting and whether one
// has ever been set.
func (m *Manager) Lower() (RSSSettings, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneSettings(m.lower), m.lowerValid
}

// QueryUpper answers an OID_GEN_RECEIVE_SCALE_PARAMETERS query: always
// the upper edge, since that's what the stack asked the NIC to
// remember regardless of divergence.
func (m *Manager) QueryUpper() (RSSSettings, bool) {
	return m.Upper()
}

// ApplyUpperSet decides how to handle an OID_GEN_RECEIVE_SCALE_PARAMETERS
// set request from upstream: passThrough=true means the caller should
// forward it to the NIC (the edges are not diverged, or there's no
// lower edge yet); passThrough=false means it was completed locally
// (the lower edge stands) and the caller must not touch the NIC.
func (m *Manager) ApplyUpperSet(s RSSSettings) (passThrough bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasDiverged := m.diverged()
	m.upper = cloneSettings(s)
	m.upperValid = true
	if wasDiverged {
		return false
	}
	m.lower = cloneSettings(s)
	m.lowerValid = true
	return true
}

// ClearHashOOB reports whether NBL ingress should clear the hash OOB
// fields to avoid mis-steering the upstream stack, per §4.9's "minimum
// correct transform" when the lower edge has diverged from the upper.
func (m *Manager) ClearHashOOB() bool {
	return m.Diverged()
}

// ErrNotSupported is returned by ProbeQEO: this rewrite has no QUIC
// Encryption Offload datapath (the original's offloadqeo.c translates
// XDP_QUIC_CONNECTION add/remove requests into an NDIS OID and submits
// them to a miniport; there is no miniport here to submit to).
var ErrNotSupported = errors.New("offload: QEO is not supported")

// ProbeQEO answers a QUIC Encryption Offload capability probe. Per the
// "treat as host-capability probe; do not guess future behavior"
// guidance, this unconditionally reports unsupported rather than
// fabricating a success path — callers should treat it exactly like a
// host that never advertises the OID.
func ProbeQEO() error {
	return ErrNotSupported
}
