// Package classify implements the packet classifier: a lazy Ethernet/
// IPv4/IPv6/UDP/TCP/QUIC header parser plus an ordered rule-list matcher.
//
// Grounded on the teacher's internal/queue state-machine style (plain
// structs with explicit Reset/validate helpers, no hidden globals) and
// on original_source/lwf/dispatch.c / src/xdplwf/generic.h for parsing
// semantics (IHL validation, QUIC long/short header CID extraction).
package classify

import (
	"encoding/binary"
	"errors"

	"github.com/xdpgeneric/xdpgeneric/internal/constants"
)

// Action is the outcome of a rule match.
type Action int

const (
	ActionPass Action = iota
	ActionDrop
	ActionRedirect
	ActionL2Fwd
	ActionEbpf
)

func (a Action) String() string {
	switch a {
	case ActionPass:
		return "PASS"
	case ActionDrop:
		return "DROP"
	case ActionRedirect:
		return "REDIRECT"
	case ActionL2Fwd:
		return "L2FWD"
	case ActionEbpf:
		return "EBPF"
	default:
		return "UNKNOWN"
	}
}

// RuleKind enumerates every supported match kind (spec §4.6).
type RuleKind int

const (
	RuleAll RuleKind = iota
	RuleUDP
	RuleUDPDst
	RuleIPv4DstMask
	RuleIPv6DstMask
	RuleQUICFlowSrcCID
	RuleQUICFlowDstCID
	RuleIPv4UDPTuple
	RuleIPv6UDPTuple
	RuleUDPPortSet
	RuleIPv4UDPPortSet
	RuleIPv6UDPPortSet
	RuleIPv4TCPPortSet
	RuleIPv6TCPPortSet
	RuleTCPDst
	RuleTCPQUICFlowSrcCID
	RuleTCPQUICFlowDstCID
	RuleTCPControlDst
)

// Rule is a single (match-kind, pattern, action) entry in the ordered
// rule list evaluated by Inspect.
type Rule struct {
	Kind   RuleKind
	Action Action

	// REDIRECT target: an AF_XDP socket file descriptor.
	RedirectFD int

	// UDP_DST / TCP_DST / TCP_CONTROL_DST / *_PORT_SET destination port.
	Port uint16 // host byte order, compared with the decoded header port

	// IPv{4,6}_DST_MASK / *_PORT_SET destination address match.
	Addr4 [4]byte
	Addr6 [16]byte
	Mask4 [4]byte
	Mask6 [16]byte
	IsV6  bool

	// IPv{4,6}_UDP_TUPLE 4-tuple match.
	TupleSrcAddr4 [4]byte
	TupleDstAddr4 [4]byte
	TupleSrcAddr6 [16]byte
	TupleDstAddr6 [16]byte
	TupleSrcPort  uint16
	TupleDstPort  uint16

	// QUIC_FLOW_* fields.
	CIDOffset int
	CIDLength int
	CIDBytes  [constants.QUICMaxCIDLength]byte

	// UDP_PORT_SET / IPV{4,6}_{UDP,TCP}_PORT_SET bitmap, one bit per
	// possible destination port (spec: 8192 bytes == 65536 bits).
	PortSet []byte
}

// ErrValidation is returned by Validate for malformed or contradictory
// rule lists (e.g. EBPF mixed with other rules).
var ErrValidation = errors.New("classify: invalid rule list")

// Validate enforces "EBPF is the sole unconditional rule" (spec §4.6).
func Validate(rules []Rule) error {
	for i, r := range rules {
		if r.Action == ActionEbpf && len(rules) != 1 {
			_ = i
			return ErrValidation
		}
	}
	return nil
}

// bitSet tests bit n (big-endian port value) in an 8192-byte port-set
// bitmap, one bit per possible destination port.
func bitSet(set []byte, port uint16) bool {
	if len(set) < constants.UDPPortSetBytes {
		return false
	}
	idx := port / 8
	bit := port % 8
	return set[idx]&(1<<bit) != 0
}

// Frame is the parsed, frame-scoped view the classifier operates over:
// a contiguous linearized buffer (the RX engine is responsible for
// gathering fragments before calling Inspect) plus a lazily-populated
// parse cache.
type Frame struct {
	Data []byte

	cache parseCache
}

type parseCache struct {
	ethValid, ethCached   bool
	ipv4Valid, ipv4Cached bool
	ipv6Valid, ipv6Cached bool
	udpValid, udpCached   bool
	tcpValid, tcpCached   bool
	quicValid, quicCached bool

	ethType uint16

	l3Off int // offset of IPv4/IPv6 header
	l4Off int // offset of UDP/TCP header
	l4Len int

	isV6 bool

	srcIP4, dstIP4 [4]byte
	srcIP6, dstIP6 [16]byte

	srcPort, dstPort uint16
	tcpFlags         uint8

	quicLongHeader bool
	quicCID        [constants.QUICMaxCIDLength]byte
	quicCIDLen     int
}

const (
	ethHeaderLen  = 14
	ipv4HeaderLen = 20
	ipv6HeaderLen = 40
	udpHeaderLen  = 8
	tcpHeaderLen  = 20

	ethTypeIPv4 = 0x0800
	ethTypeIPv6 = 0x86DD

	protoUDP = 17
	protoTCP = 6
)

// NewFrame wraps a (caller-linearized) buffer for classification.
func NewFrame(data []byte) *Frame {
	return &Frame{Data: data}
}

func (f *Frame) parseEth() bool {
	if f.cache.ethCached {
		return f.cache.ethValid
	}
	f.cache.ethCached = true
	if len(f.Data) < ethHeaderLen {
		return false
	}
	f.cache.ethType = binary.BigEndian.Uint16(f.Data[12:14])
	f.cache.ethValid = true
	return true
}

// parseL3 determines IPv4 vs IPv6 and records header bounds. Per spec:
// "Ethernet type {IPv4, IPv6}; otherwise PASS (no L3 parse)." and IHL
// must equal the fixed 20-byte header or the parse is rejected.
func (f *Frame) parseL3() bool {
	if !f.parseEth() {
		return false
	}
	switch f.cache.ethType {
	case ethTypeIPv4:
		return f.parseIPv4()
	case ethTypeIPv6:
		return f.parseIPv6()
	default:
		return false
	}
}

func (f *Frame) parseIPv4() bool {
	if f.cache.ipv4Cached {
		return f.cache.ipv4Valid
	}
	f.cache.ipv4Cached = true
	buf := f.Data
	if len(buf) < ethHeaderLen+ipv4HeaderLen {
		return false
	}
	hdr := buf[ethHeaderLen:]
	ihl := int(hdr[0]&0x0F) << 2
	if ihl != ipv4HeaderLen {
		// options present: reject the parse (valid=false) per spec.
		return false
	}
	copy(f.cache.srcIP4[:], hdr[12:16])
	copy(f.cache.dstIP4[:], hdr[16:20])
	f.cache.l3Off = ethHeaderLen
	f.cache.l4Off = ethHeaderLen + ipv4HeaderLen
	f.cache.isV6 = false
	f.cache.ipv4Valid = true

	proto := hdr[9]
	switch proto {
	case protoUDP:
		f.parseUDP()
	case protoTCP:
		f.parseTCP()
	}
	return true
}

func (f *Frame) parseIPv6() bool {
	if f.cache.ipv6Cached {
		return f.cache.ipv6Valid
	}
	f.cache.ipv6Cached = true
	buf := f.Data
	if len(buf) < ethHeaderLen+ipv6HeaderLen {
		return false
	}
	hdr := buf[ethHeaderLen:]
	copy(f.cache.srcIP6[:], hdr[8:24])
	copy(f.cache.dstIP6[:], hdr[24:40])
	f.cache.l3Off = ethHeaderLen
	f.cache.l4Off = ethHeaderLen + ipv6HeaderLen
	f.cache.isV6 = true
	f.cache.ipv6Valid = true

	nextHdr := hdr[6]
	switch nextHdr {
	case protoUDP:
		f.parseUDP()
	case protoTCP:
		f.parseTCP()
	}
	return true
}

func (f *Frame) parseUDP() bool {
	if f.cache.udpCached {
		return f.cache.udpValid
	}
	f.cache.udpCached = true
	off := f.cache.l4Off
	if len(f.Data) < off+udpHeaderLen {
		return false
	}
	hdr := f.Data[off:]
	f.cache.srcPort = binary.BigEndian.Uint16(hdr[0:2])
	f.cache.dstPort = binary.BigEndian.Uint16(hdr[2:4])
	f.cache.l4Len = udpHeaderLen
	f.cache.udpValid = true
	f.parseQUIC(off + udpHeaderLen)
	return true
}

func (f *Frame) parseTCP() bool {
	if f.cache.tcpCached {
		return f.cache.tcpValid
	}
	f.cache.tcpCached = true
	off := f.cache.l4Off
	if len(f.Data) < off+tcpHeaderLen {
		return false
	}
	hdr := f.Data[off:]
	thLen := int(hdr[12]>>4) << 2
	if thLen < tcpHeaderLen {
		return false
	}
	f.cache.srcPort = binary.BigEndian.Uint16(hdr[0:2])
	f.cache.dstPort = binary.BigEndian.Uint16(hdr[2:4])
	f.cache.tcpFlags = hdr[13]

	optLen := thLen - tcpHeaderLen
	if optLen > constants.TCPMaxOptionsLength {
		optLen = constants.TCPMaxOptionsLength
	}
	total := tcpHeaderLen
	if len(f.Data) >= off+tcpHeaderLen+optLen {
		total += optLen
	}
	f.cache.l4Len = total
	f.cache.tcpValid = true
	f.parseQUIC(off + thLen)
	return true
}

// parseQUIC distinguishes long/short header by the high bit of the
// first byte, then extracts the destination CID per spec §4.6.
func (f *Frame) parseQUIC(off int) {
	if f.cache.quicCached {
		return
	}
	f.cache.quicCached = true
	if off >= len(f.Data) {
		return
	}
	first := f.Data[off]
	long := first&0x80 != 0
	f.cache.quicLongHeader = long

	if long {
		// fixed long-header prefix (flags byte + 4-byte version) is
		// 5 bytes; the dest-CID length byte follows immediately.
		const fixedLongHdr = 5
		if off+fixedLongHdr >= len(f.Data) {
			return
		}
		cidLen := int(f.Data[off+fixedLongHdr])
		if cidLen > constants.QUICMaxCIDLength {
			cidLen = constants.QUICMaxCIDLength
		}
		cidStart := off + fixedLongHdr + 1
		if cidStart+cidLen > len(f.Data) {
			cidLen = len(f.Data) - cidStart
			if cidLen < 0 {
				cidLen = 0
			}
		}
		copy(f.cache.quicCID[:], f.Data[cidStart:cidStart+cidLen])
		f.cache.quicCIDLen = cidLen
		f.cache.quicValid = true
		return
	}

	// short header: CID is the trailing bytes up to the max CID length.
	cidStart := off + 1
	if cidStart >= len(f.Data) {
		return
	}
	cidLen := len(f.Data) - cidStart
	if cidLen > constants.QUICMaxCIDLength {
		cidLen = constants.QUICMaxCIDLength
	}
	copy(f.cache.quicCID[:], f.Data[cidStart:cidStart+cidLen])
	f.cache.quicCIDLen = cidLen
	f.cache.quicValid = true
}

// Match evaluates a single rule against the frame's lazily-parsed
// headers (spec §4.6 rule semantics).
func (f *Frame) Match(r *Rule) bool {
	switch r.Kind {
	case RuleAll:
		return true

	case RuleUDP:
		return f.parseL3() && f.cache.udpValid

	case RuleUDPDst:
		return f.parseL3() && f.cache.udpValid && f.cache.dstPort == r.Port

	case RuleIPv4DstMask:
		if !f.parseL3() || f.cache.isV6 {
			return false
		}
		return maskedEqual4(f.cache.dstIP4, r.Mask4, r.Addr4)

	case RuleIPv6DstMask:
		if !f.parseL3() || !f.cache.isV6 {
			return false
		}
		return maskedEqual6(f.cache.dstIP6, r.Mask6, r.Addr6)

	case RuleQUICFlowSrcCID:
		return f.matchQUICFlow(r, true, false)
	case RuleQUICFlowDstCID:
		return f.matchQUICFlow(r, false, false)
	case RuleTCPQUICFlowSrcCID:
		return f.matchQUICFlow(r, true, true)
	case RuleTCPQUICFlowDstCID:
		return f.matchQUICFlow(r, false, true)

	case RuleIPv4UDPTuple:
		if !f.parseL3() || f.cache.isV6 || !f.cache.udpValid {
			return false
		}
		return f.cache.srcIP4 == r.TupleSrcAddr4 && f.cache.dstIP4 == r.TupleDstAddr4 &&
			f.cache.srcPort == r.TupleSrcPort && f.cache.dstPort == r.TupleDstPort

	case RuleIPv6UDPTuple:
		if !f.parseL3() || !f.cache.isV6 || !f.cache.udpValid {
			return false
		}
		return f.cache.srcIP6 == r.TupleSrcAddr6 && f.cache.dstIP6 == r.TupleDstAddr6 &&
			f.cache.srcPort == r.TupleSrcPort && f.cache.dstPort == r.TupleDstPort

	case RuleUDPPortSet:
		return f.parseL3() && f.cache.udpValid && bitSet(r.PortSet, f.cache.dstPort)

	case RuleIPv4UDPPortSet:
		if !f.parseL3() || f.cache.isV6 || !f.cache.udpValid {
			return false
		}
		return f.cache.dstIP4 == r.Addr4 && bitSet(r.PortSet, f.cache.dstPort)

	case RuleIPv6UDPPortSet:
		if !f.parseL3() || !f.cache.isV6 || !f.cache.udpValid {
			return false
		}
		return f.cache.dstIP6 == r.Addr6 && bitSet(r.PortSet, f.cache.dstPort)

	case RuleIPv4TCPPortSet:
		if !f.parseL3() || f.cache.isV6 || !f.cache.tcpValid {
			return false
		}
		return f.cache.dstIP4 == r.Addr4 && bitSet(r.PortSet, f.cache.dstPort)

	case RuleIPv6TCPPortSet:
		if !f.parseL3() || !f.cache.isV6 || !f.cache.tcpValid {
			return false
		}
		return f.cache.dstIP6 == r.Addr6 && bitSet(r.PortSet, f.cache.dstPort)

	case RuleTCPDst:
		return f.parseL3() && f.cache.tcpValid && f.cache.dstPort == r.Port

	case RuleTCPControlDst:
		const synFinRst = 0x02 | 0x01 | 0x04
		return f.parseL3() && f.cache.tcpValid && f.cache.dstPort == r.Port &&
			f.cache.tcpFlags&synFinRst != 0

	default:
		return false
	}
}

func (f *Frame) matchQUICFlow(r *Rule, wantLong bool, tcp bool) bool {
	if !f.parseL3() {
		return false
	}
	if tcp {
		if !f.cache.tcpValid || f.cache.dstPort != r.Port {
			return false
		}
	} else {
		if !f.cache.udpValid || f.cache.dstPort != r.Port {
			return false
		}
	}
	if !f.cache.quicValid || f.cache.quicLongHeader != wantLong {
		return false
	}
	if r.CIDOffset+r.CIDLength > constants.QUICMaxCIDLength {
		return false
	}
	if r.CIDOffset+r.CIDLength > f.cache.quicCIDLen {
		return false
	}
	for i := 0; i < r.CIDLength; i++ {
		if f.cache.quicCID[r.CIDOffset+i] != r.CIDBytes[i] {
			return false
		}
	}
	return true
}

func maskedEqual4(addr, mask, pattern [4]byte) bool {
	for i := 0; i < 4; i++ {
		if addr[i]&mask[i] != pattern[i] {
			return false
		}
	}
	return true
}

func maskedEqual6(addr, mask, pattern [16]byte) bool {
	for i := 0; i < 16; i++ {
		if addr[i]&mask[i] != pattern[i] {
			return false
		}
	}
	return true
}

// Inspect walks the rule list in order and returns the first match's
// action, or ActionPass if nothing matches (spec §4.6 "default action
// is PASS").
func Inspect(frame *Frame, rules []Rule) (Action, *Rule) {
	for i := range rules {
		if frame.Match(&rules[i]) {
			return rules[i].Action, &rules[i]
		}
	}
	return ActionPass, nil
}
