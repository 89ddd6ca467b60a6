// Package afxdp implements internal/nic.Driver over a real AF_XDP
// socket: UMEM registration, the four kernel rings (fill, RX,
// completion, TX) mmap'd and reinterpreted as internal/ring.Ring
// instances, and descriptor-to-bytes resolution against the UMEM
// region.
//
// Grounded on the teacher's internal/queue/runner.go mmapQueues/
// char-device-open pattern: open, configure, mmap, retry-on-transient-
// error, translated from ublk's "wait for udev to create /dev/ublkcN"
// loop to AF_XDP's "wait for the interface to be administratively up"
// loop (both poll a transient ENOENT/ENODEV condition with a bounded
// retry count and a short sleep between attempts).
package afxdp

import (
	"fmt"
	"net"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/xdpgeneric/xdpgeneric/internal/ring"
)

// Config configures one queue's AF_XDP socket.
type Config struct {
	// Interface is the network interface name (e.g. "eth0").
	Interface string
	// QueueID is the NIC hardware queue this socket binds to.
	QueueID int
	// FrameSize is the UMEM chunk size in bytes; must be a power of
	// two (2048 or 4096 are typical).
	FrameSize uint32
	// FrameCount is the number of UMEM chunks to register.
	FrameCount uint32
	// RingSize is the depth of each of the four kernel rings; must be
	// a power of two.
	RingSize uint32
}

func (c Config) validate() error {
	if c.Interface == "" {
		return fmt.Errorf("afxdp: interface name is required")
	}
	if c.FrameSize == 0 || c.FrameSize&(c.FrameSize-1) != 0 {
		return fmt.Errorf("afxdp: frame size must be a nonzero power of two, got %d", c.FrameSize)
	}
	if c.FrameCount == 0 {
		return fmt.Errorf("afxdp: frame count must be nonzero")
	}
	if c.RingSize == 0 || c.RingSize&(c.RingSize-1) != 0 {
		return fmt.Errorf("afxdp: ring size must be a nonzero power of two, got %d", c.RingSize)
	}
	return nil
}

// maxBindRetries/bindRetryDelay bound the wait for the target
// interface to come administratively up, mirroring the teacher's
// 50*100ms = 5s budget for udev to create the ublk char device.
const (
	maxBindRetries = 50
	bindRetryDelay = 100 * time.Millisecond
)

// Socket is one queue's AF_XDP binding: a single socket fd, its UMEM
// region, and the four kernel rings reinterpreted as
// internal/ring.Ring instances via Mmap.
type Socket struct {
	cfg Config
	fd  int

	umem []byte // mmap'd UMEM region, cfg.FrameCount*cfg.FrameSize bytes

	fill *ring.Ring // producer: userspace gives empty frames to the NIC
	rx   *ring.Ring // consumer: NIC gives filled frames to userspace
	tx   *ring.Ring // producer: userspace gives frames to transmit
	comp *ring.Ring // consumer: NIC returns completed TX frames
}

// Open creates and binds an AF_XDP socket for cfg, registering a UMEM
// and the four kernel rings. Retries socket bind up to maxBindRetries
// times on ENODEV (interface not yet administratively up), matching
// the teacher's retry-on-transient-error texture.
func Open(cfg Config) (*Socket, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_XDP, unix.SOCK_RAW, 0)
	if err != nil {
		return nil, fmt.Errorf("afxdp: socket: %w", err)
	}

	s := &Socket{cfg: cfg, fd: fd}
	if err := s.registerUMEM(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := s.mmapRings(); err != nil {
		s.unmapAll()
		unix.Close(fd)
		return nil, err
	}
	if err := s.bindWithRetry(); err != nil {
		s.unmapAll()
		unix.Close(fd)
		return nil, err
	}
	return s, nil
}

func (s *Socket) registerUMEM() error {
	umemSize := int(s.cfg.FrameCount) * int(s.cfg.FrameSize)
	mem, err := unix.Mmap(-1, 0, umemSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return fmt.Errorf("afxdp: allocate UMEM: %w", err)
	}
	s.umem = mem

	reg := unix.XDPUmemReg{
		Addr:     uint64(uintptr(unsafe.Pointer(&mem[0]))),
		Len:      uint64(umemSize),
		Size:     s.cfg.FrameSize,
		Headroom: 0,
	}
	if err := unix.SetsockoptXDPUmemReg(s.fd, unix.SOL_XDP, unix.XDP_UMEM_REG, &reg); err != nil {
		return fmt.Errorf("afxdp: XDP_UMEM_REG: %w", err)
	}

	ringSize := int(s.cfg.RingSize)
	if err := unix.SetsockoptInt(s.fd, unix.SOL_XDP, unix.XDP_UMEM_FILL_RING, ringSize); err != nil {
		return fmt.Errorf("afxdp: XDP_UMEM_FILL_RING: %w", err)
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_XDP, unix.XDP_UMEM_COMPLETION_RING, ringSize); err != nil {
		return fmt.Errorf("afxdp: XDP_UMEM_COMPLETION_RING: %w", err)
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_XDP, unix.XDP_RX_RING, ringSize); err != nil {
		return fmt.Errorf("afxdp: XDP_RX_RING: %w", err)
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_XDP, unix.XDP_TX_RING, ringSize); err != nil {
		return fmt.Errorf("afxdp: XDP_TX_RING: %w", err)
	}
	return nil
}

func (s *Socket) mmapRings() error {
	offsets, err := unix.GetsockoptXDPMmapOffsets(s.fd, unix.SOL_XDP, unix.XDP_MMAP_OFFSETS)
	if err != nil {
		return fmt.Errorf("afxdp: XDP_MMAP_OFFSETS: %w", err)
	}

	n := int(s.cfg.RingSize)
	descSize := int(unsafe.Sizeof(ring.Descriptor{}))

	fillMem, err := unix.Mmap(s.fd, unix.XDP_UMEM_PGOFF_FILL_RING, int(offsets.Fr.Desc)+n*descSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return fmt.Errorf("afxdp: mmap fill ring: %w", err)
	}
	s.fill = ring.Mmap(descriptorsFrom(fillMem, offsets.Fr.Desc, n))

	compMem, err := unix.Mmap(s.fd, unix.XDP_UMEM_PGOFF_COMPLETION_RING, int(offsets.Cr.Desc)+n*descSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return fmt.Errorf("afxdp: mmap completion ring: %w", err)
	}
	s.comp = ring.Mmap(descriptorsFrom(compMem, offsets.Cr.Desc, n))

	rxMem, err := unix.Mmap(s.fd, unix.XDP_PGOFF_RX_RING, int(offsets.Rx.Desc)+n*descSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return fmt.Errorf("afxdp: mmap rx ring: %w", err)
	}
	s.rx = ring.Mmap(descriptorsFrom(rxMem, offsets.Rx.Desc, n))

	txMem, err := unix.Mmap(s.fd, unix.XDP_PGOFF_TX_RING, int(offsets.Tx.Desc)+n*descSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return fmt.Errorf("afxdp: mmap tx ring: %w", err)
	}
	s.tx = ring.Mmap(descriptorsFrom(txMem, offsets.Tx.Desc, n))

	return nil
}

// descriptorsFrom reinterprets the mmap'd ring region starting at the
// kernel-reported descriptor-array offset as a []ring.Descriptor of
// length n, matching this project's own bit-exact ring.Descriptor
// layout (spec §6.2) directly onto the mmap'd memory.
func descriptorsFrom(mem []byte, descOffset uint64, n int) []ring.Descriptor {
	base := unsafe.Pointer(&mem[descOffset])
	return unsafe.Slice((*ring.Descriptor)(base), n)
}

func (s *Socket) bindWithRetry() error {
	var lastErr error
	for i := 0; i < maxBindRetries; i++ {
		ifi, err := net.InterfaceByName(s.cfg.Interface)
		if err != nil {
			lastErr = err
			time.Sleep(bindRetryDelay)
			continue
		}

		sa := &unix.SockaddrXDP{
			Flags:   0,
			Ifindex: uint32(ifi.Index),
			QueueID: uint32(s.cfg.QueueID),
		}
		if err := unix.Bind(s.fd, sa); err == nil {
			return nil
		} else if err != unix.ENODEV && err != unix.ENETDOWN {
			return fmt.Errorf("afxdp: bind: %w", err)
		} else {
			lastErr = err
		}
		time.Sleep(bindRetryDelay)
	}
	return fmt.Errorf("afxdp: interface %s did not come up: %w", s.cfg.Interface, lastErr)
}

// Bytes resolves a UMEM descriptor to its backing bytes. Implements
// internal/rx.Memory.
func (s *Socket) Bytes(addr uint64, length uint32) []byte {
	end := addr + uint64(length)
	if end > uint64(len(s.umem)) {
		end = uint64(len(s.umem))
	}
	if addr >= end {
		return nil
	}
	return s.umem[addr:end]
}

// Release returns a descriptor's frame to the fill ring. Implements
// internal/rx.Releaser.
func (s *Socket) Release(d ring.Descriptor) {
	_ = s.fill.Push(d)
}

// Redirect ignores fd and pushes the descriptor onto this socket's own
// TX ring; it does not reach another socket. A real kernel AF_XDP
// redirect is mediated by an eBPF XSKMAP, which this package does not
// load, so this method only satisfies internal/rx.Redirector's shape
// and exercises the descriptor bookkeeping side.
func (s *Socket) Redirect(d ring.Descriptor, fd int) error {
	_ = fd
	return s.tx.Push(d)
}

// Send transmits a descriptor by pushing it onto the TX ring and
// poking the kernel if the ring's NEED_POKE flag is set. Implements
// internal/tx.Driver.
func (s *Socket) Send(d ring.Descriptor) error {
	if err := s.tx.Push(d); err != nil {
		return err
	}
	if s.tx.NeedsPoke() {
		if err := unix.Sendto(s.fd, nil, unix.MSG_DONTWAIT, nil); err != nil &&
			err != unix.EAGAIN && err != unix.EBUSY {
			return fmt.Errorf("afxdp: sendto poke: %w", err)
		}
	}
	return nil
}

// Close unmaps the UMEM and ring regions and closes the socket.
func (s *Socket) Close() error {
	s.unmapAll()
	return unix.Close(s.fd)
}

func (s *Socket) unmapAll() {
	if s.umem != nil {
		_ = unix.Munmap(s.umem)
		s.umem = nil
	}
}
