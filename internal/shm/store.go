// Package shm implements the process-shareable ring buffer store described
// in the engine's external interface: one fixed-capacity ring per symbol,
// laid out in a single named memory region with a header, a symbol
// directory, and contiguous per-symbol rings. It generalizes the teacher's
// single-struct /dev/shm matrix and ad-hoc ring buffer into the spec's
// multi-symbol, multi-record-size layout.
package shm

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"syscall"
	"unsafe"
)

const (
	magic         = "K4MD"
	layoutVersion = uint16(1)
	headerSize    = 16
	dirEntrySize  = 24 // name[16] + ring_offset u64
	maxSymbolName = 16

	// TornReadRetries bounds how many times ReadLatest/ReadAt re-check the
	// write index after copying a slot before giving up on a lapped read.
	// The spec leaves the exact bound as an implementation choice.
	TornReadRetries = 3
)

var (
	ErrNameInUse         = errors.New("shm: name in use")
	ErrSymbolUnknown     = errors.New("shm: symbol unknown")
	ErrBackendUnavailable = errors.New("shm: backend unavailable")
	ErrTornRead          = errors.New("shm: torn read, consumer lapped by writer")
)

// ring is the in-process view of one symbol's ring buffer: the byte
// offset of its atomic write_idx within Store.data, and its slot region.
type ring struct {
	writeIdxOffset int
	slotsOffset    int
}

// Store is a process-shareable collection of per-symbol ring buffers, all
// of the same record size, addressable by name from unrelated processes
// that mmap the same /dev/shm region.
type Store struct {
	name       string
	recordSize int
	capacity   int
	heapBacked bool

	file *os.File
	data []byte

	rings map[string]ring
}

// Create reserves one ring buffer of the given capacity (must be a power
// of two) per symbol, in a newly-created named region. capacity is the
// number of slots per ring; recordSize is the fixed byte size of one slot
// (e.g. marketdata.BBOSlotSize).
func Create(name string, symbols []string, recordSize, capacity int) (*Store, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("shm: capacity %d must be a power of two", capacity)
	}
	for _, s := range symbols {
		if len(s) > maxSymbolName {
			return nil, fmt.Errorf("shm: symbol %q exceeds %d bytes", s, maxSymbolName)
		}
	}

	dirSize := len(symbols) * dirEntrySize
	ringSize := 8 + capacity*recordSize
	totalSize := headerSize + dirSize + len(symbols)*ringSize

	if !shmAvailable() {
		return createHeapBacked(name, symbols, recordSize, capacity, totalSize, dirSize, ringSize)
	}

	path := "/dev/shm/" + name
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrNameInUse, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrBackendUnavailable, path, err)
	}

	if err := f.Truncate(int64(totalSize)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%w: truncate: %v", ErrBackendUnavailable, err)
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, totalSize, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%w: mmap: %v", ErrBackendUnavailable, err)
	}

	st := &Store{
		name:       name,
		recordSize: recordSize,
		capacity:   capacity,
		file:       f,
		data:       data,
		rings:      make(map[string]ring, len(symbols)),
	}
	st.writeHeaderAndDirectory(symbols, dirSize, ringSize)
	return st, nil
}

func createHeapBacked(name string, symbols []string, recordSize, capacity, totalSize, dirSize, ringSize int) (*Store, error) {
	st := &Store{
		name:       name,
		recordSize: recordSize,
		capacity:   capacity,
		heapBacked: true,
		data:       make([]byte, totalSize),
		rings:      make(map[string]ring, len(symbols)),
	}
	st.writeHeaderAndDirectory(symbols, dirSize, ringSize)
	return st, nil
}

func (s *Store) writeHeaderAndDirectory(symbols []string, dirSize, ringSize int) {
	copy(s.data[0:4], magic)
	putU16(s.data[4:6], layoutVersion)
	putU16(s.data[6:8], uint16(s.recordSize))
	putU32(s.data[8:12], uint32(s.capacity))
	putU32(s.data[12:16], uint32(len(symbols)))

	dirBase := headerSize
	ringsBase := headerSize + dirSize

	for i, sym := range symbols {
		entryOff := dirBase + i*dirEntrySize
		var nameBuf [maxSymbolName]byte
		copy(nameBuf[:], sym)
		copy(s.data[entryOff:entryOff+maxSymbolName], nameBuf[:])
		ringOffset := ringsBase + i*ringSize
		putU64(s.data[entryOff+maxSymbolName:entryOff+dirEntrySize], uint64(ringOffset))

		s.rings[sym] = ring{
			writeIdxOffset: ringOffset,
			slotsOffset:    ringOffset + 8,
		}
	}
}

// shmAvailable reports whether /dev/shm exists on this platform.
func shmAvailable() bool {
	info, err := os.Stat("/dev/shm")
	return err == nil && info.IsDir()
}

// Write copies payload into the next slot for symbol and publishes the
// advanced write index with a release-ordered store. Exactly one caller
// (the owning dedup worker) may call Write for a given symbol.
func (s *Store) Write(symbol string, payload []byte) error {
	r, ok := s.rings[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSymbolUnknown, symbol)
	}
	if len(payload) != s.recordSize {
		return fmt.Errorf("shm: payload size %d does not match record size %d", len(payload), s.recordSize)
	}

	writeIdx := s.loadWriteIdx(r)
	slotIdx := int(writeIdx % uint64(s.capacity))
	slotOff := r.slotsOffset + slotIdx*s.recordSize
	copy(s.data[slotOff:slotOff+s.recordSize], payload)

	s.storeWriteIdx(r, writeIdx+1)
	return nil
}

// ReadLatest returns the most recently written slot for symbol. ok is
// false if nothing has been written yet. A torn read (the writer lapped
// the reader mid-copy) is retried up to TornReadRetries times before
// giving up with ErrTornRead.
func (s *Store) ReadLatest(symbol string) ([]byte, bool, error) {
	r, ok := s.rings[symbol]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrSymbolUnknown, symbol)
	}

	for attempt := 0; attempt <= TornReadRetries; attempt++ {
		before := s.loadWriteIdx(r)
		if before == 0 {
			return nil, false, nil
		}
		idx := before - 1
		slotIdx := int(idx % uint64(s.capacity))
		slotOff := r.slotsOffset + slotIdx*s.recordSize
		out := make([]byte, s.recordSize)
		copy(out, s.data[slotOff:slotOff+s.recordSize])

		after := s.loadWriteIdx(r)
		if after-before <= uint64(s.capacity) {
			return out, true, nil
		}
		// lapped mid-copy; retry
	}
	return nil, false, ErrTornRead
}

// ReadAt returns the slot written at the given absolute index, if it has
// not yet been overwritten by the ring wrapping around.
func (s *Store) ReadAt(symbol string, idx uint64) ([]byte, bool, error) {
	r, ok := s.rings[symbol]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrSymbolUnknown, symbol)
	}

	for attempt := 0; attempt <= TornReadRetries; attempt++ {
		writeIdx := s.loadWriteIdx(r)
		if idx >= writeIdx {
			return nil, false, nil
		}
		if writeIdx-idx > uint64(s.capacity) {
			return nil, false, nil // overwritten
		}
		slotIdx := int(idx % uint64(s.capacity))
		slotOff := r.slotsOffset + slotIdx*s.recordSize
		out := make([]byte, s.recordSize)
		copy(out, s.data[slotOff:slotOff+s.recordSize])

		after := s.loadWriteIdx(r)
		if after-writeIdx <= uint64(s.capacity) {
			return out, true, nil
		}
	}
	return nil, false, ErrTornRead
}

// WriteIndex returns the current write index for a symbol, for tests and
// diagnostics.
func (s *Store) WriteIndex(symbol string) (uint64, error) {
	r, ok := s.rings[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrSymbolUnknown, symbol)
	}
	return s.loadWriteIdx(r), nil
}

// Symbols returns the set of symbols this store has rings for.
func (s *Store) Symbols() []string {
	out := make([]string, 0, len(s.rings))
	for sym := range s.rings {
		out = append(out, sym)
	}
	return out
}

func (s *Store) loadWriteIdx(r ring) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&s.data[r.writeIdxOffset])))
}

func (s *Store) storeWriteIdx(r ring, v uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&s.data[r.writeIdxOffset])), v)
}

// Close unmaps (but does not unlink) the region, leaving it readable by
// any external process that already has it mapped, per the engine's
// default stop() behavior.
func (s *Store) Close() error {
	if s.heapBacked {
		return nil
	}
	err := syscall.Munmap(s.data)
	if s.file != nil {
		s.file.Close()
	}
	return err
}

// Unlink removes the backing /dev/shm file. Only meaningful for mmap'd
// stores; a no-op for the heap-backed fallback.
func (s *Store) Unlink() error {
	if s.heapBacked {
		return nil
	}
	return os.Remove("/dev/shm/" + s.name)
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func putU32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
