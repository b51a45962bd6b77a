package bufferpool

import (
	"fmt"
	"sync"

	"github.com/vortexaudio/graphd/errors"
	"github.com/vortexaudio/graphd/pkg/buffer"
)

// typeSegment is the per-type shared segment and its free list.
type typeSegment struct {
	mu sync.Mutex // distinct from the graph lock, per spec §4.1

	id       int
	name     string
	policy   SizePolicy
	primary  bool
	nports   int
	bufSize  int
	segment  []byte
	freeList buffer.Buffer[int]

	hasSilent  bool
	silentSlot int
}

func (s *typeSegment) segmentName() string {
	return fmt.Sprintf("/graphd-[%s]", s.name)
}

// rebuild resizes the segment to nports buffers of size bufSize and
// repopulates the free list in ascending offset order. For the primary
// type, slot 0 is carved out as the permanent silent buffer and never
// re-enters the free list.
func (s *typeSegment) rebuild(nports, bufSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nports = nports
	s.bufSize = bufSize
	s.segment = make([]byte, nports*bufSize) // zero-filled by make

	freeList, err := buffer.NewCircularBuffer[int](nports, buffer.WithOverflowPolicy[int](buffer.DropNewest))
	if err != nil {
		return errors.WrapFatal(err, "bufferpool", "rebuild", "allocate free list")
	}
	s.freeList = freeList

	start := 0
	if s.primary {
		s.hasSilent = true
		s.silentSlot = 0
		start = 1
	}
	for i := start; i < nports; i++ {
		if werr := s.freeList.Write(i); werr != nil {
			return errors.WrapFatal(werr, "bufferpool", "rebuild", "seed free list")
		}
	}
	return nil
}

func (s *typeSegment) slotOffset(index int) int {
	return index * s.bufSize
}

func (s *typeSegment) allocate() (Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.freeList.Read()
	if !ok {
		return Slot{}, errors.WrapInvalid(errors.ErrNoFreePortSlot, "bufferpool", "allocate",
			fmt.Sprintf("type %s exhausted", s.name))
	}
	return Slot{TypeID: s.id, Index: idx, Offset: s.slotOffset(idx), Size: s.bufSize}, nil
}

func (s *typeSegment) release(slot Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot.Index == s.silentSlot && s.hasSilent {
		return errors.WrapInvalid(errors.ErrPortLocked, "bufferpool", "release", "cannot release the silent buffer")
	}
	return s.freeList.Write(slot.Index)
}

func (s *typeSegment) silentBuffer() (Slot, bool) {
	if !s.hasSilent {
		return Slot{}, false
	}
	return Slot{TypeID: s.id, Index: s.silentSlot, Offset: s.slotOffset(s.silentSlot), Size: s.bufSize}, true
}

// Pool is the engine-wide collection of per-type shared segments.
type Pool struct {
	mu           sync.RWMutex
	types        map[int]*typeSegment
	publisher    EventPublisher
	periodFrames int
	portMax      int
}

// New creates an empty Pool. periodFrames and portMax come from the
// engine's configuration (§6 frames_per_period, port_max).
func New(periodFrames, portMax int, publisher EventPublisher) *Pool {
	return &Pool{
		types:        make(map[int]*typeSegment),
		publisher:    publisher,
		periodFrames: periodFrames,
		portMax:      portMax,
	}
}

// RegisterType adds a new port type and builds its initial segment. primary
// marks the type whose slot 0 becomes the process-wide silent buffer;
// exactly one type in the pool should be primary.
func (p *Pool) RegisterType(id int, name string, policy SizePolicy, primary bool) error {
	p.mu.Lock()
	if _, exists := p.types[id]; exists {
		p.mu.Unlock()
		return errors.WrapInvalid(errors.ErrUnknownPortType, "bufferpool", "RegisterType",
			fmt.Sprintf("type %d already registered", id))
	}
	seg := &typeSegment{id: id, name: name, policy: policy, primary: primary}
	p.types[id] = seg
	p.mu.Unlock()

	return p.rebuildType(seg)
}

func (p *Pool) rebuildType(seg *typeSegment) error {
	bufSize := seg.policy.BufferSize(p.periodFrames)
	if err := seg.rebuild(p.portMax, bufSize); err != nil {
		return err
	}
	if p.publisher != nil {
		p.publisher.PublishNewPortType(NewPortType{
			TypeID:      seg.id,
			TypeName:    seg.name,
			SegmentName: seg.segmentName(),
			BufferSize:  bufSize,
			NumBuffers:  p.portMax,
			AttachName:  seg.segmentName(),
		})
	}
	return nil
}

// Resize rebuilds every type's segment for a new period length, as
// triggered by a buffer-size change request. The free list is rebuilt in
// ascending offset order and the silent buffer reservation is reapplied.
func (p *Pool) Resize(periodFrames int) error {
	p.mu.Lock()
	p.periodFrames = periodFrames
	segs := make([]*typeSegment, 0, len(p.types))
	for _, seg := range p.types {
		segs = append(segs, seg)
	}
	p.mu.Unlock()

	for _, seg := range segs {
		if err := p.rebuildType(seg); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) typeByID(typeID int) (*typeSegment, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	seg, ok := p.types[typeID]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnknownPortType, "bufferpool", "typeByID",
			fmt.Sprintf("type %d not registered", typeID))
	}
	return seg, nil
}

// Allocate takes the slot at the front of typeID's free list, for a newly
// registered output port.
func (p *Pool) Allocate(typeID int) (Slot, error) {
	seg, err := p.typeByID(typeID)
	if err != nil {
		return Slot{}, err
	}
	return seg.allocate()
}

// Release returns slot to the back of its type's free list, for a
// released or unregistered output port.
func (p *Pool) Release(slot Slot) error {
	seg, err := p.typeByID(slot.TypeID)
	if err != nil {
		return err
	}
	return seg.release(slot)
}

// TypeExists reports whether typeID has been registered, for callers that
// need to validate a port registration request before touching the
// free list.
func (p *Pool) TypeExists(typeID int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.types[typeID]
	return ok
}

// Types returns every registered port type's announcement payload, in no
// particular order — used by the connection server to replay the pool's
// current type set to a newly-attached external client, which otherwise
// only learns about types registered after it connects via
// PublishNewPortType broadcasts.
func (p *Pool) Types() []NewPortType {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]NewPortType, 0, len(p.types))
	for _, seg := range p.types {
		out = append(out, NewPortType{
			TypeID:      seg.id,
			TypeName:    seg.name,
			SegmentName: seg.segmentName(),
			BufferSize:  seg.bufSize,
			NumBuffers:  p.portMax,
			AttachName:  seg.segmentName(),
		})
	}
	return out
}

// HasMixdown reports whether typeID's buffers can be summed, letting the
// request plane accept a second connection to an input port of this type.
func (p *Pool) HasMixdown(typeID int) (bool, error) {
	seg, err := p.typeByID(typeID)
	if err != nil {
		return false, err
	}
	return seg.policy.Mixdown, nil
}

// SilentBuffer returns the reserved, zero-filled slot for typeID, used by
// any unconnected input port of that type.
func (p *Pool) SilentBuffer(typeID int) (Slot, error) {
	seg, err := p.typeByID(typeID)
	if err != nil {
		return Slot{}, err
	}
	slot, ok := seg.silentBuffer()
	if !ok {
		return Slot{}, errors.WrapInvalid(errors.ErrUnknownPortType, "bufferpool", "SilentBuffer",
			fmt.Sprintf("type %d has no silent buffer (not primary)", typeID))
	}
	return slot, nil
}

// Data returns the byte slice backing slot, for read/write access during a
// cycle.
func (p *Pool) Data(slot Slot) ([]byte, error) {
	seg, err := p.typeByID(slot.TypeID)
	if err != nil {
		return nil, err
	}
	seg.mu.Lock()
	defer seg.mu.Unlock()
	return seg.segment[slot.Offset : slot.Offset+slot.Size], nil
}

// Utilization returns the fraction of typeID's buffers currently
// allocated, for the buffer-pool utilization gauge.
func (p *Pool) Utilization(typeID int) (float64, error) {
	seg, err := p.typeByID(typeID)
	if err != nil {
		return 0, err
	}
	seg.mu.Lock()
	defer seg.mu.Unlock()
	free := seg.freeList.Size()
	total := seg.nports
	if seg.hasSilent {
		total--
	}
	if total == 0 {
		return 0, nil
	}
	return 1 - float64(free)/float64(total), nil
}
