package bufferpool

// SizePolicy describes how a port type's per-buffer size is derived.
// Exactly one of FixedBytes or ScaleFactor is meaningful: a positive
// ScaleFactor means "scale_factor × period_frames × sample_element_size",
// matching the spec's formula for variable-width types; a zero ScaleFactor
// means FixedBytes applies directly.
type SizePolicy struct {
	FixedBytes    int
	ScaleFactor   float64
	SampleElement int // bytes per sample element, used only when ScaleFactor > 0

	// Mixdown marks a type whose buffers can be summed, letting the
	// request plane accept a second connection to an already-connected
	// input port of this type (spec §4.5's connect precondition; §4.10's
	// mixdown-callback case).
	Mixdown bool
}

// BufferSize computes the per-buffer size in bytes for the given period
// length in frames.
func (p SizePolicy) BufferSize(periodFrames int) int {
	if p.ScaleFactor > 0 {
		return int(p.ScaleFactor * float64(periodFrames) * float64(p.SampleElement))
	}
	return p.FixedBytes
}

// Slot identifies one allocated buffer within a type's segment.
type Slot struct {
	TypeID int
	Index  int
	Offset int
	Size   int
}

// NewPortType describes the event broadcast to every client whenever a
// type's segment is (re)built, per spec §4.1. AttachName stands in for the
// original shared-memory attach address: in this in-process rendering,
// clients reach the segment through the engine's API rather than mapping
// memory directly, so AttachName is the logical handle they pass back on
// subsequent requests rather than a raw pointer.
type NewPortType struct {
	TypeID      int
	TypeName    string
	SegmentName string
	BufferSize  int
	NumBuffers  int
	AttachName  string
}

// EventPublisher is the minimal surface bufferpool needs from the event
// plane; kept narrow here to avoid an import cycle with the event package,
// which itself depends on the graph/registry types.
type EventPublisher interface {
	PublishNewPortType(evt NewPortType)
}
