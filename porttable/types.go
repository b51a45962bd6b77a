package porttable

// Flags describes a port's role and physical nature, stored as a bitmask
// matching spec §3's {input|output|terminal|physical} flag set.
type Flags uint8

const (
	FlagInput Flags = 1 << iota
	FlagOutput
	FlagTerminal
	FlagPhysical
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// Port is one entry in the table. BufferOffset/BufferSize point into the
// port's type segment (see package bufferpool) once an output port has
// been assigned a buffer slot; unconnected or input ports may leave them
// zero and resolve to the silent buffer at cycle time.
type Port struct {
	ID              int
	TypeID          int
	OwnerClientID   int
	Name            string
	Flags           Flags
	Latency         int
	TotalLatency    int
	BufferOffset    int
	BufferSize      int
	Locked          bool
	MonitorRequests int
	InUse           bool
}
