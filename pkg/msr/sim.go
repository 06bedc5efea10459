package msr

import "sync"

// Mailbox protocol bits understood by the simulator.
const (
	simPlaneShift = 40
	simPlaneMask  = 0xF
	simClass      = uint64(0x1) << 36
	simWriteBit   = uint64(1) << 32
	simOffsetMask = uint64(0xFFE00000)
)

// Simulator is an in-memory overclocking mailbox. Every core keeps its own
// offset field per plane. A request selects a plane (and stores the offset
// when the write bit is set); the next Read returns the response word for
// the selected plane with the busy bit cleared.
type Simulator struct {
	mu    sync.Mutex
	cores []simCore

	// IgnoreWrites makes write requests select the plane but keep the
	// stored offset, like a locked register.
	IgnoreWrites bool
}

type simCore struct {
	fields   [simPlaneMask + 1]uint64
	selected uint64
	writes   int
	reads    int
}

// NewSimulator returns a mailbox with cores logical cores and all offsets zero.
func NewSimulator(cores int) *Simulator {
	return &Simulator{cores: make([]simCore, cores)}
}

// Cores implements Register.
func (s *Simulator) Cores() int { return len(s.cores) }

// Write implements Register.
func (s *Simulator) Write(core int, word uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkCore(core, len(s.cores)); err != nil {
		return err
	}
	c := &s.cores[core]
	c.writes++
	c.selected = (word >> simPlaneShift) & simPlaneMask
	if word&simWriteBit != 0 && !s.IgnoreWrites {
		c.fields[c.selected] = word & simOffsetMask
	}
	return nil
}

// Read implements Register.
func (s *Simulator) Read(core int) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkCore(core, len(s.cores)); err != nil {
		return 0, err
	}
	c := &s.cores[core]
	c.reads++
	return c.selected<<simPlaneShift | simClass | c.fields[c.selected], nil
}

// Preset stores a raw offset field (bits 21..31) for plane on every core,
// as if another tool had programmed it earlier.
func (s *Simulator) Preset(plane uint8, field uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.cores {
		s.cores[i].fields[plane&simPlaneMask] = uint64(field) & simOffsetMask
	}
}

// PresetCore is Preset for a single core.
func (s *Simulator) PresetCore(core int, plane uint8, field uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cores[core].fields[plane&simPlaneMask] = uint64(field) & simOffsetMask
}

// Writes returns the number of write transactions seen by core.
func (s *Simulator) Writes(core int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cores[core].writes
}

// TotalWrites sums Writes over all cores.
func (s *Simulator) TotalWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.cores {
		n += c.writes
	}
	return n
}

// Field returns the stored offset field of plane on core.
func (s *Simulator) Field(core int, plane uint8) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint32(s.cores[core].fields[plane&simPlaneMask])
}
