package msr

// Register is a raw 64-bit transaction primitive against one model-specific
// register, replicated per logical core. It does not interpret the word.
type Register interface {
	// Read returns the register value on the given core.
	Read(core int) (uint64, error)
	// Write stores word into the register on the given core.
	Write(core int, word uint64) error
	// Cores returns the number of addressable logical cores.
	Cores() int
}

// Config describes which register to address and where.
//   - Root: directory holding <core>/msr device nodes, usually /dev/cpu.
//   - Register: MSR address used as the file offset.
//   - Cores: number of logical cores; <= 0 means discover from Root.
type Config struct {
	Root     string
	Register uint32
	Cores    int
}

func checkCore(core, cores int) error {
	if core < 0 || core >= cores {
		return &CoreError{Core: core, Op: "check", Err: ErrCoreIndexOutOfRange}
	}
	return nil
}
