package wasmffi

import "fmt"

// Handle is a raw foreign-heap address. It carries no ownership: two
// objects may hold the same Handle, and freeing through one invalidates
// the other.
type Handle uint32

// Null is the invalid sentinel. Released objects carry it so that later
// use is detectable instead of silently reading freed memory.
const Null Handle = 0

// IsNull reports whether h is the invalid sentinel.
func (h Handle) IsNull() bool {
	return h == Null
}

// Add returns the address offset bytes past h. Adding to Null yields Null.
func (h Handle) Add(offset uint32) Handle {
	if h == Null {
		return Null
	}
	return h + Handle(offset)
}

// Addr returns the raw address.
func (h Handle) Addr() uint32 {
	return uint32(h)
}

func (h Handle) String() string {
	if h == Null {
		return "null"
	}
	return fmt.Sprintf("0x%08x", uint32(h))
}
