package measure

import "strconv"

// Quant counts quantization ticks since the start of a composition or sample.
// It is a plain integer so the usual arithmetic operators apply directly.
type Quant uint32

func (q Quant) String() string {
	return "q" + strconv.FormatUint(uint64(q), 10)
}
