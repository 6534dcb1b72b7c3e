package wire

// SerialOlder reports whether a is strictly older than b under a wrap-safe
// comparator: when either serial lies in the top serialWrapWindow of the
// 32-bit space, both are shifted down by serialWrapShift before comparing.
// This gives correct ordering for any pair within one wrap of each other.
func SerialOlder(a, b uint32) bool {
	sub := uint32(0)
	if a > ^uint32(0)-serialWrapWindow || b > ^uint32(0)-serialWrapWindow {
		sub = serialWrapShift
	}
	return a-sub < b-sub
}

// SerialMin returns whichever of a, b is older (see SerialOlder). Ties
// return a.
func SerialMin(a, b uint32) uint32 {
	if SerialOlder(b, a) {
		return b
	}
	return a
}
