package parallel

// segment holds the precomputed set/clear masks for one slice of the data
// bus: the low byte, or the high byte/nibble of wider buses.
//
// For every value a segment can carry, set[v] raises exactly the pins whose
// data bit is 1 and clr[v] drops exactly the pins whose data bit is 0, so
// one GPSET0 store plus one GPCLR0 store places the value on the bus no
// matter what was there before. The two masks are disjoint and together
// cover all of the segment's pins. Built once at open time, read-only after.
type segment struct {
	mask uint32
	set  []uint32
	clr  []uint32
}

// buildSegment computes the lookup tables for an ordered pin list, data bit
// 0 first. An empty list yields the one-entry no-op segment used as the high
// half of an 8-bit bus.
func buildSegment(pins []int) segment {
	n := len(pins)
	s := segment{
		set: make([]uint32, 1<<n),
		clr: make([]uint32, 1<<n),
	}
	for _, p := range pins {
		s.mask |= 1 << uint(p)
	}
	for v := 0; v < 1<<n; v++ {
		var set, clr uint32
		for i, p := range pins {
			if v&(1<<i) != 0 {
				set |= 1 << uint(p)
			} else {
				clr |= 1 << uint(p)
			}
		}
		s.set[v] = set
		s.clr[v] = clr
	}
	return s
}
