package hrv

import "slices"

// Series is a fixed-capacity FIFO of RR intervals; the oldest value is
// dropped when a push exceeds the capacity.
type Series struct {
	capacity int
	values   []float64
}

func NewSeries(capacity int) *Series {
	if capacity < 1 {
		capacity = 1
	}
	return &Series{capacity: capacity, values: make([]float64, 0, capacity)}
}

func (s *Series) Push(v float64) {
	if len(s.values) == s.capacity {
		copy(s.values, s.values[1:])
		s.values = s.values[:len(s.values)-1]
	}
	s.values = append(s.values, v)
}

func (s *Series) Len() int { return len(s.values) }

func (s *Series) Cap() int { return s.capacity }

// Values returns a copy in arrival order.
func (s *Series) Values() []float64 { return slices.Clone(s.values) }

func (s *Series) Reset() { s.values = s.values[:0] }

// minSealedLen keeps a sealed Stabilizer large enough for RMSSD.
const minSealedLen = 2

// Stabilizer accumulates every interval until it is sealed. From then on its
// length is fixed: each push evicts the oldest value.
type Stabilizer struct {
	values []float64
	limit  int // 0 while unsealed
}

func NewStabilizer() *Stabilizer { return &Stabilizer{} }

func (s *Stabilizer) Push(v float64) {
	s.values = append(s.values, v)
	if s.limit > 0 && len(s.values) > s.limit {
		s.values = slices.Delete(s.values, 0, len(s.values)-s.limit)
	}
}

// Seal freezes the window length at the current length, or at two samples if
// fewer have arrived. Sealing twice keeps the first length.
func (s *Stabilizer) Seal() {
	if s.limit > 0 {
		return
	}
	s.limit = max(len(s.values), minSealedLen)
}

func (s *Stabilizer) Sealed() bool { return s.limit > 0 }

func (s *Stabilizer) Len() int { return len(s.values) }

func (s *Stabilizer) Values() []float64 { return slices.Clone(s.values) }

func (s *Stabilizer) Reset() {
	s.values = nil
	s.limit = 0
}
