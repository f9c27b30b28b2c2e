package domain

// Box accumulates metric values for exactly one location code during one
// execution. Boxes are created empty and filled incrementally; a metric a
// source never reported stays absent rather than being synthesized as zero.
type Box map[string]float64

// BoxSet maps location codes to their boxes. The code domain is fixed before
// filling begins; no box is added or removed afterwards.
type BoxSet struct {
	Codes []string       `json:"codes"` // fill/report order
	Boxes map[string]Box `json:"boxes"`
}

// NewBoxSet creates empty boxes for an ordered set of codes.
func NewBoxSet(codes []string) *BoxSet {
	bs := &BoxSet{
		Codes: codes,
		Boxes: make(map[string]Box, len(codes)),
	}
	for _, code := range codes {
		bs.Boxes[code] = Box{}
	}
	return bs
}

// Set writes a value into the box for code. Writes for codes outside the
// fixed domain are dropped: the domain was decided at creation.
func (bs *BoxSet) Set(code, key string, value float64) {
	if box, ok := bs.Boxes[code]; ok {
		box[key] = value
	}
}

// Get reads a value, reporting presence explicitly so callers can tell a
// stored zero apart from missing data.
func (bs *BoxSet) Get(code, key string) (float64, bool) {
	box, ok := bs.Boxes[code]
	if !ok {
		return 0, false
	}
	v, ok := box[key]
	return v, ok
}
