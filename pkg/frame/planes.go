package frame

// Planes holds the three color channels of a frame, each Height*Width bytes
// in row-major order.
type Planes struct {
	Width  int
	Height int
	B      []byte
	G      []byte
	R      []byte
}

// SplitPlanes rebuilds B, G and R planes from the interleaved buffer.
// Bytes 0, 1 and 2 of each Step-byte group are blue, green and red; the
// remaining Step-3 bytes (padding or alpha) are skipped.
func SplitPlanes(f *Frame) (Planes, error) {
	if err := f.Validate(); err != nil {
		return Planes{}, err
	}

	n := f.Pixels()
	p := Planes{
		Width:  f.Width,
		Height: f.Height,
		B:      make([]byte, n),
		G:      make([]byte, n),
		R:      make([]byte, n),
	}

	for i, off := 0, 0; i < n; i, off = i+1, off+f.Step {
		p.B[i] = f.Data[off]
		p.G[i] = f.Data[off+1]
		p.R[i] = f.Data[off+2]
	}
	return p, nil
}

// Interleave packs the planes back into a 3-byte-per-pixel BGR buffer.
func (p Planes) Interleave() []byte {
	out := make([]byte, 3*len(p.B))
	for i := range p.B {
		out[3*i] = p.B[i]
		out[3*i+1] = p.G[i]
		out[3*i+2] = p.R[i]
	}
	return out
}
