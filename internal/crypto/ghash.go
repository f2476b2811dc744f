package crypto

import "encoding/binary"

// ghash accumulates the GHASH function from NIST SP 800-38D over a byte
// stream. The caller feeds ciphertext in arbitrary chunks; sum produces the
// final hash once the stream ends. Associated data is not supported; the
// archive stream is the only authenticated input.
type ghash struct {
	h0, h1 uint64 // hash subkey H, big-endian halves
	y0, y1 uint64 // accumulator Y
	buf    [16]byte
	n      int    // valid bytes in buf
	total  uint64 // total bytes absorbed
}

func newGHASH(h []byte) *ghash {
	return &ghash{
		h0: binary.BigEndian.Uint64(h[0:8]),
		h1: binary.BigEndian.Uint64(h[8:16]),
	}
}

// update absorbs p into the accumulator, 16 bytes at a time.
func (g *ghash) update(p []byte) {
	g.total += uint64(len(p))

	if g.n > 0 {
		k := copy(g.buf[g.n:], p)
		g.n += k
		p = p[k:]
		if g.n < 16 {
			return
		}
		g.absorb(g.buf[:])
		g.n = 0
	}

	for len(p) >= 16 {
		g.absorb(p[:16])
		p = p[16:]
	}

	if len(p) > 0 {
		g.n = copy(g.buf[:], p)
	}
}

// sum flushes any zero-padded partial block, absorbs the length block and
// returns the final GHASH value.
func (g *ghash) sum() [16]byte {
	if g.n > 0 {
		for i := g.n; i < 16; i++ {
			g.buf[i] = 0
		}
		g.absorb(g.buf[:])
		g.n = 0
	}

	// Length block: bit length of the associated data (always zero here)
	// followed by the bit length of the ciphertext.
	var lenBlock [16]byte
	binary.BigEndian.PutUint64(lenBlock[8:], g.total*8)
	g.absorb(lenBlock[:])

	var out [16]byte
	binary.BigEndian.PutUint64(out[0:8], g.y0)
	binary.BigEndian.PutUint64(out[8:16], g.y1)
	return out
}

func (g *ghash) absorb(block []byte) {
	g.y0 ^= binary.BigEndian.Uint64(block[0:8])
	g.y1 ^= binary.BigEndian.Uint64(block[8:16])
	g.y0, g.y1 = gfMul(g.y0, g.y1, g.h0, g.h1)
}

// gfMul multiplies two elements of GF(2^128) under the GCM polynomial
// x^128 + x^7 + x^2 + x + 1, using the shift-and-reduce algorithm from
// SP 800-38D. Block bytes map big-endian into (hi, lo) uint64 pairs.
func gfMul(x0, x1, h0, h1 uint64) (z0, z1 uint64) {
	v0, v1 := h0, h1
	for i := 0; i < 128; i++ {
		var bit uint64
		if i < 64 {
			bit = (x0 >> (63 - uint(i))) & 1
		} else {
			bit = (x1 >> (127 - uint(i))) & 1
		}
		if bit == 1 {
			z0 ^= v0
			z1 ^= v1
		}
		carry := v1 & 1
		v1 = v1>>1 | v0<<63
		v0 >>= 1
		if carry == 1 {
			v0 ^= 0xe100000000000000
		}
	}
	return z0, z1
}
