package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// IVSize is the GCM initialization vector length in bytes.
	IVSize = 12
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
)

// ErrIntegrity is returned when an authentication tag or stored digest does
// not match the data that was read. It is deliberately distinct from I/O
// errors so callers can refuse to treat tampering as a transient failure.
var ErrIntegrity = errors.New("integrity check failed: data corrupted or tampered")

// StreamEncrypter encrypts a byte stream with AES-256-GCM, maintaining one
// logical cipher context across all Write calls: chunk boundaries never
// affect the resulting tag. The tag is produced only by Finalize and is
// never written into the output stream.
//
// GCM is assembled from a CTR keystream plus a GHASH accumulator over the
// ciphertext because the stdlib cipher.AEAD interface is one-shot and cannot
// span an archive that does not fit in memory. Equivalence with cipher.NewGCM
// is pinned by tests.
type StreamEncrypter struct {
	w         io.Writer
	ctr       cipher.Stream
	gh        *ghash
	tagMask   [16]byte
	buf       []byte
	finalized bool
}

// NewStreamEncrypter wraps w so that everything written is encrypted under
// key with the given 96-bit IV. The IV must be random and unique per job.
func NewStreamEncrypter(w io.Writer, key, iv []byte) (*StreamEncrypter, error) {
	ctr, gh, tagMask, err := newGCMStream(key, iv)
	if err != nil {
		return nil, err
	}
	return &StreamEncrypter{w: w, ctr: ctr, gh: gh, tagMask: tagMask}, nil
}

func (e *StreamEncrypter) Write(p []byte) (int, error) {
	if e.finalized {
		return 0, errors.New("write after Finalize")
	}
	if len(p) == 0 {
		return 0, nil
	}

	if cap(e.buf) < len(p) {
		e.buf = make([]byte, len(p))
	}
	ct := e.buf[:len(p)]
	e.ctr.XORKeyStream(ct, p)
	e.gh.update(ct)

	if _, err := e.w.Write(ct); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Finalize closes the cipher context and returns the 128-bit authentication
// tag. No writes are accepted afterwards.
func (e *StreamEncrypter) Finalize() []byte {
	e.finalized = true
	s := e.gh.sum()
	tag := make([]byte, TagSize)
	for i := range tag {
		tag[i] = s[i] ^ e.tagMask[i]
	}
	return tag
}

// StreamDecrypter decrypts an AES-256-GCM stream produced by StreamEncrypter.
// Plaintext is released as it is read; the tag is checked only once the
// underlying reader reaches EOF. A mismatch surfaces as ErrIntegrity in place
// of EOF; consumers must treat any output read before that point as
// unauthenticated.
type StreamDecrypter struct {
	r        io.Reader
	ctr      cipher.Stream
	gh       *ghash
	tagMask  [16]byte
	tag      []byte
	verified bool
	err      error
}

// NewStreamDecrypter wraps r, decrypting under key/iv and verifying against
// the expected tag at EOF.
func NewStreamDecrypter(r io.Reader, key, iv, tag []byte) (*StreamDecrypter, error) {
	if len(tag) != TagSize {
		return nil, fmt.Errorf("invalid tag length %d, want %d", len(tag), TagSize)
	}
	ctr, gh, tagMask, err := newGCMStream(key, iv)
	if err != nil {
		return nil, err
	}
	return &StreamDecrypter{r: r, ctr: ctr, gh: gh, tagMask: tagMask, tag: tag}, nil
}

func (d *StreamDecrypter) Read(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}

	n, err := d.r.Read(p)
	if n > 0 {
		d.gh.update(p[:n])
		d.ctr.XORKeyStream(p[:n], p[:n])
	}

	if err == io.EOF {
		d.err = d.finalize()
		return n, d.err
	}
	if err != nil {
		d.err = err
	}
	return n, err
}

// finalize computes the tag over everything consumed and compares it with
// the expected value in constant time.
func (d *StreamDecrypter) finalize() error {
	if d.verified {
		return io.EOF
	}
	d.verified = true

	s := d.gh.sum()
	computed := make([]byte, TagSize)
	for i := range computed {
		computed[i] = s[i] ^ d.tagMask[i]
	}

	if subtle.ConstantTimeCompare(computed, d.tag) != 1 {
		return ErrIntegrity
	}
	return io.EOF
}

// newGCMStream builds the shared GCM machinery: a CTR keystream starting at
// inc32(J0), a GHASH accumulator keyed on H = E_K(0), and the tag mask
// E_K(J0) where J0 = IV || 0x00000001.
func newGCMStream(key, iv []byte) (cipher.Stream, *ghash, [16]byte, error) {
	var mask [16]byte

	if len(key) != KeySize {
		return nil, nil, mask, fmt.Errorf("invalid key length %d, want %d", len(key), KeySize)
	}
	if len(iv) != IVSize {
		return nil, nil, mask, fmt.Errorf("invalid IV length %d, want %d", len(iv), IVSize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, mask, fmt.Errorf("creating AES cipher: %w", err)
	}

	var h [16]byte
	block.Encrypt(h[:], h[:])
	gh := newGHASH(h[:])

	var j0 [16]byte
	copy(j0[:], iv)
	j0[15] = 1
	block.Encrypt(mask[:], j0[:])

	var counter [16]byte
	copy(counter[:], iv)
	counter[15] = 2
	ctr := cipher.NewCTR(block, counter[:])

	return ctr, gh, mask, nil
}
