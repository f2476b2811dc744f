package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"io"
	"testing"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i * 7)
	}
	return key
}

func testIV() []byte {
	iv := make([]byte, IVSize)
	for i := range iv {
		iv[i] = byte(i + 1)
	}
	return iv
}

func testPlaintext(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i % 251)
	}
	return p
}

// sealWithStdlib produces the reference ciphertext and tag with cipher.NewGCM.
func sealWithStdlib(t *testing.T, key, iv, plaintext []byte) (ct, tag []byte) {
	t.Helper()

	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("cipher.NewGCM: %v", err)
	}
	sealed := aead.Seal(nil, iv, plaintext, nil)
	return sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]
}

func TestStreamEncrypter_MatchesStdlibGCM(t *testing.T) {
	sizes := []int{0, 1, 15, 16, 17, 512, 4096 + 13}
	for _, size := range sizes {
		key, iv := testKey(), testIV()
		plaintext := testPlaintext(size)
		wantCT, wantTag := sealWithStdlib(t, key, iv, plaintext)

		var out bytes.Buffer
		enc, err := NewStreamEncrypter(&out, key, iv)
		if err != nil {
			t.Fatalf("size %d: NewStreamEncrypter: %v", size, err)
		}

		// Write in uneven chunks; boundaries must not affect the result.
		for off := 0; off < len(plaintext); {
			end := off + 7
			if end > len(plaintext) {
				end = len(plaintext)
			}
			if _, err := enc.Write(plaintext[off:end]); err != nil {
				t.Fatalf("size %d: Write: %v", size, err)
			}
			off = end
		}
		tag := enc.Finalize()

		if !bytes.Equal(out.Bytes(), wantCT) {
			t.Errorf("size %d: ciphertext differs from cipher.NewGCM", size)
		}
		if !bytes.Equal(tag, wantTag) {
			t.Errorf("size %d: tag = %x, want %x", size, tag, wantTag)
		}
	}
}

func TestStreamEncrypter_WriteAfterFinalize(t *testing.T) {
	enc, err := NewStreamEncrypter(&bytes.Buffer{}, testKey(), testIV())
	if err != nil {
		t.Fatalf("NewStreamEncrypter: %v", err)
	}
	enc.Finalize()
	if _, err := enc.Write([]byte("late")); err == nil {
		t.Error("expected error writing after Finalize")
	}
}

func TestStreamDecrypter_RoundTrip(t *testing.T) {
	key, iv := testKey(), testIV()
	plaintext := testPlaintext(10_000)
	ct, tag := sealWithStdlib(t, key, iv, plaintext)

	dec, err := NewStreamDecrypter(bytes.NewReader(ct), key, iv, tag)
	if err != nil {
		t.Fatalf("NewStreamDecrypter: %v", err)
	}

	got, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Error("decrypted plaintext differs from original")
	}
}

func TestStreamDecrypter_TamperedCiphertext(t *testing.T) {
	key, iv := testKey(), testIV()
	ct, tag := sealWithStdlib(t, key, iv, testPlaintext(2048))

	ct[100] ^= 0x01

	dec, err := NewStreamDecrypter(bytes.NewReader(ct), key, iv, tag)
	if err != nil {
		t.Fatalf("NewStreamDecrypter: %v", err)
	}
	if _, err := io.ReadAll(dec); !errors.Is(err, ErrIntegrity) {
		t.Errorf("err = %v, want ErrIntegrity", err)
	}
}

func TestStreamDecrypter_TruncatedCiphertext(t *testing.T) {
	key, iv := testKey(), testIV()
	ct, tag := sealWithStdlib(t, key, iv, testPlaintext(2048))

	dec, err := NewStreamDecrypter(bytes.NewReader(ct[:len(ct)-5]), key, iv, tag)
	if err != nil {
		t.Fatalf("NewStreamDecrypter: %v", err)
	}
	if _, err := io.ReadAll(dec); !errors.Is(err, ErrIntegrity) {
		t.Errorf("err = %v, want ErrIntegrity", err)
	}
}

func TestStreamDecrypter_WrongKey(t *testing.T) {
	key, iv := testKey(), testIV()
	ct, tag := sealWithStdlib(t, key, iv, testPlaintext(256))

	wrong := testKey()
	wrong[0] ^= 0xff

	dec, err := NewStreamDecrypter(bytes.NewReader(ct), wrong, iv, tag)
	if err != nil {
		t.Fatalf("NewStreamDecrypter: %v", err)
	}
	if _, err := io.ReadAll(dec); !errors.Is(err, ErrIntegrity) {
		t.Errorf("err = %v, want ErrIntegrity", err)
	}
}

func TestStreamDecrypter_ErrorSticks(t *testing.T) {
	key, iv := testKey(), testIV()
	ct, tag := sealWithStdlib(t, key, iv, testPlaintext(64))
	ct[0] ^= 0x01

	dec, err := NewStreamDecrypter(bytes.NewReader(ct), key, iv, tag)
	if err != nil {
		t.Fatalf("NewStreamDecrypter: %v", err)
	}
	io.ReadAll(dec)

	// Every subsequent read must keep failing, never resume.
	if _, err := dec.Read(make([]byte, 8)); !errors.Is(err, ErrIntegrity) {
		t.Errorf("err = %v, want ErrIntegrity on repeated read", err)
	}
}

func TestNewGCMStream_ParameterLengths(t *testing.T) {
	if _, err := NewStreamEncrypter(&bytes.Buffer{}, testKey()[:16], testIV()); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := NewStreamEncrypter(&bytes.Buffer{}, testKey(), testIV()[:8]); err == nil {
		t.Error("expected error for short IV")
	}
	if _, err := NewStreamDecrypter(bytes.NewReader(nil), testKey(), testIV(), make([]byte, 8)); err == nil {
		t.Error("expected error for short tag")
	}
}
