package disktest

import (
	"fmt"

	"github.com/aead/chacha20/chacha"
)

// ChaCha keystream generator for 8, 12 or 20 rounds.
//
// The cipher is keyed with the folded 32-byte round key and an all-zero
// 64-bit nonce; the emitted stream is the raw keystream. Seeking maps a
// byte offset to the cipher's 64-byte block counter.
type generatorChaCha struct {
	cipher *chacha.Cipher
}

const (
	chachaBaseSize  = 1024 * 2
	chachaWordSize  = 4
	chachaKeySize   = 32
	chachaBlockSize = 64
)

var zeroNonce [chacha.NonceSize]byte

func newGeneratorChaCha(key []byte, rounds int) *generatorChaCha {
	if len(key) == 0 {
		panic("generatorChaCha: empty key")
	}

	cipher, err := chacha.NewCipher(zeroNonce[:], fold(key, chachaKeySize), rounds)
	if err != nil {
		panic(fmt.Sprintf("generatorChaCha: %v", err))
	}

	return &generatorChaCha{cipher: cipher}
}

func (g *generatorChaCha) baseSize() int {
	return chachaBaseSize
}

func (g *generatorChaCha) next(buf []byte, count int) {
	if len(buf) != chachaBaseSize*count {
		panic("generatorChaCha: buffer size mismatch")
	}

	// The buffer may hold recycled data; the keystream is the XOR of
	// the cipher with zeros.
	clear(buf)
	g.cipher.XORKeyStream(buf, buf)
}

func (g *generatorChaCha) seek(byteOffset uint64) error {
	if byteOffset%chachaBaseSize != 0 {
		return fmt.Errorf("%w: ChaCha seek: offset %d is not a multiple of the base size (%d bytes)",
			ErrSeekAlignment, byteOffset, chachaBaseSize)
	}

	if byteOffset%chachaWordSize != 0 {
		return fmt.Errorf("%w: ChaCha seek: offset %d is not a multiple of the word size (%d bytes)",
			ErrSeekAlignment, byteOffset, chachaWordSize)
	}

	g.cipher.SetCounter(byteOffset / chachaBlockSize)

	return nil
}
