package disktest

import (
	"crypto/sha512"
	"encoding/binary"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 50000
	kdfKeySize    = 256 / 8
)

// kdfSalt derives a deterministic salt from the key material itself.
// That is not a great salt, but good enough for stream keying, and the
// exact form is load-bearing: media written by earlier versions can
// only be verified if the salt construction never changes.
func kdfSalt(key []byte) []byte {
	h := sha512.New()
	h.Write([]byte("disktest salt"))
	h.Write(key)

	return h.Sum(nil)
}

// kdf derives the 32-byte per-thread, per-round generator key from the
// user seed.
//
// For round 0 the key material is seed|threadID_le32, for later rounds
// seed|threadID_le32|'R'|roundID_le64. Round 0 omits the round suffix
// so that media written before rounds existed still verify.
func kdf(seed []byte, threadID uint32, roundID uint64) []byte {
	key := make([]byte, 0, len(seed)+4+1+8)
	key = append(key, seed...)
	key = binary.LittleEndian.AppendUint32(key, threadID)

	if roundID > 0 {
		key = append(key, 'R')
		key = binary.LittleEndian.AppendUint64(key, roundID)
	}

	return pbkdf2.Key(key, kdfSalt(key), kdfIterations, kdfKeySize, sha512.New)
}
