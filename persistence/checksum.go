package persistence

import (
	"github.com/zeebo/blake3"
)

// ChecksumSize is the number of bytes of BLAKE3 digest stored in the journal.
const ChecksumSize = 16

// Checksum is the truncated BLAKE3 keyed digest.
type Checksum [ChecksumSize]byte

type domainKey [32]byte

// Domain keys separate header checksums from frame checksums. Changing them invalidates existing journals.
var (
	headerDomainKey = domainKey{
		's', 'h', 'e', 'l', 'f', '.', 'j', 'o', 'u', 'r', 'n', 'a', 'l', '.', 'h', 'e',
		'a', 'd', 'e', 'r', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	frameDomainKey = domainKey{
		's', 'h', 'e', 'l', 'f', '.', 'j', 'o', 'u', 'r', 'n', 'a', 'l', '.', 'f', 'r',
		'a', 'm', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

func keyedChecksum(key domainKey, parts ...[]byte) Checksum {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("persistence: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	for _, p := range parts {
		_, _ = hasher.Write(p)
	}

	var checksum Checksum
	copy(checksum[:], hasher.Sum(nil))
	return checksum
}
