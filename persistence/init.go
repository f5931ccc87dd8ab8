package persistence

import (
	"encoding/binary"
	"encoding/hex"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// FormatVersion is the version of the journal layout.
	FormatVersion uint16 = 1

	// HeaderSize is the size of the journal header.
	HeaderSize = 64

	// shelfSubject defines an identifier used to detect if journal exists on the device.
	shelfSubject uint64 = 0b0101001101001000010001010100110001000110010010100100111001001100

	checksumOffset = 32
)

// Dev is the interface required from the device.
type Dev interface {
	io.ReadWriteSeeker
	Sync() error
	Size() int64
}

// ErrAlreadyInitialized is returned if during initialization, another journal is detected on the device.
var ErrAlreadyInitialized = errors.New("journal has been already initialized on the provided device")

// Header is the decoded journal header.
type Header struct {
	Version     uint16
	Compression Compression
	InstanceID  uuid.UUID
}

// Initialize writes new journal header to the device.
func Initialize(dev Dev, overwrite bool, compression Compression, instanceID uuid.UUID) error {
	if compression > CompressionZstd {
		return errors.Errorf("unsupported compression: %d", compression)
	}
	if err := validateDev(dev, overwrite); err != nil {
		return err
	}

	header := encodeHeader(Header{
		Version:     FormatVersion,
		Compression: compression,
		InstanceID:  instanceID,
	})

	if _, err := dev.Seek(0, io.SeekStart); err != nil {
		return errors.WithStack(err)
	}
	if _, err := dev.Write(header); err != nil {
		return errors.WithStack(err)
	}
	// Zero length marks the end of the journal, so frames left by the previous journal are ignored.
	if _, err := dev.Write(make([]byte, frameLengthSize)); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(dev.Sync())
}

func validateDev(dev Dev, overwrite bool) error {
	if dev.Size() < HeaderSize {
		return nil
	}

	raw, err := readHeader(dev)
	if err != nil {
		return err
	}

	if binary.LittleEndian.Uint64(raw) == shelfSubject && !overwrite {
		return errors.WithStack(ErrAlreadyInitialized)
	}

	return nil
}

func readHeader(dev Dev) ([]byte, error) {
	if _, err := dev.Seek(0, io.SeekStart); err != nil {
		return nil, errors.WithStack(err)
	}

	raw := make([]byte, HeaderSize)
	if _, err := io.ReadFull(dev, raw); err != nil {
		return nil, errors.Wrap(err, "reading journal header failed")
	}
	return raw, nil
}

func encodeHeader(h Header) []byte {
	raw := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(raw, shelfSubject)
	binary.LittleEndian.PutUint16(raw[8:], h.Version)
	raw[10] = byte(h.Compression)
	copy(raw[16:checksumOffset], h.InstanceID[:])

	checksum := keyedChecksum(headerDomainKey, raw[:checksumOffset])
	copy(raw[checksumOffset:], checksum[:])
	return raw
}

func decodeHeader(raw []byte) (Header, error) {
	if binary.LittleEndian.Uint64(raw) != shelfSubject {
		return Header{}, errors.New("device does not contain shelf journal")
	}

	var stored Checksum
	copy(stored[:], raw[checksumOffset:])
	computed := keyedChecksum(headerDomainKey, raw[:checksumOffset])
	if stored != computed {
		return Header{}, errors.Errorf("checksum mismatch for the journal header, computed: %s, stored: %s",
			hex.EncodeToString(computed[:]), hex.EncodeToString(stored[:]))
	}

	h := Header{
		Version:     binary.LittleEndian.Uint16(raw[8:]),
		Compression: Compression(raw[10]),
	}
	copy(h.InstanceID[:], raw[16:checksumOffset])

	if h.Version != FormatVersion {
		return Header{}, errors.Errorf("unsupported journal version: %d", h.Version)
	}
	if h.Compression > CompressionZstd {
		return Header{}, errors.Errorf("unsupported compression: %d", h.Compression)
	}
	return h, nil
}
