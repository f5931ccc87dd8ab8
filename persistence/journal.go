package persistence

import (
	"encoding/binary"
	"encoding/hex"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/shelf/types"
)

const (
	frameLengthSize = 4

	// frameHeaderSize covers length, compression tag, raw length and checksum.
	frameHeaderSize = frameLengthSize + 1 + 4 + ChecksumSize

	// MaxFrameSize limits the size of a single frame payload.
	MaxFrameSize = 64 << 20
)

// Journal appends batches of entries to the device.
type Journal struct {
	dev    Dev
	header Header

	mu sync.Mutex
	// end is the offset of the end marker, next frame is written there.
	end     int64
	entries int
	// highestID is the highest object ID mentioned by any entry, blob mask stripped.
	highestID types.ObjectID
}

// OpenJournal opens the journal initialized on the device. Frames are verified and the write position
// is set after the last complete one.
func OpenJournal(dev Dev) (*Journal, error) {
	raw, err := readHeader(dev)
	if err != nil {
		return nil, err
	}
	header, err := decodeHeader(raw)
	if err != nil {
		return nil, err
	}

	j := &Journal{
		dev:    dev,
		header: header,
		end:    HeaderSize,
	}
	if err := j.scan(func(batch []Entry) {
		j.entries += len(batch)
		j.observe(batch)
	}); err != nil {
		return nil, err
	}
	return j, nil
}

// Header returns the journal header.
func (j *Journal) Header() Header {
	return j.header
}

// Entries returns the number of entries stored in the journal.
func (j *Journal) Entries() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.entries
}

// HighestID returns the highest object ID journaled so far with the blob mask stripped.
// IDs issued by a store reopening the journal must be above it.
func (j *Journal) HighestID() types.ObjectID {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.highestID
}

// Append writes entries as a single frame and syncs the device. Either all the entries
// become part of the journal or none of them.
func (j *Journal) Append(entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	raw, err := encMode.Marshal(entries)
	if err != nil {
		return errors.Wrap(err, "encoding journal entries failed")
	}
	if len(raw) > MaxFrameSize {
		return errors.Errorf("journal frame is too big: %d bytes", len(raw))
	}
	payload, compression, err := compress(raw, j.header.Compression)
	if err != nil {
		return err
	}

	frame := make([]byte, frameHeaderSize+len(payload)+frameLengthSize)
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	frame[frameLengthSize] = byte(compression)
	binary.LittleEndian.PutUint32(frame[frameLengthSize+1:], uint32(len(raw)))
	checksum := j.frameChecksum(frame[frameLengthSize:frameLengthSize+5], payload)
	copy(frame[frameLengthSize+5:], checksum[:])
	copy(frame[frameHeaderSize:], payload)

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.dev.Seek(j.end, io.SeekStart); err != nil {
		return errors.WithStack(err)
	}
	if _, err := j.dev.Write(frame); err != nil {
		return errors.WithStack(err)
	}
	if err := j.dev.Sync(); err != nil {
		return errors.WithStack(err)
	}

	j.end += int64(frameHeaderSize + len(payload))
	j.entries += len(entries)
	j.observe(entries)
	return nil
}

func (j *Journal) observe(entries []Entry) {
	for _, e := range entries {
		j.raiseHighestID(e.ID)
		for _, m := range e.Members {
			j.raiseHighestID(m.ID)
		}
	}
}

func (j *Journal) raiseHighestID(id types.ObjectID) {
	if id == types.InvalidObjectID {
		return
	}
	if id &^= types.BlobIDMask; id > j.highestID {
		j.highestID = id
	}
}

// ForEach calls fn for every entry in the journal order.
func (j *Journal) ForEach(fn func(e Entry)) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	end := j.end
	err := j.scan(func(batch []Entry) {
		for _, e := range batch {
			fn(e)
		}
	})
	j.end = end
	return err
}

// scan reads frames from the beginning. It stops at the end marker or at a torn frame.
func (j *Journal) scan(fn func(batch []Entry)) error {
	offset := int64(HeaderSize)
	if _, err := j.dev.Seek(offset, io.SeekStart); err != nil {
		return errors.WithStack(err)
	}

	hdr := make([]byte, frameHeaderSize)
	for {
		if _, err := io.ReadFull(j.dev, hdr[:frameLengthSize]); err != nil {
			if isTorn(err) {
				break
			}
			return errors.WithStack(err)
		}
		length := binary.LittleEndian.Uint32(hdr)
		if length == 0 {
			break
		}
		if length > MaxFrameSize {
			return errors.Errorf("journal frame at offset %d is too big: %d bytes", offset, length)
		}

		if _, err := io.ReadFull(j.dev, hdr[frameLengthSize:]); err != nil {
			if isTorn(err) {
				break
			}
			return errors.WithStack(err)
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(j.dev, payload); err != nil {
			if isTorn(err) {
				break
			}
			return errors.WithStack(err)
		}

		batch, err := j.decodeFrame(hdr, payload)
		if err != nil {
			return errors.WithMessagef(err, "journal frame at offset %d", offset)
		}
		fn(batch)
		offset += int64(frameHeaderSize) + int64(length)
	}

	j.end = offset
	return nil
}

func (j *Journal) decodeFrame(hdr, payload []byte) ([]Entry, error) {
	compression := Compression(hdr[frameLengthSize])
	rawLength := binary.LittleEndian.Uint32(hdr[frameLengthSize+1:])
	if rawLength > MaxFrameSize {
		return nil, errors.Errorf("raw frame is too big: %d bytes", rawLength)
	}

	var stored Checksum
	copy(stored[:], hdr[frameLengthSize+5:])
	computed := j.frameChecksum(hdr[frameLengthSize:frameLengthSize+5], payload)
	if stored != computed {
		return nil, errors.Errorf("checksum mismatch, computed: %s, stored: %s",
			hex.EncodeToString(computed[:]), hex.EncodeToString(stored[:]))
	}

	raw, err := decompress(payload, compression, int(rawLength))
	if err != nil {
		return nil, err
	}

	var batch []Entry
	if err := decMode.Unmarshal(raw, &batch); err != nil {
		return nil, errors.Wrap(err, "decoding journal entries failed")
	}
	return batch, nil
}

// frameChecksum binds the frame to the journal instance, so frames of the previous journal never verify.
func (j *Journal) frameChecksum(meta, payload []byte) Checksum {
	return keyedChecksum(frameDomainKey, j.header.InstanceID[:], meta, payload)
}

func isTorn(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
