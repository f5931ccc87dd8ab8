package persistence

import (
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/shelf/pkg/memdev"
	"github.com/outofforest/shelf/types"
)

func newJournal(requireT *require.Assertions, compression Compression) (*memdev.MemDev, *Journal) {
	dev := memdev.New(0)
	requireT.NoError(Initialize(dev, false, compression, uuid.New()))
	j, err := OpenJournal(dev)
	requireT.NoError(err)
	return dev, j
}

func arrayRecord(id types.ObjectID, note string) *types.Record {
	return &types.Record{
		ID:       id,
		Kind:     types.KindArray,
		TypeName: "float64",
		Fields: map[string]any{
			types.ArrayLengthField: 3,
			"note":                 note,
		},
		Members: []types.Member{{Name: types.ArrayBufferSlot, ID: types.BlobIDMask | 7}},
	}
}

func entries(requireT *require.Assertions, j *Journal) []Entry {
	var result []Entry
	requireT.NoError(j.ForEach(func(e Entry) {
		result = append(result, e)
	}))
	return result
}

func TestAppendAndReopen(t *testing.T) {
	requireT := require.New(t)

	dev, j := newJournal(requireT, CompressionNone)
	at := time.Unix(100, 5)

	requireT.NoError(j.Append(PersistEntry(arrayRecord(1, "a"), at)))
	requireT.NoError(j.Append(DeleteEntry(1, at), DeleteEntry(2, at)))
	requireT.NoError(j.Append())
	requireT.Equal(3, j.Entries())

	j2, err := OpenJournal(dev)
	requireT.NoError(err)
	requireT.Equal(3, j2.Entries())

	es := entries(requireT, j2)
	requireT.Len(es, 3)
	requireT.Equal(OpPersist, es[0].Op)
	requireT.Equal(types.ObjectID(1), es[0].ID)
	requireT.Equal(types.KindArray, es[0].Kind)
	requireT.Equal("float64", es[0].TypeName)
	requireT.Equal([]EntryMember{{Name: types.ArrayBufferSlot, ID: types.BlobIDMask | 7}}, es[0].Members)
	requireT.Equal(uint64(3), es[0].Fields[types.ArrayLengthField])
	requireT.Equal("a", es[0].Fields["note"])
	requireT.Equal(at.UnixNano(), es[0].At)
	requireT.Equal(Entry{Op: OpDelete, ID: 1, At: at.UnixNano()}, es[1])
	requireT.Equal(Entry{Op: OpDelete, ID: 2, At: at.UnixNano()}, es[2])

	// Appending after reopening continues the journal

	requireT.NoError(j2.Append(DeleteEntry(3, at)))
	j3, err := OpenJournal(dev)
	requireT.NoError(err)
	requireT.Equal(4, j3.Entries())
}

func TestCompressedFrames(t *testing.T) {
	for _, compression := range []Compression{CompressionLZ4, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			requireT := require.New(t)

			dev, j := newJournal(requireT, compression)
			note := strings.Repeat("compressible ", 512)
			requireT.NoError(j.Append(PersistEntry(arrayRecord(1, note), time.Now())))
			requireT.Equal(byte(compression), dev.Bytes()[HeaderSize+frameLengthSize])

			j2, err := OpenJournal(dev)
			requireT.NoError(err)
			es := entries(requireT, j2)
			requireT.Len(es, 1)
			requireT.Equal(note, es[0].Fields["note"])
		})
	}
}

func TestIncompressibleData(t *testing.T) {
	requireT := require.New(t)

	data := make([]byte, 1024)
	_, err := rand.Read(data)
	requireT.NoError(err)

	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		out, c, err := compress(data, compression)
		requireT.NoError(err)
		requireT.Equal(CompressionNone, c)
		requireT.Equal(data, out)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	requireT := require.New(t)

	data := []byte(strings.Repeat("shelf", 1000))
	for _, compression := range []Compression{CompressionLZ4, CompressionZstd} {
		out, c, err := compress(data, compression)
		requireT.NoError(err)
		requireT.Equal(compression, c)
		requireT.Less(len(out), len(data))

		restored, err := decompress(out, c, len(data))
		requireT.NoError(err)
		requireT.Equal(data, restored)

		_, err = decompress(out, c, len(data)+1)
		requireT.Error(err)
	}
}

func TestParseCompression(t *testing.T) {
	requireT := require.New(t)

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		parsed, err := ParseCompression(c.String())
		requireT.NoError(err)
		requireT.Equal(c, parsed)
	}
	parsed, err := ParseCompression("")
	requireT.NoError(err)
	requireT.Equal(CompressionNone, parsed)

	_, err = ParseCompression("gzip")
	requireT.Error(err)
}

func TestTornTail(t *testing.T) {
	requireT := require.New(t)

	dev, j := newJournal(requireT, CompressionNone)
	requireT.NoError(j.Append(DeleteEntry(1, time.Now())))
	requireT.NoError(j.Append(PersistEntry(arrayRecord(2, "torn"), time.Now())))

	// End marker and part of the last frame are lost.

	full := dev.Bytes()
	torn := memdev.New(0)
	_, err := torn.Write(full[:len(full)-10])
	requireT.NoError(err)

	j2, err := OpenJournal(torn)
	requireT.NoError(err)
	requireT.Equal(1, j2.Entries())

	// Torn frame is overwritten by the next append

	requireT.NoError(j2.Append(DeleteEntry(3, time.Now())))
	j3, err := OpenJournal(torn)
	requireT.NoError(err)
	es := entries(requireT, j3)
	requireT.Len(es, 2)
	requireT.Equal(types.ObjectID(1), es[0].ID)
	requireT.Equal(types.ObjectID(3), es[1].ID)
}

func TestFrameChecksumMismatch(t *testing.T) {
	requireT := require.New(t)

	dev, j := newJournal(requireT, CompressionNone)
	requireT.NoError(j.Append(DeleteEntry(1, time.Now())))
	dev.Bytes()[HeaderSize+frameHeaderSize+1] ^= 0xff

	_, err := OpenJournal(dev)
	requireT.ErrorContains(err, "checksum mismatch")
}

func TestFramesOfPreviousJournalAreIgnored(t *testing.T) {
	requireT := require.New(t)

	dev, j := newJournal(requireT, CompressionNone)
	requireT.NoError(j.Append(DeleteEntry(1, time.Now())))
	requireT.NoError(Initialize(dev, true, CompressionNone, uuid.New()))

	j2, err := OpenJournal(dev)
	requireT.NoError(err)
	requireT.Equal(0, j2.Entries())
}

func TestHighestID(t *testing.T) {
	requireT := require.New(t)

	dev, j := newJournal(requireT, CompressionZstd)
	requireT.Zero(j.HighestID())

	at := time.Unix(100, 0)
	requireT.NoError(j.Append(PersistEntry(arrayRecord(3, "a"), at)))
	requireT.Equal(types.ObjectID(7), j.HighestID())

	requireT.NoError(j.Append(DeleteEntry(9, at)))
	requireT.Equal(types.ObjectID(9), j.HighestID())

	j2, err := OpenJournal(dev)
	requireT.NoError(err)
	requireT.Equal(types.ObjectID(9), j2.HighestID())
}
