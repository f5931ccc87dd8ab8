package types

import "sync/atomic"

// IDGenerator issues object IDs. IDs are never reused within the generator lifetime.
type IDGenerator struct {
	next atomic.Uint64
}

// NextRecordID returns new record ID.
func (g *IDGenerator) NextRecordID() ObjectID {
	return ObjectID(g.next.Add(1)) &^ BlobIDMask
}

// NextBlobID returns new blob ID. It never returns EmptyBlobID.
func (g *IDGenerator) NextBlobID() ObjectID {
	return ObjectID(g.next.Add(1)) | BlobIDMask
}

// Advance moves the generator past the ID, so IDs issued later never collide with it.
// Record and blob IDs share one counter, so advancing past either one covers both spaces.
func (g *IDGenerator) Advance(id ObjectID) {
	if id == InvalidObjectID {
		return
	}
	v := uint64(id &^ BlobIDMask)
	for {
		current := g.next.Load()
		if current >= v || g.next.CompareAndSwap(current, v) {
			return
		}
	}
}
