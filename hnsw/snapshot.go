package hnsw

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/recallgraph/blobstore"
)

// Codec selects the snapshot compression algorithm.
type Codec uint8

const (
	// CodecZstd compresses snapshots with zstandard. Default.
	CodecZstd Codec = iota

	// CodecLZ4 trades compression ratio for faster snapshot writes.
	CodecLZ4
)

// snapshotMagic identifies recallgraph index snapshots.
var snapshotMagic = [4]byte{'R', 'G', 'S', 'N'}

const snapshotVersion = 1

func init() {
	// Metadata values travel through an interface field.
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(time.Time{})
}

// snapshotPayload is the gob-encoded body of a snapshot.
type snapshotPayload struct {
	Dimension  int
	Metric     uint8
	Slots      []slot
	Tombstones []byte
	EntryPoint uint32
	MaxLevel   int
	Built      bool
	Live       int
}

// SaveSnapshot serializes the current graph to the blob store under name.
// The write is a single atomic Put; a concurrent reader sees either the
// previous snapshot or the new one.
func (idx *Index) SaveSnapshot(ctx context.Context, store blobstore.Store, name string, codec Codec) error {
	idx.mu.RLock()
	g := idx.current.Load()

	tombs, err := g.Tombstones.MarshalBinary()
	if err != nil {
		idx.mu.RUnlock()
		return fmt.Errorf("marshal tombstones: %w", err)
	}

	payload := snapshotPayload{
		Dimension:  idx.opts.Dimension,
		Metric:     uint8(idx.opts.Metric),
		Slots:      g.Slots,
		Tombstones: tombs,
		EntryPoint: g.EntryPoint,
		MaxLevel:   g.MaxLevel,
		Built:      g.Built,
		Live:       g.Live,
	}

	var buf bytes.Buffer
	buf.Write(snapshotMagic[:])
	buf.WriteByte(snapshotVersion)
	buf.WriteByte(byte(codec))

	switch codec {
	case CodecZstd:
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			idx.mu.RUnlock()
			return fmt.Errorf("zstd writer: %w", err)
		}
		if err := gob.NewEncoder(zw).Encode(payload); err != nil {
			idx.mu.RUnlock()
			return fmt.Errorf("encode snapshot: %w", err)
		}
		if err := zw.Close(); err != nil {
			idx.mu.RUnlock()
			return fmt.Errorf("close zstd: %w", err)
		}
	case CodecLZ4:
		lw := lz4.NewWriter(&buf)
		if err := gob.NewEncoder(lw).Encode(payload); err != nil {
			idx.mu.RUnlock()
			return fmt.Errorf("encode snapshot: %w", err)
		}
		if err := lw.Close(); err != nil {
			idx.mu.RUnlock()
			return fmt.Errorf("close lz4: %w", err)
		}
	default:
		idx.mu.RUnlock()
		return fmt.Errorf("unknown snapshot codec: %d", codec)
	}
	idx.mu.RUnlock()

	return store.Put(ctx, name, bytes.NewReader(buf.Bytes()))
}

// LoadSnapshot restores the graph from the blob store. It returns false when
// no snapshot exists or the snapshot is unreadable; in both cases the index is
// left empty and unbuilt so the caller can rebuild from the corpus. Only store
// transport failures are returned as errors.
func (idx *Index) LoadSnapshot(ctx context.Context, store blobstore.Store, name string) (bool, error) {
	rc, err := store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return false, err
	}

	payload, ok := decodeSnapshot(data)
	if !ok || payload.Dimension != idx.opts.Dimension || payload.Metric != uint8(idx.opts.Metric) {
		idx.resetEmpty()
		return false, nil
	}

	g := newGraph()
	g.Slots = payload.Slots
	g.EntryPoint = payload.EntryPoint
	g.MaxLevel = payload.MaxLevel
	g.Built = payload.Built
	g.Live = payload.Live
	if err := g.Tombstones.UnmarshalBinary(payload.Tombstones); err != nil {
		idx.resetEmpty()
		return false, nil
	}
	for label, s := range g.Slots {
		if !g.Tombstones.Contains(uint32(label)) {
			g.Labels[s.ID] = uint32(label)
		}
	}

	idx.mu.Lock()
	idx.current.Store(g)
	idx.updatesSinceBuild.Store(0)
	idx.mu.Unlock()

	return true, nil
}

func decodeSnapshot(data []byte) (snapshotPayload, bool) {
	var payload snapshotPayload

	if len(data) < len(snapshotMagic)+2 || !bytes.Equal(data[:4], snapshotMagic[:]) {
		return payload, false
	}
	if data[4] != snapshotVersion {
		return payload, false
	}

	body := bytes.NewReader(data[6:])
	var r io.Reader
	switch Codec(data[5]) {
	case CodecZstd:
		zr, err := zstd.NewReader(body)
		if err != nil {
			return payload, false
		}
		defer zr.Close()
		r = zr
	case CodecLZ4:
		r = lz4.NewReader(body)
	default:
		return payload, false
	}

	if err := gob.NewDecoder(r).Decode(&payload); err != nil {
		return payload, false
	}
	return payload, true
}

func (idx *Index) resetEmpty() {
	idx.mu.Lock()
	idx.current.Store(newGraph())
	idx.updatesSinceBuild.Store(0)
	idx.mu.Unlock()
}
