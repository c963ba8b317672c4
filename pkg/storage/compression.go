package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/vjranagit/benchdaq/pkg/types"
)

// snapshotMagic prefixes every encoded snapshot frame
var snapshotMagic = []byte("BDQ1")

// maxFrameSamples caps the per-series sample count accepted by DecodeSnapshot
const maxFrameSamples = 1 << 26

// ErrBadFrame is returned when an encoded snapshot cannot be decoded
var ErrBadFrame = errors.New("malformed snapshot frame")

// Compressor encodes snapshots for export: sequence numbers and arrival
// times are delta-of-delta varints, values are XOR-encoded, every block is zstd.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a compressor. level runs from 1 (fastest) to 4 (best).
func NewCompressor(level int) (*Compressor, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// CompressTimestamps compresses monotonic-ish integers (cycle sequences, unix nanos)
func (c *Compressor) CompressTimestamps(timestamps []int64) []byte {
	if len(timestamps) == 0 {
		return nil
	}

	buf := binary.AppendVarint(nil, timestamps[0])
	var prevDelta int64
	for i := 1; i < len(timestamps); i++ {
		delta := timestamps[i] - timestamps[i-1]
		buf = binary.AppendVarint(buf, delta-prevDelta)
		prevDelta = delta
	}

	return c.encoder.EncodeAll(buf, make([]byte, 0, len(buf)))
}

// DecompressTimestamps reverses CompressTimestamps
func (c *Compressor) DecompressTimestamps(data []byte, count int) ([]int64, error) {
	if len(data) == 0 || count == 0 {
		return nil, nil
	}

	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	r := bytes.NewReader(raw)
	timestamps := make([]int64, count)
	if timestamps[0], err = binary.ReadVarint(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}

	var prevDelta int64
	for i := 1; i < count; i++ {
		dod, err := binary.ReadVarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
		}
		delta := dod + prevDelta
		timestamps[i] = timestamps[i-1] + delta
		prevDelta = delta
	}

	return timestamps, nil
}

// CompressValues compresses float64 values using XOR encoding + zstd
func (c *Compressor) CompressValues(values []float64) []byte {
	if len(values) == 0 {
		return nil
	}

	buf := make([]byte, 0, 8*len(values))
	var prevBits uint64
	for _, v := range values {
		bits := math.Float64bits(v)
		buf = binary.LittleEndian.AppendUint64(buf, bits^prevBits)
		prevBits = bits
	}

	return c.encoder.EncodeAll(buf, make([]byte, 0, len(buf)))
}

// DecompressValues reverses CompressValues
func (c *Compressor) DecompressValues(data []byte, count int) ([]float64, error) {
	if len(data) == 0 || count == 0 {
		return nil, nil
	}

	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}
	if len(raw) != 8*count {
		return nil, fmt.Errorf("%w: expected %d value bytes, got %d", ErrBadFrame, 8*count, len(raw))
	}

	values := make([]float64, count)
	var prevBits uint64
	for i := range values {
		bits := binary.LittleEndian.Uint64(raw[i*8:]) ^ prevBits
		values[i] = math.Float64frombits(bits)
		prevBits = bits
	}

	return values, nil
}

// EncodeSnapshot serialises a snapshot into a self-describing frame:
//
//	magic version nseries { keylen key total count seqs times values }*
//
// where seqs, times and values are length-prefixed compressed blocks.
func (c *Compressor) EncodeSnapshot(snap Snapshot) []byte {
	buf := append([]byte{}, snapshotMagic...)
	buf = binary.AppendUvarint(buf, snap.Version)
	buf = binary.AppendUvarint(buf, uint64(len(snap.Series)))

	for _, ss := range snap.Series {
		seqs := make([]int64, len(ss.Samples))
		times := make([]int64, len(ss.Samples))
		for i, sample := range ss.Samples {
			seqs[i] = int64(sample.Seq)
			times[i] = sample.Time.UnixNano()
		}

		buf = appendBlock(buf, []byte(ss.Key))
		buf = binary.AppendUvarint(buf, ss.Total)
		buf = binary.AppendUvarint(buf, uint64(len(ss.Samples)))
		buf = appendBlock(buf, c.CompressTimestamps(seqs))
		buf = appendBlock(buf, c.CompressTimestamps(times))
		buf = appendBlock(buf, c.CompressValues(ss.Values()))
	}

	return buf
}

// DecodeSnapshot parses a frame produced by EncodeSnapshot. Series metadata
// other than the key is not carried in the frame.
func (c *Compressor) DecodeSnapshot(data []byte) (Snapshot, error) {
	if !bytes.HasPrefix(data, snapshotMagic) {
		return Snapshot{}, ErrBadFrame
	}
	r := bytes.NewReader(data[len(snapshotMagic):])

	version, err := binary.ReadUvarint(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: version: %v", ErrBadFrame, err)
	}
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: series count: %v", ErrBadFrame, err)
	}

	snap := Snapshot{Version: version}
	for i := uint64(0); i < n; i++ {
		ss, err := c.decodeSeries(r)
		if err != nil {
			return Snapshot{}, fmt.Errorf("series %d: %w", i, err)
		}
		snap.Series = append(snap.Series, ss)
	}

	return snap, nil
}

// decodeSeries reads one series record
func (c *Compressor) decodeSeries(r *bytes.Reader) (SeriesSnapshot, error) {
	key, err := readBlock(r)
	if err != nil {
		return SeriesSnapshot{}, err
	}
	total, err := binary.ReadUvarint(r)
	if err != nil {
		return SeriesSnapshot{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return SeriesSnapshot{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if count > maxFrameSamples {
		return SeriesSnapshot{}, fmt.Errorf("%w: sample count %d too large", ErrBadFrame, count)
	}

	blocks := make([][]byte, 3)
	for i := range blocks {
		if blocks[i], err = readBlock(r); err != nil {
			return SeriesSnapshot{}, err
		}
		if count > 0 && len(blocks[i]) == 0 {
			return SeriesSnapshot{}, fmt.Errorf("%w: empty block for %d samples", ErrBadFrame, count)
		}
	}

	seqs, err := c.DecompressTimestamps(blocks[0], int(count))
	if err != nil {
		return SeriesSnapshot{}, err
	}
	times, err := c.DecompressTimestamps(blocks[1], int(count))
	if err != nil {
		return SeriesSnapshot{}, err
	}
	values, err := c.DecompressValues(blocks[2], int(count))
	if err != nil {
		return SeriesSnapshot{}, err
	}

	ss := SeriesSnapshot{
		Key:     types.SeriesKey(key),
		Meta:    SeriesMeta{ID: calculateFingerprint(types.SeriesKey(key)), Key: types.SeriesKey(key)},
		Total:   total,
		Samples: make([]types.Sample, count),
	}
	for i := range ss.Samples {
		ss.Samples[i] = types.Sample{
			Seq:   uint64(seqs[i]),
			Time:  time.Unix(0, times[i]),
			Value: values[i],
		}
	}

	return ss, nil
}

func appendBlock(buf, block []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(block)))
	return append(buf, block...)
}

func readBlock(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: block length %d exceeds frame", ErrBadFrame, n)
	}
	block := make([]byte, n)
	if _, err := r.Read(block); err != nil && n > 0 {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return block, nil
}

// Close closes the compressor resources
func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
