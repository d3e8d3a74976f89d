package ltx

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc64"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Encoder writes an LTX file to an underlying writer.
//
// Pages must be encoded in the order the header demands: a snapshot file
// (MinTXID == 1) carries every page from 1 up to Commit in sequence, skipping
// the lock page; a non-snapshot file carries a strictly increasing subset.
type Encoder struct {
	w      io.Writer
	lzw    *lz4.Writer
	digest hash.Hash64

	header   Header
	lockPgno PageNum
	prevPgno PageNum
	closed   bool
}

// NewEncoder validates hdr, writes it to w and returns an encoder for the page
// block. When hdr carries HeaderFlagCompressLZ4 the page block is written
// through an LZ4 frame; the file checksum always covers the uncompressed bytes.
func NewEncoder(w io.Writer, hdr Header) (*Encoder, error) {
	b, err := hdr.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}

	enc := &Encoder{
		w:        w,
		digest:   crc64.New(crcTable),
		header:   hdr,
		lockPgno: LockPgno(hdr.PageSize),
	}
	_, _ = enc.digest.Write(b)
	if _, err := w.Write(b); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	if hdr.Flags&HeaderFlagCompressLZ4 != 0 {
		enc.lzw = lz4.NewWriter(w)
		if err := enc.lzw.Apply(lz4.BlockSizeOption(lz4.Block64Kb)); err != nil {
			return nil, err
		}
	}

	return enc, nil
}

// Header returns the header passed to NewEncoder.
func (enc *Encoder) Header() Header {
	return enc.header
}

// EncodePage writes a single page. data must be exactly one page long.
func (enc *Encoder) EncodePage(pgno PageNum, data []byte) error {
	if enc.closed {
		return fmt.Errorf("encoder closed")
	}
	if err := enc.validatePgno(pgno); err != nil {
		return err
	}
	if len(data) != int(enc.header.PageSize) {
		return fmt.Errorf("invalid page buffer size: %d, expected %s", len(data), enc.header.PageSize)
	}

	var hdr [PageHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(pgno))
	if err := enc.write(hdr[:]); err != nil {
		return err
	}
	if err := enc.write(data); err != nil {
		return err
	}

	enc.prevPgno = pgno
	return nil
}

func (enc *Encoder) validatePgno(pgno PageNum) error {
	if err := pgno.Validate(); err != nil {
		return err
	}
	if pgno == enc.lockPgno {
		return fmt.Errorf("cannot encode lock page: %s", pgno)
	}

	if enc.header.IsSnapshot() {
		if enc.prevPgno == 0 {
			if pgno != 1 {
				return fmt.Errorf("snapshot transaction file must start with page number 1")
			}
			return nil
		}
		expected := enc.prevPgno + 1
		if expected == enc.lockPgno {
			expected++
		}
		if pgno != expected {
			return fmt.Errorf("nonsequential page numbers in snapshot transaction: %s, %s", enc.prevPgno, pgno)
		}
	} else if enc.prevPgno != 0 && pgno <= enc.prevPgno {
		return fmt.Errorf("out-of-order page numbers: %s, %s", enc.prevPgno, pgno)
	}

	return nil
}

// write pushes bytes through the digest and then to the (possibly compressed) output.
func (enc *Encoder) write(b []byte) error {
	_, _ = enc.digest.Write(b)
	var err error
	if enc.lzw != nil {
		_, err = enc.lzw.Write(b)
	} else {
		_, err = enc.w.Write(b)
	}
	return err
}

// Close terminates the page block, folds postApplyChecksum into the file
// checksum and writes the trailer. The trailer is never compressed.
func (enc *Encoder) Close(postApplyChecksum Checksum) (Trailer, error) {
	if enc.closed {
		return Trailer{}, fmt.Errorf("encoder closed")
	}
	enc.closed = true

	// Zero page number terminates the page block.
	var sentinel [PageHeaderSize]byte
	if err := enc.write(sentinel[:]); err != nil {
		return Trailer{}, err
	}

	if enc.lzw != nil {
		if err := enc.lzw.Close(); err != nil {
			return Trailer{}, fmt.Errorf("close lz4 frame: %w", err)
		}
	}

	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(postApplyChecksum))
	_, _ = enc.digest.Write(b[:])

	trailer := Trailer{
		PostApplyChecksum: postApplyChecksum,
		FileChecksum:      NewChecksum(enc.digest.Sum64()),
	}
	tb, err := trailer.MarshalBinary()
	if err != nil {
		return Trailer{}, err
	}
	if _, err := enc.w.Write(tb); err != nil {
		return Trailer{}, fmt.Errorf("write trailer: %w", err)
	}

	return trailer, nil
}
