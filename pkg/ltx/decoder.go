package ltx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc64"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Decoder reads an LTX file from an underlying reader, verifying the file
// checksum as it goes.
type Decoder struct {
	r      io.Reader
	lzr    *lz4.Reader
	digest hash.Hash64

	header    Header
	pagesDone bool
	closed    bool
}

// NewDecoder reads and validates the header from r and returns a decoder for
// the page block.
func NewDecoder(r io.Reader) (*Decoder, error) {
	dec := &Decoder{
		r:      r,
		digest: crc64.New(crcTable),
	}

	b := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	_, _ = dec.digest.Write(b)
	if err := dec.header.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}

	if dec.header.Flags&HeaderFlagCompressLZ4 != 0 {
		dec.lzr = lz4.NewReader(r)
	}

	return dec, nil
}

// Header returns the decoded file header.
func (dec *Decoder) Header() Header {
	return dec.header
}

// DecodePage reads the next page into data, which must be exactly one page
// long, and returns its page number. It returns io.EOF once the page block's
// terminating sentinel has been read.
func (dec *Decoder) DecodePage(data []byte) (PageNum, error) {
	if dec.pagesDone {
		return 0, io.EOF
	}
	if len(data) != int(dec.header.PageSize) {
		return 0, fmt.Errorf("invalid page buffer size: %d, expected %s", len(data), dec.header.PageSize)
	}

	var hdr [PageHeaderSize]byte
	if err := dec.read(hdr[:]); err != nil {
		return 0, fmt.Errorf("read page header: %w", err)
	}
	pgno := PageNum(binary.BigEndian.Uint32(hdr[:]))
	if pgno == 0 {
		dec.pagesDone = true
		return 0, io.EOF
	}

	if err := dec.read(data); err != nil {
		return 0, fmt.Errorf("read page %s: %w", pgno, err)
	}

	return pgno, nil
}

// read fills b from the (possibly compressed) input and folds the uncompressed
// bytes into the digest.
func (dec *Decoder) read(b []byte) error {
	var err error
	if dec.lzr != nil {
		_, err = io.ReadFull(dec.lzr, b)
	} else {
		_, err = io.ReadFull(dec.r, b)
	}
	if err != nil {
		return err
	}
	_, _ = dec.digest.Write(b)
	return nil
}

// Close reads the trailer and verifies the file checksum. All pages must have
// been decoded first.
func (dec *Decoder) Close() (Trailer, error) {
	if dec.closed {
		return Trailer{}, fmt.Errorf("decoder closed")
	}
	if !dec.pagesDone {
		return Trailer{}, fmt.Errorf("page block not fully decoded")
	}
	dec.closed = true

	if dec.lzr != nil {
		var tmp [1]byte
		if n, err := dec.lzr.Read(tmp[:]); n != 0 || !errors.Is(err, io.EOF) {
			return Trailer{}, fmt.Errorf("expected lz4 end frame")
		}
	}

	b := make([]byte, TrailerSize)
	if _, err := io.ReadFull(dec.r, b); err != nil {
		return Trailer{}, fmt.Errorf("read trailer: %w", err)
	}
	var trailer Trailer
	if err := trailer.UnmarshalBinary(b); err != nil {
		return Trailer{}, fmt.Errorf("decode trailer: %w", err)
	}

	var pb [8]byte
	binary.BigEndian.PutUint64(pb[:], uint64(trailer.PostApplyChecksum))
	_, _ = dec.digest.Write(pb[:])

	if NewChecksum(dec.digest.Sum64()) != trailer.FileChecksum {
		return Trailer{}, ErrChecksumMismatch
	}

	return trailer, nil
}

// Verify decodes the entire stream, discarding page data, and returns the
// header and trailer. It fails on any checksum or structure error.
func Verify(r io.Reader) (*Header, *Trailer, error) {
	dec, err := NewDecoder(r)
	if err != nil {
		return nil, nil, err
	}
	hdr := dec.Header()

	buf := make([]byte, hdr.PageSize)
	for {
		if _, err := dec.DecodePage(buf); err == io.EOF {
			break
		} else if err != nil {
			return nil, nil, err
		}
	}

	trailer, err := dec.Close()
	if err != nil {
		return nil, nil, err
	}
	return &hdr, &trailer, nil
}
