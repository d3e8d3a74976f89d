// Package ltx implements the LTX transaction file format: a header, a block of
// database pages, and a trailer carrying the post-apply database checksum and a
// running checksum of the file itself.
package ltx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc64"
	"time"
)

const (
	// Magic is the first four bytes of every LTX file.
	Magic = "LTX1"

	HeaderSize     = 100
	PageHeaderSize = 4
	TrailerSize    = 16
)

// HeaderFlagCompressLZ4 marks the page block as LZ4-frame compressed.
const HeaderFlagCompressLZ4 uint32 = 1 << 0

const headerFlagMask = HeaderFlagCompressLZ4

var (
	ErrInvalidMagic               = errors.New("invalid magic record")
	ErrPreApplyChecksumOnSnapshot = errors.New("pre-apply checksum must be unset on snapshots")
	ErrNoPreApplyChecksum         = errors.New("pre-apply checksum required on non-snapshot files")
	ErrChecksumMismatch           = errors.New("file checksum mismatch")
)

// File checksums use CRC-64/GO-ISO, matching the wire format.
var crcTable = crc64.MakeTable(crc64.ISO)

// Header is the fixed-size preamble of an LTX file.
type Header struct {
	// Flags changing the behavior of the encoder/decoder.
	Flags uint32

	// The size of the database pages encoded in the file.
	PageSize PageSize

	// The size of the database in pages.
	Commit PageNum

	// Minimum and maximum transaction IDs in the file. Equal when the file
	// contains a single transaction.
	MinTXID TXID
	MaxTXID TXID

	// The time when the LTX file was created. Millisecond precision on disk.
	Timestamp time.Time

	// Running database checksum before this LTX file is applied. Zero when the
	// file contains a full snapshot of the database.
	PreApplyChecksum Checksum
}

// IsSnapshot returns true if the file contains the full database, starting
// from the first transaction.
func (h *Header) IsSnapshot() bool {
	return h.MinTXID == 1
}

func (h *Header) Validate() error {
	if err := h.MinTXID.Validate(); err != nil {
		return fmt.Errorf("min TX ID: %w", err)
	}
	if err := h.MaxTXID.Validate(); err != nil {
		return fmt.Errorf("max TX ID: %w", err)
	}
	if h.MinTXID > h.MaxTXID {
		return fmt.Errorf("transaction ids out of order: (%s, %s)", h.MinTXID, h.MaxTXID)
	}
	if err := h.PageSize.Validate(); err != nil {
		return err
	}
	if err := h.Commit.Validate(); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	if h.IsSnapshot() && h.PreApplyChecksum != 0 {
		return ErrPreApplyChecksumOnSnapshot
	}
	if !h.IsSnapshot() && h.PreApplyChecksum == 0 {
		return ErrNoPreApplyChecksum
	}
	return nil
}

// MarshalBinary encodes the header into its fixed 100-byte form.
func (h *Header) MarshalBinary() ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if h.Flags&^headerFlagMask != 0 {
		return nil, fmt.Errorf("invalid flags record: %x", h.Flags)
	}

	b := make([]byte, HeaderSize)
	copy(b[0:4], Magic)
	binary.BigEndian.PutUint32(b[4:8], h.Flags)
	binary.BigEndian.PutUint32(b[8:12], uint32(h.PageSize))
	binary.BigEndian.PutUint32(b[12:16], uint32(h.Commit))
	binary.BigEndian.PutUint64(b[16:24], uint64(h.MinTXID))
	binary.BigEndian.PutUint64(b[24:32], uint64(h.MaxTXID))
	binary.BigEndian.PutUint64(b[32:40], uint64(h.Timestamp.UnixMilli()))
	binary.BigEndian.PutUint64(b[40:48], uint64(h.PreApplyChecksum))
	return b, nil
}

// UnmarshalBinary decodes and validates a 100-byte header.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) != HeaderSize {
		return fmt.Errorf("short header: %d bytes", len(b))
	}
	if string(b[0:4]) != Magic {
		return ErrInvalidMagic
	}

	flags := binary.BigEndian.Uint32(b[4:8])
	if flags&^headerFlagMask != 0 {
		return fmt.Errorf("invalid flags record: %x", flags)
	}

	h.Flags = flags
	h.PageSize = PageSize(binary.BigEndian.Uint32(b[8:12]))
	h.Commit = PageNum(binary.BigEndian.Uint32(b[12:16]))
	h.MinTXID = TXID(binary.BigEndian.Uint64(b[16:24]))
	h.MaxTXID = TXID(binary.BigEndian.Uint64(b[24:32]))
	h.Timestamp = time.UnixMilli(int64(binary.BigEndian.Uint64(b[32:40]))).UTC()
	if v := binary.BigEndian.Uint64(b[40:48]); v != 0 {
		h.PreApplyChecksum = NewChecksum(v)
	} else {
		h.PreApplyChecksum = 0
	}

	return h.Validate()
}

// Trailer is the fixed-size epilogue of an LTX file.
type Trailer struct {
	// Running database checksum after this LTX file has been applied.
	PostApplyChecksum Checksum

	// Checksum of the file itself, up to and including PostApplyChecksum.
	FileChecksum Checksum
}

func (t *Trailer) MarshalBinary() ([]byte, error) {
	b := make([]byte, TrailerSize)
	binary.BigEndian.PutUint64(b[0:8], uint64(t.PostApplyChecksum))
	binary.BigEndian.PutUint64(b[8:16], uint64(t.FileChecksum))
	return b, nil
}

func (t *Trailer) UnmarshalBinary(b []byte) error {
	if len(b) != TrailerSize {
		return fmt.Errorf("short trailer: %d bytes", len(b))
	}

	postApply := Checksum(binary.BigEndian.Uint64(b[0:8]))
	if postApply&ChecksumFlag == 0 {
		return fmt.Errorf("invalid post apply checksum: %s", postApply)
	}
	fileChecksum := Checksum(binary.BigEndian.Uint64(b[8:16]))
	if fileChecksum&ChecksumFlag == 0 {
		return fmt.Errorf("invalid file checksum: %s", fileChecksum)
	}

	t.PostApplyChecksum = postApply
	t.FileChecksum = fileChecksum
	return nil
}

// PageChecksum computes the checksum of a single database page.
func PageChecksum(pgno PageNum, data []byte) Checksum {
	h := crc64.New(crcTable)

	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(pgno))
	_, _ = h.Write(b[:])
	_, _ = h.Write(data)

	return NewChecksum(h.Sum64())
}
