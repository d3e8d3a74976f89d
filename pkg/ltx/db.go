package ltx

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"
)

// sqliteHeaderSize is the size of the header at the start of every database file.
const sqliteHeaderSize = 100

// DBInfo describes the geometry of a database file.
type DBInfo struct {
	PageSize PageSize
	Commit   PageNum
}

// ReadDBInfo reads the page size from the SQLite file header and derives the
// page count from the file size.
func ReadDBInfo(f *os.File) (DBInfo, error) {
	fi, err := f.Stat()
	if err != nil {
		return DBInfo{}, err
	}

	hdr := make([]byte, sqliteHeaderSize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		return DBInfo{}, fmt.Errorf("read database header: %w", err)
	}

	// Page size lives at offset 16; the value 1 means 64K.
	pageSize := PageSize(binary.BigEndian.Uint16(hdr[16:18]))
	if pageSize == 1 {
		pageSize = MaxPageSize
	}
	if err := pageSize.Validate(); err != nil {
		return DBInfo{}, err
	}

	if fi.Size()%int64(pageSize) != 0 {
		return DBInfo{}, fmt.Errorf("database size %d is not a multiple of page size %s", fi.Size(), pageSize)
	}
	commit := PageNum(fi.Size() / int64(pageSize))
	if err := commit.Validate(); err != nil {
		return DBInfo{}, fmt.Errorf("empty database file")
	}

	return DBInfo{PageSize: pageSize, Commit: commit}, nil
}

// ChecksumDB computes the running checksum of a database file: the XOR of the
// page checksums of every page except the lock page.
func ChecksumDB(path string) (Checksum, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := ReadDBInfo(f)
	if err != nil {
		return 0, err
	}
	return checksumPages(f, info)
}

func checksumPages(f *os.File, info DBInfo) (Checksum, error) {
	lock := LockPgno(info.PageSize)
	buf := make([]byte, info.PageSize)
	checksum := NewChecksum(0)

	for pgno := PageNum(1); pgno <= info.Commit; pgno++ {
		if pgno == lock {
			continue
		}
		if _, err := f.ReadAt(buf, pageOffset(pgno, info.PageSize)); err != nil {
			return 0, fmt.Errorf("read page %s: %w", pgno, err)
		}
		checksum = checksum.Xor(PageChecksum(pgno, buf))
	}

	return checksum, nil
}

func pageOffset(pgno PageNum, pageSize PageSize) int64 {
	return int64(pgno-1) * int64(pageSize)
}

// EncodeDB encodes a database file into a snapshot LTX file written to w.
func EncodeDB(w io.Writer, dbPath string, compress bool) (*Header, *Trailer, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	info, err := ReadDBInfo(f)
	if err != nil {
		return nil, nil, err
	}

	var flags uint32
	if compress {
		flags |= HeaderFlagCompressLZ4
	}
	hdr := Header{
		Flags:     flags,
		PageSize:  info.PageSize,
		Commit:    info.Commit,
		MinTXID:   1,
		MaxTXID:   1,
		Timestamp: time.Now(),
	}

	enc, err := NewEncoder(w, hdr)
	if err != nil {
		return nil, nil, err
	}

	lock := LockPgno(info.PageSize)
	buf := make([]byte, info.PageSize)
	checksum := NewChecksum(0)
	for pgno := PageNum(1); pgno <= info.Commit; pgno++ {
		if pgno == lock {
			continue
		}
		if _, err := f.ReadAt(buf, pageOffset(pgno, info.PageSize)); err != nil {
			return nil, nil, fmt.Errorf("read page %s: %w", pgno, err)
		}
		if err := enc.EncodePage(pgno, buf); err != nil {
			return nil, nil, err
		}
		checksum = checksum.Xor(PageChecksum(pgno, buf))
	}

	trailer, err := enc.Close(checksum)
	if err != nil {
		return nil, nil, err
	}
	return &hdr, &trailer, nil
}

// ApplyLTX applies LTX files to a database file in order, verifying checksum
// continuity: a non-snapshot file must match the database's current checksum
// before it is applied, and the database is verified against the post-apply
// checksum afterwards. Returns the resulting position.
func ApplyLTX(dbPath string, ltxPaths []string) (*Pos, error) {
	db, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var pos *Pos
	for _, path := range ltxPaths {
		p, err := applyFile(db, path)
		if err != nil {
			return nil, fmt.Errorf("apply %s: %w", path, err)
		}
		pos = p
	}

	if err := db.Sync(); err != nil {
		return nil, err
	}
	return pos, nil
}

func applyFile(db *os.File, path string) (*Pos, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := NewDecoder(f)
	if err != nil {
		return nil, err
	}
	hdr := dec.Header()

	if !hdr.IsSnapshot() {
		fi, err := db.Stat()
		if err != nil {
			return nil, err
		}
		if fi.Size()%int64(hdr.PageSize) != 0 {
			return nil, fmt.Errorf("database size %d is not a multiple of page size %s", fi.Size(), hdr.PageSize)
		}
		current, err := checksumPages(db, DBInfo{PageSize: hdr.PageSize, Commit: PageNum(fi.Size() / int64(hdr.PageSize))})
		if err != nil {
			return nil, fmt.Errorf("checksum current database: %w", err)
		}
		if current != hdr.PreApplyChecksum {
			return nil, fmt.Errorf("pre-apply checksum mismatch: database %s, file %s", current, hdr.PreApplyChecksum)
		}
	}

	buf := make([]byte, hdr.PageSize)
	for {
		pgno, err := dec.DecodePage(buf)
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		if _, err := db.WriteAt(buf, pageOffset(pgno, hdr.PageSize)); err != nil {
			return nil, fmt.Errorf("write page %s: %w", pgno, err)
		}
	}

	trailer, err := dec.Close()
	if err != nil {
		return nil, err
	}

	if err := db.Truncate(int64(hdr.Commit) * int64(hdr.PageSize)); err != nil {
		return nil, err
	}

	applied, err := checksumPages(db, DBInfo{PageSize: hdr.PageSize, Commit: hdr.Commit})
	if err != nil {
		return nil, fmt.Errorf("checksum applied database: %w", err)
	}
	if applied != trailer.PostApplyChecksum {
		return nil, fmt.Errorf("post-apply checksum mismatch: database %s, file %s", applied, trailer.PostApplyChecksum)
	}

	return &Pos{TXID: hdr.MaxTXID, PostApplyChecksum: trailer.PostApplyChecksum}, nil
}
