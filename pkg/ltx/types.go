package ltx

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrZeroTXID    = errors.New("transaction ID must be non-zero")
	ErrZeroPageNum = errors.New("page number must be non-zero")
)

// TXID is the ID of a database transaction.
type TXID uint64

func (t TXID) Validate() error {
	if t == 0 {
		return ErrZeroTXID
	}
	return nil
}

// String returns the fixed-width hexadecimal representation used on disk and in JSON.
func (t TXID) String() string {
	return fmt.Sprintf("%016x", uint64(t))
}

// ParseTXID parses a hexadecimal transaction ID.
func ParseTXID(s string) (TXID, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("non-integer transaction ID: %q", s)
	}
	t := TXID(v)
	if err := t.Validate(); err != nil {
		return 0, err
	}
	return t, nil
}

func (t TXID) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TXID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseTXID(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ChecksumFlag is always set on valid database checksums so that a valid
// checksum can never be zero.
const ChecksumFlag Checksum = 1 << 63

// Checksum is a database or file checksum.
type Checksum uint64

// NewChecksum returns a Checksum with the flag bit set.
func NewChecksum(v uint64) Checksum {
	return Checksum(v) | ChecksumFlag
}

// Xor combines two checksums. The flag bit survives the combination.
func (c Checksum) Xor(other Checksum) Checksum {
	return (c ^ other) | ChecksumFlag
}

func (c Checksum) String() string {
	return fmt.Sprintf("%016x", uint64(c))
}

// ParseChecksum parses a hexadecimal checksum. The flag bit is set on the result.
func ParseChecksum(s string) (Checksum, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("non-integer checksum: %q", s)
	}
	return NewChecksum(v), nil
}

func (c Checksum) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Checksum) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseChecksum(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// PageSize is a database page size in bytes.
type PageSize uint32

const (
	MinPageSize PageSize = 512
	MaxPageSize PageSize = 65536
)

func (s PageSize) Validate() error {
	if s < MinPageSize || s > MaxPageSize || s&(s-1) != 0 {
		return fmt.Errorf("unsupported page size: %d", s)
	}
	return nil
}

func (s PageSize) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// PageNum is a database page number. Page numbers start at 1.
type PageNum uint32

func (n PageNum) Validate() error {
	if n == 0 {
		return ErrZeroPageNum
	}
	return nil
}

func (n PageNum) String() string {
	return strconv.FormatUint(uint64(n), 10)
}

// Path returns the fixed-width hexadecimal form used as an on-disk filename.
func (n PageNum) Path() string {
	return fmt.Sprintf("%08x", uint32(n))
}

// ParsePageNumPath parses the on-disk filename form of a page number.
func ParsePageNumPath(s string) (PageNum, error) {
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid page number path: %q", s)
	}
	n := PageNum(v)
	if err := n.Validate(); err != nil {
		return 0, err
	}
	return n, nil
}

// LockPgno returns the SQLite lock byte page number for the given page size.
// See https://www.sqlite.org/fileformat.html#the_lock_byte_page
func LockPgno(pageSize PageSize) PageNum {
	return PageNum(0x40000000/uint32(pageSize) + 1)
}

// Pos uniquely identifies a state of a database.
type Pos struct {
	TXID              TXID     `json:"txid"`
	PostApplyChecksum Checksum `json:"postApplyChecksum"`
}

func (p Pos) String() string {
	return fmt.Sprintf("%s/%s", p.TXID, p.PostApplyChecksum)
}
