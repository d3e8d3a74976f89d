package ltx

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func encodeTestFile(t *testing.T, flags uint32, pages map[PageNum][]byte, pgnos []PageNum) (Header, Trailer, []byte) {
	t.Helper()

	hdr := Header{
		Flags:    flags,
		PageSize: 4096, Commit: 6,
		MinTXID: 5, MaxTXID: 6,
		Timestamp:        time.UnixMilli(time.Now().UnixMilli()).UTC(),
		PreApplyChecksum: NewChecksum(5),
	}

	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, hdr)
	require.NoError(t, err)

	for _, pgno := range pgnos {
		require.NoError(t, enc.EncodePage(pgno, pages[pgno]))
	}

	trailer, err := enc.Close(NewChecksum(6))
	require.NoError(t, err)

	return hdr, trailer, buf.Bytes()
}

func decoderTest(t *testing.T, flags uint32) {
	t.Helper()

	pgnos := []PageNum{4, 6}
	pages := map[PageNum][]byte{
		4: randomPage(t, 4096),
		6: randomPage(t, 4096),
	}
	hdr, trailer, file := encodeTestFile(t, flags, pages, pgnos)

	dec, err := NewDecoder(bytes.NewReader(file))
	require.NoError(t, err)
	require.Equal(t, hdr, dec.Header())

	buf := make([]byte, 4096)
	for _, want := range pgnos {
		pgno, err := dec.DecodePage(buf)
		require.NoError(t, err)
		require.Equal(t, want, pgno)
		require.Equal(t, pages[want], buf)
	}

	_, err = dec.DecodePage(buf)
	require.ErrorIs(t, err, io.EOF)

	out, err := dec.Close()
	require.NoError(t, err)
	require.Equal(t, trailer, out)
}

func TestDecoder(t *testing.T) {
	decoderTest(t, 0)
}

func TestDecoderCompressed(t *testing.T) {
	decoderTest(t, HeaderFlagCompressLZ4)
}

func TestDecoderBufferSize(t *testing.T) {
	pages := map[PageNum][]byte{4: randomPage(t, 4096)}
	_, _, file := encodeTestFile(t, 0, pages, []PageNum{4})

	dec, err := NewDecoder(bytes.NewReader(file))
	require.NoError(t, err)

	_, err = dec.DecodePage(make([]byte, 512))
	require.ErrorContains(t, err, "invalid page buffer size")
}

func TestDecoderCorruptPage(t *testing.T) {
	pages := map[PageNum][]byte{4: randomPage(t, 4096)}
	_, _, file := encodeTestFile(t, 0, pages, []PageNum{4})

	// Flip a byte inside the page data.
	file[HeaderSize+PageHeaderSize+100] ^= 0xff

	dec, err := NewDecoder(bytes.NewReader(file))
	require.NoError(t, err)

	buf := make([]byte, 4096)
	for {
		if _, err := dec.DecodePage(buf); err == io.EOF {
			break
		} else {
			require.NoError(t, err)
		}
	}

	_, err = dec.Close()
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestDecoderTruncatedFile(t *testing.T) {
	pages := map[PageNum][]byte{4: randomPage(t, 4096)}
	_, _, file := encodeTestFile(t, 0, pages, []PageNum{4})

	dec, err := NewDecoder(bytes.NewReader(file[:len(file)-TrailerSize]))
	require.NoError(t, err)

	buf := make([]byte, 4096)
	for {
		if _, err := dec.DecodePage(buf); err == io.EOF {
			break
		} else {
			require.NoError(t, err)
		}
	}

	_, err = dec.Close()
	require.ErrorContains(t, err, "read trailer")
}

func TestDecoderCloseBeforePages(t *testing.T) {
	pages := map[PageNum][]byte{4: randomPage(t, 4096)}
	_, _, file := encodeTestFile(t, 0, pages, []PageNum{4})

	dec, err := NewDecoder(bytes.NewReader(file))
	require.NoError(t, err)

	_, err = dec.Close()
	require.ErrorContains(t, err, "page block not fully decoded")
}

func TestVerify(t *testing.T) {
	pages := map[PageNum][]byte{
		4: randomPage(t, 4096),
		6: randomPage(t, 4096),
	}
	wantHdr, wantTrailer, file := encodeTestFile(t, HeaderFlagCompressLZ4, pages, []PageNum{4, 6})

	hdr, trailer, err := Verify(bytes.NewReader(file))
	require.NoError(t, err)
	require.Equal(t, wantHdr, *hdr)
	require.Equal(t, wantTrailer, *trailer)
}
