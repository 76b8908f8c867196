package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
	}{
		{name: "empty", payload: []byte{}},
		{name: "one byte", payload: []byte{0x7f}},
		{name: "multi kilobyte", payload: bytes.Repeat([]byte("0123456789abcdef"), 4096)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteFrame(&buf, c.payload))
			require.Equal(t, 8+len(c.payload), buf.Len())
			assert.Equal(t, uint64(len(c.payload)), binary.BigEndian.Uint64(buf.Bytes()[:8]))

			got, err := ReadFrame(&buf)
			require.NoError(t, err)
			assert.Equal(t, c.payload, got)
			assert.Equal(t, 0, buf.Len())
		})
	}
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello world")))
	truncated := buf.Bytes()[:buf.Len()-3]

	got, err := ReadFrame(bytes.NewReader(truncated))
	require.ErrorIs(t, err, ErrConnectionClosed)
	assert.Nil(t, got)
}

func TestReadFrameShortHeader(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0}))
	require.ErrorIs(t, err, ErrConnectionClosed)

	_, err = ReadFrame(bytes.NewReader(nil))
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestReadFrameTooLarge(t *testing.T) {
	var header [8]byte
	binary.BigEndian.PutUint64(header[:], MaxFrameSize+1)
	_, err := ReadFrame(bytes.NewReader(header[:]))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

// oneByteWriter accepts at most one byte per call and reports a short write.
type oneByteWriter struct{ buf bytes.Buffer }

func (w *oneByteWriter) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	w.buf.WriteByte(b[0])
	if len(b) > 1 {
		return 1, io.ErrShortWrite
	}
	return 1, nil
}

func TestWriteFrameRetriesShortWrites(t *testing.T) {
	w := &oneByteWriter{}
	require.NoError(t, WriteFrame(w, []byte("abc")))

	got, err := ReadFrame(&w.buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestReadRaw(t *testing.T) {
	got, err := ReadRaw(strings.NewReader("request"), MaxRequestSize)
	require.NoError(t, err)
	assert.Equal(t, "request", string(got))

	got, err = ReadRaw(strings.NewReader(strings.Repeat("x", 20)), 8)
	require.NoError(t, err)
	assert.Len(t, got, 8)

	_, err = ReadRaw(strings.NewReader(""), MaxRequestSize)
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestFrameWriterConcurrentWritesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)

	const writers = 8
	const perWriter = 50
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			line := strings.Repeat(string(rune('a'+i)), 100+i)
			for j := 0; j < perWriter; j++ {
				require.NoError(t, fw.WriteResponse(StreamChunk(line)))
			}
		}(i)
	}
	wg.Wait()

	count := 0
	for buf.Len() > 0 {
		resp, err := ReadResponse(&buf)
		require.NoError(t, err)
		require.Equal(t, KindStreamChunk, resp.Kind)
		require.Equal(t, strings.Repeat(resp.Text[:1], len(resp.Text)), resp.Text)
		count++
	}
	assert.Equal(t, writers*perWriter, count)
}
