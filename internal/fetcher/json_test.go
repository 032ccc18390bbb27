package fetcher

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackingReadCloser struct {
	io.Reader
	closed bool
}

func (t *trackingReadCloser) Close() error {
	t.closed = true
	return nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestDecodeJSON(t *testing.T) {
	rc := &trackingReadCloser{Reader: strings.NewReader(`{"response":{"total":2}}`)}

	var out struct {
		Response struct {
			Total int `json:"total"`
		} `json:"response"`
	}
	require.NoError(t, DecodeJSON(rc, &out))
	assert.Equal(t, 2, out.Response.Total)
	assert.True(t, rc.closed, "body must be closed")
}

func TestDecodeJSON_Invalid(t *testing.T) {
	rc := &trackingReadCloser{Reader: strings.NewReader(`{not json`)}

	var out map[string]any
	err := DecodeJSON(rc, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
	assert.True(t, rc.closed)
}

func TestDecodeJSON_ReadError(t *testing.T) {
	rc := &trackingReadCloser{Reader: failingReader{}}

	var out map[string]any
	err := DecodeJSON(rc, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read body")
	assert.True(t, rc.closed)
}
