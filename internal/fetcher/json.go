package fetcher

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// DecodeJSON reads r fully and unmarshals it into v, closing r.
func DecodeJSON(r io.ReadCloser, v any) error {
	defer r.Close() //nolint:errcheck

	data, err := io.ReadAll(r)
	if err != nil {
		return eris.Wrap(err, "json: read body")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrap(err, "json: unmarshal")
	}
	return nil
}
