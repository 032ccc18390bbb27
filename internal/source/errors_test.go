package source

import (
	"context"
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gasrisk-cli/internal/fetcher"
	"github.com/sells-group/gasrisk-cli/internal/model"
	"github.com/sells-group/gasrisk-cli/internal/resilience"
)

func TestSourceError_Retryable(t *testing.T) {
	assert.True(t, NewSourceError(model.SourceSpot, KindNetwork, errors.New("x")).Retryable())
	assert.True(t, NewSourceError(model.SourceSpot, KindRateLimit, errors.New("x")).Retryable())
	assert.False(t, NewSourceError(model.SourceSpot, KindSchemaChange, errors.New("x")).Retryable())
	assert.False(t, NewSourceError(model.SourceSpot, KindAuth, errors.New("x")).Retryable())
	assert.False(t, NewSourceError(model.SourceSpot, KindCancelled, errors.New("x")).Retryable())
}

func TestSourceError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	se := NewSourceError(model.SourceNotices, KindNetwork, inner)

	assert.True(t, errors.Is(se, inner))
	assert.Contains(t, se.Error(), "notices")
	assert.Contains(t, se.Error(), "network")
}

func TestAsSourceError(t *testing.T) {
	se := NewSourceError(model.SourceSpot, KindAuth, errors.New("denied"))
	wrapped := eris.Wrap(se, "fetch failed")

	got := AsSourceError(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, KindAuth, got.Kind)

	assert.Nil(t, AsSourceError(errors.New("plain")))
	assert.Nil(t, AsSourceError(nil))
}

func TestClassify_CancelledWins(t *testing.T) {
	se := Classify(model.SourceWeather, context.Canceled, errors.New("whatever"))
	assert.Equal(t, KindCancelled, se.Kind)
}

func TestClassify_StatusCodes(t *testing.T) {
	tests := []struct {
		code int
		want ErrorKind
	}{
		{401, KindAuth},
		{403, KindAuth},
		{404, KindNotFound},
		{429, KindRateLimit},
	}
	for _, tt := range tests {
		err := &fetcher.StatusError{StatusCode: tt.code, URL: "https://api.eia.gov/x"}
		se := Classify(model.SourceSpot, nil, eris.Wrap(err, "get"))
		assert.Equal(t, tt.want, se.Kind, "status %d", tt.code)
	}
}

func TestClassify_Transient429(t *testing.T) {
	err := resilience.NewTransientError(errors.New("http 429"), 429)
	se := Classify(model.SourceSpot, nil, err)
	assert.Equal(t, KindRateLimit, se.Kind)
}

func TestClassify_TransientNetwork(t *testing.T) {
	err := resilience.NewTransientError(errors.New("http 503"), 503)
	se := Classify(model.SourceSpot, nil, err)
	assert.Equal(t, KindNetwork, se.Kind)
}

func TestClassify_UnknownDefaultsToNetwork(t *testing.T) {
	se := Classify(model.SourceSpot, nil, errors.New("something odd"))
	assert.Equal(t, KindNetwork, se.Kind)
}

func TestClassify_PassesThroughSourceError(t *testing.T) {
	orig := SchemaChange(model.SourceCapacity, "columns moved")
	se := Classify(model.SourceCapacity, nil, orig)
	assert.Same(t, orig, se)
	assert.Equal(t, KindSchemaChange, se.Kind)
}
