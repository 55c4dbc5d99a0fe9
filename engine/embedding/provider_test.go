package embedding

import (
	"errors"
	"net/http"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savorhq/tastecore/engine/errs"
	"github.com/savorhq/tastecore/internal/profile"
)

func TestNewProvider(t *testing.T) {
	p := &profile.Profile{
		EmbeddingProvider:   "openai",
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingAPIKey:     "sk-test",
		EmbeddingBaseURL:    "https://api.openai.com/v1",
		EmbeddingDimensions: 1536,
	}
	provider, err := NewProvider(p)
	require.NoError(t, err)
	assert.Equal(t, 1536, provider.Dimensions())
	assert.Equal(t, "text-embedding-3-small", provider.ModelID())
}

func TestNewProviderRejectsUnconfigured(t *testing.T) {
	_, err := NewProvider(&profile.Profile{EmbeddingProvider: "openai", EmbeddingDimensions: 1536})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func TestNewProviderRejectsBadDimensions(t *testing.T) {
	_, err := NewProvider(&profile.Profile{
		EmbeddingProvider: "openai",
		EmbeddingAPIKey:   "sk-test",
	})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   errs.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, errs.KindResourceExhausted},
		{"server error", http.StatusInternalServerError, errs.KindTransient},
		{"bad gateway", http.StatusBadGateway, errs.KindTransient},
		{"unauthorized", http.StatusUnauthorized, errs.KindPermanentProvider},
		{"forbidden", http.StatusForbidden, errs.KindPermanentProvider},
		{"bad request", http.StatusBadRequest, errs.KindPermanentProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(&openai.APIError{HTTPStatusCode: tt.status, Message: tt.name})
			assert.Equal(t, tt.want, errs.KindOf(err))
		})
	}

	// Anything that is not a structured provider reply is retryable.
	assert.True(t, errs.IsTransient(classify(errors.New("connection reset"))))
}
