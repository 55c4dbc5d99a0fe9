package errs

import (
	"errors"
	"fmt"
	"io"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"validation", Validation("bad input %d", 42), KindValidation},
		{"transient", Transient(io.ErrUnexpectedEOF), KindTransient},
		{"permanent", PermanentProvider(errors.New("content rejected")), KindPermanentProvider},
		{"exhausted", ResourceExhausted("queue full"), KindResourceExhausted},
		{"plain error", errors.New("whatever"), KindUnknown},
		{"nil", nil, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
		})
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	base := Transient(io.ErrUnexpectedEOF)

	wrapped := fmt.Errorf("batch 3: %w", base)
	assert.True(t, IsTransient(wrapped))
	assert.Equal(t, KindTransient, KindOf(wrapped))

	// pkg/errors wrapping is unwrappable too.
	assert.True(t, IsTransient(pkgerrors.Wrap(base, "driver")))
}

func TestUnwrapKeepsCause(t *testing.T) {
	err := Transient(io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestNilCauseIsNil(t *testing.T) {
	assert.NoError(t, Transient(nil))
	assert.NoError(t, PermanentProvider(nil))
}

func TestErrorMessageCarriesKind(t *testing.T) {
	assert.EqualError(t, Validation("bad vector"), "validation: bad vector")
	assert.EqualError(t, ResourceExhausted("backlog full (%d tasks)", 256), "resource_exhausted: backlog full (256 tasks)")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "unknown", KindUnknown.String())
	assert.Equal(t, "transient", KindTransient.String())
	assert.Equal(t, "permanent_provider", KindPermanentProvider.String())
}
