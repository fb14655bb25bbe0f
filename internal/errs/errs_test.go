package errs

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindsMatchSentinels(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
		kind     Kind
	}{
		{Auth("login", io.EOF), ErrAuth, KindAuth},
		{Fetch("page", io.EOF), ErrFetch, KindFetch},
		{Normalization("id", io.EOF), ErrNormalization, KindNormalization},
		{Persistence("tx", io.EOF), ErrPersistence, KindPersistence},
		{Classification("llm", io.EOF), ErrClassification, KindClassification},
		{AssetResolution("link", io.EOF), ErrAssetResolution, KindAssetResolution},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			wrapped := errors.Wrap(tc.err, "outer")
			assert.ErrorIs(t, wrapped, tc.sentinel)
			assert.ErrorIs(t, wrapped, io.EOF)
			assert.Equal(t, tc.kind, KindOf(wrapped))
		})
	}

	assert.NotErrorIs(t, Fetch("page", nil), ErrAuth)
	assert.Equal(t, Kind(""), KindOf(io.EOF))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "fetch: open stream: EOF", Fetch("open stream", io.EOF).Error())
	assert.Equal(t, "auth: EOF", Auth("", io.EOF).Error())
	assert.Equal(t, "persistence: commit", Persistence("commit", nil).Error())
	assert.Equal(t, "auth", ErrAuth.Error())
}
