package ndproxyerr_test

import (
	"errors"
	"testing"

	"github.com/ndproxyd/ndproxyd/internal/ndproxyerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	base := ndproxyerr.New(ndproxyerr.DoesNotExist, "group %q not found")
	wrapped := base.Annotate("releasing group")

	kind, ok := ndproxyerr.KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, ndproxyerr.DoesNotExist, kind)

	_, ok = ndproxyerr.KindOf(errors.New("plain error"))
	assert.False(t, ok)
}

func TestError_unwrapsToCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("socket closed")
	wrapped := ndproxyerr.Wrap(ndproxyerr.BadInternalState, cause, "reading frame")

	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "socket closed")
}
