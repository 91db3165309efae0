package apperr

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestAs_FindsWrappedError(t *testing.T) {
	base := Forbidden("not your ride")
	err := errors.Wrap(base, "accept match")

	got := As(err)
	require.NotNil(t, got)
	require.Equal(t, CodeForbidden, got.Code())
	require.True(t, Is(err, CodeForbidden))
	require.Equal(t, "not your ride", got.Message())
}

func TestCodeOf_UntypedIsInternal(t *testing.T) {
	require.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	require.Nil(t, As(errors.New("boom")))
	require.False(t, Is(nil, CodeInternal))
}

func TestMessage_HidesDetailsForInternalCodes(t *testing.T) {
	err := Internal(errors.New("pq: relation does not exist"))
	require.Equal(t, "internal server error", err.Message())
	require.Contains(t, err.Error(), "relation does not exist")

	gw := Gateway("stripe down", errors.New("503"))
	require.Equal(t, "upstream provider failed", gw.Message())
}

func TestMetadataFor_HTTPStatus(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, MetadataFor(CodeInvalidState).HTTPStatus)
	require.Equal(t, http.StatusNotFound, MetadataFor(CodeNotFound).HTTPStatus)
	require.Equal(t, http.StatusTooManyRequests, MetadataFor(CodeRateLimit).HTTPStatus)
	require.Equal(t, http.StatusInternalServerError, MetadataFor(Code("???")).HTTPStatus)
}
