package httpsupplier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/botrunner/internal/common/runnererrors"
)

func TestSupply_DecodesRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("offset"))
		w.Write([]byte(`[{"update_id":5},{"update_id":6}]`))
	}))
	defer srv.Close()

	s := New(srv.URL, nil)
	batch, err := s.Supply(context.Background(), 5, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, int64(6), batch[1].UpdateID())
}

func TestSupply_409IsNonRecoverable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error_code":409,"description":"conflict"}`))
	}))
	defer srv.Close()

	s := New(srv.URL, nil)
	_, err := s.Supply(context.Background(), 0, 10)
	var nonRecoverable *runnererrors.ErrNonRecoverable
	require.ErrorAs(t, err, &nonRecoverable)
	assert.Equal(t, 409, nonRecoverable.Code)
}

func TestSupply_429IsRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"retry_after":3}`))
	}))
	defer srv.Close()

	s := New(srv.URL, nil)
	_, err := s.Supply(context.Background(), 0, 10)
	var rateLimited *runnererrors.ErrRateLimited
	require.ErrorAs(t, err, &rateLimited)
	assert.Equal(t, int64(3), int64(rateLimited.RetryAfter.Seconds()))
}
