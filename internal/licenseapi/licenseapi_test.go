package licenseapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcore/internal/trusterr"
)

func TestActivateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/activate", r.URL.Path)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "NEKO-ABCD-EFGH-1234", req["license_key"])
		assert.Equal(t, "device-1", req["device_id"])

		w.Header().Set("Content-Type", "application/json")
		activatedAt := int64(1703001600)
		json.NewEncoder(w).Encode(ActivateResponse{Success: true, ActivatedAt: &activatedAt})
	}))
	defer srv.Close()

	client := New(srv.URL, time.Second)
	resp, err := client.Activate(context.Background(), "NEKO-ABCD-EFGH-1234", "device-1")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.ActivatedAt)
	assert.Equal(t, int64(1703001600), *resp.ActivatedAt)
}

func TestActivateBusinessFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ActivateResponse{Success: false, ErrorCode: "already_activated", Error: "device limit reached"})
	}))
	defer srv.Close()

	client := New(srv.URL, time.Second)
	resp, err := client.Activate(context.Background(), "KEY", "device-1")
	require.NoError(t, err, "transport success with success=false must not be a NetworkError")
	assert.False(t, resp.Success)
	assert.Equal(t, "already_activated", resp.ErrorCode)
}

func TestNonTwoXXIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	client := New(srv.URL, time.Second)
	_, err := client.Validate(context.Background(), "KEY", "device-1")
	assert.ErrorIs(t, err, trusterr.ErrNetworkError)
}

func TestMalformedJSONIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client := New(srv.URL, time.Second)
	_, err := client.Deactivate(context.Background(), "KEY", "device-1")
	assert.ErrorIs(t, err, trusterr.ErrNetworkError)
}

func TestTimeoutIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	client := New(srv.URL, 5*time.Millisecond)
	_, err := client.Validate(context.Background(), "KEY", "device-1")
	assert.ErrorIs(t, err, trusterr.ErrNetworkError)
}
