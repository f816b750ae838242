package smshttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClient_Send_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer demo", r.Header.Get("Authorization"))

		var req sendReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "SMS", req.Channel)
		require.Equal(t, "+15550001111", req.To)
		require.Equal(t, "Boarding at Columbia", req.Body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"messageId":"msg-42"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "demo")
	res, err := c.Send(context.Background(), "SMS", "+15550001111", "Boarding at Columbia")
	require.NoError(t, err)
	require.Equal(t, "msg-42", res.ProviderID)
}

func TestClient_Send_GatewayReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false,"error":"invalid recipient"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.Send(context.Background(), "SMS", "bad", "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid recipient")
}

func TestClient_Send_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.Send(context.Background(), "SMS", "+1", "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}
