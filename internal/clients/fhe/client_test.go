package fhe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func TestEncryptBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("returns only ciphertexts the service produced", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "key-1", req["keyId"])
			assert.Contains(t, req, "birthYearOffset")
			assert.NotContains(t, req, "livenessScore")

			_ = json.NewEncoder(w).Encode(BatchCiphertexts{
				BirthYearOffset: strPtr("ct-offset"),
				CountryCode:     strPtr("ct-country"),
			})
		}))
		defer srv.Close()

		client := New(srv.URL, srv.Client())
		fields := BatchFields{BirthYearOffset: intPtr(90), CountryCode: intPtr(276)}
		result, err := client.EncryptBatch(ctx, "key-1", fields, "req-1")
		require.NoError(t, err)
		require.NotNil(t, result.BirthYearOffset)
		assert.Equal(t, "ct-offset", *result.BirthYearOffset)
		assert.Nil(t, result.LivenessScore)
	})

	t.Run("service rejection maps to ServiceError with kind", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"Key not found: key-x"}`))
		}))
		defer srv.Close()

		client := New(srv.URL, srv.Client())
		_, err := client.EncryptBatch(ctx, "key-x", BatchFields{CountryCode: intPtr(276)}, "req-2")

		var svcErr *ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, KindKeyNotFound, svcErr.Kind)
		assert.Equal(t, http.StatusNotFound, svcErr.Status)
		assert.Contains(t, svcErr.Body, "Key not found")
	})

	t.Run("unreachable service maps to TransportError", func(t *testing.T) {
		client := New("http://127.0.0.1:1", nil)
		_, err := client.EncryptBatch(ctx, "key-1", BatchFields{LivenessScore: floatPtr(0.9)}, "req-3")

		var transportErr *TransportError
		require.ErrorAs(t, err, &transportErr)

		var svcErr *ServiceError
		assert.False(t, errors.As(err, &svcErr))
	})
}

func TestBatchFieldsEmpty(t *testing.T) {
	assert.True(t, BatchFields{}.Empty())
	assert.False(t, BatchFields{CountryCode: intPtr(1)}.Empty())
}
