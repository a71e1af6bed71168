package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockline/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rr := httptest.NewRecorder()

	WriteError(ctx, rr, NewError("insufficient_stock", "not enough\nstock", http.StatusConflict).
		WithRequestID("req-1").
		WithDetails(map[string]any{"product_id": "p1", "available": 2, "status": 200}))

	require.Equal(t, http.StatusConflict, rr.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Equal(t, "insufficient_stock", payload["error"])
	assert.Equal(t, "not enough stock", payload["message"])
	assert.EqualValues(t, http.StatusConflict, payload["status"])
	assert.Equal(t, "req-1", payload["request_id"])
	assert.Equal(t, "trace-1", payload["trace_id"])
	assert.Equal(t, "p1", payload["product_id"])
	assert.EqualValues(t, 2, payload["available"])
}

func TestErrorWithDetailAndTruncation(t *testing.T) {
	base := NewError("product_not_found", strings.Repeat("é", 600), http.StatusNotFound)
	withDetail := base.WithDetail("product_id", "p1")

	assert.Nil(t, base.Details)
	assert.Equal(t, "p1", withDetail.Details["product_id"])
	assert.Len(t, []rune(withDetail.Message), 512)
	assert.Equal(t, "product_not_found: ok", NewError("product_not_found", "ok", http.StatusNotFound).Error())
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Name string `json:"name"`
	}

	cases := []struct {
		name    string
		payload string
		ct      string
		wantErr bool
	}{
		{name: "ok", payload: `{"name":"Widget"}`, ct: "application/json"},
		{name: "unknown field", payload: `{"name":"W","extra":1}`, ct: "application/json", wantErr: true},
		{name: "trailing object", payload: `{"name":"W"}{"name":"X"}`, ct: "application/json", wantErr: true},
		{name: "empty", payload: ``, ct: "application/json", wantErr: true},
		{name: "wrong content type", payload: `{"name":"W"}`, ct: "text/plain", wantErr: true},
		{name: "too large", payload: `{"name":"` + strings.Repeat("a", MaxBodyBytes) + `"}`, ct: "application/json", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.payload))
			req.Header.Set("Content-Type", tc.ct)
			var dst body
			err := DecodeJSON(httptest.NewRecorder(), req, &dst)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Widget", dst.Name)
		})
	}
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteJSON(rr, http.StatusCreated, map[string]string{"id": "p1"})
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"id":"p1"}`, rr.Body.String())
}
