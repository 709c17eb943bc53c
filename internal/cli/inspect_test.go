package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/swrcache"
)

func init() { gin.SetMode(gin.TestMode) }

func serve(r http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestInspect_ListAndGet(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "todo:1", `{"done":true}`)
	seed(t, s, "todo:2", `{"done":false}`)
	r := NewInspectRouter(s, nil)

	w := serve(r, http.MethodGet, "/entries")
	require.Equal(t, http.StatusOK, w.Code)
	var list []EntryView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "todo:1", list[0].Key)
	assert.JSONEq(t, `{"done":true}`, string(list[0].Value))

	w = serve(r, http.MethodGet, "/entry?key=todo:2")
	require.Equal(t, http.StatusOK, w.Code)
	var one EntryView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	assert.Equal(t, "success", one.Status)

	w = serve(r, http.MethodGet, "/entry?key=todo:9")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(r, http.MethodGet, "/entry?key=")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInspect_Invalidate(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "todo:1", `{}`)
	seed(t, s, "users:1", `{}`)
	r := NewInspectRouter(s, nil)

	w := serve(r, http.MethodPost, "/invalidate?prefix=todo&stale=true")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"matched":1}`, w.Body.String())
	assert.True(t, isStale(t, s, "todo:1"))
	assert.False(t, isStale(t, s, "users:1"))

	w = serve(r, http.MethodPost, "/invalidate")
	assert.JSONEq(t, `{"matched":2}`, w.Body.String())
}

func TestInspect_Refetch(t *testing.T) {
	s := newTestStore(t)

	w := serve(NewInspectRouter(s, nil), http.MethodPost, "/refetch?key=todo:1")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	calls := 0
	fetch := func(_ context.Context, k swrcache.Key) (swrcache.Result[json.RawMessage], error) {
		calls++
		if k.Parts()[0] == "broken" {
			return swrcache.Result[json.RawMessage]{}, errors.New("503")
		}
		return swrcache.Result[json.RawMessage]{Data: json.RawMessage(`{"id":1}`)}, nil
	}
	r := NewInspectRouter(s, fetch)

	w = serve(r, http.MethodPost, "/refetch?key=todo:1")
	require.Equal(t, http.StatusOK, w.Code)
	var v EntryView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.JSONEq(t, `{"id":1}`, string(v.Value))
	assert.Equal(t, 1, calls)

	w = serve(r, http.MethodPost, "/refetch?key=broken")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	assert.Equal(t, "fetch_failed", e.Code)
}
