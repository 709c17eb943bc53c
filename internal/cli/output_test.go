package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/swrcache"
)

func TestEntryView_Success(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := swrcache.Entry[json.RawMessage]{
		Key:       swrcache.MustKey("users").WithWindow(swrcache.Window{PageIndex: 0, PageSize: 10}),
		Value:     json.RawMessage(`[{"id":1}]`),
		HasValue:  true,
		Revision:  3,
		Status:    swrcache.StatusSuccess,
		Paging:    &swrcache.Paging{TotalItems: 25, TotalPages: 3, HasNextPage: true},
		UpdatedAt: at,
	}

	buf := &bytes.Buffer{}
	require.NoError(t, writeJSON(buf, newEntryView(e)))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "users@0/10", got["key"])
	assert.Equal(t, "success", got["status"])
	assert.EqualValues(t, 3, got["revision"])
	assert.NotNil(t, got["value"])
	assert.NotNil(t, got["updated_at"])
	paging, ok := got["paging"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, paging["totalPages"])
	assert.Equal(t, true, paging["hasNextPage"])
	_, hasErr := got["error"]
	assert.False(t, hasErr)
}

func TestEntryView_ErrorWithoutValue(t *testing.T) {
	e := swrcache.Entry[json.RawMessage]{
		Key:    swrcache.MustKey("todo", "9"),
		Status: swrcache.StatusError,
		Err:    errors.New("boom"),
	}
	v := newEntryView(e)
	assert.Nil(t, v.Value)
	assert.Nil(t, v.UpdatedAt)
	assert.Equal(t, "boom", v.Error)
	assert.Equal(t, "todo:9", v.Key)
}
