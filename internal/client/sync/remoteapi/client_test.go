package remoteapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, srv.Client(), func() string { return "test-token" }), srv
}

func TestClient_CreateFile_SendsBearerTokenAndDecodesResponse(t *testing.T) {
	var gotAuth string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/files", r.URL.Path)
		json.NewEncoder(w).Encode(FileMetadata{Path: "a.txt", Version: 1})
	})

	out, err := client.CreateFile(t.Context(), CreateOrUpdateRequest{Path: "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, int64(1), out.Version)
}

func TestClient_UpdateFile_VersionConflict(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(VersionConflictError{CurrentVersion: 5, ContentHash: "deadbeef"})
	})

	_, err := client.UpdateFile(t.Context(), "a.txt", CreateOrUpdateRequest{Path: "a.txt"})
	require.Error(t, err)
	var ve *VersionConflictError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, int64(5), ve.CurrentVersion)
}

func TestClient_GetFile_Unauthorized(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.GetFile(t.Context(), "a.txt")
	require.Error(t, err)
	var ae *AuthError
	assert.ErrorAs(t, err, &ae)
}

func TestClient_ListFiles_WithPrefix(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sub/", r.URL.Query().Get("prefix"))
		json.NewEncoder(w).Encode([]FileMetadata{{Path: "sub/a.txt"}, {Path: "sub/b.txt"}})
	})

	out, err := client.ListFiles(t.Context(), "sub/")
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestClient_Changes_WithCursor(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.URL.Query().Get("since"))
		json.NewEncoder(w).Encode(ChangesResponse{Cursor: "43", Changes: []Change{{Type: ChangeCreated, Path: "a.txt"}}})
	})

	out, err := client.Changes(t.Context(), FormatCursor(42))
	require.NoError(t, err)
	assert.Equal(t, "43", out.Cursor)
	assert.Len(t, out.Changes, 1)
}

func TestClient_DeleteFile(t *testing.T) {
	var called bool
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	err := client.DeleteFile(t.Context(), "a.txt")
	require.NoError(t, err)
	assert.True(t, called)
}

func TestClient_HeadChunk_ExistsAndMissing(t *testing.T) {
	exists := true
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		if exists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ok, err := client.HeadChunk(t.Context(), "abc")
	require.NoError(t, err)
	assert.True(t, ok)

	exists = false
	ok, err = client.HeadChunk(t.Context(), "abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_PutChunkAndGetChunk_RoundTrip(t *testing.T) {
	var stored []byte
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			body := make([]byte, r.ContentLength)
			_, _ = r.Body.Read(body)
			stored = body
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			w.Write(stored)
		}
	})

	require.NoError(t, client.PutChunk(t.Context(), "abc", []byte("encrypted-bytes")))
	got, err := client.GetChunk(t.Context(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("encrypted-bytes"), got)
}

func TestClient_Healthy(t *testing.T) {
	status := http.StatusOK
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
	assert.True(t, client.Healthy(t.Context()))

	status = http.StatusInternalServerError
	assert.False(t, client.Healthy(t.Context()))
}

func TestClient_HTTPError_UnexpectedStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("no coffee"))
	})

	_, err := client.GetFile(t.Context(), "a.txt")
	require.Error(t, err)
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusTeapot, he.StatusCode)
}

func TestFormatCursor(t *testing.T) {
	assert.Equal(t, "0", FormatCursor(0))
	assert.Equal(t, "123", FormatCursor(123))
}
