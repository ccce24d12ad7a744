package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"dm-go/internal/imtypes"
)

func TestHTTPClient(t *testing.T) {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad credentials"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"token": "tok-7",
			"user":  map[string]interface{}{"id": 7, "username": req.Username},
		})
	}).Methods(http.MethodPost)

	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok-7" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	api.HandleFunc("/messages/users", authed(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]imtypes.PeerSummary{{UserID: "8", Username: "bob", UnseenCount: 3}})
	})).Methods(http.MethodGet)
	api.HandleFunc("/messages/send/{peerID}", authed(func(w http.ResponseWriter, r *http.Request) {
		var req imtypes.SendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(imtypes.Message{ID: "1", SenderID: "7", ReceiverID: mux.Vars(r)["peerID"], Text: req.Text})
	})).Methods(http.MethodPost)
	api.HandleFunc("/messages/mark/{messageID}", authed(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "消息不存在"})
	})).Methods(http.MethodPut)
	api.HandleFunc("/messages/{peerID}", authed(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]imtypes.Message{{ID: "1", SenderID: "7", ReceiverID: mux.Vars(r)["peerID"], Text: "hi"}})
	})).Methods(http.MethodGet)
	api.HandleFunc("/messages/{messageID}", authed(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "只能删除自己发送的消息"})
	})).Methods(http.MethodDelete)

	srv := httptest.NewServer(r)
	defer srv.Close()
	ctx := context.Background()

	_, _, err := Login(ctx, srv.URL, "alice", "wrong")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)

	c, selfID, err := Login(ctx, srv.URL+"/", "alice", "secret")
	require.NoError(t, err)
	require.Equal(t, "7", selfID)
	require.Equal(t, "tok-7", c.Token())

	peers, err := c.ListPeers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.EqualValues(t, 3, peers[0].UnseenCount)

	msgs, err := c.Fetch(ctx, "8")
	require.NoError(t, err)
	require.Equal(t, "8", msgs[0].ReceiverID)

	sent, err := c.Send(ctx, "8", imtypes.SendMessageRequest{Text: "yo"})
	require.NoError(t, err)
	require.Equal(t, "yo", sent.Text)

	err = c.MarkSeen(ctx, "99")
	require.ErrorIs(t, err, imtypes.ErrNotFound)
	require.Contains(t, err.Error(), "消息不存在")

	_, err = c.Delete(ctx, "1")
	require.ErrorIs(t, err, imtypes.ErrForbidden)

	anon := NewHTTPClient(srv.URL, "")
	_, err = anon.ListPeers(ctx)
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}
