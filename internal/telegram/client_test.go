package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Albermonte/validator-election-bot/internal/notify"
)

func TestClient_SendMessage(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"chat":{"id":-100,"type":"group"}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "TOKEN", time.Second)
	require.NoError(t, c.SendMessage(context.Background(), -100, "<b>hi</b>", notify.ParseModeHTML))

	assert.Equal(t, float64(-100), got["chat_id"])
	assert.Equal(t, "<b>hi</b>", got["text"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.NotContains(t, got, "reply_markup")
}

func TestClient_AskForReply(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":2,"chat":{"id":1,"type":"private"}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "TOKEN", time.Second)
	require.NoError(t, c.AskForReply(context.Background(), 1, "address?"))
	assert.Equal(t, map[string]interface{}{"force_reply": true}, got["reply_markup"])
	assert.NotContains(t, got, "parse_mode")
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "TOKEN", time.Second)
	err := c.SendMessage(context.Background(), 1, "hi", notify.ParseModeNone)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked by the user")
}

func TestClient_GetUpdatesAndChatMember(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/botTOKEN/getUpdates":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, float64(11), body["offset"])
			assert.Equal(t, float64(30), body["timeout"])
			_, _ = w.Write([]byte(`{"ok":true,"result":[{"update_id":11,"message":{"message_id":5,"from":{"id":9},"chat":{"id":-100,"type":"supergroup"},"text":"/status"}}]}`))
		case "/botTOKEN/getChatMember":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"status":"administrator","user":{"id":9}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "TOKEN", time.Second)
	updates, err := c.GetUpdates(context.Background(), 11, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, int64(11), updates[0].UpdateID)
	assert.Equal(t, "/status", updates[0].Message.Text)
	assert.False(t, updates[0].Message.Chat.Private())

	member, err := c.GetChatMember(context.Background(), -100, 9)
	require.NoError(t, err)
	assert.True(t, member.Admin())
}
