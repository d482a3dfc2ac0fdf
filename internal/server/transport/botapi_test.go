package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	telegrambot "github.com/go-telegram/bot"
)

const testToken = "123:test-token"

type recorded struct {
	method string
	params map[string]string
}

type fakeBotServer struct {
	mu    sync.Mutex
	calls []recorded
	reply func(method string) string
}

func (f *fakeBotServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	method := parts[len(parts)-1]
	if parts[0] != "bot"+testToken {
		http.Error(w, "bad token segment "+parts[0], http.StatusNotFound)
		return
	}

	params := requestParams(r)
	f.mu.Lock()
	f.calls = append(f.calls, recorded{method: method, params: params})
	reply := f.reply
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(reply(method)))
}

func (f *fakeBotServer) recorded(method string) []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recorded
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

// requestParams flattens a form or JSON request body into strings.
func requestParams(r *http.Request) map[string]string {
	params := make(map[string]string)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			for k, v := range r.MultipartForm.Value {
				params[k] = v[0]
			}
		}
	case "application/json":
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err == nil {
			for k, v := range raw {
				params[k] = fmt.Sprint(v)
			}
		}
	default:
		if err := r.ParseForm(); err == nil {
			for k, v := range r.PostForm {
				params[k] = v[0]
			}
		}
	}
	return params
}

const sentMessage = `{"ok":true,"result":{"message_id":5,"date":0,"chat":{"id":99,"type":"private"}}}`

func okReply(method string) string {
	switch method {
	case "copyMessage":
		return `{"ok":true,"result":{"message_id":555}}`
	case "deleteMessage":
		return `{"ok":true,"result":true}`
	case "getUpdates":
		return `{"ok":true,"result":[]}`
	default:
		return sentMessage
	}
}

func newTestAPI(t *testing.T, reply func(method string) string) (*BotAPI, *fakeBotServer) {
	t.Helper()
	fake := &fakeBotServer{reply: reply}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	api, err := NewBotAPI(srv.URL+"/", testToken, time.Second, telegrambot.WithSkipGetMe())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return api, fake
}

func TestBotAPI_SendFile(t *testing.T) {
	tests := []struct {
		kind       string
		method     string
		field      string
		hasCaption bool
	}{
		{"photo", "sendPhoto", "photo", true},
		{"video", "sendVideo", "video", true},
		{"document", "sendDocument", "document", true},
		{"audio", "sendAudio", "audio", true},
		{"voice", "sendVoice", "voice", true},
		{"animation", "sendAnimation", "animation", true},
		{"sticker", "sendSticker", "sticker", false},
		{"hologram", "sendDocument", "document", true},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			api, fake := newTestAPI(t, okReply)
			if err := api.SendFile(context.Background(), 99, tt.kind, "FILEREF", "hello"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			calls := fake.recorded(tt.method)
			if len(calls) != 1 {
				t.Fatalf("expected 1 %s call, got %d", tt.method, len(calls))
			}
			c := calls[0]
			if c.params[tt.field] != "FILEREF" {
				t.Errorf("expected %s=FILEREF, got %q", tt.field, c.params[tt.field])
			}
			if c.params["chat_id"] != "99" {
				t.Errorf("expected chat_id=99, got %q", c.params["chat_id"])
			}
			wantCaption := ""
			if tt.hasCaption {
				wantCaption = "hello"
			}
			if c.params["caption"] != wantCaption {
				t.Errorf("expected caption %q, got %q", wantCaption, c.params["caption"])
			}
		})
	}
}

func TestBotAPI_CopyMessage(t *testing.T) {
	api, fake := newTestAPI(t, okReply)

	id, err := api.CopyMessage(context.Background(), -100123, 42, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 555 {
		t.Errorf("expected message id 555, got %d", id)
	}
	calls := fake.recorded("copyMessage")
	if len(calls) != 1 {
		t.Fatalf("expected 1 copyMessage call, got %d", len(calls))
	}
	p := calls[0].params
	if p["chat_id"] != "-100123" || p["from_chat_id"] != "42" || p["message_id"] != "7" {
		t.Errorf("unexpected params: %v", p)
	}
}

func TestBotAPI_DeleteAndMessage(t *testing.T) {
	api, fake := newTestAPI(t, okReply)
	ctx := context.Background()

	if err := api.DeleteMessage(ctx, -100123, 9); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if err := api.SendMessage(ctx, 99, "hi there"); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	if calls := fake.recorded("deleteMessage"); len(calls) != 1 || calls[0].params["message_id"] != "9" {
		t.Errorf("unexpected deleteMessage calls: %v", calls)
	}
	if calls := fake.recorded("sendMessage"); len(calls) != 1 || calls[0].params["text"] != "hi there" {
		t.Errorf("unexpected sendMessage calls: %v", calls)
	}
}

func TestBotAPI_Errors(t *testing.T) {
	t.Run("api error carries description", func(t *testing.T) {
		api, _ := newTestAPI(t, func(string) string {
			return `{"ok":false,"error_code":400,"description":"Bad Request: message to delete not found"}`
		})

		err := api.DeleteMessage(context.Background(), 1, 2)
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(err.Error(), "message to delete not found") {
			t.Errorf("expected description in error, got %v", err)
		}
	})

	t.Run("garbage body", func(t *testing.T) {
		api, _ := newTestAPI(t, func(string) string { return "<html>bad gateway</html>" })
		if err := api.SendMessage(context.Background(), 1, "hi"); err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("unreachable server", func(t *testing.T) {
		api, err := NewBotAPI("http://127.0.0.1:1", testToken, time.Second, telegrambot.WithSkipGetMe())
		if err != nil {
			t.Fatalf("failed to create client: %v", err)
		}
		if err := api.SendMessage(context.Background(), 1, "hi"); err == nil {
			t.Error("expected transport error")
		}
	})
}
