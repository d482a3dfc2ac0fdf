package transport

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
)

func decodeUpdate(t *testing.T, raw string) *models.Update {
	t.Helper()
	var u models.Update
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		t.Fatalf("failed to decode update: %v", err)
	}
	return &u
}

const from = `"from":{"id":11,"is_bot":false,"first_name":"Ann"},"chat":{"id":11,"type":"private"},"date":0`

func TestIncomingFromUpdate(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Incoming
		ok   bool
	}{
		{
			name: "largest photo wins",
			raw: `{"update_id":1,"message":{"message_id":5,` + from + `,"caption":"beach",
				"photo":[{"file_id":"small","file_unique_id":"s","width":90,"height":90,"file_size":100},
				         {"file_id":"big","file_unique_id":"b","width":800,"height":800,"file_size":9000},
				         {"file_id":"mid","file_unique_id":"m","width":320,"height":320,"file_size":2000}]}}`,
			want: Incoming{ChatID: 11, UserID: 11, MessageID: 5, Kind: "photo", FileReference: "big", Caption: "beach"},
			ok:   true,
		},
		{
			name: "document keeps name and mime",
			raw: `{"update_id":2,"message":{"message_id":6,` + from + `,
				"document":{"file_id":"doc","file_unique_id":"d","file_name":"a.zip","mime_type":"application/zip"}}}`,
			want: Incoming{ChatID: 11, UserID: 11, MessageID: 6, Kind: "document", FileReference: "doc",
				FileName: "a.zip", MimeType: "application/zip"},
			ok: true,
		},
		{
			name: "animation takes precedence over its document",
			raw: `{"update_id":3,"message":{"message_id":7,` + from + `,
				"animation":{"file_id":"gif","file_unique_id":"g","width":1,"height":1,"duration":1,"mime_type":"video/mp4"},
				"document":{"file_id":"gif","file_unique_id":"g"}}}`,
			want: Incoming{ChatID: 11, UserID: 11, MessageID: 7, Kind: "animation", FileReference: "gif", MimeType: "video/mp4"},
			ok:   true,
		},
		{
			name: "voice",
			raw: `{"update_id":4,"message":{"message_id":8,` + from + `,
				"voice":{"file_id":"v","file_unique_id":"v","duration":3,"mime_type":"audio/ogg"}}}`,
			want: Incoming{ChatID: 11, UserID: 11, MessageID: 8, Kind: "voice", FileReference: "v"},
			ok:   true,
		},
		{
			name: "text command",
			raw:  `{"update_id":5,"message":{"message_id":9,` + from + `,"text":"/get_abc123"}}`,
			want: Incoming{ChatID: 11, UserID: 11, MessageID: 9, Text: "/get_abc123"},
			ok:   true,
		},
		{
			name: "channel post skipped",
			raw:  `{"update_id":6,"channel_post":{"message_id":1,"chat":{"id":-100,"type":"channel"},"date":0,"text":"hi"}}`,
		},
		{
			name: "service message skipped",
			raw:  `{"update_id":7,"message":{"message_id":10,` + from + `}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := incomingFromUpdate(decodeUpdate(t, tt.raw))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBotAPI_Poll(t *testing.T) {
	var (
		mu     sync.Mutex
		served bool
	)
	api, _ := newTestAPI(t, func(method string) string {
		if method != "getUpdates" {
			return okReply(method)
		}
		mu.Lock()
		defer mu.Unlock()
		if served {
			time.Sleep(20 * time.Millisecond)
			return `{"ok":true,"result":[]}`
		}
		served = true
		return `{"ok":true,"result":[{"update_id":1,"message":{"message_id":5,` + from + `,"text":"/start"}}]}`
	})

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Incoming, 1)
	done := make(chan struct{})
	go func() {
		api.Poll(ctx, func(_ context.Context, in Incoming) {
			select {
			case got <- in:
			default:
			}
		})
		close(done)
	}()

	select {
	case in := <-got:
		if in.Text != "/start" || in.UserID != 11 {
			t.Errorf("unexpected message: %+v", in)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no update delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("poll did not stop after cancel")
	}
}
