package database

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the on-disk timestamp format. It is fixed width and zero
// padded, so lexicographic order equals chronological order.
const TimeLayout = "2006-01-02 15:04:05"

// Layouts accepted on read besides TimeLayout: minute precision, and ISO
// 8601 with optional fractional seconds.
const (
	legacyLayout = "2006-01-02 15:04"
	isoLayout    = "2006-01-02T15:04:05"
)

// Kind is the platform media kind a file was received as.
type Kind string

const (
	KindPhoto     Kind = "photo"
	KindVideo     Kind = "video"
	KindDocument  Kind = "document"
	KindAudio     Kind = "audio"
	KindVoice     Kind = "voice"
	KindAnimation Kind = "animation"
	KindSticker   Kind = "sticker"
)

// ParseKind normalizes s to a known Kind. Unrecognized kinds become documents.
func ParseKind(s string) Kind {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindPhoto, KindVideo, KindDocument, KindAudio, KindVoice, KindAnimation, KindSticker:
		return k
	default:
		return KindDocument
	}
}

// Category is the coarse classification stored with each entry.
type Category string

const (
	CategoryImages    Category = "Images"
	CategoryVideos    Category = "Videos"
	CategoryAudio     Category = "Audio"
	CategoryDocuments Category = "Documents"
	CategoryZip       Category = "Zip"
	CategoryOther     Category = "Other"
)

// Timestamp is a second-precision local time serialized with TimeLayout.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to whole seconds in the local zone.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: time.Unix(t.Unix(), 0)}
}

func (ts Timestamp) String() string {
	return ts.Local().Format(TimeLayout)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.String())
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for _, layout := range []string{TimeLayout, legacyLayout, isoLayout} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			*ts = NewTimestamp(t)
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

// Entry is the metadata a code resolves to.
type Entry struct {
	FileReference string     `json:"file_id"`
	Kind          Kind       `json:"file_type"`
	UploaderID    int64      `json:"uploader"`
	UploadedAt    Timestamp  `json:"uploaded_at"`
	ExpiresAt     *Timestamp `json:"expires_at"`
	StorageRef    int64      `json:"storage_message_id"`
	Category      Category   `json:"category"`
	LockedTo      *int64     `json:"locked_to"`
	FileName      string     `json:"file_name,omitempty"`
	Caption       string     `json:"caption,omitempty"`
	MimeType      string     `json:"mime_type,omitempty"`
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.ExpiresAt != nil {
		exp := *e.ExpiresAt
		c.ExpiresAt = &exp
	}
	if e.LockedTo != nil {
		uid := *e.LockedTo
		c.LockedTo = &uid
	}
	return &c
}

// searchText is the haystack a keyword search matches against.
func (e *Entry) searchText(code string) string {
	return strings.ToLower(strings.Join([]string{
		code, string(e.Kind), e.FileName, e.Caption, e.MimeType,
	}, " "))
}

// Item pairs an entry with the code it is stored under.
type Item struct {
	Code  string
	Entry *Entry
}

// EntryPatch is a partial update. Nil pointers and false flags leave the
// corresponding field untouched.
type EntryPatch struct {
	LockedTo    *int64
	ClearLock   bool
	ExpiresAt   *time.Time
	ClearExpiry bool
}

// LockTo returns a patch binding retrieval to userID.
func LockTo(userID int64) EntryPatch {
	return EntryPatch{LockedTo: &userID}
}

// ExpireAt returns a patch setting the expiry instant.
func ExpireAt(t time.Time) EntryPatch {
	return EntryPatch{ExpiresAt: &t}
}

// NeverExpire returns a patch clearing the expiry instant.
func NeverExpire() EntryPatch {
	return EntryPatch{ClearExpiry: true}
}

// Apply merges the patch into e.
func (p EntryPatch) Apply(e *Entry) {
	switch {
	case p.ClearLock:
		e.LockedTo = nil
	case p.LockedTo != nil:
		uid := *p.LockedTo
		e.LockedTo = &uid
	}
	switch {
	case p.ClearExpiry:
		e.ExpiresAt = nil
	case p.ExpiresAt != nil:
		ts := NewTimestamp(*p.ExpiresAt)
		e.ExpiresAt = &ts
	}
}

// UserStats holds per-user usage counters.
type UserStats struct {
	UploadCount    int64 `json:"uploads"`
	RetrievedCount int64 `json:"retrieved"`
}
