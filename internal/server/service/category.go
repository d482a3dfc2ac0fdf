package service

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"relay/internal/server/database"
)

var kindCategories = map[database.Kind]database.Category{
	database.KindPhoto:     database.CategoryImages,
	database.KindVideo:     database.CategoryVideos,
	database.KindAnimation: database.CategoryVideos,
	database.KindAudio:     database.CategoryAudio,
	database.KindVoice:     database.CategoryAudio,
	database.KindDocument:  database.CategoryDocuments,
	database.KindSticker:   database.CategoryOther,
}

// categoryNames maps the lowercase listing names users type to categories.
var categoryNames = map[string]database.Category{
	"images":    database.CategoryImages,
	"videos":    database.CategoryVideos,
	"audio":     database.CategoryAudio,
	"documents": database.CategoryDocuments,
	"zip":       database.CategoryZip,
	"other":     database.CategoryOther,
}

// DetectCategory classifies a file once at ingest. Zip archives, recognised
// by mime type or file name, win over the kind mapping.
func DetectCategory(kind database.Kind, mimeType, fileName string) database.Category {
	if mimeType != "" && mimetype.EqualsAny(mimeType, "application/zip", "application/x-zip-compressed") {
		return database.CategoryZip
	}
	if strings.HasSuffix(strings.ToLower(fileName), ".zip") {
		return database.CategoryZip
	}
	if cat, ok := kindCategories[kind]; ok {
		return cat
	}
	return database.CategoryOther
}

// ParseCategory resolves a listing name such as "images" to its category.
func ParseCategory(name string) (database.Category, bool) {
	cat, ok := categoryNames[strings.ToLower(strings.TrimSpace(name))]
	return cat, ok
}
