package telegram

import (
	"reflect"
	"testing"
)

func hashtagEntity(offset, length int) MessageEntity {
	return MessageEntity{Type: EntityHashtag, Offset: offset, Length: length}
}

func TestExtractHashtags(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		entities []MessageEntity
		expected []string
	}{
		{
			"none",
			"just a plain message",
			nil,
			nil,
		},
		{
			"single",
			"dinner tonight #pasta",
			[]MessageEntity{hashtagEntity(15, 6)},
			[]string{"pasta"},
		},
		{
			"casing preserved",
			"#Pasta tonight",
			[]MessageEntity{hashtagEntity(0, 6)},
			[]string{"Pasta"},
		},
		{
			"multiple keep order",
			"#one then #two then #one",
			[]MessageEntity{hashtagEntity(0, 4), hashtagEntity(10, 4), hashtagEntity(20, 4)},
			[]string{"one", "two", "one"},
		},
		{
			"cyrillic",
			"#кухня today",
			[]MessageEntity{hashtagEntity(0, 6)},
			[]string{"кухня"},
		},
		{
			"offsets count utf16 units",
			"\U0001F35D #pasta",
			[]MessageEntity{hashtagEntity(3, 6)},
			[]string{"pasta"},
		},
		{
			"other entity types ignored",
			"see https://example.com #tag",
			[]MessageEntity{
				{Type: EntityURL, Offset: 4, Length: 19},
				hashtagEntity(24, 4),
			},
			[]string{"tag"},
		},
		{
			"out of bounds skipped",
			"#ok",
			[]MessageEntity{hashtagEntity(0, 3), hashtagEntity(40, 5)},
			[]string{"ok"},
		},
		{
			"negative offset skipped",
			"#ok",
			[]MessageEntity{hashtagEntity(-1, 3)},
			nil,
		},
		{
			"bare hash skipped",
			"# alone",
			[]MessageEntity{hashtagEntity(0, 1)},
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractHashtags(tt.text, tt.entities)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ExtractHashtags(%q) = %v, want %v", tt.text, got, tt.expected)
			}
		})
	}
}

func TestDeriveContentType(t *testing.T) {
	photo := &FileRef{FileID: "p1", FileURL: "https://files.test/p1.jpg"}
	document := &FileRef{FileID: "d1", FileURL: "https://files.test/d1.pdf", FileName: "recipe.pdf"}

	tests := []struct {
		name     string
		msg      SavedMessage
		expected string
	}{
		{"plain text", SavedMessage{Text: "hello"}, ContentTypeText},
		{"empty message", SavedMessage{}, ContentTypeText},
		{"photo", SavedMessage{Photo: photo}, ContentTypePhoto},
		{"document", SavedMessage{Document: document}, ContentTypeDocument},
		{
			"url entity",
			SavedMessage{
				Text:     "see https://example.com",
				Entities: []MessageEntity{{Type: EntityURL, Offset: 4, Length: 19}},
			},
			ContentTypeLink,
		},
		{
			"text link entity",
			SavedMessage{
				Text:     "see this",
				Entities: []MessageEntity{{Type: EntityTextLink, Offset: 4, Length: 4, URL: "https://example.com"}},
			},
			ContentTypeLink,
		},
		{
			"media wins over link",
			SavedMessage{
				Text:     "https://example.com",
				Photo:    photo,
				Entities: []MessageEntity{{Type: EntityURL, Offset: 0, Length: 19}},
			},
			ContentTypePhoto,
		},
		{
			"hashtag entity stays text",
			SavedMessage{
				Text:     "#pasta",
				Entities: []MessageEntity{hashtagEntity(0, 6)},
			},
			ContentTypeText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveContentType(&tt.msg); got != tt.expected {
				t.Errorf("DeriveContentType(%s) = %q, want %q", tt.name, got, tt.expected)
			}
		})
	}
}
