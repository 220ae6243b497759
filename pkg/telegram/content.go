package telegram

import (
	"strings"
	"unicode/utf16"
)

// Content types assigned to archived messages.
const (
	ContentTypeText     = "text"
	ContentTypePhoto    = "photo"
	ContentTypeDocument = "document"
	ContentTypeLink     = "link"
)

// DeriveContentType classifies a message by its payload. Attached
// media wins over text, and a text message whose entities mark a URL
// counts as a link.
func DeriveContentType(m *SavedMessage) string {
	switch {
	case m.Photo != nil:
		return ContentTypePhoto
	case m.Document != nil:
		return ContentTypeDocument
	case m.HasEntity(EntityURL) || m.HasEntity(EntityTextLink):
		return ContentTypeLink
	default:
		return ContentTypeText
	}
}

// ExtractHashtags collects the hashtag spans the gateway annotated
// the text with, leading '#' stripped and original casing kept.
// Entity offsets count UTF-16 code units, so the text is sliced in
// that encoding.
func ExtractHashtags(text string, entities []MessageEntity) []string {
	if text == "" || len(entities) == 0 {
		return nil
	}

	units := utf16.Encode([]rune(text))

	var tags []string
	for _, entity := range entities {
		if entity.Type != EntityHashtag {
			continue
		}
		if entity.Offset < 0 || entity.Length <= 0 {
			continue
		}
		end := entity.Offset + entity.Length
		if end > len(units) {
			continue
		}

		span := string(utf16.Decode(units[entity.Offset:end]))
		tag := strings.TrimPrefix(span, "#")
		if tag == "" {
			continue
		}
		tags = append(tags, tag)
	}
	return tags
}
