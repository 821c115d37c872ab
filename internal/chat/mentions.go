// internal/chat/mentions.go

package chat

import (
	"context"
	"log"
	"regexp"
)

// MentionExtractor finds internal users referenced in comment text
type MentionExtractor interface {
	Extract(ctx context.Context, text string) []int64
}

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_.\-]+)`)

// usernameExtractor resolves @username tokens against the user
// directory. Unknown usernames are ignored.
type usernameExtractor struct {
	users UserDirectory
}

// NewMentionExtractor creates the @username-based extractor
func NewMentionExtractor(users UserDirectory) MentionExtractor {
	return &usernameExtractor{users: users}
}

func (e *usernameExtractor) Extract(ctx context.Context, text string) []int64 {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[int64]bool)
	var ids []int64
	for _, match := range matches {
		id, ok, err := e.users.LookupUsername(ctx, match[1])
		if err != nil {
			log.Printf("Mention lookup failed for %q: %v", match[1], err)
			continue
		}
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
