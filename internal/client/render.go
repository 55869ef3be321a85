package client

import "sort"

// RenderMentions rewrites each valid mention span in msg.Body using token,
// which maps a participant ID to the platform's mention syntax. Spans that
// do not match their Tag are left untouched.
func RenderMentions(msg Message, token func(id string) string) string {
	body := msg.Body
	mentions := append([]Mention(nil), msg.Mentions...)
	sort.Slice(mentions, func(i, j int) bool { return mentions[i].FromIndex > mentions[j].FromIndex })
	for _, m := range mentions {
		end := m.FromIndex + len(m.Tag)
		if m.Tag == "" || m.FromIndex < 0 || end > len(body) || body[m.FromIndex:end] != m.Tag {
			continue
		}
		body = body[:m.FromIndex] + token(m.ID) + body[end:]
	}
	return body
}

// MentionIDs returns the participant IDs referenced by msg.
func MentionIDs(msg Message) []string {
	var ids []string
	for _, m := range msg.Mentions {
		ids = append(ids, m.ID)
	}
	return ids
}
