package command

import (
	"context"
	"log"
	"strings"

	"github.com/zulandar/warden/internal/client"
	"github.com/zulandar/warden/internal/state"
)

// Formatter decorates replies with the sender header, the persona
// signature and a mention of the sender.
type Formatter struct {
	cat     *Catalogue
	persona *state.Persona
}

// NewFormatter creates a Formatter.
func NewFormatter(cat *Catalogue, persona *state.Persona) *Formatter {
	return &Formatter{cat: cat, persona: persona}
}

// DisplayName resolves a participant name, falling back to the catalogue's
// placeholder name when the lookup fails.
func (f *Formatter) DisplayName(ctx context.Context, cli client.Client, userID string) string {
	u, err := cli.UserInfo(ctx, userID)
	if err != nil {
		log.Printf("command: user info %s: %v", userID, err)
		return f.cat.FallbackName
	}
	if u == nil || u.Name == "" {
		return f.cat.FallbackName
	}
	return u.Name
}

// Format builds a reply to senderID carrying text.
func (f *Formatter) Format(ctx context.Context, cli client.Client, senderID, text string) client.Message {
	name := f.DisplayName(ctx, cli, senderID)
	header, from := placeName(f.cat.Header, name)
	body := header + "\n" + text +
		Expand(f.cat.Signature, "nickname", f.persona.Nickname()) +
		f.cat.Separator
	return client.Message{
		Body:     body,
		Mentions: []client.Mention{{Tag: name, ID: senderID, FromIndex: from}},
	}
}

// Mention builds a plain message from tmpl that mentions userID where
// {name} appears. kv fills the other placeholders.
func (f *Formatter) Mention(ctx context.Context, cli client.Client, userID, tmpl string, kv ...string) client.Message {
	name := f.DisplayName(ctx, cli, userID)
	i := strings.Index(tmpl, "{name}")
	if i < 0 {
		return client.Message{Body: Expand(tmpl, kv...)}
	}
	before := Expand(tmpl[:i], kv...)
	after := Expand(tmpl[i+len("{name}"):], kv...)
	return client.Message{
		Body:     before + name + after,
		Mentions: []client.Mention{{Tag: name, ID: userID, FromIndex: len(before)}},
	}
}

// placeName substitutes the first {name} in tmpl and returns its offset.
func placeName(tmpl, name string) (string, int) {
	i := strings.Index(tmpl, "{name}")
	if i < 0 {
		return tmpl, -1
	}
	return tmpl[:i] + name + tmpl[i+len("{name}"):], i
}
