// Package dispatcher classifies platform events and enforces the
// per-conversation locks.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/zulandar/warden/internal/client"
	"github.com/zulandar/warden/internal/command"
	"github.com/zulandar/warden/internal/lockstore"
	"github.com/zulandar/warden/internal/metrics"
	"github.com/zulandar/warden/internal/state"
)

// PhotoPolicy decides what a photo lock does when the photo changes.
type PhotoPolicy string

const (
	// PhotoRevert restores the locked photo.
	PhotoRevert PhotoPolicy = "revert"
	// PhotoAccept adopts the new photo as the locked value and complains.
	PhotoAccept PhotoPolicy = "accept"
)

// MessageHandler handles message events.
type MessageHandler interface {
	HandleMessage(ctx context.Context, cli client.Client, ev client.Event)
}

// Dispatcher routes each inbound event to its handler.
type Dispatcher struct {
	messages MessageHandler
	locks    lockstore.Store
	settings *state.Settings
	persona  *state.Persona
	joined   *state.JoinedSet
	cat      *command.Catalogue
	format   *command.Formatter
	photo    PhotoPolicy
}

// Opts holds parameters for creating a Dispatcher.
type Opts struct {
	Messages    MessageHandler
	Locks       lockstore.Store
	Settings    *state.Settings
	Persona     *state.Persona
	Joined      *state.JoinedSet
	Catalogue   *command.Catalogue // defaults to command.DefaultCatalogue()
	PhotoPolicy PhotoPolicy        // defaults to PhotoRevert
}

// New creates a Dispatcher.
func New(opts Opts) (*Dispatcher, error) {
	if opts.Messages == nil {
		return nil, fmt.Errorf("dispatcher: message handler is required")
	}
	if opts.Locks == nil {
		return nil, fmt.Errorf("dispatcher: lock store is required")
	}
	if opts.Settings == nil || opts.Persona == nil || opts.Joined == nil {
		return nil, fmt.Errorf("dispatcher: settings, persona and joined set are required")
	}
	cat := opts.Catalogue
	if cat == nil {
		cat = command.DefaultCatalogue()
	}
	policy := opts.PhotoPolicy
	switch policy {
	case "":
		policy = PhotoRevert
	case PhotoRevert, PhotoAccept:
	default:
		return nil, fmt.Errorf("dispatcher: unknown photo policy %q", policy)
	}
	return &Dispatcher{
		messages: opts.Messages,
		locks:    opts.Locks,
		settings: opts.Settings,
		persona:  opts.Persona,
		joined:   opts.Joined,
		cat:      cat,
		format:   command.NewFormatter(cat, opts.Persona),
		photo:    policy,
	}, nil
}

// Handle processes one event. It never panics and never returns an error;
// failures are logged with the event kind.
func (d *Dispatcher) Handle(ctx context.Context, cli client.Client, ev client.Event) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("dispatcher: %s in %s: panic: %v", ev.Type, ev.ConversationID, p)
			metrics.HandlerPanics.WithLabelValues("dispatcher").Inc()
		}
	}()
	metrics.EventsTotal.WithLabelValues(string(ev.Type)).Inc()

	var err error
	switch ev.Type {
	case client.EventMessage, client.EventMessageReply:
		d.messages.HandleMessage(ctx, cli, ev)
	case client.EventTitleChanged:
		err = d.onTitle(ctx, cli, ev)
	case client.EventNicknameChanged:
		err = d.onNickname(ctx, cli, ev)
	case client.EventPhotoChanged:
		err = d.onPhoto(ctx, cli, ev)
	case client.EventParticipantAdded:
		err = d.onAdded(ctx, cli, ev)
	default:
		return
	}
	if err != nil {
		log.Printf("dispatcher: %s in %s: %v", ev.Type, ev.ConversationID, err)
	}
}

// exempt reports whether changes by author are never enforced: the admin's
// own changes and the bot's reverts.
func (d *Dispatcher) exempt(cli client.Client, author string) bool {
	if author != "" && author == cli.CurrentUserID() {
		return true
	}
	return d.settings.IsAdmin(author)
}

func (d *Dispatcher) onTitle(ctx context.Context, cli client.Client, ev client.Event) error {
	if d.exempt(cli, ev.AuthorID) {
		return nil
	}
	locked, ok, err := d.locks.GetLock(ev.ConversationID, lockstore.KindTitle)
	if err != nil {
		return err
	}
	if ok {
		if ev.NewTitle == locked {
			return nil
		}
		if err := cli.SetTitle(ctx, locked, ev.ConversationID); err != nil {
			return fmt.Errorf("revert title: %w", err)
		}
		metrics.EnforcementsTotal.WithLabelValues("title").Inc()
		log.Printf("dispatcher: title in %s reverted to %q", ev.ConversationID, locked)
		return d.scold(ctx, cli, ev, ev.AuthorID, d.cat.Replies.TitleScold, "title", locked)
	}

	auto, err := d.locks.Flag(ev.ConversationID, lockstore.FlagTitleAutoRemove)
	if err != nil {
		return err
	}
	if !auto || ev.NewTitle == "" {
		return nil
	}
	if err := cli.SetTitle(ctx, "", ev.ConversationID); err != nil {
		return fmt.Errorf("clear title: %w", err)
	}
	metrics.EnforcementsTotal.WithLabelValues("title_autoremove").Inc()
	log.Printf("dispatcher: title in %s cleared", ev.ConversationID)
	return nil
}

// onNickname restores the persona when the bot is renamed, and otherwise
// applies the nickname lock or auto-remove.
func (d *Dispatcher) onNickname(ctx context.Context, cli client.Client, ev client.Event) error {
	if d.exempt(cli, ev.AuthorID) {
		return nil
	}
	botID := cli.CurrentUserID()

	// The persona governs the bot's own nickname; the lock check skips it.
	if ev.ParticipantID == botID {
		nick := d.persona.Nickname()
		if ev.NewNickname == nick {
			return nil
		}
		if err := cli.ChangeNickname(ctx, nick, ev.ConversationID, botID); err != nil {
			return fmt.Errorf("restore bot nickname: %w", err)
		}
		metrics.EnforcementsTotal.WithLabelValues("bot_nickname").Inc()
		return d.scold(ctx, cli, ev, ev.AuthorID, d.cat.Replies.BotNickScold, "nickname", nick)
	}

	locked, ok, err := d.locks.GetLock(ev.ConversationID, lockstore.KindNickname)
	if err != nil {
		return err
	}
	if ok {
		if ev.NewNickname == locked {
			return nil
		}
		if err := cli.ChangeNickname(ctx, locked, ev.ConversationID, ev.ParticipantID); err != nil {
			return fmt.Errorf("revert nickname of %s: %w", ev.ParticipantID, err)
		}
		metrics.EnforcementsTotal.WithLabelValues("nickname").Inc()
		who := ev.AuthorID
		if who == "" {
			who = ev.ParticipantID
		}
		return d.scold(ctx, cli, ev, who, d.cat.Replies.NickScold, "nickname", locked)
	}

	auto, err := d.locks.Flag(ev.ConversationID, lockstore.FlagNicknameAutoRemove)
	if err != nil {
		return err
	}
	if !auto || ev.NewNickname == "" {
		return nil
	}
	if err := cli.ChangeNickname(ctx, "", ev.ConversationID, ev.ParticipantID); err != nil {
		return fmt.Errorf("clear nickname of %s: %w", ev.ParticipantID, err)
	}
	metrics.EnforcementsTotal.WithLabelValues("nickname_autoremove").Inc()
	return nil
}

func (d *Dispatcher) onPhoto(ctx context.Context, cli client.Client, ev client.Event) error {
	if d.exempt(cli, ev.AuthorID) {
		return nil
	}
	locked, ok, err := d.locks.GetLock(ev.ConversationID, lockstore.KindPhoto)
	if err != nil || !ok {
		return err
	}

	switch d.photo {
	case PhotoAccept:
		info, err := cli.ThreadInfo(ctx, ev.ConversationID)
		if err != nil {
			return fmt.Errorf("thread info: %w", err)
		}
		if info.ImageSrc == "" {
			return nil
		}
		if err := d.locks.SetLock(ev.ConversationID, lockstore.KindPhoto, info.ImageSrc); err != nil {
			return err
		}
	default:
		if ev.PhotoRef == locked {
			return nil
		}
		if err := cli.SetPhoto(ctx, ev.ConversationID, locked); err != nil {
			return fmt.Errorf("revert photo: %w", err)
		}
	}
	metrics.EnforcementsTotal.WithLabelValues("photo").Inc()
	return d.scold(ctx, cli, ev, ev.AuthorID, d.cat.Replies.PhotoScold)
}

func (d *Dispatcher) onAdded(ctx context.Context, cli client.Client, ev client.Event) error {
	botID := cli.CurrentUserID()
	added := false
	for _, id := range ev.AddedIDs {
		if id == botID {
			added = true
			break
		}
	}
	if !added {
		return nil
	}
	d.joined.Add(ev.ConversationID)

	nick := d.persona.Nickname()
	if err := cli.ChangeNickname(ctx, nick, ev.ConversationID, botID); err != nil && !errors.Is(err, client.ErrUnsupported) {
		log.Printf("dispatcher: set nickname in new conversation %s: %v", ev.ConversationID, err)
	}
	welcome := command.Expand(d.cat.Replies.Welcome, "nickname", nick, "prefix", d.settings.Prefix())
	if err := cli.SendMessage(ctx, client.Message{Body: welcome}, ev.ConversationID); err != nil {
		return fmt.Errorf("send welcome: %w", err)
	}
	log.Printf("dispatcher: added to %s, welcome sent", ev.ConversationID)
	return nil
}

// scold sends tmpl mentioning who.
func (d *Dispatcher) scold(ctx context.Context, cli client.Client, ev client.Event, who, tmpl string, kv ...string) error {
	kv = append(kv, "prefix", d.settings.Prefix())
	if !hasKey(kv, "nickname") {
		kv = append(kv, "nickname", d.persona.Nickname())
	}
	msg := d.format.Mention(ctx, cli, who, tmpl, kv...)
	if err := cli.SendMessage(ctx, msg, ev.ConversationID); err != nil {
		return fmt.Errorf("send scold: %w", err)
	}
	return nil
}

func hasKey(kv []string, key string) bool {
	for i := 0; i < len(kv); i += 2 {
		if kv[i] == key {
			return true
		}
	}
	return false
}
