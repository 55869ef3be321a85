package command

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/zulandar/warden/internal/client"
	"github.com/zulandar/warden/internal/lockstore"
	"github.com/zulandar/warden/internal/session"
	"github.com/zulandar/warden/internal/state"
)

// call is one parsed command invocation.
type call struct {
	cli  client.Client
	ev   client.Event
	name string
	args []string
}

func (c *call) conv() string { return c.ev.ConversationID }

// sub returns the lower-cased first argument.
func (c *call) sub() string {
	if len(c.args) == 0 {
		return ""
	}
	return strings.ToLower(c.args[0])
}

// rest joins the arguments from index i on.
func (c *call) rest(i int) string {
	if i >= len(c.args) {
		return ""
	}
	return strings.TrimSpace(strings.Join(c.args[i:], " "))
}

type command struct {
	admin bool
	run   func(ctx context.Context, c *call) error
}

func (r *Router) commandTable() map[string]command {
	return map[string]command{
		"group":         {admin: true, run: r.cmdGroup},
		"nickname":      {admin: true, run: r.cmdNickname},
		"botnick":       {admin: true, run: r.cmdBotnick},
		"tid":           {run: r.cmdTID},
		"uid":           {run: r.cmdUID},
		"fyt":           {admin: true, run: r.cmdFight},
		"stop":          {admin: true, run: r.cmdStop},
		"target":        {admin: true, run: r.cmdTarget},
		"help":          {run: r.cmdHelp},
		"photolock":     {admin: true, run: r.cmdPhotoLock},
		"gclock":        {admin: true, run: r.cmdGCLock},
		"gcremove":      {admin: true, run: r.cmdGCRemove},
		"nicklock":      {admin: true, run: r.cmdNickLock},
		"nickremoveall": {admin: true, run: r.cmdNickRemoveAll},
		"nickremoveoff": {admin: true, run: r.cmdNickRemoveOff},
		"status":        {admin: true, run: r.cmdStatus},
	}
}

func (r *Router) say(ctx context.Context, c *call, tmpl string, kv ...string) error {
	kv = append(kv, "prefix", r.settings.Prefix(), "nickname", r.persona.Nickname())
	r.reply(ctx, c.cli, c.ev, Expand(tmpl, kv...))
	return nil
}

// --- Locks ---

func (r *Router) cmdGroup(ctx context.Context, c *call) error {
	switch c.sub() {
	case "on":
		title := c.rest(1)
		if title == "" {
			return r.say(ctx, c, r.cat.Replies.GroupUsage)
		}
		if err := r.lockTitle(ctx, c, title); err != nil {
			return err
		}
		return r.say(ctx, c, r.cat.Replies.GroupLocked, "title", title)
	case "off":
		if err := r.locks.ClearLock(c.conv(), lockstore.KindTitle); err != nil {
			return err
		}
		return r.say(ctx, c, r.cat.Replies.GroupUnlocked)
	default:
		return r.say(ctx, c, r.cat.Replies.GroupUsage)
	}
}

func (r *Router) cmdGCLock(ctx context.Context, c *call) error {
	title := c.rest(0)
	if title == "" {
		return r.say(ctx, c, r.cat.Replies.GCLockUsage)
	}
	if err := r.lockTitle(ctx, c, title); err != nil {
		return err
	}
	return r.say(ctx, c, r.cat.Replies.GCLocked, "title", title)
}

// lockTitle records the title lock, turns off title auto-remove and applies
// the title.
func (r *Router) lockTitle(ctx context.Context, c *call, title string) error {
	if err := r.locks.SetLock(c.conv(), lockstore.KindTitle, title); err != nil {
		return err
	}
	if err := r.locks.SetFlag(c.conv(), lockstore.FlagTitleAutoRemove, false); err != nil {
		return err
	}
	if err := c.cli.SetTitle(ctx, title, c.conv()); err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	return nil
}

func (r *Router) cmdGCRemove(ctx context.Context, c *call) error {
	if err := r.locks.ClearLock(c.conv(), lockstore.KindTitle); err != nil {
		return err
	}
	if err := r.locks.SetFlag(c.conv(), lockstore.FlagTitleAutoRemove, true); err != nil {
		return err
	}
	if err := c.cli.SetTitle(ctx, "", c.conv()); err != nil {
		if !errors.Is(err, client.ErrUnsupported) {
			return fmt.Errorf("clear title: %w", err)
		}
		log.Printf("command: gcremove in %s: %v", c.conv(), err)
	}
	return r.say(ctx, c, r.cat.Replies.GCRemoved)
}

func (r *Router) cmdNickname(ctx context.Context, c *call) error {
	switch c.sub() {
	case "on":
		nick := c.rest(1)
		if nick == "" {
			return r.say(ctx, c, r.cat.Replies.NicknameUsage)
		}
		if err := r.locks.SetLock(c.conv(), lockstore.KindNickname, nick); err != nil {
			return err
		}
		admin := r.settings.AdminID()
		if err := r.applyNickname(ctx, c, nick, func(id string) bool { return id == admin }); err != nil {
			return err
		}
		return r.say(ctx, c, r.cat.Replies.NicknameLocked, "nickname", nick)
	case "off":
		if err := r.locks.ClearLock(c.conv(), lockstore.KindNickname); err != nil {
			return err
		}
		return r.say(ctx, c, r.cat.Replies.NicknameUnlocked)
	default:
		return r.say(ctx, c, r.cat.Replies.NicknameUsage)
	}
}

func (r *Router) cmdNickLock(ctx context.Context, c *call) error {
	nick := c.rest(0)
	if nick == "" {
		return r.say(ctx, c, r.cat.Replies.NickLockUsage)
	}
	if err := r.locks.SetLock(c.conv(), lockstore.KindNickname, nick); err != nil {
		return err
	}
	if err := r.locks.SetFlag(c.conv(), lockstore.FlagNicknameAutoRemove, false); err != nil {
		return err
	}
	if err := r.applyNickname(ctx, c, nick, nil); err != nil {
		return err
	}
	return r.say(ctx, c, r.cat.Replies.NickLocked, "nickname", nick)
}

func (r *Router) cmdNickRemoveAll(ctx context.Context, c *call) error {
	if err := r.locks.ClearLock(c.conv(), lockstore.KindNickname); err != nil {
		return err
	}
	if err := r.locks.SetFlag(c.conv(), lockstore.FlagNicknameAutoRemove, true); err != nil {
		return err
	}
	if err := r.applyNickname(ctx, c, "", nil); err != nil {
		return err
	}
	return r.say(ctx, c, r.cat.Replies.NickRemovedAll)
}

func (r *Router) cmdNickRemoveOff(ctx context.Context, c *call) error {
	if err := r.locks.SetFlag(c.conv(), lockstore.FlagNicknameAutoRemove, false); err != nil {
		return err
	}
	return r.say(ctx, c, r.cat.Replies.NickRemoveOff)
}

// applyNickname sets nick on every participant except the bot and those
// matched by skip. A failure for one participant is logged and the rest
// are still attempted; an unsupported platform stops immediately.
func (r *Router) applyNickname(ctx context.Context, c *call, nick string, skip func(id string) bool) error {
	info, err := c.cli.ThreadInfo(ctx, c.conv())
	if err != nil {
		return fmt.Errorf("thread info: %w", err)
	}
	botID := c.cli.CurrentUserID()
	changed := 0
	for _, pid := range info.ParticipantIDs {
		if pid == botID || (skip != nil && skip(pid)) {
			continue
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := c.cli.ChangeNickname(ctx, nick, c.conv(), pid); err != nil {
			if errors.Is(err, client.ErrUnsupported) {
				return err
			}
			log.Printf("command: %s: nickname %s in %s: %v", c.name, pid, c.conv(), err)
			continue
		}
		changed++
	}
	log.Printf("command: %s: updated %d nicknames in %s", c.name, changed, c.conv())
	return nil
}

func (r *Router) cmdBotnick(ctx context.Context, c *call) error {
	nick := c.rest(0)
	if nick == "" {
		return r.say(ctx, c, r.cat.Replies.BotnickUsage)
	}
	r.persona.SetNickname(nick)
	if r.store != nil {
		snap := state.Snapshot{BotNickname: nick, Cookies: c.cli.AppState()}
		if err := r.store.Save(snap); err != nil {
			log.Printf("command: botnick: save %s: %v", r.store.Path(), err)
		}
	}
	if err := c.cli.ChangeNickname(ctx, nick, c.conv(), c.cli.CurrentUserID()); err != nil {
		return fmt.Errorf("change bot nickname: %w", err)
	}
	return r.say(ctx, c, r.cat.Replies.BotnickChanged, "nickname", nick)
}

func (r *Router) cmdPhotoLock(ctx context.Context, c *call) error {
	switch c.sub() {
	case "on":
		info, err := c.cli.ThreadInfo(ctx, c.conv())
		if err != nil {
			return fmt.Errorf("thread info: %w", err)
		}
		if info.ImageSrc == "" {
			return r.say(ctx, c, r.cat.Replies.PhotoMissing)
		}
		if err := r.locks.SetLock(c.conv(), lockstore.KindPhoto, info.ImageSrc); err != nil {
			return err
		}
		return r.say(ctx, c, r.cat.Replies.PhotoLocked)
	case "off":
		if err := r.locks.ClearLock(c.conv(), lockstore.KindPhoto); err != nil {
			return err
		}
		return r.say(ctx, c, r.cat.Replies.PhotoUnlocked)
	default:
		return r.say(ctx, c, r.cat.Replies.PhotoUsage)
	}
}

func (r *Router) cmdStatus(ctx context.Context, c *call) error {
	on, off := r.cat.Replies.On, r.cat.Replies.Off
	onOff := func(b bool) string {
		if b {
			return on
		}
		return off
	}

	gc := off
	if title, ok, err := r.locks.GetLock(c.conv(), lockstore.KindTitle); err != nil {
		return err
	} else if ok {
		gc = title
	}
	nick := off
	if v, ok, err := r.locks.GetLock(c.conv(), lockstore.KindNickname); err != nil {
		return err
	} else if ok {
		nick = fmt.Sprintf("%s (%s)", on, v)
	}
	gcAuto, err := r.locks.Flag(c.conv(), lockstore.FlagTitleAutoRemove)
	if err != nil {
		return err
	}
	nickAuto, err := r.locks.Flag(c.conv(), lockstore.FlagNicknameAutoRemove)
	if err != nil {
		return err
	}
	return r.say(ctx, c, r.cat.Replies.Status,
		"gc", gc, "gcauto", onOff(gcAuto), "nick", nick, "nickauto", onOff(nickAuto))
}

// --- Info ---

func (r *Router) cmdTID(ctx context.Context, c *call) error {
	return r.say(ctx, c, r.cat.Replies.ThreadID, "id", c.conv())
}

func (r *Router) cmdUID(ctx context.Context, c *call) error {
	if len(c.ev.Mentions) > 0 {
		return r.say(ctx, c, r.cat.Replies.UserID, "id", c.ev.Mentions[0])
	}
	return r.say(ctx, c, r.cat.Replies.OwnID, "id", c.ev.SenderID)
}

func (r *Router) cmdHelp(ctx context.Context, c *call) error {
	return r.say(ctx, c, r.cat.Replies.Help)
}

// --- Sessions ---

func (r *Router) cmdFight(ctx context.Context, c *call) error {
	switch c.sub() {
	case "on":
		r.sessions.StartFight(c.conv())
		return r.say(ctx, c, r.cat.Replies.FightStarted)
	case "off":
		if !r.sessions.StopFight(c.conv()) {
			return r.say(ctx, c, r.cat.Replies.FightInactive)
		}
		return r.say(ctx, c, r.cat.Replies.FightStopped)
	default:
		return r.say(ctx, c, r.cat.Replies.FightUsage)
	}
}

func (r *Router) cmdStop(ctx context.Context, c *call) error {
	kind, ok := r.sessions.Stop(c.conv())
	switch {
	case !ok:
		return r.say(ctx, c, r.cat.Replies.StopNothing)
	case kind == session.KindFight:
		return r.say(ctx, c, r.cat.Replies.FightStopped)
	default:
		return r.say(ctx, c, r.cat.Replies.TargetStopped)
	}
}

func (r *Router) cmdTarget(ctx context.Context, c *call) error {
	switch c.sub() {
	case "on":
		return r.startTarget(ctx, c)
	case "off":
		if !r.sessions.StopTarget(c.conv()) {
			return r.say(ctx, c, r.cat.Replies.TargetInactive)
		}
		return r.say(ctx, c, r.cat.Replies.TargetStopped)
	default:
		return r.say(ctx, c, r.cat.Replies.TargetUsage)
	}
}

func (r *Router) startTarget(ctx context.Context, c *call) error {
	if len(c.args) < 3 {
		return r.say(ctx, c, r.cat.Replies.TargetUsage)
	}
	file, label := c.args[1], c.rest(2)

	// The failure callback runs on the session's goroutine after this
	// command has returned.
	cli, ev := c.cli, c.ev
	_, replaced, err := r.sessions.StartTarget(session.TargetSpec{
		ConversationID: c.conv(),
		FileNumber:     file,
		Label:          label,
		OnFailure: func(error) {
			r.reply(context.Background(), cli, ev, r.cat.Replies.TargetFailed)
		},
	})
	switch {
	case errors.Is(err, session.ErrCatalogueNotFound):
		return r.say(ctx, c, r.cat.Replies.TargetNotFound, "file", file)
	case errors.Is(err, session.ErrCatalogueEmpty):
		return r.say(ctx, c, r.cat.Replies.TargetEmpty, "file", file)
	case err != nil:
		return err
	}

	announce := client.Message{Body: Expand(r.cat.Replies.TargetAnnounce, "label", label)}
	if err := c.cli.SendMessage(ctx, announce, c.conv()); err != nil {
		log.Printf("command: target: announce in %s: %v", c.conv(), err)
	}
	if replaced {
		r.say(ctx, c, r.cat.Replies.TargetReplaced)
	}
	return r.say(ctx, c, r.cat.Replies.TargetStarted, "label", label, "file", file)
}
