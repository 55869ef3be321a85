// Package command parses chat messages into replies: admin-mention
// guards, trigger phrases and prefix commands.
package command

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/zulandar/warden/internal/client"
	"github.com/zulandar/warden/internal/lockstore"
	"github.com/zulandar/warden/internal/metrics"
	"github.com/zulandar/warden/internal/session"
	"github.com/zulandar/warden/internal/state"
	"golang.org/x/time/rate"
)

// Router handles message events. Routing order:
//  1. Bot self-message → ignore
//  2. Admin mentioned → one admin-mention reply
//  3. Trigger phrase → its canned reply
//  4. Command prefix → command handler
//  5. Everything else → ignore
type Router struct {
	settings *state.Settings
	persona  *state.Persona
	store    *state.FileStore
	locks    lockstore.Store
	sessions *session.Manager
	cat      *Catalogue
	format   *Formatter
	triggers *TriggerTable
	admin    Selector
	limiter  *rate.Limiter
	commands map[string]command
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Settings  *state.Settings
	Persona   *state.Persona
	StateFile *state.FileStore // botnick snapshot; nil disables saving
	Locks     lockstore.Store
	Sessions  *session.Manager
	Catalogue *Catalogue    // defaults to DefaultCatalogue()
	Throttle  *rate.Limiter // paces bulk nickname changes; nil = unlimited
	Rand      *rand.Rand    // defaults to a time-seeded source
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Settings == nil {
		return nil, fmt.Errorf("command: router: settings is required")
	}
	if opts.Persona == nil {
		return nil, fmt.Errorf("command: router: persona is required")
	}
	if opts.Locks == nil {
		return nil, fmt.Errorf("command: router: lock store is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("command: router: session manager is required")
	}
	cat := opts.Catalogue
	if cat == nil {
		cat = DefaultCatalogue()
	}
	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("command: router: %w", err)
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	triggers, err := NewTriggerTable(cat.Triggers, rng)
	if err != nil {
		return nil, err
	}
	limiter := opts.Throttle
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	r := &Router{
		settings: opts.Settings,
		persona:  opts.Persona,
		store:    opts.StateFile,
		locks:    opts.Locks,
		sessions: opts.Sessions,
		cat:      cat,
		format:   NewFormatter(cat, opts.Persona),
		triggers: triggers,
		admin:    OneOf(cat.AdminMention...),
		limiter:  limiter,
	}
	r.commands = r.commandTable()
	return r, nil
}

// Formatter returns the formatter used for replies.
func (r *Router) Formatter() *Formatter { return r.format }

// Catalogue returns the reply catalogue.
func (r *Router) Catalogue() *Catalogue { return r.cat }

// HandleMessage routes a single message or reply event.
func (r *Router) HandleMessage(ctx context.Context, cli client.Client, ev client.Event) {
	if ev.SenderID != "" && ev.SenderID == cli.CurrentUserID() {
		return
	}

	// Mentioning the admin short-circuits everything else.
	if admin := r.settings.AdminID(); admin != "" {
		for _, id := range ev.Mentions {
			if id == admin {
				r.reply(ctx, cli, ev, r.triggers.Pick(r.admin))
				return
			}
		}
	}

	if reply, rule, ok := r.triggers.Evaluate(ev.Body); ok {
		log.Printf("command: trigger %s in %s", rule, ev.ConversationID)
		r.reply(ctx, cli, ev, reply)
		return
	}

	prefix := r.settings.Prefix()
	if ev.Body == "" || !strings.HasPrefix(ev.Body, prefix) {
		return
	}
	name, args := parseCommand(ev.Body, prefix)
	r.dispatch(ctx, cli, ev, name, args)
}

// parseCommand strips the prefix and splits the remainder on whitespace.
// The command name is lower-cased.
func parseCommand(body, prefix string) (string, []string) {
	fields := strings.Fields(strings.TrimPrefix(body, prefix))
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

func (r *Router) dispatch(ctx context.Context, cli client.Client, ev client.Event, name string, args []string) {
	isAdmin := r.settings.IsAdmin(ev.SenderID)
	cmd, ok := r.commands[name]
	if !ok {
		metrics.CommandsTotal.WithLabelValues("unknown", "unknown").Inc()
		if isAdmin {
			r.reply(ctx, cli, ev, Expand(r.cat.Replies.UnknownCommand, "prefix", r.settings.Prefix()))
		} else {
			r.reply(ctx, cli, ev, r.cat.Replies.Refusal)
		}
		return
	}
	if cmd.admin && !isAdmin {
		metrics.CommandsTotal.WithLabelValues(name, "denied").Inc()
		r.reply(ctx, cli, ev, r.cat.Replies.Refusal)
		return
	}
	r.run(ctx, &call{cli: cli, ev: ev, name: name, args: args}, cmd)
}

// run executes one command handler. Panics and errors end in an apology
// reply; neither propagates.
func (r *Router) run(ctx context.Context, c *call, cmd command) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("command: %s: panic: %v", c.name, p)
			metrics.HandlerPanics.WithLabelValues("command").Inc()
			metrics.CommandsTotal.WithLabelValues(c.name, "error").Inc()
			r.reply(ctx, c.cli, c.ev, r.cat.Replies.CommandFailed)
		}
	}()
	if err := cmd.run(ctx, c); err != nil {
		log.Printf("command: %s in %s: %v", c.name, c.ev.ConversationID, err)
		metrics.CommandsTotal.WithLabelValues(c.name, "error").Inc()
		r.reply(ctx, c.cli, c.ev, r.cat.Replies.CommandFailed)
		return
	}
	metrics.CommandsTotal.WithLabelValues(c.name, "ok").Inc()
}

// reply sends a formatted reply to the sender of ev.
func (r *Router) reply(ctx context.Context, cli client.Client, ev client.Event, text string) {
	msg := r.format.Format(ctx, cli, ev.SenderID, text)
	if err := cli.SendMessage(ctx, msg, ev.ConversationID); err != nil {
		log.Printf("command: send reply to %s: %v", ev.ConversationID, err)
	}
}
