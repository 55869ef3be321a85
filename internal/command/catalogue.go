package command

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalogue holds every user-visible string the bot sends. Swapping the
// catalogue swaps the persona; the routing and enforcement logic is shared.
//
// Templates use {placeholders}: {name}, {prefix}, {nickname}, {title},
// {id}, {label}, {file}, and the {gc}/{gcauto}/{nick}/{nickauto} status
// fields.
type Catalogue struct {
	// Header precedes every formatted reply and must contain {name}; the
	// sender is mentioned at that position.
	Header       string `yaml:"header"`
	FallbackName string `yaml:"fallback_name"`
	Signature    string `yaml:"signature"`
	Separator    string `yaml:"separator"`

	// AdminMention is the pool answered when someone mentions the admin.
	AdminMention []string      `yaml:"admin_mention"`
	Triggers     []TriggerSpec `yaml:"triggers"`
	Replies      Replies       `yaml:"replies"`
}

// TriggerSpec is one row of the trigger table. Match is "contains" (the
// lower-cased body contains Word) or "exact" (the trimmed lower-cased body
// equals Word).
type TriggerSpec struct {
	Match   string   `yaml:"match"`
	Word    string   `yaml:"word"`
	Replies []string `yaml:"replies"`
}

// Replies are the fixed reply templates.
type Replies struct {
	Refusal        string `yaml:"refusal"`
	UnknownCommand string `yaml:"unknown_command"`
	CommandFailed  string `yaml:"command_failed"`
	Help           string `yaml:"help"`
	Startup        string `yaml:"startup"`
	Welcome        string `yaml:"welcome"`

	TitleScold   string `yaml:"title_scold"`
	BotNickScold string `yaml:"bot_nick_scold"`
	NickScold    string `yaml:"nick_scold"`
	PhotoScold   string `yaml:"photo_scold"`

	GroupUsage    string `yaml:"group_usage"`
	GroupLocked   string `yaml:"group_locked"`
	GroupUnlocked string `yaml:"group_unlocked"`

	NicknameUsage    string `yaml:"nickname_usage"`
	NicknameLocked   string `yaml:"nickname_locked"`
	NicknameUnlocked string `yaml:"nickname_unlocked"`

	BotnickUsage   string `yaml:"botnick_usage"`
	BotnickChanged string `yaml:"botnick_changed"`

	ThreadID string `yaml:"thread_id"`
	UserID   string `yaml:"user_id"`
	OwnID    string `yaml:"own_id"`

	FightUsage    string `yaml:"fight_usage"`
	FightStarted  string `yaml:"fight_started"`
	FightStopped  string `yaml:"fight_stopped"`
	FightInactive string `yaml:"fight_inactive"`
	StopNothing   string `yaml:"stop_nothing"`

	TargetUsage    string `yaml:"target_usage"`
	TargetAnnounce string `yaml:"target_announce"`
	TargetReplaced string `yaml:"target_replaced"`
	TargetStarted  string `yaml:"target_started"`
	TargetStopped  string `yaml:"target_stopped"`
	TargetInactive string `yaml:"target_inactive"`
	TargetNotFound string `yaml:"target_not_found"`
	TargetEmpty    string `yaml:"target_empty"`
	TargetFailed   string `yaml:"target_failed"`

	PhotoUsage    string `yaml:"photo_usage"`
	PhotoLocked   string `yaml:"photo_locked"`
	PhotoUnlocked string `yaml:"photo_unlocked"`
	PhotoMissing  string `yaml:"photo_missing"`

	GCLockUsage string `yaml:"gclock_usage"`
	GCLocked    string `yaml:"gclock_done"`
	GCRemoved   string `yaml:"gcremove_done"`

	NickLockUsage  string `yaml:"nicklock_usage"`
	NickLocked     string `yaml:"nicklock_done"`
	NickRemovedAll string `yaml:"nickremoveall_done"`
	NickRemoveOff  string `yaml:"nickremoveoff_done"`

	Status string `yaml:"status"`
	On     string `yaml:"on"`
	Off    string `yaml:"off"`
}

// DefaultCatalogue returns the built-in persona.
func DefaultCatalogue() *Catalogue {
	return &Catalogue{
		Header:       "[ {name} ]",
		FallbackName: "User",
		Signature:    "\n\n- {nickname}",
		Separator:    "\n------------------------------",
		AdminMention: []string{
			"Please don't ping the admin, they'll get to you.",
			"The admin is busy. Ask me instead.",
			"No need to mention the admin here.",
		},
		Triggers: []TriggerSpec{
			{Match: "contains", Word: "good morning", Replies: []string{"Good morning to you too!"}},
			{Match: "contains", Word: "good night", Replies: []string{"Good night, sleep well.", "Night! See you tomorrow."}},
			{Match: "contains", Word: "thank", Replies: []string{"Any time.", "You're welcome!"}},
			{Match: "exact", Word: "bot", Replies: []string{
				"Yes? I'm listening.",
				"Bot reporting for duty.",
				"Need something? Try the help command.",
				"Still here, still watching.",
			}},
		},
		Replies: Replies{
			Refusal:        "You are not allowed to use this command.",
			UnknownCommand: "Unknown command. Use {prefix}help to see what I can do.",
			CommandFailed:  "Sorry, something went wrong while running that command.",
			Help: "Commands:\n" +
				"{prefix}group on <name> | off - lock the group name\n" +
				"{prefix}nickname on <name> | off - lock everyone's nickname\n" +
				"{prefix}botnick <name> - change my nickname\n" +
				"{prefix}tid - show this group's ID\n" +
				"{prefix}uid [@mention] - show a user ID\n" +
				"{prefix}fyt on | off - toggle fight mode\n" +
				"{prefix}target on <number> <name> | off - start or stop a target\n" +
				"{prefix}stop - stop fight mode or the target\n" +
				"{prefix}photolock on | off - lock the group photo\n" +
				"{prefix}gclock <name> - lock the group name\n" +
				"{prefix}gcremove - remove the group name and keep it empty\n" +
				"{prefix}nicklock <name> - set and lock every nickname\n" +
				"{prefix}nickremoveall - clear every nickname and keep them empty\n" +
				"{prefix}nickremoveoff - stop clearing nicknames\n" +
				"{prefix}status - show lock status\n" +
				"{prefix}help - show this message",
			Startup: "{nickname} is online. Type {prefix}help for commands.",
			Welcome: "Thanks for adding me! I'm {nickname}. Type {prefix}help for commands.",

			TitleScold:   "{name}, the group name is locked. I changed it back to \"{title}\".",
			BotNickScold: "{name}, please don't change my nickname. I'm {nickname}.",
			NickScold:    "{name}, nicknames are locked in this group.",
			PhotoScold:   "{name}, the group photo is locked.",

			GroupUsage:    "Usage: {prefix}group on <name> | {prefix}group off",
			GroupLocked:   "Group name locked to \"{title}\".",
			GroupUnlocked: "Group name unlocked.",

			NicknameUsage:    "Usage: {prefix}nickname on <name> | {prefix}nickname off",
			NicknameLocked:   "All nicknames locked to \"{nickname}\".",
			NicknameUnlocked: "Nickname lock removed.",

			BotnickUsage:   "Usage: {prefix}botnick <name>",
			BotnickChanged: "My nickname is now {nickname}.",

			ThreadID: "Group ID: {id}",
			UserID:   "User ID: {id}",
			OwnID:    "Your ID: {id}",

			FightUsage:    "Usage: {prefix}fyt on | {prefix}fyt off",
			FightStarted:  "Fight mode on.",
			FightStopped:  "Fight mode stopped.",
			FightInactive: "Fight mode is not on.",
			StopNothing:   "Nothing is running.",

			TargetUsage:    "Usage: {prefix}target on <number> <name> | {prefix}target off",
			TargetAnnounce: "Target locked: {label}",
			TargetReplaced: "Previous target replaced.",
			TargetStarted:  "Target on {label} started with catalogue {file}.",
			TargetStopped:  "Target stopped.",
			TargetInactive: "No target is running.",
			TargetNotFound: "Catalogue np{file}.txt was not found.",
			TargetEmpty:    "Catalogue np{file}.txt has no messages.",
			TargetFailed:   "Target stopped: a message could not be sent.",

			PhotoUsage:    "Usage: {prefix}photolock on | {prefix}photolock off",
			PhotoLocked:   "Group photo locked.",
			PhotoUnlocked: "Group photo unlocked.",
			PhotoMissing:  "Set a group photo first, then lock it.",

			GCLockUsage: "Usage: {prefix}gclock <name>",
			GCLocked:    "Group name locked to \"{title}\".",
			GCRemoved:   "Group name removed. New names will be cleared.",

			NickLockUsage:  "Usage: {prefix}nicklock <name>",
			NickLocked:     "Every nickname set and locked to \"{nickname}\".",
			NickRemovedAll: "All nicknames removed. New nicknames will be cleared.",
			NickRemoveOff:  "Nickname auto-remove turned off.",

			Status: "GC Lock: {gc}\nGC AutoRemove: {gcauto}\nNick Lock: {nick}\nNick AutoRemove: {nickauto}",
			On:     "ON",
			Off:    "OFF",
		},
	}
}

// LoadCatalogueFile reads a YAML catalogue. Keys absent from the file keep
// their built-in values.
func LoadCatalogueFile(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("command: read catalogue %s: %w", path, err)
	}
	cat := DefaultCatalogue()
	if err := yaml.Unmarshal(data, cat); err != nil {
		return nil, fmt.Errorf("command: parse catalogue %s: %w", path, err)
	}
	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("command: catalogue %s: %w", path, err)
	}
	return cat, nil
}

// Validate checks the catalogue for unusable entries.
func (c *Catalogue) Validate() error {
	var errs []string
	if !strings.Contains(c.Header, "{name}") {
		errs = append(errs, "header must contain {name}")
	}
	if len(c.AdminMention) == 0 {
		errs = append(errs, "admin_mention must not be empty")
	}
	for i, t := range c.Triggers {
		if t.Match != "contains" && t.Match != "exact" {
			errs = append(errs, fmt.Sprintf("triggers[%d]: match must be contains or exact, got %q", i, t.Match))
		}
		if strings.TrimSpace(t.Word) == "" {
			errs = append(errs, fmt.Sprintf("triggers[%d]: word is required", i))
		}
		if len(t.Replies) == 0 {
			errs = append(errs, fmt.Sprintf("triggers[%d]: replies must not be empty", i))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Expand substitutes {key} placeholders; kv alternates key, value.
func Expand(tmpl string, kv ...string) string {
	if len(kv) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, "{"+kv[i]+"}", kv[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
