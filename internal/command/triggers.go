package command

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// Predicate tests a lower-cased message body.
type Predicate func(lower string) bool

// Selector picks one reply.
type Selector func(pick func(n int) int) string

// Contains matches bodies containing word.
func Contains(word string) Predicate {
	word = strings.ToLower(word)
	return func(lower string) bool { return strings.Contains(lower, word) }
}

// Exact matches bodies that are exactly word once trimmed.
func Exact(word string) Predicate {
	word = strings.ToLower(strings.TrimSpace(word))
	return func(lower string) bool { return strings.TrimSpace(lower) == word }
}

// OneOf picks uniformly among replies.
func OneOf(replies ...string) Selector {
	pool := append([]string(nil), replies...)
	return func(pick func(n int) int) string {
		if len(pool) == 1 {
			return pool[0]
		}
		return pool[pick(len(pool))]
	}
}

// Rule is one row of the trigger table.
type Rule struct {
	Name  string
	Match Predicate
	Reply Selector
}

// TriggerTable evaluates rules in order; the first match wins.
type TriggerTable struct {
	rules []Rule

	mu  sync.Mutex
	rng *rand.Rand
}

// NewTriggerTable builds a table from catalogue rows.
func NewTriggerTable(specs []TriggerSpec, rng *rand.Rand) (*TriggerTable, error) {
	rules := make([]Rule, 0, len(specs))
	for i, s := range specs {
		var match Predicate
		switch s.Match {
		case "contains":
			match = Contains(s.Word)
		case "exact":
			match = Exact(s.Word)
		default:
			return nil, fmt.Errorf("command: trigger %d: unknown match %q", i, s.Match)
		}
		if len(s.Replies) == 0 {
			return nil, fmt.Errorf("command: trigger %d: no replies", i)
		}
		rules = append(rules, Rule{Name: s.Match + ":" + s.Word, Match: match, Reply: OneOf(s.Replies...)})
	}
	return newTable(rules, rng), nil
}

func newTable(rules []Rule, rng *rand.Rand) *TriggerTable {
	return &TriggerTable{rules: rules, rng: rng}
}

// Evaluate returns the reply of the first rule matching body.
func (t *TriggerTable) Evaluate(body string) (reply, rule string, ok bool) {
	if body == "" {
		return "", "", false
	}
	lower := strings.ToLower(body)
	for _, r := range t.rules {
		if r.Match(lower) {
			return r.Reply(t.intn), r.Name, true
		}
	}
	return "", "", false
}

// Pick selects from sel using the table's random source.
func (t *TriggerTable) Pick(sel Selector) string {
	return sel(t.intn)
}

func (t *TriggerTable) intn(n int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rng.Intn(n)
}
