package gateway

import (
	"fmt"
	"sort"
	"strings"
)

// Intent is a single gateway event category a client can opt into.
type Intent uint32

const (
	IntentGuilds                      Intent = 1 << 0
	IntentGuildMembers                Intent = 1 << 1 // privileged
	IntentGuildModeration             Intent = 1 << 2
	IntentGuildEmojisAndStickers      Intent = 1 << 3
	IntentGuildIntegrations           Intent = 1 << 4
	IntentGuildWebhooks               Intent = 1 << 5
	IntentGuildInvites                Intent = 1 << 6
	IntentGuildVoiceStates            Intent = 1 << 7
	IntentGuildPresences              Intent = 1 << 8 // privileged
	IntentGuildMessages               Intent = 1 << 9
	IntentGuildMessageReactions       Intent = 1 << 10
	IntentGuildMessageTyping          Intent = 1 << 11
	IntentDirectMessages              Intent = 1 << 12
	IntentDirectMessageReactions      Intent = 1 << 13
	IntentDirectMessageTyping         Intent = 1 << 14
	IntentMessageContent              Intent = 1 << 15 // privileged
	IntentGuildScheduledEvents        Intent = 1 << 16
	IntentAutoModerationConfiguration Intent = 1 << 20
	IntentAutoModerationExecution     Intent = 1 << 21
)

type intentInfo struct {
	name       string
	privileged bool
}

var intentCatalog = map[Intent]intentInfo{
	IntentGuilds:                      {"GUILDS", false},
	IntentGuildMembers:                {"GUILD_MEMBERS", true},
	IntentGuildModeration:             {"GUILD_MODERATION", false},
	IntentGuildEmojisAndStickers:      {"GUILD_EMOJIS_AND_STICKERS", false},
	IntentGuildIntegrations:           {"GUILD_INTEGRATIONS", false},
	IntentGuildWebhooks:               {"GUILD_WEBHOOKS", false},
	IntentGuildInvites:                {"GUILD_INVITES", false},
	IntentGuildVoiceStates:            {"GUILD_VOICE_STATES", false},
	IntentGuildPresences:              {"GUILD_PRESENCES", true},
	IntentGuildMessages:               {"GUILD_MESSAGES", false},
	IntentGuildMessageReactions:       {"GUILD_MESSAGE_REACTIONS", false},
	IntentGuildMessageTyping:          {"GUILD_MESSAGE_TYPING", false},
	IntentDirectMessages:              {"DIRECT_MESSAGES", false},
	IntentDirectMessageReactions:      {"DIRECT_MESSAGE_REACTIONS", false},
	IntentDirectMessageTyping:         {"DIRECT_MESSAGE_TYPING", false},
	IntentMessageContent:              {"MESSAGE_CONTENT", true},
	IntentGuildScheduledEvents:        {"GUILD_SCHEDULED_EVENTS", false},
	IntentAutoModerationConfiguration: {"AUTO_MODERATION_CONFIGURATION", false},
	IntentAutoModerationExecution:     {"AUTO_MODERATION_EXECUTION", false},
}

// the legacy name of GUILD_MODERATION is still accepted when parsing
var intentAliases = map[string]Intent{
	"GUILD_BANS": IntentGuildModeration,
}

// AllIntents returns every known intent in bit order.
func AllIntents() []Intent {
	out := make([]Intent, 0, len(intentCatalog))
	for i := range intentCatalog {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

func (i Intent) String() string {
	if info, ok := intentCatalog[i]; ok {
		return info.name
	}
	return fmt.Sprintf("INTENT(%#x)", uint32(i))
}

// Known reports whether i is a single intent from the catalog.
func (i Intent) Known() bool {
	_, ok := intentCatalog[i]
	return ok
}

// Privileged reports whether the intent must be enabled out of band
// before the gateway accepts it.
func (i Intent) Privileged() bool {
	return intentCatalog[i].privileged
}

// ParseIntent resolves a catalog name such as "GUILD_MESSAGES".
// Matching ignores case and surrounding whitespace.
func ParseIntent(name string) (Intent, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if i, ok := intentAliases[n]; ok {
		return i, nil
	}
	for i, info := range intentCatalog {
		if info.name == n {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown intent %q", name)
}

// Intents is a set of intents, sent on the wire as its bitmask.
type Intents uint32

// NewIntents builds a set from individual intents.
func NewIntents(intents ...Intent) Intents {
	var s Intents
	return s.With(intents...)
}

// ParseIntents builds a set from catalog names.
func ParseIntents(names []string) (Intents, error) {
	var s Intents
	for _, name := range names {
		i, err := ParseIntent(name)
		if err != nil {
			return 0, err
		}
		s = s.With(i)
	}
	return s, nil
}

// Has reports whether every bit of i is in the set.
func (s Intents) Has(i Intent) bool {
	return uint32(s)&uint32(i) == uint32(i)
}

// With returns the union of the set and the given intents.
func (s Intents) With(intents ...Intent) Intents {
	for _, i := range intents {
		s |= Intents(i)
	}
	return s
}

// Without returns the set with the given intents removed.
func (s Intents) Without(intents ...Intent) Intents {
	for _, i := range intents {
		s &^= Intents(i)
	}
	return s
}

// Union returns s ∪ o.
func (s Intents) Union(o Intents) Intents { return s | o }

// Intersection returns s ∩ o.
func (s Intents) Intersection(o Intents) Intents { return s & o }

// List returns the known intents in the set, in bit order.
func (s Intents) List() []Intent {
	var out []Intent
	for _, i := range AllIntents() {
		if s.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

// Privileged returns the privileged intents contained in the set.
func (s Intents) Privileged() []Intent {
	var out []Intent
	for _, i := range s.List() {
		if i.Privileged() {
			out = append(out, i)
		}
	}
	return out
}

func (s Intents) String() string {
	list := s.List()
	if len(list) == 0 {
		return "NONE"
	}
	names := make([]string, len(list))
	for i, intent := range list {
		names[i] = intent.String()
	}
	return strings.Join(names, "|")
}
