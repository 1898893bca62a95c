package memory

import "strings"

// MaxTopicsPerEntry caps how many tags one entry carries. Broad tags beat
// many narrow ones: retrieval matches on overlap, so over-tagging inflates
// recall with marginal facts.
const MaxTopicsPerEntry = 3

// StandardTopics is the preferred tagging vocabulary. Extractors should pick
// from this list and only coin a new topic when nothing here fits; a shared
// vocabulary keeps overlap matching effective across entries written months
// apart.
var StandardTopics = []string{
	"work",
	"family",
	"health",
	"hobbies",
	"travel",
	"food",
	"finance",
	"education",
	"relationships",
	"preferences",
	"goals",
	"technology",
	"home",
	"events",
}

// IsStandardTopic reports whether topic belongs to the shared vocabulary.
func IsStandardTopic(topic string) bool {
	t := strings.ToLower(strings.TrimSpace(topic))
	for _, s := range StandardTopics {
		if s == t {
			return true
		}
	}
	return false
}

// NormalizeTopics lowercases, trims and dedupes topics, keeping at most
// MaxTopicsPerEntry in input order.
func NormalizeTopics(topics []string) []string {
	out := make([]string, 0, MaxTopicsPerEntry)
	seen := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == MaxTopicsPerEntry {
			break
		}
	}
	return out
}
