package primitive

import (
	"hash/fnv"
	"strings"
)

// SubExprAll is the subscription expression meaning "match every message".
const SubExprAll = "*"

// SubscriptionData is a parsed subscription expression for one topic.
//
// TagsSet holds the literal tags the expression matched; CodeSet holds an
// FNV-32a hash of each tag. CodeSet is not sent to the broker: pull
// requests and heartbeats carry only SubString. The client always
// re-checks TagsSet on receipt because the broker's own tag filter can have
// false positives (hash collisions) and, for wildcard expressions, does no
// filtering at all.
type SubscriptionData struct {
	Topic      string
	SubString  string
	TagsSet    map[string]struct{}
	CodeSet    map[uint32]struct{}
	SubVersion int64
}

// ParseSubscription parses an expression like "TAG_A || TAG_B" or "*" into a
// SubscriptionData for topic. subVersion should be a monotonically
// increasing stamp (e.g. time.Now().UnixNano()) so the broker can tell two
// subscriptions for the same topic apart across a resubscribe.
func ParseSubscription(topic, expr string, subVersion int64) SubscriptionData {
	sd := SubscriptionData{
		Topic:      topic,
		SubString:  expr,
		TagsSet:    make(map[string]struct{}),
		CodeSet:    make(map[uint32]struct{}),
		SubVersion: subVersion,
	}
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == SubExprAll {
		sd.SubString = SubExprAll
		return sd
	}
	for _, tag := range strings.Split(expr, "||") {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		sd.TagsSet[tag] = struct{}{}
		sd.CodeSet[tagHashCode(tag)] = struct{}{}
	}
	return sd
}

// tagHashCode computes the cheap hash used to populate CodeSet.
func tagHashCode(tag string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tag))
	return h.Sum32()
}

// MatchesAll reports whether this subscription matches every message
// (expression "*").
func (sd SubscriptionData) MatchesAll() bool {
	return sd.SubString == SubExprAll || sd.SubString == ""
}

// Match reports whether a message with the given tag satisfies this
// subscription. This is the client-side re-check that stays authoritative
// regardless of what the broker's best-effort filter decided.
func (sd SubscriptionData) Match(tag string) bool {
	if sd.MatchesAll() {
		return true
	}
	if tag == "" {
		return false
	}
	_, ok := sd.TagsSet[tag]
	return ok
}
