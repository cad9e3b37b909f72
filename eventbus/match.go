package eventbus

import "strings"

// matchTopic reports whether a colon-delimited topic matches a subscription
// pattern. The matcher is a plain segment tokenizer, deliberately independent
// of any regex engine:
//
//   - "*" alone matches every topic
//   - a "*" segment matches exactly one topic segment
//     ("module:*:changed" matches "module:toggle:changed")
//   - a trailing "*" on the final segment matches any suffix from that point
//     ("module:toggle:cloudSync*" matches "module:toggle:cloudSyncComplete"
//     and "module:toggle:cloudSync:phase:done", but not "module:toggle:other")
//
// Anything else is compared segment-for-segment. There is no error case: a
// pattern that can never match simply never fires.
func matchTopic(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == topic {
		return true
	}
	if pattern == "" || topic == "" {
		return false
	}

	patSegs := strings.Split(pattern, ":")
	topicSegs := strings.Split(topic, ":")

	for i, ps := range patSegs {
		last := i == len(patSegs)-1

		// A final "abc*" segment swallows the rest of the topic as long as
		// the remainder starts with the prefix.
		if last && ps != "*" && strings.HasSuffix(ps, "*") {
			if i >= len(topicSegs) {
				return false
			}
			rest := strings.Join(topicSegs[i:], ":")
			return strings.HasPrefix(rest, strings.TrimSuffix(ps, "*"))
		}

		if i >= len(topicSegs) {
			return false
		}
		if ps == "*" {
			continue
		}
		if ps != topicSegs[i] {
			return false
		}
	}

	return len(patSegs) == len(topicSegs)
}
