package amqptest

import (
	"strings"
)

// routes reports whether a message with routingKey is routed to a queue bound with bindingKey.
func routes(kind, bindingKey, routingKey string) bool {
	switch kind {
	case "fanout":
		return true
	case "direct":
		return bindingKey == routingKey
	case "topic":
		return topicMatches(strings.Split(bindingKey, "."), strings.Split(routingKey, "."))
	default:
		return false
	}
}

// topicMatches matches dot separated words, * matches exactly one word and # matches zero or more words.
func topicMatches(pattern, words []string) bool {
	if len(pattern) == 0 {
		return len(words) == 0
	}

	switch pattern[0] {
	case "#":
		for i := 0; i <= len(words); i++ {
			if topicMatches(pattern[1:], words[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(words) > 0 && topicMatches(pattern[1:], words[1:])
	default:
		return len(words) > 0 && pattern[0] == words[0] && topicMatches(pattern[1:], words[1:])
	}
}
