package protomq

import (
	"strings"
	"unicode/utf8"
)

// Topic errors. All are in the ErrMalformedPacket class: they surface
// from packet validation.
var (
	ErrEmptyTopic         = malformedf("topic cannot be empty")
	ErrInvalidTopicName   = malformedf("invalid topic name")
	ErrInvalidTopicFilter = malformedf("invalid topic filter")
)

const (
	topicSeparator      = "/"
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
)

// ValidateTopicName checks a PUBLISH topic name: non-empty, valid
// UTF-8, no NUL, and wildcard-free.
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if !utf8.ValidString(topic) {
		return ErrInvalidTopicName
	}
	if strings.ContainsAny(topic, "+#\x00") {
		return ErrInvalidTopicName
	}
	return nil
}

// ValidateTopicFilter checks a subscription filter: non-empty, valid
// UTF-8, no NUL, and wildcards only in their legal positions. '+' must
// occupy a whole level; '#' must occupy the whole final level.
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}
	if !utf8.ValidString(filter) {
		return ErrInvalidTopicFilter
	}
	if strings.ContainsRune(filter, 0) {
		return ErrInvalidTopicFilter
	}

	levels := strings.Split(filter, topicSeparator)
	for i, level := range levels {
		if strings.Contains(level, singleLevelWildcard) && level != singleLevelWildcard {
			return ErrInvalidTopicFilter
		}
		if strings.Contains(level, multiLevelWildcard) {
			if level != multiLevelWildcard || i != len(levels)-1 {
				return ErrInvalidTopicFilter
			}
		}
	}
	return nil
}

// TopicMatches reports whether a concrete topic name matches a filter.
// Used by tests and by collaborator routing layers; the engine itself
// never routes.
func TopicMatches(filter, topic string) bool {
	filterLevels := strings.Split(filter, topicSeparator)
	topicLevels := strings.Split(topic, topicSeparator)

	for i, fl := range filterLevels {
		if fl == multiLevelWildcard {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if fl != singleLevelWildcard && fl != topicLevels[i] {
			return false
		}
	}
	return len(filterLevels) == len(topicLevels)
}
