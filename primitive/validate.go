package primitive

import (
	"regexp"

	"github.com/twmb/rocketmq-go/rerr"
)

// nameRe is the accepted character set for a topic or group name: letters,
// digits, underscore, hyphen. No slashes or dots -- both appear as
// delimiters elsewhere in the wire protocol (retry/DLQ topic prefixes,
// property blobs) and would be ambiguous in a name.
var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const maxNameLength = 255

// ValidateTopic reports whether topic is an acceptable topic name: 1-255
// characters, matching nameRe, and not one of the reserved prefixes a
// consumer group's own retry/DLQ topics use.
func ValidateTopic(topic string) error {
	// Checked ahead of validateName: both reserved prefixes contain '%',
	// which nameRe rejects, so the charset check would otherwise mask
	// this with a less specific error.
	if len(topic) >= len(RetryTopicPrefix) && topic[:len(RetryTopicPrefix)] == RetryTopicPrefix {
		return rerr.Client("topic %q: %s prefix is reserved for retry topics", topic, RetryTopicPrefix)
	}
	if len(topic) >= len(DLQTopicPrefix) && topic[:len(DLQTopicPrefix)] == DLQTopicPrefix {
		return rerr.Client("topic %q: %s prefix is reserved for dead-letter topics", topic, DLQTopicPrefix)
	}
	return validateName(topic)
}

// ValidateGroup reports whether group is an acceptable consumer/producer
// group name: 1-255 characters, matching nameRe.
func ValidateGroup(group string) error {
	return validateName(group)
}

func validateName(name string) error {
	if name == "" {
		return rerr.Client("name must not be empty")
	}
	if len(name) > maxNameLength {
		return rerr.Client("name %q exceeds max length %d", name, maxNameLength)
	}
	if !nameRe.MatchString(name) {
		return rerr.Client("name %q contains characters outside [A-Za-z0-9_-]", name)
	}
	return nil
}
