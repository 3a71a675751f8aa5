package primitive_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twmb/rocketmq-go/primitive"
)

func TestValidateTopic_Valid(t *testing.T) {
	assert.NoError(t, primitive.ValidateTopic("TopicTest"))
	assert.NoError(t, primitive.ValidateTopic("topic_with-dashes_and_123"))
}

func TestValidateTopic_Empty(t *testing.T) {
	assert.Error(t, primitive.ValidateTopic(""))
}

func TestValidateTopic_TooLong(t *testing.T) {
	assert.Error(t, primitive.ValidateTopic(strings.Repeat("a", 256)))
}

func TestValidateTopic_DisallowedCharacters(t *testing.T) {
	assert.Error(t, primitive.ValidateTopic("topic/with/slashes"))
	assert.Error(t, primitive.ValidateTopic("topic.with.dots"))
}

func TestValidateTopic_ReservedPrefixesRejected(t *testing.T) {
	assert.Error(t, primitive.ValidateTopic(primitive.RetryTopic("myGroup")))
	assert.Error(t, primitive.ValidateTopic(primitive.DLQTopic("myGroup")))
}

func TestValidateGroup_Valid(t *testing.T) {
	assert.NoError(t, primitive.ValidateGroup("myGroup"))
}

func TestValidateGroup_Invalid(t *testing.T) {
	assert.Error(t, primitive.ValidateGroup(""))
	assert.Error(t, primitive.ValidateGroup("group with spaces"))
}
