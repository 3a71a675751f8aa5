package primitive_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twmb/rocketmq-go/primitive"
)

func TestParseSubscription_Wildcard(t *testing.T) {
	sd := primitive.ParseSubscription("t", "*", 1)
	assert.True(t, sd.MatchesAll())
	assert.True(t, sd.Match("anything"))
	assert.True(t, sd.Match(""))
}

func TestParseSubscription_EmptyExprTreatedAsWildcard(t *testing.T) {
	sd := primitive.ParseSubscription("t", "  ", 1)
	assert.True(t, sd.MatchesAll())
}

func TestParseSubscription_TagList(t *testing.T) {
	sd := primitive.ParseSubscription("t", "TAG_A || TAG_B", 1)
	assert.False(t, sd.MatchesAll())
	assert.True(t, sd.Match("TAG_A"))
	assert.True(t, sd.Match("TAG_B"))
	assert.False(t, sd.Match("TAG_C"))
	assert.False(t, sd.Match(""))
}

func TestParseSubscription_TrimsWhitespaceAroundTags(t *testing.T) {
	sd := primitive.ParseSubscription("t", " TAG_A  ||  TAG_B ", 1)
	assert.True(t, sd.Match("TAG_A"))
	assert.True(t, sd.Match("TAG_B"))
}

func TestParseSubscription_CodeSetPopulatedForEachTag(t *testing.T) {
	sd := primitive.ParseSubscription("t", "TAG_A || TAG_B", 1)
	assert.Len(t, sd.CodeSet, 2)
	assert.Len(t, sd.TagsSet, 2)
}
