package h264profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProfileLevelId(t *testing.T) {
	idc, iop, level, ok := ParseProfileLevelId("42e01f")
	require.True(t, ok)
	assert.Equal(t, byte(0x42), idc)
	assert.Equal(t, byte(0xe0), iop)
	assert.Equal(t, byte(0x1f), level)
}

func TestParseProfileLevelIdRejectsBadInput(t *testing.T) {
	_, _, _, ok := ParseProfileLevelId("notgood")
	assert.False(t, ok)

	_, _, _, ok = ParseProfileLevelId("42e0")
	assert.False(t, ok)
}

func TestParseProfileConstrainedBaseline(t *testing.T) {
	p, ok := ParseProfile(0x42, 0xe0)
	require.True(t, ok)
	assert.Equal(t, ProfileConstrainedBaseline, p)
}

func TestParseProfileBaselineWithoutConstraints(t *testing.T) {
	p, ok := ParseProfile(0x42, 0x00)
	require.True(t, ok)
	assert.Equal(t, ProfileBaseline, p)
}

func TestParseProfileHighVariants(t *testing.T) {
	p, ok := ParseProfile(0x64, 0x00)
	require.True(t, ok)
	assert.Equal(t, ProfileHigh, p)

	p, ok = ParseProfile(0x64, constraintSet4)
	require.True(t, ok)
	assert.Equal(t, ProfileConstrainedHigh, p)
}

func TestParseProfileUnknownIdc(t *testing.T) {
	_, ok := ParseProfile(0x99, 0x00)
	assert.False(t, ok)
}

func TestSameProfile(t *testing.T) {
	assert.True(t, SameProfile("42e01f", "42e01e"))
	assert.False(t, SameProfile("42e01f", "64001f"))
	assert.False(t, SameProfile("bogus", "42e01f"))
}

func TestGenerateProfileLevelIdForAnswerPicksLowerLevel(t *testing.T) {
	id, err := GenerateProfileLevelIdForAnswer(
		map[string]string{"profile-level-id": "42e01f"},
		map[string]string{"profile-level-id": "42e00a"},
	)
	require.NoError(t, err)
	assert.Equal(t, "42e00a", id)
}

func TestGenerateProfileLevelIdForAnswerDefaultsWhenOmitted(t *testing.T) {
	id, err := GenerateProfileLevelIdForAnswer(map[string]string{}, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "", id)
}

func TestGenerateProfileLevelIdForAnswerRejectsMismatchedProfiles(t *testing.T) {
	_, err := GenerateProfileLevelIdForAnswer(
		map[string]string{"profile-level-id": "42e01f"},
		map[string]string{"profile-level-id": "640c1f"},
	)
	assert.Error(t, err)
}
