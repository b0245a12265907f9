// Package h264profile implements the small slice of RFC 6184 /
// RFC 3984 profile-level-id matching that ortc codec negotiation needs
// for video/h264 (spec.md §4.13 "For video/h264 ... compute the answer
// profile-level-id").
package h264profile

import (
	"encoding/hex"
	"fmt"
)

// Profile identifies one of the five H.264 profiles ortc cares about.
type Profile int

const (
	ProfileConstrainedBaseline Profile = iota
	ProfileBaseline
	ProfileMain
	ProfileConstrainedHigh
	ProfileHigh
)

const (
	profileIdcConstrainedBaseline = 0x42
	profileIdcBaseline            = 0x42
	profileIdcMain                = 0x4D
	profileIdcConstrainedHigh     = 0x64
	profileIdcHigh                = 0x64
)

// constraint-set flag bits within the middle profile_iop byte.
const (
	constraintSet0 = 0x80
	constraintSet1 = 0x40
	constraintSet3 = 0x10
	constraintSet4 = 0x08
	constraintSet5 = 0x04
)

// ParseProfileLevelId decodes the 6-hex-digit profile-level-id string
// into its three constituent bytes.
func ParseProfileLevelId(s string) (profileIdc, profileIop, levelIdc byte, ok bool) {
	if len(s) != 6 {
		return 0, 0, 0, false
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 3 {
		return 0, 0, 0, false
	}
	return b[0], b[1], b[2], true
}

// ParseProfile classifies (profileIdc, profileIop) into one of the
// five profiles ortc distinguishes, mirroring the well-known
// webrtc.org h264_profile_level_id table.
func ParseProfile(profileIdc, profileIop byte) (Profile, bool) {
	switch profileIdc {
	case profileIdcConstrainedHigh:
		if profileIop&constraintSet4 != 0 {
			return ProfileConstrainedHigh, true
		}
		return ProfileHigh, true
	case profileIdcMain:
		return ProfileMain, true
	case profileIdcBaseline:
		if profileIop&constraintSet0 != 0 && profileIop&constraintSet1 != 0 {
			return ProfileConstrainedBaseline, true
		}
		return ProfileBaseline, true
	default:
		return 0, false
	}
}

// SameProfile reports whether two profile-level-id strings encode the
// same profile (ignoring level).
func SameProfile(a, b string) bool {
	aIdc, aIop, _, aOk := ParseProfileLevelId(a)
	bIdc, bIop, _, bOk := ParseProfileLevelId(b)
	if !aOk || !bOk {
		return false
	}
	pa, ok1 := ParseProfile(aIdc, aIop)
	pb, ok2 := ParseProfile(bIdc, bIop)
	return ok1 && ok2 && pa == pb
}

// GenerateProfileLevelIdForAnswer picks the profile-level-id to place
// in an answer's codec parameters: the shared profile of local and
// remote, at the lower of the two offered levels. If one side omits
// profile-level-id, 42e01f (constrained baseline, level 3.1) is assumed
// for that side; if both omit it, the empty string is returned.
func GenerateProfileLevelIdForAnswer(localParams, remoteParams map[string]string) (string, error) {
	localId := localParams["profile-level-id"]
	remoteId := remoteParams["profile-level-id"]
	if localId == "" && remoteId == "" {
		return "", nil
	}
	if localId == "" {
		localId = "42e01f"
	}
	if remoteId == "" {
		remoteId = "42e01f"
	}

	lIdc, lIop, lLevel, lOk := ParseProfileLevelId(localId)
	rIdc, _, rLevel, rOk := ParseProfileLevelId(remoteId)
	if !lOk || !rOk {
		return "", fmt.Errorf("h264profile: invalid profile-level-id")
	}
	if !SameProfile(localId, remoteId) {
		return "", fmt.Errorf("h264profile: H264 profiles do not match")
	}

	level := lLevel
	if rLevel < level {
		level = rLevel
	}

	out := []byte{lIdc, lIop, level}
	return hex.EncodeToString(out), nil
}
