package domain

import (
	"strings"
	"time"
)

// TimeBucket is a coarse time-of-day bucket.
type TimeBucket string

// Time-of-day buckets.
const (
	TimeMorning   TimeBucket = "morning"   // 05:00–11:59
	TimeAfternoon TimeBucket = "afternoon" // 12:00–16:59
	TimeEvening   TimeBucket = "evening"   // 17:00–21:59
	TimeNight     TimeBucket = "night"     // 22:00–04:59
)

// TimeBuckets lists all time-of-day buckets in canonical order.
var TimeBuckets = []TimeBucket{TimeMorning, TimeAfternoon, TimeEvening, TimeNight}

// TimeBucketOf maps a wall-clock hour to its bucket.
func TimeBucketOf(t time.Time) TimeBucket {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return TimeMorning
	case h >= 12 && h < 17:
		return TimeAfternoon
	case h >= 17 && h < 22:
		return TimeEvening
	default:
		return TimeNight
	}
}

// Mood is the viewer's self-reported or inferred mood.
type Mood string

// Supported moods.
const (
	MoodRelaxed     Mood = "relaxed"
	MoodFocused     Mood = "focused"
	MoodAdventurous Mood = "adventurous"
	MoodSocial      Mood = "social"
	MoodNeutral     Mood = "neutral"
)

// Moods lists all moods in canonical order.
var Moods = []Mood{MoodRelaxed, MoodFocused, MoodAdventurous, MoodSocial, MoodNeutral}

// SocialSetting describes who is watching.
type SocialSetting string

// Supported social settings.
const (
	SocialAlone   SocialSetting = "alone"
	SocialPartner SocialSetting = "partner"
	SocialFamily  SocialSetting = "family"
	SocialFriends SocialSetting = "friends"
)

// SocialSettings lists all social settings in canonical order.
var SocialSettings = []SocialSetting{SocialAlone, SocialPartner, SocialFamily, SocialFriends}

// DeviceType is the playback device class.
type DeviceType string

// Supported device types.
const (
	DeviceTV     DeviceType = "tv"
	DeviceMobile DeviceType = "mobile"
	DeviceTablet DeviceType = "tablet"
)

// DeviceTypes lists all device types in canonical order.
var DeviceTypes = []DeviceType{DeviceTV, DeviceMobile, DeviceTablet}

// SessionContext is the situational context a recommendation is made in.
type SessionContext struct {
	TimeOfDay TimeBucket    `json:"time_of_day"`
	Mood      Mood          `json:"mood"`
	Social    SocialSetting `json:"social"`
	Device    DeviceType    `json:"device"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Bucket returns the discrete context bucket key used by the context adapter
// and the pattern detector.
func (c SessionContext) Bucket() string {
	return strings.Join([]string{
		string(c.TimeOfDay), string(c.Mood), string(c.Social), string(c.Device),
	}, "|")
}

// IsZero reports whether no context dimension is set.
func (c SessionContext) IsZero() bool {
	return c.TimeOfDay == "" && c.Mood == "" && c.Social == "" && c.Device == ""
}

// Normalize fills unset dimensions with neutral defaults so every context
// maps onto a valid bucket.
func (c SessionContext) Normalize(now time.Time) SessionContext {
	if c.TimeOfDay == "" {
		c.TimeOfDay = TimeBucketOf(now)
	}
	if c.Mood == "" {
		c.Mood = MoodNeutral
	}
	if c.Social == "" {
		c.Social = SocialAlone
	}
	if c.Device == "" {
		c.Device = DeviceTV
	}
	return c
}
