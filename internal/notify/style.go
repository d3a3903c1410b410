package notify

import "time"

// Kind tags which of the two notification styles applies.
type Kind int

const (
	KindDirect Kind = iota
	KindGroup
)

func (k Kind) String() string {
	if k == KindGroup {
		return "group"
	}
	return "direct"
}

// Style is the visual treatment of one notification. It is chosen once per
// message from the conversation's group flag.
type Style struct {
	Kind     Kind
	Duration time.Duration
	Class    string
	Icon     string
}

// Defaults; direct messages stay on screen longer than group messages.
const (
	DefaultDirectDuration = 5 * time.Second
	DefaultGroupDuration  = 3 * time.Second
	DefaultPreviewLength  = 100
)

// DirectMessageStyle returns the style for one-to-one conversations.
func DirectMessageStyle(d time.Duration) Style {
	if d <= 0 {
		d = DefaultDirectDuration
	}
	return Style{Kind: KindDirect, Duration: d, Class: "notification-direct", Icon: "💬"}
}

// GroupMessageStyle returns the style for group conversations.
func GroupMessageStyle(d time.Duration) Style {
	if d <= 0 {
		d = DefaultGroupDuration
	}
	return Style{Kind: KindGroup, Duration: d, Class: "notification-group", Icon: "👥"}
}
