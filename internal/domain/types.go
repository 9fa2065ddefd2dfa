package domain

import "time"

type UserID string
type ThreadID string
type MessageID string

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Mode string

const (
	ModeFast     Mode = "fast"     // free tier, low latency
	ModeAdvanced Mode = "advanced" // Plus only
)

type Timestamp = time.Time
