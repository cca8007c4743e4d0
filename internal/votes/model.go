package votes

import "time"

// Vote is one immutable entry in the append-only vote ledger. The composite
// primary key makes (voter, target) unique: a repeated attempt is rejected,
// never overwritten.
type Vote struct {
	VoterID    string    `gorm:"column:voter_id;primaryKey;size:190;not null"`
	VotedForID string    `gorm:"column:voted_for_id;primaryKey;size:190;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing the vote ledger.
func (Vote) TableName() string {
	return "votes"
}

// ProfileCard is one side of a versus pairing. Votes is read at selection
// time and is advisory for display only.
type ProfileCard struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Votes     int64  `json:"votes"`
}

// LeaderboardEntry is one ranked row of the leaderboard.
type LeaderboardEntry struct {
	Rank      int    `json:"rank"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Votes     int64  `json:"votes"`
}
