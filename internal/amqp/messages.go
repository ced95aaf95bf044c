package amqp

import (
	"encoding/json"
	"time"
)

// AggregateChangedMessage is the cross-process counterpart of the
// in-process change events: it tells other processes that a user's
// derived aggregates moved and which leaderboards were touched.
type AggregateChangedMessage struct {
	Kind           string    `json:"kind"`
	UserID         string    `json:"user_id"`
	EntryID        string    `json:"entry_id,omitempty"`
	LeaderboardIDs []string  `json:"leaderboard_ids,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func NewAggregateChangedMessage(kind, userID, entryID string, leaderboardIDs []string) *AggregateChangedMessage {
	return &AggregateChangedMessage{
		Kind:           kind,
		UserID:         userID,
		EntryID:        entryID,
		LeaderboardIDs: leaderboardIDs,
		Timestamp:      time.Now(),
	}
}

func (m *AggregateChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ResyncRequestMessage asks the resync worker to recompute one
// leaderboard from scratch. Published after a compensating-path write
// leaves an aggregate stale, and on manual user refresh.
type ResyncRequestMessage struct {
	LeaderboardID string    `json:"leaderboard_id"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewResyncRequestMessage(leaderboardID, reason string) *ResyncRequestMessage {
	return &ResyncRequestMessage{
		LeaderboardID: leaderboardID,
		Reason:        reason,
		Timestamp:     time.Now(),
	}
}

func (m *ResyncRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ResyncRequestMessageFromJSON(data []byte) (*ResyncRequestMessage, error) {
	var msg ResyncRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
