package brackets

import (
	"fmt"
	"time"

	"github.com/Dosada05/skill-arena/models"
	"github.com/google/uuid"
)

const (
	EventMatchCreated      = "MATCH_CREATED"
	EventMatchUpdated      = "MATCH_UPDATED"
	EventTournamentUpdated = "TOURNAMENT_UPDATED"
	EventBracketSnapshot   = "BRACKET_SNAPSHOT"
)

// Publisher fans a message out to every subscriber of a room.
type Publisher interface {
	BroadcastToRoom(roomID string, message interface{})
}

// MatchEvent carries the full state of the changed match. Subscribers replace their copy
// instead of merging ChangedFields, so duplicates and reordering are harmless.
type MatchEvent struct {
	EventID       string        `json:"event_id"`
	TournamentID  int           `json:"tournament_id"`
	MatchID       int           `json:"match_id"`
	ChangedFields []string      `json:"changed_fields"`
	Match         *models.Match `json:"match"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

type TournamentEvent struct {
	EventID    string             `json:"event_id"`
	Tournament *models.Tournament `json:"tournament"`
	OccurredAt time.Time          `json:"occurred_at"`
}

func RoomForTournament(tournamentID int) string {
	return fmt.Sprintf("tournament_%d", tournamentID)
}

func NewMatchEvent(before, after *models.Match) MatchEvent {
	return MatchEvent{
		EventID:       uuid.NewString(),
		TournamentID:  after.TournamentID,
		MatchID:       after.ID,
		ChangedFields: models.ChangedFields(before, after),
		Match:         after.Clone(),
		OccurredAt:    time.Now().UTC(),
	}
}

// PublishMatch sends a MATCH_CREATED (before == nil) or MATCH_UPDATED message.
// Updates that changed nothing visible are skipped.
func PublishMatch(p Publisher, before, after *models.Match) {
	if p == nil || after == nil {
		return
	}
	ev := NewMatchEvent(before, after)
	if before != nil && len(ev.ChangedFields) == 0 {
		return
	}
	msgType := EventMatchUpdated
	if before == nil {
		msgType = EventMatchCreated
	}
	room := RoomForTournament(after.TournamentID)
	p.BroadcastToRoom(room, WebSocketMessage{Type: msgType, Payload: ev, RoomID: room})
}

func PublishTournament(p Publisher, t *models.Tournament) {
	if p == nil || t == nil {
		return
	}
	room := RoomForTournament(t.ID)
	p.BroadcastToRoom(room, WebSocketMessage{
		Type:    EventTournamentUpdated,
		Payload: TournamentEvent{EventID: uuid.NewString(), Tournament: t, OccurredAt: time.Now().UTC()},
		RoomID:  room,
	})
}
