package supabase

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/supabase-community/supabase-go"
)

// eventsTable receives one row per published event. Supabase Realtime
// broadcasts inserts on this table to clients subscribed to it, which is how
// web and mobile clients observe pipeline progress without holding a
// websocket to this server.
const eventsTable = "analysis_events"

type RealtimeClient struct {
	client *supabase.Client
}

func NewRealtimeClient(client *supabase.Client) *RealtimeClient {
	return &RealtimeClient{
		client: client,
	}
}

// PublishEvent records an event row; Realtime fans the insert out to
// subscribers filtering on the channel column.
func (r *RealtimeClient) PublishEvent(channel string, event string, payload map[string]interface{}) error {
	rows := []map[string]interface{}{{
		"channel": channel,
		"event":   event,
		"payload": payload,
	}}
	_, _, err := r.client.From(eventsTable).Insert(rows, false, "", "minimal", "").Execute()
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event, err)
	}
	return nil
}

func (r *RealtimeClient) PublishUserEvent(userID uuid.UUID, event string, payload map[string]interface{}) error {
	channel := fmt.Sprintf("user:%s", userID.String())
	return r.PublishEvent(channel, event, payload)
}

// Event payloads

func AnalysisStartedPayload(userID uuid.UUID, sessionID string) map[string]interface{} {
	return map[string]interface{}{
		"user_id":    userID.String(),
		"session_id": sessionID,
		"status":     "analyzing",
	}
}

func AnalysisCompletedPayload(userID uuid.UUID, recordID uuid.UUID, overall int) map[string]interface{} {
	return map[string]interface{}{
		"user_id":   userID.String(),
		"record_id": recordID.String(),
		"status":    "completed",
		"overall":   overall,
	}
}

func SaveFailedPayload(userID uuid.UUID, errorMsg string) map[string]interface{} {
	return map[string]interface{}{
		"user_id": userID.String(),
		"status":  "failed",
		"error":   errorMsg,
	}
}
