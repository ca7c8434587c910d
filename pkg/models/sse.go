package models

import (
	"encoding/json"
	"fmt"
)

// ToSSE renders the event as the bytes `event: <type>\ndata: <JSON>\n\n`,
// the wire form consumed by EventSource clients.
func (e Event) ToSSE() ([]byte, error) {
	body, err := json.Marshal(e.payload())
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.EventType, body)), nil
}
