package amqp

import (
	"encoding/json"
	"time"
)

// LedgerEventMessage announces one local ledger mutation. It carries only the
// entity identity and version; consumers fetch current state from the store,
// so a stale or duplicated delivery is harmless.
type LedgerEventMessage struct {
	Entity    string    `json:"entity"` // transaction, asset, category
	UID       string    `json:"uid"`
	Op        string    `json:"op"` // created, updated, deleted
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func NewLedgerEventMessage(entity, uid, op string, version int64) *LedgerEventMessage {
	return &LedgerEventMessage{
		Entity:    entity,
		UID:       uid,
		Op:        op,
		Version:   version,
		Timestamp: time.Now(),
	}
}

func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
