package amqp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ChangeKind names a ledger mutation as "<entity>.<action>".
type ChangeKind string

const (
	AccountSaved       ChangeKind = "account.saved"
	TransactionCreated ChangeKind = "transaction.created"
	TransactionDeleted ChangeKind = "transaction.deleted"
	SnapshotCreated    ChangeKind = "snapshot.created"
	SnapshotDeleted    ChangeKind = "snapshot.deleted"
)

// Entity returns the entity part of the kind, e.g. "transaction".
func (k ChangeKind) Entity() string {
	entity, _, _ := strings.Cut(string(k), ".")
	return entity
}

func (k ChangeKind) IsDelete() bool {
	return strings.HasSuffix(string(k), ".deleted")
}

func (k ChangeKind) IsValid() bool {
	switch k {
	case AccountSaved, TransactionCreated, TransactionDeleted, SnapshotCreated, SnapshotDeleted:
		return true
	}
	return false
}

// LedgerChangedMessage announces a committed ledger write. It carries ids
// only; consumers read the entity back from storage.
type LedgerChangedMessage struct {
	Kind       ChangeKind `json:"kind"`
	EntityID   string     `json:"entityId"`
	AccountIDs []string   `json:"accountIds"`
	Revision   int64      `json:"revision"`
	Timestamp  time.Time  `json:"timestamp"`
}

func NewLedgerChangedMessage(kind ChangeKind, entityID string, revision int64, accountIDs ...string) *LedgerChangedMessage {
	return &LedgerChangedMessage{
		Kind:       kind,
		EntityID:   entityID,
		AccountIDs: accountIDs,
		Revision:   revision,
		Timestamp:  time.Now(),
	}
}

func (m *LedgerChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerChangedMessageFromJSON decodes and checks a message body.
func LedgerChangedMessageFromJSON(data []byte) (*LedgerChangedMessage, error) {
	var msg LedgerChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if !msg.Kind.IsValid() {
		return nil, fmt.Errorf("unknown change kind %q", msg.Kind)
	}
	if msg.EntityID == "" {
		return nil, fmt.Errorf("message without entity id")
	}
	return &msg, nil
}
