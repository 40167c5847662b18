package domain

import "time"

// RecordClass partitions the outbox into independently drained queues.
type RecordClass string

const (
	ClassEvents   RecordClass = "events"
	ClassSessions RecordClass = "sessions"
)

// Classes lists every record class in drain order.
var Classes = []RecordClass{ClassEvents, ClassSessions}

// SyncStatus is the delivery state of an OutboxRecord.
type SyncStatus int

const (
	StatusPending SyncStatus = iota
	StatusSynced
)

func (s SyncStatus) String() string {
	if s == StatusSynced {
		return "synced"
	}
	return "pending"
}

// OutboxRecord is an Event persisted locally, awaiting or past delivery.
type OutboxRecord struct {
	ID        int64
	Class     RecordClass
	Event     Event
	Status    SyncStatus
	Attempts  int
	CreatedAt time.Time
	SyncedAt  time.Time
}

// OutboxStats summarizes outbox contents.
type OutboxStats struct {
	PendingCount int64                 `json:"pendingCount"`
	TotalCount   int64                 `json:"totalCount"`
	Pending      map[RecordClass]int64 `json:"pendingByClass"`
	Exhausted    int64                 `json:"exhausted"`
}
