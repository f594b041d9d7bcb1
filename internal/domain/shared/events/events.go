package events

import "time"

// DomainEvent is a fact recorded after a state change lands in storage.
type DomainEvent interface {
	EventName() string
	AggregateID() string
	OccurredAt() time.Time
}

// BaseEvent carries the envelope fields shared by every event.
type BaseEvent struct {
	Name      string    `json:"name"`
	Aggregate string    `json:"aggregate"`
	Time      time.Time `json:"time"`
}

func (e BaseEvent) EventName() string {
	return e.Name
}

func (e BaseEvent) AggregateID() string {
	return e.Aggregate
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Time
}

// New builds a BaseEvent stamped in UTC.
func New(name, aggregate string, at time.Time) BaseEvent {
	return BaseEvent{Name: name, Aggregate: aggregate, Time: at.UTC()}
}
