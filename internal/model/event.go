package model

import (
	"encoding/json"
	"time"
)

// FiredEvent is the snapshot broadcast when a reminder's deadline expires.
type FiredEvent struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Dosage      string         `json:"dosage"`
	PatientName string         `json:"patientName,omitempty"`
	PatientAge  *int           `json:"patientAge,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	History     []HistoryEntry `json:"history"`
	NextAt      *time.Time     `json:"nextAt"`
}

// NewFiredEvent snapshots the presentable fields of r.
func NewFiredEvent(r Reminder) FiredEvent {
	c := r.Clone()
	history := c.History
	if history == nil {
		history = []HistoryEntry{}
	}
	return FiredEvent{
		ID:          c.ID,
		Name:        c.Name,
		Dosage:      c.Dosage,
		PatientName: c.PatientName,
		PatientAge:  c.PatientAge,
		Phone:       c.Phone,
		Notes:       c.Notes,
		History:     history,
		NextAt:      c.NextAt,
	}
}

func (e FiredEvent) MarshalJSON() ([]byte, error) {
	type alias FiredEvent
	return json.Marshal(struct {
		alias
		NextAt *int64 `json:"nextAt"`
	}{alias: alias(e), NextAt: toMillisPtr(e.NextAt)})
}

func (e *FiredEvent) UnmarshalJSON(data []byte) error {
	type alias FiredEvent
	aux := struct {
		*alias
		NextAt *int64 `json:"nextAt"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.NextAt = fromMillisPtr(aux.NextAt)
	return nil
}
