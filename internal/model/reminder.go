package model

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalidReminder is returned when reminder input fails validation.
var ErrInvalidReminder = errors.New("invalid reminder")

type Repeat string

const (
	RepeatOnce  Repeat = "once"
	RepeatDaily Repeat = "daily"
)

func (r Repeat) Valid() bool {
	return r == RepeatOnce || r == RepeatDaily
}

type HistoryType string

const (
	HistoryFired   HistoryType = "fired"
	HistoryTaken   HistoryType = "taken"
	HistorySnoozed HistoryType = "snoozed"
	HistoryPaused  HistoryType = "paused"
	HistoryResumed HistoryType = "resumed"
	HistoryMissed  HistoryType = "missed"
	HistoryNote    HistoryType = "note"
)

type HistoryMeta struct {
	Minutes int    `json:"minutes,omitempty"`
	Note    string `json:"note,omitempty"`
}

type HistoryEntry struct {
	Type HistoryType  `json:"type"`
	At   time.Time    `json:"at"`
	Meta *HistoryMeta `json:"meta,omitempty"`
}

type Reminder struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Dosage      string         `json:"dosage"`
	Times       []string       `json:"times"` // HH:MM, 24h
	Repeat      Repeat         `json:"repeat"`
	NextAt      *time.Time     `json:"nextAt"`
	Paused      bool           `json:"paused"`
	PatientName string         `json:"patientName,omitempty"`
	PatientAge  *int           `json:"patientAge,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	SendSMS     bool           `json:"sendSms,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	History     []HistoryEntry `json:"history,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	LastFiredAt *time.Time     `json:"lastFiredAt,omitempty"`
}

// NewReminder is the user-supplied part of a reminder.
type NewReminder struct {
	Name        string   `json:"name"`
	Dosage      string   `json:"dosage"`
	Times       []string `json:"times"`
	Repeat      Repeat   `json:"repeat"`
	PatientName string   `json:"patientName,omitempty"`
	PatientAge  *int     `json:"patientAge,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	SendSMS     bool     `json:"sendSms,omitempty"`
}

// Patch carries a partial update. Nil fields are left untouched.
type Patch struct {
	Name        *string   `json:"name,omitempty"`
	Dosage      *string   `json:"dosage,omitempty"`
	Times       *[]string `json:"times,omitempty"`
	Repeat      *Repeat   `json:"repeat,omitempty"`
	PatientName *string   `json:"patientName,omitempty"`
	PatientAge  *int      `json:"patientAge,omitempty"`
	Phone       *string   `json:"phone,omitempty"`
	SendSMS     *bool     `json:"sendSms,omitempty"`
	Notes       *string   `json:"notes,omitempty"`
}

// Clone returns a deep copy so callers never share history or times
// backing arrays with the store.
func (r Reminder) Clone() Reminder {
	c := r
	c.Times = append([]string(nil), r.Times...)
	if r.History != nil {
		c.History = make([]HistoryEntry, len(r.History))
		for i, h := range r.History {
			c.History[i] = h
			if h.Meta != nil {
				m := *h.Meta
				c.History[i].Meta = &m
			}
		}
	}
	if r.NextAt != nil {
		t := *r.NextAt
		c.NextAt = &t
	}
	if r.LastFiredAt != nil {
		t := *r.LastFiredAt
		c.LastFiredAt = &t
	}
	if r.PatientAge != nil {
		a := *r.PatientAge
		c.PatientAge = &a
	}
	return c
}

// Armed reports whether the reminder is eligible for a pending timer.
func (r Reminder) Armed() bool {
	return !r.Paused && r.NextAt != nil
}

// TakenSince reports whether a taken entry exists at or after t.
func (r Reminder) TakenSince(t time.Time) bool {
	for _, h := range r.History {
		if h.Type == HistoryTaken && !h.At.Before(t) {
			return true
		}
	}
	return false
}

// Instants are stored as epoch milliseconds to stay compatible with the
// browser-era localStorage snapshot.

func (r Reminder) MarshalJSON() ([]byte, error) {
	type alias Reminder
	return json.Marshal(struct {
		alias
		NextAt      *int64 `json:"nextAt"`
		CreatedAt   int64  `json:"createdAt"`
		LastFiredAt *int64 `json:"lastFiredAt,omitempty"`
	}{
		alias:       alias(r),
		NextAt:      toMillisPtr(r.NextAt),
		CreatedAt:   toMillis(r.CreatedAt),
		LastFiredAt: toMillisPtr(r.LastFiredAt),
	})
}

func (r *Reminder) UnmarshalJSON(data []byte) error {
	type alias Reminder
	aux := struct {
		*alias
		NextAt      *int64 `json:"nextAt"`
		CreatedAt   int64  `json:"createdAt"`
		LastFiredAt *int64 `json:"lastFiredAt,omitempty"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.NextAt = fromMillisPtr(aux.NextAt)
	r.CreatedAt = fromMillis(aux.CreatedAt)
	r.LastFiredAt = fromMillisPtr(aux.LastFiredAt)
	return nil
}

func (h HistoryEntry) MarshalJSON() ([]byte, error) {
	type alias HistoryEntry
	return json.Marshal(struct {
		alias
		At int64 `json:"at"`
	}{alias: alias(h), At: toMillis(h.At)})
}

func (h *HistoryEntry) UnmarshalJSON(data []byte) error {
	type alias HistoryEntry
	aux := struct {
		*alias
		At int64 `json:"at"`
	}{alias: (*alias)(h)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	h.At = fromMillis(aux.At)
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func toMillisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func fromMillisPtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms)
	return &t
}
