package model

import (
	"database/sql/driver"
	"fmt"
)

// Status is the lifecycle state shared by orders and line items.
// Only the four constants below are valid; anything else read from or
// written to the store is rejected.
type Status string

const (
	StatusQueued  Status = "Queued"
	StatusRunning Status = "Running"
	StatusDone    Status = "Done"
	StatusFailed  Status = "Failed"
)

// ParseStatus validates s against the closed set of states.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusQueued, StatusRunning, StatusDone, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool { return s == StatusDone || s == StatusFailed }

func (s Status) String() string { return string(s) }

// Value implements driver.Valuer.
func (s Status) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("refusing to write status %q", string(s))
	}
	return string(s), nil
}

// Scan implements sql.Scanner.
func (s *Status) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	case nil:
		return fmt.Errorf("status is NULL")
	default:
		return fmt.Errorf("unsupported status type %T", src)
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}
