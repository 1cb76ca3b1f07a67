package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

type JobCursor struct {
	RunAt time.Time `json:"runAt"`
	ID    int64     `json:"id"`
}

func EncodeJobCursor(runAt time.Time, id int64) (string, error) {
	b, err := json.Marshal(JobCursor{RunAt: runAt, ID: id})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeJobCursor(cursor string) (JobCursor, error) {
	if cursor == "" {
		return JobCursor{}, errors.New("empty cursor")
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return JobCursor{}, err
	}

	var c JobCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return JobCursor{}, err
	}
	if c.ID == 0 || c.RunAt.IsZero() {
		return JobCursor{}, errors.New("invalid cursor payload")
	}
	return c, nil
}
