package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

func timeToNull(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().Unix(), Valid: true}
}

func timeFromNull(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := time.Unix(ns.Int64, 0).UTC()
	return &t
}

func int64ToNull(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64FromNull(ns sql.NullInt64) *int64 {
	if !ns.Valid {
		return nil
	}
	v := ns.Int64
	return &v
}

// timesToJSON encodes a fixed-schedule time list as a JSON array of minutes.
func timesToJSON(times []int) (string, error) {
	if times == nil {
		times = []int{}
	}
	b, err := json.Marshal(times)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func timesFromJSON(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var times []int
	if err := json.Unmarshal([]byte(s), &times); err != nil {
		return nil, err
	}
	if len(times) == 0 {
		return nil, nil
	}
	return times, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
