package client

import "time"

// Status mirrors the daemon's GET /status payload.
type Status struct {
	MachineID    string    `json:"machine_id"`
	ProcessName  string    `json:"process_name"`
	CycleRunning bool      `json:"cycle_running"`
	LastCycleAt  time.Time `json:"last_cycle_at"`
	LastError    string    `json:"last_error,omitempty"`
	Live         int       `json:"live"`
	Archived     int       `json:"archived"`
	Created      int       `json:"created"`
	Updated      int       `json:"updated"`
	Failed       int       `json:"failed"`
}

// ArchivedRecord describes a record archived during a cycle.
type ArchivedRecord struct {
	ProcessID string `json:"process_id"`
	Channel   string `json:"channel"`
	AccountID string `json:"account_id"`
}

// CycleResult mirrors the daemon's POST /cycle payload.
type CycleResult struct {
	Live     int              `json:"live"`
	Created  int              `json:"created"`
	Updated  int              `json:"updated"`
	Failed   int              `json:"failed"`
	Archived []ArchivedRecord `json:"archived"`
}
