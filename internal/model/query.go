package model

import (
	"crypto/md5"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// QueryLog is a statement observed in pg_stat_statements together with its
// aggregate execution statistics.
type QueryLog struct {
	ID            string    `json:"id" db:"id"`
	QueryText     string    `json:"query_text" db:"query_text"`
	QueryHash     string    `json:"query_hash" db:"query_hash"`
	DBUser        string    `json:"db_user,omitempty" db:"db_user"`
	DatabaseName  string    `json:"database_name,omitempty" db:"database_name"`
	TotalExecTime float64   `json:"total_exec_time" db:"total_exec_time"`
	MeanExecTime  float64   `json:"mean_exec_time" db:"mean_exec_time"`
	Calls         int64     `json:"calls" db:"calls"`
	CollectedAt   time.Time `json:"collected_at" db:"collected_at"`
}

// NewQueryLog builds a log entry for ad-hoc SQL text with a fresh identity.
func NewQueryLog(text string) QueryLog {
	return QueryLog{
		ID:          uuid.NewString(),
		QueryText:   text,
		QueryHash:   HashQuery(text),
		CollectedAt: time.Now().UTC(),
	}
}

// HashQuery returns the hex md5 digest used to deduplicate collected queries.
func HashQuery(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
