package health

import (
	"context"
	"database/sql"
)

type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

type HealthStatus struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// StaticChecker always reports healthy; used when no dependency needs probing
type StaticChecker struct{}

func NewStaticChecker() *StaticChecker {
	return &StaticChecker{}
}

func (sc *StaticChecker) Check(ctx context.Context) HealthStatus {
	return HealthStatus{Status: "healthy"}
}

// DBChecker reports healthy when the database answers a ping
type DBChecker struct {
	db *sql.DB
}

func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

func (dc *DBChecker) Check(ctx context.Context) HealthStatus {
	if err := dc.db.PingContext(ctx); err != nil {
		return HealthStatus{Status: "unhealthy", Detail: err.Error()}
	}
	return HealthStatus{Status: "healthy"}
}
