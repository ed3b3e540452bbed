package dmv

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb" // registers the "sqlserver" driver
)

// querier is the seam the sampler polls through, letting tests substitute
// fake readings without a live SQL Server instance.
type querier interface {
	scalarSnapshot(ctx context.Context) (snapshot, error)
	serverStartTime(ctx context.Context) (time.Time, error)
	Close() error
}

// sqlQuerier is the real querier, grounded on the fixed-query, one-method-
// per-DMV style of the example receiver's queries.go.
type sqlQuerier struct {
	db *sql.DB
}

// Open dials a short-lived connection against the given connection string.
func Open(ctx context.Context, connectionString string, pingTimeout time.Duration) (*sqlQuerier, error) {
	db, err := sql.Open("sqlserver", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open sqlserver connection: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlserver: %w", err)
	}
	return &sqlQuerier{db: db}, nil
}

func (q *sqlQuerier) Close() error { return q.db.Close() }

func (q *sqlQuerier) scalarSnapshot(ctx context.Context) (snapshot, error) {
	var s snapshot

	if err := q.db.QueryRowContext(ctx, activeRequestsQuery).Scan(&s.activeRequests); err != nil {
		return snapshot{}, fmt.Errorf("active requests: %w", err)
	}
	if err := q.db.QueryRowContext(ctx, blockedRequestsQuery).Scan(&s.blockedRequests); err != nil {
		return snapshot{}, fmt.Errorf("blocked requests: %w", err)
	}
	if err := q.db.QueryRowContext(ctx, userConnectionsQuery).Scan(&s.userConnections); err != nil {
		return snapshot{}, fmt.Errorf("user connections: %w", err)
	}
	if err := q.db.QueryRowContext(ctx, runningSessionsQuery).Scan(&s.runningSessions); err != nil {
		return snapshot{}, fmt.Errorf("running sessions: %w", err)
	}

	var waitType sql.NullString
	var waitMS, totalWaitMS sql.NullFloat64
	row := q.db.QueryRowContext(ctx, topWaitQuery)
	if err := row.Scan(&waitType, &waitMS, &totalWaitMS); err != nil && err != sql.ErrNoRows {
		return snapshot{}, fmt.Errorf("top wait: %w", err)
	}
	s.topWaitType = waitType.String
	s.topWaitMS = waitMS.Float64
	s.totalWaitMSAll = totalWaitMS.Float64

	if err := q.db.QueryRowContext(ctx, ioStallQuery).Scan(
		&s.reads, &s.readStallMS, &s.readBytes,
		&s.writes, &s.writeStallMS, &s.writeBytes,
	); err != nil {
		return snapshot{}, fmt.Errorf("io stall stats: %w", err)
	}

	return s, nil
}

func (q *sqlQuerier) serverStartTime(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := q.db.QueryRowContext(ctx, serverStartTimeQuery).Scan(&t)
	return t, err
}

const activeRequestsQuery = `
SELECT COUNT(*)
FROM sys.dm_exec_requests
WHERE session_id > 50`

const blockedRequestsQuery = `
SELECT COUNT(*)
FROM sys.dm_exec_requests
WHERE blocking_session_id <> 0`

const userConnectionsQuery = `
SELECT COUNT(*)
FROM sys.dm_exec_connections c
JOIN sys.dm_exec_sessions s ON s.session_id = c.session_id
WHERE s.is_user_process = 1`

const runningSessionsQuery = `
SELECT COUNT(*)
FROM sys.dm_exec_requests
WHERE status = 'running'`

const topWaitQuery = `
SELECT TOP 1 w.wait_type, w.wait_time_ms, t.total_wait_time_ms
FROM sys.dm_os_wait_stats w
CROSS JOIN (
	SELECT SUM(wait_time_ms) AS total_wait_time_ms
	FROM sys.dm_os_wait_stats
	WHERE wait_type NOT LIKE '%SLEEP%'
) t
WHERE w.wait_type NOT LIKE '%SLEEP%'
ORDER BY w.wait_time_ms DESC`

const ioStallQuery = `
SELECT
	SUM(num_of_reads), SUM(io_stall_read_ms), SUM(num_of_bytes_read),
	SUM(num_of_writes), SUM(io_stall_write_ms), SUM(num_of_bytes_written)
FROM sys.dm_io_virtual_file_stats(NULL, NULL)`

const serverStartTimeQuery = `
SELECT sqlserver_start_time FROM sys.dm_os_sys_info`
