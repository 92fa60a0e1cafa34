package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/justapithecus/stakeout/types"
)

// Postgres implements Store on top of a PostgreSQL database. The zero
// value is not usable; construct with NewPostgres. A Postgres value is
// safe for concurrent use. Atomic hands the callback a copy bound to a
// single transaction, which must stay on one goroutine.
type Postgres struct {
	db   *sql.DB
	tx   *sql.Tx
	opts Options
}

var _ Store = (*Postgres)(nil)

// NewPostgres opens a connection pool against dsn and verifies it with
// a ping. The dsn is a lib/pq connection string or URL.
func NewPostgres(ctx context.Context, dsn string, opts Options) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{db: db, opts: opts}, nil
}

// InitSchema applies the embedded schema. It is meant for a fresh
// database and fails if the tables already exist.
func (s *Postgres) InitSchema(ctx context.Context) error {
	if _, err := s.q().ExecContext(ctx, Schema()); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the connection pool. On a transaction-bound copy it
// is a no-op; the pool stays with the parent.
func (s *Postgres) Close() error {
	if s.tx != nil {
		return nil
	}
	return s.db.Close()
}

// queryer is the subset of database/sql shared by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) q() queryer {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Atomic implements Store. Nested calls run in the enclosing
// transaction; only the outermost call commits.
func (s *Postgres) Atomic(ctx context.Context, fn func(Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&Postgres{db: s.db, tx: tx, opts: s.opts}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nullableStatus adapts an optional status filter for queries of the
// form (status = $n OR $n IS NULL).
func nullableStatus(status *types.Status) any {
	if status == nil {
		return nil
	}
	return *status
}

func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// encodeState marshals module state for the bots.state column. Nil
// maps become SQL NULL so COALESCE keeps the previous state.
func encodeState(state map[string]any) (any, error) {
	if state == nil {
		return nil, nil
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode bot state: %w", err)
	}
	return string(raw), nil
}

const trackerColumns = `
	SELECT tracker_id, config_hash, config, family, status
	FROM trackers`

func scanTracker(row rowScanner) (*types.Tracker, error) {
	var t types.Tracker
	var config string
	if err := row.Scan(&t.TrackerID, &t.ConfigHash, &config, &t.Family, &t.Status); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(config), &t.Config); err != nil {
		return nil, fmt.Errorf("tracker %d config does not decode: %w", t.TrackerID, ErrCorrupted)
	}
	return &t, nil
}

func (s *Postgres) CreateTracker(ctx context.Context, configHash string, config map[string]any, family string) (int64, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return 0, fmt.Errorf("encode tracker config: %w", err)
	}
	var id int64
	err = s.q().QueryRowContext(ctx, `
		INSERT INTO trackers (config_hash, config, family)
		VALUES ($1, $2, $3)
		RETURNING tracker_id`,
		configHash, string(raw), family).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create tracker: %w", err)
	}
	return id, nil
}

func (s *Postgres) TrackerByID(ctx context.Context, trackerID int64) (*types.Tracker, error) {
	t, err := scanTracker(s.q().QueryRowContext(ctx,
		trackerColumns+` WHERE tracker_id = $1`, trackerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tracker %d: %w", trackerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tracker %d: %w", trackerID, err)
	}
	return t, nil
}

func (s *Postgres) TrackerByHash(ctx context.Context, configHash string) (*types.Tracker, error) {
	t, err := scanTracker(s.q().QueryRowContext(ctx,
		trackerColumns+` WHERE config_hash = $1`, configHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tracker %s: %w", configHash, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tracker %s: %w", configHash, err)
	}
	return t, nil
}

func (s *Postgres) Trackers(ctx context.Context, filter ListFilter) ([]types.Tracker, error) {
	rows, err := s.q().QueryContext(ctx, trackerColumns+`
		WHERE (status = $1 OR $1 IS NULL)
		  AND (family = $2 OR $2 IS NULL)
		ORDER BY tracker_id DESC
		LIMIT $3 OFFSET $4`,
		nullableStatus(filter.Status), nullableText(filter.Family),
		filter.limit(), filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list trackers: %w", err)
	}
	defer rows.Close()

	var trackers []types.Tracker
	for rows.Next() {
		t, err := scanTracker(rows)
		if err != nil {
			return nil, fmt.Errorf("list trackers: %w", err)
		}
		trackers = append(trackers, *t)
	}
	return trackers, rows.Err()
}

func (s *Postgres) CountTrackers(ctx context.Context, status *types.Status) (int, error) {
	var n int
	err := s.q().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trackers
		WHERE (status = $1 OR $1 IS NULL)`,
		nullableStatus(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count trackers: %w", err)
	}
	return n, nil
}

func (s *Postgres) RefreshTrackerStatuses(ctx context.Context, trackerIDs []int64) error {
	if len(trackerIDs) == 0 {
		return nil
	}
	_, err := s.q().ExecContext(ctx, `
		UPDATE trackers AS tr
		SET status = COALESCE(x.new_status, tr.status)
		FROM (
			SELECT t.tracker_id, MIN(b.status) AS new_status
			FROM trackers t
			LEFT JOIN bots b ON t.tracker_id = b.tracker_id
			GROUP BY t.tracker_id
			HAVING t.tracker_id = ANY($1)
		) AS x
		WHERE tr.tracker_id = x.tracker_id`,
		pq.Array(trackerIDs))
	if err != nil {
		return fmt.Errorf("refresh tracker statuses: %w", err)
	}
	return nil
}

const botColumns = `
	SELECT bot_id, tracker_id, status, state, failing_spree,
	       next_execution, country, last_error, family
	FROM bots`

func scanBot(row rowScanner) (*types.Bot, error) {
	var b types.Bot
	var state sql.NullString
	var next sql.NullTime
	err := row.Scan(&b.BotID, &b.TrackerID, &b.Status, &state, &b.FailingSpree,
		&next, &b.Country, &b.LastError, &b.Family)
	if err != nil {
		return nil, err
	}
	if state.Valid && state.String != "" {
		if err := json.Unmarshal([]byte(state.String), &b.State); err != nil {
			return nil, fmt.Errorf("bot %d state does not decode: %w", b.BotID, ErrCorrupted)
		}
	}
	if next.Valid {
		t := next.Time
		b.NextExecution = &t
	}
	return &b, nil
}

func (s *Postgres) CreateBot(ctx context.Context, trackerID int64, country, family string) (int64, error) {
	var id int64
	err := s.q().QueryRowContext(ctx, `
		INSERT INTO bots (tracker_id, country, family, state, next_execution)
		VALUES ($1, $2, $3, '{}', $4)
		RETURNING bot_id`,
		trackerID, country, family, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create bot: %w", err)
	}
	return id, nil
}

func (s *Postgres) BotByID(ctx context.Context, botID int64) (*types.Bot, error) {
	b, err := scanBot(s.q().QueryRowContext(ctx,
		botColumns+` WHERE bot_id = $1`, botID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bot %d: %w", botID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get bot %d: %w", botID, err)
	}
	return b, nil
}

func (s *Postgres) BotsByTracker(ctx context.Context, trackerID int64) ([]types.Bot, error) {
	rows, err := s.q().QueryContext(ctx,
		botColumns+` WHERE tracker_id = $1 ORDER BY bot_id`, trackerID)
	if err != nil {
		return nil, fmt.Errorf("list bots of tracker %d: %w", trackerID, err)
	}
	defer rows.Close()
	return collectBots(rows)
}

func (s *Postgres) Bots(ctx context.Context, filter ListFilter) ([]types.Bot, error) {
	rows, err := s.q().QueryContext(ctx, botColumns+`
		WHERE (status = $1 OR $1 IS NULL)
		  AND (family = $2 OR $2 IS NULL)
		ORDER BY bot_id DESC
		LIMIT $3 OFFSET $4`,
		nullableStatus(filter.Status), nullableText(filter.Family),
		filter.limit(), filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()
	return collectBots(rows)
}

func (s *Postgres) PendingBots(ctx context.Context, now time.Time) ([]types.Bot, error) {
	rows, err := s.q().QueryContext(ctx, botColumns+`
		WHERE (next_execution <= $1 OR next_execution IS NULL)
		  AND status IN ('working', 'failing', 'new')
		ORDER BY next_execution ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("list pending bots: %w", err)
	}
	defer rows.Close()
	return collectBots(rows)
}

func collectBots(rows *sql.Rows) ([]types.Bot, error) {
	var bots []types.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		bots = append(bots, *b)
	}
	return bots, rows.Err()
}

func (s *Postgres) SetBotStatuses(ctx context.Context, botIDs []int64, status types.Status) error {
	if len(botIDs) == 0 {
		return nil
	}
	return s.Atomic(ctx, func(txs Store) error {
		tx := txs.(*Postgres)
		_, err := tx.q().ExecContext(ctx,
			`UPDATE bots SET status = $1 WHERE bot_id = ANY($2)`,
			status, pq.Array(botIDs))
		if err != nil {
			return fmt.Errorf("set bot statuses: %w", err)
		}
		trackerIDs, err := tx.trackersOf(ctx, botIDs)
		if err != nil {
			return err
		}
		return tx.RefreshTrackerStatuses(ctx, trackerIDs)
	})
}

// trackersOf returns the distinct tracker ids owning the given bots.
func (s *Postgres) trackersOf(ctx context.Context, botIDs []int64) ([]int64, error) {
	rows, err := s.q().QueryContext(ctx,
		`SELECT DISTINCT tracker_id FROM bots WHERE bot_id = ANY($1)`,
		pq.Array(botIDs))
	if err != nil {
		return nil, fmt.Errorf("resolve trackers of bots: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("resolve trackers of bots: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Postgres) ClearFailingSprees(ctx context.Context, botIDs []int64) error {
	if len(botIDs) == 0 {
		return nil
	}
	_, err := s.q().ExecContext(ctx,
		`UPDATE bots SET failing_spree = 0 WHERE bot_id = ANY($1)`,
		pq.Array(botIDs))
	if err != nil {
		return fmt.Errorf("clear failing sprees: %w", err)
	}
	return nil
}

func (s *Postgres) ReviveBots(ctx context.Context, botIDs []int64) error {
	if len(botIDs) == 0 {
		return nil
	}
	return s.Atomic(ctx, func(tx Store) error {
		if err := tx.ClearFailingSprees(ctx, botIDs); err != nil {
			return err
		}
		return tx.SetBotStatuses(ctx, botIDs, types.StatusWorking)
	})
}

func (s *Postgres) UpdateBotAfterRun(ctx context.Context, update BotRunUpdate) error {
	// A crashed run leaves the bot exactly as the crash handler put
	// it, including its execution schedule.
	if update.Status == types.StatusCrashed {
		return nil
	}
	return s.Atomic(ctx, func(txs Store) error {
		tx := txs.(*Postgres)
		var trackerID int64
		var err error
		switch update.Status {
		case types.StatusWorking:
			err = tx.q().QueryRowContext(ctx, `
				UPDATE bots
				SET status = 'working', last_error = '', failing_spree = 0
				WHERE bot_id = $1
				RETURNING tracker_id`,
				update.BotID).Scan(&trackerID)
		case types.StatusFailing:
			reason := update.LastError
			if reason == "" {
				reason = DefaultFailReason
			}
			err = tx.q().QueryRowContext(ctx, `
				UPDATE bots
				SET failing_spree = failing_spree + 1,
				    status = CASE WHEN failing_spree + 1 > $2 THEN 'archived' ELSE 'failing' END,
				    last_error = $3
				WHERE bot_id = $1
				RETURNING tracker_id`,
				update.BotID, s.opts.MaxFailingSpree, reason).Scan(&trackerID)
		case types.StatusArchived:
			err = tx.q().QueryRowContext(ctx, `
				UPDATE bots
				SET status = 'archived', last_error = '', failing_spree = 0
				WHERE bot_id = $1
				RETURNING tracker_id`,
				update.BotID).Scan(&trackerID)
		default:
			return fmt.Errorf("unexpected status %v after run of bot %d", update.Status, update.BotID)
		}
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("bot %d: %w", update.BotID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("update bot %d after run: %w", update.BotID, err)
		}
		if err := tx.RefreshTrackerStatuses(ctx, []int64{trackerID}); err != nil {
			return err
		}
		state, err := encodeState(update.State)
		if err != nil {
			return err
		}
		_, err = tx.q().ExecContext(ctx, `
			UPDATE bots
			SET state = COALESCE($1, state), next_execution = $2
			WHERE bot_id = $3`,
			state, update.NextExecution, update.BotID)
		if err != nil {
			return fmt.Errorf("reschedule bot %d: %w", update.BotID, err)
		}
		return nil
	})
}

func (s *Postgres) MarkBotCrashed(ctx context.Context, botID int64, reason string) error {
	return s.Atomic(ctx, func(txs Store) error {
		tx := txs.(*Postgres)
		var trackerID int64
		err := tx.q().QueryRowContext(ctx, `
			UPDATE bots
			SET status = 'crashed', last_error = $2
			WHERE bot_id = $1
			RETURNING tracker_id`,
			botID, reason).Scan(&trackerID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("bot %d: %w", botID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("mark bot %d crashed: %w", botID, err)
		}
		return tx.RefreshTrackerStatuses(ctx, []int64{trackerID})
	})
}

func (s *Postgres) CreateTask(ctx context.Context, botID int64, status types.Status) (int64, error) {
	var id int64
	err := s.q().QueryRowContext(ctx, `
		INSERT INTO tasks (bot_id, status, report_time)
		VALUES ($1, $2, $3)
		RETURNING task_id`,
		botID, status, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create task for bot %d: %w", botID, err)
	}
	return id, nil
}

func (s *Postgres) UpdateTaskStatus(ctx context.Context, taskID int64, status types.Status) error {
	_, err := s.q().ExecContext(ctx,
		`UPDATE tasks SET status = $1 WHERE task_id = $2`, status, taskID)
	if err != nil {
		return fmt.Errorf("update task %d: %w", taskID, err)
	}
	return nil
}

// taskViewColumns joins each task with its bot and counts its results.
// Tasks group one to one with bots, so MIN() just picks the joined
// bot's value while keeping the aggregate query valid.
const taskViewColumns = `
	SELECT t.task_id, t.bot_id, t.status, t.report_time, t.logs,
	       MIN(b.family) AS family, MIN(b.last_error) AS fail_reason,
	       COUNT(r.*) AS results_no
	FROM tasks t
	LEFT JOIN results r ON t.task_id = r.task_id
	INNER JOIN bots b ON b.bot_id = t.bot_id`

func scanTaskView(row rowScanner) (*types.TaskView, error) {
	var v types.TaskView
	err := row.Scan(&v.TaskID, &v.BotID, &v.Status, &v.ReportTime, &v.Logs,
		&v.Family, &v.FailReason, &v.ResultsNo)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Postgres) TaskByID(ctx context.Context, taskID int64) (*types.TaskView, error) {
	v, err := scanTaskView(s.q().QueryRowContext(ctx, taskViewColumns+`
		WHERE t.task_id = $1
		GROUP BY t.task_id`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", taskID, err)
	}
	return v, nil
}

func (s *Postgres) Tasks(ctx context.Context, filter ListFilter) ([]types.TaskView, error) {
	rows, err := s.q().QueryContext(ctx, taskViewColumns+`
		WHERE (t.status = $1 OR $1 IS NULL)
		GROUP BY t.task_id
		ORDER BY t.task_id DESC
		LIMIT $2 OFFSET $3`,
		nullableStatus(filter.Status), filter.limit(), filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return collectTaskViews(rows)
}

func (s *Postgres) TasksByBot(ctx context.Context, botID int64, filter ListFilter) ([]types.TaskView, error) {
	rows, err := s.q().QueryContext(ctx, taskViewColumns+`
		WHERE (t.status = $2 OR $2 IS NULL)
		GROUP BY t.task_id
		HAVING t.bot_id = $1
		ORDER BY t.task_id DESC
		LIMIT $3 OFFSET $4`,
		botID, nullableStatus(filter.Status), filter.limit(), filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list tasks of bot %d: %w", botID, err)
	}
	defer rows.Close()
	return collectTaskViews(rows)
}

func collectTaskViews(rows *sql.Rows) ([]types.TaskView, error) {
	var views []types.TaskView
	for rows.Next() {
		v, err := scanTaskView(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		views = append(views, *v)
	}
	return views, rows.Err()
}

func (s *Postgres) CountTasks(ctx context.Context, status *types.Status) (int, error) {
	var n int
	err := s.q().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE (status = $1 OR $1 IS NULL)`,
		nullableStatus(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

func (s *Postgres) CreateResult(ctx context.Context, result types.Result) (int64, error) {
	tags := result.Tags
	if tags == nil {
		tags = []string{}
	}
	var id int64
	err := s.q().QueryRowContext(ctx, `
		INSERT INTO results (task_id, type, name, sha256, tags, upload_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING result_id`,
		result.TaskID, string(result.Type), result.Name, result.SHA256,
		pq.Array(tags), time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create result for task %d: %w", result.TaskID, err)
	}
	return id, nil
}

func (s *Postgres) Results(ctx context.Context, filter ListFilter) ([]types.Result, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT result_id, task_id, type, name, sha256, tags, upload_time
		FROM results
		ORDER BY result_id DESC
		LIMIT $1 OFFSET $2`,
		filter.limit(), filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []types.Result
	for rows.Next() {
		var r types.Result
		var typ string
		var tags pq.StringArray
		err := rows.Scan(&r.ResultID, &r.TaskID, &typ, &r.Name, &r.SHA256,
			&tags, &r.UploadTime)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Type = types.ResultType(typ)
		r.Tags = []string(tags)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Postgres) Proxies(ctx context.Context) ([]types.Proxy, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT proxy_id, host, port, country, username, password
		FROM proxies
		ORDER BY country, proxy_id`)
	if err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	defer rows.Close()

	var proxies []types.Proxy
	for rows.Next() {
		var p types.Proxy
		err := rows.Scan(&p.ProxyID, &p.Host, &p.Port, &p.Country,
			&p.Username, &p.Password)
		if err != nil {
			return nil, fmt.Errorf("scan proxy: %w", err)
		}
		proxies = append(proxies, p)
	}
	return proxies, rows.Err()
}

func (s *Postgres) ProxiesByCountry(ctx context.Context) (map[string][]types.Proxy, error) {
	proxies, err := s.Proxies(ctx)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]types.Proxy)
	for _, p := range proxies {
		grouped[p.Country] = append(grouped[p.Country], p)
	}
	return grouped, nil
}

func (s *Postgres) SyncProxies(ctx context.Context, desired []types.ProxySpec) (types.ProxyChanges, error) {
	changes := types.ProxyChanges{Added: []types.ProxySpec{}, Deleted: []types.ProxySpec{}}
	err := s.Atomic(ctx, func(txs Store) error {
		tx := txs.(*Postgres)
		current, err := tx.Proxies(ctx)
		if err != nil {
			return err
		}
		have := make(map[types.ProxySpec]bool, len(current))
		for _, p := range current {
			have[p.Spec()] = true
		}
		want := make(map[types.ProxySpec]bool, len(desired))
		for _, spec := range desired {
			want[spec] = true
		}
		deleted := make(map[types.ProxySpec]bool)
		for _, p := range current {
			spec := p.Spec()
			if want[spec] || deleted[spec] {
				continue
			}
			_, err := tx.q().ExecContext(ctx, `
				DELETE FROM proxies
				WHERE host = $1 AND port = $2 AND country = $3
				  AND username = $4 AND password = $5`,
				spec.Host, spec.Port, spec.Country, spec.Username, spec.Password)
			if err != nil {
				return fmt.Errorf("delete proxy %s:%d: %w", spec.Host, spec.Port, err)
			}
			deleted[spec] = true
			changes.Deleted = append(changes.Deleted, spec)
		}
		inserted := make(map[types.ProxySpec]bool)
		for _, spec := range desired {
			if have[spec] || inserted[spec] {
				continue
			}
			_, err := tx.q().ExecContext(ctx, `
				INSERT INTO proxies (host, port, country, username, password)
				VALUES ($1, $2, $3, $4, $5)`,
				spec.Host, spec.Port, spec.Country, spec.Username, spec.Password)
			if err != nil {
				return fmt.Errorf("insert proxy %s:%d: %w", spec.Host, spec.Port, err)
			}
			inserted[spec] = true
			changes.Added = append(changes.Added, spec)
		}
		return nil
	})
	if err != nil {
		return types.ProxyChanges{}, err
	}
	return changes, nil
}

func (s *Postgres) BotCounters(ctx context.Context) (types.BotCounters, error) {
	rows, err := s.q().QueryContext(ctx,
		`SELECT status, COUNT(*) FROM bots GROUP BY status`)
	if err != nil {
		return types.BotCounters{}, fmt.Errorf("count bots: %w", err)
	}
	defer rows.Close()

	var c types.BotCounters
	for rows.Next() {
		var status types.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return types.BotCounters{}, fmt.Errorf("count bots: %w", err)
		}
		switch status {
		case types.StatusWorking, types.StatusNew:
			c.Alive += n
		case types.StatusArchived:
			c.Archived = n
		case types.StatusCrashed:
			c.Crashed = n
		case types.StatusFailing:
			c.Failing = n
		case types.StatusInProgress:
			c.Progress = n
		}
	}
	return c, rows.Err()
}

func (s *Postgres) Metrics(ctx context.Context) (types.ServiceMetrics, error) {
	var m types.ServiceMetrics

	rows, err := s.q().QueryContext(ctx, `
		SELECT family, status, COUNT(*)
		FROM bots
		GROUP BY family, status
		ORDER BY family, status`)
	if err != nil {
		return m, fmt.Errorf("bot metrics: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cell types.FamilyStatusCount
		if err := rows.Scan(&cell.Family, &cell.Status, &cell.Count); err != nil {
			return m, fmt.Errorf("bot metrics: %w", err)
		}
		m.Bots = append(m.Bots, cell)
	}
	if err := rows.Err(); err != nil {
		return m, err
	}

	taskRows, err := s.q().QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM tasks
		GROUP BY status
		ORDER BY status`)
	if err != nil {
		return m, fmt.Errorf("task metrics: %w", err)
	}
	defer taskRows.Close()
	for taskRows.Next() {
		var cell types.StatusCount
		if err := taskRows.Scan(&cell.Status, &cell.Count); err != nil {
			return m, fmt.Errorf("task metrics: %w", err)
		}
		m.Tasks = append(m.Tasks, cell)
	}
	if err := taskRows.Err(); err != nil {
		return m, err
	}

	if err := s.q().QueryRowContext(ctx, `SELECT COUNT(*) FROM trackers`).Scan(&m.Trackers); err != nil {
		return m, fmt.Errorf("tracker metrics: %w", err)
	}
	return m, nil
}
