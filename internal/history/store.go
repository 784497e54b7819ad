// Package history keeps every persisted deployment record in a SQLite
// database so past runs can be listed and inspected.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"incubant/go-deployer/internal/deploy"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"
)

const defaultListLimit = 20

var ErrRunIDRequired = errors.New("history: record has no run id")

type runModel struct {
	bun.BaseModel `bun:"table:deploy_runs"`

	ID              int64     `bun:"id,pk,autoincrement"`
	RunID           string    `bun:"run_id,notnull,unique"`
	Network         string    `bun:"network,notnull"`
	NodeURL         string    `bun:"node_url"`
	DeployerAddress string    `bun:"deployer_address,notnull"`
	DeployedAt      time.Time `bun:"deployed_at,notnull"`
	Status          string    `bun:"status,notnull"`
	HaltReason      string    `bun:"halt_reason"`
	StartingNonce   int64     `bun:"starting_nonce"`
	Succeeded       int       `bun:"succeeded"`
	Total           int       `bun:"total"`
	// Planned holds the planned contract names joined by commas.
	Planned string `bun:"planned"`
}

type outcomeModel struct {
	bun.BaseModel `bun:"table:deploy_outcomes"`

	ID       int64  `bun:"id,pk,autoincrement"`
	RunID    string `bun:"run_id,notnull"`
	Position int    `bun:"position"`
	Contract string `bun:"contract,notnull"`
	TxID     string `bun:"tx_id"`
	Address  string `bun:"address"`
	Nonce    int64  `bun:"nonce"`
	Error    string `bun:"error"`
}

// Run is one row of the run listing.
type Run struct {
	RunID           string
	Network         string
	DeployerAddress string
	DeployedAt      time.Time
	Status          deploy.Status
	StartingNonce   uint64
	Succeeded       int
	Total           int
}

type Store struct {
	db *bun.DB
}

// Open creates the database file and tables when missing.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history: database path is required")
	}
	sqlDB, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)

	s := &Store{db: bun.NewDB(sqlDB, sqlitedialect.New())}
	if err := s.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*runModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("history: create runs table: %w", err)
	}
	if _, err := s.db.NewCreateTable().Model((*outcomeModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("history: create outcomes table: %w", err)
	}
	if _, err := s.db.NewCreateIndex().Model((*outcomeModel)(nil)).Index("idx_deploy_outcomes_run").Column("run_id").IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("history: create outcomes index: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save stores rec, replacing an earlier copy with the same run id.
func (s *Store) Save(ctx context.Context, rec deploy.Record) error {
	if strings.TrimSpace(rec.RunID) == "" {
		return ErrRunIDRequired
	}
	run := runModel{
		RunID:           rec.RunID,
		Network:         rec.Network,
		NodeURL:         rec.NodeURL,
		DeployerAddress: rec.DeployerAddress,
		DeployedAt:      rec.DeployedAt.UTC(),
		Status:          string(rec.Status),
		HaltReason:      rec.HaltReason,
		StartingNonce:   int64(rec.StartingNonce),
		Succeeded:       rec.Succeeded(),
		Total:           rec.Total(),
		Planned:         strings.Join(rec.Planned, ","),
	}
	outcomes := make([]outcomeModel, 0, len(rec.Contracts))
	for i, o := range rec.Contracts {
		outcomes = append(outcomes, outcomeModel{
			RunID:    rec.RunID,
			Position: i,
			Contract: o.Artifact,
			TxID:     o.TxID,
			Address:  o.Address,
			Nonce:    int64(o.Nonce),
			Error:    o.Error,
		})
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*outcomeModel)(nil)).Where("run_id = ?", rec.RunID).Exec(ctx); err != nil {
			return fmt.Errorf("history: clear outcomes: %w", err)
		}
		if _, err := tx.NewDelete().Model((*runModel)(nil)).Where("run_id = ?", rec.RunID).Exec(ctx); err != nil {
			return fmt.Errorf("history: clear run: %w", err)
		}
		if _, err := tx.NewInsert().Model(&run).Exec(ctx); err != nil {
			return fmt.Errorf("history: insert run: %w", err)
		}
		if len(outcomes) == 0 {
			return nil
		}
		if _, err := tx.NewInsert().Model(&outcomes).Exec(ctx); err != nil {
			return fmt.Errorf("history: insert outcomes: %w", err)
		}
		return nil
	})
}

// List returns the most recent runs first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var rows []runModel
	err := s.db.NewSelect().
		Model(&rows).
		OrderExpr("deployed_at DESC, id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	out := make([]Run, 0, len(rows))
	for _, r := range rows {
		out = append(out, Run{
			RunID:           r.RunID,
			Network:         r.Network,
			DeployerAddress: r.DeployerAddress,
			DeployedAt:      r.DeployedAt,
			Status:          deploy.Status(r.Status),
			StartingNonce:   uint64(r.StartingNonce),
			Succeeded:       r.Succeeded,
			Total:           r.Total,
		})
	}
	return out, nil
}

// Load rebuilds the stored record for runID.
func (s *Store) Load(ctx context.Context, runID string) (deploy.Record, bool, error) {
	var run runModel
	err := s.db.NewSelect().Model(&run).Where("run_id = ?", runID).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return deploy.Record{}, false, nil
		}
		return deploy.Record{}, false, fmt.Errorf("history: load run: %w", err)
	}

	var rows []outcomeModel
	if err := s.db.NewSelect().Model(&rows).Where("run_id = ?", runID).Order("position ASC").Scan(ctx); err != nil {
		return deploy.Record{}, false, fmt.Errorf("history: load outcomes: %w", err)
	}
	rec := deploy.Record{
		RunID:           run.RunID,
		Network:         run.Network,
		NodeURL:         run.NodeURL,
		DeployerAddress: run.DeployerAddress,
		DeployedAt:      run.DeployedAt,
		Status:          deploy.Status(run.Status),
		HaltReason:      run.HaltReason,
		StartingNonce:   uint64(run.StartingNonce),
		Contracts:       make(deploy.Outcomes, 0, len(rows)),
	}
	if run.Planned != "" {
		rec.Planned = strings.Split(run.Planned, ",")
	}
	for _, r := range rows {
		rec.Contracts = append(rec.Contracts, deploy.Outcome{
			Artifact: r.Contract,
			TxID:     r.TxID,
			Address:  r.Address,
			Nonce:    uint64(r.Nonce),
			Error:    r.Error,
		})
	}
	return rec, true, nil
}
