package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// runModel is the persisted form of a Run.
type runModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Status         string         `gorm:"column:status;index"`
	Message        string         `gorm:"column:message"`
	InitialBalance float64        `gorm:"column:initial_balance"`
	FinalBalance   float64        `gorm:"column:final_balance"`
	ReturnPct      float64        `gorm:"column:return_pct"`
	WinRate        float64        `gorm:"column:win_rate"`
	MaxDrawdownPct float64        `gorm:"column:max_drawdown_pct"`
	Trades         int            `gorm:"column:trades"`
	Config         datatypes.JSON `gorm:"column:config"`
	Stats          datatypes.JSON `gorm:"column:stats"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	CompletedUnix  int64          `gorm:"column:completed_at"`
}

func (runModel) TableName() string { return "backtest_runs" }

type equityModel struct {
	ID       int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID    string  `gorm:"column:run_id;index"`
	TS       int64   `gorm:"column:ts"`
	Equity   float64 `gorm:"column:equity"`
	Drawdown float64 `gorm:"column:drawdown"`
	Exposure float64 `gorm:"column:exposure"`
}

func (equityModel) TableName() string { return "backtest_equity" }

// Store persists backtest runs and their equity curves to SQLite.
type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("backtest store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &equityModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveResult persists the run summary and its equity curve.
func (s *Store) SaveResult(ctx context.Context, res *Result) error {
	cfgJSON, err := res.Run.MarshalConfig()
	if err != nil {
		return fmt.Errorf("marshal run config: %w", err)
	}
	statsJSON, err := res.Run.MarshalStats()
	if err != nil {
		return fmt.Errorf("marshal run stats: %w", err)
	}
	m := runModel{
		ID:             res.Run.ID,
		Status:         res.Run.Status,
		Message:        res.Run.Message,
		InitialBalance: res.Run.Config.InitialBalance,
		FinalBalance:   res.Run.Stats.FinalBalance,
		ReturnPct:      res.Run.Stats.ReturnPct,
		WinRate:        res.Run.Stats.WinRate,
		MaxDrawdownPct: res.Run.Stats.MaxDrawdownPct,
		Trades:         res.Run.Stats.Trades,
		Config:         datatypes.JSON(cfgJSON),
		Stats:          datatypes.JSON(statsJSON),
		CreatedAtUnix:  res.Run.CreatedAt.Unix(),
		CompletedUnix:  res.Run.CompletedAt.Unix(),
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&m).Error; err != nil {
			return err
		}
		if len(res.Curve) == 0 {
			return nil
		}
		points := make([]equityModel, 0, len(res.Curve))
		for _, p := range res.Curve {
			points = append(points, equityModel{
				RunID:    res.Run.ID,
				TS:       p.TS,
				Equity:   p.Equity,
				Drawdown: p.Drawdown,
				Exposure: p.Exposure,
			})
		}
		return tx.CreateInBatches(points, 500).Error
	})
}

// GetRun loads one run by ID, nil when absent.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var m runModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return modelToRun(m)
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []runModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		run, err := modelToRun(m)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, nil
}

// EquityCurve loads the persisted curve for a run.
func (s *Store) EquityCurve(ctx context.Context, runID string) ([]EquityPoint, error) {
	var models []equityModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("ts ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]EquityPoint, 0, len(models))
	for _, m := range models {
		out = append(out, EquityPoint{TS: m.TS, Equity: m.Equity, Drawdown: m.Drawdown, Exposure: m.Exposure})
	}
	return out, nil
}

func modelToRun(m runModel) (*Run, error) {
	run := Run{
		ID:          m.ID,
		Status:      m.Status,
		Message:     m.Message,
		CreatedAt:   time.Unix(m.CreatedAtUnix, 0).UTC(),
		CompletedAt: time.Unix(m.CompletedUnix, 0).UTC(),
	}
	if len(m.Config) > 0 {
		if err := json.Unmarshal(m.Config, &run.Config); err != nil {
			return nil, fmt.Errorf("unmarshal run %s config: %w", m.ID, err)
		}
	}
	if len(m.Stats) > 0 {
		if err := json.Unmarshal(m.Stats, &run.Stats); err != nil {
			return nil, fmt.Errorf("unmarshal run %s stats: %w", m.ID, err)
		}
	}
	return &run, nil
}
