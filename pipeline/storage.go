package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"roadsafe/ml"
)

// StorageConfig 存储配置
type StorageConfig struct {
	DBPath    string `json:"db_path"`
	EnableWAL bool   `json:"enable_wal"`
}

// EvaluationRun 一次评估的记录
type EvaluationRun struct {
	ID            string            `json:"id"`
	Source        string            `json:"source"`
	ModelName     string            `json:"model_name"`
	TrainFraction float64           `json:"train_fraction"`
	Shuffled      bool              `json:"shuffled"`
	Seed          int64             `json:"seed"`
	TrainSize     int               `json:"train_size"`
	TestSize      int               `json:"test_size"`
	Accuracy      float64           `json:"accuracy"`
	Classes       []ml.ClassMetrics `json:"classes,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Storage SQLite存储: 暂存记录并保存评估历史
type Storage struct {
	config StorageConfig
	db     *sql.DB
	logger *zap.Logger

	preparedStmts map[string]*sql.Stmt
	stmtLock      sync.RWMutex
}

// NewStorage 创建存储
func NewStorage(config StorageConfig, logger *zap.Logger) (*Storage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	storage := &Storage{
		config:        config,
		logger:        logger,
		preparedStmts: make(map[string]*sql.Stmt),
	}

	if err := storage.initDB(); err != nil {
		return nil, err
	}

	return storage, nil
}

// initDB 初始化数据库
func (s *Storage) initDB() error {
	if err := ensureDir(filepath.Dir(s.config.DBPath)); err != nil {
		return err
	}

	dsn := s.config.DBPath
	if s.config.EnableWAL {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	} else {
		dsn += "?_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("open database failed: %w", err)
	}
	s.db = db

	if err := s.createTables(); err != nil {
		db.Close()
		return fmt.Errorf("create tables failed: %w", err)
	}

	if err := s.createIndexes(); err != nil {
		s.logger.Warn("create indexes failed", zap.Error(err))
	}

	return nil
}

// createTables 创建表
func (s *Storage) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accident_records (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            source TEXT NOT NULL,
            junction_control TEXT NOT NULL,
            junction_detail TEXT NOT NULL,
            light_conditions TEXT NOT NULL,
            road_surface_conditions TEXT NOT NULL,
            weather_conditions TEXT NOT NULL,
            vehicle_type TEXT NOT NULL,
            accident_severity TEXT NOT NULL,
            created_at INTEGER DEFAULT (strftime('%s', 'now'))
        )`,
		`CREATE TABLE IF NOT EXISTS evaluation_runs (
            id TEXT PRIMARY KEY,
            source TEXT NOT NULL,
            model_name TEXT NOT NULL,
            train_fraction REAL NOT NULL,
            shuffled INTEGER NOT NULL,
            seed INTEGER NOT NULL,
            train_size INTEGER NOT NULL,
            test_size INTEGER NOT NULL,
            accuracy REAL NOT NULL,
            created_at INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS class_metrics (
            run_id TEXT NOT NULL REFERENCES evaluation_runs(id),
            label TEXT NOT NULL,
            support INTEGER NOT NULL,
            predicted INTEGER NOT NULL,
            precision REAL NOT NULL,
            recall REAL NOT NULL,
            f1 REAL NOT NULL,
            PRIMARY KEY (run_id, label)
        )`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("exec query failed: %w", err)
		}
	}

	return nil
}

// createIndexes 创建索引
func (s *Storage) createIndexes() error {
	queries := []string{
		`CREATE INDEX IF NOT EXISTS idx_records_source ON accident_records(source, id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON evaluation_runs(created_at)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

const insertRecordQuery = `INSERT INTO accident_records
        (source, junction_control, junction_detail, light_conditions, road_surface_conditions,
         weather_conditions, vehicle_type, accident_severity)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// SaveBatch 批量保存记录
func (s *Storage) SaveBatch(ctx context.Context, source string, records []ml.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.insertRecords(ctx, tx, source, records); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceSource 在同一事务中删除旧记录并写入新记录, 失败时旧记录保留
func (s *Storage) ReplaceSource(ctx context.Context, source string, records []ml.Record) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM accident_records WHERE source = ?`, source)
	if err != nil {
		return 0, fmt.Errorf("delete source failed: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := s.insertRecords(ctx, tx, source, records); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *Storage) insertRecords(ctx context.Context, tx *sql.Tx, source string, records []ml.Record) error {
	stmt, err := s.getPreparedStmt(insertRecordQuery)
	if err != nil {
		return err
	}

	txStmt := tx.StmtContext(ctx, stmt)
	for _, r := range records {
		_, err := txStmt.ExecContext(ctx,
			source,
			r.JunctionControl,
			r.JunctionDetail,
			r.LightConditions,
			r.RoadSurfaceConditions,
			r.WeatherConditions,
			r.VehicleType,
			r.AccidentSeverity,
		)
		if err != nil {
			return fmt.Errorf("insert failed: %w", err)
		}
	}
	return nil
}

// DeleteSource 删除某来源的全部记录
func (s *Storage) DeleteSource(ctx context.Context, source string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accident_records WHERE source = ?`, source)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LoadRecords 按写入顺序读取某来源的记录
func (s *Storage) LoadRecords(ctx context.Context, source string) ([]ml.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT junction_control, junction_detail, light_conditions,
        road_surface_conditions, weather_conditions, vehicle_type, accident_severity
        FROM accident_records WHERE source = ? ORDER BY id`, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ml.Record
	for rows.Next() {
		var r ml.Record
		err := rows.Scan(
			&r.JunctionControl,
			&r.JunctionDetail,
			&r.LightConditions,
			&r.RoadSurfaceConditions,
			&r.WeatherConditions,
			&r.VehicleType,
			&r.AccidentSeverity,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// Sources 各来源的记录数
func (s *Storage) Sources(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM accident_records GROUP BY source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sources := make(map[string]int64)
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, err
		}
		sources[name] = count
	}
	return sources, rows.Err()
}

// SaveEvaluation 保存评估结果. ID为空时自动生成
func (s *Storage) SaveEvaluation(ctx context.Context, run *EvaluationRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `INSERT INTO evaluation_runs
        (id, source, model_name, train_fraction, shuffled, seed, train_size, test_size, accuracy, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Source,
		run.ModelName,
		run.TrainFraction,
		run.Shuffled,
		run.Seed,
		run.TrainSize,
		run.TestSize,
		run.Accuracy,
		run.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert run failed: %w", err)
	}

	for _, c := range run.Classes {
		_, err := tx.ExecContext(ctx, `INSERT INTO class_metrics
            (run_id, label, support, predicted, precision, recall, f1)
            VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, c.Label, c.Support, c.Predicted, c.Precision, c.Recall, c.F1)
		if err != nil {
			return fmt.Errorf("insert class metrics failed: %w", err)
		}
	}

	return tx.Commit()
}

// ListEvaluations 最近的评估记录, 按时间倒序
func (s *Storage) ListEvaluations(ctx context.Context, limit int) ([]EvaluationRun, error) {
	query := `SELECT id, source, model_name, train_fraction, shuffled, seed, train_size, test_size, accuracy, created_at
        FROM evaluation_runs ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []EvaluationRun
	for rows.Next() {
		var run EvaluationRun
		var createdAt int64
		err := rows.Scan(
			&run.ID,
			&run.Source,
			&run.ModelName,
			&run.TrainFraction,
			&run.Shuffled,
			&run.Seed,
			&run.TrainSize,
			&run.TestSize,
			&run.Accuracy,
			&createdAt,
		)
		if err != nil {
			return nil, err
		}
		run.CreatedAt = time.Unix(createdAt, 0)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		classes, err := s.classMetrics(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Classes = classes
	}
	return runs, nil
}

func (s *Storage) classMetrics(ctx context.Context, runID string) ([]ml.ClassMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT label, support, predicted, precision, recall, f1
        FROM class_metrics WHERE run_id = ? ORDER BY label`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var classes []ml.ClassMetrics
	for rows.Next() {
		var c ml.ClassMetrics
		if err := rows.Scan(&c.Label, &c.Support, &c.Predicted, &c.Precision, &c.Recall, &c.F1); err != nil {
			return nil, err
		}
		classes = append(classes, c)
	}
	return classes, rows.Err()
}

// getPreparedStmt 获取预编译语句
func (s *Storage) getPreparedStmt(query string) (*sql.Stmt, error) {
	s.stmtLock.RLock()
	stmt, ok := s.preparedStmts[query]
	s.stmtLock.RUnlock()

	if ok {
		return stmt, nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, err
	}

	s.stmtLock.Lock()
	s.preparedStmts[query] = stmt
	s.stmtLock.Unlock()

	return stmt, nil
}

// Close 关闭存储
func (s *Storage) Close() error {
	s.stmtLock.Lock()
	for _, stmt := range s.preparedStmts {
		if err := stmt.Close(); err != nil {
			s.logger.Warn("close statement failed", zap.Error(err))
		}
	}
	s.preparedStmts = make(map[string]*sql.Stmt)
	s.stmtLock.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// ensureDir 确保目录存在
func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
