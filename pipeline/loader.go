package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"roadsafe/ml"
)

// ColumnMap 源文件中各字段的列序号(从0开始)
type ColumnMap struct {
	JunctionControl       int `yaml:"junction_control"`
	JunctionDetail        int `yaml:"junction_detail"`
	LightConditions       int `yaml:"light_conditions"`
	RoadSurfaceConditions int `yaml:"road_surface_conditions"`
	WeatherConditions     int `yaml:"weather_conditions"`
	VehicleType           int `yaml:"vehicle_type"`
	AccidentSeverity      int `yaml:"accident_severity"`
}

// DefaultColumnMap 道路事故数据集的默认列位置
func DefaultColumnMap() ColumnMap {
	return ColumnMap{
		JunctionControl:       3,
		JunctionDetail:        4,
		LightConditions:       7,
		RoadSurfaceConditions: 14,
		WeatherConditions:     19,
		VehicleType:           21,
		AccidentSeverity:      5,
	}
}

func (c ColumnMap) indices() []int {
	return []int{
		c.JunctionControl,
		c.JunctionDetail,
		c.LightConditions,
		c.RoadSurfaceConditions,
		c.WeatherConditions,
		c.VehicleType,
		c.AccidentSeverity,
	}
}

// MaxIndex 最大列序号
func (c ColumnMap) MaxIndex() int {
	highest := 0
	for _, idx := range c.indices() {
		if idx > highest {
			highest = idx
		}
	}
	return highest
}

// Validate 检查列序号
func (c ColumnMap) Validate() error {
	for _, idx := range c.indices() {
		if idx < 0 {
			return fmt.Errorf("column index %d is negative", idx)
		}
	}
	return nil
}

// LoaderConfig 加载配置
type LoaderConfig struct {
	Columns         ColumnMap
	ExpectedColumns int
	MissingValue    string
	SkipHeader      bool
	Encoding        string
	Delimiter       rune
	StrictQuotes    bool
}

// DefaultLoaderConfig 默认加载配置
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		Columns:         DefaultColumnMap(),
		ExpectedColumns: 22,
		MissingValue:    ml.MissingValue,
		SkipHeader:      true,
		Encoding:        "utf-8",
		Delimiter:       ',',
	}
}

// LoadStats 加载统计
type LoadStats struct {
	Rows      int64    `json:"rows"`
	Records   int64    `json:"records"`
	Rejected  int64    `json:"rejected"`
	Corrected int64    `json:"corrected"`
	Header    []string `json:"header,omitempty"`
}

// PartialLoadError 读取中途失败. 失败前已解析的记录仍会返回
type PartialLoadError struct {
	Line    int
	Records int
	Err     error
}

func (e *PartialLoadError) Error() string {
	return fmt.Sprintf("load stopped at line %d after %d records: %v", e.Line, e.Records, e.Err)
}

func (e *PartialLoadError) Unwrap() error {
	return e.Err
}

// Loader CSV记录加载器
type Loader struct {
	config   LoaderConfig
	encoding encoding.Encoding
	cleaner  *RowCleaner
	logger   *zap.Logger

	stats LoadStats
}

// NewLoader 创建加载器
func NewLoader(config LoaderConfig, logger *zap.Logger) (*Loader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MissingValue == "" {
		config.MissingValue = ml.MissingValue
	}
	if config.Delimiter == 0 {
		config.Delimiter = ','
	}
	if err := config.Columns.Validate(); err != nil {
		return nil, err
	}
	if config.ExpectedColumns <= config.Columns.MaxIndex() {
		config.ExpectedColumns = config.Columns.MaxIndex() + 1
	}

	enc, err := LookupEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	return &Loader{
		config:   config,
		encoding: enc,
		cleaner:  NewRowCleaner(config.ExpectedColumns, config.MissingValue),
		logger:   logger,
	}, nil
}

// LookupEncoding 按名称查找字符集, 空名称视为UTF-8
func LookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8BOM, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding %q: %w", name, err)
	}
	return enc, nil
}

// LoadRecords 读取CSV文件并投影为记录
func LoadRecords(path string, config LoaderConfig, logger *zap.Logger) ([]ml.Record, error) {
	loader, err := NewLoader(config, logger)
	if err != nil {
		return nil, err
	}
	return loader.LoadFile(path)
}

// LoadFile 从文件读取
func (l *Loader) LoadFile(path string) ([]ml.Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()

	records, err := l.ReadRecords(file)
	l.logger.Info("dataset loaded",
		zap.String("path", path),
		zap.Int64("rows", l.stats.Rows),
		zap.Int64("records", l.stats.Records),
		zap.Int64("rejected", l.stats.Rejected),
		zap.Int64("corrected", l.stats.Corrected),
	)
	return records, err
}

// ReadRecords 从reader读取. 中途出错时返回已读取的记录和 *PartialLoadError
func (l *Loader) ReadRecords(r io.Reader) ([]ml.Record, error) {
	reader := csv.NewReader(transform.NewReader(r, l.encoding.NewDecoder()))
	reader.Comma = l.config.Delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = !l.config.StrictQuotes
	reader.ReuseRecord = true

	var records []ml.Record
	headerPending := l.config.SkipHeader
	line := 0

	for {
		row, err := reader.Read()
		isHeader := headerPending
		headerPending = false
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				if isHeader {
					l.logger.Warn("skipping malformed header", zap.Int("line", parseErr.Line), zap.Error(err))
					continue
				}
				l.stats.Rejected++
				l.logger.Debug("skipping malformed row", zap.Int("line", parseErr.Line), zap.Error(err))
				continue
			}
			l.stats.Corrected = l.cleaner.GetStats().Corrected
			return records, &PartialLoadError{Line: line + 1, Records: len(records), Err: err}
		}
		line, _ = reader.FieldPos(0)

		if isHeader {
			l.stats.Header = append([]string(nil), row...)
			continue
		}
		l.stats.Rows++

		cleaned, err := l.cleaner.Clean(row)
		if err != nil {
			l.stats.Rejected++
			l.logger.Debug("row rejected", zap.Int("line", line), zap.Error(err))
			continue
		}
		records = append(records, l.project(cleaned))
		l.stats.Records++
	}

	l.stats.Corrected = l.cleaner.GetStats().Corrected
	return records, nil
}

func (l *Loader) project(row []string) ml.Record {
	c := l.config.Columns
	return ml.Record{
		JunctionControl:       row[c.JunctionControl],
		JunctionDetail:        row[c.JunctionDetail],
		LightConditions:       row[c.LightConditions],
		RoadSurfaceConditions: row[c.RoadSurfaceConditions],
		WeatherConditions:     row[c.WeatherConditions],
		VehicleType:           row[c.VehicleType],
		AccidentSeverity:      row[c.AccidentSeverity],
	}
}

// Stats 获取加载统计
func (l *Loader) Stats() LoadStats {
	return l.stats
}
