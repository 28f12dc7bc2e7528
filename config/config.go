package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"roadsafe/logging"
	"roadsafe/ml"
	"roadsafe/pipeline"
)

type Config struct {
	Data struct {
		Path            string             `yaml:"path"`
		Encoding        string             `yaml:"encoding"`
		SkipHeader      bool               `yaml:"skip_header"`
		ExpectedColumns int                `yaml:"expected_columns"`
		MissingValue    string             `yaml:"missing_value"`
		Delimiter       string             `yaml:"delimiter"`
		AllowPartial    bool               `yaml:"allow_partial"`
		StrictQuotes    bool               `yaml:"strict_quotes"`
		Columns         pipeline.ColumnMap `yaml:"columns"`
	} `yaml:"data"`
	Training struct {
		TrainFraction float64 `yaml:"train_fraction"`
		Shuffle       bool    `yaml:"shuffle"`
		Seed          int64   `yaml:"seed"`
	} `yaml:"training"`
	Evaluation struct {
		Workers int `yaml:"workers"`
	} `yaml:"evaluation"`
	Database struct {
		Path      string `yaml:"path"`
		EnableWAL bool   `yaml:"enable_wal"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"database"`
	HTTP struct {
		Port            int           `yaml:"port"`
		Timeout         time.Duration `yaml:"timeout"`
		CacheSize       int           `yaml:"cache_size"`
		WatchData       bool          `yaml:"watch_data"`
		WatchDebounce   time.Duration `yaml:"watch_debounce"`
		MetricsInterval time.Duration `yaml:"metrics_interval"`
	} `yaml:"http"`
	Log logging.Config `yaml:"log"`
}

func Default() *Config {
	var c Config
	c.Data.Path = "RoadAccidentData.csv"
	c.Data.Encoding = "utf-8"
	c.Data.SkipHeader = true
	c.Data.ExpectedColumns = 22
	c.Data.MissingValue = ml.MissingValue
	c.Data.Delimiter = ","
	c.Data.Columns = pipeline.DefaultColumnMap()
	c.Training.TrainFraction = 0.8
	c.Training.Seed = 1
	c.Evaluation.Workers = 4
	c.Database.Path = "data/roadsafe.db"
	c.Database.BatchSize = 1000
	c.HTTP.Port = 8080
	c.HTTP.Timeout = 30 * time.Second
	c.HTTP.CacheSize = 4096
	c.HTTP.WatchData = true
	c.HTTP.WatchDebounce = time.Second
	c.HTTP.MetricsInterval = 10 * time.Second
	c.Log = logging.DefaultConfig()
	return &c
}

// Load reads path on top of the defaults. A missing file is only an error
// when required is set.
func Load(path string, required bool) (*Config, error) {
	config := Default()
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return config, nil
		}
		return nil, err
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.Training.TrainFraction <= 0 || c.Training.TrainFraction > 1 {
		return fmt.Errorf("training.train_fraction must be in (0, 1], got %v", c.Training.TrainFraction)
	}
	if c.Evaluation.Workers < 0 {
		return fmt.Errorf("evaluation.workers must not be negative")
	}
	if err := c.Data.Columns.Validate(); err != nil {
		return fmt.Errorf("data.columns: %w", err)
	}
	if _, err := pipeline.LookupEncoding(c.Data.Encoding); err != nil {
		return fmt.Errorf("data.encoding: %w", err)
	}
	if len([]rune(c.Data.Delimiter)) > 1 {
		return fmt.Errorf("data.delimiter must be a single character, got %q", c.Data.Delimiter)
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	return nil
}

func (c *Config) LoaderConfig() pipeline.LoaderConfig {
	lc := pipeline.LoaderConfig{
		Columns:         c.Data.Columns,
		ExpectedColumns: c.Data.ExpectedColumns,
		MissingValue:    c.Data.MissingValue,
		SkipHeader:      c.Data.SkipHeader,
		Encoding:        c.Data.Encoding,
		StrictQuotes:    c.Data.StrictQuotes,
	}
	if r := []rune(c.Data.Delimiter); len(r) == 1 {
		lc.Delimiter = r[0]
	}
	return lc
}

func (c *Config) StorageConfig() pipeline.StorageConfig {
	return pipeline.StorageConfig{
		DBPath:    c.Database.Path,
		EnableWAL: c.Database.EnableWAL,
	}
}
