package pipeline

import (
	"fmt"
	"strings"
	"sync"
)

// RowRule 行清洗规则
type RowRule interface {
	Apply(row []string) ([]string, error)
	Name() string
}

// CleaningStats 清洗统计
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Corrected      int64            `json:"corrected"`
	Issues         map[string]int64 `json:"issues"`
}

// RowCleaner 行清洗器
type RowCleaner struct {
	rules []RowRule

	stats     CleaningStats
	statsLock sync.RWMutex
}

// NewRowCleaner 创建行清洗器, 使用默认规则
func NewRowCleaner(width int, missing string) *RowCleaner {
	cleaner := NewEmptyRowCleaner()
	cleaner.AddRule(NewEmptyRowRule())
	cleaner.AddRule(NewTrimSpaceRule())
	cleaner.AddRule(NewPadRowRule(width, missing))
	cleaner.AddRule(NewBlankFieldRule(missing))
	return cleaner
}

// NewEmptyRowCleaner 创建不含规则的清洗器
func NewEmptyRowCleaner() *RowCleaner {
	return &RowCleaner{
		rules: make([]RowRule, 0),
		stats: CleaningStats{
			Issues: make(map[string]int64),
		},
	}
}

// AddRule 添加清洗规则
func (rc *RowCleaner) AddRule(rule RowRule) {
	rc.rules = append(rc.rules, rule)
}

// Clean 清洗单行. 返回错误时该行应被丢弃
func (rc *RowCleaner) Clean(row []string) ([]string, error) {
	rc.statsLock.Lock()
	defer rc.statsLock.Unlock()

	rc.stats.TotalProcessed++
	original := strings.Join(row, "\x00")

	current := row
	for _, rule := range rc.rules {
		cleaned, err := rule.Apply(current)
		if err != nil {
			rc.stats.Rejected++
			rc.stats.Issues[rule.Name()]++
			return nil, fmt.Errorf("%s: %w", rule.Name(), err)
		}
		current = cleaned
	}

	if strings.Join(current, "\x00") != original {
		rc.stats.Corrected++
	}
	rc.stats.Passed++
	return current, nil
}

// GetStats 获取统计信息
func (rc *RowCleaner) GetStats() CleaningStats {
	rc.statsLock.RLock()
	defer rc.statsLock.RUnlock()

	stats := rc.stats
	stats.Issues = make(map[string]int64, len(rc.stats.Issues))
	for k, v := range rc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// ============ 清洗规则实现 ============

// TrimSpaceRule 去除字段首尾空白
type TrimSpaceRule struct{}

func NewTrimSpaceRule() *TrimSpaceRule {
	return &TrimSpaceRule{}
}

func (r *TrimSpaceRule) Name() string {
	return "trim_space"
}

func (r *TrimSpaceRule) Apply(row []string) ([]string, error) {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = strings.TrimSpace(v)
	}
	return out, nil
}

// PadRowRule 列数不足时用缺失值补齐
type PadRowRule struct {
	Width   int
	Missing string
}

func NewPadRowRule(width int, missing string) *PadRowRule {
	return &PadRowRule{
		Width:   width,
		Missing: missing,
	}
}

func (r *PadRowRule) Name() string {
	return "pad_row"
}

func (r *PadRowRule) Apply(row []string) ([]string, error) {
	if len(row) >= r.Width {
		return row, nil
	}
	out := make([]string, r.Width)
	for i := range out {
		if i < len(row) {
			out[i] = row[i]
		} else {
			out[i] = r.Missing
		}
	}
	return out, nil
}

// BlankFieldRule 空字段替换为缺失值
type BlankFieldRule struct {
	Missing string
}

func NewBlankFieldRule(missing string) *BlankFieldRule {
	return &BlankFieldRule{Missing: missing}
}

func (r *BlankFieldRule) Name() string {
	return "blank_field"
}

func (r *BlankFieldRule) Apply(row []string) ([]string, error) {
	out := make([]string, len(row))
	for i, v := range row {
		if v == "" {
			out[i] = r.Missing
		} else {
			out[i] = v
		}
	}
	return out, nil
}

// EmptyRowRule 拒绝完全为空的行
type EmptyRowRule struct{}

func NewEmptyRowRule() *EmptyRowRule {
	return &EmptyRowRule{}
}

func (r *EmptyRowRule) Name() string {
	return "empty_row"
}

func (r *EmptyRowRule) Apply(row []string) ([]string, error) {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return row, nil
		}
	}
	return nil, fmt.Errorf("row has no values")
}
