// Package tier holds the tier capability table: quota caps, billing unit,
// feature flags and style access for every subscription tier.
package tier

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/stylesync/quota-server-go/internal/model"
)

// Unlimited marks a feature limit with no cap.
const Unlimited = -1

// Limits is the capability set of a single tier.
type Limits struct {
	DailyCap         int64      `yaml:"daily_cap"` // 0 = no daily cap
	MonthlyCap       int64      `yaml:"monthly_cap"`
	Unit             model.Unit `yaml:"unit"`
	MaxExportRecords int        `yaml:"max_export_records"` // 0 = no export, -1 = unlimited
	Presets          bool       `yaml:"presets"`
	ToneFineTuning   bool       `yaml:"tone_fine_tuning"`
	History          bool       `yaml:"history"`
	PriceCents       int64      `yaml:"price_cents"`
}

// HasDailyCap reports whether daily usage is gated.
func (l Limits) HasDailyCap() bool { return l.DailyCap > 0 }

// FullAllotment is the balance right after a monthly rollover.
func (l Limits) FullAllotment() int64 {
	if l.HasDailyCap() && l.DailyCap < l.MonthlyCap {
		return l.DailyCap
	}
	return l.MonthlyCap
}

// Remaining derives the spendable balance from the caps and usage, never negative.
func (l Limits) Remaining(dailyUsed, monthlyUsed int64) int64 {
	remaining := l.MonthlyCap - monthlyUsed
	if l.HasDailyCap() {
		if daily := l.DailyCap - dailyUsed; daily < remaining {
			remaining = daily
		}
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CanExport reports whether the tier may export at least one record.
func (l Limits) CanExport() bool {
	return l.MaxExportRecords != 0
}

// Table maps each tier to its limits. It is read-only after construction.
type Table struct {
	limits map[model.Tier]Limits
}

var defaultLimits = map[model.Tier]Limits{
	model.TierFree: {
		DailyCap:         5,
		MonthlyCap:       30,
		Unit:             model.UnitCredits,
		MaxExportRecords: 0,
	},
	model.TierPro: {
		MonthlyCap:       200000,
		Unit:             model.UnitTokens,
		MaxExportRecords: 100,
		Presets:          true,
		History:          true,
		PriceCents:       999,
	},
	model.TierPremium: {
		MonthlyCap:       1000000,
		Unit:             model.UnitTokens,
		MaxExportRecords: Unlimited,
		Presets:          true,
		ToneFineTuning:   true,
		History:          true,
		PriceCents:       2999,
	},
}

// Default returns the built-in table.
func Default() *Table {
	limits := make(map[model.Tier]Limits, len(defaultLimits))
	for t, l := range defaultLimits {
		limits[t] = l
	}
	return &Table{limits: limits}
}

// New builds a table from explicit limits. Every tier must be present.
func New(limits map[model.Tier]Limits) (*Table, error) {
	t := &Table{limits: make(map[model.Tier]Limits, len(limits))}
	for name, l := range limits {
		t.limits[name] = l
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Limits returns the limits for a tier. Unknown tiers get the free limits.
func (t *Table) Limits(name model.Tier) Limits {
	if l, ok := t.limits[name]; ok {
		return l
	}
	return t.limits[model.TierFree]
}

// Tiers returns every tier in ascending order of price.
func (t *Table) Tiers() []model.Tier {
	return []model.Tier{model.TierFree, model.TierPro, model.TierPremium}
}

func (t *Table) Validate() error {
	for _, name := range t.Tiers() {
		l, ok := t.limits[name]
		if !ok {
			return fmt.Errorf("tier %q is missing", name)
		}
		if l.MonthlyCap <= 0 {
			return fmt.Errorf("tier %q: monthly_cap must be positive", name)
		}
		if l.DailyCap < 0 {
			return fmt.Errorf("tier %q: daily_cap cannot be negative", name)
		}
		if l.Unit != model.UnitCredits && l.Unit != model.UnitTokens {
			return fmt.Errorf("tier %q: unit must be %q or %q", name, model.UnitCredits, model.UnitTokens)
		}
		if l.MaxExportRecords < Unlimited {
			return fmt.Errorf("tier %q: max_export_records must be -1 or more", name)
		}
		if name.Paid() && l.PriceCents <= 0 {
			return fmt.Errorf("tier %q: price_cents must be positive", name)
		}
	}
	return nil
}

// Load reads a YAML override file on top of the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read tiers file %s: %w", path, err)
	}

	var overrides map[model.Tier]Limits
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse tiers file: %w", err)
	}

	table := Default()
	for name, l := range overrides {
		if !name.Valid() {
			return nil, fmt.Errorf("unknown tier %q in tiers file", name)
		}
		table.limits[name] = l
	}

	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tiers file: %w", err)
	}
	return table, nil
}
