package progression

import (
	"fmt"
	"sort"

	"github.com/skillquest/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TIERS
// ══════════════════════════════════════════════════════════════════════════════

// Tier - косметическая полоса уровней.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
	TierDiamond  Tier = "diamond"
)

// IsValid проверяет, что тир известен.
func (t Tier) IsValid() bool {
	switch t {
	case TierBronze, TierSilver, TierGold, TierPlatinum, TierDiamond:
		return true
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// THRESHOLD TABLE
// ══════════════════════════════════════════════════════════════════════════════

// DefaultLevelSpan - ширина уровня, если следующего порога нет,
// и шаг линейной кривой для пустой таблицы.
const DefaultLevelSpan = 100

// Threshold - одна строка таблицы level_thresholds.
type Threshold struct {
	Level int  `json:"level" yaml:"level"`
	MinXP int  `json:"min_xp" yaml:"min_xp"`
	Tier  Tier `json:"tier" yaml:"tier"`
}

// ThresholdTable - проверенная таблица порогов, отсортированная по уровню.
// После создания не изменяется и безопасна для конкурентного чтения.
type ThresholdTable struct {
	rows []Threshold
}

// NewThresholdTable сортирует строки и проверяет инварианты:
// уровень 1 начинается с 0 XP, уровни идут без пропусков,
// MinXP строго возрастает, тиры известны.
// Пустой список допустим и включает линейную кривую.
func NewThresholdTable(rows []Threshold) (ThresholdTable, error) {
	sorted := make([]Threshold, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Level < sorted[j].Level })

	for i, row := range sorted {
		if !row.Tier.IsValid() {
			return ThresholdTable{}, invalidTable("level %d has unknown tier %q", row.Level, row.Tier)
		}
		if i == 0 {
			if row.Level != 1 || row.MinXP != 0 {
				return ThresholdTable{}, invalidTable("table must start at level 1 with 0 xp, got level %d at %d xp", row.Level, row.MinXP)
			}
			continue
		}

		prev := sorted[i-1]
		if row.Level != prev.Level+1 {
			return ThresholdTable{}, invalidTable("levels must be gapless: %d follows %d", row.Level, prev.Level)
		}
		if row.MinXP > shared.MaxXP {
			return ThresholdTable{}, invalidTable("level %d: min_xp %d above %d", row.Level, row.MinXP, shared.MaxXP)
		}
		if row.MinXP <= prev.MinXP {
			return ThresholdTable{}, invalidTable("min_xp must increase: level %d has %d, level %d has %d",
				row.Level, row.MinXP, prev.Level, prev.MinXP)
		}
	}

	return ThresholdTable{rows: sorted}, nil
}

// MustThresholdTable паникует при невалидной таблице. Для тестов и констант.
func MustThresholdTable(rows []Threshold) ThresholdTable {
	table, err := NewThresholdTable(rows)
	if err != nil {
		panic(err)
	}
	return table
}

func invalidTable(format string, args ...any) error {
	return shared.WrapError("progression", "LoadThresholds", shared.ErrValidation,
		"invalid level threshold table", fmt.Errorf(format, args...))
}

// Rows возвращает копию строк.
func (t ThresholdTable) Rows() []Threshold {
	out := make([]Threshold, len(t.rows))
	copy(out, t.rows)
	return out
}

// Len возвращает количество порогов.
func (t ThresholdTable) Len() int { return len(t.rows) }

// IsEmpty - true, если таблица пуста и действует линейная кривая.
func (t ThresholdTable) IsEmpty() bool { return len(t.rows) == 0 }

// MaxLevel возвращает последний уровень таблицы (0 для пустой).
func (t ThresholdTable) MaxLevel() int {
	if len(t.rows) == 0 {
		return 0
	}
	return t.rows[len(t.rows)-1].Level
}

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL RESOLVER
// ══════════════════════════════════════════════════════════════════════════════

// LevelInfo - результат вычисления уровня.
type LevelInfo struct {
	Level             int  `json:"level"`
	Tier              Tier `json:"tier"`
	CurrentLevelFloor int  `json:"current_level_floor"`
	NextLevelCeiling  int  `json:"next_level_ceiling"`

	// Fallback - уровень посчитан по линейной кривой, потому что таблица пуста.
	Fallback bool `json:"fallback"`
}

// ProgressPercent - прогресс внутри уровня, 0..100.
func (li LevelInfo) ProgressPercent(xp int) int {
	span := li.NextLevelCeiling - li.CurrentLevelFloor
	if span <= 0 {
		return 100
	}
	pct := (xp - li.CurrentLevelFloor) * 100 / span
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// XPToNextLevel - сколько XP не хватает до следующего уровня.
func (li LevelInfo) XPToNextLevel(xp int) int {
	if rest := li.NextLevelCeiling - xp; rest > 0 {
		return rest
	}
	return 0
}

// LevelResolver вычисляет уровень по XP. Без побочных эффектов.
type LevelResolver struct {
	table ThresholdTable
	span  int
}

// NewLevelResolver создаёт резолвер. span <= 0 заменяется на DefaultLevelSpan.
func NewLevelResolver(table ThresholdTable, span int) *LevelResolver {
	if span <= 0 {
		span = DefaultLevelSpan
	}
	return &LevelResolver{table: table, span: span}
}

// Table возвращает таблицу порогов резолвера.
func (r *LevelResolver) Table() ThresholdTable { return r.table }

// Resolve выбирает порог с наибольшим MinXP <= xp.
// Отрицательный XP трактуется как 0; проверка входа - задача вызывающего.
func (r *LevelResolver) Resolve(xp int) LevelInfo {
	if xp < 0 {
		xp = 0
	}

	rows := r.table.rows
	if len(rows) == 0 {
		level := xp/r.span + 1
		floor := (level - 1) * r.span
		return LevelInfo{
			Level:             level,
			Tier:              TierBronze,
			CurrentLevelFloor: floor,
			NextLevelCeiling:  floor + r.span,
			Fallback:          true,
		}
	}

	// Первый индекс, чей порог уже выше xp; нужный порог - перед ним.
	idx := sort.Search(len(rows), func(i int) bool { return rows[i].MinXP > xp }) - 1
	if idx < 0 {
		idx = 0
	}

	current := rows[idx]
	ceiling := current.MinXP + r.span
	if idx+1 < len(rows) {
		ceiling = rows[idx+1].MinXP
	}

	return LevelInfo{
		Level:             current.Level,
		Tier:              current.Tier,
		CurrentLevelFloor: current.MinXP,
		NextLevelCeiling:  ceiling,
	}
}

// Resolve - функциональная форма для разового вычисления.
func Resolve(xp int, table ThresholdTable) LevelInfo {
	return NewLevelResolver(table, DefaultLevelSpan).Resolve(xp)
}
