package game

import (
	"math"
	"sort"
	"time"

	"ownrealm/pkg/core"
	"ownrealm/pkg/types"
)

// --- Subjects ---

const (
	Keep       = "keep"
	Lumberjack = "lumberjack"
	Quarry     = "quarry"
	OreMine    = "ore_mine"
	Storehouse = "storehouse"
	Farm       = "farm"
	Barracks   = "barracks"
	Library    = "library"
	Market     = "market"
	Wall       = "wall"
)

const (
	Spearman    = "spearman"
	Swordsman   = "swordsman"
	Archer      = "archer"
	Crossbowman = "crossbowman"
	Horseman    = "horseman"
	Lancer      = "lancer"
)

const (
	Longbow       = "longbow"
	CrossbowTech  = "crossbow"
	Swordsmith    = "swordsmith"
	HorseBreeding = "horse_breeding"
	CropRotation  = "crop_rotation"
	Masonry       = "masonry"
)

// Subject is a validated (type, key) pair. Only ParseSubject builds one.
type Subject struct {
	Type types.SubjectType
	Key  string
}

func ParseSubject(subjectType, key string) (Subject, error) {
	st := types.SubjectType(subjectType)
	switch st {
	case types.SubjectBuilding:
		if _, ok := buildings[key]; ok {
			return Subject{st, key}, nil
		}
	case types.SubjectMilitaryUnit:
		if _, ok := units[key]; ok {
			return Subject{st, key}, nil
		}
	case types.SubjectResearch:
		if _, ok := research[key]; ok {
			return Subject{st, key}, nil
		}
	default:
		return Subject{}, core.Invalid("unknown subject type %q", subjectType)
	}
	return Subject{}, core.Invalid("unknown %s %q", subjectType, key)
}

// --- Definitions ---

// LevelDef describes anything priced per level (buildings, research).
type LevelDef struct {
	BaseCost     types.Resources
	CostGrowth   float64
	BaseSeconds  int
	TimeGrowth   float64
	MaxLevel     int
	Settlers     int            // per level
	Requires     map[string]int // building -> min level
	RequiresTech string
}

func (d LevelDef) CostFor(level int) types.Cost {
	f := math.Pow(d.CostGrowth, float64(level-1))
	return types.Cost{
		Resources: types.Resources{
			Wood:  int(math.Round(float64(d.BaseCost.Wood) * f)),
			Stone: int(math.Round(float64(d.BaseCost.Stone) * f)),
			Ore:   int(math.Round(float64(d.BaseCost.Ore) * f)),
		},
		Settlers: d.Settlers,
	}
}

func (d LevelDef) DurationFor(level int) time.Duration {
	secs := math.Round(float64(d.BaseSeconds) * math.Pow(d.TimeGrowth, float64(level-1)))
	return time.Duration(secs) * time.Second
}

// UnitDef holds static unit data. Speed is seconds per field.
type UnitDef struct {
	Cost         types.Resources
	Settlers     int
	TrainSeconds int
	Attack       float64
	Ranged       float64
	Defense      float64
	Speed        int
	RequiresTech string
}

var buildings = map[string]LevelDef{
	Keep:       {BaseCost: types.Resources{Wood: 150, Stone: 150, Ore: 100}, CostGrowth: 1.45, BaseSeconds: 600, TimeGrowth: 1.4, MaxLevel: 10, Settlers: 2},
	Lumberjack: {BaseCost: types.Resources{Wood: 40, Stone: 50, Ore: 20}, CostGrowth: 1.3, BaseSeconds: 120, TimeGrowth: 1.25, MaxLevel: 30, Settlers: 1},
	Quarry:     {BaseCost: types.Resources{Wood: 50, Stone: 40, Ore: 20}, CostGrowth: 1.3, BaseSeconds: 120, TimeGrowth: 1.25, MaxLevel: 30, Settlers: 1},
	OreMine:    {BaseCost: types.Resources{Wood: 60, Stone: 50, Ore: 10}, CostGrowth: 1.3, BaseSeconds: 150, TimeGrowth: 1.25, MaxLevel: 30, Settlers: 1},
	Storehouse: {BaseCost: types.Resources{Wood: 80, Stone: 80, Ore: 0}, CostGrowth: 1.35, BaseSeconds: 180, TimeGrowth: 1.3, MaxLevel: 20},
	Farm:       {BaseCost: types.Resources{Wood: 60, Stone: 40, Ore: 20}, CostGrowth: 1.32, BaseSeconds: 160, TimeGrowth: 1.28, MaxLevel: 30},
	Barracks:   {BaseCost: types.Resources{Wood: 120, Stone: 100, Ore: 150}, CostGrowth: 1.4, BaseSeconds: 480, TimeGrowth: 1.3, MaxLevel: 20, Settlers: 2, Requires: map[string]int{Keep: 2}},
	Library:    {BaseCost: types.Resources{Wood: 140, Stone: 160, Ore: 80}, CostGrowth: 1.5, BaseSeconds: 720, TimeGrowth: 1.35, MaxLevel: 10, Settlers: 2, Requires: map[string]int{Keep: 2}},
	Market:     {BaseCost: types.Resources{Wood: 100, Stone: 80, Ore: 60}, CostGrowth: 1.4, BaseSeconds: 420, TimeGrowth: 1.3, MaxLevel: 8, Settlers: 1, Requires: map[string]int{Keep: 3}},
	Wall:       {BaseCost: types.Resources{Wood: 60, Stone: 200, Ore: 40}, CostGrowth: 1.35, BaseSeconds: 540, TimeGrowth: 1.3, MaxLevel: 20, RequiresTech: Masonry},
}

var research = map[string]LevelDef{
	Longbow:       {BaseCost: types.Resources{Wood: 200, Stone: 100, Ore: 150}, CostGrowth: 1, BaseSeconds: 1800, TimeGrowth: 1, MaxLevel: 1, Requires: map[string]int{Library: 1}},
	CropRotation:  {BaseCost: types.Resources{Wood: 150, Stone: 150, Ore: 50}, CostGrowth: 1, BaseSeconds: 1800, TimeGrowth: 1, MaxLevel: 1, Requires: map[string]int{Library: 1}},
	Masonry:       {BaseCost: types.Resources{Wood: 100, Stone: 300, Ore: 100}, CostGrowth: 1, BaseSeconds: 2400, TimeGrowth: 1, MaxLevel: 1, Requires: map[string]int{Library: 2}},
	Swordsmith:    {BaseCost: types.Resources{Wood: 250, Stone: 150, Ore: 400}, CostGrowth: 1, BaseSeconds: 3600, TimeGrowth: 1, MaxLevel: 1, Requires: map[string]int{Library: 3}},
	CrossbowTech:  {BaseCost: types.Resources{Wood: 400, Stone: 250, Ore: 450}, CostGrowth: 1, BaseSeconds: 5400, TimeGrowth: 1, MaxLevel: 1, Requires: map[string]int{Library: 5}},
	HorseBreeding: {BaseCost: types.Resources{Wood: 500, Stone: 300, Ore: 300}, CostGrowth: 1, BaseSeconds: 5400, TimeGrowth: 1, MaxLevel: 1, Requires: map[string]int{Library: 6}},
}

// Speeds are seconds per field.
var units = map[string]UnitDef{
	Spearman:    {Cost: types.Resources{Wood: 18, Stone: 6, Ore: 30}, Settlers: 1, TrainSeconds: 750, Attack: 20, Ranged: 0, Defense: 59, Speed: 700},
	Swordsman:   {Cost: types.Resources{Wood: 43, Stone: 20, Ore: 48}, Settlers: 1, TrainSeconds: 1200, Attack: 45, Ranged: 0, Defense: 30, Speed: 800, RequiresTech: Swordsmith},
	Archer:      {Cost: types.Resources{Wood: 27, Stone: 12, Ore: 39}, Settlers: 1, TrainSeconds: 900, Attack: 5, Ranged: 32, Defense: 15, Speed: 500, RequiresTech: Longbow},
	Crossbowman: {Cost: types.Resources{Wood: 50, Stone: 28, Ore: 55}, Settlers: 1, TrainSeconds: 1350, Attack: 10, Ranged: 60, Defense: 45, Speed: 600, RequiresTech: CrossbowTech},
	Horseman:    {Cost: types.Resources{Wood: 25, Stone: 15, Ore: 45}, Settlers: 2, TrainSeconds: 1050, Attack: 55, Ranged: 0, Defense: 37, Speed: 300},
	Lancer:      {Cost: types.Resources{Wood: 70, Stone: 60, Ore: 80}, Settlers: 2, TrainSeconds: 1860, Attack: 80, Ranged: 0, Defense: 20, Speed: 400, RequiresTech: HorseBreeding},
}

func Building(key string) (LevelDef, bool) {
	d, ok := buildings[key]
	return d, ok
}

func Research(key string) (LevelDef, bool) {
	d, ok := research[key]
	return d, ok
}

func Unit(key string) (UnitDef, bool) {
	d, ok := units[key]
	return d, ok
}

// BuildingKeys returns all building keys in deterministic order.
func BuildingKeys() []string { return sortedKeys(buildings) }

func UnitKeys() []string { return sortedKeys(units) }

func ResearchKeys() []string { return sortedKeys(research) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --- Level-derived economy ---

const (
	BaseCapacity = 1000
	BaseSettlers = 40
)

// ProductionPerHour is the hourly output of a production building at level.
func ProductionPerHour(level int) float64 {
	if level <= 0 {
		return 0
	}
	return math.Round(30 * float64(level) * math.Pow(1.1, float64(level-1)))
}

// Capacity is the per-resource storage limit for a storehouse level.
func Capacity(storehouseLevel int) int {
	return int(math.Round(BaseCapacity * math.Pow(1.3, float64(storehouseLevel))))
}

// MaxSettlers is the population ceiling granted by a farm level.
func MaxSettlers(farmLevel, cropRotation int) int {
	n := BaseSettlers + 25*farmLevel
	if cropRotation > 0 {
		n += n / 10
	}
	return n
}

// RatesFor derives regeneration rates from production building levels.
func RatesFor(levels map[string]int) types.Rates {
	return types.Rates{
		Wood:  ProductionPerHour(levels[Lumberjack]),
		Stone: ProductionPerHour(levels[Quarry]),
		Ore:   ProductionPerHour(levels[OreMine]),
	}
}

// --- Requirement checks ---

// MaxTrainCount bounds one training order so its price cannot overflow.
const MaxTrainCount = 10000

// CheckRequirements validates prerequisites for admitting subject at target.
func CheckRequirements(s Subject, target int, levels, techs map[string]int) error {
	var reqs map[string]int
	var tech string
	switch s.Type {
	case types.SubjectBuilding:
		d := buildings[s.Key]
		if target > d.MaxLevel {
			return core.Invalid("%s is already at max level %d", s.Key, d.MaxLevel)
		}
		reqs, tech = d.Requires, d.RequiresTech
	case types.SubjectResearch:
		d := research[s.Key]
		if target > d.MaxLevel {
			return core.Invalid("%s is already researched", s.Key)
		}
		reqs, tech = d.Requires, d.RequiresTech
	case types.SubjectMilitaryUnit:
		if target <= 0 {
			return core.Invalid("unit count must be positive")
		}
		if target > MaxTrainCount {
			return core.Invalid("cannot train more than %d units at once", MaxTrainCount)
		}
		if levels[Barracks] < 1 {
			return core.Invalid("training %s needs a barracks", s.Key)
		}
		tech = units[s.Key].RequiresTech
	}
	for _, b := range sortedKeys(reqs) {
		if levels[b] < reqs[b] {
			return core.Invalid("%s needs %s level %d", s.Key, b, reqs[b])
		}
	}
	if tech != "" && techs[tech] < 1 {
		return core.Invalid("%s needs research %s", s.Key, tech)
	}
	return nil
}

// Price returns the cost and duration of admitting subject at target.
// target is a level for buildings/research and a count for units.
func Price(s Subject, target int) (types.Cost, time.Duration) {
	switch s.Type {
	case types.SubjectBuilding:
		d := buildings[s.Key]
		return d.CostFor(target), d.DurationFor(target)
	case types.SubjectResearch:
		d := research[s.Key]
		return d.CostFor(target), d.DurationFor(target)
	case types.SubjectMilitaryUnit:
		d := units[s.Key]
		return types.Cost{Resources: d.Cost.Scale(target), Settlers: d.Settlers * target},
			time.Duration(d.TrainSeconds*target) * time.Second
	}
	return types.Cost{}, 0
}

// --- New settlements ---

var (
	StartingBuildings = map[string]int{Keep: 1, Lumberjack: 1, Quarry: 1, OreMine: 1, Storehouse: 1, Farm: 1}
	StartingResources = types.Resources{Wood: 500, Stone: 500, Ore: 300}
)

const StartingGold = 100

// SettlersFor is the population held by a set of units.
func SettlersFor(garrison map[string]int) int {
	n := 0
	for key, count := range garrison {
		if d, ok := units[key]; ok && count > 0 {
			n += d.Settlers * count
		}
	}
	return n
}
