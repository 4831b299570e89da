package game

import (
	"encoding/json"
	"math"

	"ownrealm/pkg/core"
	"ownrealm/pkg/types"
)

const (
	minRandomFactor = 0.8
	maxRandomFactor = 1.2
	minLossRate     = 0.1
	maxLossRate     = 0.8
	minPlunderRate  = 0.05
	maxPlunderRate  = 0.15
)

// RandomFactor is the source of battle luck. *rand.Rand satisfies it.
type RandomFactor interface {
	Float64() float64
}

// PowerOf aggregates per-unit stats over a garrison. Unknown keys add nothing.
func PowerOf(garrison map[string]int) types.Power {
	var p types.Power
	for key, n := range garrison {
		d, ok := units[key]
		if !ok || n <= 0 {
			continue
		}
		p.Attack += d.Attack * float64(n)
		p.Ranged += d.Ranged * float64(n)
		p.Defense += d.Defense * float64(n)
	}
	return p
}

type BattleInput struct {
	AttackerUnits     map[string]int
	DefenderUnits     map[string]int
	AttackerPower     types.Power
	DefenderPower     types.Power
	DefenderResources types.Resources
}

type BattleOutcome struct {
	AttackerEffective float64
	DefenderEffective float64
	RandomFactor      float64
	PowerRatio        float64
	Winner            types.Side
	AttackerLossRate  float64
	DefenderLossRate  float64
	AttackerLosses    map[string]int
	DefenderLosses    map[string]int
	Plundered         types.Resources
}

// ResolveBattle runs one battle. Only the attacker's effective power is
// randomized.
func ResolveBattle(in BattleInput, rng RandomFactor) BattleOutcome {
	rf := minRandomFactor + (maxRandomFactor-minRandomFactor)*rng.Float64()
	att := (in.AttackerPower.Attack + in.AttackerPower.Ranged) * rf
	def := in.DefenderPower.Defense + 0.5*in.DefenderPower.Ranged

	out := BattleOutcome{AttackerEffective: att, DefenderEffective: def, RandomFactor: rf}

	winning, losing := def, att
	out.Winner = types.SideDefender
	if att > def {
		winning, losing = att, def
		out.Winner = types.SideAttacker
	}
	out.PowerRatio = losing / math.Max(winning, 1)

	winnerLoss := clamp(0.1+0.4*out.PowerRatio, minLossRate, maxLossRate)
	loserLoss := clamp(0.3+0.5*(1-out.PowerRatio), minLossRate, maxLossRate)
	if out.Winner == types.SideAttacker {
		out.AttackerLossRate, out.DefenderLossRate = winnerLoss, loserLoss
	} else {
		out.AttackerLossRate, out.DefenderLossRate = loserLoss, winnerLoss
	}

	out.AttackerLosses = Losses(in.AttackerUnits, out.AttackerLossRate)
	out.DefenderLosses = Losses(in.DefenderUnits, out.DefenderLossRate)

	if out.Winner == types.SideAttacker {
		rate := clamp(0.05+0.1*(1-out.PowerRatio), minPlunderRate, maxPlunderRate)
		for _, rt := range types.AllResourceTypes() {
			v := in.DefenderResources.Get(rt)
			if v < 0 {
				v = 0
			}
			out.Plundered.Set(rt, int(math.Floor(float64(v)*rate)))
		}
	}
	return out
}

// Losses applies rate independently to every unit type.
func Losses(units map[string]int, rate float64) map[string]int {
	out := make(map[string]int, len(units))
	for key, n := range units {
		l := int(math.Floor(float64(n) * rate))
		if l < 0 {
			l = 0
		}
		if l > n {
			l = n
		}
		out[key] = l
	}
	return out
}

// Survivors subtracts losses from units, dropping empty types.
func Survivors(units, losses map[string]int) map[string]int {
	out := make(map[string]int, len(units))
	for key, n := range units {
		if left := n - losses[key]; left > 0 {
			out[key] = left
		}
	}
	return out
}

// Digest hashes the canonical JSON of a record with its digest field blanked.
func Digest(rec types.BattleRecord) string {
	rec.Digest = ""
	b, err := json.Marshal(rec)
	if err != nil {
		return ""
	}
	return core.Hash(b)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
