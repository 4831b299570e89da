package game

import (
	"math"
	"time"

	"ownrealm/pkg/core"
)

// MinArmySpeed is the floor applied to army speed, in seconds per field.
const MinArmySpeed = 2

// Distance is the Euclidean distance between two map positions rounded up,
// never less than one field.
func Distance(ax, ay, bx, by int) int {
	dx := float64(ax - bx)
	dy := float64(ay - by)
	d := int(math.Ceil(math.Sqrt(dx*dx + dy*dy)))
	if d < 1 {
		return 1
	}
	return d
}

// ArmySpeed returns the seconds per field of the slowest unit type with a
// non-zero count.
func ArmySpeed(garrison map[string]int) (int, error) {
	speed := 0
	sent := 0
	for key, n := range garrison {
		if n < 0 {
			return 0, core.Invalid("negative count for %s", key)
		}
		if n == 0 {
			continue
		}
		d, ok := units[key]
		if !ok {
			return 0, core.Invalid("unknown unit %q", key)
		}
		sent += n
		if d.Speed > speed {
			speed = d.Speed
		}
	}
	if sent == 0 {
		return 0, core.Invalid("no units to send")
	}
	if speed < MinArmySpeed {
		speed = MinArmySpeed
	}
	return speed, nil
}

func ArrivalTime(depart time.Time, distance, speed int) time.Time {
	return depart.Add(time.Duration(distance*speed) * time.Second)
}
