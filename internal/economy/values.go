package economy

// baseValues anchors the market value of each good in coins. Values
// feed fairness statistics on the status API; nothing enforces them.
var baseValues = map[string]float64{
	"wood":     1,
	"stone":    2,
	"food":     3,
	"herb":     5,
	"iron_ore": 10,
	"tool":     15,
	"plank":    4,
	"bread":    6,
	"potion":   25,
	"gem":      100,
}

// driftStep is the fractional nudge applied per observed settlement.
// Prices drift toward demand but stay within [0.5, 2.0] of base.
const driftStep = 0.02

// PriceBook tracks drifting market values derived from trade history.
type PriceBook struct {
	values map[string]float64
}

func NewPriceBook() *PriceBook {
	pb := &PriceBook{values: make(map[string]float64, len(baseValues))}
	for k, v := range baseValues {
		pb.values[k] = v
	}
	return pb
}

// Value returns the current value of an item, defaulting to 1 for
// goods the book has never seen.
func (pb *PriceBook) Value(item string) float64 {
	if v, ok := pb.values[item]; ok {
		return v
	}
	return 1
}

// Appraise sums the value of an item bundle plus coins.
func (pb *PriceBook) Appraise(items map[string]int, coins uint64) float64 {
	total := float64(coins)
	for item, n := range items {
		total += pb.Value(item) * float64(n)
	}
	return total
}

// All returns a copy of the current price table.
func (pb *PriceBook) All() map[string]float64 {
	out := make(map[string]float64, len(pb.values))
	for k, v := range pb.values {
		out[k] = v
	}
	return out
}

// observe drifts prices from one settlement: requested goods were in
// demand, offered goods were in supply.
func (pb *PriceBook) observe(offered, requested map[string]int) {
	for item := range requested {
		pb.nudge(item, 1+driftStep)
	}
	for item := range offered {
		pb.nudge(item, 1-driftStep)
	}
}

func (pb *PriceBook) nudge(item string, factor float64) {
	base, ok := baseValues[item]
	if !ok {
		base = 1
	}
	v := pb.Value(item) * factor
	if v < base*0.5 {
		v = base * 0.5
	}
	if v > base*2 {
		v = base * 2
	}
	pb.values[item] = v
}
