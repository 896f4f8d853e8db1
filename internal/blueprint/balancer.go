package blueprint

import "math"

// Balancer turns coverage drift into multipliers
type Balancer struct {
	cfg Config
}

// NewBalancer validates cfg and returns a balancer for it
func NewBalancer(cfg Config) (*Balancer, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Balancer{cfg: cfg}, nil
}

// Config returns the effective configuration
func (b *Balancer) Config() Config {
	return b.cfg
}

// Target returns the target weight of an LO, 0 for LOs outside the blueprint
func (b *Balancer) Target(loID string) float64 {
	return b.cfg.Targets[loID]
}

// Observed returns the share of attempts spent on loID. With no attempts at all
// every LO is observed at 0.
func (b *Balancer) Observed(loID string, counts map[string]int) float64 {
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return 0
	}
	return float64(counts[loID]) / float64(total)
}

// Drift is observed minus target coverage
func (b *Balancer) Drift(loID string, counts map[string]int) float64 {
	return b.Observed(loID, counts) - b.Target(loID)
}

// Multiplier maps drift onto [MinMultiplier, MaxMultiplier]:
// over-represented LOs are damped, under-represented ones boosted
func (b *Balancer) Multiplier(drift float64) float64 {
	switch {
	case drift > 0:
		return math.Max(b.cfg.MinMultiplier, 1-drift*b.cfg.OverWeight)
	case drift < 0:
		return math.Min(b.cfg.MaxMultiplier, 1+math.Abs(drift)*b.cfg.UnderWeight)
	default:
		return 1
	}
}

// MultiplierFor is Multiplier(Drift(loID, counts))
func (b *Balancer) MultiplierFor(loID string, counts map[string]int) float64 {
	return b.Multiplier(b.Drift(loID, counts))
}

// HardDeficit reports whether an LO is under-represented by more than the
// deficit threshold. Such LOs may bypass the scheduler cooldown.
func (b *Balancer) HardDeficit(drift float64) bool {
	return -drift > b.cfg.DeficitThreshold
}
