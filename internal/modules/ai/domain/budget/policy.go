package budget

import "math"

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusWarning   Status = "warning"
	StatusCritical  Status = "critical"
	StatusEmergency Status = "emergency"
)

type Strategy string

const (
	StrategyNone      Strategy = "none"
	StrategyCritical  Strategy = "critical"
	StrategyEmergency Strategy = "emergency"
)

// Config 上下文窗口与各级阈值。阈值是占可用历史预算的比例。
type Config struct {
	ContextWindow       int
	SystemReserve       int
	ResponseReserve     int
	WarningThreshold    float64
	CompactionThreshold float64
	EmergencyThreshold  float64
	CriticalTarget      float64
	EmergencyTarget     float64
	MinMessages         int
}

func DefaultConfig() Config {
	return Config{
		ContextWindow:       128000,
		SystemReserve:       2000,
		ResponseReserve:     4000,
		WarningThreshold:    0.75,
		CompactionThreshold: 0.90,
		EmergencyThreshold:  0.95,
		CriticalTarget:      0.70,
		EmergencyTarget:     0.50,
		MinMessages:         10,
	}
}

// AvailableForHistory 窗口扣除系统提示与回复预留后留给历史的 token 数
func (c Config) AvailableForHistory() int {
	return max(0, c.ContextWindow-c.SystemReserve-c.ResponseReserve)
}

// UsageRatio available 为 0 时，只要有 token 就视为溢出
func UsageRatio(tokens, available int) float64 {
	if tokens <= 0 {
		return 0
	}
	if available <= 0 {
		return math.Inf(1)
	}
	return float64(tokens) / float64(available)
}

// GetTokenBudgetStatus 以 AvailableForHistory 为分母判断预算状态
func GetTokenBudgetStatus(tokens int, cfg Config) Status {
	return StatusFor(tokens, cfg.AvailableForHistory(), cfg)
}

// StatusFor 以给定的可用预算为分母判断状态，RAG 占用后的有效预算走这里
func StatusFor(tokens, available int, cfg Config) Status {
	r := UsageRatio(tokens, available)
	switch {
	case r >= cfg.EmergencyThreshold:
		return StatusEmergency
	case r >= cfg.CompactionThreshold:
		return StatusCritical
	case r >= cfg.WarningThreshold:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

func NeedsCompaction(s Status) bool {
	return s == StatusCritical || s == StatusEmergency
}

// Decision 一次预算评估的结论
type Decision struct {
	Status          Status
	NeedsCompaction bool
	Strategy        Strategy
	TargetTokens    int
	Available       int
	UsageRatio      float64
}

// Evaluate critical 压到可用预算的 CriticalTarget，emergency 压到 EmergencyTarget
func Evaluate(tokens, available int, cfg Config) Decision {
	available = max(0, available)
	st := StatusFor(tokens, available, cfg)
	d := Decision{
		Status:       st,
		Strategy:     StrategyNone,
		TargetTokens: available,
		Available:    available,
		UsageRatio:   UsageRatio(tokens, available),
	}
	switch st {
	case StatusCritical:
		d.NeedsCompaction = true
		d.Strategy = StrategyCritical
		d.TargetTokens = int(math.Floor(float64(available) * cfg.CriticalTarget))
	case StatusEmergency:
		d.NeedsCompaction = true
		d.Strategy = StrategyEmergency
		d.TargetTokens = int(math.Floor(float64(available) * cfg.EmergencyTarget))
	}
	return d
}
