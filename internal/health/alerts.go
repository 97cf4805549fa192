package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/queueforge/queueforge/pkg/telemetry"
)

// Metric identifies which sampled value an alert rule watches.
type Metric string

const (
	MetricErrorRate    Metric = "error_rate"
	MetricQueueDepth   Metric = "queue_depth"
	MetricLatencyP95   Metric = "latency_p95"
	MetricThroughput   Metric = "throughput"
	MetricMemoryMB     Metric = "memory_mb"
	MetricHealthScore  Metric = "health_score"
	MetricDeadLetters  Metric = "dead_letters"
	MetricCacheHitRate Metric = "cache_hit_rate"
)

// Operator compares a sampled value against a rule threshold.
type Operator string

const (
	OpGreaterThan Operator = "gt"
	OpLessThan    Operator = "lt"
)

// Severity ranks alert urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertRule watches one metric on one queue (or "*" for all queues).
// A rule in cooldown will not fire again for the same queue until the
// cooldown elapses.
type AlertRule struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	QueueType string        `json:"queue_type"` // "*" matches every queue
	Metric    Metric        `json:"metric"`
	Operator  Operator      `json:"operator"`
	Threshold float64       `json:"threshold"`
	Severity  Severity      `json:"severity"`
	Cooldown  time.Duration `json:"cooldown"`
	Enabled   bool          `json:"enabled"`
}

// Validate rejects rules that could never evaluate.
func (r AlertRule) Validate() error {
	switch r.Metric {
	case MetricErrorRate, MetricQueueDepth, MetricLatencyP95, MetricThroughput,
		MetricMemoryMB, MetricHealthScore, MetricDeadLetters, MetricCacheHitRate:
	default:
		return fmt.Errorf("unknown alert metric %q", r.Metric)
	}
	switch r.Operator {
	case OpGreaterThan, OpLessThan:
	default:
		return fmt.Errorf("unknown alert operator %q", r.Operator)
	}
	if r.Name == "" {
		return fmt.Errorf("alert rule name is required")
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("alert cooldown must not be negative")
	}
	return nil
}

func (r AlertRule) matches(queueType string) bool {
	return r.Enabled && (r.QueueType == "*" || r.QueueType == queueType)
}

// describe renders the breached condition as human-readable text, e.g.
// "error_rate gt 5: observed 12.3".
func (r AlertRule) describe(value float64) string {
	return fmt.Sprintf("%s %s %g: observed %g", r.Metric, r.Operator, r.Threshold, value)
}

func (r AlertRule) breached(value float64) bool {
	switch r.Operator {
	case OpGreaterThan:
		return value > r.Threshold
	case OpLessThan:
		return value < r.Threshold
	default:
		return false
	}
}

// AlertInstance is one firing (or resolved) occurrence of a rule.
type AlertInstance struct {
	ID                 string     `json:"id"`
	RuleID             string     `json:"rule_id"`
	RuleName           string     `json:"rule_name"`
	Description        string     `json:"description"`
	QueueType          string     `json:"queue_type"`
	Metric             Metric     `json:"metric"`
	Severity           Severity   `json:"severity"`
	Value              float64    `json:"value"`
	Threshold          float64    `json:"threshold"`
	FiredAt            time.Time  `json:"fired_at"`
	Resolved           bool       `json:"resolved"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	BusinessImpact     string     `json:"business_impact"`
	RecommendedActions []string   `json:"recommended_actions"`
}

// ruleQueueKey scopes cooldowns and active alerts to a rule+queue pair.
type ruleQueueKey struct {
	ruleID    string
	queueType string
}

// AlertManager evaluates rules against samples and tracks firing state.
type AlertManager struct {
	mu        sync.RWMutex
	rules     map[string]AlertRule
	active    map[ruleQueueKey]*AlertInstance
	lastFired map[ruleQueueKey]time.Time
	history   []AlertInstance
	maxHist   int
	now       func() time.Time
}

func NewAlertManager() *AlertManager {
	return &AlertManager{
		rules:     make(map[string]AlertRule),
		active:    make(map[ruleQueueKey]*AlertInstance),
		lastFired: make(map[ruleQueueKey]time.Time),
		maxHist:   256,
		now:       time.Now,
	}
}

// AddRule registers or replaces a rule. A missing ID is generated.
func (m *AlertManager) AddRule(rule AlertRule) (AlertRule, error) {
	if err := rule.Validate(); err != nil {
		return AlertRule{}, err
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	m.mu.Lock()
	m.rules[rule.ID] = rule
	m.mu.Unlock()
	return rule, nil
}

// RemoveRule deletes a rule and resolves any alerts it has active.
func (m *AlertManager) RemoveRule(ruleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules, ruleID)
	for key, inst := range m.active {
		if key.ruleID == ruleID {
			m.resolveLocked(key, inst)
		}
	}
}

// Rules returns a snapshot of all registered rules.
func (m *AlertManager) Rules() []AlertRule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AlertRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	return out
}

// metricValue extracts the rule's watched value from a scored sample.
func metricValue(metric Metric, s PerformanceSample, score HealthScore) float64 {
	switch metric {
	case MetricErrorRate:
		return s.Reliability.ErrorRate
	case MetricQueueDepth:
		return float64(s.Waiting)
	case MetricLatencyP95:
		return s.Latency.P95Ms
	case MetricThroughput:
		return s.Throughput.JobsPerSecond
	case MetricMemoryMB:
		return s.Resources.MemoryMB
	case MetricHealthScore:
		return float64(score.Overall)
	case MetricDeadLetters:
		return float64(s.Reliability.DeadLetterCount)
	case MetricCacheHitRate:
		return s.Optimization.CacheHitRate
	default:
		return 0
	}
}

// Evaluate checks every matching rule against the sample. Breached rules
// outside their cooldown fire; recovered rules resolve. Newly fired
// instances are returned.
func (m *AlertManager) Evaluate(s PerformanceSample, score HealthScore, impact BusinessImpactSnapshot) []AlertInstance {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var fired []AlertInstance

	for _, rule := range m.rules {
		if !rule.matches(s.QueueType) {
			continue
		}
		key := ruleQueueKey{ruleID: rule.ID, queueType: s.QueueType}
		value := metricValue(rule.Metric, s, score)

		if !rule.breached(value) {
			if inst, ok := m.active[key]; ok {
				m.resolveLocked(key, inst)
			}
			continue
		}
		if _, firing := m.active[key]; firing {
			continue
		}
		if last, ok := m.lastFired[key]; ok && now.Sub(last) < rule.Cooldown {
			continue
		}

		inst := &AlertInstance{
			ID:                 uuid.New().String(),
			RuleID:             rule.ID,
			RuleName:           rule.Name,
			Description:        rule.describe(value),
			QueueType:          s.QueueType,
			Metric:             rule.Metric,
			Severity:           rule.Severity,
			Value:              value,
			Threshold:          rule.Threshold,
			FiredAt:            now,
			BusinessImpact:     impact.Describe(rule.Metric),
			RecommendedActions: actionsFor(rule.Metric),
		}
		m.active[key] = inst
		m.lastFired[key] = now
		fired = append(fired, *inst)
		telemetry.AlertsFiredTotal.WithLabelValues(rule.Name, string(rule.Severity)).Inc()
	}
	return fired
}

func (m *AlertManager) resolveLocked(key ruleQueueKey, inst *AlertInstance) {
	now := m.now()
	inst.Resolved = true
	inst.ResolvedAt = &now
	m.history = append(m.history, *inst)
	if len(m.history) > m.maxHist {
		m.history = m.history[len(m.history)-m.maxHist:]
	}
	delete(m.active, key)
}

// Active returns the currently firing alerts.
func (m *AlertManager) Active() []AlertInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AlertInstance, 0, len(m.active))
	for _, inst := range m.active {
		out = append(out, *inst)
	}
	return out
}

// History returns resolved alerts, most recent last.
func (m *AlertManager) History() []AlertInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AlertInstance, len(m.history))
	copy(out, m.history)
	return out
}

// actionsFor maps a breached metric to operator guidance.
func actionsFor(metric Metric) []string {
	switch metric {
	case MetricErrorRate:
		return []string{
			"inspect recent failed jobs for a common error",
			"check downstream dependencies the processors call",
		}
	case MetricQueueDepth:
		return []string{
			"raise worker concurrency for this queue",
			"verify consumers are connected and committing",
		}
	case MetricLatencyP95:
		return []string{
			"profile the processor hot path",
			"lower batch sizes to reduce per-flush work",
		}
	case MetricThroughput:
		return []string{
			"confirm producers are still enqueuing",
			"raise concurrency or enable batching",
		}
	case MetricMemoryMB:
		return []string{
			"lower the in-memory queue retention window",
			"enable payload compression for large jobs",
		}
	case MetricHealthScore:
		return []string{
			"review component scores to find the weak dimension",
		}
	case MetricDeadLetters:
		return []string{
			"inspect the dead-letter topic and replay fixable jobs",
		}
	case MetricCacheHitRate:
		return []string{
			"review cache TTLs and key coverage",
		}
	default:
		return nil
	}
}
