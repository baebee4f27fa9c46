package drawcalc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PerformanceMetrics 性能指标收集器
type PerformanceMetrics struct {
	// 计算统计
	TotalCalculations      int64 `json:"total_calculations"`      // 总计算次数
	SuccessfulCalculations int64 `json:"successful_calculations"` // 成功计算次数
	FailedCalculations     int64 `json:"failed_calculations"`     // 失败计算次数
	TotalDraws             int64 `json:"total_draws"`             // 处理的开奖数
	TotalPicks             int64 `json:"total_picks"`             // 匹配的pick数
	WinningPicks           int64 `json:"winning_picks"`           // 中奖的pick数

	// 耗时统计
	AverageCalculationTime int64 `json:"average_calculation_time"` // 平均计算时间(纳秒)
	TotalCalculationTime   int64 `json:"total_calculation_time"`   // 总计算时间(纳秒)

	// 余额查询统计
	BalanceLookups    int64 `json:"balance_lookups"`     // 余额查询次数
	BalanceLookupTime int64 `json:"balance_lookup_time"` // 余额查询总时间(纳秒)
	BalanceErrors     int64 `json:"balance_errors"`      // 余额查询失败次数

	// 设置统计
	SettingsUpdates int64 `json:"settings_updates"` // 设置替换次数

	// 锁操作统计
	LockAcquisitions    int64 `json:"lock_acquisitions"`     // 锁获取次数
	LockAcquisitionTime int64 `json:"lock_acquisition_time"` // 锁获取总时间(纳秒)
	LockReleases        int64 `json:"lock_releases"`         // 锁释放次数
	LockFailures        int64 `json:"lock_failures"`         // 锁获取失败次数

	// Redis统计
	RedisErrors int64 `json:"redis_errors"` // Redis错误数

	// 时间戳
	StartTime      int64 `json:"start_time"`       // 开始时间
	LastUpdateTime int64 `json:"last_update_time"` // 最后更新时间
}

// GetSuccessRate 获取成功率
func (pm *PerformanceMetrics) GetSuccessRate() float64 {
	total := atomic.LoadInt64(&pm.TotalCalculations)
	if total == 0 {
		return 0.0
	}
	successful := atomic.LoadInt64(&pm.SuccessfulCalculations)
	return float64(successful) / float64(total) * 100.0
}

// GetAverageLockTime 获取平均锁获取时间
func (pm *PerformanceMetrics) GetAverageLockTime() time.Duration {
	acquisitions := atomic.LoadInt64(&pm.LockAcquisitions)
	if acquisitions == 0 {
		return 0
	}
	return time.Duration(atomic.LoadInt64(&pm.LockAcquisitionTime) / acquisitions)
}

// GetAverageBalanceLookupTime 获取平均余额查询时间
func (pm *PerformanceMetrics) GetAverageBalanceLookupTime() time.Duration {
	lookups := atomic.LoadInt64(&pm.BalanceLookups)
	if lookups == 0 {
		return 0
	}
	return time.Duration(atomic.LoadInt64(&pm.BalanceLookupTime) / lookups)
}

// GetThroughput 获取吞吐量(每秒计算次数)
func (pm *PerformanceMetrics) GetThroughput() float64 {
	startTime := atomic.LoadInt64(&pm.StartTime)
	lastUpdate := atomic.LoadInt64(&pm.LastUpdateTime)
	if startTime == 0 || lastUpdate <= startTime {
		return 0.0
	}

	duration := time.Duration(lastUpdate - startTime)
	return float64(atomic.LoadInt64(&pm.TotalCalculations)) / duration.Seconds()
}

// Reset 重置性能指标
func (pm *PerformanceMetrics) Reset() {
	for _, counter := range []*int64{
		&pm.TotalCalculations, &pm.SuccessfulCalculations, &pm.FailedCalculations,
		&pm.TotalDraws, &pm.TotalPicks, &pm.WinningPicks,
		&pm.AverageCalculationTime, &pm.TotalCalculationTime,
		&pm.BalanceLookups, &pm.BalanceLookupTime, &pm.BalanceErrors,
		&pm.SettingsUpdates,
		&pm.LockAcquisitions, &pm.LockAcquisitionTime, &pm.LockReleases, &pm.LockFailures,
		&pm.RedisErrors,
	} {
		atomic.StoreInt64(counter, 0)
	}

	now := time.Now().UnixNano()
	atomic.StoreInt64(&pm.StartTime, now)
	atomic.StoreInt64(&pm.LastUpdateTime, now)
}

// ================================================================================

// PerformanceMonitor 性能监控器
type PerformanceMonitor struct {
	metrics *PerformanceMetrics
	mu      sync.RWMutex
	enabled bool
}

// NewPerformanceMonitor 创建新的性能监控器
func NewPerformanceMonitor() *PerformanceMonitor {
	pm := &PerformanceMonitor{
		metrics: &PerformanceMetrics{},
		enabled: true,
	}
	pm.metrics.Reset()
	return pm
}

// Enable 启用性能监控
func (pm *PerformanceMonitor) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.enabled = true
}

// Disable 禁用性能监控
func (pm *PerformanceMonitor) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.enabled = false
}

// IsEnabled 检查是否启用了性能监控
func (pm *PerformanceMonitor) IsEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	return pm.enabled
}

func (pm *PerformanceMonitor) touch() {
	atomic.StoreInt64(&pm.metrics.LastUpdateTime, time.Now().UnixNano())
}

// RecordCalculation 记录一次批量计算
func (pm *PerformanceMonitor) RecordCalculation(success bool, draws int, duration time.Duration) {
	if !pm.IsEnabled() {
		return
	}

	total := atomic.AddInt64(&pm.metrics.TotalCalculations, 1)
	totalTime := atomic.AddInt64(&pm.metrics.TotalCalculationTime, int64(duration))
	atomic.StoreInt64(&pm.metrics.AverageCalculationTime, totalTime/total)

	if success {
		atomic.AddInt64(&pm.metrics.SuccessfulCalculations, 1)
		atomic.AddInt64(&pm.metrics.TotalDraws, int64(draws))
	} else {
		atomic.AddInt64(&pm.metrics.FailedCalculations, 1)
	}

	pm.touch()
}

// RecordPicks 记录匹配的pick数与中奖数
func (pm *PerformanceMonitor) RecordPicks(total, winning int) {
	if !pm.IsEnabled() {
		return
	}

	atomic.AddInt64(&pm.metrics.TotalPicks, int64(total))
	atomic.AddInt64(&pm.metrics.WinningPicks, int64(winning))
	pm.touch()
}

// RecordBalanceLookup 记录余额查询
func (pm *PerformanceMonitor) RecordBalanceLookup(success bool, duration time.Duration) {
	if !pm.IsEnabled() {
		return
	}

	atomic.AddInt64(&pm.metrics.BalanceLookups, 1)
	atomic.AddInt64(&pm.metrics.BalanceLookupTime, int64(duration))
	if !success {
		atomic.AddInt64(&pm.metrics.BalanceErrors, 1)
	}
	pm.touch()
}

// RecordSettingsUpdate 记录设置替换
func (pm *PerformanceMonitor) RecordSettingsUpdate() {
	if !pm.IsEnabled() {
		return
	}

	atomic.AddInt64(&pm.metrics.SettingsUpdates, 1)
	pm.touch()
}

// RecordLockAcquisition 记录锁获取操作
func (pm *PerformanceMonitor) RecordLockAcquisition(success bool, duration time.Duration) {
	if !pm.IsEnabled() {
		return
	}

	if success {
		atomic.AddInt64(&pm.metrics.LockAcquisitions, 1)
		atomic.AddInt64(&pm.metrics.LockAcquisitionTime, int64(duration))
	} else {
		atomic.AddInt64(&pm.metrics.LockFailures, 1)
	}
	pm.touch()
}

// RecordLockRelease 记录锁释放操作
func (pm *PerformanceMonitor) RecordLockRelease() {
	if !pm.IsEnabled() {
		return
	}

	atomic.AddInt64(&pm.metrics.LockReleases, 1)
	pm.touch()
}

// RecordRedisError 记录Redis错误
func (pm *PerformanceMonitor) RecordRedisError() {
	if !pm.IsEnabled() {
		return
	}

	atomic.AddInt64(&pm.metrics.RedisErrors, 1)
	pm.touch()
}

// GetMetrics 获取性能指标的副本
func (pm *PerformanceMonitor) GetMetrics() PerformanceMetrics {
	m := pm.metrics
	return PerformanceMetrics{
		TotalCalculations:      atomic.LoadInt64(&m.TotalCalculations),
		SuccessfulCalculations: atomic.LoadInt64(&m.SuccessfulCalculations),
		FailedCalculations:     atomic.LoadInt64(&m.FailedCalculations),
		TotalDraws:             atomic.LoadInt64(&m.TotalDraws),
		TotalPicks:             atomic.LoadInt64(&m.TotalPicks),
		WinningPicks:           atomic.LoadInt64(&m.WinningPicks),
		AverageCalculationTime: atomic.LoadInt64(&m.AverageCalculationTime),
		TotalCalculationTime:   atomic.LoadInt64(&m.TotalCalculationTime),
		BalanceLookups:         atomic.LoadInt64(&m.BalanceLookups),
		BalanceLookupTime:      atomic.LoadInt64(&m.BalanceLookupTime),
		BalanceErrors:          atomic.LoadInt64(&m.BalanceErrors),
		SettingsUpdates:        atomic.LoadInt64(&m.SettingsUpdates),
		LockAcquisitions:       atomic.LoadInt64(&m.LockAcquisitions),
		LockAcquisitionTime:    atomic.LoadInt64(&m.LockAcquisitionTime),
		LockReleases:           atomic.LoadInt64(&m.LockReleases),
		LockFailures:           atomic.LoadInt64(&m.LockFailures),
		RedisErrors:            atomic.LoadInt64(&m.RedisErrors),
		StartTime:              atomic.LoadInt64(&m.StartTime),
		LastUpdateTime:         atomic.LoadInt64(&m.LastUpdateTime),
	}
}

// ResetMetrics 重置性能指标
func (pm *PerformanceMonitor) ResetMetrics() { pm.metrics.Reset() }

// ================================================================================
// Prometheus 导出

const metricsNamespace = "drawcalc"

var (
	calculationsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "calculations", "total"),
		"Total number of prize calculations.",
		[]string{"result"}, nil,
	)
	calculationSecondsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "calculations", "seconds_total"),
		"Total time spent in prize calculations.",
		nil, nil,
	)
	drawsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "draws", "total"),
		"Total number of draws evaluated by successful calculations.",
		nil, nil,
	)
	picksDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "picks", "total"),
		"Total number of picks matched.",
		[]string{"outcome"}, nil,
	)
	balanceLookupsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "balance_lookups", "total"),
		"Total number of balance source lookups.",
		[]string{"result"}, nil,
	)
	settingsUpdatesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "settings", "updates_total"),
		"Total number of installed settings snapshots.",
		nil, nil,
	)
	lockOperationsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "lock", "operations_total"),
		"Total number of distributed lock operations.",
		[]string{"operation"}, nil,
	)
	redisErrorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "redis", "errors_total"),
		"Total number of Redis errors.",
		nil, nil,
	)
)

// Describe implements prometheus.Collector
func (pm *PerformanceMonitor) Describe(ch chan<- *prometheus.Desc) {
	ch <- calculationsDesc
	ch <- calculationSecondsDesc
	ch <- drawsDesc
	ch <- picksDesc
	ch <- balanceLookupsDesc
	ch <- settingsUpdatesDesc
	ch <- lockOperationsDesc
	ch <- redisErrorsDesc
}

// Collect implements prometheus.Collector
func (pm *PerformanceMonitor) Collect(ch chan<- prometheus.Metric) {
	m := pm.GetMetrics()
	counter := func(desc *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}

	counter(calculationsDesc, m.SuccessfulCalculations, "success")
	counter(calculationsDesc, m.FailedCalculations, "failure")
	ch <- prometheus.MustNewConstMetric(calculationSecondsDesc, prometheus.CounterValue,
		time.Duration(m.TotalCalculationTime).Seconds())
	counter(drawsDesc, m.TotalDraws)
	counter(picksDesc, m.WinningPicks, "winning")
	counter(picksDesc, m.TotalPicks-m.WinningPicks, "losing")
	counter(balanceLookupsDesc, m.BalanceLookups-m.BalanceErrors, "success")
	counter(balanceLookupsDesc, m.BalanceErrors, "failure")
	counter(settingsUpdatesDesc, m.SettingsUpdates)
	counter(lockOperationsDesc, m.LockAcquisitions, "acquire")
	counter(lockOperationsDesc, m.LockFailures, "acquire_failed")
	counter(lockOperationsDesc, m.LockReleases, "release")
	counter(redisErrorsDesc, m.RedisErrors)
}
