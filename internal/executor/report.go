package executor

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// PerformanceReport 汇总一个控制器名下所有执行器的盈亏表现，
// 已归档的执行器计入已实现部分，仍在运行的计入未实现部分。
type PerformanceReport struct {
	ControllerID       string            `json:"controller_id"`
	RealizedPnlQuote   decimal.Decimal   `json:"realized_pnl_quote"`
	UnrealizedPnlQuote decimal.Decimal   `json:"unrealized_pnl_quote"`
	GlobalPnlQuote     decimal.Decimal   `json:"global_pnl_quote"`
	GlobalPnlPct       decimal.Decimal   `json:"global_pnl_pct"`
	VolumeTraded       decimal.Decimal   `json:"volume_traded"`
	CumFeesQuote       decimal.Decimal   `json:"cum_fees_quote"`
	ActiveExecutors    int               `json:"active_executors"`
	CloseTypeCounts    map[CloseType]int `json:"close_type_counts"`
}

// GeneratePerformanceReport 聚合指定控制器的盈亏报表：
// 注册表内的执行器取实时快照，已归档的从持久化层读回。
func (o *Orchestrator) GeneratePerformanceReport(ctx context.Context, controllerID string) (PerformanceReport, error) {
	report := PerformanceReport{
		ControllerID:    controllerID,
		CloseTypeCounts: make(map[CloseType]int),
	}

	o.mu.RLock()
	live := make([]ExecutorInfo, 0, len(o.registry[controllerID]))
	for _, ex := range o.registry[controllerID] {
		live = append(live, ex.Info())
	}
	o.mu.RUnlock()

	seen := make(map[string]struct{}, len(live))
	for _, info := range live {
		seen[info.ID] = struct{}{}
		report.accumulate(info)
	}

	if o.persistence != nil {
		stored, err := o.persistence.ExecutorsByController(ctx, controllerID)
		if err != nil {
			return report, fmt.Errorf("读取归档执行器失败: %w", err)
		}
		for _, info := range stored {
			if _, ok := seen[info.ID]; ok {
				continue
			}
			report.accumulate(info)
		}
	}

	if report.VolumeTraded.IsPositive() {
		report.GlobalPnlPct = report.GlobalPnlQuote.Div(report.VolumeTraded)
	}
	return report, nil
}

// ControllerLister 是归档服务的可选扩展，支持枚举出现过的控制器。
type ControllerLister interface {
	ControllerIDs(ctx context.Context) ([]string, error)
}

// GlobalPerformanceReport 聚合全部控制器的总报表。
// 控制器集合取注册表与归档服务（若支持枚举）的并集。
func (o *Orchestrator) GlobalPerformanceReport(ctx context.Context) (PerformanceReport, error) {
	ids := make(map[string]struct{})
	o.mu.RLock()
	for controllerID := range o.registry {
		ids[controllerID] = struct{}{}
	}
	o.mu.RUnlock()

	if lister, ok := o.persistence.(ControllerLister); ok {
		stored, err := lister.ControllerIDs(ctx)
		if err != nil {
			return PerformanceReport{}, fmt.Errorf("枚举控制器失败: %w", err)
		}
		for _, id := range stored {
			ids[id] = struct{}{}
		}
	}

	global := PerformanceReport{
		ControllerID:    "global",
		CloseTypeCounts: make(map[CloseType]int),
	}
	for id := range ids {
		report, err := o.GeneratePerformanceReport(ctx, id)
		if err != nil {
			return PerformanceReport{}, err
		}
		global.merge(report)
	}
	if global.VolumeTraded.IsPositive() {
		global.GlobalPnlPct = global.GlobalPnlQuote.Div(global.VolumeTraded)
	}
	return global, nil
}

func (r *PerformanceReport) merge(other PerformanceReport) {
	r.RealizedPnlQuote = r.RealizedPnlQuote.Add(other.RealizedPnlQuote)
	r.UnrealizedPnlQuote = r.UnrealizedPnlQuote.Add(other.UnrealizedPnlQuote)
	r.GlobalPnlQuote = r.GlobalPnlQuote.Add(other.GlobalPnlQuote)
	r.VolumeTraded = r.VolumeTraded.Add(other.VolumeTraded)
	r.CumFeesQuote = r.CumFeesQuote.Add(other.CumFeesQuote)
	r.ActiveExecutors += other.ActiveExecutors
	for closeType, count := range other.CloseTypeCounts {
		r.CloseTypeCounts[closeType] += count
	}
}

func (r *PerformanceReport) accumulate(info ExecutorInfo) {
	if info.Status == StatusTerminated {
		r.RealizedPnlQuote = r.RealizedPnlQuote.Add(info.NetPnlQuote)
		if info.CloseType != "" {
			r.CloseTypeCounts[info.CloseType]++
		}
	} else {
		r.UnrealizedPnlQuote = r.UnrealizedPnlQuote.Add(info.NetPnlQuote)
		r.ActiveExecutors++
	}
	r.GlobalPnlQuote = r.GlobalPnlQuote.Add(info.NetPnlQuote)
	r.VolumeTraded = r.VolumeTraded.Add(info.FilledAmountQuote)
	r.CumFeesQuote = r.CumFeesQuote.Add(info.CumFeesQuote)
}
