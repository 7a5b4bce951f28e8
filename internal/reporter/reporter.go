// Package reporter renders market status and cycle history as console tables
// and Excel workbooks.
package reporter

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/CasselKim/TTM-sub000/internal/bot"
	"github.com/CasselKim/TTM-sub000/internal/models"
)

const timeLayout = "2006-01-02 15:04:05"

// Metrics 是由周期历史计算出的绩效指标
type Metrics struct {
	TotalCycles   int
	WinningCycles int
	LosingCycles  int
	WinRate       decimal.Decimal // 百分比
	TotalProfit   decimal.Decimal // 所有周期的实现盈亏之和
	AvgProfitLoss decimal.Decimal // 平均盈利 / 平均亏损
	MaxDrawdown   decimal.Decimal // 累计盈亏曲线的最大回撤 (计价货币)
}

// CalculateMetrics 按时间顺序遍历历史, history 可以是最新在前
func CalculateMetrics(history []models.CycleHistoryItem) Metrics {
	items := append([]models.CycleHistoryItem(nil), history...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].EndTime.Before(items[j].EndTime) })

	var m Metrics
	var wins, losses decimal.Decimal
	equity := make([]decimal.Decimal, 0, len(items)+1)
	equity = append(equity, decimal.Zero)
	for _, h := range items {
		m.TotalCycles++
		m.TotalProfit = m.TotalProfit.Add(h.ProfitLoss)
		equity = append(equity, m.TotalProfit)
		if h.ProfitLoss.IsPositive() {
			m.WinningCycles++
			wins = wins.Add(h.ProfitLoss)
		} else {
			m.LosingCycles++
			losses = losses.Add(h.ProfitLoss)
		}
	}

	hundred := decimal.NewFromInt(100)
	if m.TotalCycles > 0 {
		m.WinRate = decimal.NewFromInt(int64(m.WinningCycles)).Div(decimal.NewFromInt(int64(m.TotalCycles))).Mul(hundred)
	}
	if m.WinningCycles > 0 && m.LosingCycles > 0 && !losses.IsZero() {
		avgWin := wins.Div(decimal.NewFromInt(int64(m.WinningCycles)))
		avgLoss := losses.Div(decimal.NewFromInt(int64(m.LosingCycles))).Abs()
		m.AvgProfitLoss = avgWin.Div(avgLoss)
	}
	m.MaxDrawdown = maxDrawdown(equity)
	return m
}

func maxDrawdown(curve []decimal.Decimal) decimal.Decimal {
	if len(curve) < 2 {
		return decimal.Zero
	}
	peak := curve[0]
	worst := decimal.Zero
	for _, v := range curve {
		if v.GreaterThan(peak) {
			peak = v
		}
		if dd := peak.Sub(v); dd.GreaterThan(worst) {
			worst = dd
		}
	}
	return worst
}

func pct(rate decimal.Decimal) string {
	return rate.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

// PrintStatus 输出一个市场的状态, 统计和最近的周期
func PrintStatus(w io.Writer, st *bot.MarketStatus) {
	quote, _, _ := models.ParseMarket(st.Market)

	t := newTable(w, fmt.Sprintf("%s %s", st.Family, st.Market))
	s := st.State
	t.AppendRows([]table.Row{
		{"阶段", string(s.Phase)},
		{"周期ID", s.CycleID},
		{"回合", s.CurrentRound},
		{"总投入", s.TotalInvestment.StringFixed(2) + " " + quote},
		{"持仓数量", s.TotalVolume.String()},
		{"平均成本", s.AveragePrice.StringFixed(2)},
		{"目标卖出价", s.TargetSellPrice.StringFixed(2)},
	})
	if s.IsActive() && st.CurrentPrice.IsPositive() {
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"当前价格", st.CurrentPrice.StringFixed(2)},
			{"当前市值", st.CurrentValue.StringFixed(2) + " " + quote},
			{"浮动盈亏", st.ProfitLoss.StringFixed(2) + " " + quote},
			{"收益率", pct(st.ProfitRate)},
		})
	}
	if st.Config != nil {
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"首次买入金额", st.Config.InitialBuyAmount.String()},
			{"目标收益率", pct(st.Config.TargetProfitRate)},
			{"追加跌幅", pct(st.Config.PriceDropThreshold)},
			{"止损率", pct(st.Config.ForceStopLossRate)},
			{"最大回合", st.Config.MaxBuyRounds},
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 14, Align: text.AlignLeft},
		{Number: 2, WidthMin: 24, Align: text.AlignRight},
	})
	t.Render()

	if st.Statistics != nil {
		PrintStatistics(w, *st.Statistics)
	}
	if len(st.RecentHistory) > 0 {
		PrintHistory(w, st.RecentHistory)
	}
}

// PrintStatistics 输出累计统计
func PrintStatistics(w io.Writer, stats models.TradeStatistics) {
	t := newTable(w, "统计")
	t.AppendRows([]table.Row{
		{"总周期", stats.TotalCycles},
		{"盈利周期", stats.SuccessCycles},
		{"成功率", pct(stats.SuccessRate())},
		{"累计盈利", stats.TotalProfit.StringFixed(2)},
		{"平均收益率", pct(stats.AverageProfitRate)},
		{"最佳收益率", pct(stats.BestProfitRate)},
		{"最差收益率", pct(stats.WorstProfitRate)},
	})
	t.Render()
}

// PrintHistory 输出周期历史以及由其计算的绩效
func PrintHistory(w io.Writer, history []models.CycleHistoryItem) {
	t := newTable(w, "周期历史")
	t.AppendHeader(table.Row{"周期ID", "状态", "开始", "结束", "回合", "投入", "卖出价", "盈亏", "收益率"})
	for _, h := range history {
		t.AppendRow(table.Row{
			h.CycleID, string(h.Status),
			h.StartTime.Format(timeLayout), h.EndTime.Format(timeLayout),
			h.RoundsExecuted, h.TotalInvestment.StringFixed(2), h.SellPrice.StringFixed(2),
			h.ProfitLoss.StringFixed(2), pct(h.ProfitRate),
		})
	}
	m := CalculateMetrics(history)
	t.AppendFooter(table.Row{"", "", "", "", m.TotalCycles, "", "", m.TotalProfit.StringFixed(2),
		fmt.Sprintf("胜率 %s%%", m.WinRate.StringFixed(2))})
	t.Render()
}

// ExportXLSX 把状态和历史写入 Excel, 每个市场的周期在 Cycles 表
func ExportXLSX(path string, statuses []*bot.MarketStatus) error {
	fx := excelize.NewFile()
	defer fx.Close()

	const summarySheet = "Summary"
	const cyclesSheet = "Cycles"
	const roundsSheet = "Rounds"
	fx.SetSheetName(fx.GetSheetName(0), summarySheet)
	if _, err := fx.NewSheet(cyclesSheet); err != nil {
		return err
	}
	if _, err := fx.NewSheet(roundsSheet); err != nil {
		return err
	}
	headStyle, _ := fx.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})

	writeRow := func(sheet string, row int, values []interface{}) error {
		for i, v := range values {
			cell, err := excelize.CoordinatesToCellName(i+1, row)
			if err != nil {
				return err
			}
			if err := fx.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
		return nil
	}
	writeHeader := func(sheet string, headers []interface{}) error {
		if err := writeRow(sheet, 1, headers); err != nil {
			return err
		}
		last, _ := excelize.CoordinatesToCellName(len(headers), 1)
		return fx.SetCellStyle(sheet, "A1", last, headStyle)
	}

	if err := writeHeader(summarySheet, []interface{}{
		"Family", "Market", "Phase", "Round", "Investment", "Volume", "Average price", "Current price",
		"Profit rate", "Total cycles", "Success cycles", "Total profit", "Max drawdown",
	}); err != nil {
		return err
	}
	if err := writeHeader(cyclesSheet, []interface{}{
		"Family", "Market", "Cycle", "Status", "Start time", "End time", "Rounds", "Investment",
		"Volume", "Average price", "Sell price", "PnL", "Profit rate",
	}); err != nil {
		return err
	}
	if err := writeHeader(roundsSheet, []interface{}{
		"Family", "Market", "Cycle", "Round", "Type", "Time", "Price", "Amount", "Volume", "Reason",
	}); err != nil {
		return err
	}

	summaryRow, cycleRow, roundRow := 2, 2, 2
	for _, st := range statuses {
		s := st.State
		var total, success int
		totalProfit := decimal.Zero
		if st.Statistics != nil {
			total, success, totalProfit = st.Statistics.TotalCycles, st.Statistics.SuccessCycles, st.Statistics.TotalProfit
		}
		m := CalculateMetrics(st.RecentHistory)
		if err := writeRow(summarySheet, summaryRow, []interface{}{
			string(st.Family), st.Market, string(s.Phase), s.CurrentRound,
			s.TotalInvestment.InexactFloat64(), s.TotalVolume.InexactFloat64(), s.AveragePrice.InexactFloat64(),
			st.CurrentPrice.InexactFloat64(), st.ProfitRate.InexactFloat64(),
			total, success, totalProfit.InexactFloat64(), m.MaxDrawdown.InexactFloat64(),
		}); err != nil {
			return err
		}
		summaryRow++

		for _, h := range st.RecentHistory {
			if err := writeRow(cyclesSheet, cycleRow, []interface{}{
				string(st.Family), h.Market, h.CycleID, string(h.Status),
				h.StartTime.Format(timeLayout), h.EndTime.Format(timeLayout), h.RoundsExecuted,
				h.TotalInvestment.InexactFloat64(), h.TotalVolume.InexactFloat64(), h.AveragePrice.InexactFloat64(),
				h.SellPrice.InexactFloat64(), h.ProfitLoss.InexactFloat64(), h.ProfitRate.InexactFloat64(),
			}); err != nil {
				return err
			}
			cycleRow++
		}

		for _, r := range s.Rounds {
			if err := writeRow(roundsSheet, roundRow, []interface{}{
				string(st.Family), st.Market, s.CycleID, r.RoundNumber, string(r.Type),
				r.Timestamp.Format(timeLayout), r.BuyPrice.InexactFloat64(), r.BuyAmount.InexactFloat64(),
				r.BuyVolume.InexactFloat64(), r.Reason,
			}); err != nil {
				return err
			}
			roundRow++
		}
	}

	return fx.SaveAs(path)
}
