package report

import (
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// Chart is a stacked bar chart of outcomes per group.
func (rep *Report) Chart() *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "EVM test results",
			Subtitle: "commit " + rep.Commit,
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	names := make([]string, len(rep.Groups))
	for i, g := range rep.Groups {
		names[i] = g.Name
	}
	bar.SetXAxis(names)

	series := []struct {
		name  string
		value func(Row) int
	}{
		{"proof", func(r Row) int { return r.PassedProof }},
		{"witness", func(r Row) int { return r.PassedWitness }},
		{"ignored", func(r Row) int { return r.Ignored }},
		{"failed", func(r Row) int { return r.Failed() }},
	}
	for _, s := range series {
		data := make([]opts.BarData, len(rep.Groups))
		for i, g := range rep.Groups {
			data[i] = opts.BarData{Value: s.value(g)}
		}
		bar.AddSeries(s.name, data).SetSeriesOptions(
			charts.WithBarChartOpts(opts.BarChart{Stack: "outcome"}),
		)
	}
	return bar
}

// WriteChart renders the chart as a standalone HTML page.
func (rep *Report) WriteChart(w io.Writer) error {
	page := components.NewPage()
	page.AddCharts(rep.Chart())
	return page.Render(w)
}

func (rep *Report) WriteChartFile(path string) error {
	return writeFile(path, rep.WriteChart)
}
