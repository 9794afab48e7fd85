package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// WritebackSnapshot summarizes writeback outcomes for the admin stats endpoint.
type WritebackSnapshot struct {
	Total      int64            `json:"total"`
	ByOutcome  map[string]int64 `json:"byOutcome"`
	Operations []OperationStats `json:"operations"`
}

// OperationStats holds per-operation counters.
type OperationStats struct {
	Operation string  `json:"operation"`
	Completed int64   `json:"completed"`
	Failed    int64   `json:"failed"`
	Timeout   int64   `json:"timeout"`
	AvgPolls  float64 `json:"avgPolls"`
}

// SnapshotWritebacks reads writeback counters back out of gatherer.
func SnapshotWritebacks(gatherer prometheus.Gatherer) WritebackSnapshot {
	snap := WritebackSnapshot{ByOutcome: map[string]int64{}}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mfs, err := gatherer.Gather()
	if err != nil {
		return snap
	}

	byOp := map[string]*OperationStats{}
	opStats := func(name string) *OperationStats {
		if s, ok := byOp[name]; ok {
			return s
		}
		s := &OperationStats{Operation: name}
		byOp[name] = s
		return s
	}

	for _, mf := range mfs {
		if mf == nil {
			continue
		}
		switch mf.GetName() {
		case namespace + "_" + subsystem + "_writeback_total":
			for _, metric := range mf.Metric {
				if metric == nil || metric.GetCounter() == nil {
					continue
				}
				count := int64(metric.GetCounter().GetValue())
				outcome := labelValue(metric, "outcome")
				snap.Total += count
				snap.ByOutcome[outcome] += count
				s := opStats(labelValue(metric, "operation"))
				switch outcome {
				case "completed":
					s.Completed += count
				case "failed":
					s.Failed += count
				case "timeout":
					s.Timeout += count
				}
			}
		case namespace + "_" + subsystem + "_writeback_polls":
			for _, metric := range mf.Metric {
				h := metric.GetHistogram()
				if h == nil || h.GetSampleCount() == 0 {
					continue
				}
				s := opStats(labelValue(metric, "operation"))
				s.AvgPolls = h.GetSampleSum() / float64(h.GetSampleCount())
			}
		}
	}

	for _, s := range byOp {
		snap.Operations = append(snap.Operations, *s)
	}
	sort.Slice(snap.Operations, func(i, j int) bool {
		return snap.Operations[i].Operation < snap.Operations[j].Operation
	})
	return snap
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.Label {
		if lp != nil && lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
