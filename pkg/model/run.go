package model

import "time"

// Run is one recorded simulation of a scenario.
type Run struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Scenario    string     `json:"scenario"`
	State       RunState   `json:"state"`
	Frames      int        `json:"frames"`
	Seed        uint64     `json:"seed"`
	Config      string     `json:"config,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// FrameSample holds the probes recorded for one scheduled interval.
type FrameSample struct {
	RunID           string  `json:"run_id"`
	Frame           int     `json:"frame"`
	Bursts          int     `json:"bursts"`
	Retransmitted   int     `json:"retransmitted"`
	BitsScheduled   int64   `json:"bits_scheduled"`
	BitsDelivered   int64   `json:"bits_delivered"`
	BitsQueued      int64   `json:"bits_queued"`
	Utilization     float64 `json:"utilization"`
	GroupingGain    float64 `json:"grouping_gain"`
	Groups          int     `json:"groups"`
	Drops           int     `json:"drops"`
	PowerOverflows  int     `json:"power_overflows"`
	MeanRetransmits float64 `json:"mean_retransmits"`
}

// RunSummary aggregates all frame samples of a run.
type RunSummary struct {
	RunID           string  `json:"run_id"`
	Frames          int     `json:"frames"`
	Bursts          int64   `json:"bursts"`
	Retransmitted   int64   `json:"retransmitted"`
	BitsScheduled   int64   `json:"bits_scheduled"`
	BitsDelivered   int64   `json:"bits_delivered"`
	MeanUtilization float64 `json:"mean_utilization"`
	MeanGain        float64 `json:"mean_grouping_gain"`
	Drops           int64   `json:"drops"`
}
