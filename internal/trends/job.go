// Package trends runs background research trend jobs and streams their
// progress to subscribers.
package trends

import (
	"errors"
	"slices"
	"time"
)

// Job statuses.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Stages and the progress reached when each one starts.
const (
	StageInit       = "init"
	StageDiscovery  = "discovery"
	StageMetrics    = "metrics"
	StageClustering = "clustering"
	StageTimeline   = "timeline"
	StageSynthesis  = "synthesis"
	StageRender     = "render"
	StageDone       = "done"
)

var stageProgress = map[string]int{
	StageInit:       1,
	StageDiscovery:  5,
	StageMetrics:    25,
	StageClustering: 40,
	StageTimeline:   55,
	StageSynthesis:  65,
	StageRender:     90,
	StageDone:       100,
}

// StageProgress returns the progress value of a stage.
func StageProgress(stage string) int {
	return stageProgress[stage]
}

// QualityEnhanced selects larger discovery and longer reports.
const QualityEnhanced = "Enhanced"

// DefaultTimeframeMonths is used when a request omits the timeframe.
const DefaultTimeframeMonths = 12

var (
	ErrJobNotFound   = errors.New("trends job not found")
	ErrQueryTooShort = errors.New("query must be at least 3 characters")
)

// Item is one source collected during discovery.
type Item struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Source   string `json:"source"`
	Abstract string `json:"abstract,omitempty"`
	Year     string `json:"year,omitempty"`
}

// Metrics score the collected sources.
type Metrics struct {
	Relevance float64 `json:"relevance"`
	Diversity float64 `json:"diversity"`
	Coverage  float64 `json:"coverage"`
	Sources   int     `json:"sources"`
}

// Cluster is a topical group of items.
type Cluster struct {
	ID      string  `json:"id"`
	Label   string  `json:"label"`
	Size    int     `json:"size"`
	Indices []int   `json:"indices"`
	Score   float64 `json:"score"`
}

// TimelinePoint counts items per year.
type TimelinePoint struct {
	Period string `json:"period"`
	Count  int    `json:"count"`
}

// Report is the rendered output of a job.
type Report struct {
	Markdown  string `json:"markdown"`
	HTML      string `json:"html"`
	WordCount int    `json:"wordCount"`
}

// Job is the full state of one trends run.
type Job struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	Query           string          `json:"query"`
	TimeframeMonths int             `json:"timeframeMonths"`
	Quality         string          `json:"quality"`
	Status          Status          `json:"status"`
	Progress        int             `json:"progress"`
	Stage           string          `json:"stage"`
	Items           []Item          `json:"items"`
	Metrics         *Metrics        `json:"metrics,omitempty"`
	Clusters        []Cluster       `json:"clusters"`
	Timeline        []TimelinePoint `json:"timeline"`
	Report          *Report         `json:"report,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	FinishedAt      *time.Time      `json:"finishedAt,omitempty"`
}

// Terminal reports whether the job has finished.
func (j *Job) Terminal() bool {
	return j.Status == StatusDone || j.Status == StatusFailed
}

func (j *Job) clone() *Job {
	c := *j
	c.Items = slices.Clone(j.Items)
	c.Timeline = slices.Clone(j.Timeline)
	c.Clusters = make([]Cluster, len(j.Clusters))
	for i, cl := range j.Clusters {
		cl.Indices = slices.Clone(cl.Indices)
		c.Clusters[i] = cl
	}
	if j.Metrics != nil {
		m := *j.Metrics
		c.Metrics = &m
	}
	if j.Report != nil {
		r := *j.Report
		c.Report = &r
	}
	return &c
}
