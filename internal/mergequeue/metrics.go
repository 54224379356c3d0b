package mergequeue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/simplesurance/gobors/internal/event"
	"github.com/simplesurance/gobors/internal/logfields"
	"github.com/simplesurance/gobors/internal/model"
)

const metricNamespace = "gobors_mergequeue"

const (
	providerEventsMetricName  = "received_provider_events_total"
	malformedEventsMetricName = "malformed_events_total"
	appliedEventsMetricName   = "applied_events_total"
	buildsStartedMetricName   = "builds_started_total"
	buildsFinishedMetricName  = "builds_finished_total"
	pullRequestsMetricName    = "pull_requests_count"
)

const (
	repositoryLabel = "repository"
	eventTypeLabel  = "event_type"
	resultLabel     = "result"
	kindLabel       = "kind"
	statusLabel     = "status"
)

type resultLabelVal string

const (
	resultApplied  resultLabelVal = "applied"
	resultRejected resultLabelVal = "rejected"
	resultIgnored  resultLabelVal = "ignored"
	resultFailed   resultLabelVal = "failed"
)

type metricCollector struct {
	logger          *zap.Logger
	providerEvents  prometheus.Counter
	malformedEvents prometheus.Counter
	appliedEvents   *prometheus.CounterVec
	buildsStarted   *prometheus.CounterVec
	buildsFinished  *prometheus.CounterVec
	pullRequests    *prometheus.GaugeVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		logger: zap.L().Named(loggerName).Named("metrics"),
		providerEvents: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      providerEventsMetricName,
				Help:      "count of received webhook and ci events",
			},
		),
		malformedEvents: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      malformedEventsMetricName,
				Help:      "count of received events that could not be converted",
			},
		),
		appliedEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      appliedEventsMetricName,
				Help:      "count of normalized events processed by the merge queue",
			},
			[]string{repositoryLabel, eventTypeLabel, resultLabel},
		),
		buildsStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      buildsStartedMetricName,
				Help:      "count of builds that were recorded and started",
			},
			[]string{repositoryLabel, kindLabel},
		),
		buildsFinished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      buildsFinishedMetricName,
				Help:      "count of builds that reached a final state",
			},
			[]string{repositoryLabel, kindLabel, statusLabel},
		),
		pullRequests: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      pullRequestsMetricName,
				Help:      "count of open pull requests per merge queue status",
			},
			[]string{repositoryLabel, statusLabel},
		),
	}
}

func (m *metricCollector) logGetMetricFailed(metricName string, err error) {
	m.logger.Warn(
		"could not record metric",
		zap.String("metric", metricName),
		logfields.Event("recording_metric_failed"),
		zap.Error(err),
	)
}

func (m *metricCollector) ProviderEventsInc() {
	m.providerEvents.Inc()
}

func (m *metricCollector) MalformedEventsInc() {
	m.malformedEvents.Inc()
}

func (m *metricCollector) EventApplied(repo model.RepoID, evType event.Type, result resultLabelVal) {
	cnt, err := m.appliedEvents.GetMetricWith(prometheus.Labels{
		repositoryLabel: repo.String(),
		eventTypeLabel:  string(evType),
		resultLabel:     string(result),
	})
	if err != nil {
		m.logGetMetricFailed(appliedEventsMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) BuildStarted(repo model.RepoID, kind model.BuildKind) {
	cnt, err := m.buildsStarted.GetMetricWith(prometheus.Labels{
		repositoryLabel: repo.String(),
		kindLabel:       string(kind),
	})
	if err != nil {
		m.logGetMetricFailed(buildsStartedMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) BuildFinished(repo model.RepoID, kind model.BuildKind, status model.BuildStatus) {
	cnt, err := m.buildsFinished.GetMetricWith(prometheus.Labels{
		repositoryLabel: repo.String(),
		kindLabel:       string(kind),
		statusLabel:     string(status),
	})
	if err != nil {
		m.logGetMetricFailed(buildsFinishedMetricName, err)
		return
	}

	cnt.Inc()
}

// SetPullRequestCounts sets the gauges of the non-terminal statuses to the
// number of pull requests in prs with the status.
func (m *metricCollector) SetPullRequestCounts(repo model.RepoID, prs map[int]*model.PullRequest) {
	counts := make(map[model.Status]int, len(nonTerminalStatuses))
	for _, status := range nonTerminalStatuses {
		counts[status] = 0
	}

	for _, pr := range prs {
		if _, exists := counts[pr.Status]; exists {
			counts[pr.Status]++
		}
	}

	for status, cnt := range counts {
		gauge, err := m.pullRequests.GetMetricWith(prometheus.Labels{
			repositoryLabel: repo.String(),
			statusLabel:     string(status),
		})
		if err != nil {
			m.logGetMetricFailed(pullRequestsMetricName, err)
			return
		}

		gauge.Set(float64(cnt))
	}
}
