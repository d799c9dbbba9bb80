package metrics

import (
	"errors"

	"github.com/jmsadair/roster/consensus"
	"github.com/jmsadair/roster/node"
	"github.com/jmsadair/roster/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "roster"

// Collector holds the Prometheus metrics for a registry. It is also a registry.EventSink
// so that it observes exactly the mutations that succeeded.
type Collector struct {
	MembersAdded   prometheus.Counter
	MembersRemoved prometheus.Counter
	Rejections     *prometheus.CounterVec
	Leader         prometheus.Gauge
}

// NewCollector creates and registers the metrics with reg.
// The size function reports the current number of members whenever the metrics are scraped.
func NewCollector(reg prometheus.Registerer, size func() int) *Collector {
	factory := promauto.With(reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "members",
		Help:      "Current number of entries in the member list",
	}, func() float64 {
		return float64(size())
	})
	return &Collector{
		MembersAdded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "members_added_total",
			Help:      "Total number of members added",
		}),
		MembersRemoved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "members_removed_total",
			Help:      "Total number of members removed",
		}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Total number of rejected membership operations by reason",
		}, []string{"operation", "reason"}),
		Leader: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leader",
			Help:      "Whether this node is the raft leader (1) or not (0)",
		}),
	}
}

// Record counts a successful mutation.
func (c *Collector) Record(event registry.Event) {
	switch event.Kind {
	case registry.MemberAdded:
		c.MembersAdded.Inc()
	case registry.MemberRemoved:
		c.MembersRemoved.Inc()
	}
}

// ObserveRejection counts a failed operation under a reason derived from err.
func (c *Collector) ObserveRejection(operation string, err error) {
	c.Rejections.WithLabelValues(operation, Reason(err)).Inc()
}

// SetLeader records whether this node currently leads the cluster.
func (c *Collector) SetLeader(isLeader bool) {
	if isLeader {
		c.Leader.Set(1)
		return
	}
	c.Leader.Set(0)
}

// Reason maps an operation error to a short, bounded label value.
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, registry.ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, registry.ErrMembersLimitExceeded):
		return "members_limit_exceeded"
	case errors.Is(err, registry.ErrMemberNotFound):
		return "member_not_found"
	case errors.Is(err, registry.ErrRootCannotBeMember):
		return "root_cannot_be_member"
	case errors.Is(err, node.ErrInvalidIdentity), errors.Is(err, node.ErrInvalidNode):
		return "invalid_argument"
	case errors.Is(err, consensus.ErrNotLeader), errors.Is(err, consensus.ErrLeadershipLost):
		return "not_leader"
	}
	return "other"
}
