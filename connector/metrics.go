package connector

import (
	"context"

	"github.com/ceyewan/fabric/metrics"
	"github.com/ceyewan/fabric/xerrors"
)

// connMetrics 各连接器共用的连接指标集合
type connMetrics struct {
	attempts  metrics.Counter
	successes metrics.Counter
	failures  metrics.Counter
	active    metrics.Gauge
	name      string
}

// newConnMetrics 为指定类型的连接器创建指标集合
// kind 取值如 "nats"、"amqp"、"etcd"
func newConnMetrics(meter metrics.Meter, kind, name string) (*connMetrics, error) {
	m := &connMetrics{name: name}
	var err error

	m.attempts, err = meter.Counter(
		"connector_"+kind+"_connection_attempts_total",
		"Total number of "+kind+" connection attempts",
	)
	if err != nil {
		return nil, xerrors.Wrapf(err, "create attempts counter")
	}

	m.successes, err = meter.Counter(
		"connector_"+kind+"_connections_established_total",
		"Number of successful "+kind+" connections",
	)
	if err != nil {
		return nil, xerrors.Wrapf(err, "create successes counter")
	}

	m.failures, err = meter.Counter(
		"connector_"+kind+"_connection_failures_total",
		"Number of failed "+kind+" connection attempts",
	)
	if err != nil {
		return nil, xerrors.Wrapf(err, "create failures counter")
	}

	m.active, err = meter.Gauge(
		"connector_"+kind+"_active_connections",
		"Number of active "+kind+" connections",
	)
	if err != nil {
		return nil, xerrors.Wrapf(err, "create active gauge")
	}

	return m, nil
}

func (m *connMetrics) attempt(ctx context.Context) {
	m.attempts.Inc(ctx, metrics.L("connector", m.name))
}

func (m *connMetrics) success(ctx context.Context) {
	m.successes.Inc(ctx, metrics.L("connector", m.name))
	m.active.Set(ctx, 1, metrics.L("connector", m.name))
}

func (m *connMetrics) failure(ctx context.Context) {
	m.failures.Inc(ctx, metrics.L("connector", m.name))
}

func (m *connMetrics) closed(ctx context.Context) {
	m.active.Set(ctx, 0, metrics.L("connector", m.name))
}
