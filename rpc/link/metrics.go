package link

import (
	"strconv"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricLinkFramesIn       = []string{"dmsg", "link", "frames", "in"}
	MetricLinkFramesOut      = []string{"dmsg", "link", "frames", "out"}
	MetricLinkBytesIn        = []string{"dmsg", "link", "bytes", "in"}
	MetricLinkBytesOut       = []string{"dmsg", "link", "bytes", "out"}
	MetricLinkSendErrorCount = []string{"dmsg", "link", "send", "error", "count"}
	MetricLinkRequestCount   = []string{"dmsg", "link", "request", "count"}
	MetricLinkAutoReplyCount = []string{"dmsg", "link", "request", "auto", "reply", "count"}
	MetricLinkHandlerErrors  = []string{"dmsg", "link", "handler", "error", "count"}
	MetricLinkDisconnects    = []string{"dmsg", "link", "disconnect", "count"}
	MetricLinkRequestLatency = []string{"dmsg", "link", "request", "latency"}
)

type TelemetryLabel string

var (
	LabelConnID     TelemetryLabel = "conn_id"
	LabelPacketType TelemetryLabel = "packet_type"
	LabelHandler    TelemetryLabel = "handler"
	LabelError      TelemetryLabel = "error"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

// telemetry emits the link metrics with the labels of one connection
type telemetry struct {
	sink   metrics.MetricSink
	labels []metrics.Label
}

func newTelemetry(sink metrics.MetricSink, id int64, extra []metrics.Label) telemetry {
	labels := make([]metrics.Label, 0, len(extra)+1)
	labels = append(labels, LabelConnID.M(strconv.FormatInt(id, 10)))
	labels = append(labels, extra...)
	return telemetry{sink: sink, labels: labels}
}

func (t telemetry) incr(key []string, val float32, extra ...metrics.Label) {
	t.sink.IncrCounterWithLabels(key, val, t.with(extra))
}

func (t telemetry) sample(key []string, val float32, extra ...metrics.Label) {
	t.sink.AddSampleWithLabels(key, val, t.with(extra))
}

func (t telemetry) with(extra []metrics.Label) []metrics.Label {
	if len(extra) == 0 {
		return t.labels
	}
	labels := make([]metrics.Label, 0, len(t.labels)+len(extra))
	labels = append(labels, t.labels...)
	return append(labels, extra...)
}
