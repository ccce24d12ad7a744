// Package metrics 定义 chat server 暴露的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 丢弃原因
const (
	ReasonOffline    = "offline"
	ReasonBufferFull = "buffer_full"
	ReasonEncode     = "encode"
	ReasonPublish    = "publish"
)

var (
	// OnlineUsers 当前注册在本实例 Hub 上的用户数。
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dm",
		Name:      "online_users",
		Help:      "Number of users with a live connection on this instance.",
	})

	// EventsDelivered 成功放入连接发送缓冲区的事件数。
	EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dm",
		Name:      "events_delivered_total",
		Help:      "Events handed to a live connection.",
	}, []string{"type"})

	// EventsDropped 没有投递出去的事件数。
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dm",
		Name:      "events_dropped_total",
		Help:      "Events that could not be delivered.",
	}, []string{"type", "reason"})

	// EventsPublished 由 API server 发布到 Kafka 的投递信封数。
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dm",
		Name:      "events_published_total",
		Help:      "Delivery envelopes published to the broker.",
	}, []string{"type"})
)
