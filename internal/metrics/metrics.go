// ABOUTME: Prometheus metrics for the conversation engine
// ABOUTME: Counters observed at engine call sites, served on /metrics

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zapflow_messages_sent_total",
		Help: "Total operator messages appended to chats",
	})

	messagesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zapflow_messages_received_total",
		Help: "Total customer messages appended to chats",
	})

	chatsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zapflow_chats_created_total",
		Help: "Total chats created from inbound contacts",
	})

	webhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zapflow_webhooks_total",
		Help: "Inbound webhook deliveries by result",
	}, []string{"result"})

	simulatedRepliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zapflow_simulated_replies_total",
		Help: "Simulated customer replies by generation result",
	}, []string{"result"})
)

// ObserveMessageSent records an operator message append.
func ObserveMessageSent() {
	messagesSentTotal.Inc()
}

// ObserveMessageReceived records a customer message append.
func ObserveMessageReceived() {
	messagesReceivedTotal.Inc()
}

// ObserveChatCreated records a chat created by the webhook normalizer.
func ObserveChatCreated() {
	chatsCreatedTotal.Inc()
}

// ObserveWebhook records a webhook delivery. Result is one of "routed",
// "created" or "malformed".
func ObserveWebhook(result string) {
	webhooksTotal.WithLabelValues(result).Inc()
}

// ObserveSimulatedReply records a simulated reply. Result is "generated",
// "fallback" or "dropped".
func ObserveSimulatedReply(result string) {
	simulatedRepliesTotal.WithLabelValues(result).Inc()
}
