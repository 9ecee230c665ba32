package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// WebSocketMetricsHandler отдаёт метрики хаба в JSON или, с ?format=prometheus, в текстовом формате
func WebSocketMetricsHandler(provider MetricsProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics := provider.GetMetrics()

		if r.URL.Query().Get("format") == "prometheus" {
			w.Header().Set("Content-Type", "text/plain; version=0.0.4")
			renderPrometheusMetrics(w, metrics)
			return
		}

		metrics["generated_at"] = time.Now().Format(time.RFC3339)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(metrics); err != nil {
			log.Error().Err(err).Msg("Не удалось сериализовать метрики WebSocket")
		}
	}
}

// WebSocketHealthCheckHandler возвращает обработчик для проверки состояния хаба
func WebSocketHealthCheckHandler(provider MetricsProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		statusCode := http.StatusOK
		clientCount := 0

		if provider != nil {
			clientCount = provider.ClientCount()
		} else {
			status = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}

		response := map[string]interface{}{
			"status":             status,
			"active_connections": clientCount,
			"timestamp":          time.Now().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(response); err != nil {
			log.Error().Err(err).Msg("Не удалось сериализовать ответ health check")
		}
	}
}

var metricDescriptions = map[string]struct {
	help string
	typ  string
}{
	"total_connections":    {"Total number of connections since server start", "counter"},
	"active_connections":   {"Current number of active connections", "gauge"},
	"messages_sent":        {"Total number of messages sent", "counter"},
	"messages_received":    {"Total number of messages received", "counter"},
	"slow_clients_dropped": {"Clients disconnected because their queue overflowed", "counter"},
	"deduplicated":         {"Envelopes dropped as repeated or out of order", "counter"},
	"rooms":                {"Session rooms with local subscribers", "gauge"},
	"uptime_seconds":       {"Server uptime in seconds", "gauge"},
}

// renderPrometheusMetrics форматирует метрики в формате Prometheus
func renderPrometheusMetrics(w http.ResponseWriter, metrics map[string]interface{}) {
	names := make([]string, 0, len(metricDescriptions))
	for name := range metricDescriptions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value, ok := metrics[name]
		if !ok {
			continue
		}
		d := metricDescriptions[name]
		fmt.Fprintf(w, "# HELP websocket_%s %s\n", name, d.help)
		fmt.Fprintf(w, "# TYPE websocket_%s %s\n", name, d.typ)
		fmt.Fprintf(w, "websocket_%s %v\n", name, value)
	}
}
