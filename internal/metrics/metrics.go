package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the service
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // CircuitState is 0 closed, 1 half-open, 2 open
    CircuitState = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{Name: "circuit_state", Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)."},
        []string{"circuit"},
    )
    CircuitTransitions = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "circuit_transitions_total", Help: "Circuit breaker state transitions."},
        []string{"circuit", "from", "to"},
    )

    // ProviderCalls counts outbound provider calls by operation and outcome (ok, error, open)
    ProviderCalls = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "provider_calls_total", Help: "Outbound provider calls by operation and outcome."},
        []string{"provider", "op", "outcome"},
    )
    ProviderCallDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "provider_call_duration_seconds", Help: "Outbound provider call latency in seconds.", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}},
        []string{"provider", "op"},
    )

    // Webhooks counts inbound webhooks by outcome (accepted, rejected, ignored)
    Webhooks = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhooks_total", Help: "Inbound provider webhooks by outcome."},
        []string{"provider", "outcome"},
    )
    // OrdersTransformed counts transform outcomes (ok or the failure kind)
    OrdersTransformed = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "orders_transformed_total", Help: "Provider orders transformed by outcome."},
        []string{"provider", "outcome"},
    )
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(CircuitState)
        Registry.MustRegister(CircuitTransitions)
        Registry.MustRegister(ProviderCalls)
        Registry.MustRegister(ProviderCallDuration)
        Registry.MustRegister(Webhooks)
        Registry.MustRegister(OrdersTransformed)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once

// ObserveCircuit is a breaker state hook feeding the circuit gauges.
func ObserveCircuit(name, from, to string) {
    CircuitTransitions.WithLabelValues(name, from, to).Inc()
    CircuitState.WithLabelValues(name).Set(stateValue(to))
}

func stateValue(state string) float64 {
    switch state {
    case "OPEN":
        return 2
    case "HALF_OPEN":
        return 1
    default:
        return 0
    }
}
