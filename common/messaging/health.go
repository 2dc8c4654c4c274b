package messaging

import "time"

// HealthStatus represents the health state of a broker connection.
type HealthStatus struct {
	Connected bool          `json:"connected"`
	Latency   time.Duration `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
}

// Healthy reports whether the connection is usable.
func (h HealthStatus) Healthy() bool {
	return h.Connected && h.Error == ""
}

// CheckClientHealth checks connectivity and measures a round trip.
func CheckClientHealth(client Client) HealthStatus {
	status := HealthStatus{}

	if client == nil {
		status.Error = "client is nil"
		return status
	}

	status.Connected = client.IsConnected()
	if !status.Connected {
		status.Error = "not connected to message broker"
		return status
	}

	rtt, err := client.RTT()
	if err != nil {
		status.Error = "health check failed: " + err.Error()
		return status
	}
	status.Latency = rtt
	return status
}
