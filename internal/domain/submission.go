package domain

import "time"

// Submission is one worker's weight-delta contribution to a round.
type Submission struct {
	DeviceID    string             `json:"device_id"`
	JobID       string             `json:"job_id"`
	Round       int                `json:"round"`
	Blob        []byte             `json:"blob"`
	NumSamples  int                `json:"num_samples"`
	Metrics     map[string]float64 `json:"metrics"`
	ReceivedAt  time.Time          `json:"received_at"`
}

// DeltaSet is a decoded submission: layer name → flat weight delta,
// widened to float32 after the wire format's float16 quantization.
type DeltaSet map[string][]float32

// AggregateResult is what the aggregator produces for one round.
type AggregateResult struct {
	AggregateModelID string
	AvgLoss          float64
	AvgAccuracy      float64
	DeltaNorm        float64
}
