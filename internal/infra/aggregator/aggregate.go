package aggregator

import (
	"context"
	"math"
	"sort"

	"github.com/edgeorchestra/orchestrator/internal/domain"
	"github.com/edgeorchestra/orchestrator/internal/infra/workerpool"
)

// Aggregator implements domain.Aggregator: sample-weighted FedAvg over a
// round's submissions, applied as a delta against the round's starting
// global model.
type Aggregator struct {
	codec Codec
	pool  *workerpool.Pool
}

// New builds an Aggregator whose submission decoding is bounded by a
// worker pool sized to runtime.NumCPU(), so a round closing with many
// large submissions doesn't decode them all on one goroutine.
func New() *Aggregator {
	return &Aggregator{pool: workerpool.New(0)}
}

func (a *Aggregator) Decode(blob []byte) (domain.DeltaSet, error) { return a.codec.Decode(blob) }

func (a *Aggregator) Encode(deltas domain.DeltaSet) ([]byte, error) { return a.codec.Encode(deltas) }

// Aggregate computes the sample-weighted mean of submissions' deltas and
// adds it to the global model's own decoded weights, producing the next
// round's global model blob.
func (a *Aggregator) Aggregate(ctx context.Context, globalModel []byte, submissions []domain.Submission) ([]byte, domain.AggregateResult, error) {
	if len(submissions) == 0 {
		return nil, domain.AggregateResult{}, domain.ErrZeroSamples
	}

	base, err := a.codec.Decode(globalModel)
	if err != nil {
		return nil, domain.AggregateResult{}, err
	}

	totalSamples := 0
	for _, s := range submissions {
		totalSamples += s.NumSamples
	}
	if totalSamples == 0 {
		return nil, domain.AggregateResult{}, domain.ErrZeroSamples
	}

	decoded := make([]domain.DeltaSet, len(submissions))
	fns := make([]func(ctx context.Context) error, len(submissions))
	for i, sub := range submissions {
		i, sub := i, sub
		fns[i] = func(ctx context.Context) error {
			deltas, err := a.codec.Decode(sub.Blob)
			if err != nil {
				return err
			}
			decoded[i] = deltas
			return nil
		}
	}
	if err := a.pool.Run(ctx, fns...); err != nil {
		return nil, domain.AggregateResult{}, err
	}

	// Fold order must be deterministic across replicas: sort by device_id
	// lexically rather than folding in storage arrival order.
	order := make([]int, len(submissions))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return submissions[order[i]].DeviceID < submissions[order[j]].DeviceID
	})

	sum := make(map[string][]float64, len(base))
	var totalLoss, totalAccuracy float64
	var lossWeight, accWeight float64

	for _, i := range order {
		sub := submissions[i]
		deltas := decoded[i]
		if len(deltas) != len(base) {
			return nil, domain.AggregateResult{}, domain.ErrLayerMismatch
		}

		weight := float64(sub.NumSamples) / float64(totalSamples)
		for name, values := range deltas {
			baseValues, ok := base[name]
			if !ok {
				return nil, domain.AggregateResult{}, domain.ErrLayerMismatch
			}
			if len(baseValues) != len(values) {
				return nil, domain.AggregateResult{}, domain.ErrSizeMismatch
			}
			accum, ok := sum[name]
			if !ok {
				accum = make([]float64, len(values))
				sum[name] = accum
			}
			for i, v := range values {
				accum[i] += weight * float64(v)
			}
		}

		if loss, ok := sub.Metrics["loss"]; ok {
			totalLoss += loss * float64(sub.NumSamples)
			lossWeight += float64(sub.NumSamples)
		}
		if acc, ok := sub.Metrics["accuracy"]; ok {
			totalAccuracy += acc * float64(sub.NumSamples)
			accWeight += float64(sub.NumSamples)
		}
	}

	next := make(domain.DeltaSet, len(base))
	var deltaNormSq float64
	for name, baseValues := range base {
		delta := sum[name]
		updated := make([]float32, len(baseValues))
		for i, bv := range baseValues {
			updated[i] = bv + float32(delta[i])
			deltaNormSq += delta[i] * delta[i]
		}
		next[name] = updated
	}

	blob, err := a.codec.Encode(next)
	if err != nil {
		return nil, domain.AggregateResult{}, err
	}

	result := domain.AggregateResult{DeltaNorm: math.Sqrt(deltaNormSq)}
	if lossWeight > 0 {
		result.AvgLoss = totalLoss / lossWeight
	}
	if accWeight > 0 {
		result.AvgAccuracy = totalAccuracy / accWeight
	}
	return blob, result, nil
}
