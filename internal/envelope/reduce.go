package envelope

import "math"

// DefaultDBFloor is the level mapped to 0 in normalized output.
const DefaultDBFloor = -60.0

// Normalize maps an RMS amplitude to [0,1] on a dB scale with floor dbFloor.
// Silence maps to 0.
func Normalize(rms, dbFloor float64) float64 {
	if rms <= 0 || math.IsNaN(rms) {
		return 0
	}
	if dbFloor >= 0 {
		dbFloor = DefaultDBFloor
	}
	db := 20 * math.Log10(rms)
	return math.Max(0, math.Min(1, (db-dbFloor)/-dbFloor))
}

// Smooth applies a 1:2:1 boxcar over interior samples. The first and last
// samples are kept raw; inputs of length <= 2 are returned unchanged.
func Smooth(samples []float64) []float64 {
	if len(samples) <= 2 {
		return samples
	}
	out := make([]float64, len(samples))
	out[0] = samples[0]
	for i := 1; i < len(samples)-1; i++ {
		out[i] = (samples[i-1] + 2*samples[i] + samples[i+1]) / 4
	}
	out[len(out)-1] = samples[len(samples)-1]
	return out
}

// reducer folds a sample stream into one normalized value per chunk.
type reducer struct {
	chunk   int
	limit   int64
	dbFloor float64

	sumSq float64
	count int
	out   []float64
}

func newReducer(chunk int, limit int64, dbFloor float64) *reducer {
	if chunk < 1 {
		chunk = 1
	}
	capHint := limit
	if capHint < 0 || capHint > 1<<20 {
		capHint = 0
	}
	return &reducer{chunk: chunk, limit: limit, dbFloor: dbFloor, out: make([]float64, 0, capHint)}
}

// push adds one sample and reports whether it closed a chunk.
func (r *reducer) push(s float64) bool {
	r.sumSq += s * s
	r.count++
	if r.count < r.chunk {
		return false
	}
	r.emit()
	return true
}

// flush closes a pending partial chunk if the target count is not yet reached.
func (r *reducer) flush() {
	if r.count > 0 && !r.full() {
		r.emit()
	}
}

func (r *reducer) emit() {
	rms := math.Sqrt(r.sumSq / float64(r.count))
	r.out = append(r.out, Normalize(rms, r.dbFloor))
	r.sumSq, r.count = 0, 0
}

func (r *reducer) full() bool {
	return int64(len(r.out)) >= r.limit
}
