package indicator

// RSI calculates the Relative Strength Index as the ratio of rolling mean
// gain to rolling mean loss over a fixed lookback window of price deltas.
// The window is a bounded ring buffer: the oldest delta is evicted as the
// newest is added and the gain/loss sums are adjusted incrementally — no
// full-window rescan per tick.
type RSI struct {
	window  int
	deltas  []float64 // ring buffer of the last `window` deltas
	idx     int
	filled  int
	gainSum float64
	lossSum float64

	prevClose float64
	count     int
	current   float64
}

// NewRSI creates a new RSI indicator over the given delta window (typically 14).
func NewRSI(window int) *RSI {
	return &RSI{
		window: window,
		deltas: make([]float64, window),
	}
}

func (r *RSI) Name() string { return "RSI" }

func (r *RSI) Update(price float64) {
	r.count++

	if r.count == 1 {
		// First price — just record it, no delta yet
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	if r.filled == r.window {
		// Evict the oldest delta from the running sums
		old := r.deltas[r.idx]
		if old > 0 {
			r.gainSum -= old
		} else {
			r.lossSum += old
		}
	} else {
		r.filled++
	}

	r.deltas[r.idx] = delta
	r.idx = (r.idx + 1) % r.window
	if delta > 0 {
		r.gainSum += delta
	} else {
		r.lossSum -= delta
	}

	if r.filled < r.window {
		return
	}

	avgGain := r.gainSum / float64(r.window)
	avgLoss := r.lossSum / float64(r.window)
	if avgLoss == 0 {
		r.current = 100.0
	} else {
		rs := avgGain / avgLoss
		r.current = 100.0 - (100.0 / (1.0 + rs))
	}
}

// Value returns the current RSI in [0, 100]. Undefined (0) until Ready.
func (r *RSI) Value() float64 { return r.current }

// Ready reports whether a full window of deltas has been observed.
func (r *RSI) Ready() bool { return r.filled >= r.window }

// Window returns the configured delta window size.
func (r *RSI) Window() int { return r.window }
