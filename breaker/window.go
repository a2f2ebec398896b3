package breaker

// Window 基于环形缓冲区的计数滑动窗口，保存最近 size 次调用结果。
// Window 本身不加锁，由所属的 CircuitBreaker 在其互斥锁内访问。
type Window struct {
	size     int
	buffer   []entry
	index    int // 下一次写入位置
	total    int // 当前样本数，未满时 < size
	failures int
	slows    int
}

type entry struct {
	failed bool
	slow   bool
}

// NewWindow 创建大小为 size 的窗口，size <= 0 时取 1
func NewWindow(size int) *Window {
	if size <= 0 {
		size = 1
	}
	return &Window{
		size:   size,
		buffer: make([]entry, size),
	}
}

// Record 写入一次结果，窗口已满时淘汰最旧的记录，O(1)
func (w *Window) Record(o Outcome) {
	if w.total == w.size {
		old := w.buffer[w.index]
		if old.failed {
			w.failures--
		}
		if old.slow {
			w.slows--
		}
	} else {
		w.total++
	}

	e := entry{failed: o.Failed(), slow: o.IsSlow()}
	w.buffer[w.index] = e
	if e.failed {
		w.failures++
	}
	if e.slow {
		w.slows++
	}
	w.index = (w.index + 1) % w.size
}

// Snapshot 返回当前统计
func (w *Window) Snapshot() Snapshot {
	return Snapshot{
		Size:     w.size,
		Samples:  w.total,
		Failures: w.failures,
		Slow:     w.slows,
	}
}

// Reset 清空窗口
func (w *Window) Reset() {
	clear(w.buffer)
	w.index = 0
	w.total = 0
	w.failures = 0
	w.slows = 0
}

// Snapshot 窗口统计快照
type Snapshot struct {
	Size     int
	Samples  int
	Failures int
	Slow     int
}

// Full 样本数是否已达到窗口大小
func (s Snapshot) Full() bool {
	return s.Samples >= s.Size
}

// Rates 返回失败率与慢调用率（百分比）。窗口未满时 ok 为 false，
// 此时比率不可计算，熔断器不得据此打开。
func (s Snapshot) Rates() (failureRate, slowRate float64, ok bool) {
	if s.Size == 0 || !s.Full() {
		return 0, 0, false
	}
	n := float64(s.Samples)
	return float64(s.Failures) * 100 / n, float64(s.Slow) * 100 / n, true
}

// exceeds 窗口已满且任一比率达到阈值
func (s Snapshot) exceeds(p Policy) bool {
	failureRate, slowRate, ok := s.Rates()
	if !ok {
		return false
	}
	return failureRate >= p.FailureRateThreshold || slowRate >= p.SlowCallRateThreshold
}

// settled 窗口尚未满，但已记录的失败或慢调用无论剩余结果如何都会达到阈值
func (s Snapshot) settled(p Policy) bool {
	size := float64(s.Size)
	return float64(s.Failures)*100 >= p.FailureRateThreshold*size ||
		float64(s.Slow)*100 >= p.SlowCallRateThreshold*size
}
