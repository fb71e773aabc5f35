package registry

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTTL 序列过期时间
	DefaultTTL = 300 * time.Second
	// DefaultHistoryWindow 历史数据保留窗口（需覆盖分析窗口）
	DefaultHistoryWindow = 10 * time.Minute
)

// Point 历史数据点
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// seriesRecord 单个序列的存储记录，持有独立的锁，
// 不同序列之间的写入互不竞争
type seriesRecord struct {
	mu       sync.Mutex
	latest   Sample
	history  []Point
	lastSeen time.Time
	deleted  bool // 已被清理，持有旧指针的写入者需要重建记录
}

// SeriesSnapshot 序列的一致性只读快照
type SeriesSnapshot struct {
	Latest   Sample
	LastSeen time.Time
}

// Stats 存储层运行状态（用于 /status）
type Stats struct {
	SeriesCount      int            `json:"seriesCount"`
	DeviceCount      int            `json:"deviceCount"`
	SamplesByName    map[string]int `json:"samplesByName"`
	TTLSeconds       int            `json:"ttlSeconds"`
	LastEvictionAt   time.Time      `json:"lastEvictionAt"`
	LastEvictedCount int            `json:"lastEvictedCount"`
}

// Options 存储层配置
type Options struct {
	TTL           time.Duration
	HistoryWindow time.Duration
	// Now 可注入时钟，为空时使用 time.Now
	Now func() time.Time
}

// Registry 指标存储：序列标识 -> 最新值 + 有界历史。
// 所有序列记录归属于本结构，其他组件只读取快照。
type Registry struct {
	mu     sync.RWMutex
	series map[string]*seriesRecord

	ttl time.Duration
	now func() time.Time

	windowMu sync.RWMutex
	window   time.Duration

	statsMu          sync.Mutex
	lastEvictionAt   time.Time
	lastEvictedCount int
}

// New 创建指标存储
func New(opts Options) *Registry {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		series: make(map[string]*seriesRecord),
		ttl:    opts.TTL,
		window: opts.HistoryWindow,
		now:    opts.Now,
	}
}

// TTL 序列过期时间
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// SetHistoryWindow 更新历史保留窗口（分析窗口热更新时调用），对后续写入的裁剪生效。
// 已被旧窗口裁掉的数据点无法找回，调大窗口后历史会随新写入逐步补齐。
func (r *Registry) SetHistoryWindow(window time.Duration) {
	if window <= 0 {
		return
	}
	r.windowMu.Lock()
	r.window = window
	r.windowMu.Unlock()
}

func (r *Registry) historyWindow() time.Duration {
	r.windowMu.RLock()
	defer r.windowMu.RUnlock()
	return r.window
}

// Upsert 写入一个样本：更新最新值、追加历史并裁剪窗口外的数据点。
// 同一序列内样本按接收时间全序生效：时间戳早于 lastSeen 的乱序写入
// （并发请求先打时间戳后抢到锁）只按序补进历史，不回退 latest 和 lastSeen。
func (r *Registry) Upsert(sample Sample) error {
	if err := sample.Validate(); err != nil {
		return err
	}
	sample.Labels = cloneLabels(sample.Labels)
	key := sample.SeriesKey()

	for {
		rec := r.getOrCreate(key)

		rec.mu.Lock()
		if rec.deleted {
			// 与清理任务竞争失败，重建记录后重试
			rec.mu.Unlock()
			continue
		}
		window := r.historyWindow()
		point := Point{Timestamp: sample.ReceivedAt, Value: sample.Value}
		if sample.ReceivedAt.Before(rec.lastSeen) {
			rec.history = insertPoint(rec.history, point)
			rec.history = trimHistory(rec.history, rec.lastSeen.Add(-window))
			rec.mu.Unlock()
			return nil
		}
		rec.latest = sample
		rec.lastSeen = sample.ReceivedAt
		rec.history = append(rec.history, point)
		rec.history = trimHistory(rec.history, sample.ReceivedAt.Add(-window))
		rec.mu.Unlock()
		return nil
	}
}

func (r *Registry) getOrCreate(key string) *seriesRecord {
	r.mu.RLock()
	rec, ok := r.series[key]
	r.mu.RUnlock()
	if ok {
		return rec
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok = r.series[key]; ok {
		return rec
	}
	rec = &seriesRecord{}
	r.series[key] = rec
	return rec
}

// insertPoint 把数据点按时间顺序插入历史，保持历史始终有序
func insertPoint(history []Point, p Point) []Point {
	idx := sort.Search(len(history), func(i int) bool {
		return history[i].Timestamp.After(p.Timestamp)
	})
	history = append(history, Point{})
	copy(history[idx+1:], history[idx:])
	history[idx] = p
	return history
}

// trimHistory 丢弃 cutoff 之前的数据点（历史按时间有序，找到分界点截断即可）
func trimHistory(history []Point, cutoff time.Time) []Point {
	idx := 0
	for idx < len(history) && history[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return history
	}
	return append(history[:0], history[idx:]...)
}

// SnapshotAll 返回所有存活序列的一致性快照。
// 已超过 TTL 但尚未被清理的序列不会出现在结果中。
func (r *Registry) SnapshotAll() []SeriesSnapshot {
	cutoff := r.now().Add(-r.ttl)

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SeriesSnapshot, 0, len(r.series))
	for _, rec := range r.series {
		rec.mu.Lock()
		if !rec.deleted && !rec.lastSeen.Before(cutoff) {
			out = append(out, SeriesSnapshot{Latest: rec.latest, LastSeen: rec.lastSeen})
		}
		rec.mu.Unlock()
	}
	return out
}

// HistoryFor 返回指定设备下名称匹配（精确或前缀）的所有序列的历史数据点，
// 按时间升序合并。供替换分析器做窗口平均使用。
func (r *Registry) HistoryFor(deviceSerial, namePrefix string) []Point {
	cutoff := r.now().Add(-r.ttl)

	r.mu.RLock()
	var points []Point
	for _, rec := range r.series {
		rec.mu.Lock()
		if !rec.deleted && !rec.lastSeen.Before(cutoff) &&
			strings.HasPrefix(rec.latest.Name, namePrefix) &&
			rec.latest.Labels["device_serial"] == deviceSerial {
			points = append(points, rec.history...)
		}
		rec.mu.Unlock()
	}
	r.mu.RUnlock()

	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points
}

// EvictExpired 删除 lastSeen 早于 TTL 的序列，返回删除数量。
// 先在读锁下收集过期候选，再逐个在写锁下复核删除，
// 避免清理期间长时间持有全表写锁。
func (r *Registry) EvictExpired(now time.Time) int {
	cutoff := now.Add(-r.ttl)

	var expired []string
	r.mu.RLock()
	for key, rec := range r.series {
		rec.mu.Lock()
		if rec.lastSeen.Before(cutoff) {
			expired = append(expired, key)
		}
		rec.mu.Unlock()
	}
	r.mu.RUnlock()

	removed := 0
	for _, key := range expired {
		r.mu.Lock()
		if rec, ok := r.series[key]; ok {
			rec.mu.Lock()
			// 复核：收集之后可能又有新的写入
			if rec.lastSeen.Before(cutoff) {
				rec.deleted = true
				delete(r.series, key)
				removed++
			}
			rec.mu.Unlock()
		}
		r.mu.Unlock()
	}

	r.statsMu.Lock()
	r.lastEvictionAt = now
	r.lastEvictedCount = removed
	r.statsMu.Unlock()

	return removed
}

// Stats 统计存活序列数量、设备数量以及按名称分布
func (r *Registry) Stats() Stats {
	snapshots := r.SnapshotAll()

	byName := make(map[string]int)
	devices := make(map[string]struct{})
	for _, s := range snapshots {
		byName[s.Latest.Name]++
		if serial := s.Latest.Labels["device_serial"]; serial != "" {
			devices[serial] = struct{}{}
		}
	}

	r.statsMu.Lock()
	lastAt, lastCount := r.lastEvictionAt, r.lastEvictedCount
	r.statsMu.Unlock()

	return Stats{
		SeriesCount:      len(snapshots),
		DeviceCount:      len(devices),
		SamplesByName:    byName,
		TTLSeconds:       int(r.ttl / time.Second),
		LastEvictionAt:   lastAt,
		LastEvictedCount: lastCount,
	}
}
