package registry

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"
)

// fakeClock 可手动推进的测试时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(clock *fakeClock) *Registry {
	return New(Options{
		TTL:           5 * time.Minute,
		HistoryWindow: 10 * time.Minute,
		Now:           clock.Now,
	})
}

func gauge(name string, value float64, labels map[string]string, at time.Time) Sample {
	return Sample{
		Name:       name,
		Value:      value,
		Labels:     labels,
		Kind:       KindGauge,
		ReceivedAt: at,
	}
}

func TestUpsertLastWriteWins(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)
	labels := map[string]string{"device_serial": "D1"}

	if err := reg.Upsert(gauge("total_cpu_usage_percent", 40, labels, clock.Now())); err != nil {
		t.Fatalf("第一次写入失败: %v", err)
	}
	clock.Advance(time.Second)
	if err := reg.Upsert(gauge("total_cpu_usage_percent", 85, labels, clock.Now())); err != nil {
		t.Fatalf("第二次写入失败: %v", err)
	}

	snapshots := reg.SnapshotAll()
	if len(snapshots) != 1 {
		t.Fatalf("同一序列两次写入应该只有 1 个序列，实际 %d 个", len(snapshots))
	}
	if snapshots[0].Latest.Value != 85 {
		t.Errorf("最新值应该是 85，实际 %v", snapshots[0].Latest.Value)
	}
}

func TestUpsertInvalidSample(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	cases := []struct {
		name   string
		sample Sample
	}{
		{"空名称", gauge("", 1, nil, clock.Now())},
		{"NaN", gauge("m", math.NaN(), nil, clock.Now())},
		{"正无穷", gauge("m", math.Inf(1), nil, clock.Now())},
		{"负无穷", gauge("m", math.Inf(-1), nil, clock.Now())},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := reg.Upsert(tc.sample)
			if !errors.Is(err, ErrInvalidSample) {
				t.Errorf("期望 ErrInvalidSample，实际 %v", err)
			}
		})
	}

	if got := len(reg.SnapshotAll()); got != 0 {
		t.Errorf("非法样本不应产生任何写入，实际有 %d 个序列", got)
	}
}

func TestSeriesKeyIgnoresLabelOrder(t *testing.T) {
	a := Sample{Name: "m", Labels: map[string]string{"a": "1", "b": "2"}}
	b := Sample{Name: "m", Labels: map[string]string{"b": "2", "a": "1"}}
	if a.SeriesKey() != b.SeriesKey() {
		t.Errorf("标签顺序不同不应产生不同的序列标识: %q != %q", a.SeriesKey(), b.SeriesKey())
	}

	c := Sample{Name: "m", Labels: map[string]string{"a": "1", "b": "3"}}
	if a.SeriesKey() == c.SeriesKey() {
		t.Errorf("标签值不同应该是不同的序列")
	}
}

func TestHistoryWindowTrim(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)
	labels := map[string]string{"device_serial": "D1"}

	// 每分钟写一个点，共 15 分钟，窗口只有 10 分钟
	for i := 0; i < 15; i++ {
		if err := reg.Upsert(gauge("total_cpu_usage_percent", float64(i), labels, clock.Now())); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
		clock.Advance(time.Minute)
	}

	points := reg.HistoryFor("D1", "total_cpu_usage_percent")
	if len(points) > 11 {
		t.Errorf("历史数据应被裁剪到窗口内，实际保留 %d 个点", len(points))
	}
	for i := 1; i < len(points); i++ {
		if points[i].Timestamp.Before(points[i-1].Timestamp) {
			t.Fatalf("历史数据应按时间升序")
		}
	}
}

func TestSnapshotExcludesExpired(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	if err := reg.Upsert(gauge("m", 1, map[string]string{"device_serial": "D1"}, clock.Now())); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	// 超过 TTL 但尚未清理，快照也不应包含它
	clock.Advance(6 * time.Minute)
	if got := len(reg.SnapshotAll()); got != 0 {
		t.Errorf("过期序列不应出现在快照里，实际有 %d 个", got)
	}
	if got := len(reg.HistoryFor("D1", "m")); got != 0 {
		t.Errorf("过期序列不应参与历史查询，实际返回 %d 个点", got)
	}
}

func TestEvictExpired(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	if err := reg.Upsert(gauge("m", 1, map[string]string{"device_serial": "stale"}, clock.Now())); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	clock.Advance(6 * time.Minute)
	if err := reg.Upsert(gauge("m", 2, map[string]string{"device_serial": "fresh"}, clock.Now())); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	removed := reg.EvictExpired(clock.Now())
	if removed != 1 {
		t.Fatalf("应清理 1 个序列，实际 %d 个", removed)
	}

	snapshots := reg.SnapshotAll()
	if len(snapshots) != 1 {
		t.Fatalf("清理后应剩 1 个序列，实际 %d 个", len(snapshots))
	}
	if snapshots[0].Latest.Labels["device_serial"] != "fresh" {
		t.Errorf("存活的应该是 fresh 设备的序列")
	}

	stats := reg.Stats()
	if stats.LastEvictedCount != 1 {
		t.Errorf("统计里应记录上次清理数量 1，实际 %d", stats.LastEvictedCount)
	}
	if stats.LastEvictionAt.IsZero() {
		t.Errorf("统计里应记录上次清理时间")
	}
}

func TestEvictThenUpsertRecreates(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)
	labels := map[string]string{"device_serial": "D1"}

	if err := reg.Upsert(gauge("m", 1, labels, clock.Now())); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	clock.Advance(6 * time.Minute)
	if removed := reg.EvictExpired(clock.Now()); removed != 1 {
		t.Fatalf("应清理 1 个序列，实际 %d 个", removed)
	}

	// 设备恢复上报后序列重建
	if err := reg.Upsert(gauge("m", 2, labels, clock.Now())); err != nil {
		t.Fatalf("重建写入失败: %v", err)
	}
	snapshots := reg.SnapshotAll()
	if len(snapshots) != 1 || snapshots[0].Latest.Value != 2 {
		t.Errorf("清理后的序列应能重建并保留新值")
	}
	if got := len(reg.HistoryFor("D1", "m")); got != 1 {
		t.Errorf("重建后的历史应从头开始，实际 %d 个点", got)
	}
}

func TestUpsertOutOfOrderKeepsNewest(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)
	labels := map[string]string{"device_serial": "D1"}

	// 并发请求可能先打时间戳后抢到锁：时间戳较新的写入先落库
	t2 := clock.Now()
	t1 := t2.Add(-2 * time.Second)
	if err := reg.Upsert(gauge("total_cpu_usage_percent", 200, labels, t2)); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := reg.Upsert(gauge("total_cpu_usage_percent", 100, labels, t1)); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	snapshots := reg.SnapshotAll()
	if len(snapshots) != 1 {
		t.Fatalf("应只有 1 个序列，实际 %d 个", len(snapshots))
	}
	if snapshots[0].Latest.Value != 200 {
		t.Errorf("较旧时间戳的写入不应覆盖 latest，最新值应为 200，实际 %v", snapshots[0].Latest.Value)
	}
	if !snapshots[0].LastSeen.Equal(t2) {
		t.Errorf("lastSeen 不应回退，应为 %v，实际 %v", t2, snapshots[0].LastSeen)
	}

	// 乱序样本按时间顺序补进历史
	points := reg.HistoryFor("D1", "total_cpu_usage_percent")
	if len(points) != 2 {
		t.Fatalf("历史应保留 2 个点，实际 %d 个", len(points))
	}
	if points[0].Value != 100 || points[1].Value != 200 {
		t.Errorf("历史应按时间升序排列，实际 %v", points)
	}
}

func TestSetHistoryWindow(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)
	labels := map[string]string{"device_serial": "D1"}

	// 每分钟写一个点，共 8 分钟，都在默认 10 分钟窗口内
	for i := 0; i < 8; i++ {
		if err := reg.Upsert(gauge("total_cpu_usage_percent", float64(i), labels, clock.Now())); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
		clock.Advance(time.Minute)
	}
	if got := len(reg.HistoryFor("D1", "total_cpu_usage_percent")); got != 8 {
		t.Fatalf("窗口收窄前应保留 8 个点，实际 %d 个", got)
	}

	// 窗口收窄后，下一次写入按新窗口裁剪
	reg.SetHistoryWindow(2 * time.Minute)
	if err := reg.Upsert(gauge("total_cpu_usage_percent", 99, labels, clock.Now())); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	points := reg.HistoryFor("D1", "total_cpu_usage_percent")
	if len(points) != 3 {
		t.Errorf("2 分钟窗口应只保留 3 个点，实际 %d 个", len(points))
	}

	// 非法窗口不生效
	reg.SetHistoryWindow(0)
	if err := reg.Upsert(gauge("total_cpu_usage_percent", 100, labels, clock.Now())); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if got := len(reg.HistoryFor("D1", "total_cpu_usage_percent")); got < 3 {
		t.Errorf("窗口设为 0 不应生效，实际只剩 %d 个点", got)
	}
}

func TestHistoryForFiltersDeviceAndName(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	samples := []Sample{
		gauge("total_cpu_usage_percent", 10, map[string]string{"device_serial": "D1"}, clock.Now()),
		gauge("total_cpu_usage_percent", 20, map[string]string{"device_serial": "D2"}, clock.Now()),
		gauge("total_memory_usage_percent", 30, map[string]string{"device_serial": "D1"}, clock.Now()),
		gauge("app_cpu_usage_percent", 40, map[string]string{"device_serial": "D1", "app_name": "chrome"}, clock.Now()),
	}
	for _, s := range samples {
		if err := reg.Upsert(s); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
	}

	points := reg.HistoryFor("D1", "total_cpu_usage_percent")
	if len(points) != 1 || points[0].Value != 10 {
		t.Errorf("应只返回 D1 的 total_cpu 历史，实际 %v", points)
	}

	// 前缀匹配
	points = reg.HistoryFor("D1", "total_")
	if len(points) != 2 {
		t.Errorf("前缀 total_ 应匹配 2 个序列，实际 %d 个点", len(points))
	}
}

func TestIdempotentUpsert(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)
	labels := map[string]string{"device_serial": "D1"}

	if err := reg.Upsert(gauge("m", 42, labels, clock.Now())); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	first := reg.SnapshotAll()

	clock.Advance(time.Second)
	if err := reg.Upsert(gauge("m", 42, labels, clock.Now())); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	second := reg.SnapshotAll()

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("重复写入相同样本不应产生新序列")
	}
	if second[0].Latest.Value != first[0].Latest.Value {
		t.Errorf("重复写入相同值不应改变最新值")
	}
	if !second[0].LastSeen.After(first[0].LastSeen) {
		t.Errorf("重复写入应推进 lastSeen")
	}
}

func TestStats(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	for i := 0; i < 3; i++ {
		serial := fmt.Sprintf("D%d", i%2)
		labels := map[string]string{"device_serial": serial, "idx": fmt.Sprintf("%d", i)}
		if err := reg.Upsert(gauge("m", float64(i), labels, clock.Now())); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
	}

	stats := reg.Stats()
	if stats.SeriesCount != 3 {
		t.Errorf("序列数应为 3，实际 %d", stats.SeriesCount)
	}
	if stats.DeviceCount != 2 {
		t.Errorf("设备数应为 2，实际 %d", stats.DeviceCount)
	}
	if stats.SamplesByName["m"] != 3 {
		t.Errorf("按名称统计应为 3，实际 %d", stats.SamplesByName["m"])
	}
	if stats.TTLSeconds != 300 {
		t.Errorf("TTL 应为 300 秒，实际 %d", stats.TTLSeconds)
	}
}

func TestConcurrentUpsertAndRead(t *testing.T) {
	reg := New(Options{TTL: time.Minute, HistoryWindow: time.Minute})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			serial := fmt.Sprintf("D%d", g%4)
			labels := map[string]string{"device_serial": serial}
			for i := 0; i < 200; i++ {
				_ = reg.Upsert(gauge("total_cpu_usage_percent", float64(i), labels, time.Now()))
			}
		}(g)
	}
	// 并发读与清理
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = reg.SnapshotAll()
				_ = reg.HistoryFor("D1", "total_cpu_usage_percent")
				_ = reg.EvictExpired(time.Now())
			}
		}()
	}
	wg.Wait()

	snapshots := reg.SnapshotAll()
	if len(snapshots) != 4 {
		t.Fatalf("4 个设备各一个序列，实际 %d 个", len(snapshots))
	}
	for _, s := range snapshots {
		if s.Latest.Value != 199 {
			t.Errorf("同一序列的写入应保持顺序，设备 %s 最新值 %v",
				s.Latest.Labels["device_serial"], s.Latest.Value)
		}
	}
}
