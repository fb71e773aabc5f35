package registry

import (
	"sort"
	"strconv"
	"strings"
)

// RenderExposition 将快照渲染为拉取式文本格式：
// 每个指标名称输出一次 # HELP / # TYPE 注释，随后每个存活序列一行。
// 名称与序列均排序输出，同一快照的多次渲染结果完全一致。
func RenderExposition(snapshots []SeriesSnapshot) string {
	byName := make(map[string][]SeriesSnapshot)
	names := make([]string, 0, len(byName))
	for _, s := range snapshots {
		if _, ok := byName[s.Latest.Name]; !ok {
			names = append(names, s.Latest.Name)
		}
		byName[s.Latest.Name] = append(byName[s.Latest.Name], s)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		series := byName[name]
		sort.Slice(series, func(i, j int) bool {
			return CanonicalLabels(series[i].Latest.Labels) < CanonicalLabels(series[j].Latest.Labels)
		})

		// 注释行取自任意一个序列的元信息（同名序列共享 help/type 声明）
		first := series[0].Latest
		if first.Help != "" {
			sb.WriteString("# HELP ")
			sb.WriteString(name)
			sb.WriteByte(' ')
			sb.WriteString(first.Help)
			sb.WriteByte('\n')
		}
		kind := first.Kind
		if !kind.Valid() {
			kind = KindGauge
		}
		sb.WriteString("# TYPE ")
		sb.WriteString(name)
		sb.WriteByte(' ')
		sb.WriteString(string(kind))
		sb.WriteByte('\n')

		for _, s := range series {
			sb.WriteString(name)
			if labels := CanonicalLabels(s.Latest.Labels); labels != "" {
				sb.WriteByte('{')
				sb.WriteString(labels)
				sb.WriteByte('}')
			}
			sb.WriteByte(' ')
			sb.WriteString(strconv.FormatFloat(s.Latest.Value, 'g', -1, 64))
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
