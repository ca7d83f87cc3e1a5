package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// labelSep joins label values into a map key. It sorts below every printable
// byte so that joined keys order the same way as the label tuples.
const labelSep = "\x00"

var defaultBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// counterVec is a counter family partitioned by a fixed label set.
type counterVec struct {
	name   string
	help   string
	labels []string

	mu     sync.Mutex
	values map[string]uint64
}

func newCounterVec(name, help string, labels ...string) *counterVec {
	return &counterVec{name: name, help: help, labels: labels, values: make(map[string]uint64)}
}

func (c *counterVec) inc(values ...string) {
	key := strings.Join(values, labelSep)
	c.mu.Lock()
	c.values[key]++
	c.mu.Unlock()
}

func (c *counterVec) write(b *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()

	writeHeader(b, c.name, c.help, "counter")
	if len(c.labels) == 0 {
		fmt.Fprintf(b, "%s %d\n", c.name, c.values[""])
		return
	}
	for _, key := range sortedKeys(c.values) {
		fmt.Fprintf(b, "%s%s %d\n", c.name, labelSet(c.labels, key, ""), c.values[key])
	}
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{buckets: buckets, counts: make([]uint64, len(buckets))}
}

// observe keeps counts cumulative. Values above the last bound only show up
// in the +Inf bucket via count.
func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

// histogramVec is a histogram family partitioned by a fixed label set.
type histogramVec struct {
	name    string
	help    string
	labels  []string
	buckets []float64

	mu     sync.Mutex
	series map[string]*histogram
}

func newHistogramVec(name, help string, buckets []float64, labels ...string) *histogramVec {
	return &histogramVec{name: name, help: help, labels: labels, buckets: buckets, series: make(map[string]*histogram)}
}

func (h *histogramVec) observe(value float64, values ...string) {
	key := strings.Join(values, labelSep)
	h.mu.Lock()
	defer h.mu.Unlock()
	series := h.series[key]
	if series == nil {
		series = newHistogram(h.buckets)
		h.series[key] = series
	}
	series.observe(value)
}

func (h *histogramVec) write(b *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()

	writeHeader(b, h.name, h.help, "histogram")
	keys := sortedKeys(h.series)
	if len(h.labels) == 0 && len(keys) == 0 {
		keys = []string{""}
	}
	for _, key := range keys {
		series := h.series[key]
		if series == nil {
			series = newHistogram(h.buckets)
		}
		for idx, bound := range series.buckets {
			fmt.Fprintf(b, "%s_bucket%s %d\n", h.name, labelSet(h.labels, key, formatFloat(bound)), series.counts[idx])
		}
		fmt.Fprintf(b, "%s_bucket%s %d\n", h.name, labelSet(h.labels, key, "+Inf"), series.count)
		fmt.Fprintf(b, "%s_sum%s %s\n", h.name, labelSet(h.labels, key, ""), formatFloat(series.sum))
		fmt.Fprintf(b, "%s_count%s %d\n", h.name, labelSet(h.labels, key, ""), series.count)
	}
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, kind)
}

// labelSet renders {name="value",...} for a joined key, appending le when set.
func labelSet(names []string, key, le string) string {
	pairs := make([]string, 0, len(names)+1)
	if len(names) > 0 {
		for i, value := range strings.Split(key, labelSep) {
			if i >= len(names) {
				break
			}
			pairs = append(pairs, fmt.Sprintf("%s=\"%s\"", names[i], escape(value)))
		}
	}
	if le != "" {
		pairs = append(pairs, fmt.Sprintf("le=\"%s\"", le))
	}
	if len(pairs) == 0 {
		return ""
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
