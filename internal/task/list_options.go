package task

import (
	"slices"
	"strings"
	"time"
)

// SortOrder 决定列表按更新时间的排列方向。
type SortOrder int

const (
	// SortByUpdatedDesc 最近更新的轮次在前，为默认顺序。
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc 最早更新的轮次在前。
	SortByUpdatedAsc
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListOptions 描述一次列表或统计查询的过滤条件与分页窗口。
//
// Since 与 Until 为 Unix 秒，零值表示不限制；Decided 为 nil 时不区分是否已有结论。
type ListOptions struct {
	Statuses []Status
	Since    int64
	Until    int64
	Decided  *bool
	Verdict  string
	Query    string
	Order    SortOrder
	Limit    int
	Offset   int
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

// WithStatuses 只保留给定状态的轮次，非法状态会被忽略。
func WithStatuses(statuses ...Status) ListOption {
	return func(o *ListOptions) { o.Statuses = append(o.Statuses[:0], statuses...) }
}

// WithUpdatedSince 只保留在 ts 及之后更新的轮次。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(o *ListOptions) { o.Since = unixOrZero(ts) }
}

// WithUpdatedUntil 只保留在 ts 及之前更新的轮次。
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(o *ListOptions) { o.Until = unixOrZero(ts) }
}

// WithResultPresence 按是否已记录共识结论过滤。
func WithResultPresence(decided bool) ListOption {
	return func(o *ListOptions) { o.Decided = &decided }
}

// WithVerdictState 只保留结论状态为 state 的轮次。
func WithVerdictState(state string) ListOption {
	return func(o *ListOptions) { o.Verdict = state }
}

// WithQuery 对 ID、内容地址、包哈希与最近错误做不区分大小写的子串匹配。
func WithQuery(query string) ListOption {
	return func(o *ListOptions) { o.Query = query }
}

// WithSortOrder 设置排列方向。
func WithSortOrder(order SortOrder) ListOption {
	return func(o *ListOptions) { o.Order = order }
}

// WithLimit 设置单页数量，超出 [1, 100] 时取默认值或上限。
func WithLimit(limit int) ListOption {
	return func(o *ListOptions) { o.Limit = limit }
}

// WithOffset 跳过前 offset 条匹配的轮次。
func WithOffset(offset int) ListOption {
	return func(o *ListOptions) { o.Offset = offset }
}

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}

// resolveListOptions 依次应用选项并归一化结果。
func resolveListOptions(opts []ListOption) ListOptions {
	var o ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.normalize()
	return o
}

// normalize 收紧分页窗口、去重状态并清理文本条件，可重复调用。
func (o *ListOptions) normalize() {
	switch {
	case o.Limit <= 0:
		o.Limit = defaultPageSize
	case o.Limit > maxPageSize:
		o.Limit = maxPageSize
	}
	o.Offset = max(o.Offset, 0)
	if o.Order != SortByUpdatedAsc {
		o.Order = SortByUpdatedDesc
	}
	o.Query = strings.TrimSpace(o.Query)
	o.Verdict = strings.TrimSpace(o.Verdict)

	var statuses []Status
	for _, s := range o.Statuses {
		if IsValidStatus(s) && !slices.Contains(statuses, s) {
			statuses = append(statuses, s)
		}
	}
	o.Statuses = statuses
}

// Match 判断轮次是否满足全部过滤条件，分页窗口不参与判断。
func (o ListOptions) Match(t *Task) bool {
	switch {
	case len(o.Statuses) > 0 && !slices.Contains(o.Statuses, t.Status):
		return false
	case o.Since > 0 && t.UpdatedAt < o.Since:
		return false
	case o.Until > 0 && t.UpdatedAt > o.Until:
		return false
	case o.Decided != nil && (t.Result != nil) != *o.Decided:
		return false
	case o.Verdict != "" && (t.Result == nil || string(t.Result.VerdictState) != o.Verdict):
		return false
	}
	if o.Query == "" {
		return true
	}
	needle := strings.ToLower(o.Query)
	for _, field := range []string{t.ID, t.SubmissionID, t.ContentAddress, t.PackageHash, t.LastError} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// compare 按 UpdatedAt、CreatedAt、ID 的优先级比较两个轮次，方向由 Order 决定。
func (o ListOptions) compare(a, b *Task) int {
	c := cmpInt64(a.UpdatedAt, b.UpdatedAt)
	if c == 0 {
		c = cmpInt64(a.CreatedAt, b.CreatedAt)
	}
	if c == 0 {
		c = strings.Compare(a.ID, b.ID)
	}
	if o.Order == SortByUpdatedAsc {
		return c
	}
	return -c
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// window 排序后截取分页范围。
func (o ListOptions) window(tasks []*Task) []*Task {
	slices.SortFunc(tasks, o.compare)
	if o.Offset >= len(tasks) {
		return []*Task{}
	}
	tasks = tasks[o.Offset:]
	if len(tasks) > o.Limit {
		tasks = tasks[:o.Limit]
	}
	return tasks
}
