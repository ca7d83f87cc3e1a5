package task

// RoundStats 汇总一批轮次的状态分布，Verified 统计结论为通过的轮次。
// 时间字段为匹配轮次中最早与最晚的 UpdatedAt，没有轮次时省略。
type RoundStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	Verified        int   `json:"verified"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

func (s *RoundStats) add(t *Task) {
	s.Total++
	switch t.Status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusSucceeded:
		s.Succeeded++
	case StatusFailed:
		s.Failed++
	}
	if t.Result != nil && t.Result.Verified {
		s.Verified++
	}
	if t.UpdatedAt == 0 {
		return
	}
	s.NewestUpdatedAt = max(s.NewestUpdatedAt, t.UpdatedAt)
	if s.OldestUpdatedAt == 0 || t.UpdatedAt < s.OldestUpdatedAt {
		s.OldestUpdatedAt = t.UpdatedAt
	}
}
