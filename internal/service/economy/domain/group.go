// internal/service/economy/domain/group.go
package domain

import (
	"fmt"
	"time"
)

// Group 是某个酒吧在一个周期内的临时小组
type Group struct {
	ID        string
	BarID     string
	Name      string
	Cycle     string // ISO 周，例如 2026-W42
	Active    bool
	Members   []string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// AcceptsMembers 只有处于激活状态且未过期的小组允许修改成员
func (g *Group) AcceptsMembers(now time.Time) bool {
	return g.Active && now.Before(g.ExpiresAt)
}

// CycleKey 返回 t 所在的 ISO 周
func CycleKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// NewWeeklyGroup 为酒吧创建本周期的空小组
func NewWeeklyGroup(id string, bar *Bar, now time.Time, ttl time.Duration) *Group {
	return &Group{
		ID:        id,
		BarID:     bar.ID,
		Name:      fmt.Sprintf("Groupe %s %s", bar.Name, now.Format("02/01/2006")),
		Cycle:     CycleKey(now),
		Active:    true,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

// JobReport 汇总一次批处理的结果
type JobReport struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}
