// Package metrics 定义经济核心暴露给 Prometheus 的指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CreditsTotal 按结果统计入账次数 (applied / replayed / rejected)
	CreditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "economy",
		Name:      "credits_total",
		Help:      "Coin credit attempts by result.",
	}, []string{"result"})

	// CoinsCredited 累计入账金币数
	CoinsCredited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "economy",
		Name:      "coins_credited_total",
		Help:      "Sum of coins credited to accounts.",
	})

	RedemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "economy",
		Name:      "redemptions_total",
		Help:      "Promo and referral redemption attempts by kind and result.",
	}, []string{"kind", "result"})

	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "economy",
		Name:      "settlements_total",
		Help:      "Purchase settlement signals by outcome and result.",
	}, []string{"outcome", "result"})

	MembershipOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "economy",
		Name:      "membership_ops_total",
		Help:      "Group join/leave operations by op and result.",
	}, []string{"op", "result"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "economy",
		Name:      "notifications_total",
		Help:      "Notifications persisted or suppressed by type.",
	}, []string{"type", "result"})

	JobItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "economy",
		Name:      "job_items_total",
		Help:      "Scheduled job items processed by job and result.",
	}, []string{"job", "result"})

	DeadLettersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "economy",
		Name:      "dead_letters_total",
		Help:      "Messages observed on dead letter topics by original topic.",
	}, []string{"topic"})
)

// Result 标签的常用取值
const (
	ResultOK       = "ok"
	ResultReplayed = "replayed"
	ResultRejected = "rejected"
	ResultSkipped  = "skipped"
	ResultFailed   = "failed"
)
