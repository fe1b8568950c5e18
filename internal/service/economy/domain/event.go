// internal/service/economy/domain/event.go
package domain

import (
	"time"

	"github.com/pkg/errors"
)

// EventType 是文档变更事件和定时任务产出事件的类型
type EventType string

const (
	EventAccountUpdated    EventType = "account.updated"     // 账户文档变更（携带前后快照）
	EventLetterInserted    EventType = "letter.inserted"     // 信件写入会话
	EventReportCreated     EventType = "report.created"      // 新举报
	EventPurchaseSettled   EventType = "purchase.settled"    // 购买结算完成
	EventDailyBonusGranted EventType = "bonus.daily_granted" // 每日奖励已入账
)

// Event 是一条领域事件。按类型只会填充对应的载荷字段。
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`

	Account  *AccountChange   `json:"account,omitempty"`
	Letter   *LetterInserted  `json:"letter,omitempty"`
	Report   *ReportCreated   `json:"report,omitempty"`
	Purchase *PurchaseSettled `json:"purchase,omitempty"`
	Bonus    *BonusGranted    `json:"bonus,omitempty"`
}

// AccountSnapshot 是账户文档中事件关心的字段
type AccountSnapshot struct {
	Certified bool `json:"certified"`
	Premium   bool `json:"premium"`
}

type AccountChange struct {
	UID    string          `json:"uid"`
	Before AccountSnapshot `json:"before"`
	After  AccountSnapshot `json:"after"`
}

// CertificationGranted 只有 false -> true 的翻转才算一次认证
func (c *AccountChange) CertificationGranted() bool {
	return !c.Before.Certified && c.After.Certified
}

type LetterInserted struct {
	MessageID string `json:"messageId"`
	ThreadID  string `json:"threadId"`
	AuthorUID string `json:"authorUid"`
}

// ReportTarget 被举报对象的类型
type ReportTarget string

const (
	ReportTargetUser   ReportTarget = "user"
	ReportTargetBar    ReportTarget = "bar"
	ReportTargetLetter ReportTarget = "letter"
)

type ReportCreated struct {
	ReportID    string       `json:"reportId"`
	ReporterUID string       `json:"reporterUid"`
	TargetType  ReportTarget `json:"targetType"`
	TargetID    string       `json:"targetId"`
}

type PurchaseSettled struct {
	PurchaseID string         `json:"purchaseId"`
	OwnerUID   string         `json:"ownerUid"`
	Outcome    PurchaseStatus `json:"outcome"`
}

type BonusGranted struct {
	UID    string `json:"uid"`
	Amount int64  `json:"amount"`
	Day    string `json:"day"`
}

// Validate 检查事件类型和载荷是否匹配
func (e *Event) Validate() error {
	if e.ID == "" {
		return errors.Wrap(ErrInvalidArgument, "event id is required")
	}
	var ok bool
	switch e.Type {
	case EventAccountUpdated:
		ok = e.Account != nil && e.Account.UID != ""
	case EventLetterInserted:
		ok = e.Letter != nil && e.Letter.ThreadID != ""
	case EventReportCreated:
		ok = e.Report != nil && e.Report.ReportID != ""
	case EventPurchaseSettled:
		ok = e.Purchase != nil
	case EventDailyBonusGranted:
		ok = e.Bonus != nil && e.Bonus.UID != ""
	default:
		return errors.Wrapf(ErrInvalidArgument, "unknown event type %q", e.Type)
	}
	if !ok {
		return errors.Wrapf(ErrInvalidArgument, "event %s: missing %s payload", e.ID, e.Type)
	}
	return nil
}
