package application_test

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"gorm.io/gorm"

	"jeutaime/internal/service/economy/application"
	"jeutaime/internal/service/economy/domain"
	"jeutaime/internal/service/economy/infrastructure"
	"jeutaime/internal/service/economy/infrastructure/dbtest"
)

var tracer trace.Tracer = noop.NewTracerProvider().Tracer("test")

// fixture 把真实的 gorm 仓储装配到一个内存库上
type fixture struct {
	db            *gorm.DB
	tx            *infrastructure.GormTxManager
	accounts      *infrastructure.GormAccountRepository
	credits       *infrastructure.GormCreditRecordRepository
	codes         *infrastructure.GormCodeRepository
	purchases     *infrastructure.GormPurchaseRepository
	groups        *infrastructure.GormGroupRepository
	bars          *infrastructure.GormBarRepository
	admins        *infrastructure.GormAdminRepository
	letters       *infrastructure.GormLetterRepository
	notifications *infrastructure.GormNotificationRepository
	gateway       *fakeGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	return &fixture{
		db:            db,
		tx:            infrastructure.NewGormTxManager(db),
		accounts:      infrastructure.NewGormAccountRepository(db),
		credits:       infrastructure.NewGormCreditRecordRepository(db),
		codes:         infrastructure.NewGormCodeRepository(db),
		purchases:     infrastructure.NewGormPurchaseRepository(db),
		groups:        infrastructure.NewGormGroupRepository(db),
		bars:          infrastructure.NewGormBarRepository(db),
		admins:        infrastructure.NewGormAdminRepository(db),
		letters:       infrastructure.NewGormLetterRepository(db),
		notifications: infrastructure.NewGormNotificationRepository(db),
		gateway:       &fakeGateway{},
	}
}

func (f *fixture) ledger() *application.LedgerService {
	return application.NewLedgerService(f.tx, f.accounts, f.credits, f.purchases, f.gateway, tracer)
}

func (f *fixture) redemption() *application.RedemptionService {
	return application.NewRedemptionService(f.tx, f.codes, f.admins, f.ledger(),
		application.RewardConfig{PromoDefault: 20, Referral: 10}, tracer)
}

func (f *fixture) seedAccounts(t *testing.T, uids ...string) {
	t.Helper()
	for _, uid := range uids {
		dbtest.Seed(t, f.db, &infrastructure.AccountModel{UID: uid})
	}
}

func (f *fixture) balance(t *testing.T, uid string) int64 {
	t.Helper()
	acc, err := f.accounts.FindByID(context.Background(), uid)
	if err != nil {
		t.Fatalf("find account %s: %v", uid, err)
	}
	return acc.Coins
}

type fakeGateway struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (g *fakeGateway) OpenSession(_ context.Context, _ int64, kind domain.PurchaseKind) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	token := "tok-" + string(kind) + "-" + string(rune('a'+len(g.tokens)))
	g.tokens = append(g.tokens, token)
	return token, nil
}

// memoryDeduper 模拟 Redis 去重存储
type memoryDeduper struct {
	mu      sync.Mutex
	claimed map[string]bool
	down    bool
}

func newMemoryDeduper() *memoryDeduper {
	return &memoryDeduper{claimed: map[string]bool{}}
}

func (d *memoryDeduper) ClaimRecipients(_ context.Context, eventID string, uids []string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return nil, errors.New("redis: connection refused")
	}
	var fresh []string
	for _, uid := range uids {
		k := eventID + "|" + uid
		if !d.claimed[k] {
			d.claimed[k] = true
			fresh = append(fresh, uid)
		}
	}
	return fresh, nil
}

func (d *memoryDeduper) Release(_ context.Context, eventID, uid string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claimed, eventID+"|"+uid)
	return nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []*domain.Notification
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, n *domain.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, n)
	return nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (r *recordingEvents) PublishEvent(_ context.Context, e *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}
