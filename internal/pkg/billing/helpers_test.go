package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/PlanPay/app/models"
	"github.com/ManuelReschke/PlanPay/app/repository"
)

type fakeGateway struct {
	mu        sync.Mutex
	orders    map[string]*GatewayOrder
	createErr error
	getErr    error
	getCalls  int
	// terminateRaw is the status reported after a termination request.
	terminateRaw   string
	terminateCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{orders: map[string]*GatewayOrder{}}
}

func (g *fakeGateway) CreateOrder(ctx context.Context, req GatewayOrderRequest) (*GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	o := &GatewayOrder{
		OrderID:          req.TransactionID,
		GatewayRef:       "cf_" + req.TransactionID,
		State:            OrderStatePending,
		RawStatus:        "ACTIVE",
		PaymentLink:      "https://pay.example.test/" + req.TransactionID,
		PaymentSessionID: "session_" + req.TransactionID,
		Amount:           req.Amount,
		Currency:         req.Currency,
	}
	g.orders[req.TransactionID] = o
	cp := *o
	return &cp, nil
}

func (g *fakeGateway) GetOrder(ctx context.Context, orderID string) (*GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	if g.getErr != nil {
		return nil, g.getErr
	}
	o, ok := g.orders[orderID]
	if !ok {
		return nil, errors.New("order not found at gateway")
	}
	cp := *o
	return &cp, nil
}

func (g *fakeGateway) TerminateOrder(ctx context.Context, orderID string) (*GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.terminateCalls++
	o, ok := g.orders[orderID]
	if !ok {
		return nil, errors.New("order not found at gateway")
	}
	if o.State == OrderStatePaid {
		return nil, errors.New("order is already paid")
	}
	if g.terminateRaw == "TERMINATION_REQUESTED" {
		o.RawStatus = g.terminateRaw
	} else {
		o.State = OrderStateFailed
		o.RawStatus = "TERMINATED"
	}
	cp := *o
	return &cp, nil
}

func (g *fakeGateway) setState(orderID string, state OrderState, raw string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderID]
	if !ok {
		o = &GatewayOrder{OrderID: orderID}
		g.orders[orderID] = o
	}
	o.State = state
	o.RawStatus = raw
	if state == OrderStatePaid {
		o.PaymentMethod = "upi"
	}
}

func (g *fakeGateway) setGetErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getErr = err
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{calls: map[string]int{}}
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, payment *models.Payment, user *models.User) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[payment.TransactionID]++
	if d.err != nil {
		return "", d.err
	}
	return "invoices/" + payment.TransactionID + ".html", nil
}

func (d *fakeDispatcher) count(transactionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[transactionID]
}

func (d *fakeDispatcher) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

type recordingScheduler struct {
	mu  sync.Mutex
	ids []uint
	err error
}

func (s *recordingScheduler) ScheduleWebhookEvent(ctx context.Context, eventID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.ids = append(s.ids, eventID)
	return nil
}

type testEnv struct {
	db      *gorm.DB
	svc     *Service
	gateway *fakeGateway
	invoice *fakeDispatcher
	user    *models.User
	repo    Repository
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.PricingPlan{},
		&models.Payment{},
		&models.BillingWebhookEvent{},
	))
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, DefaultConfig())
}

func newTestEnvWithConfig(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	ctx := context.Background()
	db := newTestDB(t)
	repos := repository.NewRepositories(db)

	for _, p := range []models.PricingPlan{
		{PlanKey: "free", Name: "Free", Currency: "INR", IsActive: true, Version: 1},
		{PlanKey: "pro", Name: "Pro", MonthlyPrice: 999, YearlyPrice: 9990, Currency: "INR", IsPremium: true, IsActive: true, Version: 1},
		{PlanKey: "business", Name: "Business", MonthlyPrice: 2999, YearlyPrice: 29990, Currency: "INR", IsPremium: true, IsActive: true, Version: 1},
	} {
		plan := p
		require.NoError(t, repos.Plan.Upsert(ctx, &plan))
	}

	user := &models.User{Name: "Jamie Doe", Email: "jamie@example.com", Role: models.ROLE_USER, Status: models.STATUS_ACTIVE}
	require.NoError(t, repos.User.Create(ctx, user))

	gw := newFakeGateway()
	inv := newFakeDispatcher()
	repo := NewRepository(db)
	svc := NewService(Dependencies{
		Repo:     repo,
		Plans:    repos.Plan,
		Users:    repos.User,
		Gateway:  gw,
		Invoices: inv,
		Config:   cfg,
	})

	return &testEnv{db: db, svc: svc, gateway: gw, invoice: inv, user: user, repo: repo}
}

func (e *testEnv) createOrder(t *testing.T, planID, cycle string) *CreateOrderResult {
	t.Helper()
	res, err := e.svc.Orders.CreateOrder(context.Background(), CreateOrderInput{
		UserID:       e.user.ID,
		PlanID:       planID,
		BillingCycle: cycle,
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) payment(t *testing.T, transactionID string) *models.Payment {
	t.Helper()
	p, err := e.repo.GetPaymentByTransactionID(context.Background(), transactionID)
	require.NoError(t, err)
	return p
}

func (e *testEnv) reloadUser(t *testing.T) *models.User {
	t.Helper()
	var u models.User
	require.NoError(t, e.db.First(&u, e.user.ID).Error)
	return &u
}

func (e *testEnv) ageRow(t *testing.T, model interface{}, column string, id uint, age time.Duration) {
	t.Helper()
	require.NoError(t, e.db.Model(model).Where("id = ?", id).Update(column, time.Now().UTC().Add(-age)).Error)
}
