package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/PlanPay/app/models"
	"github.com/ManuelReschke/PlanPay/app/repository"
	"github.com/ManuelReschke/PlanPay/internal/pkg/billing"
	"github.com/ManuelReschke/PlanPay/internal/pkg/middleware"
	"github.com/ManuelReschke/PlanPay/internal/pkg/usercontext"
)

const testUserHeader = "X-Test-User"

type stubGateway struct {
	mu        sync.Mutex
	states    map[string]billing.OrderState
	createErr error
	getErr    error
}

func (g *stubGateway) CreateOrder(_ context.Context, req billing.GatewayOrderRequest) (*billing.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.states[req.TransactionID] = billing.OrderStatePending
	return &billing.GatewayOrder{
		OrderID:          req.TransactionID,
		GatewayRef:       "cf_" + req.TransactionID,
		State:            billing.OrderStatePending,
		RawStatus:        "ACTIVE",
		PaymentLink:      "https://pay.example.test/" + req.TransactionID,
		PaymentSessionID: "session_" + req.TransactionID,
	}, nil
}

func (g *stubGateway) GetOrder(_ context.Context, orderID string) (*billing.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return nil, g.getErr
	}
	state, ok := g.states[orderID]
	if !ok {
		return nil, errors.New("order not found at gateway")
	}
	raw := "ACTIVE"
	switch state {
	case billing.OrderStatePaid:
		raw = "PAID"
	case billing.OrderStateFailed:
		raw = "EXPIRED"
	}
	return &billing.GatewayOrder{OrderID: orderID, State: state, RawStatus: raw, PaymentMethod: "upi"}, nil
}

func (g *stubGateway) TerminateOrder(_ context.Context, orderID string) (*billing.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.states[orderID] == billing.OrderStatePaid {
		return nil, errors.New("order is already paid")
	}
	g.states[orderID] = billing.OrderStateFailed
	return &billing.GatewayOrder{OrderID: orderID, State: billing.OrderStateFailed, RawStatus: "TERMINATED"}, nil
}

func (g *stubGateway) set(orderID string, state billing.OrderState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.states[orderID] = state
}

type nopScheduler struct {
	mu  sync.Mutex
	ids []uint
}

func (s *nopScheduler) ScheduleWebhookEvent(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	return nil
}

type apiEnv struct {
	app       *fiber.App
	svc       *billing.Service
	gateway   *stubGateway
	scheduler *nopScheduler
	user      *models.User
	db        *gorm.DB
}

func newAPIEnv(t *testing.T, webhookSecret string) *apiEnv {
	t.Helper()
	ctx := context.Background()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.PricingPlan{}, &models.Payment{}, &models.BillingWebhookEvent{}))

	repos := repository.NewRepositories(db)
	for _, p := range []models.PricingPlan{
		{PlanKey: "free", Name: "Free", Currency: "INR", IsActive: true, Version: 1},
		{PlanKey: "pro", Name: "Pro", MonthlyPrice: 999, YearlyPrice: 9990, Currency: "INR", IsPremium: true, IsActive: true, Version: 1},
	} {
		plan := p
		require.NoError(t, repos.Plan.Upsert(ctx, &plan))
	}
	user := &models.User{Name: "Jamie Doe", Email: "jamie@example.com", Role: models.ROLE_USER, Status: models.STATUS_ACTIVE}
	require.NoError(t, repos.User.Create(ctx, user))

	gw := &stubGateway{states: map[string]billing.OrderState{}}
	svc := billing.NewServiceFromDB(db, gw, nil, billing.DefaultConfig())
	sched := &nopScheduler{}
	svc.Webhooks.SetScheduler(sched)

	app := fiber.New()
	// Stands in for the bearer-token middleware.
	app.Use(func(c *fiber.Ctx) error {
		uc := usercontext.UserContext{}
		if id, err := strconv.ParseUint(c.Get(testUserHeader), 10, 64); err == nil && id > 0 {
			uc = usercontext.UserContext{UserID: uint(id), IsLoggedIn: true}
		}
		usercontext.SetUserContext(c, uc)
		return c.Next()
	})

	pc := NewPaymentController(svc)
	wc := NewWebhookController(svc.Webhooks, webhookSecret)
	app.Post("/orders", middleware.RequireAPIAuth, pc.HandleCreateOrder)
	app.Post("/orders/verify", middleware.RequireAPIAuth, pc.HandleVerifyOrder)
	app.Put("/auto-renewal", middleware.RequireAPIAuth, pc.HandleSetAutoRenewal)
	app.Get("/plans", pc.HandleListPlans)
	app.Get("/subscription", middleware.RequireAPIAuth, pc.HandleGetSubscription)
	app.Get("/payments", middleware.RequireAPIAuth, pc.HandleListPayments)
	app.Get("/payments/:orderId", middleware.RequireAPIAuth, pc.HandleGetPayment)
	app.Post("/webhook", wc.HandleWebhook)

	return &apiEnv{app: app, svc: svc, gateway: gw, scheduler: sched, user: user, db: db}
}

// call sends a JSON request as userID (0 = anonymous) and decodes the reply.
func (e *apiEnv) call(t *testing.T, method, path string, userID uint, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if userID != 0 {
		req.Header.Set(testUserHeader, strconv.FormatUint(uint64(userID), 10))
	}
	return doRequest(t, e.app, req)
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

// createOrder opens a pro/monthly order for the seeded user.
func (e *apiEnv) createOrder(t *testing.T) string {
	t.Helper()
	status, body := e.call(t, fiber.MethodPost, "/orders", e.user.ID, map[string]string{"planId": "pro"})
	require.Equal(t, fiber.StatusCreated, status, body)
	return body["orderId"].(string)
}
