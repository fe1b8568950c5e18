package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"jeutaime/internal/pkg/auth"
	"jeutaime/internal/pkg/logger"
	"jeutaime/internal/service/economy/application"
	"jeutaime/internal/service/economy/domain"
)

// 请求体上限，所有接口的载荷都很小
const maxBodyBytes = 1 << 16

// EconomyHandler 封装了经济核心的 HTTP 处理器
type EconomyHandler struct {
	ledger     *application.LedgerService
	redemption *application.RedemptionService
	membership *application.MembershipService
	fanout     *application.FanoutService
}

func NewEconomyHandler(
	ledger *application.LedgerService,
	redemption *application.RedemptionService,
	membership *application.MembershipService,
	fanout *application.FanoutService,
) *EconomyHandler {
	return &EconomyHandler{ledger: ledger, redemption: redemption, membership: membership, fanout: fanout}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *EconomyHandler) RegisterRoutes(mux *http.ServeMux) {
	RegisterOpsRoutes(mux)

	mux.HandleFunc("GET /v1/ledger/balance", h.balance)
	mux.HandleFunc("POST /v1/ledger/purchases", h.openPurchase)
	mux.HandleFunc("POST /v1/promo/redeem", h.redeemPromo)
	mux.HandleFunc("POST /v1/referrals", h.createReferral)
	mux.HandleFunc("POST /v1/referrals/redeem", h.redeemReferral)
	mux.HandleFunc("POST /v1/groups/join", h.joinGroup)
	mux.HandleFunc("POST /v1/groups/leave", h.leaveGroup)
	mux.HandleFunc("GET /v1/notifications", h.inbox)
	mux.HandleFunc("POST /v1/admin/promo-codes", h.issuePromo)
	mux.HandleFunc("POST /webhooks/payments", h.paymentWebhook)
}

// RegisterOpsRoutes 注册健康检查和 Prometheus 指标
func RegisterOpsRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", promhttp.Handler())
}

// WithTracePropagation 从请求头中恢复上游的链路上下文
func WithTracePropagation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *EconomyHandler) balance(w http.ResponseWriter, r *http.Request) {
	uid := auth.UIDFrom(r.Context())
	coins, err := h.ledger.Balance(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.BalanceResponse{UID: uid, Coins: coins})
}

func (h *EconomyHandler) openPurchase(w http.ResponseWriter, r *http.Request) {
	var req application.OpenPurchaseRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.ledger.OpenPurchase(r.Context(), auth.UIDFrom(r.Context()), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *EconomyHandler) redeemPromo(w http.ResponseWriter, r *http.Request) {
	var req application.RedeemCodeRequest
	if !decode(w, r, &req) {
		return
	}
	reward, err := h.redemption.RedeemPromo(r.Context(), auth.UIDFrom(r.Context()), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.RedeemPromoResponse{Reward: reward})
}

func (h *EconomyHandler) createReferral(w http.ResponseWriter, r *http.Request) {
	var req application.CreateReferralRequest
	if !decode(w, r, &req) {
		return
	}
	code, err := h.redemption.CreateReferral(r.Context(), auth.UIDFrom(r.Context()), req.ReferredEmail)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, application.CreateReferralResponse{Code: code})
}

func (h *EconomyHandler) redeemReferral(w http.ResponseWriter, r *http.Request) {
	var req application.RedeemCodeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.redemption.RedeemReferral(r.Context(), auth.UIDFrom(r.Context()), req.Code); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EconomyHandler) joinGroup(w http.ResponseWriter, r *http.Request) {
	h.groupOp(w, r, h.membership.Join)
}

func (h *EconomyHandler) leaveGroup(w http.ResponseWriter, r *http.Request) {
	h.groupOp(w, r, h.membership.Leave)
}

func (h *EconomyHandler) groupOp(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string) (string, error)) {
	var req application.GroupRequest
	if !decode(w, r, &req) {
		return
	}
	groupID, err := op(r.Context(), auth.UIDFrom(r.Context()), req.BarID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.GroupResponse{GroupID: groupID})
}

func (h *EconomyHandler) inbox(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.fanout.Inbox(r.Context(), auth.UIDFrom(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *EconomyHandler) issuePromo(w http.ResponseWriter, r *http.Request) {
	var req application.IssuePromoRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.redemption.IssuePromo(r.Context(), auth.UIDFrom(r.Context()), &req); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// checkoutEvent 是支付网关 webhook 的载荷，只关心会话 ID
type checkoutEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

// paymentWebhook 接收 checkout.session.completed / checkout.session.expired。
// 签名校验由网关前置完成，这里只做状态推进。
func (h *EconomyHandler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	var evt checkoutEvent
	if !decode(w, r, &evt) {
		return
	}

	var outcome domain.PurchaseStatus
	switch evt.Type {
	case "checkout.session.completed":
		outcome = domain.PurchaseStatusCompleted
	case "checkout.session.expired":
		outcome = domain.PurchaseStatusFailed
	default:
		logger.Ctx(r.Context()).Debug().Str("type", evt.Type).Msg("ignoring payment webhook event")
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	err := h.ledger.ApplySettlement(r.Context(), &application.SettlementSignal{
		SessionToken: evt.Data.Object.ID,
		Outcome:      string(outcome),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, r, errors.Wrap(domain.ErrInvalidArgument, "malformed request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor 把错误分类映射为 HTTP 状态码
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindAlreadyUsed, domain.KindConflict:
		return http.StatusConflict
	case domain.KindAlreadySettled:
		return http.StatusOK
	case domain.KindPermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: string(kind)})
}
