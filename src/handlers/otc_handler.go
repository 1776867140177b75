package handlers

import (
	"encoding/hex"
	"errors"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"otc-engine/src/engine"
	"otc-engine/src/feed"
	"otc-engine/src/models"
)

type OTCHandler struct {
	Engine    *engine.Engine
	FillHub   *feed.Hub[engine.FillResult]
	StartTime time.Time

	opsProcessed int64

	latencies    []time.Duration
	latenciesMu  sync.RWMutex
	maxLatencies int
}

func NewOTCHandler(eng *engine.Engine, hub *feed.Hub[engine.FillResult]) *OTCHandler {
	maxLatencies := 10000
	if envMax := os.Getenv("METRICS_MAX_LATENCIES"); envMax != "" {
		if parsed, err := strconv.Atoi(envMax); err == nil && parsed > 0 {
			maxLatencies = parsed
		}
	}

	return &OTCHandler{
		Engine:       eng,
		FillHub:      hub,
		StartTime:    time.Now(),
		latencies:    make([]time.Duration, 0, maxLatencies),
		maxLatencies: maxLatencies,
	}
}

// respondError maps the engine's typed errors to HTTP statuses.
func respondError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInvalidParameters):
		status = fiber.StatusBadRequest
	case errors.Is(err, engine.ErrUnauthorized):
		status = fiber.StatusForbidden
	case errors.Is(err, engine.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, engine.ErrInsufficientCollateral),
		errors.Is(err, engine.ErrInsufficientStake),
		errors.Is(err, engine.ErrInsufficientTreasury):
		status = fiber.StatusPaymentRequired
	case errors.Is(err, engine.ErrInvalidState),
		errors.Is(err, engine.ErrOverFill),
		errors.Is(err, engine.ErrAlreadyCommitted),
		errors.Is(err, engine.ErrHashMismatch),
		errors.Is(err, engine.ErrSettlementFailed):
		status = fiber.StatusConflict
	}

	if status >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	} else {
		log.Warn().Err(err).Str("path", c.Path()).Str("ip", c.IP()).Msg("Request rejected")
	}

	return c.Status(status).JSON(models.ErrorResponse{
		Error: err.Error(),
		Code:  engine.ErrorCode(err),
	})
}

func badJSON(c *fiber.Ctx, err error) error {
	log.Warn().Err(err).Str("ip", c.IP()).Str("path", c.Path()).Msg("Invalid request: malformed JSON")
	return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
		Error: "Invalid request: malformed JSON",
		Code:  "INVALID_PARAMETERS",
	})
}

func orderResponse(snap engine.OrderSnapshot) models.OrderResponse {
	return models.OrderResponse{
		OrderID:    snap.ID,
		Owner:      snap.Owner,
		Price:      snap.Price,
		Quantity:   snap.Quantity,
		Remaining:  snap.Remaining,
		Escrowed:   snap.Escrowed,
		Status:     string(snap.Status),
		CreatedAt:  snap.CreatedAt.UnixMilli(),
		ExpiresAt:  snap.ExpiresAt.UnixMilli(),
		IsMultisig: snap.IsMultisig,
		Threshold:  snap.Threshold,
		Approvals:  snap.Approvals,
		Version:    snap.Version,
	}
}

func stakeResponse(pos engine.StakePosition) models.StakeResponse {
	return models.StakeResponse{
		Trader:      pos.Trader,
		Amount:      pos.Amount,
		Tier:        pos.Tier.String(),
		Weight:      pos.Weight,
		DiscountBps: pos.DiscountBps,
	}
}

func treasuryResponse(snap engine.TreasurySnapshot) models.TreasuryResponse {
	return models.TreasuryResponse{
		Balance:   snap.Balance,
		FeeBps:    snap.FeeBps,
		MaxFeeBps: snap.MaxFeeBps,
	}
}

func (h *OTCHandler) CreateOrder(c *fiber.Ctx) error {
	var req models.CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c, err)
	}

	done := h.track()
	snap, err := h.Engine.CreateOrder(engine.CreateOrderParams{
		Owner:      req.Owner,
		Price:      req.Price,
		Quantity:   req.Quantity,
		ExpiresAt:  h.Engine.Clock().Now().Add(time.Duration(req.TTLSeconds) * time.Second),
		IsMultisig: req.IsMultisig,
		Threshold:  req.Threshold,
		Approvers:  req.Approvers,
	})
	done()
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(orderResponse(snap))
}

func (h *OTCHandler) FillOrder(c *fiber.Ctx) error {
	var req models.FillOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c, err)
	}

	done := h.track()
	result, err := h.Engine.FillOrder(c.Params("id"), req.Taker, req.Quantity)
	done()
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(models.FillResponse{
		FillID:     result.FillID,
		OrderID:    result.OrderID,
		Maker:      result.Maker,
		Taker:      result.Taker,
		Quantity:   result.Quantity,
		Remaining:  result.Remaining,
		Status:     string(result.Status),
		Settlement: result.Settlement,
		Fee:        result.Fee,
		Rebate:     result.Rebate,
		Reward:     result.Reward,
		Timestamp:  result.Timestamp,
	})
}

func (h *OTCHandler) CancelOrder(c *fiber.Ctx) error {
	var req models.CancelOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c, err)
	}

	done := h.track()
	snap, err := h.Engine.CancelOrder(c.Params("id"), req.Caller)
	done()
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(orderResponse(snap))
}

func (h *OTCHandler) ExpireOrder(c *fiber.Ctx) error {
	done := h.track()
	snap, err := h.Engine.ExpireOrder(c.Params("id"))
	done()
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(orderResponse(snap))
}

func (h *OTCHandler) ApproveOrder(c *fiber.Ctx) error {
	var req models.ApproveOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c, err)
	}

	done := h.track()
	snap, err := h.Engine.ApproveOrder(c.Params("id"), req.Approver)
	done()
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(orderResponse(snap))
}

func (h *OTCHandler) GetOrder(c *fiber.Ctx) error {
	snap, err := h.Engine.GetOrder(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(orderResponse(snap))
}

func (h *OTCHandler) CommitOrder(c *fiber.Ctx) error {
	var req models.CommitOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c, err)
	}

	raw, err := hex.DecodeString(req.Hash)
	if err != nil || len(raw) != 32 {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid commitment: hash must be 32 hex-encoded bytes",
			Code:  "INVALID_PARAMETERS",
		})
	}
	var hash [32]byte
	copy(hash[:], raw)

	done := h.track()
	err = h.Engine.CommitOrder(req.OrderID, req.Owner, hash)
	done()
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"order_id": req.OrderID,
		"status":   "COMMITTED",
	})
}

func (h *OTCHandler) RevealOrder(c *fiber.Ctx) error {
	var req models.RevealOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c, err)
	}

	done := h.track()
	snap, err := h.Engine.RevealOrder(c.Params("id"), req.Owner, engine.RevealPayload{
		Price:      req.Price,
		Quantity:   req.Quantity,
		TTLSeconds: req.TTLSeconds,
		IsMultisig: req.IsMultisig,
		Threshold:  req.Threshold,
		Nonce:      req.Nonce,
	}, req.Approvers)
	done()
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(orderResponse(snap))
}

func (h *OTCHandler) StakeTokens(c *fiber.Ctx) error {
	var req models.StakeRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c, err)
	}

	done := h.track()
	pos, err := h.Engine.StakeTokens(req.Trader, req.Amount)
	done()
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(stakeResponse(pos))
}

func (h *OTCHandler) WithdrawStake(c *fiber.Ctx) error {
	var req models.StakeRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c, err)
	}

	done := h.track()
	pos, err := h.Engine.WithdrawStake(req.Trader, req.Amount)
	done()
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(stakeResponse(pos))
}

func (h *OTCHandler) GetStake(c *fiber.Ctx) error {
	pos := h.Engine.StakePosition(c.Params("trader"))
	return c.Status(fiber.StatusOK).JSON(stakeResponse(pos))
}

func (h *OTCHandler) WithdrawTreasury(c *fiber.Ctx) error {
	var req models.TreasuryWithdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c, err)
	}

	done := h.track()
	snap, err := h.Engine.WithdrawTreasury(req.Amount, req.GovernanceAccount)
	done()
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(treasuryResponse(snap))
}

func (h *OTCHandler) UpdateFee(c *fiber.Ctx) error {
	var req models.FeeUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c, err)
	}

	done := h.track()
	snap, err := h.Engine.UpdateFeeBps(req.FeeBps, req.GovernanceAccount)
	done()
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(treasuryResponse(snap))
}

func (h *OTCHandler) GetTreasury(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(treasuryResponse(h.Engine.Treasury()))
}

func (h *OTCHandler) HealthCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(models.HealthResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.StartTime).Seconds()),
		OrdersTracked: int64(h.Engine.OrderCount()),
	})
}

func (h *OTCHandler) Metrics(c *fiber.Ctx) error {
	counters := h.Engine.Counters()
	treasury := h.Engine.Treasury()
	p50, p99 := h.latencyPercentiles()

	return c.Status(fiber.StatusOK).JSON(models.MetricsResponse{
		OrdersCreated:       counters.OrdersCreated,
		OrdersFilled:        counters.OrdersFilled,
		FillsExecuted:       counters.FillsExecuted,
		OrdersCancelled:     counters.OrdersCancelled,
		OrdersExpired:       counters.OrdersExpired,
		Commits:             counters.Commits,
		Reveals:             counters.Reveals,
		Approvals:           counters.Approvals,
		OrdersTracked:       int64(h.Engine.OrderCount()),
		LatencyP50Ms:        p50,
		LatencyP99Ms:        p99,
		ThroughputOpsPerSec: h.throughput(),
		FeedSubscribers:     h.FillHub.SubscriberCount(),
		TreasuryBalance:     treasury.Balance,
		CurrentFeeBps:       treasury.FeeBps,
	})
}

// track times one mutating operation for the latency percentiles.
func (h *OTCHandler) track() func() {
	start := time.Now()
	return func() {
		atomic.AddInt64(&h.opsProcessed, 1)
		h.recordLatency(time.Since(start))
	}
}

func (h *OTCHandler) recordLatency(latency time.Duration) {
	h.latenciesMu.Lock()
	defer h.latenciesMu.Unlock()

	h.latencies = append(h.latencies, latency)

	// edge case: maintain rolling window by removing oldest measurements
	if len(h.latencies) > h.maxLatencies {
		h.latencies = h.latencies[len(h.latencies)-h.maxLatencies:]
	}
}

func (h *OTCHandler) latencyPercentiles() (p50, p99 float64) {
	h.latenciesMu.RLock()
	defer h.latenciesMu.RUnlock()

	if len(h.latencies) == 0 {
		return 0, 0
	}

	sorted := make([]time.Duration, len(h.latencies))
	copy(sorted, h.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	at := func(q float64) float64 {
		idx := int(float64(len(sorted)) * q)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return float64(sorted[idx].Nanoseconds()) / 1e6
	}
	return at(0.50), at(0.99)
}

func (h *OTCHandler) throughput() float64 {
	uptime := time.Since(h.StartTime).Seconds()
	if uptime <= 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&h.opsProcessed)) / uptime
}
