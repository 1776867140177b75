package models

type CreateOrderRequest struct {
	Owner      string   `json:"owner"`
	Price      int64    `json:"price"` // base units
	Quantity   int64    `json:"quantity"`
	TTLSeconds int64    `json:"ttl_seconds"`
	IsMultisig bool     `json:"is_multisig"`
	Threshold  int      `json:"threshold,omitempty"`
	Approvers  []string `json:"approvers,omitempty"`
}

type OrderResponse struct {
	OrderID    string `json:"order_id"`
	Owner      string `json:"owner"`
	Price      int64  `json:"price"`
	Quantity   int64  `json:"quantity"`
	Remaining  int64  `json:"remaining"`
	Escrowed   int64  `json:"escrowed"`
	Status     string `json:"status"`
	CreatedAt  int64  `json:"created_at"` // unix milliseconds
	ExpiresAt  int64  `json:"expires_at"` // unix milliseconds
	IsMultisig bool   `json:"is_multisig"`
	Threshold  int    `json:"threshold,omitempty"`
	Approvals  int    `json:"approvals,omitempty"`
	Version    uint64 `json:"version"`
}

type FillOrderRequest struct {
	Taker    string `json:"taker"`
	Quantity int64  `json:"quantity"`
}

type FillResponse struct {
	FillID     string `json:"fill_id"`
	OrderID    string `json:"order_id"`
	Maker      string `json:"maker"`
	Taker      string `json:"taker"`
	Quantity   int64  `json:"quantity"`
	Remaining  int64  `json:"remaining"`
	Status     string `json:"status"`
	Settlement int64  `json:"settlement"`
	Fee        int64  `json:"fee"`
	Rebate     int64  `json:"rebate"`
	Reward     int64  `json:"reward,omitempty"`
	Timestamp  int64  `json:"timestamp"` // unix milliseconds
}

type CancelOrderRequest struct {
	Caller string `json:"caller"`
}

type ApproveOrderRequest struct {
	Approver string `json:"approver"`
}

type CommitOrderRequest struct {
	OrderID string `json:"order_id"`
	Owner   string `json:"owner"`
	Hash    string `json:"hash"` // hex-encoded 32-byte digest
}

type RevealOrderRequest struct {
	Owner      string   `json:"owner"`
	Price      int64    `json:"price"`
	Quantity   int64    `json:"quantity"`
	TTLSeconds int64    `json:"ttl_seconds"`
	IsMultisig bool     `json:"is_multisig"`
	Threshold  uint8    `json:"threshold,omitempty"`
	Nonce      uint64   `json:"nonce"`
	Approvers  []string `json:"approvers,omitempty"`
}

type StakeRequest struct {
	Trader string `json:"trader"`
	Amount int64  `json:"amount"`
}

type StakeResponse struct {
	Trader      string `json:"trader"`
	Amount      int64  `json:"amount"`
	Tier        string `json:"tier"`
	Weight      int    `json:"weight"`
	DiscountBps int64  `json:"discount_bps"`
}

type TreasuryWithdrawRequest struct {
	GovernanceAccount string `json:"governance_account"`
	Amount            int64  `json:"amount"`
}

type FeeUpdateRequest struct {
	GovernanceAccount string `json:"governance_account"`
	FeeBps            int64  `json:"fee_bps"`
}

type TreasuryResponse struct {
	Balance   int64 `json:"balance"`
	FeeBps    int64 `json:"fee_bps"`
	MaxFeeBps int64 `json:"max_fee_bps"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	OrdersTracked int64  `json:"orders_tracked"`
}

type MetricsResponse struct {
	OrdersCreated       int64   `json:"orders_created"`
	OrdersFilled        int64   `json:"orders_filled"`
	FillsExecuted       int64   `json:"fills_executed"`
	OrdersCancelled     int64   `json:"orders_cancelled"`
	OrdersExpired       int64   `json:"orders_expired"`
	Commits             int64   `json:"commits"`
	Reveals             int64   `json:"reveals"`
	Approvals           int64   `json:"approvals"`
	OrdersTracked       int64   `json:"orders_tracked"`
	LatencyP50Ms        float64 `json:"latency_p50_ms"`
	LatencyP99Ms        float64 `json:"latency_p99_ms"`
	ThroughputOpsPerSec float64 `json:"throughput_ops_per_sec"`
	FeedSubscribers     int     `json:"feed_subscribers"`
	TreasuryBalance     int64   `json:"treasury_balance"`
	CurrentFeeBps       int64   `json:"current_fee_bps"`
}
