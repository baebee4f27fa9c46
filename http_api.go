package drawcalc

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// calculateRequest is the JSON payload of POST /v1/calculate.
// Big integers are decimal or 0x-hex strings; picks is the 0x-hex ABI blob.
type calculateRequest struct {
	User           string   `json:"user" binding:"required"`
	WinningNumbers []string `json:"winning_numbers"`
	Timestamps     []uint64 `json:"timestamps"`
	PrizePools     []string `json:"prize_pools"`
	Picks          string   `json:"picks" binding:"required"`
}

type drawPayoutResponse struct {
	Index          int      `json:"index"`
	Timestamp      uint64   `json:"timestamp"`
	Balance        string   `json:"balance"`
	TotalUserPicks string   `json:"total_user_picks"`
	TierCounts     []uint64 `json:"tier_counts"`
	PrizeFraction  string   `json:"prize_fraction"`
	Awarded        string   `json:"awarded"`
}

type calculateResponse struct {
	RequestID       string               `json:"request_id"`
	User            string               `json:"user"`
	SettingsVersion uint64               `json:"settings_version"`
	Awarded         []string             `json:"awarded"`
	Draws           []drawPayoutResponse `json:"draws"`
}

type settingsResponse struct {
	Version     uint64              `json:"version"`
	InstalledAt time.Time           `json:"installed_at"`
	Settings    *DrawSettingsConfig `json:"settings"`
}

// NewRouter builds the HTTP API around calc:
//
//	POST /v1/calculate
//	GET  /v1/settings
//	PUT  /v1/settings
//	GET  /v1/settings/fraction/:tier
//	GET  /metrics
//	GET  /healthz
func NewRouter(calc *Calculator, collectors ...prometheus.Collector) *gin.Engine {
	registry := prometheus.NewRegistry()
	registry.MustRegister(calc.GetPerformanceMonitor())
	for _, c := range collectors {
		registry.MustRegister(c)
	}

	h := &apiHandler{calc: calc}

	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/v1")
	{
		v1.POST("/calculate", h.calculate)
		v1.GET("/settings", h.getSettings)
		v1.PUT("/settings", h.putSettings)
		v1.GET("/settings/fraction/:tier", h.getFraction)
	}

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

type apiHandler struct {
	calc *Calculator
}

// calculate handles POST /v1/calculate
func (h *apiHandler) calculate(c *gin.Context) {
	var body calculateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload: " + err.Error()})
		return
	}

	if !common.IsHexAddress(body.User) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user address"})
		return
	}
	picks, err := hexutil.Decode(body.Picks)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid picks: " + err.Error()})
		return
	}
	winningNumbers, err := parseBigInts(body.WinningNumbers)
	if err != nil {
		writeError(c, err)
		return
	}
	prizePools, err := parseBigInts(body.PrizePools)
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := h.calc.CalculateDetailed(c.Request.Context(), &CalculationRequest{
		User:           common.HexToAddress(body.User),
		WinningNumbers: winningNumbers,
		Timestamps:     body.Timestamps,
		PrizePools:     prizePools,
		EncodedPicks:   picks,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := calculateResponse{
		RequestID:       result.RequestID,
		User:            result.User.Hex(),
		SettingsVersion: result.SettingsVersion,
		Awarded:         make([]string, len(result.Draws)),
		Draws:           make([]drawPayoutResponse, len(result.Draws)),
	}
	for i, d := range result.Draws {
		resp.Awarded[i] = d.Awarded.String()
		resp.Draws[i] = drawPayoutResponse{
			Index:          d.Index,
			Timestamp:      d.Timestamp,
			Balance:        d.Balance.String(),
			TotalUserPicks: d.TotalUserPicks.String(),
			TierCounts:     d.TierCounts,
			PrizeFraction:  FormatFixedPoint(d.PrizeFraction),
			Awarded:        d.Awarded.String(),
		}
	}

	c.JSON(http.StatusOK, resp)
}

// getSettings handles GET /v1/settings
func (h *apiHandler) getSettings(c *gin.Context) {
	snapshot := h.calc.Settings().Current()
	if snapshot == nil {
		writeError(c, ErrSettingsNotInstalled)
		return
	}
	c.JSON(http.StatusOK, newSettingsResponse(snapshot))
}

// putSettings handles PUT /v1/settings
func (h *apiHandler) putSettings(c *gin.Context) {
	var body DrawSettingsConfig
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload: " + err.Error()})
		return
	}

	settings, err := body.ToDrawSettings()
	if err != nil {
		writeError(c, err)
		return
	}

	snapshot, err := h.calc.SetDrawSettings(c.Request.Context(), settings)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSettingsResponse(snapshot))
}

// getFraction handles GET /v1/settings/fraction/:tier
func (h *apiHandler) getFraction(c *gin.Context) {
	tier, err := strconv.Atoi(c.Param("tier"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tier"})
		return
	}

	fraction, err := h.calc.CalculatePrizeDistributionFraction(tier)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tier":     tier,
		"fraction": fraction.String(),
		"decimal":  FormatFixedPoint(fraction),
	})
}

func newSettingsResponse(snapshot *SettingsSnapshot) settingsResponse {
	return settingsResponse{
		Version:     snapshot.Version,
		InstalledAt: snapshot.InstalledAt,
		Settings:    NewDrawSettingsConfig(&snapshot.Settings),
	}
}

// writeError maps calculation errors to HTTP responses
func writeError(c *gin.Context, err error) {
	var calcErr *CalcError
	if !errors.As(err, &calcErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(httpStatus(calcErr), gin.H{
		"error":      calcErr.Error(),
		"code":       calcErr.Code,
		"request_id": calcErr.RequestID,
	})
}

func httpStatus(err *CalcError) int {
	switch err.Code {
	case ErrCodeSettingsNotInstalled:
		return http.StatusServiceUnavailable
	case ErrCodeSettingsVersionConflict, ErrCodeLockAcquisitionFailed, ErrCodeLockTimeout:
		return http.StatusConflict
	case ErrCodePrizeOverflow, ErrCodeSystem, ErrCodeConfigInvalid,
		ErrCodeSerializationFailed, ErrCodeDeserializationFailed:
		return http.StatusInternalServerError
	case ErrCodeRedisConnection, ErrCodeBalanceSourceUnavailable, ErrCodeCircuitBreakerOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}
