package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/komikgate/komikgate/internal/governance"
	"github.com/komikgate/komikgate/internal/guard"
	"github.com/komikgate/komikgate/pkg/domain"
	"github.com/komikgate/komikgate/pkg/telemetry"
)

// outboundImageAccept mirrors what browsers send for <img> fetches.
const outboundImageAccept = "image/avif,image/webp,image/*,*/*;q=0.8"

// ImageHandlerConfig holds the collaborators and limits of the image endpoint.
type ImageHandlerConfig struct {
	// MaxBytes rejects images whose declared Content-Length exceeds it.
	MaxBytes int64
	// PlaceholderURL is where image-expecting clients are redirected on
	// failure. Empty disables redirects and forces JSON errors.
	PlaceholderURL string
	// CacheMaxAge is the max-age, in seconds, of the Cache-Control header on
	// successful responses.
	CacheMaxAge int

	Guard      *guard.Guard
	Limiter    *governance.RateLimiter
	Timeouts   *governance.TimeoutManager
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger
	HTTPClient *http.Client
}

// ImageHandler serves /api/proxy-img: it validates an arbitrary target URL
// against the security guard, fetches it, and streams the image back with
// caching headers. Failures are reported as JSON or as a redirect to a
// placeholder image depending on what the client accepts.
type ImageHandler struct {
	maxBytes       int64
	placeholderURL string
	cacheMaxAge    int

	guard    *guard.Guard
	limiter  *governance.RateLimiter
	timeouts *governance.TimeoutManager
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	client   *http.Client
}

// NewImageHandler constructs the image endpoint handler.
func NewImageHandler(cfg ImageHandlerConfig) *ImageHandler {
	if cfg.Guard == nil {
		panic("gateway: security guard is required")
	}
	if cfg.Limiter == nil {
		panic("gateway: rate limiter is required")
	}
	if cfg.Metrics == nil {
		panic("gateway: metrics are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport}
	}

	timeouts := cfg.Timeouts
	if timeouts == nil {
		timeouts = governance.NewTimeoutManager(governance.DefaultTimeoutConfig())
	}

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}

	cacheMaxAge := cfg.CacheMaxAge
	if cacheMaxAge <= 0 {
		cacheMaxAge = 86400
	}

	return &ImageHandler{
		maxBytes:       maxBytes,
		placeholderURL: cfg.PlaceholderURL,
		cacheMaxAge:    cacheMaxAge,
		guard:          cfg.Guard,
		limiter:        cfg.Limiter,
		timeouts:       timeouts,
		metrics:        cfg.Metrics,
		logger:         logger,
		client:         client,
	}
}

// ServeHTTP implements the image-proxy flow: preflight, method and rate
// checks, guard validation, fetch, then streaming delivery.
func (h *ImageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w = &statusRecorder{ResponseWriter: w}

	if handlePreflight(w, r) {
		return
	}

	logger := h.logger.With("request_id", uuid.New().String())

	if r.Method != http.MethodGet {
		h.sendError(w, r, logger, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	identifier := clientIdentifier(r)
	if h.limiter.CheckAndRecord(identifier) {
		h.metrics.RecordRateLimited(endpointProxyImg)
		logger.Debug("rate limited", "client", identifier)
		governance.WriteRateLimitHeaders(w, h.limiter.Limit(), 0, time.Now().Add(h.limiter.Window()))
		h.sendError(w, r, logger, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	target := r.URL.Query().Get("url")
	if target == "" {
		h.sendError(w, r, logger, http.StatusBadRequest, "Missing url parameter")
		return
	}

	decision, err := h.guard.Validate(target)
	if decision != domain.DecisionAllowed {
		h.metrics.RecordSSRFRejection(decision.String())
		logger.Warn("rejected image target",
			"target", target,
			"decision", decision.String(),
			"error", err,
		)
		switch decision {
		case domain.DecisionRejectedNotAllowlisted:
			h.sendError(w, r, logger, http.StatusForbidden, "Target host is not allowed")
		default:
			h.sendError(w, r, logger, http.StatusBadRequest, "Invalid image URL")
		}
		return
	}

	ctx, cancel := h.timeouts.WithStreamingTimeout(r.Context())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		h.sendError(w, r, logger, http.StatusBadRequest, "Invalid image URL")
		return
	}
	req.Header.Set("User-Agent", outboundUserAgent)
	req.Header.Set("Accept", outboundImageAccept)

	resp, err := h.client.Do(req)
	if err != nil {
		h.metrics.RecordUpstreamError(endpointProxyImg, "fetch")
		logger.Error("image fetch failed", "target", target, "error", err)
		h.sendError(w, r, logger, http.StatusBadGateway, "Failed to fetch image")
		return
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Warn("failed to close image body", "error", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.metrics.RecordUpstreamError(endpointProxyImg, "status")
		logger.Warn("image origin returned error status", "target", target, "status", resp.StatusCode)
		h.sendError(w, r, logger, resp.StatusCode,
			fmt.Sprintf("Image origin returned status %d", resp.StatusCode))
		return
	}

	if resp.ContentLength > h.maxBytes {
		h.metrics.RecordUpstreamError(endpointProxyImg, "too_large")
		logger.Warn("image exceeds size limit",
			"target", target,
			"content_length", resp.ContentLength,
			"limit_bytes", h.maxBytes,
		)
		h.sendError(w, r, logger, http.StatusRequestEntityTooLarge, "Image exceeds size limit")
		return
	}

	extra := http.Header{}
	extra.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", h.cacheMaxAge))

	body := governance.NewIdleTimeoutReader(resp.Body, h.timeouts.Config().IdleTimeout)
	n := streamPassthrough(w, resp, body, extra, logger)
	h.metrics.RecordStreamedBytes(endpointProxyImg, n)
}

// sendError delivers a failure either as the standard JSON body or, for
// clients that asked for an image, as a 302 to the placeholder.
func (h *ImageHandler) sendError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, status int, message string) {
	if chooseErrorRepresentation(r.Header.Get("Accept")) == representationRedirect && h.placeholderURL != "" {
		applyCORSHeaders(w.Header())
		http.Redirect(w, r, h.placeholderURL, http.StatusFound)
		return
	}
	writeErrorResponse(w, logger, domain.NewErrorResponse(status, message))
}
