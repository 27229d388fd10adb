package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/komikgate/komikgate/internal/governance"
	"github.com/komikgate/komikgate/pkg/domain"
	"github.com/komikgate/komikgate/pkg/rewrite"
	"github.com/komikgate/komikgate/pkg/telemetry"
)

// Metric endpoint labels.
const (
	endpointProxy    = "proxy"
	endpointProxyImg = "proxy_img"
)

// Fixed outbound headers. The upstream rejects default Go user agents, so the
// gateway presents a stable browser-like identity on every egress request.
const (
	outboundUserAgent = "Mozilla/5.0 (compatible; komikgate/1.0)"
	outboundAccept    = "application/json, text/plain, */*"
)

// ContentHandlerConfig holds the collaborators and limits of the content endpoint.
type ContentHandlerConfig struct {
	// UpstreamBaseURL is the fixed prefix the validated rest path is appended
	// to, e.g. "https://komikstation.org/comic/".
	UpstreamBaseURL string
	// PathPrefix is the required prefix of the client-supplied rest path.
	PathPrefix string
	// MaxJSONBytes caps the upstream JSON body size buffered for rewriting.
	MaxJSONBytes int64

	Limiter    *governance.RateLimiter
	Timeouts   *governance.TimeoutManager
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger
	HTTPClient *http.Client
}

// ContentHandler serves /api/proxy: it forwards catalog requests to the
// upstream, rewrites image URLs inside JSON responses, and streams everything
// else through untouched.
type ContentHandler struct {
	upstreamBase   string
	upstreamOrigin string
	pathPrefix     string
	maxJSONBytes   int64

	limiter  *governance.RateLimiter
	timeouts *governance.TimeoutManager
	metrics  *telemetry.Metrics
	rewriter *rewrite.Rewriter
	logger   *slog.Logger
	client   *http.Client
}

// NewContentHandler constructs the content endpoint handler.
func NewContentHandler(cfg ContentHandlerConfig) *ContentHandler {
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

	base, err := url.Parse(cfg.UpstreamBaseURL)
	if err != nil || !base.IsAbs() {
		panic("gateway: upstream base URL must be absolute")
	}

	maxJSON := cfg.MaxJSONBytes
	if maxJSON <= 0 {
		maxJSON = 2 << 20
	}

	return &ContentHandler{
		upstreamBase:   cfg.UpstreamBaseURL,
		upstreamOrigin: base.Scheme + "://" + base.Host,
		pathPrefix:     cfg.PathPrefix,
		maxJSONBytes:   maxJSON,
		limiter:        cfg.Limiter,
		timeouts:       timeouts,
		metrics:        cfg.Metrics,
		rewriter:       rewrite.New(logger),
		logger:         logger,
		client:         client,
	}
}

// ServeHTTP implements the per-request flow: preflight, rate check, path
// validation, upstream forward, then content-type branch between buffered
// JSON rewriting and streaming passthrough.
func (h *ContentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w = &statusRecorder{ResponseWriter: w}

	if handlePreflight(w, r) {
		return
	}

	logger := h.logger.With("request_id", uuid.New().String())

	identifier := clientIdentifier(r)
	if h.limiter.CheckAndRecord(identifier) {
		h.metrics.RecordRateLimited(endpointProxy)
		logger.Debug("rate limited", "client", identifier)
		governance.WriteRateLimitHeaders(w, h.limiter.Limit(), 0, time.Now().Add(h.limiter.Window()))
		writeErrorResponse(w, logger, domain.NewErrorResponse(http.StatusTooManyRequests, "Rate limit exceeded"))
		return
	}

	rest := r.URL.Query().Get("rest")
	if !strings.HasPrefix(rest, h.pathPrefix) {
		writeErrorResponse(w, logger, domain.NewErrorResponse(http.StatusBadRequest,
			"Invalid path: must start with "+h.pathPrefix))
		return
	}

	ctx, cancel := h.timeouts.WithRequestTimeout(r.Context())
	defer cancel()

	// The upstream URL shape is fixed: base + validated rest path, query and all.
	upstreamURL := h.upstreamBase + rest

	// Stream the client's own body through for methods that carry one.
	var reqBody io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Header.Get("Content-Type") != "" {
		reqBody = r.Body
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, upstreamURL, reqBody)
	if err != nil {
		h.metrics.RecordUpstreamError(endpointProxy, "request_build")
		writeErrorResponse(w, logger, domain.NewErrorResponse(http.StatusBadGateway,
			"Failed to build upstream request: "+err.Error()))
		return
	}

	req.Header.Set("User-Agent", outboundUserAgent)
	req.Header.Set("Accept", outboundAccept)
	if auth := r.Header.Get("Authorization"); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", r.Header.Get("Content-Type"))
		req.ContentLength = r.ContentLength
	}

	logger.Debug("forwarding to upstream",
		"method", r.Method,
		"upstream_url", upstreamURL,
		"client", identifier,
	)

	resp, err := h.client.Do(req)
	if err != nil {
		h.metrics.RecordUpstreamError(endpointProxy, "fetch")
		logger.Error("upstream request failed", "upstream_url", upstreamURL, "error", err)
		writeErrorResponse(w, logger, domain.NewErrorResponse(http.StatusBadGateway,
			"Upstream request failed: "+err.Error()))
		return
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Warn("failed to close upstream body", "error", cerr)
		}
	}()

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		h.bufferAndRewrite(w, resp, logger)
		return
	}

	n := streamPassthrough(w, resp, resp.Body, nil, logger)
	h.metrics.RecordStreamedBytes(endpointProxy, n)
}

// bufferAndRewrite reads the whole JSON body (bounded), rewrites image URLs
// in place, and re-serializes. Oversized bodies fail with 502 before any
// parsing; malformed JSON degrades to plain-text delivery of the raw bytes.
func (h *ContentHandler) bufferAndRewrite(w http.ResponseWriter, resp *http.Response, logger *slog.Logger) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, h.maxJSONBytes+1))
	if err != nil {
		h.metrics.RecordUpstreamError(endpointProxy, "read")
		logger.Error("failed to read upstream body", "error", err)
		writeErrorResponse(w, logger, domain.NewErrorResponse(http.StatusBadGateway,
			"Failed to read upstream response"))
		return
	}

	if int64(len(raw)) > h.maxJSONBytes {
		h.metrics.RecordUpstreamError(endpointProxy, "too_large")
		logger.Warn("upstream JSON exceeds buffer limit", "limit_bytes", h.maxJSONBytes)
		body := domain.NewErrorResponse(http.StatusBadGateway, "Upstream response too large to parse")
		rewrote := false
		body.Rewrote = &rewrote
		writeErrorResponse(w, logger, body)
		return
	}

	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		// Not fatal: serve the raw text instead of failing the request.
		logger.Warn("upstream body is not valid JSON, serving as plain text", "error", err)
		applyCORSHeaders(w.Header())
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(resp.StatusCode)
		if _, werr := w.Write(raw); werr != nil {
			logger.Warn("failed to write fallback body", "error", werr)
		}
		return
	}

	rewritten := h.rewriter.Rewrite(tree, h.upstreamOrigin)
	h.metrics.RecordRewrites(rewritten)

	out, err := json.Marshal(tree)
	if err != nil {
		writeErrorResponse(w, logger, domain.NewErrorResponse(http.StatusBadGateway,
			"Failed to serialize rewritten response"))
		return
	}

	logger.Debug("rewrote upstream JSON", "rewritten_urls", rewritten, "bytes", len(out))

	applyCORSHeaders(w.Header())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(out); err != nil {
		logger.Warn("failed to write rewritten body", "error", err)
	}
}
