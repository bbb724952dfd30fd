package api

import (
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawsym/symdex-engine/internal/audit"
	"github.com/rawsym/symdex-engine/internal/cluster"
	"github.com/rawsym/symdex-engine/internal/db"
	"github.com/rawsym/symdex-engine/internal/disasm"
	"github.com/rawsym/symdex-engine/internal/ingest"
	"github.com/rawsym/symdex-engine/internal/match"
	"github.com/rawsym/symdex-engine/internal/storage"
	"github.com/rawsym/symdex-engine/pkg/models"
)

// maxSubmatchAnchors caps the window self-join fan-out for a single query.
// Beyond it the request is refused rather than letting one pathological
// symbol saturate the store.
const maxSubmatchAnchors = 1_000_000

const defaultPageSize = 50

type APIHandler struct {
	store    *db.PostgresStore
	blobs    *storage.BlobStore
	codec    disasm.Adapter
	pipeline *ingest.Pipeline
	auditor  *audit.Auditor
	wsHub    *Hub
	window   int
}

// corsMiddleware allows the browser viewer to call the read API from
// another origin. ALLOWED_ORIGINS is a comma-separated allowlist; empty or
// "*" opens the API wide, which is fine for a read-mostly index behind a
// token-guarded mutating surface. The allowlist is resolved once at router
// construction, not per request.
func corsMiddleware() gin.HandlerFunc {
	allowAll := true
	allowed := make(map[string]bool)
	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" && raw != "*" {
		allowAll = false
		for _, origin := range strings.Split(raw, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		header := c.Writer.Header()
		switch {
		case allowAll:
			header.Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			// Credentials only travel to explicitly allowlisted origins.
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")
			header.Set("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func SetupRouter(store *db.PostgresStore, blobs *storage.BlobStore, codec disasm.Adapter, pipeline *ingest.Pipeline, auditor *audit.Auditor, wsHub *Hub, window int) *gin.Engine {
	r := gin.Default()
	r.Use(corsMiddleware())

	handler := &APIHandler{
		store:    store,
		blobs:    blobs,
		codec:    codec,
		pipeline: pipeline,
		auditor:  auditor,
		wsHub:    wsHub,
		window:   window,
	}

	// One cost budget covers the whole surface: point lookups are cheap,
	// the submatch self-join and ingestion are not.
	limiter := NewQueryLimiter(600, time.Minute)

	// ── Public read surface ────────────────────────────────────
	pub := r.Group("", limiter.Charge(CostRead))
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/stream", wsHub.Subscribe)
		pub.GET("/projects", handler.handleListProjects)
		pub.GET("/sources/:slug", handler.handleGetSource)
		pub.GET("/sources/:slug/clusters", handler.handleClusters)
		pub.GET("/sources/:slug/agreement", handler.handleAgreement)
		pub.POST("/symbols", handler.handleSearchSymbols)
		pub.GET("/symbols/:slug", handler.handleGetSymbol)
		pub.GET("/symbols/:slug/asm", handler.handleGetAsm)
		pub.GET("/symbols/:slug/match", handler.handleFullMatch)
	}

	// The anchor self-join is the one hot path — it charges accordingly.
	r.POST("/symbols/:slug/submatch", limiter.Charge(CostSubmatch), handler.handleSubmatch)

	// ── Protected mutating surface ─────────────────────────────
	guard := NewAuthenticator(os.Getenv("API_AUTH_TOKEN"), gin.Mode() == gin.ReleaseMode)
	mutating := r.Group("", guard.RequireToken(), limiter.Charge(CostIngest))
	{
		mutating.POST("/upload", handler.handleUpload)
		mutating.POST("/sources/:slug/audit", handler.handleAudit)
		mutating.DELETE("/sources/:slug", handler.handleDeleteSource)
	}

	return r
}

// abortWith maps the shared error taxonomy onto HTTP statuses. Read paths
// surface errors unchanged; this is the single translation point.
func abortWith(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidRange), errors.Is(err, models.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, models.ErrResourceExhausted):
		status = http.StatusTooManyRequests
	case errors.Is(err, models.ErrCancelled):
		status = 499 // client closed request
	case errors.Is(err, models.ErrBackingStoreUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, models.ErrBackingStoreMissing), errors.Is(err, models.ErrIntegrity):
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// handleHealth returns engine status and capabilities for service discovery
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "operational",
		"engine":     "Symdex Engine v1.0",
		"windowSize": h.window,
		"capabilities": gin.H{
			"full_match":        true,
			"submatch":          true,
			"clustering":        true,
			"cluster_agreement": true,
			"integrity_audit":   true,
			"spool_watcher":     true,
		},
		"ingestProgress": h.pipeline.GetProgress(),
	})
}

// handleSearchSymbols is the substring search backing the search UI.
// POST /symbols { "name": "fragment" }
func (h *APIHandler) handleSearchSymbols(c *gin.Context) {
	var req struct {
		Name  string `json:"name"`
		Limit int    `json:"limit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {name}"})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Empty search fragment"})
		return
	}

	metas, err := h.store.FindByName(c.Request.Context(), req.Name, req.Limit)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, metas)
}

func (h *APIHandler) handleGetSymbol(c *gin.Context) {
	sym, err := h.store.GetSymbol(c.Request.Context(), c.Param("slug"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, sym)
}

// handleGetAsm rehydrates a symbol's instruction stream from the stored
// object blob.
func (h *APIHandler) handleGetAsm(c *gin.Context) {
	instrs, err := h.symbolInstructions(c, c.Param("slug"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asm": instrs})
}

func (h *APIHandler) symbolInstructions(c *gin.Context, slug string) ([]models.Instruction, error) {
	diskPath, symbolIdx, err := h.store.ObjectRef(c.Request.Context(), slug)
	if err != nil {
		return nil, err
	}
	r, err := h.blobs.Open(diskPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	listings, err := h.codec.Disassemble(r)
	if err != nil {
		return nil, err
	}
	if symbolIdx >= len(listings) {
		return nil, models.ErrIntegrity
	}
	return listings[symbolIdx].Instructions, nil
}

// handleFullMatch returns the three fingerprint buckets flattened to
// [{subtype, symbol}] rows: exact first, then equivalent, then opcode.
func (h *APIHandler) handleFullMatch(c *gin.Context) {
	ctx := c.Request.Context()
	sym, err := h.store.GetSymbol(ctx, c.Param("slug"))
	if err != nil {
		abortWith(c, err)
		return
	}
	buckets, err := h.store.FullMatches(ctx, sym)
	if err != nil {
		abortWith(c, err)
		return
	}

	type row struct {
		Subtype string            `json:"subtype"`
		Symbol  models.SymbolMeta `json:"symbol"`
	}
	rows := []row{}
	for _, m := range buckets.Exact {
		rows = append(rows, row{Subtype: "exact", Symbol: m})
	}
	for _, m := range buckets.Equivalent {
		rows = append(rows, row{Subtype: "equivalent", Symbol: m})
	}
	for _, m := range buckets.Opcode {
		rows = append(rows, row{Subtype: "opcode", Symbol: m})
	}
	c.JSON(http.StatusOK, rows)
}

// handleSubmatch runs the maximal-run reconstruction.
// POST /symbols/:slug/submatch
// { window_size, start, end, page_num, page_size, sort_by, sort_dir }
// window_size is the minimum run length L; it is clamped up to W.
func (h *APIHandler) handleSubmatch(c *gin.Context) {
	ctx := c.Request.Context()

	var req struct {
		WindowSize int    `json:"window_size"`
		Start      *int   `json:"start"`
		End        *int   `json:"end"`
		PageNum    int    `json:"page_num"`
		PageSize   int    `json:"page_size"`
		SortBy     string `json:"sort_by"`
		SortDir    string `json:"sort_dir"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	sym, err := h.store.GetSymbol(ctx, c.Param("slug"))
	if err != nil {
		abortWith(c, err)
		return
	}

	params := match.Params{
		Start:    -1,
		End:      -1,
		MinLen:   req.WindowSize,
		SortBy:   req.SortBy,
		Page:     req.PageNum,
		PageSize: req.PageSize,
	}
	if req.Start != nil {
		params.Start = *req.Start
	}
	if req.End != nil {
		params.End = *req.End
	}
	if params.PageSize == 0 {
		params.PageSize = defaultPageSize
	}
	switch req.SortDir {
	case "", "desc":
		params.SortDesc = true
	case "asc":
		params.SortDesc = false
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "sort_dir must be asc or desc"})
		return
	}

	params, clamped, err := match.NormalizeParams(params, sym.Len, h.window)
	if err != nil {
		abortWith(c, err)
		return
	}
	if clamped {
		log.Printf("[Submatch] %s: min length below window width, clamped to %d", sym.Slug, h.window)
	}
	if params.End > sym.Len-1 {
		params.End = sym.Len - 1
	}

	// A symbol (or range) too short for one window has no submatches —
	// empty result, not an error.
	lastWindowStart := params.End - h.window + 1
	if sym.Len < h.window || lastWindowStart < params.Start {
		c.JSON(http.StatusOK, models.SubmatchPage{TotalCount: 0, Submatches: []models.Submatch{}})
		return
	}

	anchors, err := h.store.Anchors(ctx, sym.ID, params.Start, lastWindowStart, maxSubmatchAnchors)
	if err != nil {
		abortWith(c, err)
		return
	}

	runs := match.FilterMinLen(match.Reconstruct(anchors, h.window), params.MinLen)

	ids := distinctSymbolIDs(runs)
	refs, err := h.store.SymbolRefs(ctx, ids)
	if err != nil {
		abortWith(c, err)
		return
	}
	match.SortRuns(runs, params.SortBy, params.SortDesc, refs)
	total, page := match.Paginate(runs, params.Page, params.PageSize)

	metas, err := h.store.SymbolMetas(ctx, distinctSymbolIDs(page))
	if err != nil {
		abortWith(c, err)
		return
	}
	out := models.SubmatchPage{TotalCount: total, Submatches: []models.Submatch{}}
	for _, run := range page {
		out.Submatches = append(out.Submatches, models.Submatch{
			Symbol:     metas[run.SymbolID],
			QueryStart: run.QueryStart,
			MatchStart: run.MatchStart,
			Len:        run.Len,
		})
	}
	c.JSON(http.StatusOK, out)
}

func distinctSymbolIDs(runs []match.Run) []int64 {
	seen := make(map[int64]bool, len(runs))
	ids := make([]int64, 0, len(runs))
	for _, r := range runs {
		if !seen[r.SymbolID] {
			seen[r.SymbolID] = true
			ids = append(ids, r.SymbolID)
		}
	}
	return ids
}

func (h *APIHandler) handleGetSource(c *gin.Context) {
	meta, err := h.store.GetSource(c.Request.Context(), c.Param("slug"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// handleClusters groups a source's symbols by exact fingerprint.
// GET /sources/:slug/clusters?min=2&global=false
func (h *APIHandler) handleClusters(c *gin.Context) {
	ctx := c.Request.Context()
	sourceID, err := h.store.SourceID(ctx, c.Param("slug"))
	if err != nil {
		abortWith(c, err)
		return
	}

	minSize := intQuery(c, "min", 2)
	global := c.DefaultQuery("global", "false") == "true"

	clusters, err := h.store.Clusters(ctx, sourceID, minSize, global)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clusters": clusters, "global": global, "minSize": minSize})
}

// handleAgreement compares the exact-fingerprint partitions of two sources.
// GET /sources/:slug/agreement?other=<slug>
func (h *APIHandler) handleAgreement(c *gin.Context) {
	ctx := c.Request.Context()
	otherSlug := c.Query("other")
	if otherSlug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required query param: other"})
		return
	}

	aID, err := h.store.SourceID(ctx, c.Param("slug"))
	if err != nil {
		abortWith(c, err)
		return
	}
	bID, err := h.store.SourceID(ctx, otherSlug)
	if err != nil {
		abortWith(c, err)
		return
	}

	partA, err := h.store.SourcePartition(ctx, aID)
	if err != nil {
		abortWith(c, err)
		return
	}
	partB, err := h.store.SourcePartition(ctx, bID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, cluster.Compare(partA, partB))
}

// handleAudit re-derives a source's fingerprints from its blob and diffs
// them against the index.
func (h *APIHandler) handleAudit(c *gin.Context) {
	result, err := h.auditor.AuditSource(c.Request.Context(), c.Param("slug"))
	if err != nil {
		abortWith(c, err)
		return
	}
	if len(result.Mismatches) > 0 && h.wsHub != nil {
		h.wsHub.Publish(EventAuditMismatch, result)
	}
	c.JSON(http.StatusOK, result)
}

// handleDeleteSource removes a source; its symbols and windows follow by
// cascade.
func (h *APIHandler) handleDeleteSource(c *gin.Context) {
	sourceSlug := c.Param("slug")
	if err := h.store.DeleteSource(c.Request.Context(), sourceSlug); err != nil {
		abortWith(c, err)
		return
	}
	log.Printf("[API] Source %s deleted", sourceSlug)
	c.JSON(http.StatusOK, gin.H{"deleted": sourceSlug})
}

func (h *APIHandler) handleListProjects(c *gin.Context) {
	projects, err := h.store.ListProjects(c.Request.Context())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, projects)
}

func intQuery(c *gin.Context, key string, fallback int) int {
	n, err := strconv.Atoi(c.DefaultQuery(key, ""))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
