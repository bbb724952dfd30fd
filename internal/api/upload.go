package api

import (
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rawsym/symdex-engine/internal/ingest"
	"github.com/rawsym/symdex-engine/pkg/models"
)

// maxUploadBytes caps one multipart dump upload.
const maxUploadBytes = 256 << 20

// handleUpload ingests one disassembly dump posted as multipart form data.
// Fields: file (required), project (required), name, version, platform,
// repo, upstream. Returns the new source's slug.
func (h *APIHandler) handleUpload(c *gin.Context) {
	uploadID := uuid.NewString()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing multipart field: file"})
		return
	}
	project := strings.TrimSpace(c.PostForm("project"))
	if project == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing multipart field: project"})
		return
	}
	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		base := filepath.Base(fileHeader.Filename)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable upload", "details": err.Error()})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Upload truncated", "details": err.Error()})
		return
	}

	log.Printf("[Upload] %s: %q → project %q (%d bytes)", uploadID, fileHeader.Filename, project, len(data))

	slug, nsym, err := h.pipeline.IngestDump(c.Request.Context(), ingest.SourceMeta{
		Project:  project,
		Repo:     c.PostForm("repo"),
		Source:   name,
		Version:  c.PostForm("version"),
		Platform: models.PlatformTag(c.PostForm("platform")),
		Upstream: c.PostForm("upstream"),
	}, data)
	if err != nil {
		log.Printf("[Upload] %s failed: %v", uploadID, err)
		abortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"slug": slug, "numSymbols": nsym})
}
