// Package api is the thin HTTP surface over the vault: multipart uploads in,
// decrypted downloads out. All invariants live below it.
package api

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/privault/privault/pkg/crypto"
	"github.com/privault/privault/pkg/store"
	"github.com/privault/privault/pkg/vault"
)

var contentHashRegex = regexp.MustCompile("^[a-f0-9]{64}$")

type API struct {
	vault  *vault.Manager
	apiKey string
}

func New(v *vault.Manager, apiKey string) *API {
	return &API{vault: v, apiKey: apiKey}
}

func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.Use(a.authMiddleware())

	api.POST("/files", a.uploadFile)
	api.GET("/files", a.listFiles)
	api.GET("/files/:hash", a.downloadFile)
	api.GET("/files/:hash/info", a.fileInfo)
	api.DELETE("/files/:hash", a.deleteFile)
	api.POST("/similar", a.findSimilar)
	api.POST("/files/:hash/scans", a.recordScan)
	api.GET("/files/:hash/scans", a.listScans)
}

func (a *API) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-API-Key") != a.apiKey {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (a *API) uploadFile(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
		return
	}

	rec, err := a.vault.Ingest(header.Filename, data)
	if err != nil {
		var dup *vault.DuplicateFileError
		if errors.As(err, &dup) {
			c.JSON(http.StatusConflict, gin.H{
				"error":    "File with identical content already exists",
				"existing": dup.Existing,
			})
			return
		}
		if errors.Is(err, vault.ErrEmptyContent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "File is empty"})
			return
		}
		a.internalError(c, "ingest", err)
		return
	}

	c.JSON(http.StatusCreated, rec)
}

func (a *API) listFiles(c *gin.Context) {
	files, err := a.vault.List()
	if err != nil {
		a.internalError(c, "list", err)
		return
	}
	if files == nil {
		files = []store.FileSummary{}
	}
	c.JSON(http.StatusOK, files)
}

func (a *API) downloadFile(c *gin.Context) {
	hash, ok := a.hashParam(c)
	if !ok {
		return
	}

	rec, err := a.vault.Info(hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}
		a.internalError(c, "lookup", err)
		return
	}

	plaintext, err := a.vault.Retrieve(hash)
	if err != nil {
		// Authentication and integrity failures must never leak bytes.
		a.internalError(c, "retrieve", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.OriginalFilename))
	c.Data(http.StatusOK, "application/octet-stream", plaintext)
}

func (a *API) fileInfo(c *gin.Context) {
	hash, ok := a.hashParam(c)
	if !ok {
		return
	}

	rec, err := a.vault.Info(hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}
		a.internalError(c, "lookup", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (a *API) deleteFile(c *gin.Context) {
	hash, ok := a.hashParam(c)
	if !ok {
		return
	}

	if err := a.vault.Delete(hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}
		a.internalError(c, "delete", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "File deleted"})
}

func (a *API) findSimilar(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
		return
	}

	threshold := 0
	if raw := c.PostForm("threshold"); raw != "" {
		threshold, err = strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid threshold"})
			return
		}
	}

	matches, err := a.vault.FindSimilar(data, threshold)
	if err != nil {
		if errors.Is(err, vault.ErrNotImage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Not a decodable image"})
			return
		}
		a.internalError(c, "similar", err)
		return
	}
	if matches == nil {
		matches = []vault.Match{}
	}
	c.JSON(http.StatusOK, matches)
}

type scanRequest struct {
	URL        string `json:"url" binding:"required"`
	Similarity int    `json:"similarity"`
}

func (a *API) recordScan(c *gin.Context) {
	hash, ok := a.hashParam(c)
	if !ok {
		return
	}

	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid scan result"})
		return
	}

	res, err := a.vault.RecordScanResult(hash, req.URL, req.Similarity)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}
		a.internalError(c, "record scan", err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (a *API) listScans(c *gin.Context) {
	hash, ok := a.hashParam(c)
	if !ok {
		return
	}

	results, err := a.vault.ScanResults(hash)
	if err != nil {
		a.internalError(c, "list scans", err)
		return
	}
	if results == nil {
		results = []store.ScanResult{}
	}
	c.JSON(http.StatusOK, results)
}

func (a *API) hashParam(c *gin.Context) (string, bool) {
	hash := c.Param("hash")
	if !contentHashRegex.MatchString(hash) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid content hash format"})
		return "", false
	}
	return hash, true
}

func (a *API) internalError(c *gin.Context, op string, err error) {
	log.Printf("api: %s failed: %v", op, err)
	switch {
	case errors.Is(err, crypto.ErrAuthentication), errors.Is(err, vault.ErrIntegrity):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Stored file failed verification"})
	case errors.Is(err, vault.ErrBlobMissing):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Stored file data is missing"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
