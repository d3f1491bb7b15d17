package http

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hydrosafe/coa-dashboard/internal/ingest"
	"github.com/hydrosafe/coa-dashboard/internal/validate"
)

// handleV1Upload validates and ingests one CSV file
// POST /api/v1/uploads (multipart field "file")
func (s *Server) handleV1Upload(c *gin.Context) {
	up, ok := s.readUpload(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.IngestTimeout)
	defer cancel()

	res, err := s.ingest.Ingest(ctx, up)
	if err != nil {
		s.writeIngestError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"data": gin.H{"id": res.BatchID},
		"meta": gin.H{
			"readings": res.Readings,
			"results":  res.Results,
		},
	})
}

// handleV1ValidateUpload runs every check without writing
// POST /api/v1/uploads/validate (multipart field "file")
func (s *Server) handleV1ValidateUpload(c *gin.Context) {
	up, ok := s.readUpload(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.IngestTimeout)
	defer cancel()

	plan, err := s.ingest.Validate(ctx, up)
	if err != nil {
		s.writeIngestError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{"valid": true},
		"meta": gin.H{
			"readings": len(plan.Readings),
			"results":  plan.ResultCount(),
		},
	})
}

// readUpload extracts the uploader and the CSV text from the request. It writes
// the error response itself and reports false when the request is unusable.
func (s *Server) readUpload(c *gin.Context) (ingest.Upload, bool) {
	if c.Request.ContentLength > s.cfg.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds the upload size limit"})
		return ingest.Upload{}, false
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		if bodyTooLarge(c.Request.Body, err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds the upload size limit"})
			return ingest.Upload{}, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return ingest.Upload{}, false
	}

	uploadedBy := strings.TrimSpace(c.GetHeader("X-User-ID"))
	if uploadedBy == "" {
		uploadedBy = strings.TrimSpace(c.PostForm("uploaded_by"))
	}
	if uploadedBy == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "uploader is required (X-User-ID header or uploaded_by field)"})
		return ingest.Upload{}, false
	}

	if !isCSV(fh.Filename, fh.Header.Get("Content-Type")) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file must be a CSV"})
		return ingest.Upload{}, false
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
		return ingest.Upload{}, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
		return ingest.Upload{}, false
	}

	return ingest.Upload{
		FileName:   filepath.Base(fh.Filename),
		Text:       string(data),
		UploadedBy: uploadedBy,
	}, true
}

// bodyTooLarge reports whether a multipart parse failed because the body hit
// its size cap. The multipart reader can surface the cut as a malformed part
// instead of the cap error, so the body is read once more to find out.
func bodyTooLarge(body io.Reader, err error) bool {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return true
	}
	_, err = body.Read(make([]byte, 1))
	return errors.As(err, &tooLarge)
}

func isCSV(name, contentType string) bool {
	if strings.EqualFold(filepath.Ext(name), ".csv") {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "csv") || strings.HasPrefix(ct, "text/plain")
}

func (s *Server) writeIngestError(c *gin.Context, err error) {
	if validate.IsValidation(err) {
		msgs := validate.Messages(err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  msgs[0],
			"errors": msgs,
		})
		return
	}
	log.Printf("request %s: %v", c.GetString("request_id"), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
