// Package ingestion is the upload gateway: it validates incoming
// spreadsheets, stores their bytes, records a pending ledger row, and hands
// the extraction job to the queue.
package ingestion

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hugamara/sheetaudit/internal/blob"
	"github.com/hugamara/sheetaudit/internal/domain"
	"github.com/hugamara/sheetaudit/internal/extraction"
	"github.com/hugamara/sheetaudit/internal/queue"
	"github.com/hugamara/sheetaudit/internal/repository"
)

const (
	// MaxUploadBytes caps accepted payloads at 50 MB.
	MaxUploadBytes = 50 << 20

	importTimeout = 60 * time.Second
)

var allowedExtensions = map[string]string{
	".csv":  "text/csv",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// Extensions the upstream tools export but the extraction engine cannot read.
var rejectedExtensions = map[string]bool{
	".xls": true,
}

var allowedContentTypes = map[string]bool{
	"text/csv":                 true,
	"application/csv":          true,
	"text/plain":               true,
	"application/octet-stream": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"application/zip": true,
}

// Service coordinates validation, blob storage, the metadata ledger, and job
// publication.
type Service struct {
	uploads   repository.UploadRepository
	documents repository.ExtractionDocumentRepository
	attempts  repository.AuditAttemptRepository
	blobs     blob.Store
	publisher queue.Publisher
	client    *http.Client
	logger    *logrus.Logger
}

// NewService creates the gateway service. The HTTP client is used for link
// imports and is bounded by importTimeout.
func NewService(
	uploads repository.UploadRepository,
	documents repository.ExtractionDocumentRepository,
	attempts repository.AuditAttemptRepository,
	blobs blob.Store,
	publisher queue.Publisher,
	logger *logrus.Logger,
) *Service {
	return &Service{
		uploads:   uploads,
		documents: documents,
		attempts:  attempts,
		blobs:     blobs,
		publisher: publisher,
		client:    &http.Client{Timeout: importTimeout},
		logger:    logger,
	}
}

// Request describes one upload.
type Request struct {
	FileName     string
	Branch       string
	DocumentKind string
	ContentType  string
	Data         io.Reader
}

// Upload validates and stores a spreadsheet, writes the pending ledger row,
// and enqueues the extraction job. Validation failures create no state at
// all. A failed enqueue leaves the row pending and surfaces a StorageError;
// the reconciler re-publishes the job later.
func (s *Service) Upload(ctx context.Context, req Request) (domain.Upload, error) {
	branch, kind, err := parseSelectors(req.Branch, req.DocumentKind)
	if err != nil {
		return domain.Upload{}, err
	}

	if err := validateFile(req.FileName, req.ContentType); err != nil {
		return domain.Upload{}, err
	}

	payload, err := readBounded(req.Data)
	if err != nil {
		return domain.Upload{}, err
	}

	hash := sha256.Sum256(payload)
	contentHash := hex.EncodeToString(hash[:])
	blobKey := fmt.Sprintf("uploads/%s/%s", contentHash, filepath.Base(req.FileName))

	contentType := req.ContentType
	if contentType == "" {
		contentType = allowedExtensions[strings.ToLower(filepath.Ext(req.FileName))]
	}

	if err := s.blobs.Put(ctx, blobKey, bytes.NewReader(payload), contentType); err != nil {
		return domain.Upload{}, domain.StorageError{Op: "blob put", Err: err}
	}

	upload := domain.NewUpload(req.FileName, branch, kind, blobKey, contentHash, int64(len(payload)))
	if err := s.uploads.Create(ctx, upload); err != nil {
		return domain.Upload{}, domain.StorageError{Op: "ledger insert", Err: err}
	}

	s.logger.WithFields(logrus.Fields{
		"upload_id":    upload.ID,
		"branch":       branch,
		"kind":         kind,
		"content_hash": contentHash,
		"bytes":        upload.ByteSize,
	}).Info("upload accepted")

	if err := s.publisher.Publish(ctx, queue.Job{
		UploadID:     upload.ID.String(),
		Branch:       string(branch),
		DocumentKind: string(kind),
	}); err != nil {
		// The row stays pending; the reconciler sweep will re-enqueue it.
		s.logger.WithError(err).WithField("upload_id", upload.ID).Error("failed to enqueue extraction job")
		return upload, domain.StorageError{Op: "enqueue", Err: err}
	}

	return upload, nil
}

// ImportRequest describes a link import.
type ImportRequest struct {
	URL          string
	Branch       string
	DocumentKind string
}

// ImportByLink downloads a spreadsheet from a URL and feeds it through the
// same path as a direct upload. Fetch failures and timeouts surface as
// ImportFetchError.
func (s *Service) ImportByLink(ctx context.Context, req ImportRequest) (domain.Upload, error) {
	if _, _, err := parseSelectors(req.Branch, req.DocumentKind); err != nil {
		return domain.Upload{}, err
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return domain.Upload{}, domain.ValidationError{Reason: fmt.Sprintf("unsupported import url %q", req.URL)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return domain.Upload{}, domain.ValidationError{Reason: fmt.Sprintf("invalid import url: %v", err)}
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return domain.Upload{}, domain.ImportFetchError{URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Upload{}, domain.ImportFetchError{URL: req.URL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	fileName := importedFileName(resp, req.URL)

	return s.Upload(ctx, Request{
		FileName:     fileName,
		Branch:       req.Branch,
		DocumentKind: req.DocumentKind,
		ContentType:  resp.Header.Get("Content-Type"),
		Data:         resp.Body,
	})
}

// ListFilter narrows the upload listing.
type ListFilter struct {
	Branch       string
	DocumentKind string
	Status       string
	Limit        int
	Offset       int
}

// List returns ledger rows newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]domain.Upload, error) {
	repoFilter := repository.UploadFilter{Limit: filter.Limit, Offset: filter.Offset}

	if filter.Branch != "" {
		branch, err := domain.ParseBranch(filter.Branch)
		if err != nil {
			return nil, err
		}
		repoFilter.Branch = branch
	}
	if filter.DocumentKind != "" {
		kind, err := domain.ParseDocumentKind(filter.DocumentKind)
		if err != nil {
			return nil, err
		}
		repoFilter.DocumentKind = kind
	}
	if filter.Status != "" {
		repoFilter.Status = domain.ProcessingStatus(filter.Status)
	}

	return s.uploads.List(ctx, repoFilter)
}

// Get returns one ledger row.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Upload, error) {
	return s.uploads.GetByID(ctx, id)
}

// AuditView is the audit read model: the current extraction document plus the
// full attempt history.
type AuditView struct {
	Upload   domain.Upload             `json:"upload"`
	Document domain.ExtractionDocument `json:"document"`
	Attempts []domain.AuditAttempt     `json:"attempts"`
}

// GetAudit returns the audit results for an upload. It reports
// ErrAuditNotReady while the upload is still pending or processing and
// ErrAuditNotFound when a terminal upload has no document, which indicates a
// failed extraction.
func (s *Service) GetAudit(ctx context.Context, id uuid.UUID) (AuditView, error) {
	upload, err := s.uploads.GetByID(ctx, id)
	if err != nil {
		return AuditView{}, err
	}

	if !upload.Status.Terminal() {
		return AuditView{}, domain.ErrAuditNotReady
	}
	if upload.AuditDocumentID == nil {
		return AuditView{}, domain.ErrAuditNotFound
	}

	doc, err := s.documents.GetByID(ctx, *upload.AuditDocumentID)
	if err != nil {
		return AuditView{}, err
	}

	attempts, err := s.attempts.ListByUpload(ctx, id)
	if err != nil {
		return AuditView{}, err
	}

	return AuditView{Upload: upload, Document: doc, Attempts: attempts}, nil
}

// Download streams the original stored bytes of an upload.
func (s *Service) Download(ctx context.Context, id uuid.UUID) (io.ReadCloser, domain.Upload, error) {
	upload, err := s.uploads.GetByID(ctx, id)
	if err != nil {
		return nil, domain.Upload{}, err
	}

	rc, err := s.blobs.Open(ctx, upload.BlobKey)
	if err != nil {
		return nil, domain.Upload{}, domain.StorageError{Op: "blob open", Err: err}
	}
	return rc, upload, nil
}

// Preview parses the stored bytes of an upload and returns its headers and
// first rows without touching the extraction pipeline.
func (s *Service) Preview(ctx context.Context, id uuid.UUID, limit int) (extraction.PreviewResult, error) {
	rc, upload, err := s.Download(ctx, id)
	if err != nil {
		return extraction.PreviewResult{}, err
	}
	defer rc.Close()

	payload, err := io.ReadAll(rc)
	if err != nil {
		return extraction.PreviewResult{}, domain.StorageError{Op: "blob read", Err: err}
	}

	return extraction.Preview(payload, upload.OriginalFilename, limit)
}

func parseSelectors(rawBranch, rawKind string) (domain.Branch, domain.DocumentKind, error) {
	branch, err := domain.ParseBranch(rawBranch)
	if err != nil {
		return "", "", err
	}
	kind, err := domain.ParseDocumentKind(rawKind)
	if err != nil {
		return "", "", err
	}
	return branch, kind, nil
}

func validateFile(fileName, contentType string) error {
	ext := strings.ToLower(filepath.Ext(fileName))
	if rejectedExtensions[ext] {
		return domain.ValidationError{Reason: fmt.Sprintf("legacy format %s is not supported, re-export as .xlsx or .csv", ext)}
	}
	if _, ok := allowedExtensions[ext]; !ok {
		return domain.ValidationError{Reason: fmt.Sprintf("unsupported file extension %q", ext)}
	}

	if contentType != "" {
		base := strings.TrimSpace(strings.Split(contentType, ";")[0])
		if !allowedContentTypes[strings.ToLower(base)] {
			return domain.ValidationError{Reason: fmt.Sprintf("unsupported content type %q", contentType)}
		}
	}

	return nil
}

func readBounded(r io.Reader) ([]byte, error) {
	payload, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return nil, domain.StorageError{Op: "read payload", Err: err}
	}
	if len(payload) == 0 {
		return nil, domain.ValidationError{Reason: "file is empty"}
	}
	if len(payload) > MaxUploadBytes {
		return nil, domain.ValidationError{Reason: "file exceeds the 50MB limit"}
	}
	return payload, nil
}

func importedFileName(resp *http.Response, rawURL string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if idx := strings.Index(cd, "filename="); idx >= 0 {
			name := strings.Trim(cd[idx+len("filename="):], `"; `)
			if name != "" {
				return filepath.Base(name)
			}
		}
	}

	trimmed := strings.SplitN(rawURL, "?", 2)[0]
	name := filepath.Base(trimmed)
	if filepath.Ext(name) == "" {
		// Export links often hide the format behind a query parameter.
		name += guessExtension(resp.Header.Get("Content-Type"))
	}
	return name
}

func guessExtension(contentType string) string {
	base := strings.TrimSpace(strings.Split(contentType, ";")[0])
	switch strings.ToLower(base) {
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/zip":
		return ".xlsx"
	default:
		return ".csv"
	}
}
