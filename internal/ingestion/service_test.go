package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hugamara/sheetaudit/internal/domain"
	"github.com/hugamara/sheetaudit/internal/queue"
	"github.com/hugamara/sheetaudit/internal/repository"
)

type stubUploadRepo struct {
	uploads map[uuid.UUID]domain.Upload
}

func newStubUploadRepo() *stubUploadRepo {
	return &stubUploadRepo{uploads: make(map[uuid.UUID]domain.Upload)}
}

func (r *stubUploadRepo) Create(_ context.Context, upload domain.Upload) error {
	r.uploads[upload.ID] = upload
	return nil
}

func (r *stubUploadRepo) GetByID(_ context.Context, id uuid.UUID) (domain.Upload, error) {
	upload, ok := r.uploads[id]
	if !ok {
		return domain.Upload{}, domain.ErrUploadNotFound
	}
	return upload, nil
}

func (r *stubUploadRepo) List(_ context.Context, filter repository.UploadFilter) ([]domain.Upload, error) {
	out := []domain.Upload{}
	for _, upload := range r.uploads {
		if filter.Branch != "" && upload.Branch != filter.Branch {
			continue
		}
		if filter.DocumentKind != "" && upload.DocumentKind != filter.DocumentKind {
			continue
		}
		out = append(out, upload)
	}
	return out, nil
}

func (r *stubUploadRepo) ClaimForProcessing(_ context.Context, id uuid.UUID) (domain.Upload, bool, error) {
	upload, ok := r.uploads[id]
	if !ok || !upload.Status.CanTransition(domain.StatusProcessing) {
		return domain.Upload{}, false, nil
	}
	upload.Status = domain.StatusProcessing
	upload.ProcessAttempts++
	r.uploads[id] = upload
	return upload, true, nil
}

func (r *stubUploadRepo) CompleteAttempt(_ context.Context, id uuid.UUID, status domain.ProcessingStatus, score float64, documentID uuid.UUID) error {
	upload, ok := r.uploads[id]
	if !ok {
		return domain.ErrUploadNotFound
	}
	upload.Status = status
	upload.AuditScore = &score
	upload.AuditDocumentID = &documentID
	r.uploads[id] = upload
	return nil
}

func (r *stubUploadRepo) MarkFailed(_ context.Context, id uuid.UUID) error {
	upload, ok := r.uploads[id]
	if !ok {
		return domain.ErrUploadNotFound
	}
	upload.Status = domain.StatusFailed
	r.uploads[id] = upload
	return nil
}

func (r *stubUploadRepo) ListStale(_ context.Context, _ time.Time, _ int) ([]domain.Upload, error) {
	return nil, nil
}

type stubDocumentRepo struct {
	docs map[uuid.UUID]domain.ExtractionDocument
}

func newStubDocumentRepo() *stubDocumentRepo {
	return &stubDocumentRepo{docs: make(map[uuid.UUID]domain.ExtractionDocument)}
}

func (r *stubDocumentRepo) Create(_ context.Context, doc domain.ExtractionDocument) error {
	r.docs[doc.ID] = doc
	return nil
}

func (r *stubDocumentRepo) GetByID(_ context.Context, id uuid.UUID) (domain.ExtractionDocument, error) {
	doc, ok := r.docs[id]
	if !ok {
		return domain.ExtractionDocument{}, domain.ErrAuditNotFound
	}
	return doc, nil
}

func (r *stubDocumentRepo) GetLatestByUpload(_ context.Context, uploadID uuid.UUID) (domain.ExtractionDocument, error) {
	var latest domain.ExtractionDocument
	found := false
	for _, doc := range r.docs {
		if doc.UploadID == uploadID && (!found || doc.CreatedAt.After(latest.CreatedAt)) {
			latest = doc
			found = true
		}
	}
	if !found {
		return domain.ExtractionDocument{}, domain.ErrAuditNotFound
	}
	return latest, nil
}

type stubAttemptRepo struct {
	attempts []domain.AuditAttempt
}

func (r *stubAttemptRepo) Append(_ context.Context, attempt domain.AuditAttempt) error {
	r.attempts = append(r.attempts, attempt)
	return nil
}

func (r *stubAttemptRepo) ListByUpload(_ context.Context, uploadID uuid.UUID) ([]domain.AuditAttempt, error) {
	out := []domain.AuditAttempt{}
	for _, attempt := range r.attempts {
		if attempt.UploadID == uploadID {
			out = append(out, attempt)
		}
	}
	return out, nil
}

type stubBlobStore struct {
	objects map[string][]byte
	putErr  error
}

func newStubBlobStore() *stubBlobStore {
	return &stubBlobStore{objects: make(map[string][]byte)}
}

func (s *stubBlobStore) Put(_ context.Context, key string, payload io.Reader, _ string) error {
	if s.putErr != nil {
		return s.putErr
	}
	data, err := io.ReadAll(payload)
	if err != nil {
		return err
	}
	s.objects[key] = data
	return nil
}

func (s *stubBlobStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *stubBlobStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := s.objects[key]
	return ok, nil
}

func (s *stubBlobStore) Delete(_ context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

type stubPublisher struct {
	jobs []queue.Job
	err  error
}

func (p *stubPublisher) Publish(_ context.Context, job queue.Job) error {
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

type fixture struct {
	service   *Service
	uploads   *stubUploadRepo
	documents *stubDocumentRepo
	attempts  *stubAttemptRepo
	blobs     *stubBlobStore
	publisher *stubPublisher
}

func newFixture() fixture {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	uploads := newStubUploadRepo()
	documents := newStubDocumentRepo()
	attempts := &stubAttemptRepo{}
	blobs := newStubBlobStore()
	publisher := &stubPublisher{}

	return fixture{
		service:   NewService(uploads, documents, attempts, blobs, publisher, logger),
		uploads:   uploads,
		documents: documents,
		attempts:  attempts,
		blobs:     blobs,
		publisher: publisher,
	}
}

func TestUploadStoresBlobLedgerRowAndEnqueuesJob(t *testing.T) {
	f := newFixture()
	payload := "vendor_name,item,quantity,unit_price,total\nFreshCo,tilapia,10,95,950\n"

	upload, err := f.service.Upload(context.Background(), Request{
		FileName:     "week32.csv",
		Branch:       "patiobella",
		DocumentKind: "procurement",
		ContentType:  "text/csv",
		Data:         strings.NewReader(payload),
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	if upload.Status != domain.StatusPending {
		t.Fatalf("expected pending status, got %s", upload.Status)
	}
	if upload.ByteSize != int64(len(payload)) {
		t.Fatalf("expected byte size %d, got %d", len(payload), upload.ByteSize)
	}
	if len(upload.ContentHash) != 64 {
		t.Fatalf("expected a sha256 hex hash, got %q", upload.ContentHash)
	}
	if !strings.Contains(upload.BlobKey, upload.ContentHash) {
		t.Fatalf("blob key %q should embed the content hash", upload.BlobKey)
	}

	if _, ok := f.blobs.objects[upload.BlobKey]; !ok {
		t.Fatalf("blob was not stored under %q", upload.BlobKey)
	}
	if _, err := f.uploads.GetByID(context.Background(), upload.ID); err != nil {
		t.Fatalf("ledger row missing: %v", err)
	}

	if len(f.publisher.jobs) != 1 {
		t.Fatalf("expected 1 published job, got %d", len(f.publisher.jobs))
	}
	job := f.publisher.jobs[0]
	if job.UploadID != upload.ID.String() || job.Branch != "patiobella" || job.DocumentKind != "procurement" {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestUploadHashIsDeterministic(t *testing.T) {
	f := newFixture()
	payload := "vendor_name,item\nFreshCo,tilapia\n"

	first, err := f.service.Upload(context.Background(), Request{
		FileName: "a.csv", Branch: "patiobella", DocumentKind: "procurement",
		Data: strings.NewReader(payload),
	})
	if err != nil {
		t.Fatalf("first upload failed: %v", err)
	}
	second, err := f.service.Upload(context.Background(), Request{
		FileName: "a.csv", Branch: "eateroo", DocumentKind: "procurement",
		Data: strings.NewReader(payload),
	})
	if err != nil {
		t.Fatalf("second upload failed: %v", err)
	}

	if first.ContentHash != second.ContentHash {
		t.Fatalf("identical payloads hashed differently: %s vs %s", first.ContentHash, second.ContentHash)
	}
	if first.BlobKey != second.BlobKey {
		t.Fatalf("identical payloads should share a blob key: %s vs %s", first.BlobKey, second.BlobKey)
	}
	if first.ID == second.ID {
		t.Fatalf("each upload must get its own ledger row")
	}
}

func TestUploadValidationFailuresCreateNoState(t *testing.T) {
	f := newFixture()

	cases := map[string]Request{
		"unknown branch":    {FileName: "a.csv", Branch: "midtown", DocumentKind: "procurement", Data: strings.NewReader("x")},
		"unknown kind":      {FileName: "a.csv", Branch: "patiobella", DocumentKind: "payroll", Data: strings.NewReader("x")},
		"legacy xls":        {FileName: "old.xls", Branch: "patiobella", DocumentKind: "procurement", Data: strings.NewReader("x")},
		"unsupported ext":   {FileName: "notes.pdf", Branch: "patiobella", DocumentKind: "procurement", Data: strings.NewReader("x")},
		"bad content type":  {FileName: "a.csv", Branch: "patiobella", DocumentKind: "procurement", ContentType: "image/png", Data: strings.NewReader("x")},
		"empty payload":     {FileName: "a.csv", Branch: "patiobella", DocumentKind: "procurement", Data: strings.NewReader("")},
		"oversized payload": {FileName: "a.csv", Branch: "patiobella", DocumentKind: "procurement", Data: io.LimitReader(zeros{}, MaxUploadBytes+1)},
	}

	for name, req := range cases {
		_, err := f.service.Upload(context.Background(), req)
		var validationErr domain.ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("%s: expected ValidationError, got %v", name, err)
		}
	}

	if len(f.blobs.objects) != 0 {
		t.Fatalf("rejected uploads must not store blobs, found %d", len(f.blobs.objects))
	}
	if len(f.uploads.uploads) != 0 {
		t.Fatalf("rejected uploads must not create ledger rows, found %d", len(f.uploads.uploads))
	}
	if len(f.publisher.jobs) != 0 {
		t.Fatalf("rejected uploads must not enqueue jobs, found %d", len(f.publisher.jobs))
	}
}

type zeros struct{}

func (zeros) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestUploadEnqueueFailureLeavesRowPending(t *testing.T) {
	f := newFixture()
	f.publisher.err = errors.New("broker down")

	upload, err := f.service.Upload(context.Background(), Request{
		FileName: "a.csv", Branch: "patiobella", DocumentKind: "procurement",
		Data: strings.NewReader("vendor_name,item\nFreshCo,tilapia\n"),
	})

	var storageErr domain.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}

	// Bytes and ledger row survive so the reconciler can re-enqueue.
	stored, getErr := f.uploads.GetByID(context.Background(), upload.ID)
	if getErr != nil {
		t.Fatalf("ledger row missing after enqueue failure: %v", getErr)
	}
	if stored.Status != domain.StatusPending {
		t.Fatalf("expected row to stay pending, got %s", stored.Status)
	}
	if _, ok := f.blobs.objects[stored.BlobKey]; !ok {
		t.Fatalf("blob missing after enqueue failure")
	}
}

func TestImportByLink(t *testing.T) {
	f := newFixture()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		fmt.Fprint(w, "vendor_name,item\nFreshCo,tilapia\n")
	}))
	defer server.Close()

	upload, err := f.service.ImportByLink(context.Background(), ImportRequest{
		URL:          server.URL + "/exports/week32.csv",
		Branch:       "eateroo",
		DocumentKind: "procurement",
	})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}

	if upload.OriginalFilename != "week32.csv" {
		t.Fatalf("expected filename from url, got %q", upload.OriginalFilename)
	}
	if upload.Status != domain.StatusPending {
		t.Fatalf("expected pending status, got %s", upload.Status)
	}
	if len(f.publisher.jobs) != 1 {
		t.Fatalf("expected job to be enqueued")
	}
}

func TestImportByLinkFetchFailure(t *testing.T) {
	f := newFixture()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := f.service.ImportByLink(context.Background(), ImportRequest{
		URL:          server.URL + "/missing.csv",
		Branch:       "patiobella",
		DocumentKind: "sales",
	})

	var fetchErr domain.ImportFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected ImportFetchError, got %v", err)
	}
	if len(f.uploads.uploads) != 0 {
		t.Fatalf("failed imports must not create ledger rows")
	}
}

func TestGetAuditStates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	upload, err := f.service.Upload(ctx, Request{
		FileName: "a.csv", Branch: "patiobella", DocumentKind: "procurement",
		Data: strings.NewReader("vendor_name,item\nFreshCo,tilapia\n"),
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	// Pending upload: audit not ready yet.
	if _, err := f.service.GetAudit(ctx, upload.ID); !errors.Is(err, domain.ErrAuditNotReady) {
		t.Fatalf("expected ErrAuditNotReady for pending upload, got %v", err)
	}

	// Terminal failure without a document: audit not found.
	if _, _, err := f.uploads.ClaimForProcessing(ctx, upload.ID); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := f.uploads.MarkFailed(ctx, upload.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := f.service.GetAudit(ctx, upload.ID); !errors.Is(err, domain.ErrAuditNotFound) {
		t.Fatalf("expected ErrAuditNotFound for failed upload, got %v", err)
	}

	// Completed upload returns document plus attempt history.
	doc := domain.ExtractionDocument{ID: uuid.New(), UploadID: upload.ID, OverallConfidence: 9.5}
	if err := f.documents.Create(ctx, doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	if err := f.attempts.Append(ctx, domain.AuditAttempt{ID: uuid.New(), UploadID: upload.ID, Score: 9.5}); err != nil {
		t.Fatalf("append attempt: %v", err)
	}
	if _, _, err := f.uploads.ClaimForProcessing(ctx, upload.ID); err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if err := f.uploads.CompleteAttempt(ctx, upload.ID, domain.StatusCompleted, 9.5, doc.ID); err != nil {
		t.Fatalf("complete attempt: %v", err)
	}

	view, err := f.service.GetAudit(ctx, upload.ID)
	if err != nil {
		t.Fatalf("get audit failed: %v", err)
	}
	if view.Document.ID != doc.ID {
		t.Fatalf("expected document %s, got %s", doc.ID, view.Document.ID)
	}
	if len(view.Attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(view.Attempts))
	}
	if view.Upload.AuditScore == nil || *view.Upload.AuditScore != 9.5 {
		t.Fatalf("expected audit score 9.5 on the ledger row")
	}
}

func TestGetAuditUnknownUpload(t *testing.T) {
	f := newFixture()
	if _, err := f.service.GetAudit(context.Background(), uuid.New()); !errors.Is(err, domain.ErrUploadNotFound) {
		t.Fatalf("expected ErrUploadNotFound, got %v", err)
	}
}

func TestDownloadStreamsOriginalBytes(t *testing.T) {
	f := newFixture()
	payload := "vendor_name,item\nFreshCo,tilapia\n"

	upload, err := f.service.Upload(context.Background(), Request{
		FileName: "a.csv", Branch: "patiobella", DocumentKind: "procurement",
		Data: strings.NewReader(payload),
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	rc, meta, err := f.service.Download(context.Background(), upload.ID)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != payload {
		t.Fatalf("downloaded bytes differ from the original")
	}
	if meta.OriginalFilename != "a.csv" {
		t.Fatalf("unexpected filename %q", meta.OriginalFilename)
	}
}

func TestPreviewReturnsRows(t *testing.T) {
	f := newFixture()

	upload, err := f.service.Upload(context.Background(), Request{
		FileName: "a.csv", Branch: "patiobella", DocumentKind: "procurement",
		Data: strings.NewReader("vendor_name,item\nFreshCo,tilapia\nBulkPro,rice\n"),
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	preview, err := f.service.Preview(context.Background(), upload.ID, 1)
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if len(preview.Rows) != 1 {
		t.Fatalf("expected 1 preview row, got %d", len(preview.Rows))
	}
	if preview.Columns[0] != "vendor_name" {
		t.Fatalf("unexpected columns: %v", preview.Columns)
	}
}
