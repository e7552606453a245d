// fake_backend.go - Fake validate/upload backend for testing
package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/trinity/guided-upload/internal/models"
)

const (
	PathFileMetadata         = "/file-metadata"
	PathProcessSavedFrame    = "/process_saved_dataframe"
	PathApplyTransformations = "/apply-data-transformations"
	PathDetectDatetimeFormat = "/detect-datetime-format"
)

type rawResponse struct {
	status int
	body   string
}

// FakeBackend is an in-process HTTP server answering the four backend endpoints
// from fixtures registered by the test.
type FakeBackend struct {
	Server *httptest.Server

	mu       sync.Mutex
	metadata map[string]*models.FileMetadata // by file path
	preview  map[string]*models.PreviewResult
	formats  map[string]models.DetectFormatResult // by column name
	failures map[string][]int                     // statuses returned before the fixture
	raw      map[string]rawResponse
	gate     chan struct{}
	calls    map[string]int

	metadataRequests []models.FileMetadataRequest
	processRequests  []models.ProcessDataframeRequest
	applyRequests    []models.ApplyTransformationsRequest
}

// NewFakeBackend starts a fake backend that is closed when the test ends.
func NewFakeBackend(t testing.TB) *FakeBackend {
	t.Helper()
	f := &FakeBackend{
		metadata: make(map[string]*models.FileMetadata),
		preview:  make(map[string]*models.PreviewResult),
		formats:  make(map[string]models.DetectFormatResult),
		failures: make(map[string][]int),
		raw:      make(map[string]rawResponse),
		calls:    make(map[string]int),
	}

	e := echo.New()
	e.HideBanner = true
	e.POST(PathFileMetadata, f.handleMetadata)
	e.POST(PathProcessSavedFrame, f.handleProcess)
	e.POST(PathApplyTransformations, f.handleApply)
	e.POST(PathDetectDatetimeFormat, f.handleDetect)

	f.Server = httptest.NewServer(e)
	t.Cleanup(func() {
		f.Release()
		f.Server.Close()
	})
	return f
}

// URL returns the base URL of the fake.
func (f *FakeBackend) URL() string { return f.Server.URL }

// SetMetadata registers the metadata returned for a file path.
func (f *FakeBackend) SetMetadata(path string, md *models.FileMetadata) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadata[path] = md
}

// SetPreview registers the preview returned for a file path.
func (f *FakeBackend) SetPreview(path string, p *models.PreviewResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preview[path] = p
}

// SetFormat registers the datetime detection result for a column.
func (f *FakeBackend) SetFormat(column string, r models.DetectFormatResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.formats[column] = r
}

// FailNext makes the next len(statuses) calls to path answer with those statuses.
func (f *FakeBackend) FailNext(path string, statuses ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[path] = append(f.failures[path], statuses...)
}

// SetRaw makes every call to path answer with a fixed status and body.
func (f *FakeBackend) SetRaw(path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw[path] = rawResponse{status: status, body: body}
}

// HoldMetadata blocks metadata responses until Release is called.
func (f *FakeBackend) HoldMetadata() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate == nil {
		f.gate = make(chan struct{})
	}
}

// Release unblocks held metadata responses.
func (f *FakeBackend) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

// Calls returns how many requests reached path.
func (f *FakeBackend) Calls(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

// MetadataRequests returns the decoded /file-metadata bodies.
func (f *FakeBackend) MetadataRequests() []models.FileMetadataRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.FileMetadataRequest(nil), f.metadataRequests...)
}

// ProcessRequests returns the decoded /process_saved_dataframe bodies.
func (f *FakeBackend) ProcessRequests() []models.ProcessDataframeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ProcessDataframeRequest(nil), f.processRequests...)
}

// ApplyRequests returns the decoded /apply-data-transformations bodies.
func (f *FakeBackend) ApplyRequests() []models.ApplyTransformationsRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ApplyTransformationsRequest(nil), f.applyRequests...)
}

// intercept counts the call and answers with a queued failure or raw body, if any.
func (f *FakeBackend) intercept(c echo.Context, path string) (bool, error) {
	f.mu.Lock()
	f.calls[path]++
	if queued := f.failures[path]; len(queued) > 0 {
		status := queued[0]
		f.failures[path] = queued[1:]
		f.mu.Unlock()
		return true, c.JSON(status, map[string]string{"detail": http.StatusText(status)})
	}
	raw, ok := f.raw[path]
	f.mu.Unlock()
	if ok {
		return true, c.Blob(raw.status, echo.MIMEApplicationJSON, []byte(raw.body))
	}
	return false, nil
}

func (f *FakeBackend) handleMetadata(c echo.Context) error {
	var req models.FileMetadataRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": err.Error()})
	}

	f.mu.Lock()
	f.metadataRequests = append(f.metadataRequests, req)
	gate := f.gate
	f.mu.Unlock()

	if done, err := f.intercept(c, PathFileMetadata); done {
		return err
	}
	if gate != nil {
		if err := wait(c.Request().Context(), gate); err != nil {
			return err
		}
	}

	f.mu.Lock()
	md, ok := f.metadata[req.FilePath]
	f.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "file not found: " + req.FilePath})
	}
	return c.JSON(http.StatusOK, md)
}

func (f *FakeBackend) handleProcess(c echo.Context) error {
	var req models.ProcessDataframeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": err.Error()})
	}
	f.mu.Lock()
	f.processRequests = append(f.processRequests, req)
	f.mu.Unlock()

	if done, err := f.intercept(c, PathProcessSavedFrame); done {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (f *FakeBackend) handleApply(c echo.Context) error {
	var req models.ApplyTransformationsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": err.Error()})
	}
	f.mu.Lock()
	f.applyRequests = append(f.applyRequests, req)
	f.mu.Unlock()

	if done, err := f.intercept(c, PathApplyTransformations); done {
		return err
	}

	f.mu.Lock()
	p, ok := f.preview[req.FilePath]
	f.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"detail": "preview unavailable"})
	}
	return c.JSON(http.StatusOK, p)
}

func (f *FakeBackend) handleDetect(c echo.Context) error {
	var req models.DetectFormatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": err.Error()})
	}
	if done, err := f.intercept(c, PathDetectDatetimeFormat); done {
		return err
	}

	f.mu.Lock()
	r, ok := f.formats[req.ColumnName]
	f.mu.Unlock()
	if !ok {
		r = models.DetectFormatResult{CanDetect: false}
	}
	return c.JSON(http.StatusOK, r)
}

func wait(ctx context.Context, gate <-chan struct{}) error {
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
