package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdfdispatcher/internal/dispatcher"
	"github.com/local/pdfdispatcher/internal/operation"
	"github.com/local/pdfdispatcher/internal/pdf"
	"github.com/local/pdfdispatcher/internal/pdftest"
	"github.com/local/pdfdispatcher/internal/queue"
	"github.com/local/pdfdispatcher/internal/store"
)

type env struct {
	mux       *http.ServeMux
	reg       *store.MemoryRegistry
	q         *queue.Memory
	tr        *pdf.Transformer
	uploadDir string
}

func newEnv(t *testing.T, capacity int, cfg Config) *env {
	t.Helper()
	e := &env{
		mux:       http.NewServeMux(),
		reg:       store.NewMemoryRegistry(),
		q:         queue.NewMemory(capacity),
		tr:        pdf.NewTransformer(pdf.NewPdfcpuEngine(), t.TempDir(), 1),
		uploadDir: t.TempDir(),
	}
	cfg.UploadDir = e.uploadDir
	New(cfg, Dependencies{Registry: e.reg, Queue: e.q, Pages: e.tr}).RegisterRoutes(e.mux)
	return e
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *env) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil))
}

// execute runs the queued task the way a worker would.
func (e *env) execute(t *testing.T, opID string) {
	t.Helper()
	w := dispatcher.New(dispatcher.Config{}, e.q, e.reg, e.tr)
	require.Equal(t, dispatcher.TaskSucceeded, w.Execute(context.Background(), opID))
}

type upload struct {
	field string
	name  string
	data  []byte
}

func multipartRequest(t *testing.T, path string, fields map[string]string, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := []string{}
	for _, en := range entries {
		names = append(names, en.Name())
	}
	return names
}

type submitted struct {
	Success     bool   `json:"success"`
	OperationID string `json:"operationId"`
	Status      string `json:"status"`
	StatusURL   string `json:"statusUrl"`
}

type apiError struct {
	Success bool `json:"success"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type statusBody struct {
	Success        bool   `json:"success"`
	OperationID    string `json:"operationId"`
	Status         string `json:"status"`
	DurationMillis *int64 `json:"durationMillis"`
	ErrorMessage   string `json:"errorMessage"`
	OutputFiles    []struct {
		Filename    string `json:"filename"`
		PageCount   int    `json:"pageCount"`
		DownloadURL string `json:"downloadUrl"`
		PreviewURL  string `json:"previewUrl"`
	} `json:"outputFiles"`
}

func TestMergeSubmitExecuteDownload(t *testing.T) {
	e := newEnv(t, 4, Config{})
	a := pdftest.Document(pdftest.Widths(100, 2)...)
	b := pdftest.Document(pdftest.Widths(200, 3)...)

	res := e.do(multipartRequest(t, "/api/merge", map[string]string{"mergeOrder": "[1,0]"},
		upload{"files", "a.pdf", a}, upload{"files", "b.pdf", b}))
	require.Equal(t, http.StatusAccepted, res.Code, res.Body.String())
	sub := decode[submitted](t, res)
	assert.True(t, sub.Success)
	assert.Equal(t, "pending", sub.Status)
	assert.Equal(t, "/api/status/"+sub.OperationID, sub.StatusURL)

	rec, err := e.reg.FindByID(context.Background(), sub.OperationID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, rec.Metadata.MergeOrder)
	require.Len(t, rec.InputFiles, 2)
	assert.Equal(t, "a.pdf", rec.InputFiles[0].OriginalName)
	assert.Equal(t, "application/pdf", rec.InputFiles[0].MimeType)
	require.NotNil(t, rec.InputFiles[1].MergeOrderIndex)
	assert.Equal(t, 0, *rec.InputFiles[1].MergeOrderIndex)
	depth, _ := e.q.Depth(context.Background())
	assert.Equal(t, int64(1), depth)

	e.execute(t, sub.OperationID)

	st := decode[statusBody](t, e.get(sub.StatusURL))
	assert.Equal(t, "completed", st.Status)
	assert.NotNil(t, st.DurationMillis)
	require.Len(t, st.OutputFiles, 1)
	name := pdf.MergedName(sub.OperationID)
	assert.Equal(t, name, st.OutputFiles[0].Filename)
	assert.Equal(t, 5, st.OutputFiles[0].PageCount)
	assert.Equal(t, "/api/download/"+name, st.OutputFiles[0].DownloadURL)
	assert.Equal(t, "/api/preview/"+name, st.OutputFiles[0].PreviewURL)

	dl := e.get(st.OutputFiles[0].DownloadURL)
	require.Equal(t, http.StatusOK, dl.Code)
	assert.Equal(t, "application/pdf", dl.Header().Get("Content-Type"))
	assert.Contains(t, dl.Header().Get("Content-Disposition"), "attachment")
	got := pdftest.WriteBytes(t, t.TempDir(), "got.pdf", dl.Body.Bytes())
	assert.Equal(t, append(pdftest.Widths(200, 3), pdftest.Widths(100, 2)...), pdftest.PageWidths(t, got))

	pv := e.get(st.OutputFiles[0].PreviewURL)
	require.Equal(t, http.StatusOK, pv.Code)
	assert.Contains(t, pv.Header().Get("Content-Disposition"), "inline")
}

func TestSplitSubmitStoresPlan(t *testing.T) {
	e := newEnv(t, 4, Config{})
	res := e.do(multipartRequest(t, "/api/split",
		map[string]string{"splitStrategy": "size", "pagesPerFile": "2"},
		upload{"file", "report.pdf", pdftest.Document(pdftest.Widths(100, 5)...)}))
	require.Equal(t, http.StatusAccepted, res.Code, res.Body.String())
	sub := decode[submitted](t, res)

	rec, err := e.reg.FindByID(context.Background(), sub.OperationID)
	require.NoError(t, err)
	assert.Equal(t, operation.TypeSplit, rec.OperationType)
	assert.Equal(t, 5, rec.Metadata.TotalPages)
	assert.Equal(t, 2, rec.Metadata.PagesPerFile)

	e.execute(t, sub.OperationID)
	st := decode[statusBody](t, e.get(sub.StatusURL))
	require.Len(t, st.OutputFiles, 3)
	assert.Equal(t, 1, st.OutputFiles[2].PageCount)
}

func TestSplitRangesAsJSON(t *testing.T) {
	e := newEnv(t, 4, Config{})
	res := e.do(multipartRequest(t, "/api/split",
		map[string]string{"splitStrategy": "range", "pageRanges": `["1-2", 5]`},
		upload{"file", "six.pdf", pdftest.Document(pdftest.Widths(100, 6)...)}))
	require.Equal(t, http.StatusAccepted, res.Code, res.Body.String())
	sub := decode[submitted](t, res)

	rec, err := e.reg.FindByID(context.Background(), sub.OperationID)
	require.NoError(t, err)
	require.Len(t, rec.Metadata.PageRanges, 2)
	assert.Equal(t, 2, rec.Metadata.PageRanges[0].Pages())
	assert.Equal(t, 1, rec.Metadata.PageRanges[1].Pages())
}

func TestRejectedBeforeRecordIsCreated(t *testing.T) {
	doc := pdftest.Document(pdftest.Widths(100, 3)...)
	tests := []struct {
		name     string
		path     string
		fields   map[string]string
		files    []upload
		wantCode int
		wantErr  string
	}{
		{
			name:     "range past the end",
			path:     "/api/split",
			fields:   map[string]string{"splitStrategy": "range", "pageRanges": "2-9"},
			files:    []upload{{"file", "a.pdf", doc}},
			wantCode: http.StatusBadRequest,
			wantErr:  CodeValidation,
		},
		{
			name:     "unknown strategy",
			path:     "/api/split",
			fields:   map[string]string{"splitStrategy": "halves"},
			files:    []upload{{"file", "a.pdf", doc}},
			wantCode: http.StatusBadRequest,
			wantErr:  CodeValidation,
		},
		{
			name:     "zero pages per file",
			path:     "/api/split",
			fields:   map[string]string{"splitStrategy": "size", "pagesPerFile": "0"},
			files:    []upload{{"file", "a.pdf", doc}},
			wantCode: http.StatusBadRequest,
			wantErr:  CodeValidation,
		},
		{
			name:     "unreadable pdf",
			path:     "/api/split",
			fields:   map[string]string{"splitStrategy": "pages"},
			files:    []upload{{"file", "a.pdf", pdftest.Corrupt()}},
			wantCode: http.StatusBadRequest,
			wantErr:  CodeValidation,
		},
		{
			name:     "single merge input",
			path:     "/api/merge",
			files:    []upload{{"files", "a.pdf", doc}},
			wantCode: http.StatusBadRequest,
			wantErr:  CodeValidation,
		},
		{
			name:     "duplicate merge index",
			path:     "/api/merge",
			fields:   map[string]string{"mergeOrder": "0,0"},
			files:    []upload{{"files", "a.pdf", doc}, {"files", "b.pdf", doc}},
			wantCode: http.StatusBadRequest,
			wantErr:  CodeValidation,
		},
		{
			name:     "merge index out of range",
			path:     "/api/merge",
			fields:   map[string]string{"mergeOrder": "[0,2]"},
			files:    []upload{{"files", "a.pdf", doc}, {"files", "b.pdf", doc}},
			wantCode: http.StatusBadRequest,
			wantErr:  CodeValidation,
		},
		{
			name:     "not a pdf",
			path:     "/api/upload",
			files:    []upload{{"files", "a.pdf", doc}, {"files", "notes.pdf", []byte("just some text\n")}},
			wantCode: http.StatusBadRequest,
			wantErr:  CodeUnsupportedType,
		},
		{
			name:     "no files",
			path:     "/api/upload",
			wantCode: http.StatusBadRequest,
			wantErr:  CodeValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, 4, Config{})
			res := e.do(multipartRequest(t, tt.path, tt.fields, tt.files...))
			require.Equal(t, tt.wantCode, res.Code, res.Body.String())
			body := decode[apiError](t, res)
			assert.False(t, body.Success)
			assert.Equal(t, tt.wantErr, body.Error.Code)
			assert.NotEmpty(t, body.Error.Message)

			st, err := e.reg.Stats(context.Background())
			require.NoError(t, err)
			assert.Zero(t, st.Total)
			assert.Empty(t, dirEntries(t, e.uploadDir), "uploads of a rejected request are removed")
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	e := newEnv(t, 4, Config{MaxUploadBytes: 64})
	res := e.do(multipartRequest(t, "/api/upload", nil,
		upload{"files", "big.pdf", pdftest.Document(pdftest.Widths(100, 3)...)}))
	require.Equal(t, http.StatusRequestEntityTooLarge, res.Code)
	assert.Equal(t, CodeTooLarge, decode[apiError](t, res).Error.Code)
	assert.Empty(t, dirEntries(t, e.uploadDir))
}

func TestQueueFullDiscardsOperation(t *testing.T) {
	e := newEnv(t, 1, Config{})
	require.NoError(t, e.q.Enqueue(context.Background(), "someone-else"))

	res := e.do(multipartRequest(t, "/api/upload", nil,
		upload{"files", "a.pdf", pdftest.Document(pdftest.Widths(100, 1)...)}))
	require.Equal(t, http.StatusServiceUnavailable, res.Code)
	assert.Equal(t, CodeQueueFull, decode[apiError](t, res).Error.Code)

	st, err := e.reg.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Total)
	assert.Empty(t, dirEntries(t, e.uploadDir))
}

func TestUploadCompletesWithStoredInputs(t *testing.T) {
	e := newEnv(t, 4, Config{})
	doc := pdftest.Document(pdftest.Widths(100, 2)...)
	res := e.do(multipartRequest(t, "/api/upload", nil,
		upload{"files", "../../etc/My Report.pdf", doc}))
	require.Equal(t, http.StatusAccepted, res.Code, res.Body.String())
	sub := decode[submitted](t, res)
	e.execute(t, sub.OperationID)

	st := decode[statusBody](t, e.get(sub.StatusURL))
	require.Len(t, st.OutputFiles, 1)
	want := pdf.StoredName(sub.OperationID, 0, "My_Report.pdf")
	assert.Equal(t, want, st.OutputFiles[0].Filename)
	stored, err := os.ReadFile(filepath.Join(e.uploadDir, want))
	require.NoError(t, err)
	assert.Equal(t, doc, stored, "type sniffing must not consume the upload")
	assert.Equal(t, http.StatusOK, e.get(st.OutputFiles[0].DownloadURL).Code)
}

func TestNotFoundResponses(t *testing.T) {
	e := newEnv(t, 4, Config{})
	rec, err := operation.New("op-pending", operation.TypeMerge,
		[]operation.InputFile{{OriginalName: "a.pdf"}, {OriginalName: "b.pdf"}}, nil, operation.ClientInfo{}, time.Now())
	require.NoError(t, err)
	require.NoError(t, e.reg.Create(context.Background(), rec))

	for _, path := range []string{
		"/api/status/unknown",
		"/api/download/" + pdf.MergedName("unknown"),
		"/api/download/" + pdf.MergedName("op-pending"),
		"/api/download/not-generated.pdf",
		"/api/preview/" + pdf.MergedName("op-pending"),
	} {
		t.Run(path, func(t *testing.T) {
			res := e.get(path)
			assert.Equal(t, http.StatusNotFound, res.Code)
			assert.Equal(t, CodeNotFound, decode[apiError](t, res).Error.Code)
		})
	}
}

func TestDownloadMissingOnDisk(t *testing.T) {
	e := newEnv(t, 4, Config{})
	res := e.do(multipartRequest(t, "/api/merge", nil,
		upload{"files", "a.pdf", pdftest.Document(100)}, upload{"files", "b.pdf", pdftest.Document(200)}))
	require.Equal(t, http.StatusAccepted, res.Code)
	sub := decode[submitted](t, res)
	e.execute(t, sub.OperationID)

	rec, err := e.reg.FindByID(context.Background(), sub.OperationID)
	require.NoError(t, err)
	require.NoError(t, os.Remove(rec.OutputFiles[0].StoragePath))
	assert.Equal(t, http.StatusNotFound, e.get("/api/download/"+rec.OutputFiles[0].Filename).Code)
}

func TestFailedStatusCarriesError(t *testing.T) {
	e := newEnv(t, 4, Config{})
	ctx := context.Background()
	rec, err := operation.New("op-bad", operation.TypeUpload, []operation.InputFile{{OriginalName: "a.pdf"}}, nil, operation.ClientInfo{}, time.Now())
	require.NoError(t, err)
	require.NoError(t, e.reg.Create(ctx, rec))
	_, err = e.reg.MarkProcessing(ctx, "op-bad", time.Now())
	require.NoError(t, err)
	_, err = e.reg.MarkFailed(ctx, "op-bad", "input 0 (a.pdf) could not be loaded", time.Now())
	require.NoError(t, err)

	st := decode[statusBody](t, e.get("/api/status/op-bad"))
	assert.Equal(t, "failed", st.Status)
	assert.Contains(t, st.ErrorMessage, "a.pdf")
	assert.NotNil(t, st.DurationMillis)
	assert.Empty(t, st.OutputFiles)
}

func TestHistoryAndStats(t *testing.T) {
	e := newEnv(t, 4, Config{})
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, typ := range []operation.Type{operation.TypeMerge, operation.TypeSplit, operation.TypeMerge, operation.TypeMerge} {
		rec, err := operation.New(string(rune('a'+i)), typ, []operation.InputFile{{OriginalName: "x.pdf"}}, nil, operation.ClientInfo{}, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.NoError(t, e.reg.Create(ctx, rec))
	}
	_, err := e.reg.MarkProcessing(ctx, "c", base)
	require.NoError(t, err)

	type history struct {
		Operations []struct {
			OperationID string `json:"operationId"`
		} `json:"operations"`
		Pagination pagination `json:"pagination"`
	}
	h := decode[history](t, e.get("/api/history?type=merge&page=1&pageSize=2"))
	require.Len(t, h.Operations, 2)
	assert.Equal(t, "d", h.Operations[0].OperationID, "newest first")
	assert.Equal(t, "c", h.Operations[1].OperationID)
	assert.Equal(t, pagination{Page: 1, PageSize: 2, Total: 3, TotalPages: 2}, h.Pagination)

	h = decode[history](t, e.get("/api/history?status=processing"))
	require.Len(t, h.Operations, 1)
	assert.Equal(t, "c", h.Operations[0].OperationID)

	h = decode[history](t, e.get("/api/history?page=9223372036854775807&pageSize=20"))
	assert.Empty(t, h.Operations)
	assert.Equal(t, 4, h.Pagination.Total)

	assert.Equal(t, http.StatusBadRequest, e.get("/api/history?status=done").Code)
	assert.Equal(t, http.StatusBadRequest, e.get("/api/history?page=x").Code)

	stats := decode[statsResp](t, e.get("/api/stats"))
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.ByStatus[operation.StatusPending])
	assert.Equal(t, 1, stats.ByStatus[operation.StatusProcessing])
}

func TestMethodNotAllowed(t *testing.T) {
	e := newEnv(t, 4, Config{})
	res := e.get("/api/merge")
	assert.Equal(t, http.StatusMethodNotAllowed, res.Code)
	assert.Equal(t, http.MethodPost, res.Header().Get("Allow"))

	res = e.do(httptest.NewRequest(http.MethodDelete, "/api/status/x", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, res.Code)
}

func TestHealthEndpoints(t *testing.T) {
	e := newEnv(t, 4, Config{})
	res := e.get("/health")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "ok", res.Body.String())
	assert.Equal(t, http.StatusOK, e.get("/api/health").Code)
}

func TestParseMergeOrder(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{in: "", want: nil},
		{in: "[2,0,1]", want: []int{2, 0, 1}},
		{in: " 1, 0 ", want: []int{1, 0}},
		{in: "[1,", wantErr: true},
		{in: "a,b", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseMergeOrder(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseRangeTokens(t *testing.T) {
	got, err := parseRangeTokens(`["1-2", 5, " 7-"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"1-2", "5", "7-"}, got)

	got, err = parseRangeTokens("1-2, 5")
	require.NoError(t, err)
	assert.Equal(t, []string{"1-2", "5"}, got)

	_, err = parseRangeTokens(`["1-2"`)
	assert.Error(t, err)
}
