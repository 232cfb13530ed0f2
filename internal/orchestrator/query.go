package orchestrator

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfdispatcher/internal/imagerender"
	"github.com/local/pdfdispatcher/internal/operation"
	"github.com/local/pdfdispatcher/internal/pdf"
)

const maxPageSize = 100

type outputView struct {
	operation.OutputFile
	DownloadURL string `json:"downloadUrl"`
	PreviewURL  string `json:"previewUrl"`
}

// recordView is the record as clients see it. Output locators are derived
// from the filename and never stored.
type recordView struct {
	*operation.Record
	OutputFiles    []outputView `json:"outputFiles"`
	DurationMillis *int64       `json:"durationMillis,omitempty"`
	ErrorMessage   string       `json:"errorMessage,omitempty"`
}

func newRecordView(rec *operation.Record) recordView {
	v := recordView{
		Record:         rec,
		OutputFiles:    make([]outputView, 0, len(rec.OutputFiles)),
		DurationMillis: rec.Processing.DurationMillis,
	}
	if rec.Status == operation.StatusFailed {
		v.ErrorMessage = rec.Processing.ErrorMessage
	}
	for _, out := range rec.OutputFiles {
		name := url.PathEscape(out.Filename)
		v.OutputFiles = append(v.OutputFiles, outputView{
			OutputFile:  out,
			DownloadURL: "/api/download/" + name,
			PreviewURL:  "/api/preview/" + name,
		})
	}
	return v
}

type statusResp struct {
	Success bool `json:"success"`
	recordView
}

type pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type historyResp struct {
	Success    bool         `json:"success"`
	Operations []recordView `json:"operations"`
	Pagination pagination   `json:"pagination"`
}

type statsResp struct {
	Success  bool                     `json:"success"`
	Total    int                      `json:"total"`
	ByStatus map[operation.Status]int `json:"byStatus"`
}

func (o *Orchestrator) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/status/")
	if id == "" || strings.Contains(id, "/") {
		writeErr(w, notFound("operation not found"))
		return
	}
	rec, err := o.deps.Registry.FindByID(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResp{Success: true, recordView: newRecordView(rec)})
}

func (o *Orchestrator) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	page, err := queryInt(q, "page", 1)
	if err != nil {
		writeErr(w, err)
		return
	}
	pageSize, err := queryInt(q, "pageSize", 20)
	if err != nil {
		writeErr(w, err)
		return
	}
	pageSize = min(pageSize, maxPageSize)

	filter := operation.Filter{
		Type:   operation.Type(strings.ToLower(q.Get("type"))),
		Status: operation.Status(strings.ToLower(q.Get("status"))),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		writeErr(w, badRequest("unknown operation type %q", filter.Type))
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeErr(w, badRequest("unknown status %q", filter.Status))
		return
	}

	res, err := o.deps.Registry.List(r.Context(), filter, page, pageSize)
	if err != nil {
		writeErr(w, fmt.Errorf("list operations: %w", err))
		return
	}
	views := make([]recordView, 0, len(res.Records))
	for _, rec := range res.Records {
		views = append(views, newRecordView(rec))
	}
	writeJSON(w, http.StatusOK, historyResp{
		Success:    true,
		Operations: views,
		Pagination: pagination{Page: res.Page, PageSize: res.PageSize, Total: res.Total, TotalPages: res.TotalPages},
	})
}

func (o *Orchestrator) handleStats(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	st, err := o.deps.Registry.Stats(r.Context())
	if err != nil {
		writeErr(w, fmt.Errorf("stats: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, statsResp{Success: true, Total: st.Total, ByStatus: st.ByStatus})
}

func (o *Orchestrator) handleDownload(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/download/")
	out, f, err := o.openOutput(r, name)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Filename))
	http.ServeContent(w, r, out.Filename, st.ModTime(), f)
}

func (o *Orchestrator) handlePreview(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/preview/")
	out, f, err := o.openOutput(r, name)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer f.Close()

	if r.URL.Query().Get("page") == "" {
		st, err := f.Stat()
		if err != nil {
			writeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", out.Filename))
		http.ServeContent(w, r, out.Filename, st.ModTime(), f)
		return
	}

	page, err := queryInt(r.URL.Query(), "page", 1)
	if err != nil {
		writeErr(w, err)
		return
	}
	dpi, err := queryInt(r.URL.Query(), "dpi", 0)
	if err != nil {
		writeErr(w, err)
		return
	}
	img, width, height, err := imagerender.RenderPageToJPEG(out.StoragePath, page, imagerender.Options{DPI: min(dpi, 300)})
	if err != nil {
		var rangeErr *imagerender.PageOutOfRangeError
		if errors.As(err, &rangeErr) {
			writeErr(w, badRequest("%s", rangeErr.Error()))
			return
		}
		writeErr(w, fmt.Errorf("render %s page %d: %w", out.Filename, page, err))
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Image-Width", strconv.Itoa(width))
	w.Header().Set("X-Image-Height", strconv.Itoa(height))
	_, _ = w.Write(img)
}

// openOutput resolves a generated filename to its completed operation and
// opens the file. Every miss is a 404.
func (o *Orchestrator) openOutput(r *http.Request, name string) (operation.OutputFile, *os.File, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return operation.OutputFile{}, nil, notFound("file not found")
	}
	opID, ok := pdf.ParseOutputName(name)
	if !ok {
		return operation.OutputFile{}, nil, notFound("file not found")
	}
	rec, err := o.deps.Registry.FindByID(r.Context(), opID)
	if errors.Is(err, operation.ErrNotFound) {
		return operation.OutputFile{}, nil, notFound("operation not found")
	}
	if err != nil {
		return operation.OutputFile{}, nil, err
	}
	if rec.Status != operation.StatusCompleted {
		return operation.OutputFile{}, nil, notFound("operation %s is %s", rec.OperationID, rec.Status)
	}
	for _, out := range rec.OutputFiles {
		if out.Filename != name {
			continue
		}
		f, err := os.Open(out.StoragePath)
		if err != nil {
			log.Warn().Err(err).Str("operation_id", rec.OperationID).Str("file", name).Msg("output missing from storage")
			return operation.OutputFile{}, nil, notFound("file not found")
		}
		return out, f, nil
	}
	return operation.OutputFile{}, nil, notFound("file not found")
}

func queryInt(q url.Values, key string, def int) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, badRequest("%s must be a non-negative integer", key)
	}
	return n, nil
}
