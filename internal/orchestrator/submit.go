package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfdispatcher/internal/metrics"
	"github.com/local/pdfdispatcher/internal/operation"
	"github.com/local/pdfdispatcher/internal/pdf"
	"github.com/local/pdfdispatcher/internal/queue"
	"github.com/local/pdfdispatcher/internal/selection"
)

// multipart parts above this are spooled to temp files by net/http
const formMemory = 32 << 20

type submitResp struct {
	Success     bool   `json:"success"`
	OperationID string `json:"operationId"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	StatusURL   string `json:"statusUrl"`
}

func (o *Orchestrator) handleMerge(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	files, err := o.parseFiles(w, r, "files")
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(files) < 2 {
		writeErr(w, badRequest("merge needs at least 2 files, got %d", len(files)))
		return
	}
	order, err := parseMergeOrder(r.FormValue("mergeOrder"))
	if err != nil {
		writeErr(w, err)
		return
	}
	order, err = selection.ResolveMergeOrder(len(files), order)
	if err != nil {
		writeErr(w, err)
		return
	}

	opID := uuid.NewString()
	inputs, err := o.saveUploads(opID, files)
	if err != nil {
		writeErr(w, err)
		return
	}
	for pos, idx := range order {
		p := pos
		inputs[idx].MergeOrderIndex = &p
	}
	rec, err := operation.New(opID, operation.TypeMerge, inputs, selection.MergePlan{Order: order}, clientInfo(r), o.now())
	if err != nil {
		removeInputs(inputs)
		writeErr(w, err)
		return
	}
	o.submit(w, r, rec, fmt.Sprintf("Merge of %d files (%s) queued", len(order), humanize.Bytes(uint64(totalSize(inputs)))))
}

func (o *Orchestrator) handleSplit(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	files, err := o.parseFiles(w, r, "file")
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(files) != 1 {
		writeErr(w, badRequest("split needs exactly 1 file, got %d", len(files)))
		return
	}
	strategy, err := selection.ParseStrategy(r.FormValue("splitStrategy"))
	if err != nil {
		writeErr(w, err)
		return
	}
	tokens, err := parseRangeTokens(r.FormValue("pageRanges"))
	if err != nil {
		writeErr(w, err)
		return
	}
	pagesPerFile := 0
	if v := strings.TrimSpace(r.FormValue("pagesPerFile")); v != "" {
		if pagesPerFile, err = strconv.Atoi(v); err != nil {
			writeErr(w, &selection.InvalidSplitOptionError{Option: "pagesPerFile", Reason: "must be a positive integer"})
			return
		}
	}

	opID := uuid.NewString()
	inputs, err := o.saveUploads(opID, files)
	if err != nil {
		writeErr(w, err)
		return
	}
	total, err := o.deps.Pages.PageCount(inputs[0].StoragePath)
	if err != nil {
		removeInputs(inputs)
		log.Debug().Err(err).Str("operation_id", opID).Msg("page count failed")
		writeErr(w, badRequest("%s could not be read as a PDF document", inputs[0].OriginalName))
		return
	}
	plan, err := selection.NewSplitPlan(strategy, tokens, pagesPerFile, total)
	if err != nil {
		removeInputs(inputs)
		writeErr(w, err)
		return
	}
	rec, err := operation.New(opID, operation.TypeSplit, inputs, plan, clientInfo(r), o.now())
	if err != nil {
		removeInputs(inputs)
		writeErr(w, err)
		return
	}
	rec.Metadata.TotalPages = total
	parts, _ := plan.Chunks(total)
	o.submit(w, r, rec, fmt.Sprintf("Split of %d pages into %d files queued", total, len(parts)))
}

func (o *Orchestrator) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	files, err := o.parseFiles(w, r, "files")
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(files) == 0 {
		writeErr(w, badRequest("no files uploaded"))
		return
	}
	opID := uuid.NewString()
	inputs, err := o.saveUploads(opID, files)
	if err != nil {
		writeErr(w, err)
		return
	}
	rec, err := operation.New(opID, operation.TypeUpload, inputs, nil, clientInfo(r), o.now())
	if err != nil {
		removeInputs(inputs)
		writeErr(w, err)
		return
	}
	o.submit(w, r, rec, fmt.Sprintf("Upload of %d files (%s) queued", len(inputs), humanize.Bytes(uint64(totalSize(inputs)))))
}

// submit persists rec and hands it to the worker pool. A record that cannot
// be enqueued is deleted again together with its uploads.
func (o *Orchestrator) submit(w http.ResponseWriter, r *http.Request, rec *operation.Record, msg string) {
	ctx := r.Context()
	if err := o.deps.Registry.Create(ctx, rec); err != nil {
		removeInputs(rec.InputFiles)
		writeErr(w, fmt.Errorf("create operation: %w", err))
		return
	}
	if err := o.deps.Queue.Enqueue(ctx, rec.OperationID); err != nil {
		o.discard(rec)
		if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrClosed) {
			metrics.IncQueueRejected()
			log.Warn().Err(err).Str("operation_id", rec.OperationID).Str("operation_type", string(rec.OperationType)).Msg("operation rejected")
			writeError(w, http.StatusServiceUnavailable, CodeQueueFull, "server is busy, try again later")
			return
		}
		writeErr(w, fmt.Errorf("enqueue operation: %w", err))
		return
	}

	metrics.IncSubmitted(string(rec.OperationType))
	log.Info().
		Str("operation_id", rec.OperationID).
		Str("operation_type", string(rec.OperationType)).
		Int("inputs", len(rec.InputFiles)).
		Str("client", rec.ClientInfo.SourceAddress).
		Msg("operation submitted")

	writeJSON(w, http.StatusAccepted, submitResp{
		Success:     true,
		OperationID: rec.OperationID,
		Status:      string(rec.Status),
		Message:     msg,
		StatusURL:   "/api/status/" + rec.OperationID,
	})
}

func (o *Orchestrator) discard(rec *operation.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.deps.Registry.Delete(ctx, rec.OperationID); err != nil {
		log.Error().Err(err).Str("operation_id", rec.OperationID).Msg("failed to delete rejected operation")
	}
	removeInputs(rec.InputFiles)
}

// parseFiles reads the multipart form and returns the parts under field.
func (o *Orchestrator) parseFiles(w http.ResponseWriter, r *http.Request, field string) ([]*multipart.FileHeader, error) {
	limit := o.cfg.MaxUploadBytes*int64(o.cfg.MaxFiles) + formMemory
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, err
		}
		return nil, badRequest("invalid multipart form")
	}
	files := r.MultipartForm.File[field]
	if len(files) > o.cfg.MaxFiles {
		return nil, badRequest("at most %d files per request, got %d", o.cfg.MaxFiles, len(files))
	}
	return files, nil
}

// saveUploads stores every part under UploadDir and checks it is a PDF. On
// error nothing stays on disk.
func (o *Orchestrator) saveUploads(opID string, files []*multipart.FileHeader) ([]operation.InputFile, error) {
	inputs := make([]operation.InputFile, 0, len(files))
	for i, fh := range files {
		in, err := o.saveUpload(opID, i, fh)
		if err != nil {
			removeInputs(inputs)
			return nil, err
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func (o *Orchestrator) saveUpload(opID string, index int, fh *multipart.FileHeader) (operation.InputFile, error) {
	if fh.Size > o.cfg.MaxUploadBytes {
		return operation.InputFile{}, &RequestError{
			Status: http.StatusRequestEntityTooLarge,
			Code:   CodeTooLarge,
			Message: fmt.Sprintf("%s is %s, the limit is %s", fh.Filename,
				humanize.Bytes(uint64(fh.Size)), humanize.Bytes(uint64(o.cfg.MaxUploadBytes))),
		}
	}
	stored := pdf.StoredName(opID, index, pdf.SanitizeName(fh.Filename))
	path := filepath.Join(o.cfg.UploadDir, stored)

	src, err := fh.Open()
	if err != nil {
		return operation.InputFile{}, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer src.Close()
	// reject by content before anything reaches disk
	info, err := o.deps.Detector.RequirePDF(src, fh.Filename)
	if err != nil {
		return operation.InputFile{}, err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return operation.InputFile{}, fmt.Errorf("rewind upload %s: %w", fh.Filename, err)
	}
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return operation.InputFile{}, fmt.Errorf("store upload %s: %w", fh.Filename, err)
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return operation.InputFile{}, fmt.Errorf("store upload %s: %w", fh.Filename, err)
	}
	return operation.InputFile{
		OriginalName: fh.Filename,
		StoredName:   stored,
		StoragePath:  path,
		SizeBytes:    n,
		MimeType:     info.MIMEType,
	}, nil
}

func removeInputs(inputs []operation.InputFile) {
	for _, in := range inputs {
		if in.StoragePath == "" {
			continue
		}
		if err := os.Remove(in.StoragePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("file", in.StoredName).Msg("failed to remove upload")
		}
	}
}

// parseMergeOrder accepts "[2,0,1]" or "2,0,1". Empty means upload order.
func parseMergeOrder(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "[") {
		var order []int
		if err := json.Unmarshal([]byte(s), &order); err != nil {
			return nil, badRequest("mergeOrder must be a list of 0-based file indices")
		}
		return order, nil
	}
	var order []int
	for _, tok := range selection.SplitTokens(s) {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, badRequest("mergeOrder must be a list of 0-based file indices")
		}
		order = append(order, n)
	}
	return order, nil
}

// parseRangeTokens accepts a JSON array (`["1-3", 5]`) or a comma list.
func parseRangeTokens(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") {
		return selection.SplitTokens(s), nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, badRequest("pageRanges must be a list of page ranges")
	}
	tokens := make([]string, 0, len(raw))
	for _, item := range raw {
		var tok string
		if err := json.Unmarshal(item, &tok); err != nil {
			tok = string(item)
		}
		tokens = append(tokens, strings.TrimSpace(tok))
	}
	return tokens, nil
}

func clientInfo(r *http.Request) operation.ClientInfo {
	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return operation.ClientInfo{SourceAddress: addr, UserAgent: r.UserAgent()}
}

func totalSize(inputs []operation.InputFile) int64 {
	var n int64
	for _, in := range inputs {
		n += in.SizeBytes
	}
	return n
}
