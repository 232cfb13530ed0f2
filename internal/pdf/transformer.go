package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfdispatcher/internal/operation"
	"github.com/local/pdfdispatcher/internal/selection"
)

// LoadError reports an input that could not be opened as a PDF.
type LoadError struct {
	Index int
	Name  string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("input %d (%s) could not be loaded: %v", e.Index, e.Name, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Transformer turns operation plans into files under outDir.
type Transformer struct {
	engine      Engine
	outDir      string
	parallelism int
}

// NewTransformer returns a transformer writing into outDir. parallelism bounds
// how many split parts are extracted at once; values below 1 mean sequential.
func NewTransformer(engine Engine, outDir string, parallelism int) *Transformer {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Transformer{engine: engine, outDir: outDir, parallelism: parallelism}
}

// PageCount loads path once and returns its number of pages.
func (t *Transformer) PageCount(path string) (int, error) {
	return t.engine.PageCount(path)
}

// Run executes rec's plan. Output sizes are left for the caller to stat.
func (t *Transformer) Run(ctx context.Context, rec *operation.Record) ([]operation.OutputFile, error) {
	plan, err := rec.Plan()
	if err != nil {
		return nil, err
	}
	switch p := plan.(type) {
	case selection.MergePlan:
		ordered := selection.ApplyOrder(rec.InputFiles, p.Order)
		paths := make([]string, len(ordered))
		for i, in := range ordered {
			paths[i] = in.StoragePath
		}
		out, err := t.Merge(ctx, rec.OperationID, paths)
		if err != nil {
			return nil, err
		}
		return []operation.OutputFile{out}, nil
	case selection.SplitPlan:
		if len(rec.InputFiles) != 1 {
			return nil, fmt.Errorf("split expects exactly one input, got %d", len(rec.InputFiles))
		}
		return t.Split(ctx, rec.OperationID, rec.InputFiles[0].StoragePath, p)
	case nil:
		if rec.OperationType == operation.TypeUpload {
			return t.verifyUploads(ctx, rec.InputFiles)
		}
	}
	return nil, fmt.Errorf("operation %s has no executable plan", rec.OperationID)
}

// Merge concatenates inputs in the given order into merged_<opID>.pdf.
func (t *Transformer) Merge(ctx context.Context, opID string, inputs []string) (operation.OutputFile, error) {
	if len(inputs) == 0 {
		return operation.OutputFile{}, fmt.Errorf("merge %s: no inputs", opID)
	}
	total := 0
	for i, path := range inputs {
		if err := ctx.Err(); err != nil {
			return operation.OutputFile{}, err
		}
		n, err := t.engine.PageCount(path)
		if err != nil {
			return operation.OutputFile{}, &LoadError{Index: i, Name: filepath.Base(path), Err: err}
		}
		total += n
	}

	name := MergedName(opID)
	final := filepath.Join(t.outDir, name)
	if err := t.publish(final, func(tmp string) error { return t.engine.Merge(inputs, tmp) }); err != nil {
		return operation.OutputFile{}, err
	}
	log.Debug().Str("operation_id", opID).Int("inputs", len(inputs)).Int("pages", total).Str("output", name).Msg("merge written")
	return operation.OutputFile{Filename: name, StoragePath: final, PageCount: total}, nil
}

// Split writes one output per planned chunk of input. On failure every part
// already written is removed.
func (t *Transformer) Split(ctx context.Context, opID, input string, plan selection.SplitPlan) ([]operation.OutputFile, error) {
	total, err := t.engine.PageCount(input)
	if err != nil {
		return nil, &LoadError{Index: 0, Name: filepath.Base(input), Err: err}
	}
	chunks, err := plan.Chunks(total)
	if err != nil {
		return nil, err
	}

	outs := make([]operation.OutputFile, len(chunks))
	for i, pr := range chunks {
		name := SplitName(opID, i+1, pr)
		outs[i] = operation.OutputFile{Filename: name, StoragePath: filepath.Join(t.outDir, name), PageCount: pr.Pages()}
	}

	errs := make([]error, len(chunks))
	sem := make(chan struct{}, t.parallelism)
	var wg sync.WaitGroup
	for i := range chunks {
		if ctx.Err() != nil {
			errs[i] = ctx.Err()
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					_ = os.Remove(outs[i].StoragePath + tmpExt)
					errs[i] = fmt.Errorf("extract %s panicked: %v", chunks[i].Label(), r)
				}
			}()
			errs[i] = t.publish(outs[i].StoragePath, func(tmp string) error {
				return t.engine.Extract(input, tmp, chunks[i])
			})
		}(i)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		t.retract(opID, outs)
		return nil, err
	}
	log.Debug().Str("operation_id", opID).Int("pages", total).Int("parts", len(outs)).Str("strategy", string(plan.Strategy)).Msg("split written")
	return outs, nil
}

func (t *Transformer) verifyUploads(ctx context.Context, inputs []operation.InputFile) ([]operation.OutputFile, error) {
	outs := make([]operation.OutputFile, 0, len(inputs))
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := t.engine.PageCount(in.StoragePath)
		if err != nil {
			return nil, &LoadError{Index: i, Name: in.OriginalName, Err: err}
		}
		outs = append(outs, operation.OutputFile{Filename: in.StoredName, StoragePath: in.StoragePath, PageCount: n})
	}
	return outs, nil
}

// publish writes through a .tmp sibling so final is either absent or complete.
func (t *Transformer) publish(final string, write func(tmp string) error) error {
	tmp := final + tmpExt
	if err := write(tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish %s: %w", filepath.Base(final), err)
	}
	return nil
}

func (t *Transformer) retract(opID string, outs []operation.OutputFile) {
	for _, o := range outs {
		if err := os.Remove(o.StoragePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("operation_id", opID).Str("file", o.Filename).Msg("failed to remove partial output")
		}
	}
}
