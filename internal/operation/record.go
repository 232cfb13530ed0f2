package operation

import (
	"fmt"
	"time"

	"github.com/local/pdfdispatcher/internal/selection"
)

// Type is the kind of request an operation tracks.
type Type string

const (
	TypeMerge  Type = "merge"
	TypeSplit  Type = "split"
	TypeUpload Type = "upload"
)

// Valid reports whether t is a known operation type.
func (t Type) Valid() bool {
	switch t {
	case TypeMerge, TypeSplit, TypeUpload:
		return true
	}
	return false
}

// InputFile describes one stored upload. Immutable once the record exists.
type InputFile struct {
	OriginalName    string `json:"originalName"`
	StoredName      string `json:"storedName"`
	StoragePath     string `json:"storagePath"`
	SizeBytes       int64  `json:"sizeBytes"`
	MimeType        string `json:"mimeType"`
	MergeOrderIndex *int   `json:"mergeOrderIndex,omitempty"`
}

// OutputFile describes one produced document.
type OutputFile struct {
	Filename    string `json:"filename"`
	StoragePath string `json:"storagePath"`
	SizeBytes   int64  `json:"sizeBytes"`
	PageCount   int    `json:"pageCount,omitempty"`
	RemoteURL   string `json:"remoteUrl,omitempty"`
}

// Metadata is the persisted form of the operation plan.
type Metadata struct {
	MergeOrder    []int                 `json:"mergeOrder,omitempty"`
	SplitStrategy selection.Strategy    `json:"splitStrategy,omitempty"`
	PageRanges    []selection.PageRange `json:"pageRanges,omitempty"`
	PagesPerFile  int                   `json:"pagesPerFile,omitempty"`
	TotalPages    int                   `json:"totalPages,omitempty"`
}

// Processing holds execution timing. DurationMillis is only set together with EndTime.
type Processing struct {
	StartTime      *time.Time `json:"startTime,omitempty"`
	EndTime        *time.Time `json:"endTime,omitempty"`
	DurationMillis *int64     `json:"durationMillis,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
}

// ClientInfo is descriptive only.
type ClientInfo struct {
	SourceAddress string `json:"sourceAddress,omitempty"`
	UserAgent     string `json:"userAgent,omitempty"`
}

// Record is the persisted lifecycle of one request.
type Record struct {
	OperationID   string       `json:"operationId"`
	OperationType Type         `json:"operationType"`
	Status        Status       `json:"status"`
	InputFiles    []InputFile  `json:"inputFiles"`
	OutputFiles   []OutputFile `json:"outputFiles"`
	Metadata      Metadata     `json:"metadata"`
	Processing    Processing   `json:"processing"`
	ClientInfo    ClientInfo   `json:"clientInfo"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// New builds a pending record for the given plan.
func New(id string, typ Type, inputs []InputFile, plan selection.Plan, client ClientInfo, now time.Time) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("operation id is required")
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown operation type %q", typ)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("operation %s has no input files", id)
	}
	now = now.UTC()
	return &Record{
		OperationID:   id,
		OperationType: typ,
		Status:        StatusPending,
		InputFiles:    append([]InputFile(nil), inputs...),
		OutputFiles:   []OutputFile{},
		Metadata:      MetadataFromPlan(plan),
		ClientInfo:    client,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// MetadataFromPlan flattens a plan for storage. A nil plan yields empty metadata.
func MetadataFromPlan(plan selection.Plan) Metadata {
	switch p := plan.(type) {
	case selection.MergePlan:
		return Metadata{MergeOrder: append([]int(nil), p.Order...)}
	case selection.SplitPlan:
		return Metadata{
			SplitStrategy: p.Strategy,
			PageRanges:    append([]selection.PageRange(nil), p.Ranges...),
			PagesPerFile:  p.PagesPerFile,
		}
	}
	return Metadata{}
}

// Plan rebuilds the tagged plan from stored metadata. Upload records have no plan.
func (r *Record) Plan() (selection.Plan, error) {
	switch r.OperationType {
	case TypeMerge:
		order, err := selection.ResolveMergeOrder(len(r.InputFiles), r.Metadata.MergeOrder)
		if err != nil {
			return nil, err
		}
		return selection.MergePlan{Order: order}, nil
	case TypeSplit:
		return selection.SplitPlan{
			Strategy:     r.Metadata.SplitStrategy,
			Ranges:       r.Metadata.PageRanges,
			PagesPerFile: r.Metadata.PagesPerFile,
		}, nil
	case TypeUpload:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown operation type %q", r.OperationType)
}

// Clone returns a deep copy so callers can't mutate stored state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.InputFiles = append([]InputFile(nil), r.InputFiles...)
	c.OutputFiles = append([]OutputFile{}, r.OutputFiles...)
	c.Metadata.MergeOrder = append([]int(nil), r.Metadata.MergeOrder...)
	c.Metadata.PageRanges = append([]selection.PageRange(nil), r.Metadata.PageRanges...)
	c.Processing = Processing{ErrorMessage: r.Processing.ErrorMessage}
	if r.Processing.StartTime != nil {
		t := *r.Processing.StartTime
		c.Processing.StartTime = &t
	}
	if r.Processing.EndTime != nil {
		t := *r.Processing.EndTime
		c.Processing.EndTime = &t
	}
	if r.Processing.DurationMillis != nil {
		d := *r.Processing.DurationMillis
		c.Processing.DurationMillis = &d
	}
	return &c
}
