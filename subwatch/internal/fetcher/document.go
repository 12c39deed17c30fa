package fetcher

import (
	"context"

	"github.com/hazyhaar/subtrack/subwatch/mutation"
)

// Document is a fetched page frozen at fetch time. It satisfies the
// pipeline's document contract with a change source that never fires, so
// a pipeline over it performs exactly its initial scan.
type Document struct {
	res *Result
}

// NewDocument wraps a fetch result.
func NewDocument(res *Result) *Document { return &Document{res: res} }

func (d *Document) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return d.res.Text, nil
}

func (d *Document) URL() string { return d.res.URL }

func (d *Document) OnMutations(func(mutation.Batch)) func() { return func() {} }
func (d *Document) OnVisibility(func(mutation.Visibility)) func() { return func() {} }
func (d *Document) OnUnload(func()) func() { return func() {} }
