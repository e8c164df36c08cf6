//go:build !cgo
// +build !cgo

package ranking

import (
	"context"
	"errors"

	"github.com/hyperjump/soudan/internal/models"
)

var errNoCGO = errors.New("cross-encoder requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// CrossEncoder stub type when built without CGO.
type CrossEncoder struct{}

// NewCrossEncoder returns an error when built without CGO.
func NewCrossEncoder(_ CrossEncoderConfig) (*CrossEncoder, error) {
	return nil, errNoCGO
}

func (c *CrossEncoder) Name() string { return RerankCrossEncoder }

func (c *CrossEncoder) Rerank(context.Context, *AnalyzedQuery, []*models.SearchResult) error {
	return errNoCGO
}

func (c *CrossEncoder) Close() error { return nil }
