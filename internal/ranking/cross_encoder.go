//go:build cgo
// +build cgo

package ranking

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/hyperjump/soudan/internal/embedding"
	"github.com/hyperjump/soudan/internal/models"
	ort "github.com/yalue/onnxruntime_go"
)

// CrossEncoder scores query/passage pairs with an ONNX cross-encoder model.
type CrossEncoder struct {
	session   *ort.AdvancedSession
	tensors   *embedding.BERTTensors
	tokenizer embedding.Tokenizer
	maxTokens int
	mu        sync.Mutex
}

// NewCrossEncoder loads the model. The model must emit a single relevance logit named "logits".
func NewCrossEncoder(cfg CrossEncoderConfig) (*CrossEncoder, error) {
	cfg = cfg.withDefaults()
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("cross-encoder model path is required")
	}
	session, tensors, err := embedding.NewBERTSession(cfg.ModelPath, cfg.OutputName, cfg.MaxTokens, 1)
	if err != nil {
		return nil, err
	}
	return &CrossEncoder{
		session:   session,
		tensors:   tensors,
		tokenizer: &embedding.SimpleTokenizer{},
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (c *CrossEncoder) Name() string { return RerankCrossEncoder }

// Rerank sets RerankScore to the sigmoid of the model logit for each pair.
func (c *CrossEncoder) Rerank(ctx context.Context, query *AnalyzedQuery, results []*models.SearchResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range results {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, mask, types := c.tokenizer.TokenizePair(query.Original, r.Parent.Content, c.maxTokens)
		c.tensors.Set(ids, mask, types)
		if err := c.session.Run(); err != nil {
			return fmt.Errorf("cross-encoder inference failed: %w", err)
		}
		r.RerankScore = sigmoid(float64(c.tensors.Output()[0]))
	}
	return nil
}

// Close destroys the session and tensors.
func (c *CrossEncoder) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.session != nil {
		err = c.session.Destroy()
		c.session = nil
	}
	if c.tensors != nil {
		c.tensors.Destroy()
		c.tensors = nil
	}
	return err
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
