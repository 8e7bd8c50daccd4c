// Package pipeline orchestrates a single query: quota check, answer
// cache lookup, retrieval, filtering, inference and the cache write.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"newsrag-gateway/internal/cache"
	"newsrag-gateway/internal/llm"
	"newsrag-gateway/internal/metrics"
	"newsrag-gateway/internal/quota"
	"newsrag-gateway/internal/retrieval"
	"newsrag-gateway/pkg/logging/logging"
)

// Status is the closed set of terminal states a request can reach.
type Status string

const (
	StatusRejectedQuota  Status = "rejected_quota"
	StatusServedCached   Status = "served_cached"
	StatusServedFresh    Status = "served_fresh"
	StatusFailedUpstream Status = "failed_upstream"
	StatusFailedInternal Status = "failed_internal"
)

// Request carries one query through the pipeline.
type Request struct {
	Query     string
	TopK      int
	Threshold float64
	CallerID  string
}

func (r *Request) Validate() error {
	if strings.TrimSpace(r.CallerID) == "" {
		return fmt.Errorf("%w: caller_id is required", ErrValidation)
	}
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("%w: query text is required", ErrValidation)
	}
	if r.TopK <= 0 || r.TopK > 100 {
		return fmt.Errorf("%w: top_k must be in [1,100], got %d", ErrValidation, r.TopK)
	}
	if r.Threshold < 0 || r.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be in [0,1], got %v", ErrValidation, r.Threshold)
	}
	return nil
}

// Result is the pipeline outcome handed back to the HTTP layer. Answer
// and Sources are only meaningful for the Served states.
type Result struct {
	Status    Status
	Answer    string
	Sources   []string
	Latency   time.Duration
	CallCount int64
}

// Ledger is the slice of the quota ledger the pipeline needs.
type Ledger interface {
	CheckAndIncrement(ctx context.Context, callerID string) (quota.Result, error)
}

// Deps are the injected collaborator handles, constructed once at
// process start. The pipeline holds no other state, so concurrent
// Answer calls are safe.
type Deps struct {
	Ledger    Ledger
	Answers   cache.Store
	Embedder  retrieval.Embedder
	Index     retrieval.Index
	Completer llm.Completer
}

type Pipeline struct {
	deps Deps
}

func New(deps Deps) *Pipeline {
	return &Pipeline{deps: deps}
}

// cachedAnswer is the record written to the answer cache. Written once,
// never mutated; a hit is returned unchanged.
type cachedAnswer struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// Answer runs the request through the state machine. The returned error
// is non-nil only for the Failed terminal states; a quota rejection is a
// policy outcome, not an error.
func (p *Pipeline) Answer(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	logger := logging.L(ctx)

	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	// 1. Quota check. The increment happens even when the call ends up
	// rejected; ledger storage failure fails closed.
	quotaRes, err := p.deps.Ledger.CheckAndIncrement(ctx, req.CallerID)
	if err != nil {
		logger.Error("quota ledger unavailable", zap.Error(err))
		return p.finish(Result{Status: StatusFailedInternal, Latency: time.Since(start)}),
			fmt.Errorf("%w: quota ledger: %v", ErrInternal, err)
	}
	if !quotaRes.Allowed {
		metrics.QuotaRejectionsTotal.Inc()
		return p.finish(Result{
			Status:    StatusRejectedQuota,
			Latency:   time.Since(start),
			CallCount: quotaRes.Count,
		}), nil
	}

	// 2. Answer cache lookup. Cache failures degrade to a miss.
	fp := cache.Fingerprint(req.Query, req.TopK, req.Threshold)
	answerKey := cache.AnswerKey(fp)

	cachedBytes, hit, cacheErr := p.deps.Answers.Get(ctx, answerKey)
	if cacheErr != nil {
		logger.Warn("answer_cache_get_error", zap.Error(cacheErr))
	}
	if hit {
		var record cachedAnswer
		if err := json.Unmarshal(cachedBytes, &record); err != nil {
			logger.Warn("answer_cache_unmarshal_error", zap.Error(err))
		} else {
			logger.Info("answer served from cache",
				zap.String("fingerprint", fp),
				zap.Int64("call_count", quotaRes.Count),
			)
			return p.finish(Result{
				Status:    StatusServedCached,
				Answer:    record.Answer,
				Sources:   record.Sources,
				Latency:   time.Since(start),
				CallCount: quotaRes.Count,
			}), nil
		}
	}

	// 3. Retrieve candidates via the embedding and search collaborators.
	vector, err := p.deps.Embedder.Embed(ctx, req.Query)
	if err != nil {
		logger.Error("embedding failed", zap.Error(err))
		return p.finish(Result{Status: StatusFailedUpstream, Latency: time.Since(start), CallCount: quotaRes.Count}),
			fmt.Errorf("%w: embed: %v", ErrUpstream, err)
	}

	candidates, err := p.deps.Index.Query(ctx, vector, req.TopK)
	if err != nil {
		logger.Error("index query failed", zap.Error(err))
		return p.finish(Result{Status: StatusFailedUpstream, Latency: time.Since(start), CallCount: quotaRes.Count}),
			fmt.Errorf("%w: index query: %v", ErrUpstream, err)
	}

	// 4-5. Filter to the admissible subset and assemble the context
	// block. An empty admissible set is a valid, empty context.
	admissible := retrieval.Filter(candidates, req.Threshold)
	contextBlock := retrieval.BuildContext(admissible)

	answer, err := p.deps.Completer.Complete(ctx, contextBlock, req.Query)
	if err != nil {
		logger.Error("completion failed", zap.Error(err))
		return p.finish(Result{Status: StatusFailedUpstream, Latency: time.Since(start), CallCount: quotaRes.Count}),
			fmt.Errorf("%w: complete: %v", ErrUpstream, err)
	}

	// 6. Cache write, best effort.
	record := cachedAnswer{Answer: answer, Sources: retrieval.Sources(admissible)}
	if recordBytes, err := json.Marshal(record); err != nil {
		logger.Warn("answer_cache_marshal_error", zap.Error(err))
	} else if err := p.deps.Answers.Set(ctx, answerKey, recordBytes, cache.AnswerTTL); err != nil {
		logger.Warn("answer_cache_set_error", zap.Error(err))
	}

	logger.Info("answer served fresh",
		zap.String("fingerprint", fp),
		zap.Int("candidates", len(candidates)),
		zap.Int("admissible", len(admissible)),
		zap.Int64("call_count", quotaRes.Count),
	)

	return p.finish(Result{
		Status:    StatusServedFresh,
		Answer:    answer,
		Sources:   record.Sources,
		Latency:   time.Since(start),
		CallCount: quotaRes.Count,
	}), nil
}

func (p *Pipeline) finish(res Result) Result {
	metrics.PipelineOutcomesTotal.WithLabelValues(string(res.Status)).Inc()
	return res
}
