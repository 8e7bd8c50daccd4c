package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsrag-gateway/internal/cache"
	"newsrag-gateway/internal/quota"
	"newsrag-gateway/internal/retrieval"
)

type stubLedger struct {
	count int64
	limit int64
	err   error
	calls int
}

func (l *stubLedger) CheckAndIncrement(_ context.Context, _ string) (quota.Result, error) {
	l.calls++
	if l.err != nil {
		return quota.Result{}, l.err
	}
	l.count++
	return quota.Result{Count: l.count, Allowed: l.count <= l.limit}, nil
}

type stubEmbedder struct {
	calls int
	err   error
}

func (e *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type stubIndex struct {
	candidates []retrieval.Candidate
	calls      int
	err        error
}

func (i *stubIndex) Query(_ context.Context, _ []float32, _ int) ([]retrieval.Candidate, error) {
	i.calls++
	if i.err != nil {
		return nil, i.err
	}
	return i.candidates, nil
}

func (i *stubIndex) Upsert(_ context.Context, _ []retrieval.IndexEntry) error {
	return nil
}

type stubCompleter struct {
	answer      string
	calls       int
	err         error
	lastContext string
}

func (c *stubCompleter) Complete(_ context.Context, contextBlock, _ string) (string, error) {
	c.calls++
	c.lastContext = contextBlock
	if c.err != nil {
		return "", c.err
	}
	return c.answer, nil
}

// brokenStore simulates an unreachable cache backend.
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("store unreachable")
}

func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("store unreachable")
}

func newTestPipeline(t *testing.T, deps Deps) *Pipeline {
	t.Helper()
	if deps.Answers == nil {
		store := cache.NewMemoryStore(time.Minute)
		t.Cleanup(func() { store.Close() })
		deps.Answers = store
	}
	if deps.Ledger == nil {
		deps.Ledger = &stubLedger{limit: 5}
	}
	if deps.Embedder == nil {
		deps.Embedder = &stubEmbedder{}
	}
	if deps.Index == nil {
		deps.Index = &stubIndex{}
	}
	if deps.Completer == nil {
		deps.Completer = &stubCompleter{answer: "answer"}
	}
	return New(deps)
}

func validRequest() Request {
	return Request{Query: "what happened today", TopK: 5, Threshold: 0.2, CallerID: "user-1"}
}

func TestAnswerQuotaBoundary(t *testing.T) {
	ledger := &stubLedger{limit: 5}
	embedder := &stubEmbedder{}
	completer := &stubCompleter{answer: "ok"}
	p := newTestPipeline(t, Deps{Ledger: ledger, Embedder: embedder, Completer: completer})
	ctx := context.Background()

	// Distinct queries so the cache never short-circuits quota counting.
	for i := 1; i <= 5; i++ {
		req := validRequest()
		req.Query = fmt.Sprintf("query %d", i)
		res, err := p.Answer(ctx, req)
		require.NoError(t, err)
		assert.NotEqual(t, StatusRejectedQuota, res.Status, "call %d", i)
		assert.Equal(t, int64(i), res.CallCount)
	}

	res, err := p.Answer(ctx, validRequest())
	require.NoError(t, err, "quota rejection is a policy outcome, not an error")
	assert.Equal(t, StatusRejectedQuota, res.Status)
	assert.Equal(t, int64(6), res.CallCount, "rejected calls still count")

	// No expensive work after rejection.
	assert.Equal(t, 5, embedder.calls)
	assert.Equal(t, 5, completer.calls)
}

func TestAnswerLedgerFailureFailsClosed(t *testing.T) {
	ledger := &stubLedger{err: errors.New("db locked")}
	embedder := &stubEmbedder{}
	p := newTestPipeline(t, Deps{Ledger: ledger, Embedder: embedder})

	res, err := p.Answer(context.Background(), validRequest())
	assert.Equal(t, StatusFailedInternal, res.Status)
	assert.ErrorIs(t, err, ErrInternal)
	assert.Zero(t, embedder.calls)
}

func TestAnswerCacheShortCircuit(t *testing.T) {
	index := &stubIndex{candidates: []retrieval.Candidate{
		{Content: "doc", SourceID: "https://example.com/a", Score: 0.9},
	}}
	completer := &stubCompleter{answer: "the answer"}
	p := newTestPipeline(t, Deps{Index: index, Completer: completer})
	ctx := context.Background()

	first, err := p.Answer(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusServedFresh, first.Status)

	second, err := p.Answer(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusServedCached, second.Status)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, first.Sources, second.Sources)

	assert.Equal(t, 1, completer.calls, "cached call must not reach the completion service")
	assert.Equal(t, 1, index.calls)
}

func TestAnswerFingerprintSensitivity(t *testing.T) {
	completer := &stubCompleter{answer: "a"}
	p := newTestPipeline(t, Deps{Completer: completer})
	ctx := context.Background()

	_, err := p.Answer(ctx, validRequest())
	require.NoError(t, err)

	changed := validRequest()
	changed.TopK = 6
	res, err := p.Answer(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, StatusServedFresh, res.Status, "different top_k must not hit the cache")
	assert.Equal(t, 2, completer.calls)
}

func TestAnswerEndToEndExample(t *testing.T) {
	index := &stubIndex{candidates: []retrieval.Candidate{
		{Content: "high", SourceID: "src-1", Score: 0.9},
		{Content: "mid", SourceID: "src-2", Score: 0.3},
		{Content: "low", SourceID: "src-3", Score: 0.1},
	}}
	completer := &stubCompleter{answer: "final answer"}
	p := newTestPipeline(t, Deps{Index: index, Completer: completer})
	ctx := context.Background()

	req := Request{Query: "example", TopK: 5, Threshold: 0.2, CallerID: "user-e2e"}
	res, err := p.Answer(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StatusServedFresh, res.Status)
	assert.Equal(t, []string{"src-1", "src-2"}, res.Sources, "admissible subset in original order")
	assert.Contains(t, completer.lastContext, "Source: src-1\nText: high")
	assert.NotContains(t, completer.lastContext, "src-3")

	// Repeat call: identical answer and sources, no second inference.
	repeat, err := p.Answer(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StatusServedCached, repeat.Status)
	assert.Equal(t, res.Answer, repeat.Answer)
	assert.Equal(t, res.Sources, repeat.Sources)
	assert.Equal(t, 1, completer.calls)
}

func TestAnswerEmptyAdmissibleSetIsNotAnError(t *testing.T) {
	index := &stubIndex{candidates: []retrieval.Candidate{
		{Content: "weak", SourceID: "src-1", Score: 0.01},
	}}
	completer := &stubCompleter{answer: "best effort"}
	p := newTestPipeline(t, Deps{Index: index, Completer: completer})

	res, err := p.Answer(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusServedFresh, res.Status)
	assert.Empty(t, res.Sources)
	assert.Equal(t, "", completer.lastContext, "empty admissible set yields empty context")
}

func TestAnswerUpstreamFailures(t *testing.T) {
	t.Run("embedder", func(t *testing.T) {
		p := newTestPipeline(t, Deps{Embedder: &stubEmbedder{err: errors.New("down")}})
		res, err := p.Answer(context.Background(), validRequest())
		assert.Equal(t, StatusFailedUpstream, res.Status)
		assert.ErrorIs(t, err, ErrUpstream)
	})

	t.Run("index", func(t *testing.T) {
		p := newTestPipeline(t, Deps{Index: &stubIndex{err: errors.New("down")}})
		res, err := p.Answer(context.Background(), validRequest())
		assert.Equal(t, StatusFailedUpstream, res.Status)
		assert.ErrorIs(t, err, ErrUpstream)
	})

	t.Run("completer", func(t *testing.T) {
		p := newTestPipeline(t, Deps{Completer: &stubCompleter{err: errors.New("down")}})
		res, err := p.Answer(context.Background(), validRequest())
		assert.Equal(t, StatusFailedUpstream, res.Status)
		assert.ErrorIs(t, err, ErrUpstream)
	})
}

func TestAnswerCacheFailuresDegradeToMiss(t *testing.T) {
	completer := &stubCompleter{answer: "still works"}
	p := newTestPipeline(t, Deps{Answers: brokenStore{}, Completer: completer})

	res, err := p.Answer(context.Background(), validRequest())
	require.NoError(t, err, "cache is an optimization, not a correctness dependency")
	assert.Equal(t, StatusServedFresh, res.Status)
	assert.Equal(t, "still works", res.Answer)
}

func TestAnswerValidation(t *testing.T) {
	ledger := &stubLedger{limit: 5}
	p := newTestPipeline(t, Deps{Ledger: ledger})
	ctx := context.Background()

	cases := []Request{
		{Query: "q", TopK: 5, Threshold: 0.2},                             // missing caller
		{Query: "  ", TopK: 5, Threshold: 0.2, CallerID: "u"},             // blank query
		{Query: "q", TopK: 0, Threshold: 0.2, CallerID: "u"},              // bad top_k
		{Query: "q", TopK: 5, Threshold: 1.5, CallerID: "u"},              // bad threshold
	}
	for _, req := range cases {
		_, err := p.Answer(ctx, req)
		assert.ErrorIs(t, err, ErrValidation)
	}

	assert.Zero(t, ledger.calls, "validation failures must precede any stateful operation")
}
