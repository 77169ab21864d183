package rag

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
)

func TestParseLines(t *testing.T) {
	got := parseLines("1. What stack?\n- what stack?\n\n2) Which teams?\n* \"Any awards?\"\n• Original", 5, "original")
	assert.Equal(t, []string{"What stack?", "Which teams?", "Any awards?"}, got)
	assert.Len(t, parseLines("a\nb\nc\nd", 2), 2)
}

func TestExpander_Expand(t *testing.T) {
	fake := &llm.Fake{CompleteFunc: func(req llm.Request) (string, error) {
		return "1. How long has the candidate worked?\n2. how many years of experience?\n3. Years in industry?\n4. Extra one", nil
	}}
	e := NewExpander(fake, 4, 0.7, nil)
	queries, err := e.Expand(context.Background(), "How many years of experience?")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"How many years of experience?",
		"How long has the candidate worked?",
		"Years in industry?",
		"Extra one",
	}, queries)
	calls := fake.Calls(llm.PurposeExpansion)
	require.Len(t, calls, 1)
	assert.Equal(t, 0.7, calls[0].Temperature)
}

func TestExpander_FailureFallsBack(t *testing.T) {
	for name, f := range map[string]func(llm.Request) (string, error){
		"error": func(llm.Request) (string, error) { return "", errors.New("boom") },
		"empty": func(llm.Request) (string, error) { return "  \n", nil },
	} {
		t.Run(name, func(t *testing.T) {
			e := NewExpander(&llm.Fake{CompleteFunc: f}, 4, 0.7, nil)
			queries, err := e.Expand(context.Background(), "q?")
			assert.Equal(t, []string{"q?"}, queries)
			assert.True(t, models.IsKind(err, models.KindExpansion))
		})
	}
}

func TestExpander_DisabledMakesNoCall(t *testing.T) {
	fake := &llm.Fake{}
	queries, err := NewExpander(fake, 1, 0.7, nil).Expand(context.Background(), "q?")
	require.NoError(t, err)
	assert.Equal(t, []string{"q?"}, queries)
	assert.Empty(t, fake.Calls(""))
}

func manyDocs() [][2]string {
	return [][2]string{
		{"bio.md", "I have 5 years of experience building Go services."},
		{"cv.md", "Experience: 5 years at Acme building distributed Go services."},
		{"skills.md", "Skills: Go, Kubernetes, PostgreSQL, gRPC."},
		{"hobbies.md", "Climbing, chess and sourdough baking."},
		{"edu.md", "BSc Computer Science, graduated with honours."},
		{"talks.md", "Spoke at GopherCon about services in Go."},
		{"awards.md", "Hackathon winner, open source contributor."},
	}
}

func TestRetriever_BoundsDedupeOrdering(t *testing.T) {
	snap := buildSnapshot(t, manyDocs()...)
	r := NewRetriever(embedding.NewHashEmbedder(testDims), 5, 10, nil)
	got, err := r.Retrieve(context.Background(), snap, []string{
		"years of experience with Go services",
		"Go experience",
		"years of experience with Go services",
	})
	require.NoError(t, err)
	assert.False(t, got.Degraded)
	require.Len(t, got.Results, 5)

	seen := map[models.ChunkKey]bool{}
	for i, res := range got.Results {
		assert.False(t, seen[res.Chunk.Key()], "duplicate chunk %s", res.Chunk.ID)
		seen[res.Chunk.Key()] = true
		if i > 0 {
			prev := got.Results[i-1]
			assert.True(t, prev.Score > res.Score || (prev.Score == res.Score && prev.Chunk.Before(res.Chunk)),
				"results out of order at %d", i)
		}
	}
	assert.Contains(t, []string{"bio.md", "cv.md"}, got.Results[0].Chunk.DocumentName)
}

func TestRetriever_TiesFollowSourceOrder(t *testing.T) {
	snap := buildSnapshot(t,
		[2]string{"b.md", "identical passage"},
		[2]string{"a.md", "identical passage"},
	)
	r := NewRetriever(embedding.NewHashEmbedder(testDims), 5, 10, nil)
	got, err := r.Retrieve(context.Background(), snap, []string{"identical passage"})
	require.NoError(t, err)
	require.Len(t, got.Results, 2)
	assert.Equal(t, "b.md", got.Results[0].Chunk.DocumentName)
	assert.Equal(t, "a.md", got.Results[1].Chunk.DocumentName)
}

func TestRetriever_SingleQueryEquivalence(t *testing.T) {
	snap := buildSnapshot(t, manyDocs()...)
	r := NewRetriever(embedding.NewHashEmbedder(testDims), 5, 10, nil)
	ctx := context.Background()
	q := "Which databases does the candidate know?"

	queries, err := NewExpander(&llm.Fake{}, 1, 0, nil).Expand(ctx, q)
	require.NoError(t, err)
	viaExpander, err := r.Retrieve(ctx, snap, queries)
	require.NoError(t, err)
	direct, err := r.Retrieve(ctx, snap, []string{q})
	require.NoError(t, err)
	repeated, err := r.Retrieve(ctx, snap, []string{q, q, q})
	require.NoError(t, err)

	assert.Equal(t, direct.Results, viaExpander.Results)
	assert.Equal(t, direct.Results, repeated.Results)
}

func TestRetriever_EmptyIndex(t *testing.T) {
	snap := buildSnapshot(t)
	got, err := NewRetriever(embedding.NewHashEmbedder(testDims), 5, 10, nil).Retrieve(context.Background(), snap, []string{"q"})
	require.NoError(t, err)
	assert.Empty(t, got.Results)
}

func TestRetriever_KeywordFallback(t *testing.T) {
	snap := buildSnapshot(t, manyDocs()...)
	r := NewRetriever(failingEmbedder{embedding.NewHashEmbedder(testDims)}, 5, 10, nil)
	got, err := r.Retrieve(context.Background(), snap, []string{"chess"})
	require.NoError(t, err)
	assert.True(t, got.Degraded)
	assert.True(t, models.IsKind(got.Err, models.KindEmbedding))
	require.NotEmpty(t, got.Results)
	assert.Equal(t, "hobbies.md", got.Results[0].Chunk.DocumentName)
}

func result(name, text string, order int, score float64) models.RetrievalResult {
	return models.RetrievalResult{
		Chunk: &models.Chunk{ID: name + "#0", DocumentID: name, DocumentName: name, DocumentOrder: order, Text: text},
		Score: score,
	}
}

func TestAssembler_MarkersAndCitations(t *testing.T) {
	a := NewAssembler(6000, 20)
	out := a.Assemble([]models.RetrievalResult{
		result("bio.md", "I have 5 years of experience building Go services.", 0, 0.9),
		result("cv.md", "Acme, 2019-2024.", 1, 0.5),
	})
	assert.Equal(t, "[1] (source: bio.md)\nI have 5 years of experience building Go services.\n\n[2] (source: cv.md)\nAcme, 2019-2024.", out.Context)
	require.Len(t, out.Citations, 2)
	assert.Equal(t, 1, out.Citations[0].Marker)
	assert.Equal(t, "bio.md", out.Citations[0].DocumentName)
	assert.Equal(t, "I have 5 years of...", out.Citations[0].Excerpt)
	assert.Equal(t, 2, out.Citations[1].Marker)
	assert.Equal(t, "Acme, 2019-2024.", out.Citations[1].Excerpt)
}

func TestAssembler_DropsLowestRankedToFitBudget(t *testing.T) {
	long := strings.Repeat("x", 80)
	results := []models.RetrievalResult{
		result("a.md", long, 0, 0.9),
		result("b.md", long, 1, 0.8),
		result("c.md", long, 2, 0.7),
	}
	block := len("[1] (source: a.md)\n") + 80
	out := NewAssembler(2*block+2, 0).Assemble(results)
	require.Len(t, out.Citations, 2)
	assert.Equal(t, "a.md", out.Citations[0].DocumentName)
	assert.Equal(t, "b.md", out.Citations[1].DocumentName)
	assert.LessOrEqual(t, len([]rune(out.Context)), 2*block+2)
	assert.NotContains(t, out.Context, "c.md")

	none := NewAssembler(10, 0).Assemble(results)
	assert.True(t, none.Empty())
	assert.Equal(t, "", none.Context)
}

func drainStream(t *testing.T, s *AnswerStream) []string {
	t.Helper()
	var chunks []string
	for {
		c, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, c)
	}
}

func TestSynthesizer_EmptyContextDeclines(t *testing.T) {
	fake := &llm.Fake{}
	s := NewSynthesizer(fake, 0, 512, nil)
	stream, err := s.Synthesize(context.Background(), "global", "q", &Assembled{})
	require.NoError(t, err)
	assert.Equal(t, []string{DeclineMessage}, drainStream(t, stream))
	assert.True(t, stream.Declined())
	assert.False(t, stream.Failed())
	assert.Empty(t, fake.Calls(""))
}

func TestSynthesizer_StreamsGroundedAnswer(t *testing.T) {
	fake := &llm.Fake{StreamFunc: func(req llm.Request) (llm.Stream, error) {
		return llm.NewSliceStream([]string{"Five ", "years [1]."}, nil), nil
	}}
	a := NewAssembler(6000, 100).Assemble([]models.RetrievalResult{result("bio.md", "5 years", 0, 1)})
	stream, err := NewSynthesizer(fake, 0, 512, nil).Synthesize(context.Background(), "global", "How long?", a)
	require.NoError(t, err)
	assert.Equal(t, []string{"Five ", "years [1]."}, drainStream(t, stream))
	assert.Equal(t, "Five years [1].", stream.Text())
	assert.NoError(t, stream.Err())

	req := fake.Calls(llm.PurposeAnswer)[0]
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "strictly from the numbered context")
	assert.Contains(t, req.Messages[1].Content, "[1] (source: bio.md)\n5 years")
	assert.Contains(t, req.Messages[1].Content, "Question: How long?")
}

func TestSynthesizer_MidStreamFailureKeepsPartial(t *testing.T) {
	upstream := llm.NewSliceStream([]string{"The candidate has ex"}, errors.New("connection reset"))
	fake := &llm.Fake{StreamFunc: func(llm.Request) (llm.Stream, error) { return upstream, nil }}
	a := NewAssembler(6000, 100).Assemble([]models.RetrievalResult{result("bio.md", "5 years", 0, 1)})
	stream, err := NewSynthesizer(fake, 0, 512, nil).Synthesize(context.Background(), "global", "q", a)
	require.NoError(t, err)

	assert.Equal(t, []string{"The candidate has ex", FailureNotice}, drainStream(t, stream))
	assert.Equal(t, "The candidate has ex"+FailureNotice, stream.Text())
	assert.True(t, stream.Failed())
	assert.True(t, models.IsKind(stream.Err(), models.KindSynthesis))
	assert.True(t, upstream.Closed())
}

func TestSynthesizer_OpenFailure(t *testing.T) {
	a := NewAssembler(6000, 100).Assemble([]models.RetrievalResult{result("bio.md", "5 years", 0, 1)})

	fake := &llm.Fake{StreamFunc: func(llm.Request) (llm.Stream, error) { return nil, errors.New("503") }}
	stream, err := NewSynthesizer(fake, 0, 512, nil).Synthesize(context.Background(), "global", "q", a)
	require.NoError(t, err)
	assert.Equal(t, []string{FailureNotice}, drainStream(t, stream))
	assert.True(t, stream.Failed())

	cfgErr := models.NewError(models.KindConfiguration, "", errors.New("missing API key"))
	fake = &llm.Fake{StreamFunc: func(llm.Request) (llm.Stream, error) { return nil, cfgErr }}
	_, err = NewSynthesizer(fake, 0, 512, nil).Synthesize(context.Background(), "global", "q", a)
	assert.True(t, models.IsKind(err, models.KindConfiguration))
}

// hangingStream blocks in Recv until it is closed.
type hangingStream struct {
	entered chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func (h *hangingStream) Recv() (string, error) {
	h.entered <- struct{}{}
	<-h.closed
	return "", errors.New("connection closed")
}

func (h *hangingStream) Close() error {
	h.once.Do(func() { close(h.closed) })
	return nil
}

func TestAnswerStream_CloseInterruptsBlockedRecv(t *testing.T) {
	up := &hangingStream{entered: make(chan struct{}, 1), closed: make(chan struct{})}
	stream := &AnswerStream{scope: models.GlobalScope, upstream: up}

	recvErr := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		recvErr <- err
	}()
	<-up.entered

	closed := make(chan struct{})
	go func() {
		_ = stream.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close waited for the blocked upstream read")
	}
	assert.ErrorIs(t, <-recvErr, io.EOF)
	assert.NoError(t, stream.Err(), "a closed stream is not a synthesis failure")
	assert.Empty(t, stream.Text())
}

func TestSuggester(t *testing.T) {
	fake := &llm.Fake{CompleteFunc: func(req llm.Request) (string, error) {
		return "1. What was the hardest project?\n2. How do you mentor?\n3. Why Go?\n4. One too many?", nil
	}}
	got, err := NewSuggester(fake, 3, 0.7, nil).Suggest(context.Background(), "q", "a", "ctx")
	require.NoError(t, err)
	assert.Equal(t, []string{"What was the hardest project?", "How do you mentor?", "Why Go?"}, got)
	assert.Contains(t, fake.Calls(llm.PurposeSuggestion)[0].Messages[0].Content, "recruiter or hiring manager")

	fake = &llm.Fake{CompleteFunc: func(llm.Request) (string, error) { return "", errors.New("down") }}
	got, err = NewSuggester(fake, 3, 0.7, nil).Suggest(context.Background(), "q", "a", "ctx")
	assert.Empty(t, got)
	assert.True(t, models.IsKind(err, models.KindSuggestion))
}

func TestSession_KeepsOnlyLatest(t *testing.T) {
	var s sessions
	sess := s.get("global")
	assert.Same(t, sess, s.get("global"))
	_, ok := sess.Last()
	assert.False(t, ok)

	now := time.Now()
	sess.store(&models.Exchange{Question: "first", CreatedAt: now})
	sess.store(&models.Exchange{Question: "second", CreatedAt: now.Add(time.Second)})
	sess.store(&models.Exchange{Question: "stale", CreatedAt: now.Add(-time.Second)})
	last, ok := sess.Last()
	require.True(t, ok)
	assert.Equal(t, "second", last.Question)

	sess.Reset()
	_, ok = sess.Last()
	assert.False(t, ok)
}
