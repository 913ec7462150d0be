package graph

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tonic/internal/job"
)

func noop(ctx context.Context, c job.Call, done job.Done) error {
	done(c.ID)
	return nil
}

func jobs(js ...*job.Job) []*job.Job { return js }

func TestWildcardExpandsToEveryOtherJob(t *testing.T) {
	a := job.New("A", noop)
	b := job.New("B", noop)
	c := job.New("C", noop).After(job.Wildcard)

	g, err := Build(jobs(a, b, c))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, g.Dependencies("C"))
	assert.Equal(t, []string{"A", "B"}, c.Resolved())
	assert.True(t, g.Wildcard("C"))
	assert.False(t, g.Wildcard("A"))
	assert.Equal(t, []string{"C"}, a.Subscribers())
	assert.Equal(t, []string{"C"}, b.Subscribers())
	assert.Empty(t, c.Subscribers())
	assert.Equal(t, []string{"A", "B"}, g.Roots())
	assert.Equal(t, [][]string{{"A", "B"}, {"C"}}, g.Layers())
	assert.Empty(t, g.Cycles())
}

func TestWildcardKeepsExplicitExtrasOnce(t *testing.T) {
	a := job.New("A", noop)
	c := job.New("C", noop).After("A", job.Wildcard)
	b := job.New("B", noop)

	g, err := Build(jobs(a, c, b))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, g.Dependencies("C"))
}

func TestMutualWildcardsAreNotSubscribed(t *testing.T) {
	a := job.New("A", noop)
	b := job.New("B", noop)
	w1 := job.New("W1", noop).After(job.Wildcard)
	w2 := job.New("W2", noop).After(job.Wildcard)

	g, err := Build(jobs(a, b, w1, w2))
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "W2"}, g.Dependencies("W1"))
	assert.False(t, g.Subscribed("W2", "W1"))
	assert.False(t, g.Subscribed("W1", "W2"))
	for _, w := range []string{"W1", "W2"} {
		assert.True(t, g.Subscribed("A", w))
		assert.True(t, g.Subscribed("B", w))
	}
	assert.Empty(t, w1.Subscribers())
	assert.Empty(t, w2.Subscribers())
	assert.Equal(t, []string{"W1", "W2"}, a.Subscribers())
}

func TestUnresolvedDependencyFailsBeforeWiring(t *testing.T) {
	a := job.New("A", noop)
	b := job.New("B", noop).After("A")
	c := job.New("C", noop).After("DoesNotExist")

	_, err := Build(jobs(a, b, c))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvedDependency))
	assert.Contains(t, err.Error(), "DoesNotExist")
	assert.Contains(t, err.Error(), `"C"`)
	assert.Empty(t, a.Subscribers())
	assert.Empty(t, b.Resolved())
}

func TestSelfDependency(t *testing.T) {
	a := job.New("A", noop).After("A")
	_, err := Build(jobs(a))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSelfDependency))
}

func TestDuplicateIDs(t *testing.T) {
	_, err := Resolve(jobs(job.New("A", noop), job.New("A", noop)))
	assert.True(t, errors.Is(err, ErrDuplicateJob))
}

func TestCyclesAreWarnings(t *testing.T) {
	a := job.New("A", noop).After("B")
	b := job.New("B", noop).After("A")
	c := job.New("C", noop)

	g, err := Build(jobs(a, b, c))
	require.NoError(t, err)
	require.Len(t, g.Cycles(), 1)
	assert.ElementsMatch(t, []string{"A", "B"}, g.Cycles()[0])
	layers := g.Layers()
	assert.Equal(t, []string{"C"}, layers[0])
	assert.Equal(t, []string{"A", "B"}, layers[len(layers)-1])
}

func TestWiredDependentRunsOncePerUpstreamCompletion(t *testing.T) {
	var mu sync.Mutex
	parents := map[string]int{}
	a := job.New("A", noop)
	b := job.New("B", noop)
	c := job.New("C", func(ctx context.Context, call job.Call, done job.Done) error {
		mu.Lock()
		parents[call.Parent]++
		mu.Unlock()
		done(nil)
		return nil
	}).After(job.Wildcard).Overlap(job.OverlapQueue)

	_, err := Build(jobs(a, b, c))
	require.NoError(t, err)

	a.Run("", nil)
	b.Run("", nil)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return parents["A"] == 1 && parents["B"] == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "A", a.Last())
}
