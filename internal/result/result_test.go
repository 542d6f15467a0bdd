package result

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainPropagatesSuccess(t *testing.T) {
	r := Chain(Ok(2), func(n int) Result[string] {
		return Ok(strconv.Itoa(n * 10))
	})

	require.True(t, r.IsOk())
	assert.Equal(t, "20", r.Value())
}

func TestChainShortCircuitsOnFailure(t *testing.T) {
	called := false
	r := Chain(Fail[int]("nope"), func(n int) Result[string] {
		called = true
		return Ok("unreachable")
	})

	require.True(t, r.IsFail())
	assert.False(t, called)
	assert.Equal(t, "nope", r.Failure().Message)
}

func TestChainErrConvertsErrorToInternalFailure(t *testing.T) {
	boom := errors.New("boom")
	r := ChainErr(Ok(1), func(int) (string, error) {
		return "", boom
	})

	require.True(t, r.IsFail())
	assert.True(t, r.Failure().IsInternal())
	assert.Equal(t, "boom", r.Failure().Detail())
}

func TestValidateReturnsOriginalValueOnSuccess(t *testing.T) {
	r := Validate(Ok(42), func(n int) Result[Void] {
		return Done()
	})

	require.True(t, r.IsOk())
	assert.Equal(t, 42, r.Value())
}

func TestValidateSurfacesCheckFailure(t *testing.T) {
	r := Validate(Ok(42), func(n int) Result[Void] {
		return Fail[Void]("Invalid Issuer")
	})

	require.True(t, r.IsFail())
	assert.Equal(t, "Invalid Issuer", r.Failure().Message)
}

func TestMap(t *testing.T) {
	r := Map(Ok(3), func(n int) int { return n + 1 })

	require.True(t, r.IsOk())
	assert.Equal(t, 4, r.Value())
}

func TestTapRunsOnlyOnSuccess(t *testing.T) {
	var seen []int
	Tap(Ok(7), func(n int) { seen = append(seen, n) })
	Tap(Fail[int]("no"), func(n int) { seen = append(seen, n) })

	assert.Equal(t, []int{7}, seen)
}

func TestMerge2FirstFailureWins(t *testing.T) {
	r := Merge2(Fail[int]("first"), Fail[string]("second"))

	require.True(t, r.IsFail())
	assert.Equal(t, "first", r.Failure().Message)

	ok := Merge2(Ok(1), Ok("a"))
	require.True(t, ok.IsOk())
	assert.Equal(t, 1, ok.Value().First)
	assert.Equal(t, "a", ok.Value().Second)
}

func TestMerge3(t *testing.T) {
	r := Merge3(Ok(1), Fail[string]("middle"), Ok(true))

	require.True(t, r.IsFail())
	assert.Equal(t, "middle", r.Failure().Message)

	ok := Merge3(Ok(1), Ok("a"), Ok(true))
	require.True(t, ok.IsOk())
	assert.Equal(t, "a", ok.Value().Second)
	assert.True(t, ok.Value().Third)
}

func TestFailureIsNeverSilentlyDropped(t *testing.T) {
	r := Chain(
		Chain(Fail[int]("original"), func(n int) Result[int] { return Ok(n) }),
		func(n int) Result[int] { return Fail[int]("later") },
	)

	require.True(t, r.IsFail())
	assert.Equal(t, "original", r.Failure().Message)
}
