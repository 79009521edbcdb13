package event

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingCallable struct {
	calls int
}

func (c *countingCallable) Invoke(ctx context.Context) error {
	c.calls++
	return nil
}

func TestAddRegistersCallable(t *testing.T) {
	c := &Cleaner{}
	callable := &countingCallable{}

	c.Add(callable)

	require.Len(t, c.cleaners, 1)
}

func TestAddAfterCleaningIsIgnored(t *testing.T) {
	c := &Cleaner{cleaning: true}
	callable := &countingCallable{}

	c.Add(callable)

	require.Empty(t, c.cleaners)
}
