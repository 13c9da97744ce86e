package vstream

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedCodecsConcurrentUse(t *testing.T) {
	reg := testRegistry(t)
	opts := []Option{WithRegistry(reg), WithObjectCache(32), WithTypeCache(32)}

	enc, err := NewEncoder[[]tagged](opts...)
	require.NoError(t, err)
	dec, err := NewDecoder[[]tagged](opts...)
	require.NoError(t, err)

	original := []tagged{
		{Label: "a", Tags: []string{"x"}, Weight: int32Ptr(1)},
		{Label: "a", Tags: []string{"x"}, Weight: int32Ptr(1)},
		{Label: "b"},
	}
	want, err := enc.MarshalBytes(original)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				data, err := enc.MarshalBytes(original)
				if err != nil {
					errs <- err
					return
				}
				if !bytes.Equal(want, data) {
					errs <- assert.AnError
					return
				}
				var out []tagged
				if err := dec.Unmarshal(data, &out); err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				var buf bytes.Buffer
				if err := Serialize(context.Background(), &buf, map[string]any{"p": point{X: 1}}, opts...); err != nil {
					errs <- err
					return
				}
				if _, err := Deserialize(context.Background(), &buf, opts...); err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}
