package store

import (
	"bytes"
	"context"

	"golang.org/x/sync/singleflight"

	tensorcache "github.com/wolfeidau/tensor-cache"
	"github.com/wolfeidau/tensor-cache/record"
)

// loaded is the outcome of reading one record. A nil header is a miss.
type loaded struct {
	header *record.Header
	arr    *tensorcache.Array
}

type loadFunc func(ctx context.Context, rel string) (loaded, error)

// coalescer shares one in-flight read of a record between concurrent
// callers asking for the same key.
type coalescer struct {
	group singleflight.Group
}

// do runs fn once per rel among concurrent callers. The read uses a
// context detached from the caller, so one caller giving up does not
// cancel the read for the others. Shared results are copied per caller.
func (c *coalescer) do(ctx context.Context, rel string, fn loadFunc) (loaded, bool, error) {
	ch := c.group.DoChan(rel, func() (any, error) {
		return fn(context.WithoutCancel(ctx), rel)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return loaded{}, res.Shared, res.Err
		}
		l := res.Val.(loaded)
		if res.Shared && l.arr != nil {
			l.arr = cloneArray(l.arr)
		}
		return l, res.Shared, nil
	case <-ctx.Done():
		return loaded{}, false, ctx.Err()
	}
}

func cloneArray(a *tensorcache.Array) *tensorcache.Array {
	return &tensorcache.Array{
		DType: a.DType,
		Shape: append([]int{}, a.Shape...),
		Data:  bytes.Clone(a.Data),
	}
}
