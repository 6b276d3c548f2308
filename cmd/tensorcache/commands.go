package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	tensorcache "github.com/wolfeidau/tensor-cache"
)

// PutCmd stores a raw array file.
type PutCmd struct {
	Key   string `arg:"" help:"Item key."`
	Input string `help:"Raw little-endian element file, - for stdin." short:"i" default:"-"`
	DType string `name:"dtype" help:"Element type (int8..int64, uint8..uint64, float32, float64, bool)." required:""`
	Shape string `help:"Comma separated dimensions, empty for a scalar." default:""`
}

func (c *PutCmd) Run(ctx context.Context, rt *runtime) error {
	dtype, err := tensorcache.ParseDType(c.DType)
	if err != nil {
		return err
	}
	shape, err := parseShape(c.Shape)
	if err != nil {
		return err
	}
	data, err := readInput(c.Input)
	if err != nil {
		return err
	}
	arr, err := tensorcache.NewArray(dtype, shape, data)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := rt.cache.Put(ctx, c.Key, arr); err != nil {
		return err
	}
	fmt.Fprintf(rt.stderr, "stored %s %v (%d bytes) in %s\n", c.Key, arr, arr.NBytes(), time.Since(start))
	return nil
}

// GetCmd writes a stored array as raw bytes.
type GetCmd struct {
	Key    string `arg:"" help:"Item key."`
	Output string `help:"Output file, - for stdout." short:"o" default:"-"`
	Rows   string `help:"Only rows lo:hi of the first axis."`
}

func (c *GetCmd) Run(ctx context.Context, rt *runtime) error {
	var (
		arr *tensorcache.Array
		ok  bool
		err error
	)
	if c.Rows != "" {
		lo, hi, perr := parseRows(c.Rows)
		if perr != nil {
			return perr
		}
		arr, ok, err = rt.cache.GetRows(ctx, c.Key, lo, hi)
	} else {
		arr, ok, err = rt.cache.Get(ctx, c.Key)
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%q: %w", c.Key, tensorcache.ErrNotFound)
	}

	if err := writeOutput(c.Output, rt.stdout, arr.Data); err != nil {
		return err
	}
	fmt.Fprintf(rt.stderr, "%s %v\n", c.Key, arr)
	return nil
}

// ExistsCmd prints true or false.
type ExistsCmd struct {
	Key string `arg:"" help:"Item key."`
}

func (c *ExistsCmd) Run(ctx context.Context, rt *runtime) error {
	ok, err := rt.cache.Exists(ctx, c.Key)
	if err != nil {
		return err
	}
	fmt.Fprintln(rt.stdout, ok)
	return nil
}

// DeleteCmd removes a key.
type DeleteCmd struct {
	Key string `arg:"" help:"Item key."`
}

func (c *DeleteCmd) Run(ctx context.Context, rt *runtime) error {
	return rt.cache.Delete(ctx, c.Key)
}

// StatCmd prints the stored header as JSON.
type StatCmd struct {
	Key string `arg:"" help:"Item key."`
}

func (c *StatCmd) Run(ctx context.Context, rt *runtime) error {
	h, ok, err := rt.cache.Stat(ctx, c.Key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%q: %w", c.Key, tensorcache.ErrNotFound)
	}
	enc := json.NewEncoder(rt.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(h)
}

// PathCmd prints the shard path of a key.
type PathCmd struct {
	Key string `arg:"" help:"Item key."`
}

func (c *PathCmd) Run(rt *runtime) error {
	fmt.Fprintln(rt.stdout, rt.cache.Path(c.Key))
	return nil
}

// DemoCmd runs a store, hit, miss and delete cycle and reports timings.
type DemoCmd struct {
	Key  string `help:"Key to use." default:"sample_1"`
	Rows int    `help:"Rows of the random array." default:"100"`
	Cols int    `help:"Columns of the random array." default:"100"`
}

func (c *DemoCmd) Run(ctx context.Context, rt *runtime) error {
	values := make([]float64, c.Rows*c.Cols)
	for i := range values {
		values[i] = rand.Float64()
	}
	arr, err := tensorcache.FromSlice([]int{c.Rows, c.Cols}, values)
	if err != nil {
		return err
	}
	out := rt.stdout

	start := time.Now()
	if err := rt.cache.Put(ctx, c.Key, arr); err != nil {
		return err
	}
	fmt.Fprintf(out, "Stored array with shape: %v\n", arr.Shape)
	fmt.Fprintf(out, "Store took: %s\n", time.Since(start))
	fmt.Fprintf(out, "Array size: %d bytes\n", arr.NBytes())

	start = time.Now()
	got, ok, err := rt.cache.Get(ctx, c.Key)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nRetrieval took: %s\n", time.Since(start))
	fmt.Fprintf(out, "Cache hit: %t\n", ok)
	fmt.Fprintf(out, "Arrays are equal: %t\n", arr.Equal(got))

	start = time.Now()
	_, ok, err = rt.cache.Get(ctx, c.Key+"-nonexistent")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nCache miss took: %s\n", time.Since(start))
	fmt.Fprintf(out, "Cache hit: %t\n", ok)

	if err := rt.cache.Delete(ctx, c.Key); err != nil {
		return err
	}
	exists, err := rt.cache.Exists(ctx, c.Key)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nAfter deletion, exists: %t\n", exists)
	return nil
}

func parseShape(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []int{}, nil
	}
	parts := strings.Split(s, ",")
	shape := make([]int, len(parts))
	for i, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || d < 0 {
			return nil, fmt.Errorf("%w: bad dimension %q", tensorcache.ErrInvalidArgument, p)
		}
		shape[i] = d
	}
	return shape, nil
}

func parseRows(s string) (int, int, error) {
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: rows must be lo:hi, got %q", tensorcache.ErrInvalidArgument, s)
	}
	l, err := strconv.Atoi(lo)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: rows %q: %w", tensorcache.ErrInvalidArgument, s, err)
	}
	h, err := strconv.Atoi(hi)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: rows %q: %w", tensorcache.ErrInvalidArgument, s, err)
	}
	return l, h, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func writeOutput(path string, stdout io.Writer, data []byte) error {
	if path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
