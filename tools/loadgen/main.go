// Command loadgen drives the kernel service with concurrent requests and
// reports throughput and latency.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/VanDung-dev/H3Arrow-Engine/api"
	arrowipc "github.com/VanDung-dev/H3Arrow-Engine/arrow"
	"github.com/VanDung-dev/H3Arrow-Engine/cellarray"
	"github.com/VanDung-dev/H3Arrow-Engine/geometry"
)

// Config holds configuration for a load run.
type Config struct {
	Address     string
	Concurrency int
	Requests    int64
	Duration    time.Duration
	Token       string
	Op          string
	Rows        int
	Resolution  int
	Target      int
	Compression string
	ReportFile  string
	Seed        uint64
}

// Result holds the outcome of a load run.
type Result struct {
	TotalRequests  int64
	SuccessfulReqs int64
	FailedReqs     int64
	RowsProcessed  int64
	TotalDuration  time.Duration
	AvgLatency     time.Duration
	MinLatency     time.Duration
	MaxLatency     time.Duration
	RequestsPerSec float64
	RowsPerSec     float64
}

type counters struct {
	total, success, failed, rows atomic.Int64
	latency                      atomic.Int64
	minLatency, maxLatency       atomic.Int64
}

func (c *counters) observe(latency time.Duration, rows int) {
	c.success.Add(1)
	c.rows.Add(int64(rows))
	c.latency.Add(int64(latency))

	lat := int64(latency)
	for {
		old := c.minLatency.Load()
		if lat >= old || c.minLatency.CompareAndSwap(old, lat) {
			break
		}
	}
	for {
		old := c.maxLatency.Load()
		if lat <= old || c.maxLatency.CompareAndSwap(old, lat) {
			break
		}
	}
}

func main() {
	cfg := parseFlags()
	log := logrus.StandardLogger()

	fmt.Println("=== H3Arrow Load Generator ===")
	fmt.Printf("Target:      %s\n", cfg.Address)
	fmt.Printf("Op:          %s (%d rows, res %d)\n", cfg.Op, cfg.Rows, cfg.Resolution)
	fmt.Printf("Concurrency: %d workers\n", cfg.Concurrency)
	fmt.Printf("Duration:    %v\n", cfg.Duration)
	fmt.Println()

	result, err := run(context.Background(), cfg, log)
	if err != nil {
		log.WithError(err).Fatal("load run failed")
	}
	printResults(result)

	if cfg.ReportFile != "" {
		if err := saveReport(cfg, result); err != nil {
			log.WithError(err).Error("failed to write report")
		}
	}
}

func parseFlags() Config {
	var cfg Config
	fs := pflag.NewFlagSet("loadgen", pflag.ExitOnError)
	fs.StringVar(&cfg.Address, "addr", "127.0.0.1:50051", "kernel server address")
	fs.IntVarP(&cfg.Concurrency, "concurrency", "c", 10, "concurrent connections")
	fs.Int64VarP(&cfg.Requests, "requests", "n", 0, "total requests (0 = until duration)")
	fs.DurationVarP(&cfg.Duration, "duration", "d", 30*time.Second, "test duration")
	fs.StringVar(&cfg.Token, "token", "", "auth token")
	fs.StringVar(&cfg.Op, "op", string(api.OpParent), "op to request")
	fs.IntVar(&cfg.Rows, "rows", 10000, "cells per request")
	fs.IntVar(&cfg.Resolution, "res", 9, "resolution of generated cells")
	fs.IntVar(&cfg.Target, "target", 5, "target resolution or k of the op")
	fs.StringVar(&cfg.Compression, "compression", "none", "request compression: none, lz4 or zstd")
	fs.StringVarP(&cfg.ReportFile, "output", "o", "", "JSON report file")
	fs.Uint64Var(&cfg.Seed, "seed", 1, "random seed for generated cells")
	_ = fs.Parse(os.Args[1:])
	return cfg
}

// randomCells returns n cells at res around the globe.
func randomCells(n, res int, seed uint64) (*cellarray.CellArray, error) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	points := make([]orb.Point, n)
	for i := range points {
		points[i] = orb.Point{rng.Float64()*360 - 180, rng.Float64()*170 - 85}
	}
	return geometry.PointsToCells(points, nil, res)
}

func buildRequest(cfg Config) api.Request {
	req := api.Request{Op: api.Op(cfg.Op)}
	switch req.Op {
	case api.OpGridDisk:
		req.K = cfg.Target
	default:
		req.Resolution = cfg.Target
	}
	return req
}

func run(ctx context.Context, cfg Config, log logrus.FieldLogger) (Result, error) {
	comp, err := arrowipc.ParseCompression(cfg.Compression)
	if err != nil {
		return Result{}, err
	}
	codec := arrowipc.NewCodec(arrowipc.WithCompression(comp))

	cells, err := randomCells(cfg.Rows, cfg.Resolution, cfg.Seed)
	if err != nil {
		return Result{}, err
	}
	defer cells.Release()

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var c counters
	c.minLatency.Store(1<<63 - 1)
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Concurrency; i++ {
		worker := log.WithField("worker", i)
		g.Go(func() error {
			return runWorker(ctx, cfg, codec, cells, &c, worker)
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	duration := time.Since(start)
	res := Result{
		TotalRequests:  c.total.Load(),
		SuccessfulReqs: c.success.Load(),
		FailedReqs:     c.failed.Load(),
		RowsProcessed:  c.rows.Load(),
		TotalDuration:  duration,
		MinLatency:     time.Duration(c.minLatency.Load()),
		MaxLatency:     time.Duration(c.maxLatency.Load()),
		RequestsPerSec: float64(c.total.Load()) / duration.Seconds(),
		RowsPerSec:     float64(c.rows.Load()) / duration.Seconds(),
	}
	if res.SuccessfulReqs > 0 {
		res.AvgLatency = time.Duration(c.latency.Load() / res.SuccessfulReqs)
	} else {
		res.MinLatency = 0
	}
	return res, nil
}

func runWorker(ctx context.Context, cfg Config, codec *arrowipc.Codec, cells *cellarray.CellArray, c *counters, log logrus.FieldLogger) error {
	var client *api.Client
	defer func() {
		if client != nil {
			client.Close()
		}
	}()

	redial := backoff.NewExponentialBackOff()
	redial.InitialInterval = 10 * time.Millisecond
	redial.MaxInterval = time.Second
	redial.MaxElapsedTime = 0
	redial.Reset()

	template := buildRequest(cfg)
	for ctx.Err() == nil {
		if n := c.total.Add(1); cfg.Requests > 0 && n > cfg.Requests {
			c.total.Add(-1)
			return nil
		}

		if client == nil {
			var err error
			client, err = api.Dial(cfg.Address, cfg.Token, 5*time.Second, codec)
			if err != nil {
				c.failed.Add(1)
				log.WithError(err).Debug("dial failed")
				sleep(ctx, redial.NextBackOff())
				continue
			}
			redial.Reset()
		}

		req := template
		req.ID = uuid.NewString()

		begin := time.Now()
		rec, err := client.Call(req, cells)
		latency := time.Since(begin)
		if err != nil {
			c.failed.Add(1)
			var remote *api.RemoteError
			if !errors.As(err, &remote) {
				// Transport failure: reconnect.
				client.Close()
				client = nil
			}
			log.WithError(err).WithField("request_id", req.ID).Debug("request failed")
			sleep(ctx, 10*time.Millisecond)
			continue
		}
		rows := int(rec.NumRows())
		rec.Release()
		c.observe(latency, rows)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func printResults(r Result) {
	pct := func(n int64) float64 {
		if r.TotalRequests == 0 {
			return 0
		}
		return float64(n) / float64(r.TotalRequests) * 100
	}
	fmt.Println("=== Results ===")
	fmt.Printf("Duration:        %v\n", r.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Total Requests:  %d\n", r.TotalRequests)
	fmt.Printf("Successful:      %d (%.2f%%)\n", r.SuccessfulReqs, pct(r.SuccessfulReqs))
	fmt.Printf("Failed:          %d (%.2f%%)\n", r.FailedReqs, pct(r.FailedReqs))
	fmt.Printf("Requests/sec:    %.2f\n", r.RequestsPerSec)
	fmt.Printf("Rows/sec:        %.0f\n", r.RowsPerSec)
	fmt.Printf("Avg Latency:     %v\n", r.AvgLatency.Round(time.Microsecond))
	fmt.Printf("Min Latency:     %v\n", r.MinLatency.Round(time.Microsecond))
	fmt.Printf("Max Latency:     %v\n", r.MaxLatency.Round(time.Microsecond))
}

func saveReport(cfg Config, r Result) error {
	report := map[string]interface{}{
		"config": map[string]interface{}{
			"address":     cfg.Address,
			"op":          cfg.Op,
			"rows":        cfg.Rows,
			"concurrency": cfg.Concurrency,
			"duration":    cfg.Duration.String(),
			"compression": cfg.Compression,
		},
		"results": map[string]interface{}{
			"total_requests":   r.TotalRequests,
			"successful":       r.SuccessfulReqs,
			"failed":           r.FailedReqs,
			"requests_per_sec": r.RequestsPerSec,
			"rows_per_sec":     r.RowsPerSec,
			"avg_latency_ms":   float64(r.AvgLatency.Microseconds()) / 1000,
			"min_latency_ms":   float64(r.MinLatency.Microseconds()) / 1000,
			"max_latency_ms":   float64(r.MaxLatency.Microseconds()) / 1000,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(cfg.ReportFile, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("Report saved to: %s\n", cfg.ReportFile)
	return nil
}
