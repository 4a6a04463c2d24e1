// Command sse_load opens many concurrent subscriptions to the ledger entry
// stream and reports how many entry events each kind delivered.
package main

import (
	"bufio"
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/siapay/internal/domain"
)

type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	heartbeats  atomic.Int64

	mu     sync.Mutex
	byKind map[string]int64
}

func (c *counters) event(kind string) {
	c.mu.Lock()
	c.byKind[kind]++
	c.mu.Unlock()
}

func (c *counters) log(logger *zap.Logger, msg string, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	logger.Info(msg,
		zap.Int64("connected", c.connected.Load()),
		zap.Int64("connect_errs", c.connectErrs.Load()),
		zap.Int64("stream_errs", c.streamErrs.Load()),
		zap.Int64("heartbeats", c.heartbeats.Load()),
		zap.Int64(string(domain.KindReceivable), c.byKind[string(domain.KindReceivable)]),
		zap.Int64(string(domain.KindDeposit), c.byKind[string(domain.KindDeposit)]),
		zap.Int64(string(domain.KindWithdrawal), c.byKind[string(domain.KindWithdrawal)]),
		zap.Duration("elapsed", elapsed.Truncate(time.Second)))
}

func main() {
	var (
		targetURL string
		user      string
		password  string
		conns     int
		duration  time.Duration
		rampUp    time.Duration
	)
	flag.StringVar(&targetURL, "url", "http://127.0.0.1:8080/entries/stream", "entry stream URL")
	flag.StringVar(&user, "user", "", "basic auth user")
	flag.StringVar(&password, "password", os.Getenv("SIAPAY_HTTP_PASSWORD"), "basic auth password")
	flag.IntVar(&conns, "conns", 500, "number of concurrent subscriptions")
	flag.DurationVar(&duration, "dur", time.Minute, "test duration (0 for until interrupted)")
	flag.DurationVar(&rampUp, "ramp", time.Second, "spread subscription starts across this window")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if conns <= 0 {
		logger.Fatal("invalid conns", zap.Int("conns", conns))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     conns + 10,
			MaxIdleConnsPerHost: conns + 10,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	c := &counters{byKind: make(map[string]int64)}
	start := time.Now()
	logger.Info("Starting entry stream load",
		zap.String("url", targetURL),
		zap.Int("conns", conns),
		zap.Duration("duration", duration))

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.log(logger, "status", time.Since(start))
			}
		}
	}()

	interval := rampUp / time.Duration(conns)
	var g errgroup.Group
	for i := 0; i < conns && ctx.Err() == nil; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
		g.Go(func() error {
			subscribe(ctx, client, targetURL, user, password, c)
			return nil
		})
	}
	_ = g.Wait()

	c.log(logger, "done", time.Since(start))
}

// subscribe reads one stream until ctx ends or the server drops it.
func subscribe(ctx context.Context, client *http.Client, url, user, password string, c *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	if user != "" {
		req.SetBasicAuth(user, password)
	}

	resp, err := client.Do(req)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.connectErrs.Add(1)
		return
	}
	c.connected.Add(1)

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, ":"):
			c.heartbeats.Add(1)
		case strings.HasPrefix(line, "event: "):
			c.event(strings.TrimPrefix(line, "event: "))
		}
	}
	if ctx.Err() == nil {
		c.streamErrs.Add(1)
	}
}
