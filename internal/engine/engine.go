package engine

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"

	"example.com/ip-opt/internal/model"
)

const (
	DefaultPort    = 443
	DefaultTimeout = 100 * time.Millisecond
)

type Config struct {
	Port    int
	Timeout time.Duration
	// Concurrency caps the number of probes in flight. Zero runs one
	// probe per candidate.
	Concurrency int
	// FailureDisqualifies drops candidates whose dial failed. By default a
	// failed dial still counts, measured at the moment it failed.
	FailureDisqualifies bool
}

func DefaultConfig() Config {
	return Config{
		Port:    DefaultPort,
		Timeout: DefaultTimeout,
	}
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("invalid port")
	}
	if c.Timeout <= 0 {
		return errors.New("invalid timeout")
	}
	if c.Concurrency < 0 {
		return errors.New("invalid concurrency")
	}
	return nil
}

// SelectFastest probes every candidate and returns the quickest result.
// All probes run to completion before a winner is chosen. The boolean is
// false when the list is empty or no candidate produced a measurement.
func SelectFastest(ctx context.Context, candidates []string, cfg Config, r Resolver, log *zap.Logger) (model.ProbeResult, bool, error) {
	if err := cfg.validate(); err != nil {
		return model.ProbeResult{}, false, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if r == nil {
		r = SystemResolver()
	}

	total := len(candidates)
	if total == 0 {
		return model.ProbeResult{}, false, nil
	}
	workers := cfg.Concurrency
	if workers == 0 || workers > total {
		workers = total
	}

	results := make([]model.ProbeResult, total)
	measured := make([]bool, total)

	workCh := make(chan int)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for i := range workCh {
			res, ok := ProbeCandidate(ctx, i, candidates[i], cfg, r)
			results[i], measured[i] = res, ok
			switch {
			case res.Address == "":
				log.Debug("candidate excluded", zap.String("candidate", candidates[i]))
			case res.Failed():
				log.Debug("probe failed",
					zap.String("address", res.Address),
					zap.Duration("elapsed", res.Elapsed),
					zap.Bool("counted", ok),
					zap.Error(res.Err))
			default:
				log.Debug("probe ok", zap.String("address", res.Address), zap.Duration("elapsed", res.Elapsed))
			}
		}
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker()
	}
	for i := range candidates {
		workCh <- i
	}
	close(workCh)
	wg.Wait()

	best, ok := fastest(results, measured)
	if ok {
		log.Info("fastest candidate",
			zap.Int("candidates", total),
			zap.String("address", best.Address),
			zap.Duration("elapsed", best.Elapsed),
			zap.Bool("reachable", !best.Failed()))
	}
	return best, ok, nil
}

func fastest(results []model.ProbeResult, measured []bool) (model.ProbeResult, bool) {
	var best model.ProbeResult
	found := false
	for i, res := range results {
		if !measured[i] {
			continue
		}
		if !found || res.Faster(best) {
			best, found = res, true
		}
	}
	return best, found
}

// ProbeCandidate times a single TCP connection to the first IPv4 address
// addr resolves to. A candidate with no IPv4 address yields an empty result
// and false.
func ProbeCandidate(ctx context.Context, index int, addr string, cfg Config, r Resolver) (model.ProbeResult, bool) {
	ip, ok := firstIPv4(ctx, r, addr)
	if !ok {
		return model.ProbeResult{Index: index}, false
	}
	d, err := tcpPing(ctx, ip, cfg.Port, cfg.Timeout)
	res := model.ProbeResult{
		Index:   index,
		Address: ip.String(),
		Elapsed: d,
		Err:     err,
	}
	if err != nil && cfg.FailureDisqualifies {
		return res, false
	}
	return res, true
}

func firstIPv4(ctx context.Context, r Resolver, host string) (netip.Addr, bool) {
	ips, err := r.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return netip.Addr{}, false
	}
	for _, ip := range ips {
		if ip = ip.Unmap(); ip.Is4() {
			return ip, true
		}
	}
	return netip.Addr{}, false
}

func tcpPing(ctx context.Context, ip netip.Addr, port int, timeout time.Duration) (time.Duration, error) {
	address := netip.AddrPortFrom(ip, uint16(port)).String()
	dialer := net.Dialer{Timeout: timeout}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp4", address)
	if err != nil {
		return time.Since(start), err
	}
	_ = conn.Close()
	return time.Since(start), nil
}
