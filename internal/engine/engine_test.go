package engine

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"example.com/ip-opt/internal/candidates"
	"example.com/ip-opt/internal/model"
)

// fakeResolver maps candidate strings to fixed answers; anything else fails.
type fakeResolver map[string][]netip.Addr

func (f fakeResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	ips, ok := f[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return ips, nil
}

// listen starts a loopback listener that accepts and drops connections.
// The returned func stops it.
func listen(t *testing.T) (int, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	stop := func() { _ = ln.Close() }
	t.Cleanup(stop)

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port, stop
}

func testConfig(port int) Config {
	cfg := DefaultConfig()
	cfg.Port = port
	cfg.Timeout = 500 * time.Millisecond
	return cfg
}

func TestProbeCandidate(t *testing.T) {
	port, _ := listen(t)

	st, ok := ProbeCandidate(context.Background(), 3, "127.0.0.1", testConfig(port), SystemResolver())
	require.True(t, ok)
	assert.NoError(t, st.Err)
	assert.Equal(t, "127.0.0.1", st.Address)
	assert.Equal(t, 3, st.Index)
	assert.Positive(t, st.Elapsed)
}

func TestProbeCandidateExcludesIPv6(t *testing.T) {
	port, _ := listen(t)

	st, ok := ProbeCandidate(context.Background(), 0, "::1", testConfig(port), SystemResolver())
	assert.False(t, ok)
	assert.Empty(t, st.Address)
}

func TestProbeCandidateUsesFirstIPv4(t *testing.T) {
	port, _ := listen(t)
	r := fakeResolver{"mixed": {netip.MustParseAddr("::1"), netip.MustParseAddr("::ffff:127.0.0.1"), netip.MustParseAddr("10.255.255.1")}}

	st, ok := ProbeCandidate(context.Background(), 0, "mixed", testConfig(port), r)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", st.Address)
	assert.NoError(t, st.Err)
}

func TestSelectFastestEmpty(t *testing.T) {
	defer goleak.VerifyNone(t)

	_, ok, err := SelectFastest(context.Background(), nil, DefaultConfig(), SystemResolver(), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSelectFastestNoIPv4(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := fakeResolver{
		"v6":    {netip.MustParseAddr("2606:50c0::1")},
		"empty": {},
	}
	_, ok, err := SelectFastest(context.Background(), []string{"v6", "empty", "unknown"}, DefaultConfig(), r, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSelectFastestReachable(t *testing.T) {
	defer goleak.VerifyNone(t)
	port, stop := listen(t)
	defer stop()

	best, ok, err := SelectFastest(context.Background(), []string{"127.0.0.1", "::1"}, testConfig(port), SystemResolver(), nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", best.Address)
	assert.NoError(t, best.Err)
}

func TestSelectFastestNormalizedCandidates(t *testing.T) {
	defer goleak.VerifyNone(t)
	port, stop := listen(t)
	defer stop()

	var addrs []string
	for _, raw := range []string{"1.2.3.4", "5.6.7.8/32", "not-an-ip"} {
		a, ok := candidates.NormalizeAddress(raw)
		require.True(t, ok)
		addrs = append(addrs, a)
	}
	assert.Equal(t, "5.6.7.8", addrs[1])

	// Route the public addresses to loopback so the test stays offline.
	r := fakeResolver{
		"1.2.3.4": {netip.MustParseAddr("127.0.0.1")},
		"5.6.7.8": {netip.MustParseAddr("127.0.0.1")},
	}
	best, ok, err := SelectFastest(context.Background(), addrs, testConfig(port), r, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", best.Address)
	assert.Contains(t, []int{0, 1}, best.Index)
}

func TestSelectFastestCountsFailures(t *testing.T) {
	defer goleak.VerifyNone(t)
	port, stop := listen(t)
	defer stop()

	// The listener is bound to 127.0.0.1 only, so 127.0.0.2 refuses.
	r := fakeResolver{"refused": {netip.MustParseAddr("127.0.0.2")}}
	cfg := testConfig(port)

	best, ok, err := SelectFastest(context.Background(), []string{"refused"}, cfg, r, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.2", best.Address)
	assert.True(t, best.Failed())

	cfg.FailureDisqualifies = true
	_, ok, err = SelectFastest(context.Background(), []string{"refused"}, cfg, r, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSelectFastestStrictKeepsReachable(t *testing.T) {
	defer goleak.VerifyNone(t)
	port, stop := listen(t)
	defer stop()

	r := fakeResolver{
		"refused": {netip.MustParseAddr("127.0.0.2")},
		"good":    {netip.MustParseAddr("127.0.0.1")},
	}
	cfg := testConfig(port)
	cfg.FailureDisqualifies = true
	cfg.Concurrency = 1

	best, ok, err := SelectFastest(context.Background(), []string{"refused", "good", "refused"}, cfg, r, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", best.Address)
	assert.Equal(t, 1, best.Index)
}

func TestSelectFastestInvalidConfig(t *testing.T) {
	testCases := map[string]Config{
		"port":        {Port: 0, Timeout: time.Second},
		"high port":   {Port: 70000, Timeout: time.Second},
		"timeout":     {Port: 443},
		"concurrency": {Port: 443, Timeout: time.Second, Concurrency: -1},
	}
	for name, cfg := range testCases {
		t.Run(name, func(t *testing.T) {
			_, _, err := SelectFastest(context.Background(), []string{"127.0.0.1"}, cfg, SystemResolver(), nil)
			assert.Error(t, err)
		})
	}
}

func TestFastestTieBreak(t *testing.T) {
	results := []model.ProbeResult{
		{Index: 0, Address: "a", Elapsed: 20 * time.Millisecond},
		{Index: 1, Address: "b", Elapsed: 10 * time.Millisecond, Err: errors.New("refused")},
		{Index: 2, Address: "c", Elapsed: 10 * time.Millisecond},
		{Index: 3, Address: "d", Elapsed: 5 * time.Millisecond},
	}

	best, ok := fastest(results, []bool{true, true, true, false})
	require.True(t, ok)
	assert.Equal(t, "b", best.Address)

	_, ok = fastest(results, []bool{false, false, false, false})
	assert.False(t, ok)
}
