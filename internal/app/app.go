// Package app runs one measure-then-commit pass: load candidates, probe
// them, and pin the managed hostnames to the winner.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"example.com/ip-opt/internal/candidates"
	"example.com/ip-opt/internal/engine"
	"example.com/ip-opt/internal/hostsfile"
)

type Options struct {
	// CandidatesPath replaces the embedded candidate document when set.
	CandidatesPath string
	HostsPath      string
	// DNSServer routes non-literal candidates to this upstream instead of
	// the system resolver.
	DNSServer  string
	DNSTimeout time.Duration
	Hostnames  []string
	Engine     engine.Config
	Backup     bool
	DryRun     bool
	// RestorePath restores a backup and skips probing entirely.
	RestorePath string
}

func DefaultOptions() Options {
	return Options{
		HostsPath:  hostsfile.DefaultHostsPath(),
		DNSTimeout: 2 * time.Second,
		Hostnames:  hostsfile.DefaultHostnames,
		Engine:     engine.DefaultConfig(),
	}
}

func Run(ctx context.Context, opts Options, stdout io.Writer, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.HostsPath == "" {
		opts.HostsPath = hostsfile.DefaultHostsPath()
	}

	if opts.RestorePath != "" {
		if err := hostsfile.RestoreBackup(opts.RestorePath, opts.HostsPath); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Restored %s from %s\n", opts.HostsPath, opts.RestorePath)
		return nil
	}

	addrs, err := loadCandidates(opts.CandidatesPath)
	if err != nil {
		return err
	}
	addrs = candidates.Dedupe(addrs)
	log.Debug("loaded candidates", zap.Int("candidates", len(addrs)), zap.String("path", opts.CandidatesPath))

	var resolver engine.Resolver = engine.SystemResolver()
	if opts.DNSServer != "" {
		r := engine.NewDNSResolver(opts.DNSServer, opts.DNSTimeout)
		log.Debug("using upstream resolver", zap.String("server", r.Server()))
		resolver = r
	}

	best, ok, err := engine.SelectFastest(ctx, addrs, opts.Engine, resolver, log)
	if err != nil {
		return errors.Wrap(err, "probe candidates")
	}
	if !ok {
		fmt.Fprintln(stdout, "No ip found")
		return nil
	}
	fmt.Fprintf(stdout, "Fastest ip is %s\n", best.Address)

	w := hostsfile.NewWriter(opts.Hostnames)
	if opts.DryRun {
		preview, err := w.Preview(opts.HostsPath, best.Address)
		if err != nil {
			return err
		}
		fmt.Fprint(stdout, preview)
		return nil
	}

	if prev, err := hostsfile.Read(opts.HostsPath); err == nil && len(w.Hostnames) > 0 {
		if old := hostsfile.Lookup(prev, w.Hostnames[0]); len(old) > 0 {
			log.Info("replacing previous pin", zap.String("hostname", w.Hostnames[0]), zap.Strings("previous", old))
		}
	}

	if opts.Backup {
		backup, err := w.ApplyWithBackup(opts.HostsPath, best.Address)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Backup written to %s\n", backup)
	} else if err := w.Apply(opts.HostsPath, best.Address); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Updated %s\n", opts.HostsPath)
	return nil
}

func loadCandidates(path string) ([]string, error) {
	if path == "" {
		return candidates.Default()
	}
	return candidates.ReadFile(path)
}
