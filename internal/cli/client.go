package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rudransh-shrivastava/netspeed/internal/client"
	"github.com/rudransh-shrivastava/netspeed/internal/db"
	"github.com/rudransh-shrivastava/netspeed/internal/protocol"
	"github.com/rudransh-shrivastava/netspeed/internal/report"
	"github.com/rudransh-shrivastava/netspeed/internal/session"
	"github.com/rudransh-shrivastava/netspeed/internal/store"
	"github.com/rudransh-shrivastava/netspeed/internal/transport"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var errAllFailed = errors.New("no session succeeded")

// loopPause separates runs against a fixed server in loop mode.
const loopPause = time.Second

type clientOptions struct {
	size           string
	reliable       int
	unreliable     int
	server         string
	tcpPort        uint16
	udpPort        uint16
	discoveryPort  int
	discoverWindow time.Duration
	idleTimeout    time.Duration
	format         string
	history        string
	loop           bool
	noProgress     bool
}

var clientFlags clientOptions

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "run a speed test against a server",
	Long: `Wait for a server offer, or use --server, then run --reliable TCP and
--unreliable UDP transfers of --size bytes each, all at once.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		err = runClient(cmd.Context(), clientFlags, log, cmd.OutOrStdout(), progressTarget())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	f := clientCmd.Flags()
	f.StringVar(&clientFlags.size, "size", "1MB", "bytes per session, e.g. 500KB, 1GiB")
	f.IntVarP(&clientFlags.reliable, "reliable", "t", 1, "number of TCP sessions")
	f.IntVarP(&clientFlags.unreliable, "unreliable", "u", 1, "number of UDP sessions")
	f.StringVar(&clientFlags.server, "server", "", "server address, skips discovery")
	f.Uint16Var(&clientFlags.tcpPort, "tcp-port", 0, "server TCP port, with --server")
	f.Uint16Var(&clientFlags.udpPort, "udp-port", 0, "server UDP port, with --server")
	f.IntVar(&clientFlags.discoveryPort, "discovery-port", transport.DiscoveryPort, "port to listen for offers on")
	f.DurationVar(&clientFlags.discoverWindow, "discover-window", 0, "keep collecting offers this long after the first")
	f.DurationVar(&clientFlags.idleTimeout, "idle-timeout", session.DefaultIdleTimeout, "silence that ends a UDP session")
	f.StringVar(&clientFlags.format, "format", string(report.FormatText), "output format: text or json")
	f.StringVar(&clientFlags.history, "history", "", "sqlite file to record discovered servers in")
	f.BoolVar(&clientFlags.loop, "loop", false, "run again after each test until interrupted")
	f.BoolVar(&clientFlags.noProgress, "no-progress", false, "hide the progress bar")
}

// progressTarget is stderr when it is a terminal, nil otherwise.
func progressTarget() io.Writer {
	if clientFlags.noProgress || !colorOutput(os.Stderr) {
		return nil
	}
	return os.Stderr
}

func runClient(ctx context.Context, opts clientOptions, log *slog.Logger, out, progress io.Writer) error {
	size, err := humanize.ParseBytes(opts.size)
	if err != nil {
		return fmt.Errorf("invalid --size: %w", err)
	}
	plan := client.Plan{Size: size, Reliable: opts.reliable, Unreliable: opts.unreliable}
	if err := plan.Validate(); err != nil {
		return err
	}

	format, err := report.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	if format == report.FormatJSON {
		progress = nil
	}

	var direct *protocol.Endpoint
	if opts.server != "" {
		ep, err := resolveEndpoint(opts.server, opts.tcpPort, opts.udpPort)
		if err != nil {
			return err
		}
		direct = &ep
	}

	cfg := client.DefaultConfig()
	cfg.Logger = log
	cfg.Session.IdleTimeout = opts.idleTimeout
	cfg.Discovery.Port = opts.discoveryPort
	cfg.DiscoverWindow = opts.discoverWindow

	if opts.history != "" {
		gdb, err := db.Open(opts.history)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close(gdb) }()
		cfg.History = store.NewServerStore(gdb)
	}

	c := client.New(cfg)
	w := report.NewWriter(out, format == report.FormatText && writerColor(out))

	for {
		ep, err := endpointFor(ctx, c, direct)
		if err != nil {
			return err
		}

		results, err := runOnce(ctx, c, ep, plan, format, w, out, progress)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !opts.loop {
			if report.Summarize(results).Succeeded == 0 {
				return errAllFailed
			}
			return nil
		}

		if direct != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(loopPause):
			}
		}
	}
}

func endpointFor(ctx context.Context, c *client.Client, direct *protocol.Endpoint) (protocol.Endpoint, error) {
	if direct != nil {
		return *direct, nil
	}
	ep, _, err := c.Discover(ctx)
	return ep, err
}

func runOnce(ctx context.Context, c *client.Client, ep protocol.Endpoint, plan client.Plan, format report.Format, w *report.Writer, out, progress io.Writer) ([]session.Result, error) {
	var bar *progressbar.ProgressBar
	if progress != nil {
		bar = progressbar.NewOptions(plan.Sessions(),
			progressbar.OptionSetWriter(progress),
			progressbar.OptionSetDescription("sessions"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetElapsedTime(true),
		)
	}

	sink := func(res session.Result) {
		if bar != nil {
			_ = bar.Clear()
		}
		if format == report.FormatText {
			_ = w.Result(res)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	results, err := c.Run(ctx, ep, plan, sink)
	if err != nil {
		return nil, err
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if format == report.FormatJSON {
		doc, err := report.JSON(ep.String(), results)
		if err != nil {
			return nil, err
		}
		_, err = fmt.Fprintln(out, string(doc))
		return results, err
	}
	return results, w.Summary(results)
}

func resolveEndpoint(host string, tcpPort, udpPort uint16) (protocol.Endpoint, error) {
	if tcpPort == 0 || udpPort == 0 {
		return protocol.Endpoint{}, errors.New("--server needs --tcp-port and --udp-port")
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		ip, rerr := net.ResolveIPAddr("ip4", host)
		if rerr != nil {
			return protocol.Endpoint{}, fmt.Errorf("resolving %s: %w", host, rerr)
		}
		var ok bool
		addr, ok = netip.AddrFromSlice(ip.IP)
		if !ok {
			return protocol.Endpoint{}, fmt.Errorf("resolving %s: no address", host)
		}
	}

	return protocol.Offer{UDPPort: udpPort, TCPPort: tcpPort}.Endpoint(addr), nil
}
