package cli

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rudransh-shrivastava/netspeed/internal/server"
	"github.com/rudransh-shrivastava/netspeed/internal/transport"
	"github.com/spf13/cobra"
)

var serverFlags struct {
	host          string
	tcpPort       uint16
	udpPort       uint16
	discoveryPort int
	broadcast     []string
	interval      time.Duration
	noOffers      bool
	readBuffer    string
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "serve transfers and broadcast offers",
	Long: `Start a server. It binds a TCP and a UDP port, fixed by flag or drawn from
49152-65535, and broadcasts them once per interval until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}

		cfg := server.DefaultConfig()
		cfg.Logger = log
		cfg.Transport.Host = serverFlags.host
		cfg.Transport.TCPPort = serverFlags.tcpPort
		cfg.Transport.UDPPort = serverFlags.udpPort
		cfg.DiscoveryPort = serverFlags.discoveryPort
		cfg.BroadcastTargets = serverFlags.broadcast
		cfg.OfferInterval = serverFlags.interval
		cfg.DisableOffers = serverFlags.noOffers

		if serverFlags.readBuffer != "" {
			n, err := humanize.ParseBytes(serverFlags.readBuffer)
			if err != nil {
				return err
			}
			cfg.Transport.ReadBuffer = int(n)
		}

		srv, err := server.New(cfg)
		if err != nil {
			return err
		}

		err = srv.Start(cmd.Context())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	f := serverCmd.Flags()
	f.StringVar(&serverFlags.host, "host", "", "address to bind, empty for all interfaces")
	f.Uint16Var(&serverFlags.tcpPort, "tcp-port", 0, "TCP port, 0 for a random port")
	f.Uint16Var(&serverFlags.udpPort, "udp-port", 0, "UDP port, 0 for a random port")
	f.IntVar(&serverFlags.discoveryPort, "discovery-port", transport.DiscoveryPort, "port offers are broadcast to")
	f.StringSliceVar(&serverFlags.broadcast, "broadcast", nil, "broadcast targets, default every interface's broadcast address")
	f.DurationVar(&serverFlags.interval, "interval", time.Second, "time between offers")
	f.BoolVar(&serverFlags.noOffers, "no-offers", false, "do not broadcast offers")
	f.StringVar(&serverFlags.readBuffer, "read-buffer", "4MiB", "UDP socket receive buffer")
}
