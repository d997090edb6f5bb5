// Command oxtcpd runs the TCP/IPv4 stack over a TUN device, accepting
// connections on one port and echoing back whatever it receives — enough to
// exercise the full send/receive/retransmit/congestion path end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/swastic7/oxtcp/demux"
	"github.com/swastic7/oxtcp/metrics"
	"github.com/swastic7/oxtcp/tcp"
)

func main() {
	if err := run(); err != nil {
		log.Fatalln("oxtcpd:", err)
	}
}

func run() error {
	var (
		flagTUN        = flag.String("tun", "tun0", "TUN device name")
		flagAddr       = flag.String("addr", "192.168.10.1", "local IPv4 address of the TUN endpoint")
		flagPort       = flag.Uint("port", 7000, "TCP port to listen on")
		flagWindow     = flag.Uint("window", 65535, "advertised receive window in bytes")
		flagMetrics    = flag.String("metrics-addr", ":9273", "address to serve Prometheus metrics on")
		flagLogLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
		flagMetricsOff = flag.Bool("no-metrics", false, "disable the metrics HTTP server")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*flagLogLevel)}))

	localAddr, err := parseIPv4(*flagAddr)
	if err != nil {
		return fmt.Errorf("parsing -addr: %w", err)
	}

	tun, err := openTun(*flagTUN)
	if err != nil {
		return fmt.Errorf("opening tun device: %w", err)
	}
	defer tun.Close()
	logger.Info("tun opened", slog.String("name", tun.Name()))

	iss, err := newISSGenerator()
	if err != nil {
		return fmt.Errorf("seeding iss generator: %w", err)
	}

	loop := demux.NewEventLoop(tun, localAddr, iss.next, logger)

	collector := metrics.NewCollector("oxtcp")
	if !*flagMetricsOff {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collector)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: *flagMetrics, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server", slog.String("err", err.Error()))
			}
		}()
		logger.Info("metrics listening", slog.String("addr", *flagMetrics))
	}
	loop.SetMetrics(collector)

	loop.Listen(uint16(*flagPort), tcp.Size(*flagWindow), tcp.DefaultMSS, func(quad demux.Quad) (demux.OnData, demux.OnClose) {
		logger.Info("accepted", slog.String("quad", quad.String()))
		onData := func(c *demux.Conn, chunk []byte) {
			logger.Debug("data", slog.String("quad", c.Quad().String()), slog.Int("n", len(chunk)))
			c.Send(chunk) // echo.
		}
		onClose := func(c *demux.Conn, err error) {
			if err != nil {
				logger.Warn("closed", slog.String("quad", c.Quad().String()), slog.String("err", err.Error()))
			} else {
				logger.Info("closed", slog.String("quad", c.Quad().String()))
			}
		}
		return onData, onClose
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("serving", slog.Uint64("port", uint64(*flagPort)))
	return loop.Run(ctx)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseIPv4(s string) ([4]byte, error) {
	var out [4]byte
	ip := net.ParseIP(s)
	if ip == nil {
		return out, fmt.Errorf("invalid IPv4 address %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return out, fmt.Errorf("%q is not an IPv4 address", s)
	}
	copy(out[:], v4)
	return out, nil
}
