// Binary entrypoint for the IPC gateway process. It exposes a Unix domain
// socket for same-host services and routes CALL/RESPONSE/HEARTBEAT frames
// between whichever of them are currently registered. Configured via CLI
// flags with sane defaults for local development.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nirikshan/nestjs-ipc-bro/codec"
	"github.com/nirikshan/nestjs-ipc-bro/gateway"
	"github.com/nirikshan/nestjs-ipc-bro/obs"
)

func main() {
	socketPath := flag.String("socket", "/tmp/ipc-gateway.sock", "Unix domain socket path to listen on")
	codecName := flag.String("codec", "json", "Wire codec: json or msgpack")
	maxDepth := flag.Int("max-depth", gateway.DefaultMaxDepth, "Maximum call-chain depth before MAX_DEPTH_EXCEEDED")
	acceptRate := flag.Float64("accept-rate", gateway.DefaultAcceptRate, "Sustained accepted connections per second")
	acceptBurst := flag.Int("accept-burst", gateway.DefaultAcceptBurst, "Burst size for the accept-rate limiter")
	heartbeatGrace := flag.Duration("heartbeat-grace", 90*time.Second, "Heartbeat grace period (stored in the gateway config; silent connections are not dropped)")
	production := flag.Bool("production", false, "Use zap's production JSON encoder instead of the development console one")
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *production {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("zap: %v", err)
	}
	obs.Set(logger)
	defer logger.Sync()

	wireCodec, err := resolveCodec(*codecName)
	if err != nil {
		logger.Fatal("configuration error", zap.Error(err))
	}

	g := gateway.New(gateway.Config{
		SocketPath:     *socketPath,
		Codec:          wireCodec,
		MaxDepth:       *maxDepth,
		AcceptRate:     *acceptRate,
		AcceptBurst:    *acceptBurst,
		HeartbeatGrace: *heartbeatGrace,
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("signal received, shutting down")
		if err := g.Close(); err != nil {
			logger.Warn("error closing gateway listener", zap.Error(err))
		}
	}()

	logger.Info("gateway listening", zap.String("socket", *socketPath), zap.String("codec", *codecName))
	if err := g.Serve(); err != nil {
		logger.Fatal("serve", zap.Error(err))
	}
	logger.Info("goodbye")
}

func resolveCodec(name string) (codec.Codec, error) {
	switch name {
	case "json", "":
		return codec.Get(codec.TypeJSON), nil
	case "msgpack":
		return codec.Get(codec.TypeMsgpack), nil
	default:
		return nil, unknownCodecError(name)
	}
}

type unknownCodecError string

func (e unknownCodecError) Error() string {
	return "unknown codec: " + string(e) + " (want json or msgpack)"
}
