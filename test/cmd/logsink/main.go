// logsink is a throwaway logging server for trying logprobe locally. It
// prints every message it receives and counts malformed ones.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/0xReLogic/logprobe/internal/logging"
	"github.com/0xReLogic/logprobe/testutil"
)

func main() {
	addr := flag.String("addr", ":30000", "Address to listen on")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	if err := logging.Init(*level); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Sync()

	sink, err := testutil.NewSink(*addr)
	if err != nil {
		logging.GetLogger().Fatal("listen", zap.String("addr", *addr), zap.Error(err))
	}
	sink.OnMessage = func(m testutil.Received) {
		if !m.Valid {
			logging.GetLogger().Warn("malformed_message",
				zap.String("remote", m.Remote),
				zap.ByteString("raw", m.Raw),
			)
			return
		}
		fmt.Printf("%s [%s] %s\n", m.At.Format("15:04:05.000"), m.Severity, m.Text)
	}
	sink.Start()
	logging.GetLogger().Info("logsink_started", zap.String("addr", sink.Addr().String()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	_ = sink.Close()
	logging.GetLogger().Info("logsink_stopped",
		zap.Int("connections", sink.Connections()),
		zap.Int("messages", len(sink.Messages())),
	)
}
