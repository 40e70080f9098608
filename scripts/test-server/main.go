// Command test-server serves the demo order and product service that the
// scenarios under scenarios/ are written against.
//
//	go run ./scripts/test-server --addr :8000
//	go run ./scripts/test-server --unlocked --create-delay 20ms
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/loadcheck/internal/logging"
	"github.com/wesleyorama2/loadcheck/internal/testserver"
)

const demoProductID = "a1b2c3d4-e5f6-7890-1234-567890abcdef"

func main() {
	var (
		addr        string
		unlocked    bool
		createDelay time.Duration
		readDelay   time.Duration
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:          "test-server",
		Short:        "Serve the demo order and product API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logger, err := logging.New(os.Stderr, logging.Options{
				Level:    level,
				UseColor: isatty.IsTerminal(os.Stderr.Fd()),
			})
			if err != nil {
				return err
			}

			handler := testserver.New(testserver.Options{
				Locked:      !unlocked,
				CreateDelay: createDelay,
				ReadDelay:   readDelay,
				Logger:      logger,
			}, testserver.Product{
				ProductID: demoProductID,
				Name:      "Demo Widget",
				BasePrice: 19.99,
				Stock:     1000,
			})

			server := &http.Server{
				Addr:              addr,
				Handler:           handler,
				ReadTimeout:       5 * time.Second,
				WriteTimeout:      5 * time.Second,
				IdleTimeout:       120 * time.Second,
				MaxHeaderBytes:    1 << 20,
				ReadHeaderTimeout: 2 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			logger.Info("test server listening", "addr", addr, "locked", !unlocked, "cpus", runtime.NumCPU())
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			logger.Info("test server stopped",
				"requests", handler.Requests(),
				"orders", handler.Orders(),
				"duplicates", handler.Duplicates())
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8000", "Listen address")
	cmd.Flags().BoolVar(&unlocked, "unlocked", false, "Allow duplicate pending orders under concurrency")
	cmd.Flags().DurationVar(&createDelay, "create-delay", 0, "Delay between the duplicate check and the insert")
	cmd.Flags().DurationVar(&readDelay, "read-delay", 0, "Delay added to product lookups")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
