// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kadirpekel/seeker/pkg/runtime"
	"github.com/kadirpekel/seeker/pkg/server"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Addr string `help:"Listen address (overrides config)." placeholder:"HOST:PORT"`

	CorpusSize int64 `name:"corpus-size" help:"Approximate corpus size, guides index selection on first run." default:"0"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}

	startupCtx, startupCancel := context.WithTimeout(ctx, 2*time.Minute)
	rt, err := runtime.New(startupCtx, cfg, runtime.Options{CorpusSizeHint: c.CorpusSize})
	startupCancel()
	if err != nil {
		return fmt.Errorf("failed to assemble runtime: %w", err)
	}
	defer rt.Close()

	srv := server.New(rt, cfg.Server)

	fmt.Printf("seeker ready\n")
	fmt.Printf("   Query:    POST http://localhost%s/v1/query\n", cfg.Server.Addr)
	fmt.Printf("   Health:   http://localhost%s/healthz\n", cfg.Server.Addr)
	fmt.Printf("   Stats:    http://localhost%s/v1/stats\n", cfg.Server.Addr)
	fmt.Printf("   Metrics:  http://localhost%s/metrics\n", cfg.Server.Addr)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	}
}
