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
	"fmt"

	"github.com/kadirpekel/seeker/pkg/config"
)

// ValidateCmd validates a configuration file without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("validate requires --config")
	}

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	fmt.Printf("%s is valid\n", cli.Config)
	fmt.Printf("   server:       %s\n", cfg.Server.Addr)
	fmt.Printf("   vector store: %s (collection %s, metric %s)\n",
		cfg.Vector.Address, cfg.Vector.Collection, cfg.Vector.Metric)
	fmt.Printf("   llm:          %s\n", cfg.LLM.Model)
	fmt.Printf("   embedder:     %s (dim %d)\n", cfg.Embedder.Model, cfg.Embedder.Dimension)
	fmt.Printf("   mcp servers:  %d\n", len(cfg.MCP.Servers))
	if cfg.Cache.RedisAddr != "" {
		fmt.Printf("   l2 cache:     %s\n", cfg.Cache.RedisAddr)
	} else {
		fmt.Printf("   l2 cache:     disabled\n")
	}
	return nil
}
