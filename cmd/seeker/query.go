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
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/kadirpekel/seeker/pkg/query"
	"github.com/kadirpekel/seeker/pkg/router"
	"github.com/kadirpekel/seeker/pkg/runtime"
)

// QueryCmd answers a single query and exits.
type QueryCmd struct {
	Text []string `arg:"" help:"The question to answer."`

	Mode string `help:"Execution mode (fast, balanced, deep)." default:"balanced" enum:"fast,balanced,deep"`
	JSON bool   `help:"Print the full response as JSON."`
}

func (c *QueryCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	ctx := context.Background()
	rt, err := runtime.New(ctx, cfg, runtime.Options{DisableMetrics: true})
	if err != nil {
		return fmt.Errorf("failed to assemble runtime: %w", err)
	}
	defer rt.Close()

	text := strings.Join(c.Text, " ")
	emit := func(resp router.Response) {
		if c.JSON {
			_ = json.NewEncoder(os.Stdout).Encode(resp)
			return
		}
		fmt.Printf("--- interim (confidence %.2f) ---\n%s\n\n", resp.Confidence, resp.Answer)
	}

	final, err := rt.Router().Route(ctx, query.Query{
		Text: text,
		Mode: query.Mode(c.Mode),
	}, emit)
	if err != nil {
		return err
	}

	if c.JSON {
		return json.NewEncoder(os.Stdout).Encode(final)
	}

	fmt.Println(final.Answer)
	fmt.Printf("\n[%s via %s, confidence %.2f", final.Status, final.Strategy, final.Confidence)
	if final.Iterations > 0 {
		fmt.Printf(", %d iterations", final.Iterations)
	}
	fmt.Println("]")
	for i, src := range final.Sources {
		if i >= 5 {
			fmt.Printf("  ... and %d more sources\n", len(final.Sources)-i)
			break
		}
		fmt.Printf("  [%d] %s (%.2f)\n", i+1, src.ID, src.Score)
	}
	return nil
}
