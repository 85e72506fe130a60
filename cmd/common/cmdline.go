// Copyright 2026 Blink Labs Software
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

package common

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/blinklabs-io/gokate/swarm"
)

type GlobalFlags struct {
	Flagset      *flag.FlagSet
	Network      string
	NetworkMagic uint
	Debug        bool
	LogFormat    string
}

func NewGlobalFlags() *GlobalFlags {
	f := &GlobalFlags{
		Flagset: flag.NewFlagSet(os.Args[0], flag.ExitOnError),
	}
	f.Flagset.StringVar(
		&f.Network,
		"network",
		"turing",
		"specifies network that node is participating in",
	)
	f.Flagset.UintVar(
		&f.NetworkMagic,
		"network-magic",
		0,
		"specifies network magic value. this overrides the -network option",
	)
	f.Flagset.BoolVar(&f.Debug, "debug", false, "enable debug logging")
	f.Flagset.StringVar(
		&f.LogFormat,
		"log-format",
		"text",
		"log output format (text or json)",
	)
	return f
}

func (f *GlobalFlags) Parse() {
	if err := f.Flagset.Parse(os.Args[1:]); err != nil {
		fmt.Printf("failed to parse command args: %s\n", err)
		os.Exit(1)
	}
	if f.NetworkMagic == 0 {
		network := swarm.NetworkByName(f.Network)
		if network == swarm.NetworkInvalid {
			fmt.Printf("Invalid network specified: %s\n", f.Network)
			os.Exit(1)
		}
		f.NetworkMagic = uint(network.NetworkMagic)
	}
	if f.LogFormat != "text" && f.LogFormat != "json" {
		fmt.Printf("Invalid log format specified: %s\n", f.LogFormat)
		os.Exit(1)
	}
}

// NewLogger returns a logger writing to stderr in the configured format
func (f *GlobalFlags) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if f.Debug {
		opts.Level = slog.LevelDebug
	}
	if f.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
