/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/timemesh/timemesh/archive"
	"github.com/timemesh/timemesh/consensus"
)

var checkTimestamp float64
var checkTolerance float64

func init() {
	consensusCmd.Flags().Float64VarP(&checkTimestamp, "timestamp", "t", 0, "claimed timestamp to check against consensus, seconds")
	consensusCmd.Flags().Float64Var(&checkTolerance, "tolerance", consensus.DefaultTolerance, "acceptable distance from consensus, seconds")
	RootCmd.AddCommand(consensusCmd)
}

var consensusCmd = &cobra.Command{
	Use:   "consensus",
	Short: "Compute fleet consensus time over recent archived proofs",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := consensusRun(); err != nil {
			log.Fatal(err)
		}
	},
}

func consensusRun() error {
	keys, err := loadKeys()
	if err != nil {
		return fmt.Errorf("loading keys: %w", err)
	}
	if len(keys) == 0 {
		log.Warning("no trusted keys configured, proofs from unknown nodes are dropped")
	}
	client := archive.NewClient(daURL)
	eng := consensus.NewWithTolerance(client, keys, checkTolerance)

	consensusTime, err := eng.ConsensusTime(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("consensus time: %.6f\n", consensusTime)

	if checkTimestamp != 0 {
		diff := checkTimestamp - consensusTime
		if diff < 0 {
			diff = -diff
		}
		verdict := color.GreenString("PLAUSIBLE")
		if diff > checkTolerance {
			verdict = color.RedString("IMPLAUSIBLE")
		}
		fmt.Printf("timestamp %.6f is %s (off by %.6fs, tolerance %.6fs)\n", checkTimestamp, verdict, diff, checkTolerance)
	}
	return nil
}
