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
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/timemesh/timemesh/archive"
	"github.com/timemesh/timemesh/proof"
)

func init() {
	RootCmd.AddCommand(proofsCmd)
}

var proofsCmd = &cobra.Command{
	Use:   "proofs",
	Short: "Fetch recent proofs from the archive and verify chain links and signatures",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := proofsRun(); err != nil {
			log.Fatal(err)
		}
	},
}

func proofsRun() error {
	keys, err := loadKeys()
	if err != nil {
		return fmt.Errorf("loading keys: %w", err)
	}
	client := archive.NewClient(daURL)
	proofs, err := client.RecentProofs(context.Background())
	if err != nil {
		return err
	}
	if len(proofs) == 0 {
		fmt.Println("no proofs archived")
		return nil
	}

	ok := color.GreenString("ok")
	fail := color.RedString("FAIL")
	unknown := "?"

	failures := 0
	lastHash := map[string]string{}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetColWidth(20)
	table.SetHeader([]string{"node", "local time", "gps", "prev hash", "link", "signature"})
	for _, p := range proofs {
		link := unknown
		if prev, seen := lastHash[p.NodeID]; seen {
			if p.PrevHash == prev {
				link = ok
			} else {
				link = fail
				failures++
			}
		} else if p.PrevHash == proof.ZeroHash {
			link = ok
		}
		h, err := p.Hash()
		if err != nil {
			return err
		}
		lastHash[p.NodeID] = h

		sig := unknown
		if pub, known := keys[p.NodeID]; known {
			if p.Verify(pub) {
				sig = ok
			} else {
				sig = fail
				failures++
			}
		}

		gpsTime := "none"
		if p.GPSData != nil {
			gpsTime = fmt.Sprintf("%d:%.3f", p.GPSData.Week, p.GPSData.Seconds)
		}
		table.Append([]string{
			fmt.Sprintf("%.8s", p.NodeID),
			fmt.Sprintf("%.6f", p.LocalTime),
			gpsTime,
			fmt.Sprintf("%.8s", p.PrevHash),
			link,
			sig,
		})
	}
	table.Render()
	if failures > 0 {
		return fmt.Errorf("%d verification failures in %d proofs", failures, len(proofs))
	}
	fmt.Printf("%d proofs verified\n", len(proofs))
	return nil
}
