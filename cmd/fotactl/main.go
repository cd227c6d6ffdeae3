// Copyright 2024 The FOTA Packager authors. All Rights Reserved.
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
//
// The fotactl tool builds signed firmware update packages and the
// fragmentation artifacts used to deliver them over LoRaWAN multicast.
package main

import (
	"flag"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/fota-packager/internal/metrics"
)

var (
	configFile  string
	metricsFile string
	// runMetrics is set for the duration of a command when --metrics_file
	// is given.
	runMetrics *metrics.Metrics
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fotactl",
		Short:         "Sign and fragment firmware update packages.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			runMetrics = nil
			if metricsFile != "" {
				runMetrics = metrics.New()
			}
		},
	}
	gfs := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(gfs)
	cmd.PersistentFlags().AddGoFlagSet(gfs)
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Packager configuration file, defaults apply when empty.")
	cmd.PersistentFlags().StringVar(&metricsFile, "metrics_file", "", "If set, packaging metrics are written to this file in Prometheus text format.")

	cmd.AddCommand(
		newSignCommand(),
		newDiffCommand(),
		newPacketsCommand(),
		newCertsCommand(),
		newVerifyCommand(),
		newManifestCommand(),
		newKeygenCommand(),
	)
	return cmd
}

// execute runs cmd and then writes out any metrics it collected, failed
// runs included.
func execute(cmd *cobra.Command) error {
	err := cmd.Execute()
	if runMetrics != nil {
		if merr := runMetrics.WriteFile(metricsFile); merr != nil {
			klog.Warningf("Failed to write metrics to %q: %v", metricsFile, merr)
		}
	}
	return err
}

func main() {
	defer klog.Flush()
	if err := execute(newRootCommand()); err != nil {
		klog.Exitf("%v", err)
	}
	os.Exit(0)
}
