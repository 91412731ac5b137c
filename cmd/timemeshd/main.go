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

package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"

	"github.com/timemesh/timemesh/mesh"
	"github.com/timemesh/timemesh/node"

	_ "net/http/pprof"
)

func prepareConfig(cfgPath, bindHost string, bindPort int, bootstrap, hmacKey string, monitoringPort int) (*node.Config, error) {
	cfg := &node.Config{}
	var err error
	warn := func(name string) {
		log.Warningf("overriding %s from CLI flag", name)
	}
	if cfgPath != "" {
		cfg, err = node.ReadConfig(cfgPath)
		if err != nil {
			return nil, err
		}
	}
	if bindHost != "" && bindHost != cfg.BindHost {
		if cfg.BindHost != "" {
			warn("bind_host")
		}
		cfg.BindHost = bindHost
	}
	if bindPort != 0 && bindPort != cfg.BindPort {
		if cfg.BindPort != 0 {
			warn("bind_port")
		}
		cfg.BindPort = bindPort
	}
	if bootstrap != "" && bootstrap != cfg.BootstrapPeer {
		cfg.BootstrapPeer = bootstrap
	}
	if hmacKey != "" && hmacKey != cfg.HMACKey {
		cfg.HMACKey = hmacKey
	}
	if monitoringPort != 0 && monitoringPort != cfg.MonitoringPort {
		cfg.MonitoringPort = monitoringPort
	}
	log.Debugf("config: %+v", cfg)
	return cfg, nil
}

// sdNotify tells systemd the service finished starting up.
func sdNotify() {
	supported, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if !supported && err != nil {
		log.Errorf("sd_notify failed: %v", err)
	} else if !supported {
		log.Debug("sd_notify not supported")
	} else {
		log.Info("successfully sent sd_notify event")
	}
}

func doWork(cfg *node.Config) error {
	stats := mesh.NewJSONStats()
	if cfg.MonitoringPort != 0 {
		go stats.Start(cfg.MonitoringPort)
	}
	n, err := node.New(cfg, stats)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sdNotify()
	return n.Run(ctx)
}

func main() {
	var (
		cfgPath        string
		logLevel       string
		bindHost       string
		bindPort       int
		bootstrap      string
		hmacKey        string
		monitoringPort int
	)

	flag.StringVar(&cfgPath, "config", "", "path to the config file")
	flag.StringVar(&logLevel, "loglevel", "info", "Set a log level. Can be: debug, info, warning, error")
	flag.StringVar(&bindHost, "host", "", "IP to bind the mesh UDP socket on")
	flag.IntVar(&bindPort, "port", 0, "port to bind the mesh UDP socket on")
	flag.StringVar(&bootstrap, "join", "", "bootstrap peer to join the mesh through, host:port")
	flag.StringVar(&hmacKey, "key", "", "shared mesh HMAC key")
	flag.IntVar(&monitoringPort, "monitoringport", 0, "port to run monitoring server on")
	flag.Parse()

	switch logLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("Unrecognized log level: %v", logLevel)
	}

	cfg, err := prepareConfig(cfgPath, bindHost, bindPort, bootstrap, hmacKey, monitoringPort)
	if err != nil {
		log.Fatal(err)
	}
	if err := doWork(cfg); err != nil && err != context.Canceled {
		log.Fatal(err)
	}
}
