// Copyright 2023 qbee.io
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
// SPDX-License-Identifier: Apache-2.0

// Command shadow-agentd runs the reconcile loop that keeps the local
// passwd/group/shadow/gshadow files synchronized with a remote snapshot
// (spec 1). It is the runnable default wiring of the core packages:
// agentconfig loads the daemon's own settings, filesource stands in for
// the real remote document store behind the snapshot.Source interface,
// and lockmgr/shadowdb/reconcile/schedule do the rest.
package main

import (
	"context"
	"fmt"
	"os"

	"go.qbee.io/shadowsync/internal/agentconfig"
	"go.qbee.io/shadowsync/internal/clicmd"
	"go.qbee.io/shadowsync/internal/filesource"
	"go.qbee.io/shadowsync/internal/log"
	"go.qbee.io/shadowsync/internal/lockmgr"
	"go.qbee.io/shadowsync/internal/provision"
	"go.qbee.io/shadowsync/internal/reconcile"
	"go.qbee.io/shadowsync/internal/schedule"
	"go.qbee.io/shadowsync/internal/shadowdb"
)

const (
	configDirOption    = "config-dir"
	accountDirOption   = "account-dir"
	snapshotFileOption = "snapshot-file"
	logLevelOption     = "log-level"
)

const (
	defaultConfigDir    = "/etc/shadow-agentd"
	defaultAccountDir   = "/etc"
	defaultSnapshotFile = "/var/lib/shadow-agentd/snapshot.json"
)

var mainCommand = clicmd.Command{
	Description: "Shadow Database Sync Agent",
	Options: []clicmd.Option{
		{
			Name:    configDirOption,
			Short:   "c",
			Help:    "Directory containing shadowsync.json.",
			Default: defaultConfigDir,
		},
		{
			Name:    accountDirOption,
			Short:   "d",
			Help:    "Directory containing passwd/group/shadow/gshadow.",
			Default: defaultAccountDir,
		},
		{
			Name:    snapshotFileOption,
			Short:   "f",
			Help:    "Path to the local JSON snapshot document (stand-in SnapshotSource).",
			Default: defaultSnapshotFile,
		},
		{
			Name:    logLevelOption,
			Short:   "l",
			Help:    "Logging level: DEBUG, INFO, WARNING or ERROR.",
			Default: "INFO",
		},
	},
	SubCommands: map[string]clicmd.Command{
		"start": startCommand,
		"sync":  syncCommand,
	},
}

var startCommand = clicmd.Command{
	Description: "Run the reconcile loop on the configured period/jitter schedule.",
	Target:      runStart,
}

var syncCommand = clicmd.Command{
	Description: "Run a single reconcile cycle and exit.",
	Target:      runSync,
}

func applyLogLevel(opts clicmd.Options) {
	switch opts[logLevelOption] {
	case "DEBUG":
		log.SetLevel(log.DEBUG)
	case "WARNING":
		log.SetLevel(log.WARNING)
	case "ERROR":
		log.SetLevel(log.ERROR)
	default:
		log.SetLevel(log.INFO)
	}
}

func buildReconciler(opts clicmd.Options) (*reconcile.Reconciler, *agentconfig.Config, error) {
	applyLogLevel(opts)

	cfg, err := agentconfig.Load(opts[configDirOption])
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}

	lock := lockmgr.NewManager(opts[accountDirOption])
	db := shadowdb.NewDatabase(opts[accountDirOption], lock)
	source := filesource.New(opts[snapshotFileOption])
	provisioner := provision.NewFileProvisioner()

	return reconcile.New(db, source, provisioner, cfg.LockTimeout()), cfg, nil
}

func runStart(opts clicmd.Options) error {
	reconciler, cfg, err := buildReconciler(opts)
	if err != nil {
		return err
	}

	scheduler := schedule.New(cfg.FullUpdatePeriod(), cfg.FullUpdateJitter(), reconciler.FullUpdate)
	return scheduler.Run(context.Background())
}

func runSync(opts clicmd.Options) error {
	reconciler, _, err := buildReconciler(opts)
	if err != nil {
		return err
	}

	return reconciler.FullUpdate(context.Background())
}

func main() {
	if err := mainCommand.Execute(os.Args[1:], nil); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}
