// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"

	"github.com/silknetwork/silkd/database"
	"github.com/silknetwork/silkd/database/engine"
	silklog "github.com/silknetwork/silkd/internal/log"
	"github.com/silknetwork/silkd/internal/version"
	"github.com/silknetwork/silkd/limits"
)

const (
	// heightIndexDbNamePrefix is the prefix for the transaction height
	// index database name.  The database type is appended to this value to
	// form the full index database name.
	heightIndexDbNamePrefix = "txheight"
)

var (
	cfg *config

	// silkLog is the logger of the daemon itself.
	silkLog = silklog.SilkLog
)

// winServiceMain is only invoked on Windows.  It detects when silkd is running
// as a service and reacts accordingly.
var winServiceMain func() (bool, error)

// silkdMain is the real main function for silkd.  It is necessary to work
// around the fact that deferred functions do not run when os.Exit() is called.
// The optional serverChan parameter is mainly used by the service code to be
// notified with the server once it is setup so it can gracefully stop it when
// requested from the service control manager.
func silkdMain(serverChan chan<- *server) error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if silklog.LogRotator != nil {
			silklog.LogRotator.Close()
		}
	}()

	// Get a channel that will be closed when a shutdown signal has been
	// triggered either from an OS signal such as SIGINT (Ctrl+C) or from
	// another subsystem such as the RPC server.
	interrupt := interruptListener()
	defer silkLog.Info("Shutdown complete")

	// Show version at startup.
	silkLog.Infof("Version %s", version.String())

	// Enable http profiling server if requested.
	if cfg.Profile != "" {
		go func() {
			listenAddr := net.JoinHostPort("", cfg.Profile)
			silkLog.Infof("Profile server listening on %s", listenAddr)
			profileRedirect := http.RedirectHandler("/debug/pprof",
				http.StatusSeeOther)
			http.Handle("/", profileRedirect)
			silkLog.Errorf("%v", http.ListenAndServe(listenAddr, nil))
		}()
	}

	// Write cpu profile if requested.
	if cfg.CPUProfile != "" {
		f, err := os.Create(cfg.CPUProfile)
		if err != nil {
			silkLog.Errorf("Unable to create cpu profile: %v", err)
			return err
		}
		pprof.StartCPUProfile(f)
		defer f.Close()
		defer pprof.StopCPUProfile()
	}

	// Return now if an interrupt signal was triggered.
	if interruptRequested(interrupt) {
		return nil
	}

	// Load the transaction height index database.
	db, err := loadIndexDB()
	if err != nil {
		silkLog.Errorf("%v", err)
		return err
	}
	defer func() {
		// Ensure the database is sync'd and closed on shutdown.
		silkLog.Infof("Gracefully shutting down the database...")
		db.Close()
	}()

	// Return now if an interrupt signal was triggered.
	if interruptRequested(interrupt) {
		return nil
	}

	// Create server and start it.
	server, err := newServer(db, activeNetParams.Params)
	if err != nil {
		silkLog.Errorf("Unable to start server: %v", err)
		return err
	}
	defer func() {
		silkLog.Infof("Gracefully shutting down the server...")
		server.Stop()
		server.WaitForShutdown()
		silkLog.Infof("Server shutdown complete")
	}()
	server.Start()
	if serverChan != nil {
		serverChan <- server
	}

	// Wait until the interrupt signal is received from an OS signal or
	// shutdown is requested through one of the subsystems such as the RPC
	// server.
	<-interrupt
	return nil
}

// loadIndexDB loads (or creates when needed) the transaction height index
// taking into account the selected database backend and returns a handle to
// it.
func loadIndexDB() (engine.Engine, error) {
	// The database name is based on the database type.
	dbName := heightIndexDbNamePrefix + "_" + cfg.DbType
	dbPath := filepath.Join(cfg.DataDir, dbName)

	silkLog.Infof("Loading transaction height index '%s'", dbPath)
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}
	db, err := database.OpenOrCreate(cfg.DbType, dbPath)
	if err != nil {
		return nil, err
	}

	silkLog.Info("Transaction height index loaded")
	return db, nil
}

func main() {
	// Up some limits.
	if err := limits.SetLimits(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set limits: %v\n", err)
		os.Exit(1)
	}

	// Call serviceMain on Windows to handle running as a service.  When
	// the return isService flag is true, exit now since we ran as a
	// service.  Otherwise, just fall through to normal operation.
	if runtime.GOOS == "windows" {
		isService, err := winServiceMain()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		if isService {
			os.Exit(0)
		}
	}

	// Work around defer not working after os.Exit()
	if err := silkdMain(nil); err != nil {
		os.Exit(1)
	}
}
