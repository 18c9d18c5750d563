/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// pendingcat is a utility for inspecting and replaying serialized
// pending-op state blobs (spec.md §6.3), mirroring the teacher's
// mircat tool but for this module's domain: instead of replaying a Mir
// recorder log against a consensus state machine, it replays a
// PendingLocalState blob against a reference runtime and a no-op DDS
// rebaser.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/wes-carlson/fluidcore/pkg/config"
	"github.com/wes-carlson/fluidcore/pkg/pendingstate"
	"github.com/wes-carlson/fluidcore/pkg/runtime"
	"github.com/wes-carlson/fluidcore/pkg/telemetry"
	"github.com/wes-carlson/fluidcore/pkg/wire"
)

func readBlob(path string) ([]byte, error) {
	if path == "-" || path == "" {
		return nil, errors.New("no input path given")
	}
	return os.ReadFile(path)
}

func dump(path string) error {
	blob, err := readBlob(path)
	if err != nil {
		return err
	}
	state, err := wire.Decode(blob)
	if err != nil {
		return errors.WithMessage(err, "could not decode pending state")
	}
	if state == nil {
		fmt.Println("<no pending state: nothing unacked>")
		return nil
	}

	fmt.Printf("clientId: %s\n", state.ClientID)
	fmt.Printf("entries: %d\n", len(state.Entries))
	for i, e := range state.Entries {
		switch e.Type {
		case pendingstate.SerializedMessage:
			fmt.Printf("  [%d] message csn=%d rsn=%d type=%s bytes=%d\n",
				i, e.ClientSequenceNumber, e.ReferenceSequenceNumber, e.MessageType, len(e.Content))
		case pendingstate.SerializedFlushMode:
			fmt.Printf("  [%d] flushMode=%s\n", i, e.FlushMode)
		case pendingstate.SerializedFlushMarker:
			fmt.Printf("  [%d] flush\n", i)
		}
	}
	return nil
}

func replay(path string, log *zap.Logger) error {
	blob, err := readBlob(path)
	if err != nil {
		return err
	}
	state, err := wire.Decode(blob)
	if err != nil {
		return errors.WithMessage(err, "could not decode pending state")
	}
	if state == nil {
		fmt.Println("<no pending state: nothing to replay>")
		return nil
	}

	initial, err := pendingstate.DecodeInitialState(*state)
	if err != nil {
		return errors.WithMessage(err, "could not decode initial state")
	}

	rt := runtime.New()
	rebase := func(content, localMetadata []byte) error {
		log.Debug("rebase (no-op reference DDS)", zap.Int("contentBytes", len(content)))
		return nil
	}
	obs := telemetry.New(log)
	sm := pendingstate.New(rt, rebase, obs, &initial)
	rt.Bind(sm)

	rt.Connect("pendingcat-replay-client")
	if err := sm.ReplayOnReconnect(); err != nil {
		return errors.WithMessage(err, "replay failed")
	}

	for i, op := range rt.Outbox() {
		fmt.Printf("resubmit[%d]: type=%s bytes=%d\n", i, op.MessageType, len(op.Content))
	}
	for i, mode := range rt.FlushModeLog() {
		fmt.Printf("setFlushMode[%d]: %s\n", i, mode)
	}
	fmt.Printf("flush() calls: %d\n", rt.FlushCalls())
	return nil
}

func serve(addr string, log *zap.Logger) error {
	rt := runtime.New()
	obs := telemetry.New(log)
	sm := pendingstate.New(rt, func([]byte, []byte) error { return nil }, obs, nil)
	rt.Bind(sm)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/pending-state", func(w http.ResponseWriter, req *http.Request) {
		state := sm.Serialize()
		w.Header().Set("Content-Type", "application/json")
		if state == nil {
			_, _ = w.Write([]byte(`{"clientId":"","pendingStates":[]}`))
			return
		}
		blob, err := wire.Encode(state, false)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(blob)
	})

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	log.Info("pendingcat debug server listening", zap.String("addr", addr))
	return srv.ListenAndServe()
}

func main() {
	app := kingpin.New("pendingcat", "Utility for inspecting and replaying pending op state blobs.")

	cfgPath := app.Flag("config", "Path to a YAML config file.").String()

	dumpCmd := app.Command("dump", "Print the entries in a serialized pending-state blob.")
	dumpFile := dumpCmd.Arg("file", "Path to the blob.").Required().String()

	replayCmd := app.Command("replay", "Replay a serialized pending-state blob against a reference runtime.")
	replayFile := replayCmd.Arg("file", "Path to the blob.").Required().String()

	serveCmd := app.Command("serve", "Start a debug HTTP server exposing a live reference runtime's pending state.")
	serveAddr := serveCmd.Flag("addr", "Listen address.").String()

	kingpin.Version("0.1.0")
	cmd, err := app.Parse(os.Args[1:])
	if err != nil {
		kingpin.Fatalf("Error, %s, try --help", err)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		kingpin.Fatalf("Error loading config, %s", err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		kingpin.Fatalf("Error constructing logger, %s", err)
	}
	defer log.Sync() //nolint:errcheck

	switch cmd {
	case dumpCmd.FullCommand():
		err = dump(*dumpFile)
	case replayCmd.FullCommand():
		err = replay(*replayFile, log)
	case serveCmd.FullCommand():
		addr := cfg.DebugServeAddr
		if *serveAddr != "" {
			addr = *serveAddr
		}
		err = serve(addr, log)
	}

	if err != nil {
		kingpin.Fatalf("Error, %s", err)
	}
}
