// BSD 2-Clause License
//
// Copyright (c) 2020, Andrea Giacomo Baldan
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// * Redistributions of source code must retain the above copyright notice, this
//   list of conditions and the following disclaimer.
//
// * Redistributions in binary form must reproduce the above copyright notice,
//   this list of conditions and the following disclaimer in the documentation
//   and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// sandboxeval runs the evaluation platform's two cooperating long-lived
// process roles from a single binary, selected with -type:
//
//   - 0 (Ingress): serves the HTTP surface that registers submissions.
//   - 1 (Queue):   drains the task queue, running the evaluation pipeline,
//     and ticks the dangling-resource sweeper alongside it.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/codepr/sandboxeval/internal/config"
	"github.com/codepr/sandboxeval/internal/ingress"
	"github.com/codepr/sandboxeval/internal/queue"
	"github.com/codepr/sandboxeval/internal/queuerunner"
	"github.com/codepr/sandboxeval/internal/sandbox"
	"github.com/codepr/sandboxeval/internal/store"
	"github.com/codepr/sandboxeval/internal/sweep"
)

const (
	Ingress = iota
	Queue
)

var (
	addr       string
	serverType int
)

func main() {
	flag.StringVar(&addr, "addr", "", "Ingress listening address (defaults to $ADDR, then :28919)")
	flag.IntVar(&serverType, "type", Ingress,
		"Process type, can be either 0 (Ingress) or 1 (Queue)")
	flag.Parse()

	if serverType < 0 || serverType > 1 {
		log.Fatal("process type not supported")
	}

	prefix := "[ingress] "
	if serverType == Queue {
		prefix = "[queue] "
	}
	logger := log.New(os.Stdout, prefix, log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load configuration: %s", err)
	}
	if addr == "" {
		addr = cfg.ListenAddr
	}

	st := store.New(cfg.BaseDir)
	q := queue.New(filepath.Join(".", "task_queue.json"))

	if serverType == Ingress {
		runIngress(logger, cfg, st, q)
		return
	}
	runQueue(logger, cfg, st, q)
}

func runIngress(logger *log.Logger, cfg *config.Config, st *store.Store, q *queue.Queue) {
	server := ingress.New(addr, logger, st, q)
	if err := server.Run(); err != nil {
		logger.Fatal(err)
	}
}

func runQueue(logger *log.Logger, cfg *config.Config, st *store.Store, q *queue.Queue) {
	docker, err := sandbox.NewClient()
	if err != nil {
		logger.Fatalf("failed to build docker client: %s", err)
	}

	runner := &queuerunner.Runner{
		Queue:  q,
		Store:  st,
		Docker: docker,
		Config: cfg,
		Log:    logger,
	}
	runner.RecoverOrphans(contestIDs(cfg.BaseDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Println("queue: shutting down")
		cancel()
	}()

	if lister, err := sweep.NewDockerLister(); err != nil {
		logger.Printf("sweeper disabled, failed to build docker lister: %s", err)
	} else {
		sweeper := sweep.New(lister, hoursToDuration(cfg.CleanupIntervalHours), hoursToDuration(cfg.CleanupMaxAgeHours), logger)
		go sweeper.Run(ctx)
	}

	runner.Run(ctx)
}

// contestIDs lists the immediate subdirectories of baseDir as candidate
// contest ids for orphan-recovery scanning at startup.
func contestIDs(baseDir string) []string {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids
}

func hoursToDuration(hours int) time.Duration {
	return time.Duration(hours) * time.Hour
}
