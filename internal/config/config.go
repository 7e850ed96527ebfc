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

// Package config centralises the environment-driven knobs the evaluation
// pipeline reads at startup: base storage directory, upload limits and the
// participant/organizer sandbox resource limits.
package config

import (
	"os"
	"strconv"

	"github.com/docker/go-units"
	"github.com/joho/godotenv"
)

// Config holds every tunable the pipeline consults. Zero value is never
// valid on its own; always obtain one through Load.
type Config struct {
	ListenAddr   string
	BaseDir      string
	UploadDir    string
	ZipMaxSize   int64
	TarMaxSize   int64
	ImageMaxSize int64

	AllowedTarExtensions map[string]bool
	AllowedZipExtensions map[string]bool

	Participant ResourceLimits
	Organizer   ResourceLimits

	CleanupIntervalHours int
	CleanupMaxAgeHours   int
}

// ResourceLimits bounds one side of the two-stage sandbox pipeline.
type ResourceLimits struct {
	TimeoutSeconds int
	CPUCores       int
	MemLimit       string
	MemLimitBytes  int64
}

// Load reads a .env file from the working directory (silently ignored if
// absent) and then the process environment, applying the documented
// defaults for every tunable.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:   getEnv("ADDR", ":28919"),
		BaseDir:      getEnv("BASE_DIR", "./projects"),
		UploadDir:    getEnv("UPLOAD_FOLDER", "./uploads"),
		ZipMaxSize:   getEnvInt64("ZIP_MAX_SIZE", 524288000),
		TarMaxSize:   getEnvInt64("TAR_MAX_SIZE", 524288000),
		ImageMaxSize: getEnvInt64("IMAGE_MAX_SIZE", 5*1024*1024),

		AllowedTarExtensions: splitSet(getEnv("ALLOWED_TAR_EXTENSIONS", "tar,tar.gz")),
		AllowedZipExtensions: splitSet(getEnv("ALLOWED_ZIP_EXTENSIONS", "zip")),

		Participant: ResourceLimits{
			TimeoutSeconds: getEnvInt("PARTICIPANT_TIMEOUT", 300),
			CPUCores:       getEnvInt("PARTICIPANT_CPU_CORES", 2),
			MemLimit:       getEnv("PARTICIPANT_MEM_LIMIT", "2g"),
		},
		Organizer: ResourceLimits{
			TimeoutSeconds: getEnvInt("ORGANIZER_TIMEOUT", 300),
			CPUCores:       getEnvInt("ORGANIZER_CPU_CORES", 1),
			MemLimit:       getEnv("ORGANIZER_MEM_LIMIT", "1g"),
		},

		CleanupIntervalHours: getEnvInt("EVAL_CLEANUP_INTERVAL_HOURS", 1),
		CleanupMaxAgeHours:   getEnvInt("EVAL_CLEANUP_MAX_AGE_HOURS", 24),
	}

	var err error
	if cfg.Participant.MemLimitBytes, err = units.RAMInBytes(cfg.Participant.MemLimit); err != nil {
		return nil, err
	}
	if cfg.Organizer.MemLimitBytes, err = units.RAMInBytes(cfg.Organizer.MemLimit); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func splitSet(csv string) map[string]bool {
	set := map[string]bool{}
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				set[csv[start:i]] = true
			}
			start = i + 1
		}
	}
	return set
}
