// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command debatearena starts the adversarial debate orchestrator HTTP
// server. Configuration is read entirely from the environment; see
// pkg/config for the full list of variables and their defaults.
package main

import (
	"log"

	"github.com/aleutianai/debatearena/pkg/config"
	"github.com/aleutianai/debatearena/services/server"
)

func main() {
	cfg := config.Load()

	svc, err := server.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize debatearena: %v", err)
	}

	if err := svc.Run(); err != nil {
		log.Fatalf("debatearena server error: %v", err)
	}
}
