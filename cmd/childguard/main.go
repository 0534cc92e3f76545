// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"os"

	"github.com/AleutianAI/ChildGuard/internal/engineerr"
	"github.com/AleutianAI/ChildGuard/internal/obslog"
)

// Exit codes (spec.md 6): 0 success, 1 config error, 2 asset error,
// 3 unrecoverable provider error, 4 interrupted.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitAssetError   = 2
	exitProviderFail = 3
	exitInterrupted  = 4
)

func main() {
	shutdown, err := obslog.SetupTracing("childguard")
	if err != nil {
		os.Exit(exitProviderFail)
	}
	defer shutdown(context.Background())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	switch engineerr.KindOf(err) {
	case engineerr.KindConfigError:
		return exitConfigError
	case engineerr.KindAssetError:
		return exitAssetError
	case engineerr.KindUnknown:
		return exitProviderFail
	default:
		return exitProviderFail
	}
}
