// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command assist runs single chat turns against the local pipeline and
// prints stored conversation history.
//
// # Usage
//
//	assist ask "When is the next board meeting?"
//	assist ask --session 3f2c... "And where?"
//	assist history --session 3f2c... --limit 10
//
// Configuration lives in ~/.aleutian/assist.yaml, created on first run.
// The server's environment keys (LLM_BACKEND_TYPE, KNOWLEDGE_BASE_ID, ...)
// override the file.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}
