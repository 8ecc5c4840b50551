// Package cli provides shared utilities for the isearch command-line tool.
//
// This package includes:
//   - Configuration management (daemon contexts, kubectl-style)
//   - Output formatting (YAML, JSON, raw)
//   - Request file loading (YAML/JSON)
//   - Styled terminal output
//
// Configuration is stored in ~/.isearch/config.yaml; each context names a
// daemon by data directory and bind address.
package cli
