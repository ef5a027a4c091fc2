package testutil

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// CreateTestZip writes a zip archive holding the given entries and returns
// its path. Entry names ending in "/" become directories. Names are written
// verbatim, so hostile paths can be used to exercise extraction guards.
func CreateTestZip(t *testing.T, dir, name string, entries map[string]string) string {
	t.Helper()
	filePath := filepath.Join(dir, name)
	if err := os.WriteFile(filePath, ZipBytes(t, entries), 0644); err != nil {
		t.Fatalf("Failed to write test zip: %v", err)
	}
	return filePath
}

// ZipBytes builds a zip archive in memory.
func ZipBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, n := range names {
		w, err := zw.Create(n)
		if err != nil {
			t.Fatalf("Failed to create entry '%s' in zip: %v", n, err)
		}
		if _, err := w.Write([]byte(entries[n])); err != nil {
			t.Fatalf("Failed to write entry '%s': %v", n, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to finish zip: %v", err)
	}
	return buf.Bytes()
}

// PluginHeader returns a main plugin file with a standard header block.
func PluginHeader(name, version string) string {
	return fmt.Sprintf(`<?php
/**
 * Plugin Name: %s
 * Plugin URI: https://github.com/Watson-Creative/wc-tracking-code-injector
 * Description: Injects tracking code.
 * Version: %s
 * Author: Watson Creative
 * Requires at least: 6.0
 * Tested up to: 6.5
 */
`, name, version)
}

// WritePlugin creates <pluginsDir>/<slug> with a plugin header.
func WritePlugin(t *testing.T, pluginsDir, slug, name, version string) string {
	t.Helper()
	target := filepath.Join(pluginsDir, filepath.FromSlash(slug))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		t.Fatalf("Failed to create plugin folder: %v", err)
	}
	if err := os.WriteFile(target, []byte(PluginHeader(name, version)), 0644); err != nil {
		t.Fatalf("Failed to write plugin file: %v", err)
	}
	return target
}
