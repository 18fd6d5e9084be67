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
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pointAt aims the client globals at a stub gateway for one test.
func pointAt(t *testing.T, url string) {
	t.Helper()
	savedURL, savedJSON := serverURL, jsonOutput
	serverURL = url
	jsonOutput = false
	t.Cleanup(func() { serverURL, jsonOutput = savedURL, savedJSON })
}

func TestDebugGet_DecodesReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/debug/health", r.URL.Path)
		w.Write([]byte(`{"status":"ok","default_backend":"local"}`))
	}))
	defer srv.Close()
	pointAt(t, srv.URL+"/") // trailing slash is trimmed

	var reply struct {
		Status         string `json:"status"`
		DefaultBackend string `json:"default_backend"`
	}
	require.NoError(t, debugGet("/debug/health", &reply))
	assert.Equal(t, "ok", reply.Status)
	assert.Equal(t, "local", reply.DefaultBackend)
}

func TestDebugPost_SendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		raw, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"backend":"coder"}`, string(raw))
		w.Write([]byte(`{"default_backend":"coder"}`))
	}))
	defer srv.Close()
	pointAt(t, srv.URL)

	require.NoError(t, debugPost("/debug/switch", map[string]string{"backend": "coder"}, nil))
}

func TestDebugCall_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"unknown backend \"ghost\""}`))
	}))
	defer srv.Close()
	pointAt(t, srv.URL)

	err := debugPost("/debug/switch", map[string]string{"backend": "ghost"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway returned 404")
	assert.Contains(t, err.Error(), "ghost")
}

func TestDebugCall_UnreachableGateway(t *testing.T) {
	pointAt(t, "http://127.0.0.1:1")

	err := debugGet("/debug/health", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is the gateway running at")
}

func TestDebugCall_MalformedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()
	pointAt(t, srv.URL)

	var reply struct{}
	err := debugGet("/debug/health", &reply)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding response")
}

func TestDebugCall_JSONOutputPrintsRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"raw":true}`))
	}))
	defer srv.Close()
	pointAt(t, srv.URL)
	jsonOutput = true

	rd, wr, err := os.Pipe()
	require.NoError(t, err)
	saved := os.Stdout
	os.Stdout = wr
	defer func() { os.Stdout = saved }()

	var reply struct {
		Raw bool `json:"raw"`
	}
	callErr := debugGet("/debug/health", &reply)
	wr.Close()
	os.Stdout = saved

	require.NoError(t, callErr)
	out, err := io.ReadAll(rd)
	require.NoError(t, err)
	assert.Equal(t, "{\"raw\":true}\n", string(out))

	// Raw mode skips decoding entirely.
	assert.False(t, reply.Raw)
}
