package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"
)

// A stand-in for llama-server. FAKE_ENGINE_MODE selects behaviour:
// "ok" (default), "load-fail" or "arch". FAKE_ENGINE_DELAY_MS delays health.
func main() {
	var model, mmproj, host, port string
	var threads, ctx, batch, ngl int
	flag.StringVar(&model, "m", "", "model path")
	flag.StringVar(&mmproj, "mmproj", "", "projector path")
	flag.StringVar(&host, "host", "127.0.0.1", "host")
	flag.StringVar(&port, "port", "0", "port")
	flag.IntVar(&threads, "t", 0, "threads")
	flag.IntVar(&ctx, "c", 0, "context")
	flag.IntVar(&batch, "b", 0, "batch")
	flag.IntVar(&ngl, "ngl", -1, "gpu layers")
	flag.Parse()

	switch os.Getenv("FAKE_ENGINE_MODE") {
	case "load-fail":
		fmt.Fprintln(os.Stderr, "llama_model_load: error loading model: corrupt tensor data")
		fmt.Fprintln(os.Stderr, "E main: failed to load model: corrupt")
		time.Sleep(50 * time.Millisecond)
		os.Exit(1)
	case "arch":
		fmt.Fprintln(os.Stderr, "llama_model_load: error loading model: unknown model architecture: 'fake9'")
		os.Exit(1)
	}

	delay, _ := strconv.Atoi(os.Getenv("FAKE_ENGINE_DELAY_MS"))
	readyAt := time.Now().Add(time.Duration(delay) * time.Millisecond)
	var served atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if time.Now().Before(readyAt) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"Loading model"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{
				"id":         model,
				"modalities": map[string]bool{"vision": mmproj != "", "audio": false},
			}},
		})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]string{"role": "assistant", "content": `Sure: {"label":"invoice","n":` + strconv.FormatInt(served.Load(), 10) + `}`},
				"finish_reason": "stop",
			}},
		})
	})

	srv := &http.Server{Addr: net.JoinHostPort(host, port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()
	fmt.Printf("main: server is listening on http://%s:%s (threads=%d ctx=%d batch=%d ngl=%d)\n", host, port, threads, ctx, batch, ngl)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
}
