package main

import (
	"io"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func TestServeDrainsOnStop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	entered := make(chan struct{})
	var finished int32
	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte("done"))
		atomic.StoreInt32(&finished, 1)
	})}

	stop := make(chan os.Signal, 1)
	served := make(chan error, 1)
	go func() { served <- serve(server, ln, stop, 5*time.Second) }()

	body := make(chan string, 1)
	go func() {
		res, err := http.Get("http://" + ln.Addr().String() + "/")
		if err != nil {
			body <- err.Error()
			return
		}
		defer res.Body.Close()
		b, _ := io.ReadAll(res.Body)
		body <- string(b)
	}()

	<-entered
	stop <- os.Interrupt
	if err := <-served; err != nil {
		t.Fatalf("serve returned %v", err)
	}
	if atomic.LoadInt32(&finished) != 1 {
		t.Fatal("serve returned before the open request finished")
	}
	if got := <-body; got != "done" {
		t.Fatalf("Body is %s", got)
	}
}

func TestServeReportsShutdownTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	})}

	stop := make(chan os.Signal, 1)
	served := make(chan error, 1)
	go func() { served <- serve(server, ln, stop, 10*time.Millisecond) }()
	go http.Get("http://" + ln.Addr().String() + "/")

	<-entered
	stop <- os.Interrupt
	if err := <-served; err == nil {
		t.Fatal("Expected shutdown error")
	}
}
