package framework

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cuemby/pqhost/pkg/protocol"
	"github.com/cuemby/pqhost/pkg/transport"
)

// Handler answers one request. Returning a nil reply leaves the request
// unanswered.
type Handler func(req *protocol.Request) *Reply

// Reply is what the fake worker sends back.
type Reply struct {
	Status         protocol.Status
	Payload        interface{}
	InnerException interface{}
	Error          *protocol.ErrorObject
}

// WorkerOptions configures a FakeWorker.
type WorkerOptions struct {
	// Name is the lock file base name (default PQServiceHost)
	Name string

	// Framer frames messages (default header framing)
	Framer transport.Framer

	// Handlers override the default reply per method
	Handlers map[string]Handler

	// Log receives "<label>:<method>" for every request
	Log *CallLog

	// Label identifies this worker in the log (default the directory)
	Label string
}

// FakeWorker is an in-process stand-in for the worker executable. It listens
// on a loopback port and writes <Name>.pid (the test process pid) and
// <Name>.port into its directory.
type FakeWorker struct {
	Dir  string
	Port int

	opts WorkerOptions
	ln   net.Listener

	mu       sync.Mutex
	conns    map[net.Conn]*sync.Mutex
	requests []*protocol.Request
	silent   atomic.Bool
	closed   atomic.Bool
}

// StartFakeWorker starts a fake worker writing its lock files into dir.
func StartFakeWorker(dir string, opts WorkerOptions) (*FakeWorker, error) {
	if opts.Name == "" {
		opts.Name = "PQServiceHost"
	}
	if opts.Framer == nil {
		opts.Framer = transport.HeaderFramer{}
	}
	if opts.Label == "" {
		opts.Label = dir
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	w := &FakeWorker{
		Dir:   dir,
		Port:  ln.Addr().(*net.TCPAddr).Port,
		opts:  opts,
		ln:    ln,
		conns: make(map[net.Conn]*sync.Mutex),
	}
	if err := w.writeLockFiles(); err != nil {
		ln.Close()
		return nil, err
	}
	go w.acceptLoop()
	return w, nil
}

func (w *FakeWorker) writeLockFiles() error {
	pid := filepath.Join(w.Dir, w.opts.Name+".pid")
	if err := os.WriteFile(pid, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	port := filepath.Join(w.Dir, w.opts.Name+".port")
	if err := os.WriteFile(port, []byte(strconv.Itoa(w.Port)), 0600); err != nil {
		return fmt.Errorf("failed to write port file: %w", err)
	}
	return nil
}

func (w *FakeWorker) acceptLoop() {
	for {
		conn, err := w.ln.Accept()
		if err != nil {
			return
		}
		writeMu := &sync.Mutex{}
		w.mu.Lock()
		w.conns[conn] = writeMu
		w.mu.Unlock()
		go w.serve(conn, writeMu)
	}
}

func (w *FakeWorker) serve(conn net.Conn, writeMu *sync.Mutex) {
	defer func() {
		w.mu.Lock()
		delete(w.conns, conn)
		w.mu.Unlock()
		conn.Close()
	}()

	reader := w.opts.Framer.NewReader(conn)
	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			return
		}
		var req protocol.Request
		if err := json.Unmarshal(frame, &req); err != nil {
			continue
		}
		w.mu.Lock()
		w.requests = append(w.requests, &req)
		w.mu.Unlock()
		if w.opts.Log != nil {
			w.opts.Log.Record(w.opts.Label + ":" + req.Method)
		}

		reply := w.reply(&req)
		if reply == nil {
			continue
		}
		data, err := encodeReply(req.ID, reply)
		if err != nil {
			continue
		}
		writeMu.Lock()
		err = w.opts.Framer.WriteFrame(conn, data)
		writeMu.Unlock()
		if err != nil {
			return
		}

		if req.Method == protocol.MethodForceShutdown {
			w.Close()
			return
		}
	}
}

func (w *FakeWorker) reply(req *protocol.Request) *Reply {
	if w.silent.Load() {
		return nil
	}
	if h, ok := w.opts.Handlers[req.Method]; ok {
		return h(req)
	}
	return &Reply{Status: protocol.StatusSuccess}
}

func encodeReply(id string, r *Reply) ([]byte, error) {
	msg := map[string]interface{}{"id": id}
	if r.Error != nil {
		msg["error"] = r.Error
		return json.Marshal(msg)
	}
	result := map[string]interface{}{"Status": int(r.Status)}
	if r.Payload != nil {
		result["Payload"] = r.Payload
	}
	if r.InnerException != nil {
		result["InnerException"] = r.InnerException
	}
	msg["result"] = result
	return json.Marshal(msg)
}

// Notify pushes an id-less notification to every connected client.
func (w *FakeWorker) Notify(method string, params interface{}) error {
	data, err := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "method": method, "params": params})
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for conn, writeMu := range w.conns {
		writeMu.Lock()
		err := w.opts.Framer.WriteFrame(conn, data)
		writeMu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// SetSilent stops (or resumes) answering requests.
func (w *FakeWorker) SetSilent(silent bool) {
	w.silent.Store(silent)
}

// DropConnections closes every client connection but keeps listening.
func (w *FakeWorker) DropConnections() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for conn := range w.conns {
		conn.Close()
	}
}

// Requests returns every request received so far.
func (w *FakeWorker) Requests() []*protocol.Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*protocol.Request(nil), w.requests...)
}

// RequestCount returns how many requests for method were received.
func (w *FakeWorker) RequestCount(method string) int {
	n := 0
	for _, req := range w.Requests() {
		if req.Method == method {
			n++
		}
	}
	return n
}

// Close stops listening, drops clients and removes the port file, like a
// worker process exiting.
func (w *FakeWorker) Close() {
	if !w.closed.CompareAndSwap(false, true) {
		return
	}
	w.ln.Close()
	w.DropConnections()
	_ = os.Remove(filepath.Join(w.Dir, w.opts.Name+".port"))
}

// Closed reports whether the worker was shut down.
func (w *FakeWorker) Closed() bool {
	return w.closed.Load()
}
