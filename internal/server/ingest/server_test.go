package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slashbin/internal/server/config"
	"slashbin/internal/server/idgen"
	"slashbin/internal/server/ratelimit"
	"slashbin/internal/server/service"
	"slashbin/internal/server/storage"
)

// --- Test helpers ---

type fakeCreator struct {
	mu     sync.Mutex
	calls  atomic.Int32
	bodies [][]byte
	delay  time.Duration
	err    error
}

func (c *fakeCreator) CreateObject(_ context.Context, _ string, r io.Reader, filename string, ttlDays int) (*service.UploadResult, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	data, _ := io.ReadAll(r)
	c.mu.Lock()
	c.bodies = append(c.bodies, data)
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return &service.UploadResult{ID: "abcd", URL: "http://paste.test/abcd", Filename: filename, TTLDays: ttlDays}, nil
}

func (c *fakeCreator) body(i int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.bodies[i])
}

type allowAll struct{}

func (allowAll) Admit(context.Context, string) bool { return true }

func testConfig() Config {
	return Config{
		SizeCap:          1024,
		Inactivity:       20 * time.Millisecond,
		FirstByteTimeout: 2 * time.Second,
		TTLDays:          7,
		WriteTimeout:     time.Second,
	}
}

// pipeSession runs Handle on one end of a pipe and returns the other end
// plus a channel carrying the outcome.
func pipeSession(t *testing.T, srv *Server) (net.Conn, <-chan Outcome) {
	t.Helper()
	client, server := net.Pipe()
	out := make(chan Outcome, 1)
	go func() { out <- srv.Handle(context.Background(), server) }()
	t.Cleanup(func() { client.Close() })
	return client, out
}

func waitOutcome(t *testing.T, out <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-out:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("connection did not finish")
		return ""
	}
}

// --- Protocol ---

func TestHandle_InactivityFinalizes(t *testing.T) {
	creator := &fakeCreator{}
	srv := NewServer(testConfig(), allowAll{}, creator)
	client, out := pipeSession(t, srv)

	go client.Write([]byte("0123456789"))

	reply, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Equal(t, "http://paste.test/abcd (expires in 7 days)\n", string(reply))
	assert.Equal(t, OutcomeCreated, waitOutcome(t, out))
	assert.Equal(t, int32(1), creator.calls.Load())
	assert.Equal(t, "0123456789", creator.body(0))
}

func TestHandle_MultipleChunksAccumulate(t *testing.T) {
	creator := &fakeCreator{}
	cfg := testConfig()
	cfg.Inactivity = 200 * time.Millisecond
	srv := NewServer(cfg, allowAll{}, creator)
	client, out := pipeSession(t, srv)

	go func() {
		for _, part := range []string{"line one\n", "line two\n", "line three\n"} {
			client.Write([]byte(part))
			time.Sleep(20 * time.Millisecond)
		}
	}()

	_, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, waitOutcome(t, out))
	assert.Equal(t, "line one\nline two\nline three\n", creator.body(0))
}

func TestHandle_EndMarkers(t *testing.T) {
	for name, marker := range map[string]byte{"EOT": EOT, "SUB": SUB} {
		t.Run(name, func(t *testing.T) {
			creator := &fakeCreator{}
			cfg := testConfig()
			cfg.Inactivity = time.Hour
			srv := NewServer(cfg, allowAll{}, creator)
			client, out := pipeSession(t, srv)

			go client.Write(append([]byte("hello"), marker, 'x', 'y'))

			reply, err := io.ReadAll(client)
			require.NoError(t, err)
			assert.Contains(t, string(reply), "http://paste.test/abcd")
			assert.Equal(t, OutcomeCreated, waitOutcome(t, out))
			assert.Equal(t, "hello", creator.body(0))
		})
	}

	t.Run("marker alone creates nothing", func(t *testing.T) {
		creator := &fakeCreator{}
		srv := NewServer(testConfig(), allowAll{}, creator)
		client, out := pipeSession(t, srv)

		go client.Write([]byte{EOT})

		io.ReadAll(client)
		assert.Equal(t, OutcomeEmpty, waitOutcome(t, out))
		assert.Zero(t, creator.calls.Load())
	})
}

func TestHandle_EOFFinalizes(t *testing.T) {
	creator := &fakeCreator{}
	cfg := testConfig()
	cfg.Inactivity = time.Hour
	srv := NewServer(cfg, allowAll{}, creator)
	client, out := pipeSession(t, srv)

	client.Write([]byte("closing now"))
	client.Close()

	assert.Equal(t, OutcomeCreated, waitOutcome(t, out))
	assert.Equal(t, "closing now", creator.body(0))
}

func TestHandle_EmptyConnection(t *testing.T) {
	creator := &fakeCreator{}
	srv := NewServer(testConfig(), allowAll{}, creator)
	client, out := pipeSession(t, srv)

	client.Close()

	assert.Equal(t, OutcomeEmpty, waitOutcome(t, out))
	assert.Zero(t, creator.calls.Load())
}

func TestHandle_FirstByteTimeout(t *testing.T) {
	creator := &fakeCreator{}
	cfg := testConfig()
	cfg.FirstByteTimeout = 30 * time.Millisecond
	srv := NewServer(cfg, allowAll{}, creator)
	client, out := pipeSession(t, srv)

	reply, _ := io.ReadAll(client)
	assert.Empty(t, reply)
	assert.Equal(t, OutcomeIdle, waitOutcome(t, out))
	assert.Zero(t, creator.calls.Load())
}

func TestHandle_SizeCap(t *testing.T) {
	creator := &fakeCreator{}
	cfg := testConfig()
	cfg.SizeCap = 16
	srv := NewServer(cfg, allowAll{}, creator)
	client, out := pipeSession(t, srv)

	go client.Write(bytes.Repeat([]byte("a"), 32))

	reply, _ := io.ReadAll(client)
	assert.Equal(t, MsgTooLarge, string(reply))
	assert.Equal(t, OutcomeTooLarge, waitOutcome(t, out))
	assert.Zero(t, creator.calls.Load())
}

func TestHandle_SizeCapAcrossChunks(t *testing.T) {
	creator := &fakeCreator{}
	cfg := testConfig()
	cfg.SizeCap = 16
	cfg.Inactivity = time.Second
	srv := NewServer(cfg, allowAll{}, creator)
	client, out := pipeSession(t, srv)

	go func() {
		client.Write([]byte("0123456789"))
		client.Write([]byte("0123456789"))
	}()

	reply, _ := io.ReadAll(client)
	assert.Equal(t, MsgTooLarge, string(reply))
	assert.Equal(t, OutcomeTooLarge, waitOutcome(t, out))
	assert.Zero(t, creator.calls.Load())
}

func TestHandle_RateLimited(t *testing.T) {
	creator := &fakeCreator{}
	limiter := ratelimit.New(1, time.Hour)
	srv := NewServer(testConfig(), limiter, creator)

	first, out := pipeSession(t, srv)
	go first.Write([]byte("ok"))
	io.ReadAll(first)
	require.Equal(t, OutcomeCreated, waitOutcome(t, out))

	second, out := pipeSession(t, srv)
	reply, _ := io.ReadAll(second)
	assert.Equal(t, MsgRateLimited, string(reply))
	assert.Equal(t, OutcomeRateLimited, waitOutcome(t, out))
	assert.Equal(t, int32(1), creator.calls.Load())
}

func TestHandle_StoreFailure(t *testing.T) {
	creator := &fakeCreator{err: errors.New("disk on fire")}
	srv := NewServer(testConfig(), allowAll{}, creator)
	client, out := pipeSession(t, srv)

	go client.Write([]byte("data"))

	reply, _ := io.ReadAll(client)
	assert.Equal(t, MsgServerError, string(reply))
	assert.Equal(t, OutcomeFailed, waitOutcome(t, out))
}

func TestHandle_StripsANSI(t *testing.T) {
	creator := &fakeCreator{}
	srv := NewServer(testConfig(), allowAll{}, creator)
	client, out := pipeSession(t, srv)

	go client.Write([]byte("\x1b[1;31merror\x1b[0m: build failed\n"))

	io.ReadAll(client)
	require.Equal(t, OutcomeCreated, waitOutcome(t, out))
	assert.Equal(t, "error: build failed\n", creator.body(0))
}

// --- Finalize once ---

func TestHandle_EOFRacesInactivityTimer(t *testing.T) {
	for i := 0; i < 50; i++ {
		creator := &fakeCreator{}
		cfg := testConfig()
		cfg.Inactivity = time.Millisecond
		srv := NewServer(cfg, allowAll{}, creator)
		client, out := pipeSession(t, srv)

		client.Write([]byte("0123456789"))
		client.Close()

		waitOutcome(t, out)
		require.Equal(t, int32(1), creator.calls.Load(), "iteration %d", i)
	}
}

func TestSession_FinalizeOnce(t *testing.T) {
	creator := &fakeCreator{delay: 10 * time.Millisecond}
	srv := NewServer(testConfig(), allowAll{}, creator)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go io.Copy(io.Discard, client)

	sess := newSession(srv, server)
	sess.buf.WriteString("payload")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.finalize(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), creator.calls.Load())
	assert.Equal(t, StateDone, sess.State())
}

// --- Listener ---

func TestServe_EndToEnd(t *testing.T) {
	fs := storage.NewFileSystemStore(t.TempDir())
	require.NoError(t, fs.EnsureDir())
	store := storage.NewStore(fs, idgen.New(), storage.Options{MaxExpiryDays: 14, IDLength: 4})
	svc := service.NewUploadService(store, nil, &config.Config{
		BaseURL:            "http://paste.test",
		DefaultExpiryDays:  7,
		MaxCollectionFiles: 20,
	})

	cfg := testConfig()
	cfg.Inactivity = 100 * time.Millisecond
	srv := NewServer(cfg, ratelimit.New(100, time.Hour), svc)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	start := time.Now()
	_, err = conn.Write([]byte("ten bytes!"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.True(t, time.Since(start) >= 100*time.Millisecond, "replied before the inactivity delay")
	assert.True(t, strings.HasPrefix(line, "http://paste.test/"), line)
	assert.True(t, strings.HasSuffix(line, " (expires in 7 days)\n"), line)

	id := strings.TrimPrefix(strings.Fields(line)[0], "http://paste.test/")
	obj, data, err := store.ReadObject(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "ten bytes!", string(data))
	assert.Equal(t, 7, obj.TTLDays)
	assert.Equal(t, PasteFilename, obj.OriginalName)

	ids, err := fs.List()
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_TooLargeClosesCleanly(t *testing.T) {
	creator := &fakeCreator{}
	cfg := testConfig()
	cfg.SizeCap = 256 << 10
	cfg.Inactivity = time.Second
	srv := NewServer(cfg, allowAll{}, creator)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-served
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(bytes.Repeat([]byte("a"), 2*int(cfg.SizeCap)))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	reply, err := io.ReadAll(conn)
	require.NoError(t, err, "connection was reset instead of closed")
	assert.Equal(t, MsgTooLarge, string(reply))
	assert.Zero(t, creator.calls.Load())
}

func TestRemoteHost(t *testing.T) {
	assert.Equal(t, "10.1.2.3", remoteHost(&net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 5555}))
	assert.Equal(t, "::1", remoteHost(&net.TCPAddr{IP: net.ParseIP("::1"), Port: 1}))
	assert.Equal(t, "unknown", remoteHost(nil))
}

func TestStripANSI(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain text untouched", "hello world\n", "hello world\n"},
		{"sgr colours", "\x1b[32mok\x1b[0m", "ok"},
		{"cursor movement", "a\x1b[2Kb\x1b[1A", "ab"},
		{"osc title", "\x1b]0;title\x07text", "text"},
		{"osc with st", "\x1b]8;;http://x\x1b\\link", "link"},
		{"utf8 kept", "héllo ✓", "héllo ✓"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(StripANSI([]byte(tt.in))))
		})
	}
}

func TestCutAtMarker(t *testing.T) {
	got, ok := cutAtMarker([]byte("abc"))
	assert.False(t, ok)
	assert.Equal(t, "abc", string(got))

	got, ok = cutAtMarker([]byte("ab\x1acd\x04"))
	assert.True(t, ok)
	assert.Equal(t, "ab", string(got))
}
