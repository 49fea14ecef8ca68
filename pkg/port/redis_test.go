package port

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nobletooth/arbor/pkg/store"
	"github.com/nobletooth/arbor/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) *redisHandler {
	t.Helper()
	ks, err := store.NewKeyspace()
	require.NoError(t, err)
	rh, err := newRedisHandler(ks)
	require.NoError(t, err)
	return rh
}

// run executes a command written the way a redis-cli user would type it.
func run(rh *redisHandler, line string) redisOutput {
	fields := strings.Fields(line)
	return rh.handle(redisCommand{command: fields[0], args: fields[1:]})
}

func errorOf(t *testing.T, output redisOutput) string {
	t.Helper()
	require.NotNil(t, output.err, "expected an error output, got %+v", output)
	return *output.err
}

type handlerCase struct {
	command  string
	expected redisOutput
}

func runCases(t *testing.T, rh *redisHandler, cases []handlerCase) {
	t.Helper()
	for _, tc := range cases {
		assert.Equal(t, tc.expected, run(rh, tc.command), tc.command)
	}
}

func TestNewRedisHandler(t *testing.T) {
	_, err := newRedisHandler(nil)
	assert.Error(t, err)
}

func TestRedisHandler_Generic(t *testing.T) {
	rh := newTestHandler(t)
	runCases(t, rh, []handlerCase{
		{"PING", writeRedisString("PONG")},
		{"ping hello", writeRedisBulk("hello")},
		{"QUIT", closeRedisConnection(RedisOk)},
		{"RPUSH user:1 a", writeRedisInt(1)},
		{"RPUSH user:2 b", writeRedisInt(1)},
		{"TNEW scores 7", writeRedisString(RedisOk)},
		{"TYPE user:1", writeRedisString("list")},
		{"TYPE scores", writeRedisString("tree")},
		{"TYPE nope", writeRedisString("none")},
		{"KEYS *", writeRedisArray([]string{"scores", "user:1", "user:2"})},
		{"KEYS user:*", writeRedisArray([]string{"user:1", "user:2"})},
		{"KEYS nothing*", writeRedisArray(nil)},
		{"EXISTS user:1 scores nope", writeRedisInt(2)},
		{"DEL user:1 scores nope", writeRedisInt(2)},
		{"EXISTS user:1", writeRedisInt(0)},
	})

	assert.Equal(t, "ERR unknown command 'FLY'", errorOf(t, run(rh, "FLY")))
	assert.Equal(t, "ERR wrong number of arguments for 'llen' command", errorOf(t, run(rh, "LLEN")))
	assert.Equal(t, "ERR wrong number of arguments for 'ping' command", errorOf(t, run(rh, "PING a b")))
}

func TestRedisHandler_Lists(t *testing.T) {
	rh := newTestHandler(t)
	runCases(t, rh, []handlerCase{
		{"RPUSH l a b c", writeRedisInt(3)},
		{"LINSERTAT l 1 x", writeRedisInt(4)},
		{"LRANGE l 0 -1", writeRedisArray([]string{"a", "x", "b", "c"})},
		{"LINDEX l -1", writeRedisBulk("c")},
		{"LINDEX l 10", writeRedisNil()},
		{"LINDEX missing 0", writeRedisNil()},
		{"LLEN l", writeRedisInt(4)},
		{"LLEN missing", writeRedisInt(0)},
		{"LPOS l b", writeRedisInt(2)},
		{"LPOS l z", writeRedisNil()},
		{"LCONTAINS l x", writeRedisInt(1)},
		{"LCONTAINS l z", writeRedisInt(0)},
		{"LRANGE l -2 100", writeRedisArray([]string{"b", "c"})},
		{"LRANGE l -100 0", writeRedisArray([]string{"a"})},
		{"LRANGE l 3 1", writeRedisArray(nil)},
		{"LRANGE missing 0 -1", writeRedisArray(nil)},
		{"LSLICE l 1 3", writeRedisArray([]string{"x", "b"})},
		{"LSLICE l -3 -1", writeRedisArray([]string{"x", "b"})},
		{"LSLICE l 2 1", writeRedisArray(nil)},
		{"LREPR l", writeRedisBulk("[a, x, b, c]")},
		{"LREPR missing", writeRedisBulk("[]")},
		{"LPOP l", writeRedisBulk("a")},
		{"RPOP l", writeRedisBulk("c")},
		{"LPOPAT l -2", writeRedisBulk("x")},
		{"RPOP l", writeRedisBulk("b")},
		{"TYPE l", writeRedisString("none")},
		{"RPOP l", writeRedisNil()},
		{"LPOP l", writeRedisNil()},
	})

	t.Run("errors", func(t *testing.T) {
		run(rh, "RPUSH e a")
		assert.Contains(t, errorOf(t, run(rh, "LSLICE e 0 9")), "index out of range")
		assert.Contains(t, errorOf(t, run(rh, "LPOPAT e 5")), "index out of range")
		assert.Contains(t, errorOf(t, run(rh, "LINDEX e one")), "not an integer")
		assert.Contains(t, errorOf(t, run(rh, "LINSERTAT e one x")), "not an integer")
	})
}

func TestRedisHandler_ListArithmetic(t *testing.T) {
	rh := newTestHandler(t)
	runCases(t, rh, []handlerCase{
		{"RPUSH a 1 2", writeRedisInt(2)},
		{"LCOPY a b", writeRedisInt(1)},
		{"LCOPY missing c", writeRedisInt(0)},
		{"RPUSH b 3", writeRedisInt(3)},
		{"LRANGE a 0 -1", writeRedisArray([]string{"1", "2"})}, // The copy is independent.
		{"LCONCAT c a b missing", writeRedisInt(5)},
		{"LRANGE c 0 -1", writeRedisArray([]string{"1", "2", "1", "2", "3"})},
		{"LREPEAT d a 3", writeRedisInt(6)},
		{"LRANGE d 0 -1", writeRedisArray([]string{"1", "2", "1", "2", "1", "2"})},
		{"LREPEAT d a 0", writeRedisInt(0)},
		{"EXISTS d", writeRedisInt(0)},
		{"LCLEAR c", writeRedisInt(1)},
		{"LCLEAR c", writeRedisInt(0)},
		{"EXISTS c", writeRedisInt(0)},
	})
	assert.Contains(t, errorOf(t, run(rh, "LREPEAT d a -1")), "must not be negative")
}

func TestRedisHandler_MaxListLength(t *testing.T) {
	utils.SetTestFlag(t, "max_list_length", "5")
	rh := newTestHandler(t)
	runCases(t, rh, []handlerCase{
		{"RPUSH a 1 2 3", writeRedisInt(3)},
		{"RPUSH b 4 5", writeRedisInt(2)},
		{"LCONCAT c a b", writeRedisInt(5)},
		{"LREPEAT d b 2", writeRedisInt(4)},
		{"LREPEAT e missing 5", writeRedisInt(0)},
	})

	for _, command := range []string{
		"RPUSH c 6",           // Grows an existing list.
		"RPUSH f 1 2 3 4 5 6", // Creates a list.
		"LINSERTAT c 0 x",
		"LCONCAT g a b a",
		"LREPEAT g a 2",                         // 2 * 3 values.
		"LREPEAT g b 6",                         // More copies than values allowed.
		"LREPEAT g missing 9223372036854775807", // Would overflow.
	} {
		assert.Contains(t, errorOf(t, run(rh, command)), "maximum length", command)
	}
	runCases(t, rh, []handlerCase{
		{"LRANGE c 0 -1", writeRedisArray([]string{"1", "2", "3", "4", "5"})},
		{"EXISTS f g", writeRedisInt(0)},
	})
	assert.Contains(t, errorOf(t, run(rh, "LREPEAT g a -1")), "must not be negative")
}

func TestRedisHandler_Trees(t *testing.T) {
	rh := newTestHandler(t)
	runCases(t, rh, []handlerCase{
		{"TNEW t 5 3 8 3 9", writeRedisString(RedisOk)},
		{"TSIZE t", writeRedisInt(5)},
		{"THEIGHT t", writeRedisInt(3)},
		{"TSAPLING t", writeRedisInt(0)},
		{"TINORDER t", writeRedisBulk(".|.|.3.|.3.5.|.8.|.9.")},
		{"TPREORDER t", writeRedisBulk(".|5.|3..|3...|8..|9..")},
		{"TPOSTORDER t", writeRedisBulk(".|.|..|..33.|..|..985")},
		{"TRENDER t", writeRedisBulk("5\n\t3\n\t\t3\n\t8\n\t\t9\n")},
		{"TINFO t", writeRedisBulk("BinarySearchTree(root 5, size 5, height 3)")},
		{"TCONTAINS t 9", writeRedisInt(1)},
		{"TCONTAINS t 4", writeRedisInt(0)},
		{"TINSERT t 1 4", writeRedisInt(7)},
		{"TNEW s 4", writeRedisString(RedisOk)},
		{"TSAPLING s", writeRedisInt(1)},
		{"TINSERT s 10", writeRedisInt(2)},
		{"TUNION t s", writeRedisArray([]string{"1", "3", "4", "5", "8", "9", "10"})},
		{"TNEW t -1", writeRedisString(RedisOk)}, // Replaces the tree.
		{"TSIZE t", writeRedisInt(1)},
	})

	assert.Contains(t, errorOf(t, run(rh, "TNEW bad x")), "not an integer")
	assert.Contains(t, errorOf(t, run(rh, "TINSERT s 1.5")), "not an integer")
	assert.Contains(t, errorOf(t, run(rh, "TSIZE missing")), "was not found")
	assert.Contains(t, errorOf(t, run(rh, "TUNION t missing")), "was not found")
}

func TestRedisHandler_WrongType(t *testing.T) {
	rh := newTestHandler(t)
	run(rh, "RPUSH l a")
	run(rh, "TNEW t 1")
	for _, command := range []string{"RPUSH t x", "LLEN t", "RPOP t", "LCOPY t x", "TSIZE l", "TINSERT l 1", "TUNION t l"} {
		assert.True(t, strings.HasPrefix(errorOf(t, run(rh, command)), "WRONGTYPE "), command)
	}
}

func TestRedisHandler_CommandsMetric(t *testing.T) {
	rh := newTestHandler(t)
	pingOk := commandsMetric.WithLabelValues("PING", "ok")
	llenErr := commandsMetric.WithLabelValues("LLEN", "error")
	unknown := commandsMetric.WithLabelValues("unknown", "error")
	pingBefore, llenBefore, unknownBefore :=
		utils.GetCounterValue(pingOk), utils.GetCounterValue(llenErr), utils.GetCounterValue(unknown)

	run(rh, "ping")
	run(rh, "LLEN")
	run(rh, "FLY away")

	assert.Equal(t, pingBefore+1, utils.GetCounterValue(pingOk))
	assert.Equal(t, llenBefore+1, utils.GetCounterValue(llenErr))
	assert.Equal(t, unknownBefore+1, utils.GetCounterValue(unknown))
}

func TestRunRedisServer_EmptyAddress(t *testing.T) {
	utils.SetTestFlag(t, "address", "")
	ks, err := store.NewKeyspace()
	require.NoError(t, err)
	assert.Error(t, RunRedisServer(context.Background(), ks))
}

// respCommand encodes `args` as a RESP array of bulk strings.
func respCommand(args ...string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*%d\r\n", len(args))
	for _, arg := range args {
		fmt.Fprintf(&sb, "$%d\r\n%s\r\n", len(arg), arg)
	}
	return sb.String()
}

// startTestServer runs a Redis server on a random local port until the test ends.
func startTestServer(t *testing.T, ctx context.Context) (net.Addr, <-chan error) {
	t.Helper()
	ks, err := store.NewKeyspace()
	require.NoError(t, err)
	addrSignal := make(chan net.Addr, 1)
	runErr := make(chan error, 1)
	go func() {
		runErr <- runRedisServer(ctx, ks, "127.0.0.1:0", func(addr net.Addr) { addrSignal <- addr })
	}()
	select {
	case addr := <-addrSignal:
		return addr, runErr
	case err := <-runErr:
		require.FailNow(t, "redis server exited before listening", "error: %v", err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "redis server did not start listening")
	}
	return nil, nil
}

func TestRunRedisServer_Protocol(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, runErr := startTestServer(t, ctx)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	for _, exchange := range []struct {
		args     []string
		expected string
	}{
		{[]string{"PING"}, "+PONG\r\n"},
		{[]string{"RPUSH", "l", "a", "b"}, ":2\r\n"},
		{[]string{"LRANGE", "l", "0", "-1"}, "*2\r\n$1\r\na\r\n$1\r\nb\r\n"},
		{[]string{"LINDEX", "l", "1"}, "$1\r\nb\r\n"},
		{[]string{"LPOS", "l", "z"}, "$-1\r\n"},
		{[]string{"KEYS", "*"}, "*1\r\n$1\r\nl\r\n"},
		{[]string{"FLY"}, "-ERR unknown command 'FLY'\r\n"},
		{[]string{"QUIT"}, "+OK\r\n"},
	} {
		_, err := io.WriteString(conn, respCommand(exchange.args...))
		require.NoError(t, err, exchange.args)
		reply := make([]byte, len(exchange.expected))
		_, err = io.ReadFull(conn, reply)
		require.NoError(t, err, exchange.args)
		assert.Equal(t, exchange.expected, string(reply), exchange.args)
	}
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF) // QUIT closes the connection.

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		assert.Fail(t, "redis server did not stop after cancellation")
	}
}

func TestRunRedisServer_CancelledBeforeListening(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ks, err := store.NewKeyspace()
	require.NoError(t, err)
	assert.NoError(t, runRedisServer(ctx, ks, "127.0.0.1:0", nil /*ready*/))
}

func TestRunRedisServer_AddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	ks, err := store.NewKeyspace()
	require.NoError(t, err)
	err = runRedisServer(context.Background(), ks, ln.Addr().String(), nil /*ready*/)
	assert.ErrorContains(t, err, "failed to listen")
}

func TestMetricsRouter(t *testing.T) {
	router := newMetricsRouter()
	rh := newTestHandler(t)
	run(rh, "PING")

	t.Run("healthz", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, recorder.Code)
		assert.Equal(t, RedisOk, recorder.Body.String())
	})
	t.Run("metrics", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, recorder.Code)
		assert.Contains(t, recorder.Body.String(), "commands_total")
	})
	t.Run("wrong_method", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/metrics", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
	})
}

func TestRunMetricsServer_Disabled(t *testing.T) {
	utils.SetTestFlag(t, "metrics_address", "")
	assert.NoError(t, RunMetricsServer(context.Background()))
}
