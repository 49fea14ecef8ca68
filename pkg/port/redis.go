package port

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/nobletooth/arbor/pkg/list"
	"github.com/nobletooth/arbor/pkg/scan"
	"github.com/nobletooth/arbor/pkg/store"
	"github.com/nobletooth/arbor/pkg/tree"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidwall/redcon"
)

const RedisOk = "OK"

var (
	address       = flag.String("address", ":6380", "The ip:port to listen on for Redis protocol.")
	maxListLength = flag.Int("max_list_length", 4096,
		"The maximum number of values a list may hold; commands that would grow a list past it fail.")

	commandsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commands_total",
		Help: "Total number of handled Redis commands.",
	}, []string{"command", "status" /* ok | error */})
)

var (
	errSyntax      = errors.New("value is not an integer or out of range")
	errListTooLong = errors.New("list would exceed the maximum length")
)

// checkListLength fails when a list would hold more than --max_list_length values.
func checkListLength(length int) error {
	if length > *maxListLength {
		return fmt.Errorf("%w: %d > %d", errListTooLong, length, *maxListLength)
	}
	return nil
}

// redisCommand represents a Redis command with its arguments.
type redisCommand struct {
	command string
	args    []string
}

// redisOutput conforms to a real Redis server output on non pub / sub commands.
type redisOutput struct {
	closeConnection bool     // Closes the connection if true.
	writeNil        bool     // Writes a nil value if true.
	err             *string  // Error to return if set.
	writeInt        *int     // Writes an integer value if set.
	writeBulk       *string  // Writes a bulk string if set.
	isArray         bool     // Writes `writeArray` as an array of bulk strings if true.
	writeArray      []string // Elements of the array reply.
	writeString     string   // Writes a simple string otherwise.
}

func closeRedisConnection(msg string) redisOutput {
	return redisOutput{writeString: msg, closeConnection: true}
}

func writeRedisNil() redisOutput {
	return redisOutput{writeNil: true}
}

func writeRedisInt(i int) redisOutput {
	return redisOutput{writeInt: &i}
}

func writeRedisBool(b bool) redisOutput {
	if b {
		return writeRedisInt(1)
	}
	return writeRedisInt(0)
}

func writeRedisString(s string) redisOutput {
	return redisOutput{writeString: s}
}

func writeRedisBulk(s string) redisOutput {
	return redisOutput{writeBulk: &s}
}

func writeRedisArray(elements []string) redisOutput {
	if elements == nil {
		elements = []string{}
	}
	return redisOutput{isArray: true, writeArray: elements}
}

func writeRedisError(err error) redisOutput {
	prefix := "ERR "
	if errors.Is(err, store.ErrWrongType) {
		prefix = "WRONGTYPE "
	}
	msg := prefix + err.Error()
	return redisOutput{err: &msg}
}

// commandSpec describes how many arguments a command takes and how it's executed.
type commandSpec struct {
	minArgs, maxArgs int // A negative maxArgs means unbounded.
	run              func(args []string) redisOutput
}

type redisHandler struct {
	store    *store.Keyspace
	commands map[ /*upper case name*/ string]commandSpec
}

// newRedisHandler creates a new redisHandler.
func newRedisHandler(ks *store.Keyspace) (*redisHandler, error) {
	if ks == nil {
		return nil, errors.New("expected a non-nil keyspace")
	}
	rh := &redisHandler{store: ks}
	rh.commands = map[string]commandSpec{
		"PING":   {minArgs: 0, maxArgs: 1, run: rh.ping},
		"QUIT":   {minArgs: 0, maxArgs: 0, run: func([]string) redisOutput { return closeRedisConnection(RedisOk) }},
		"DEL":    {minArgs: 1, maxArgs: -1, run: rh.del},
		"EXISTS": {minArgs: 1, maxArgs: -1, run: rh.exists},
		"TYPE":   {minArgs: 1, maxArgs: 1, run: rh.typeOf},
		"KEYS":   {minArgs: 1, maxArgs: 1, run: rh.keys},
		// Lists.
		"RPUSH":     {minArgs: 2, maxArgs: -1, run: rh.rpush},
		"LINSERTAT": {minArgs: 3, maxArgs: 3, run: rh.linsertAt},
		"RPOP":      {minArgs: 1, maxArgs: 1, run: func(args []string) redisOutput { return rh.pop(args[0], -1) }},
		"LPOP":      {minArgs: 1, maxArgs: 1, run: func(args []string) redisOutput { return rh.pop(args[0], 0) }},
		"LPOPAT":    {minArgs: 2, maxArgs: 2, run: rh.lpopAt},
		"LINDEX":    {minArgs: 2, maxArgs: 2, run: rh.lindex},
		"LLEN":      {minArgs: 1, maxArgs: 1, run: rh.llen},
		"LPOS":      {minArgs: 2, maxArgs: 2, run: rh.lpos},
		"LCONTAINS": {minArgs: 2, maxArgs: 2, run: rh.lcontains},
		"LSLICE":    {minArgs: 3, maxArgs: 3, run: rh.lslice},
		"LRANGE":    {minArgs: 3, maxArgs: 3, run: rh.lrange},
		"LREPR":     {minArgs: 1, maxArgs: 1, run: rh.lrepr},
		"LCOPY":     {minArgs: 2, maxArgs: 2, run: rh.lcopy},
		"LCONCAT":   {minArgs: 2, maxArgs: -1, run: rh.lconcat},
		"LREPEAT":   {minArgs: 3, maxArgs: 3, run: rh.lrepeat},
		"LCLEAR":    {minArgs: 1, maxArgs: 1, run: rh.lclear},
		// Search trees.
		"TNEW":       {minArgs: 2, maxArgs: -1, run: rh.tnew},
		"TINSERT":    {minArgs: 2, maxArgs: -1, run: rh.tinsert},
		"TCONTAINS":  {minArgs: 2, maxArgs: 2, run: rh.tcontains},
		"TSIZE":      {minArgs: 1, maxArgs: 1, run: rh.treeInt((*tree.BinaryTree[int64]).Size)},
		"THEIGHT":    {minArgs: 1, maxArgs: 1, run: rh.treeInt((*tree.BinaryTree[int64]).Height)},
		"TSAPLING":   {minArgs: 1, maxArgs: 1, run: rh.tsapling},
		"TPREORDER":  {minArgs: 1, maxArgs: 1, run: rh.treeBulk((*tree.BinaryTree[int64]).PreOrder)},
		"TINORDER":   {minArgs: 1, maxArgs: 1, run: rh.treeBulk((*tree.BinaryTree[int64]).InOrder)},
		"TPOSTORDER": {minArgs: 1, maxArgs: 1, run: rh.treeBulk((*tree.BinaryTree[int64]).PostOrder)},
		"TRENDER":    {minArgs: 1, maxArgs: 1, run: rh.treeBulk((*tree.BinaryTree[int64]).Render)},
		"TINFO":      {minArgs: 1, maxArgs: 1, run: rh.treeBulk((*tree.BinaryTree[int64]).String)},
		"TUNION":     {minArgs: 1, maxArgs: -1, run: rh.tunion},
	}
	return rh, nil
}

func (rh *redisHandler) handle(cmd redisCommand) redisOutput {
	name := strings.ToUpper(cmd.command)
	command, known := rh.commands[name]
	if !known {
		commandsMetric.WithLabelValues("unknown", "error").Inc()
		return writeRedisError(fmt.Errorf("unknown command '%s'", cmd.command))
	}
	var output redisOutput
	if len(cmd.args) < command.minArgs || (command.maxArgs >= 0 && len(cmd.args) > command.maxArgs) {
		output = writeRedisError(fmt.Errorf("wrong number of arguments for '%s' command", strings.ToLower(name)))
	} else {
		output = command.run(cmd.args)
	}
	status := "ok"
	if output.err != nil {
		status = "error"
	}
	commandsMetric.WithLabelValues(name, status).Inc()
	return output
}

func parseIndex(s string) (int, error) {
	index, err := strconv.Atoi(s)
	if err != nil {
		return 0, errSyntax
	}
	return index, nil
}

func parseTreeValues(args []string) ([]int64, error) {
	values := make([]int64, len(args))
	for i, arg := range args {
		value, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, errSyntax
		}
		values[i] = value
	}
	return values, nil
}

func (rh *redisHandler) ping(args []string) redisOutput {
	if len(args) == 1 {
		return writeRedisBulk(args[0])
	}
	return writeRedisString("PONG")
}

func (rh *redisHandler) del(args []string) redisOutput {
	return writeRedisInt(rh.store.Delete(args...))
}

func (rh *redisHandler) exists(args []string) redisOutput {
	return writeRedisInt(rh.store.Exists(args...))
}

func (rh *redisHandler) typeOf(args []string) redisOutput {
	return writeRedisString(string(rh.store.Type(args[0])))
}

func (rh *redisHandler) keys(args []string) redisOutput {
	return writeRedisArray(rh.store.Keys(args[0]))
}

// readList runs `fn` over the list at `key`; a missing key is reported through `missing`.
func (rh *redisHandler) readList(key string, missing redisOutput,
	fn func(l *list.LinkedList[string]) redisOutput) redisOutput {
	var output redisOutput
	err := rh.store.ReadList(key, func(l *list.LinkedList[string]) error {
		output = fn(l)
		return nil
	})
	if errors.Is(err, store.ErrKeyNotFound) {
		return missing
	} else if err != nil {
		return writeRedisError(err)
	}
	return output
}

func (rh *redisHandler) rpush(args []string) redisOutput {
	size := 0
	if err := rh.store.UpdateList(args[0], true /*create*/, func(l *list.LinkedList[string]) error {
		if err := checkListLength(l.Size() + len(args) - 1); err != nil {
			return err
		}
		for _, value := range args[1:] {
			l.Append(value)
		}
		size = l.Size()
		return nil
	}); err != nil {
		return writeRedisError(err)
	}
	return writeRedisInt(size)
}

func (rh *redisHandler) linsertAt(args []string) redisOutput {
	index, err := parseIndex(args[1])
	if err != nil {
		return writeRedisError(err)
	}
	size := 0
	if err := rh.store.UpdateList(args[0], true /*create*/, func(l *list.LinkedList[string]) error {
		if err := checkListLength(l.Size() + 1); err != nil {
			return err
		}
		l.Insert(args[2], index)
		size = l.Size()
		return nil
	}); err != nil {
		return writeRedisError(err)
	}
	return writeRedisInt(size)
}

func (rh *redisHandler) pop(key string, index int) redisOutput {
	var value string
	err := rh.store.UpdateList(key, false /*create*/, func(l *list.LinkedList[string]) error {
		var popErr error
		value, popErr = l.Pop(index)
		return popErr
	})
	switch {
	case errors.Is(err, store.ErrKeyNotFound):
		return writeRedisNil()
	case errors.Is(err, list.ErrIndexOutOfRange):
		return writeRedisError(list.ErrIndexOutOfRange)
	case err != nil:
		return writeRedisError(err)
	}
	return writeRedisBulk(value)
}

func (rh *redisHandler) lpopAt(args []string) redisOutput {
	index, err := parseIndex(args[1])
	if err != nil {
		return writeRedisError(err)
	}
	return rh.pop(args[0], index)
}

func (rh *redisHandler) lindex(args []string) redisOutput {
	index, err := parseIndex(args[1])
	if err != nil {
		return writeRedisError(err)
	}
	return rh.readList(args[0], writeRedisNil(), func(l *list.LinkedList[string]) redisOutput {
		value, err := l.Get(index)
		if err != nil { // Out of range.
			return writeRedisNil()
		}
		return writeRedisBulk(value)
	})
}

func (rh *redisHandler) llen(args []string) redisOutput {
	return rh.readList(args[0], writeRedisInt(0), func(l *list.LinkedList[string]) redisOutput {
		return writeRedisInt(l.Size())
	})
}

func (rh *redisHandler) lpos(args []string) redisOutput {
	return rh.readList(args[0], writeRedisNil(), func(l *list.LinkedList[string]) redisOutput {
		if index, found := l.Index(args[1]); found {
			return writeRedisInt(index)
		}
		return writeRedisNil()
	})
}

func (rh *redisHandler) lcontains(args []string) redisOutput {
	return rh.readList(args[0], writeRedisInt(0), func(l *list.LinkedList[string]) redisOutput {
		return writeRedisBool(l.Contains(args[1]))
	})
}

// lslice returns the half-open [from, to) sublist; bounds past the list are an error.
func (rh *redisHandler) lslice(args []string) redisOutput {
	from, err := parseIndex(args[1])
	if err != nil {
		return writeRedisError(err)
	}
	to, err := parseIndex(args[2])
	if err != nil {
		return writeRedisError(err)
	}
	return rh.readList(args[0], writeRedisArray(nil), func(l *list.LinkedList[string]) redisOutput {
		sub, err := l.SubList(from, to)
		if err != nil {
			return writeRedisError(list.ErrIndexOutOfRange)
		}
		return writeRedisArray(sub.Values())
	})
}

// lrange follows Redis: the stop index is inclusive and out of range bounds are clamped.
func (rh *redisHandler) lrange(args []string) redisOutput {
	start, err := parseIndex(args[1])
	if err != nil {
		return writeRedisError(err)
	}
	stop, err := parseIndex(args[2])
	if err != nil {
		return writeRedisError(err)
	}
	return rh.readList(args[0], writeRedisArray(nil), func(l *list.LinkedList[string]) redisOutput {
		size := l.Size()
		if start < 0 {
			start = max(start+size, 0)
		}
		if stop < 0 {
			stop += size
		}
		stop = min(stop, size-1)
		if start > stop {
			return writeRedisArray(nil)
		}
		sub, err := l.SubList(start, stop+1)
		if err != nil {
			return writeRedisError(err)
		}
		return writeRedisArray(sub.Values())
	})
}

func (rh *redisHandler) lrepr(args []string) redisOutput {
	return rh.readList(args[0], writeRedisBulk("[]"), func(l *list.LinkedList[string]) redisOutput {
		return writeRedisBulk(l.String())
	})
}

// copyList returns a copy of the list at `key`, or an empty list if the key doesn't exist.
func (rh *redisHandler) copyList(key string) (*list.LinkedList[string], error) {
	copied := list.New[string]()
	err := rh.store.ReadList(key, func(l *list.LinkedList[string]) error {
		copied = l.Copy()
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrKeyNotFound) {
		return nil, err
	}
	return copied, nil
}

func (rh *redisHandler) lcopy(args []string) redisOutput {
	copied, err := rh.copyList(args[0])
	if err != nil {
		return writeRedisError(err)
	}
	if copied.IsEmpty() {
		return writeRedisInt(0)
	}
	rh.store.PutList(args[1], copied)
	return writeRedisInt(1)
}

func (rh *redisHandler) lconcat(args []string) redisOutput {
	sum := list.New[string]()
	for _, key := range args[1:] {
		operand, err := rh.copyList(key)
		if err != nil {
			return writeRedisError(err)
		}
		if err := checkListLength(sum.Size() + operand.Size()); err != nil {
			return writeRedisError(err)
		}
		sum = sum.Add(operand)
	}
	rh.store.PutList(args[0], sum)
	return writeRedisInt(sum.Size())
}

func (rh *redisHandler) lrepeat(args []string) redisOutput {
	times, err := parseIndex(args[2])
	if err != nil {
		return writeRedisError(err)
	}
	source, err := rh.copyList(args[1])
	if err != nil {
		return writeRedisError(err)
	}
	// Checked by division, as times * size may overflow. Repeating an empty list is bounded as well.
	if times > *maxListLength || (times > 0 && source.Size() > *maxListLength/times) {
		return writeRedisError(fmt.Errorf("%w: %d copies of %d values, limit is %d",
			errListTooLong, times, source.Size(), *maxListLength))
	}
	product, err := source.Mul(times)
	if err != nil {
		return writeRedisError(err)
	}
	rh.store.PutList(args[0], product)
	return writeRedisInt(product.Size())
}

func (rh *redisHandler) lclear(args []string) redisOutput {
	err := rh.store.UpdateList(args[0], false /*create*/, func(l *list.LinkedList[string]) error {
		l.Clear()
		return nil
	})
	if errors.Is(err, store.ErrKeyNotFound) {
		return writeRedisInt(0)
	} else if err != nil {
		return writeRedisError(err)
	}
	return writeRedisInt(1)
}

// readTree runs `fn` over the search tree at `key`; missing keys are errors since trees are never empty.
func (rh *redisHandler) readTree(key string, fn func(t *tree.SearchTree[int64]) redisOutput) redisOutput {
	var output redisOutput
	if err := rh.store.ReadTree(key, func(t *tree.SearchTree[int64]) error {
		output = fn(t)
		return nil
	}); err != nil {
		return writeRedisError(err)
	}
	return output
}

func (rh *redisHandler) treeInt(fn func(*tree.BinaryTree[int64]) int) func(args []string) redisOutput {
	return func(args []string) redisOutput {
		return rh.readTree(args[0], func(t *tree.SearchTree[int64]) redisOutput {
			return writeRedisInt(fn(&t.BinaryTree))
		})
	}
}

func (rh *redisHandler) treeBulk(fn func(*tree.BinaryTree[int64]) string) func(args []string) redisOutput {
	return func(args []string) redisOutput {
		return rh.readTree(args[0], func(t *tree.SearchTree[int64]) redisOutput {
			return writeRedisBulk(fn(&t.BinaryTree))
		})
	}
}

func (rh *redisHandler) tnew(args []string) redisOutput {
	values, err := parseTreeValues(args[1:])
	if err != nil {
		return writeRedisError(err)
	}
	rh.store.PutTree(args[0], tree.NewSearchTree(values[0], values[1:]...))
	return writeRedisString(RedisOk)
}

func (rh *redisHandler) tinsert(args []string) redisOutput {
	values, err := parseTreeValues(args[1:])
	if err != nil {
		return writeRedisError(err)
	}
	size := 0
	if err := rh.store.UpdateTree(args[0], func(t *tree.SearchTree[int64]) error {
		t.Insert(values...)
		size = t.Size()
		return nil
	}); err != nil {
		return writeRedisError(err)
	}
	return writeRedisInt(size)
}

func (rh *redisHandler) tcontains(args []string) redisOutput {
	values, err := parseTreeValues(args[1:])
	if err != nil {
		return writeRedisError(err)
	}
	return rh.readTree(args[0], func(t *tree.SearchTree[int64]) redisOutput {
		return writeRedisBool(t.Contains(values[0]))
	})
}

func (rh *redisHandler) tsapling(args []string) redisOutput {
	return rh.readTree(args[0], func(t *tree.SearchTree[int64]) redisOutput {
		return writeRedisBool(t.IsSapling())
	})
}

// tunion returns the distinct values of all the given trees in increasing order.
func (rh *redisHandler) tunion(args []string) redisOutput {
	sequences, err := rh.store.TreeValues(args...)
	if err != nil {
		return writeRedisError(err)
	}
	merged, err := scan.MultiHead(cmp.Compare[int64], sequences)
	if err != nil {
		return writeRedisError(err)
	}
	var union []string
	for value := range merged {
		union = append(union, strconv.FormatInt(value, 10))
	}
	return writeRedisArray(union)
}

// writeRedisOutput sends the `output` on the connection.
func writeRedisOutput(conn redcon.Conn, output redisOutput) {
	switch {
	case output.err != nil:
		conn.WriteError(*output.err)
	case output.writeNil:
		conn.WriteNull()
	case output.writeInt != nil:
		conn.WriteInt(*output.writeInt)
	case output.writeBulk != nil:
		conn.WriteBulkString(*output.writeBulk)
	case output.isArray:
		conn.WriteArray(len(output.writeArray))
		for _, element := range output.writeArray {
			conn.WriteBulkString(element)
		}
	default:
		conn.WriteString(output.writeString)
	}
	if output.closeConnection {
		if err := conn.Close(); err != nil {
			slog.Error("Failed to close connection.", "remote", conn.RemoteAddr(), "error", err)
		}
	}
}

// RunRedisServer starts a Redis protocol server over the given keyspace and blocks until `ctx` is done.
func RunRedisServer(ctx context.Context, ks *store.Keyspace) error {
	if *address == "" {
		return errors.New("expected a non-empty --address flag")
	}
	return runRedisServer(ctx, ks, *address, nil /*ready*/)
}

// runRedisServer serves on `listenAddress`, calling `ready` (if non-nil) with the bound address once listening.
func runRedisServer(ctx context.Context, ks *store.Keyspace, listenAddress string, ready func(net.Addr)) error {
	redisHandler, err := newRedisHandler(ks)
	if err != nil {
		return fmt.Errorf("failed to create a new redis handler: %w", err)
	}

	redisServer := redcon.NewServerNetwork("tcp" /*net*/, listenAddress,
		/*handler*/ func(conn redcon.Conn, cmd redcon.Command) {
			// Convert redcon.Command to redisCommand.
			command := redisCommand{command: string(cmd.Args[0]), args: make([]string, len(cmd.Args)-1)}
			for i := 1; i < len(cmd.Args); i++ {
				command.args[i-1] = string(cmd.Args[i])
			}
			writeRedisOutput(conn, redisHandler.handle(command))
		},
		/*accept*/ func(conn redcon.Conn) bool {
			slog.Debug("Accepted connection.", "remote", conn.RemoteAddr())
			return true
		},
		/*closed*/ func(conn redcon.Conn, err error) {
			if err != nil {
				slog.Debug("Connection closed with error.", "remote", conn.RemoteAddr(), "error", err)
			}
		})

	listenSignal := make(chan error, 1)
	serveErrSignal := make(chan error, 1)
	go func() { serveErrSignal <- redisServer.ListenServeAndSignal(listenSignal) }()

	// Close fails until the listener is bound, so cancellation is only observed after listening.
	if err := <-listenSignal; err != nil {
		return fmt.Errorf("failed to listen on %q: %w", listenAddress, err)
	}
	slog.Info("Serving Redis protocol.", "address", redisServer.Addr())
	if ready != nil {
		ready(redisServer.Addr())
	}

	select {
	case <-ctx.Done():
		if err := redisServer.Close(); err != nil {
			return fmt.Errorf("failed to close redis server: %w", err)
		}
		if err := <-serveErrSignal; err != nil {
			return fmt.Errorf("redis server stopped with an error: %w", err)
		}
	case err := <-serveErrSignal:
		if err != nil {
			return fmt.Errorf("redis server stopped unexpectedly: %w", err)
		}
		return errors.New("redis server stopped unexpectedly")
	}

	return nil // Exited with no errors.
}
