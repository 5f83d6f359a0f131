package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/nerrad567/pcd-core/internal/catalogue"
	"github.com/nerrad567/pcd-core/internal/driver"
	"github.com/nerrad567/pcd-core/internal/pcd"
)

// Defaults for the cat command, matching the classic read test tool.
const (
	defaultCatCount  = 10
	defaultCatOffset = 10
	catAttempts      = 2
)

// Console is an interactive shell over a driver registry. Open sessions
// are addressed by small integer handles, like file descriptors.
type Console struct {
	reg *driver.Registry
	out io.Writer

	sessions   map[int]*driver.Session
	nextHandle int
}

// New creates a Console writing its output to out.
func New(reg *driver.Registry, out io.Writer) *Console {
	return &Console{
		reg:        reg,
		out:        out,
		sessions:   make(map[int]*driver.Session),
		nextHandle: 3,
	}
}

// Run reads commands with line editing until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "pcd> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    c.completer(),
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()
	defer c.Close()

	c.out = rl.Stdout()
	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			return nil
		}
		if quit := c.Exec(ctx, line); quit {
			return nil
		}
	}
}

// Close closes every session the console opened.
func (c *Console) Close() {
	for h, s := range c.sessions {
		s.Close() //nolint:errcheck // session may already be invalidated by detach
		delete(c.sessions, h)
	}
}

// Exec runs one command line and reports whether the console should exit.
func (c *Console) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()
	case "quit", "exit", "q":
		return true
	case "list", "ls":
		c.cmdList()
	case "stats":
		c.cmdStats()
	case "info":
		err = c.cmdInfo(args)
	case "attach":
		err = c.cmdAttach(ctx, args)
	case "detach":
		err = c.cmdDetach(ctx, args)
	case "show":
		err = c.cmdShow(args)
	case "store":
		err = c.cmdStore(args)
	case "open":
		err = c.cmdOpen(args)
	case "read", "r":
		err = c.cmdRead(args)
	case "write", "w":
		err = c.cmdWrite(args)
	case "seek":
		err = c.cmdSeek(args)
	case "close":
		err = c.cmdClose(args)
	case "cat":
		err = c.cmdCat(args)
	default:
		err = fmt.Errorf("unknown command %q (try help)", cmd)
	}
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprint(c.out, `Commands:
  list                              bound devices
  stats                             registry counters
  info <n>                          device details
  attach <type> <size> <perm> <serial>
  detach <n>
  show <n> <attr>                   size | serial
  store <n> <attr> <value>
  open <n> <r|w|rw>                 returns a handle
  read <h> <count>
  write <h> <text...>
  seek <h> <offset> [set|curr|end]
  close <h>
  cat <n> [count] [offset] [set|curr|end]
  quit
`)
}

func (c *Console) cmdList() {
	list := c.reg.List()
	if len(list) == 0 {
		fmt.Fprintln(c.out, "no devices bound")
		return
	}
	for _, d := range list {
		fmt.Fprintf(c.out, "%4d  %-12s %-10s %-5s %8d  %s\n",
			d.Number, d.Name, d.TypeKey, d.Permission, d.Capacity, d.Serial)
	}
}

func (c *Console) cmdStats() {
	s := c.reg.Stats()
	fmt.Fprintf(c.out, "bound=%d base=%d next=%d max=%d closed=%v open_handles=%d\n",
		s.Bound, s.NumberBase, s.NextNumber, s.MaxDevices, s.Closed, len(c.sessions))
}

func (c *Console) cmdInfo(args []string) error {
	n, err := intArg(args, 0, "device number")
	if err != nil {
		return err
	}
	d, err := c.reg.Info(n)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "number:   %d\nname:     %s\ntype:     %s\nsource:   %s\nsize:     %d\nperm:     %s\nserial:   %s\ntuning:   %d,%d\nattached: %s\n",
		d.Number, d.Name, d.TypeKey, d.Source, d.Capacity, d.Permission, d.Serial,
		d.Tuning.Item1, d.Tuning.Item2, d.AttachedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func (c *Console) cmdAttach(ctx context.Context, args []string) error {
	if len(args) != 4 {
		return errors.New("usage: attach <type> <size> <perm> <serial>")
	}
	size, err := pcd.ParseCapacity(args[1])
	if err != nil {
		return err
	}
	perm, err := pcd.ParsePermission(args[2])
	if err != nil {
		return err
	}
	n, err := c.reg.Attach(ctx, catalogue.Announcement{
		Name:     args[0],
		Platform: &pcd.Descriptor{Capacity: size, Permission: perm, SerialNumber: args[3]},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "attached %d\n", n)
	return nil
}

func (c *Console) cmdDetach(ctx context.Context, args []string) error {
	n, err := intArg(args, 0, "device number")
	if err != nil {
		return err
	}
	if err := c.reg.Detach(ctx, n); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "detached %d\n", n)
	return nil
}

func (c *Console) cmdShow(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: show <n> <attr>")
	}
	n, err := intArg(args, 0, "device number")
	if err != nil {
		return err
	}
	v, err := c.reg.Show(n, args[1])
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, v)
	return nil
}

func (c *Console) cmdStore(args []string) error {
	if len(args) != 3 {
		return errors.New("usage: store <n> <attr> <value>")
	}
	n, err := intArg(args, 0, "device number")
	if err != nil {
		return err
	}
	if err := c.reg.Store(n, args[1], args[2]); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "ok")
	return nil
}

func (c *Console) cmdOpen(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: open <n> <r|w|rw>")
	}
	n, err := intArg(args, 0, "device number")
	if err != nil {
		return err
	}
	mode, err := pcd.ParseAccessMode(args[1])
	if err != nil {
		return err
	}
	s, err := c.reg.Open(n, mode)
	if err != nil {
		return err
	}
	h := c.nextHandle
	c.nextHandle++
	c.sessions[h] = s
	fmt.Fprintf(c.out, "handle %d\n", h)
	return nil
}

func (c *Console) session(args []string) (int, *driver.Session, error) {
	h, err := intArg(args, 0, "handle")
	if err != nil {
		return 0, nil, err
	}
	s, ok := c.sessions[h]
	if !ok {
		return 0, nil, fmt.Errorf("no open handle %d", h)
	}
	return h, s, nil
}

func (c *Console) cmdRead(args []string) error {
	_, s, err := c.session(args)
	if err != nil {
		return err
	}
	count, err := intArg(args, 1, "count")
	if err != nil {
		return err
	}
	if count < 0 {
		return fmt.Errorf("count must not be negative")
	}
	buf := c.readBuffer(s.Number(), count)
	n, err := s.Read(buf)
	if errors.Is(err, io.EOF) {
		fmt.Fprintln(c.out, "end of file")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "read %d bytes: %q\n", n, buf[:n])
	return nil
}

func (c *Console) cmdWrite(args []string) error {
	_, s, err := c.session(args)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return errors.New("usage: write <h> <text...>")
	}
	n, err := s.Write([]byte(strings.Join(args[1:], " ")))
	if driver.ShortWrite(n, err) {
		fmt.Fprintf(c.out, "wrote %d bytes, device full\n", n)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "wrote %d bytes\n", n)
	return nil
}

func (c *Console) cmdSeek(args []string) error {
	_, s, err := c.session(args)
	if err != nil {
		return err
	}
	offset, err := intArg(args, 1, "offset")
	if err != nil {
		return err
	}
	whence := io.SeekStart
	if len(args) > 2 {
		if whence, err = parseWhence(args[2]); err != nil {
			return err
		}
	}
	pos, err := s.Seek(int64(offset), whence)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "position %d\n", pos)
	return nil
}

func (c *Console) cmdClose(args []string) error {
	h, s, err := c.session(args)
	if err != nil {
		return err
	}
	delete(c.sessions, h)
	return s.Close()
}

// cmdCat opens a device read-only, seeks, and makes up to two reads,
// reporting each one.
func (c *Console) cmdCat(args []string) error {
	n, err := intArg(args, 0, "device number")
	if err != nil {
		return err
	}
	remaining, offset, whence := defaultCatCount, defaultCatOffset, io.SeekStart
	if len(args) > 1 {
		if remaining, err = intArg(args, 1, "count"); err != nil {
			return err
		}
	}
	if len(args) > 2 {
		if offset, err = intArg(args, 2, "offset"); err != nil {
			return err
		}
	}
	if len(args) > 3 {
		if whence, err = parseWhence(args[3]); err != nil {
			return err
		}
	}
	if remaining < 0 {
		return fmt.Errorf("count must not be negative")
	}

	fmt.Fprintf(c.out, "read requested = %d\n", remaining)
	s, err := c.reg.Open(n, pcd.AccessReadOnly)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer s.Close() //nolint:errcheck // read-only session

	if _, err := s.Seek(int64(offset), whence); err != nil {
		return fmt.Errorf("seek: %w", err)
	}

	buf := c.readBuffer(n, remaining)
	total := 0
	for attempt := 0; attempt < catAttempts && remaining > 0; attempt++ {
		got, err := s.Read(buf[total:])
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(c.out, "end of file")
			break
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		fmt.Fprintf(c.out, "read %d bytes of data\n", got)
		total += got
		remaining -= got
	}
	fmt.Fprintf(c.out, "total_read = %d\n%s\n", total, buf[:total])
	return nil
}

// readBuffer returns a buffer for a read of count bytes, never larger than
// the device.
func (c *Console) readBuffer(number, count int) []byte {
	capacity, err := c.reg.Capacity(number)
	if err != nil {
		return nil
	}
	if count > int(capacity) {
		count = int(capacity)
	}
	return make([]byte, count)
}

func intArg(args []string, i int, what string) (int, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("missing %s", what)
	}
	v, err := strconv.ParseInt(args[i], 0, 0)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, args[i])
	}
	return int(v), nil
}

func parseWhence(s string) (int, error) {
	switch strings.ToLower(s) {
	case "set":
		return io.SeekStart, nil
	case "curr", "cur":
		return io.SeekCurrent, nil
	case "end":
		return io.SeekEnd, nil
	default:
		return 0, fmt.Errorf("invalid whence %q (set, curr or end)", s)
	}
}

func (c *Console) completer() *readline.PrefixCompleter {
	entries := c.reg.Catalogue().Entries()
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.TypeKey)
	}
	sort.Strings(keys)
	types := make([]readline.PrefixCompleterInterface, 0, len(keys))
	for _, k := range keys {
		types = append(types, readline.PcItem(k))
	}

	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("list"),
		readline.PcItem("stats"),
		readline.PcItem("info"),
		readline.PcItem("attach", types...),
		readline.PcItem("detach"),
		readline.PcItem("show"),
		readline.PcItem("store"),
		readline.PcItem("open"),
		readline.PcItem("read"),
		readline.PcItem("write"),
		readline.PcItem("seek"),
		readline.PcItem("close"),
		readline.PcItem("cat"),
		readline.PcItem("quit"),
	)
}
