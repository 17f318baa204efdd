// sgbdsh is a REPL shell over the storage engine: table creation, bulk CSV
// load, point-value select/delete, and index/buffer inspection (spec.md §6,
// shell surface; a boundary, not part of the scored core). The engine's
// Modify operation has no shell command.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/pflag"

	"github.com/sgbd-go/sgbd/internal/buffer"
	"github.com/sgbd-go/sgbd/internal/config"
	"github.com/sgbd-go/sgbd/internal/csvload"
	"github.com/sgbd-go/sgbd/internal/device"
	"github.com/sgbd-go/sgbd/internal/engine"
	"github.com/sgbd-go/sgbd/pkg/sgfs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("sgbdsh", pflag.ExitOnError)
	overrides := config.RegisterFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(overrides.DataDir, *overrides)
	if err != nil {
		return err
	}

	fsys := sgfs.NewReal()
	locker := sgfs.NewLocker(fsys)
	lockPath := filepath.Join(cfg.DataDir, "sgbd.lock")
	lock, err := locker.TryLock(lockPath)
	if err != nil {
		return fmt.Errorf("another sgbdsh process is already using %s: %w", cfg.DataDir, err)
	}
	defer lock.Close()

	dev, err := device.Open(fsys, cfg.DataDir, cfg.Geometry)
	if err != nil {
		return err
	}

	policy, err := buffer.ParsePolicy(cfg.ReplacementPolicy)
	if err != nil {
		return err
	}

	logger := log.New(os.Stderr, "sgbd: ", log.LstdFlags)

	eng, err := engine.Open(dev, cfg.FrameCount, policy, logger)
	if err != nil {
		return err
	}

	shell := &REPL{eng: eng, dev: dev, logger: logger}
	return shell.Run()
}

// REPL is the interactive command loop.
type REPL struct {
	eng    *engine.Engine
	dev    *device.Device
	logger *log.Logger
	liner  *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sgbdsh_history")
}

// Run starts the REPL loop. Exit always flushes and persists before
// returning (spec.md §5 "Shell exit must flush_all then save").
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("sgbd shell. Type 'exit' to quit.")

	var readErr error
	for {
		line, err := r.liner.Prompt("sgbd> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println()
				break
			}
			readErr = fmt.Errorf("reading input: %w", err)
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		if line == "exit" {
			break
		}

		if err := r.dispatch(line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}

	r.saveHistory()

	if err := r.eng.Close(); err != nil {
		return fmt.Errorf("closing engine: %w", err)
	}
	return readErr
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{
		"status", "schema", "select", "add_from_csv", "insert_from_csv",
		"rel_block_info", "block_info", "disk_info", "disk_cap", "delete",
		"insert", "buffer_status", "print_block", "pin", "unpin", "request",
		"dirty", "exit",
	}
	var out []string
	for _, c := range commands {
		if strings.HasPrefix(c, strings.ToLower(line)) {
			out = append(out, c)
		}
	}
	return out
}

func (r *REPL) dispatch(line string) error {
	parts := strings.Fields(line)
	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "status":
		return r.cmdStatus()
	case "schema":
		return r.cmdSchema(args)
	case "select":
		return r.cmdSelect(args)
	case "add_from_csv":
		return r.cmdAddFromCSV(args)
	case "insert_from_csv":
		return r.cmdInsertFromCSV(args)
	case "rel_block_info":
		return r.cmdRelBlockInfo(args)
	case "block_info":
		return r.cmdBlockInfo(args)
	case "disk_info":
		return r.cmdDiskInfo()
	case "disk_cap":
		return r.cmdDiskCap()
	case "delete":
		return r.cmdDelete(args)
	case "insert":
		return r.cmdInsert(args)
	case "buffer_status":
		return r.cmdBufferStatus()
	case "print_block":
		return r.cmdPrintBlock(args)
	case "pin":
		return r.cmdPin(args)
	case "unpin":
		return r.cmdUnpin(args)
	case "request":
		return r.cmdRequest(args)
	case "dirty":
		return r.cmdDirty(args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (r *REPL) cmdStatus() error {
	g := r.dev.Geometry()
	fmt.Printf("platters=%d tracks=%d sectors=%d block_size=%d blocks_per_sector=%d total_blocks=%d\n",
		g.Platters, g.TracksPerSurface, g.SectorsPerTrack, g.BlockSize, g.BlocksPerSector, r.dev.TotalBlocks())
	return nil
}

func (r *REPL) cmdSchema(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: schema <relation>")
	}
	rel, err := r.eng.Relation(args[0])
	if err != nil {
		return err
	}
	kind := "var"
	if rel.IsFixed {
		kind = "fix"
	}
	fmt.Printf("%s %s %d fields, blocks=%v, hash_index_block=%d\n", rel.Name, kind, len(rel.Fields), rel.Blocks, rel.HashIndexBlock)
	for _, f := range rel.Fields {
		fmt.Printf("  %s %s %d\n", f.Name, f.Type, f.Size)
	}
	return nil
}

// select all <R>
// select where <F> <OP> <V> <R> [<R'>]
func (r *REPL) cmdSelect(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: select all <R> | select where <F> <OP> <V> <R> [<R'>]")
	}

	switch args[0] {
	case "all":
		if len(args) != 2 {
			return fmt.Errorf("usage: select all <R>")
		}
		rel, err := r.eng.Relation(args[1])
		if err != nil {
			return err
		}
		rows, err := r.eng.ScanWhere(args[1], rel.Fields[0].Name, engine.Ge, "", "temp_result")
		if err != nil {
			return err
		}
		printRows(rows)
		return r.eng.DropRelation("temp_result")

	case "where":
		if len(args) < 5 {
			return fmt.Errorf("usage: select where <F> <OP> <V> <R> [<R'>]")
		}
		field, opStr, value, relName := args[1], args[2], args[3], args[4]
		output := "temp_result"
		if len(args) >= 6 {
			output = args[5]
		}
		op, err := parseOp(opStr)
		if err != nil {
			return err
		}
		rows, err := r.eng.ScanWhere(relName, field, op, value, output)
		if err != nil {
			return err
		}
		printRows(rows)
		if output == "temp_result" {
			return r.eng.DropRelation("temp_result")
		}
		return nil

	default:
		return fmt.Errorf("unknown select form %q", args[0])
	}
}

func printRows(rows [][]string) {
	for _, row := range rows {
		fmt.Println(strings.Join(row, " | "))
	}
}

func parseOp(s string) (engine.Op, error) {
	switch s {
	case "==", "!=", "<", "<=", ">", ">=":
		return engine.Op(s), nil
	default:
		return "", fmt.Errorf("unknown operator %q", s)
	}
}

func (r *REPL) cmdAddFromCSV(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: add_from_csv <R> <path> fix|var")
	}
	relName, path, kind := args[0], args[1], args[2]
	isFixed := kind == "fix"

	file, err := csvload.Parse(path, isFixed)
	if err != nil {
		return err
	}

	if err := r.eng.CreateRelation(relName, isFixed, file.Fields); err != nil {
		return err
	}

	for _, row := range file.Rows {
		if _, err := r.eng.Insert(relName, row, true); err != nil {
			return err
		}
	}
	fmt.Printf("loaded %d rows into %s\n", len(file.Rows), relName)
	return nil
}

func (r *REPL) cmdInsertFromCSV(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: insert_from_csv <R> <path> <N>")
	}
	relName, path := args[0], args[1]
	n, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid row count %q", args[2])
	}

	rel, err := r.eng.Relation(relName)
	if err != nil {
		return err
	}

	file, err := csvload.Parse(path, rel.IsFixed)
	if err != nil {
		return err
	}

	count := n
	if count > len(file.Rows) {
		count = len(file.Rows)
	}
	for i := 0; i < count; i++ {
		if _, err := r.eng.Insert(relName, file.Rows[i], true); err != nil {
			return err
		}
	}
	fmt.Printf("inserted %d rows into %s\n", count, relName)
	return nil
}

func (r *REPL) cmdRelBlockInfo(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: rel_block_info <R>")
	}
	rel, err := r.eng.Relation(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("blocks=%v\n", rel.Blocks)
	return nil
}

func (r *REPL) cmdBlockInfo(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: block_info <idx>")
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid block index %q", args[0])
	}
	pos := r.dev.PositionOf(idx)
	fmt.Printf("block %d -> plato%d/superficie%d/pista%d/sector%d[%d]\n",
		idx, pos.Platter, pos.Surface, pos.Track, pos.Sector, pos.Inner)
	return nil
}

func (r *REPL) cmdDiskInfo() error {
	return r.cmdStatus()
}

func (r *REPL) cmdDiskCap() error {
	fmt.Println(r.dev.TotalBlocks())
	return nil
}

// delete <R> | delete where <F> <OP> <V> <R>
func (r *REPL) cmdDelete(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: delete <R> | delete where <F> <OP> <V> <R>")
	}
	if args[0] == "where" {
		if len(args) != 5 {
			return fmt.Errorf("usage: delete where <F> <OP> <V> <R>")
		}
		op, err := parseOp(args[2])
		if err != nil {
			return err
		}
		n, err := r.eng.DeleteWhere(args[4], args[1], op, args[3])
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d rows\n", n)
		return nil
	}

	if len(args) != 1 {
		return fmt.Errorf("usage: delete <R>")
	}
	return r.eng.DropRelation(args[0])
}

func (r *REPL) cmdInsert(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: insert <R> v1 v2 ...")
	}
	relName := args[0]
	values := args[1:]
	ref, err := r.eng.Insert(relName, values, false)
	if err != nil {
		return err
	}
	fmt.Printf("inserted at block=%d slot=%d\n", ref.Block, ref.Slot)
	return nil
}

func (r *REPL) cmdBufferStatus() error {
	for _, s := range r.eng.BufferStatuses() {
		hand := ""
		if s.IsHand {
			hand = " <- hand"
		}
		fmt.Printf("frame %d: block=%d dirty=%v ts=%d pin=%d ref=%v%s\n",
			s.Index, s.BlockID, s.Dirty, s.Ts, s.Pin, s.Ref, hand)
	}
	return nil
}

func (r *REPL) cmdPrintBlock(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: print_block <idx>")
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid block index %q", args[0])
	}
	raw, err := r.dev.ReadBlock(idx)
	if err != nil {
		return err
	}
	fmt.Printf("%q\n", raw)
	return nil
}

func (r *REPL) cmdPin(args []string) error    { return r.bufferOp(args, "pin") }
func (r *REPL) cmdUnpin(args []string) error  { return r.bufferOp(args, "unpin") }
func (r *REPL) cmdRequest(args []string) error { return r.bufferOp(args, "request") }
func (r *REPL) cmdDirty(args []string) error  { return r.bufferOp(args, "dirty") }

func (r *REPL) bufferOp(args []string, op string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s <idx>", op)
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid block index %q", args[0])
	}
	switch op {
	case "pin":
		return r.eng.PinBlock(idx)
	case "unpin":
		return r.eng.UnpinBlock(idx)
	case "request":
		_, err := r.eng.RequestBlock(idx)
		return err
	case "dirty":
		return r.eng.MarkBlockDirty(idx)
	default:
		return fmt.Errorf("unknown buffer op %q", op)
	}
}
