// cube-cli is an interactive shell for a cube-store server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/TobiasJacob/cube-store/internal/client"
	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/wire"
)

var commands = []prompt.Suggest{
	{Text: "ping", Description: "Check server liveness"},
	{Text: "ls", Description: "List cubes"},
	{Text: "info", Description: "info <cube> - show cube metadata"},
	{Text: "create", Description: "create <cube> <shape> [dtype] [sparse] - e.g. create m 2x3 float64"},
	{Text: "rm", Description: "rm <cube> - delete a cube"},
	{Text: "get", Description: "get <cube> [selection] - read data"},
	{Text: "set", Description: "set <cube> <selection|:> <v1,v2,...> - write data"},
	{Text: "append", Description: "append <cube> <axis> <v1,v2,...> - extend along an axis"},
	{Text: "slice", Description: "slice <cube> <selection> [target] - materialize a selection"},
	{Text: "compute", Description: "compute <op> <operands...> [k=v ...] - run an operation"},
	{Text: "iter", Description: "iter <cube> [chunk=N] [fn=EXPR] - stream blocks"},
	{Text: "stats", Description: "Show server statistics"},
	{Text: "help", Description: "Show this help"},
	{Text: "exit", Description: "Close the session and quit"},
}

type shell struct {
	cli *client.Client
}

func main() {
	addr := flag.String("addr", "localhost:9410", "server address")
	apiKey := flag.String("api-key", "", "API key (or CUBED_API_KEY env)")
	flag.Parse()

	key := *apiKey
	if key == "" {
		key = os.Getenv("CUBED_API_KEY")
	}
	if key == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "API key: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read key: %v\n", err)
			os.Exit(1)
		}
		key = strings.TrimSpace(string(raw))
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "API key required (-api-key or CUBED_API_KEY)")
		os.Exit(1)
	}

	cfg := client.DefaultConfig()
	cfg.Addr = *addr
	cfg.APIKey = key

	cli := client.New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := cli.Connect(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect %s: %v\n", *addr, err)
		os.Exit(1)
	}
	fmt.Printf("Connected to %s (session %s)\n", *addr, cli.SessionID())

	sh := &shell{cli: cli}
	p := prompt.New(
		sh.execute,
		sh.complete,
		prompt.OptionTitle("cube-cli"),
		prompt.OptionPrefix("cube> "),
	)
	p.Run()
}

func (s *shell) complete(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return s.completeCube(d)
	}
	return prompt.FilterHasPrefix(commands, d.GetWordBeforeCursor(), true)
}

// completeCube offers cube names as the second word of data commands.
func (s *shell) completeCube(d prompt.Document) []prompt.Suggest {
	fields := strings.Fields(d.TextBeforeCursor())
	switch fields[0] {
	case "info", "rm", "get", "set", "append", "slice", "iter":
	default:
		return nil
	}
	if len(fields) > 2 || (len(fields) == 2 && strings.HasSuffix(d.TextBeforeCursor(), " ")) {
		return nil
	}
	infos, err := s.cli.List()
	if err != nil {
		return nil
	}
	suggests := make([]prompt.Suggest, len(infos))
	for i, info := range infos {
		suggests[i] = prompt.Suggest{Text: info.Name, Description: formatShape(info.Shape) + " " + info.DType}
	}
	return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
}

func (s *shell) execute(line string) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return
	}

	var err error
	switch args[0] {
	case "exit", "quit":
		s.cli.Close()
		fmt.Println("Bye.")
		os.Exit(0)
	case "help":
		for _, c := range commands {
			fmt.Printf("  %-8s %s\n", c.Text, c.Description)
		}
	case "ping":
		start := time.Now()
		if err = s.cli.Ping(); err == nil {
			fmt.Printf("pong (%s)\n", time.Since(start).Round(time.Microsecond))
		}
	case "ls", "list":
		err = s.list()
	case "info":
		err = s.info(args[1:])
	case "create":
		err = s.create(args[1:])
	case "rm":
		err = s.remove(args[1:])
	case "get":
		err = s.get(args[1:])
	case "set":
		err = s.set(args[1:])
	case "append":
		err = s.append(args[1:])
	case "slice":
		err = s.slice(args[1:])
	case "compute":
		err = s.compute(args[1:])
	case "iter":
		err = s.iter(args[1:])
	case "stats":
		err = s.stats()
	default:
		fmt.Printf("unknown command %q (try help)\n", args[0])
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

// --- COMMANDS ---

func (s *shell) list() error {
	infos, err := s.cli.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("no cubes")
		return nil
	}
	for _, info := range infos {
		kind := "dense"
		if info.Sparse {
			kind = "sparse"
		}
		fmt.Printf("  %-20s %-12s %-8s %s\n", info.Name, formatShape(info.Shape), info.DType, kind)
	}
	return nil
}

func (s *shell) info(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: info <cube>")
	}
	info, err := s.cli.Info(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("name:   %s\n", info.Name)
	fmt.Printf("shape:  %s\n", formatShape(info.Shape))
	fmt.Printf("dtype:  %s\n", info.DType)
	if info.Sparse {
		fmt.Printf("sparse: true (fill %g)\n", info.FillValue)
	} else if len(info.ChunkShape) > 0 {
		fmt.Printf("chunks: %s\n", formatShape(info.ChunkShape))
	}
	for i, name := range info.DimNames {
		if name == "" {
			continue
		}
		line := fmt.Sprintf("dim %d:  %s", i, name)
		if i < len(info.CoordLabels) && len(info.CoordLabels[i]) > 0 {
			line += " [" + strings.Join(info.CoordLabels[i], ", ") + "]"
		}
		fmt.Println(line)
	}
	return nil
}

func (s *shell) create(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: create <cube> <shape> [dtype] [sparse]")
	}
	shape, err := parseShape(args[1])
	if err != nil {
		return err
	}
	info := &wire.CubeInfo{Name: args[0], Shape: shape, DType: "float64"}
	for _, arg := range args[2:] {
		if arg == "sparse" {
			info.Sparse = true
		} else {
			info.DType = arg
		}
	}
	created, err := s.cli.Create(info)
	if err != nil {
		return err
	}
	fmt.Printf("created %s %s %s\n", created.Name, formatShape(created.Shape), created.DType)
	return nil
}

func (s *shell) remove(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: rm <cube>")
	}
	if err := s.cli.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", args[0])
	return nil
}

func (s *shell) get(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: get <cube> [selection]")
	}
	var sel []wire.IndexItem
	if len(args) == 2 {
		var err error
		if sel, err = parseSelection(args[1]); err != nil {
			return err
		}
	}
	buf, err := s.cli.Get(args[0], sel)
	if err != nil {
		return err
	}
	printBuffer(buf)
	return nil
}

func (s *shell) set(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: set <cube> <selection|:> <v1,v2,...>")
	}
	sel, err := parseSelection(args[1])
	if err != nil {
		return err
	}
	if args[1] == ":" {
		sel = nil // whole cube
	}
	vals, err := parseValues(args[2])
	if err != nil {
		return err
	}
	buf, err := valueBuffer(s.cli, args[0], vals)
	if err != nil {
		return err
	}
	if err := s.cli.Set(args[0], sel, buf); err != nil {
		return err
	}
	fmt.Printf("wrote %d values\n", len(vals))
	return nil
}

func (s *shell) append(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: append <cube> <axis> <v1,v2,...>")
	}
	axis, err := parseAxis(args[1])
	if err != nil {
		return err
	}
	vals, err := parseValues(args[2])
	if err != nil {
		return err
	}
	buf, err := valueBuffer(s.cli, args[0], vals)
	if err != nil {
		return err
	}
	updated, err := s.cli.Append(args[0], axis, buf)
	if err != nil {
		return err
	}
	fmt.Printf("appended, shape now %s\n", formatShape(updated.Shape))
	return nil
}

func (s *shell) slice(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: slice <cube> <selection> [target]")
	}
	sel, err := parseSelection(args[1])
	if err != nil {
		return err
	}
	target := ""
	if len(args) == 3 {
		target = args[2]
	}
	buf, info, err := s.cli.Slice(args[0], sel, target)
	if err != nil {
		return err
	}
	if info != nil {
		fmt.Printf("stored %s %s %s\n", info.Name, formatShape(info.Shape), info.DType)
		return nil
	}
	printBuffer(buf)
	return nil
}

func (s *shell) compute(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: compute <op> <operands...> [k=v ...]")
	}
	var operands []wire.Operand
	kwargs := map[string]any{}
	for _, arg := range args[1:] {
		if k, v, ok := strings.Cut(arg, "="); ok {
			kwargs[k] = parseKwarg(v)
			continue
		}
		if f, err := strconv.ParseFloat(arg, 64); err == nil {
			operands = append(operands, wire.Operand{Scalar: &f})
		} else {
			operands = append(operands, wire.Operand{Cube: arg})
		}
	}
	if len(kwargs) == 0 {
		kwargs = nil
	}
	res, err := s.cli.Compute(args[0], operands, kwargs)
	if err != nil {
		return err
	}
	switch {
	case res.Scalar != nil:
		fmt.Printf("%g\n", *res.Scalar)
	case res.Buffer != nil:
		printBuffer(res.Buffer)
	case res.Cube != nil:
		fmt.Printf("stored %s %s %s\n", res.Cube.Name, formatShape(res.Cube.Shape), res.Cube.DType)
	}
	return nil
}

func (s *shell) iter(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: iter <cube> [chunk=N] [fn=EXPR]")
	}
	spec := &wire.IterSpec{}
	for _, arg := range args[1:] {
		k, v, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("expected k=v, got %q", arg)
		}
		switch k {
		case "chunk":
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("chunk size %q: %w", v, err)
			}
			spec.ChunkSizes = []int{n}
		case "fn":
			spec.Fn = v
		default:
			return fmt.Errorf("unknown option %q", k)
		}
	}

	blocks := 0
	err := s.cli.Iter(args[0], spec, func(b *client.IterBlock) error {
		blocks++
		at := formatCoords(b.Coords, b.Labels)
		if b.Err != nil {
			fmt.Printf("  %s error: %v\n", at, b.Err)
			return nil
		}
		fmt.Printf("  %s %s\n", at, b.Data.String())
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("%d blocks\n", blocks)
	return nil
}

func (s *shell) stats() error {
	stats, err := s.cli.Stats()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-16s %v\n", k, stats[k])
	}
	return nil
}

// valueBuffer builds a 1-D buffer in the cube's own dtype.
func valueBuffer(cli *client.Client, name string, vals []float64) (*cube.Buffer, error) {
	info, err := cli.Info(name)
	if err != nil {
		return nil, err
	}
	dtype, err := cube.ParseDType(info.DType)
	if err != nil {
		return nil, err
	}
	return cube.FromFloats(dtype, []int{len(vals)}, vals)
}

// --- PARSING ---

func parseShape(s string) ([]int, error) {
	parts := strings.Split(s, "x")
	shape := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad shape %q (want e.g. 2x3)", s)
		}
		shape[i] = n
	}
	return shape, nil
}

// parseSelection parses a comma-separated selection: an integer index, a
// start:stop range, : for a whole axis, ... for an ellipsis, @label or
// @a|b|c for coordinate labels.
func parseSelection(s string) ([]wire.IndexItem, error) {
	var items []wire.IndexItem
	for _, part := range strings.Split(s, ",") {
		switch {
		case part == ":":
			items = append(items, wire.IndexItem{Kind: wire.KindAll})
		case part == "...":
			items = append(items, wire.IndexItem{Kind: wire.KindEllipsis})
		case strings.HasPrefix(part, "@"):
			labels := strings.Split(part[1:], "|")
			if len(labels) == 1 {
				items = append(items, wire.IndexItem{Kind: wire.KindLabel, Label: labels[0]})
			} else {
				items = append(items, wire.IndexItem{Kind: wire.KindLabels, Labels: labels})
			}
		case strings.Contains(part, ":"):
			lo, hi, _ := strings.Cut(part, ":")
			item := wire.IndexItem{Kind: wire.KindRange}
			if lo != "" {
				n, err := strconv.Atoi(lo)
				if err != nil {
					return nil, fmt.Errorf("bad range start %q", lo)
				}
				item.Start = &n
			}
			if hi != "" {
				n, err := strconv.Atoi(hi)
				if err != nil {
					return nil, fmt.Errorf("bad range stop %q", hi)
				}
				item.Stop = &n
			}
			items = append(items, item)
		default:
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("bad index %q", part)
			}
			items = append(items, wire.IndexItem{Kind: wire.KindIndex, Index: n})
		}
	}
	return items, nil
}

func parseValues(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	vals := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bad value %q", p)
		}
		vals[i] = f
	}
	return vals, nil
}

func parseAxis(s string) (*wire.AxisRef, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return &wire.AxisRef{Pos: &n}, nil
	}
	return &wire.AxisRef{Name: s}, nil
}

// parseKwarg keeps numbers numeric so the server sees float axes vs names.
func parseKwarg(v string) any {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if v == "true" {
		return true
	}
	if v == "false" {
		return false
	}
	return v
}

// --- OUTPUT ---

func formatShape(shape []int) string {
	if len(shape) == 0 {
		return "scalar"
	}
	parts := make([]string, len(shape))
	for i, n := range shape {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, "x")
}

func formatCoords(coords []int, labels []string) string {
	parts := make([]string, len(coords))
	for i, c := range coords {
		if i < len(labels) && labels[i] != "" {
			parts[i] = labels[i]
		} else {
			parts[i] = strconv.Itoa(c)
		}
	}
	return "[" + strings.Join(parts, ",") + "]"
}

const maxPrintElements = 64

func printBuffer(buf *cube.Buffer) {
	if buf.NDim() == 0 {
		fmt.Printf("%g\n", buf.At(0))
		return
	}
	fmt.Printf("shape %s %s\n", formatShape(buf.Shape()), buf.DType())
	vals := buf.Floats()
	if len(vals) > maxPrintElements {
		fmt.Printf("%v ... (%d elements)\n", vals[:maxPrintElements], len(vals))
		return
	}
	fmt.Printf("%v\n", vals)
}
