package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/kungfusheep/vstream"
	"github.com/kungfusheep/vstream/protocodec"

	_ "google.golang.org/protobuf/types/known/durationpb"
	_ "google.golang.org/protobuf/types/known/structpb"
	_ "google.golang.org/protobuf/types/known/timestamppb"
	_ "google.golang.org/protobuf/types/known/wrapperspb"
)

// streamFlags are the codec settings every stream command accepts. They
// must match on both ends of a stream.
type streamFlags struct {
	config      string
	protocol    int
	objectCache int
	typeCache   int
	hashCache   bool
	verbose     bool
}

func (f *streamFlags) define(fs *pflag.FlagSet) {
	fs.StringVarP(&f.config, "config", "c", "", "YAML codec configuration file")
	fs.IntVarP(&f.protocol, "protocol", "p", 0, "protocol version (default from config, else current)")
	fs.IntVar(&f.objectCache, "object-cache", -1, "value cache size (default from config)")
	fs.IntVar(&f.typeCache, "type-cache", -1, "type cache size (default from config)")
	fs.BoolVar(&f.hashCache, "type-hash-cache", false, "name Serializable types by hash")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "log debug records to stderr")
}

// options resolves the flags into codec options
func (f *streamFlags) options(env *Env) ([]vstream.Option, error) {
	cfg := vstream.DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = vstream.LoadConfig(f.config); err != nil {
			return nil, err
		}
	}
	if f.protocol != 0 {
		cfg.Version = f.protocol
	}
	if f.objectCache >= 0 {
		cfg.ObjectCacheSize = f.objectCache
	}
	if f.typeCache >= 0 {
		cfg.TypeCacheSize = f.typeCache
	}
	if f.hashCache {
		cfg.TypeHashCache = true
	}

	logger := newLogger(env.Stderr, f.verbose)
	reg := vstream.NewRegistry()
	reg.SetLogger(logger)
	protocodec.Register(reg)

	return []vstream.Option{
		vstream.WithConfig(cfg),
		vstream.WithRegistry(reg),
		vstream.WithLogger(logger),
		vstream.WithTempStreams(vstream.MemoryTempStreams()),
	}, nil
}

// readInput reads the file named by args, or stdin
func readInput(env *Env, args []string) ([]byte, error) {
	switch len(args) {
	case 0:
		return io.ReadAll(env.Stdin)
	case 1:
		return os.ReadFile(args[0])
	}
	return nil, fmt.Errorf("expected at most one input file, got %d", len(args))
}

// InspectCmd dumps the item tree of a stream
type InspectCmd struct {
	streamFlags
}

func (c *InspectCmd) Name() string { return "inspect" }

func (c *InspectCmd) Summary() string { return "print the item tree of a stream" }

func (c *InspectCmd) DefineFlags(fs *pflag.FlagSet) { c.define(fs) }

func (c *InspectCmd) Execute(ctx context.Context, env *Env, args []string) error {
	opts, err := c.options(env)
	if err != nil {
		return err
	}
	data, err := readInput(env, args)
	if err != nil {
		return err
	}
	return vstream.Walk(ctx, bytes.NewReader(data), nil, vstream.NewPrinter(env.Stdout), opts...)
}

// EncodeCmd converts JSON, comments allowed, into a stream
type EncodeCmd struct {
	streamFlags
}

func (c *EncodeCmd) Name() string { return "encode" }

func (c *EncodeCmd) Summary() string { return "convert JSON (with comments) on stdin to a stream" }

func (c *EncodeCmd) DefineFlags(fs *pflag.FlagSet) { c.define(fs) }

func (c *EncodeCmd) Execute(ctx context.Context, env *Env, args []string) error {
	opts, err := c.options(env)
	if err != nil {
		return err
	}
	data, err := readInput(env, args)
	if err != nil {
		return err
	}
	v, err := fromJSON(jsonc.ToJSON(data))
	if err != nil {
		return err
	}
	return vstream.Serialize(ctx, env.Stdout, v, opts...)
}

// DecodeCmd converts a stream into JSON
type DecodeCmd struct {
	streamFlags
	indent bool
}

func (c *DecodeCmd) Name() string { return "decode" }

func (c *DecodeCmd) Summary() string { return "convert a stream on stdin to JSON" }

func (c *DecodeCmd) DefineFlags(fs *pflag.FlagSet) {
	c.define(fs)
	fs.BoolVar(&c.indent, "indent", false, "indent the JSON output")
}

func (c *DecodeCmd) Execute(ctx context.Context, env *Env, args []string) error {
	opts, err := c.options(env)
	if err != nil {
		return err
	}
	data, err := readInput(env, args)
	if err != nil {
		return err
	}
	v, err := vstream.Deserialize(ctx, bytes.NewReader(data), opts...)
	if err != nil {
		return err
	}
	out, err := toJSON(v)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(env.Stdout)
	if c.indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(out)
}

// HashCmd prints the type hash of canonical type names
type HashCmd struct{}

func (c *HashCmd) Name() string { return "hash" }

func (c *HashCmd) Summary() string { return "print the type hash of canonical type names" }

func (c *HashCmd) DefineFlags(fs *pflag.FlagSet) {}

func (c *HashCmd) Execute(_ context.Context, env *Env, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("expected at least one type name")
	}
	for _, name := range args {
		fmt.Fprintf(env.Stdout, "%#08x  %s\n", vstream.TypeHash(name), name)
	}
	return nil
}
