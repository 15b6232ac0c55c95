// Command rvmctl is a thin, illustrative host for package engine: it
// loads a compiled policy artifact plus a data/input document from
// disk, executes one entry point, and prints the result as JSON. It
// exists to exercise the config/logging plumbing end to end, not as a
// maintained product CLI - nothing here is part of the §6 library
// surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/regovm/engine/artifact"
	"github.com/regovm/engine/config"
	"github.com/regovm/engine/engine"
	"github.com/regovm/engine/value"
)

var (
	// Version can be overridden at build time with:
	// go build -ldflags "-X main.Version=v1.2.3"
	Version = "dev"

	log = logrus.New()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "rvmctl",
		Short:         "Illustrative host for the regovm engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(newEvalCmd())
	return root
}

func newEvalCmd() *cobra.Command {
	var (
		policyPath string
		dataPath   string
		inputPath  string
		entryPoint string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Execute one entry point of a compiled policy artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(policyPath, dataPath, inputPath, entryPoint, configPath)
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "", "path to a compiled policy artifact (.rac or .json)")
	cmd.Flags().StringVar(&dataPath, "data", "", "path to a JSON base data document (optional)")
	cmd.Flags().StringVar(&inputPath, "input", "", "path to a JSON input document (optional)")
	cmd.Flags().StringVar(&entryPoint, "entry", "", "entry point path to execute, e.g. data.p.allow")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML limits config (optional)")
	_ = cmd.MarkFlagRequired("policy")
	_ = cmd.MarkFlagRequired("entry")

	return cmd
}

func runEval(policyPath, dataPath, inputPath, entryPoint, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	cp, err := loadCompiledPolicy(policyPath)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"policy_id": cp.ID, "entry_point": entryPoint}).Debug("loaded compiled policy")

	data, err := loadJSONValue(dataPath, value.EmptyObject())
	if err != nil {
		return fmt.Errorf("rvmctl: loading data document: %w", err)
	}
	input, err := loadJSONValue(inputPath, value.Null)
	if err != nil {
		return fmt.Errorf("rvmctl: loading input document: %w", err)
	}

	rv := engine.NewVM()
	rv.LoadProgram(cp.Program)
	rv.SetData(data)
	rv.SetInput(input)
	rv.SetMaxInstructions(cfg.Execution.MaxInstructions)
	rv.SetExecutionTimerConfig(cfg.TimerLimit(), cfg.Execution.TimerCheckInterval)
	rv.SetStrictBuiltinErrors(cfg.Execution.StrictBuiltinErrors)

	result, err := rv.ExecuteEntryPointByName(context.Background(), entryPoint)
	if err != nil {
		return fmt.Errorf("rvmctl: evaluating %q: %w", entryPoint, err)
	}

	out, err := toPlainJSON(result)
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadFrom(path)
}

func loadCompiledPolicy(path string) (*engine.CompiledPolicy, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path, same trust model as any CLI input file
	if err != nil {
		return nil, fmt.Errorf("rvmctl: reading policy artifact: %w", err)
	}

	if looksLikeJSON(raw) {
		prog, err := artifact.UnmarshalJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("rvmctl: decoding JSON policy artifact: %w", err)
		}
		return &engine.CompiledPolicy{Program: prog}, nil
	}

	cp, art, status, err := engine.DeserializeCompiledPolicy(raw)
	if err != nil {
		return nil, fmt.Errorf("rvmctl: decoding binary policy artifact: %w", err)
	}
	if status == engine.Partial {
		return nil, fmt.Errorf("rvmctl: policy artifact %q needs recompilation (entry points: %v)", path, art.EntryPoints)
	}
	return cp, nil
}

func looksLikeJSON(raw []byte) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{', '[':
			return true
		default:
			return false
		}
	}
	return false
}

func loadJSONValue(path string, fallback value.Value) (value.Value, error) {
	if path == "" {
		return fallback, nil
	}
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return value.Value{}, err
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return value.Value{}, err
	}
	return fromPlainJSON(decoded), nil
}

// fromPlainJSON converts a standard encoding/json decode result
// (map[string]interface{}, []interface{}, float64, string, bool, nil)
// into a value.Value, so operators can author ordinary JSON data/input
// files rather than the artifact package's internal tagged encoding.
func fromPlainJSON(v interface{}) value.Value {
	switch x := v.(type) {
	case nil:
		return value.Null
	case bool:
		return value.Bool(x)
	case float64:
		if i := int64(x); float64(i) == x {
			return value.Int(i)
		}
		return value.Float(x)
	case string:
		return value.String(x)
	case []interface{}:
		elems := make([]value.Value, len(x))
		for i, e := range x {
			elems[i] = fromPlainJSON(e)
		}
		return value.Array(elems...)
	case map[string]interface{}:
		out := value.EmptyObject()
		for k, e := range x {
			out = out.ObjectSet(value.String(k), fromPlainJSON(e))
		}
		return out
	default:
		return value.Undefined
	}
}

// toPlainJSON is fromPlainJSON's inverse for printing an evaluation
// result back out as ordinary JSON.
func toPlainJSON(v value.Value) (interface{}, error) {
	switch v.Kind() {
	case value.KindUndefined:
		return nil, nil
	case value.KindNull:
		return nil, nil
	case value.KindBool:
		return v.Bool(), nil
	case value.KindNumber:
		if v.IsInt() {
			return v.Int64(), nil
		}
		return v.Float64(), nil
	case value.KindString:
		return v.Str(), nil
	case value.KindArray:
		out := make([]interface{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			e, err := toPlainJSON(v.ArrayGet(i))
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case value.KindSet:
		out := make([]interface{}, 0, len(v.SetElements()))
		for _, e := range v.SetElements() {
			je, err := toPlainJSON(e)
			if err != nil {
				return nil, err
			}
			out = append(out, je)
		}
		return out, nil
	case value.KindObject:
		out := make(map[string]interface{})
		for _, kv := range v.ObjectEntries() {
			out[kv[0].Str()] = mustPlainJSON(kv[1])
		}
		return out, nil
	default:
		return nil, fmt.Errorf("rvmctl: unsupported value kind %v", v.Kind())
	}
}

func mustPlainJSON(v value.Value) interface{} {
	out, err := toPlainJSON(v)
	if err != nil {
		return nil
	}
	return out
}
