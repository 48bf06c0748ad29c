// Command semclone runs disassembled x86 functions under the execution
// engine and groups behaviourally identical functions by their output
// groups.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/semclone/semclone"
	"github.com/semclone/semclone/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "semclone",
		Short:         "Semantic clone detection for binary functions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	var dbPath string
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "semclone.db", "database directory")

	rootCmd.AddCommand(
		newAddFunctionCommand(&dbPath),
		newGenInputsCommand(&dbPath),
		newRunCommand(&dbPath),
		newClonesCommand(&dbPath),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "semclone:", err)
		os.Exit(1)
	}
}

func newAddFunctionCommand(dbPath *string) *cobra.Command {
	var (
		id    uint64
		name  string
		entry uint32
	)
	cmd := &cobra.Command{
		Use:   "add-function CODEFILE",
		Short: "Decode a raw code file and store it as a function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			fn, err := semclone.DecodeFunction(name, entry, code)
			if err != nil {
				return err
			}
			fn.ID = id

			db, err := store.Open(*dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.PutFunction(fn); err != nil {
				return err
			}
			fmt.Printf("stored function %d %q entry=%08x insns=%d\n", fn.ID, fn.Name, fn.Entry, len(fn.Insns))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "function id")
	cmd.Flags().StringVar(&name, "name", "", "function name")
	cmd.Flags().Uint32Var(&entry, "entry", 0x1000, "entry address")
	return cmd
}

func newGenInputsCommand(dbPath *string) *cobra.Command {
	var (
		count     int
		nIntegers int
		nPointers int
		seed      int64
	)
	cmd := &cobra.Command{
		Use:   "gen-inputs",
		Short: "Generate and store random input groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(*dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			ids, err := db.InputGroupIDs()
			if err != nil {
				return err
			}
			next := uint64(1)
			if len(ids) > 0 {
				next = ids[len(ids)-1] + 1
			}

			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < count; i++ {
				g := semclone.GenerateInputGroup(rng, nIntegers, nPointers)
				if err := db.PutInputGroup(next, g); err != nil {
					return err
				}
				next++
			}
			fmt.Printf("stored %d input groups\n", count)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 4, "number of input groups")
	cmd.Flags().IntVar(&nIntegers, "integers", 16, "integers per group")
	cmd.Flags().IntVar(&nPointers, "pointers", 4, "pointers per group")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	return cmd
}

func newRunCommand(dbPath *string) *cobra.Command {
	var (
		params      = semclone.DefaultParams()
		verbosity   int
		limitInputs bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every stored function against every stored input group",
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Verbosity = semclone.Verbosity(verbosity)

			db, err := store.Open(*dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			fns, err := loadFunctions(db)
			if err != nil {
				return err
			}
			igIDs, err := db.InputGroupIDs()
			if err != nil {
				return err
			}
			if len(fns) == 0 || len(igIDs) == 0 {
				return fmt.Errorf("nothing to run: %d functions, %d input groups", len(fns), len(igIDs))
			}

			tbl, err := semclone.NewOutputGroupTable()
			if err != nil {
				return err
			}
			defer tbl.Close()
			if err := db.LoadOutputGroups(tbl); err != nil {
				return err
			}

			provider := semclone.NewInstructionProvider(fns...)
			runner := semclone.NewFunctionRunner(provider, params)
			for _, fn := range fns {
				for _, igID := range igIDs {
					inputs, ok, err := db.InputGroup(igID)
					if err != nil {
						return err
					} else if !ok {
						return fmt.Errorf("input group %d: not found", igID)
					}
					inputs.LimitConsumption = limitInputs

					out, err := runner.Run(fn, inputs, nil)
					if err != nil {
						return err
					}
					key, err := tbl.Insert(out, nil)
					if err != nil {
						return err
					}
					if err := db.PutResult(fn.ID, igID, key); err != nil {
						return err
					}
					fmt.Printf("fn=%d ig=%d key=%d %s\n", fn.ID, igID, key, out)
				}
			}
			return tbl.Save(db)
		},
	}
	cmd.Flags().Uint64Var(&params.Timeout, "timeout", params.Timeout, "instruction budget per run")
	cmd.Flags().BoolVar(&params.FollowCalls, "follow-calls", false, "execute resolvable calls")
	cmd.Flags().BoolVar(&params.InitMemory, "init-memory", false, "default memory from the address hasher")
	cmd.Flags().Uint32Var(&params.InitialStack, "initial-stack", params.InitialStack, "initial stack pointer")
	cmd.Flags().BoolVar(&params.RecordCalls, "record-calls", false, "record call targets in output groups")
	cmd.Flags().BoolVar(&params.RecordSyscalls, "record-syscalls", false, "record syscall numbers in output groups")
	cmd.Flags().BoolVar(&limitInputs, "limit-inputs", false, "fault when an input pool is exhausted")
	cmd.Flags().IntVarP(&verbosity, "verbosity", "v", 0, "0=silent 1=laconic 2=effusive")
	return cmd
}

func newClonesCommand(dbPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clones",
		Short: "Group functions by identical output groups across all input groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(*dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			fnIDs, err := db.FunctionIDs()
			if err != nil {
				return err
			}

			buckets := make(map[string][]uint64)
			for _, fnID := range fnIDs {
				results, err := db.Results(fnID)
				if err != nil {
					return err
				}
				if len(results) == 0 {
					continue
				}
				sig := signature(results)
				buckets[sig] = append(buckets[sig], fnID)
			}

			sigs := make([]string, 0, len(buckets))
			for sig := range buckets {
				sigs = append(sigs, sig)
			}
			sort.Strings(sigs)

			for _, sig := range sigs {
				members := buckets[sig]
				if len(members) < 2 {
					continue
				}
				fmt.Printf("clone bucket:")
				for _, id := range members {
					fmt.Printf(" %d", id)
				}
				fmt.Println()
			}
			return nil
		},
	}
	return cmd
}

// signature canonicalizes a function's per-input-group output keys.
func signature(results map[uint64]uint64) string {
	igIDs := make([]uint64, 0, len(results))
	for igID := range results {
		igIDs = append(igIDs, igID)
	}
	sort.Slice(igIDs, func(i, j int) bool { return igIDs[i] < igIDs[j] })

	sig := ""
	for _, igID := range igIDs {
		sig += fmt.Sprintf("%d:%d;", igID, results[igID])
	}
	return sig
}

func loadFunctions(db *store.Store) ([]*semclone.Function, error) {
	ids, err := db.FunctionIDs()
	if err != nil {
		return nil, err
	}
	fns := make([]*semclone.Function, 0, len(ids))
	for _, id := range ids {
		meta, ok, err := db.Function(id)
		if err != nil {
			return nil, err
		} else if !ok {
			continue
		}
		fn, err := semclone.DecodeFunction(meta.Name, meta.Entry, meta.Code)
		if err != nil {
			return nil, fmt.Errorf("decode function %d: %w", id, err)
		}
		fn.ID = id
		fns = append(fns, fn)
	}
	return fns, nil
}
