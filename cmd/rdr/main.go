// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Command rdr is the example CLI collaborator described in spec.md §6: it
// reads a file, probes its format, parses it with the matching decoder, and
// pretty-prints a summary. It is not part of the core decoder packages.
package main

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/spf13/cobra"

	"github.com/binspect/binspect/ar"
	"github.com/binspect/binspect/elf"
	"github.com/binspect/binspect/pe"
	"github.com/binspect/binspect/probe"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "rdr",
		Short:         "rdr inspects ELF, PE and ar archive files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newProbeCmd(), newDumpCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print rdr's version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <path>",
		Short: "Classify a file's format by its magic bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			c := probe.Classify(data)
			fmt.Fprintln(cmd.OutOrStdout(), c.Format)
			return nil
		},
	}
}

func newDumpCmd() *cobra.Command {
	var asJSON bool
	var wantELF, wantPE, wantAR, wantAll, recursive bool
	cmd := &cobra.Command{
		Use:   "dump <path> [--elf] [--pe] [--ar] [--all] [-r]",
		Short: "Parse a file (or, with -r, a directory tree) and print a summary of its decoded structure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			accept := acceptedFormats(wantELF, wantPE, wantAR, wantAll)
			if !info.IsDir() {
				return dumpPath(cmd, path, asJSON, accept)
			}
			if !recursive {
				return fmt.Errorf("rdr: %s is a directory, pass -r to walk it", path)
			}
			return dumpDir(cmd, path, asJSON, accept)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the full decoded tree as JSON instead of a summary")
	cmd.Flags().BoolVar(&wantELF, "elf", false, "only dump files that classify as ELF")
	cmd.Flags().BoolVar(&wantPE, "pe", false, "only dump files that classify as PE")
	cmd.Flags().BoolVar(&wantAR, "ar", false, "only dump files that classify as an ar archive")
	cmd.Flags().BoolVar(&wantAll, "all", false, "dump every recognized format (default when no format flag is given)")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "walk path as a directory tree instead of a single file")
	return cmd
}

// acceptedFormats turns the dump command's --elf/--pe/--ar/--all flags into
// the set of formats dumpPath should act on. With no flag set at all, every
// format is accepted, matching the teacher's own "all" default.
func acceptedFormats(wantELF, wantPE, wantAR, wantAll bool) map[probe.Format]bool {
	if wantAll || (!wantELF && !wantPE && !wantAR) {
		return map[probe.Format]bool{probe.ELF: true, probe.PE: true, probe.Archive: true}
	}
	return map[probe.Format]bool{probe.ELF: wantELF, probe.PE: wantPE, probe.Archive: wantAR}
}

// dumpPath reads and classifies a single file and dumps it if its format is
// in accept. It is shared between the single-file RunE path and every
// worker spawned by dumpDir.
func dumpPath(cmd *cobra.Command, path string, asJSON bool, accept map[probe.Format]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	c := probe.Classify(data)
	if !accept[c.Format] {
		return nil
	}
	switch c.Format {
	case probe.ELF:
		return dumpELF(cmd, data, asJSON)
	case probe.PE:
		return dumpPE(cmd, data, asJSON)
	case probe.Archive:
		return dumpArchive(cmd, data, asJSON)
	default:
		return fmt.Errorf("rdr: unrecognized or unsupported format (observed %x)", c.Observed)
	}
}

// dumpDir walks path recursively and dumps every regular file whose
// classified format is in accept, fanning the work out across a fixed pool
// of goroutines draining a shared jobs channel. This generalizes the
// jobs-channel / sync.WaitGroup worker pool the teacher's cmd/dump.go uses
// for PE-only directory dumps to all three formats, via probe.Classify.
func dumpDir(cmd *cobra.Command, root string, asJSON bool, accept map[probe.Format]bool) error {
	numWorkers := runtime.NumCPU()
	if numWorkers < 1 {
		numWorkers = 1
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	recordErr := func(path string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = fmt.Errorf("rdr: %s: %w", path, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "rdr: %s: %v\n", path, err)
	}

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				if err := dumpPath(cmd, path, asJSON, accept); err != nil {
					recordErr(path, err)
				}
			}
		}()
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		jobs <- path
		return nil
	})
	close(jobs)
	wg.Wait()

	if walkErr != nil {
		return walkErr
	}
	return firstErr
}

func dumpELF(cmd *cobra.Command, data []byte, asJSON bool) error {
	f, err := elf.NewBytes(data, nil)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd, f)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "class:    %v\n", f.Header.Class)
	fmt.Fprintf(out, "machine:  %v\n", f.Header.Machine)
	fmt.Fprintf(out, "type:     %v\n", f.Header.Type)
	fmt.Fprintf(out, "entry:    0x%x\n", f.Header.Entry)
	fmt.Fprintf(out, "sections: %d\n", len(f.SectionHeaders))
	fmt.Fprintf(out, "segments: %d\n", len(f.ProgramHeaders))
	fmt.Fprintf(out, "needed:   %v\n", f.Needed)
	return nil
}

func dumpPE(cmd *cobra.Command, data []byte, asJSON bool) error {
	f, err := pe.NewBytes(data, nil)
	if err != nil {
		return err
	}
	if err := f.Parse(); err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd, f)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "machine:  %v\n", f.NtHeader.FileHeader.Machine)
	fmt.Fprintf(out, "is64:     %v\n", f.Is64)
	fmt.Fprintf(out, "sections: %d\n", len(f.Sections))
	fmt.Fprintf(out, "imports:  %d\n", len(f.Imports))
	if f.HasExport {
		fmt.Fprintf(out, "export:   %s (%d functions)\n", f.Export.Name, len(f.Export.Functions))
	}
	if f.HasDelayImp {
		fmt.Fprintf(out, "delay-imports: %d\n", len(f.DelayImports))
	}
	return nil
}

func dumpArchive(cmd *cobra.Command, data []byte, asJSON bool) error {
	a, err := ar.NewBytes(data, nil)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd, a)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "members: %d\n", len(a.Members))
	for _, name := range a.MemberNames() {
		fmt.Fprintf(out, "  %s\n", name)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
