// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command wisckeyctl inspects and drives garbage collection on a WiscKey
// value-log directory.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/paullcm/WiscKey/config"
	"github.com/paullcm/WiscKey/index/leveldbindex"
	"github.com/paullcm/WiscKey/log"
	"github.com/paullcm/WiscKey/storage/disk"
	"github.com/paullcm/WiscKey/vlog"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "wisckeyctl",
		Short: "Inspect and clean a WiscKey value-log directory",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")
	root.AddCommand(gcCommand())
	root.AddCommand(listCommand())
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func loadOptions() (config.Options, error) {
	if configFile == "" {
		return config.Default(), nil
	}
	return config.FromFile(configFile)
}

// openStore opens the vlog store and its index at opts.Dir, replaying any
// persisted GC resumption tail. The caller must close both idx and the
// returned store when done.
func openStore(opts config.Options) (*leveldbindex.DB, *vlog.Store, error) {
	env, err := disk.New(opts.Dir)
	if err != nil {
		return nil, nil, err
	}
	idx, err := leveldbindex.Open(filepath.Join(opts.Dir, "index"))
	if err != nil {
		return nil, nil, err
	}
	store, err := vlog.Open(env, idx, opts.CleanThreshold, opts.CleanWriteBufferSize, uint64(opts.MaxVlogSize), nil, opts.VerifyChecksum)
	if err != nil {
		idx.Close()
		return nil, nil, err
	}
	if err := store.RecoverGC(); err != nil {
		store.Close()
		idx.Close()
		return nil, nil, err
	}
	return idx, store, nil
}

func gcCommand() *cobra.Command {
	var untilClean bool
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Run a garbage collection pass over the value log",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions()
			if err != nil {
				return err
			}
			idx, store, err := openStore(opts)
			if err != nil {
				return err
			}
			defer idx.Close()
			defer store.Close()

			if untilClean {
				if err := store.RunGCUntilClean(); err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, "clean")
				return nil
			}
			ran, err := store.RunGC()
			if err != nil {
				return err
			}
			if ran {
				fmt.Fprintln(os.Stdout, "cleaned one vlog")
			} else {
				fmt.Fprintln(os.Stdout, "nothing to clean")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&untilClean, "until-clean", false, "keep cleaning until no candidate vlog remains")
	return cmd
}

func listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the value-log files known to the store and their state",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions()
			if err != nil {
				return err
			}
			idx, store, err := openStore(opts)
			if err != nil {
				return err
			}
			defer idx.Close()
			defer store.Close()

			stats, err := store.ListVlogs()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VLOG\tSIZE\tSTALE\tCANDIDATE\tACTIVE")
			for _, s := range stats {
				fmt.Fprintf(w, "%d\t%d\t%d\t%t\t%t\n", s.VlogNumber, s.Size, s.Stale, s.Candidate, s.Active)
			}
			return w.Flush()
		},
	}
}
