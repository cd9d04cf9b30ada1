/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/notargets/amrcomm/InputParameters"
	"github.com/notargets/amrcomm/box"
	"github.com/notargets/amrcomm/boxarray"
	"github.com/notargets/amrcomm/codec"
	"github.com/notargets/amrcomm/distribution"
	"github.com/notargets/amrcomm/fab"
	"github.com/notargets/amrcomm/fluxreg"
	"github.com/notargets/amrcomm/geometry"
	"github.com/notargets/amrcomm/parallel"
	"github.com/notargets/amrcomm/utils"
)

// FillCmd represents the fill command
var FillCmd = &cobra.Command{
	Use:   "fill",
	Short: "Repeated ghost fills, and optionally a reflux, on a decomposed domain",
	Long: `
Decomposes the domain into boxes, spreads them over an in-process world of ranks
and fills ghost cells for a number of steps. With a refined patch in the input
file, a flux register is filled from coarse and fine fluxes and refluxed.

amrcomm fill -I run.yaml -r 8`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		rp := InputParameters.NewRunParameters()
		var file string
		if file, err = cmd.Flags().GetString("inputConditionsFile"); err != nil {
			return
		}
		if file != "" {
			if err = rp.ParseFile(file); err != nil {
				return
			}
		}
		for _, f := range []struct {
			name string
			dst  *int
		}{{"ranks", &rp.Ranks}, {"steps", &rp.Steps}, {"workers", &rp.Workers}} {
			if !cmd.Flags().Changed(f.name) {
				continue
			}
			if *f.dst, err = cmd.Flags().GetInt(f.name); err != nil {
				return
			}
		}
		if cmd.Flags().Changed("mode") {
			if rp.Mode, err = cmd.Flags().GetString("mode"); err != nil {
				return
			}
		}
		if err = rp.Validate(); err != nil {
			return
		}
		if !cmd.Flags().Changed("log-level") {
			if err = utils.SetLogLevel(rp.LogLevel); err != nil {
				return
			}
		}
		rp.Print()
		return RunFill(rp, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(FillCmd)
	FillCmd.Flags().StringP("inputConditionsFile", "I", "", "YAML or TOML file of run parameters")
	FillCmd.Flags().IntP("ranks", "r", 4, "number of ranks in the world")
	FillCmd.Flags().IntP("steps", "s", 10, "number of ghost fills")
	FillCmd.Flags().StringP("mode", "m", "buffered", "messaging mode: buffered or windowed")
	FillCmd.Flags().IntP("workers", "w", 1, "goroutines per rank for local copies")
}

// RunFill executes the run described by rp and writes a summary to out.
func RunFill(rp *InputParameters.RunParameters, out io.Writer) (err error) {
	var (
		cfg     geometry.Config
		mode    parallel.Mode
		maxGrid box.IntVect
		tag     codec.CompressionTag
	)
	if cfg, err = rp.GeometryConfig(); err != nil {
		return
	}
	if mode, err = parallel.ParseMode(rp.Mode); err != nil {
		return
	}
	if tag, err = codec.ParseCompressionTag(rp.Compression); err != nil {
		return
	}
	copy(maxGrid[:], rp.MaxGridSize)
	var (
		g   = geometry.New(cfg)
		ba  = boxarray.New(cfg.Domain).MaxSize(maxGrid)
		dm  = distribution.Contiguous(ba.Len(), rp.Ranks)
		w   = parallel.NewWorld(rp.Ranks, parallel.WithMode(mode), parallel.WithTeamSize(rp.TeamSize))
		log = utils.Logger("fill")

		mu      sync.Mutex
		elapsed time.Duration
		before  float64
		after   float64
		reflux  *refluxSummary
		volumes = make([][2]int, rp.Ranks)
	)
	log.Info().Int("boxes", ba.Len()).Int("ranks", rp.Ranks).Str("mode", mode.String()).Msg("decomposed")
	err = w.Run(func(c parallel.Comm) (err error) {
		mf := fab.NewMultiFab(ba, dm, rp.NComp, rp.NGrow, c.Rank())
		for _, i := range mf.LocalIndices() {
			f := mf.Fab(i)
			for n := 0; n < rp.NComp; n++ {
				mf.ValidBox(i).ForEach(func(iv box.IntVect) {
					f.Set(iv, n, float64(iv[0]+2*iv[1]+3*iv[2]+n))
				})
			}
		}
		initial := mf.Sum(c, 0)
		start := time.Now()
		for step := 0; step < rp.Steps; step++ {
			pf := g.FillGhostsStart(c, mf, 0, rp.NComp, rp.NGrow, rp.Corners)
			if err = pf.Finish(); err != nil {
				return
			}
		}
		c.Barrier()
		took := time.Since(start)
		sent, recvd := rankVolumes(c, g.FillPlan(c, mf, rp.NGrow, rp.Corners))
		mu.Lock()
		volumes[c.Rank()] = [2]int{sent, recvd}
		mu.Unlock()
		sum := mf.Sum(c, 0)
		var rs *refluxSummary
		if rp.Refine != nil {
			if rs, err = runReflux(c, rp, g, mf, tag); err != nil {
				return
			}
		}
		if rp.Checkpoint != "" && c.Rank() == 0 {
			if err = writeLayout(rp.Checkpoint, ba, tag); err != nil {
				return
			}
		}
		c.Team().Barrier()
		if c.Rank() == 0 {
			mu.Lock()
			elapsed, before, after, reflux = took, initial, sum, rs
			mu.Unlock()
		}
		return
	})
	if err != nil {
		return
	}
	st := g.Cache().Stats()
	fmt.Fprintf(out, "%d fills of %d boxes on %d ranks in %v\n", rp.Steps, ba.Len(), rp.Ranks, elapsed)
	fmt.Fprintf(out, "field sum %g (unchanged by fills: %v)\n", after, before == after)
	fmt.Fprintf(out, "plan cache: %d builds, %d hits, %d misses, %d evictions, %d plans, %d bytes\n",
		st.Builds, st.Hits, st.Misses, st.Evictions, st.Size, st.Bytes)
	for rank, v := range volumes {
		fmt.Fprintf(out, "rank %d: sends %d cells, receives %d cells per fill\n", rank, v[0], v[1])
	}
	if reflux != nil {
		fmt.Fprintf(out, "flux register: sum %g, coarse field change %g\n", reflux.sumReg, reflux.change)
	}
	return
}

// rankVolumes reads the cells this rank sends and receives in one execution
// of plan off its communication matrix.
func rankVolumes(c parallel.Comm, plan *geometry.Plan) (sent, recvd int) {
	m := plan.CommMatrix(c.Size())
	for r := 0; r < c.Size(); r++ {
		sent += int(m.At(c.Rank(), r))
		recvd += int(m.At(r, c.Rank()))
	}
	return
}

type refluxSummary struct {
	sumReg, change float64
}

// runReflux registers a unit coarse flux and a fine flux 25% larger on every
// axis the domain extends along, then refluxes into mf.
func runReflux(c parallel.Comm, rp *InputParameters.RunParameters, g *geometry.Geometry, mf *fab.MultiFab,
	tag codec.CompressionTag) (rs *refluxSummary, err error) {
	crse, ratio, err := rp.Refinement()
	if err != nil {
		return
	}
	var maxGrid box.IntVect
	copy(maxGrid[:], rp.MaxGridSize)
	var (
		fineBA = boxarray.New(crse).MaxSize(maxGrid).Refine(ratio)
		fineDM = distribution.Contiguous(fineBA.Len(), c.Size())
		fr     = fluxreg.New(fineBA, fineDM, ratio, 1, 1, c.Rank())
		ba     = mf.BoxArray()
		dm     = mf.DistributionMap()
	)
	for d := 0; d < box.SpaceDim; d++ {
		if g.Domain().Length(d) == 1 {
			continue
		}
		cflux := fab.NewMultiFab(ba.SurroundingNodes(d), dm, 1, 0, c.Rank())
		cflux.SetVal(1, 0, 1, 0)
		if err = fr.RegisterCoarse(c, cflux, d, 0, 0, 1, -1, fab.OpCopy); err != nil {
			return
		}
		fflux := fab.NewMultiFab(fineBA.SurroundingNodes(d), fineDM, 1, 0, c.Rank())
		fflux.SetVal(1.25, 0, 1, 0)
		fr.RegisterFine(fflux, d, 0, 0, 1, 1)
	}
	rs = &refluxSummary{sumReg: fr.SumReg(c, 0)}
	if rp.Checkpoint != "" {
		if err = writeRegister(fmt.Sprintf("%s.fluxreg.%d", rp.Checkpoint, c.Rank()), fr, tag); err != nil {
			return
		}
	}
	before := mf.Sum(c, 0)
	if err = fr.RefluxConstVolume(c, mf, 1, 1, 0, 0, 1, g); err != nil {
		return
	}
	rs.change = mf.Sum(c, 0) - before
	fr.Reset()
	return
}

func writeLayout(path string, ba *boxarray.BoxArray, tag codec.CompressionTag) (err error) {
	var f *os.File
	if f, err = os.Create(path); err != nil {
		return
	}
	defer f.Close()
	if _, err = ba.Write(f, tag); err != nil {
		return fmt.Errorf("writing layout checkpoint: %w", err)
	}
	return
}

func writeRegister(path string, fr *fluxreg.FluxRegister, tag codec.CompressionTag) (err error) {
	var f *os.File
	if f, err = os.Create(path); err != nil {
		return
	}
	defer f.Close()
	if _, err = fr.Write(f, tag); err != nil {
		return fmt.Errorf("writing flux register checkpoint: %w", err)
	}
	return
}
