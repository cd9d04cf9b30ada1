package InputParameters

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ghodss/yaml"

	"github.com/notargets/amrcomm/box"
	"github.com/notargets/amrcomm/codec"
	"github.com/notargets/amrcomm/geometry"
	"github.com/notargets/amrcomm/parallel"
)

// Refinement describes one fine patch, in coarse cells, used to exercise a
// flux register.
type Refinement struct {
	Lo    []int `json:"Lo" toml:"lo"`
	Hi    []int `json:"Hi" toml:"hi"`
	Ratio []int `json:"Ratio" toml:"ratio"`
}

// Parameters obtained from the YAML or TOML input file
type RunParameters struct {
	Title         string      `json:"Title" toml:"title"`
	DomainLo      []int       `json:"DomainLo" toml:"domain_lo"`
	DomainHi      []int       `json:"DomainHi" toml:"domain_hi"`
	Periodic      []bool      `json:"Periodic" toml:"periodic"`
	MaxGridSize   []int       `json:"MaxGridSize" toml:"max_grid_size"`
	Ranks         int         `json:"Ranks" toml:"ranks"`
	TeamSize      int         `json:"TeamSize" toml:"team_size"`
	Mode          string      `json:"Mode" toml:"mode"` // buffered or windowed
	Workers       int         `json:"Workers" toml:"workers"`
	NComp         int         `json:"NComp" toml:"ncomp"`
	NGrow         int         `json:"NGrow" toml:"ngrow"`
	Corners       bool        `json:"Corners" toml:"corners"`
	Steps         int         `json:"Steps" toml:"steps"`
	CacheCapacity int         `json:"CacheCapacity" toml:"cache_capacity"`
	VerifyPlans   bool        `json:"VerifyPlans" toml:"verify_plans"`
	LogLevel      string      `json:"LogLevel" toml:"log_level"`
	Checkpoint    string      `json:"Checkpoint" toml:"checkpoint"`
	Compression   string      `json:"Compression" toml:"compression"`
	Refine        *Refinement `json:"Refine" toml:"refine"`
}

// NewRunParameters returns the parameters used for anything the input file
// leaves out.
func NewRunParameters() *RunParameters {
	return &RunParameters{
		Title:       "ghost fill",
		DomainLo:    []int{0, 0, 0},
		DomainHi:    []int{63, 63, 0},
		Periodic:    []bool{true, true, false},
		MaxGridSize: []int{16, 16, 1},
		Ranks:       4,
		TeamSize:    1,
		Mode:        "buffered",
		Workers:     1,
		NComp:       1,
		NGrow:       2,
		Steps:       10,
		LogLevel:    "info",
		Compression: "zstd",
	}
}

func (rp *RunParameters) Parse(data []byte) error {
	return yaml.Unmarshal(data, rp)
}

func (rp *RunParameters) ParseTOML(data []byte) (err error) {
	_, err = toml.Decode(string(data), rp)
	return
}

// ParseFile reads TOML from .toml files and YAML from anything else.
func (rp *RunParameters) ParseFile(path string) (err error) {
	var data []byte
	if data, err = os.ReadFile(path); err != nil {
		return fmt.Errorf("reading run parameters: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = rp.ParseTOML(data)
	} else {
		err = rp.Parse(data)
	}
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return rp.Validate()
}

func vect(name string, v []int) (iv box.IntVect, err error) {
	if len(v) != box.SpaceDim {
		return iv, fmt.Errorf("%s needs %d entries, has %d", name, box.SpaceDim, len(v))
	}
	copy(iv[:], v)
	return
}

func (rp *RunParameters) Validate() (err error) {
	if _, err = rp.Domain(); err != nil {
		return
	}
	if len(rp.Periodic) != box.SpaceDim {
		return fmt.Errorf("Periodic needs %d entries, has %d", box.SpaceDim, len(rp.Periodic))
	}
	var mgs box.IntVect
	if mgs, err = vect("MaxGridSize", rp.MaxGridSize); err != nil {
		return
	}
	for d := 0; d < box.SpaceDim; d++ {
		if mgs[d] < 1 {
			return fmt.Errorf("MaxGridSize %v must be positive", rp.MaxGridSize)
		}
	}
	switch {
	case rp.Ranks < 1:
		return fmt.Errorf("Ranks must be positive, have %d", rp.Ranks)
	case rp.TeamSize < 1 || rp.Ranks%rp.TeamSize != 0:
		return fmt.Errorf("TeamSize %d must divide Ranks %d", rp.TeamSize, rp.Ranks)
	case rp.NComp < 1:
		return fmt.Errorf("NComp must be positive, have %d", rp.NComp)
	case rp.NGrow < 0:
		return fmt.Errorf("NGrow must not be negative, have %d", rp.NGrow)
	}
	if _, err = parallel.ParseMode(rp.Mode); err != nil {
		return
	}
	if _, err = codec.ParseCompressionTag(rp.Compression); err != nil {
		return
	}
	if rp.Refine != nil {
		if _, _, err = rp.Refinement(); err != nil {
			return
		}
	}
	return
}

func (rp *RunParameters) Domain() (b box.Box, err error) {
	var lo, hi box.IntVect
	if lo, err = vect("DomainLo", rp.DomainLo); err != nil {
		return
	}
	if hi, err = vect("DomainHi", rp.DomainHi); err != nil {
		return
	}
	if b = box.NewCell(lo, hi); !b.Ok() {
		return b, fmt.Errorf("empty domain %v", b)
	}
	return
}

func (rp *RunParameters) GeometryConfig() (cfg geometry.Config, err error) {
	if cfg.Domain, err = rp.Domain(); err != nil {
		return
	}
	copy(cfg.Periodic[:], rp.Periodic)
	cfg.CacheCapacity = rp.CacheCapacity
	cfg.Workers = rp.Workers
	cfg.VerifyPlans = rp.VerifyPlans
	return
}

// Refinement returns the fine patch in coarse cells and the ratio.
func (rp *RunParameters) Refinement() (crse box.Box, ratio box.IntVect, err error) {
	var lo, hi box.IntVect
	if lo, err = vect("Refine.Lo", rp.Refine.Lo); err != nil {
		return
	}
	if hi, err = vect("Refine.Hi", rp.Refine.Hi); err != nil {
		return
	}
	if ratio, err = vect("Refine.Ratio", rp.Refine.Ratio); err != nil {
		return
	}
	crse = box.NewCell(lo, hi)
	dom, _ := rp.Domain()
	if !crse.Ok() || !dom.Contains(crse) {
		return crse, ratio, fmt.Errorf("refined patch %v must be a non-empty part of the domain %v", crse, dom)
	}
	for d := 0; d < box.SpaceDim; d++ {
		if ratio[d] < 1 {
			return crse, ratio, fmt.Errorf("refinement ratio %v must be positive", ratio)
		}
	}
	return
}

func (rp *RunParameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", rp.Title)
	fmt.Printf("%v .. %v\t= Domain\n", rp.DomainLo, rp.DomainHi)
	fmt.Printf("%v\t= Periodic\n", rp.Periodic)
	fmt.Printf("%v\t\t= Max Grid Size\n", rp.MaxGridSize)
	fmt.Printf("[%d]\t\t\t= Ranks (team size %d)\n", rp.Ranks, rp.TeamSize)
	fmt.Printf("[%s]\t\t= Mode\n", rp.Mode)
	fmt.Printf("[%d]\t\t\t= Components\n", rp.NComp)
	fmt.Printf("[%d]\t\t\t= Ghost Width\n", rp.NGrow)
	fmt.Printf("[%d]\t\t\t= Steps\n", rp.Steps)
	if rp.Refine != nil {
		fmt.Printf("%v .. %v by %v\t= Refined Patch\n", rp.Refine.Lo, rp.Refine.Hi, rp.Refine.Ratio)
	}
}
